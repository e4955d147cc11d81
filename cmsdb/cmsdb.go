// cmsdb/cmsdb.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

// Package cmsdb stores the changeable message sign (CMS) diversion
// configuration in SQLite. Signs and their possible diversions are
// imported from the diversion XML file; the coordinator then reads and
// updates the current diversion percentages through sim.DiversionStore.
package cmsdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/mmp/tmcsim/log"
	"github.com/mmp/tmcsim/sim"

	"github.com/hashicorp/golang-lru/v2/expirable"
	_ "modernc.org/sqlite"
)

const (
	cacheSize = 256
	cacheTTL  = 10 * time.Minute
)

// DB is a sim.DiversionStore backed by a SQLite database. Reads go
// through a small LRU cache that is kept current by all writes made
// through the DB.
type DB struct {
	db    *sql.DB
	cache *expirable.LRU[string, sim.CMSInfo]
	lg    *log.Logger
}

var _ sim.DiversionStore = (*DB)(nil)

// Open opens (or creates) the database at path. An empty path or
// ":memory:" gives a private in-memory database.
func Open(path string, lg *log.Logger) (*DB, error) {
	var dsn string
	if path == "" || path == ":memory:" {
		dsn = "file::memory:"
	} else {
		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open CMS database: %w", err)
	}
	// Each connection to an in-memory database gets its own database,
	// and SQLite serializes writers anyway.
	db.SetMaxOpenConns(1)

	d := &DB{
		db:    db,
		cache: expirable.NewLRU[string, sim.CMSInfo](cacheSize, nil, cacheTTL),
		lg:    lg,
	}
	if err := d.migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate CMS database: %w", err)
	}
	return d, nil
}

func (d *DB) Close() error {
	return d.db.Close()
}

func (d *DB) migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS cms (
		id            TEXT PRIMARY KEY,
		postmile      REAL NOT NULL DEFAULT 0,
		initial_route TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS diversions (
		cms_id          TEXT NOT NULL REFERENCES cms(id) ON DELETE CASCADE,
		idx             INTEGER NOT NULL,
		original_path   TEXT NOT NULL,
		new_path        TEXT NOT NULL,
		diversion_path  TEXT NOT NULL,
		max_percent     INTEGER NOT NULL,
		current_percent INTEGER NOT NULL DEFAULT 0,
		updated         INTEGER NOT NULL DEFAULT 0,
		cleared         INTEGER NOT NULL DEFAULT 0,
		time_applied    INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (cms_id, idx)
	);`
	_, err := d.db.ExecContext(ctx, schema)
	return err
}

// Get returns the sign with the given id.
func (d *DB) Get(ctx context.Context, id string) (sim.CMSInfo, error) {
	if ci, ok := d.cache.Get(id); ok {
		return copyInfo(ci), nil
	}

	ci, err := d.get(ctx, d.db, id)
	if err != nil {
		return sim.CMSInfo{}, err
	}
	d.cache.Add(id, ci)
	return copyInfo(ci), nil
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (d *DB) get(ctx context.Context, q querier, id string) (sim.CMSInfo, error) {
	ci := sim.CMSInfo{ID: id}
	err := q.QueryRowContext(ctx, `SELECT postmile, initial_route FROM cms WHERE id = ?`, id).
		Scan(&ci.Postmile, &ci.InitialRoute)
	if errors.Is(err, sql.ErrNoRows) {
		return sim.CMSInfo{}, &sim.ScriptError{Reason: sim.ErrUnknownCMS, Detail: id}
	} else if err != nil {
		return sim.CMSInfo{}, fmt.Errorf("%s: %w", id, err)
	}

	rows, err := q.QueryContext(ctx, `SELECT original_path, new_path, diversion_path, max_percent,
		current_percent, updated, cleared, time_applied FROM diversions WHERE cms_id = ? ORDER BY idx`, id)
	if err != nil {
		return sim.CMSInfo{}, fmt.Errorf("%s: %w", id, err)
	}
	defer rows.Close()

	for rows.Next() {
		var dv sim.CMSDiversion
		if err := rows.Scan(&dv.OriginalPath, &dv.NewPath, &dv.DiversionPath, &dv.MaxDiversionPercent,
			&dv.CurrentDiversionPercent, &dv.Updated, &dv.Cleared, &dv.TimeApplied); err != nil {
			return sim.CMSInfo{}, fmt.Errorf("%s: %w", id, err)
		}
		ci.Diversions = append(ci.Diversions, dv)
	}
	return ci, rows.Err()
}

// Update stores the current state of a sign's diversions. The sign must
// already exist and its diversions must match the stored ones.
func (d *DB) Update(ctx context.Context, info sim.CMSInfo) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stored, err := d.get(ctx, tx, info.ID)
	if err != nil {
		return err
	}
	if len(stored.Diversions) != len(info.Diversions) {
		return &sim.ScriptError{Reason: sim.ErrInvalidDiversion,
			Detail: fmt.Sprintf("%s: %d diversions given, %d stored", info.ID, len(info.Diversions), len(stored.Diversions))}
	}

	for i, dv := range info.Diversions {
		if _, err := tx.ExecContext(ctx, `UPDATE diversions SET current_percent = ?, updated = ?, cleared = ?,
			time_applied = ? WHERE cms_id = ? AND idx = ?`,
			dv.CurrentDiversionPercent, dv.Updated, dv.Cleared, dv.TimeApplied, info.ID, i); err != nil {
			return fmt.Errorf("%s: %w", info.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	// Only the diversion state is written, so the cached entry takes the
	// sign's stored description.
	stored.Diversions = slices.Clone(info.Diversions)
	d.cache.Add(info.ID, stored)
	return nil
}

// Reset takes every diversion back to zero.
func (d *DB) Reset(ctx context.Context) error {
	defer d.cache.Purge()

	_, err := d.db.ExecContext(ctx, `UPDATE diversions SET updated = current_percent != 0, current_percent = 0,
		cleared = 1, time_applied = 0`)
	return err
}

// IDs returns the ids of all signs in sorted order.
func (d *DB) IDs(ctx context.Context) ([]string, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT id FROM cms ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// All returns all signs sorted by id.
func (d *DB) All(ctx context.Context) ([]sim.CMSInfo, error) {
	ids, err := d.IDs(ctx)
	if err != nil {
		return nil, err
	}

	var all []sim.CMSInfo
	for _, id := range ids {
		ci, err := d.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		all = append(all, ci)
	}
	return all, nil
}

// Put adds signs to the database, replacing any existing signs with the
// same ids along with their diversions.
func (d *DB) Put(ctx context.Context, info ...sim.CMSInfo) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, ci := range info {
		if strings.TrimSpace(ci.ID) == "" {
			return &sim.ScriptError{Reason: sim.ErrInvalidDiversion, Detail: "CMS id is required"}
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM diversions WHERE cms_id = ?`, ci.ID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO cms (id, postmile, initial_route) VALUES (?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET postmile = excluded.postmile, initial_route = excluded.initial_route`,
			ci.ID, ci.Postmile, ci.InitialRoute); err != nil {
			return fmt.Errorf("%s: %w", ci.ID, err)
		}
		for i, dv := range ci.Diversions {
			if _, err := tx.ExecContext(ctx, `INSERT INTO diversions (cms_id, idx, original_path, new_path,
				diversion_path, max_percent, current_percent, updated, cleared, time_applied)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				ci.ID, i, dv.OriginalPath, dv.NewPath, dv.DiversionPath, dv.MaxDiversionPercent,
				dv.CurrentDiversionPercent, dv.Updated, dv.Cleared, dv.TimeApplied); err != nil {
				return fmt.Errorf("%s: diversion %d: %w", ci.ID, i, err)
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	for _, ci := range info {
		d.cache.Remove(ci.ID)
	}
	d.lg.Info("stored CMS signs", slog.Int("count", len(info)))
	return nil
}

func copyInfo(ci sim.CMSInfo) sim.CMSInfo {
	ci.Diversions = slices.Clone(ci.Diversions)
	return ci
}
