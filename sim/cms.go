// sim/cms.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package sim

import (
	"context"
	"slices"
	"sync"

	"github.com/mmp/tmcsim/util"
)

// CMSDiversion is one rerouting option for a changeable message sign:
// some percentage of the traffic on OriginalPath is sent along
// DiversionPath instead.
type CMSDiversion struct {
	OriginalPath            string
	NewPath                 string
	DiversionPath           string
	MaxDiversionPercent     int
	CurrentDiversionPercent int
	// Updated is set when the current percentage has changed since the
	// diversion was last applied.
	Updated bool
	// Cleared is set when the diversion has been taken back to zero.
	Cleared     bool
	TimeApplied int
}

// SetCurrent sets the diversion percentage, clamped to [0, max].
func (d *CMSDiversion) SetCurrent(percent int) {
	percent = util.Clamp(percent, 0, d.MaxDiversionPercent)
	d.Updated = percent != d.CurrentDiversionPercent
	d.Cleared = percent == 0
	d.CurrentDiversionPercent = percent
}

// CMSInfo describes a changeable message sign and its diversions.
type CMSInfo struct {
	ID           string
	Postmile     float64
	InitialRoute string
	Diversions   []CMSDiversion
}

// Reset takes all of the sign's diversions back to zero.
func (c *CMSInfo) Reset() {
	for i := range c.Diversions {
		c.Diversions[i].SetCurrent(0)
		c.Diversions[i].TimeApplied = 0
	}
}

// Active reports whether any diversion is currently in effect.
func (c *CMSInfo) Active() bool {
	return slices.ContainsFunc(c.Diversions, func(d CMSDiversion) bool { return d.CurrentDiversionPercent > 0 })
}

// DiversionStore holds the CMS diversion configuration. Implementations
// must be safe for concurrent use.
type DiversionStore interface {
	// Get returns the sign with the given id or an error wrapping
	// ErrUnknownCMS.
	Get(ctx context.Context, id string) (CMSInfo, error)
	// Update replaces the stored state of the sign.
	Update(ctx context.Context, info CMSInfo) error
	// Reset takes every diversion back to zero.
	Reset(ctx context.Context) error
	// IDs returns the ids of all signs, sorted.
	IDs(ctx context.Context) ([]string, error)
	// All returns all signs, sorted by id.
	All(ctx context.Context) ([]CMSInfo, error)
}

// MemoryDiversionStore is a DiversionStore held in memory.
type MemoryDiversionStore struct {
	mu   sync.Mutex
	info map[string]CMSInfo
}

func NewMemoryDiversionStore(info ...CMSInfo) *MemoryDiversionStore {
	m := &MemoryDiversionStore{info: make(map[string]CMSInfo)}
	for _, ci := range info {
		m.info[ci.ID] = copyCMS(ci)
	}
	return m
}

func copyCMS(ci CMSInfo) CMSInfo {
	ci.Diversions = slices.Clone(ci.Diversions)
	return ci
}

func (m *MemoryDiversionStore) Get(ctx context.Context, id string) (CMSInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ci, ok := m.info[id]
	if !ok {
		return CMSInfo{}, scriptError(ErrUnknownCMS, id)
	}
	return copyCMS(ci), nil
}

func (m *MemoryDiversionStore) Update(ctx context.Context, info CMSInfo) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.info[info.ID]; !ok {
		return scriptError(ErrUnknownCMS, info.ID)
	}
	m.info[info.ID] = copyCMS(info)
	return nil
}

func (m *MemoryDiversionStore) Reset(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, ci := range m.info {
		ci = copyCMS(ci)
		ci.Reset()
		m.info[id] = ci
	}
	return nil
}

func (m *MemoryDiversionStore) IDs(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return util.SortedMapKeys(m.info), nil
}

func (m *MemoryDiversionStore) All(ctx context.Context) ([]CMSInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var all []CMSInfo
	for _, id := range util.SortedMapKeys(m.info) {
		all = append(all, copyCMS(m.info[id]))
	}
	return all, nil
}
