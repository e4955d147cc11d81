// server/session.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package server

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mmp/tmcsim/log"
	"github.com/mmp/tmcsim/sim"
)

// managerSession holds the state for a simulation manager connected over
// RPC. Managers can't be called back, so events are queued in a bounded
// mailbox that the manager drains by polling GetUpdates.
type managerSession struct {
	token string
	name  string

	mu       sync.Mutex
	mailbox  []sim.Event
	capacity int
	// lastUpdateCall is the last time the manager polled for updates.
	lastUpdateCall      time.Time
	warnedNoUpdateCalls bool

	lg *log.Logger
}

var _ sim.Subscriber = (*managerSession)(nil)

func newManagerSession(token, name string, capacity int, lg *log.Logger) *managerSession {
	return &managerSession{
		token:          token,
		name:           name,
		capacity:       capacity,
		lastUpdateCall: time.Now(),
		lg:             lg.With(slog.String("manager", name), slog.String("token", token[:8])),
	}
}

func (ms *managerSession) ID() string    { return "manager-" + ms.token }
func (ms *managerSession) Role() sim.Role { return sim.RoleManager }

// Snapshot is a no-op; the snapshot is returned to the manager directly
// by RegisterForCallback.
func (ms *managerSession) Snapshot(ctx context.Context, s sim.Snapshot) error {
	return nil
}

// Deliver queues e in the mailbox. A full mailbox means that the manager
// has stopped polling; the error returned drops it.
func (ms *managerSession) Deliver(ctx context.Context, e sim.Event) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if len(ms.mailbox) >= ms.capacity {
		return ErrMailboxFull
	}
	ms.mailbox = append(ms.mailbox, e)
	return nil
}

// takeUpdates returns the queued events and empties the mailbox.
func (ms *managerSession) takeUpdates() []sim.Event {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	ms.lastUpdateCall = time.Now()
	ms.warnedNoUpdateCalls = false
	events := ms.mailbox
	ms.mailbox = nil
	return events
}

// idle reports how long it has been since the manager last polled,
// logging a warning the first time it passes warnAfter.
func (ms *managerSession) idle(warnAfter time.Duration) time.Duration {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	d := time.Since(ms.lastUpdateCall)
	if d > warnAfter && !ms.warnedNoUpdateCalls {
		ms.warnedNoUpdateCalls = true
		ms.lg.Warnf("no update requests for %s", warnAfter)
	}
	return d
}
