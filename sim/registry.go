// sim/registry.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package sim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mmp/tmcsim/log"
	"github.com/mmp/tmcsim/util"

	"github.com/brunoga/deep"
)

type Role int

const (
	RoleTerminal Role = iota
	RoleManager
)

func (r Role) String() string {
	return util.Select(r == RoleManager, "manager", "terminal")
}

// Subscriber is a remote party that is kept informed of the simulation
// state. Snapshot is called once, when the subscriber registers, and
// then Deliver is called for each subsequent event in order. Both are
// called from a goroutine dedicated to the subscriber and must respect
// the context's deadline; an error from either drops the subscriber.
type Subscriber interface {
	ID() string
	Role() Role
	Snapshot(ctx context.Context, s Snapshot) error
	Deliver(ctx context.Context, e Event) error
}

var ErrSubscriberOverflow = errors.New("Subscriber fell too far behind")

// Registry is the set of registered subscribers. Events are posted to a
// shared EventStream; each subscriber has its own delivery goroutine
// that forwards them, so a slow or dead subscriber never holds up the
// others or the poster.
type Registry struct {
	mu      sync.Mutex
	subs    map[string]*registration
	stream  *EventStream
	timeout time.Duration
	// OnDrop, if set, is called when a subscriber is dropped after a
	// delivery failure. It is not called for explicit unregistration.
	OnDrop func(sub Subscriber, err error)
	wg     sync.WaitGroup
	lg     *log.Logger
}

type registration struct {
	sub    Subscriber
	es     *EventsSubscription
	ctx    context.Context
	cancel context.CancelFunc
}

func NewRegistry(stream *EventStream, timeout time.Duration, lg *log.Logger) *Registry {
	return &Registry{
		subs:    make(map[string]*registration),
		stream:  stream,
		timeout: timeout,
		lg:      lg,
	}
}

// Register adds sub to the registry and arranges for it to be sent snap
// followed by every event posted afterward. The caller must ensure that
// no events are posted between taking the snapshot and Register
// returning. A subscriber registered under an existing ID replaces the
// earlier one.
func (r *Registry) Register(sub Subscriber, snap Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.subs[sub.ID()]; ok {
		r.lg.Info("replacing subscriber", slog.String("id", sub.ID()))
		r.remove(old)
	}

	ctx, cancel := context.WithCancel(context.Background())
	reg := &registration{
		sub:    sub,
		es:     r.stream.Subscribe(),
		ctx:    ctx,
		cancel: cancel,
	}
	r.subs[sub.ID()] = reg

	r.lg.Info("registered subscriber", slog.String("id", sub.ID()), slog.String("role", sub.Role().String()),
		slog.Int("sim_time", snap.Time))

	r.wg.Add(1)
	go r.deliver(reg, deep.MustCopy(snap))
}

// Unregister removes the subscriber with the given id. Events that have
// not yet been delivered to it are discarded, and a delivery that is in
// progress has its context canceled. It returns false if there was no
// such subscriber.
func (r *Registry) Unregister(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	reg, ok := r.subs[id]
	if !ok {
		return false
	}
	r.remove(reg)
	r.lg.Info("unregistered subscriber", slog.String("id", id))
	return true
}

// remove must be called with r.mu held.
func (r *Registry) remove(reg *registration) {
	reg.cancel()
	reg.es.Unsubscribe()
	delete(r.subs, reg.sub.ID())
}

// drop removes reg after a delivery failure, unless it has already been
// removed or replaced.
func (r *Registry) drop(reg *registration, err error) {
	r.mu.Lock()
	cur, ok := r.subs[reg.sub.ID()]
	if ok && cur == reg {
		r.remove(reg)
	}
	onDrop := r.OnDrop
	r.mu.Unlock()

	if !ok || cur != reg {
		return
	}
	r.lg.Warn("dropping subscriber", slog.String("id", reg.sub.ID()),
		slog.String("role", reg.sub.Role().String()), slog.Any("error", err))
	if onDrop != nil {
		onDrop(reg.sub, err)
	}
}

func (r *Registry) deliver(reg *registration, snap Snapshot) {
	defer r.wg.Done()
	defer r.lg.CatchAndReportCrash()

	send := func(f func(ctx context.Context) error) error {
		ctx, cancel := context.WithTimeout(reg.ctx, r.timeout)
		defer cancel()
		return f(ctx)
	}

	if err := send(func(ctx context.Context) error { return reg.sub.Snapshot(ctx, snap) }); err != nil {
		if reg.ctx.Err() == nil {
			r.drop(reg, fmt.Errorf("snapshot: %w", err))
		}
		return
	}

	manager := reg.sub.Role() == RoleManager
	for {
		select {
		case <-reg.ctx.Done():
			return
		case <-reg.es.Notify():
		}

		events, ok := reg.es.Get()
		if !ok {
			if reg.ctx.Err() == nil {
				r.drop(reg, ErrSubscriberOverflow)
			}
			return
		}

		for _, e := range events {
			if reg.ctx.Err() != nil {
				return
			}
			if !manager && e.Type.ManagerOnly() {
				continue
			}
			if err := send(func(ctx context.Context) error { return reg.sub.Deliver(ctx, e) }); err != nil {
				if reg.ctx.Err() == nil {
					r.drop(reg, fmt.Errorf("%s: %w", e, err))
				}
				return
			}
		}
	}
}

// Subscribers returns the ids of the registered subscribers with the
// given role.
func (r *Registry) Subscribers(role Role) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var ids []string
	for _, id := range util.SortedMapKeys(r.subs) {
		if r.subs[id].sub.Role() == role {
			ids = append(ids, id)
		}
	}
	return ids
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}

// Close unregisters all subscribers and waits for their delivery
// goroutines to exit.
func (r *Registry) Close() {
	r.mu.Lock()
	for _, reg := range r.subs {
		r.remove(reg)
	}
	r.mu.Unlock()

	r.wg.Wait()
}
