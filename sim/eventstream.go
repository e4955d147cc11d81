// sim/eventstream.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package sim

import (
	"fmt"
	"log/slog"
	"maps"
	"runtime"
	"slices"
	"sync"
	"time"

	"github.com/mmp/tmcsim/log"
)

// EventStream is an ordered log of simulation events with any number of
// subscribers, each of which consumes the log at its own pace from the
// point at which it subscribed. Posting never blocks, so it is safe to
// post while holding the coordinator's lock; subscribers are signaled
// through their Notify channel when there is something new to Get.
type EventStream struct {
	mu            sync.Mutex
	events        []Event
	subscriptions map[*EventsSubscription]interface{}
	// maxBacklog is the most events a subscriber may fall behind before
	// it is considered dead.
	maxBacklog int
	lastPost   time.Time
	warnedLong bool
	done       chan struct{}
	lg         *log.Logger
}

type EventsSubscription struct {
	stream *EventStream
	// offset is offset in the EventStream stream array up to which the
	// subscriber has consumed events so far.
	offset      int
	source      string
	notify      chan struct{}
	overflowed  bool
	lastGet     time.Time
	warnedNoGet bool
}

func (e *EventsSubscription) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("offset", e.offset),
		slog.String("source", e.source),
		slog.Bool("overflowed", e.overflowed),
		slog.Time("last_get", e.lastGet))
}

func NewEventStream(maxBacklog int, lg *log.Logger) *EventStream {
	es := &EventStream{
		subscriptions: make(map[*EventsSubscription]interface{}),
		maxBacklog:    maxBacklog,
		lastPost:      time.Now(),
		done:          make(chan struct{}),
		lg:            lg,
	}
	go es.monitor()
	return es
}

// Subscribe registers a new subscriber to the stream. The subscriber
// will see all events posted after Subscribe returns.
func (e *EventStream) Subscribe() *EventsSubscription {
	// Record the subscriber's callsite, so that we can more easily debug
	// subscribers that aren't consuming events.
	_, fn, line, _ := runtime.Caller(1)
	source := fmt.Sprintf("%s:%d", fn, line)

	e.mu.Lock()
	defer e.mu.Unlock()

	sub := &EventsSubscription{
		stream:  e,
		offset:  len(e.events),
		source:  source,
		notify:  make(chan struct{}, 1),
		lastGet: time.Now(),
	}
	e.subscriptions[sub] = nil
	return sub
}

func (e *EventStream) monitor() {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-e.done:
			return
		case <-ticker.C:
		}

		e.mu.Lock()

		e.compact()

		if len(e.events) > e.maxBacklog && !e.warnedLong {
			// It's likely that one of the subscribers is out to lunch if
			// the stream has grown this long.
			e.lg.Warn("Long EventStream", slog.Int("length", len(e.events)),
				log.AnyPointerSlice("subscriptions", slices.Collect(maps.Keys(e.subscriptions))))
			e.warnedLong = true
		}

		// Only complain about idle subscribers if events are being posted.
		if time.Since(e.lastPost) < 5*time.Second {
			for sub := range e.subscriptions {
				if d := time.Since(sub.lastGet); d > 10*time.Second && !sub.warnedNoGet {
					e.lg.Warn("Subscriber has not called Get() recently",
						slog.Duration("duration", d), slog.Any("subscriber", sub))
					sub.warnedNoGet = true
				}
			}
		}

		e.mu.Unlock()
	}
}

// Unsubscribe removes a subscriber from the subscriber list. It may be
// called more than once.
func (e *EventsSubscription) Unsubscribe() {
	stream := e.stream
	if stream == nil {
		return
	}

	stream.mu.Lock()
	defer stream.mu.Unlock()

	delete(stream.subscriptions, e)
}

// Notify returns a channel that receives a value when events have been
// posted since the last call to Get.
func (e *EventsSubscription) Notify() <-chan struct{} {
	return e.notify
}

// Post adds an event to the event stream.
func (e *EventStream) Post(event Event) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.lg.Debug("posted event", slog.Any("event", event))

	// Ignore the event if no one's paying attention.
	if len(e.subscriptions) == 0 {
		return
	}

	e.lastPost = time.Now()
	e.events = append(e.events, event)

	for sub := range e.subscriptions {
		if len(e.events)-sub.offset > e.maxBacklog {
			sub.overflowed = true
		}
		select {
		case sub.notify <- struct{}{}:
		default:
		}
	}
}

// Get returns all of the events from the stream since the last time Get
// was called for the subscription. The second return value is false if
// the subscriber has been unsubscribed or fell too far behind, in which
// case no events are returned.
func (e *EventsSubscription) Get() ([]Event, bool) {
	e.stream.mu.Lock()
	defer e.stream.mu.Unlock()

	if _, ok := e.stream.subscriptions[e]; !ok || e.overflowed {
		return nil, false
	}

	events := slices.Clone(e.stream.events[e.offset:])
	e.offset = len(e.stream.events)
	e.lastGet = time.Now()
	e.warnedNoGet = false

	return events, true
}

func (e *EventStream) Destroy() {
	e.mu.Lock()
	defer e.mu.Unlock()

	select {
	case <-e.done:
		return
	default:
	}

	close(e.done)
	clear(e.subscriptions)
}

// compact reclaims storage for events that all subscribers have seen; it
// is called periodically so that EventStream memory usage doesn't grow
// without bound.
func (e *EventStream) compact() {
	minOffset := len(e.events)
	for sub := range e.subscriptions {
		if sub.offset < minOffset {
			minOffset = sub.offset
		}
	}

	if minOffset > cap(e.events)/2 {
		n := len(e.events) - minOffset

		copy(e.events, e.events[minOffset:])
		clear(e.events[n:])
		e.events = e.events[:n]

		for sub := range e.subscriptions {
			sub.offset -= minOffset
		}

		e.warnedLong = false // reset this after a successful compact.
	}
}

// implements slog.LogValuer
func (e *EventStream) LogValue() slog.Value {
	e.mu.Lock()
	defer e.mu.Unlock()

	return slog.GroupValue(
		slog.Int("length", len(e.events)),
		slog.Int("subscriptions", len(e.subscriptions)))
}
