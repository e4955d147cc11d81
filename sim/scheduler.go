// sim/scheduler.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package sim

import (
	"fmt"
	"slices"
	"strconv"

	"github.com/mmp/tmcsim/util"

	"github.com/brunoga/deep"
)

// Scheduler owns the simulation clock and the incidents. It has no
// locking of its own and never blocks; the Coordinator serializes calls to
// it. Methods that change state return the events that describe the
// change, in the order that subscribers should see them.
type Scheduler struct {
	clock     int
	incidents map[int]*Incident
}

func NewScheduler() *Scheduler {
	return &Scheduler{incidents: make(map[int]*Incident)}
}

func (s *Scheduler) Clock() int {
	return s.clock
}

func (s *Scheduler) NumIncidents() int {
	return len(s.incidents)
}

// ordered returns the incidents sorted by start time and then log number.
func (s *Scheduler) ordered() []*Incident {
	incs := make([]*Incident, 0, len(s.incidents))
	for _, ln := range util.SortedMapKeys(s.incidents) {
		incs = append(incs, s.incidents[ln])
	}
	slices.SortStableFunc(incs, func(a, b *Incident) int { return a.StartTime() - b.StartTime() })
	return incs
}

// Tick advances the clock by one second and fires everything that has
// become due. All incidents that start at the new time are reported
// before any of the events that fire at it.
func (s *Scheduler) Tick() []Event {
	s.clock++
	return s.evaluate(true)
}

func (s *Scheduler) evaluate(report bool) []Event {
	var started, fired []Event
	incs := s.ordered()

	for _, inc := range incs {
		if !inc.Occurred && inc.StartTime() <= s.clock {
			inc.Occurred = true
			inc.OccurredAt = s.clock
			if report {
				started = append(started, Event{Type: IncidentStartedEvent, Time: s.clock, LogNumber: inc.LogNumber,
					Incident: copyIncident(inc)})
			}
		}
	}

	for _, inc := range incs {
		if !inc.Occurred {
			continue
		}
		for i := range inc.Events {
			ev := &inc.Events[i]
			if ev.Status == EventPending && s.clock >= inc.OccurredAt+ev.Offset {
				fire(ev, s.clock)
				if report {
					fired = append(fired, Event{Type: EventOccurredEvent, Time: s.clock, LogNumber: inc.LogNumber,
						EventIndex: i, IncidentEvent: deep.MustCopy(ev)})
				}
			}
		}
	}

	return append(started, fired...)
}

func fire(ev *IncidentEvent, now int) {
	ev.OccurredAt = now
	if ev.Payload.Audio != nil {
		ev.Status = EventTriggered
	} else {
		ev.Status = EventCompleted
	}
}

// Reset sets the clock to zero and returns every incident to its loaded
// state.
func (s *Scheduler) Reset() {
	s.clock = 0
	for _, inc := range s.incidents {
		inc.reset()
	}
}

type firedState struct {
	occurred   bool
	occurredAt int
	events     []EventStatus
	manual     int
}

func (s *Scheduler) captureState() map[int]firedState {
	st := make(map[int]firedState)
	for ln, inc := range s.incidents {
		fs := firedState{occurred: inc.Occurred, occurredAt: inc.OccurredAt}
		for _, e := range inc.Events {
			if e.Manual {
				fs.manual++
			} else {
				fs.events = append(fs.events, e.Status)
			}
		}
		st[ln] = fs
	}
	return st
}

// Goto moves the clock to target and recomputes all incident and event
// state as if the simulation had ticked there one second at a time from
// zero. Seeking backward un-fires incidents and events that are not yet
// due at the target time, and drops terminal-entered events made after
// it. The returned events describe the net change: a start or fire event
// for everything that newly occurred, an update for each incident that
// went back, and finally a tick at the target time.
func (s *Scheduler) Goto(target int) ([]Event, error) {
	if target < 0 {
		return nil, scriptError(ErrInvalidTime, strconv.Itoa(target))
	}

	before := s.captureState()

	// Keep terminal-entered events and manual triggers that happened at
	// or before the target time.
	type kept struct {
		manualStart int
		events      []IncidentEvent
		header      IncidentHeader
	}
	keep := make(map[int]kept)
	for ln, inc := range s.incidents {
		k := kept{manualStart: -1}
		if inc.ManualStart >= 0 && inc.ManualStart <= target {
			k.manualStart = inc.ManualStart
		}
		for _, e := range inc.Events {
			if e.Manual && e.OccurredAt <= target {
				k.events = append(k.events, e)
			}
		}
		keep[ln] = k
	}

	s.Reset()
	for ln, inc := range s.incidents {
		inc.ManualStart = keep[ln].manualStart
	}
	for s.clock < target {
		s.clock++
		s.evaluate(false)
	}
	for ln, inc := range s.incidents {
		for _, e := range keep[ln].events {
			if !inc.Occurred {
				break
			}
			inc.addManualEvent(e.Payload, e.OccurredAt)
		}
	}

	after := s.captureState()

	var started, fired, updated []Event
	for _, inc := range s.ordered() {
		b, a := before[inc.LogNumber], after[inc.LogNumber]
		reverted := b.occurred && !a.occurred || a.manual < b.manual ||
			(b.occurred && a.occurred && b.occurredAt != a.occurredAt)

		if a.occurred && !b.occurred {
			started = append(started, Event{Type: IncidentStartedEvent, Time: s.clock, LogNumber: inc.LogNumber,
				Incident: copyIncident(inc)})
		}
		scripted := 0
		for i, e := range inc.Events {
			if e.Manual {
				continue
			}
			was := b.events[scripted]
			scripted++
			if e.Status.Fired() && !was.Fired() {
				fired = append(fired, Event{Type: EventOccurredEvent, Time: s.clock, LogNumber: inc.LogNumber,
					EventIndex: i, IncidentEvent: deep.MustCopy(&inc.Events[i])})
			} else if !e.Status.Fired() && was.Fired() {
				reverted = true
			}
		}
		if reverted {
			updated = append(updated, Event{Type: IncidentUpdatedEvent, Time: s.clock, LogNumber: inc.LogNumber,
				Incident: copyIncident(inc)})
		}
	}

	events := append(append(started, fired...), updated...)
	return append(events, Event{Type: TickEvent, Time: s.clock}), nil
}

// Trigger makes an incident occur now regardless of its scheduled time
// and fires any of its events that are due.
func (s *Scheduler) Trigger(logNumber int) ([]Event, error) {
	inc, ok := s.incidents[logNumber]
	if !ok {
		return nil, scriptError(ErrUnknownIncident, strconv.Itoa(logNumber))
	}
	if inc.Occurred {
		return nil, scriptError(ErrIncidentAlreadyStarted, strconv.Itoa(logNumber))
	}
	inc.ManualStart = s.clock
	return s.evaluate(true), nil
}

// Reschedule changes when an incident that hasn't occurred yet will
// start.
func (s *Scheduler) Reschedule(logNumber int, start int) (*Incident, error) {
	inc, ok := s.incidents[logNumber]
	if !ok {
		return nil, scriptError(ErrUnknownIncident, strconv.Itoa(logNumber))
	}
	if inc.Occurred {
		return nil, scriptError(ErrIncidentAlreadyStarted, strconv.Itoa(logNumber))
	}
	if start < s.clock {
		return nil, scriptError(ErrTimePassed, fmt.Sprintf("%s is before %s", util.FormatSimTime(start),
			util.FormatSimTime(s.clock)))
	}
	inc.ScheduledStart = start
	return copyIncident(inc), nil
}

// Add takes ownership of inc and adds it to the schedule. The incident
// starts out not occurred; if it is already due it occurs on the next
// tick.
func (s *Scheduler) Add(inc *Incident) error {
	if err := inc.Validate(); err != nil {
		return err
	}
	if _, ok := s.incidents[inc.LogNumber]; ok {
		return scriptError(ErrDuplicateIncident, strconv.Itoa(inc.LogNumber))
	}
	inc.reset()
	s.incidents[inc.LogNumber] = inc
	return nil
}

func (s *Scheduler) Delete(logNumber int) error {
	if _, ok := s.incidents[logNumber]; !ok {
		return scriptError(ErrUnknownIncident, strconv.Itoa(logNumber))
	}
	delete(s.incidents, logNumber)
	return nil
}

// Clear removes all incidents and resets the clock.
func (s *Scheduler) Clear() {
	clear(s.incidents)
	s.clock = 0
}

// AddUpdate records an update entered at a terminal as a completed event
// of the given incident at the current time.
func (s *Scheduler) AddUpdate(logNumber int, payload EventPayload) (*Incident, error) {
	inc, ok := s.incidents[logNumber]
	if !ok {
		return nil, scriptError(ErrUnknownIncident, strconv.Itoa(logNumber))
	}
	inc.addManualEvent(payload, s.clock)
	return copyIncident(inc), nil
}

// Complete marks a triggered event as completed.
func (s *Scheduler) Complete(logNumber int, index int) (*IncidentEvent, error) {
	inc, ok := s.incidents[logNumber]
	if !ok {
		return nil, scriptError(ErrUnknownIncident, strconv.Itoa(logNumber))
	}
	if index < 0 || index >= len(inc.Events) {
		return nil, scriptError(ErrInvalidEvent, fmt.Sprintf("incident %d has no event %d", logNumber, index))
	}
	ev := &inc.Events[index]
	if ev.Status != EventTriggered {
		return nil, scriptError(ErrInvalidEvent, fmt.Sprintf("incident %d event %d is %s", logNumber, index, ev.Status))
	}
	ev.Status = EventCompleted
	return deep.MustCopy(ev), nil
}

// Incident returns a copy of the given incident.
func (s *Scheduler) Incident(logNumber int) (*Incident, bool) {
	inc, ok := s.incidents[logNumber]
	if !ok {
		return nil, false
	}
	return copyIncident(inc), true
}

// Incidents returns copies of all incidents, sorted by start time.
func (s *Scheduler) Incidents() []Incident {
	var incs []Incident
	for _, inc := range s.ordered() {
		incs = append(incs, *copyIncident(inc))
	}
	return incs
}

// Occurred returns copies of the incidents that have occurred.
func (s *Scheduler) Occurred() []Incident {
	return util.FilterSlice(s.Incidents(), func(inc Incident) bool { return inc.Occurred })
}

func copyIncident(inc *Incident) *Incident {
	return deep.MustCopy(inc)
}
