// sim/events.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package sim

import (
	"fmt"
	"log/slog"

	"github.com/brunoga/deep"
)

type EventType int

const (
	TickEvent EventType = iota
	ScriptStatusEvent
	ParamicsStatusEvent
	IncidentAddedEvent
	IncidentStartedEvent
	IncidentRemovedEvent
	EventOccurredEvent
	IncidentUpdatedEvent
	RoutedMessageEvent
	ResetEvent
	DiversionEvent
	NetworkLoadedEvent
	// IncidentDeletedEvent follows IncidentRemovedEvent when an incident
	// is deleted from a running script, so that terminals drop it too.
	IncidentDeletedEvent
	NumEventTypes
)

func (t EventType) String() string {
	return [...]string{"Tick", "ScriptStatus", "ParamicsStatus", "IncidentAdded", "IncidentStarted",
		"IncidentRemoved", "EventOccurred", "IncidentUpdated", "RoutedMessage", "Reset", "Diversion",
		"NetworkLoaded", "IncidentDeleted"}[t]
}

// ManagerOnly reports whether events of this type are only of interest to
// the simulation manager. Terminals are not sent them; they learn about
// incident changes through IncidentUpdatedEvent.
func (t EventType) ManagerOnly() bool {
	switch t {
	case IncidentAddedEvent, IncidentStartedEvent, IncidentRemovedEvent, EventOccurredEvent:
		return true
	default:
		return false
	}
}

// Event is a notification of a change in the simulation state. Type
// determines which of the remaining fields are set. Incidents and events
// carried by an Event are copies owned by the Event.
type Event struct {
	Type EventType
	// Time is the simulation clock when the event was posted.
	Time int

	Status    ScriptStatus
	Paramics  ParamicsStatus
	NetworkID int

	LogNumber     int
	Incident      *Incident
	EventIndex    int
	IncidentEvent *IncidentEvent

	Message *RoutedMessage
	CMS     *CMSInfo
}

// RoutedMessage is a message sent from one terminal position to others.
type RoutedMessage struct {
	From         int
	Destinations []int
	Text         string
	Time         int
	// LogNumber is the incident the sender was viewing, if any.
	LogNumber int
}

// For returns whether the message is addressed to the given position.
func (m *RoutedMessage) For(position int) bool {
	for _, d := range m.Destinations {
		if d == position {
			return true
		}
	}
	return false
}

func (e Event) String() string {
	switch e.Type {
	case TickEvent, ResetEvent:
		return fmt.Sprintf("%s@%d", e.Type, e.Time)
	case ScriptStatusEvent:
		return fmt.Sprintf("%s@%d: %s", e.Type, e.Time, e.Status)
	case ParamicsStatusEvent:
		return fmt.Sprintf("%s@%d: %s", e.Type, e.Time, e.Paramics)
	case NetworkLoadedEvent:
		return fmt.Sprintf("%s@%d: %d", e.Type, e.Time, e.NetworkID)
	case EventOccurredEvent:
		return fmt.Sprintf("%s@%d: incident %d event %d", e.Type, e.Time, e.LogNumber, e.EventIndex)
	case RoutedMessageEvent:
		if e.Message != nil {
			return fmt.Sprintf("%s@%d: %d -> %v", e.Type, e.Time, e.Message.From, e.Message.Destinations)
		}
	case DiversionEvent:
		if e.CMS != nil {
			return fmt.Sprintf("%s@%d: %s", e.Type, e.Time, e.CMS.ID)
		}
	}
	return fmt.Sprintf("%s@%d: incident %d", e.Type, e.Time, e.LogNumber)
}

// implements slog.LogValuer
func (e Event) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("type", e.Type.String()),
		slog.Int("time", e.Time),
		slog.Int("log_number", e.LogNumber),
		slog.String("event", e.String()))
}

// Snapshot is the complete simulation state sent to a subscriber when it
// registers.
type Snapshot struct {
	Time       int
	Status     ScriptStatus
	Paramics   ParamicsStatus
	NetworkID  int
	Incidents  []Incident
	Diversions []CMSInfo
}

// Apply updates the snapshot to reflect an event, so that a subscriber
// can keep a current view of the simulation from its initial snapshot
// and the events that follow it. Incidents are copied out of the event;
// s must not share storage with another Snapshot.
func (s *Snapshot) Apply(e Event) {
	s.Time = e.Time

	find := func(ln int) int {
		for i := range s.Incidents {
			if s.Incidents[i].LogNumber == ln {
				return i
			}
		}
		return -1
	}
	put := func(inc *Incident) {
		if inc == nil {
			return
		}
		inc = deep.MustCopy(inc)
		if i := find(inc.LogNumber); i >= 0 {
			s.Incidents[i] = *inc
		} else {
			s.Incidents = append(s.Incidents, *inc)
		}
	}

	switch e.Type {
	case ScriptStatusEvent:
		s.Status = e.Status
	case ParamicsStatusEvent:
		s.Paramics = e.Paramics
	case NetworkLoadedEvent:
		s.NetworkID = e.NetworkID
	case IncidentAddedEvent, IncidentStartedEvent, IncidentUpdatedEvent:
		put(e.Incident)
	case IncidentRemovedEvent, IncidentDeletedEvent:
		if i := find(e.LogNumber); i >= 0 {
			s.Incidents = append(s.Incidents[:i], s.Incidents[i+1:]...)
		}
	case EventOccurredEvent:
		if i := find(e.LogNumber); i >= 0 && e.IncidentEvent != nil && e.EventIndex < len(s.Incidents[i].Events) {
			s.Incidents[i].Events[e.EventIndex] = *e.IncidentEvent
		}
	case DiversionEvent:
		if e.CMS == nil {
			break
		}
		for i := range s.Diversions {
			if s.Diversions[i].ID == e.CMS.ID {
				s.Diversions[i] = *e.CMS
				return
			}
		}
		s.Diversions = append(s.Diversions, *e.CMS)
	}
}
