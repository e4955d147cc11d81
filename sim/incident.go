// sim/incident.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package sim

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/mmp/tmcsim/protocol"
)

// EventStatus is the firing state of an IncidentEvent.
type EventStatus int

const (
	EventPending EventStatus = iota
	// EventTriggered events have fired but are still in progress; events
	// with an audio clip stay triggered until the clip has been played.
	EventTriggered
	EventCompleted
)

func (s EventStatus) String() string {
	switch s {
	case EventPending:
		return "PENDING"
	case EventTriggered:
		return "TRIGGERED"
	case EventCompleted:
		return "COMPLETED"
	default:
		return "UNKNOWN"
	}
}

// Fired reports whether the event has fired.
func (s EventStatus) Fired() bool {
	return s != EventPending
}

// IncidentHeader holds the summary fields shown for an incident on the
// CAD screens.
type IncidentHeader struct {
	LogStatus     string
	Description   string
	Priority      string
	Type          string
	FullLocation  string
	TruncLocation string
	Beat          string
	Callbox       string
	LocationID    string
}

// Merge overwrites h's fields with the non-empty fields of u.
func (h *IncidentHeader) Merge(u IncidentHeader) {
	set := func(dst *string, src string) {
		if src != "" {
			*dst = src
		}
	}
	set(&h.LogStatus, u.LogStatus)
	set(&h.Description, u.Description)
	set(&h.Priority, u.Priority)
	set(&h.Type, u.Type)
	set(&h.FullLocation, u.FullLocation)
	set(&h.TruncLocation, u.TruncLocation)
	set(&h.Beat, u.Beat)
	set(&h.Callbox, u.Callbox)
	set(&h.LocationID, u.LocationID)
}

type Detail struct {
	Text      string
	Qualifier string
	Sensitive bool
}

type Unit struct {
	UnitNumber string
	Status     string
	Primary    bool
	Active     bool
}

type Witness struct {
	Name    string
	Address string
	Phone   string
}

type Tow struct {
	Company            string
	ConfirmationNumber string
	PublicNumber       string
	Beat               string
}

type Service struct {
	Name               string
	ConfirmationNumber string
	PublicNumber       string
}

type AudioClip struct {
	Path    string
	Seconds int
}

type CCTV struct {
	ID        string
	Direction string
	Toggle    bool
}

// EventPayload is the scripted content of an incident event. The
// coordinator doesn't interpret it beyond merging header updates into the
// incident's header.
type EventPayload struct {
	Header            *IncidentHeader
	Details           []Detail
	Units             []Unit
	Witnesses         []Witness
	Tows              []Tow
	Services          []Service
	Audio             *AudioClip
	CCTV              []CCTV
	ParamicsLocations []string
	HandlingUnits     []string
	Routes            []string
	IncidentNumbers   []string
}

type IncidentEvent struct {
	// Offset is the number of seconds after the incident starts at which
	// the event fires.
	Offset int
	Status EventStatus
	// OccurredAt is the simulation time at which the event fired, or -1.
	OccurredAt int
	Payload    EventPayload
	// Manual events were entered at a terminal while the simulation was
	// running rather than coming from the script; they are discarded when
	// the simulation is reset.
	Manual bool
}

func (e *IncidentEvent) reset() {
	e.Status = EventPending
	e.OccurredAt = -1
}

// implements slog.LogValuer
func (e IncidentEvent) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("offset", e.Offset),
		slog.String("status", e.Status.String()),
		slog.Int("occurred_at", e.OccurredAt),
		slog.Bool("manual", e.Manual))
}

type Incident struct {
	LogNumber   int
	Description string
	// ScheduledStart is the simulation time at which the incident is
	// scheduled to occur.
	ScheduledStart int
	// ManualStart is the time at which the incident was triggered by
	// hand, or -1.
	ManualStart int
	Occurred    bool
	// OccurredAt is the simulation time at which the incident occurred;
	// it is only meaningful if Occurred is set. Event offsets are
	// relative to it.
	OccurredAt int
	Header     IncidentHeader
	// InitialHeader is the header as loaded from the script; Header is
	// restored to it on reset.
	InitialHeader IncidentHeader
	Events        []IncidentEvent
}

// NewIncident returns an incident that hasn't occurred with the given
// events, which are sorted by offset.
func NewIncident(logNumber int, description string, start int, header IncidentHeader, events []IncidentEvent) *Incident {
	inc := &Incident{
		LogNumber:      logNumber,
		Description:    description,
		ScheduledStart: start,
		Header:         header,
		InitialHeader:  header,
		Events:         slices.Clone(events),
	}
	inc.sortEvents()
	inc.reset()
	return inc
}

func (inc *Incident) sortEvents() {
	slices.SortStableFunc(inc.Events, func(a, b IncidentEvent) int { return a.Offset - b.Offset })
}

// Validate checks the invariants of an incident supplied from outside
// the scheduler.
func (inc *Incident) Validate() error {
	if inc.LogNumber <= 0 {
		return scriptError(ErrInvalidIncident, fmt.Sprintf("%d: log numbers must be positive", inc.LogNumber))
	}
	if inc.ScheduledStart < 0 {
		return scriptError(ErrInvalidIncident, fmt.Sprintf("%d: negative start time", inc.LogNumber))
	}
	for i, e := range inc.Events {
		if e.Offset < 0 {
			return scriptError(ErrInvalidEvent, fmt.Sprintf("incident %d: event %d has negative offset", inc.LogNumber, i))
		}
		if i > 0 && e.Offset < inc.Events[i-1].Offset {
			return scriptError(ErrInvalidEvent, fmt.Sprintf("incident %d: event offsets must be non-decreasing", inc.LogNumber))
		}
	}
	return nil
}

// reset returns the incident to its state as loaded: not occurred, all
// scripted events pending, terminal-entered events discarded, and the
// header restored.
func (inc *Incident) reset() {
	inc.Occurred = false
	inc.OccurredAt = -1
	inc.ManualStart = -1
	inc.Header = inc.InitialHeader
	inc.Events = slices.DeleteFunc(inc.Events, func(e IncidentEvent) bool { return e.Manual })
	for i := range inc.Events {
		inc.Events[i].reset()
	}
}

// StartTime returns the time at which the incident becomes due: its
// scheduled start or, if earlier, the time at which it was triggered.
func (inc *Incident) StartTime() int {
	if inc.ManualStart >= 0 && inc.ManualStart < inc.ScheduledStart {
		return inc.ManualStart
	}
	return inc.ScheduledStart
}

// FiredEvents returns the events that have fired, in order.
func (inc *Incident) FiredEvents() []IncidentEvent {
	var ev []IncidentEvent
	for _, e := range inc.Events {
		if e.Status.Fired() {
			ev = append(ev, e)
		}
	}
	return ev
}

// addManualEvent records an event entered at a terminal, already
// completed at time now. The event is inserted after all events with an
// offset no greater than its own.
func (inc *Incident) addManualEvent(payload EventPayload, now int) IncidentEvent {
	offset := 0
	if inc.Occurred {
		offset = max(0, now-inc.OccurredAt)
	}
	e := IncidentEvent{
		Offset:     offset,
		Status:     EventCompleted,
		OccurredAt: now,
		Payload:    payload,
		Manual:     true,
	}
	idx, _ := slices.BinarySearchFunc(inc.Events, offset+1, func(e IncidentEvent, t int) int { return e.Offset - t })
	inc.Events = slices.Insert(inc.Events, idx, e)
	if payload.Header != nil {
		inc.Header.Merge(*payload.Header)
	}
	return e
}

// implements slog.LogValuer
func (inc *Incident) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("log_number", inc.LogNumber),
		slog.Int("scheduled_start", inc.ScheduledStart),
		slog.Bool("occurred", inc.Occurred),
		slog.Int("occurred_at", inc.OccurredAt),
		slog.Int("events", len(inc.Events)))
}

// PayloadFromCommand converts the fields of a terminal's incident update
// into an event payload.
func PayloadFromCommand(cmd protocol.Command) EventPayload {
	var p EventPayload
	var hdr IncidentHeader
	haveHeader := false

	for _, f := range cmd.Fields {
		switch f.Code {
		case protocol.FieldDetails:
			p.Details = append(p.Details, Detail{Text: f.Value, Qualifier: f.Qualifier, Sensitive: f.Sensitive})
		case protocol.FieldBeat:
			hdr.Beat, haveHeader = f.Value, true
		case protocol.FieldLocation:
			hdr.FullLocation, hdr.TruncLocation, haveHeader = f.Value, f.Value, true
		case protocol.FieldPriority:
			hdr.Priority, haveHeader = f.Value, true
		case protocol.FieldType:
			hdr.Type, haveHeader = f.Value, true
		case protocol.FieldIncidentNumber:
			p.IncidentNumbers = append(p.IncidentNumbers, f.Value)
		case protocol.FieldHandlingUnit:
			p.HandlingUnits = append(p.HandlingUnits, f.Value)
		case protocol.FieldRoute:
			p.Routes = append(p.Routes, f.Value)
		case protocol.FieldTow:
			p.Tows = append(p.Tows, Tow{Company: f.Value})
		}
	}
	if cmd.Witness != nil {
		p.Witnesses = append(p.Witnesses, Witness{Name: cmd.Witness.Name, Address: cmd.Witness.Address,
			Phone: cmd.Witness.Phone})
	}
	if haveHeader {
		p.Header = &hdr
	}
	return p
}

// Empty reports whether the payload carries nothing.
func (p EventPayload) Empty() bool {
	return p.Header == nil && len(p.Details) == 0 && len(p.Units) == 0 && len(p.Witnesses) == 0 &&
		len(p.Tows) == 0 && len(p.Services) == 0 && p.Audio == nil && len(p.CCTV) == 0 &&
		len(p.ParamicsLocations) == 0 && len(p.HandlingUnits) == 0 && len(p.Routes) == 0 &&
		len(p.IncidentNumbers) == 0
}
