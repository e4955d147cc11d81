// server/screens.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package server

import (
	"slices"
	"strconv"
	"strings"

	"github.com/mmp/tmcsim/protocol"
	"github.com/mmp/tmcsim/sim"
	"github.com/mmp/tmcsim/util"
)

// CAD_INFO texts sent to terminals.
const (
	infoUnauthorized   = "0002: Unauthorized Command"
	infoNeedLogNumber  = "0744: Must provide log # when no log is on display"
	infoInvalidLog     = "0753: Invalid Log Number"
	infoRoutedMessageF = "0146: Routed message to %s."
)

// screen records what one terminal screen is showing; its content is
// rendered from the terminal's view of the simulation whenever it is
// sent.
type screen struct {
	kind protocol.ScreenKind
	// logNumber is the incident shown by an inquiry screen.
	logNumber   int
	commandLine string
}

type queuedMessage struct {
	msg  sim.RoutedMessage
	read bool
}

// screenManager holds the display state of a CAD terminal: its four
// screens, which one is current, which have updates the operator hasn't
// seen, and the queue of messages routed to the terminal.
type screenManager struct {
	screens [protocol.NumScreens]screen
	// current is the index of the current screen; screens are numbered
	// from 1 on the wire.
	current int
	flags   protocol.StatusFlags

	queue []queuedMessage
	// queueIndex is the message shown by the last queue navigation.
	queueIndex int
}

func newScreenManager() *screenManager {
	sm := &screenManager{}
	sm.clear()
	return sm
}

// clear blanks all screens and empties the message queue.
func (sm *screenManager) clear() {
	for i := range sm.screens {
		sm.screens[i] = screen{kind: protocol.ScreenBlank}
	}
	sm.current = 0
	sm.flags = protocol.StatusFlags{}
	sm.queue = nil
	sm.queueIndex = 0
}

func (sm *screenManager) currentScreen() *screen {
	return &sm.screens[sm.current]
}

// show replaces the content of the current screen; the operator is
// looking at it, so its update flag is cleared.
func (sm *screenManager) show(kind protocol.ScreenKind, logNumber int) {
	s := sm.currentScreen()
	s.kind, s.logNumber = kind, logNumber
	sm.flags[sm.current] = false
}

func (sm *screenManager) cycle() {
	sm.current = (sm.current + 1) % protocol.NumScreens
	sm.flags[sm.current] = false
}

// inquiryLog returns the incident shown on the current screen, or 0.
func (sm *screenManager) inquiryLog() int {
	if s := sm.currentScreen(); s.kind == protocol.ScreenIncidentInquiry {
		return s.logNumber
	}
	return 0
}

// markUpdated flags the screens whose content depends on the given
// incident, other than the current one, and returns the indices of all
// of the affected screens.
func (sm *screenManager) markUpdated(logNumber int) []int {
	var affected []int
	for i, s := range sm.screens {
		switch s.kind {
		case protocol.ScreenIncidentBoard, protocol.ScreenIncidentSummary:
		case protocol.ScreenIncidentInquiry:
			if s.logNumber != logNumber {
				continue
			}
		default:
			continue
		}
		affected = append(affected, i)
		if i != sm.current {
			sm.flags[i] = true
		}
	}
	return affected
}

///////////////////////////////////////////////////////////////////////////
// Routed message queue

func (sm *screenManager) enqueue(m sim.RoutedMessage) {
	sm.queue = append(sm.queue, queuedMessage{msg: m})
}

func (sm *screenManager) unread() bool {
	return slices.ContainsFunc(sm.queue, func(q queuedMessage) bool { return !q.read })
}

// step moves through the queue by delta messages, wrapping at the ends,
// and shows the message it lands on. It returns false if the queue is
// empty.
func (sm *screenManager) step(delta int) bool {
	if len(sm.queue) == 0 {
		return false
	}
	if sm.currentScreen().kind == protocol.ScreenRoutedMessage {
		sm.queueIndex = (sm.queueIndex + delta + len(sm.queue)) % len(sm.queue)
	} else if delta < 0 {
		sm.queueIndex = len(sm.queue) - 1
	} else {
		// The first look at the queue starts with the oldest unread
		// message.
		sm.queueIndex = max(0, slices.IndexFunc(sm.queue, func(q queuedMessage) bool { return !q.read }))
	}
	sm.queue[sm.queueIndex].read = true
	sm.show(protocol.ScreenRoutedMessage, 0)
	return true
}

// deleteShown removes the message on the current screen from the queue
// and shows the next one, or blanks the screen if the queue is empty.
// It returns false if no message was being shown.
func (sm *screenManager) deleteShown() bool {
	if sm.currentScreen().kind != protocol.ScreenRoutedMessage || len(sm.queue) == 0 {
		return false
	}
	sm.queue = slices.Delete(sm.queue, sm.queueIndex, sm.queueIndex+1)
	if len(sm.queue) == 0 {
		sm.queueIndex = 0
		sm.show(protocol.ScreenBlank, 0)
		return true
	}
	sm.queueIndex %= len(sm.queue)
	sm.queue[sm.queueIndex].read = true
	return true
}

///////////////////////////////////////////////////////////////////////////
// Rendering

// render builds the model of screen i from the terminal's view of the
// simulation. An inquiry on an incident that is no longer visible
// renders blank.
func (sm *screenManager) render(i int, view *sim.Snapshot) protocol.ScreenModel {
	s := sm.screens[i]
	m := protocol.ScreenModel{Screen: i + 1, Kind: protocol.ScreenBlank, CommandLine: s.commandLine}

	switch s.kind {
	case protocol.ScreenIncidentBoard:
		m.Kind, m.Board = s.kind, renderBoard(view)
	case protocol.ScreenIncidentSummary:
		m.Kind, m.Summary = s.kind, renderSummary(view)
	case protocol.ScreenIncidentInquiry:
		if inc := findOccurred(view, s.logNumber); inc != nil {
			m.Kind, m.Inquiry = s.kind, renderInquiry(inc)
		}
	case protocol.ScreenRoutedMessage:
		if sm.queueIndex < len(sm.queue) {
			q := sm.queue[sm.queueIndex].msg
			m.Kind = s.kind
			m.Routed = &protocol.RoutedMessage{
				Index: sm.queueIndex + 1,
				Total: len(sm.queue),
				From:  q.From,
				Time:  util.FormatSimTime(q.Time),
				Text:  q.Text,
			}
		}
	}
	return m
}

// occurred returns the incidents a terminal can see, in the order in
// which they occurred.
func occurred(view *sim.Snapshot) []*sim.Incident {
	var incs []*sim.Incident
	for i := range view.Incidents {
		if view.Incidents[i].Occurred {
			incs = append(incs, &view.Incidents[i])
		}
	}
	slices.SortStableFunc(incs, func(a, b *sim.Incident) int {
		if a.OccurredAt != b.OccurredAt {
			return a.OccurredAt - b.OccurredAt
		}
		return a.LogNumber - b.LogNumber
	})
	return incs
}

func findOccurred(view *sim.Snapshot, logNumber int) *sim.Incident {
	for i := range view.Incidents {
		if inc := &view.Incidents[i]; inc.LogNumber == logNumber && inc.Occurred {
			return inc
		}
	}
	return nil
}

func location(h sim.IncidentHeader) string {
	return util.Select(h.TruncLocation != "", h.TruncLocation, h.FullLocation)
}

// activeUnits returns the units assigned to an incident as of its
// fired events; later reports for a unit replace earlier ones.
func activeUnits(inc *sim.Incident) []sim.Unit {
	var units []sim.Unit
	for _, e := range inc.FiredEvents() {
		for _, u := range e.Payload.Units {
			if i := slices.IndexFunc(units, func(v sim.Unit) bool { return v.UnitNumber == u.UnitNumber }); i >= 0 {
				units[i] = u
			} else {
				units = append(units, u)
			}
		}
	}
	return slices.DeleteFunc(units, func(u sim.Unit) bool { return !u.Active })
}

func renderBoard(view *sim.Snapshot) *protocol.IncidentBoard {
	b := &protocol.IncidentBoard{}
	for _, inc := range occurred(view) {
		b.Entries = append(b.Entries, protocol.BoardEntry{
			LogNumber: inc.LogNumber,
			Time:      util.FormatSimTime(inc.OccurredAt),
			Type:      inc.Header.Type,
			Location:  location(inc.Header),
			Beat:      inc.Header.Beat,
			Priority:  inc.Header.Priority,
			Units:     len(activeUnits(inc)),
		})
	}
	return b
}

func renderSummary(view *sim.Snapshot) *protocol.IncidentSummary {
	s := &protocol.IncidentSummary{}
	for _, inc := range occurred(view) {
		n := 0
		for _, e := range inc.FiredEvents() {
			n += len(e.Payload.Details)
		}
		s.Entries = append(s.Entries, protocol.SummaryEntry{
			LogNumber: inc.LogNumber,
			Time:      util.FormatSimTime(inc.OccurredAt),
			Type:      inc.Header.Type,
			Location:  location(inc.Header),
			Details:   n,
		})
	}
	return s
}

func renderInquiry(inc *sim.Incident) *protocol.IncidentInquiry {
	q := &protocol.IncidentInquiry{
		LogNumber:   inc.LogNumber,
		Description: util.Select(inc.Header.Description != "", inc.Header.Description, inc.Description),
		Status:      inc.Header.LogStatus,
		Type:        inc.Header.Type,
		Location:    util.Select(inc.Header.FullLocation != "", inc.Header.FullLocation, inc.Header.TruncLocation),
		Beat:        inc.Header.Beat,
		Priority:    inc.Header.Priority,
		Started:     util.FormatSimTime(inc.OccurredAt),
	}
	for _, u := range activeUnits(inc) {
		q.Units = append(q.Units, strings.TrimSpace(u.UnitNumber+" "+u.Status))
	}

	for _, e := range inc.FiredEvents() {
		t := util.FormatSimTime(e.OccurredAt)
		line := func(text string, sensitive bool) {
			q.Lines = append(q.Lines, protocol.InquiryLine{Time: t, Text: text, Sensitive: sensitive})
		}

		for _, d := range e.Payload.Details {
			line(d.Text, d.Sensitive)
		}
		for _, w := range e.Payload.Witnesses {
			line(joinNonEmpty("WITNESS", w.Name, w.Address, w.Phone), false)
		}
		for _, tw := range e.Payload.Tows {
			line(joinNonEmpty("TOW", tw.Company, tw.Beat, tw.ConfirmationNumber), false)
		}
		for _, s := range e.Payload.Services {
			line(joinNonEmpty("SERVICE", s.Name, s.ConfirmationNumber), false)
		}
		for _, n := range e.Payload.IncidentNumbers {
			line("INCIDENT #"+n, false)
		}
		for _, hu := range e.Payload.HandlingUnits {
			line("HANDLING UNIT "+hu, false)
		}
		for _, r := range e.Payload.Routes {
			line("ROUTE "+r, false)
		}
	}
	return q
}

func joinNonEmpty(label string, fields ...string) string {
	s := []string{label + ":"}
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			s = append(s, f)
		}
	}
	return strings.Join(s, " ")
}

func joinPositions(p []int) string {
	return strings.Join(util.MapSlice(p, strconv.Itoa), ",")
}
