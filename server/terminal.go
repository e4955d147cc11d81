// server/terminal.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mmp/tmcsim/log"
	"github.com/mmp/tmcsim/protocol"
	"github.com/mmp/tmcsim/sim"
	"github.com/mmp/tmcsim/util"

	"github.com/brunoga/deep"
	"github.com/google/uuid"
)

// terminalWriteTimeout bounds replies to terminal requests; event
// deliveries use the registry's deadline instead.
const terminalWriteTimeout = 5 * time.Second

// terminalSession is the coordinator's side of a connected CAD terminal.
// It keeps its own view of the simulation, built from the snapshot and
// events delivered to it, and renders the terminal's screens from it.
type terminalSession struct {
	id       string
	position int
	userID   string
	conn     *protocol.Conn
	sm       *SessionManager

	// mu serializes request handling with event delivery, so that the
	// messages sent to the terminal reflect one consistent view.
	mu      sync.Mutex
	view    sim.Snapshot
	screens *screenManager
	closed  bool

	lg *log.Logger
}

var _ sim.Subscriber = (*terminalSession)(nil)

func newTerminalSession(conn *protocol.Conn, sm *SessionManager, lg *log.Logger) *terminalSession {
	return &terminalSession{
		id:      "terminal-" + uuid.NewString(),
		conn:    conn,
		sm:      sm,
		screens: newScreenManager(),
		lg:      lg,
	}
}

func (t *terminalSession) ID() string    { return t.id }
func (t *terminalSession) Role() sim.Role { return sim.RoleTerminal }

// serve handles the terminal's messages until it disconnects or signs
// off.
func (t *terminalSession) serve() error {
	r := protocol.NewRouter(protocol.ToCoordinator)
	r.Handle(protocol.KindTerminalRegister, t.handleRegister)
	r.Handle(protocol.KindTerminalCmdLine, t.registered(t.handleCommand))
	r.Handle(protocol.KindTerminalFunction, t.registered(t.handleFunction))
	r.Handle(protocol.KindSaveCommandLine, t.registered(t.handleSaveCommandLine))
	r.Handle(protocol.KindAppClose, func(protocol.Message) error {
		if err := t.reply(protocol.NewAppClose()); err != nil {
			return err
		}
		return protocol.ErrSessionDone
	})

	return protocol.Serve(t.conn, r, t.lg)
}

func (t *terminalSession) registered(h protocol.Handler) protocol.Handler {
	return func(m protocol.Message) error {
		t.mu.Lock()
		pos := t.position
		t.mu.Unlock()

		if pos == 0 {
			return fmt.Errorf("%s: %w", m.Kind, ErrNotRegistered)
		}
		return h(m)
	}
}

func (t *terminalSession) handleRegister(m protocol.Message) error {
	if m.Register == nil || m.Register.Position <= 0 {
		return ErrInvalidPosition
	}

	t.mu.Lock()
	if t.position != 0 {
		t.mu.Unlock()
		return fmt.Errorf("position %d: already registered", t.position)
	}
	t.position, t.userID = m.Register.Position, m.Register.UserID
	t.lg = t.lg.With(slog.Int("position", t.position), slog.String("user", t.userID))
	t.mu.Unlock()

	t.sm.addTerminal(t)
	return nil
}

// send must be called with t.mu held.
func (t *terminalSession) send(timeout time.Duration, msgs ...protocol.Message) error {
	for _, m := range msgs {
		if err := t.conn.WriteMessage(m, timeout); err != nil {
			return err
		}
	}
	return nil
}

// reply sends responses to a request and logs rather than returns
// protocol errors, which leave the connection usable.
func (t *terminalSession) reply(msgs ...protocol.Message) error {
	err := t.send(terminalWriteTimeout, msgs...)
	if err != nil && !protocol.IsTransportError(err) {
		t.lg.Warn("reply failed", slog.Any("error", err))
		return nil
	}
	return err
}

func (t *terminalSession) info(text string) error {
	return t.reply(protocol.NewCADInfo(text))
}

func (t *terminalSession) screenUpdate(i int) protocol.Message {
	return protocol.NewUpdateScreen(t.screens.render(i, &t.view))
}

func (t *terminalSession) showCurrent() error {
	return t.reply(t.screenUpdate(t.screens.current), protocol.NewUpdateStatus(t.screens.flags))
}

func (t *terminalSession) queueStatus() []protocol.Message {
	return []protocol.Message{protocol.NewMsgCount(len(t.screens.queue)), protocol.NewMsgUnread(t.screens.unread())}
}

// refreshAll resends the terminal's complete display.
func (t *terminalSession) refreshAll(timeout time.Duration) error {
	var msgs []protocol.Message
	for i := range protocol.NumScreens {
		msgs = append(msgs, t.screenUpdate(i))
	}
	msgs = append(msgs, protocol.NewUpdateStatus(t.screens.flags), protocol.NewUpdateTime(util.FormatSimTime(t.view.Time)))
	msgs = append(msgs, t.queueStatus()...)
	return t.send(timeout, msgs...)
}

///////////////////////////////////////////////////////////////////////////
// Requests

func (t *terminalSession) handleCommand(m protocol.Message) error {
	if m.Command == nil {
		return protocol.ErrMalformedMessage
	}
	cmd := *m.Command

	t.mu.Lock()
	defer t.mu.Unlock()

	t.lg.Info("terminal command", slog.String("command", cmd.String()), slog.Int("sim_time", t.view.Time))

	switch cmd.Type {
	case protocol.CommandIncidentBoard:
		t.screens.show(protocol.ScreenIncidentBoard, 0)
		return t.showCurrent()

	case protocol.CommandIncidentSummary:
		t.screens.show(protocol.ScreenIncidentSummary, 0)
		return t.showCurrent()

	case protocol.CommandIncidentInquiry:
		if findOccurred(&t.view, cmd.LogNumber) == nil {
			return t.info(infoInvalidLog)
		}
		t.screens.show(protocol.ScreenIncidentInquiry, cmd.LogNumber)
		return t.showCurrent()

	case protocol.CommandIncidentUpdate:
		logNumber := cmd.LogNumber
		if logNumber == 0 {
			if logNumber = t.screens.inquiryLog(); logNumber == 0 {
				return t.info(infoNeedLogNumber)
			}
		}
		if sim.PayloadFromCommand(cmd).Empty() {
			return t.info(infoUnauthorized)
		}
		// The terminal's screens are updated when the resulting
		// incident update is delivered.
		if _, err := t.sm.coord.CommandLineUpdate(t.position, cmd, logNumber); errors.Is(err, sim.ErrUnknownIncident) {
			return t.info(infoInvalidLog)
		} else if err != nil {
			t.lg.Warn("incident update failed", slog.String("command", cmd.String()), slog.Any("error", err))
			return t.info(infoUnauthorized)
		}
		return nil

	case protocol.CommandRoutedMessage:
		dests, err := cmd.DestinationPositions()
		if err != nil || len(dests) == 0 {
			return t.info(infoUnauthorized)
		}
		msg := sim.RoutedMessage{
			From:         t.position,
			Destinations: dests,
			Text:         cmd.Message,
			LogNumber:    t.screens.inquiryLog(),
		}
		if err := t.sm.coord.RouteMessage(msg); err != nil {
			t.lg.Warn("routed message failed", slog.String("command", cmd.String()), slog.Any("error", err))
			return t.info(infoUnauthorized)
		}
		return t.info(fmt.Sprintf(infoRoutedMessageF, joinPositions(dests)))

	case protocol.CommandTerminalOff:
		t.screens.clear()
		return t.refreshAll(terminalWriteTimeout)

	case protocol.CommandAppClose:
		if err := t.reply(protocol.NewAppClose()); err != nil {
			return err
		}
		return protocol.ErrSessionDone

	default:
		return t.info(infoUnauthorized)
	}
}

func (t *terminalSession) handleFunction(m protocol.Message) error {
	if m.Function == nil {
		return protocol.ErrMalformedMessage
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	switch action := m.Function.Action(); action {
	case protocol.KeyCycleScreen:
		t.screens.cycle()
		return t.showCurrent()

	case protocol.KeyRefresh:
		return t.showCurrent()

	case protocol.KeyNextQueue, protocol.KeyPrevQueue:
		if !t.screens.step(util.Select(action == protocol.KeyNextQueue, 1, -1)) {
			return nil
		}
		return t.reply(append([]protocol.Message{t.screenUpdate(t.screens.current)}, t.queueStatus()...)...)

	case protocol.KeyDeleteQueue:
		if !t.screens.deleteShown() {
			return nil
		}
		return t.reply(append([]protocol.Message{t.screenUpdate(t.screens.current)}, t.queueStatus()...)...)

	case protocol.KeyScreenClear:
		t.screens.show(protocol.ScreenBlank, 0)
		return t.showCurrent()

	case protocol.KeyCommandLineClear:
		t.screens.currentScreen().commandLine = ""
		return nil

	default:
		// Transmit is handled by the terminal itself.
		t.lg.Debug("ignoring function key", slog.String("action", action.String()),
			slog.Int("key_code", m.Function.KeyCode))
		return nil
	}
}

func (t *terminalSession) handleSaveCommandLine(m protocol.Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.screens.currentScreen().commandLine = m.Text
	return nil
}

///////////////////////////////////////////////////////////////////////////
// sim.Subscriber

func sendTimeout(ctx context.Context) time.Duration {
	if d, ok := ctx.Deadline(); ok {
		return max(time.Millisecond, time.Until(d))
	}
	return terminalWriteTimeout
}

func (t *terminalSession) Snapshot(ctx context.Context, s sim.Snapshot) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ErrServerDisconnected
	}
	t.view = s
	return t.refreshAll(sendTimeout(ctx))
}

func (t *terminalSession) Deliver(ctx context.Context, e sim.Event) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ErrServerDisconnected
	}
	timeout := sendTimeout(ctx)

	switch e.Type {
	case sim.ResetEvent:
		t.view.Apply(e)
		// The incidents that remain are resent after the reset.
		t.view.Incidents = nil
		t.screens.clear()
		return t.refreshAll(timeout)

	case sim.TickEvent:
		t.view.Apply(e)
		return t.send(timeout, protocol.NewUpdateTime(util.FormatSimTime(e.Time)))

	case sim.IncidentUpdatedEvent, sim.IncidentDeletedEvent:
		t.view.Apply(e)
		var msgs []protocol.Message
		for _, i := range t.screens.markUpdated(e.LogNumber) {
			msgs = append(msgs, t.screenUpdate(i))
		}
		if len(msgs) == 0 {
			return nil
		}
		return t.send(timeout, append(msgs, protocol.NewUpdateStatus(t.screens.flags))...)

	case sim.RoutedMessageEvent:
		t.view.Apply(e)
		if e.Message == nil || !e.Message.For(t.position) {
			return nil
		}
		t.screens.enqueue(*deep.MustCopy(e.Message))
		return t.send(timeout, t.queueStatus()...)

	default:
		t.view.Apply(e)
		return nil
	}
}

// close marks the session closed and closes its connection; later
// deliveries fail, which drops the subscriber if it is still registered.
func (t *terminalSession) close() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.closed {
		t.closed = true
		t.conn.Close()
	}
}

// implements slog.LogValuer
func (t *terminalSession) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("id", t.id),
		slog.Int("position", t.position),
		slog.String("user", t.userID))
}
