// client/terminal.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package client

import (
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/mmp/tmcsim/cmdline"
	"github.com/mmp/tmcsim/log"
	"github.com/mmp/tmcsim/protocol"
)

const terminalWriteTimeout = 5 * time.Second

// TerminalClient is a CAD terminal's connection to the coordinator.
// Messages from the coordinator are applied to the terminal's state and
// then made available from Updates.
type TerminalClient struct {
	Position int
	UserID   string

	conn    *protocol.Conn
	updates chan protocol.Message
	done    chan struct{}

	mu    sync.Mutex
	state TerminalState
	err   error

	lg *log.Logger
}

// DialTerminal connects to the coordinator's CAD port and registers at
// the given position.
func DialTerminal(addr string, position int, userID string, lg *log.Logger) (*TerminalClient, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, err
	}

	lg = lg.With(slog.Int("position", position))
	tc := &TerminalClient{
		Position: position,
		UserID:   userID,
		conn:     protocol.NewConn(conn, lg),
		updates:  make(chan protocol.Message, 64),
		done:     make(chan struct{}),
		state:    NewTerminalState(),
		lg:       lg,
	}

	if err := tc.conn.WriteMessage(protocol.NewRegister(position, userID), terminalWriteTimeout); err != nil {
		conn.Close()
		return nil, err
	}
	go tc.serve()
	return tc, nil
}

func (tc *TerminalClient) serve() {
	defer tc.lg.CatchAndReportCrash()
	defer close(tc.done)
	defer close(tc.updates)

	r := protocol.NewRouter(protocol.ToClient)
	for _, k := range []protocol.Kind{protocol.KindUpdateScreen, protocol.KindUpdateStatus, protocol.KindUpdateTime,
		protocol.KindUpdateMsgCount, protocol.KindUpdateMsgUnread, protocol.KindCADInfo} {
		r.Handle(k, tc.handle)
	}
	r.Handle(protocol.KindAppClose, func(m protocol.Message) error {
		tc.handle(m)
		return protocol.ErrSessionDone
	})

	err := protocol.Serve(tc.conn, r, tc.lg)

	tc.mu.Lock()
	tc.err = err
	tc.state.Closed = true
	tc.mu.Unlock()

	tc.conn.Close()
}

func (tc *TerminalClient) handle(m protocol.Message) error {
	tc.mu.Lock()
	err := tc.state.Apply(m)
	tc.mu.Unlock()

	if err != nil {
		return err
	}

	select {
	case tc.updates <- m:
	default:
		tc.lg.Warn("dropping terminal update; reader is behind", slog.Any("message", m))
	}
	return nil
}

// Updates returns the messages received from the coordinator; it is
// closed when the connection ends.
func (tc *TerminalClient) Updates() <-chan protocol.Message {
	return tc.updates
}

// Done is closed when the connection ends; Err then returns the reason,
// or nil if the coordinator closed the session.
func (tc *TerminalClient) Done() <-chan struct{} {
	return tc.done
}

func (tc *TerminalClient) Err() error {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return tc.err
}

func (tc *TerminalClient) State() TerminalState {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return tc.state
}

// Execute parses a command line and sends it to the coordinator. Syntax
// errors are reported locally and nothing is sent.
func (tc *TerminalClient) Execute(line string) error {
	cmd, err := cmdline.Parse(line)
	if err != nil {
		return err
	}
	tc.lg.Debug("sending command", slog.String("command", cmd.String()))
	return tc.conn.WriteMessage(protocol.NewCommandLine(cmd), terminalWriteTimeout)
}

// Key sends a function key press.
func (tc *TerminalClient) Key(kbd protocol.KeyboardType, code int) error {
	return tc.conn.WriteMessage(protocol.NewFunction(kbd, code), terminalWriteTimeout)
}

// SaveCommandLine stores the partially typed command line with the
// current screen.
func (tc *TerminalClient) SaveCommandLine(text string) error {
	return tc.conn.WriteMessage(protocol.NewSaveCommandLine(text), terminalWriteTimeout)
}

// Close signs off and closes the connection.
func (tc *TerminalClient) Close() error {
	if err := tc.conn.WriteMessage(protocol.NewAppClose(), terminalWriteTimeout); err != nil {
		tc.lg.Debug("sign-off failed", slog.Any("error", err))
	}
	select {
	case <-tc.done:
	case <-time.After(terminalWriteTimeout):
	}
	// serve closes the connection when the coordinator acknowledges.
	if err := tc.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}
