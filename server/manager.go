// server/manager.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package server

import (
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/mmp/tmcsim/log"
	"github.com/mmp/tmcsim/protocol"
	"github.com/mmp/tmcsim/sim"
	"github.com/mmp/tmcsim/util"

	"github.com/google/uuid"
)

const (
	managerIdleWarning = 5 * time.Second
	managerIdleTimeout = 15 * time.Second
)

// SessionManager tracks the parties connected to the coordinator:
// simulation managers, identified by the token they are given when they
// register, and CAD terminals, identified by their position.
type SessionManager struct {
	coord *sim.Coordinator

	managersByToken     map[string]*managerSession
	terminalsByPosition map[int]*terminalSession
	mailboxSize         int
	startTime           time.Time
	// recent holds the most recent control operations for the status
	// page.
	recent *util.RingBuffer[controlRecord]

	mu util.LoggingMutex
	lg *log.Logger
}

type controlRecord struct {
	Time    time.Time
	SimTime int
	Op      string
	Error   string
}

func NewSessionManager(coord *sim.Coordinator, mailboxSize int, lg *log.Logger) *SessionManager {
	if mailboxSize <= 0 {
		mailboxSize = sim.DefaultMaxBacklog
	}
	sm := &SessionManager{
		coord:               coord,
		managersByToken:     make(map[string]*managerSession),
		terminalsByPosition: make(map[int]*terminalSession),
		mailboxSize:         mailboxSize,
		startTime:           time.Now(),
		recent:              util.NewRingBuffer[controlRecord](50),
		lg:                  lg,
	}
	coord.SetDropHandler(sm.handleDrop)
	return sm
}

// handleDrop forgets sessions that the coordinator dropped after a
// delivery failure.
func (sm *SessionManager) handleDrop(sub sim.Subscriber, err error) {
	switch s := sub.(type) {
	case *managerSession:
		sm.mu.Lock(sm.lg)
		if sm.managersByToken[s.token] == s {
			delete(sm.managersByToken, s.token)
		}
		sm.mu.Unlock(sm.lg)
		sm.lg.Warn("dropped simulation manager", slog.String("name", s.name), slog.Any("error", err))

	case *terminalSession:
		sm.removeTerminal(s)
		s.close()
		sm.lg.Warn("dropped terminal", slog.Any("terminal", s), slog.Any("error", err))
	}
}

// record notes a control operation for the status page.
func (sm *SessionManager) record(op string, err error) {
	r := controlRecord{Time: time.Now(), SimTime: sm.coord.Time(), Op: op}
	if err != nil {
		r.Error = err.Error()
	}

	sm.mu.Lock(sm.lg)
	defer sm.mu.Unlock(sm.lg)
	sm.recent.Add(r)
}

func (sm *SessionManager) recentControl() []controlRecord {
	sm.mu.Lock(sm.lg)
	defer sm.mu.Unlock(sm.lg)

	var r []controlRecord
	for i := range sm.recent.Size() {
		r = append(r, sm.recent.Get(i))
	}
	return r
}

///////////////////////////////////////////////////////////////////////////
// Simulation managers

// RegisterManager adds a simulation manager. It returns the token that
// identifies the manager in later calls and the current state; the
// manager's mailbox collects every event after it.
func (sm *SessionManager) RegisterManager(name string) (string, sim.Snapshot) {
	token := uuid.NewString()
	ms := newManagerSession(token, name, sm.mailboxSize, sm.lg)

	sm.mu.Lock(sm.lg)
	sm.managersByToken[token] = ms
	sm.mu.Unlock(sm.lg)

	snap := sm.coord.RegisterForCallback(ms)
	ms.lg.Info("simulation manager registered", slog.Int("sim_time", snap.Time))
	return token, snap
}

// GetUpdates returns the events queued for a manager since its last
// call.
func (sm *SessionManager) GetUpdates(token string) ([]sim.Event, error) {
	sm.mu.Lock(sm.lg)
	ms, ok := sm.managersByToken[token]
	sm.mu.Unlock(sm.lg)

	if !ok {
		return nil, ErrInvalidManagerToken
	}
	return ms.takeUpdates(), nil
}

// UnregisterManager removes a manager; unknown tokens are ignored.
func (sm *SessionManager) UnregisterManager(token string) {
	sm.mu.Lock(sm.lg)
	ms, ok := sm.managersByToken[token]
	delete(sm.managersByToken, token)
	sm.mu.Unlock(sm.lg)

	if ok {
		sm.coord.UnregisterForCallback(ms.ID())
		ms.lg.Info("simulation manager unregistered")
	}
}

// CullIdleManagers unregisters managers that haven't polled for updates
// recently so that their mailboxes don't grow without bound.
func (sm *SessionManager) CullIdleManagers() {
	sm.mu.Lock(sm.lg)
	var tokens []string
	for token, ms := range sm.managersByToken {
		if ms.idle(managerIdleWarning) > managerIdleTimeout {
			ms.lg.Warn("unregistering idle simulation manager")
			tokens = append(tokens, token)
		}
	}
	sm.mu.Unlock(sm.lg)

	// Unregister without holding sm.mu; the registry may be calling
	// handleDrop concurrently.
	for _, token := range tokens {
		sm.UnregisterManager(token)
	}
}

///////////////////////////////////////////////////////////////////////////
// Terminals

// ServeTerminal runs a CAD terminal session on conn until the terminal
// disconnects or signs off.
func (sm *SessionManager) ServeTerminal(conn net.Conn) {
	defer sm.lg.CatchAndReportCrash()

	lg := sm.lg.With(slog.String("terminal_address", conn.RemoteAddr().String()))
	t := newTerminalSession(protocol.NewConn(conn, lg), sm, lg)

	err := t.serve()
	if err != nil && !protocol.IsTransportError(err) {
		t.lg.Warn("terminal session ended", slog.Any("error", err))
	} else {
		t.lg.Info("terminal disconnected", slog.Any("error", err))
	}

	sm.coord.UnregisterForCallback(t.ID())
	sm.removeTerminal(t)
	t.close()
}

// addTerminal registers a terminal for updates. A terminal that signs on
// at a position that is in use replaces the earlier one.
func (sm *SessionManager) addTerminal(t *terminalSession) {
	sm.mu.Lock(sm.lg)
	old := sm.terminalsByPosition[t.position]
	sm.terminalsByPosition[t.position] = t
	sm.mu.Unlock(sm.lg)

	if old != nil {
		sm.lg.Warn("replacing terminal", slog.Int("position", t.position), slog.Any("previous", old))
		sm.coord.UnregisterForCallback(old.ID())
		old.close()
	}

	sm.coord.RegisterForCallback(t)
	t.lg.Info("terminal registered")
}

func (sm *SessionManager) removeTerminal(t *terminalSession) {
	sm.mu.Lock(sm.lg)
	defer sm.mu.Unlock(sm.lg)

	if sm.terminalsByPosition[t.position] == t {
		delete(sm.terminalsByPosition, t.position)
	}
}

// Positions returns the positions of the connected terminals.
func (sm *SessionManager) Positions() []int {
	sm.mu.Lock(sm.lg)
	defer sm.mu.Unlock(sm.lg)
	return util.SortedMapKeys(sm.terminalsByPosition)
}

// Close disconnects all terminals.
func (sm *SessionManager) Close() {
	sm.mu.Lock(sm.lg)
	var terminals []*terminalSession
	for _, t := range sm.terminalsByPosition {
		terminals = append(terminals, t)
	}
	sm.mu.Unlock(sm.lg)

	for _, t := range terminals {
		t.close()
	}
}

///////////////////////////////////////////////////////////////////////////
// Status

type managerStatus struct {
	Name     string
	Token    string
	IdleTime time.Duration
	Pending  int
}

type terminalStatus struct {
	Position int
	User     string
	Screens  string
}

func (sm *SessionManager) getManagerStatus() []managerStatus {
	sm.mu.Lock(sm.lg)
	defer sm.mu.Unlock(sm.lg)

	var status []managerStatus
	for _, token := range util.SortedMapKeys(sm.managersByToken) {
		ms := sm.managersByToken[token]
		ms.mu.Lock()
		status = append(status, managerStatus{
			Name:     ms.name,
			Token:    token[:8],
			IdleTime: time.Since(ms.lastUpdateCall).Round(time.Second),
			Pending:  len(ms.mailbox),
		})
		ms.mu.Unlock()
	}
	return status
}

func (sm *SessionManager) getTerminalStatus() []terminalStatus {
	sm.mu.Lock(sm.lg)
	var terminals []*terminalSession
	for _, pos := range util.SortedMapKeys(sm.terminalsByPosition) {
		terminals = append(terminals, sm.terminalsByPosition[pos])
	}
	sm.mu.Unlock(sm.lg)

	var status []terminalStatus
	for _, t := range terminals {
		t.mu.Lock()
		var screens []string
		for i, s := range t.screens.screens {
			screens = append(screens, fmt.Sprintf("%d:%s", i+1, s.kind))
		}
		status = append(status, terminalStatus{
			Position: t.position,
			User:     t.userID,
			Screens:  strings.Join(screens, " "),
		})
		t.mu.Unlock()
	}
	return status
}
