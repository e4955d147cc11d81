package server

import (
	"errors"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/mmp/tmcsim/log"
	"github.com/mmp/tmcsim/sim"
	"github.com/mmp/tmcsim/util"
)

const testScript = `<?xml version="1.0" encoding="UTF-8"?>
<TMC_SCRIPT>
  <SCRIPT_EVENT>
    <TIME_INDEX>00:00:05</TIME_INDEX>
    <INCIDENT LogNum="100">Overturned vehicle</INCIDENT>
    <CAD_DATA>
      <HEADER_INFO>
        <Type>1183</Type>
        <FullLoc>I5 N AT LA PALMA AVE</FullLoc>
        <TruncLoc>I5 N/LA PALMA</TruncLoc>
      </HEADER_INFO>
      <CAD_INCIDENT_EVENT>
        <DETAIL>VEH ON ITS ROOF</DETAIL>
      </CAD_INCIDENT_EVENT>
    </CAD_DATA>
  </SCRIPT_EVENT>
  <SCRIPT_EVENT>
    <TIME_INDEX>00:10:00</TIME_INDEX>
    <INCIDENT LogNum="200">Debris in lanes</INCIDENT>
    <CAD_DATA>
      <CAD_INCIDENT_EVENT>
        <DETAIL>LADDER</DETAIL>
      </CAD_INCIDENT_EVENT>
    </CAD_DATA>
  </SCRIPT_EVENT>
</TMC_SCRIPT>
`

func makeTestSessionManager(t *testing.T, mailbox int) *SessionManager {
	t.Helper()

	lg := log.NewTest("warn")
	coord := sim.NewCoordinator(sim.CoordinatorOptions{ManualClock: true, DeliveryTimeout: time.Second}, lg)
	sm := NewSessionManager(coord, mailbox, lg)
	t.Cleanup(func() {
		sm.Close()
		coord.Close()
	})

	if err := coord.LoadScript(strings.NewReader(testScript), "test.xml"); err != nil {
		t.Fatalf("LoadScript: %v", err)
	}
	return sm
}

// waitFor polls f until it returns true or the deadline passes.
func waitFor(t *testing.T, what string, f func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !f() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestManagerUpdates(t *testing.T) {
	sm := makeTestSessionManager(t, 100)

	token, snap := sm.RegisterManager("instructor")
	if token == "" {
		t.Fatal("empty token")
	}
	if snap.Status != sim.Ready || len(snap.Incidents) != 2 {
		t.Errorf("snapshot: status %s, %d incidents", snap.Status, len(snap.Incidents))
	}
	if ids := sm.coord.Subscribers(sim.RoleManager); len(ids) != 1 {
		t.Errorf("manager subscribers %v", ids)
	}

	if err := sm.coord.GotoSimulationTime(10); err != nil {
		t.Fatalf("GotoSimulationTime: %v", err)
	}

	// Managers see everything, including the incident starting.
	var events []sim.Event
	waitFor(t, "updates", func() bool {
		ev, err := sm.GetUpdates(token)
		if err != nil {
			t.Fatalf("GetUpdates: %v", err)
		}
		events = append(events, ev...)
		return len(events) > 0 && events[len(events)-1].Type == sim.TickEvent
	})
	types := make([]sim.EventType, len(events))
	for i, e := range events {
		types[i] = e.Type
	}
	if !slices.Contains(types, sim.IncidentStartedEvent) || !slices.Contains(types, sim.ScriptStatusEvent) {
		t.Errorf("unexpected events %v", types)
	}

	if ev, err := sm.GetUpdates(token); err != nil || len(ev) != 0 {
		t.Errorf("second GetUpdates returned %d events, %v", len(ev), err)
	}

	sm.UnregisterManager(token)
	if _, err := sm.GetUpdates(token); !errors.Is(err, ErrInvalidManagerToken) {
		t.Errorf("expected ErrInvalidManagerToken after unregistering, got %v", err)
	}
	if ids := sm.coord.Subscribers(sim.RoleManager); len(ids) != 0 {
		t.Errorf("manager still subscribed: %v", ids)
	}

	// Unknown tokens are ignored.
	sm.UnregisterManager("no-such-token")
}

func TestManagerMailboxOverflow(t *testing.T) {
	sm := makeTestSessionManager(t, 2)

	token, _ := sm.RegisterManager("absent")
	for i := range 5 {
		if err := sm.coord.GotoSimulationTime(i + 1); err != nil {
			t.Fatalf("GotoSimulationTime: %v", err)
		}
	}

	waitFor(t, "the manager to be dropped", func() bool {
		_, err := sm.GetUpdates(token)
		return errors.Is(err, ErrInvalidManagerToken)
	})
	if ids := sm.coord.Subscribers(sim.RoleManager); len(ids) != 0 {
		t.Errorf("dropped manager still subscribed: %v", ids)
	}
}

func TestCullIdleManagers(t *testing.T) {
	sm := makeTestSessionManager(t, 100)

	idle, _ := sm.RegisterManager("idle")
	active, _ := sm.RegisterManager("active")

	sm.mu.Lock(sm.lg)
	ms := sm.managersByToken[idle]
	sm.mu.Unlock(sm.lg)
	ms.mu.Lock()
	ms.lastUpdateCall = time.Now().Add(-2 * managerIdleTimeout)
	ms.mu.Unlock()

	sm.CullIdleManagers()

	if _, err := sm.GetUpdates(idle); !errors.Is(err, ErrInvalidManagerToken) {
		t.Errorf("idle manager not culled: %v", err)
	}
	if _, err := sm.GetUpdates(active); err != nil {
		t.Errorf("active manager culled: %v", err)
	}
	if status := sm.getManagerStatus(); len(status) != 1 || status[0].Name != "active" {
		t.Errorf("manager status %+v", status)
	}
}

func TestRecentControl(t *testing.T) {
	sm := makeTestSessionManager(t, 100)

	for i := range 60 {
		sm.record("op", util.Select(i%2 == 0, error(nil), sim.ErrNoScriptLoaded))
	}
	r := sm.recentControl()
	if len(r) != 50 {
		t.Fatalf("%d records, want 50", len(r))
	}
	if r[0].Error != "" || r[1].Error == "" {
		t.Errorf("unexpected records %+v %+v", r[0], r[1])
	}
}
