package sim

import (
	"context"
	"errors"
	"reflect"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mmp/tmcsim/log"
	"github.com/mmp/tmcsim/protocol"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func makeTestCoordinator(t *testing.T, opts CoordinatorOptions) *Coordinator {
	t.Helper()
	opts.ManualClock = true
	c := NewCoordinator(opts, log.NewTest("warn"))
	t.Cleanup(c.Close)
	return c
}

func loadTestScript(t *testing.T, c *Coordinator) {
	t.Helper()
	if err := c.LoadScript(strings.NewReader(testScript), "test.xml"); err != nil {
		t.Fatalf("LoadScript: %v", err)
	}
}

func tickTo(c *Coordinator, clock int) {
	for c.Time() < clock {
		c.Tick()
	}
}

func TestCoordinatorStateMachine(t *testing.T) {
	c := makeTestCoordinator(t, CoordinatorOptions{})

	if c.Status() != NoScript {
		t.Fatalf("initial status %s", c.Status())
	}
	for name, op := range map[string]func() error{
		"start":   c.StartSimulation,
		"pause":   c.PauseSimulation,
		"reset":   c.ResetSimulation,
		"goto":    func() error { return c.GotoSimulationTime(10) },
		"trigger": func() error { return c.TriggerIncident(100) },
	} {
		if err := op(); !errors.Is(err, ErrNoScriptLoaded) || !IsScriptError(err) {
			t.Errorf("%s without a script: expected ErrNoScriptLoaded, got %v", name, err)
		}
	}

	loadTestScript(t, c)
	expect := func(s ScriptStatus) {
		t.Helper()
		if c.Status() != s {
			t.Errorf("expected %s, got %s", s, c.Status())
		}
	}
	expect(Ready)

	// The clock only runs while running.
	c.Tick()
	if c.Time() != 0 {
		t.Errorf("clock advanced while ready")
	}

	if err := c.PauseSimulation(); err != nil {
		t.Error(err)
	}
	expect(Ready)

	if err := c.StartSimulation(); err != nil {
		t.Error(err)
	}
	expect(Running)
	tickTo(c, 5)

	if err := c.PauseSimulation(); err != nil {
		t.Error(err)
	}
	expect(Paused)
	c.Tick()
	if c.Time() != 5 {
		t.Errorf("clock advanced while paused: %d", c.Time())
	}

	if err := c.StartSimulation(); err != nil {
		t.Error(err)
	}
	expect(Running)
	c.Tick()
	if c.Time() != 6 {
		t.Errorf("clock %d after resuming", c.Time())
	}

	if err := c.ResetSimulation(); err != nil {
		t.Error(err)
	}
	expect(Ready)
	if c.Time() != 0 {
		t.Errorf("clock %d after reset", c.Time())
	}

	c.UnloadScript()
	expect(NoScript)
	if len(c.Incidents()) != 0 {
		t.Errorf("incidents remain after unload")
	}
}

func TestCoordinatorLoadFailure(t *testing.T) {
	c := makeTestCoordinator(t, CoordinatorOptions{})

	if err := c.LoadScript(strings.NewReader("<TMC_SCRIPT>"), "bad.xml"); !errors.Is(err, ErrInvalidScript) {
		t.Errorf("expected ErrInvalidScript, got %v", err)
	}
	if c.Status() != NoScript {
		t.Errorf("expected NO_SCRIPT after a failed load, got %s", c.Status())
	}

	loadTestScript(t, c)
	if err := c.StartSimulation(); err != nil {
		t.Fatal(err)
	}
	tickTo(c, 15)

	if err := c.LoadScriptFile("/nonexistent/script.xml"); !IsScriptError(err) {
		t.Errorf("expected a ScriptError, got %v", err)
	}
	if c.Status() != Ready || c.Time() != 0 {
		t.Errorf("expected READY at 0 after a failed load, got %s at %d", c.Status(), c.Time())
	}
	if incs := c.Incidents(); len(incs) != 2 || incs[0].Occurred {
		t.Errorf("the previous script's incidents should be kept and reset: %+v", incs)
	}
	if c.ScriptName() != "test.xml" {
		t.Errorf("script name %q", c.ScriptName())
	}
}

func TestCoordinatorIncidentStartBroadcast(t *testing.T) {
	c := makeTestCoordinator(t, CoordinatorOptions{})

	var subs []*testSubscriber
	for _, id := range []string{"m1", "m2", "m3"} {
		s := newTestSubscriber(id, RoleManager)
		c.RegisterForCallback(s)
		subs = append(subs, s)
	}

	loadTestScript(t, c)
	if err := c.StartSimulation(); err != nil {
		t.Fatal(err)
	}

	started := func(s *testSubscriber) []Event {
		return slices.DeleteFunc(s.received(), func(e Event) bool {
			return e.Type != IncidentStartedEvent || e.LogNumber != 100
		})
	}

	tickTo(c, 59)
	for _, s := range subs {
		waitFor(t, s, "tick 59", sawTick(59))
		if n := len(started(s)); n != 0 {
			t.Errorf("%s: incident 100 started before 60", s.id)
		}
	}
	if inc, _ := c.Incident(100); inc.Occurred {
		t.Errorf("incident 100 occurred at 59")
	}

	c.Tick()
	for _, s := range subs {
		waitFor(t, s, "tick 60", sawTick(60))
		if st := started(s); len(st) != 1 || st[0].Time != 60 {
			t.Errorf("%s: expected one start of incident 100 at 60, got %v", s.id, st)
		}
	}
}

func TestCoordinatorTerminalEvents(t *testing.T) {
	c := makeTestCoordinator(t, CoordinatorOptions{})
	loadTestScript(t, c)

	term := newTestSubscriber("terminal", RoleTerminal)
	c.RegisterForCallback(term)

	if err := c.StartSimulation(); err != nil {
		t.Fatal(err)
	}
	tickTo(c, 10)
	waitFor(t, term, "tick 10", sawTick(10))

	for _, e := range term.received() {
		if e.Type.ManagerOnly() {
			t.Errorf("terminal received %s", e)
		}
	}
	if !slices.ContainsFunc(term.received(), func(e Event) bool {
		return e.Type == IncidentUpdatedEvent && e.LogNumber == 200 && e.Incident.Occurred
	}) {
		t.Errorf("terminal wasn't told that incident 200 occurred: %v", term.received())
	}
}

func TestCoordinatorIncidentControl(t *testing.T) {
	c := makeTestCoordinator(t, CoordinatorOptions{})
	loadTestScript(t, c)

	if err := c.TriggerIncident(100); !errors.Is(err, ErrSimNotStarted) {
		t.Errorf("trigger before start: expected ErrSimNotStarted, got %v", err)
	}
	if err := c.StartSimulation(); err != nil {
		t.Fatal(err)
	}
	tickTo(c, 20)

	if err := c.TriggerIncident(100); err != nil {
		t.Errorf("TriggerIncident: %v", err)
	}
	if inc, _ := c.Incident(100); !inc.Occurred || inc.OccurredAt != 20 {
		t.Errorf("incident 100 should have occurred at 20: %+v", inc)
	}
	if err := c.TriggerIncident(100); !errors.Is(err, ErrIncidentAlreadyStarted) {
		t.Errorf("expected ErrIncidentAlreadyStarted, got %v", err)
	}
	if err := c.TriggerIncident(42); !errors.Is(err, ErrUnknownIncident) {
		t.Errorf("expected ErrUnknownIncident, got %v", err)
	}
	if err := c.RescheduleIncident(100, 500); !errors.Is(err, ErrIncidentAlreadyStarted) {
		t.Errorf("expected ErrIncidentAlreadyStarted, got %v", err)
	}

	if err := c.AddIncident(*NewIncident(300, "Stall", 30, IncidentHeader{Beat: "3"}, nil)); err != nil {
		t.Fatalf("AddIncident: %v", err)
	}
	if err := c.AddIncident(*NewIncident(300, "Stall", 30, IncidentHeader{}, nil)); !errors.Is(err, ErrDuplicateIncident) {
		t.Errorf("expected ErrDuplicateIncident, got %v", err)
	}
	if err := c.RescheduleIncident(300, 10); !errors.Is(err, ErrTimePassed) {
		t.Errorf("expected ErrTimePassed, got %v", err)
	}
	if err := c.RescheduleIncident(300, 25); err != nil {
		t.Errorf("RescheduleIncident: %v", err)
	}
	tickTo(c, 25)
	if inc, _ := c.Incident(300); !inc.Occurred || inc.OccurredAt != 25 {
		t.Errorf("incident 300 should have occurred at 25: %+v", inc)
	}

	for _, ln := range []int{100, 200} {
		if err := c.DeleteIncident(ln); err != nil {
			t.Errorf("DeleteIncident(%d): %v", ln, err)
		}
	}
	if err := c.DeleteIncident(200); !errors.Is(err, ErrUnknownIncident) {
		t.Errorf("expected ErrUnknownIncident, got %v", err)
	}
	if c.Status() != Running {
		t.Errorf("status %s with an incident left", c.Status())
	}
	if err := c.DeleteIncident(300); err != nil {
		t.Error(err)
	}
	if c.Status() != NoScript {
		t.Errorf("deleting the last incident should leave NO_SCRIPT, got %s", c.Status())
	}

	if err := c.AddIncident(*NewIncident(400, "New", 0, IncidentHeader{}, nil)); err != nil {
		t.Fatal(err)
	}
	if c.Status() != Ready {
		t.Errorf("adding an incident without a script should give READY, got %s", c.Status())
	}
}

func TestCoordinatorGoto(t *testing.T) {
	c := makeTestCoordinator(t, CoordinatorOptions{})
	loadTestScript(t, c)

	if err := c.GotoSimulationTime(-5); !errors.Is(err, ErrInvalidTime) {
		t.Errorf("expected ErrInvalidTime, got %v", err)
	}
	if err := c.GotoSimulationTime(95); err != nil {
		t.Fatal(err)
	}
	if c.Time() != 95 || c.Status() != Paused {
		t.Errorf("expected PAUSED at 95, got %s at %d", c.Status(), c.Time())
	}

	te := c.TriggeredEvents()
	if len(te) != 1 || te[0].LogNumber != 100 || te[0].Index != 1 || te[0].Event.Payload.Audio == nil {
		t.Fatalf("expected incident 100's audio event to be triggered: %+v", te)
	}
	if err := c.CompleteEvent(100, 1); err != nil {
		t.Errorf("CompleteEvent: %v", err)
	}
	if len(c.TriggeredEvents()) != 0 {
		t.Errorf("event still triggered after completion")
	}

	if err := c.GotoSimulationTime(30); err != nil {
		t.Fatal(err)
	}
	if inc, _ := c.Incident(100); inc.Occurred {
		t.Errorf("incident 100 still occurred after seeking back to 30")
	}
}

func TestCoordinatorTerminalInput(t *testing.T) {
	c := makeTestCoordinator(t, CoordinatorOptions{})
	loadTestScript(t, c)
	mgr := newTestSubscriber("manager", RoleManager)
	c.RegisterForCallback(mgr)

	if err := c.StartSimulation(); err != nil {
		t.Fatal(err)
	}
	tickTo(c, 12)

	update := protocol.Command{
		Type: protocol.CommandIncidentUpdate,
		Fields: []protocol.Field{
			{Code: protocol.FieldBeat, Value: "9"},
			{Code: protocol.FieldDetails, Value: "call details", Qualifier: "9-1-1", Sensitive: true},
		},
	}
	inc, err := c.CommandLineUpdate(2, update, 200)
	if err != nil {
		t.Fatalf("CommandLineUpdate: %v", err)
	}
	if inc.Header.Beat != "9" || len(inc.Events) != 2 {
		t.Fatalf("update not applied: %+v", inc)
	}
	if e := inc.Events[1]; !e.Manual || e.Status != EventCompleted || e.OccurredAt != 12 ||
		len(e.Payload.Details) != 1 || !e.Payload.Details[0].Sensitive {
		t.Errorf("unexpected update event %+v", e)
	}

	if _, err := c.CommandLineUpdate(2, update, 100); !errors.Is(err, ErrUnknownIncident) {
		t.Errorf("updating an incident that hasn't occurred: expected ErrUnknownIncident, got %v", err)
	}
	if _, err := c.CommandLineUpdate(2, protocol.Command{Type: protocol.CommandIncidentUpdate, LogNumber: 200}, 0); !errors.Is(err, ErrInvalidCommand) {
		t.Errorf("empty update: expected ErrInvalidCommand, got %v", err)
	}
	if _, err := c.CommandLineUpdate(2, protocol.Command{Type: protocol.CommandIncidentBoard}, 200); !errors.Is(err, ErrInvalidCommand) {
		t.Errorf("non-update command: expected ErrInvalidCommand, got %v", err)
	}

	msg := RoutedMessage{From: 2, Destinations: []int{1, 3}, Text: "Hello", LogNumber: 200}
	if err := c.RouteMessage(msg); err != nil {
		t.Fatal(err)
	}
	if err := c.RouteMessage(RoutedMessage{From: 2, Text: "nobody"}); !errors.Is(err, ErrInvalidCommand) {
		t.Errorf("expected ErrInvalidCommand, got %v", err)
	}
	waitFor(t, mgr, "routed message", func(events []Event) bool {
		return slices.ContainsFunc(events, func(e Event) bool {
			return e.Type == RoutedMessageEvent && e.Message.Text == "Hello" && e.Message.Time == 12 &&
				e.Message.For(3) && !e.Message.For(2)
		})
	})
	inc, _ = c.Incident(200)
	last := inc.Events[len(inc.Events)-1]
	if len(last.Payload.Details) != 1 || last.Payload.Details[0].Text != "Routed message from 2 to 1,3: Hello" {
		t.Errorf("routed message not recorded: %+v", last)
	}

	// Terminal updates are discarded by a reset.
	if err := c.ResetSimulation(); err != nil {
		t.Fatal(err)
	}
	if inc, _ := c.Incident(200); len(inc.Events) != 1 || inc.Header.Beat != "8" {
		t.Errorf("reset didn't restore incident 200: %+v", inc)
	}
}

func TestCoordinatorConvergence(t *testing.T) {
	c := makeTestCoordinator(t, CoordinatorOptions{})

	early := newTestSubscriber("early", RoleManager)
	c.RegisterForCallback(early)

	loadTestScript(t, c)
	if err := c.StartSimulation(); err != nil {
		t.Fatal(err)
	}
	tickTo(c, 45)
	if _, err := c.CommandLineUpdate(1, protocol.Command{Type: protocol.CommandIncidentUpdate,
		Fields: []protocol.Field{{Code: protocol.FieldLocation, Value: "I5 S"}}}, 200); err != nil {
		t.Fatal(err)
	}

	late := newTestSubscriber("late", RoleManager)
	snap := c.RegisterForCallback(late)
	if snap.Time != 45 || snap.Status != Running || len(snap.Incidents) != 2 {
		t.Errorf("unexpected snapshot %+v", snap)
	}

	if err := c.TriggerIncident(100); err != nil {
		t.Fatal(err)
	}
	tickTo(c, 50)
	if err := c.GotoSimulationTime(20); err != nil {
		t.Fatal(err)
	}
	tickTo(c, 25)
	if err := c.GotoSimulationTime(500); err != nil {
		t.Fatal(err)
	}
	if err := c.CompleteEvent(100, 1); err != nil {
		t.Fatal(err)
	}
	c.Tick()

	for _, s := range []*testSubscriber{early, late} {
		waitFor(t, s, "tick 501", sawTick(501))
	}

	want := c.Snapshot()
	slices.SortFunc(want.Incidents, func(a, b Incident) int { return a.LogNumber - b.LogNumber })
	for _, s := range []*testSubscriber{early, late} {
		if got := s.currentView(); !reflect.DeepEqual(got, want) {
			t.Errorf("%s: view differs from the coordinator's state:\n%+v\n%+v", s.id, got, want)
		}
	}
}

// occurredIncidents returns the incidents a terminal shows, sorted by log
// number.
func occurredIncidents(s Snapshot) []Incident {
	incs := slices.DeleteFunc(slices.Clone(s.Incidents), func(inc Incident) bool { return !inc.Occurred })
	slices.SortFunc(incs, func(a, b Incident) int { return a.LogNumber - b.LogNumber })
	return incs
}

func TestCoordinatorTerminalConvergence(t *testing.T) {
	c := makeTestCoordinator(t, CoordinatorOptions{})

	early := newTestSubscriber("early", RoleTerminal)
	c.RegisterForCallback(early)

	loadTestScript(t, c)
	if err := c.StartSimulation(); err != nil {
		t.Fatal(err)
	}
	tickTo(c, 45)
	if err := c.TriggerIncident(100); err != nil {
		t.Fatal(err)
	}

	late := newTestSubscriber("late", RoleTerminal)
	c.RegisterForCallback(late)

	if err := c.DeleteIncident(100); err != nil {
		t.Fatal(err)
	}
	c.Tick()
	for _, s := range []*testSubscriber{early, late} {
		waitFor(t, s, "tick 46", sawTick(46))
		if incs := occurredIncidents(s.currentView()); len(incs) != 1 || incs[0].LogNumber != 200 {
			t.Errorf("%s: terminal still shows %d incidents after the delete: %+v", s.id, len(incs), incs)
		}
	}

	if err := c.GotoSimulationTime(20); err != nil {
		t.Fatal(err)
	}
	tickTo(c, 25)
	if err := c.ResetSimulation(); err != nil {
		t.Fatal(err)
	}
	if err := c.GotoSimulationTime(500); err != nil {
		t.Fatal(err)
	}

	for _, s := range []*testSubscriber{early, late} {
		waitFor(t, s, "tick 500", sawTick(500))
	}

	want := occurredIncidents(c.Snapshot())
	if len(want) != 1 {
		t.Fatalf("expected only incident 200 to have occurred, got %+v", want)
	}
	for _, s := range []*testSubscriber{early, late} {
		for _, e := range s.received() {
			if e.Type.ManagerOnly() {
				t.Errorf("%s: terminal received %s", s.id, e)
			}
		}
		if got := occurredIncidents(s.currentView()); !reflect.DeepEqual(got, want) {
			t.Errorf("%s: terminal view differs from the coordinator's state:\n%+v\n%+v", s.id, got, want)
		}
	}
}

func TestCoordinatorSynchronize(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 3, 14, 8, 0, 10, 0, time.UTC)}
	paramics := &NullParamics{}
	c := makeTestCoordinator(t, CoordinatorOptions{Now: clock.Now, Paramics: paramics})
	loadTestScript(t, c)

	if err := c.ConnectToParamics(context.Background()); err != nil {
		t.Fatal(err)
	}
	if c.ParamicsStatus() != ParamicsConnected {
		t.Errorf("Paramics status %s", c.ParamicsStatus())
	}

	if err := c.StartSimulation(); err != nil {
		t.Fatal(err)
	}
	if c.Status() != Synchronizing {
		t.Fatalf("expected SYNCHRONIZING, got %s", c.Status())
	}

	clock.Advance(10 * time.Second)
	c.Tick()
	if c.Status() != Synchronizing || c.Time() != 0 {
		t.Errorf("started running before the synchronization point: %s at %d", c.Status(), c.Time())
	}

	clock.Advance(10 * time.Second)
	c.Tick()
	if c.Status() != Running || c.Time() != 1 {
		t.Errorf("expected RUNNING at 1, got %s at %d", c.Status(), c.Time())
	}

	tickTo(c, 60)
	if updates, _ := paramics.Stats(); updates != 2 {
		t.Errorf("expected 2 Paramics incident updates by 60, got %d", updates)
	}

	if err := c.ResetSimulation(); err != nil {
		t.Fatal(err)
	}
	if _, resets := paramics.Stats(); resets != 1 {
		t.Errorf("expected Paramics to be reset, got %d", resets)
	}

	// Losing the connection while synchronizing starts the clock.
	if err := c.StartSimulation(); err != nil {
		t.Fatal(err)
	}
	if err := c.SetParamicsStatus(ParamicsDropped); err != nil {
		t.Fatal(err)
	}
	if c.Status() != Running {
		t.Errorf("expected RUNNING after Paramics dropped, got %s", c.Status())
	}
}

// loadingParamics records the coordinator's Paramics status at the time
// of each network load.
type loadingParamics struct {
	NullParamics
	c        *Coordinator
	fail     bool
	observed []ParamicsStatus
}

func (l *loadingParamics) LoadNetwork(ctx context.Context, networkID int) error {
	l.observed = append(l.observed, l.c.ParamicsStatus())
	if l.fail {
		return errors.New("network unavailable")
	}
	return l.NullParamics.LoadNetwork(ctx, networkID)
}

func TestCoordinatorParamics(t *testing.T) {
	bridge := &loadingParamics{}
	c := makeTestCoordinator(t, CoordinatorOptions{Paramics: bridge})
	bridge.c = c

	ctx := context.Background()
	if err := c.LoadParamicsNetwork(ctx, 7); !errors.Is(err, ErrParamicsNotConnected) {
		t.Errorf("expected ErrParamicsNotConnected, got %v", err)
	}
	if err := c.ConnectToParamics(ctx); err != nil {
		t.Fatal(err)
	}
	if err := c.LoadParamicsNetwork(ctx, 7); err != nil {
		t.Fatal(err)
	}
	if c.GetParamicsNetworkLoaded() != 7 || c.ParamicsStatus() != ParamicsLoading {
		t.Errorf("network %d, status %s", c.GetParamicsNetworkLoaded(), c.ParamicsStatus())
	}
	if len(bridge.observed) != 1 || bridge.observed[0] != ParamicsLoading {
		t.Errorf("status seen by the bridge %v, expected LOADING", bridge.observed)
	}

	bridge.fail = true
	if err := c.SetParamicsStatus(ParamicsConnected); err != nil {
		t.Fatal(err)
	}
	if err := c.LoadParamicsNetwork(ctx, 8); err == nil {
		t.Error("expected the failed load to be reported")
	}
	if c.ParamicsStatus() != ParamicsConnected || c.GetParamicsNetworkLoaded() != 7 {
		t.Errorf("after failed load: network %d, status %s", c.GetParamicsNetworkLoaded(), c.ParamicsStatus())
	}
	bridge.fail = false
	if err := c.SetParamicsStatus(ParamicsLoaded); err != nil {
		t.Error(err)
	}
	if err := c.SetParamicsStatus(ParamicsStatus(42)); !errors.Is(err, ErrInvalidParamicsStatus) {
		t.Errorf("expected ErrInvalidParamicsStatus, got %v", err)
	}

	if err := c.DisconnectFromParamics(ctx); err != nil {
		t.Error(err)
	}
	if c.GetParamicsNetworkLoaded() != 0 || c.ParamicsStatus() != ParamicsDisconnected {
		t.Errorf("after disconnect: network %d, status %s", c.GetParamicsNetworkLoaded(), c.ParamicsStatus())
	}
}

func TestCoordinatorDiversions(t *testing.T) {
	store := NewMemoryDiversionStore(
		CMSInfo{ID: "CMS-2", Postmile: 12.5, InitialRoute: "I5 N", Diversions: []CMSDiversion{
			{OriginalPath: "I5 N", NewPath: "SR55 N", DiversionPath: "A", MaxDiversionPercent: 50},
			{OriginalPath: "I5 N", NewPath: "SR22 W", DiversionPath: "B", MaxDiversionPercent: 100},
		}},
		CMSInfo{ID: "CMS-1", Postmile: 3},
	)
	paramics := &NullParamics{}
	c := makeTestCoordinator(t, CoordinatorOptions{CMS: store, Paramics: paramics})
	loadTestScript(t, c)
	ctx := context.Background()

	ids, err := c.GetCMSIDs(ctx)
	if err != nil || !reflect.DeepEqual(ids, []string{"CMS-1", "CMS-2"}) {
		t.Errorf("GetCMSIDs: %v, %v", ids, err)
	}

	if err := c.GotoSimulationTime(40); err != nil {
		t.Fatal(err)
	}
	info, err := c.GetCMSDiversionInfo(ctx, "CMS-2")
	if err != nil {
		t.Fatal(err)
	}
	info.Diversions[0].CurrentDiversionPercent = 80
	info.Diversions[1].CurrentDiversionPercent = 0
	if err := c.ApplyDiversions(ctx, info); err != nil {
		t.Fatal(err)
	}

	info, _ = c.GetCMSDiversionInfo(ctx, "CMS-2")
	if d := info.Diversions[0]; d.CurrentDiversionPercent != 50 || !d.Updated || d.TimeApplied != 40 {
		t.Errorf("diversion 0: %+v", d)
	}
	if d := info.Diversions[1]; d.CurrentDiversionPercent != 0 || d.Updated || !d.Cleared {
		t.Errorf("diversion 1: %+v", d)
	}
	if len(paramics.Diversions) != 1 || paramics.Diversions[0].ID != "CMS-2" {
		t.Errorf("diversion not sent to Paramics: %+v", paramics.Diversions)
	}
	if snap := c.Snapshot(); len(snap.Diversions) != 2 || !snap.Diversions[1].Active() {
		t.Errorf("snapshot diversions: %+v", snap.Diversions)
	}

	if err := c.ApplyDiversions(ctx, CMSInfo{ID: "CMS-2"}); !errors.Is(err, ErrInvalidDiversion) {
		t.Errorf("expected ErrInvalidDiversion, got %v", err)
	}
	if err := c.ApplyDiversions(ctx, CMSInfo{ID: "CMS-9"}); !errors.Is(err, ErrUnknownCMS) {
		t.Errorf("expected ErrUnknownCMS, got %v", err)
	}

	if err := c.ResetSimulation(); err != nil {
		t.Fatal(err)
	}
	info, _ = c.GetCMSDiversionInfo(ctx, "CMS-2")
	if info.Active() {
		t.Errorf("diversions not reset: %+v", info)
	}
}

func TestSnapshotApply(t *testing.T) {
	inc := NewIncident(5, "x", 0, IncidentHeader{}, []IncidentEvent{{Offset: 0}})
	var s Snapshot

	s.Apply(Event{Type: IncidentAddedEvent, LogNumber: 5, Incident: inc})
	ev := IncidentEvent{Status: EventCompleted, OccurredAt: 3}
	s.Apply(Event{Type: EventOccurredEvent, Time: 3, LogNumber: 5, EventIndex: 0, IncidentEvent: &ev})
	if len(s.Incidents) != 1 || s.Incidents[0].Events[0].Status != EventCompleted || s.Time != 3 {
		t.Errorf("unexpected snapshot %+v", s)
	}
	if inc.Events[0].Status != EventPending {
		t.Errorf("Apply modified the event's incident")
	}

	s.Apply(Event{Type: ScriptStatusEvent, Time: 4, Status: Paused})
	s.Apply(Event{Type: ParamicsStatusEvent, Time: 4, Paramics: ParamicsLoaded})
	s.Apply(Event{Type: DiversionEvent, Time: 4, CMS: &CMSInfo{ID: "A"}})
	s.Apply(Event{Type: DiversionEvent, Time: 4, CMS: &CMSInfo{ID: "A", Postmile: 2}})
	s.Apply(Event{Type: IncidentRemovedEvent, Time: 5, LogNumber: 5})
	if s.Status != Paused || s.Paramics != ParamicsLoaded || len(s.Diversions) != 1 || s.Diversions[0].Postmile != 2 ||
		len(s.Incidents) != 0 {
		t.Errorf("unexpected snapshot %+v", s)
	}
}
