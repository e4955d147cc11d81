package server

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"net"
	"net/http"
	"net/http/httptest"
	"net/rpc"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/mmp/tmcsim/log"
	"github.com/mmp/tmcsim/sim"
	"github.com/mmp/tmcsim/util"
)

func TestConfigFromEnv(t *testing.T) {
	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatalf("ConfigFromEnv: %v", err)
	}
	if cfg.Port != DefaultRPCPort || cfg.CADPort != DefaultCADPort || cfg.HTTPPort != DefaultHTTPPort {
		t.Errorf("default ports %d %d %d", cfg.Port, cfg.CADPort, cfg.HTTPPort)
	}
	if cfg.SyncInterval != 30*time.Second || cfg.ManagerMailbox != 1000 {
		t.Errorf("defaults %+v", cfg)
	}

	t.Setenv("TMCSIM_PORT", "5000")
	t.Setenv("TMCSIM_SCRIPT", "scripts/i5.xml")
	t.Setenv("TMCSIM_SYNC_INTERVAL", "10s")
	cfg, err = ConfigFromEnv()
	if err != nil {
		t.Fatalf("ConfigFromEnv: %v", err)
	}
	if cfg.Port != 5000 || cfg.Script != "scripts/i5.xml" || cfg.SyncInterval != 10*time.Second {
		t.Errorf("environment not applied: %+v", cfg)
	}

	// Flags override the environment.
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	cfg.RegisterFlags(fs)
	if err := fs.Parse([]string{"-port", "6000", "-cmsdb", "cms.db"}); err != nil {
		t.Fatal(err)
	}
	if cfg.Port != 6000 || cfg.CMSDB != "cms.db" || cfg.Script != "scripts/i5.xml" {
		t.Errorf("flags not applied: %+v", cfg)
	}

	t.Setenv("TMCSIM_PORT", "not-a-port")
	if _, err := ConfigFromEnv(); err == nil {
		t.Error("expected an error for a malformed port")
	}
}

func startTestServer(t *testing.T) *Server {
	t.Helper()

	s, err := NewServer(Config{
		HTTPPort:        -1,
		DeliveryTimeout: time.Second,
		ManagerMailbox:  100,
		ManualClock:     true,
	}, log.NewTest("warn"))
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Run: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Error("server did not shut down")
		}
	})
	return s
}

func dialControl(t *testing.T, s *Server) *rpc.Client {
	t.Helper()

	conn, err := net.Dial("tcp", net.JoinHostPort("localhost", strconv.Itoa(s.RPCAddr().(*net.TCPAddr).Port)))
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	cc, err := util.MakeCompressedConn(conn)
	if err != nil {
		t.Fatalf("MakeCompressedConn: %v", err)
	}
	client := rpc.NewClientWithCodec(util.MakeMessagepackClientCodec(cc))
	t.Cleanup(func() { client.Close() })
	return client
}

func TestControlRPC(t *testing.T) {
	s := startTestServer(t)
	client := dialControl(t, s)

	call := func(method string, args, result any) error {
		t.Helper()
		return TryDecodeError(client.Call(method, args, result))
	}

	var cr ConnectResult
	if err := call(ConnectRPC, TMCSimRPCVersion+1, &cr); !errors.Is(err, ErrRPCVersionMismatch) {
		t.Errorf("expected ErrRPCVersionMismatch, got %v", err)
	}
	if err := call(ConnectRPC, TMCSimRPCVersion, &cr); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if cr.Status != sim.NoScript || cr.Paramics != sim.ParamicsDisconnected {
		t.Errorf("connect result %+v", cr)
	}

	if err := call(StartSimulationRPC, struct{}{}, &struct{}{}); !errors.Is(err, sim.ErrNoScriptLoaded) {
		t.Errorf("expected ErrNoScriptLoaded, got %v", err)
	}
	if err := call(LoadScriptRPC, &LoadScriptArgs{Name: "bad.xml", Contents: []byte("<TMC_SCRIPT>")}, &struct{}{}); !errors.Is(err, sim.ErrInvalidScript) {
		t.Errorf("expected ErrInvalidScript, got %v", err)
	}
	if err := call(LoadScriptRPC, &LoadScriptArgs{Name: "test.xml", Contents: []byte(testScript)}, &struct{}{}); err != nil {
		t.Fatalf("LoadScript: %v", err)
	}

	var reg RegisterResult
	if err := call(RegisterForCallbackRPC, "instructor", &reg); err != nil {
		t.Fatalf("RegisterForCallback: %v", err)
	}
	if reg.Token == "" || len(reg.Snapshot.Incidents) != 2 || reg.Snapshot.Status != sim.Ready {
		t.Errorf("registration %+v", reg)
	}

	if err := call(GotoSimulationTimeRPC, 10, &struct{}{}); err != nil {
		t.Fatalf("GotoSimulationTime: %v", err)
	}
	var now int
	if err := call(GetCurrentSimulationTimeRPC, struct{}{}, &now); err != nil || now != 10 {
		t.Errorf("simulation time %d, %v", now, err)
	}
	var status sim.ScriptStatus
	if err := call(GetScriptStatusRPC, struct{}{}, &status); err != nil || status != sim.Paused {
		t.Errorf("status %s, %v", status, err)
	}

	var incidents []sim.Incident
	if err := call(GetIncidentListRPC, struct{}{}, &incidents); err != nil || len(incidents) != 2 {
		t.Fatalf("incident list %d, %v", len(incidents), err)
	}
	for _, inc := range incidents {
		if inc.Occurred != (inc.LogNumber == 100) {
			t.Errorf("incident %d occurred %v", inc.LogNumber, inc.Occurred)
		}
	}

	// Nothing in the script has audio, so nothing waits for completion.
	var triggered []sim.TriggeredEvent
	if err := call(GetTriggeredEventsRPC, struct{}{}, &triggered); err != nil || len(triggered) != 0 {
		t.Errorf("%d triggered events, %v", len(triggered), err)
	}

	if err := call(DeleteIncidentRPC, 999, &struct{}{}); !errors.Is(err, sim.ErrUnknownIncident) {
		t.Errorf("expected ErrUnknownIncident, got %v", err)
	}
	if err := call(RescheduleIncidentRPC, &RescheduleIncidentArgs{LogNumber: 200, Seconds: 30}, &struct{}{}); err != nil {
		t.Errorf("RescheduleIncident: %v", err)
	}

	var events []sim.Event
	deadline := time.Now().Add(5 * time.Second)
	for len(events) == 0 || events[len(events)-1].Type != sim.IncidentUpdatedEvent {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for updates; have %d", len(events))
		}
		var ev []sim.Event
		if err := call(GetUpdatesRPC, reg.Token, &ev); err != nil {
			t.Fatalf("GetUpdates: %v", err)
		}
		events = append(events, ev...)
		time.Sleep(5 * time.Millisecond)
	}
	if last := events[len(events)-1]; last.LogNumber != 200 || last.Incident == nil || last.Incident.ScheduledStart != 30 {
		t.Errorf("last update %+v", last)
	}

	var ids []string
	if err := call(GetCMSIDsRPC, struct{}{}, &ids); err != nil || len(ids) != 0 {
		t.Errorf("CMS ids %v, %v", ids, err)
	}

	if err := call(UnregisterForCallbackRPC, reg.Token, &struct{}{}); err != nil {
		t.Errorf("UnregisterForCallback: %v", err)
	}
	var ev []sim.Event
	if err := call(GetUpdatesRPC, reg.Token, &ev); !errors.Is(err, ErrInvalidManagerToken) {
		t.Errorf("expected ErrInvalidManagerToken, got %v", err)
	}

	if recent := s.sm.recentControl(); len(recent) == 0 {
		t.Error("no control operations recorded")
	}
}

func TestStatusHandler(t *testing.T) {
	sm := makeTestSessionManager(t, 100)
	if err := sm.coord.GotoSimulationTime(10); err != nil {
		t.Fatal(err)
	}
	sm.RegisterManager("instructor")

	rec := httptest.NewRecorder()
	sm.httpHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status code %d", rec.Code)
	}

	body := rec.Body.String()
	if !strings.HasPrefix(body, "{\n  \"clock\": \"00:00:10\",\n  \"status\": \"PAUSED\"") {
		t.Errorf("unexpected status document:\n%s", body)
	}

	var doc struct {
		Script    string
		Incidents []struct {
			LogNumber int  `json:"log_number"`
			Occurred  bool `json:"occurred"`
			Fired     int  `json:"fired"`
		}
		Managers []string
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &doc); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if doc.Script != "test.xml" || len(doc.Incidents) != 2 || len(doc.Managers) != 1 {
		t.Errorf("status %+v", doc)
	}
	for _, inc := range doc.Incidents {
		if inc.LogNumber == 100 && (!inc.Occurred || inc.Fired != 1) {
			t.Errorf("incident 100: %+v", inc)
		}
	}
}
