// server/http.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package server

import (
	"encoding/json"
	"math"
	"net/http"
	"net/http/pprof"
	"runtime"
	"text/template"
	"time"

	"github.com/mmp/tmcsim/sim"
	"github.com/mmp/tmcsim/util"

	"github.com/iancoleman/orderedmap"
	"github.com/shirou/gopsutil/cpu"
)

type serverStats struct {
	Uptime           time.Duration
	AllocMemory      uint64
	TotalAllocMemory uint64
	SysMemory        uint64
	RX, TX           int64
	NumGC            uint32
	NumGoRoutines    int
	CPUUsage         int

	Script    string
	Status    string
	Paramics  string
	SimTime   string
	Incidents int
	Occurred  int

	Managers  []managerStatus
	Terminals []terminalStatus
	Recent    []controlRecord
}

///////////////////////////////////////////////////////////////////////////
// Status / statistics via HTTP...

func (sm *SessionManager) httpHandler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/sup", func(w http.ResponseWriter, r *http.Request) {
		sm.statsHandler(w, r)
		sm.lg.Infof("%s: served stats request", r.URL.String())
	})
	mux.HandleFunc("/status", sm.statusHandler)

	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	return mux
}

// statusHandler reports the simulation state as JSON, with the keys in
// a fixed order so that the output can be diffed.
func (sm *SessionManager) statusHandler(w http.ResponseWriter, r *http.Request) {
	snap := sm.coord.Snapshot()

	incidents := make([]*orderedmap.OrderedMap, 0, len(snap.Incidents))
	for _, inc := range snap.Incidents {
		o := orderedmap.New()
		o.Set("log_number", inc.LogNumber)
		o.Set("description", inc.Description)
		o.Set("scheduled_start", util.FormatSimTime(inc.ScheduledStart))
		o.Set("occurred", inc.Occurred)
		if inc.Occurred {
			o.Set("occurred_at", util.FormatSimTime(inc.OccurredAt))
		}
		o.Set("events", len(inc.Events))
		o.Set("fired", len(inc.FiredEvents()))
		incidents = append(incidents, o)
	}

	diversions := orderedmap.New()
	for _, ci := range snap.Diversions {
		var active []int
		for _, d := range ci.Diversions {
			active = append(active, d.CurrentDiversionPercent)
		}
		diversions.Set(ci.ID, active)
	}

	status := orderedmap.New()
	status.Set("clock", util.FormatSimTime(snap.Time))
	status.Set("status", snap.Status.String())
	status.Set("script", sm.coord.ScriptName())
	status.Set("paramics", snap.Paramics.String())
	status.Set("network", snap.NetworkID)
	status.Set("incidents", incidents)
	status.Set("diversions", diversions)
	status.Set("managers", sm.coord.Subscribers(sim.RoleManager))
	status.Set("terminals", sm.Positions())

	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(status); err != nil {
		sm.lg.Warnf("%s: %v", r.URL.String(), err)
	}
}

var templateFuncs = template.FuncMap{
	"bytes": func(v int64) string { return util.ByteCount(v).String() },
	"clock": func(t time.Time) string { return t.Format("15:04:05") },
}

var statsTemplate = template.Must(template.New("").Funcs(templateFuncs).Parse(`
<!DOCTYPE html>
<html>
<head>
<title>tmcsim coordinator</title>
</head>
<style>
table {
  border-collapse: collapse;
  width: 100%;
}

th, td {
  border: 1px solid #dddddd;
  padding: 8px;
  text-align: left;
}

tr:nth-child(even) {
  background-color: #f2f2f2;
}
</style>
<body>
<h1>Server Status</h1>
<ul>
  <li>Uptime: {{.Uptime}}</li>
  <li>CPU usage: {{.CPUUsage}}%</li>
  <li>Bandwidth: {{bytes .RX}} RX, {{bytes .TX}} TX</li>
  <li>Allocated memory: {{.AllocMemory}} MB</li>
  <li>Total allocated memory: {{.TotalAllocMemory}} MB</li>
  <li>System memory: {{.SysMemory}} MB</li>
  <li>Garbage collection passes: {{.NumGC}}</li>
  <li>Running goroutines: {{.NumGoRoutines}}</li>
</ul>

<h1>Simulation</h1>
<ul>
  <li>Script: {{.Script}}</li>
  <li>Status: {{.Status}}</li>
  <li>Paramics: {{.Paramics}}</li>
  <li>Simulation time: {{.SimTime}}</li>
  <li>Incidents: {{.Occurred}} of {{.Incidents}} occurred</li>
</ul>

<h1>Simulation Managers</h1>
<table>
  <tr>
  <th>Name</th>
  <th>Token</th>
  <th>Idle Time</th>
  <th>Pending Events</th>
  </tr>
{{range .Managers}}
  <tr>
  <td>{{.Name}}</td>
  <td><tt>{{.Token}}</tt></td>
  <td>{{.IdleTime}}</td>
  <td>{{.Pending}}</td>
  </tr>
{{end}}
</table>

<h1>CAD Terminals</h1>
<table>
  <tr>
  <th>Position</th>
  <th>User</th>
  <th>Screens</th>
  </tr>
{{range .Terminals}}
  <tr>
  <td>{{.Position}}</td>
  <td>{{.User}}</td>
  <td><tt>{{.Screens}}</tt></td>
  </tr>
{{end}}
</table>

<h1>Recent Control Operations</h1>
<table>
  <tr>
  <th>Time</th>
  <th>Sim Time</th>
  <th>Operation</th>
  <th>Error</th>
  </tr>
{{range .Recent}}
  <tr>
  <td>{{clock .Time}}</td>
  <td>{{.SimTime}}</td>
  <td>{{.Op}}</td>
  <td>{{.Error}}</td>
  </tr>
{{end}}
</table>

</body>
</html>
`))

func (sm *SessionManager) statsHandler(w http.ResponseWriter, r *http.Request) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	var cpuUsage int
	if usage, err := cpu.Percent(time.Second, false); err == nil && len(usage) > 0 {
		cpuUsage = int(math.Round(usage[0]))
	}

	incidents := sm.coord.Incidents()
	occurred := 0
	for _, inc := range incidents {
		if inc.Occurred {
			occurred++
		}
	}

	stats := serverStats{
		Uptime:           time.Since(sm.startTime).Round(time.Second),
		AllocMemory:      m.Alloc / (1024 * 1024),
		TotalAllocMemory: m.TotalAlloc / (1024 * 1024),
		SysMemory:        m.Sys / (1024 * 1024),
		NumGC:            m.NumGC,
		NumGoRoutines:    runtime.NumGoroutine(),
		CPUUsage:         cpuUsage,

		Script:    sm.coord.ScriptName(),
		Status:    sm.coord.Status().String(),
		Paramics:  sm.coord.ParamicsStatus().String(),
		SimTime:   util.FormatSimTime(sm.coord.Time()),
		Incidents: len(incidents),
		Occurred:  occurred,

		Managers:  sm.getManagerStatus(),
		Terminals: sm.getTerminalStatus(),
		Recent:    sm.recentControl(),
	}

	stats.RX, stats.TX = util.GetLoggedRPCBandwidth()

	if err := statsTemplate.Execute(w, stats); err != nil {
		sm.lg.Warnf("%s: %v", r.URL.String(), err)
	}
}
