// server/dispatcher.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package server

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mmp/tmcsim/sim"
)

// controlTimeout bounds the calls a control operation makes to the
// Paramics bridge and the CMS database.
const controlTimeout = 5 * time.Second

// dispatcher is the RPC service through which simulation managers
// control the simulation. It is registered under the name "Control".
type dispatcher struct {
	sm *SessionManager
}

func (d *dispatcher) coord() *sim.Coordinator {
	return d.sm.coord
}

// do runs a control operation and records it for the status page.
func (d *dispatcher) do(op string, f func() error) error {
	err := f()
	d.sm.record(op, err)
	if err != nil {
		d.sm.lg.Warn("control operation failed", slog.String("op", op), slog.Any("error", err),
			slog.Int("sim_time", d.coord().Time()))
	}
	return err
}

func withTimeout(f func(ctx context.Context) error) func() error {
	return func() error {
		ctx, cancel := context.WithTimeout(context.Background(), controlTimeout)
		defer cancel()
		return f(ctx)
	}
}

type ConnectResult struct {
	Status     sim.ScriptStatus
	Paramics   sim.ParamicsStatus
	ScriptName string
	Time       int
}

const ConnectRPC = "Control.Connect"

func (d *dispatcher) Connect(version int, result *ConnectResult) error {
	defer d.sm.lg.CatchAndReportCrash()

	if version != TMCSimRPCVersion {
		return ErrRPCVersionMismatch
	}
	c := d.coord()
	*result = ConnectResult{
		Status:     c.Status(),
		Paramics:   c.ParamicsStatus(),
		ScriptName: c.ScriptName(),
		Time:       c.Time(),
	}
	return nil
}

///////////////////////////////////////////////////////////////////////////
// Subscriptions

type RegisterResult struct {
	Token    string
	Snapshot sim.Snapshot
}

const RegisterForCallbackRPC = "Control.RegisterForCallback"

func (d *dispatcher) RegisterForCallback(name string, result *RegisterResult) error {
	defer d.sm.lg.CatchAndReportCrash()

	result.Token, result.Snapshot = d.sm.RegisterManager(name)
	return nil
}

const UnregisterForCallbackRPC = "Control.UnregisterForCallback"

func (d *dispatcher) UnregisterForCallback(token string, _ *struct{}) error {
	defer d.sm.lg.CatchAndReportCrash()

	d.sm.UnregisterManager(token)
	return nil
}

const GetUpdatesRPC = "Control.GetUpdates"

func (d *dispatcher) GetUpdates(token string, events *[]sim.Event) error {
	defer d.sm.lg.CatchAndReportCrash()

	ev, err := d.sm.GetUpdates(token)
	if err != nil {
		return err
	}
	*events = ev
	return nil
}

///////////////////////////////////////////////////////////////////////////
// Scripts and the simulation clock

const LoadScriptFileRPC = "Control.LoadScriptFile"

func (d *dispatcher) LoadScriptFile(path string, _ *struct{}) error {
	defer d.sm.lg.CatchAndReportCrash()

	return d.do("load script "+path, func() error { return d.coord().LoadScriptFile(path) })
}

type LoadScriptArgs struct {
	Name     string
	Contents []byte
}

const LoadScriptRPC = "Control.LoadScript"

// LoadScript loads a script sent by the manager rather than read from
// the server's disk.
func (d *dispatcher) LoadScript(args *LoadScriptArgs, _ *struct{}) error {
	defer d.sm.lg.CatchAndReportCrash()

	return d.do("load script "+args.Name, func() error {
		return d.coord().LoadScript(bytes.NewReader(args.Contents), args.Name)
	})
}

const UnloadScriptRPC = "Control.UnloadScript"

func (d *dispatcher) UnloadScript(_ struct{}, _ *struct{}) error {
	defer d.sm.lg.CatchAndReportCrash()

	return d.do("unload script", func() error { d.coord().UnloadScript(); return nil })
}

const StartSimulationRPC = "Control.StartSimulation"

func (d *dispatcher) StartSimulation(_ struct{}, _ *struct{}) error {
	defer d.sm.lg.CatchAndReportCrash()

	return d.do("start", d.coord().StartSimulation)
}

const PauseSimulationRPC = "Control.PauseSimulation"

func (d *dispatcher) PauseSimulation(_ struct{}, _ *struct{}) error {
	defer d.sm.lg.CatchAndReportCrash()

	return d.do("pause", d.coord().PauseSimulation)
}

const ResetSimulationRPC = "Control.ResetSimulation"

func (d *dispatcher) ResetSimulation(_ struct{}, _ *struct{}) error {
	defer d.sm.lg.CatchAndReportCrash()

	return d.do("reset", d.coord().ResetSimulation)
}

const GotoSimulationTimeRPC = "Control.GotoSimulationTime"

func (d *dispatcher) GotoSimulationTime(seconds int, _ *struct{}) error {
	defer d.sm.lg.CatchAndReportCrash()

	return d.do(fmt.Sprintf("goto %d", seconds), func() error { return d.coord().GotoSimulationTime(seconds) })
}

///////////////////////////////////////////////////////////////////////////
// Incidents

const TriggerIncidentRPC = "Control.TriggerIncident"

func (d *dispatcher) TriggerIncident(logNumber int, _ *struct{}) error {
	defer d.sm.lg.CatchAndReportCrash()

	return d.do(fmt.Sprintf("trigger %d", logNumber), func() error { return d.coord().TriggerIncident(logNumber) })
}

const DeleteIncidentRPC = "Control.DeleteIncident"

func (d *dispatcher) DeleteIncident(logNumber int, _ *struct{}) error {
	defer d.sm.lg.CatchAndReportCrash()

	return d.do(fmt.Sprintf("delete %d", logNumber), func() error { return d.coord().DeleteIncident(logNumber) })
}

type RescheduleIncidentArgs struct {
	LogNumber int
	Seconds   int
}

const RescheduleIncidentRPC = "Control.RescheduleIncident"

func (d *dispatcher) RescheduleIncident(args *RescheduleIncidentArgs, _ *struct{}) error {
	defer d.sm.lg.CatchAndReportCrash()

	return d.do(fmt.Sprintf("reschedule %d to %d", args.LogNumber, args.Seconds), func() error {
		return d.coord().RescheduleIncident(args.LogNumber, args.Seconds)
	})
}

const AddIncidentRPC = "Control.AddIncident"

func (d *dispatcher) AddIncident(inc *sim.Incident, _ *struct{}) error {
	defer d.sm.lg.CatchAndReportCrash()

	return d.do(fmt.Sprintf("add %d", inc.LogNumber), func() error { return d.coord().AddIncident(*inc) })
}

type CompleteEventArgs struct {
	LogNumber int
	Index     int
}

const CompleteEventRPC = "Control.CompleteEvent"

func (d *dispatcher) CompleteEvent(args *CompleteEventArgs, _ *struct{}) error {
	defer d.sm.lg.CatchAndReportCrash()

	return d.do(fmt.Sprintf("complete %d/%d", args.LogNumber, args.Index), func() error {
		return d.coord().CompleteEvent(args.LogNumber, args.Index)
	})
}

///////////////////////////////////////////////////////////////////////////
// Paramics

const SetParamicsStatusRPC = "Control.SetParamicsStatus"

func (d *dispatcher) SetParamicsStatus(status sim.ParamicsStatus, _ *struct{}) error {
	defer d.sm.lg.CatchAndReportCrash()

	return d.do("Paramics status "+status.String(), func() error { return d.coord().SetParamicsStatus(status) })
}

const ConnectToParamicsRPC = "Control.ConnectToParamics"

func (d *dispatcher) ConnectToParamics(_ struct{}, _ *struct{}) error {
	defer d.sm.lg.CatchAndReportCrash()

	return d.do("connect Paramics", withTimeout(d.coord().ConnectToParamics))
}

const DisconnectFromParamicsRPC = "Control.DisconnectFromParamics"

func (d *dispatcher) DisconnectFromParamics(_ struct{}, _ *struct{}) error {
	defer d.sm.lg.CatchAndReportCrash()

	return d.do("disconnect Paramics", withTimeout(d.coord().DisconnectFromParamics))
}

const LoadParamicsNetworkRPC = "Control.LoadParamicsNetwork"

func (d *dispatcher) LoadParamicsNetwork(networkID int, _ *struct{}) error {
	defer d.sm.lg.CatchAndReportCrash()

	return d.do(fmt.Sprintf("load network %d", networkID), withTimeout(func(ctx context.Context) error {
		return d.coord().LoadParamicsNetwork(ctx, networkID)
	}))
}

const GetParamicsNetworkLoadedRPC = "Control.GetParamicsNetworkLoaded"

func (d *dispatcher) GetParamicsNetworkLoaded(_ struct{}, networkID *int) error {
	defer d.sm.lg.CatchAndReportCrash()

	*networkID = d.coord().GetParamicsNetworkLoaded()
	return nil
}

///////////////////////////////////////////////////////////////////////////
// CMS diversions

const ApplyDiversionsRPC = "Control.ApplyDiversions"

func (d *dispatcher) ApplyDiversions(info *sim.CMSInfo, _ *struct{}) error {
	defer d.sm.lg.CatchAndReportCrash()

	return d.do("diversions "+info.ID, withTimeout(func(ctx context.Context) error {
		return d.coord().ApplyDiversions(ctx, *info)
	}))
}

const GetCMSDiversionInfoRPC = "Control.GetCMSDiversionInfo"

func (d *dispatcher) GetCMSDiversionInfo(id string, info *sim.CMSInfo) error {
	defer d.sm.lg.CatchAndReportCrash()

	ctx, cancel := context.WithTimeout(context.Background(), controlTimeout)
	defer cancel()

	ci, err := d.coord().GetCMSDiversionInfo(ctx, id)
	if err != nil {
		return err
	}
	*info = ci
	return nil
}

const GetCMSIDsRPC = "Control.GetCMSIDs"

func (d *dispatcher) GetCMSIDs(_ struct{}, ids *[]string) error {
	defer d.sm.lg.CatchAndReportCrash()

	ctx, cancel := context.WithTimeout(context.Background(), controlTimeout)
	defer cancel()

	var err error
	*ids, err = d.coord().GetCMSIDs(ctx)
	return err
}

///////////////////////////////////////////////////////////////////////////
// Queries

const GetScriptStatusRPC = "Control.GetScriptStatus"

func (d *dispatcher) GetScriptStatus(_ struct{}, status *sim.ScriptStatus) error {
	defer d.sm.lg.CatchAndReportCrash()

	*status = d.coord().Status()
	return nil
}

const GetCurrentSimulationTimeRPC = "Control.GetCurrentSimulationTime"

func (d *dispatcher) GetCurrentSimulationTime(_ struct{}, seconds *int) error {
	defer d.sm.lg.CatchAndReportCrash()

	*seconds = d.coord().Time()
	return nil
}

const GetIncidentListRPC = "Control.GetIncidentList"

func (d *dispatcher) GetIncidentList(_ struct{}, incidents *[]sim.Incident) error {
	defer d.sm.lg.CatchAndReportCrash()

	*incidents = d.coord().Incidents()
	return nil
}

const GetTriggeredEventsRPC = "Control.GetTriggeredEvents"

func (d *dispatcher) GetTriggeredEvents(_ struct{}, events *[]sim.TriggeredEvent) error {
	defer d.sm.lg.CatchAndReportCrash()

	*events = d.coord().TriggeredEvents()
	return nil
}
