// client/control.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package client

import (
	"errors"
	"log/slog"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/mmp/tmcsim/log"
	"github.com/mmp/tmcsim/server"
	"github.com/mmp/tmcsim/sim"
	"github.com/mmp/tmcsim/util"
)

// updateInterval is how often a ControlClient polls for events; it must
// be well under the coordinator's idle timeout.
const updateInterval = 250 * time.Millisecond

// ControlClient is a simulation manager's connection to the coordinator.
// It keeps a local copy of the simulation state that is brought up to
// date by calling GetUpdates regularly.
type ControlClient struct {
	token  string
	client *RPCClient

	mu                sync.Mutex
	state             sim.Snapshot
	updateCall        *pendingCall
	lastUpdateRequest time.Time
	pendingCalls      []*pendingCall

	lg *log.Logger
}

// ConnectControl connects to the coordinator at hostname and registers
// for updates under the given name.
func ConnectControl(hostname, name string, lg *log.Logger) (*ControlClient, server.ConnectResult, error) {
	client, err := getClient(hostname, lg)
	if err != nil {
		return nil, server.ConnectResult{}, err
	}

	var cr server.ConnectResult
	if err := client.callWithTimeout(server.ConnectRPC, server.TMCSimRPCVersion, &cr); err != nil {
		client.Close()
		return nil, cr, err
	}

	var reg server.RegisterResult
	if err := client.callWithTimeout(server.RegisterForCallbackRPC, name, &reg); err != nil {
		client.Close()
		return nil, cr, err
	}
	lg.Info("registered with coordinator", slog.String("server", hostname), slog.String("status", cr.Status.String()),
		slog.Int("sim_time", reg.Snapshot.Time))

	return &ControlClient{
		token:  reg.Token,
		client: client,
		state:  reg.Snapshot,
		lg:     lg,
	}, cr, nil
}

// State returns a copy of the client's view of the simulation.
func (c *ControlClient) State() sim.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.state
	s.Incidents = slices.Clone(s.Incidents)
	s.Diversions = slices.Clone(s.Diversions)
	return s
}

func (c *ControlClient) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.client != nil
}

// GetUpdates collects the result of the last update request, if it has
// arrived, and issues a new one if it is time to. It never blocks on the
// network. Events received are applied to the local state before being
// passed to onEvent; onErr is called for failed requests.
func (c *ControlClient) GetUpdates(onEvent func(sim.Event), onErr func(error)) {
	c.mu.Lock()

	if c.client == nil {
		c.mu.Unlock()
		return
	}

	var events []sim.Event
	var callbackErr error
	var completed []*pendingCall

	if c.updateCall != nil {
		if c.updateCall.CheckFinished() {
			if err := server.TryDecodeError(c.updateCall.Call.Error); err != nil {
				callbackErr = err
			} else {
				events = *c.updateCall.Call.Reply.(*[]sim.Event)
				for _, e := range events {
					c.state.Apply(e)
				}
			}
			c.updateCall = nil
		} else if c.updateCall.TimedOut() {
			callbackErr = server.ErrRPCTimeout
		}
	}

	c.pendingCalls = slices.DeleteFunc(c.pendingCalls, func(pc *pendingCall) bool {
		if pc.CheckFinished() {
			completed = append(completed, pc)
			return true
		}
		return false
	})

	if c.updateCall == nil && time.Since(c.lastUpdateRequest) > updateInterval {
		c.lastUpdateRequest = time.Now()
		var ev []sim.Event
		c.updateCall = makeRPCCall(c.client.Go(server.GetUpdatesRPC, c.token, &ev, nil), nil)
	}

	c.mu.Unlock()

	// Callbacks are invoked without the lock held since they may call
	// back into the client.
	for _, e := range events {
		if onEvent != nil {
			onEvent(e)
		}
	}
	for _, pc := range completed {
		pc.InvokeCallback()
	}
	if callbackErr != nil && onErr != nil {
		onErr(callbackErr)
	}
}

// Disconnect unregisters from the coordinator and closes the connection.
func (c *ControlClient) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client == nil {
		return
	}
	if err := c.client.callWithTimeout(server.UnregisterForCallbackRPC, c.token, nil); err != nil {
		c.lg.Warn("unable to unregister", slog.Any("error", err))
	}
	c.client.Close()
	c.client = nil
}

func (c *ControlClient) call(method string, args, reply any) error {
	c.mu.Lock()
	client := c.client
	c.mu.Unlock()

	if client == nil {
		return server.ErrServerDisconnected
	}
	err := client.callWithTimeout(method, args, reply)
	if errors.Is(err, server.ErrRPCTimeout) || util.IsRPCServerError(err) {
		c.lg.Warn("control call failed", slog.String("method", method), slog.Any("error", err))
	}
	return err
}

// Go issues a control call without waiting for it; callback is called
// from a later GetUpdates once it has completed.
func (c *ControlClient) Go(method string, args any, callback func(error)) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client == nil {
		if callback != nil {
			callback(server.ErrServerDisconnected)
		}
		return
	}
	c.pendingCalls = append(c.pendingCalls, makeRPCCall(c.client.Go(method, args, nil, nil), callback))
}

///////////////////////////////////////////////////////////////////////////
// Scripts and the clock

func (c *ControlClient) LoadScriptFile(path string) error {
	return c.call(server.LoadScriptFileRPC, path, nil)
}

// LoadScript sends a local script file to the coordinator.
func (c *ControlClient) LoadScript(path string) error {
	contents, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return c.call(server.LoadScriptRPC, &server.LoadScriptArgs{Name: path, Contents: contents}, nil)
}

func (c *ControlClient) UnloadScript() error {
	return c.call(server.UnloadScriptRPC, struct{}{}, nil)
}

func (c *ControlClient) StartSimulation() error {
	return c.call(server.StartSimulationRPC, struct{}{}, nil)
}

func (c *ControlClient) PauseSimulation() error {
	return c.call(server.PauseSimulationRPC, struct{}{}, nil)
}

func (c *ControlClient) ResetSimulation() error {
	return c.call(server.ResetSimulationRPC, struct{}{}, nil)
}

func (c *ControlClient) GotoSimulationTime(seconds int) error {
	return c.call(server.GotoSimulationTimeRPC, seconds, nil)
}

///////////////////////////////////////////////////////////////////////////
// Incidents

func (c *ControlClient) TriggerIncident(logNumber int) error {
	return c.call(server.TriggerIncidentRPC, logNumber, nil)
}

func (c *ControlClient) DeleteIncident(logNumber int) error {
	return c.call(server.DeleteIncidentRPC, logNumber, nil)
}

func (c *ControlClient) RescheduleIncident(logNumber, seconds int) error {
	return c.call(server.RescheduleIncidentRPC, &server.RescheduleIncidentArgs{LogNumber: logNumber, Seconds: seconds}, nil)
}

func (c *ControlClient) AddIncident(inc sim.Incident) error {
	return c.call(server.AddIncidentRPC, &inc, nil)
}

func (c *ControlClient) CompleteEvent(logNumber, index int) error {
	return c.call(server.CompleteEventRPC, &server.CompleteEventArgs{LogNumber: logNumber, Index: index}, nil)
}

///////////////////////////////////////////////////////////////////////////
// Paramics

func (c *ControlClient) SetParamicsStatus(status sim.ParamicsStatus) error {
	return c.call(server.SetParamicsStatusRPC, status, nil)
}

func (c *ControlClient) ConnectToParamics() error {
	return c.call(server.ConnectToParamicsRPC, struct{}{}, nil)
}

func (c *ControlClient) DisconnectFromParamics() error {
	return c.call(server.DisconnectFromParamicsRPC, struct{}{}, nil)
}

func (c *ControlClient) LoadParamicsNetwork(networkID int) error {
	return c.call(server.LoadParamicsNetworkRPC, networkID, nil)
}

func (c *ControlClient) GetParamicsNetworkLoaded() (int, error) {
	var id int
	err := c.call(server.GetParamicsNetworkLoadedRPC, struct{}{}, &id)
	return id, err
}

///////////////////////////////////////////////////////////////////////////
// CMS diversions

func (c *ControlClient) ApplyDiversions(info sim.CMSInfo) error {
	return c.call(server.ApplyDiversionsRPC, &info, nil)
}

func (c *ControlClient) GetCMSDiversionInfo(id string) (sim.CMSInfo, error) {
	var info sim.CMSInfo
	err := c.call(server.GetCMSDiversionInfoRPC, id, &info)
	return info, err
}

func (c *ControlClient) GetCMSIDs() ([]string, error) {
	var ids []string
	err := c.call(server.GetCMSIDsRPC, struct{}{}, &ids)
	return ids, err
}

///////////////////////////////////////////////////////////////////////////
// Queries

func (c *ControlClient) GetScriptStatus() (sim.ScriptStatus, error) {
	var s sim.ScriptStatus
	err := c.call(server.GetScriptStatusRPC, struct{}{}, &s)
	return s, err
}

func (c *ControlClient) GetCurrentSimulationTime() (int, error) {
	var t int
	err := c.call(server.GetCurrentSimulationTimeRPC, struct{}{}, &t)
	return t, err
}

func (c *ControlClient) GetIncidentList() ([]sim.Incident, error) {
	var incs []sim.Incident
	err := c.call(server.GetIncidentListRPC, struct{}{}, &incs)
	return incs, err
}

func (c *ControlClient) GetTriggeredEvents() ([]sim.TriggeredEvent, error) {
	var te []sim.TriggeredEvent
	err := c.call(server.GetTriggeredEventsRPC, struct{}{}, &te)
	return te, err
}
