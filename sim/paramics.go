// sim/paramics.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package sim

import (
	"context"
	"sync"
)

// ParamicsBridge is the link to the Paramics traffic simulator. The
// coordinator drives it but never waits on it while holding its lock;
// the bridge reports status changes back through
// Coordinator.SetParamicsStatus.
type ParamicsBridge interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	LoadNetwork(ctx context.Context, networkID int) error
	// UpdateIncidents sends the current state of the occurred incidents.
	UpdateIncidents(ctx context.Context, clock int, incidents []Incident) error
	ApplyDiversion(ctx context.Context, info CMSInfo) error
	// Reset is called when the simulation is reset.
	Reset(ctx context.Context) error
}

// NullParamics is a ParamicsBridge for running without a traffic
// simulator. It accepts every request and remembers the most recent
// ones.
type NullParamics struct {
	mu         sync.Mutex
	connected  bool
	NetworkID  int
	Updates    int
	LastUpdate []Incident
	Diversions []CMSInfo
	Resets     int
}

func (n *NullParamics) Connect(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.connected = true
	return nil
}

func (n *NullParamics) Disconnect(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.connected = false
	return nil
}

func (n *NullParamics) LoadNetwork(ctx context.Context, networkID int) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.connected {
		return scriptError(ErrParamicsNotConnected)
	}
	n.NetworkID = networkID
	return nil
}

func (n *NullParamics) UpdateIncidents(ctx context.Context, clock int, incidents []Incident) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Updates++
	n.LastUpdate = incidents
	return nil
}

func (n *NullParamics) ApplyDiversion(ctx context.Context, info CMSInfo) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Diversions = append(n.Diversions, info)
	return nil
}

func (n *NullParamics) Reset(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Resets++
	return nil
}

// Stats returns the number of incident updates and resets received.
func (n *NullParamics) Stats() (updates, resets int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.Updates, n.Resets
}
