// sim/status.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package sim

// ScriptStatus is the run state of the simulation.
type ScriptStatus int

const (
	NoScript ScriptStatus = iota
	Ready
	Paused
	Running
	// Synchronizing means that the simulation has been started and is
	// waiting for the traffic network's next synchronization point.
	Synchronizing
)

func (s ScriptStatus) String() string {
	switch s {
	case NoScript:
		return "NO_SCRIPT"
	case Ready:
		return "READY"
	case Paused:
		return "PAUSED"
	case Running:
		return "RUNNING"
	case Synchronizing:
		return "SYNCHRONIZING"
	default:
		return "UNKNOWN"
	}
}

// Started reports whether the simulation has been started (and not reset).
func (s ScriptStatus) Started() bool {
	return s == Running || s == Paused || s == Synchronizing
}

// ParamicsStatus is the state of the connection to the Paramics traffic
// simulator, which is reported to subscribers but otherwise opaque.
type ParamicsStatus int

const (
	ParamicsUnknown ParamicsStatus = iota
	ParamicsConnecting
	ParamicsConnected
	ParamicsDisconnected
	ParamicsSendingNetworkID
	ParamicsLoading
	ParamicsWarming
	ParamicsLoaded
	ParamicsDropped
	ParamicsUnreachable
)

func (p ParamicsStatus) String() string {
	if !p.Valid() {
		return "INVALID"
	}
	return [...]string{"UNKNOWN", "CONNECTING", "CONNECTED", "DISCONNECTED", "SENDING_NETWORK_ID",
		"LOADING", "WARMING", "LOADED", "DROPPED", "UNREACHABLE"}[p]
}

// Valid reports whether p is one of the defined statuses.
func (p ParamicsStatus) Valid() bool {
	return p >= ParamicsUnknown && p <= ParamicsUnreachable
}

// Connected reports whether the status implies a live connection.
func (p ParamicsStatus) Connected() bool {
	switch p {
	case ParamicsConnected, ParamicsSendingNetworkID, ParamicsLoading, ParamicsWarming, ParamicsLoaded:
		return true
	default:
		return false
	}
}
