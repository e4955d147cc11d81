// sim/errors.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package sim

import (
	"errors"
	"strings"
)

var (
	ErrDuplicateIncident      = errors.New("Duplicate incident number")
	ErrIncidentAlreadyStarted = errors.New("Incident has already occurred")
	ErrInvalidCommand         = errors.New("Invalid terminal command")
	ErrInvalidDiversion       = errors.New("Invalid CMS diversion")
	ErrInvalidEvent           = errors.New("Invalid incident event")
	ErrInvalidIncident        = errors.New("Invalid incident")
	ErrInvalidScript          = errors.New("Invalid script file")
	ErrInvalidTime            = errors.New("Invalid simulation time")
	ErrInvalidParamicsStatus  = errors.New("Invalid Paramics status")
	ErrNoScriptLoaded         = errors.New("Simulation must have at least one incident loaded")
	ErrParamicsNotConnected   = errors.New("Paramics is not connected")
	ErrSimNotStarted          = errors.New("Simulation must be started")
	ErrTimePassed             = errors.New("Simulation time has already passed")
	ErrUnknownCMS             = errors.New("Unknown CMS")
	ErrUnknownIncident        = errors.New("Unknown incident log number")
)

// ScriptError reports invalid script content or a control command with
// an invalid target. Reason is one of the sentinel errors above; Detail
// describes the specific problem. Errs holds any further sentinel errors,
// as when a script file has several problems.
type ScriptError struct {
	Reason error
	Detail string
	Errs   []error
}

func (e *ScriptError) Error() string {
	if e.Detail == "" {
		return e.Reason.Error()
	}
	return e.Reason.Error() + ": " + e.Detail
}

func (e *ScriptError) Unwrap() []error {
	return append([]error{e.Reason}, e.Errs...)
}

func scriptError(reason error, detail ...string) *ScriptError {
	return &ScriptError{Reason: reason, Detail: strings.Join(detail, " ")}
}

// IsScriptError reports whether err is a ScriptError.
func IsScriptError(err error) bool {
	var se *ScriptError
	return errors.As(err, &se)
}
