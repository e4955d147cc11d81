// server/errors.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package server

import (
	"errors"

	"github.com/mmp/tmcsim/cmdline"
	"github.com/mmp/tmcsim/protocol"
	"github.com/mmp/tmcsim/sim"
	"github.com/mmp/tmcsim/util"
)

var (
	ErrInvalidManagerToken = errors.New("Invalid simulation manager token")
	ErrInvalidPosition     = errors.New("Invalid terminal position")
	ErrMailboxFull         = errors.New("Simulation manager mailbox is full")
	ErrNotRegistered       = errors.New("Terminal has not registered")
	ErrRPCTimeout          = util.ErrRPCTimeout
	ErrRPCVersionMismatch  = errors.New("Client and server RPC versions don't match")
	ErrServerDisconnected  = errors.New("Server disconnected")
)

// Errors returned from RPC calls arrive at the client as strings;
// errorStringToError maps them back to the sentinel values so that
// callers can use errors.Is.
var errorStringToError = map[string]error{
	sim.ErrDuplicateIncident.Error():      sim.ErrDuplicateIncident,
	sim.ErrIncidentAlreadyStarted.Error(): sim.ErrIncidentAlreadyStarted,
	sim.ErrInvalidCommand.Error():         sim.ErrInvalidCommand,
	sim.ErrInvalidDiversion.Error():       sim.ErrInvalidDiversion,
	sim.ErrInvalidEvent.Error():           sim.ErrInvalidEvent,
	sim.ErrInvalidIncident.Error():        sim.ErrInvalidIncident,
	sim.ErrInvalidParamicsStatus.Error():  sim.ErrInvalidParamicsStatus,
	sim.ErrInvalidScript.Error():          sim.ErrInvalidScript,
	sim.ErrInvalidTime.Error():            sim.ErrInvalidTime,
	sim.ErrNoScriptLoaded.Error():         sim.ErrNoScriptLoaded,
	sim.ErrParamicsNotConnected.Error():   sim.ErrParamicsNotConnected,
	sim.ErrSimNotStarted.Error():          sim.ErrSimNotStarted,
	sim.ErrTimePassed.Error():             sim.ErrTimePassed,
	sim.ErrUnknownCMS.Error():             sim.ErrUnknownCMS,
	sim.ErrUnknownIncident.Error():        sim.ErrUnknownIncident,
	sim.ErrSubscriberOverflow.Error():     sim.ErrSubscriberOverflow,

	protocol.ErrMalformedMessage.Error():  protocol.ErrMalformedMessage,
	protocol.ErrUnexpectedMessage.Error(): protocol.ErrUnexpectedMessage,
	protocol.ErrUnknownCommand.Error():    protocol.ErrUnknownCommand,

	cmdline.ErrCommandSyntax.Error(): cmdline.ErrCommandSyntax,

	ErrInvalidManagerToken.Error(): ErrInvalidManagerToken,
	ErrInvalidPosition.Error():     ErrInvalidPosition,
	ErrMailboxFull.Error():         ErrMailboxFull,
	ErrNotRegistered.Error():       ErrNotRegistered,
	ErrRPCTimeout.Error():          ErrRPCTimeout,
	ErrRPCVersionMismatch.Error():  ErrRPCVersionMismatch,
	ErrServerDisconnected.Error():  ErrServerDisconnected,
}

// TryDecodeError returns the sentinel error matching e's text if there is
// one. ScriptErrors carry detail after the reason; those are returned as
// a ScriptError with the sentinel reason.
func TryDecodeError(e error) error {
	if e == nil {
		return e
	}
	if err := TryDecodeErrorString(e.Error()); err != nil {
		return err
	}
	return e
}

func TryDecodeErrorString(s string) error {
	if err, ok := errorStringToError[s]; ok {
		return err
	}
	for str, err := range errorStringToError {
		if len(s) > len(str)+2 && s[:len(str)+2] == str+": " {
			return &sim.ScriptError{Reason: err, Detail: s[len(str)+2:]}
		}
	}
	return nil
}
