// protocol/errors.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package protocol

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownCommand    = errors.New("unknown command")
	ErrMalformedMessage  = errors.New("malformed message")
	ErrUnexpectedMessage = errors.New("unexpected message")
	ErrTransport         = errors.New("transport failure")
	ErrFrameTooLarge     = errors.New("frame too large")
)

// ProtocolError reports a message that could not be decoded or handled.
// The message is dropped; the connection it arrived on stays up.
type ProtocolError struct {
	// Reason is one of ErrUnknownCommand, ErrMalformedMessage or
	// ErrUnexpectedMessage.
	Reason error
	Tag    string
	Err    error
}

func (e *ProtocolError) Error() string {
	s := e.Reason.Error()
	if e.Tag != "" {
		s = e.Tag + ": " + s
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *ProtocolError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Reason}
	}
	return []error{e.Reason, e.Err}
}

func protocolError(reason error, tag string, err error) *ProtocolError {
	return &ProtocolError{Reason: reason, Tag: tag, Err: err}
}

// TransportError reports an I/O failure on a connection; the session
// using it must be torn down.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() []error {
	return []error{ErrTransport, e.Err}
}

// IsProtocolError reports whether err is a recoverable protocol error.
func IsProtocolError(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe)
}

// IsTransportError reports whether err means the connection is gone.
func IsTransportError(err error) bool {
	return errors.Is(err, ErrTransport)
}
