// protocol/router.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package protocol

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/mmp/tmcsim/log"
)

// Handler consumes one message. Returning an error that wraps
// ErrTransport (or ErrSessionDone) ends the Serve loop; any other error is
// logged and the next message is read.
type Handler func(Message) error

// ErrSessionDone is returned by a handler to end a Serve loop cleanly.
var ErrSessionDone = errors.New("session done")

// Router dispatches messages traveling in one direction to per-kind
// handlers.
type Router struct {
	dir      Direction
	handlers map[Kind]Handler
}

func NewRouter(dir Direction) *Router {
	return &Router{dir: dir, handlers: make(map[Kind]Handler)}
}

// Handle registers h for messages of kind k. It panics if k isn't a
// message that travels in the router's direction.
func (r *Router) Handle(k Kind, h Handler) {
	if !k.Sent(r.dir) {
		panic(fmt.Sprintf("%s is not a %s message", k, r.dir))
	}
	r.handlers[k] = h
}

func (r *Router) Dispatch(m Message) error {
	if !m.Kind.Valid() {
		return protocolError(ErrUnknownCommand, string(m.Kind), nil)
	}
	h, ok := r.handlers[m.Kind]
	if !ok || !m.Kind.Sent(r.dir) {
		return protocolError(ErrUnexpectedMessage, string(m.Kind), nil)
	}
	return h(m)
}

// Serve reads messages from c and dispatches them until the connection
// fails or a handler ends the session. Protocol errors and handler
// errors are logged and otherwise ignored. It returns nil if a handler
// returned ErrSessionDone.
func Serve(c *Conn, r *Router, lg *log.Logger) error {
	for {
		m, err := c.ReadMessage()
		if err != nil {
			if IsTransportError(err) {
				return err
			}
			// Already logged by ReadMessage.
			continue
		}

		if err := r.Dispatch(m); err != nil {
			if errors.Is(err, ErrSessionDone) {
				return nil
			} else if IsTransportError(err) {
				return err
			}
			lg.Warn("message handler failed", slog.Any("message", m), slog.Any("error", err))
		}
	}
}
