// protocol/stream.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package protocol

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/mmp/tmcsim/log"
)

// MaxFrameSize bounds the size of a single encoded message.
const MaxFrameSize = 1 << 20

type deadliner interface {
	SetWriteDeadline(t time.Time) error
}

// Conn carries Messages over a byte stream. Each message is sent as a
// 4-byte big-endian length followed by the encoded message, so a message
// that fails to decode can be skipped without losing the stream's
// framing. Writes may come from multiple goroutines; reads must all come
// from one.
type Conn struct {
	rwc io.ReadWriteCloser
	r   *bufio.Reader
	wmu sync.Mutex
	lg  *log.Logger
}

func NewConn(rwc io.ReadWriteCloser, lg *log.Logger) *Conn {
	return &Conn{rwc: rwc, r: bufio.NewReader(rwc), lg: lg}
}

// ReadMessage returns the next message. A *ProtocolError means that the
// frame was consumed and dropped and the caller may keep reading; a
// *TransportError means the connection is unusable.
func (c *Conn) ReadMessage() (Message, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(c.r, hdr[:]); err != nil {
		return Message{}, &TransportError{Op: "read", Err: err}
	}

	n := binary.BigEndian.Uint32(hdr[:])
	if n > MaxFrameSize {
		// Skip the frame; the stream stays in sync.
		if _, err := io.CopyN(io.Discard, c.r, int64(n)); err != nil {
			return Message{}, &TransportError{Op: "read", Err: err}
		}
		c.lg.Warn("dropping oversized message", slog.Int("length", int(n)))
		return Message{}, protocolError(ErrMalformedMessage, "", fmt.Errorf("%d bytes: %w", n, ErrFrameTooLarge))
	}

	buf := make([]byte, n)
	if _, err := io.ReadFull(c.r, buf); err != nil {
		return Message{}, &TransportError{Op: "read", Err: err}
	}

	m, err := Decode(buf)
	if err != nil {
		c.lg.Warn("dropping undecodable message", slog.Any("error", err), slog.Int("length", int(n)))
		return Message{}, err
	}
	return m, nil
}

// WriteMessage encodes and sends m. A zero timeout means no deadline.
func (c *Conn) WriteMessage(m Message, timeout time.Duration) error {
	b, err := Encode(m)
	if err != nil {
		return err
	}
	if len(b) > MaxFrameSize {
		return protocolError(ErrMalformedMessage, string(m.Kind), ErrFrameTooLarge)
	}

	frame := make([]byte, 4+len(b))
	binary.BigEndian.PutUint32(frame, uint32(len(b)))
	copy(frame[4:], b)

	c.wmu.Lock()
	defer c.wmu.Unlock()

	if d, ok := c.rwc.(deadliner); ok && timeout > 0 {
		_ = d.SetWriteDeadline(time.Now().Add(timeout))
		defer d.SetWriteDeadline(time.Time{})
	}

	if _, err := c.rwc.Write(frame); err != nil {
		return &TransportError{Op: "write", Err: err}
	}
	return nil
}

func (c *Conn) Close() error {
	return c.rwc.Close()
}
