// protocol/codec.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package protocol

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Encode serializes m as a msgpack map with a single key, the message
// kind, whose value is the kind's payload. Encoding the same message
// always gives the same bytes.
func Encode(m Message) ([]byte, error) {
	payload, err := payloadFor(m)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetSortMapKeys(true)

	if err := enc.EncodeMapLen(1); err != nil {
		return nil, err
	}
	if err := enc.EncodeString(string(m.Kind)); err != nil {
		return nil, err
	}
	if err := enc.Encode(payload); err != nil {
		return nil, fmt.Errorf("%s: %w", m.Kind, err)
	}
	return buf.Bytes(), nil
}

func payloadFor(m Message) (any, error) {
	missing := func() (any, error) {
		return nil, protocolError(ErrMalformedMessage, string(m.Kind), errors.New("payload missing"))
	}

	switch m.Kind {
	case KindTerminalRegister:
		if m.Register == nil {
			return missing()
		}
		return m.Register, nil
	case KindTerminalCmdLine:
		if m.Command == nil {
			return missing()
		}
		return m.Command, nil
	case KindTerminalFunction:
		if m.Function == nil {
			return missing()
		}
		return m.Function, nil
	case KindUpdateScreen:
		if m.Screen == nil {
			return missing()
		}
		return m.Screen, nil
	case KindSaveCommandLine, KindUpdateStatus, KindUpdateTime, KindCADInfo:
		return textPayload{Text: m.Text}, nil
	case KindUpdateMsgCount:
		return countPayload{Count: m.Count}, nil
	case KindUpdateMsgUnread:
		return unreadPayload{Unread: m.Unread}, nil
	case KindAppClose:
		return nil, nil
	default:
		return nil, protocolError(ErrUnknownCommand, string(m.Kind), nil)
	}
}

// Decode parses an encoded message. An unknown root tag gives a
// ProtocolError with reason ErrUnknownCommand; anything else that cannot
// be decoded gives reason ErrMalformedMessage.
func Decode(b []byte) (Message, error) {
	dec := msgpack.NewDecoder(bytes.NewReader(b))

	n, err := dec.DecodeMapLen()
	if err != nil {
		return Message{}, protocolError(ErrMalformedMessage, "", err)
	}
	if n != 1 {
		return Message{}, protocolError(ErrMalformedMessage, "", fmt.Errorf("document has %d roots", n))
	}

	tag, err := dec.DecodeString()
	if err != nil {
		return Message{}, protocolError(ErrMalformedMessage, "", err)
	}

	m := Message{Kind: Kind(tag)}
	if !m.Kind.Valid() {
		return Message{}, protocolError(ErrUnknownCommand, tag, nil)
	}

	malformed := func(err error) (Message, error) {
		return Message{}, protocolError(ErrMalformedMessage, tag, err)
	}
	decodeInto := func(v any) error {
		return dec.Decode(v)
	}

	switch m.Kind {
	case KindTerminalRegister:
		if err := decodeInto(&m.Register); err != nil || m.Register == nil {
			return malformed(err)
		}
	case KindTerminalCmdLine:
		if err := decodeInto(&m.Command); err != nil || m.Command == nil {
			return malformed(err)
		}
		if m.Command.Type.Mnemonic() == "" {
			return malformed(fmt.Errorf("%q: unknown command type", m.Command.Type))
		}
	case KindTerminalFunction:
		if err := decodeInto(&m.Function); err != nil || m.Function == nil {
			return malformed(err)
		}
	case KindUpdateScreen:
		if err := decodeInto(&m.Screen); err != nil || m.Screen == nil {
			return malformed(err)
		}
		if err := m.Screen.Validate(); err != nil {
			return malformed(err)
		}
	case KindSaveCommandLine, KindUpdateStatus, KindUpdateTime, KindCADInfo:
		var p textPayload
		if err := decodeInto(&p); err != nil {
			return malformed(err)
		}
		m.Text = p.Text
	case KindUpdateMsgCount:
		var p countPayload
		if err := decodeInto(&p); err != nil {
			return malformed(err)
		}
		m.Count = p.Count
	case KindUpdateMsgUnread:
		var p unreadPayload
		if err := decodeInto(&p); err != nil {
			return malformed(err)
		}
		m.Unread = p.Unread
	case KindAppClose:
		if err := dec.Skip(); err != nil {
			return malformed(err)
		}
	}

	return m, nil
}
