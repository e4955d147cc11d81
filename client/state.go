// client/state.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package client

import (
	"fmt"

	"github.com/mmp/tmcsim/protocol"
)

// TerminalState is a CAD terminal's display as last sent by the
// coordinator.
type TerminalState struct {
	Screens      [protocol.NumScreens]protocol.ScreenModel
	Flags        protocol.StatusFlags
	Time         string
	MessageCount int
	Unread       bool
	// Info is the text of the most recent CAD_INFO message.
	Info   string
	Closed bool
}

func NewTerminalState() TerminalState {
	var s TerminalState
	for i := range s.Screens {
		s.Screens[i] = protocol.ScreenModel{Screen: i + 1, Kind: protocol.ScreenBlank}
	}
	return s
}

// Apply updates the state with a message from the coordinator.
func (s *TerminalState) Apply(m protocol.Message) error {
	switch m.Kind {
	case protocol.KindUpdateScreen:
		if m.Screen == nil || m.Screen.Screen < 1 || m.Screen.Screen > protocol.NumScreens {
			return fmt.Errorf("%v: %w", m, protocol.ErrMalformedMessage)
		}
		s.Screens[m.Screen.Screen-1] = *m.Screen
	case protocol.KindUpdateStatus:
		flags, err := protocol.ParseStatusFlags(m.Text)
		if err != nil {
			return fmt.Errorf("%w: %w", protocol.ErrMalformedMessage, err)
		}
		s.Flags = flags
	case protocol.KindUpdateTime:
		s.Time = m.Text
	case protocol.KindUpdateMsgCount:
		s.MessageCount = m.Count
	case protocol.KindUpdateMsgUnread:
		s.Unread = m.Unread
	case protocol.KindCADInfo:
		s.Info = m.Text
	case protocol.KindAppClose:
		s.Closed = true
	default:
		return fmt.Errorf("%s: %w", m.Kind, protocol.ErrUnexpectedMessage)
	}
	return nil
}
