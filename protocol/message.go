// protocol/message.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package protocol

import (
	"fmt"
	"log/slog"
)

// Message is a single protocol message exchanged between a CAD terminal
// and the coordinator. Kind selects which of the other fields is
// meaningful; messages are built with the constructors below and are not
// modified after they have been sent.
type Message struct {
	Kind Kind

	Register *Register
	Command  *Command
	Function *Function
	Screen   *ScreenModel

	// Text holds the payload of SAVE_COMMAND_LINE, UPDATE_STATUS,
	// UPDATE_TIME and CAD_INFO.
	Text   string
	Count  int
	Unread bool
}

type Register struct {
	Position int    `msgpack:"position"`
	UserID   string `msgpack:"userId"`
}

// Function is a raw function-key press from a terminal keyboard.
type Function struct {
	KeyboardType KeyboardType `msgpack:"keyboardType"`
	KeyCode      int          `msgpack:"keyCode"`
}

type textPayload struct {
	Text string `msgpack:"text"`
}

type countPayload struct {
	Count int `msgpack:"count"`
}

type unreadPayload struct {
	Unread bool `msgpack:"unread"`
}

func NewRegister(position int, userID string) Message {
	return Message{Kind: KindTerminalRegister, Register: &Register{Position: position, UserID: userID}}
}

func NewCommandLine(cmd Command) Message {
	return Message{Kind: KindTerminalCmdLine, Command: &cmd}
}

func NewFunction(kbd KeyboardType, code int) Message {
	return Message{Kind: KindTerminalFunction, Function: &Function{KeyboardType: kbd, KeyCode: code}}
}

func NewSaveCommandLine(text string) Message {
	return Message{Kind: KindSaveCommandLine, Text: text}
}

func NewAppClose() Message {
	return Message{Kind: KindAppClose}
}

func NewUpdateScreen(s ScreenModel) Message {
	return Message{Kind: KindUpdateScreen, Screen: &s}
}

func NewUpdateStatus(flags StatusFlags) Message {
	return Message{Kind: KindUpdateStatus, Text: flags.String()}
}

func NewUpdateTime(text string) Message {
	return Message{Kind: KindUpdateTime, Text: text}
}

func NewMsgCount(n int) Message {
	return Message{Kind: KindUpdateMsgCount, Count: n}
}

func NewMsgUnread(unread bool) Message {
	return Message{Kind: KindUpdateMsgUnread, Unread: unread}
}

func NewCADInfo(text string) Message {
	return Message{Kind: KindCADInfo, Text: text}
}

func (m Message) String() string {
	switch m.Kind {
	case KindTerminalRegister:
		if m.Register != nil {
			return fmt.Sprintf("%s{position:%d userId:%s}", m.Kind, m.Register.Position, m.Register.UserID)
		}
	case KindTerminalCmdLine:
		if m.Command != nil {
			return fmt.Sprintf("%s{%s}", m.Kind, m.Command)
		}
	case KindTerminalFunction:
		if m.Function != nil {
			return fmt.Sprintf("%s{%s:%d}", m.Kind, m.Function.KeyboardType, m.Function.KeyCode)
		}
	case KindUpdateScreen:
		if m.Screen != nil {
			return fmt.Sprintf("%s{screen:%d %s}", m.Kind, m.Screen.Screen, m.Screen.Kind)
		}
	case KindSaveCommandLine, KindUpdateStatus, KindUpdateTime, KindCADInfo:
		return fmt.Sprintf("%s{%q}", m.Kind, m.Text)
	case KindUpdateMsgCount:
		return fmt.Sprintf("%s{%d}", m.Kind, m.Count)
	case KindUpdateMsgUnread:
		return fmt.Sprintf("%s{%v}", m.Kind, m.Unread)
	}
	return string(m.Kind)
}

// implements slog.LogValuer
func (m Message) LogValue() slog.Value {
	return slog.GroupValue(slog.String("kind", string(m.Kind)), slog.String("message", m.String()))
}
