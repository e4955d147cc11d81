// protocol/kinds.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package protocol

// Kind identifies a protocol message; it is the root tag of the encoded
// document.
type Kind string

// Client to coordinator.
const (
	KindTerminalRegister Kind = "TERMINAL_REGISTER"
	KindTerminalCmdLine  Kind = "TERMINAL_CMD_LINE"
	KindTerminalFunction Kind = "TERMINAL_FUNCTION"
	KindSaveCommandLine  Kind = "SAVE_COMMAND_LINE"
)

// Coordinator to client.
const (
	KindUpdateScreen    Kind = "UPDATE_SCREEN"
	KindUpdateStatus    Kind = "UPDATE_STATUS"
	KindUpdateTime      Kind = "UPDATE_TIME"
	KindUpdateMsgCount  Kind = "UPDATE_MSG_COUNT"
	KindUpdateMsgUnread Kind = "UPDATE_MSG_UNREAD"
	KindCADInfo         Kind = "CAD_INFO"
)

// Both directions.
const KindAppClose Kind = "APP_CLOSE"

// Direction says which side of a terminal connection sends a message.
type Direction int

const (
	ToCoordinator Direction = iota
	ToClient
)

func (d Direction) String() string {
	if d == ToCoordinator {
		return "to-coordinator"
	}
	return "to-client"
}

var kindDirections = map[Kind][]Direction{
	KindTerminalRegister: {ToCoordinator},
	KindTerminalCmdLine:  {ToCoordinator},
	KindTerminalFunction: {ToCoordinator},
	KindSaveCommandLine:  {ToCoordinator},
	KindUpdateScreen:     {ToClient},
	KindUpdateStatus:     {ToClient},
	KindUpdateTime:       {ToClient},
	KindUpdateMsgCount:   {ToClient},
	KindUpdateMsgUnread:  {ToClient},
	KindCADInfo:          {ToClient},
	KindAppClose:         {ToCoordinator, ToClient},
}

// Valid reports whether k is a known message kind.
func (k Kind) Valid() bool {
	_, ok := kindDirections[k]
	return ok
}

// Sent reports whether messages of kind k travel in direction d.
func (k Kind) Sent(d Direction) bool {
	for _, kd := range kindDirections[k] {
		if kd == d {
			return true
		}
	}
	return false
}
