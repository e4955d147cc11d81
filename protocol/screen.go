// protocol/screen.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

// NumScreens is the number of screens on a CAD terminal; screens are
// numbered from 1.
const NumScreens = 4

type ScreenKind string

const (
	ScreenBlank           ScreenKind = "BLANK_SCREEN"
	ScreenIncidentBoard   ScreenKind = "INCIDENT_BOARD"
	ScreenIncidentInquiry ScreenKind = "INCIDENT_INQUIRY"
	ScreenIncidentSummary ScreenKind = "INCIDENT_SUMMARY"
	ScreenRoutedMessage   ScreenKind = "ROUTED_MESSAGE"
)

// ScreenModel is the content of one terminal screen. Exactly one of the
// model pointers is set unless Kind is ScreenBlank.
type ScreenModel struct {
	Screen  int              `msgpack:"screen"`
	Kind    ScreenKind       `msgpack:"kind"`
	Board   *IncidentBoard   `msgpack:"board,omitempty"`
	Inquiry *IncidentInquiry `msgpack:"inquiry,omitempty"`
	Summary *IncidentSummary `msgpack:"summary,omitempty"`
	Routed  *RoutedMessage   `msgpack:"routed,omitempty"`
	// CommandLine is the input the operator last saved on this screen.
	CommandLine string `msgpack:"commandLine,omitempty"`
}

// Validate checks that the model is internally consistent.
func (s ScreenModel) Validate() error {
	if s.Screen < 1 || s.Screen > NumScreens {
		return fmt.Errorf("%d: invalid screen number", s.Screen)
	}
	var ok bool
	switch s.Kind {
	case ScreenBlank:
		ok = true
	case ScreenIncidentBoard:
		ok = s.Board != nil
	case ScreenIncidentInquiry:
		ok = s.Inquiry != nil
	case ScreenIncidentSummary:
		ok = s.Summary != nil
	case ScreenRoutedMessage:
		ok = s.Routed != nil
	default:
		return fmt.Errorf("%q: unknown screen kind", s.Kind)
	}
	if !ok {
		return fmt.Errorf("%s: screen model missing", s.Kind)
	}
	return nil
}

type BoardEntry struct {
	LogNumber int    `msgpack:"logNumber"`
	Time      string `msgpack:"time"`
	Type      string `msgpack:"type"`
	Location  string `msgpack:"location"`
	Beat      string `msgpack:"beat"`
	Priority  string `msgpack:"priority"`
	Units     int    `msgpack:"units"`
}

type IncidentBoard struct {
	Entries []BoardEntry `msgpack:"entries"`
}

type InquiryLine struct {
	Time      string `msgpack:"time"`
	Text      string `msgpack:"text"`
	Sensitive bool   `msgpack:"sensitive,omitempty"`
}

type IncidentInquiry struct {
	LogNumber   int           `msgpack:"logNumber"`
	Description string        `msgpack:"description"`
	Status      string        `msgpack:"status"`
	Type        string        `msgpack:"type"`
	Location    string        `msgpack:"location"`
	Beat        string        `msgpack:"beat"`
	Priority    string        `msgpack:"priority"`
	Started     string        `msgpack:"started"`
	Units       []string      `msgpack:"units,omitempty"`
	Lines       []InquiryLine `msgpack:"lines,omitempty"`
}

type SummaryEntry struct {
	LogNumber int    `msgpack:"logNumber"`
	Time      string `msgpack:"time"`
	Type      string `msgpack:"type"`
	Location  string `msgpack:"location"`
	Details   int    `msgpack:"details"`
}

type IncidentSummary struct {
	Entries []SummaryEntry `msgpack:"entries"`
}

type RoutedMessage struct {
	Index int    `msgpack:"index"`
	Total int    `msgpack:"total"`
	From  int    `msgpack:"from"`
	Time  string `msgpack:"time"`
	Text  string `msgpack:"text"`
}

///////////////////////////////////////////////////////////////////////////
// StatusFlags

// StatusFlags records which of a terminal's screens have updates the
// operator hasn't looked at; index 0 is screen 1.
type StatusFlags [NumScreens]bool

// String encodes the flags in the UPDATE_STATUS text form,
// "1=true,2=false,3=false,4=false".
func (f StatusFlags) String() string {
	var s []string
	for i, v := range f {
		s = append(s, strconv.Itoa(i+1)+"="+strconv.FormatBool(v))
	}
	return strings.Join(s, ",")
}

func ParseStatusFlags(s string) (StatusFlags, error) {
	var f StatusFlags
	if strings.TrimSpace(s) == "" {
		return f, nil
	}
	for _, item := range strings.Split(s, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(item), "=")
		if !ok {
			return f, fmt.Errorf("%q: malformed status flag", item)
		}
		n, err := strconv.Atoi(k)
		if err != nil || n < 1 || n > NumScreens {
			return f, fmt.Errorf("%q: invalid screen number", k)
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return f, fmt.Errorf("%q: %w", v, err)
		}
		f[n-1] = b
	}
	return f, nil
}

///////////////////////////////////////////////////////////////////////////
// Function keys

type KeyboardType string

const (
	KeyboardStandard KeyboardType = "STD"
	KeyboardCAD      KeyboardType = "CAD"
)

// KeyAction is what a terminal function key does.
type KeyAction int

const (
	KeyNone KeyAction = iota
	KeyCycleScreen
	KeyRefresh
	KeyNextQueue
	KeyPrevQueue
	KeyDeleteQueue
	KeyScreenClear
	KeyCommandLineClear
	KeyCommandLineTransmit
)

func (k KeyAction) String() string {
	return [...]string{"None", "CycleScreen", "Refresh", "NextQueue", "PrevQueue", "DeleteQueue",
		"ScreenClear", "CommandLineClear", "CommandLineTransmit"}[k]
}

// Key codes shared by both keyboards.
const (
	KeyCodeCycle       = 33
	KeyCodeRefresh     = 34
	KeyCodeNextQueue   = 119
	KeyCodeDeleteQueue = 120
	KeyCodePrevQueue   = 121
)

// Keyboard-specific key codes.
const (
	KeyCodeStdScreenClear      = 123
	KeyCodeStdCommandLineClear = 122
	KeyCodeStdCommandLineTX    = 112
	KeyCodeCADScreenClear      = 61451
	KeyCodeCADCommandLineClear = 61450
	KeyCodeCADCommandLineTX    = 61447
)

// Action returns the action bound to the key on the function's keyboard.
func (f Function) Action() KeyAction {
	switch f.KeyCode {
	case KeyCodeCycle:
		return KeyCycleScreen
	case KeyCodeRefresh:
		return KeyRefresh
	case KeyCodeNextQueue:
		return KeyNextQueue
	case KeyCodeDeleteQueue:
		return KeyDeleteQueue
	case KeyCodePrevQueue:
		return KeyPrevQueue
	}

	switch f.KeyboardType {
	case KeyboardCAD:
		switch f.KeyCode {
		case KeyCodeCADScreenClear:
			return KeyScreenClear
		case KeyCodeCADCommandLineClear:
			return KeyCommandLineClear
		case KeyCodeCADCommandLineTX:
			return KeyCommandLineTransmit
		}
	default:
		switch f.KeyCode {
		case KeyCodeStdScreenClear:
			return KeyScreenClear
		case KeyCodeStdCommandLineClear:
			return KeyCommandLineClear
		case KeyCodeStdCommandLineTX:
			return KeyCommandLineTransmit
		}
	}
	return KeyNone
}
