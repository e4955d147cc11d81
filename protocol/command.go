// protocol/command.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package protocol

import (
	"strconv"
	"strings"
)

// CommandType is the family of a parsed command line.
type CommandType string

const (
	CommandIncidentBoard   CommandType = "INCIDENT_BOARD"
	CommandIncidentInquiry CommandType = "INCIDENT_INQUIRY"
	CommandIncidentSummary CommandType = "INCIDENT_SUMMARY"
	CommandIncidentUpdate  CommandType = "INCIDENT_UPDATE"
	CommandRoutedMessage   CommandType = "ROUTED_MESSAGE"
	CommandTerminalOff     CommandType = "TERMINAL_OFF"
	CommandAppClose        CommandType = "APP_CLOSE"
)

var commandMnemonics = map[CommandType]string{
	CommandIncidentBoard:   "IB",
	CommandIncidentInquiry: "II",
	CommandIncidentSummary: "SA",
	CommandIncidentUpdate:  "UI",
	CommandRoutedMessage:   "TO",
	CommandTerminalOff:     "OF",
	CommandAppClose:        "EX",
}

// Mnemonic returns the two-letter command-line mnemonic for the command.
func (c CommandType) Mnemonic() string {
	return commandMnemonics[c]
}

// LookupCommand returns the command type with the given mnemonic.
func LookupCommand(mnemonic string) (CommandType, bool) {
	for ct, m := range commandMnemonics {
		if m == mnemonic {
			return ct, true
		}
	}
	return "", false
}

// FieldCode identifies an incident-update field; its value is the
// field's single-letter mnemonic.
type FieldCode byte

const (
	FieldWitnessAddress FieldCode = 'A'
	FieldBeat           FieldCode = 'B'
	FieldDetails        FieldCode = 'D'
	FieldHandlingUnit   FieldCode = 'H'
	FieldIncidentNumber FieldCode = 'I'
	FieldLocation       FieldCode = 'L'
	FieldWitnessPhone   FieldCode = 'N'
	FieldPriority       FieldCode = 'P'
	FieldRoute          FieldCode = 'R'
	FieldType           FieldCode = 'T'
	FieldTow            FieldCode = 'V'
	FieldWitnessName    FieldCode = 'W'
)

var fieldNames = map[FieldCode]string{
	FieldWitnessAddress: "WITNESS_ADDRESS",
	FieldBeat:           "BEAT",
	FieldDetails:        "DETAILS",
	FieldHandlingUnit:   "HANDLING_UNIT",
	FieldIncidentNumber: "INCIDENT_NUMBER",
	FieldLocation:       "LOCATION",
	FieldWitnessPhone:   "WITNESS_PHONE",
	FieldPriority:       "PRIORITY",
	FieldRoute:          "ROUTE",
	FieldType:           "TYPE",
	FieldTow:            "TOW",
	FieldWitnessName:    "WITNESS",
}

// LookupFieldCode returns the field code for a mnemonic letter.
func LookupFieldCode(b byte) (FieldCode, bool) {
	_, ok := fieldNames[FieldCode(b)]
	return FieldCode(b), ok
}

func (f FieldCode) String() string {
	if n, ok := fieldNames[f]; ok {
		return n
	}
	return "UNKNOWN(" + string(rune(f)) + ")"
}

// Mnemonic returns the canonical command-line prefix for the field, e.g.
// "B/".
func (f FieldCode) Mnemonic() string {
	return string(rune(f)) + "/"
}

// IsWitness reports whether the field is part of a witness record.
func (f FieldCode) IsWitness() bool {
	return f == FieldWitnessName || f == FieldWitnessAddress || f == FieldWitnessPhone
}

// Field is one incident-update field. For sensitive details, Qualifier
// holds the text that preceded the '|'.
type Field struct {
	Code      FieldCode `msgpack:"code"`
	Value     string    `msgpack:"value"`
	Qualifier string    `msgpack:"qualifier,omitempty"`
	Sensitive bool      `msgpack:"sensitive,omitempty"`
}

type Witness struct {
	Name    string `msgpack:"name"`
	Address string `msgpack:"address,omitempty"`
	Phone   string `msgpack:"phone,omitempty"`
}

// Command is a parsed operator command line.
type Command struct {
	Type CommandType `msgpack:"type"`
	// LogNumber is 0 when no log number was given.
	LogNumber int      `msgpack:"logNumber,omitempty"`
	Fields    []Field  `msgpack:"fields,omitempty"`
	Witness   *Witness `msgpack:"witness,omitempty"`
	// Destinations is the comma-separated position list of a routed
	// message.
	Destinations string `msgpack:"destinations,omitempty"`
	Message      string `msgpack:"message,omitempty"`
}

// Field returns the last value given for the field code.
func (c Command) Field(code FieldCode) (Field, bool) {
	for i := len(c.Fields) - 1; i >= 0; i-- {
		if c.Fields[i].Code == code {
			return c.Fields[i], true
		}
	}
	return Field{}, false
}

// Details returns all of the details fields, in order.
func (c Command) Details() []Field {
	var d []Field
	for _, f := range c.Fields {
		if f.Code == FieldDetails {
			d = append(d, f)
		}
	}
	return d
}

// DestinationPositions parses the destination list of a routed message.
func (c Command) DestinationPositions() ([]int, error) {
	var pos []int
	for _, d := range strings.Split(c.Destinations, ",") {
		p, err := strconv.Atoi(strings.TrimSpace(d))
		if err != nil {
			return nil, err
		}
		pos = append(pos, p)
	}
	return pos, nil
}

// String renders the command in canonical command-line syntax; parsing the
// result gives back an equivalent Command.
func (c Command) String() string {
	var b strings.Builder
	b.WriteString(c.Type.Mnemonic())

	switch c.Type {
	case CommandIncidentInquiry:
		b.WriteString("." + strconv.Itoa(c.LogNumber))

	case CommandIncidentUpdate:
		if c.LogNumber != 0 {
			b.WriteString("." + strconv.Itoa(c.LogNumber))
		}
		for _, f := range c.Fields {
			b.WriteString("." + f.Code.Mnemonic())
			if f.Sensitive {
				b.WriteString(f.Qualifier + "|")
			}
			b.WriteString(f.Value)
		}
		if w := c.Witness; w != nil {
			b.WriteString("." + FieldWitnessName.Mnemonic() + w.Name)
			if w.Address != "" {
				b.WriteString("." + FieldWitnessAddress.Mnemonic() + w.Address)
			}
			if w.Phone != "" {
				b.WriteString("." + FieldWitnessPhone.Mnemonic() + w.Phone)
			}
		}

	case CommandRoutedMessage:
		b.WriteString("." + c.Destinations + ".ME" + c.Message)

	default:
		b.WriteString(".")
	}
	return b.String()
}
