// cmdline/parse.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

// Package cmdline parses the dot-delimited command lines that dispatchers
// type at a CAD terminal, e.g. "UI.100.B/freeway.D/CHP ENRT" or
// "TO.1,2.MEcall me".
package cmdline

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/mmp/tmcsim/protocol"
)

var ErrCommandSyntax = errors.New("command syntax error")

// CommandSyntaxError is returned for any command line that can't be
// parsed. The terminal reports it locally and clears the input line.
type CommandSyntaxError struct {
	Line   string
	Reason string
}

func (e *CommandSyntaxError) Error() string {
	return fmt.Sprintf("%q: %s", e.Line, e.Reason)
}

func (e *CommandSyntaxError) Unwrap() error {
	return ErrCommandSyntax
}

const messageMnemonic = "ME"

// Parse converts a single line of operator input into a Command.
func Parse(line string) (protocol.Command, error) {
	fail := func(reason string, args ...any) (protocol.Command, error) {
		return protocol.Command{}, &CommandSyntaxError{Line: line, Reason: fmt.Sprintf(reason, args...)}
	}

	if !strings.Contains(line, ".") {
		// A bare number is an inquiry on that log.
		n, err := parseLogNumber(line)
		if err != nil {
			return fail("expected a log number or a dot-delimited command")
		}
		return protocol.Command{Type: protocol.CommandIncidentInquiry, LogNumber: n}, nil
	}

	tokens := tokenize(line)
	if len(tokens) == 0 {
		return fail("empty command")
	}

	ct, ok := protocol.LookupCommand(strings.TrimSpace(tokens[0]))
	if !ok {
		return fail("%q: unknown command", tokens[0])
	}
	cmd := protocol.Command{Type: ct}
	args := tokens[1:]

	switch ct {
	case protocol.CommandIncidentInquiry:
		if len(args) == 0 {
			return fail("missing log number")
		}
		n, err := parseLogNumber(args[0])
		if err != nil {
			return fail("%q: invalid log number", args[0])
		}
		cmd.LogNumber = n

	case protocol.CommandIncidentUpdate:
		if len(args) == 0 {
			return fail("missing incident update fields")
		}
		if n, err := parseLogNumber(args[0]); err == nil {
			cmd.LogNumber = n
			args = args[1:]
		}
		parseUpdateFields(&cmd, args)

	case protocol.CommandRoutedMessage:
		if len(args) == 0 {
			return fail("missing destination")
		}
		cmd.Destinations = strings.TrimSpace(args[0])
		msg := messageText(line)
		if len(msg) < len(messageMnemonic) || !strings.EqualFold(msg[:len(messageMnemonic)], messageMnemonic) {
			return fail("routed message text must start with %s", messageMnemonic)
		}
		cmd.Message = msg[len(messageMnemonic):]
	}

	return cmd, nil
}

// tokenize splits the line on '.', skipping empty tokens.
func tokenize(line string) []string {
	var tokens []string
	for _, t := range strings.Split(line, ".") {
		if t != "" {
			tokens = append(tokens, t)
		}
	}
	return tokens
}

// messageText returns the raw text following a routed message's
// destination token. The message may itself contain dots, including
// consecutive ones.
func messageText(line string) string {
	parts := strings.Split(line, ".")
	seen := 0
	for i, p := range parts {
		if p == "" {
			continue
		}
		if seen++; seen == 3 {
			return strings.Join(parts[i:], ".")
		}
	}
	return ""
}

func parseLogNumber(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, fmt.Errorf("%d: log numbers must be positive", n)
	}
	return n, nil
}

// splitField separates a field token into its code and value. Both the
// canonical "B/value" form and the short "Bvalue" form are accepted.
func splitField(token string) (byte, string, bool) {
	token = strings.TrimSpace(token)
	if token == "" {
		return 0, "", false
	}
	if len(token) >= 2 && token[1] == '/' {
		return token[0], token[2:], true
	}
	return token[0], token[1:], true
}

func parseUpdateFields(cmd *protocol.Command, tokens []string) {
	var witness protocol.Witness
	var haveWitness bool

	for _, tok := range tokens {
		letter, value, ok := splitField(tok)
		if !ok {
			continue
		}
		code, ok := protocol.LookupFieldCode(letter)
		if !ok {
			// Unrecognized field codes (including callbox) are dropped.
			continue
		}

		switch code {
		case protocol.FieldWitnessName:
			witness.Name = value
			haveWitness = true
		case protocol.FieldWitnessAddress:
			witness.Address = value
		case protocol.FieldWitnessPhone:
			witness.Phone = value
		case protocol.FieldDetails:
			f := protocol.Field{Code: code, Value: value}
			if q, v, ok := strings.Cut(value, "|"); ok {
				f.Qualifier, f.Value, f.Sensitive = q, v, true
			}
			cmd.Fields = append(cmd.Fields, f)
		default:
			cmd.Fields = append(cmd.Fields, protocol.Field{Code: code, Value: value})
		}
	}

	if haveWitness {
		cmd.Witness = &witness
	}
}
