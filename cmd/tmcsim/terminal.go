// cmd/tmcsim/terminal.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/mmp/tmcsim/client"
	"github.com/mmp/tmcsim/log"
	"github.com/mmp/tmcsim/protocol"

	"github.com/goforj/godump"
)

// Function keys are given as lines starting with "/".
var terminalKeys = map[string]int{
	"/cycle":   protocol.KeyCodeCycle,
	"/refresh": protocol.KeyCodeRefresh,
	"/next":    protocol.KeyCodeNextQueue,
	"/prev":    protocol.KeyCodePrevQueue,
	"/delete":  protocol.KeyCodeDeleteQueue,
}

// runTerminal is a line-mode CAD terminal: each line read from in is sent
// as a command line and the coordinator's updates are written to out.
func runTerminal(ctx context.Context, addr string, position int, user string, in io.Reader, out io.Writer,
	lg *log.Logger) error {
	tc, err := client.DialTerminal(addr, position, user, lg)
	if err != nil {
		return err
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return tc.Close()

		case m, ok := <-tc.Updates():
			if !ok {
				return tc.Err()
			}
			printMessage(out, m)

		case line, ok := <-lines:
			if !ok || line == "/quit" {
				return tc.Close()
			}
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}

			if code, ok := terminalKeys[line]; ok {
				err = tc.Key(protocol.KeyboardCAD, code)
			} else if strings.HasPrefix(line, "/") {
				fmt.Fprintf(out, "keys: /cycle /refresh /next /prev /delete /quit\n")
			} else {
				err = tc.Execute(line)
				if err != nil && !protocol.IsTransportError(err) {
					fmt.Fprintf(out, "%v\n", err)
					err = nil
				}
			}
			if err != nil {
				return err
			}
		}
	}
}

func printMessage(w io.Writer, m protocol.Message) {
	switch m.Kind {
	case protocol.KindUpdateScreen:
		printScreen(w, *m.Screen)
	case protocol.KindUpdateTime:
		fmt.Fprintf(w, "[%s]\n", m.Text)
	case protocol.KindUpdateMsgCount:
		fmt.Fprintf(w, "messages: %d\n", m.Count)
	case protocol.KindUpdateMsgUnread:
		if m.Unread {
			fmt.Fprintln(w, "unread messages")
		}
	case protocol.KindCADInfo:
		fmt.Fprintln(w, m.Text)
	case protocol.KindUpdateStatus:
		// The status flags are only of interest with a screen to show them on.
	case protocol.KindAppClose:
		fmt.Fprintln(w, "signed off")
	}
}

func printScreen(w io.Writer, s protocol.ScreenModel) {
	fmt.Fprintf(w, "--- screen %d: %s\n", s.Screen, s.Kind)
	switch s.Kind {
	case protocol.ScreenIncidentBoard:
		for _, e := range s.Board.Entries {
			fmt.Fprintf(w, "%4d %s %-6s %-30s %-4s %s %d\n", e.LogNumber, e.Time, e.Type, e.Location, e.Beat,
				e.Priority, e.Units)
		}
	case protocol.ScreenIncidentSummary:
		for _, e := range s.Summary.Entries {
			fmt.Fprintf(w, "%4d %s %-6s %-30s %d\n", e.LogNumber, e.Time, e.Type, e.Location, e.Details)
		}
	case protocol.ScreenIncidentInquiry:
		q := s.Inquiry
		fmt.Fprintf(w, "%d %s %s\n%s %s %s %s started %s\n", q.LogNumber, q.Description, q.Status, q.Type,
			q.Location, q.Beat, q.Priority, q.Started)
		if len(q.Units) > 0 {
			fmt.Fprintf(w, "units: %s\n", strings.Join(q.Units, " "))
		}
		for _, l := range q.Lines {
			fmt.Fprintf(w, "%s %s\n", l.Time, l.Text)
		}
	case protocol.ScreenRoutedMessage:
		r := s.Routed
		fmt.Fprintf(w, "%d of %d from %d at %s\n%s\n", r.Index, r.Total, r.From, r.Time, r.Text)
	case protocol.ScreenBlank:
	default:
		fmt.Fprint(w, godump.DumpStr(s))
	}
	if s.CommandLine != "" {
		fmt.Fprintf(w, "> %s\n", s.CommandLine)
	}
}
