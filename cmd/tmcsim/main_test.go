package main

import (
	"errors"
	"strings"
	"testing"

	"github.com/mmp/tmcsim/protocol"
)

func TestWithPort(t *testing.T) {
	for _, tc := range []struct {
		addr, want string
	}{
		{"localhost", "localhost:4443"},
		{"10.0.0.1:5000", "10.0.0.1:5000"},
		{"::1", "[::1]:4443"},
		{"[::1]:5000", "[::1]:5000"},
	} {
		if got := withPort(tc.addr, 4443); got != tc.want {
			t.Errorf("withPort(%q) = %q, expected %q", tc.addr, got, tc.want)
		}
	}
}

func TestPrintMessage(t *testing.T) {
	var sb strings.Builder
	printMessage(&sb, protocol.NewUpdateScreen(protocol.ScreenModel{
		Screen: 2,
		Kind:   protocol.ScreenRoutedMessage,
		Routed: &protocol.RoutedMessage{Index: 1, Total: 2, From: 3, Time: "00:01:00", Text: "CHECK CCTV"},
	}))
	printMessage(&sb, protocol.NewCADInfo("0753: Invalid Log Number"))
	printMessage(&sb, protocol.NewUpdateStatus(protocol.StatusFlags{}))

	want := "--- screen 2: ROUTED_MESSAGE\n1 of 2 from 3 at 00:01:00\nCHECK CCTV\n0753: Invalid Log Number\n"
	if sb.String() != want {
		t.Errorf("got %q, expected %q", sb.String(), want)
	}
}

func TestRunControlUsage(t *testing.T) {
	if err := runControl(t.Context(), "localhost:1", []string{"goto"}, nil); !errors.Is(err, errUsage) {
		t.Errorf("expected a usage error, got %v", err)
	}
	if err := runControl(t.Context(), "localhost:1", []string{"bogus"}, nil); err == nil {
		t.Error("expected an error for an unknown command")
	}
}
