package server

import (
	"errors"
	"testing"

	"github.com/mmp/tmcsim/sim"
)

func TestTryDecodeError(t *testing.T) {
	for _, test := range []struct {
		text   string
		reason error
		detail string
	}{
		{sim.ErrUnknownIncident.Error(), sim.ErrUnknownIncident, ""},
		{ErrRPCVersionMismatch.Error(), ErrRPCVersionMismatch, ""},
		{sim.ErrUnknownIncident.Error() + ": 123", sim.ErrUnknownIncident, "123"},
		{sim.ErrInvalidScript.Error() + ": line 4: unexpected EOF", sim.ErrInvalidScript, "line 4: unexpected EOF"},
	} {
		err := TryDecodeError(errors.New(test.text))
		if !errors.Is(err, test.reason) {
			t.Errorf("%q: decoded to %v, want %v", test.text, err, test.reason)
		}
		if test.detail == "" {
			if err != test.reason {
				t.Errorf("%q: expected the sentinel itself, got %#v", test.text, err)
			}
			continue
		}
		var se *sim.ScriptError
		if !errors.As(err, &se) || se.Detail != test.detail {
			t.Errorf("%q: expected a ScriptError with detail %q, got %#v", test.text, test.detail, err)
		}
	}

	other := errors.New("connection reset by peer")
	if err := TryDecodeError(other); err != other {
		t.Errorf("unknown error decoded to %v", err)
	}
	if TryDecodeError(nil) != nil {
		t.Error("nil error decoded to non-nil")
	}
	if TryDecodeErrorString("no such error") != nil {
		t.Error("unknown string decoded")
	}
}
