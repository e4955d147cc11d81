// util/util_test.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package util

import (
	"errors"
	"net"
	"net/rpc"
	"slices"
	"strings"
	"testing"
)

func TestRingBuffer(t *testing.T) {
	rb := NewRingBuffer[int](3)
	if rb.Size() != 0 {
		t.Errorf("expected empty buffer, got size %d", rb.Size())
	}

	rb.Add(1, 2)
	if rb.Size() != 2 || rb.Get(0) != 1 || rb.Get(1) != 2 {
		t.Errorf("unexpected contents after two adds")
	}

	rb.Add(3, 4, 5)
	if rb.Size() != 3 {
		t.Fatalf("expected size 3, got %d", rb.Size())
	}
	for i, want := range []int{3, 4, 5} {
		if got := rb.Get(i); got != want {
			t.Errorf("Get(%d) = %d, want %d", i, got, want)
		}
	}
}

func TestSortedMapKeys(t *testing.T) {
	m := map[int]string{300: "c", 100: "a", 200: "b"}
	if got := SortedMapKeys(m); !slices.Equal(got, []int{100, 200, 300}) {
		t.Errorf("SortedMapKeys = %v", got)
	}
}

func TestSliceHelpers(t *testing.T) {
	s := []int{1, 2, 3, 4}
	if got := MapSlice(s, func(v int) int { return v * 10 }); !slices.Equal(got, []int{10, 20, 30, 40}) {
		t.Errorf("MapSlice = %v", got)
	}
	if got := FilterSlice(s, func(v int) bool { return v%2 == 0 }); !slices.Equal(got, []int{2, 4}) {
		t.Errorf("FilterSlice = %v", got)
	}
	if Clamp(120, 0, 100) != 100 || Clamp(-3, 0, 100) != 0 || Clamp(42, 0, 100) != 42 {
		t.Errorf("Clamp gave unexpected results")
	}
	if Select(true, "a", "b") != "a" || Select(false, "a", "b") != "b" {
		t.Errorf("Select gave unexpected results")
	}
}

func TestErrorLogger(t *testing.T) {
	var e ErrorLogger
	if e.HaveErrors() {
		t.Errorf("new ErrorLogger should not have errors")
	}

	e.Push("SCRIPT_EVENT 00:01:00")
	e.Push("INCIDENT 100")
	e.ErrorString("bad %s", "thing")
	e.Pop()
	e.Error(errors.New("other"))
	e.Pop()
	e.ErrorString("top level")

	if !e.HaveErrors() || len(e.Errors()) != 3 {
		t.Fatalf("expected 3 errors, got %v", e.Errors())
	}
	if got := e.Errors()[0]; got != "SCRIPT_EVENT 00:01:00 / INCIDENT 100: bad thing" {
		t.Errorf("unexpected first error %q", got)
	}
	if got := e.Errors()[1]; got != "SCRIPT_EVENT 00:01:00: other" {
		t.Errorf("unexpected second error %q", got)
	}
	if got := e.Errors()[2]; got != "top level" {
		t.Errorf("unexpected third error %q", got)
	}
	if want := "SCRIPT_EVENT 00:01:00 / INCIDENT 100: bad thing\nSCRIPT_EVENT 00:01:00: other\ntop level"; e.String() != want {
		t.Errorf("String() = %q, expected %q", e.String(), want)
	}
}

type EchoArgs struct {
	Text  string
	Count int
}

type echoService struct{}

func (echoService) Repeat(args *EchoArgs, result *string) error {
	if args.Count < 0 {
		return errors.New("negative count")
	}
	*result = strings.Repeat(args.Text, args.Count)
	return nil
}

func TestMessagepackRPCOverCompressedConn(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()

	srv := rpc.NewServer()
	if err := srv.RegisterName("Echo", echoService{}); err != nil {
		t.Fatal(err)
	}

	go func() {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		cc, err := MakeCompressedConn(MakeLoggingConn(conn, nil))
		if err != nil {
			return
		}
		srv.ServeCodec(MakeLoggingServerCodec("test", MakeMessagepackServerCodec(cc, nil), nil))
	}()

	conn, err := net.Dial("tcp", l.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	cc, err := MakeCompressedConn(conn)
	if err != nil {
		t.Fatal(err)
	}
	client := rpc.NewClientWithCodec(MakeLoggingClientCodec("test", MakeMessagepackClientCodec(cc), nil))
	defer client.Close()

	var result string
	if err := client.Call("Echo.Repeat", &EchoArgs{Text: "ab", Count: 3}, &result); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if result != "ababab" {
		t.Errorf("got %q, want %q", result, "ababab")
	}

	err = client.Call("Echo.Repeat", &EchoArgs{Text: "x", Count: -1}, &result)
	if err == nil || !IsRPCServerError(err) || err.Error() != "negative count" {
		t.Errorf("expected server error, got %v", err)
	}

	// The connection should still be usable after a server-side error.
	if err := client.Call("Echo.Repeat", &EchoArgs{Text: "z", Count: 2}, &result); err != nil || result != "zz" {
		t.Errorf("second call gave %q, %v", result, err)
	}

	rx, tx := GetLoggedRPCBandwidth()
	if rx == 0 || tx == 0 {
		t.Errorf("expected bandwidth to be recorded, got rx %d tx %d", rx, tx)
	}
}

func TestByteCount(t *testing.T) {
	for _, test := range []struct {
		n    int64
		want string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{1024, "1.0 KiB"},
		{1536, "1.5 KiB"},
		{5 * 1024 * 1024, "5.0 MiB"},
	} {
		if got := ByteCount(test.n).String(); got != test.want {
			t.Errorf("ByteCount(%d) = %q, want %q", test.n, got, test.want)
		}
	}
}
