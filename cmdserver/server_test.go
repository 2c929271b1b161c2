package cmdserver

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"strings"
	"testing"
	"time"
)

func dial(t *testing.T, addr string) (net.Conn, *bufio.Reader) {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn, bufio.NewReader(conn)
}

func sendLine(t *testing.T, conn net.Conn, line string) {
	t.Helper()
	if _, err := conn.Write([]byte(line + "\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func readReply(t *testing.T, r *bufio.Reader) Reply {
	t.Helper()
	line, err := r.ReadString('\r')
	if err != nil {
		t.Fatalf("read reply: %v", err)
	}
	// consume the trailing \n and EOF marker
	r.ReadByte()
	r.ReadByte()
	var rep Reply
	if err := json.Unmarshal([]byte(strings.TrimSpace(line)), &rep); err != nil {
		t.Fatalf("unmarshal reply %q: %v", line, err)
	}
	return rep
}

func startServer(t *testing.T, reg *Registry) (*Server, string, func()) {
	t.Helper()
	s := NewServer(reg)
	ctx, cancel := context.WithCancel(context.Background())
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s.listener = ln
	go func() {
		<-ctx.Done()
		s.Shutdown()
	}()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go s.handleConn(conn)
		}
	}()
	return s, ln.Addr().String(), cancel
}

func TestHelpListsAllBuiltins(t *testing.T) {
	reg := NewRegistry()
	_, addr, cancel := startServer(t, reg)
	defer cancel()

	conn, r := dial(t, addr)
	defer conn.Close()
	sendLine(t, conn, "help")
	rep := readReply(t, r)
	if rep.RC != RCOk {
		t.Fatalf("expected OK, got %s", rep.RC)
	}
	pairs, ok := rep.Msg.([]any)
	if !ok {
		t.Fatalf("expected a list of [name, help] pairs, got %T", rep.Msg)
	}
	listed := map[string]bool{}
	for _, p := range pairs {
		if pair, ok := p.([]any); ok && len(pair) == 2 {
			if name, ok := pair[0].(string); ok {
				listed[name] = true
			}
		}
	}
	for _, n := range []string{"help", "sleep", "shutdown9999"} {
		if !listed[n] {
			t.Errorf("expected builtin %q in help listing, got %v", n, rep.Msg)
		}
	}
}

func TestHelpSingleCommandUnknown(t *testing.T) {
	reg := NewRegistry()
	_, addr, cancel := startServer(t, reg)
	defer cancel()

	conn, r := dial(t, addr)
	defer conn.Close()
	sendLine(t, conn, "help bogus")
	rep := readReply(t, r)
	if rep.RC != RCNg {
		t.Errorf("expected NG for unknown command help, got %s", rep.RC)
	}
}

func TestUnknownCommandReturnsNG(t *testing.T) {
	reg := NewRegistry()
	_, addr, cancel := startServer(t, reg)
	defer cancel()

	conn, r := dial(t, addr)
	defer conn.Close()
	sendLine(t, conn, "nope")
	rep := readReply(t, r)
	if rep.RC != RCNg {
		t.Errorf("expected NG, got %s", rep.RC)
	}
}

func TestSleepValidatesThenDefers(t *testing.T) {
	reg := NewRegistry()
	s, addr, cancel := startServer(t, reg)
	defer cancel()

	go func() {
		for {
			select {
			case j, ok := <-s.Queue():
				if !ok {
					return
				}
				s.Dispatch(j)
			}
		}
	}()

	conn, r := dial(t, addr)
	defer conn.Close()
	sendLine(t, conn, "sleep 0.01")
	rep := readReply(t, r)
	if rep.RC != RCOk {
		t.Errorf("expected eventual OK after deferred sleep, got %s", rep.RC)
	}
}

func TestSleepRejectsBadArgument(t *testing.T) {
	reg := NewRegistry()
	_, addr, cancel := startServer(t, reg)
	defer cancel()

	conn, r := dial(t, addr)
	defer conn.Close()
	sendLine(t, conn, "sleep notanumber")
	rep := readReply(t, r)
	if rep.RC != RCNg {
		t.Errorf("expected NG for malformed sleep argument, got %s", rep.RC)
	}
}

func TestShutdownAcceptsWithNoArgument(t *testing.T) {
	reg := NewRegistry()
	s, addr, cancel := startServer(t, reg)
	defer cancel()

	drained := make(chan struct{})
	go func() {
		j := <-s.Queue()
		s.Dispatch(j)
		close(drained)
	}()

	conn, r := dial(t, addr)
	defer conn.Close()
	sendLine(t, conn, "shutdown9999")
	rep := readReply(t, r)
	if rep.RC != RCOk {
		t.Errorf("expected immediate OK ack for ACCEPT-class command, got %s", rep.RC)
	}
	select {
	case <-drained:
	case <-time.After(time.Second):
		t.Fatalf("shutdown9999 never reached the deferred queue")
	}
}

func TestDomainCommandWithOnlyDeferredHandlerQueuesAndWaits(t *testing.T) {
	reg := NewRegistry()
	var called []string
	reg.Register("ping", nil, func(args []string) (RC, any) {
		called = append(called, strings.Join(args, " "))
		return RCOk, "pong"
	}, "ping: test command")

	s, addr, cancel := startServer(t, reg)
	defer cancel()
	go func() {
		j := <-s.Queue()
		s.Dispatch(j)
	}()

	conn, r := dial(t, addr)
	defer conn.Close()
	sendLine(t, conn, "ping")
	rep := readReply(t, r)
	if rep.RC != RCOk || rep.Msg != "pong" {
		t.Errorf("expected OK/pong, got %s/%v", rep.RC, rep.Msg)
	}
}

func TestListenAndServeBindsAndAcceptsConnections(t *testing.T) {
	reg := NewRegistry()
	s := NewServer(reg)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- s.ListenAndServe(ctx, "127.0.0.1:0") }()

	select {
	case <-s.Ready():
	case err := <-errCh:
		t.Fatalf("ListenAndServe returned before Ready: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatalf("Ready() never closed")
	}

	conn, r := dial(t, s.listener.Addr().String())
	defer conn.Close()
	sendLine(t, conn, "help")
	rep := readReply(t, r)
	if rep.RC != RCOk {
		t.Fatalf("expected OK, got %s", rep.RC)
	}

	cancel()
	select {
	case <-errCh:
	case <-time.After(2 * time.Second):
		t.Fatalf("ListenAndServe did not return after cancellation")
	}
}

func TestRegistryNamesIncludesBuiltins(t *testing.T) {
	reg := NewRegistry()
	names := reg.Names()
	want := map[string]bool{"help": false, "sleep": false, "shutdown9999": false}
	for _, n := range names {
		if _, ok := want[n]; ok {
			want[n] = true
		}
	}
	for n, found := range want {
		if !found {
			t.Errorf("expected builtin %q to be registered", n)
		}
	}
}
