package cmdserver

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
)

// EOF is the out-of-band record terminator the protocol appends after
// every reply.
const EOF = '\x04'

// MaxQueueDepth bounds the deferred-command queue; a connection that
// submits past this depth gets RCNg immediately instead of blocking,
// matching TcpCmdServer.py's qsize()>100 busy check.
const MaxQueueDepth = 100

const connReadTimeout = 3 * time.Second

// bindMaxElapsed bounds how long ListenAndServe retries a transient bind
// failure (e.g. the previous process's socket still draining TIME_WAIT)
// before giving up.
const bindMaxElapsed = 30 * time.Second

// Job is one queued deferred command, as delivered by Server.Queue().
type Job struct {
	Args  []string
	reply chan reply // nil => RCAccept, no reply expected
}

type reply struct {
	rc  RC
	msg any
}

// Server accepts line-oriented TCP connections, dispatches immediate
// commands inline, and serializes deferred commands through a single
// worker goroutine so the control thread's state is never touched
// concurrently by multiple clients.
type Server struct {
	registry *Registry
	listener net.Listener

	queue chan Job

	mu       sync.Mutex
	active   bool
	shutdown chan struct{}
	ready    chan struct{}
}

// NewServer returns a Server dispatching against registry, not yet
// listening.
func NewServer(registry *Registry) *Server {
	return &Server{
		registry: registry,
		queue:    make(chan Job, MaxQueueDepth),
		shutdown: make(chan struct{}),
		ready:    make(chan struct{}),
		active:   true,
	}
}

// Ready is closed once ListenAndServe has successfully bound its
// listener, so a caller can show "still binding" progress (e.g. a
// spinner) until the socket is actually up.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// ListenAndServe binds addr, retrying a failed bind for up to
// bindMaxElapsed, then accepts connections until ctx is cancelled or
// Shutdown is called, and returns nil. It returns an error only if the
// bind never succeeds.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	var ln net.Listener
	op := func() error {
		l, err := net.Listen("tcp", addr)
		if err != nil {
			return err
		}
		ln = l
		return nil
	}
	if err := backoff.Retry(op, &backoff.ExponentialBackOff{
		InitialInterval:     5 * time.Second,
		RandomizationFactor: 0.1,
		Multiplier:          1,
		MaxInterval:         5 * time.Second,
		MaxElapsedTime:      bindMaxElapsed,
		Clock:               backoff.SystemClock,
	}); err != nil {
		return fmt.Errorf("cmdserver: bind %s: %w", addr, err)
	}
	s.listener = ln
	close(s.ready)

	go func() {
		<-ctx.Done()
		s.Shutdown()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-s.shutdown:
				return nil
			default:
			}
			if !s.isActive() {
				return nil
			}
			log.Printf("cmdserver: accept: %v", err)
			continue
		}
		go s.handleConn(conn)
	}
}

// Shutdown stops accepting new connections and unblocks ListenAndServe.
func (s *Server) Shutdown() {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return
	}
	s.active = false
	s.mu.Unlock()
	close(s.shutdown)
	if s.listener != nil {
		s.listener.Close()
	}
}

func (s *Server) isActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Queue exposes the deferred-command channel so a worker (e.g.
// control.Loop) can select on it alongside its other event sources.
func (s *Server) Queue() <-chan Job {
	return s.queue
}

// Registry returns the command registry this Server dispatches against,
// so callers can register additional (e.g. domain-specific) commands
// after constructing the Server.
func (s *Server) Registry() *Registry {
	return s.registry
}

// Dispatch runs one queued job's deferred handler and replies to its
// waiting client, if any. Callers (typically control.Loop's select
// loop) pull jobs from Queue() and call Dispatch so deferred commands
// serialize with whatever other state the caller owns.
func (s *Server) Dispatch(j Job) {
	cmd, ok := s.registry.Lookup(j.Args[0])
	var rc RC
	var msg any
	if !ok {
		rc, msg = RCNg, j.Args[0]+": no such command"
	} else if cmd.FuncQ == nil {
		rc, msg = RCNg, j.Args[0]+": no deferred handler"
	} else {
		rc, msg = cmd.FuncQ(j.Args)
	}
	if j.reply != nil {
		j.reply <- reply{rc: rc, msg: msg}
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)

	for {
		conn.SetReadDeadline(time.Now().Add(connReadTimeout))
		line, err := r.ReadString('\n')
		if err != nil {
			if !isTimeout(err) {
				return
			}
			if !s.isActive() {
				writeReply(conn, RCNg, "server is dead")
				return
			}
			continue
		}

		line = strings.TrimRight(line, "\r\n")
		if line == "" || line == string(rune(EOF)) {
			return
		}

		args := strings.Fields(line)
		if len(args) == 0 {
			writeReply(conn, RCNg, "no command")
			return
		}

		cmd, ok := s.registry.Lookup(args[0])
		if !ok {
			writeReply(conn, RCNg, args[0]+": no such command")
			continue
		}

		var msg any
		fireAndForget := false
		if cmd.FuncI != nil {
			var rc RC
			rc, msg = cmd.FuncI(args)
			if rc != RCCont && rc != RCAccept {
				writeReply(conn, rc, msg)
				continue
			}
			fireAndForget = rc == RCAccept
		}

		if cmd.FuncQ == nil {
			writeReply(conn, RCOk, msg)
			continue
		}

		if len(s.queue) >= MaxQueueDepth {
			writeReply(conn, RCNg, "server busy")
			continue
		}

		j := Job{Args: args}
		if fireAndForget {
			select {
			case s.queue <- j:
				writeReply(conn, RCOk, msg)
			default:
				writeReply(conn, RCNg, "server busy")
			}
			continue
		}

		j.reply = make(chan reply, 1)
		select {
		case s.queue <- j:
		default:
			writeReply(conn, RCNg, "server busy")
			continue
		}
		rep := <-j.reply
		writeReply(conn, rep.rc, rep.msg)
	}
}

func writeReply(conn net.Conn, rc RC, msg any) {
	b, err := json.Marshal(Reply{RC: rc, Msg: msg})
	if err != nil {
		log.Printf("cmdserver: marshal reply: %v", err)
		return
	}
	if _, err := conn.Write(append(b, '\r', '\n', EOF)); err != nil {
		log.Printf("cmdserver: write reply: %v", err)
	}
}

func isTimeout(err error) bool {
	type timeouter interface{ Timeout() bool }
	te, ok := err.(timeouter)
	return ok && te.Timeout()
}
