package subproc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Supervisor errors.
var (
	// ErrNotRunning is returned by Call before Start or after Stop.
	ErrNotRunning = errors.New("subproc: supervisor not running")

	// ErrDegraded is returned by Call after the restart budget is spent.
	ErrDegraded = errors.New("subproc: stage degraded, restart budget spent")
)

// State is the supervisor's lifecycle state as seen by the orchestrator.
type State int

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateDegraded
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateDegraded:
		return "degraded"
	default:
		return "unknown"
	}
}

// Config configures a [Supervisor].
type Config struct {
	// Name labels the stage in logs and state callbacks.
	Name string

	// Command is the child argv. Required, at least one element.
	Command []string

	// Framing selects the wire framing. Defaults to [FramingLength].
	Framing Framing

	// InitConfig is marshaled into the init message's config field.
	InitConfig any

	// MaxRestarts and RestartWindow tune the restart breaker. Defaults:
	// [DefaultMaxRestarts] per [DefaultRestartWindow].
	MaxRestarts   int
	RestartWindow time.Duration

	// ReadyTimeout bounds the init/ready handshake. Default 10s.
	ReadyTimeout time.Duration

	// KillTimeout bounds graceful shutdown before the child is killed.
	// Default 2s.
	KillTimeout time.Duration

	// Logger defaults to slog.Default when nil.
	Logger *slog.Logger

	// OnState, when non-nil, is invoked on every state transition. Called
	// without internal locks held.
	OnState func(name string, state State)
}

// Supervisor runs one isolated stage as a child process and mediates the
// framed JSON protocol with it. Unexpected exits and protocol violations are
// answered with a restart, budgeted by a [RestartBreaker]; a spent budget
// degrades the stage instead.
//
// Call serializes requests, matching the one-outstanding-request-per-tick
// shape of the pipeline. Safe for concurrent use.
type Supervisor struct {
	cfg     Config
	logger  *slog.Logger
	breaker *RestartBreaker
	nextID  atomic.Uint64

	callMu sync.Mutex // serializes Call

	mu      sync.Mutex // guards state and session
	ctx     context.Context
	state   State
	session *session

	restarts atomic.Uint64
}

// session is one spawned child process plus its reader goroutines.
type session struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser
	codec *Codec

	msgs   chan Message // delivered by readLoop, closed on read failure
	done   chan struct{}
	exited chan struct{} // closed by waitProcess after the child is reaped

	failErr  error
	failOnce sync.Once
}

// NewSupervisor creates a supervisor for the given command. It does not
// spawn anything until Start.
func NewSupervisor(cfg Config) (*Supervisor, error) {
	if len(cfg.Command) == 0 {
		return nil, fmt.Errorf("subproc: %s: command must not be empty", cfg.Name)
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = 10 * time.Second
	}
	if cfg.KillTimeout <= 0 {
		cfg.KillTimeout = 2 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Supervisor{
		cfg:     cfg,
		logger:  cfg.Logger.With("stage", cfg.Name),
		breaker: NewRestartBreaker(cfg.MaxRestarts, cfg.RestartWindow),
		state:   StateStopped,
	}, nil
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Restarts returns how many restarts have been performed since Start.
func (s *Supervisor) Restarts() uint64 { return s.restarts.Load() }

// Start spawns the child and completes the init/ready handshake. ctx governs
// the supervisor's lifetime: cancellation stops automatic restarts.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateStopped {
		s.mu.Unlock()
		return fmt.Errorf("subproc: %s: already started", s.cfg.Name)
	}
	s.ctx = ctx
	s.setStateLocked(StateStarting)
	s.mu.Unlock()

	sess, err := s.spawn(ctx)

	s.mu.Lock()
	if err != nil {
		s.setStateLocked(StateDegraded)
		s.mu.Unlock()
		return fmt.Errorf("subproc: %s: start: %w", s.cfg.Name, err)
	}
	s.session = sess
	s.setStateLocked(StateRunning)
	s.mu.Unlock()
	return nil
}

// Call sends a process request and blocks for its result. payload is
// marshaled into the request's data field; the result's data field is
// unmarshaled into out when out is non-nil.
func (s *Supervisor) Call(ctx context.Context, payload any, out any) error {
	s.callMu.Lock()
	defer s.callMu.Unlock()

	s.mu.Lock()
	sess := s.session
	state := s.state
	s.mu.Unlock()

	switch state {
	case StateDegraded:
		return ErrDegraded
	case StateRunning:
	default:
		return ErrNotRunning
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("subproc: %s: encode request: %w", s.cfg.Name, err)
	}
	id := strconv.FormatUint(s.nextID.Add(1), 10)
	if err := sess.codec.Write(Message{Type: TypeProcess, ID: id, Data: data}); err != nil {
		s.handleFailure(sess, err)
		return fmt.Errorf("subproc: %s: send request: %w", s.cfg.Name, err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-sess.msgs:
			if !ok {
				err := sess.failErr
				s.handleFailure(sess, err)
				return fmt.Errorf("subproc: %s: stage failed mid-request: %w", s.cfg.Name, err)
			}
			if msg.ID != "" && msg.ID != id {
				// Stale answer from before a restart; skip it.
				continue
			}
			switch msg.Type {
			case TypeResult:
				if out == nil {
					return nil
				}
				if err := json.Unmarshal(msg.Data, out); err != nil {
					return fmt.Errorf("subproc: %s: decode result: %w", s.cfg.Name, err)
				}
				return nil
			case TypeError:
				// A reported error is a failed request, not a broken child.
				return fmt.Errorf("subproc: %s: stage error: %s", s.cfg.Name, msg.Error)
			default:
				err := fmt.Errorf("%w: unexpected %q during request", ErrProtocol, msg.Type)
				s.handleFailure(sess, err)
				return err
			}
		}
	}
}

// Stop sends shutdown and waits for the child to exit, killing it after the
// kill timeout. Safe to call in any state.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	sess := s.session
	s.session = nil
	s.setStateLocked(StateStopped)
	s.mu.Unlock()

	if sess == nil {
		return nil
	}
	return s.terminate(sess)
}

// spawn starts the child and runs the init handshake.
func (s *Supervisor) spawn(ctx context.Context) (*session, error) {
	cmd := exec.Command(s.cfg.Command[0], s.cfg.Command[1:]...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %q: %w", s.cfg.Command[0], err)
	}

	sess := &session{
		cmd:    cmd,
		stdin:  stdin,
		codec:  NewCodec(stdout, stdin, s.cfg.Framing),
		msgs:   make(chan Message, 8),
		done:   make(chan struct{}),
		exited: make(chan struct{}),
	}
	go s.bridgeStderr(stderr)
	go s.waitProcess(sess)

	if err := s.handshake(sess); err != nil {
		_ = cmd.Process.Kill()
		return nil, err
	}
	go s.readLoop(sess)
	return sess, nil
}

// handshake sends init and blocks for ready, bounded by the ready timeout.
func (s *Supervisor) handshake(sess *session) error {
	initCfg, err := json.Marshal(s.cfg.InitConfig)
	if err != nil {
		return fmt.Errorf("encode init config: %w", err)
	}
	if err := sess.codec.Write(Message{Type: TypeInit, Config: initCfg}); err != nil {
		return fmt.Errorf("send init: %w", err)
	}

	type readResult struct {
		msg Message
		err error
	}
	ch := make(chan readResult, 1)
	go func() {
		msg, err := sess.codec.Read()
		ch <- readResult{msg, err}
	}()

	select {
	case <-time.After(s.cfg.ReadyTimeout):
		return fmt.Errorf("timed out waiting for ready after %s", s.cfg.ReadyTimeout)
	case r := <-ch:
		if r.err != nil {
			return fmt.Errorf("read ready: %w", r.err)
		}
		if r.msg.Type == TypeError {
			return fmt.Errorf("stage rejected init: %s", r.msg.Error)
		}
		if r.msg.Type != TypeReady {
			return fmt.Errorf("%w: expected ready, got %q", ErrProtocol, r.msg.Type)
		}
		return nil
	}
}

// readLoop delivers child messages to the session channel until the stream
// breaks or violates the protocol.
func (s *Supervisor) readLoop(sess *session) {
	defer close(sess.msgs)
	for {
		msg, err := sess.codec.Read()
		if err != nil {
			sess.failOnce.Do(func() {
				if err == io.EOF {
					err = fmt.Errorf("subproc: %s: child closed its stdout", s.cfg.Name)
				}
				sess.failErr = err
			})
			return
		}
		select {
		case sess.msgs <- msg:
		case <-sess.done:
			return
		}
	}
}

// bridgeStderr forwards the child's stderr lines into the structured log.
func (s *Supervisor) bridgeStderr(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.Contains(line, "ERROR"):
			s.logger.Error("stage stderr", "line", line)
		case strings.Contains(line, "WARN"):
			s.logger.Warn("stage stderr", "line", line)
		default:
			s.logger.Debug("stage stderr", "line", line)
		}
	}
}

// waitProcess reaps the child and routes unexpected exits into the failure
// path.
func (s *Supervisor) waitProcess(sess *session) {
	err := sess.cmd.Wait()
	close(sess.exited)

	select {
	case <-sess.done:
		// Deliberate termination.
		return
	default:
	}
	if err == nil {
		err = errors.New("child exited unexpectedly")
	}
	s.handleFailure(sess, fmt.Errorf("subproc: %s: %w", s.cfg.Name, err))
}

// handleFailure terminates the failed session and either restarts within the
// breaker's budget or degrades the stage. No-op when sess is no longer the
// current session, so concurrent failure reports collapse into one restart.
func (s *Supervisor) handleFailure(sess *session, cause error) {
	s.mu.Lock()
	if s.session != sess || s.state == StateStopped {
		s.mu.Unlock()
		return
	}
	s.session = nil
	ctx := s.ctx
	s.mu.Unlock()

	s.logger.Error("stage failed", "err", cause)
	_ = s.terminate(sess)

	if ctx != nil && ctx.Err() != nil {
		s.transition(StateStopped)
		return
	}
	if !s.breaker.Allow() {
		s.logger.Error("restart budget spent, marking stage degraded",
			"max_restarts", s.breaker.maxRestarts, "window", s.breaker.window)
		s.transition(StateDegraded)
		return
	}

	s.restarts.Add(1)
	s.logger.Warn("restarting stage", "attempt", s.restarts.Load())
	fresh, err := s.spawn(ctx)

	s.mu.Lock()
	if s.state == StateStopped {
		s.mu.Unlock()
		if fresh != nil {
			_ = s.terminate(fresh)
		}
		return
	}
	if err != nil {
		s.setStateLocked(StateDegraded)
		s.mu.Unlock()
		s.logger.Error("restart failed", "err", err)
		return
	}
	s.session = fresh
	s.setStateLocked(StateRunning)
	s.mu.Unlock()
}

// terminate closes the session down: shutdown message, bounded wait, kill.
func (s *Supervisor) terminate(sess *session) error {
	close(sess.done)
	_ = sess.codec.Write(Message{Type: TypeShutdown})
	_ = sess.stdin.Close()

	select {
	case <-sess.exited:
		return nil
	case <-time.After(s.cfg.KillTimeout):
		if err := sess.cmd.Process.Kill(); err != nil {
			return fmt.Errorf("subproc: %s: kill: %w", s.cfg.Name, err)
		}
		<-sess.exited
		return nil
	}
}

// transition sets the state under lock and fires the callback outside it.
func (s *Supervisor) transition(next State) {
	s.mu.Lock()
	s.setStateLocked(next)
	s.mu.Unlock()
}

// setStateLocked updates state and schedules the OnState callback. Caller
// holds mu.
func (s *Supervisor) setStateLocked(next State) {
	if s.state == next {
		return
	}
	s.state = next
	if s.cfg.OnState != nil {
		go s.cfg.OnState(s.cfg.Name, next)
	}
}
