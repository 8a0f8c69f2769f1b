package device

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"microd/pkg/types"
)

// SessionState is the lifecycle state of a Session.
type SessionState string

const (
	StateDisconnected SessionState = "disconnected"
	StateConnecting   SessionState = "connecting"
	StateReady        SessionState = "ready"
	StateRunning      SessionState = "running"
)

// Defaults applied when corresponding Options fields are unset.
const (
	defaultConnectTimeout = 5 * time.Second
	defaultRunTimeout     = 30 * time.Second
	// defaultIOTimeout bounds the non-run transport operations; they move
	// bounded payloads and should never take long on a healthy link.
	defaultIOTimeout = 10 * time.Second
)

// Options are the session tunables.
type Options struct {
	ConnectTimeout time.Duration
	RunTimeout     time.Duration
	Logger         zerolog.Logger
}

// Session is a stateful connection to one execution target. Exactly one
// session owns a transport connection at a time, and the session enforces at
// most one in-flight operation: a Run attempted while another is in flight
// fails fast with a session-busy error rather than queueing (callers that
// want queueing put it in front of the session).
//
// Any transport fault, timeout, build failure, or execution fault latches
// the session to Disconnected; the caller must dial again before retrying.
// The session itself never retries.
type Session struct {
	mu       sync.Mutex
	state    SessionState
	inflight bool
	conn     net.Conn
	opts     Options
	manifest *types.Manifest
	ran      bool
	log      zerolog.Logger
}

// Dial establishes the transport and performs the CONNECT handshake. On any
// failure the returned error is a connect error (or timeout) and no session
// is held open.
func Dial(addr string, opts Options) (*Session, error) {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = defaultConnectTimeout
	}
	if opts.RunTimeout <= 0 {
		opts.RunTimeout = defaultRunTimeout
	}
	s := &Session{state: StateConnecting, opts: opts, log: opts.Logger}

	start := time.Now()
	conn, err := net.DialTimeout("tcp", addr, opts.ConnectTimeout)
	if err != nil {
		s.state = StateDisconnected
		return nil, connectError{addr: addr, detail: err.Error()}
	}
	s.conn = conn
	st, payload, err := s.call(OpConnect, []byte{protocolVersion}, opts.ConnectTimeout)
	if err != nil {
		s.dropLocked()
		return nil, connectError{addr: addr, detail: err.Error()}
	}
	if st != StatusOK {
		s.dropLocked()
		return nil, connectError{addr: addr, detail: "handshake refused by target"}
	}
	if len(payload) >= 1 && payload[0] != protocolVersion {
		s.dropLocked()
		return nil, connectError{addr: addr, detail: "protocol version mismatch"}
	}
	s.state = StateReady
	s.log.Debug().Str("addr", addr).Dur("dur", time.Since(start)).Msg("session connected")
	return s, nil
}

// State returns the current lifecycle state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Upload transfers the artifact (source, manifest, structural listing, and
// weight params) and triggers the on-target build. A build failure surfaces
// the toolchain output verbatim and disconnects the session.
func (s *Session) Upload(ctx context.Context, a *types.Artifact) error {
	if err := s.acquire("upload", false); err != nil {
		return err
	}
	err := s.upload(ctx, a)
	s.release(false, err)
	return err
}

func (s *Session) upload(ctx context.Context, a *types.Artifact) error {
	manifestJSON, err := json.Marshal(&a.Manifest)
	if err != nil {
		return err
	}
	payload := appendField(nil, a.Source)
	payload = appendField(payload, manifestJSON)
	payload = appendField(payload, []byte(a.Graph))

	names := make([]string, 0, len(a.Params))
	for name := range a.Params {
		names = append(names, name)
	}
	sort.Strings(names)
	payload = binary.BigEndian.AppendUint32(payload, uint32(len(names)))
	for _, name := range names {
		payload = appendField(payload, []byte(name))
		payload = appendField(payload, a.Params[name])
	}

	start := time.Now()
	st, resp, err := s.call(OpUpload, payload, s.ioTimeout(ctx))
	if err != nil {
		return err
	}
	switch st {
	case StatusOK:
	case StatusBuildError:
		return buildError{details: string(resp)}
	default:
		return connectError{addr: s.conn.RemoteAddr().String(), detail: "unexpected upload status"}
	}
	m := &types.Manifest{}
	if err := json.Unmarshal(manifestJSON, m); err != nil {
		return err
	}
	s.mu.Lock()
	s.manifest = m
	s.ran = false
	s.mu.Unlock()
	s.log.Debug().Str("artifact", a.Name).Int("source_bytes", len(a.Source)).
		Dur("dur", time.Since(start)).Msg("artifact uploaded")
	return nil
}

// SetInput writes tensor bytes into the named input buffer on the target.
// The payload is validated against the manifest before anything touches the
// wire, so an unknown buffer or a wrong length never disturbs the session.
func (s *Session) SetInput(name string, data []byte) error {
	if err := s.acquire("setInput", false); err != nil {
		return err
	}
	err := s.setInput(name, data)
	s.release(false, err)
	return err
}

func (s *Session) setInput(name string, data []byte) error {
	s.mu.Lock()
	m := s.manifest
	s.ran = false
	s.mu.Unlock()
	if m == nil {
		return invalidStateError{op: "setInput before upload", state: StateReady}
	}
	spec, ok := m.Find(name)
	if !ok || (spec.Role != types.RoleInput && spec.Role != types.RoleParam) {
		return unknownBufferError{name: name}
	}
	if len(data) != spec.Size {
		return sizeMismatchError{name: name, want: spec.Size, got: len(data)}
	}
	payload := appendField(nil, []byte(name))
	payload = appendField(payload, data)
	st, _, err := s.call(OpSetInput, payload, defaultIOTimeout)
	if err != nil {
		return err
	}
	return statusErr(st, name, spec.Size, len(data))
}

// Run triggers execution of the uploaded entry point. The session is Running
// until the target signals completion or the run timeout passes; on timeout
// the connection is presumed unreliable and dropped rather than retried.
// Cancellation via ctx aborts the wait the same way: the target may still be
// executing, so the connection is dropped rather than reused.
func (s *Session) Run(ctx context.Context) error {
	if err := s.acquire("run", true); err != nil {
		return err
	}
	err := s.run(ctx)
	s.release(true, err)
	return err
}

func (s *Session) run(ctx context.Context) error {
	s.mu.Lock()
	uploaded := s.manifest != nil
	s.mu.Unlock()
	if !uploaded {
		return invalidStateError{op: "run before upload", state: StateRunning}
	}
	timeout := s.opts.RunTimeout
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem < timeout {
			timeout = rem
		}
	}
	if ctx.Err() != nil {
		return timeoutError{op: OpRun}
	}
	// Cancellation expires the connection deadline so the blocked exchange
	// fails as a timeout and release latches Disconnected.
	stop := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = s.conn.SetDeadline(time.Now())
		case <-stop:
		}
	}()
	start := time.Now()
	st, resp, err := s.call(OpRun, nil, timeout)
	close(stop)
	if err != nil {
		return err
	}
	switch st {
	case StatusOK:
		s.mu.Lock()
		s.ran = true
		s.mu.Unlock()
		s.log.Debug().Dur("dur", time.Since(start)).Msg("run complete")
		return nil
	case StatusFault:
		var code int32 = -1
		if len(resp) >= 4 {
			code = int32(binary.BigEndian.Uint32(resp))
		}
		return executionFaultError{code: code}
	default:
		return connectError{addr: s.conn.RemoteAddr().String(), detail: "unexpected run status"}
	}
}

// GetOutput returns the named output buffer's contents. Only valid after a
// successful Run: a failed or faulted run never lets stale bytes through as
// if they were results.
func (s *Session) GetOutput(name string) ([]byte, error) {
	if err := s.acquire("getOutput", false); err != nil {
		return nil, err
	}
	data, err := s.getOutput(name)
	s.release(false, err)
	return data, err
}

func (s *Session) getOutput(name string) ([]byte, error) {
	s.mu.Lock()
	m, ran := s.manifest, s.ran
	s.mu.Unlock()
	if m == nil || !ran {
		return nil, invalidStateError{op: "getOutput before a successful run", state: StateReady}
	}
	spec, ok := m.Find(name)
	if !ok || spec.Role != types.RoleOutput {
		return nil, unknownBufferError{name: name}
	}
	st, resp, err := s.call(OpGetOutput, appendField(nil, []byte(name)), defaultIOTimeout)
	if err != nil {
		return nil, err
	}
	if err := statusErr(st, name, spec.Size, 0); err != nil {
		return nil, err
	}
	if len(resp) != spec.Size {
		return nil, sizeMismatchError{name: name, want: spec.Size, got: len(resp)}
	}
	return resp, nil
}

// Close releases device-side buffers and closes the transport. Idempotent;
// safe on an already-disconnected session.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateDisconnected || s.conn == nil {
		s.state = StateDisconnected
		return nil
	}
	// Best effort: tell the target to free its allocations, then drop.
	_ = s.conn.SetDeadline(time.Now().Add(defaultIOTimeout))
	_ = writeRequest(s.conn, OpClose, nil)
	_, _, _ = readResponse(s.conn)
	s.dropLocked()
	s.log.Debug().Msg("session closed")
	return nil
}

// acquire admits one operation. forRun flips the externally visible state to
// Running for the duration.
func (s *Session) acquire(op string, forRun bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateReady:
		if s.inflight {
			return sessionBusyError{}
		}
		s.inflight = true
		if forRun {
			s.state = StateRunning
		}
		return nil
	case StateRunning:
		if forRun {
			return sessionBusyError{}
		}
		return invalidStateError{op: op, state: s.state}
	default:
		return invalidStateError{op: op, state: s.state}
	}
}

// release ends an operation. Transport-class failures latch Disconnected;
// manifest validation errors leave the session usable.
func (s *Session) release(forRun bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inflight = false
	if forRun {
		s.state = StateReady
	}
	if isFatal(err) {
		s.dropLocked()
		s.log.Debug().Err(err).Msg("session disconnected on fatal error")
	}
}

func isFatal(err error) bool {
	if err == nil {
		return false
	}
	switch types.KindOf(err) {
	case types.KindConnectError, types.KindTimeout, types.KindBuildError, types.KindExecutionFault:
		return true
	}
	return false
}

func (s *Session) dropLocked() {
	if s.conn != nil {
		_ = s.conn.Close()
	}
	s.state = StateDisconnected
	s.manifest = nil
	s.ran = false
}

// call performs one request/response exchange under a deadline. Any I/O
// failure is terminal for the connection; the caller's release handles the
// state transition.
func (s *Session) call(op OpCode, payload []byte, timeout time.Duration) (Status, []byte, error) {
	if err := s.conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		return 0, nil, connectError{addr: s.conn.RemoteAddr().String(), detail: err.Error()}
	}
	if err := writeRequest(s.conn, op, payload); err != nil {
		return 0, nil, s.ioError(op, err)
	}
	st, resp, err := readResponse(s.conn)
	if err != nil {
		return 0, nil, s.ioError(op, err)
	}
	return st, resp, nil
}

func (s *Session) ioError(op OpCode, err error) error {
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return timeoutError{op: op}
	}
	return connectError{addr: s.conn.RemoteAddr().String(), detail: op.String() + ": " + err.Error()}
}

func (s *Session) ioTimeout(ctx context.Context) time.Duration {
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem < defaultIOTimeout {
			return rem
		}
	}
	return defaultIOTimeout
}

// statusErr maps device-reported statuses onto the error taxonomy.
func statusErr(st Status, name string, want, got int) error {
	switch st {
	case StatusOK:
		return nil
	case StatusUnknownBuffer:
		return unknownBufferError{name: name}
	case StatusSizeMismatch:
		return sizeMismatchError{name: name, want: want, got: got}
	case StatusFault:
		return executionFaultError{code: -1}
	default:
		return connectError{addr: "", detail: "unexpected device status"}
	}
}
