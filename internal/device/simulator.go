package device

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"microd/internal/ir"
	"microd/pkg/types"
)

// Simulator is an in-process target speaking the device protocol over TCP
// loopback. Instead of compiling the uploaded C it interprets the artifact's
// structural listing with host float32 kernels, so end-to-end runs produce
// real numbers without a cross toolchain. Tests and `serve --simulate` use
// it in place of a physical board.
type Simulator struct {
	ln  net.Listener
	log zerolog.Logger
	wg  sync.WaitGroup

	// RunDelay artificially delays RUN handling; tests use it to exercise
	// run timeouts. Set before any session connects.
	RunDelay time.Duration
}

// StartSimulator listens on addr ("127.0.0.1:0" for an ephemeral port) and
// serves sessions until Close.
func StartSimulator(addr string, log zerolog.Logger) (*Simulator, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	s := &Simulator{ln: ln, log: log}
	s.wg.Add(1)
	go s.serve()
	log.Debug().Str("addr", ln.Addr().String()).Msg("simulator listening")
	return s, nil
}

// Addr returns the listen address to dial.
func (s *Simulator) Addr() string { return s.ln.Addr().String() }

// Close stops the listener and waits for in-flight connections to finish.
func (s *Simulator) Close() error {
	err := s.ln.Close()
	s.wg.Wait()
	return err
}

func (s *Simulator) serve() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer conn.Close()
			s.handle(conn)
		}()
	}
}

// simTarget is the per-connection device state: one uploaded artifact and
// its buffer arena.
type simTarget struct {
	manifest *types.Manifest
	graph    *ir.Graph
	buffers  map[string][]byte
}

func (s *Simulator) handle(conn net.Conn) {
	tgt := &simTarget{}
	for {
		op, payload, err := readRequest(conn)
		if err != nil {
			return
		}
		var st Status
		var resp []byte
		switch op {
		case OpConnect:
			st, resp = StatusOK, []byte{protocolVersion}
		case OpUpload:
			st, resp = tgt.upload(payload)
		case OpSetInput:
			st, resp = tgt.setInput(payload)
		case OpRun:
			if s.RunDelay > 0 {
				time.Sleep(s.RunDelay)
			}
			st, resp = tgt.run()
		case OpGetOutput:
			st, resp = tgt.getOutput(payload)
		case OpClose:
			_ = writeResponse(conn, StatusOK, nil)
			return
		default:
			st = StatusProtocol
		}
		if err := writeResponse(conn, st, resp); err != nil {
			s.log.Debug().Err(err).Msg("simulator write failed")
			return
		}
	}
}

func (t *simTarget) upload(payload []byte) (Status, []byte) {
	source, rest, err := splitField(payload)
	if err != nil {
		return StatusProtocol, nil
	}
	manifestJSON, rest, err := splitField(rest)
	if err != nil {
		return StatusProtocol, nil
	}
	graphText, rest, err := splitField(rest)
	if err != nil {
		return StatusProtocol, nil
	}
	if len(source) == 0 {
		return StatusBuildError, []byte("empty translation unit")
	}
	m := &types.Manifest{}
	if err := json.Unmarshal(manifestJSON, m); err != nil {
		return StatusBuildError, []byte("manifest: " + err.Error())
	}
	g, err := ir.ParseSummary(string(graphText))
	if err != nil {
		return StatusBuildError, []byte("program listing: " + err.Error())
	}

	buffers := make(map[string][]byte, len(m.Buffers))
	for _, b := range m.Buffers {
		if b.Size <= 0 {
			return StatusBuildError, []byte(fmt.Sprintf("buffer %s has size %d", b.Name, b.Size))
		}
		buffers[b.Name] = make([]byte, b.Size)
	}
	if len(rest) < 4 {
		return StatusProtocol, nil
	}
	nParams := binary.BigEndian.Uint32(rest)
	rest = rest[4:]
	for i := uint32(0); i < nParams; i++ {
		var name, data []byte
		if name, rest, err = splitField(rest); err != nil {
			return StatusProtocol, nil
		}
		if data, rest, err = splitField(rest); err != nil {
			return StatusProtocol, nil
		}
		buf, ok := buffers[string(name)]
		if !ok {
			return StatusBuildError, []byte("param " + string(name) + " has no arena slot")
		}
		if len(data) != len(buf) {
			return StatusSizeMismatch, nil
		}
		copy(buf, data)
	}

	t.manifest, t.graph, t.buffers = m, g, buffers
	return StatusOK, nil
}

func (t *simTarget) setInput(payload []byte) (Status, []byte) {
	if t.manifest == nil {
		return StatusProtocol, nil
	}
	name, rest, err := splitField(payload)
	if err != nil {
		return StatusProtocol, nil
	}
	data, _, err := splitField(rest)
	if err != nil {
		return StatusProtocol, nil
	}
	spec, ok := t.manifest.Find(string(name))
	if !ok || (spec.Role != types.RoleInput && spec.Role != types.RoleParam) {
		return StatusUnknownBuffer, nil
	}
	if len(data) != spec.Size {
		return StatusSizeMismatch, nil
	}
	copy(t.buffers[string(name)], data)
	return StatusOK, nil
}

func (t *simTarget) run() (Status, []byte) {
	if t.graph == nil {
		return StatusProtocol, nil
	}
	if err := t.execute(); err != nil {
		code := binary.BigEndian.AppendUint32(nil, 1)
		return StatusFault, append(code, []byte(err.Error())...)
	}
	return StatusOK, nil
}

func (t *simTarget) getOutput(payload []byte) (Status, []byte) {
	if t.manifest == nil {
		return StatusProtocol, nil
	}
	name, _, err := splitField(payload)
	if err != nil {
		return StatusProtocol, nil
	}
	spec, ok := t.manifest.Find(string(name))
	if !ok || spec.Role != types.RoleOutput {
		return StatusUnknownBuffer, nil
	}
	out := make([]byte, spec.Size)
	copy(out, t.buffers[string(name)])
	return StatusOK, out
}

// execute interprets the graph over the arena in float32, writing results
// back into the output buffers.
func (t *simTarget) execute() error {
	vals := make(map[string][]float32)
	for name, raw := range t.buffers {
		vals[name] = decodeF32(raw)
	}
	for i, n := range t.graph.Nodes() {
		out, ok := t.graph.Tensor(n.Outputs[0])
		if !ok {
			return fmt.Errorf("node %d: unknown output tensor", i)
		}
		y, err := evalNode(t.graph, n, vals)
		if err != nil {
			return fmt.Errorf("node %d (%s): %w", i, n.Kind, err)
		}
		if want := types.NumElements(out.Shape); len(y) != want {
			return fmt.Errorf("node %d (%s): produced %d elements, want %d", i, n.Kind, len(y), want)
		}
		vals[n.Outputs[0]] = y
	}
	for _, spec := range t.manifest.ByRole(types.RoleOutput) {
		y, ok := vals[spec.Name]
		if !ok {
			return fmt.Errorf("output %q never produced", spec.Name)
		}
		copy(t.buffers[spec.Name], encodeF32(y))
	}
	return nil
}
