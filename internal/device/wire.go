// Package device speaks the framed request/response protocol to a remote
// micro target and manages the session lifecycle around it: connect, upload,
// bind inputs, run, fetch outputs, close. It also ships an in-process
// Simulator implementing the target side of the protocol for loopback runs
// and tests.
package device

import (
	"encoding/binary"
	"fmt"
	"io"
)

// OpCode identifies a request frame.
type OpCode uint8

const (
	OpConnect   OpCode = 1
	OpUpload    OpCode = 2
	OpSetInput  OpCode = 3
	OpRun       OpCode = 4
	OpGetOutput OpCode = 5
	OpClose     OpCode = 6
)

func (op OpCode) String() string {
	switch op {
	case OpConnect:
		return "CONNECT"
	case OpUpload:
		return "UPLOAD"
	case OpSetInput:
		return "SET_INPUT"
	case OpRun:
		return "RUN"
	case OpGetOutput:
		return "GET_OUTPUT"
	case OpClose:
		return "CLOSE"
	}
	return fmt.Sprintf("OpCode(%d)", uint8(op))
}

// Status is the leading byte of a response frame.
type Status uint8

const (
	StatusOK            Status = 0
	StatusBuildError    Status = 1
	StatusUnknownBuffer Status = 2
	StatusSizeMismatch  Status = 3
	StatusFault         Status = 4
	StatusProtocol      Status = 5
)

// protocolVersion is exchanged in the CONNECT handshake.
const protocolVersion = 1

// maxPayload bounds a single frame; anything larger is a framing error, not
// a legitimate artifact or tensor.
const maxPayload = 16 << 20

// writeRequest emits {opcode, payload length (big endian), payload} as one
// frame. Requests and responses share the length encoding.
func writeRequest(w io.Writer, op OpCode, payload []byte) error {
	return writeFrame(w, byte(op), payload)
}

func writeResponse(w io.Writer, st Status, payload []byte) error {
	return writeFrame(w, byte(st), payload)
}

func writeFrame(w io.Writer, lead byte, payload []byte) error {
	hdr := [5]byte{lead}
	binary.BigEndian.PutUint32(hdr[1:], uint32(len(payload)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	if len(payload) == 0 {
		return nil
	}
	_, err := w.Write(payload)
	return err
}

// readFrame buffers until the full payload is available, so partial reads on
// the underlying stream never surface as truncated frames.
func readFrame(r io.Reader) (byte, []byte, error) {
	var hdr [5]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return 0, nil, err
	}
	n := binary.BigEndian.Uint32(hdr[1:])
	if n > maxPayload {
		return 0, nil, fmt.Errorf("frame payload %d exceeds limit %d", n, maxPayload)
	}
	if n == 0 {
		return hdr[0], nil, nil
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, err
	}
	return hdr[0], payload, nil
}

func readRequest(r io.Reader) (OpCode, []byte, error) {
	lead, payload, err := readFrame(r)
	return OpCode(lead), payload, err
}

func readResponse(r io.Reader) (Status, []byte, error) {
	lead, payload, err := readFrame(r)
	return Status(lead), payload, err
}

// appendField adds a length-prefixed byte string to a payload under
// construction.
func appendField(dst, field []byte) []byte {
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(field)))
	return append(dst, field...)
}

// splitField pops the next length-prefixed byte string off a payload.
func splitField(p []byte) (field, rest []byte, err error) {
	if len(p) < 4 {
		return nil, nil, fmt.Errorf("short payload: %d bytes", len(p))
	}
	n := binary.BigEndian.Uint32(p)
	if uint32(len(p)-4) < n {
		return nil, nil, fmt.Errorf("field length %d exceeds payload %d", n, len(p)-4)
	}
	return p[4 : 4+n], p[4+n:], nil
}
