package device

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"
)

// A frame arriving one byte at a time must still parse; the reader may not
// assume the header and payload land in a single read.
func TestReadFramePartialWrites(t *testing.T) {
	var buf bytes.Buffer
	if err := writeRequest(&buf, OpSetInput, []byte("dense_4_input")); err != nil {
		t.Fatalf("write: %v", err)
	}
	pr, pw := io.Pipe()
	go func() {
		for _, b := range buf.Bytes() {
			if _, err := pw.Write([]byte{b}); err != nil {
				return
			}
		}
		pw.Close()
	}()
	op, payload, err := readRequest(pr)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if op != OpSetInput || string(payload) != "dense_4_input" {
		t.Fatalf("got op %v payload %q", op, payload)
	}
}

func TestReadFrameTruncatedPayload(t *testing.T) {
	var buf bytes.Buffer
	if err := writeRequest(&buf, OpRun, []byte("abcdef")); err != nil {
		t.Fatalf("write: %v", err)
	}
	short := buf.Bytes()[:buf.Len()-2]
	if _, _, err := readRequest(bytes.NewReader(short)); err == nil {
		t.Fatal("truncated frame must not parse")
	}
}

func TestReadFrameRejectsOversizedPayload(t *testing.T) {
	hdr := []byte{byte(OpUpload)}
	hdr = binary.BigEndian.AppendUint32(hdr, maxPayload+1)
	if _, _, err := readRequest(bytes.NewReader(hdr)); err == nil {
		t.Fatal("oversized length must be rejected before allocation")
	}
}

func TestSplitFieldRoundTrip(t *testing.T) {
	p := appendField(nil, []byte("name"))
	p = appendField(p, []byte{1, 2, 3})
	a, rest, err := splitField(p)
	if err != nil {
		t.Fatalf("first field: %v", err)
	}
	b, rest, err := splitField(rest)
	if err != nil {
		t.Fatalf("second field: %v", err)
	}
	if string(a) != "name" || !bytes.Equal(b, []byte{1, 2, 3}) || len(rest) != 0 {
		t.Fatalf("got %q %v rest=%d", a, b, len(rest))
	}
	if _, _, err := splitField([]byte{0, 0, 0, 9, 'x'}); err == nil {
		t.Fatal("short field must not parse")
	}
}
