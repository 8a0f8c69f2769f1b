// Package tflitetest builds real TFLite flatbuffer byte buffers for tests.
// It writes the same layout the upstream schema produces (vtables, offset
// vectors, length-prefixed strings) so reader tests exercise the genuine wire
// format instead of fixtures checked in as opaque blobs.
package tflitetest

import "encoding/binary"

// TensorSpec describes one tensor table to emit.
type TensorSpec struct {
	Name   string
	Shape  []int32
	Type   byte   // TensorType enum value; 0 = FLOAT32
	Buffer uint32 // index into ModelSpec.Buffers
}

// OperatorSpec describes one operator table to emit.
type OperatorSpec struct {
	OpcodeIndex     uint32
	Inputs          []int32
	Outputs         []int32
	FusedActivation byte // 0 = none; emitted as builtin options when set
}

// ModelSpec is the high-level description Build turns into a buffer.
type ModelSpec struct {
	Version       uint32 // 0 means schema version 3
	Description   string
	OperatorCodes []int32 // builtin operator codes
	Buffers       [][]byte
	Tensors       []TensorSpec
	Operators     []OperatorSpec
	Inputs        []int32
	Outputs       []int32
}

// Build serializes spec as a TFLite flatbuffer with the TFL3 file identifier.
func Build(spec ModelSpec) []byte {
	if spec.Version == 0 {
		spec.Version = 3
	}
	w := &builder{}
	w.u32(0) // root uoffset, patched below
	w.raw([]byte("TFL3"))

	root, rootSlots := w.table([]tfield{
		{id: 0, size: 4, val: spec.Version},
		{id: 1, size: 4, offset: true},
		{id: 2, size: 4, offset: true},
		{id: 3, size: 4, offset: true, omit: spec.Description == ""},
		{id: 4, size: 4, offset: true},
	})
	w.patch(0, root)

	// operator_codes
	vec, slots := w.offsetVector(len(spec.OperatorCodes))
	w.patch(rootSlots[1], vec)
	for i, code := range spec.OperatorCodes {
		narrow := byte(0)
		if code >= 0 && code < 128 {
			narrow = byte(code)
		}
		oc, _ := w.table([]tfield{
			{id: 0, size: 1, val: uint32(narrow)},
			{id: 3, size: 4, val: uint32(code)},
		})
		w.patch(slots[i], oc)
	}

	// subgraphs (always exactly one)
	vec, slots = w.offsetVector(1)
	w.patch(rootSlots[2], vec)
	w.patch(slots[0], w.subgraph(spec))

	if spec.Description != "" {
		w.patch(rootSlots[3], w.str(spec.Description))
	}

	// buffers
	vec, slots = w.offsetVector(len(spec.Buffers))
	w.patch(rootSlots[4], vec)
	for i, data := range spec.Buffers {
		bt, btSlots := w.table([]tfield{
			{id: 0, size: 4, offset: true, omit: len(data) == 0},
		})
		w.patch(slots[i], bt)
		if len(data) > 0 {
			w.patch(btSlots[0], w.byteVector(data))
		}
	}
	return w.b
}

func (w *builder) subgraph(spec ModelSpec) int {
	sg, sgSlots := w.table([]tfield{
		{id: 0, size: 4, offset: true},
		{id: 1, size: 4, offset: true},
		{id: 2, size: 4, offset: true},
		{id: 3, size: 4, offset: true},
	})

	vec, slots := w.offsetVector(len(spec.Tensors))
	w.patch(sgSlots[0], vec)
	for i, t := range spec.Tensors {
		tt, ttSlots := w.table([]tfield{
			{id: 0, size: 4, offset: true, omit: t.Shape == nil},
			{id: 1, size: 1, val: uint32(t.Type)},
			{id: 2, size: 4, val: t.Buffer},
			{id: 3, size: 4, offset: true},
		})
		w.patch(slots[i], tt)
		if t.Shape != nil {
			w.patch(ttSlots[0], w.i32Vector(t.Shape))
		}
		w.patch(ttSlots[3], w.str(t.Name))
	}

	w.patch(sgSlots[1], w.i32Vector(spec.Inputs))
	w.patch(sgSlots[2], w.i32Vector(spec.Outputs))

	vec, slots = w.offsetVector(len(spec.Operators))
	w.patch(sgSlots[3], vec)
	for i, op := range spec.Operators {
		ot, otSlots := w.table([]tfield{
			{id: 0, size: 4, val: op.OpcodeIndex},
			{id: 1, size: 4, offset: true},
			{id: 2, size: 4, offset: true},
			{id: 4, size: 4, offset: true, omit: op.FusedActivation == 0},
		})
		w.patch(slots[i], ot)
		w.patch(otSlots[1], w.i32Vector(op.Inputs))
		w.patch(otSlots[2], w.i32Vector(op.Outputs))
		if op.FusedActivation != 0 {
			opts, _ := w.table([]tfield{
				{id: 0, size: 1, val: uint32(op.FusedActivation)},
			})
			w.patch(otSlots[4], opts)
		}
	}
	return sg
}

// builder appends flatbuffer objects front-to-back, so every uoffset points
// forward and can be patched once the child's position is known.
type builder struct {
	b []byte
}

type tfield struct {
	id     int
	size   int // 1, 2 or 4 bytes in the table body
	val    uint32
	offset bool
	omit   bool
}

func (w *builder) raw(p []byte) { w.b = append(w.b, p...) }

func (w *builder) u8(v byte) { w.b = append(w.b, v) }

func (w *builder) u16(v uint16) {
	w.b = binary.LittleEndian.AppendUint16(w.b, v)
}

func (w *builder) u32(v uint32) {
	w.b = binary.LittleEndian.AppendUint32(w.b, v)
}

func (w *builder) align(n int) {
	for len(w.b)%n != 0 {
		w.b = append(w.b, 0)
	}
}

// patch writes target-relative uoffset into the 4 bytes at slot.
func (w *builder) patch(slot, target int) {
	binary.LittleEndian.PutUint32(w.b[slot:], uint32(target-slot))
}

// table emits a table body followed by its vtable and returns the table
// position plus the slot position of each offset-typed field (keyed by id).
func (w *builder) table(fields []tfield) (int, map[int]int) {
	w.align(4)
	pos := len(w.b)
	w.u32(0) // soffset placeholder

	slots := make(map[int]int)
	rel := make(map[int]int)
	maxID := 0
	for _, f := range fields {
		if f.omit {
			continue
		}
		w.align(f.size)
		slot := len(w.b)
		rel[f.id] = slot - pos
		if f.id > maxID {
			maxID = f.id
		}
		switch f.size {
		case 1:
			w.u8(byte(f.val))
		case 2:
			w.u16(uint16(f.val))
		default:
			w.u32(f.val)
		}
		if f.offset {
			slots[f.id] = slot
		}
	}
	tableSize := len(w.b) - pos

	w.align(2)
	vt := len(w.b)
	vtSize := 4 + 2*(maxID+1)
	w.u16(uint16(vtSize))
	w.u16(uint16(tableSize))
	for id := 0; id <= maxID; id++ {
		w.u16(uint16(rel[id]))
	}
	// soffset = table - vtable; negative since the vtable follows the table
	binary.LittleEndian.PutUint32(w.b[pos:], uint32(int32(pos-vt)))
	return pos, slots
}

func (w *builder) str(s string) int {
	w.align(4)
	pos := len(w.b)
	w.u32(uint32(len(s)))
	w.raw([]byte(s))
	w.u8(0)
	return pos
}

func (w *builder) i32Vector(vals []int32) int {
	w.align(4)
	pos := len(w.b)
	w.u32(uint32(len(vals)))
	for _, v := range vals {
		w.u32(uint32(v))
	}
	return pos
}

func (w *builder) byteVector(data []byte) int {
	w.align(4)
	pos := len(w.b)
	w.u32(uint32(len(data)))
	w.raw(data)
	return pos
}

func (w *builder) offsetVector(n int) (int, []int) {
	w.align(4)
	pos := len(w.b)
	w.u32(uint32(n))
	slots := make([]int, n)
	for i := range slots {
		slots[i] = len(w.b)
		w.u32(0)
	}
	return pos, slots
}
