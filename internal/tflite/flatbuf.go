package tflite

import "encoding/binary"

// fbuf wraps the model bytes with bounds-checked little-endian reads. Every
// accessor fails with a malformedModelError instead of panicking, since model
// files arrive from outside the trust boundary.
type fbuf struct {
	b []byte
}

func (f fbuf) u8(off int) (byte, error) {
	if off < 0 || off >= len(f.b) {
		return 0, errMalformed("read u8 at %d past end (%d bytes)", off, len(f.b))
	}
	return f.b[off], nil
}

func (f fbuf) u16(off int) (uint16, error) {
	if off < 0 || off+2 > len(f.b) {
		return 0, errMalformed("read u16 at %d past end (%d bytes)", off, len(f.b))
	}
	return binary.LittleEndian.Uint16(f.b[off:]), nil
}

func (f fbuf) u32(off int) (uint32, error) {
	if off < 0 || off+4 > len(f.b) {
		return 0, errMalformed("read u32 at %d past end (%d bytes)", off, len(f.b))
	}
	return binary.LittleEndian.Uint32(f.b[off:]), nil
}

func (f fbuf) i32(off int) (int32, error) {
	v, err := f.u32(off)
	return int32(v), err
}

// root resolves the root table from the uoffset stored at byte 0.
func (f fbuf) root() (table, error) {
	off, err := f.u32(0)
	if err != nil {
		return table{}, err
	}
	return f.tableAt(0 + int(off))
}

func (f fbuf) tableAt(pos int) (table, error) {
	// Validate the soffset and vtable header now so field lookups can trust
	// the vtable bounds.
	so, err := f.i32(pos)
	if err != nil {
		return table{}, err
	}
	vt := pos - int(so)
	vsz, err := f.u16(vt)
	if err != nil {
		return table{}, err
	}
	if int(vsz) < 4 || vt+int(vsz) > len(f.b) {
		return table{}, errMalformed("table at %d: bad vtable size %d", pos, vsz)
	}
	return table{f: f, pos: pos, vt: vt, vsz: int(vsz)}, nil
}

// table is one flatbuffer table: fields are located through the vtable, and a
// missing vtable entry means the field holds its schema default.
type table struct {
	f   fbuf
	pos int
	vt  int
	vsz int
}

// slot returns the absolute position of the field's data, or 0 if the field
// is absent.
func (t table) slot(id int) (int, error) {
	fo := 4 + 2*id
	if fo+2 > t.vsz {
		return 0, nil
	}
	rel, err := t.f.u16(t.vt + fo)
	if err != nil {
		return 0, err
	}
	if rel == 0 {
		return 0, nil
	}
	return t.pos + int(rel), nil
}

func (t table) u8Field(id int, def byte) (byte, error) {
	s, err := t.slot(id)
	if err != nil || s == 0 {
		return def, err
	}
	return t.f.u8(s)
}

func (t table) u32Field(id int, def uint32) (uint32, error) {
	s, err := t.slot(id)
	if err != nil || s == 0 {
		return def, err
	}
	return t.f.u32(s)
}

func (t table) i32Field(id int, def int32) (int32, error) {
	s, err := t.slot(id)
	if err != nil || s == 0 {
		return def, err
	}
	return t.f.i32(s)
}

// indirect follows the uoffset stored in an offset-typed field slot.
func (t table) indirect(id int) (int, bool, error) {
	s, err := t.slot(id)
	if err != nil || s == 0 {
		return 0, false, err
	}
	rel, err := t.f.u32(s)
	if err != nil {
		return 0, false, err
	}
	return s + int(rel), true, nil
}

func (t table) tableField(id int) (table, bool, error) {
	pos, ok, err := t.indirect(id)
	if err != nil || !ok {
		return table{}, false, err
	}
	sub, err := t.f.tableAt(pos)
	return sub, err == nil, err
}

func (t table) stringField(id int) (string, bool, error) {
	pos, ok, err := t.indirect(id)
	if err != nil || !ok {
		return "", false, err
	}
	n, err := t.f.u32(pos)
	if err != nil {
		return "", false, err
	}
	end := pos + 4 + int(n)
	if int(n) < 0 || end > len(t.f.b) {
		return "", false, errMalformed("string at %d: length %d past end", pos, n)
	}
	return string(t.f.b[pos+4 : end]), true, nil
}

func (t table) vectorField(id int) (vector, bool, error) {
	pos, ok, err := t.indirect(id)
	if err != nil || !ok {
		return vector{}, false, err
	}
	n, err := t.f.u32(pos)
	if err != nil {
		return vector{}, false, err
	}
	return vector{f: t.f, pos: pos, n: int(n)}, true, nil
}

// vector is a flatbuffer vector: u32 element count at pos, elements following.
type vector struct {
	f   fbuf
	pos int
	n   int
}

func (v vector) len() int { return v.n }

func (v vector) i32At(i int) (int32, error) {
	return v.f.i32(v.pos + 4 + i*4)
}

func (v vector) u32At(i int) (uint32, error) {
	return v.f.u32(v.pos + 4 + i*4)
}

func (v vector) tableAt(i int) (table, error) {
	elem := v.pos + 4 + i*4
	rel, err := v.f.u32(elem)
	if err != nil {
		return table{}, err
	}
	return v.f.tableAt(elem + int(rel))
}

// bytes copies out the contents of a ubyte vector.
func (v vector) bytes() ([]byte, error) {
	start := v.pos + 4
	end := start + v.n
	if v.n < 0 || end > len(v.f.b) {
		return nil, errMalformed("byte vector at %d: length %d past end", v.pos, v.n)
	}
	out := make([]byte, v.n)
	copy(out, v.f.b[start:end])
	return out, nil
}

// i32Slice copies out an int32 vector as []int.
func (v vector) i32Slice() ([]int, error) {
	out := make([]int, 0, v.n)
	for i := 0; i < v.n; i++ {
		x, err := v.i32At(i)
		if err != nil {
			return nil, err
		}
		out = append(out, int(x))
	}
	return out, nil
}
