package types

// BufferRole classifies a slot in the device buffer arena.
type BufferRole string

const (
	RoleInput        BufferRole = "input"
	RoleOutput       BufferRole = "output"
	RoleIntermediate BufferRole = "intermediate"
	// RoleParam marks a weight buffer transferred at deploy time rather than
	// baked into the flash image, mirroring how graph params are bound on the
	// host before the first run.
	RoleParam BufferRole = "param"
)

// BufferSpec describes one named buffer in the generated arena.
type BufferSpec struct {
	Name   string     `json:"name"`
	Size   int        `json:"size"`
	Offset int        `json:"offset"`
	Role   BufferRole `json:"role"`
	DType  DType      `json:"dtype"`
	Shape  []int      `json:"shape"`
}

// Manifest maps tensor names to arena buffers so a host can marshal named
// tensors without parsing the generated source.
type Manifest struct {
	Buffers []BufferSpec `json:"buffers"`
	// ArenaSize is the total byte size of the buffer arena.
	ArenaSize int `json:"arena_size"`
}

// Find returns the spec for a named buffer.
func (m *Manifest) Find(name string) (BufferSpec, bool) {
	for _, b := range m.Buffers {
		if b.Name == name {
			return b, true
		}
	}
	return BufferSpec{}, false
}

// ByRole returns all buffers with the given role, in manifest order.
func (m *Manifest) ByRole(role BufferRole) []BufferSpec {
	var out []BufferSpec
	for _, b := range m.Buffers {
		if b.Role == role {
			out = append(out, b)
		}
	}
	return out
}

// Artifact is the immutable output of code generation for one (graph, target)
// pair: portable C source with entry point `int run(void** buffers)`, the
// buffer manifest, the weight payloads bound at deploy time, and the canonical
// structural listing of the graph (used by host-side simulation and debugging).
type Artifact struct {
	Name        string            `json:"name"`
	Target      string            `json:"target"`
	Fingerprint string            `json:"fingerprint"`
	Source      []byte            `json:"source"`
	Manifest    Manifest          `json:"manifest"`
	Params      map[string][]byte `json:"params,omitempty"`
	Graph       string            `json:"graph,omitempty"`
}
