package ir

import (
	"fmt"

	"microd/internal/tflite"
	"microd/pkg/types"
)

// LowerOptions binds concrete shapes and dtypes to named graph inputs. Models
// frequently store inputs with a dynamic leading dimension; a shape must be
// fully concrete before code generation.
type LowerOptions struct {
	ShapeOverrides map[string][]int
	DTypeOverrides map[string]types.DType
}

// Lower converts a raw model description into a validated Graph: overrides
// applied, a forward order established, and every tensor shape inferred.
func Lower(m *tflite.Model, opts LowerOptions) (*Graph, error) {
	g := &Graph{
		name:    m.Name,
		tensors: make(map[string]TensorDesc, len(m.Tensors)),
	}
	names := make([]string, len(m.Tensors))
	for i, t := range m.Tensors {
		names[i] = t.Name
		g.tensors[t.Name] = TensorDesc{
			Name:    t.Name,
			DType:   t.DType,
			Shape:   append([]int(nil), t.Shape...),
			Weights: t.Data,
		}
	}
	for _, i := range m.Inputs {
		g.inputs = append(g.inputs, names[i])
	}
	for _, i := range m.Outputs {
		g.outputs = append(g.outputs, names[i])
	}

	if err := applyOverrides(g, opts); err != nil {
		return nil, err
	}
	for _, name := range g.inputs {
		t := g.tensors[name]
		for _, d := range t.Shape {
			if d <= 0 {
				return nil, errShapeInference(name, "input dimension %d is dynamic; bind a shape", d)
			}
		}
		if len(t.Shape) == 0 {
			return nil, errShapeInference(name, "input has no shape; bind a shape")
		}
	}

	nodes := make([]Node, 0, len(m.Operators))
	for _, op := range m.Operators {
		n := Node{Kind: op.Kind, Attrs: op.Attrs}
		for _, i := range op.Inputs {
			n.Inputs = append(n.Inputs, names[i])
		}
		for _, i := range op.Outputs {
			n.Outputs = append(n.Outputs, names[i])
		}
		nodes = append(nodes, n)
	}
	ordered, err := forwardOrder(g, nodes)
	if err != nil {
		return nil, err
	}
	g.nodes = ordered

	for i := range g.nodes {
		if err := inferNode(g, i); err != nil {
			return nil, err
		}
	}
	// Every tensor must be fully concrete by now. Converters may store a
	// dynamic dim on a constant or intermediate tensor too, and a negative
	// dim surviving here would turn into a negative buffer size downstream.
	for _, name := range names {
		t := g.tensors[name]
		for _, d := range t.Shape {
			if d <= 0 {
				return nil, errShapeInference(name, "dimension %d is dynamic and no binding resolves it", d)
			}
		}
	}
	return g, nil
}

func applyOverrides(g *Graph, opts LowerOptions) error {
	isInput := make(map[string]bool, len(g.inputs))
	for _, name := range g.inputs {
		isInput[name] = true
	}
	for name, shape := range opts.ShapeOverrides {
		if !isInput[name] {
			return shapeMismatchError{name: name, detail: "no such graph input"}
		}
		t := g.tensors[name]
		if len(t.Shape) > 0 && len(t.Shape) != len(shape) {
			return shapeMismatchError{
				name:   name,
				detail: fmt.Sprintf("override rank %d conflicts with model rank %d", len(shape), len(t.Shape)),
			}
		}
		for _, d := range shape {
			if d <= 0 {
				return shapeMismatchError{name: name, detail: fmt.Sprintf("non-positive dimension %d", d)}
			}
		}
		t.Shape = append([]int(nil), shape...)
		g.tensors[name] = t
	}
	for name, dt := range opts.DTypeOverrides {
		if !isInput[name] {
			return shapeMismatchError{name: name, detail: "no such graph input"}
		}
		if dt.Size() == 0 {
			return shapeMismatchError{name: name, detail: fmt.Sprintf("unknown dtype %q", dt)}
		}
		t := g.tensors[name]
		t.DType = dt
		g.tensors[name] = t
	}
	return nil
}

// forwardOrder establishes a topological order over nodes by repeatedly
// admitting every node whose inputs are all available. A pass with no
// progress while nodes remain means the list has a cycle (or consumes a
// tensor nothing produces).
func forwardOrder(g *Graph, nodes []Node) ([]Node, error) {
	avail := make(map[string]bool, len(g.tensors))
	for _, name := range g.inputs {
		avail[name] = true
	}
	for name, t := range g.tensors {
		if t.IsConst() {
			avail[name] = true
		}
	}
	producer := make(map[string]int)

	ordered := make([]Node, 0, len(nodes))
	done := make([]bool, len(nodes))
	remaining := len(nodes)
	for remaining > 0 {
		progress := false
		for i, n := range nodes {
			if done[i] {
				continue
			}
			ready := true
			for _, in := range n.Inputs {
				if !avail[in] {
					ready = false
					break
				}
			}
			if !ready {
				continue
			}
			for _, out := range n.Outputs {
				if prev, dup := producer[out]; dup {
					return nil, cyclicGraphError{
						detail: fmt.Sprintf("tensor %q produced by operators %d and %d", out, prev, i),
					}
				}
				producer[out] = i
				avail[out] = true
			}
			done[i] = true
			ordered = append(ordered, n)
			remaining--
			progress = true
		}
		if !progress {
			for i, n := range nodes {
				if !done[i] {
					return nil, cyclicGraphError{
						detail: fmt.Sprintf("no forward order: operator %d (%s) has unsatisfiable inputs", i, n.Kind),
					}
				}
			}
		}
	}
	return ordered, nil
}
