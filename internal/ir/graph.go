// Package ir holds the typed intermediate representation between the model
// reader and the code generator: a DAG of operator nodes over named, shaped,
// typed tensors. Graphs are immutable once built by Lower.
package ir

import "microd/pkg/types"

// TensorDesc describes one named tensor. Weights is non-nil for graph
// constants (weights, biases, shape operands) and nil otherwise.
type TensorDesc struct {
	Name    string
	DType   types.DType
	Shape   []int
	Weights []byte
}

// IsConst reports whether the tensor carries a constant payload.
func (t TensorDesc) IsConst() bool { return t.Weights != nil }

// ByteSize returns the payload size implied by shape and dtype.
func (t TensorDesc) ByteSize() int {
	return types.NumElements(t.Shape) * t.DType.Size()
}

// Node is one operator instantiation referencing tensors by name.
type Node struct {
	Kind    types.OpKind
	Inputs  []string
	Outputs []string
	Attrs   map[string]string
}

// Graph owns its nodes in a valid forward order, the tensor table, and the
// designated input/output name lists. Every node input is produced by an
// earlier node, is a graph input, or is a constant; no tensor is produced
// twice. Lower establishes these invariants and they hold for the lifetime
// of the value.
type Graph struct {
	name    string
	nodes   []Node
	tensors map[string]TensorDesc
	inputs  []string
	outputs []string
}

// Name returns the model-provided graph name, possibly empty.
func (g *Graph) Name() string { return g.name }

// Nodes returns the operator list in topological order.
func (g *Graph) Nodes() []Node {
	out := make([]Node, len(g.nodes))
	copy(out, g.nodes)
	return out
}

// Tensor looks up a tensor descriptor by name.
func (g *Graph) Tensor(name string) (TensorDesc, bool) {
	t, ok := g.tensors[name]
	return t, ok
}

// Inputs returns the graph input tensor names in declared order.
func (g *Graph) Inputs() []string {
	return append([]string(nil), g.inputs...)
}

// Outputs returns the graph output tensor names in declared order.
func (g *Graph) Outputs() []string {
	return append([]string(nil), g.outputs...)
}
