package tflite

import "microd/pkg/types"

// Model is the raw description read out of a model buffer. It owns all of its
// data; the source buffer may be freed once Parse returns.
type Model struct {
	Version     uint32
	Description string
	Name        string
	Tensors     []Tensor
	Operators   []Operator
	// Inputs and Outputs are indices into Tensors, in stored order.
	Inputs  []int
	Outputs []int
}

// Tensor is one tensor table: name, stored shape (dims of 0 or -1 are
// dynamic), element type, and an optional weight payload copied out of the
// model's buffer table.
type Tensor struct {
	Name  string
	Shape []int
	DType types.DType
	Data  []byte
}

// Operator is one operator in stored order. Inputs and Outputs index into
// Model.Tensors; an optional input the model marked absent (index -1) is
// dropped. Attrs carries decoded builtin options as scalar strings.
type Operator struct {
	Kind    types.OpKind
	Inputs  []int
	Outputs []int
	Attrs   map[string]string
}
