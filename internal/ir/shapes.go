package ir

import (
	"encoding/binary"
	"fmt"

	"microd/pkg/types"
)

// inferNode computes the output shape and dtype of node i from its inputs.
// The dispatch is a closed switch over the operator set; adding an OpKind
// without a rule here is caught by the default branch in tests.
func inferNode(g *Graph, i int) error {
	n := g.nodes[i]
	label := fmt.Sprintf("node %d (%s)", i, n.Kind)
	switch n.Kind {
	case types.OpFullyConnected:
		return inferFullyConnected(g, label, n)
	case types.OpAdd:
		return inferAdd(g, label, n)
	case types.OpRelu, types.OpLogistic, types.OpSoftmax:
		return inferElementwise(g, label, n)
	case types.OpReshape:
		return inferReshape(g, label, n)
	default:
		return errShapeInference(label, "no shape rule for operator kind %q", n.Kind)
	}
}

// inferFullyConnected: x [.., in] x w [units, in] (+ optional bias [units])
// -> [.., units]. A rank-1 input [in] yields a rank-1 output [units], which
// is what single-sample micro models store.
func inferFullyConnected(g *Graph, label string, n Node) error {
	if len(n.Inputs) < 2 || len(n.Outputs) != 1 {
		return errShapeInference(label, "want >=2 inputs and 1 output, have %d/%d", len(n.Inputs), len(n.Outputs))
	}
	x := g.tensors[n.Inputs[0]]
	w := g.tensors[n.Inputs[1]]
	if len(w.Shape) != 2 {
		return errShapeInference(label, "weight %q has rank %d, want 2", w.Name, len(w.Shape))
	}
	units, in := w.Shape[0], w.Shape[1]
	if len(x.Shape) == 0 || x.Shape[len(x.Shape)-1] != in {
		return errShapeInference(label, "input %q shape %v incompatible with weight inner dim %d", x.Name, x.Shape, in)
	}
	if len(n.Inputs) >= 3 {
		b := g.tensors[n.Inputs[2]]
		if len(b.Shape) != 1 || b.Shape[0] != units {
			return errShapeInference(label, "bias %q shape %v, want [%d]", b.Name, b.Shape, units)
		}
	}
	out := append(append([]int(nil), x.Shape[:len(x.Shape)-1]...), units)
	setOutput(g, n.Outputs[0], out, x.DType)
	return nil
}

// inferAdd requires identical operand shapes; broadcasting is out of scope
// for the supported operator set.
func inferAdd(g *Graph, label string, n Node) error {
	if len(n.Inputs) != 2 || len(n.Outputs) != 1 {
		return errShapeInference(label, "want 2 inputs and 1 output, have %d/%d", len(n.Inputs), len(n.Outputs))
	}
	a := g.tensors[n.Inputs[0]]
	b := g.tensors[n.Inputs[1]]
	if !shapeEqual(a.Shape, b.Shape) {
		return errShapeInference(label, "operand shapes %v and %v differ", a.Shape, b.Shape)
	}
	if a.DType != b.DType {
		return errShapeInference(label, "operand dtypes %s and %s differ", a.DType, b.DType)
	}
	setOutput(g, n.Outputs[0], append([]int(nil), a.Shape...), a.DType)
	return nil
}

func inferElementwise(g *Graph, label string, n Node) error {
	if len(n.Inputs) != 1 || len(n.Outputs) != 1 {
		return errShapeInference(label, "want 1 input and 1 output, have %d/%d", len(n.Inputs), len(n.Outputs))
	}
	x := g.tensors[n.Inputs[0]]
	setOutput(g, n.Outputs[0], append([]int(nil), x.Shape...), x.DType)
	return nil
}

// inferReshape reads the target shape from the constant second operand (the
// converter's encoding); one -1 dimension is inferred from the remainder.
func inferReshape(g *Graph, label string, n Node) error {
	if len(n.Inputs) < 1 || len(n.Outputs) != 1 {
		return errShapeInference(label, "want >=1 input and 1 output, have %d/%d", len(n.Inputs), len(n.Outputs))
	}
	x := g.tensors[n.Inputs[0]]
	if len(n.Inputs) < 2 {
		return errShapeInference(label, "missing shape operand")
	}
	s := g.tensors[n.Inputs[1]]
	if !s.IsConst() || len(s.Weights)%4 != 0 {
		return errShapeInference(label, "shape operand %q is not a constant int32 tensor", s.Name)
	}
	want := make([]int, 0, len(s.Weights)/4)
	for off := 0; off < len(s.Weights); off += 4 {
		want = append(want, int(int32(binary.LittleEndian.Uint32(s.Weights[off:]))))
	}

	total := types.NumElements(x.Shape)
	infer := -1
	known := 1
	for i, d := range want {
		switch {
		case d == -1 && infer == -1:
			infer = i
		case d == -1:
			return errShapeInference(label, "more than one inferred dimension in %v", want)
		case d <= 0:
			return errShapeInference(label, "non-positive dimension %d in %v", d, want)
		default:
			known *= d
		}
	}
	if infer >= 0 {
		if known == 0 || total%known != 0 {
			return errShapeInference(label, "cannot infer dimension: %d elements into %v", total, want)
		}
		want[infer] = total / known
		known *= want[infer]
	}
	if known != total {
		return errShapeInference(label, "element count %d does not match target shape %v", total, want)
	}
	setOutput(g, n.Outputs[0], want, x.DType)
	return nil
}

func setOutput(g *Graph, name string, shape []int, dt types.DType) {
	t := g.tensors[name]
	t.Shape = shape
	t.DType = dt
	g.tensors[name] = t
}

func shapeEqual(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
