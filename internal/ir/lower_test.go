package ir

import (
	"testing"

	"microd/internal/tflite"
	"microd/internal/tflite/tflitetest"
	"microd/pkg/types"
)

// sineModel parses the two-operator FullyConnected+Relu model used across
// the pipeline tests.
func sineModel(t *testing.T) *tflite.Model {
	t.Helper()
	m, err := tflite.Parse(tflitetest.SineModel(1.5, 0.25))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return m
}

func TestLowerSineModel(t *testing.T) {
	g, err := Lower(sineModel(t), LowerOptions{
		ShapeOverrides: map[string][]int{"dense_4_input": {1}},
		DTypeOverrides: map[string]types.DType{"dense_4_input": types.Float32},
	})
	if err != nil {
		t.Fatalf("lower: %v", err)
	}
	if len(g.Nodes()) != 2 {
		t.Fatalf("nodes = %d, want 2", len(g.Nodes()))
	}
	out, ok := g.Tensor("Identity")
	if !ok {
		t.Fatal("missing output tensor")
	}
	if len(out.Shape) != 1 || out.Shape[0] != 1 {
		t.Fatalf("inferred output shape = %v, want [1]", out.Shape)
	}
	if out.DType != types.Float32 {
		t.Fatalf("output dtype = %v", out.DType)
	}
	w, _ := g.Tensor("dense_4/kernel")
	if !w.IsConst() {
		t.Fatal("weight tensor not marked const")
	}
}

func TestLowerRankConflictOverride(t *testing.T) {
	_, err := Lower(sineModel(t), LowerOptions{
		ShapeOverrides: map[string][]int{"dense_4_input": {1, 1}},
	})
	if !IsShapeMismatch(err) {
		t.Fatalf("expected shape-mismatch error, got %v", err)
	}
}

func TestLowerUnknownInputOverride(t *testing.T) {
	_, err := Lower(sineModel(t), LowerOptions{
		ShapeOverrides: map[string][]int{"no_such_input": {1}},
	})
	if !IsShapeMismatch(err) {
		t.Fatalf("expected shape-mismatch error, got %v", err)
	}
}

func TestLowerCyclicGraph(t *testing.T) {
	m := &tflite.Model{
		Version: 3,
		Tensors: []tflite.Tensor{
			{Name: "seed", Shape: []int{1}, DType: types.Float32},
			{Name: "a", Shape: []int{1}, DType: types.Float32},
			{Name: "b", Shape: []int{1}, DType: types.Float32},
		},
		Operators: []tflite.Operator{
			// a depends on b, b depends on a: no forward order exists.
			{Kind: types.OpRelu, Inputs: []int{2}, Outputs: []int{1}},
			{Kind: types.OpRelu, Inputs: []int{1}, Outputs: []int{2}},
		},
		Inputs:  []int{0},
		Outputs: []int{2},
	}
	_, err := Lower(m, LowerOptions{})
	if !IsCyclicGraph(err) {
		t.Fatalf("expected cyclic-graph error, got %v", err)
	}
}

func TestLowerDuplicateProducer(t *testing.T) {
	m := &tflite.Model{
		Version: 3,
		Tensors: []tflite.Tensor{
			{Name: "x", Shape: []int{1}, DType: types.Float32},
			{Name: "y", Shape: []int{1}, DType: types.Float32},
		},
		Operators: []tflite.Operator{
			{Kind: types.OpRelu, Inputs: []int{0}, Outputs: []int{1}},
			{Kind: types.OpRelu, Inputs: []int{0}, Outputs: []int{1}},
		},
		Inputs:  []int{0},
		Outputs: []int{1},
	}
	_, err := Lower(m, LowerOptions{})
	if !IsCyclicGraph(err) {
		t.Fatalf("expected cyclic-graph error, got %v", err)
	}
}

func TestLowerDynamicInputNeedsOverride(t *testing.T) {
	m := &tflite.Model{
		Version: 3,
		Tensors: []tflite.Tensor{
			{Name: "x", Shape: []int{-1, 4}, DType: types.Float32},
		},
		Inputs:  []int{0},
		Outputs: []int{0},
	}
	if _, err := Lower(m, LowerOptions{}); !IsShapeInferenceError(err) {
		t.Fatalf("expected shape-inference error, got %v", err)
	}
	g, err := Lower(m, LowerOptions{ShapeOverrides: map[string][]int{"x": {1, 4}}})
	if err != nil {
		t.Fatalf("lower with override: %v", err)
	}
	in, _ := g.Tensor("x")
	if !shapeEqual(in.Shape, []int{1, 4}) {
		t.Fatalf("bound shape = %v, want [1 4]", in.Shape)
	}
}

func TestLowerDynamicConstTensor(t *testing.T) {
	// The dynamic dim sits on the weight, not a graph input, so no shape
	// binding can repair it. Lowering must fail instead of propagating a
	// negative unit count into the output shape.
	m := &tflite.Model{
		Version: 3,
		Tensors: []tflite.Tensor{
			{Name: "x", Shape: []int{1}, DType: types.Float32},
			{Name: "w", Shape: []int{-1, 1}, DType: types.Float32, Data: make([]byte, 4)},
			{Name: "y", DType: types.Float32},
		},
		Operators: []tflite.Operator{
			{Kind: types.OpFullyConnected, Inputs: []int{0, 1}, Outputs: []int{2}},
		},
		Inputs:  []int{0},
		Outputs: []int{2},
	}
	if _, err := Lower(m, LowerOptions{}); !IsShapeInferenceError(err) {
		t.Fatalf("expected shape-inference error, got %v", err)
	}
}

func TestInferFullyConnectedBatch(t *testing.T) {
	m := &tflite.Model{
		Version: 3,
		Tensors: []tflite.Tensor{
			{Name: "x", Shape: []int{2, 3}, DType: types.Float32},
			{Name: "w", Shape: []int{5, 3}, DType: types.Float32, Data: make([]byte, 60)},
			{Name: "y", DType: types.Float32},
		},
		Operators: []tflite.Operator{
			{Kind: types.OpFullyConnected, Inputs: []int{0, 1}, Outputs: []int{2}},
		},
		Inputs:  []int{0},
		Outputs: []int{2},
	}
	g, err := Lower(m, LowerOptions{})
	if err != nil {
		t.Fatalf("lower: %v", err)
	}
	y, _ := g.Tensor("y")
	if !shapeEqual(y.Shape, []int{2, 5}) {
		t.Fatalf("output shape = %v, want [2 5]", y.Shape)
	}
}

func TestInferFullyConnectedIncompatible(t *testing.T) {
	m := &tflite.Model{
		Version: 3,
		Tensors: []tflite.Tensor{
			{Name: "x", Shape: []int{2, 4}, DType: types.Float32},
			{Name: "w", Shape: []int{5, 3}, DType: types.Float32, Data: make([]byte, 60)},
			{Name: "y", DType: types.Float32},
		},
		Operators: []tflite.Operator{
			{Kind: types.OpFullyConnected, Inputs: []int{0, 1}, Outputs: []int{2}},
		},
		Inputs:  []int{0},
		Outputs: []int{2},
	}
	if _, err := Lower(m, LowerOptions{}); !IsShapeInferenceError(err) {
		t.Fatalf("expected shape-inference error, got %v", err)
	}
}

func TestInferReshape(t *testing.T) {
	shapeOperand := []byte{2, 0, 0, 0, 0xFF, 0xFF, 0xFF, 0xFF} // [2, -1]
	m := &tflite.Model{
		Version: 3,
		Tensors: []tflite.Tensor{
			{Name: "x", Shape: []int{1, 6}, DType: types.Float32},
			{Name: "shape", Shape: []int{2}, DType: types.Int32, Data: shapeOperand},
			{Name: "y", DType: types.Float32},
		},
		Operators: []tflite.Operator{
			{Kind: types.OpReshape, Inputs: []int{0, 1}, Outputs: []int{2}},
		},
		Inputs:  []int{0},
		Outputs: []int{2},
	}
	g, err := Lower(m, LowerOptions{})
	if err != nil {
		t.Fatalf("lower: %v", err)
	}
	y, _ := g.Tensor("y")
	if !shapeEqual(y.Shape, []int{2, 3}) {
		t.Fatalf("output shape = %v, want [2 3]", y.Shape)
	}
}
