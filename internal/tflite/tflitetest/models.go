package tflitetest

import (
	"encoding/binary"
	"math"
)

// F32 encodes float32 values as little-endian bytes, the tensor payload
// encoding TFLite uses.
func F32(vals ...float32) []byte {
	out := make([]byte, 0, 4*len(vals))
	for _, v := range vals {
		out = binary.LittleEndian.AppendUint32(out, math.Float32bits(v))
	}
	return out
}

// SineModel builds a two-operator model shaped like the classic hello-world
// sine model: a single float32 input named dense_4_input of shape [1], one
// FullyConnected with 1x1 weight and bias, then a Relu. With weight w and
// bias b the graph computes relu(w*x + b).
func SineModel(w, b float32) []byte {
	return Build(ModelSpec{
		Description:   "sine approximation",
		OperatorCodes: []int32{9, 19}, // FULLY_CONNECTED, RELU
		Buffers: [][]byte{
			nil, // buffer 0 is conventionally empty
			F32(w),
			F32(b),
		},
		Tensors: []TensorSpec{
			{Name: "dense_4_input", Shape: []int32{1}},
			{Name: "dense_4/kernel", Shape: []int32{1, 1}, Buffer: 1},
			{Name: "dense_4/bias", Shape: []int32{1}, Buffer: 2},
			{Name: "dense_4/MatMul", Shape: []int32{1}},
			{Name: "Identity", Shape: []int32{1}},
		},
		Operators: []OperatorSpec{
			{OpcodeIndex: 0, Inputs: []int32{0, 1, 2}, Outputs: []int32{3}},
			{OpcodeIndex: 1, Inputs: []int32{3}, Outputs: []int32{4}},
		},
		Inputs:  []int32{0},
		Outputs: []int32{4},
	})
}
