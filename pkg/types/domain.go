package types

import "fmt"

// Model represents a discoverable TFLite model file on disk.
type Model struct {
	// Stable identifier for the model.
	// example: sine_model.tflite
	ID string `json:"id" example:"sine_model.tflite"`
	// Human-friendly name.
	// example: sine_model
	Name string `json:"name" example:"sine_model"`
	// Absolute path to the model file on disk.
	// example: /home/user/models/sine_model.tflite
	Path string `json:"path" example:"/home/user/models/sine_model.tflite"`
}

// DType is the element type of a tensor. The set is closed per build.
type DType string

const (
	Float32 DType = "float32"
	Int8    DType = "int8"
	Int32   DType = "int32"
	Uint8   DType = "uint8"
)

// Size returns the byte width of one element, or 0 for an unknown dtype.
func (d DType) Size() int {
	switch d {
	case Float32, Int32:
		return 4
	case Int8, Uint8:
		return 1
	}
	return 0
}

// ParseDType converts a string to a DType.
func ParseDType(s string) (DType, error) {
	switch DType(s) {
	case Float32, Int8, Int32, Uint8:
		return DType(s), nil
	}
	return "", fmt.Errorf("unknown dtype: %q", s)
}

// OpKind tags an operator node. The set is closed per build so dispatch is a
// switch over these constants, never open-ended.
type OpKind string

const (
	OpAdd            OpKind = "add"
	OpFullyConnected OpKind = "fully_connected"
	OpLogistic       OpKind = "logistic"
	OpRelu           OpKind = "relu"
	OpReshape        OpKind = "reshape"
	OpSoftmax        OpKind = "softmax"
)

// ParseOpKind converts a string to an OpKind.
func ParseOpKind(s string) (OpKind, error) {
	switch OpKind(s) {
	case OpAdd, OpFullyConnected, OpLogistic, OpRelu, OpReshape, OpSoftmax:
		return OpKind(s), nil
	}
	return "", fmt.Errorf("unknown operator kind: %q", s)
}

// NumElements multiplies a shape's dimensions. A nil shape is a scalar (1).
func NumElements(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}
