package tflite

import "microd/pkg/types"

// FileIdent is the flatbuffer file identifier at bytes 4..8 of a TFLite model.
const FileIdent = "TFL3"

// SchemaVersion is the only Model.version this reader accepts.
const SchemaVersion = 3

// Field ids from the upstream schema (schema.fbs, v3). These are vtable slots,
// so order is load-bearing and must track upstream exactly.
const (
	modelFieldVersion       = 0
	modelFieldOperatorCodes = 1
	modelFieldSubgraphs     = 2
	modelFieldDescription   = 3
	modelFieldBuffers       = 4

	// OperatorCode: field 0 is the pre-2020 int8 builtin code, field 3 the
	// widened int32 introduced when the builtin set outgrew 127.
	opcodeFieldDeprecatedBuiltin = 0
	opcodeFieldBuiltin           = 3

	subgraphFieldTensors   = 0
	subgraphFieldInputs    = 1
	subgraphFieldOutputs   = 2
	subgraphFieldOperators = 3
	subgraphFieldName      = 4

	tensorFieldShape  = 0
	tensorFieldType   = 1
	tensorFieldBuffer = 2
	tensorFieldName   = 3

	operatorFieldOpcodeIndex    = 0
	operatorFieldInputs         = 1
	operatorFieldOutputs        = 2
	operatorFieldBuiltinOptions = 4

	bufferFieldData = 0

	// FullyConnectedOptions and AddOptions both keep the fused activation
	// function in field 0.
	optionsFieldFusedActivation = 0
)

// TensorType enum values (subset).
const (
	tensorTypeFloat32 = 0
	tensorTypeInt32   = 2
	tensorTypeUint8   = 3
	tensorTypeInt8    = 9
)

// BuiltinOperator enum values for the supported set.
const (
	builtinAdd            = 0
	builtinFullyConnected = 9
	builtinLogistic       = 14
	builtinRelu           = 19
	builtinReshape        = 22
	builtinSoftmax        = 25
)

// ActivationFunctionType enum values.
const (
	activationNone  = 0
	activationRelu  = 1
	activationRelu6 = 3
	activationTanh  = 4
)

func dtypeOf(tensorType byte) (types.DType, bool) {
	switch tensorType {
	case tensorTypeFloat32:
		return types.Float32, true
	case tensorTypeInt32:
		return types.Int32, true
	case tensorTypeUint8:
		return types.Uint8, true
	case tensorTypeInt8:
		return types.Int8, true
	}
	return "", false
}

func opKindOf(builtin int) (types.OpKind, bool) {
	switch builtin {
	case builtinAdd:
		return types.OpAdd, true
	case builtinFullyConnected:
		return types.OpFullyConnected, true
	case builtinLogistic:
		return types.OpLogistic, true
	case builtinRelu:
		return types.OpRelu, true
	case builtinReshape:
		return types.OpReshape, true
	case builtinSoftmax:
		return types.OpSoftmax, true
	}
	return "", false
}

func activationName(v byte) string {
	switch v {
	case activationRelu:
		return "relu"
	case activationRelu6:
		return "relu6"
	case activationTanh:
		return "tanh"
	default:
		return "none"
	}
}
