package tflite

import "microd/pkg/types"

// Parse decodes a TFLite flatbuffer into a Model. It is a pure function of
// buf: no reference into buf survives the call, and no global state is
// touched. Unsupported opcodes and malformed structure come back as typed
// errors, never panics.
func Parse(buf []byte) (*Model, error) {
	f := fbuf{b: buf}
	if len(buf) < 8 {
		return nil, errMalformed("buffer too short: %d bytes", len(buf))
	}
	if string(buf[4:8]) != FileIdent {
		return nil, errMalformed("missing %q file identifier", FileIdent)
	}
	root, err := f.root()
	if err != nil {
		return nil, err
	}

	version, err := root.u32Field(modelFieldVersion, 0)
	if err != nil {
		return nil, err
	}
	if version != SchemaVersion {
		return nil, errMalformed("unsupported schema version %d (want %d)", version, SchemaVersion)
	}

	m := &Model{Version: version}
	if desc, ok, err := root.stringField(modelFieldDescription); err != nil {
		return nil, err
	} else if ok {
		m.Description = desc
	}

	opcodes, err := parseOperatorCodes(root)
	if err != nil {
		return nil, err
	}
	bufTable, err := parseBuffers(root)
	if err != nil {
		return nil, err
	}

	subgraphs, ok, err := root.vectorField(modelFieldSubgraphs)
	if err != nil {
		return nil, err
	}
	if !ok || subgraphs.len() == 0 {
		return nil, errMalformed("model has no subgraphs")
	}
	// Only the primary subgraph is executed; multi-subgraph models (control
	// flow) are outside the supported operator set anyway.
	sg, err := subgraphs.tableAt(0)
	if err != nil {
		return nil, err
	}
	if name, ok, err := sg.stringField(subgraphFieldName); err != nil {
		return nil, err
	} else if ok {
		m.Name = name
	}
	if err := parseTensors(sg, bufTable, m); err != nil {
		return nil, err
	}
	if err := parseOperators(sg, opcodes, m); err != nil {
		return nil, err
	}

	if m.Inputs, err = tensorIndexList(sg, subgraphFieldInputs, len(m.Tensors), "input"); err != nil {
		return nil, err
	}
	if m.Outputs, err = tensorIndexList(sg, subgraphFieldOutputs, len(m.Tensors), "output"); err != nil {
		return nil, err
	}
	return m, nil
}

// parseOperatorCodes returns the resolved builtin code per operator_codes
// entry. Entries may be unsupported; that only matters if an operator
// references them.
func parseOperatorCodes(root table) ([]int, error) {
	vec, ok, err := root.vectorField(modelFieldOperatorCodes)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	codes := make([]int, 0, vec.len())
	for i := 0; i < vec.len(); i++ {
		oc, err := vec.tableAt(i)
		if err != nil {
			return nil, err
		}
		wide, err := oc.i32Field(opcodeFieldBuiltin, 0)
		if err != nil {
			return nil, err
		}
		narrow, err := oc.u8Field(opcodeFieldDeprecatedBuiltin, 0)
		if err != nil {
			return nil, err
		}
		// Upstream rule: the wide field wins when set; older files only
		// carry the deprecated int8 field.
		code := int(wide)
		if int(narrow) > code {
			code = int(narrow)
		}
		codes = append(codes, code)
	}
	return codes, nil
}

func parseBuffers(root table) ([][]byte, error) {
	vec, ok, err := root.vectorField(modelFieldBuffers)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	out := make([][]byte, vec.len())
	for i := 0; i < vec.len(); i++ {
		bt, err := vec.tableAt(i)
		if err != nil {
			return nil, err
		}
		data, ok, err := bt.vectorField(bufferFieldData)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if out[i], err = data.bytes(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func parseTensors(sg table, buffers [][]byte, m *Model) error {
	vec, ok, err := sg.vectorField(subgraphFieldTensors)
	if err != nil {
		return err
	}
	if !ok {
		return errMalformed("subgraph has no tensors")
	}
	seen := make(map[string]bool, vec.len())
	for i := 0; i < vec.len(); i++ {
		tt, err := vec.tableAt(i)
		if err != nil {
			return err
		}
		var t Tensor
		name, ok, err := tt.stringField(tensorFieldName)
		if err != nil {
			return err
		}
		if !ok || name == "" {
			return errMalformed("tensor %d: missing name", i)
		}
		if seen[name] {
			return errMalformed("duplicate tensor name %q", name)
		}
		seen[name] = true
		t.Name = name

		if shape, ok, err := tt.vectorField(tensorFieldShape); err != nil {
			return err
		} else if ok {
			if t.Shape, err = shape.i32Slice(); err != nil {
				return err
			}
		}
		tensorType, err := tt.u8Field(tensorFieldType, tensorTypeFloat32)
		if err != nil {
			return err
		}
		dt, ok := dtypeOf(tensorType)
		if !ok {
			return errMalformed("tensor %q: unsupported element type %d", name, tensorType)
		}
		t.DType = dt

		bufIdx, err := tt.u32Field(tensorFieldBuffer, 0)
		if err != nil {
			return err
		}
		if int(bufIdx) >= len(buffers) {
			return errMalformed("tensor %q: buffer index %d out of range", name, bufIdx)
		}
		if raw := buffers[bufIdx]; len(raw) > 0 {
			t.Data = append([]byte(nil), raw...)
		}
		m.Tensors = append(m.Tensors, t)
	}
	return nil
}

func parseOperators(sg table, opcodes []int, m *Model) error {
	vec, ok, err := sg.vectorField(subgraphFieldOperators)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	for i := 0; i < vec.len(); i++ {
		ot, err := vec.tableAt(i)
		if err != nil {
			return err
		}
		idx, err := ot.u32Field(operatorFieldOpcodeIndex, 0)
		if err != nil {
			return err
		}
		if int(idx) >= len(opcodes) {
			return errMalformed("operator %d: opcode index %d out of range", i, idx)
		}
		code := opcodes[idx]
		kind, ok := opKindOf(code)
		if !ok {
			return unsupportedOperatorError{code: code, index: i}
		}
		op := Operator{Kind: kind}
		if op.Inputs, err = operandList(ot, operatorFieldInputs, len(m.Tensors), i); err != nil {
			return err
		}
		if op.Outputs, err = operandList(ot, operatorFieldOutputs, len(m.Tensors), i); err != nil {
			return err
		}
		if err := decodeBuiltinOptions(ot, &op); err != nil {
			return err
		}
		m.Operators = append(m.Operators, op)
	}
	return nil
}

// decodeBuiltinOptions pulls the option scalars this pipeline acts on. The
// dispatch is a closed switch over OpKind so a newly supported operator
// cannot silently skip its options.
func decodeBuiltinOptions(ot table, op *Operator) error {
	switch op.Kind {
	case types.OpFullyConnected, types.OpAdd:
		opts, ok, err := ot.tableField(operatorFieldBuiltinOptions)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		act, err := opts.u8Field(optionsFieldFusedActivation, activationNone)
		if err != nil {
			return err
		}
		if act != activationNone {
			op.Attrs = map[string]string{"fused_activation": activationName(act)}
		}
	case types.OpRelu, types.OpLogistic, types.OpSoftmax, types.OpReshape:
		// No options consumed. Softmax beta and Reshape new_shape are taken
		// from tensor operands, matching converter output.
	}
	return nil
}

func operandList(ot table, field, numTensors, opIndex int) ([]int, error) {
	vec, ok, err := ot.vectorField(field)
	if err != nil || !ok {
		return nil, err
	}
	idx, err := vec.i32Slice()
	if err != nil {
		return nil, err
	}
	out := idx[:0]
	for _, v := range idx {
		if v == -1 {
			// Optional operand marked absent (e.g. a FullyConnected bias).
			continue
		}
		if v < 0 || v >= numTensors {
			return nil, errMalformed("operator %d: tensor index %d out of range", opIndex, v)
		}
		out = append(out, v)
	}
	return out, nil
}

func tensorIndexList(sg table, field, numTensors int, what string) ([]int, error) {
	vec, ok, err := sg.vectorField(field)
	if err != nil || !ok {
		return nil, err
	}
	idx, err := vec.i32Slice()
	if err != nil {
		return nil, err
	}
	for _, v := range idx {
		if v < 0 || v >= numTensors {
			return nil, errMalformed("graph %s index %d out of range", what, v)
		}
	}
	return idx, nil
}
