package device

import (
	"encoding/binary"
	"fmt"
	"math"

	"microd/internal/ir"
	"microd/pkg/types"
)

// evalNode computes one operator in float32. Shapes come from the artifact's
// structural listing; the summary was generated from a fully inferred graph
// so every extent is concrete.
func evalNode(g *ir.Graph, n ir.Node, vals map[string][]float32) ([]float32, error) {
	operand := func(i int) ([]float32, ir.TensorDesc, error) {
		if i >= len(n.Inputs) {
			return nil, ir.TensorDesc{}, fmt.Errorf("missing operand %d", i)
		}
		desc, _ := g.Tensor(n.Inputs[i])
		v, ok := vals[n.Inputs[i]]
		if !ok {
			return nil, desc, fmt.Errorf("operand %q unavailable", n.Inputs[i])
		}
		return v, desc, nil
	}
	act := n.Attrs["fused_activation"]

	switch n.Kind {
	case types.OpFullyConnected:
		x, _, err := operand(0)
		if err != nil {
			return nil, err
		}
		w, wd, err := operand(1)
		if err != nil {
			return nil, err
		}
		units, in := wd.Shape[0], wd.Shape[1]
		batch := len(x) / in
		var bias []float32
		if len(n.Inputs) >= 3 {
			if bias, _, err = operand(2); err != nil {
				return nil, err
			}
		}
		y := make([]float32, batch*units)
		for b := 0; b < batch; b++ {
			for u := 0; u < units; u++ {
				acc := float32(0)
				for i := 0; i < in; i++ {
					acc += x[b*in+i] * w[u*in+i]
				}
				if bias != nil {
					acc += bias[u]
				}
				y[b*units+u] = applyActivation(acc, act)
			}
		}
		return y, nil
	case types.OpAdd:
		a, _, err := operand(0)
		if err != nil {
			return nil, err
		}
		b, _, err := operand(1)
		if err != nil {
			return nil, err
		}
		if len(a) != len(b) {
			return nil, fmt.Errorf("operand lengths %d and %d differ", len(a), len(b))
		}
		y := make([]float32, len(a))
		for i := range a {
			y[i] = applyActivation(a[i]+b[i], act)
		}
		return y, nil
	case types.OpRelu:
		x, _, err := operand(0)
		if err != nil {
			return nil, err
		}
		return mapF32(x, func(v float32) float32 {
			if v < 0 {
				return 0
			}
			return v
		}), nil
	case types.OpLogistic:
		x, _, err := operand(0)
		if err != nil {
			return nil, err
		}
		return mapF32(x, func(v float32) float32 {
			return float32(1 / (1 + math.Exp(-float64(v))))
		}), nil
	case types.OpSoftmax:
		x, xd, err := operand(0)
		if err != nil {
			return nil, err
		}
		inner := xd.Shape[len(xd.Shape)-1]
		y := make([]float32, len(x))
		for o := 0; o+inner <= len(x); o += inner {
			row, out := x[o:o+inner], y[o:o+inner]
			max := row[0]
			for _, v := range row {
				if v > max {
					max = v
				}
			}
			sum := float32(0)
			for i, v := range row {
				out[i] = float32(math.Exp(float64(v - max)))
				sum += out[i]
			}
			for i := range out {
				out[i] /= sum
			}
		}
		return y, nil
	case types.OpReshape:
		// Same bytes, new shape; the shape operand was consumed at codegen.
		x, _, err := operand(0)
		if err != nil {
			return nil, err
		}
		return append([]float32(nil), x...), nil
	}
	return nil, fmt.Errorf("no kernel for operator kind %q", n.Kind)
}

func mapF32(x []float32, fn func(float32) float32) []float32 {
	y := make([]float32, len(x))
	for i, v := range x {
		y[i] = fn(v)
	}
	return y
}

func applyActivation(v float32, act string) float32 {
	switch act {
	case "relu":
		if v < 0 {
			return 0
		}
	case "relu6":
		if v < 0 {
			return 0
		}
		if v > 6 {
			return 6
		}
	case "tanh":
		return float32(math.Tanh(float64(v)))
	}
	return v
}

func decodeF32(raw []byte) []float32 {
	out := make([]float32, len(raw)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return out
}

func encodeF32(vals []float32) []byte {
	out := make([]byte, 0, 4*len(vals))
	for _, v := range vals {
		out = binary.LittleEndian.AppendUint32(out, math.Float32bits(v))
	}
	return out
}
