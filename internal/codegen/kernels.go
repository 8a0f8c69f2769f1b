package codegen

import (
	"bytes"
	"fmt"

	"microd/internal/ir"
	"microd/pkg/types"
)

// emitKernel writes one static C function implementing node n with the
// target's kernel set. Shapes are burned into the function body; the graph
// was fully shape-inferred before codegen so every extent is a constant.
func emitKernel(b *bytes.Buffer, g *ir.Graph, target Target, fn string, n ir.Node) error {
	out, _ := g.Tensor(n.Outputs[0])
	act := n.Attrs["fused_activation"]
	switch n.Kind {
	case types.OpFullyConnected:
		x, _ := g.Tensor(n.Inputs[0])
		w, _ := g.Tensor(n.Inputs[1])
		units, in := w.Shape[0], w.Shape[1]
		batch := types.NumElements(x.Shape) / in
		emitFullyConnected(b, target.kernels, fn, batch, in, units, len(n.Inputs) >= 3, act)
	case types.OpAdd:
		emitAdd(b, fn, types.NumElements(out.Shape), act)
	case types.OpRelu:
		emitMap(b, fn, types.NumElements(out.Shape), "fmaxf(x[i], 0.0f)")
	case types.OpLogistic:
		emitMap(b, fn, types.NumElements(out.Shape), "1.0f / (1.0f + expf(-x[i]))")
	case types.OpSoftmax:
		inner := out.Shape[len(out.Shape)-1]
		emitSoftmax(b, fn, types.NumElements(out.Shape)/inner, inner)
	case types.OpReshape:
		emitReshape(b, fn, out.ByteSize())
	default:
		return fmt.Errorf("codegen: no kernel for operator kind %q", n.Kind)
	}
	return nil
}

// activation wraps expr with the fused activation function, if any.
func activation(expr, act string) string {
	switch act {
	case "relu":
		return fmt.Sprintf("fmaxf(%s, 0.0f)", expr)
	case "relu6":
		return fmt.Sprintf("fminf(fmaxf(%s, 0.0f), 6.0f)", expr)
	case "tanh":
		return fmt.Sprintf("tanhf(%s)", expr)
	default:
		return expr
	}
}

func emitFullyConnected(b *bytes.Buffer, ks kernelSet, fn string, batch, in, units int, bias bool, act string) {
	sig := "const float* x, const float* w, float* y"
	if bias {
		sig = "const float* x, const float* w, const float* b, float* y"
	}
	fmt.Fprintf(b, "static void %s(%s)\n{\n", fn, sig)
	fmt.Fprintf(b, "    for (int n = 0; n < %d; n++) {\n", batch)
	fmt.Fprintf(b, "        for (int u = 0; u < %d; u++) {\n", units)
	switch ks {
	case kernelsSSE2:
		b.WriteString("            __m128 acc4 = _mm_setzero_ps();\n")
		b.WriteString("            int i = 0;\n")
		fmt.Fprintf(b, "            for (; i + 4 <= %d; i += 4) {\n", in)
		fmt.Fprintf(b, "                __m128 xv = _mm_loadu_ps(x + n * %d + i);\n", in)
		fmt.Fprintf(b, "                __m128 wv = _mm_loadu_ps(w + u * %d + i);\n", in)
		b.WriteString("                acc4 = _mm_add_ps(acc4, _mm_mul_ps(xv, wv));\n")
		b.WriteString("            }\n")
		b.WriteString("            float lanes[4];\n")
		b.WriteString("            _mm_storeu_ps(lanes, acc4);\n")
		b.WriteString("            float acc = lanes[0] + lanes[1] + lanes[2] + lanes[3];\n")
		fmt.Fprintf(b, "            for (; i < %d; i++) {\n", in)
		fmt.Fprintf(b, "                acc += x[n * %d + i] * w[u * %d + i];\n", in, in)
		b.WriteString("            }\n")
	case kernelsUnrolled:
		b.WriteString("            float acc0 = 0.0f, acc1 = 0.0f, acc2 = 0.0f, acc3 = 0.0f;\n")
		b.WriteString("            int i = 0;\n")
		fmt.Fprintf(b, "            for (; i + 4 <= %d; i += 4) {\n", in)
		fmt.Fprintf(b, "                acc0 += x[n * %d + i]     * w[u * %d + i];\n", in, in)
		fmt.Fprintf(b, "                acc1 += x[n * %d + i + 1] * w[u * %d + i + 1];\n", in, in)
		fmt.Fprintf(b, "                acc2 += x[n * %d + i + 2] * w[u * %d + i + 2];\n", in, in)
		fmt.Fprintf(b, "                acc3 += x[n * %d + i + 3] * w[u * %d + i + 3];\n", in, in)
		b.WriteString("            }\n")
		b.WriteString("            float acc = (acc0 + acc1) + (acc2 + acc3);\n")
		fmt.Fprintf(b, "            for (; i < %d; i++) {\n", in)
		fmt.Fprintf(b, "                acc += x[n * %d + i] * w[u * %d + i];\n", in, in)
		b.WriteString("            }\n")
	default:
		b.WriteString("            float acc = 0.0f;\n")
		fmt.Fprintf(b, "            for (int i = 0; i < %d; i++) {\n", in)
		fmt.Fprintf(b, "                acc += x[n * %d + i] * w[u * %d + i];\n", in, in)
		b.WriteString("            }\n")
	}
	if bias {
		b.WriteString("            acc += b[u];\n")
	}
	fmt.Fprintf(b, "            y[n * %d + u] = %s;\n", units, activation("acc", act))
	b.WriteString("        }\n    }\n}\n\n")
}

func emitAdd(b *bytes.Buffer, fn string, n int, act string) {
	fmt.Fprintf(b, "static void %s(const float* a, const float* b, float* y)\n{\n", fn)
	fmt.Fprintf(b, "    for (int i = 0; i < %d; i++) {\n", n)
	fmt.Fprintf(b, "        y[i] = %s;\n", activation("a[i] + b[i]", act))
	b.WriteString("    }\n}\n\n")
}

func emitMap(b *bytes.Buffer, fn string, n int, expr string) {
	fmt.Fprintf(b, "static void %s(const float* x, float* y)\n{\n", fn)
	fmt.Fprintf(b, "    for (int i = 0; i < %d; i++) {\n", n)
	fmt.Fprintf(b, "        y[i] = %s;\n", expr)
	b.WriteString("    }\n}\n\n")
}

// emitSoftmax emits the numerically stable form: subtract the row max before
// exponentiating.
func emitSoftmax(b *bytes.Buffer, fn string, outer, inner int) {
	fmt.Fprintf(b, "static void %s(const float* x, float* y)\n{\n", fn)
	fmt.Fprintf(b, "    for (int n = 0; n < %d; n++) {\n", outer)
	fmt.Fprintf(b, "        const float* row = x + n * %d;\n", inner)
	fmt.Fprintf(b, "        float* out = y + n * %d;\n", inner)
	b.WriteString("        float max = row[0];\n")
	fmt.Fprintf(b, "        for (int i = 1; i < %d; i++) {\n", inner)
	b.WriteString("            if (row[i] > max) max = row[i];\n")
	b.WriteString("        }\n")
	b.WriteString("        float sum = 0.0f;\n")
	fmt.Fprintf(b, "        for (int i = 0; i < %d; i++) {\n", inner)
	b.WriteString("            out[i] = expf(row[i] - max);\n")
	b.WriteString("            sum += out[i];\n")
	b.WriteString("        }\n")
	fmt.Fprintf(b, "        for (int i = 0; i < %d; i++) {\n", inner)
	b.WriteString("            out[i] /= sum;\n")
	b.WriteString("        }\n    }\n}\n\n")
}

func emitReshape(b *bytes.Buffer, fn string, size int) {
	fmt.Fprintf(b, "static void %s(const float* x, float* y)\n{\n", fn)
	fmt.Fprintf(b, "    memcpy(y, x, %d);\n}\n\n", size)
}
