package codegen

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"microd/internal/ir"
	"microd/pkg/types"
)

// arenaAlign keeps every buffer offset 16-byte aligned so vectorized kernel
// sets can use aligned loads on the device.
const arenaAlign = 16

// Generate lowers graph into a C artifact for target. The entry point is
// `int run(void** buffers)` (0 = success); buffers arrive in manifest order.
// Weight payloads travel in Artifact.Params and are written to their arena
// slots at deploy time, so the source itself stays small enough to flash.
func Generate(g *ir.Graph, target Target) (*types.Artifact, error) {
	plan, err := planBuffers(g)
	if err != nil {
		return nil, err
	}
	src, err := emitSource(g, target, plan)
	if err != nil {
		return nil, err
	}
	name := g.Name()
	if name == "" {
		name = "model"
	}
	return &types.Artifact{
		Name:        name,
		Target:      target.ID,
		Fingerprint: g.Fingerprint(target.ID),
		Source:      src,
		Manifest:    plan.manifest,
		Params:      plan.params,
		Graph:       g.Summary(),
	}, nil
}

// bufferPlan fixes the arena layout: graph inputs, then weight params (sorted
// by name), then intermediates in production order, then graph outputs.
type bufferPlan struct {
	manifest types.Manifest
	index    map[string]int
	ident    map[string]string
	params   map[string][]byte
}

func planBuffers(g *ir.Graph) (*bufferPlan, error) {
	p := &bufferPlan{
		index:  make(map[string]int),
		ident:  make(map[string]string),
		params: make(map[string][]byte),
	}

	isOutput := make(map[string]bool)
	for _, name := range g.Outputs() {
		isOutput[name] = true
	}
	consumed := runtimeConsts(g)

	var paramNames []string
	for _, name := range consumed {
		t, _ := g.Tensor(name)
		if t.DType != types.Float32 {
			return nil, unsupportedDTypeError{name: name, dtype: t.DType}
		}
		p.params[name] = t.Weights
		paramNames = append(paramNames, name)
	}
	sort.Strings(paramNames)

	add := func(name string, role types.BufferRole) error {
		if _, dup := p.index[name]; dup {
			return nil
		}
		t, ok := g.Tensor(name)
		if !ok {
			return fmt.Errorf("codegen: unknown tensor %q", name)
		}
		if role != types.RoleParam && t.DType != types.Float32 {
			return unsupportedDTypeError{name: name, dtype: t.DType}
		}
		offset := align(p.manifest.ArenaSize, arenaAlign)
		p.index[name] = len(p.manifest.Buffers)
		p.manifest.Buffers = append(p.manifest.Buffers, types.BufferSpec{
			Name:   name,
			Size:   t.ByteSize(),
			Offset: offset,
			Role:   role,
			DType:  t.DType,
			Shape:  append([]int(nil), t.Shape...),
		})
		p.manifest.ArenaSize = offset + t.ByteSize()
		return nil
	}

	for _, name := range g.Inputs() {
		if err := add(name, types.RoleInput); err != nil {
			return nil, err
		}
	}
	for _, name := range paramNames {
		if err := add(name, types.RoleParam); err != nil {
			return nil, err
		}
	}
	for _, n := range g.Nodes() {
		for _, out := range n.Outputs {
			if isOutput[out] {
				continue
			}
			if err := add(out, types.RoleIntermediate); err != nil {
				return nil, err
			}
		}
	}
	for _, name := range g.Outputs() {
		if err := add(name, types.RoleOutput); err != nil {
			return nil, err
		}
	}

	used := make(map[string]bool)
	for _, b := range p.manifest.Buffers {
		p.ident[b.Name] = cIdent(b.Name, used)
	}
	return p, nil
}

// runtimeConsts lists constant tensors read by kernels at run time, in first
// use order. Shape operands of Reshape are consumed at generation time and
// get no arena slot.
func runtimeConsts(g *ir.Graph) []string {
	var out []string
	seen := make(map[string]bool)
	for _, n := range g.Nodes() {
		for i, in := range n.Inputs {
			if n.Kind == types.OpReshape && i == 1 {
				continue
			}
			t, ok := g.Tensor(in)
			if !ok || !t.IsConst() || seen[in] {
				continue
			}
			seen[in] = true
			out = append(out, in)
		}
	}
	return out
}

func emitSource(g *ir.Graph, target Target, plan *bufferPlan) ([]byte, error) {
	var b bytes.Buffer
	name := g.Name()
	if name == "" {
		name = "model"
	}
	fmt.Fprintf(&b, "/* %s forward pass\n", name)
	fmt.Fprintf(&b, " * target: %s\n", target.ID)
	fmt.Fprintf(&b, " * fingerprint: %s\n", g.Fingerprint(target.ID))
	b.WriteString(" * entry: int run(void** buffers); buffer order is given by the manifest.\n */\n")
	b.WriteString("#include <math.h>\n#include <stdint.h>\n#include <string.h>\n")
	if target.kernels == kernelsSSE2 {
		b.WriteString("#include <emmintrin.h>\n")
	}
	b.WriteString("\n")

	nodes := g.Nodes()
	fns := make([]string, len(nodes))
	for i, n := range nodes {
		fn := fmt.Sprintf("op%d_%s", i, n.Kind)
		fns[i] = fn
		if err := emitKernel(&b, g, target, fn, n); err != nil {
			return nil, err
		}
	}

	b.WriteString("int run(void** buffers)\n{\n")
	for _, spec := range plan.manifest.Buffers {
		i := plan.index[spec.Name]
		id := plan.ident[spec.Name]
		if spec.Role == types.RoleInput || spec.Role == types.RoleParam {
			fmt.Fprintf(&b, "    const float* %s = (const float*) buffers[%d];\n", id, i)
		} else {
			fmt.Fprintf(&b, "    float* %s = (float*) buffers[%d];\n", id, i)
		}
	}
	b.WriteString("\n")
	for i, n := range nodes {
		args := make([]string, 0, len(n.Inputs)+len(n.Outputs))
		for j, in := range n.Inputs {
			if n.Kind == types.OpReshape && j == 1 {
				continue
			}
			args = append(args, plan.ident[in])
		}
		for _, out := range n.Outputs {
			args = append(args, plan.ident[out])
		}
		fmt.Fprintf(&b, "    %s(%s);\n", fns[i], strings.Join(args, ", "))
	}
	b.WriteString("    return 0;\n}\n")
	return b.Bytes(), nil
}

func align(off, to int) int {
	if rem := off % to; rem != 0 {
		return off + to - rem
	}
	return off
}

// cIdent maps a tensor name to a unique C identifier. The t_ prefix keeps
// clear of keywords and kernel function names.
func cIdent(name string, used map[string]bool) string {
	var sb strings.Builder
	sb.WriteString("t_")
	for _, r := range name {
		if r == '_' || (r >= '0' && r <= '9') || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
			sb.WriteRune(r)
		} else {
			sb.WriteByte('_')
		}
	}
	id := sb.String()
	for i := 2; used[id]; i++ {
		id = fmt.Sprintf("%s_%d", sb.String(), i)
	}
	used[id] = true
	return id
}
