package codegen

import (
	"bytes"
	"strings"
	"testing"

	"microd/internal/ir"
	"microd/internal/tflite"
	"microd/internal/tflite/tflitetest"
	"microd/pkg/types"
)

func loweredSine(t *testing.T) *ir.Graph {
	t.Helper()
	m, err := tflite.Parse(tflitetest.SineModel(1.5, 0.25))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	g, err := ir.Lower(m, ir.LowerOptions{ShapeOverrides: map[string][]int{"dense_4_input": {1}}})
	if err != nil {
		t.Fatalf("lower: %v", err)
	}
	return g
}

func mustTarget(t *testing.T, id string) Target {
	t.Helper()
	tgt, err := Resolve(id)
	if err != nil {
		t.Fatalf("resolve %s: %v", id, err)
	}
	return tgt
}

func TestGenerateDeterministic(t *testing.T) {
	g := loweredSine(t)
	tgt := mustTarget(t, "generic-c")
	a, err := Generate(g, tgt)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	b, err := Generate(g, tgt)
	if err != nil {
		t.Fatalf("generate again: %v", err)
	}
	if !bytes.Equal(a.Source, b.Source) {
		t.Fatal("generated source differs across calls")
	}
	if a.Fingerprint != b.Fingerprint {
		t.Fatal("fingerprints differ across calls")
	}
	if len(a.Manifest.Buffers) != len(b.Manifest.Buffers) {
		t.Fatal("manifests differ across calls")
	}
}

func TestGenerateRejectsNonFloatInput(t *testing.T) {
	m, err := tflite.Parse(tflitetest.SineModel(1.5, 0.25))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	g, err := ir.Lower(m, ir.LowerOptions{
		ShapeOverrides: map[string][]int{"dense_4_input": {1}},
		DTypeOverrides: map[string]types.DType{"dense_4_input": types.Int8},
	})
	if err != nil {
		t.Fatalf("lower: %v", err)
	}
	_, err = Generate(g, mustTarget(t, "generic-c"))
	if !IsUnsupportedDType(err) {
		t.Fatalf("expected unsupported-dtype error, got %v", err)
	}
	if types.KindOf(err) != types.KindShapeMismatch {
		t.Fatalf("error kind = %s, want %s", types.KindOf(err), types.KindShapeMismatch)
	}
}

func TestGenerateManifestRoles(t *testing.T) {
	a, err := Generate(loweredSine(t), mustTarget(t, "generic-c"))
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	inputs := a.Manifest.ByRole(types.RoleInput)
	outputs := a.Manifest.ByRole(types.RoleOutput)
	if len(inputs) != 1 || len(outputs) != 1 {
		t.Fatalf("manifest has %d inputs and %d outputs, want 1 and 1", len(inputs), len(outputs))
	}
	if inputs[0].Name != "dense_4_input" || inputs[0].Size != 4 {
		t.Fatalf("input buffer = %+v", inputs[0])
	}
	if outputs[0].Name != "Identity" || outputs[0].Size != 4 {
		t.Fatalf("output buffer = %+v", outputs[0])
	}
	params := a.Manifest.ByRole(types.RoleParam)
	if len(params) != 2 {
		t.Fatalf("param buffers = %d, want 2 (kernel, bias)", len(params))
	}
	if len(a.Params) != 2 {
		t.Fatalf("param payloads = %d, want 2", len(a.Params))
	}
	for _, b := range a.Manifest.Buffers {
		if b.Offset%16 != 0 {
			t.Fatalf("buffer %q offset %d not 16-byte aligned", b.Name, b.Offset)
		}
	}
}

func TestGenerateSourceShape(t *testing.T) {
	a, err := Generate(loweredSine(t), mustTarget(t, "generic-c"))
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	src := string(a.Source)
	for _, want := range []string{
		"int run(void** buffers)",
		"op0_fully_connected",
		"op1_relu",
		"return 0;",
	} {
		if !strings.Contains(src, want) {
			t.Fatalf("source missing %q:\n%s", want, src)
		}
	}
}

func TestGenerateKernelVariants(t *testing.T) {
	g := loweredSine(t)
	sse, err := Generate(g, mustTarget(t, "x86-64-sse2"))
	if err != nil {
		t.Fatalf("generate sse2: %v", err)
	}
	if !strings.Contains(string(sse.Source), "_mm_loadu_ps") {
		t.Fatal("sse2 artifact missing vector kernels")
	}
	dsp, err := Generate(g, mustTarget(t, "cortex-m7-dsp"))
	if err != nil {
		t.Fatalf("generate dsp: %v", err)
	}
	if !strings.Contains(string(dsp.Source), "acc3") {
		t.Fatal("dsp artifact missing unrolled kernels")
	}
	if sse.Fingerprint == dsp.Fingerprint {
		t.Fatal("different targets share a fingerprint")
	}
}

func TestResolveUnknownTarget(t *testing.T) {
	_, err := Resolve("riscv-unobtainium")
	if !IsUnknownTarget(err) {
		t.Fatalf("expected unknown-target error, got %v", err)
	}
}

func TestResolveNative(t *testing.T) {
	tgt, err := Resolve("native")
	if err != nil {
		t.Fatalf("resolve native: %v", err)
	}
	if tgt.ID == "native" {
		t.Fatal("native must resolve to a concrete target id")
	}
}
