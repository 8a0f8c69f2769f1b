// Package codegen lowers an IR graph into portable C source implementing the
// forward computation, plus a manifest of the buffers the entry point
// expects. Generation is deterministic: the same (graph, target) pair always
// yields byte-identical output, which the artifact cache relies on.
package codegen

import "github.com/klauspost/cpuid/v2"

// kernelSet selects the numeric kernel variant emitted for a target.
type kernelSet int

const (
	kernelsScalar kernelSet = iota
	kernelsUnrolled
	kernelsSSE2
)

// Target identifies the execution environment an artifact is generated for.
type Target struct {
	ID      string
	kernels kernelSet
}

// Resolve maps a target identifier to a Target. "native" resolves against
// the host CPU and exists for loopback testing against the simulator.
func Resolve(id string) (Target, error) {
	switch id {
	case "generic-c":
		return Target{ID: "generic-c", kernels: kernelsScalar}, nil
	case "cortex-m7-dsp":
		// The M7 FPU pipelines well with manually unrolled inner loops.
		return Target{ID: "cortex-m7-dsp", kernels: kernelsUnrolled}, nil
	case "x86-64-sse2":
		return Target{ID: "x86-64-sse2", kernels: kernelsSSE2}, nil
	case "native":
		if cpuid.CPU.Supports(cpuid.SSE2) {
			return Target{ID: "x86-64-sse2", kernels: kernelsSSE2}, nil
		}
		return Target{ID: "generic-c", kernels: kernelsScalar}, nil
	}
	return Target{}, unknownTargetError{id: id}
}

// Known lists the accepted target identifiers.
func Known() []string {
	return []string{"generic-c", "cortex-m7-dsp", "x86-64-sse2", "native"}
}
