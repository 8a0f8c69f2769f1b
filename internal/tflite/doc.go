// Package tflite parses TensorFlow Lite flatbuffer model files into a raw,
// owned description (tensors, operators, weight payloads). It tracks the
// upstream schema layout directly with bounds-checked offset arithmetic, so no
// generated schema bindings are required. It is structured into small files by
// concern:
//
//   - flatbuf.go: low-level flatbuffer access (tables, vtables, vectors, strings).
//   - schema.go: field ids and enum values from the upstream schema (v3).
//   - model.go: the raw in-memory description returned by Parse.
//   - reader.go: Parse itself, walking the buffer into a Model.
//   - errors.go: error types and helpers (IsMalformedModel, IsUnsupportedOperator).
//
// Parse is a pure function of its input: the returned Model owns copies of all
// shapes and payloads and keeps no reference into the caller's buffer.
package tflite
