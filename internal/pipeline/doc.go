// Package pipeline orchestrates the compile-and-run flow: resolve a model
// from the registry, parse and lower it, generate C for the requested
// target, and drive a device session through upload, input binding,
// execution and output retrieval. Generated artifacts are cached by graph
// fingerprint so repeated requests skip codegen.
package pipeline
