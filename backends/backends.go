// Package backends defines the operation vocabulary shared by the computation graph, its shape inference,
// the graph rewriting passes and the code emitters.
//
// It also describes what a target primitive can execute directly (see Capabilities and ConvolutionEnvelope),
// which is what the rewriting passes canonicalize towards.
//
// To simplify error handling, graph building functions are expected to throw (panic) with a stack trace in
// case of errors. See package github.com/gomlx/exceptions.
package backends
