// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package simplego implements a simple, and not very fast, but very portable evaluator of graph computations.
//
// It is the reference semantics for the graph operations: values are kept as float64 on the host and rounded to
// the precision of each node's dtype after every operation. Rewriting passes are tested by evaluating a
// computation before and after the rewrite and comparing the results.
package simplego

import (
	"github.com/gomlx/convlower/backends"
	"github.com/gomlx/convlower/graph"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// nodeExecutor for the given operation type.
//
// It is given the buffers for its operands, and it returns a new buffer shaped as the node.
type nodeExecutor func(node *graph.Node, inputs []*Buffer) (*Buffer, error)

// nodeExecutors should be populated during initialization (`init` functions) for the ops implemented.
// Parameters are handled by Evaluate directly.
var nodeExecutors = make(map[backends.OpType]nodeExecutor)

func setNodeExecutor(opType backends.OpType, executor nodeExecutor) {
	nodeExecutors[opType] = executor
}

// Evaluator of graph computations.
type Evaluator struct {
	capabilities backends.Capabilities
}

// New constructs a new Evaluator.
func New() *Evaluator {
	return &Evaluator{capabilities: Capabilities.Clone()}
}

// Capabilities returns the operations and dtypes supported by the evaluator.
func (e *Evaluator) Capabilities() backends.Capabilities {
	return e.capabilities.Clone()
}

// Evaluate the computation with the given parameters, one per parameter of the computation, in order.
// It returns the value of the root of the computation.
//
// Nodes are evaluated in computation order, and intermediary values are released as soon as their last user
// has been evaluated.
func (e *Evaluator) Evaluate(comp *graph.Computation, params ...*Buffer) (*Buffer, error) {
	root := comp.Root()
	if root == nil {
		return nil, errors.Errorf("Evaluate: computation %q has no root", comp.Name())
	}
	parameters := comp.Parameters()
	if len(params) != len(parameters) {
		return nil, errors.Errorf("Evaluate: computation %q takes %d parameters, got %d",
			comp.Name(), len(parameters), len(params))
	}
	for ii, param := range params {
		if param == nil {
			return nil, errors.Errorf("Evaluate: parameter #%d (%q) is nil", ii, parameters[ii].ParameterName())
		}
		if !param.shape.Equal(parameters[ii].Shape()) {
			return nil, errors.Errorf("Evaluate: parameter #%d (%q) for %q: expected shape %s, got %s",
				ii, parameters[ii].ParameterName(), comp.Name(), parameters[ii].Shape(), param.shape)
		}
	}

	nodes := comp.Nodes()
	lastUse := make(map[*graph.Node]int, len(nodes))
	for pos, node := range nodes {
		for _, operand := range node.Operands() {
			lastUse[operand] = pos
		}
	}
	results := make(map[*graph.Node]*Buffer, len(nodes))
	for pos, node := range nodes {
		if !e.capabilities.Operations[node.Type()] {
			return nil, errors.Errorf("Evaluate: node %s: operation %s not supported", node.Ref(), node.Type())
		}
		if !e.capabilities.DTypes[node.DType()] {
			return nil, errors.Errorf("Evaluate: node %s: dtype %s not supported", node.Ref(), node.DType())
		}
		var result *Buffer
		if node.Type() == backends.OpTypeParameter {
			result = params[node.ParameterIndex()]
		} else {
			inputs := make([]*Buffer, node.NumOperands())
			for ii, operand := range node.Operands() {
				inputs[ii] = results[operand]
				if inputs[ii] == nil {
					return nil, errors.Errorf("Evaluate: operand #%d (%s) of node %s is not calculated yet (!?)",
						ii, operand.Ref(), node.Ref())
				}
			}
			executor := nodeExecutors[node.Type()]
			if executor == nil {
				return nil, errors.Errorf("Evaluate: node executor for op type %s not implemented!?", node.Type())
			}
			var err error
			result, err = executor(node, inputs)
			if err != nil {
				return nil, errors.WithMessagef(err, "while executing %s", node)
			}
			result.round()
		}
		results[node] = result
		for _, operand := range node.Operands() {
			if lastUse[operand] == pos && operand != root {
				delete(results, operand)
			}
		}
		if klog.V(3).Enabled() {
			klog.Infof("simplego: evaluated %s", node)
		}
	}
	return results[root], nil
}
