// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package passes defines the contract implemented by graph rewriting passes, and a Pipeline to sequence them.
//
// A pass mutates a graph.Module in place and reports whether it changed anything. Passes are expected to be
// idempotent: running a pass twice in succession reports no change on the second run.
package passes

import (
	"github.com/gomlx/convlower/graph"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Pass is a graph rewriting pass.
type Pass interface {
	// Name of the pass, used for logging and error messages.
	Name() string

	// Run the pass on the module, mutating it in place. It returns whether the module was changed.
	//
	// On error the module is left in an unspecified (possibly partially rewritten) state.
	Run(module *graph.Module) (changed bool, err error)
}

// DefaultMaxIterations is the default limit of iterations of a Pipeline over its passes.
const DefaultMaxIterations = 10

// Pipeline runs a sequence of passes, repeatedly, until none of them changes the module (a fixpoint),
// or the maximum number of iterations is reached.
type Pipeline struct {
	passes        []Pass
	maxIterations int
}

// NewPipeline creates a Pipeline with the given passes, run in order.
func NewPipeline(passes ...Pass) *Pipeline {
	return &Pipeline{passes: passes, maxIterations: DefaultMaxIterations}
}

// AddPass appends a pass to the pipeline. It returns the pipeline itself, so calls can be cascaded.
func (p *Pipeline) AddPass(pass Pass) *Pipeline {
	p.passes = append(p.passes, pass)
	return p
}

// WithMaxIterations sets the maximum number of iterations over the passes. If <= 0, the passes are run only once.
func (p *Pipeline) WithMaxIterations(maxIterations int) *Pipeline {
	p.maxIterations = maxIterations
	return p
}

// Passes returns the passes of the pipeline, in the order they are run.
func (p *Pipeline) Passes() []Pass {
	return p.passes
}

// Run the passes until a fixpoint. It returns whether any pass changed the module.
//
// It is an error if the passes are still changing the module after the maximum number of iterations.
func (p *Pipeline) Run(module *graph.Module) (changed bool, err error) {
	maxIterations := max(p.maxIterations, 1)
	for iteration := range maxIterations {
		var iterationChanged bool
		for _, pass := range p.passes {
			passChanged, err := pass.Run(module)
			if err != nil {
				return changed, errors.WithMessagef(err, "pass %q failed on module %q", pass.Name(), module.Name())
			}
			klog.V(1).Infof("pass %q on module %q: changed=%t", pass.Name(), module.Name(), passChanged)
			iterationChanged = iterationChanged || passChanged
		}
		changed = changed || iterationChanged
		if !iterationChanged {
			return changed, nil
		}
		if p.maxIterations <= 0 {
			return changed, nil
		}
		klog.V(2).Infof("pipeline on module %q: iteration %d changed the module", module.Name(), iteration)
	}
	return changed, errors.Errorf("pipeline on module %q didn't reach a fixpoint after %d iterations",
		module.Name(), maxIterations)
}
