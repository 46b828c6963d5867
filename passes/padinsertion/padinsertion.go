// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package padinsertion implements the convolution canonicalization pass: it rewrites convolutions whose padding
// can't be executed directly by the target's convolution primitive into an explicit Pad followed by a convolution
// with the padding the primitive accepts.
//
// The primitive is described by a backends.ConvolutionEnvelope. Each convolution variant (Forward, BackwardFilter
// and BackwardInput) is reduced to the forward convolution the primitive executes (see EffectiveWindow), and for
// every spatial dimension outside the envelope:
//
//   - The padding the envelope accepts (clamped to [0, MaxPadding], and the minimum of both sides if it must be
//     symmetric) is kept on the window.
//   - The rest is materialized with a Pad of the padded operand. Negative amounts are crops.
//   - The base dilation of the dimension is folded into the Pad's interior padding.
//
// The total padding per dimension (Pad plus window) is preserved exactly, and running the pass again on its output
// makes no changes.
package padinsertion

import (
	"slices"
	"sync"

	"github.com/gomlx/convlower/backends"
	"github.com/gomlx/convlower/graph"
	"github.com/gomlx/convlower/passes"
	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

var (
	// ErrMalformedGraph is returned (wrapped) when a convolution doesn't carry a well-formed window, or has an
	// operand count inconsistent with its kind.
	ErrMalformedGraph = errors.New("malformed graph")

	// ErrUnsupportedConfiguration is returned (wrapped) when a convolution padding/dilation configuration can't
	// be decomposed into an explicit Pad and a window the convolution primitive accepts.
	ErrUnsupportedConfiguration = errors.New("unsupported convolution configuration")
)

// Name of the pass.
const Name = "conv-pad-insertion"

// Rewrite describes one convolution rewritten by the pass.
type Rewrite struct {
	Computation string
	Conv        graph.NodeId
	Kind        backends.ConvKind

	// Before and After are the windows stored on the convolution before and after the rewrite.
	Before, After backends.Window

	// Pad is the inserted Pad node.
	Pad *graph.Node
}

// Pass implements passes.Pass. Create it with New.
type Pass struct {
	envelope backends.ConvolutionEnvelope
	parallel bool

	mu       sync.Mutex
	rewrites []Rewrite
}

var _ passes.Pass = (*Pass)(nil)

// Option configures the Pass.
type Option func(p *Pass)

// WithEnvelope sets the configurations the convolution primitive executes directly.
// The default is backends.DefaultConvolutionEnvelope().
func WithEnvelope(envelope backends.ConvolutionEnvelope) Option {
	return func(p *Pass) {
		p.envelope = envelope
	}
}

// WithParallelComputations makes the pass process the computations of a module concurrently.
// Computations share no mutable state other than the module's node id allocator, which is synchronized.
func WithParallelComputations(parallel bool) Option {
	return func(p *Pass) {
		p.parallel = parallel
	}
}

// New creates a new convolution canonicalization pass.
func New(opts ...Option) *Pass {
	p := &Pass{envelope: backends.DefaultConvolutionEnvelope()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name implements passes.Pass.
func (p *Pass) Name() string { return Name }

// Envelope returns the convolution envelope the pass canonicalizes to.
func (p *Pass) Envelope() backends.ConvolutionEnvelope { return p.envelope }

// Rewrites returns the convolutions rewritten by all the runs of the pass so far.
func (p *Pass) Rewrites() []Rewrite {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.rewrites)
}

// Run implements passes.Pass. It canonicalizes every convolution of every computation of the module, and returns
// whether any was rewritten.
//
// Errors wrap ErrMalformedGraph or ErrUnsupportedConfiguration. On error the module may be partially rewritten.
func (p *Pass) Run(module *graph.Module) (bool, error) {
	computations := module.Computations()
	if !p.parallel {
		var changed bool
		for _, c := range computations {
			computationChanged, err := p.RunOnComputation(c)
			if err != nil {
				return changed, err
			}
			changed = changed || computationChanged
		}
		return changed, nil
	}

	changes := make([]bool, len(computations))
	errs := make([]error, len(computations))
	var wg sync.WaitGroup
	for ii, c := range computations {
		wg.Add(1)
		go func() {
			defer wg.Done()
			changes[ii], errs[ii] = p.RunOnComputation(c)
		}()
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return slices.Contains(changes, true), err
		}
	}
	return slices.Contains(changes, true), nil
}

// RunOnComputation canonicalizes the convolutions of one computation, in computation order.
func (p *Pass) RunOnComputation(c *graph.Computation) (changed bool, err error) {
	for _, node := range c.Nodes() {
		if node.Type() != backends.OpTypeConvolution {
			continue
		}
		var rewritten bool
		var canonicalizeErr error
		err = exceptions.TryCatch[error](func() {
			rewritten, canonicalizeErr = p.canonicalize(c, node)
		})
		if err == nil {
			err = canonicalizeErr
		}
		if err != nil {
			return changed, errors.WithMessagef(err, "computation %q, convolution %s", c.Name(), node.Ref())
		}
		changed = changed || rewritten
	}
	if changed {
		if err = c.Validate(); err != nil {
			return changed, errors.WithMessagef(err, "computation %q invalid after %s", c.Name(), Name)
		}
	}
	return changed, nil
}

// keptPadding returns the padding of the window dimension that the envelope accepts.
func (p *Pass) keptPadding(wd backends.WindowDimension) (low, high int) {
	keep := func(padding int) int {
		padding = max(padding, 0)
		if p.envelope.MaxPadding >= 0 {
			padding = min(padding, p.envelope.MaxPadding)
		}
		return padding
	}
	low, high = keep(wd.PaddingLow), keep(wd.PaddingHigh)
	if p.envelope.SymmetricPadding {
		low = min(low, high)
		high = low
	}
	return
}

// canonicalize the convolution if needed. It returns whether it was rewritten.
func (p *Pass) canonicalize(c *graph.Computation, conv *graph.Node) (bool, error) {
	effective, err := EffectiveWindow(conv)
	if err != nil {
		return false, err
	}
	kind, axes := conv.ConvKind(), conv.ConvAxes()
	operandIdx := PaddedOperand(kind)
	operand := conv.Operand(operandIdx)
	spatialAxes := paddedSpatialAxes(kind, axes)

	newEffective := effective.Clone()
	rewritten := make([]bool, len(effective))
	padAxes := make([]backends.PadAxis, operand.Rank())
	var anyRewritten bool
	for ii, wd := range effective {
		if !p.envelope.WindowDilationFits(wd.WindowDilation) {
			return false, errors.Wrapf(ErrUnsupportedConfiguration,
				"effective window dilation %d on spatial axis %d exceeds %s (window dilation can't be materialized)",
				wd.WindowDilation, ii, p.envelope)
		}
		if p.envelope.IsCanonical(wd) {
			continue
		}
		keepLow, keepHigh := p.keptPadding(wd)
		dilatedDim := wd.DilatedInputSize(operand.Shape().Dim(spatialAxes[ii]))
		if dilatedDim+wd.PaddingLow-keepLow+wd.PaddingHigh-keepHigh < 1 {
			// The crop would consume the whole operand: materialize all the padding.
			keepLow, keepHigh = 0, 0
		}
		padAxes[spatialAxes[ii]] = backends.PadAxis{
			Start:    wd.PaddingLow - keepLow,
			End:      wd.PaddingHigh - keepHigh,
			Interior: wd.BaseDilation - 1,
		}
		newEffective[ii].PaddingLow = keepLow
		newEffective[ii].PaddingHigh = keepHigh
		newEffective[ii].BaseDilation = 1
		rewritten[ii] = true
		anyRewritten = true
		if klog.V(2).Enabled() {
			klog.Infof("%s: %s spatial axis %d: effective %s -> %s, pad %s",
				Name, conv.Ref(), ii, wd, newEffective[ii], padAxes[spatialAxes[ii]])
		}
	}
	if !anyRewritten {
		return false, nil
	}

	before := conv.Window()
	after := storedWindow(kind, before, newEffective, rewritten)
	original := conv.String()
	fill := c.NewConstantBefore(conv, operand.DType(), 0)
	pad := graph.NewPadBefore(conv, operand, fill, padAxes...)
	conv.ReplaceOperand(operandIdx, pad)
	conv.SetWindow(after)
	klog.V(1).Infof("%s: Replacing: %s with: %s ; %s", Name, original, pad, conv)

	p.mu.Lock()
	p.rewrites = append(p.rewrites, Rewrite{
		Computation: c.Name(),
		Conv:        conv.Id(),
		Kind:        kind,
		Before:      before,
		After:       after,
		Pad:         pad,
	})
	p.mu.Unlock()
	return true, nil
}
