// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package convemit lowers a graph.Computation made of Parameter, Constant, Pad and forward Convolution nodes to
// a lir function.
//
// The lowered function of a computation "comp" is:
//
//	define void @comp(ptr %arg0, ..., ptr %argN)
//
// taking one f64 buffer per parameter (in parameter order) and the buffer for the result of the root as the
// last argument. Buffers hold the elements of a tensor in row-major order. Intermediate results are allocated
// by the function.
//
// Each node is lowered to a call to an outlined kernel (see kernelsupport.EmitAndCallOutlinedKernel), whose
// name encodes its configuration (shapes, padding, window and axes), so nodes with the same configuration share
// a single kernel across all the computations lowered into the same module.
package convemit

import (
	"fmt"
	"strings"

	"github.com/gomlx/convlower/backends"
	"github.com/gomlx/convlower/codegen/kernelsupport"
	"github.com/gomlx/convlower/codegen/lir"
	"github.com/gomlx/convlower/graph"
	"github.com/gomlx/convlower/types/shapes"
	"github.com/gomlx/convlower/types/xslices"
	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// ErrUnimplemented is returned (wrapped) for nodes that can't be lowered.
var ErrUnimplemented = errors.New("lowering not implemented")

// Options for EmitComputation.
type Options struct {
	// Kernel are the optimization attributes of the outlined kernels.
	Kernel kernelsupport.KernelOptions

	// Loop options of the emitted loops.
	Loop []kernelsupport.Option

	// Envelope, if set, makes EmitComputation fail for convolutions that are not canonical for it: use it to
	// check that the convolutions were canonicalized before lowering.
	Envelope *backends.ConvolutionEnvelope
}

// EmitComputation defines in module the function lowering comp, named after it.
func EmitComputation(module *lir.Module, comp *graph.Computation, opts Options) (*lir.Function, error) {
	root := comp.Root()
	if root == nil {
		return nil, errors.Errorf("computation %q has no root", comp.Name())
	}
	if err := checkLowerable(comp, opts); err != nil {
		return nil, err
	}
	numParams := len(comp.Parameters())
	fn, err := module.DefineFunction(comp.Name(), lir.TypeVoid, xslices.SliceWithValue(numParams+1, lir.TypePtr)...)
	if err != nil {
		return nil, errors.WithMessagef(err, "lowering computation %q", comp.Name())
	}
	e := &emitter{
		b:       lir.NewBuilder(module),
		opts:    opts,
		buffers: make(map[*graph.Node]lir.Value),
	}
	e.k = kernelsupport.New(e.b, opts.Loop...)
	err = exceptions.TryCatch[error](func() {
		e.b.SetInsertPoint(fn.Entry())
		for _, node := range comp.Nodes() {
			e.emitNode(fn, node)
		}
		e.emitCopy(e.buffers[root], fn.Param(numParams), root.Shape().Size())
		e.b.RetVoid()
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "lowering computation %q", comp.Name())
	}
	klog.V(1).Infof("convemit: lowered computation %q to @%s", comp.Name(), fn.Name())
	return fn, nil
}

// checkLowerable returns an error if any node of the computation can't be lowered.
func checkLowerable(comp *graph.Computation, opts Options) error {
	for _, node := range comp.Nodes() {
		switch node.Type() {
		case backends.OpTypeParameter, backends.OpTypeConstant, backends.OpTypePad:
		case backends.OpTypeConvolution:
			if kind := node.ConvKind(); kind != backends.ConvKindForward {
				return errors.Wrapf(ErrUnimplemented, "computation %q: %s convolution %s", comp.Name(), kind, node.Ref())
			}
			if opts.Envelope != nil {
				for ii, wd := range node.Window() {
					if !opts.Envelope.IsCanonical(wd) {
						return errors.Errorf("computation %q: convolution %s spatial axis %d (%s) is not canonical for %s",
							comp.Name(), node.Ref(), ii, wd, *opts.Envelope)
					}
				}
			}
		default:
			return errors.Wrapf(ErrUnimplemented, "computation %q: operation %s (%s)", comp.Name(), node.Type(), node.Ref())
		}
	}
	return nil
}

type emitter struct {
	b       *lir.Builder
	k       *kernelsupport.KernelSupportLibrary
	opts    Options
	buffers map[*graph.Node]lir.Value
}

// outline emits the call to the kernel, panicking on errors: they are caught by EmitComputation.
func (e *emitter) outline(name string, args []lir.Value, body func(args []lir.Value)) {
	if err := kernelsupport.EmitAndCallOutlinedKernel(e.opts.Kernel, e.b, name, args, body); err != nil {
		panic(err)
	}
}

func (e *emitter) emitNode(fn *lir.Function, node *graph.Node) {
	if node.Type() == backends.OpTypeParameter {
		e.buffers[node] = fn.Param(node.ParameterIndex())
		return
	}
	out := e.b.Alloc(lir.TypeF64, lir.ConstInt(int64(node.Shape().Size())))
	e.buffers[node] = out
	switch node.Type() {
	case backends.OpTypeConstant:
		e.emitSplat(out, node.ConstantValue(), node.Shape().Size())
	case backends.OpTypePad:
		e.emitPad(node, e.buffers[node.Operand(0)], e.buffers[node.Operand(1)], out)
	case backends.OpTypeConvolution:
		e.emitConvolution(node, e.buffers[node.Operand(0)], e.buffers[node.Operand(1)], out)
	}
}

// dimsKey returns a kernel name fragment for the dimensions.
func dimsKey(shape shapes.Shape) string {
	if shape.Rank() == 0 {
		return "scalar"
	}
	return strings.Join(xslices.Map(shape.Dimensions, intKey), "x")
}

// intKey formats v for kernel names, with "m" standing for the minus sign.
func intKey(v int) string {
	if v < 0 {
		return fmt.Sprintf("m%d", -v)
	}
	return fmt.Sprintf("%d", v)
}

func intsKey(values []int) string { return strings.Join(xslices.Map(values, intKey), ".") }
