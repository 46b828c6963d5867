// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"slices"

	"github.com/gomlx/convlower/backends"
	"github.com/gomlx/convlower/backends/shapeinference"
	"github.com/gomlx/convlower/types/shapes"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

// newNode creates a node with a fresh id and appends it to the end of the computation.
func (c *Computation) newNode(opType backends.OpType, shape shapes.Shape, data any, operands ...*Node) *Node {
	n := &Node{
		computation: c,
		id:          c.module.allocateId(),
		opType:      opType,
		shape:       shape,
		operands:    operands,
		data:        data,
	}
	c.nodes = append(c.nodes, n)
	return n
}

// validateBuildingComputationFromInputs checks that all inputs are non-nil and belong to the same computation,
// and returns it.
func validateBuildingComputationFromInputs(inputs ...*Node) *Computation {
	if len(inputs) == 0 {
		exceptions.Panicf("no input nodes given")
	}
	var c *Computation
	for ii, n := range inputs {
		if n == nil || n.computation == nil {
			exceptions.Panicf("input node #%d is nil or not part of a computation", ii)
		}
		if c == nil {
			c = n.computation
		} else if c != n.computation {
			exceptions.Panicf("input node #%d (%s) is part of computation %q, but other inputs are from computation %q",
				ii, n.Ref(), n.computation.name, c.name)
		}
	}
	return c
}

// Parameter creates an input parameter for the computation, with the given name and shape.
func (c *Computation) Parameter(name string, shape shapes.Shape) *Node {
	if !shape.Ok() {
		exceptions.Panicf("Parameter(%q): invalid shape %s", name, shape)
	}
	for _, p := range c.parameters {
		if p.ParameterName() == name {
			exceptions.Panicf("Parameter(%q): parameter name already used by %s", name, p.Ref())
		}
	}
	n := c.newNode(backends.OpTypeParameter, shape.Clone(), &parameterData{name: name, index: len(c.parameters)})
	c.parameters = append(c.parameters, n)
	return n
}

// Constant creates a constant of the given shape, with value repeated everywhere.
func (c *Computation) Constant(value float64, shape shapes.Shape) *Node {
	if !shape.Ok() {
		exceptions.Panicf("Constant(%g): invalid shape %s", value, shape)
	}
	return c.newNode(backends.OpTypeConstant, shape.Clone(), &constantData{value: value})
}

// Scalar creates a scalar constant of the given dtype.
func (c *Computation) Scalar(dtype dtypes.DType, value float64) *Node {
	return c.Constant(value, shapes.Make(dtype))
}

// Pad operand with the fill value (a scalar of the same dtype), according to the per-axis configuration.
// Negative paddings crop the axis.
func Pad(operand, fill *Node, axes ...backends.PadAxis) *Node {
	c := validateBuildingComputationFromInputs(operand, fill)
	shape, err := shapeinference.PadOp(operand.shape, fill.shape, axes)
	if err != nil {
		panic(err)
	}
	return c.newNode(backends.OpTypePad, shape, &padData{axes: slices.Clone(axes)}, operand, fill)
}

// Convolution creates a forward convolution of input by kernel.
func Convolution(input, kernel *Node, window backends.Window, axes backends.ConvolveAxesConfig) *Node {
	c := validateBuildingComputationFromInputs(input, kernel)
	shape, err := shapeinference.ConvGeneralOp(input.shape, kernel.shape, axes, window)
	if err != nil {
		panic(err)
	}
	return c.newNode(backends.OpTypeConvolution, shape,
		&convData{kind: backends.ConvKindForward, window: window.Clone(), axes: axes.Clone()}, input, kernel)
}

// BackwardFilterConvolution creates the gradient with respect to the kernel of the forward convolution described
// by window and axes, given its input (activations) and the gradient of its output.
func BackwardFilterConvolution(activations, outputGrad *Node, window backends.Window, axes backends.ConvolveAxesConfig) *Node {
	c := validateBuildingComputationFromInputs(activations, outputGrad)
	shape, err := shapeinference.ConvBackwardFilterOp(activations.shape, outputGrad.shape, axes, window)
	if err != nil {
		panic(err)
	}
	return c.newNode(backends.OpTypeConvolution, shape,
		&convData{kind: backends.ConvKindBackwardFilter, window: window.Clone(), axes: axes.Clone()}, activations, outputGrad)
}

// BackwardInputConvolution creates the gradient with respect to the input of the forward convolution described
// by window and axes, given its kernel and the gradient of its output. The input shape must be given,
// since with strides > 1 it's not uniquely defined by the other shapes.
func BackwardInputConvolution(kernel, outputGrad *Node, window backends.Window, axes backends.ConvolveAxesConfig,
	inputShape shapes.Shape) *Node {
	c := validateBuildingComputationFromInputs(kernel, outputGrad)
	shape, err := shapeinference.ConvBackwardInputOp(kernel.shape, outputGrad.shape, axes, window, inputShape)
	if err != nil {
		panic(err)
	}
	return c.newNode(backends.OpTypeConvolution, shape,
		&convData{kind: backends.ConvKindBackwardInput, window: window.Clone(), axes: axes.Clone()}, kernel, outputGrad)
}

// ConvolutionWithKind creates a convolution of the given variant. outputShape is only used by
// backends.ConvKindBackwardInput, as its input shape.
func ConvolutionWithKind(kind backends.ConvKind, lhs, rhs *Node, window backends.Window, axes backends.ConvolveAxesConfig,
	outputShape shapes.Shape) *Node {
	switch kind {
	case backends.ConvKindForward:
		return Convolution(lhs, rhs, window, axes)
	case backends.ConvKindBackwardFilter:
		return BackwardFilterConvolution(lhs, rhs, window, axes)
	case backends.ConvKindBackwardInput:
		return BackwardInputConvolution(lhs, rhs, window, axes, outputShape)
	default:
		exceptions.Panicf("ConvolutionWithKind: unknown convolution kind %s", kind)
		return nil
	}
}

// inferShape re-runs shape inference for the node, with its current operands and parameters.
func (n *Node) inferShape() (shapes.Shape, error) {
	switch data := n.data.(type) {
	case *parameterData, *constantData:
		return n.shape, nil
	case *padData:
		if len(n.operands) != 2 {
			return shapes.Invalid(), errors.Errorf("pad %s must have 2 operands, got %d", n.Ref(), len(n.operands))
		}
		return shapeinference.PadOp(n.operands[0].shape, n.operands[1].shape, data.axes)
	case *convData:
		if len(n.operands) != 2 {
			return shapes.Invalid(), errors.Errorf("convolution %s must have 2 operands, got %d", n.Ref(), len(n.operands))
		}
		lhs, rhs := n.operands[0].shape, n.operands[1].shape
		switch data.kind {
		case backends.ConvKindForward:
			return shapeinference.ConvGeneralOp(lhs, rhs, data.axes, data.window)
		case backends.ConvKindBackwardFilter:
			return shapeinference.ConvBackwardFilterOp(lhs, rhs, data.axes, data.window)
		case backends.ConvKindBackwardInput:
			return shapeinference.ConvBackwardInputOp(lhs, rhs, data.axes, data.window, n.shape)
		}
	}
	return shapes.Invalid(), errors.Errorf("node %s has an unknown operation %s", n.Ref(), n.opType)
}
