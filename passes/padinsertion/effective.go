// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package padinsertion

import (
	"github.com/gomlx/convlower/backends"
	"github.com/gomlx/convlower/graph"
	"github.com/pkg/errors"
)

// PaddedOperand returns the index of the convolution operand that plays the role of the input in the forward
// convolution executed by the primitive: that is the operand that gets explicitly padded.
//
// For Forward and BackwardFilter it is the input (activations), for BackwardInput it is the output gradient.
func PaddedOperand(kind backends.ConvKind) int {
	if kind == backends.ConvKindBackwardInput {
		return 1
	}
	return 0
}

// paddedSpatialAxes returns the spatial axes of the padded operand.
func paddedSpatialAxes(kind backends.ConvKind, axes backends.ConvolveAxesConfig) []int {
	if kind == backends.ConvKindBackwardInput {
		return axes.OutputSpatial
	}
	return axes.InputSpatial
}

// checkConvolution returns an error wrapping ErrMalformedGraph if the convolution doesn't carry a well-formed
// window for its operands.
func checkConvolution(conv *graph.Node) error {
	if conv.NumOperands() != 2 {
		return errors.Wrapf(ErrMalformedGraph, "convolution %s has %d operands, 2 expected", conv.Ref(), conv.NumOperands())
	}
	window, axes := conv.Window(), conv.ConvAxes()
	numSpatial := len(axes.InputSpatial)
	if len(axes.KernelSpatial) != numSpatial || len(axes.OutputSpatial) != numSpatial {
		return errors.Wrapf(ErrMalformedGraph, "convolution %s has inconsistent spatial axes %+v", conv.Ref(), axes)
	}
	if len(window) != numSpatial {
		return errors.Wrapf(ErrMalformedGraph, "convolution %s has window %s with %d dimensions, but %d spatial axes",
			conv.Ref(), window, len(window), numSpatial)
	}
	for ii, operand := range conv.Operands() {
		if operand.Rank() != numSpatial+2 {
			return errors.Wrapf(ErrMalformedGraph, "convolution %s operand #%d (%s) has rank %d, expected %d",
				conv.Ref(), ii, operand.Ref(), operand.Rank(), numSpatial+2)
		}
	}
	for ii, wd := range window {
		if wd.Size < 1 || wd.Stride < 1 || wd.BaseDilation < 1 || wd.WindowDilation < 1 {
			return errors.Wrapf(ErrMalformedGraph, "convolution %s window dimension %d (%s) must have size, stride and dilations >= 1",
				conv.Ref(), ii, wd)
		}
	}
	return nil
}

// EffectiveWindow returns the window of the forward convolution the primitive executes for the convolution node,
// whose input is the operand returned by PaddedOperand.
//
//   - Forward: the window itself.
//   - BackwardFilter: the output gradient is the kernel, the roles of stride and window dilation are swapped,
//     paddings and base dilation are kept.
//   - BackwardInput: the reversed kernel slides over the output gradient dilated by the stride, with the
//     "full correlation" paddings K-1-low (and the matching high padding that yields the input dimension).
//
// It returns an error wrapping ErrMalformedGraph if the node is not a well-formed convolution, or
// ErrUnsupportedConfiguration if it has no effective forward window.
func EffectiveWindow(conv *graph.Node) (backends.Window, error) {
	if err := checkConvolution(conv); err != nil {
		return nil, err
	}
	window, axes := conv.Window(), conv.ConvAxes()
	switch kind := conv.ConvKind(); kind {
	case backends.ConvKindForward:
		return window, nil

	case backends.ConvKindBackwardFilter:
		outputGrad := conv.Operand(1).Shape()
		effective := make(backends.Window, len(window))
		for ii, wd := range window {
			effective[ii] = backends.WindowDimension{
				Size:           outputGrad.Dim(axes.OutputSpatial[ii]),
				Stride:         wd.WindowDilation,
				PaddingLow:     wd.PaddingLow,
				PaddingHigh:    wd.PaddingHigh,
				BaseDilation:   wd.BaseDilation,
				WindowDilation: wd.Stride,
			}
		}
		return effective, nil

	case backends.ConvKindBackwardInput:
		input, outputGrad := conv.Shape(), conv.Operand(1).Shape()
		effective := make(backends.Window, len(window))
		for ii, wd := range window {
			if wd.BaseDilation > 1 {
				return nil, errors.Wrapf(ErrUnsupportedConfiguration,
					"backward input convolution %s has base dilation %d on spatial axis %d",
					conv.Ref(), wd.BaseDilation, ii)
			}
			kernelSize := wd.EffectiveSize()
			inputDim := input.Dim(axes.InputSpatial[ii])
			dilatedOutputGrad := (outputGrad.Dim(axes.OutputSpatial[ii])-1)*wd.Stride + 1
			low := kernelSize - 1 - wd.PaddingLow
			effective[ii] = backends.WindowDimension{
				Size:           wd.Size,
				Stride:         1,
				PaddingLow:     low,
				PaddingHigh:    inputDim + kernelSize - 1 - dilatedOutputGrad - low,
				BaseDilation:   wd.Stride,
				WindowDilation: wd.WindowDilation,
			}
		}
		return effective, nil

	default:
		return nil, errors.Wrapf(ErrMalformedGraph, "convolution %s has unknown kind %s", conv.Ref(), kind)
	}
}

// storedWindow is the inverse of EffectiveWindow for the rewritten dimensions: it returns the window to store
// on the convolution so that its effective window becomes newEffective.
//
// Rewritten dimensions have their base dilation folded into the Pad, so newEffective has base dilation 1 on them.
func storedWindow(kind backends.ConvKind, window, newEffective backends.Window, rewritten []bool) backends.Window {
	stored := window.Clone()
	for ii, effective := range newEffective {
		if !rewritten[ii] {
			continue
		}
		switch kind {
		case backends.ConvKindForward:
			stored[ii] = effective
		case backends.ConvKindBackwardFilter:
			stored[ii].PaddingLow = effective.PaddingLow
			stored[ii].PaddingHigh = effective.PaddingHigh
			stored[ii].BaseDilation = effective.BaseDilation
		case backends.ConvKindBackwardInput:
			kernelSize := stored[ii].EffectiveSize()
			stored[ii].Stride = effective.BaseDilation
			stored[ii].PaddingLow = kernelSize - 1 - effective.PaddingLow
			stored[ii].PaddingHigh = kernelSize - 1 - effective.PaddingHigh
		}
	}
	return stored
}
