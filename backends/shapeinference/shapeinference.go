// Package shapeinference calculates the shape resulting from operations and validates its inputs.
//
// It is used by the graph builders (to type new nodes), by the graph text parser (to check declared shapes)
// and by the evaluator and emitters (to plan buffers).
//
// It defines one function per operation, and they all return an error (instead of panicking) on invalid inputs.
package shapeinference

import (
	"github.com/gomlx/convlower/backends"
	"github.com/gomlx/convlower/types/sets"
	"github.com/gomlx/convlower/types/shapes"
	"github.com/pkg/errors"
)

// PadOp returns the shape of padding the operand with the given per-axis configuration.
//
// The fill value must be a scalar of the same dtype as the operand.
// Negative Start/End crop the axis, and the resulting dimension must be at least 1.
func PadOp(operand, fill shapes.Shape, axesConfig []backends.PadAxis) (shapes.Shape, error) {
	if !operand.Ok() {
		return shapes.Invalid(), errors.Errorf("PadOp: invalid operand shape %s", operand)
	}
	if !fill.IsScalar() || fill.DType != operand.DType {
		return shapes.Invalid(), errors.Errorf("PadOp: fill value must be a scalar of dtype %s, got %s", operand.DType, fill)
	}
	if len(axesConfig) != operand.Rank() {
		return shapes.Invalid(), errors.Errorf("PadOp: operand %s has rank %d, but %d axes configurations were given",
			operand, operand.Rank(), len(axesConfig))
	}
	output := operand.Clone()
	for axis, pad := range axesConfig {
		if pad.Interior < 0 {
			return shapes.Invalid(), errors.Errorf("PadOp: axis %d has negative interior padding %d", axis, pad.Interior)
		}
		dim := operand.Dimensions[axis]
		newDim := pad.Start + pad.End + dim + (dim-1)*pad.Interior
		if newDim < 1 {
			return shapes.Invalid(), errors.Errorf("PadOp: axis %d of operand %s padded with %s would have dimension %d",
				axis, operand, pad, newDim)
		}
		output.Dimensions[axis] = newDim
	}
	return output, nil
}

// checkAxes validates that the axes are a permutation of [0, rank).
func checkAxes(rank int, name string, axes []int) error {
	seen := sets.Make[int](rank)
	for _, axis := range axes {
		if axis < 0 || axis >= rank {
			return errors.Errorf("invalid %s axes configuration %v: axis %d is out-of-bounds for rank %d", name, axes, axis, rank)
		}
		seen.Insert(axis)
	}
	if len(seen) != rank || len(axes) != rank {
		return errors.Errorf("invalid %s axes configuration %v: must list each of the %d axes exactly once", name, axes, rank)
	}
	return nil
}

// checkConvolutionConfig validates the axes configuration and the window for convolutions of the given rank.
func checkConvolutionConfig(rank int, axes backends.ConvolveAxesConfig, window backends.Window) error {
	if rank < 3 {
		return errors.Errorf("convolution operands need to be at least rank-3 with axes (in any order) batch, channels and spatial, got rank %d", rank)
	}
	spatialRank := rank - 2
	if err := checkAxes(rank, "input", axes.InputAxes()); err != nil {
		return err
	}
	if err := checkAxes(rank, "kernel", axes.KernelAxes()); err != nil {
		return err
	}
	if err := checkAxes(rank, "output", axes.OutputAxes()); err != nil {
		return err
	}
	if len(window) != spatialRank {
		return errors.Errorf("window %s must provide one dimension for each of the %d spatial axes", window, spatialRank)
	}
	for ii, wd := range window {
		if wd.Size < 1 || wd.Stride < 1 || wd.BaseDilation < 1 || wd.WindowDilation < 1 {
			return errors.Errorf("window dimension %d (%s) must have size, stride and dilations >= 1", ii, wd)
		}
	}
	return nil
}

// forwardSpatialOutput returns the spatial output dimensions of a forward convolution over the input.
func forwardSpatialOutput(input shapes.Shape, axes backends.ConvolveAxesConfig, window backends.Window) ([]int, error) {
	dims := make([]int, len(window))
	for ii, wd := range window {
		inputDim := input.Dim(axes.InputSpatial[ii])
		outputDim := wd.OutputSize(inputDim)
		if outputDim < 1 {
			return nil, errors.Errorf("effective window dimension %d (%s) for spatial axis %d is larger than the padded "+
				"effective input dimension %d (input shape %s)",
				wd.EffectiveSize(), wd, ii, wd.DilatedInputSize(inputDim)+wd.PaddingLow+wd.PaddingHigh, input)
		}
		dims[ii] = outputDim
	}
	return dims, nil
}

// ConvGeneralOp returns the output shape of a forward convolution of input by kernel.
func ConvGeneralOp(input, kernel shapes.Shape, axes backends.ConvolveAxesConfig, window backends.Window) (shapes.Shape, error) {
	// Convenient error returns.
	errorf := func(format string, args ...any) (shapes.Shape, error) {
		return shapes.Invalid(), errors.Errorf("ConvGeneralOp: "+format, args...)
	}
	if !input.Ok() {
		return errorf("invalid input (operand) shape %s", input)
	}
	if !kernel.Ok() {
		return errorf("invalid kernel shape %s", kernel)
	}
	if input.DType != kernel.DType {
		return errorf("input %s and kernel %s have different dtypes", input, kernel)
	}
	rank := input.Rank()
	if kernel.Rank() != rank {
		return errorf("input (operand) and kernel have different rank!? -- input shape is %s and kernel shape is %s", input, kernel)
	}
	if err := checkConvolutionConfig(rank, axes, window); err != nil {
		return shapes.Invalid(), errors.WithMessage(err, "ConvGeneralOp")
	}
	if input.Dim(axes.InputChannels) != kernel.Dim(axes.KernelInputChannels) {
		return errorf("input channels (%d) don't match the kernel input channels (%d) -- input shape is %s, kernel shape is %s",
			input.Dim(axes.InputChannels), kernel.Dim(axes.KernelInputChannels), input, kernel)
	}
	for ii, wd := range window {
		if kernel.Dim(axes.KernelSpatial[ii]) != wd.Size {
			return errorf("kernel spatial axis %d has dimension %d, but the window size is %d -- kernel shape is %s",
				ii, kernel.Dim(axes.KernelSpatial[ii]), wd.Size, kernel)
		}
	}
	spatial, err := forwardSpatialOutput(input, axes, window)
	if err != nil {
		return shapes.Invalid(), errors.WithMessage(err, "ConvGeneralOp")
	}

	output := input.Clone()
	output.Dimensions[axes.OutputBatch] = input.Dim(axes.InputBatch)
	output.Dimensions[axes.OutputChannels] = kernel.Dim(axes.KernelOutputChannels)
	for ii, dim := range spatial {
		output.Dimensions[axes.OutputSpatial[ii]] = dim
	}
	return output, nil
}

// ConvBackwardFilterOp returns the shape of the gradient with respect to the kernel of the forward
// convolution described by axes and window, given its input (activations) and the gradient of its output.
//
// The result is laid out as the kernel, according to axes.
func ConvBackwardFilterOp(activations, outputGrad shapes.Shape, axes backends.ConvolveAxesConfig, window backends.Window) (shapes.Shape, error) {
	errorf := func(format string, args ...any) (shapes.Shape, error) {
		return shapes.Invalid(), errors.Errorf("ConvBackwardFilterOp: "+format, args...)
	}
	if !activations.Ok() || !outputGrad.Ok() {
		return errorf("invalid activations (%s) or output gradient (%s) shapes", activations, outputGrad)
	}
	if activations.DType != outputGrad.DType {
		return errorf("activations %s and output gradient %s have different dtypes", activations, outputGrad)
	}
	rank := activations.Rank()
	if outputGrad.Rank() != rank {
		return errorf("activations %s and output gradient %s have different ranks", activations, outputGrad)
	}
	if err := checkConvolutionConfig(rank, axes, window); err != nil {
		return shapes.Invalid(), errors.WithMessage(err, "ConvBackwardFilterOp")
	}
	if activations.Dim(axes.InputBatch) != outputGrad.Dim(axes.OutputBatch) {
		return errorf("activations batch (%d) and output gradient batch (%d) don't match",
			activations.Dim(axes.InputBatch), outputGrad.Dim(axes.OutputBatch))
	}
	spatial, err := forwardSpatialOutput(activations, axes, window)
	if err != nil {
		return shapes.Invalid(), errors.WithMessage(err, "ConvBackwardFilterOp")
	}
	for ii, dim := range spatial {
		if outputGrad.Dim(axes.OutputSpatial[ii]) != dim {
			return errorf("output gradient %s spatial axis %d should have dimension %d for activations %s and window %s",
				outputGrad, ii, dim, activations, window)
		}
	}

	output := activations.Clone()
	output.Dimensions[axes.KernelInputChannels] = activations.Dim(axes.InputChannels)
	output.Dimensions[axes.KernelOutputChannels] = outputGrad.Dim(axes.OutputChannels)
	for ii, wd := range window {
		output.Dimensions[axes.KernelSpatial[ii]] = wd.Size
	}
	return output, nil
}

// ConvBackwardInputOp validates the gradient with respect to the input of the forward convolution described
// by axes and window, given its kernel and the gradient of its output, and returns the input shape.
//
// The input shape has to be given explicitly: with strides > 1 more than one input dimension maps to the
// same output dimension.
func ConvBackwardInputOp(kernel, outputGrad shapes.Shape, axes backends.ConvolveAxesConfig, window backends.Window,
	inputShape shapes.Shape) (shapes.Shape, error) {
	errorf := func(format string, args ...any) (shapes.Shape, error) {
		return shapes.Invalid(), errors.Errorf("ConvBackwardInputOp: "+format, args...)
	}
	if !kernel.Ok() || !outputGrad.Ok() || !inputShape.Ok() {
		return errorf("invalid kernel (%s), output gradient (%s) or input (%s) shapes", kernel, outputGrad, inputShape)
	}
	if kernel.DType != outputGrad.DType || inputShape.DType != outputGrad.DType {
		return errorf("kernel %s, output gradient %s and input %s must have the same dtype", kernel, outputGrad, inputShape)
	}
	rank := kernel.Rank()
	if outputGrad.Rank() != rank || inputShape.Rank() != rank {
		return errorf("kernel %s, output gradient %s and input %s must have the same rank", kernel, outputGrad, inputShape)
	}
	if err := checkConvolutionConfig(rank, axes, window); err != nil {
		return shapes.Invalid(), errors.WithMessage(err, "ConvBackwardInputOp")
	}
	forwardOutput, err := ConvGeneralOp(inputShape, kernel, axes, window)
	if err != nil {
		return shapes.Invalid(), errors.WithMessage(err, "ConvBackwardInputOp")
	}
	if !forwardOutput.Equal(outputGrad) {
		return errorf("output gradient %s doesn't match the output %s of the forward convolution of input %s by kernel %s",
			outputGrad, forwardOutput, inputShape, kernel)
	}
	return inputShape.Clone(), nil
}
