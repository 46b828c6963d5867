// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package simplego

import (
	"iter"

	"github.com/gomlx/convlower/backends"
	"github.com/gomlx/convlower/graph"
	"github.com/pkg/errors"
)

func init() {
	setNodeExecutor(backends.OpTypeConvolution, execConvolution)
}

// Convolution semantics, shared by all variants, for each spatial axis:
//
// Output position s and kernel position k read the (base dilated and padded) input at
// d = s*stride + k*window_dilation - padding_low. It hits an actual input element if d >= 0, d is a multiple of
// the base dilation and d/base_dilation < input dimension. Everything else reads zero (padding or a dilation hole).
//
// Some details in https://www.tensorflow.org/xla/operation_semantics#convwithgeneralpadding_convolution.
// Also useful, https://arxiv.org/pdf/1603.07285v1.pdf.

// spatialTap is one (output position, kernel position, input position) triple for a spatial axis,
// for which the window reads an actual input element.
type spatialTap struct {
	output, kernel, input int
}

// windowTaps returns, for each spatial axis, the list of taps of the window.
func windowTaps(window backends.Window, inputSpatialDims, outputSpatialDims []int) [][]spatialTap {
	taps := make([][]spatialTap, len(window))
	for axis, wd := range window {
		for s := range outputSpatialDims[axis] {
			for k := range wd.Size {
				d := s*wd.Stride + k*wd.WindowDilation - wd.PaddingLow
				if d < 0 || d%wd.BaseDilation != 0 || d/wd.BaseDilation >= inputSpatialDims[axis] {
					continue
				}
				taps[axis] = append(taps[axis], spatialTap{output: s, kernel: k, input: d / wd.BaseDilation})
			}
		}
	}
	return taps
}

// tapCombinations iterates over the cartesian product of the taps of each spatial axis.
// The yielded slice is owned by the iterator: don't change it inside the loop.
func tapCombinations(taps [][]spatialTap) iter.Seq[[]spatialTap] {
	return func(yield func([]spatialTap) bool) {
		for _, axisTaps := range taps {
			if len(axisTaps) == 0 {
				return
			}
		}
		combination := make([]spatialTap, len(taps))
		positions := make([]int, len(taps))
		for axis := range taps {
			combination[axis] = taps[axis][0]
		}
		for {
			if !yield(combination) {
				return
			}
			axis := len(taps) - 1
			for ; axis >= 0; axis-- {
				positions[axis]++
				if positions[axis] < len(taps[axis]) {
					combination[axis] = taps[axis][positions[axis]]
					break
				}
				positions[axis] = 0
				combination[axis] = taps[axis][0]
			}
			if axis < 0 {
				return
			}
		}
	}
}

// spatialOffsets returns the flat offsets of the output, kernel and input positions of the combination of taps.
func spatialOffsets(combination []spatialTap, outputStrides, kernelStrides, inputStrides []int) (output, kernel, input int) {
	for axis, tap := range combination {
		output += tap.output * outputStrides[axis]
		kernel += tap.kernel * kernelStrides[axis]
		input += tap.input * inputStrides[axis]
	}
	return
}

// convLayout holds the strides of the input, kernel and output, arranged by their logical axes.
type convLayout struct {
	inputBatch, inputChannels           int
	kernelInput, kernelOutput           int
	outputBatch, outputChannels         int
	inputSpatial, kernelSpatial         []int
	outputSpatial                       []int
	inputSpatialDims, outputSpatialDims []int
	batchSize, inputChannelsSize        int
	outputChannelsSize                  int
}

func newConvLayout(axes backends.ConvolveAxesConfig, input, kernel, output *Buffer) *convLayout {
	inputStrides, kernelStrides, outputStrides := input.shape.Strides(), kernel.shape.Strides(), output.shape.Strides()
	l := &convLayout{
		inputBatch:         inputStrides[axes.InputBatch],
		inputChannels:      inputStrides[axes.InputChannels],
		kernelInput:        kernelStrides[axes.KernelInputChannels],
		kernelOutput:       kernelStrides[axes.KernelOutputChannels],
		outputBatch:        outputStrides[axes.OutputBatch],
		outputChannels:     outputStrides[axes.OutputChannels],
		batchSize:          input.shape.Dim(axes.InputBatch),
		inputChannelsSize:  input.shape.Dim(axes.InputChannels),
		outputChannelsSize: output.shape.Dim(axes.OutputChannels),
	}
	for ii := range axes.InputSpatial {
		l.inputSpatial = append(l.inputSpatial, inputStrides[axes.InputSpatial[ii]])
		l.kernelSpatial = append(l.kernelSpatial, kernelStrides[axes.KernelSpatial[ii]])
		l.outputSpatial = append(l.outputSpatial, outputStrides[axes.OutputSpatial[ii]])
		l.inputSpatialDims = append(l.inputSpatialDims, input.shape.Dim(axes.InputSpatial[ii]))
		l.outputSpatialDims = append(l.outputSpatialDims, output.shape.Dim(axes.OutputSpatial[ii]))
	}
	return l
}

// accumulate calls fn with the flat indices of every (input, kernel, output) triple of the convolution
// that contributes input[inputIdx]*kernel[kernelIdx] to output[outputIdx].
func (l *convLayout) accumulate(window backends.Window, fn func(inputIdx, kernelIdx, outputIdx int)) {
	taps := windowTaps(window, l.inputSpatialDims, l.outputSpatialDims)
	for combination := range tapCombinations(taps) {
		outputOffset, kernelOffset, inputOffset := spatialOffsets(combination, l.outputSpatial, l.kernelSpatial, l.inputSpatial)
		for batch := range l.batchSize {
			for outCh := range l.outputChannelsSize {
				outputIdx := outputOffset + batch*l.outputBatch + outCh*l.outputChannels
				for inCh := range l.inputChannelsSize {
					inputIdx := inputOffset + batch*l.inputBatch + inCh*l.inputChannels
					kernelIdx := kernelOffset + inCh*l.kernelInput + outCh*l.kernelOutput
					fn(inputIdx, kernelIdx, outputIdx)
				}
			}
		}
	}
}

// execConvolution executes the 3 variants of the convolution. They all walk the same (input, kernel, output)
// triples of the forward convolution described by the node's window: they differ on which of the three is the
// result.
func execConvolution(node *graph.Node, inputs []*Buffer) (*Buffer, error) {
	axes, window := node.ConvAxes(), node.Window()
	result := newBufferForShape(node.Shape())
	switch kind := node.ConvKind(); kind {
	case backends.ConvKindForward:
		input, kernel := inputs[0], inputs[1]
		newConvLayout(axes, input, kernel, result).accumulate(window, func(inputIdx, kernelIdx, outputIdx int) {
			result.flat[outputIdx] += input.flat[inputIdx] * kernel.flat[kernelIdx]
		})
	case backends.ConvKindBackwardFilter:
		activations, outputGrad := inputs[0], inputs[1]
		newConvLayout(axes, activations, result, outputGrad).accumulate(window, func(inputIdx, kernelIdx, outputIdx int) {
			result.flat[kernelIdx] += activations.flat[inputIdx] * outputGrad.flat[outputIdx]
		})
	case backends.ConvKindBackwardInput:
		kernel, outputGrad := inputs[0], inputs[1]
		newConvLayout(axes, result, kernel, outputGrad).accumulate(window, func(inputIdx, kernelIdx, outputIdx int) {
			result.flat[inputIdx] += kernel.flat[kernelIdx] * outputGrad.flat[outputIdx]
		})
	default:
		return nil, errors.Errorf("execConvolution: unknown convolution kind %s", kind)
	}
	return result, nil
}
