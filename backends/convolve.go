// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package backends

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/gomlx/convlower/types/xslices"
	"github.com/gomlx/exceptions"
)

// ConvKind is the variant of a convolution node: each is a different dataflow pattern over the
// same sliding-window-and-accumulate operation.
type ConvKind int

//go:generate go tool enumer -type=ConvKind -trimprefix=ConvKind -transform=snake -output=gen_convkind_enumer.go convolve.go

const (
	// ConvKindForward convolves {input, filter} into the output.
	ConvKindForward ConvKind = iota

	// ConvKindBackwardFilter computes the gradient with respect to the filter from {activations, output-gradient}.
	// It is executed as a forward convolution of the activations against the output gradient, with the roles of
	// stride and window dilation swapped.
	ConvKindBackwardFilter

	// ConvKindBackwardInput computes the gradient with respect to the input from {filter, output-gradient}.
	// It is executed as a forward convolution of the (stride dilated) output gradient against the spatially
	// reversed filter.
	ConvKindBackwardInput
)

// ConvolveAxesConfig defines the interpretation of the input/kernel/output tensor axes.
// There must be the same number of spatial dimensions (axes) for each of the 3 tensors.
// Input and output have batch and channel axes. Kernel has inputChannel and outputChannel axes.
//
// For the backward variants, "input", "kernel" and "output" refer to the tensors of the
// forward convolution being differentiated.
type ConvolveAxesConfig struct {
	InputBatch, InputChannels int
	InputSpatial              []int

	KernelInputChannels, KernelOutputChannels int
	KernelSpatial                             []int

	OutputBatch, OutputChannels int
	OutputSpatial               []int
}

// ChannelsFirstAxes returns the axes configuration for the "channels first" layout, with the given number
// of spatial axes: input and output are `[batch, channels, spatial...]` and the kernel is
// `[outputChannels, inputChannels, spatial...]`.
func ChannelsFirstAxes(numSpatial int) ConvolveAxesConfig {
	spatial := xslices.Iota(2, numSpatial)
	return ConvolveAxesConfig{
		InputBatch:           0,
		InputChannels:        1,
		InputSpatial:         spatial,
		KernelInputChannels:  1,
		KernelOutputChannels: 0,
		KernelSpatial:        slices.Clone(spatial),
		OutputBatch:          0,
		OutputChannels:       1,
		OutputSpatial:        slices.Clone(spatial),
	}
}

// Clone returns a deep copy of the structure.
func (c ConvolveAxesConfig) Clone() ConvolveAxesConfig {
	var c2 ConvolveAxesConfig
	c2 = c
	c2.InputSpatial = slices.Clone(c.InputSpatial)
	c2.KernelSpatial = slices.Clone(c.KernelSpatial)
	c2.OutputSpatial = slices.Clone(c.OutputSpatial)
	return c2
}

// Equal returns whether both configurations are the same.
func (c ConvolveAxesConfig) Equal(o ConvolveAxesConfig) bool {
	return c.InputBatch == o.InputBatch && c.InputChannels == o.InputChannels &&
		c.KernelInputChannels == o.KernelInputChannels && c.KernelOutputChannels == o.KernelOutputChannels &&
		c.OutputBatch == o.OutputBatch && c.OutputChannels == o.OutputChannels &&
		slices.Equal(c.InputSpatial, o.InputSpatial) &&
		slices.Equal(c.KernelSpatial, o.KernelSpatial) &&
		slices.Equal(c.OutputSpatial, o.OutputSpatial)
}

// InputAxes returns the input axes in the order batch, channels, spatial...
func (c ConvolveAxesConfig) InputAxes() []int {
	return append([]int{c.InputBatch, c.InputChannels}, c.InputSpatial...)
}

// KernelAxes returns the kernel axes in the order input channels, output channels, spatial...
func (c ConvolveAxesConfig) KernelAxes() []int {
	return append([]int{c.KernelInputChannels, c.KernelOutputChannels}, c.KernelSpatial...)
}

// OutputAxes returns the output axes in the order batch, channels, spatial...
func (c ConvolveAxesConfig) OutputAxes() []int {
	return append([]int{c.OutputBatch, c.OutputChannels}, c.OutputSpatial...)
}

// MakeConvolveAxesConfig is the reverse of InputAxes, KernelAxes and OutputAxes.
// It panics if any of the lists has fewer than 2 elements or if they don't have the same length.
func MakeConvolveAxesConfig(inputAxes, kernelAxes, outputAxes []int) ConvolveAxesConfig {
	if len(inputAxes) < 2 || len(inputAxes) != len(kernelAxes) || len(inputAxes) != len(outputAxes) {
		exceptions.Panicf("MakeConvolveAxesConfig: input (%v), kernel (%v) and output (%v) axes must have the same length >= 2",
			inputAxes, kernelAxes, outputAxes)
	}
	return ConvolveAxesConfig{
		InputBatch:           inputAxes[0],
		InputChannels:        inputAxes[1],
		InputSpatial:         slices.Clone(inputAxes[2:]),
		KernelInputChannels:  kernelAxes[0],
		KernelOutputChannels: kernelAxes[1],
		KernelSpatial:        slices.Clone(kernelAxes[2:]),
		OutputBatch:          outputAxes[0],
		OutputChannels:       outputAxes[1],
		OutputSpatial:        slices.Clone(outputAxes[2:]),
	}
}

// PadAxis defines the amount of padding preceding one axis (Start), at the end of axis (End)
// or in between the inputs (Interior).
// This is used as a parameter for the Pad operation.
//
// Start and End can be negative, in which case they crop the axis. Interior must be non-negative.
type PadAxis struct {
	Start, End, Interior int
}

// IsZero returns whether the padding is a no-op.
func (p PadAxis) IsZero() bool {
	return p.Start == 0 && p.End == 0 && p.Interior == 0
}

// String returns the padding in the compact form `start:end:interior`.
func (p PadAxis) String() string {
	return fmt.Sprintf("%d:%d:%d", p.Start, p.End, p.Interior)
}

// WindowDimension describes the sliding window of a convolution along one spatial axis.
type WindowDimension struct {
	// Size of the window, the same as the kernel's spatial dimension.
	Size int

	// Stride with which the window slides over the input.
	Stride int

	// PaddingLow and PaddingHigh are added to the start and end of the (base dilated) input.
	// Negative values crop the input.
	PaddingLow, PaddingHigh int

	// BaseDilation inserts BaseDilation-1 "holes" between consecutive input elements.
	BaseDilation int

	// WindowDilation inserts WindowDilation-1 "holes" between consecutive kernel elements (atrous convolution).
	WindowDilation int
}

// MakeWindowDimension returns a window dimension of the given size, with stride and dilations set to 1
// and no padding.
func MakeWindowDimension(size int) WindowDimension {
	return WindowDimension{Size: size, Stride: 1, BaseDilation: 1, WindowDilation: 1}
}

// EffectiveSize is the span of the window once the window dilation is applied.
func (wd WindowDimension) EffectiveSize() int {
	return (wd.Size-1)*wd.WindowDilation + 1
}

// DilatedInputSize returns the size of an input axis of the given dimension after the base dilation is applied.
func (wd WindowDimension) DilatedInputSize(inputDim int) int {
	return (inputDim-1)*wd.BaseDilation + 1
}

// OutputSize returns the size of the output axis for an input axis of the given dimension.
// It returns a value <= 0 if the window doesn't fit the padded input.
func (wd WindowDimension) OutputSize(inputDim int) int {
	padded := wd.DilatedInputSize(inputDim) + wd.PaddingLow + wd.PaddingHigh
	effective := wd.EffectiveSize()
	if padded < effective {
		return 0
	}
	return (padded-effective)/wd.Stride + 1
}

// String returns the compact form `size:stride:pad_low:pad_high:base_dilation:window_dilation`.
func (wd WindowDimension) String() string {
	parts := []int{wd.Size, wd.Stride, wd.PaddingLow, wd.PaddingHigh, wd.BaseDilation, wd.WindowDilation}
	strs := make([]string, len(parts))
	for ii, v := range parts {
		strs[ii] = strconv.Itoa(v)
	}
	return strings.Join(strs, ":")
}

// Window holds one WindowDimension per spatial axis of a convolution.
type Window []WindowDimension

// MakeWindow returns a window with the given sizes, unit strides and dilations, and no padding.
func MakeWindow(sizes ...int) Window {
	w := make(Window, len(sizes))
	for ii, size := range sizes {
		w[ii] = MakeWindowDimension(size)
	}
	return w
}

// Clone returns a copy of the window.
func (w Window) Clone() Window {
	return slices.Clone(w)
}

// Equal returns whether both windows are the same.
func (w Window) Equal(w2 Window) bool {
	return slices.Equal(w, w2)
}

// String returns the compact form of all dimensions, e.g.: `[3:1:0:0:1:1,3:2:1:1:1:1]`.
func (w Window) String() string {
	strs := make([]string, len(w))
	for ii, wd := range w {
		strs[ii] = wd.String()
	}
	return "[" + strings.Join(strs, ",") + "]"
}

// Strides returns the stride of each spatial axis.
func (w Window) Strides() []int {
	strides := make([]int, len(w))
	for ii, wd := range w {
		strides[ii] = wd.Stride
	}
	return strides
}

// Paddings returns the (low, high) paddings of each spatial axis.
func (w Window) Paddings() [][2]int {
	paddings := make([][2]int, len(w))
	for ii, wd := range w {
		paddings[ii] = [2]int{wd.PaddingLow, wd.PaddingHigh}
	}
	return paddings
}

// BaseDilations returns the base (input) dilation of each spatial axis.
func (w Window) BaseDilations() []int {
	dilations := make([]int, len(w))
	for ii, wd := range w {
		dilations[ii] = wd.BaseDilation
	}
	return dilations
}

// WindowDilations returns the window (kernel) dilation of each spatial axis.
func (w Window) WindowDilations() []int {
	dilations := make([]int, len(w))
	for ii, wd := range w {
		dilations[ii] = wd.WindowDilation
	}
	return dilations
}
