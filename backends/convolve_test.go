// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package backends

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWindowDimension(t *testing.T) {
	wd := MakeWindowDimension(3)
	assert.Equal(t, "3:1:0:0:1:1", wd.String())
	assert.Equal(t, 3, wd.OutputSize(5))

	wd = WindowDimension{Size: 3, Stride: 2, PaddingLow: -1, PaddingHigh: 3, BaseDilation: 2, WindowDilation: 2}
	assert.Equal(t, 5, wd.EffectiveSize())
	assert.Equal(t, 9, wd.DilatedInputSize(5))
	// Padded input: 9-1+3 = 11, (11-5)/2+1 = 4.
	assert.Equal(t, 4, wd.OutputSize(5))

	wd = WindowDimension{Size: 5, Stride: 1, BaseDilation: 1, WindowDilation: 1}
	assert.Equal(t, 0, wd.OutputSize(3))
}

func TestWindow(t *testing.T) {
	w := MakeWindow(3, 2)
	w[1].PaddingLow = 1
	assert.Equal(t, "[3:1:0:0:1:1,2:1:1:0:1:1]", w.String())
	assert.Equal(t, []int{1, 1}, w.Strides())
	assert.Equal(t, [][2]int{{0, 0}, {1, 0}}, w.Paddings())

	w2 := w.Clone()
	assert.True(t, w.Equal(w2))
	w2[0].Stride = 2
	assert.False(t, w.Equal(w2))
	assert.Equal(t, 1, w[0].Stride)
}

func TestConvolveAxesConfig(t *testing.T) {
	axes := ChannelsFirstAxes(2)
	assert.Equal(t, []int{0, 1, 2, 3}, axes.InputAxes())
	assert.Equal(t, []int{1, 0, 2, 3}, axes.KernelAxes())
	assert.Equal(t, []int{0, 1, 2, 3}, axes.OutputAxes())

	axes2 := MakeConvolveAxesConfig(axes.InputAxes(), axes.KernelAxes(), axes.OutputAxes())
	assert.True(t, axes.Equal(axes2))
	axes2.KernelSpatial[0] = 3
	assert.False(t, axes.Equal(axes2))

	require.Panics(t, func() { MakeConvolveAxesConfig([]int{0, 1, 2}, []int{0, 1}, []int{0, 1, 2}) })
}

func TestConvolutionEnvelope(t *testing.T) {
	testCases := []struct {
		name      string
		envelope  ConvolutionEnvelope
		wd        WindowDimension
		canonical bool
	}{
		{"default-asymmetric", DefaultConvolutionEnvelope(), WindowDimension{Size: 3, Stride: 1, PaddingLow: 0, PaddingHigh: 3, BaseDilation: 1, WindowDilation: 1}, true},
		{"default-negative", DefaultConvolutionEnvelope(), WindowDimension{Size: 3, Stride: 1, PaddingLow: -1, PaddingHigh: 3, BaseDilation: 1, WindowDilation: 1}, false},
		{"default-base-dilation", DefaultConvolutionEnvelope(), WindowDimension{Size: 3, Stride: 1, BaseDilation: 2, WindowDilation: 1}, true},
		{"cudnn-asymmetric", CuDNNConvolutionEnvelope(), WindowDimension{Size: 3, Stride: 1, PaddingLow: 1, PaddingHigh: 2, BaseDilation: 1, WindowDilation: 1}, false},
		{"cudnn-symmetric", CuDNNConvolutionEnvelope(), WindowDimension{Size: 3, Stride: 1, PaddingLow: 2, PaddingHigh: 2, BaseDilation: 1, WindowDilation: 1}, true},
		{"cudnn-base-dilation", CuDNNConvolutionEnvelope(), WindowDimension{Size: 3, Stride: 1, BaseDilation: 2, WindowDilation: 1}, false},
		{"bounded", ConvolutionEnvelope{MaxPadding: 2, MaxWindowDilation: -1}, WindowDimension{Size: 3, Stride: 1, PaddingLow: 3, BaseDilation: 1, WindowDilation: 1}, false},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.canonical, tc.envelope.IsCanonical(tc.wd))
		})
	}

	assert.True(t, DefaultConvolutionEnvelope().WindowDilationFits(100))
	assert.False(t, ConvolutionEnvelope{MaxWindowDilation: 1}.WindowDilationFits(2))
	assert.Contains(t, CuDNNConvolutionEnvelope().String(), "symmetric=true")
}

func TestEnums(t *testing.T) {
	assert.Equal(t, "backward_filter", ConvKindBackwardFilter.String())
	kind, err := ConvKindString("backward_input")
	require.NoError(t, err)
	assert.Equal(t, ConvKindBackwardInput, kind)

	op, err := OpTypeString("convolution")
	require.NoError(t, err)
	assert.Equal(t, OpTypeConvolution, op)
	_, err = OpTypeString("dot_general")
	require.Error(t, err)
}
