// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package simplego

import (
	"math/rand/v2"
	"testing"

	"github.com/gomlx/convlower/backends"
	"github.com/gomlx/convlower/graph"
	"github.com/gomlx/convlower/types/shapes"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Aliases
var (
	S   = shapes.Make
	F16 = dtypes.Float16
	F32 = dtypes.Float32
	F64 = dtypes.Float64
)

func randomBuffer(rng *rand.Rand, shape shapes.Shape) *Buffer {
	flat := make([]float64, shape.Size())
	for ii := range flat {
		flat[ii] = rng.Float64()*2 - 1
	}
	return must.M1(NewBuffer(shape, flat))
}

func dot(a, b *Buffer) (sum float64) {
	for ii := range a.flat {
		sum += a.flat[ii] * b.flat[ii]
	}
	return
}

func TestBuffer(t *testing.T) {
	b := must.M1(NewBuffer(S(F32, 2, 2), []float64{1, 2, 3, 4}))
	assert.Equal(t, 3.0, b.At(1, 0))
	assert.Equal(t, "f32[2,2]{1, 2, 3, 4}", b.String())
	_, err := NewBuffer(S(F32, 3), []float64{1, 2})
	require.Error(t, err)

	// Values are rounded to the precision of the dtype.
	half := must.M1(NewBuffer(S(F16, 1), []float64{0.1}))
	assert.NotEqual(t, 0.1, half.flat[0])
	assert.InDelta(t, 0.1, half.flat[0], 1e-3)
	ints := must.M1(NewBuffer(S(dtypes.Int32, 2), []float64{1.7, -2.5}))
	assert.Equal(t, []float64{1, -2}, ints.Flat())
}

func TestEvaluatePad(t *testing.T) {
	m := graph.NewModule("m")
	c := m.NewComputation("main")
	x := c.Parameter("x", S(F32, 3))
	fill := c.Scalar(F32, 7)
	c.SetRoot(graph.Pad(x, fill, backends.PadAxis{Start: -1, End: 2, Interior: 1}))

	e := New()
	got, err := e.Evaluate(c, must.M1(NewBuffer(S(F32, 3), []float64{1, 2, 3})))
	require.NoError(t, err)
	assert.True(t, got.Shape().Equal(S(F32, 6)))
	assert.Equal(t, []float64{7, 2, 7, 3, 7, 7}, got.Flat())

	// Wrong number or shape of parameters.
	_, err = e.Evaluate(c)
	require.Error(t, err)
	_, err = e.Evaluate(c, must.M1(NewBuffer(S(F32, 4), []float64{1, 2, 3, 4})))
	require.Error(t, err)
}

func TestEvaluateConvolution(t *testing.T) {
	m := graph.NewModule("m")
	c := m.NewComputation("main")
	x := c.Parameter("x", S(F32, 1, 1, 5))
	w := c.Parameter("w", S(F32, 1, 1, 3))
	window := backends.MakeWindow(3)
	window[0].PaddingLow, window[0].PaddingHigh = -1, 3
	c.SetRoot(graph.Convolution(x, w, window, backends.ChannelsFirstAxes(1)))

	got, err := New().Evaluate(c,
		must.M1(NewBuffer(S(F32, 1, 1, 5), []float64{1, 2, 3, 4, 5})),
		must.M1(NewBuffer(S(F32, 1, 1, 3), []float64{1, 1, 1})))
	require.NoError(t, err)
	assert.Equal(t, []float64{9, 12, 9, 5, 0}, got.Flat())
}

// TestConvolutionAdjoints checks the backward variants against the forward convolution, using
// <dy, conv(x, w)> == <backward_filter(x, dy), w> == <backward_input(w, dy), x>.
func TestConvolutionAdjoints(t *testing.T) {
	testCases := []struct {
		name   string
		window backends.Window
	}{
		{"plain", backends.MakeWindow(3)},
		{"strided", backends.Window{{Size: 3, Stride: 2, PaddingLow: 1, PaddingHigh: 2, BaseDilation: 1, WindowDilation: 1}}},
		{"negative-padding", backends.Window{{Size: 2, Stride: 1, PaddingLow: -1, PaddingHigh: 1, BaseDilation: 1, WindowDilation: 1}}},
		{"dilated", backends.Window{{Size: 3, Stride: 2, PaddingLow: 2, PaddingHigh: 1, BaseDilation: 2, WindowDilation: 2}}},
	}
	rng := rand.New(rand.NewPCG(42, 0))
	e := New()
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			axes := backends.ChannelsFirstAxes(1)
			xShape, wShape := S(F64, 2, 3, 7), S(F64, 4, 3, tc.window[0].Size)
			m := graph.NewModule("m")
			forward := m.NewComputation("forward")
			conv := graph.Convolution(forward.Parameter("x", xShape), forward.Parameter("w", wShape), tc.window, axes)
			forward.SetRoot(conv)
			dyShape := conv.Shape()

			filterGrad := m.NewComputation("filter_grad")
			filterGrad.SetRoot(graph.BackwardFilterConvolution(
				filterGrad.Parameter("x", xShape), filterGrad.Parameter("dy", dyShape), tc.window, axes))
			inputGrad := m.NewComputation("input_grad")
			inputGrad.SetRoot(graph.BackwardInputConvolution(
				inputGrad.Parameter("w", wShape), inputGrad.Parameter("dy", dyShape), tc.window, axes, xShape))
			require.NoError(t, m.Validate())

			x, w, dy := randomBuffer(rng, xShape), randomBuffer(rng, wShape), randomBuffer(rng, dyShape)
			y := must.M1(e.Evaluate(forward, x, w))
			gw := must.M1(e.Evaluate(filterGrad, x, dy))
			gx := must.M1(e.Evaluate(inputGrad, w, dy))
			require.True(t, gw.Shape().Equal(wShape))
			require.True(t, gx.Shape().Equal(xShape))

			want := dot(dy, y)
			assert.InDelta(t, want, dot(gw, w), 1e-9)
			assert.InDelta(t, want, dot(gx, x), 1e-9)
		})
	}
}

func TestEvaluateUnsupported(t *testing.T) {
	m := graph.NewModule("m")
	c := m.NewComputation("main")
	c.SetRoot(c.Parameter("x", S(dtypes.Uint8, 2)))
	_, err := New().Evaluate(c, must.M1(NewBuffer(S(dtypes.Uint8, 2), []float64{1, 2})))
	require.ErrorContains(t, err, "not supported")

	empty := m.NewComputation("empty")
	_, err = New().Evaluate(empty)
	require.ErrorContains(t, err, "no root")
}
