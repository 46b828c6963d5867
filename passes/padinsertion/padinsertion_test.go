// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package padinsertion

import (
	"fmt"
	"math/rand/v2"
	"testing"

	"github.com/gomlx/convlower/backends"
	"github.com/gomlx/convlower/backends/shapeinference"
	"github.com/gomlx/convlower/backends/simplego"
	"github.com/gomlx/convlower/graph"
	"github.com/gomlx/convlower/types/shapes"
	"github.com/gomlx/convlower/types/xslices"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Aliases
var (
	S   = shapes.Make
	F32 = dtypes.Float32
	F64 = dtypes.Float64
)

func wdim(size, stride, low, high, baseDilation, windowDilation int) backends.WindowDimension {
	return backends.WindowDimension{Size: size, Stride: stride, PaddingLow: low, PaddingHigh: high,
		BaseDilation: baseDilation, WindowDilation: windowDilation}
}

type convCase struct {
	name          string
	kind          backends.ConvKind
	inputSpatial  []int
	window        backends.Window
	envelope      backends.ConvolutionEnvelope
	wantRewritten bool
}

// buildCase builds a computation "main" with one convolution of the given kind and returns it along with
// random parameters for it.
func buildCase(t *testing.T, rng *rand.Rand, tc convCase) (*graph.Module, *graph.Computation, *graph.Node, []*simplego.Buffer) {
	axes := backends.ChannelsFirstAxes(len(tc.window))
	xShape := S(F64, append([]int{2, 3}, tc.inputSpatial...)...)
	wShape := S(F64, append([]int{4, 3}, xslices.Map(tc.window, func(wd backends.WindowDimension) int { return wd.Size })...)...)
	dyShape, err := shapeinference.ConvGeneralOp(xShape, wShape, axes, tc.window)
	require.NoError(t, err)

	m := graph.NewModule(tc.name)
	c := m.NewComputation("main")
	var conv *graph.Node
	var paramShapes []shapes.Shape
	switch tc.kind {
	case backends.ConvKindForward:
		conv = graph.Convolution(c.Parameter("x", xShape), c.Parameter("w", wShape), tc.window, axes)
		paramShapes = []shapes.Shape{xShape, wShape}
	case backends.ConvKindBackwardFilter:
		conv = graph.BackwardFilterConvolution(c.Parameter("x", xShape), c.Parameter("dy", dyShape), tc.window, axes)
		paramShapes = []shapes.Shape{xShape, dyShape}
	case backends.ConvKindBackwardInput:
		conv = graph.BackwardInputConvolution(c.Parameter("w", wShape), c.Parameter("dy", dyShape), tc.window, axes, xShape)
		paramShapes = []shapes.Shape{wShape, dyShape}
	}
	c.SetRoot(conv)
	m.SetEntry("main")
	require.NoError(t, m.Validate())

	params := make([]*simplego.Buffer, len(paramShapes))
	for ii, shape := range paramShapes {
		flat := make([]float64, shape.Size())
		for jj := range flat {
			flat[jj] = rng.Float64()*2 - 1
		}
		params[ii] = must.M1(simplego.NewBuffer(shape, flat))
	}
	return m, c, conv, params
}

func cudnnMaxPadding(maxPadding int) backends.ConvolutionEnvelope {
	envelope := backends.CuDNNConvolutionEnvelope()
	envelope.MaxPadding = maxPadding
	return envelope
}

func defaultMaxPadding(maxPadding int) backends.ConvolutionEnvelope {
	envelope := backends.DefaultConvolutionEnvelope()
	envelope.MaxPadding = maxPadding
	return envelope
}

var convCases = []convCase{
	{"forward-canonical", backends.ConvKindForward, []int{5},
		backends.Window{wdim(3, 1, 1, 1, 1, 1)}, backends.DefaultConvolutionEnvelope(), false},
	{"forward-crop-and-pad", backends.ConvKindForward, []int{5},
		backends.Window{wdim(3, 1, -1, 3, 1, 1)}, backends.DefaultConvolutionEnvelope(), true},
	{"forward-symmetric", backends.ConvKindForward, []int{5},
		backends.Window{wdim(3, 1, 1, 2, 1, 1)}, backends.CuDNNConvolutionEnvelope(), true},
	{"forward-max-padding-2d", backends.ConvKindForward, []int{6, 5},
		backends.Window{wdim(3, 2, 2, 3, 1, 1), wdim(2, 1, 0, 0, 1, 1)}, defaultMaxPadding(1), true},
	{"forward-base-dilation", backends.ConvKindForward, []int{4},
		backends.Window{wdim(3, 1, 1, -1, 2, 1)}, backends.CuDNNConvolutionEnvelope(), true},
	{"forward-full-crop", backends.ConvKindForward, []int{2},
		backends.Window{wdim(2, 1, -2, 2, 1, 1)}, backends.DefaultConvolutionEnvelope(), true},
	{"forward-window-dilation", backends.ConvKindForward, []int{7},
		backends.Window{wdim(3, 1, -1, 1, 1, 2)}, backends.DefaultConvolutionEnvelope(), true},
	{"forward-all-negative-2d", backends.ConvKindForward, []int{7, 6},
		backends.Window{wdim(2, 2, -1, -2, 1, 1), wdim(3, 1, -1, 0, 1, 1)}, cudnnMaxPadding(2), true},
	{"backward-filter-strided", backends.ConvKindBackwardFilter, []int{7},
		backends.Window{wdim(3, 2, -1, 2, 1, 1)}, backends.DefaultConvolutionEnvelope(), true},
	{"backward-filter-base-dilation", backends.ConvKindBackwardFilter, []int{4},
		backends.Window{wdim(3, 1, 1, 1, 2, 1)}, backends.CuDNNConvolutionEnvelope(), true},
	{"backward-filter-canonical", backends.ConvKindBackwardFilter, []int{6},
		backends.Window{wdim(3, 1, 1, 1, 1, 1)}, backends.CuDNNConvolutionEnvelope(), false},
	{"backward-input-crop", backends.ConvKindBackwardInput, []int{5},
		backends.Window{wdim(3, 1, 3, 0, 1, 1)}, backends.DefaultConvolutionEnvelope(), true},
	{"backward-input-strided", backends.ConvKindBackwardInput, []int{7},
		backends.Window{wdim(3, 2, 1, 1, 1, 1)}, backends.CuDNNConvolutionEnvelope(), true},
	{"backward-input-strided-remainder", backends.ConvKindBackwardInput, []int{8},
		backends.Window{wdim(3, 2, 1, 1, 1, 1)}, backends.CuDNNConvolutionEnvelope(), true},
	{"backward-input-2d", backends.ConvKindBackwardInput, []int{6, 5},
		backends.Window{wdim(2, 1, 0, 1, 1, 2), wdim(3, 2, 2, 0, 1, 1)}, defaultMaxPadding(1), true},
	{"backward-input-canonical", backends.ConvKindBackwardInput, []int{5},
		backends.Window{wdim(3, 1, 1, 1, 1, 1)}, backends.DefaultConvolutionEnvelope(), false},
}

func TestCanonicalization(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	evaluator := simplego.New()
	for _, tc := range convCases {
		t.Run(tc.name, func(t *testing.T) {
			m, c, conv, params := buildCase(t, rng, tc)
			want := must.M1(evaluator.Evaluate(c, params...))
			effectiveBefore := must.M1(EffectiveWindow(conv))
			operandBefore := conv.Operand(PaddedOperand(tc.kind))

			pass := New(WithEnvelope(tc.envelope))
			changed, err := pass.Run(m)
			require.NoError(t, err)
			require.Equal(t, tc.wantRewritten, changed)
			require.NoError(t, m.Validate())

			// Every effective window dimension is now canonical.
			effectiveAfter := must.M1(EffectiveWindow(conv))
			for ii, wd := range effectiveAfter {
				assert.True(t, tc.envelope.IsCanonical(wd), "spatial axis %d: effective window %s not canonical", ii, wd)
			}

			// Padding conservation.
			spatialAxes := paddedSpatialAxes(tc.kind, conv.ConvAxes())
			padded := conv.Operand(PaddedOperand(tc.kind))
			for ii := range effectiveBefore {
				total := effectiveAfter[ii].PaddingLow + effectiveAfter[ii].PaddingHigh
				if padded.Type() == backends.OpTypePad {
					padAxis := padded.PadAxes()[spatialAxes[ii]]
					total += padAxis.Start + padAxis.End
				}
				assert.Equal(t, effectiveBefore[ii].PaddingLow+effectiveBefore[ii].PaddingHigh, total,
					"padding not conserved on spatial axis %d", ii)
			}
			if changed {
				require.Equal(t, backends.OpTypePad, padded.Type())
				assert.Same(t, operandBefore, padded.Operand(0))
				fill := padded.Operand(1)
				assert.Equal(t, backends.OpTypeConstant, fill.Type())
				assert.Equal(t, 0.0, fill.ConstantValue())
				assert.True(t, fill.Shape().Equal(S(F64)))
				require.Len(t, pass.Rewrites(), 1)
				assert.Equal(t, conv.Id(), pass.Rewrites()[0].Conv)
			} else {
				assert.Same(t, operandBefore, padded)
				assert.Empty(t, pass.Rewrites())
			}

			// Semantics are preserved.
			got := must.M1(evaluator.Evaluate(c, params...))
			require.True(t, got.Shape().Equal(want.Shape()))
			assert.True(t, xslices.InDelta(want.Flat(), got.Flat(), 1e-9), "want %s\ngot %s", want, got)

			// Idempotence.
			text := m.String()
			changed, err = pass.Run(m)
			require.NoError(t, err)
			assert.False(t, changed)
			assert.Equal(t, text, m.String())
		})
	}
}

func TestForwardScenario(t *testing.T) {
	for _, envelope := range []backends.ConvolutionEnvelope{backends.DefaultConvolutionEnvelope(), defaultMaxPadding(3)} {
		t.Run(envelope.String(), func(t *testing.T) {
			m := graph.NewModule("demo")
			c := m.NewComputation("main")
			x := c.Parameter("x", S(F32, 1, 1, 5))
			w := c.Parameter("w", S(F32, 1, 1, 3))
			conv := graph.Convolution(x, w, backends.Window{wdim(3, 1, -1, 3, 1, 1)}, backends.ChannelsFirstAxes(1))
			c.SetRoot(conv)
			m.SetEntry("main")

			changed, err := New(WithEnvelope(envelope)).Run(m)
			require.NoError(t, err)
			require.True(t, changed)
			pad := conv.Operand(0)
			require.Equal(t, backends.OpTypePad, pad.Type())
			assert.Equal(t, []backends.PadAxis{{}, {}, {Start: -1, End: 0}}, pad.PadAxes())
			assert.Equal(t, backends.Window{wdim(3, 1, 0, 3, 1, 1)}, conv.Window())

			want := `module demo entry main
computation main {
  %0 = parameter("x") : f32[1,1,5]
  %1 = parameter("w") : f32[1,1,3]
  %3 = constant(0) : f32[]
  %4 = pad(%0, %3) {padding=[0:0:0,0:0:0,-1:0:0]} : f32[1,1,4]
  %2 = convolution(%4, %1) {kind=forward, window=[3:1:0:3:1:1], input_axes=[0,1,2], kernel_axes=[1,0,2], output_axes=[0,1,2]} : f32[1,1,5]
  root %2
}
`
			assert.Equal(t, want, m.String())

			changed, err = New(WithEnvelope(envelope)).Run(m)
			require.NoError(t, err)
			assert.False(t, changed)
		})
	}
}

func TestStoredWindows(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	testCases := []struct {
		convCase
		wantPad    backends.PadAxis
		wantWindow backends.Window
	}{
		{convCases[2], backends.PadAxis{Start: 0, End: 1}, backends.Window{wdim(3, 1, 1, 1, 1, 1)}},
		{convCases[4], backends.PadAxis{Start: 1, End: -1, Interior: 1}, backends.Window{wdim(3, 1, 0, 0, 1, 1)}},
		{convCases[5], backends.PadAxis{Start: -2, End: 2}, backends.Window{wdim(2, 1, 0, 0, 1, 1)}},
		{convCases[8], backends.PadAxis{Start: -1, End: 0}, backends.Window{wdim(3, 2, 0, 2, 1, 1)}},
		{convCases[9], backends.PadAxis{Start: 0, End: 0, Interior: 1}, backends.Window{wdim(3, 1, 1, 1, 1, 1)}},
		{convCases[11], backends.PadAxis{Start: -1, End: 0}, backends.Window{wdim(3, 1, 2, 0, 1, 1)}},
		{convCases[12], backends.PadAxis{Start: 0, End: 0, Interior: 1}, backends.Window{wdim(3, 1, 1, 1, 1, 1)}},
		{convCases[13], backends.PadAxis{Start: 0, End: 1, Interior: 1}, backends.Window{wdim(3, 1, 1, 1, 1, 1)}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			m, _, conv, _ := buildCase(t, rng, tc.convCase)
			changed, err := New(WithEnvelope(tc.envelope)).Run(m)
			require.NoError(t, err)
			require.True(t, changed)
			pad := conv.Operand(PaddedOperand(tc.kind))
			assert.Equal(t, tc.wantPad, pad.PadAxes()[2])
			assert.Equal(t, tc.wantWindow, conv.Window())
		})
	}
}

func TestErrors(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 4))

	t.Run("malformed-window", func(t *testing.T) {
		m, _, conv, _ := buildCase(t, rng, convCases[1])
		conv.SetWindow(backends.MakeWindow(3, 3))
		_, err := New().Run(m)
		require.ErrorIs(t, err, ErrMalformedGraph)
	})
	t.Run("malformed-window-entry", func(t *testing.T) {
		m, _, conv, _ := buildCase(t, rng, convCases[1])
		conv.SetWindow(backends.Window{wdim(3, 0, 0, 0, 1, 1)})
		_, err := New().Run(m)
		require.ErrorIs(t, err, ErrMalformedGraph)
	})
	t.Run("malformed-operands", func(t *testing.T) {
		m, _, conv, _ := buildCase(t, rng, convCases[1])
		conv.SetOperands(conv.Operand(0))
		_, err := New().Run(m)
		require.ErrorIs(t, err, ErrMalformedGraph)
	})
	t.Run("backward-input-base-dilation", func(t *testing.T) {
		m, _, _, _ := buildCase(t, rng, convCase{name: "bi", kind: backends.ConvKindBackwardInput, inputSpatial: []int{4},
			window: backends.Window{wdim(3, 1, 0, 0, 2, 1)}})
		_, err := New().Run(m)
		require.ErrorIs(t, err, ErrUnsupportedConfiguration)
	})
	t.Run("window-dilation", func(t *testing.T) {
		m, _, _, _ := buildCase(t, rng, convCases[6])
		envelope := backends.DefaultConvolutionEnvelope()
		envelope.MaxWindowDilation = 1
		_, err := New(WithEnvelope(envelope)).Run(m)
		require.ErrorIs(t, err, ErrUnsupportedConfiguration)
	})
}

func TestParallelComputations(t *testing.T) {
	m := graph.NewModule("m")
	const numComputations = 16
	var convs []*graph.Node
	for ii := range numComputations {
		c := m.NewComputation(fmt.Sprintf("c%02d", ii))
		x := c.Parameter("x", S(F32, 1, 2, 6+ii))
		w := c.Parameter("w", S(F32, 3, 2, 3))
		conv := graph.Convolution(x, w, backends.Window{wdim(3, 1, -1, 2, 1, 1)}, backends.ChannelsFirstAxes(1))
		c.SetRoot(conv)
		convs = append(convs, conv)
	}
	pass := New(WithParallelComputations(true), WithEnvelope(backends.CuDNNConvolutionEnvelope()))
	changed, err := pass.Run(m)
	require.NoError(t, err)
	require.True(t, changed)
	require.NoError(t, m.Validate())
	assert.Len(t, pass.Rewrites(), numComputations)
	for _, conv := range convs {
		assert.Equal(t, backends.Window{wdim(3, 1, 0, 0, 1, 1)}, conv.Window())
		assert.Equal(t, backends.PadAxis{Start: -1, End: 2}, conv.Operand(0).PadAxes()[2])
	}
	changed, err = pass.Run(m)
	require.NoError(t, err)
	assert.False(t, changed)
}
