// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package convemit

import (
	"math/rand/v2"
	"strings"
	"testing"

	"github.com/gomlx/convlower/backends"
	"github.com/gomlx/convlower/backends/simplego"
	"github.com/gomlx/convlower/codegen/kernelsupport"
	"github.com/gomlx/convlower/codegen/lir"
	"github.com/gomlx/convlower/codegen/lir/interp"
	"github.com/gomlx/convlower/graph"
	"github.com/gomlx/convlower/graph/graphtext"
	"github.com/gomlx/convlower/passes/padinsertion"
	"github.com/gomlx/convlower/types/shapes"
	"github.com/gomlx/convlower/types/xslices"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var S = shapes.Make

const F64 = dtypes.Float64

// lowerAndCompare lowers the computation into m, runs it with random parameters in the interpreter, and checks
// the result against the reference evaluator.
func lowerAndCompare(t *testing.T, m *lir.Module, comp *graph.Computation, opts Options) {
	fn, err := EmitComputation(m, comp, opts)
	require.NoError(t, err)
	require.NoError(t, m.Verify())

	rng := rand.New(rand.NewPCG(42, uint64(len(comp.Name()))))
	params := comp.Parameters()
	buffers := make([]*simplego.Buffer, len(params))
	args := make([]any, len(params)+1)
	for ii, p := range params {
		flat := make([]float64, p.Shape().Size())
		for jj := range flat {
			flat[jj] = rng.Float64()*2 - 1
		}
		buffers[ii] = must.M1(simplego.NewBuffer(p.Shape(), flat))
		args[ii] = interp.NewFloat64Buffer(flat)
	}
	want, err := simplego.New().Evaluate(comp, buffers...)
	require.NoError(t, err)
	out := interp.NewBuffer(lir.TypeF64, comp.Root().Shape().Size())
	args[len(params)] = out

	_, err = interp.New(m).Call(fn.Name(), args...)
	require.NoError(t, err)
	got := must.M1(out.Float64s())
	require.Len(t, got, len(want.Flat()))
	assert.True(t, xslices.InDelta(want.Flat(), got, 1e-9), "lowered %v, reference %v", got, want.Flat())
}

const demoModule = `module demo entry main
computation main {
  %0 = parameter("x") : f64[2,3,7]
  %1 = parameter("w") : f64[4,3,3]
  %2 = convolution(%0, %1) {kind=forward, window=[3:2:-1:3:1:1], input_axes=[0,1,2], kernel_axes=[1,0,2], output_axes=[0,1,2]} : f64[2,4,4]
  root %2
}
`

func TestEmitCanonicalizedConvolution(t *testing.T) {
	module := must.M1(graphtext.Parse(demoModule))
	envelope := backends.DefaultConvolutionEnvelope()
	comp := module.EntryComputation()

	// Not canonical yet.
	_, err := EmitComputation(lir.NewModule("test"), comp, Options{Envelope: &envelope})
	require.Error(t, err)
	assert.ErrorContains(t, err, "not canonical")

	// The original convolution lowers directly, when canonicity is not required.
	lowerAndCompare(t, lir.NewModule("original"), comp, Options{})

	changed, err := padinsertion.New(padinsertion.WithEnvelope(envelope)).Run(module)
	require.NoError(t, err)
	require.True(t, changed)
	m := lir.NewModule("canonical")
	lowerAndCompare(t, m, comp, Options{Envelope: &envelope, Kernel: kernelsupport.KernelOptions{EnableFastMath: true}})
	text := m.Format()
	assert.Contains(t, text, "@pad_2x3x7_0.0.0_0.0.0_m1.0.0(")
	assert.Contains(t, text, "fastmath")
	// The accumulator initialization is peeled: the reduction loop has no runtime first-iteration check.
	assert.NotContains(t, text, "icmp eq")
}

func TestEmitConvolutionConfigurations(t *testing.T) {
	channelsLast := backends.MakeConvolveAxesConfig([]int{0, 3, 1, 2}, []int{2, 3, 0, 1}, []int{0, 3, 1, 2})
	testCases := []struct {
		name          string
		input, kernel shapes.Shape
		window        backends.Window
		axes          backends.ConvolveAxesConfig
	}{
		{
			name:   "2d-strided",
			input:  S(F64, 1, 2, 5, 6),
			kernel: S(F64, 3, 2, 2, 3),
			window: backends.Window{
				{Size: 2, Stride: 2, PaddingLow: 1, PaddingHigh: 0, BaseDilation: 1, WindowDilation: 1},
				{Size: 3, Stride: 1, PaddingLow: 1, PaddingHigh: 1, BaseDilation: 1, WindowDilation: 1},
			},
			axes: backends.ChannelsFirstAxes(2),
		},
		{
			name:   "2d-dilated-channels-last",
			input:  S(F64, 2, 4, 3, 2),
			kernel: S(F64, 2, 2, 2, 3),
			window: backends.Window{
				{Size: 2, Stride: 1, PaddingLow: 0, PaddingHigh: 2, BaseDilation: 2, WindowDilation: 1},
				{Size: 2, Stride: 1, PaddingLow: 1, PaddingHigh: 1, BaseDilation: 1, WindowDilation: 2},
			},
			axes: channelsLast,
		},
		{
			name:   "1d-negative-padding",
			input:  S(F64, 1, 1, 6),
			kernel: S(F64, 2, 1, 2),
			window: backends.Window{{Size: 2, Stride: 1, PaddingLow: -2, PaddingHigh: 1, BaseDilation: 1, WindowDilation: 1}},
			axes:   backends.ChannelsFirstAxes(1),
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			module := graph.NewModule(tc.name)
			comp := module.NewComputation("main")
			conv := graph.Convolution(comp.Parameter("x", tc.input), comp.Parameter("w", tc.kernel), tc.window, tc.axes)
			comp.SetRoot(conv)
			lowerAndCompare(t, lir.NewModule(tc.name), comp, Options{})
		})
	}
}

func TestEmitPadAndConstant(t *testing.T) {
	module := must.M1(graphtext.Parse(`module pads entry main
computation main {
  %0 = parameter("x") : f64[2,5]
  %1 = constant(1.5) : f64[]
  %2 = pad(%0, %1) {padding=[1:-1:1,-2:3:0]} : f64[3,6]
  root %2
}
`))
	m := lir.NewModule("pads")
	lowerAndCompare(t, m, module.EntryComputation(), Options{})
	assert.Contains(t, m.Format(), "define void @splat_1(")
}

func TestKernelsAreShared(t *testing.T) {
	module := graph.NewModule("shared")
	axes := backends.ChannelsFirstAxes(1)
	window := backends.Window{{Size: 3, Stride: 1, PaddingLow: 1, PaddingHigh: 1, BaseDilation: 1, WindowDilation: 1}}
	for _, name := range []string{"a", "b"} {
		comp := module.NewComputation(name)
		x := comp.Parameter("x", S(F64, 1, 2, 4))
		w := comp.Parameter("w", S(F64, 2, 2, 3))
		comp.SetRoot(graph.Convolution(graph.Convolution(x, w, window, axes), w, window, axes))
	}
	m := lir.NewModule("shared")
	for _, comp := range module.Computations() {
		lowerAndCompare(t, m, comp, Options{})
	}
	var convKernels int
	for _, fn := range m.Functions() {
		if strings.HasPrefix(fn.Name(), "conv_") {
			convKernels++
		}
	}
	assert.Equal(t, 1, convKernels)
	assert.Equal(t, 4, strings.Count(m.Format(), "call void @conv_"))
}

func TestEmitErrors(t *testing.T) {
	module := graph.NewModule("errors")
	axes := backends.ChannelsFirstAxes(1)
	window := backends.Window{{Size: 2, Stride: 1, PaddingLow: 0, PaddingHigh: 0, BaseDilation: 1, WindowDilation: 1}}
	comp := module.NewComputation("backward")
	x := comp.Parameter("x", S(F64, 1, 1, 4))
	dy := comp.Parameter("dy", S(F64, 1, 1, 3))
	comp.SetRoot(graph.BackwardFilterConvolution(x, dy, window, axes))
	_, err := EmitComputation(lir.NewModule("errors"), comp, Options{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnimplemented))

	noRoot := module.NewComputation("no_root")
	noRoot.Parameter("x", S(F64, 3))
	_, err = EmitComputation(lir.NewModule("errors"), noRoot, Options{})
	assert.ErrorContains(t, err, "no root")

	// Function already defined.
	m := lir.NewModule("errors")
	must.M1(m.DefineFunction("no_root", lir.TypeVoid))
	noRoot.SetRoot(noRoot.Parameters()[0])
	_, err = EmitComputation(m, noRoot, Options{})
	assert.ErrorContains(t, err, "already defined")
}
