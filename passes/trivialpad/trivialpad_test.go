// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package trivialpad

import (
	"testing"

	"github.com/gomlx/convlower/backends"
	"github.com/gomlx/convlower/graph"
	"github.com/gomlx/convlower/graph/graphtext"
	"github.com/gomlx/convlower/passes"
	"github.com/gomlx/convlower/passes/padinsertion"
	"github.com/gomlx/convlower/types/shapes"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrivialPadElimination(t *testing.T) {
	m := must.M1(graphtext.Parse(`module m entry main
computation main {
  %0 = parameter("x") : f32[1,1,5]
  %1 = parameter("w") : f32[1,1,3]
  %2 = constant(0) : f32[]
  %3 = pad(%0, %2) {padding=[0:0:0,0:0:0,0:0:0]} : f32[1,1,5]
  %4 = pad(%0, %2) {padding=[0:0:0,0:0:0,1:1:0]} : f32[1,1,7]
  %5 = convolution(%3, %1) {kind=forward, window=[3:1:1:1:1:1], input_axes=[0,1,2], kernel_axes=[1,0,2], output_axes=[0,1,2]} : f32[1,1,5]
  root %5
}
`))
	c := m.EntryComputation()
	conv := c.Root()
	changed, err := New().Run(m)
	require.NoError(t, err)
	require.True(t, changed)
	require.NoError(t, m.Validate())
	assert.Equal(t, backends.OpTypeParameter, conv.Operand(0).Type())
	// Trivial pad, the unused pad and its fill are gone. Parameters stay.
	assert.Equal(t, 3, c.NumNodes())

	changed, err = New().Run(m)
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestPipelineWithPadInsertion(t *testing.T) {
	m := must.M1(graphtext.Parse(`module demo entry main
computation main {
  %0 = parameter("x") : f32[1,1,5]
  %1 = parameter("w") : f32[1,1,3]
  %2 = convolution(%0, %1) {kind=forward, window=[3:1:-1:3:1:1], input_axes=[0,1,2], kernel_axes=[1,0,2], output_axes=[0,1,2]} : f32[1,1,5]
  root %2
}
`))
	pipeline := passes.NewPipeline(padinsertion.New(), New())
	changed, err := pipeline.Run(m)
	require.NoError(t, err)
	require.True(t, changed)
	c := m.EntryComputation()
	pad := c.Root().Operand(0)
	require.True(t, pad.Type() == backends.OpTypePad)
	assert.False(t, IsTrivial(pad))
	assert.Equal(t, 5, c.NumNodes())

	changed, err = pipeline.Run(m)
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestNoRoot(t *testing.T) {
	m := graph.NewModule("m")
	c := m.NewComputation("c")
	x := c.Parameter("x", shapes.Make(dtypes.Float32, 4))
	fill := c.Scalar(x.DType(), 0)
	graph.Pad(graph.Pad(x, fill, backends.PadAxis{}), fill, backends.PadAxis{Start: 1})
	changed, err := New().Run(m)
	require.NoError(t, err)
	assert.True(t, changed)
	changed, err = New().Run(m)
	require.NoError(t, err)
	assert.False(t, changed)
	// Without a root, nodes are kept.
	assert.Equal(t, 4, c.NumNodes())
}
