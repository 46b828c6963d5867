// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package simplego

import (
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/gomlx/convlower/types/shapes"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/pkg/errors"
	"github.com/x448/float16"
)

// Buffer holds a shape and its values, laid out in row-major order.
//
// Values of every dtype are stored as float64, rounded to the precision of the dtype.
type Buffer struct {
	shape shapes.Shape
	flat  []float64
}

// NewBuffer creates a buffer with a copy of the flat values given, which are rounded to the shape's dtype.
func NewBuffer(shape shapes.Shape, flat []float64) (*Buffer, error) {
	if !shape.Ok() {
		return nil, errors.Errorf("NewBuffer: invalid shape %s", shape)
	}
	if len(flat) != shape.Size() {
		return nil, errors.Errorf("NewBuffer: shape %s has %d elements, but %d values were given",
			shape, shape.Size(), len(flat))
	}
	b := &Buffer{shape: shape.Clone(), flat: slices.Clone(flat)}
	b.round()
	return b, nil
}

// newBufferForShape returns a zero initialized buffer.
func newBufferForShape(shape shapes.Shape) *Buffer {
	return &Buffer{shape: shape.Clone(), flat: make([]float64, shape.Size())}
}

// Shape of the buffer.
func (b *Buffer) Shape() shapes.Shape { return b.shape }

// Flat returns the values of the buffer in row-major order. It is not a copy: don't change it.
func (b *Buffer) Flat() []float64 { return b.flat }

// At returns the value at the given indices.
func (b *Buffer) At(indices ...int) float64 {
	if len(indices) != b.shape.Rank() {
		panic(errors.Errorf("Buffer.At: %d indices given for shape %s", len(indices), b.shape))
	}
	return b.flat[b.shape.FlatIndex(indices)]
}

// String implements fmt.Stringer.
func (b *Buffer) String() string {
	const maxValues = 16
	var sb strings.Builder
	sb.WriteString(b.shape.String())
	sb.WriteString("{")
	for ii, v := range b.flat {
		if ii == maxValues {
			sb.WriteString(", ...")
			break
		}
		if ii > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "%g", v)
	}
	sb.WriteString("}")
	return sb.String()
}

// round the values to the precision of the buffer's dtype.
func (b *Buffer) round() {
	round := roundFn(b.shape.DType)
	if round == nil {
		return
	}
	for ii, v := range b.flat {
		b.flat[ii] = round(v)
	}
}

func roundFn(dtype dtypes.DType) func(float64) float64 {
	switch dtype {
	case dtypes.Float16:
		return func(v float64) float64 { return float64(float16.Fromfloat32(float32(v)).Float32()) }
	case dtypes.BFloat16:
		return func(v float64) float64 { return float64(bfloat16.FromFloat32(float32(v)).Float32()) }
	case dtypes.Float32:
		return func(v float64) float64 { return float64(float32(v)) }
	case dtypes.Int32:
		return func(v float64) float64 { return float64(int32(math.Trunc(v))) }
	case dtypes.Int64:
		return math.Trunc
	}
	return nil
}
