// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package shapes defines Shape and associated tools.
//
// Shape represents the shape (rank, dimensions and DType) of the value produced by a node in a computation
// graph. DType indicates the type of the unit element, it is defined in github.com/gomlx/gopjrt/dtypes.
//
// ## Glossary
//
//   - Rank: number of axes (dimensions) of a tensor.
//   - Axis: the index of a dimension on a multidimensional tensor.
//   - Dimension: the size of a multidimensional tensor in one of its axes.
//   - DType: the data type of the unit element in a tensor.
//   - Scalar: a shape where there are no axes (or dimensions), only a single value
//     of the associated DType.
//
// Shapes are printed (and parsed by package graphtext) in a compact form: `f32[2,3]` for a float32
// tensor with dimensions 2 and 3, and `f32[]` for a float32 scalar.
package shapes

import (
	"slices"
	"strconv"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

// Shape represents the shape of the value from a computation node.
//
// Use Make to create a new shape.
type Shape struct {
	DType      dtypes.DType
	Dimensions []int
}

// Make returns a Shape structure filled with the values given.
func Make(dtype dtypes.DType, dimensions ...int) Shape {
	s := Shape{Dimensions: slices.Clone(dimensions), DType: dtype}
	for _, dim := range dimensions {
		if dim <= 0 {
			exceptions.Panicf("shapes.Make(%s): cannot create a shape with an axis with dimension <= 0", s)
		}
	}
	return s
}

// Invalid returns an invalid shape.
//
// Invalid().Ok() == false.
func Invalid() Shape {
	return Shape{DType: dtypes.InvalidDType}
}

// Ok returns whether this is a valid Shape. A "zero" shape, that is just instantiating it with Shape{} will be invalid.
func (s Shape) Ok() bool { return s.DType != dtypes.InvalidDType }

// Rank of the shape, that is, the number of dimensions.
func (s Shape) Rank() int { return len(s.Dimensions) }

// IsScalar returns whether the shape represents a scalar, that is there are no dimensions (rank==0).
func (s Shape) IsScalar() bool { return s.Ok() && s.Rank() == 0 }

// Dim returns the dimension of the given axis. axis can take negative numbers, in which
// case it counts as starting from the end -- so axis=-1 refers to the last axis.
// Like with a slice indexing, it panics for an out-of-bound axis.
func (s Shape) Dim(axis int) int {
	adjustedAxis := axis
	if adjustedAxis < 0 {
		adjustedAxis += s.Rank()
	}
	if adjustedAxis < 0 || adjustedAxis >= s.Rank() {
		exceptions.Panicf("Shape.Dim(%d) out-of-bounds for rank %d (shape=%s)", axis, s.Rank(), s)
	}
	return s.Dimensions[adjustedAxis]
}

// Shape returns a shallow copy of itself.
func (s Shape) Shape() Shape { return s }

// String implements stringer, it prints the shape in its compact form, e.g.: `f32[2,3]`.
func (s Shape) String() string {
	if !s.Ok() {
		return "invalid[]"
	}
	var sb strings.Builder
	sb.WriteString(DTypeName(s.DType))
	sb.WriteByte('[')
	for ii, dim := range s.Dimensions {
		if ii > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.Itoa(dim))
	}
	sb.WriteByte(']')
	return sb.String()
}

// Size returns the number of elements of DType are needed for this shape. It's the product of all dimensions.
func (s Shape) Size() (size int) {
	size = 1
	for _, d := range s.Dimensions {
		size *= d
	}
	return
}

// Memory returns the memory used to store an array of the given shape, the same as the size in bytes.
func (s Shape) Memory() uintptr {
	return s.DType.Memory() * uintptr(s.Size())
}

// Equal compares two shapes for equality: dtype and dimensions are compared.
func (s Shape) Equal(s2 Shape) bool {
	if s.DType != s2.DType {
		return false
	}
	return slices.Equal(s.Dimensions, s2.Dimensions)
}

// Clone returns a new deep copy of the shape.
func (s Shape) Clone() (s2 Shape) {
	s2.DType = s.DType
	s2.Dimensions = slices.Clone(s.Dimensions)
	return
}

// Strides returns the strides for each axis of the shape, assuming a "row-major" layout
// in memory, the one used everywhere in this module.
//
// The last axis has stride 1, and each preceding axis has the stride of the following one times its dimension.
func (s Shape) Strides() (strides []int) {
	rank := s.Rank()
	if rank == 0 {
		return
	}
	strides = make([]int, rank)
	currentStride := 1
	for axis := rank - 1; axis >= 0; axis-- {
		strides[axis] = currentStride
		currentStride *= s.Dimensions[axis]
	}
	return
}

// FlatIndex returns the position in a row-major flat storage of the element at the given indices.
func (s Shape) FlatIndex(indices []int) int {
	var flat int
	for axis, idx := range indices {
		flat = flat*s.Dimensions[axis] + idx
	}
	return flat
}

// dtypeNames are the compact names used in the textual form of shapes.
var dtypeNames = map[dtypes.DType]string{
	dtypes.Bool:     "pred",
	dtypes.Int8:     "s8",
	dtypes.Int16:    "s16",
	dtypes.Int32:    "s32",
	dtypes.Int64:    "s64",
	dtypes.Uint8:    "u8",
	dtypes.Uint16:   "u16",
	dtypes.Uint32:   "u32",
	dtypes.Uint64:   "u64",
	dtypes.Float16:  "f16",
	dtypes.BFloat16: "bf16",
	dtypes.Float32:  "f32",
	dtypes.Float64:  "f64",
}

// DTypeName returns the compact name of the dtype, as used in the textual form of shapes.
// For dtypes without a compact name, it falls back to dtype.String().
func DTypeName(dtype dtypes.DType) string {
	if name, found := dtypeNames[dtype]; found {
		return name
	}
	return strings.ToLower(dtype.String())
}

// ParseDTypeName is the reverse of DTypeName.
func ParseDTypeName(name string) (dtypes.DType, error) {
	for dtype, dtypeName := range dtypeNames {
		if dtypeName == name {
			return dtype, nil
		}
	}
	return dtypes.InvalidDType, errors.Errorf("unknown dtype name %q", name)
}
