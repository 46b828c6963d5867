// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package interp

import (
	"fmt"

	"github.com/gomlx/convlower/codegen/lir"
	"github.com/pkg/errors"
)

// memory is an allocation (buffer or stack slot) of elements of one type.
type memory struct {
	elem  lir.Type
	cells []any
}

// Pointer to an element of an allocation. The zero value is the null pointer.
type Pointer struct {
	mem    *memory
	offset int64
}

func zeroOf(t lir.Type) any {
	switch t {
	case lir.TypeI1:
		return false
	case lir.TypeI64:
		return int64(0)
	case lir.TypeF64:
		return float64(0)
	default:
		return Pointer{}
	}
}

func allocate(elem lir.Type, count int64) Pointer {
	mem := &memory{elem: elem, cells: make([]any, count)}
	zero := zeroOf(elem)
	for ii := range mem.cells {
		mem.cells[ii] = zero
	}
	return Pointer{mem: mem}
}

// NewFloat64Buffer allocates a buffer of f64 initialized with a copy of values, and returns a pointer to its
// first element.
func NewFloat64Buffer(values []float64) Pointer {
	p := allocate(lir.TypeF64, int64(len(values)))
	for ii, v := range values {
		p.mem.cells[ii] = v
	}
	return p
}

// NewBuffer allocates a zero-initialized buffer of count elements of type elem.
func NewBuffer(elem lir.Type, count int) Pointer {
	return allocate(elem, int64(count))
}

// IsNull returns whether p is the null pointer.
func (p Pointer) IsNull() bool { return p.mem == nil }

// Len returns the number of elements from p to the end of its allocation.
func (p Pointer) Len() int {
	if p.mem == nil {
		return 0
	}
	return max(len(p.mem.cells)-int(p.offset), 0)
}

// Float64s returns a copy of the f64 elements from p to the end of its allocation.
func (p Pointer) Float64s() ([]float64, error) {
	if p.mem == nil {
		return nil, errors.New("Float64s() of null pointer")
	}
	if p.mem.elem != lir.TypeF64 {
		return nil, errors.Errorf("Float64s() of a buffer of %s", p.mem.elem)
	}
	values := make([]float64, p.Len())
	for ii := range values {
		values[ii] = p.mem.cells[int(p.offset)+ii].(float64)
	}
	return values, nil
}

// String implements fmt.Stringer.
func (p Pointer) String() string {
	if p.mem == nil {
		return "null"
	}
	return fmt.Sprintf("%s[%d]@%p+%d", p.mem.elem, len(p.mem.cells), p.mem, p.offset)
}

func (p Pointer) check(elem lir.Type) error {
	if p.mem == nil {
		return errors.New("access through null pointer")
	}
	if p.offset < 0 || p.offset >= int64(len(p.mem.cells)) {
		return errors.Errorf("access out of bounds: offset %d of allocation of %d elements", p.offset, len(p.mem.cells))
	}
	if p.mem.elem != elem {
		return errors.Errorf("access to %s through a %s buffer", elem, p.mem.elem)
	}
	return nil
}

func (p Pointer) load(elem lir.Type) (any, error) {
	if err := p.check(elem); err != nil {
		return nil, err
	}
	return p.mem.cells[p.offset], nil
}

func (p Pointer) store(elem lir.Type, value any) error {
	if err := p.check(elem); err != nil {
		return err
	}
	p.mem.cells[p.offset] = value
	return nil
}
