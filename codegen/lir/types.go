// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package lir

import (
	"fmt"
	"strconv"
)

// Type of a value in the IR.
type Type int

const (
	TypeVoid Type = iota
	TypeI1
	TypeI64
	TypeF64
	TypePtr
)

var typeNames = [...]string{"void", "i1", "i64", "f64", "ptr"}

// String implements fmt.Stringer.
func (t Type) String() string {
	if t < 0 || int(t) >= len(typeNames) {
		return fmt.Sprintf("Type(%d)", int(t))
	}
	return typeNames[t]
}

// Value is an operand of an instruction: a constant, the result of an instruction (Temp) or a function parameter.
type Value interface {
	// Type of the value.
	Type() Type

	// String returns the value as it is printed as an operand.
	String() string
}

// Const is a constant value.
type Const struct {
	typ   Type
	int   int64
	float float64
}

var _ Value = (*Const)(nil)

// ConstInt returns an i64 constant.
func ConstInt(v int64) *Const { return &Const{typ: TypeI64, int: v} }

// ConstBool returns an i1 constant.
func ConstBool(v bool) *Const {
	c := &Const{typ: TypeI1}
	if v {
		c.int = 1
	}
	return c
}

// ConstFloat returns an f64 constant.
func ConstFloat(v float64) *Const { return &Const{typ: TypeF64, float: v} }

// ConstNull returns the null pointer.
func ConstNull() *Const { return &Const{typ: TypePtr} }

// Type implements Value.
func (c *Const) Type() Type { return c.typ }

// Int returns the value of an i64 or i1 constant.
func (c *Const) Int() int64 { return c.int }

// Bool returns the value of an i1 constant.
func (c *Const) Bool() bool { return c.int != 0 }

// Float returns the value of an f64 constant.
func (c *Const) Float() float64 { return c.float }

// String implements Value.
func (c *Const) String() string {
	switch c.typ {
	case TypeI1:
		return strconv.FormatBool(c.Bool())
	case TypeI64:
		return strconv.FormatInt(c.int, 10)
	case TypeF64:
		return strconv.FormatFloat(c.float, 'g', -1, 64)
	case TypePtr:
		return "null"
	default:
		return "undef"
	}
}

// IsConstBool returns whether v is an i1 constant with the given value.
// Emitters use it to specialize code at generation time.
func IsConstBool(v Value, value bool) bool {
	c, ok := v.(*Const)
	return ok && c.typ == TypeI1 && c.Bool() == value
}

// Temp is the result of an instruction, assigned once.
type Temp struct {
	fn   *Function
	id   int
	typ  Type
	name string
}

var _ Value = (*Temp)(nil)

// Type implements Value.
func (t *Temp) Type() Type { return t.typ }

// Id of the temporary, unique within its function.
func (t *Temp) Id() int { return t.id }

// Function where the temporary is defined.
func (t *Temp) Function() *Function { return t.fn }

// String implements Value.
func (t *Temp) String() string {
	if t.name != "" {
		return fmt.Sprintf("%%%s.%d", t.name, t.id)
	}
	return fmt.Sprintf("%%%d", t.id)
}

// Param is a function parameter.
type Param struct {
	fn    *Function
	index int
	typ   Type
}

var _ Value = (*Param)(nil)

// Type implements Value.
func (p *Param) Type() Type { return p.typ }

// Index of the parameter in the function signature.
func (p *Param) Index() int { return p.index }

// Function the parameter belongs to.
func (p *Param) Function() *Function { return p.fn }

// String implements Value.
func (p *Param) String() string { return fmt.Sprintf("%%arg%d", p.index) }
