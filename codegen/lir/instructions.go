// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package lir

import (
	"fmt"
	"strings"

	"github.com/gomlx/convlower/types/xslices"
)

// Instruction is a non-terminator instruction of a Block.
type Instruction interface {
	// Result returns the temporary defined by the instruction, or nil if it defines none.
	Result() *Temp

	// Operands of the instruction, in order.
	Operands() []Value

	String() string
}

// Terminator is the last instruction of a Block: it transfers control to another block or returns.
type Terminator interface {
	// Successors returns the blocks control may transfer to.
	Successors() []*Block

	// Operands of the terminator, in order.
	Operands() []Value

	String() string
}

// BinOpKind enumerates the binary arithmetic operations.
type BinOpKind int

const (
	OpAdd BinOpKind = iota
	OpSub
	OpMul
	OpSDiv
	OpSRem
	OpAnd
	OpOr
	OpFAdd
	OpFSub
	OpFMul
	OpFDiv
)

var binOpNames = [...]string{"add", "sub", "mul", "sdiv", "srem", "and", "or", "fadd", "fsub", "fmul", "fdiv"}

// String implements fmt.Stringer.
func (op BinOpKind) String() string {
	if op < 0 || int(op) >= len(binOpNames) {
		return fmt.Sprintf("BinOpKind(%d)", int(op))
	}
	return binOpNames[op]
}

// IsFloat returns whether the operation works on f64 operands.
func (op BinOpKind) IsFloat() bool { return op >= OpFAdd }

// acceptsType returns whether the operation is defined for operands of the given type.
func (op BinOpKind) acceptsType(t Type) bool {
	switch {
	case op.IsFloat():
		return t == TypeF64
	case op == OpAnd || op == OpOr:
		return t == TypeI1 || t == TypeI64
	default:
		return t == TypeI64
	}
}

// Predicate of a comparison. Integer comparisons are signed, float comparisons are ordered.
type Predicate int

const (
	PredEQ Predicate = iota
	PredNE
	PredLT
	PredLE
	PredGT
	PredGE
)

var predicateNames = [...]string{"eq", "ne", "lt", "le", "gt", "ge"}

// String implements fmt.Stringer.
func (p Predicate) String() string {
	if p < 0 || int(p) >= len(predicateNames) {
		return fmt.Sprintf("Predicate(%d)", int(p))
	}
	return predicateNames[p]
}

// BinOp computes X <Op> Y. Both operands have the same type, which is also the type of the result.
type BinOp struct {
	result *Temp
	Op     BinOpKind
	X, Y   Value
}

func (i *BinOp) Result() *Temp     { return i.result }
func (i *BinOp) Operands() []Value { return []Value{i.X, i.Y} }
func (i *BinOp) String() string {
	return fmt.Sprintf("%s = %s %s %s, %s", i.result, i.Op, i.X.Type(), i.X, i.Y)
}

// Cmp compares X and Y, and yields an i1.
type Cmp struct {
	result *Temp
	Pred   Predicate
	X, Y   Value
}

func (i *Cmp) Result() *Temp     { return i.result }
func (i *Cmp) Operands() []Value { return []Value{i.X, i.Y} }
func (i *Cmp) String() string {
	prefix := "icmp s"
	if i.X.Type() == TypeF64 {
		prefix = "fcmp o"
	} else if i.Pred == PredEQ || i.Pred == PredNE {
		prefix = "icmp "
	}
	return fmt.Sprintf("%s = %s%s %s %s, %s", i.result, prefix, i.Pred, i.X.Type(), i.X, i.Y)
}

// Alloca reserves a stack slot for one element of type Elem, valid until the function returns.
type Alloca struct {
	result *Temp
	Elem   Type
	Name   string
}

func (i *Alloca) Result() *Temp     { return i.result }
func (i *Alloca) Operands() []Value { return nil }
func (i *Alloca) String() string {
	s := fmt.Sprintf("%s = alloca %s", i.result, i.Elem)
	if i.Name != "" {
		s += " ; " + i.Name
	}
	return s
}

// Alloc allocates a zero-initialized buffer of Count elements of type Elem.
type Alloc struct {
	result *Temp
	Elem   Type
	Count  Value
}

func (i *Alloc) Result() *Temp     { return i.result }
func (i *Alloc) Operands() []Value { return []Value{i.Count} }
func (i *Alloc) String() string {
	return fmt.Sprintf("%s = alloc %s, %s %s", i.result, i.Elem, i.Count.Type(), i.Count)
}

// Load reads an element of type Elem from Ptr.
type Load struct {
	result *Temp
	Elem   Type
	Ptr    Value
}

func (i *Load) Result() *Temp     { return i.result }
func (i *Load) Operands() []Value { return []Value{i.Ptr} }
func (i *Load) String() string {
	return fmt.Sprintf("%s = load %s, ptr %s", i.result, i.Elem, i.Ptr)
}

// Store writes Val to Ptr.
type Store struct {
	Val, Ptr Value
}

func (i *Store) Result() *Temp     { return nil }
func (i *Store) Operands() []Value { return []Value{i.Val, i.Ptr} }
func (i *Store) String() string {
	return fmt.Sprintf("store %s %s, ptr %s", i.Val.Type(), i.Val, i.Ptr)
}

// Offset returns Ptr advanced by Index elements.
type Offset struct {
	result *Temp
	Ptr    Value
	Index  Value
}

func (i *Offset) Result() *Temp     { return i.result }
func (i *Offset) Operands() []Value { return []Value{i.Ptr, i.Index} }
func (i *Offset) String() string {
	return fmt.Sprintf("%s = offset ptr %s, i64 %s", i.result, i.Ptr, i.Index)
}

// Call calls Callee with Args. Result is nil for functions returning void.
type Call struct {
	result *Temp
	Callee *Function
	Args   []Value
}

func (i *Call) Result() *Temp     { return i.result }
func (i *Call) Operands() []Value { return i.Args }
func (i *Call) String() string {
	args := xslices.Map(i.Args, func(v Value) string { return fmt.Sprintf("%s %s", v.Type(), v) })
	call := fmt.Sprintf("call %s @%s(%s)", i.Callee.Ret(), i.Callee.Name(), strings.Join(args, ", "))
	if i.result == nil {
		return call
	}
	return fmt.Sprintf("%s = %s", i.result, call)
}

// Ret returns from the function, with Val or with no value (Val == nil) for void functions.
type Ret struct {
	Val Value
}

func (t *Ret) Successors() []*Block { return nil }
func (t *Ret) Operands() []Value {
	if t.Val == nil {
		return nil
	}
	return []Value{t.Val}
}
func (t *Ret) String() string {
	if t.Val == nil {
		return "ret void"
	}
	return fmt.Sprintf("ret %s %s", t.Val.Type(), t.Val)
}

// LoopMetadata is attached to the back-edge branch of a loop, and constrains the transformations of the
// optimizer on it.
type LoopMetadata struct {
	Name             string
	DisableUnroll    bool
	DisableVectorize bool
}

// String implements fmt.Stringer.
func (md *LoopMetadata) String() string {
	parts := []string{fmt.Sprintf("name=%q", md.Name)}
	if md.DisableUnroll {
		parts = append(parts, "unroll.disable")
	}
	if md.DisableVectorize {
		parts = append(parts, "vectorize.disable")
	}
	return "!{" + strings.Join(parts, ", ") + "}"
}

// Br jumps unconditionally to Target. Loop is set on the back-edge of loops.
type Br struct {
	Target *Block
	Loop   *LoopMetadata
}

func (t *Br) Successors() []*Block { return []*Block{t.Target} }
func (t *Br) Operands() []Value    { return nil }
func (t *Br) String() string {
	s := "br label %" + t.Target.Name()
	if t.Loop != nil {
		s += ", !loop " + t.Loop.String()
	}
	return s
}

// CondBr jumps to True if Cond (an i1) is true, and to False otherwise.
type CondBr struct {
	Cond        Value
	True, False *Block
}

func (t *CondBr) Successors() []*Block { return []*Block{t.True, t.False} }
func (t *CondBr) Operands() []Value    { return []Value{t.Cond} }
func (t *CondBr) String() string {
	return fmt.Sprintf("br i1 %s, label %%%s, label %%%s", t.Cond, t.True.Name(), t.False.Name())
}
