// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package lir

import (
	"github.com/gomlx/exceptions"
)

// Builder emits instructions at an insertion point: the end of an open (not yet terminated) block.
//
// A Builder is not safe for concurrent use, but many builders can emit into different functions of the same
// Module concurrently.
//
// Like graph building, the Builder panics with exceptions.Panicf on misuse (no insertion point, emitting into a
// terminated block, operands of the wrong type or from another function).
type Builder struct {
	module *Module
	block  *Block
}

// NewBuilder returns a Builder for the module, without an insertion point.
func NewBuilder(module *Module) *Builder {
	return &Builder{module: module}
}

// Module the builder emits into.
func (b *Builder) Module() *Module { return b.module }

// SetInsertPoint moves the insertion point to the end of the block.
func (b *Builder) SetInsertPoint(block *Block) {
	if block == nil {
		b.block = nil
		return
	}
	if block.fn.module != b.module {
		exceptions.Panicf("block %%%s of @%s belongs to module %q, not to the builder's module %q",
			block.name, block.fn.name, block.fn.module.name, b.module.name)
	}
	b.block = block
}

// InsertBlock returns the block at the insertion point, or nil if there is none.
func (b *Builder) InsertBlock() *Block { return b.block }

// Function returns the function at the insertion point, or nil if there is none.
func (b *Builder) Function() *Function {
	if b.block == nil {
		return nil
	}
	return b.block.fn
}

// NewBlock appends a new block to the function at the insertion point. The insertion point is not changed.
func (b *Builder) NewBlock(name string) *Block {
	return b.current("NewBlock").fn.NewBlock(name)
}

// current returns the insertion block, and panics if it can't take more instructions.
func (b *Builder) current(method string) *Block {
	if b.block == nil {
		exceptions.Panicf("Builder.%s: no insertion point set", method)
	}
	if b.block.terminator != nil {
		exceptions.Panicf("Builder.%s: block %%%s of @%s is already terminated", method, b.block.name, b.block.fn.name)
	}
	return b.block
}

// checkOperands panics if any of the values is nil or belongs to a function other than fn.
func checkOperands(method string, fn *Function, values ...Value) {
	for ii, v := range values {
		switch v := v.(type) {
		case nil:
			exceptions.Panicf("Builder.%s: operand #%d is nil", method, ii)
		case *Temp:
			if v.fn != fn {
				exceptions.Panicf("Builder.%s: operand #%d (%s) is defined in @%s, not in @%s", method, ii, v, v.fn.name, fn.name)
			}
		case *Param:
			if v.fn != fn {
				exceptions.Panicf("Builder.%s: operand #%d (%s) is a parameter of @%s, not of @%s", method, ii, v, v.fn.name, fn.name)
			}
		}
	}
}

func checkType(method, what string, v Value, t Type) {
	if v.Type() != t {
		exceptions.Panicf("Builder.%s: %s %s must be of type %s, got %s", method, what, v, t, v.Type())
	}
}

func (b *Builder) emit(method string, instr Instruction, operands ...Value) {
	block := b.current(method)
	checkOperands(method, block.fn, operands...)
	block.instructions = append(block.instructions, instr)
}

func (b *Builder) terminate(method string, term Terminator, operands ...Value) {
	block := b.current(method)
	checkOperands(method, block.fn, operands...)
	for _, successor := range term.Successors() {
		if successor == nil || successor.fn != block.fn {
			exceptions.Panicf("Builder.%s: branch from %%%s to a block not in @%s", method, block.name, block.fn.name)
		}
	}
	block.terminator = term
}

// BinOp emits x <op> y.
func (b *Builder) BinOp(op BinOpKind, x, y Value) *Temp {
	block := b.current("BinOp")
	checkOperands("BinOp", block.fn, x, y)
	if x.Type() != y.Type() || !op.acceptsType(x.Type()) {
		exceptions.Panicf("Builder.BinOp: %s not defined for operands %s %s and %s %s", op, x.Type(), x, y.Type(), y)
	}
	instr := &BinOp{result: block.fn.newTemp(x.Type(), ""), Op: op, X: x, Y: y}
	b.emit("BinOp", instr)
	return instr.result
}

// Add emits x + y, for i64 operands.
func (b *Builder) Add(x, y Value) *Temp { return b.BinOp(OpAdd, x, y) }

// Sub emits x - y, for i64 operands.
func (b *Builder) Sub(x, y Value) *Temp { return b.BinOp(OpSub, x, y) }

// Mul emits x * y, for i64 operands.
func (b *Builder) Mul(x, y Value) *Temp { return b.BinOp(OpMul, x, y) }

// SDiv emits the signed division x / y, for i64 operands, rounding towards zero.
func (b *Builder) SDiv(x, y Value) *Temp { return b.BinOp(OpSDiv, x, y) }

// SRem emits the remainder of the signed division x / y, for i64 operands.
func (b *Builder) SRem(x, y Value) *Temp { return b.BinOp(OpSRem, x, y) }

// And emits x & y, for i1 or i64 operands.
func (b *Builder) And(x, y Value) *Temp { return b.BinOp(OpAnd, x, y) }

// FAdd emits x + y, for f64 operands.
func (b *Builder) FAdd(x, y Value) *Temp { return b.BinOp(OpFAdd, x, y) }

// FMul emits x * y, for f64 operands.
func (b *Builder) FMul(x, y Value) *Temp { return b.BinOp(OpFMul, x, y) }

// Cmp emits the comparison of x and y, both of the same type, yielding an i1.
func (b *Builder) Cmp(pred Predicate, x, y Value) *Temp {
	block := b.current("Cmp")
	checkOperands("Cmp", block.fn, x, y)
	if x.Type() != y.Type() || x.Type() == TypeVoid || x.Type() == TypePtr {
		exceptions.Panicf("Builder.Cmp: can't compare %s %s with %s %s", x.Type(), x, y.Type(), y)
	}
	if x.Type() == TypeI1 && pred != PredEQ && pred != PredNE {
		exceptions.Panicf("Builder.Cmp: predicate %s not defined for i1", pred)
	}
	instr := &Cmp{result: block.fn.newTemp(TypeI1, ""), Pred: pred, X: x, Y: y}
	b.emit("Cmp", instr)
	return instr.result
}

// EntryAlloca emits a stack slot for one element of type elem at the start of the entry block of the current
// function, so it is allocated once per call even when requested inside a loop.
func (b *Builder) EntryAlloca(elem Type, name string) *Temp {
	block := b.current("EntryAlloca")
	if elem == TypeVoid {
		exceptions.Panicf("Builder.EntryAlloca: can't allocate void")
	}
	fn := block.fn
	instr := &Alloca{result: fn.newTemp(TypePtr, name), Elem: elem, Name: name}
	fn.entry.instructions = append([]Instruction{instr}, fn.entry.instructions...)
	return instr.result
}

// Alloc emits the allocation of a zero-initialized buffer of count (i64) elements of type elem.
func (b *Builder) Alloc(elem Type, count Value) *Temp {
	block := b.current("Alloc")
	checkOperands("Alloc", block.fn, count)
	checkType("Alloc", "count", count, TypeI64)
	if elem == TypeVoid {
		exceptions.Panicf("Builder.Alloc: can't allocate void")
	}
	instr := &Alloc{result: block.fn.newTemp(TypePtr, ""), Elem: elem, Count: count}
	b.emit("Alloc", instr)
	return instr.result
}

// Load emits a read of an element of type elem from ptr.
func (b *Builder) Load(elem Type, ptr Value) *Temp {
	block := b.current("Load")
	checkOperands("Load", block.fn, ptr)
	checkType("Load", "pointer", ptr, TypePtr)
	if elem == TypeVoid {
		exceptions.Panicf("Builder.Load: can't load void")
	}
	instr := &Load{result: block.fn.newTemp(elem, ""), Elem: elem, Ptr: ptr}
	b.emit("Load", instr)
	return instr.result
}

// Store emits a write of value to ptr.
func (b *Builder) Store(value, ptr Value) {
	block := b.current("Store")
	checkOperands("Store", block.fn, value, ptr)
	checkType("Store", "pointer", ptr, TypePtr)
	if value.Type() == TypeVoid {
		exceptions.Panicf("Builder.Store: can't store void")
	}
	b.emit("Store", &Store{Val: value, Ptr: ptr})
}

// Offset emits ptr advanced by index (i64) elements.
func (b *Builder) Offset(ptr, index Value) *Temp {
	block := b.current("Offset")
	checkOperands("Offset", block.fn, ptr, index)
	checkType("Offset", "pointer", ptr, TypePtr)
	checkType("Offset", "index", index, TypeI64)
	instr := &Offset{result: block.fn.newTemp(TypePtr, ""), Ptr: ptr, Index: index}
	b.emit("Offset", instr)
	return instr.result
}

// Call emits a call to callee, which must belong to the same module. It returns the result,
// or nil if the callee returns void.
func (b *Builder) Call(callee *Function, args ...Value) *Temp {
	block := b.current("Call")
	checkOperands("Call", block.fn, args...)
	if callee.module != b.module {
		exceptions.Panicf("Builder.Call: @%s belongs to module %q, not %q", callee.name, callee.module.name, b.module.name)
	}
	if len(args) != len(callee.params) {
		exceptions.Panicf("Builder.Call: @%s%s called with %d arguments", callee.name, callee.signature(), len(args))
	}
	for ii, arg := range args {
		if arg.Type() != callee.params[ii].typ {
			exceptions.Panicf("Builder.Call: @%s%s argument #%d (%s) has type %s",
				callee.name, callee.signature(), ii, arg, arg.Type())
		}
	}
	instr := &Call{Callee: callee, Args: args}
	if callee.ret != TypeVoid {
		instr.result = block.fn.newTemp(callee.ret, "")
	}
	b.emit("Call", instr)
	return instr.result
}

// Ret terminates the block returning value, or nothing if value is nil.
func (b *Builder) Ret(value Value) {
	block := b.current("Ret")
	want := block.fn.ret
	switch {
	case value == nil && want != TypeVoid:
		exceptions.Panicf("Builder.Ret: @%s must return a %s", block.fn.name, want)
	case value != nil && value.Type() != want:
		exceptions.Panicf("Builder.Ret: @%s returns %s, got %s %s", block.fn.name, want, value.Type(), value)
	}
	if value == nil {
		b.terminate("Ret", &Ret{})
		return
	}
	b.terminate("Ret", &Ret{Val: value}, value)
}

// RetVoid terminates the block returning from a void function.
func (b *Builder) RetVoid() { b.Ret(nil) }

// Br terminates the block with a jump to target.
func (b *Builder) Br(target *Block) {
	b.terminate("Br", &Br{Target: target})
}

// BrLoop terminates the block with the back-edge jump of a loop to target, annotated with the loop metadata.
func (b *Builder) BrLoop(target *Block, metadata LoopMetadata) {
	b.terminate("BrLoop", &Br{Target: target, Loop: &metadata})
}

// CondBr terminates the block with a jump to onTrue if cond (an i1) is true, or to onFalse otherwise.
func (b *Builder) CondBr(cond Value, onTrue, onFalse *Block) {
	block := b.current("CondBr")
	checkOperands("CondBr", block.fn, cond)
	checkType("CondBr", "condition", cond, TypeI1)
	b.terminate("CondBr", &CondBr{Cond: cond, True: onTrue, False: onFalse}, cond)
}
