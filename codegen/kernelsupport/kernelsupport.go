// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package kernelsupport emits structured control flow (counted loops and two-way branches) into a lir.Builder,
// and outlines kernels into separate functions shared by name (see EmitAndCallOutlinedKernel).
//
// All emitters work at the builder's insertion point, and leave it at the end of the emitted construct, so
// that code emitted next runs after it.
package kernelsupport

import (
	"github.com/gomlx/convlower/codegen/lir"
	"github.com/gomlx/exceptions"
)

// KernelSupportLibrary emits loops and branches with a lir.Builder.
type KernelSupportLibrary struct {
	b                    *lir.Builder
	preventUnrolling     bool
	preventVectorization bool
}

// Option configures a KernelSupportLibrary.
type Option func(k *KernelSupportLibrary)

// WithPreventUnrolling sets whether the emitted loops are marked as not to be unrolled. Default is true.
func WithPreventUnrolling(prevent bool) Option {
	return func(k *KernelSupportLibrary) {
		k.preventUnrolling = prevent
	}
}

// WithPreventVectorization sets whether the emitted loops are marked as not to be vectorized. Default is true.
func WithPreventVectorization(prevent bool) Option {
	return func(k *KernelSupportLibrary) {
		k.preventVectorization = prevent
	}
}

// New returns a KernelSupportLibrary emitting with b.
func New(b *lir.Builder, opts ...Option) *KernelSupportLibrary {
	k := &KernelSupportLibrary{
		b:                    b,
		preventUnrolling:     true,
		preventVectorization: true,
	}
	for _, opt := range opts {
		opt(k)
	}
	return k
}

// Builder returns the builder the library emits with.
func (k *KernelSupportLibrary) Builder() *lir.Builder { return k.b }

// For emits a loop "for (i = start; i < end; i += step) body(i)". Bounds are i64 values, and the comparison is
// signed.
//
// The loop runs forever unless step moves start towards end: that is not checked.
func (k *KernelSupportLibrary) For(name string, start, end, step lir.Value, body func(indVar lir.Value)) {
	k.emitLoop(name, start, end, step, body)
}

// ForInt is For with constant bounds.
func (k *KernelSupportLibrary) ForInt(name string, start, end, step int64, body func(indVar lir.Value)) {
	k.For(name, lir.ConstInt(start), lir.ConstInt(end), lir.ConstInt(step), body)
}

// ForWithStatus emits a loop like For, and also tells the body whether it is generating the first iteration.
//
// If peelFirstIteration is true, the first iteration is emitted separately from the loop, guarded by
// "if (start < end)": body is called twice at generation time, first with (start, true) and then with
// (i, false) for the loop over the remaining iterations, with isFirst an i1 constant both times. Use
// lir.IsConstBool to specialize the generated code.
//
// Otherwise, body is called once with isFirst an i1 computed at runtime as "i == start".
func (k *KernelSupportLibrary) ForWithStatus(name string, start, end, step lir.Value, peelFirstIteration bool,
	body func(indVar, isFirst lir.Value)) {
	b := k.b
	if !peelFirstIteration {
		k.emitLoop(name, start, end, step, func(indVar lir.Value) {
			body(indVar, b.Cmp(lir.PredEQ, indVar, start))
		})
		return
	}
	checkBounds(name, start, end, step)
	k.If(b.Cmp(lir.PredLT, start, end), func() {
		body(start, lir.ConstBool(true))
		k.emitLoop(name, b.Add(start, step), end, step, func(indVar lir.Value) {
			body(indVar, lir.ConstBool(false))
		})
	})
}

func checkBounds(name string, start, end, step lir.Value) {
	for _, v := range []lir.Value{start, end, step} {
		if v == nil || v.Type() != lir.TypeI64 {
			exceptions.Panicf("loop %q: bounds and step must be i64 values, got start=%v, end=%v, step=%v",
				name, start, end, step)
		}
	}
}

// emitLoop emits the loop with the induction variable in a stack slot:
//
//	preheader: slot = start; br header
//	header:    i = *slot; br (i < end) body, exit
//	body:      body(i); br latch
//	latch:     *slot = i + step; br header (with loop metadata)
//	exit:
func (k *KernelSupportLibrary) emitLoop(name string, start, end, step lir.Value, body func(indVar lir.Value)) {
	checkBounds(name, start, end, step)
	b := k.b
	slot := b.EntryAlloca(lir.TypeI64, name+".indvar")
	b.Store(start, slot)
	header := b.NewBlock(name + ".header")
	bodyBlock := b.NewBlock(name + ".body")
	latch := b.NewBlock(name + ".latch")
	exit := b.NewBlock(name + ".exit")
	b.Br(header)

	b.SetInsertPoint(header)
	indVar := b.Load(lir.TypeI64, slot)
	b.CondBr(b.Cmp(lir.PredLT, indVar, end), bodyBlock, exit)

	b.SetInsertPoint(bodyBlock)
	body(indVar)
	b.Br(latch)

	b.SetInsertPoint(latch)
	b.Store(b.Add(indVar, step), slot)
	b.BrLoop(header, lir.LoopMetadata{
		Name:             name,
		DisableUnroll:    k.preventUnrolling,
		DisableVectorize: k.preventVectorization,
	})
	b.SetInsertPoint(exit)
}

// If emits a two-way branch on cond (an i1): trueBody is generated in the arm taken when cond is true, and the
// optional falseBody in the other. Both arms continue at a common merge block, where the insertion point is
// left. Without falseBody the false arm jumps straight to the merge block.
func (k *KernelSupportLibrary) If(cond lir.Value, trueBody func(), falseBody ...func()) {
	if len(falseBody) > 1 {
		exceptions.Panicf("If: at most one falseBody can be given, got %d", len(falseBody))
	}
	b := k.b
	trueBlock := b.NewBlock("if.true")
	var falseBlock *lir.Block
	if len(falseBody) > 0 {
		falseBlock = b.NewBlock("if.false")
	}
	merge := b.NewBlock("if.merge")
	if falseBlock != nil {
		b.CondBr(cond, trueBlock, falseBlock)
	} else {
		b.CondBr(cond, trueBlock, merge)
	}

	emitArm := func(block *lir.Block, body func()) {
		b.SetInsertPoint(block)
		body()
		if !b.InsertBlock().IsTerminated() {
			b.Br(merge)
		}
	}
	emitArm(trueBlock, trueBody)
	if falseBlock != nil {
		emitArm(falseBlock, falseBody[0])
	}
	b.SetInsertPoint(merge)
}
