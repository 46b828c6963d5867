// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package lir

import (
	"fmt"
	"sync"
	"testing"

	"github.com/gomlx/exceptions"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildSum defines @sum(ptr %arg0, i64 %arg1) f64, which adds the first %arg1 elements of the buffer.
func buildSum(t *testing.T, m *Module) *Function {
	fn, err := m.DefineFunction("sum", TypeF64, TypePtr, TypeI64)
	require.NoError(t, err)
	b := NewBuilder(m)
	b.SetInsertPoint(fn.Entry())
	acc := b.EntryAlloca(TypeF64, "acc")
	idx := b.EntryAlloca(TypeI64, "i")
	b.Store(ConstFloat(0), acc)
	b.Store(ConstInt(0), idx)
	header, body, exit := b.NewBlock("header"), b.NewBlock("body"), b.NewBlock("exit")
	b.Br(header)

	b.SetInsertPoint(header)
	i := b.Load(TypeI64, idx)
	b.CondBr(b.Cmp(PredLT, i, fn.Param(1)), body, exit)

	b.SetInsertPoint(body)
	value := b.Load(TypeF64, b.Offset(fn.Param(0), i))
	b.Store(b.FAdd(b.Load(TypeF64, acc), value), acc)
	b.Store(b.Add(i, ConstInt(1)), idx)
	b.BrLoop(header, LoopMetadata{Name: "sum", DisableUnroll: true})

	b.SetInsertPoint(exit)
	b.Ret(b.Load(TypeF64, acc))
	return fn
}

func TestFormat(t *testing.T) {
	m := NewModule("test")
	fn := buildSum(t, m)
	fn.Attributes.FastMath = true
	_, err := m.DeclareExternal("log", TypeVoid, TypeF64)
	require.NoError(t, err)
	require.NoError(t, m.Verify())
	want := `; module test

declare void @log(f64)

define f64 @sum(ptr %arg0, i64 %arg1) fastmath {
entry:
  %i.1 = alloca i64 ; i
  %acc.0 = alloca f64 ; acc
  store f64 0, ptr %acc.0
  store i64 0, ptr %i.1
  br label %header
header:
  %2 = load i64, ptr %i.1
  %3 = icmp slt i64 %2, %arg1
  br i1 %3, label %body, label %exit
body:
  %4 = offset ptr %arg0, i64 %2
  %5 = load f64, ptr %4
  %6 = load f64, ptr %acc.0
  %7 = fadd f64 %6, %5
  store f64 %7, ptr %acc.0
  %8 = add i64 %2, 1
  store i64 %8, ptr %i.1
  br label %header, !loop !{name="sum", unroll.disable}
exit:
  %9 = load f64, ptr %acc.0
  ret f64 %9
}
`
	assert.Equal(t, want, m.Format())
}

func TestFunctionTable(t *testing.T) {
	m := NewModule("table")
	for _, name := range []string{"c", "a", "b"} {
		_, err := m.DefineFunction(name, TypeVoid)
		require.NoError(t, err)
	}
	names := make([]string, 0, 3)
	for _, fn := range m.Functions() {
		names = append(names, fn.Name())
	}
	assert.Equal(t, []string{"a", "b", "c"}, names)

	_, err := m.DefineFunction("b", TypeVoid)
	require.Error(t, err)
	fn, defined := m.GetOrDefineFunction("b", TypeI64)
	assert.False(t, defined)
	assert.Same(t, m.LookupFunction("b"), fn)
	assert.Nil(t, m.LookupFunction("d"))

	ext, err := m.DeclareExternal("ext", TypeF64, TypeF64)
	require.NoError(t, err)
	ext2, err := m.DeclareExternal("ext", TypeF64, TypeF64)
	require.NoError(t, err)
	assert.Same(t, ext, ext2)
	_, err = m.DeclareExternal("ext", TypeI64)
	require.Error(t, err)
	_, err = m.DeclareExternal("a", TypeVoid)
	require.Error(t, err)
	assert.Equal(t, 4, m.NumFunctions())
}

func TestGetOrDefineFunctionConcurrently(t *testing.T) {
	m := NewModule("concurrent")
	const numGoroutines = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	var numDefined int
	for ii := range numGoroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, defined := m.GetOrDefineFunction(fmt.Sprintf("kernel_%d", ii%4), TypeVoid)
			if defined {
				mu.Lock()
				numDefined++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 4, numDefined)
	assert.Equal(t, 4, m.NumFunctions())
}

func TestBlockNames(t *testing.T) {
	m := NewModule("names")
	fn, err := m.DefineFunction("f", TypeVoid)
	require.NoError(t, err)
	assert.Equal(t, "loop", fn.NewBlock("loop").Name())
	assert.Equal(t, "loop.1", fn.NewBlock("loop").Name())
	assert.Equal(t, "bb", fn.NewBlock("").Name())

	// Names that look like generated ones don't collide with them.
	assert.Equal(t, "loop.1.1", fn.NewBlock("loop.1").Name())
	assert.Equal(t, "a.2", fn.NewBlock("a.2").Name())
	assert.Equal(t, "a", fn.NewBlock("a").Name())
	assert.Equal(t, "a.1", fn.NewBlock("a").Name())
	assert.Equal(t, "a.3", fn.NewBlock("a").Name())
	names := make(map[string]bool)
	for _, block := range fn.Blocks() {
		assert.False(t, names[block.Name()], "duplicate block name %q", block.Name())
		names[block.Name()] = true
	}
}

func TestRemoveFunction(t *testing.T) {
	m := NewModule("remove")
	f, err := m.DefineFunction("f", TypeVoid)
	require.NoError(t, err)
	assert.True(t, m.RemoveFunction(f))
	assert.Nil(t, m.LookupFunction("f"))
	assert.False(t, m.RemoveFunction(f))

	// Only the function in the table is removed, not a different one with the same name.
	f2, err := m.DefineFunction("f", TypeVoid)
	require.NoError(t, err)
	assert.False(t, m.RemoveFunction(f))
	assert.Same(t, f2, m.LookupFunction("f"))
}

func TestBuilderMisuse(t *testing.T) {
	m := NewModule("misuse")
	f, err := m.DefineFunction("f", TypeI64, TypeI64)
	require.NoError(t, err)
	g, err := m.DefineFunction("g", TypeVoid, TypeF64)
	require.NoError(t, err)

	testCases := []struct {
		name  string
		build func(b *Builder)
		want  string
	}{
		{"no insertion point", func(b *Builder) { b.Add(ConstInt(1), ConstInt(2)) }, "no insertion point"},
		{"type mismatch", func(b *Builder) {
			b.SetInsertPoint(f.Entry())
			b.Add(ConstInt(1), ConstFloat(2))
		}, "not defined for operands"},
		{"float op on ints", func(b *Builder) {
			b.SetInsertPoint(f.Entry())
			b.FAdd(ConstInt(1), ConstInt(2))
		}, "not defined for operands"},
		{"foreign parameter", func(b *Builder) {
			b.SetInsertPoint(f.Entry())
			b.FAdd(g.Param(0), ConstFloat(2))
		}, "is a parameter of @g"},
		{"terminated block", func(b *Builder) {
			b.SetInsertPoint(f.Entry())
			b.Ret(f.Param(0))
			b.Ret(f.Param(0))
		}, "already terminated"},
		{"wrong return type", func(b *Builder) {
			b.SetInsertPoint(g.Entry())
			b.Ret(ConstInt(0))
		}, "returns void"},
		{"call arity", func(b *Builder) {
			b.SetInsertPoint(g.Entry())
			b.Call(f)
		}, "called with 0 arguments"},
		{"call argument type", func(b *Builder) {
			b.SetInsertPoint(g.Entry())
			b.Call(f, g.Param(0))
		}, "argument #0"},
		{"condition type", func(b *Builder) {
			b.SetInsertPoint(g.Entry())
			b.CondBr(ConstInt(1), g.Entry(), g.Entry())
		}, "must be of type i1"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := exceptions.TryCatch[error](func() { tc.build(NewBuilder(m)) })
			require.Error(t, err)
			assert.ErrorContains(t, err, tc.want)
		})
	}
}

func TestVerify(t *testing.T) {
	m := NewModule("verify")
	fn, err := m.DefineFunction("f", TypeVoid)
	require.NoError(t, err)
	b := NewBuilder(m)
	b.SetInsertPoint(fn.Entry())
	next := b.NewBlock("next")
	b.Br(next)
	err = m.Verify()
	require.Error(t, err)
	assert.ErrorContains(t, err, "block %next is not terminated")
	assert.ErrorContains(t, err, "in @f")

	b.SetInsertPoint(next)
	b.RetVoid()
	require.NoError(t, m.Verify())
}

func TestConstants(t *testing.T) {
	assert.Equal(t, "true", ConstBool(true).String())
	assert.Equal(t, "-3", ConstInt(-3).String())
	assert.Equal(t, "0.5", ConstFloat(0.5).String())
	assert.Equal(t, "null", ConstNull().String())
	assert.True(t, IsConstBool(ConstBool(false), false))
	assert.False(t, IsConstBool(ConstBool(false), true))
	assert.False(t, IsConstBool(ConstInt(1), true))
}
