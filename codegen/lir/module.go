// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package lir is a small low-level target IR: a Module of Functions made of basic Blocks of instructions on
// i1/i64/f64 scalars and pointers to memory, in SSA form (Temps are assigned once, mutable state lives in
// memory).
//
// It is the target of the structured emitters in package kernelsupport, and of the lowering of computation
// graphs in package convemit. Package interp executes it.
//
// Instructions are emitted with a Builder, which keeps an explicit insertion point. Like graph building, the
// Builder panics (see github.com/gomlx/exceptions) on misuse. Module.Verify checks the structural invariants
// of a finished module and returns an error.
//
// The function table of a Module is safe for concurrent use: builders on different functions of the same
// module can emit concurrently, and GetOrDefineFunction is atomic.
package lir

import (
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/gomlx/convlower/types/xslices"
	"github.com/gomlx/exceptions"
	"github.com/google/btree"
	"github.com/pkg/errors"
)

// Module is a collection of functions, indexed by name.
type Module struct {
	name string

	mu        sync.Mutex
	functions *btree.BTreeG[*Function]
}

func lessFunction(a, b *Function) bool { return a.name < b.name }

// NewModule creates an empty module.
func NewModule(name string) *Module {
	return &Module{
		name:      name,
		functions: btree.NewG(8, lessFunction),
	}
}

// Name of the module.
func (m *Module) Name() string { return m.name }

// LookupFunction returns the function with the given name, or nil if there is none.
func (m *Module) LookupFunction(name string) *Function {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lookupLocked(name)
}

func (m *Module) lookupLocked(name string) *Function {
	fn, found := m.functions.Get(&Function{name: name})
	if !found {
		return nil
	}
	return fn
}

// newFunction creates a function without inserting it in the table.
func (m *Module) newFunction(name string, ret Type, paramTypes []Type, external bool) *Function {
	fn := &Function{
		module:   m,
		name:     name,
		ret:      ret,
		external: external,
	}
	fn.params = make([]*Param, len(paramTypes))
	for ii, t := range paramTypes {
		fn.params[ii] = &Param{fn: fn, index: ii, typ: t}
	}
	if !external {
		fn.entry = fn.NewBlock("entry")
	}
	return fn
}

// DefineFunction creates a new function with an empty "entry" block.
// It returns an error if a function with the same name already exists.
func (m *Module) DefineFunction(name string, ret Type, paramTypes ...Type) (*Function, error) {
	fn, defined := m.GetOrDefineFunction(name, ret, paramTypes...)
	if !defined {
		return nil, errors.Errorf("function @%s already defined in module %q", name, m.name)
	}
	return fn, nil
}

// GetOrDefineFunction returns the function with the given name if it exists (defined is false), or creates it
// with the given signature and an empty "entry" block (defined is true).
//
// Lookup and insertion happen atomically: if many goroutines call it with the same name, exactly one gets
// defined == true. The signature of an existing function is not checked.
func (m *Module) GetOrDefineFunction(name string, ret Type, paramTypes ...Type) (fn *Function, defined bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if fn = m.lookupLocked(name); fn != nil {
		return fn, false
	}
	fn = m.newFunction(name, ret, paramTypes, false)
	m.functions.ReplaceOrInsert(fn)
	return fn, true
}

// DeclareExternal declares a function provided by the environment (see interp.WithExternal).
// If it is already declared with the same signature, the existing declaration is returned.
func (m *Module) DeclareExternal(name string, ret Type, paramTypes ...Type) (*Function, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if fn := m.lookupLocked(name); fn != nil {
		if !fn.external || !fn.HasSignature(ret, paramTypes...) {
			return nil, errors.Errorf("can't declare external @%s%s: already defined as @%s%s",
				name, signatureString(ret, paramTypes), name, fn.signature())
		}
		return fn, nil
	}
	fn := m.newFunction(name, ret, paramTypes, true)
	m.functions.ReplaceOrInsert(fn)
	return fn, nil
}

// RemoveFunction removes fn from the module. It returns false if fn is not in the module.
func (m *Module) RemoveFunction(fn *Function) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if fn == nil || m.lookupLocked(fn.name) != fn {
		return false
	}
	m.functions.Delete(fn)
	return true
}

// Functions returns the functions of the module sorted by name.
func (m *Module) Functions() []*Function {
	m.mu.Lock()
	defer m.mu.Unlock()
	functions := make([]*Function, 0, m.functions.Len())
	m.functions.Ascend(func(fn *Function) bool {
		functions = append(functions, fn)
		return true
	})
	return functions
}

// NumFunctions returns the number of functions (defined and external) in the module.
func (m *Module) NumFunctions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.functions.Len()
}

// FunctionAttributes are optimization hints attached to a function.
type FunctionAttributes struct {
	FastMath        bool
	OptimizeForSize bool
}

// String implements fmt.Stringer.
func (a FunctionAttributes) String() string {
	var parts []string
	if a.FastMath {
		parts = append(parts, "fastmath")
	}
	if a.OptimizeForSize {
		parts = append(parts, "optsize")
	}
	return strings.Join(parts, " ")
}

// Function is a function of a Module: a signature, and for non-external functions, a list of blocks,
// the first one being the entry block.
type Function struct {
	module   *Module
	name     string
	ret      Type
	params   []*Param
	external bool

	Attributes FunctionAttributes

	entry      *Block
	blocks     []*Block
	blockNames map[string]int
	nextTemp   int
}

// Module the function belongs to.
func (fn *Function) Module() *Module { return fn.module }

// Name of the function.
func (fn *Function) Name() string { return fn.name }

// Ret returns the return type.
func (fn *Function) Ret() Type { return fn.ret }

// Params returns the function parameters.
func (fn *Function) Params() []*Param { return slices.Clone(fn.params) }

// Param returns the i-th parameter.
func (fn *Function) Param(i int) *Param { return fn.params[i] }

// NumParams returns the number of parameters.
func (fn *Function) NumParams() int { return len(fn.params) }

// ParamTypes returns the types of the parameters.
func (fn *Function) ParamTypes() []Type {
	return xslices.Map(fn.params, func(p *Param) Type { return p.typ })
}

// IsExternal returns whether the function is provided by the environment, and has no body.
func (fn *Function) IsExternal() bool { return fn.external }

// HasSignature returns whether the function has the given return and parameter types.
func (fn *Function) HasSignature(ret Type, paramTypes ...Type) bool {
	return fn.ret == ret && slices.Equal(fn.ParamTypes(), paramTypes)
}

func signatureString(ret Type, paramTypes []Type) string {
	return fmt.Sprintf("(%s) %s", strings.Join(xslices.Map(paramTypes, Type.String), ", "), ret)
}

func (fn *Function) signature() string { return signatureString(fn.ret, fn.ParamTypes()) }

// Entry returns the entry block, nil for external functions.
func (fn *Function) Entry() *Block { return fn.entry }

// Blocks returns the blocks of the function, in creation order.
func (fn *Function) Blocks() []*Block { return slices.Clone(fn.blocks) }

// NewBlock appends a new empty block to the function.
// If the name is already used in the function, the first numeric suffix that makes it unique is appended to it.
func (fn *Function) NewBlock(name string) *Block {
	if fn.external {
		exceptions.Panicf("can't add blocks to external function @%s", fn.name)
	}
	if name == "" {
		name = "bb"
	}
	if fn.blockNames == nil {
		fn.blockNames = make(map[string]int)
	}
	// blockNames maps every name in use to the next suffix to try for it.
	uniqueName := name
	if next, used := fn.blockNames[name]; used {
		for suffix := next; ; suffix++ {
			candidate := fmt.Sprintf("%s.%d", name, suffix)
			if _, used := fn.blockNames[candidate]; !used {
				uniqueName = candidate
				fn.blockNames[name] = suffix + 1
				break
			}
		}
	}
	fn.blockNames[uniqueName] = 1
	b := &Block{fn: fn, name: uniqueName}
	fn.blocks = append(fn.blocks, b)
	return b
}

func (fn *Function) newTemp(t Type, name string) *Temp {
	temp := &Temp{fn: fn, id: fn.nextTemp, typ: t, name: name}
	fn.nextTemp++
	return temp
}

// NumTemps returns the number of temporaries defined in the function: their ids are in [0, NumTemps).
func (fn *Function) NumTemps() int { return fn.nextTemp }

// Block is a basic block: a sequence of instructions ending with a Terminator.
type Block struct {
	fn           *Function
	name         string
	instructions []Instruction
	terminator   Terminator
}

// Name of the block, unique within its function.
func (b *Block) Name() string { return b.name }

// Function the block belongs to.
func (b *Block) Function() *Function { return b.fn }

// Instructions of the block, excluding the terminator.
func (b *Block) Instructions() []Instruction { return slices.Clone(b.instructions) }

// NumInstructions returns the number of instructions of the block, excluding the terminator.
func (b *Block) NumInstructions() int { return len(b.instructions) }

// Instruction returns the i-th instruction of the block.
func (b *Block) Instruction(i int) Instruction { return b.instructions[i] }

// Terminator of the block, nil if the block is still open.
func (b *Block) Terminator() Terminator { return b.terminator }

// IsTerminated returns whether the block already has a terminator.
func (b *Block) IsTerminated() bool { return b.terminator != nil }
