// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package interp executes functions of a lir.Module.
//
// Values are represented as Go values: i1 as bool, i64 as int64, f64 as float64 and pointers as Pointer.
// Memory is bounds- and type-checked, and any violation is returned as an error.
//
// An Interpreter is not safe for concurrent use.
package interp

import (
	"math"

	"github.com/gomlx/convlower/codegen/lir"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// External implements a function declared with lir.Module.DeclareExternal.
type External func(args []any) (any, error)

// DefaultMaxSteps is the default limit on the number of instructions executed by one call to Interpreter.Call.
const DefaultMaxSteps = 100_000_000

// maxCallDepth limits recursion.
const maxCallDepth = 1000

// Interpreter of a lir.Module.
type Interpreter struct {
	module    *lir.Module
	externals map[string]External
	maxSteps  int64

	steps int64
	calls map[string]int
}

// Option configures an Interpreter.
type Option func(it *Interpreter)

// WithExternal provides the implementation of an external function.
func WithExternal(name string, fn External) Option {
	return func(it *Interpreter) {
		it.externals[name] = fn
	}
}

// WithMaxSteps limits the number of instructions executed by one call to Call. Use it to catch loops that
// never terminate.
func WithMaxSteps(steps int64) Option {
	return func(it *Interpreter) {
		it.maxSteps = steps
	}
}

// New creates an interpreter for the module.
func New(module *lir.Module, opts ...Option) *Interpreter {
	it := &Interpreter{
		module:    module,
		externals: make(map[string]External),
		maxSteps:  DefaultMaxSteps,
		calls:     make(map[string]int),
	}
	for _, opt := range opts {
		opt(it)
	}
	return it
}

// CallCount returns how many times the function was called, including calls from other functions,
// since the interpreter was created.
func (it *Interpreter) CallCount(name string) int { return it.calls[name] }

// Steps returns the number of instructions executed by the last call to Call.
func (it *Interpreter) Steps() int64 { return it.steps }

// Call executes the named function with the given arguments, and returns its result (nil for void functions).
// Arguments of type int are accepted for i64 parameters.
func (it *Interpreter) Call(name string, args ...any) (any, error) {
	fn := it.module.LookupFunction(name)
	if fn == nil {
		return nil, errors.Errorf("function @%s not found in module %q", name, it.module.Name())
	}
	if len(args) != fn.NumParams() {
		return nil, errors.Errorf("@%s takes %d arguments, %d given", name, fn.NumParams(), len(args))
	}
	args = append([]any(nil), args...)
	for ii, arg := range args {
		if v, ok := arg.(int); ok {
			args[ii] = int64(v)
		}
		if !hasType(args[ii], fn.Param(ii).Type()) {
			return nil, errors.Errorf("@%s argument #%d: %v (%T) is not a %s", name, ii, arg, arg, fn.Param(ii).Type())
		}
	}
	it.steps = 0
	return it.call(fn, args, 0)
}

func hasType(v any, t lir.Type) bool {
	switch v.(type) {
	case bool:
		return t == lir.TypeI1
	case int64:
		return t == lir.TypeI64
	case float64:
		return t == lir.TypeF64
	case Pointer:
		return t == lir.TypePtr
	}
	return false
}

// frame of a function call.
type frame struct {
	fn    *lir.Function
	args  []any
	temps []any
}

func (f *frame) value(v lir.Value) any {
	switch v := v.(type) {
	case *lir.Const:
		switch v.Type() {
		case lir.TypeI1:
			return v.Bool()
		case lir.TypeI64:
			return v.Int()
		case lir.TypeF64:
			return v.Float()
		default:
			return Pointer{}
		}
	case *lir.Param:
		return f.args[v.Index()]
	case *lir.Temp:
		return f.temps[v.Id()]
	}
	return nil
}

func (it *Interpreter) call(fn *lir.Function, args []any, depth int) (any, error) {
	it.calls[fn.Name()]++
	if fn.IsExternal() {
		external, found := it.externals[fn.Name()]
		if !found {
			return nil, errors.Errorf("external function @%s not provided", fn.Name())
		}
		result, err := external(args)
		if err != nil {
			return nil, errors.WithMessagef(err, "external @%s", fn.Name())
		}
		if fn.Ret() != lir.TypeVoid && !hasType(result, fn.Ret()) {
			return nil, errors.Errorf("external @%s returned %v (%T), expected %s", fn.Name(), result, result, fn.Ret())
		}
		return result, nil
	}
	if depth >= maxCallDepth {
		return nil, errors.Errorf("maximum call depth %d reached calling @%s", maxCallDepth, fn.Name())
	}
	if klog.V(3).Enabled() {
		klog.Infof("interp: calling @%s%v", fn.Name(), args)
	}

	f := &frame{fn: fn, args: args, temps: make([]any, fn.NumTemps())}
	block := fn.Entry()
	for {
		for ii := range block.NumInstructions() {
			instr := block.Instruction(ii)
			if err := it.step(fn); err != nil {
				return nil, err
			}
			if err := it.execute(f, instr, depth); err != nil {
				return nil, errors.WithMessagef(err, "@%s, block %%%s, %q", fn.Name(), block.Name(), instr)
			}
		}
		if err := it.step(fn); err != nil {
			return nil, err
		}
		switch term := block.Terminator().(type) {
		case *lir.Ret:
			if term.Val == nil {
				return nil, nil
			}
			return f.value(term.Val), nil
		case *lir.Br:
			block = term.Target
		case *lir.CondBr:
			if f.value(term.Cond).(bool) {
				block = term.True
			} else {
				block = term.False
			}
		default:
			return nil, errors.Errorf("@%s: block %%%s is not terminated", fn.Name(), block.Name())
		}
	}
}

func (it *Interpreter) step(fn *lir.Function) error {
	it.steps++
	if it.maxSteps > 0 && it.steps > it.maxSteps {
		return errors.Errorf("@%s: exceeded the maximum of %d steps", fn.Name(), it.maxSteps)
	}
	return nil
}

func (it *Interpreter) execute(f *frame, instr lir.Instruction, depth int) error {
	var result any
	switch instr := instr.(type) {
	case *lir.BinOp:
		var err error
		result, err = binOp(instr.Op, f.value(instr.X), f.value(instr.Y))
		if err != nil {
			return err
		}
	case *lir.Cmp:
		result = compare(instr.Pred, f.value(instr.X), f.value(instr.Y))
	case *lir.Alloca:
		result = allocate(instr.Elem, 1)
	case *lir.Alloc:
		count := f.value(instr.Count).(int64)
		if count < 0 {
			return errors.Errorf("negative allocation size %d", count)
		}
		result = allocate(instr.Elem, count)
	case *lir.Load:
		var err error
		result, err = f.value(instr.Ptr).(Pointer).load(instr.Elem)
		if err != nil {
			return err
		}
	case *lir.Store:
		value := f.value(instr.Val)
		return f.value(instr.Ptr).(Pointer).store(instr.Val.Type(), value)
	case *lir.Offset:
		p := f.value(instr.Ptr).(Pointer)
		if p.IsNull() {
			return errors.New("offset of null pointer")
		}
		p.offset += f.value(instr.Index).(int64)
		result = p
	case *lir.Call:
		args := make([]any, len(instr.Args))
		for ii, arg := range instr.Args {
			args[ii] = f.value(arg)
		}
		var err error
		result, err = it.call(instr.Callee, args, depth+1)
		if err != nil {
			return err
		}
	default:
		return errors.Errorf("unknown instruction type %T", instr)
	}
	if temp := instr.Result(); temp != nil {
		f.temps[temp.Id()] = result
	}
	return nil
}

func binOp(op lir.BinOpKind, x, y any) (any, error) {
	if op.IsFloat() {
		a, b := x.(float64), y.(float64)
		switch op {
		case lir.OpFAdd:
			return a + b, nil
		case lir.OpFSub:
			return a - b, nil
		case lir.OpFMul:
			return a * b, nil
		case lir.OpFDiv:
			return a / b, nil
		}
		return nil, errors.Errorf("unknown float operation %s", op)
	}
	if a, ok := x.(bool); ok {
		b := y.(bool)
		switch op {
		case lir.OpAnd:
			return a && b, nil
		case lir.OpOr:
			return a || b, nil
		}
		return nil, errors.Errorf("operation %s not defined for i1", op)
	}
	a, b := x.(int64), y.(int64)
	switch op {
	case lir.OpAdd:
		return a + b, nil
	case lir.OpSub:
		return a - b, nil
	case lir.OpMul:
		return a * b, nil
	case lir.OpSDiv, lir.OpSRem:
		if b == 0 {
			return nil, errors.Errorf("%s by zero", op)
		}
		if op == lir.OpSDiv {
			return a / b, nil
		}
		return a % b, nil
	case lir.OpAnd:
		return a & b, nil
	case lir.OpOr:
		return a | b, nil
	}
	return nil, errors.Errorf("unknown integer operation %s", op)
}

func compare(pred lir.Predicate, x, y any) bool {
	var c int
	switch a := x.(type) {
	case bool:
		equal := a == y.(bool)
		return equal == (pred == lir.PredEQ)
	case int64:
		b := y.(int64)
		switch {
		case a < b:
			c = -1
		case a > b:
			c = 1
		}
	case float64:
		b := y.(float64)
		if math.IsNaN(a) || math.IsNaN(b) {
			// Ordered comparisons are false if any operand is NaN.
			return false
		}
		switch {
		case a < b:
			c = -1
		case a > b:
			c = 1
		}
	}
	switch pred {
	case lir.PredEQ:
		return c == 0
	case lir.PredNE:
		return c != 0
	case lir.PredLT:
		return c < 0
	case lir.PredLE:
		return c <= 0
	case lir.PredGT:
		return c > 0
	default:
		return c >= 0
	}
}
