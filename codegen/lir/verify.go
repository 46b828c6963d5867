// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package lir

import (
	"github.com/pkg/errors"
)

// Verify checks the structural invariants of the module, and returns an error describing the first violation:
//
//   - Every block of every defined function is terminated.
//   - Branches only target blocks of their own function.
//   - Temporaries and parameters are only used in the function that defines them, and temporaries are defined
//     in the function before being used, in block order.
//   - Calls target functions of the module with matching signatures.
//   - Returned values match the function return type.
//
// Dominance of definitions over uses across blocks is not checked.
func (m *Module) Verify() error {
	for _, fn := range m.Functions() {
		if err := fn.verify(); err != nil {
			return errors.WithMessagef(err, "in @%s", fn.name)
		}
	}
	return nil
}

func (fn *Function) verify() error {
	if fn.external {
		return nil
	}
	if len(fn.blocks) == 0 || fn.blocks[0] != fn.entry {
		return errors.Errorf("function has no entry block")
	}
	defined := make([]bool, fn.nextTemp)
	checkUse := func(block *Block, what string, values []Value) error {
		for _, v := range values {
			switch v := v.(type) {
			case nil:
				return errors.Errorf("block %%%s: %s uses a nil value", block.name, what)
			case *Temp:
				if v.fn != fn {
					return errors.Errorf("block %%%s: %s uses %s defined in @%s", block.name, what, v, v.fn.name)
				}
				if v.id >= len(defined) || !defined[v.id] {
					return errors.Errorf("block %%%s: %s uses %s before its definition", block.name, what, v)
				}
			case *Param:
				if v.fn != fn {
					return errors.Errorf("block %%%s: %s uses a parameter of @%s", block.name, what, v.fn.name)
				}
			}
		}
		return nil
	}

	for _, block := range fn.blocks {
		for _, instr := range block.instructions {
			if err := checkUse(block, instr.String(), instr.Operands()); err != nil {
				return err
			}
			if call, ok := instr.(*Call); ok {
				if fn.module.LookupFunction(call.Callee.name) != call.Callee {
					return errors.Errorf("block %%%s: call to @%s, which is not in module %q",
						block.name, call.Callee.name, fn.module.name)
				}
				argTypes := make([]Type, len(call.Args))
				for ii, arg := range call.Args {
					argTypes[ii] = arg.Type()
				}
				if !call.Callee.HasSignature(call.Callee.ret, argTypes...) {
					return errors.Errorf("block %%%s: call to @%s%s with arguments of types %v",
						block.name, call.Callee.name, call.Callee.signature(), argTypes)
				}
			}
			if result := instr.Result(); result != nil {
				if result.fn != fn || result.id >= len(defined) || defined[result.id] {
					return errors.Errorf("block %%%s: %s redefines or misplaces %s", block.name, instr, result)
				}
				defined[result.id] = true
			}
		}
		if block.terminator == nil {
			return errors.Errorf("block %%%s is not terminated", block.name)
		}
		if err := checkUse(block, block.terminator.String(), block.terminator.Operands()); err != nil {
			return err
		}
		for _, successor := range block.terminator.Successors() {
			if successor == nil || successor.fn != fn {
				return errors.Errorf("block %%%s branches to a block outside the function", block.name)
			}
		}
		if ret, ok := block.terminator.(*Ret); ok {
			retType := TypeVoid
			if ret.Val != nil {
				retType = ret.Val.Type()
			}
			if retType != fn.ret {
				return errors.Errorf("block %%%s returns %s from a function returning %s", block.name, retType, fn.ret)
			}
		}
	}
	return nil
}
