// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package kernelsupport

import (
	"reflect"

	"github.com/gomlx/convlower/codegen/lir"
	"github.com/gomlx/convlower/types/xslices"
	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// ErrKernelSignatureMismatch is returned (wrapped) by EmitAndCallOutlinedKernel when a kernel name is reused
// with arguments of a different number or types than the existing function.
var ErrKernelSignatureMismatch = errors.New("kernel signature mismatch")

// KernelOptions are the optimization attributes of an outlined kernel.
type KernelOptions struct {
	EnableFastMath  bool
	OptimizeForSize bool
}

// EmitAndCallOutlinedKernel emits a call to the kernel function named name, defining it first if the module
// doesn't have it yet.
//
// At most one of args may be nil (absent), either an untyped nil or a nil pointer: absent arguments are not passed, and the kernel has one parameter
// per present argument, in order. When the kernel is defined, body is called with the builder positioned at the
// kernel's entry block, and with the kernel parameters in the positions of the present arguments and nil in the
// position of the absent one. If body doesn't terminate the block it leaves the insertion point at, a return is
// added. After the call to body, the insertion point is restored to the caller, and the call to the kernel is
// emitted there.
//
// If body panics, the kernel is removed from the module, so a later call with the same name defines it again.
// Panics with an error are returned as errors, other panics are re-thrown.
//
// If the function already exists, body is not called: the kernel is assumed to be the same. An error wrapping
// ErrKernelSignatureMismatch is returned if its parameter types don't match the present arguments.
//
// Lookup and definition are atomic on the module, so builders emitting into different functions of the same
// module concurrently define each kernel once.
func EmitAndCallOutlinedKernel(opts KernelOptions, b *lir.Builder, name string, args []lir.Value,
	body func(args []lir.Value)) error {
	caller := b.InsertBlock()
	if caller == nil {
		return errors.Errorf("kernel %q: builder has no insertion point", name)
	}
	var present []lir.Value
	numAbsent := 0
	for _, arg := range args {
		if isAbsent(arg) {
			numAbsent++
			continue
		}
		present = append(present, arg)
	}
	if numAbsent > 1 {
		return errors.Errorf("kernel %q: %d absent arguments, at most one is allowed", name, numAbsent)
	}
	paramTypes := xslices.Map(present, lir.Value.Type)

	kernel, defined := b.Module().GetOrDefineFunction(name, lir.TypeVoid, paramTypes...)
	if !defined {
		if kernel.IsExternal() || !kernel.HasSignature(lir.TypeVoid, paramTypes...) {
			return errors.Wrapf(ErrKernelSignatureMismatch, "kernel @%s with parameters %v (external=%v) called with arguments of types %v",
				name, kernel.ParamTypes(), kernel.IsExternal(), paramTypes)
		}
		klog.V(2).Infof("reusing kernel @%s", name)
	} else {
		kernel.Attributes = lir.FunctionAttributes{FastMath: opts.EnableFastMath, OptimizeForSize: opts.OptimizeForSize}
		kernelArgs := make([]lir.Value, len(args))
		paramIdx := 0
		for ii, arg := range args {
			if !isAbsent(arg) {
				kernelArgs[ii] = kernel.Param(paramIdx)
				paramIdx++
			}
		}
		err := exceptions.TryCatch[error](func() { emitKernelBody(b, kernel, kernelArgs, body) })
		if err != nil {
			return errors.WithMessagef(err, "emitting kernel @%s", name)
		}
		klog.V(2).Infof("defined kernel @%s", name)
	}
	b.Call(kernel, present...)
	return nil
}

// isAbsent returns whether v is nil, or a nil pointer stored in the interface.
func isAbsent(v lir.Value) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	return rv.Kind() == reflect.Pointer && rv.IsNil()
}

// emitKernelBody calls body positioned at the kernel's entry. If body panics, the kernel is removed from the
// module before the panic is propagated.
func emitKernelBody(b *lir.Builder, kernel *lir.Function, args []lir.Value, body func(args []lir.Value)) {
	caller := b.InsertBlock()
	defer b.SetInsertPoint(caller)
	defer func() {
		if r := recover(); r != nil {
			b.Module().RemoveFunction(kernel)
			klog.V(2).Infof("kernel @%s removed after a failure emitting its body", kernel.Name())
			panic(r)
		}
	}()
	b.SetInsertPoint(kernel.Entry())
	body(args)
	if !b.InsertBlock().IsTerminated() {
		b.RetVoid()
	}
}

// EmitAndCallOutlinedKernel3 is EmitAndCallOutlinedKernel for 3 arguments.
func EmitAndCallOutlinedKernel3(opts KernelOptions, b *lir.Builder, name string, arg0, arg1, arg2 lir.Value,
	body func(arg0, arg1, arg2 lir.Value)) error {
	return EmitAndCallOutlinedKernel(opts, b, name, []lir.Value{arg0, arg1, arg2}, func(args []lir.Value) {
		body(args[0], args[1], args[2])
	})
}

// EmitAndCallOutlinedKernel4 is EmitAndCallOutlinedKernel for 4 arguments.
func EmitAndCallOutlinedKernel4(opts KernelOptions, b *lir.Builder, name string, arg0, arg1, arg2, arg3 lir.Value,
	body func(arg0, arg1, arg2, arg3 lir.Value)) error {
	return EmitAndCallOutlinedKernel(opts, b, name, []lir.Value{arg0, arg1, arg2, arg3}, func(args []lir.Value) {
		body(args[0], args[1], args[2], args[3])
	})
}
