// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package convemit

import (
	"fmt"
	"strings"

	"github.com/gomlx/convlower/backends"
	"github.com/gomlx/convlower/codegen/lir"
	"github.com/gomlx/convlower/graph"
	"github.com/gomlx/convlower/types/xslices"
)

// forEachIndex emits nested loops over all the indices of dims, calling body with one i64 value per axis.
func (e *emitter) forEachIndex(name string, dims []int, body func(indices []lir.Value)) {
	indices := make([]lir.Value, len(dims))
	var loop func(axis int)
	loop = func(axis int) {
		if axis == len(dims) {
			body(indices)
			return
		}
		e.k.ForInt(fmt.Sprintf("%s.%d", name, axis), 0, int64(dims[axis]), 1, func(indVar lir.Value) {
			indices[axis] = indVar
			loop(axis + 1)
		})
	}
	loop(0)
}

// flatIndex emits the row-major flat index for the given strides: sum(indices[i] * strides[i]).
func (e *emitter) flatIndex(indices []lir.Value, strides []int) lir.Value {
	var flat lir.Value = lir.ConstInt(0)
	for ii, index := range indices {
		if strides[ii] == 0 {
			continue
		}
		flat = e.b.Add(flat, e.b.Mul(index, lir.ConstInt(int64(strides[ii]))))
	}
	return flat
}

// and combines conditions, any of which can be nil (true).
func (e *emitter) and(x, y lir.Value) lir.Value {
	switch {
	case x == nil:
		return y
	case y == nil:
		return x
	default:
		return e.b.And(x, y)
	}
}

// when emits body guarded by cond, or unguarded if cond is nil.
func (e *emitter) when(cond lir.Value, body func()) {
	if cond == nil {
		body()
		return
	}
	e.k.If(cond, body)
}

// emitSplat fills the buffer with value.
func (e *emitter) emitSplat(out lir.Value, value float64, size int) {
	e.outline(fmt.Sprintf("splat_%d", size), []lir.Value{out, lir.ConstFloat(value)}, func(args []lir.Value) {
		out, value := args[0], args[1]
		e.k.ForInt("i", 0, int64(size), 1, func(i lir.Value) {
			e.b.Store(value, e.b.Offset(out, i))
		})
	})
}

// emitCopy copies size elements from src to dst.
func (e *emitter) emitCopy(src, dst lir.Value, size int) {
	e.outline(fmt.Sprintf("copy_%d", size), []lir.Value{src, dst}, func(args []lir.Value) {
		src, dst := args[0], args[1]
		e.k.ForInt("i", 0, int64(size), 1, func(i lir.Value) {
			e.b.Store(e.b.Load(lir.TypeF64, e.b.Offset(src, i)), e.b.Offset(dst, i))
		})
	})
}

func padKey(axes []backends.PadAxis) string {
	return strings.Join(xslices.Map(axes, func(axis backends.PadAxis) string {
		return intsKey([]int{axis.Start, axis.End, axis.Interior})
	}), "_")
}

// emitPad lowers a Pad: the output is filled with the fill value, and then each operand element is written to
// its position, if it is not cropped.
func (e *emitter) emitPad(node *graph.Node, operand, fill, out lir.Value) {
	inShape, outShape, axes := node.Operand(0).Shape(), node.Shape(), node.PadAxes()
	name := fmt.Sprintf("pad_%s_%s", dimsKey(inShape), padKey(axes))
	e.outline(name, []lir.Value{operand, fill, out}, func(args []lir.Value) {
		operand, fill, out := args[0], args[1], args[2]
		b := e.b
		fillValue := b.Load(lir.TypeF64, fill)
		e.k.ForInt("fill", 0, int64(outShape.Size()), 1, func(i lir.Value) {
			b.Store(fillValue, b.Offset(out, i))
		})

		inStrides, outStrides := inShape.Strides(), outShape.Strides()
		e.forEachIndex("axis", inShape.Dimensions, func(indices []lir.Value) {
			positions := make([]lir.Value, len(indices))
			var inBounds lir.Value
			for axis, index := range indices {
				pad := axes[axis]
				positions[axis] = b.Add(lir.ConstInt(int64(pad.Start)), b.Mul(index, lir.ConstInt(int64(pad.Interior+1))))
				if pad.Start < 0 {
					inBounds = e.and(inBounds, b.Cmp(lir.PredGE, positions[axis], lir.ConstInt(0)))
				}
				if pad.End < 0 {
					inBounds = e.and(inBounds, b.Cmp(lir.PredLT, positions[axis], lir.ConstInt(int64(outShape.Dim(axis)))))
				}
			}
			e.when(inBounds, func() {
				value := b.Load(lir.TypeF64, b.Offset(operand, e.flatIndex(indices, inStrides)))
				b.Store(value, b.Offset(out, e.flatIndex(positions, outStrides)))
			})
		})
	})
}

func windowKey(window backends.Window) string {
	return strings.Join(xslices.Map(window, func(wd backends.WindowDimension) string {
		return intsKey([]int{wd.Size, wd.Stride, wd.PaddingLow, wd.PaddingHigh, wd.BaseDilation, wd.WindowDilation})
	}), "_")
}

func axesKey(axes backends.ConvolveAxesConfig) string {
	return strings.Join([]string{intsKey(axes.InputAxes()), intsKey(axes.KernelAxes()), intsKey(axes.OutputAxes())}, "_")
}

// emitConvolution lowers a forward convolution: for each output element, the products of the input and kernel
// elements of every tap are accumulated, with the loop over input channels outermost in the reduction. Its first
// iteration is peeled to initialize the accumulator.
func (e *emitter) emitConvolution(node *graph.Node, input, kernel, out lir.Value) {
	inShape, kernelShape, outShape := node.Operand(0).Shape(), node.Operand(1).Shape(), node.Shape()
	window, axes := node.Window(), node.ConvAxes()
	name := fmt.Sprintf("conv_%s_%s_w%s_a%s", dimsKey(inShape), dimsKey(kernelShape), windowKey(window), axesKey(axes))
	e.outline(name, []lir.Value{input, kernel, out}, func(args []lir.Value) {
		input, kernel, out := args[0], args[1], args[2]
		b := e.b
		inStrides, kernelStrides, outStrides := inShape.Strides(), kernelShape.Strides(), outShape.Strides()
		numSpatial := len(window)
		acc := b.EntryAlloca(lir.TypeF64, "acc")

		// Output index: batch, output channel and spatial positions.
		outDims := make([]int, numSpatial+2)
		for ii, axis := range axes.OutputAxes() {
			outDims[ii] = outShape.Dim(axis)
		}
		e.forEachIndex("out", outDims, func(outIndices []lir.Value) {
			batch, outChannel, outSpatial := outIndices[0], outIndices[1], outIndices[2:]
			numInChannels := int64(inShape.Dim(axes.InputChannels))
			if numInChannels == 0 {
				b.Store(lir.ConstFloat(0), acc)
			}
			e.k.ForWithStatus("in_channel", lir.ConstInt(0), lir.ConstInt(numInChannels), lir.ConstInt(1), true,
				func(inChannel, isFirst lir.Value) {
					if lir.IsConstBool(isFirst, true) {
						b.Store(lir.ConstFloat(0), acc)
					} else if !lir.IsConstBool(isFirst, false) {
						e.k.If(isFirst, func() { b.Store(lir.ConstFloat(0), acc) })
					}
					kernelDims := xslices.Map(window, func(wd backends.WindowDimension) int { return wd.Size })
					e.forEachIndex("tap", kernelDims, func(taps []lir.Value) {
						inSpatial, inBounds := e.emitInputPositions(window, inShape.Dimensions, axes.InputSpatial, outSpatial, taps)
						e.when(inBounds, func() {
							inIdx := e.flatIndex(append([]lir.Value{batch, inChannel}, inSpatial...), axesStrides(inStrides, axes.InputAxes()))
							kernelIdx := e.flatIndex(append([]lir.Value{inChannel, outChannel}, taps...), axesStrides(kernelStrides, axes.KernelAxes()))
							product := b.FMul(b.Load(lir.TypeF64, b.Offset(input, inIdx)), b.Load(lir.TypeF64, b.Offset(kernel, kernelIdx)))
							b.Store(b.FAdd(b.Load(lir.TypeF64, acc), product), acc)
						})
					})
				})
			outIdx := e.flatIndex(outIndices, axesStrides(outStrides, axes.OutputAxes()))
			b.Store(b.Load(lir.TypeF64, acc), b.Offset(out, outIdx))
		})
	})
}

// axesStrides returns the strides of the given axes, in order.
func axesStrides(strides, axes []int) []int {
	return xslices.Map(axes, func(axis int) int { return strides[axis] })
}

// emitInputPositions emits, for each spatial dimension, the input position read by the kernel tap at the output
// position, and the condition for all of them to be within the (dilated, padded) input. The condition is nil if
// it always holds.
//
// The position in the padded and dilated input is d = out*stride + tap*windowDilation - paddingLow. It reads an
// input element if d is not negative, is a multiple of baseDilation, and d/baseDilation is within the input.
func (e *emitter) emitInputPositions(window backends.Window, inDims, inSpatialAxes []int, outSpatial, taps []lir.Value) (
	positions []lir.Value, inBounds lir.Value) {
	b := e.b
	positions = make([]lir.Value, len(window))
	for ii, wd := range window {
		d := b.Sub(
			b.Add(b.Mul(outSpatial[ii], lir.ConstInt(int64(wd.Stride))), b.Mul(taps[ii], lir.ConstInt(int64(wd.WindowDilation)))),
			lir.ConstInt(int64(wd.PaddingLow)))
		inBounds = e.and(inBounds, b.Cmp(lir.PredGE, d, lir.ConstInt(0)))
		position := lir.Value(d)
		if wd.BaseDilation > 1 {
			dilation := lir.ConstInt(int64(wd.BaseDilation))
			inBounds = e.and(inBounds, b.Cmp(lir.PredEQ, b.SRem(d, dilation), lir.ConstInt(0)))
			position = b.SDiv(d, dilation)
		}
		inBounds = e.and(inBounds, b.Cmp(lir.PredLT, position, lir.ConstInt(int64(inDims[inSpatialAxes[ii]]))))
		positions[ii] = position
	}
	return positions, inBounds
}
