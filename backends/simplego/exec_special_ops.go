// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package simplego

import (
	"github.com/gomlx/convlower/backends"
	"github.com/gomlx/convlower/graph"
)

func init() {
	setNodeExecutor(backends.OpTypeConstant, execConstant)
	setNodeExecutor(backends.OpTypePad, execPad)
}

// execConstant fills a buffer with the splat value of the constant.
func execConstant(node *graph.Node, _ []*Buffer) (*Buffer, error) {
	output := newBufferForShape(node.Shape())
	value := node.ConstantValue()
	for ii := range output.flat {
		output.flat[ii] = value
	}
	return output, nil
}

// execPad implements the Pad operation: element j of the operand, on each axis, goes to the
// position low + j*(interior+1) of the output. Elements that fall outside the output (negative padding) are dropped,
// and every other position is filled with the fill value.
func execPad(node *graph.Node, inputs []*Buffer) (*Buffer, error) {
	operand, fill := inputs[0], inputs[1].flat[0]
	output := newBufferForShape(node.Shape())
	for ii := range output.flat {
		output.flat[ii] = fill
	}
	axes := node.PadAxes()
	rank := operand.shape.Rank()
	outputIndices := make([]int, rank)
	operandFlatIdx := 0
	for operandIndices := range operand.shape.Iter() {
		inside := true
		for axis, idx := range operandIndices {
			pos := axes[axis].Start + idx*(axes[axis].Interior+1)
			if pos < 0 || pos >= output.shape.Dimensions[axis] {
				inside = false
				break
			}
			outputIndices[axis] = pos
		}
		if inside {
			output.flat[output.shape.FlatIndex(outputIndices)] = operand.flat[operandFlatIdx]
		}
		operandFlatIdx++
	}
	return output, nil
}
