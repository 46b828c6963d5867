// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/gomlx/convlower/backends"
	"github.com/gomlx/convlower/types/shapes"
	"github.com/gomlx/convlower/types/xslices"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
)

// Node is the result of one operation in a Computation.
type Node struct {
	computation *Computation
	id          NodeId
	opType      backends.OpType
	shape       shapes.Shape

	// operands are the edges of the computation graph.
	operands []*Node

	// data holds the static parameters of the operation, one of the *xxxData types below.
	data any
}

type parameterData struct {
	name  string
	index int
}

// constantData holds a value repeated over the whole shape of the node.
type constantData struct {
	value float64
}

type padData struct {
	axes []backends.PadAxis
}

type convData struct {
	kind   backends.ConvKind
	window backends.Window
	axes   backends.ConvolveAxesConfig
}

// Id is the unique id of this node within the Module.
func (n *Node) Id() NodeId { return n.id }

// Type identifies the operation performed by the node.
func (n *Node) Type() backends.OpType {
	if n == nil {
		return backends.OpTypeInvalid
	}
	return n.opType
}

// Computation that holds this Node.
func (n *Node) Computation() *Computation { return n.computation }

// Shape of the Node's output.
func (n *Node) Shape() shapes.Shape { return n.shape }

// DType returns the DType of the node's shape.
func (n *Node) DType() dtypes.DType { return n.shape.DType }

// Rank returns the rank of the node's shape.
func (n *Node) Rank() int { return n.shape.Rank() }

// NumOperands returns the number of operands of the node.
func (n *Node) NumOperands() int { return len(n.operands) }

// Operand returns the i-th operand.
func (n *Node) Operand(i int) *Node {
	if i < 0 || i >= len(n.operands) {
		exceptions.Panicf("Node %s has %d operands, operand #%d requested", n.Ref(), len(n.operands), i)
	}
	return n.operands[i]
}

// Operands returns a copy of the list of operands.
func (n *Node) Operands() []*Node { return slices.Clone(n.operands) }

// Ref returns the textual reference to the node, e.g.: `%3`.
func (n *Node) Ref() string {
	if n == nil {
		return "%nil"
	}
	return fmt.Sprintf("%%%d", n.id)
}

func (n *Node) checkType(method string, opType backends.OpType) {
	if n.opType != opType {
		exceptions.Panicf("Node.%s: node %s is a %s, not a %s", method, n.Ref(), n.opType, opType)
	}
}

// ParameterName returns the name of a parameter node. It panics for other node types.
func (n *Node) ParameterName() string {
	n.checkType("ParameterName", backends.OpTypeParameter)
	return n.data.(*parameterData).name
}

// ParameterIndex returns the position of a parameter node among the parameters of its computation.
func (n *Node) ParameterIndex() int {
	n.checkType("ParameterIndex", backends.OpTypeParameter)
	return n.data.(*parameterData).index
}

// ConstantValue returns the value of a constant node, repeated over its whole shape.
func (n *Node) ConstantValue() float64 {
	n.checkType("ConstantValue", backends.OpTypeConstant)
	return n.data.(*constantData).value
}

// PadAxes returns a copy of the per-axis padding configuration of a pad node.
func (n *Node) PadAxes() []backends.PadAxis {
	n.checkType("PadAxes", backends.OpTypePad)
	return slices.Clone(n.data.(*padData).axes)
}

// ConvKind returns the variant of a convolution node.
func (n *Node) ConvKind() backends.ConvKind {
	n.checkType("ConvKind", backends.OpTypeConvolution)
	return n.data.(*convData).kind
}

// Window returns a copy of the window of a convolution node.
//
// For every variant, the window is the one of the forward convolution: its sizes are the spatial
// dimensions of the filter.
func (n *Node) Window() backends.Window {
	n.checkType("Window", backends.OpTypeConvolution)
	return n.data.(*convData).window.Clone()
}

// ConvAxes returns a copy of the axes configuration of a convolution node.
func (n *Node) ConvAxes() backends.ConvolveAxesConfig {
	n.checkType("ConvAxes", backends.OpTypeConvolution)
	return n.data.(*convData).axes.Clone()
}

// String returns the textual form of the node, e.g.:
//
//	%4 = pad(%0, %3) {padding=[0:0:0,0:0:0,-1:0:0]} : f32[1,1,4]
func (n *Node) String() string {
	if n == nil {
		return "Node(nil)"
	}
	var sb strings.Builder
	sb.WriteString(n.Ref())
	sb.WriteString(" = ")
	sb.WriteString(n.opType.String())
	sb.WriteByte('(')
	switch data := n.data.(type) {
	case *parameterData:
		sb.WriteString(strconv.Quote(data.name))
	case *constantData:
		sb.WriteString(strconv.FormatFloat(data.value, 'g', -1, 64))
	default:
		for ii, operand := range n.operands {
			if ii > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(operand.Ref())
		}
	}
	sb.WriteByte(')')
	switch data := n.data.(type) {
	case *padData:
		padStrs := xslices.Map(data.axes, backends.PadAxis.String)
		fmt.Fprintf(&sb, " {padding=[%s]}", strings.Join(padStrs, ","))
	case *convData:
		fmt.Fprintf(&sb, " {kind=%s, window=%s, input_axes=%s, kernel_axes=%s, output_axes=%s}",
			data.kind, data.window, intsString(data.axes.InputAxes()), intsString(data.axes.KernelAxes()),
			intsString(data.axes.OutputAxes()))
	}
	sb.WriteString(" : ")
	sb.WriteString(n.shape.String())
	return sb.String()
}

func intsString(values []int) string {
	return "[" + strings.Join(xslices.Map(values, strconv.Itoa), ",") + "]"
}
