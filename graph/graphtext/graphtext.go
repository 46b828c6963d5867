// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package graphtext parses the textual form of a graph.Module, the one printed by graph.Module.String.
//
// Example:
//
//	module demo entry main
//	computation main {
//	  %0 = parameter("x") : f32[1,1,5]
//	  %1 = parameter("w") : f32[1,1,3]
//	  %2 = convolution(%0, %1) {kind=forward, window=[3:1:-1:3:1:1], input_axes=[0,1,2], kernel_axes=[1,0,2], output_axes=[0,1,2]} : f32[1,1,5]
//	  root %2
//	}
//
// Window entries are `size:stride:pad_low:pad_high:base_dilation:window_dilation`, pad entries are
// `low:high:interior`, and constants are splat: their value is repeated over the whole shape.
// Node ids are preserved, and the declared shapes must match the inferred ones.
package graphtext

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
	"github.com/gomlx/convlower/backends"
	"github.com/gomlx/convlower/graph"
	"github.com/gomlx/convlower/types/shapes"
	"github.com/gomlx/convlower/types/xslices"
	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Error is returned for invalid graphs. It carries the position in the text where the error was found.
// It has the same methods as participle.Error, and syntax errors are returned as participle.Error.
type Error struct {
	Pos lexer.Position
	Msg string
}

// Error implements the error interface.
func (e *Error) Error() string { return fmt.Sprintf("%s: %s", e.Pos, e.Msg) }

// Message returns the error message without the position.
func (e *Error) Message() string { return e.Msg }

// Position where the error happened.
func (e *Error) Position() lexer.Position { return e.Pos }

// PositionedError is implemented by both Error and participle.Error.
type PositionedError interface {
	error
	Message() string
	Position() lexer.Position
}

var _ PositionedError = (*Error)(nil)
var _ PositionedError = participle.Error(nil)

func errorAt(pos lexer.Position, format string, args ...any) error {
	return &Error{Pos: pos, Msg: fmt.Sprintf(format, args...)}
}

// Parse the textual form of a module.
func Parse(text string) (*graph.Module, error) {
	return ParseNamed("", text)
}

// ParseNamed parses the textual form of a module, using filename in the error positions.
func ParseNamed(filename, text string) (*graph.Module, error) {
	ast, err := moduleParser.ParseString(filename, text)
	if err != nil {
		return nil, err
	}
	m := graph.NewModule(ast.Name)
	for _, compAST := range ast.Computations {
		if err := buildComputation(m, compAST); err != nil {
			return nil, err
		}
	}
	if ast.Entry != "" {
		if m.Computation(ast.Entry) == nil {
			return nil, errorAt(ast.Pos, "entry computation %q not defined", ast.Entry)
		}
		m.SetEntry(ast.Entry)
	}
	klog.V(2).Infof("graphtext: parsed module %q with %d computations and %d nodes",
		m.Name(), len(ast.Computations), m.NumNodes())
	return m, nil
}

func parseRef(ref string) (graph.NodeId, error) {
	id, err := strconv.Atoi(strings.TrimPrefix(ref, "%"))
	if err != nil {
		return graph.InvalidNodeId, errors.Wrapf(err, "invalid node reference %q", ref)
	}
	return graph.NodeId(id), nil
}

func buildComputation(m *graph.Module, compAST *computationAST) error {
	if m.Computation(compAST.Name) != nil {
		return errorAt(compAST.Pos, "computation %q defined more than once", compAST.Name)
	}
	c := m.NewComputation(compAST.Name)
	for _, nodeAST := range compAST.Nodes {
		id, err := parseRef(nodeAST.Ref)
		if err != nil {
			return errorAt(nodeAST.Pos, "%v", err)
		}
		if err := m.SetNextId(id); err != nil {
			return errorAt(nodeAST.Pos, "%v", err)
		}
		err = exceptions.TryCatch[error](func() { buildNode(c, nodeAST) })
		if err != nil {
			var posErr *Error
			if errors.As(err, &posErr) {
				return posErr
			}
			return errorAt(nodeAST.Pos, "%s: %v", nodeAST.Ref, err)
		}
	}
	if compAST.Root != "" {
		id, err := parseRef(compAST.Root)
		if err != nil {
			return errorAt(compAST.Pos, "%v", err)
		}
		root := c.NodeById(id)
		if root == nil {
			return errorAt(compAST.Pos, "root %s not defined in computation %q", compAST.Root, compAST.Name)
		}
		c.SetRoot(root)
	}
	return nil
}

// buildNode builds the node described by nodeAST, panicking with an error if it is invalid.
func buildNode(c *graph.Computation, nodeAST *nodeAST) *graph.Node {
	shape := buildShape(nodeAST.Pos, nodeAST.Shape)
	opType, err := backends.OpTypeString(nodeAST.Op)
	if err != nil || opType == backends.OpTypeInvalid {
		panic(errorAt(nodeAST.Pos, "unknown operation %q", nodeAST.Op))
	}
	attrs := make(map[string]*attrAST, len(nodeAST.Attrs))
	for _, attr := range nodeAST.Attrs {
		if _, found := attrs[attr.Key]; found {
			panic(errorAt(attr.Pos, "attribute %q given more than once", attr.Key))
		}
		attrs[attr.Key] = attr
	}
	operands := make([]*graph.Node, len(nodeAST.Operands))
	for ii, ref := range nodeAST.Operands {
		id, err := parseRef(ref)
		if err != nil {
			panic(errorAt(nodeAST.Pos, "%v", err))
		}
		operands[ii] = c.NodeById(id)
		if operands[ii] == nil {
			panic(errorAt(nodeAST.Pos, "operand %s not defined before its use in computation %q", ref, c.Name()))
		}
	}
	checkOperands := func(n int) {
		if len(operands) != n {
			panic(errorAt(nodeAST.Pos, "%s takes %d operands, got %d", opType, n, len(operands)))
		}
	}

	var node *graph.Node
	switch opType {
	case backends.OpTypeParameter:
		if nodeAST.Name == nil {
			panic(errorAt(nodeAST.Pos, "parameter requires a quoted name"))
		}
		name, err := strconv.Unquote(*nodeAST.Name)
		if err != nil {
			panic(errorAt(nodeAST.Pos, "invalid parameter name %s: %v", *nodeAST.Name, err))
		}
		node = c.Parameter(name, shape)
	case backends.OpTypeConstant:
		if nodeAST.Value == nil {
			panic(errorAt(nodeAST.Pos, "constant requires a value"))
		}
		node = c.Constant(*nodeAST.Value, shape)
	case backends.OpTypePad:
		checkOperands(2)
		padding := xslices.Map(tuplesAttr(nodeAST.Pos, attrs, "padding", 3), func(values []int) backends.PadAxis {
			return backends.PadAxis{Start: values[0], End: values[1], Interior: values[2]}
		})
		node = graph.Pad(operands[0], operands[1], padding...)
	case backends.OpTypeConvolution:
		checkOperands(2)
		kindAttr, found := attrs["kind"]
		if !found || kindAttr.Ident == nil {
			panic(errorAt(nodeAST.Pos, "convolution requires a kind attribute"))
		}
		kind, err := backends.ConvKindString(*kindAttr.Ident)
		if err != nil {
			panic(errorAt(kindAttr.Pos, "%v", err))
		}
		window := xslices.Map(tuplesAttr(nodeAST.Pos, attrs, "window", 6), func(values []int) backends.WindowDimension {
			return backends.WindowDimension{
				Size: values[0], Stride: values[1],
				PaddingLow: values[2], PaddingHigh: values[3],
				BaseDilation: values[4], WindowDilation: values[5],
			}
		})
		axesAttr := func(key string) []int {
			return xslices.Map(tuplesAttr(nodeAST.Pos, attrs, key, 1), func(values []int) int { return values[0] })
		}
		axes := backends.MakeConvolveAxesConfig(axesAttr("input_axes"), axesAttr("kernel_axes"), axesAttr("output_axes"))
		node = graph.ConvolutionWithKind(kind, operands[0], operands[1], window, axes, shape)
	}
	if !node.Shape().Equal(shape) {
		panic(errorAt(nodeAST.Pos, "%s declared with shape %s, but its inferred shape is %s", nodeAST.Ref, shape, node.Shape()))
	}
	return node
}

// tuplesAttr returns the list attribute key, checking that each element has exactly tupleSize values.
func tuplesAttr(pos lexer.Position, attrs map[string]*attrAST, key string, tupleSize int) [][]int {
	attr, found := attrs[key]
	if !found {
		panic(errorAt(pos, "missing attribute %q", key))
	}
	if attr.Ident != nil {
		panic(errorAt(attr.Pos, "attribute %q must be a list", key))
	}
	values := make([][]int, len(attr.List))
	for ii, tuple := range attr.List {
		if len(tuple.Values) != tupleSize {
			panic(errorAt(attr.Pos, "attribute %q element #%d must have %d values, got %d", key, ii, tupleSize, len(tuple.Values)))
		}
		values[ii] = tuple.Values
	}
	return values
}

func buildShape(pos lexer.Position, shapeAST *shapeAST) shapes.Shape {
	dtype, err := shapes.ParseDTypeName(shapeAST.DType)
	if err != nil {
		panic(errorAt(pos, "%v", err))
	}
	for _, dim := range shapeAST.Dimensions {
		if dim <= 0 {
			panic(errorAt(pos, "invalid dimension %d in shape", dim))
		}
	}
	return shapes.Make(dtype, shapeAST.Dimensions...)
}
