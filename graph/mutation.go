// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"slices"

	"github.com/gomlx/convlower/backends"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

// InsertBefore moves node to the position immediately before anchor.
//
// It is used to place newly built nodes (which are always appended at the end of the computation)
// ahead of the node that is going to consume them. It panics if any of node's operands is not defined
// before anchor, or if any user of node would end up before it.
func (c *Computation) InsertBefore(anchor, node *Node) {
	c.checkOwned("InsertBefore", anchor, node)
	if anchor == node {
		return
	}
	nodePos := c.position(node)
	c.nodes = slices.Delete(c.nodes, nodePos, nodePos+1)
	anchorPos := c.position(anchor)
	for _, operand := range node.operands {
		if pos := c.position(operand); pos < 0 || pos >= anchorPos {
			c.nodes = slices.Insert(c.nodes, nodePos, node)
			exceptions.Panicf("Computation(%q).InsertBefore(%s, %s): operand %s is not defined before %s",
				c.name, anchor.Ref(), node.Ref(), operand.Ref(), anchor.Ref())
		}
	}
	for _, user := range c.Users(node) {
		if pos := c.position(user); pos < anchorPos {
			c.nodes = slices.Insert(c.nodes, nodePos, node)
			exceptions.Panicf("Computation(%q).InsertBefore(%s, %s): user %s would be placed before its operand",
				c.name, anchor.Ref(), node.Ref(), user.Ref())
		}
	}
	c.nodes = slices.Insert(c.nodes, anchorPos, node)
}

// Users returns the nodes that use n as an operand, in computation order.
// A node using n more than once is listed once.
func (c *Computation) Users(n *Node) []*Node {
	var users []*Node
	for _, candidate := range c.nodes {
		if slices.Contains(candidate.operands, n) {
			users = append(users, candidate)
		}
	}
	return users
}

// ReplaceOperand replaces the i-th operand of the node.
//
// The new operand must be defined before the node. Its shape may differ from the old operand's one:
// it's up to the caller to keep the node consistent (e.g. by adjusting its window), see Computation.Validate.
func (n *Node) ReplaceOperand(i int, newOperand *Node) {
	c := n.computation
	c.checkOwned("ReplaceOperand", newOperand)
	if i < 0 || i >= len(n.operands) {
		exceptions.Panicf("ReplaceOperand: node %s has %d operands, operand #%d requested", n.Ref(), len(n.operands), i)
	}
	if c.position(newOperand) >= c.position(n) {
		exceptions.Panicf("ReplaceOperand: new operand %s is not defined before node %s", newOperand.Ref(), n.Ref())
	}
	n.operands[i] = newOperand
}

// SetOperands replaces all operands of the node. Like ReplaceOperand, operands must be defined before the node,
// and no consistency check is done.
func (n *Node) SetOperands(operands ...*Node) {
	c := n.computation
	pos := c.position(n)
	for _, operand := range operands {
		c.checkOwned("SetOperands", operand)
		if c.position(operand) >= pos {
			exceptions.Panicf("SetOperands: operand %s is not defined before node %s", operand.Ref(), n.Ref())
		}
	}
	n.operands = slices.Clone(operands)
}

// SetWindow sets the window of a convolution node.
//
// No validation is done: the pass setting it is responsible for keeping the node consistent, see
// Computation.Validate.
func (n *Node) SetWindow(window backends.Window) {
	n.checkType("SetWindow", backends.OpTypeConvolution)
	n.data.(*convData).window = window.Clone()
}

// ReplaceAllUsesWith makes every user of oldNode (and the root, if it is oldNode) use newNode instead.
// newNode must have the same shape as oldNode, and be defined before all users of oldNode.
func (c *Computation) ReplaceAllUsesWith(oldNode, newNode *Node) {
	c.checkOwned("ReplaceAllUsesWith", oldNode, newNode)
	if !oldNode.shape.Equal(newNode.shape) {
		exceptions.Panicf("ReplaceAllUsesWith(%s, %s): shapes differ (%s vs %s)",
			oldNode.Ref(), newNode.Ref(), oldNode.shape, newNode.shape)
	}
	newPos := c.position(newNode)
	users := c.Users(oldNode)
	for _, user := range users {
		if user != newNode && c.position(user) < newPos {
			exceptions.Panicf("ReplaceAllUsesWith(%s, %s): user %s is defined before the replacement",
				oldNode.Ref(), newNode.Ref(), user.Ref())
		}
	}
	for _, user := range users {
		if user == newNode {
			continue
		}
		for ii, operand := range user.operands {
			if operand == oldNode {
				user.operands[ii] = newNode
			}
		}
	}
	if c.root == oldNode {
		c.root = newNode
	}
}

// RemoveNode removes a node that has no users. It panics if the node is used, is the root or is a parameter.
func (c *Computation) RemoveNode(n *Node) {
	c.checkOwned("RemoveNode", n)
	if users := c.Users(n); len(users) > 0 {
		exceptions.Panicf("RemoveNode(%s): node still has %d users (e.g. %s)", n.Ref(), len(users), users[0].Ref())
	}
	if c.root == n {
		exceptions.Panicf("RemoveNode(%s): cannot remove the root of computation %q", n.Ref(), c.name)
	}
	if n.opType == backends.OpTypeParameter {
		exceptions.Panicf("RemoveNode(%s): cannot remove parameter %q", n.Ref(), n.ParameterName())
	}
	pos := c.position(n)
	c.nodes = slices.Delete(c.nodes, pos, pos+1)
	n.computation = nil
}

// Validate checks the consistency of the computation: every operand is defined in the computation before its
// user, and every node's shape matches the shape inferred from its operands and parameters.
func (c *Computation) Validate() error {
	positions := make(map[*Node]int, len(c.nodes))
	for pos, n := range c.nodes {
		if n.computation != c {
			return errors.Errorf("computation %q: node %s doesn't point back to its computation", c.name, n.Ref())
		}
		for ii, operand := range n.operands {
			if _, found := positions[operand]; !found {
				return errors.Errorf("computation %q: operand #%d (%s) of node %s is not defined before it",
					c.name, ii, operand.Ref(), n.Ref())
			}
		}
		shape, err := n.inferShape()
		if err != nil {
			return errors.WithMessagef(err, "computation %q: node %s", c.name, n)
		}
		if !shape.Equal(n.shape) {
			return errors.Errorf("computation %q: node %s has shape %s, but its operands and parameters yield %s",
				c.name, n, n.shape, shape)
		}
		positions[n] = pos
	}
	if c.root != nil {
		if _, found := positions[c.root]; !found {
			return errors.Errorf("computation %q: root %s is not part of the computation", c.name, c.root.Ref())
		}
	}
	return nil
}

// NewConstantBefore creates a scalar constant with the given dtype and value, placed immediately before anchor.
func (c *Computation) NewConstantBefore(anchor *Node, dtype dtypes.DType, value float64) *Node {
	c.checkOwned("NewConstantBefore", anchor)
	n := c.Scalar(dtype, value)
	c.InsertBefore(anchor, n)
	return n
}

// NewPadBefore creates a Pad of operand with the fill value, placed immediately before anchor.
// operand and fill must be defined before anchor.
func NewPadBefore(anchor, operand, fill *Node, axes ...backends.PadAxis) *Node {
	c := anchor.computation
	c.checkOwned("NewPadBefore", operand, fill)
	n := Pad(operand, fill, axes...)
	c.InsertBefore(anchor, n)
	return n
}
