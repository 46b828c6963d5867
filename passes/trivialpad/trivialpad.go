// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package trivialpad implements a cleanup pass: it removes Pad nodes that don't pad (all axes with zero low, high
// and interior padding), and nodes no longer used by the computation's root.
package trivialpad

import (
	"slices"

	"github.com/gomlx/convlower/backends"
	"github.com/gomlx/convlower/graph"
	"github.com/gomlx/convlower/passes"
	"github.com/gomlx/convlower/types/sets"
	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Name of the pass.
const Name = "trivial-pad-elimination"

// Pass implements passes.Pass.
type Pass struct{}

var _ passes.Pass = Pass{}

// New returns a new trivial pad elimination pass.
func New() Pass { return Pass{} }

// Name implements passes.Pass.
func (Pass) Name() string { return Name }

// IsTrivial returns whether the node is a Pad that doesn't change its operand.
func IsTrivial(n *graph.Node) bool {
	if n.Type() != backends.OpTypePad {
		return false
	}
	for _, axis := range n.PadAxes() {
		if !axis.IsZero() {
			return false
		}
	}
	return true
}

// Run implements passes.Pass.
func (p Pass) Run(module *graph.Module) (changed bool, err error) {
	for _, c := range module.Computations() {
		var computationChanged bool
		err = exceptions.TryCatch[error](func() { computationChanged = p.runOnComputation(c) })
		if err != nil {
			return changed, errors.WithMessagef(err, "%s on computation %q", Name, c.Name())
		}
		changed = changed || computationChanged
	}
	return changed, nil
}

func (p Pass) runOnComputation(c *graph.Computation) (changed bool) {
	for _, n := range c.Nodes() {
		if IsTrivial(n) && (c.Root() == n || len(c.Users(n)) > 0) {
			klog.V(1).Infof("%s: removing %s", Name, n)
			c.ReplaceAllUsesWith(n, n.Operand(0))
			changed = true
		}
	}
	root := c.Root()
	if root == nil {
		// Without a root there is no way to tell which nodes are used.
		return changed
	}

	// Mark nodes reachable from the root: operands always come before their users.
	nodes := c.Nodes()
	live := sets.MakeWith(root)
	for _, n := range slices.Backward(nodes) {
		if !live.Has(n) {
			continue
		}
		for _, operand := range n.Operands() {
			live.Insert(operand)
		}
	}
	for _, n := range slices.Backward(nodes) {
		if live.Has(n) || n.Type() == backends.OpTypeParameter {
			continue
		}
		klog.V(2).Infof("%s: removing dead node %s", Name, n)
		c.RemoveNode(n)
		changed = true
	}
	return changed
}
