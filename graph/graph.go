// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package graph holds the computation graph representation the lowering passes work on.
//
// The main elements in the package are:
//
//   - Module: a mapping from computation name to Computation, plus the module-wide node id allocator.
//   - Computation: an ordered sequence of nodes, where every operand of a node is defined before the node
//     itself (so the order is also a valid execution order), and an optional root node.
//   - Node: the result of one operation, with a unique id within the module, an operation type, an ordered
//     list of operands and a shape.
//
// ## Error Handling
//
// Like the rest of GoMLX graph building, building functions panic (with a stack trace, see package
// github.com/gomlx/exceptions) on invalid inputs, instead of returning errors at every call. Use
// exceptions.TryCatch[error] to convert them to an error when building from untrusted input.
// Validate returns an error for a graph that was mutated into an inconsistent state.
//
// ## Mutation
//
// Rewriting passes use the mutation API: InsertBefore, Node.ReplaceOperand, Node.SetWindow,
// ReplaceAllUsesWith and RemoveNode. Passes should iterate over a snapshot of the nodes (Computation.Nodes
// returns a copy), since mutations change the order and contents of the computation.
package graph

import (
	"slices"
	"strings"
	"sync"

	"github.com/gomlx/convlower/types/sets"
	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
)

// NodeId is a unique node id within a Module.
type NodeId int

// InvalidNodeId indicates a node that failed to be created.
const InvalidNodeId = NodeId(-1)

// Module is a collection of named computations, one of them optionally marked as the entry.
//
// Node ids are allocated from a module-wide counter protected by a mutex, so independent computations of
// the same module can be built and rewritten concurrently. A single computation must not be mutated
// concurrently.
type Module struct {
	name string

	mu           sync.Mutex
	computations map[string]*Computation
	entry        string
	nextId       NodeId // Above every id in use.
	reservedId   NodeId
	usedIds      sets.Set[NodeId]
}

// NewModule creates an empty module.
func NewModule(name string) *Module {
	return &Module{
		name:         name,
		computations: make(map[string]*Computation),
		reservedId:   InvalidNodeId,
		usedIds:      sets.Make[NodeId](),
	}
}

// Name of the module.
func (m *Module) Name() string { return m.name }

// NewComputation creates a new empty computation in the module.
// It panics if a computation with the same name already exists.
func (m *Module) NewComputation(name string) *Computation {
	m.mu.Lock()
	defer m.mu.Unlock()
	if name == "" {
		exceptions.Panicf("Module.NewComputation: computation name cannot be empty")
	}
	if _, found := m.computations[name]; found {
		exceptions.Panicf("Module.NewComputation: computation %q already exists in module %q", name, m.name)
	}
	c := &Computation{module: m, name: name}
	m.computations[name] = c
	return c
}

// Computation returns the computation with the given name, or nil if it doesn't exist.
func (m *Module) Computation(name string) *Computation {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.computations[name]
}

// Computations returns the computations of the module sorted by name.
func (m *Module) Computations() []*Computation {
	m.mu.Lock()
	defer m.mu.Unlock()
	comps := make([]*Computation, 0, len(m.computations))
	for _, c := range m.computations {
		comps = append(comps, c)
	}
	slices.SortFunc(comps, func(a, b *Computation) int { return strings.Compare(a.name, b.name) })
	return comps
}

// SetEntry marks the computation with the given name as the entry of the module.
func (m *Module) SetEntry(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, found := m.computations[name]; !found {
		exceptions.Panicf("Module.SetEntry: unknown computation %q in module %q", name, m.name)
	}
	m.entry = name
}

// EntryComputation returns the entry computation, or nil if none was set.
func (m *Module) EntryComputation() *Computation {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.entry == "" {
		return nil
	}
	return m.computations[m.entry]
}

// SetNextId reserves the id to be used by the next node created in the module. Nodes created after that one
// get ids above every id used so far.
// It is used by parsers that need to preserve node ids.
// It returns an error if the id is invalid or already in use.
func (m *Module) SetNextId(id NodeId) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id < 0 {
		return errors.Errorf("invalid node id %d", id)
	}
	if m.usedIds.Has(id) {
		return errors.Errorf("node id %%%d already in use in module %q", id, m.name)
	}
	m.reservedId = id
	return nil
}

// allocateId returns a new unique node id: the one reserved with SetNextId if any, otherwise one above every
// id allocated so far.
func (m *Module) allocateId() NodeId {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextId
	if m.reservedId != InvalidNodeId && !m.usedIds.Has(m.reservedId) {
		id = m.reservedId
	}
	m.reservedId = InvalidNodeId
	m.usedIds.Insert(id)
	m.nextId = max(m.nextId, id+1)
	return id
}

// NumNodes returns the total number of nodes in all computations of the module.
func (m *Module) NumNodes() (count int) {
	for _, c := range m.Computations() {
		count += c.NumNodes()
	}
	return
}

// Validate checks the consistency of all computations, see Computation.Validate.
func (m *Module) Validate() error {
	for _, c := range m.Computations() {
		if err := c.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// String returns the textual form of the module, parseable by package graphtext.
func (m *Module) String() string {
	var sb strings.Builder
	sb.WriteString("module ")
	sb.WriteString(m.name)
	if entry := m.EntryComputation(); entry != nil {
		sb.WriteString(" entry ")
		sb.WriteString(entry.name)
	}
	sb.WriteString("\n")
	for _, c := range m.Computations() {
		sb.WriteString(c.String())
	}
	return sb.String()
}

// Computation is an ordered sequence of nodes: every operand of a node is defined before the node.
type Computation struct {
	module     *Module
	name       string
	nodes      []*Node
	parameters []*Node
	root       *Node
}

// Name of the computation.
func (c *Computation) Name() string { return c.name }

// Module that owns the computation.
func (c *Computation) Module() *Module { return c.module }

// Nodes returns a snapshot of the nodes of the computation, in order.
// Mutations to the computation don't affect the returned slice.
func (c *Computation) Nodes() []*Node {
	return slices.Clone(c.nodes)
}

// NumNodes returns the number of nodes in the computation.
func (c *Computation) NumNodes() int { return len(c.nodes) }

// Parameters returns the parameter nodes, in the order they were created.
func (c *Computation) Parameters() []*Node {
	return slices.Clone(c.parameters)
}

// Root returns the node whose value the computation returns, or nil if not set.
func (c *Computation) Root() *Node { return c.root }

// SetRoot sets the node whose value the computation returns.
func (c *Computation) SetRoot(n *Node) {
	c.checkOwned("SetRoot", n)
	c.root = n
}

// NodeById returns the node with the given id, or nil if not in this computation.
func (c *Computation) NodeById(id NodeId) *Node {
	for _, n := range c.nodes {
		if n.id == id {
			return n
		}
	}
	return nil
}

// position returns the index of the node in the computation, or -1.
func (c *Computation) position(n *Node) int {
	return slices.Index(c.nodes, n)
}

func (c *Computation) checkOwned(method string, nodes ...*Node) {
	for _, n := range nodes {
		if n == nil {
			exceptions.Panicf("Computation(%q).%s: nil node", c.name, method)
		}
		if n.computation != c {
			exceptions.Panicf("Computation(%q).%s: node %s belongs to a different computation", c.name, method, n.Ref())
		}
	}
}

// String returns the textual form of the computation.
func (c *Computation) String() string {
	var sb strings.Builder
	sb.WriteString("computation ")
	sb.WriteString(c.name)
	sb.WriteString(" {\n")
	for _, n := range c.nodes {
		sb.WriteString("  ")
		sb.WriteString(n.String())
		sb.WriteString("\n")
	}
	if c.root != nil {
		sb.WriteString("  root ")
		sb.WriteString(c.root.Ref())
		sb.WriteString("\n")
	}
	sb.WriteString("}\n")
	return sb.String()
}
