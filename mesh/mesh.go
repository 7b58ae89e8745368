// Copyright (C) 2025 Michael J. Fromberger. All Rights Reserved.

// Package mesh provides transports that connect chain-call nodes: an
// in-process mesh for nodes sharing an address space, and a wire link
// for nodes joined by a packet channel.
package mesh

import (
	"context"
	"fmt"
	"sync"

	"github.com/creachadair/chaincall"
)

// A Mesh is an in-process transport connecting nodes by ID. Delivery is
// a direct push to the target node's inbound queue, with no encoding.
type Mesh struct {
	μ     sync.Mutex
	nodes map[chaincall.NodeID]*chaincall.Node
}

// New constructs an empty mesh.
func New() *Mesh { return &Mesh{nodes: make(map[chaincall.NodeID]*chaincall.Node)} }

// Add registers n with the mesh under its own ID. It panics if a node
// with the same ID is already registered.
func (m *Mesh) Add(n *chaincall.Node) *chaincall.Node {
	m.μ.Lock()
	defer m.μ.Unlock()
	if _, ok := m.nodes[n.ID()]; ok {
		panic(fmt.Sprintf("node %q is already registered", n.ID()))
	}
	m.nodes[n.ID()] = n
	return n
}

// Remove removes the node with the given ID from the mesh, if present.
func (m *Mesh) Remove(id chaincall.NodeID) {
	m.μ.Lock()
	defer m.μ.Unlock()
	delete(m.nodes, id)
}

// Deliver implements a method of the [chaincall.Transport] interface.
// Delivery succeeds once the target node has queued the envelope.
func (m *Mesh) Deliver(_ context.Context, target chaincall.NodeID, env *chaincall.Envelope) error {
	m.μ.Lock()
	n, ok := m.nodes[target]
	m.μ.Unlock()
	if !ok {
		return fmt.Errorf("no node %q in mesh", target)
	}
	return n.Push(env)
}

// Local is a pair of mesh-connected nodes, suitable for testing.
type Local struct {
	A *chaincall.Node
	B *chaincall.Node
	M *Mesh
}

// NewLocal constructs nodes from the given options, joins them on a
// fresh mesh, and starts both.
func NewLocal(a, b chaincall.Options) *Local {
	m := New()
	na := m.Add(chaincall.NewNode(a))
	nb := m.Add(chaincall.NewNode(b))
	na.Start(m)
	nb.Start(m)
	return &Local{A: na, B: nb, M: m}
}

// Stop shuts down both nodes and blocks until both have exited.
func (l *Local) Stop() error {
	aerr := l.A.Stop()
	berr := l.B.Stop()
	if aerr != nil {
		return aerr
	}
	return berr
}
