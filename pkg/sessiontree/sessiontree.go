// Package sessiontree implements the at-most-one-session-per-port-id index
// that backs each of a transport's three session kinds (message,
// service-request, service-response): a map with "one live entry per key,
// reject a duplicate" semantics. It has no locking: concurrent sessions
// racing to claim a key cannot arise under the core's single-threaded
// ownership model, where a session is only ever created by the one caller
// holding the transport.
package sessiontree

import "github.com/OpenCyphal-Garage/libuavcan/pkg/cyphal"

// Tree is a keyed index of live values of type V, one per PortID. It is not
// safe for concurrent use.
type Tree[V any] struct {
	nodes map[cyphal.PortID]V
}

// New builds an empty Tree.
func New[V any]() *Tree[V] {
	return &Tree[V]{nodes: make(map[cyphal.PortID]V)}
}

// Find returns the node at port, if any.
func (t *Tree[V]) Find(port cyphal.PortID) (V, bool) {
	v, ok := t.nodes[port]
	return v, ok
}

// EnsureNew inserts v at port and returns true, or leaves the tree
// unchanged and returns false if a node already occupies that port — the
// "at most one session per port id" invariant is enforced here, at the
// single call site every session constructor routes through.
func (t *Tree[V]) EnsureNew(port cyphal.PortID, v V) bool {
	if _, exists := t.nodes[port]; exists {
		return false
	}
	t.nodes[port] = v
	return true
}

// Remove deletes the node at port, if any. Used both for ordinary session
// teardown and to roll back an EnsureNew insertion when a later step of
// session construction (framer port registration) fails.
func (t *Tree[V]) Remove(port cyphal.PortID) {
	delete(t.nodes, port)
}

// Len reports the number of live nodes.
func (t *Tree[V]) Len() int { return len(t.nodes) }

// Walk calls fn for every live node. fn must not mutate the tree.
func (t *Tree[V]) Walk(fn func(port cyphal.PortID, v V)) {
	for port, v := range t.nodes {
		fn(port, v)
	}
}

// NodeSnapshot is the debug-introspection view of one live tree node: just
// its port id, since a session's internal state is private to its own
// package and traversal here exists only to report which ports are live.
type NodeSnapshot struct {
	Port cyphal.PortID
}

// Snapshot lists every live node's port id, for debug introspection.
func (t *Tree[V]) Snapshot() []NodeSnapshot {
	out := make([]NodeSnapshot, 0, len(t.nodes))
	for port := range t.nodes {
		out = append(out, NodeSnapshot{Port: port})
	}
	return out
}
