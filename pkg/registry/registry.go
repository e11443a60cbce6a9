// Package registry names the boundary to the Cyphal registry tree and the
// higher-level Cyphal-service facade that would sit above this transport
// core in a full node — DSDL type registration, CRC-checked register
// values, the service call convenience wrappers. Both are explicit
// out-of-scope external collaborators: this package defines only the
// narrow capability interfaces, never an implementation. The transport
// core reads a node id through Tree; ServiceFacade has no caller here.
package registry

import "github.com/OpenCyphal-Garage/libuavcan/pkg/cyphal"

// Tree is the boundary interface to an external Cyphal register tree. A
// real implementation would back this with persistent, CRC-checked
// register storage; this module has no such implementation in scope.
type Tree interface {
	// Get returns the raw bytes of a named register, or ok=false if it
	// does not exist.
	Get(name string) (value []byte, ok bool)
	// Set stores or replaces a named register's value.
	Set(name string, value []byte) error
}

// ServiceFacade is the boundary interface to an external Cyphal-service
// convenience layer built atop the session API this module implements.
// Out of scope here; named so a demonstrator can depend on the shape
// without this module attempting DSDL codegen or service dispatch tables.
type ServiceFacade interface {
	// Call issues a request on serviceID to server and blocks (via the
	// caller's own executor integration) until a matching response
	// arrives or the call's deadline passes.
	Call(server cyphal.NodeID, serviceID cyphal.PortID, request []byte) (response []byte, err error)
}
