// Package cyphal holds the transport-independent data model shared by the
// executor, media, framer, session, and transport packages: node and port
// identifiers, priorities, transfer metadata, and the error taxonomy.
package cyphal

import (
	"fmt"
	"net"
)

// NodeID is a 16-bit node identifier. NodeIDUnset marks an anonymous node.
type NodeID uint16

// NodeIDUnset is the sentinel value meaning "no node id assigned".
const NodeIDUnset NodeID = 0xFFFF

// MaxNodeID is the highest assignable node id for the UDP transport.
const MaxNodeID NodeID = 0xFFFE

// IsSet reports whether id is a concrete (non-anonymous) node id.
func (id NodeID) IsSet() bool { return id != NodeIDUnset }

// PortID is a 16-bit subject or service identifier.
type PortID uint16

// Protocol maxima for the two port-id namespaces.
const (
	MaxSubjectID PortID = 8191
	MaxServiceID PortID = 511
)

// TransferID is a 64-bit monotonically advancing per-session counter.
type TransferID uint64

// Priority is Cyphal's 3-bit transfer priority.
type Priority uint8

const (
	PriorityExceptional Priority = iota
	PriorityImmediate
	PriorityFast
	PriorityHigh
	PriorityNominal
	PriorityLow
	PrioritySlow
	PriorityOptional
)

func (p Priority) String() string {
	switch p {
	case PriorityExceptional:
		return "exceptional"
	case PriorityImmediate:
		return "immediate"
	case PriorityFast:
		return "fast"
	case PriorityHigh:
		return "high"
	case PriorityNominal:
		return "nominal"
	case PriorityLow:
		return "low"
	case PrioritySlow:
		return "slow"
	case PriorityOptional:
		return "optional"
	default:
		return fmt.Sprintf("priority(%d)", uint8(p))
	}
}

// TransferMetadata is the metadata carried by every transfer: its id,
// timestamp, and priority. Service transfers augment this with the remote
// node id (see ServiceRxTransfer).
type TransferMetadata struct {
	TransferID TransferID
	Timestamp  Time
	Priority   Priority
}

// ServiceRxTransfer is delivered to a session's on-receive callback. The
// same shape is used for message, request, and response sessions; for
// messages RemoteNodeID is the publisher, for requests/responses it is the
// client or server respectively.
type ServiceRxTransfer struct {
	Payload      []byte
	Metadata     TransferMetadata
	RemoteNodeID NodeID
}

// Destination is the wire destination of a frame: either a UDP endpoint or
// a CAN arbitration id. Only UDPEndpoint has a concrete medium in this
// module; CANID exists so the media abstraction is not silently UDP-only.
type Destination interface {
	isDestination()
}

// UDPEndpoint addresses a frame to an IPv4/IPv6 host and UDP port.
type UDPEndpoint struct {
	IP   net.IP
	Port uint16
}

func (UDPEndpoint) isDestination() {}

// CANID addresses a frame by its 29-bit (or 11-bit) CAN arbitration id.
type CANID uint32

func (CANID) isDestination() {}
