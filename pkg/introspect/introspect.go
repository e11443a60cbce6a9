// Package introspect builds the debug-only snapshot surface hinted at by
// the transport core's session tree: a CBOR-encodable view of which ports
// currently have a live session, plus a short opaque correlation id
// (via github.com/rs/xid) so multiple reports or snapshots emitted within
// the same executor tick can be tied together in logs. Nothing in this
// package is on the hot TX/RX path; it exists purely for an embedder to
// pull a point-in-time picture of a transport for diagnostics.
package introspect

import (
	"github.com/fxamacker/cbor/v2"
	"github.com/rs/xid"

	"github.com/OpenCyphal-Garage/libuavcan/pkg/cyphal"
	"github.com/OpenCyphal-Garage/libuavcan/pkg/sessiontree"
)

// NewCorrelationID returns a short opaque id, monotonic and globally
// unique per process, suitable for tagging reports produced within one
// tick so a log aggregator can group them.
func NewCorrelationID() string { return xid.New().String() }

// PortSnapshot is one live session's port id, in the shape CBOR encodes.
type PortSnapshot struct {
	Port cyphal.PortID `cbor:"port"`
}

// TransportSnapshot is a point-in-time view of a transport's three
// session trees, tagged with a correlation id.
type TransportSnapshot struct {
	CorrelationID string         `cbor:"id"`
	NodeID        uint16         `cbor:"node_id"`
	MessageRx     []PortSnapshot `cbor:"message_rx"`
	RequestRx     []PortSnapshot `cbor:"request_rx"`
	ResponseRx    []PortSnapshot `cbor:"response_rx"`
}

// NewTransportSnapshot builds a TransportSnapshot from the three trees'
// own Snapshot() output, stamping a fresh correlation id.
func NewTransportSnapshot(nodeID cyphal.NodeID, msgRx, reqRx, respRx []sessiontree.NodeSnapshot) TransportSnapshot {
	return TransportSnapshot{
		CorrelationID: NewCorrelationID(),
		NodeID:        uint16(nodeID),
		MessageRx:     convert(msgRx),
		RequestRx:     convert(reqRx),
		ResponseRx:    convert(respRx),
	}
}

func convert(in []sessiontree.NodeSnapshot) []PortSnapshot {
	out := make([]PortSnapshot, len(in))
	for i, n := range in {
		out[i] = PortSnapshot{Port: n.Port}
	}
	return out
}

// Encode CBOR-encodes the snapshot for shipping to a log sink or a debug
// endpoint.
func (s TransportSnapshot) Encode() ([]byte, error) {
	return cbor.Marshal(s)
}

// Decode parses a CBOR-encoded TransportSnapshot, the inverse of Encode.
func Decode(data []byte) (TransportSnapshot, error) {
	var s TransportSnapshot
	err := cbor.Unmarshal(data, &s)
	return s, err
}
