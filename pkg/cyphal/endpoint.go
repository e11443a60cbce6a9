package cyphal

// Fixed-port UDP addressing convention: subjects map to a multicast group
// derived from their port id, and each node's service traffic (both
// requests it receives and responses it receives) lands on one multicast
// group derived from its own node id. This is not the real Cyphal/UDP
// wire convention — out of scope per the framer's on-wire codec — but it
// is a fixed, discoverable-by-formula mapping, consistent with the
// non-goal that rules out dynamic discovery, not fixed conventions.
const (
	subjectMulticastBase = 0xEF000000 // 239.0.0.0/8, locally-scoped multicast
	serviceMulticastBase = 0xEF010000 // 239.1.0.0/16
	fixedUDPPort         = 13431
)

// SubjectEndpoint derives the multicast endpoint a subject's traffic is
// conventionally reachable on.
func SubjectEndpoint(port PortID) UDPEndpoint {
	addr := subjectMulticastBase + uint32(port)
	return UDPEndpoint{IP: ipFromUint32(addr), Port: fixedUDPPort}
}

// ServiceEndpoint derives the multicast endpoint a node's service traffic
// (requests addressed to it, responses addressed to it) is conventionally
// reachable on.
func ServiceEndpoint(node NodeID) UDPEndpoint {
	addr := serviceMulticastBase + uint32(node)
	return UDPEndpoint{IP: ipFromUint32(addr), Port: fixedUDPPort}
}

func ipFromUint32(v uint32) []byte {
	return []byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
}
