// Package framer stands in for the external Cyphal framing library the
// transport core is specified to consume through a narrow surface: push a
// transfer, pop a frame, accept a frame, build a transfer. Framer owns the
// per-medium TX queues and the RX reassembly/dedup state; everything about
// the real wire format (DSDL tail bytes, CRCs, the actual Cyphal/UDP
// header layout) is out of scope and is not attempted here — this package
// defines its own small self-describing frame header sufficient to
// exercise fragmentation, reassembly, and duplicate suppression end to
// end, without claiming wire compatibility with real Cyphal nodes.
package framer

import (
	"encoding/binary"

	"github.com/OpenCyphal-Garage/libuavcan/pkg/alloc"
	"github.com/OpenCyphal-Garage/libuavcan/pkg/cyphal"
)

// PortKind discriminates the three session flavors sharing the PortID
// namespace: a message subject, a service's request side, and a service's
// response side each get their own registration namespace so port id 5 can
// be, e.g., both a subject and a service without collision.
type PortKind int

const (
	PortMessage PortKind = iota
	PortRequest
	PortResponse
)

func (k PortKind) String() string {
	switch k {
	case PortMessage:
		return "message"
	case PortRequest:
		return "request"
	case PortResponse:
		return "response"
	default:
		return "unknown"
	}
}

// maxFragmentPayload bounds a single frame's carried payload. The real
// framer would size this against each medium's actual negotiated MTU; this
// stand-in uses one fixed conservative size for every medium (a frame is
// at most headerSize+768 = 788 bytes). Neither this package nor the
// transport consults TxSocket.MTU(); frames are handed to the socket
// without a size check against it.
const maxFragmentPayload = 768

const headerSize = 1 + 2 + 8 + 1 + 2 + 2 + 2 + 2 // kind,port,transferID,priority,remoteNode,fragIdx,fragTotal,payloadLen

// Port is the framer-side registration returned by RegisterPort. UserRef is
// the opaque back-pointer the transport stashes the owning session in, so
// Dispatch can hand completed transfers straight to their acceptor without
// a second tree lookup.
type Port struct {
	Kind     PortKind
	PortID   cyphal.PortID
	UserRef  any
	idleTime cyphal.Duration
}

// SetTransferIDTimeout forwards the RX session's configured staleness
// window; Dispatch uses it to sweep abandoned partial reassemblies for
// this port.
func (p *Port) SetTransferIDTimeout(d cyphal.Duration) { p.idleTime = d }

type portKey struct {
	kind PortKind
	port cyphal.PortID
}

type reassemblyKey struct {
	port         portKey
	remoteNodeID cyphal.NodeID
	transferID   cyphal.TransferID
}

type inflight struct {
	fragments [][]byte
	have      int
	priority  cyphal.Priority
	startedAt cyphal.Time
}

// TransferVariant carries the publish/request/respond discrimination and
// addressing for SendTransfer. RemoteNodeID is the broadcast-irrelevant
// field for PortMessage, the server's node id for PortRequest, and the
// requesting client's node id for PortResponse.
type TransferVariant struct {
	Kind         PortKind
	Port         cyphal.PortID
	RemoteNodeID cyphal.NodeID
	Metadata     cyphal.TransferMetadata
}

// Framer holds one TX queue per medium plus all RX-side port registrations
// and in-flight reassembly state. Not safe for concurrent use.
type Framer struct {
	res          *alloc.Resources
	nodeID       cyphal.NodeID
	queues       []*txQueue
	dscp         []uint8
	ports        map[portKey]*Port
	inflights    map[reassemblyKey]*inflight
	lastAccepted map[reassemblyKey]cyphal.TransferID
}

// New builds a Framer with one TX queue per medium, each bounded to
// capacityPerMedium (0 = unbounded). res may be nil to skip the general
// allocator accounting SendTransfer performs when it must flatten
// non-contiguous fragments.
func New(mediumCount, capacityPerMedium int, res *alloc.Resources) *Framer {
	f := &Framer{
		res:          res,
		queues:       make([]*txQueue, mediumCount),
		dscp:         make([]uint8, mediumCount),
		ports:        make(map[portKey]*Port),
		inflights:    make(map[reassemblyKey]*inflight),
		lastAccepted: make(map[reassemblyKey]cyphal.TransferID),
	}
	for i := range f.queues {
		f.queues[i] = newTxQueue(capacityPerMedium)
	}
	return f
}

// SetNodeID updates the node id the framer stamps onto publish headers.
func (f *Framer) SetNodeID(id cyphal.NodeID) { f.nodeID = id }

// SetMediumDSCP sets the DSCP value stamped onto every TxQueueItem built
// for medium i. Framer-owned, per spec: the socket sends it unchanged.
func (f *Framer) SetMediumDSCP(mediumIndex int, dscp uint8) { f.dscp[mediumIndex] = dscp }

// RegisterPort installs a new port under (kind, port). Fails with an
// ArgumentError if one is already registered — the duplicate-session
// rejection the session tree also enforces one layer up.
func (f *Framer) RegisterPort(kind PortKind, port cyphal.PortID, userRef any) (*Port, error) {
	key := portKey{kind: kind, port: port}
	if _, exists := f.ports[key]; exists {
		return nil, cyphal.NewArgumentError("port %s/%d already registered", kind, port)
	}
	p := &Port{Kind: kind, PortID: port, UserRef: userRef}
	f.ports[key] = p
	return p, nil
}

// UnregisterPort removes a port's registration and discards any partial
// reassembly state addressed to it.
func (f *Framer) UnregisterPort(kind PortKind, port cyphal.PortID) {
	key := portKey{kind: kind, port: port}
	delete(f.ports, key)
	for rk := range f.inflights {
		if rk.port == key {
			delete(f.inflights, rk)
		}
	}
}

// QueueLen reports how many frames are queued for medium i, for tests and
// introspection.
func (f *Framer) QueueLen(mediumIndex int) int { return f.queues[mediumIndex].Len() }

// PeekHead returns medium i's head queue item without removing it.
func (f *Framer) PeekHead(mediumIndex int) (TxQueueItem, bool) {
	return f.queues[mediumIndex].head()
}

// PopFrame removes medium i's head queue item, once the socket has
// accepted it.
func (f *Framer) PopFrame(mediumIndex int) { f.queues[mediumIndex].popFrame() }

// PopTransfer removes every frame of the head item's logical transfer from
// medium i's queue, used on deadline expiry and on send failure.
func (f *Framer) PopTransfer(mediumIndex int) {
	head, ok := f.queues[mediumIndex].head()
	if !ok {
		return
	}
	f.queues[mediumIndex].popTransfer(head.key)
}

// SendTransfer is "push a transfer": it fragments payload into frames no
// larger than maxFragmentPayload, stamps each with variant's metadata, and
// enqueues the full set onto every medium's TX queue for redundant
// delivery. If fragments is non-contiguous (len > 1) it is first flattened
// into one buffer charged against the general allocator category.
func (f *Framer) SendTransfer(deadline cyphal.Time, dest cyphal.Destination, variant TransferVariant, fragments [][]byte) error {
	payload, err := f.flatten(fragments)
	if err != nil {
		return err
	}

	key := transferKey{kind: variant.Kind, port: variant.Port, remoteNodeID: variant.RemoteNodeID, transferID: variant.Metadata.TransferID}

	frames := buildFrames(variant, f.nodeID, payload)
	for _, q := range f.queues {
		if q.WouldOverflow(len(frames)) {
			return cyphal.NewMemoryError("tx_capacity")
		}
	}
	for i, q := range f.queues {
		for _, frame := range frames {
			q.push(TxQueueItem{
				Deadline:    deadline,
				Destination: dest,
				DSCP:        f.dscp[i],
				Payload:     frame,
				Priority:    variant.Metadata.Priority,
				key:         key,
			})
		}
	}
	return nil
}

func (f *Framer) flatten(fragments [][]byte) ([]byte, error) {
	if len(fragments) == 1 {
		return fragments[0], nil
	}
	n := 0
	for _, frag := range fragments {
		n += len(frag)
	}
	var buf []byte
	var err error
	if f.res != nil {
		buf, err = f.res.Alloc(alloc.CategoryGeneral, n)
		if err != nil {
			return nil, err
		}
		buf = buf[:0]
	} else {
		buf = make([]byte, 0, n)
	}
	for _, frag := range fragments {
		buf = append(buf, frag...)
	}
	return buf, nil
}

// buildFrames is "build a transfer" run in reverse: splitting one logical
// transfer's payload into the wire frames that will later be reassembled
// by the peer's Dispatch.
func buildFrames(variant TransferVariant, localNodeID cyphal.NodeID, payload []byte) [][]byte {
	total := (len(payload) + maxFragmentPayload - 1) / maxFragmentPayload
	if total == 0 {
		total = 1
	}
	// The header's node-id field identifies the sender to the receiver, not
	// the addressee: variant.RemoteNodeID is the destination the session
	// layer is addressing (used by destinationFor for socket routing), so it
	// must not be echoed onto the wire in its place.
	remoteNodeID := localNodeID

	frames := make([][]byte, 0, total)
	for i := 0; i < total; i++ {
		start := i * maxFragmentPayload
		end := start + maxFragmentPayload
		if end > len(payload) {
			end = len(payload)
		}
		chunk := payload[start:end]

		frame := make([]byte, headerSize+len(chunk))
		frame[0] = byte(variant.Kind)
		binary.BigEndian.PutUint16(frame[1:3], uint16(variant.Port))
		binary.BigEndian.PutUint64(frame[3:11], uint64(variant.Metadata.TransferID))
		frame[11] = byte(variant.Metadata.Priority)
		binary.BigEndian.PutUint16(frame[12:14], uint16(remoteNodeID))
		binary.BigEndian.PutUint16(frame[14:16], uint16(i))
		binary.BigEndian.PutUint16(frame[16:18], uint16(total))
		binary.BigEndian.PutUint16(frame[18:20], uint16(len(chunk)))
		copy(frame[headerSize:], chunk)
		frames = append(frames, frame)
	}
	return frames
}

// Dispatch is "accept a frame" (covering both the source's
// rpc_dispatcher_receive and accept_rx_frame, which this package collapses
// into one entry point since its self-describing header makes kind-based
// routing internal rather than something the transport must pre-select).
// It returns ok=false when the frame addresses a port this framer has no
// registration for (silently dropped, per the framer's own duplicate/
// unknown-port discard policy) or when it is a duplicate of an
// already-delivered transfer.
func (f *Framer) Dispatch(now cyphal.Time, datagram []byte, mediumIndex int) (transfer *cyphal.ServiceRxTransfer, owner any, ok bool, err error) {
	if len(datagram) < headerSize {
		return nil, nil, false, cyphal.NewFramerError("datagram shorter than header")
	}
	kind := PortKind(datagram[0])
	port := cyphal.PortID(binary.BigEndian.Uint16(datagram[1:3]))
	transferID := cyphal.TransferID(binary.BigEndian.Uint64(datagram[3:11]))
	priority := cyphal.Priority(datagram[11])
	remoteNodeID := cyphal.NodeID(binary.BigEndian.Uint16(datagram[12:14]))
	fragIndex := int(binary.BigEndian.Uint16(datagram[14:16]))
	fragTotal := int(binary.BigEndian.Uint16(datagram[16:18]))
	payloadLen := int(binary.BigEndian.Uint16(datagram[18:20]))
	if headerSize+payloadLen > len(datagram) || fragTotal <= 0 || fragIndex >= fragTotal {
		return nil, nil, false, cyphal.NewFramerError("malformed frame header")
	}
	chunk := datagram[headerSize : headerSize+payloadLen]

	pkey := portKey{kind: kind, port: port}
	p, registered := f.ports[pkey]
	if !registered {
		return nil, nil, false, nil
	}

	rkey := reassemblyKey{port: pkey, remoteNodeID: remoteNodeID, transferID: transferID}
	if last, seen := f.lastAccepted[rkey.withoutTransferID()]; seen && last == transferID {
		return nil, nil, false, nil // duplicate of the most recently delivered transfer for this sender
	}

	f.sweepStale(pkey, now, p.idleTime)

	entry, exists := f.inflights[rkey]
	if !exists {
		entry = &inflight{fragments: make([][]byte, fragTotal), priority: priority, startedAt: now}
		f.inflights[rkey] = entry
	}
	if entry.fragments[fragIndex] == nil {
		buf := make([]byte, len(chunk))
		copy(buf, chunk)
		entry.fragments[fragIndex] = buf
		entry.have++
	}
	if entry.have < fragTotal {
		return nil, nil, false, nil
	}

	delete(f.inflights, rkey)
	f.lastAccepted[rkey.withoutTransferID()] = transferID

	full := make([]byte, 0, len(chunk)*fragTotal)
	for _, frag := range entry.fragments {
		full = append(full, frag...)
	}

	t := &cyphal.ServiceRxTransfer{
		Payload: full,
		Metadata: cyphal.TransferMetadata{
			TransferID: transferID,
			Timestamp:  now,
			Priority:   entry.priority,
		},
		RemoteNodeID: remoteNodeID,
	}
	return t, p.UserRef, true, nil
}

func (rk reassemblyKey) withoutTransferID() reassemblyKey {
	return reassemblyKey{port: rk.port, remoteNodeID: rk.remoteNodeID}
}

// sweepStale discards partial reassemblies for port older than timeout.
// timeout of 0 means no sweeping (the session left the default in place).
func (f *Framer) sweepStale(port portKey, now cyphal.Time, timeout cyphal.Duration) {
	if timeout == 0 {
		return
	}
	for k, entry := range f.inflights {
		if k.port != port {
			continue
		}
		if entry.startedAt.Add(timeout).Before(now) {
			delete(f.inflights, k)
		}
	}
}
