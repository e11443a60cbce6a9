package transport

import (
	"encoding/binary"

	"go.uber.org/zap"

	"github.com/OpenCyphal-Garage/libuavcan/pkg/alloc"
	"github.com/OpenCyphal-Garage/libuavcan/pkg/cyphal"
	"github.com/OpenCyphal-Garage/libuavcan/pkg/framer"
	"github.com/OpenCyphal-Garage/libuavcan/pkg/introspect"
	"github.com/OpenCyphal-Garage/libuavcan/pkg/media"
	"github.com/OpenCyphal-Garage/libuavcan/pkg/registry"
	"github.com/OpenCyphal-Garage/libuavcan/pkg/session"
	"github.com/OpenCyphal-Garage/libuavcan/pkg/sessiontree"
)

// MaxMedia bounds the redundant media count, standing in for the
// unspecified "protocol max" the design refers to.
const MaxMedia = 8

// ReportKind tags the transient-error report passed to a
// TransientErrorHandler, naming the operation that failed.
type ReportKind int

const (
	ReportMediaMakeTxSocket ReportKind = iota
	ReportMediaMakeRxSocket
	ReportMediaTxSocketSend
	ReportMediaRxSocketReceive
	ReportFramerTxPublish
	ReportFramerTxRequest
	ReportFramerTxRespond
	ReportFramerRxAccept
	ReportFramerRxSvcReceive
	ReportConfigureMedia
	ReportMediaConfig
)

func (k ReportKind) String() string {
	switch k {
	case ReportMediaMakeTxSocket:
		return "media_make_tx_socket"
	case ReportMediaMakeRxSocket:
		return "media_make_rx_socket"
	case ReportMediaTxSocketSend:
		return "media_tx_socket_send"
	case ReportMediaRxSocketReceive:
		return "media_rx_socket_receive"
	case ReportFramerTxPublish:
		return "framer_tx_publish"
	case ReportFramerTxRequest:
		return "framer_tx_request"
	case ReportFramerTxRespond:
		return "framer_tx_respond"
	case ReportFramerRxAccept:
		return "framer_rx_accept"
	case ReportFramerRxSvcReceive:
		return "framer_rx_svc_receive"
	case ReportConfigureMedia:
		return "configure_media"
	case ReportMediaConfig:
		return "media_config"
	default:
		return "unknown"
	}
}

// Report describes one transient failure for the handler to inspect.
// CorrelationID ties together every Report produced within the same Run
// call, so a log aggregator can group a tick's failures even across
// multiple media.
type Report struct {
	Kind          ReportKind
	MediumIndex   int
	Failure       *cyphal.Failure
	CorrelationID string
}

// TransientErrorHandler decides the fate of a Report: nil to swallow and
// continue, or a Failure to propagate and abort the rest of this tick.
type TransientErrorHandler func(*Report) *cyphal.Failure

// acceptor is satisfied by every RX session kind; Transport depends on it
// structurally rather than importing a concrete session type for dispatch.
type acceptor interface {
	AcceptRxTransfer(cyphal.ServiceRxTransfer)
}

// Transport is the cooperative single-threaded transport core.
type Transport struct {
	res    *alloc.Resources
	fr     *framer.Framer
	media  []media.Medium
	txSock []media.TxSocket
	rxSock []media.RxSocket

	nodeID cyphal.NodeID

	msgRx  *sessiontree.Tree[*session.MessageRx]
	reqRx  *sessiontree.Tree[*session.RequestRx]
	respRx *sessiontree.Tree[*session.ResponseRx]

	handler TransientErrorHandler

	runCorrelationID string
}

// New validates the media set and builds a Transport. txCapacityPerMedium
// bounds each medium's framer TX queue (0 = unbounded). res may be nil to
// opt out of allocator accounting.
func New(mediaSet []media.Medium, res *alloc.Resources, txCapacityPerMedium int) (*Transport, error) {
	if len(mediaSet) == 0 {
		return nil, cyphal.NewArgumentError("a transport needs at least one medium")
	}
	if len(mediaSet) > MaxMedia {
		return nil, cyphal.NewArgumentError("medium count %d exceeds protocol maximum %d", len(mediaSet), MaxMedia)
	}
	return &Transport{
		res:    res,
		fr:     framer.New(len(mediaSet), txCapacityPerMedium, res),
		media:  mediaSet,
		txSock: make([]media.TxSocket, len(mediaSet)),
		rxSock: make([]media.RxSocket, len(mediaSet)),
		nodeID: cyphal.NodeIDUnset,
		msgRx:  sessiontree.New[*session.MessageRx](),
		reqRx:  sessiontree.New[*session.RequestRx](),
		respRx: sessiontree.New[*session.ResponseRx](),
	}, nil
}

// SetTransientErrorHandler installs (or clears, with nil) the policy Run
// consults on every transient failure.
func (t *Transport) SetTransientErrorHandler(h TransientErrorHandler) { t.handler = h }

// SetMediumDSCP sets the DSCP value stamped, unchanged, onto every frame
// queued for mediumIndex — the socket never inspects or rewrites it.
func (t *Transport) SetMediumDSCP(mediumIndex int, dscp uint8) error {
	if mediumIndex < 0 || mediumIndex >= len(t.media) {
		return cyphal.NewArgumentError("medium index %d out of range [0,%d)", mediumIndex, len(t.media))
	}
	t.fr.SetMediumDSCP(mediumIndex, dscp)
	return nil
}

// LocalNodeID returns the configured node id and whether one is set.
func (t *Transport) LocalNodeID() (cyphal.NodeID, bool) {
	if t.nodeID.IsSet() {
		return t.nodeID, true
	}
	return 0, false
}

// SetLocalNodeID is idempotent for the already-set value and rejects any
// other re-set, including a re-set to the unset sentinel — an open
// question in the design this core follows, resolved here in favor of
// surfacing ArgumentError rather than guessing at reset semantics.
func (t *Transport) SetLocalNodeID(id cyphal.NodeID) error {
	if t.nodeID.IsSet() {
		if t.nodeID == id {
			return nil
		}
		return cyphal.NewArgumentError("local node id already set to %d", t.nodeID)
	}
	if id == cyphal.NodeIDUnset {
		return cyphal.NewArgumentError("cannot set local node id to the unset sentinel")
	}
	t.nodeID = id
	t.fr.SetNodeID(id)
	return nil
}

// uavcanNodeIDRegister is the conventional register name the Cyphal
// register-tree boundary (pkg/registry) is expected to carry a node's
// configured id under, mirroring the source's "uavcan.node.id" register.
const uavcanNodeIDRegister = "uavcan.node.id"

// LoadLocalNodeIDFromRegistry layers the external register tree above
// the node's static config: if reg carries a big-endian uint16 under
// uavcanNodeIDRegister, it is applied via SetLocalNodeID. Returns
// applied=false, err=nil if the register is absent, so a caller can fall
// straight back to its config-file node id.
func (t *Transport) LoadLocalNodeIDFromRegistry(reg registry.Tree) (applied bool, err error) {
	raw, ok := reg.Get(uavcanNodeIDRegister)
	if !ok {
		return false, nil
	}
	if len(raw) != 2 {
		return false, cyphal.NewArgumentError("register %q: expected 2 bytes, got %d", uavcanNodeIDRegister, len(raw))
	}
	id := cyphal.NodeID(binary.BigEndian.Uint16(raw))
	if err := t.SetLocalNodeID(id); err != nil {
		return false, err
	}
	zap.L().Info("local node id loaded from registry", zap.String("register", uavcanNodeIDRegister), zap.Uint16("node_id", uint16(id)))
	return true, nil
}

// ---- session.Delegate ----

func (t *Transport) SendTransfer(deadline cyphal.Time, variant framer.TransferVariant, fragments [][]byte) error {
	return t.fr.SendTransfer(deadline, destinationFor(variant), variant, fragments)
}

func (t *Transport) RegisterPort(kind framer.PortKind, port cyphal.PortID, userRef any) (*framer.Port, error) {
	return t.fr.RegisterPort(kind, port, userRef)
}

func (t *Transport) UnregisterPort(kind framer.PortKind, port cyphal.PortID) {
	t.fr.UnregisterPort(kind, port)
}

func destinationFor(variant framer.TransferVariant) cyphal.Destination {
	if variant.Kind == framer.PortMessage {
		return cyphal.SubjectEndpoint(variant.Port)
	}
	return cyphal.ServiceEndpoint(variant.RemoteNodeID)
}

// ---- session factories ----

func (t *Transport) NewMessageTxSession(port cyphal.PortID) (*session.MessageTx, error) {
	return session.NewMessageTx(t, port)
}

func (t *Transport) NewRequestTxSession(server cyphal.NodeID, serviceID cyphal.PortID) (*session.RequestTx, error) {
	return session.NewRequestTx(t, server, serviceID)
}

func (t *Transport) NewResponseTxSession(client cyphal.NodeID, serviceID cyphal.PortID) (*session.ResponseTx, error) {
	return session.NewResponseTx(t, client, serviceID)
}

func (t *Transport) NewMessageRxSession(port cyphal.PortID) (*session.MessageRx, error) {
	return session.NewMessageRx(t, t.msgRx, port)
}

func (t *Transport) NewRequestRxSession(serviceID cyphal.PortID) (*session.RequestRx, error) {
	return session.NewRequestRx(t, t.reqRx, serviceID)
}

func (t *Transport) NewResponseRxSession(serviceID cyphal.PortID) (*session.ResponseRx, error) {
	return session.NewResponseRx(t, t.respRx, serviceID)
}

// report runs failure through the configured handler, or returns it
// unchanged (the default "propagate" policy) if none is set.
func (t *Transport) report(kind ReportKind, mediumIndex int, failure *cyphal.Failure) *cyphal.Failure {
	zap.L().Warn("transient transport error",
		zap.String("kind", kind.String()),
		zap.Int("medium", mediumIndex),
		zap.String("correlation_id", t.runCorrelationID),
		zap.Error(failure),
	)
	if t.handler == nil {
		return failure
	}
	return t.handler(&Report{Kind: kind, MediumIndex: mediumIndex, Failure: failure, CorrelationID: t.runCorrelationID})
}

// Snapshot returns a point-in-time, CBOR-encodable view of which ports
// currently have a live session, for debug introspection only — it is
// never consulted by Run.
func (t *Transport) Snapshot() introspect.TransportSnapshot {
	return introspect.NewTransportSnapshot(t.nodeID, t.msgRx.Snapshot(), t.reqRx.Snapshot(), t.respRx.Snapshot())
}

// Run drains TX fully (bounded by WouldBlock and deadline policy) on every
// medium in index order, then — only once a node id is set — pumps RX on
// every medium in index order. TX runs first on every tick because
// draining frees framer-owned memory that reassembly may need.
func (t *Transport) Run(now cyphal.Time) error {
	t.runCorrelationID = introspect.NewCorrelationID()
	for i := range t.media {
		if f := t.txDrainOne(i, now); f != nil {
			return f
		}
	}
	if !t.nodeID.IsSet() {
		return nil
	}
	for i := range t.media {
		if f := t.rxPumpOne(i, now); f != nil {
			return f
		}
	}
	return nil
}

func (t *Transport) txDrainOne(i int, now cyphal.Time) *cyphal.Failure {
	if t.txSock[i] == nil {
		sock, err := t.media[i].MakeTxSocket()
		if err != nil {
			return t.report(ReportMediaMakeTxSocket, i, cyphal.AsFailure(err))
		}
		t.txSock[i] = sock
	}
	sock := t.txSock[i]

	sent, expired := 0, 0
	defer func() {
		if sent > 0 || expired > 0 {
			zap.L().Debug("tx drain",
				zap.Int("medium", i),
				zap.Int("sent", sent),
				zap.Int("expired", expired),
				zap.String("correlation_id", t.runCorrelationID),
			)
		}
	}()

	for {
		head, ok := t.fr.PeekHead(i)
		if !ok {
			return nil
		}
		if now >= head.Deadline {
			t.fr.PopTransfer(i)
			expired++
			continue
		}
		result, err := sock.Send(head.Deadline, head.Destination, head.DSCP, [][]byte{head.Payload})
		if err != nil {
			t.fr.PopTransfer(i)
			if f := t.report(ReportMediaTxSocketSend, i, cyphal.AsFailure(err)); f != nil {
				return f
			}
			continue
		}
		switch result {
		case media.Accepted:
			t.fr.PopFrame(i)
			sent++
		case media.WouldBlock:
			return nil
		}
	}
}

func (t *Transport) rxPumpOne(i int, now cyphal.Time) *cyphal.Failure {
	if t.rxSock[i] == nil {
		sock, err := t.media[i].MakeRxSocket(cyphal.ServiceEndpoint(t.nodeID))
		if err != nil {
			return t.report(ReportMediaMakeRxSocket, i, cyphal.AsFailure(err))
		}
		t.rxSock[i] = sock
	}
	sock := t.rxSock[i]

	received, completed := 0, 0
	defer func() {
		if received > 0 {
			zap.L().Debug("rx pump",
				zap.Int("medium", i),
				zap.Int("received", received),
				zap.Int("completed", completed),
				zap.String("correlation_id", t.runCorrelationID),
			)
		}
	}()

	for {
		dg, err := sock.Receive()
		if err != nil {
			if f := t.report(ReportMediaRxSocketReceive, i, cyphal.AsFailure(err)); f != nil {
				return f
			}
			return nil
		}
		if dg == nil {
			return nil
		}
		received++

		transfer, owner, ok, derr := t.fr.Dispatch(dg.Timestamp, dg.Payload, i)
		dg.Release()
		if derr != nil {
			if f := t.report(ReportFramerRxAccept, i, cyphal.AsFailure(derr)); f != nil {
				return f
			}
			continue
		}
		if !ok {
			continue
		}
		completed++
		if a, isAcceptor := owner.(acceptor); isAcceptor {
			a.AcceptRxTransfer(*transfer)
		}
	}
}
