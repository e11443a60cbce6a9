// Package session implements the six session flavors the transport hands
// out: three TX entry points that serialize into the framer's TX queues,
// and three RX entry points that register a framer port, insert a tree
// node, and deliver reassembled transfers to a user callback.
//
// Sessions never reach back into the transport through a cyclic pointer:
// per the design notes this codebase works from, a session holds only the
// narrow Delegate capability it needs (framer access) plus a pointer to
// the owning session tree, from which it removes its node on Close. The
// transport's RX pump reaches a session only through its framer port's
// user reference, which Close unregisters, so the transport never
// dereferences a closed session.
package session

import (
	"go.uber.org/zap"

	"github.com/OpenCyphal-Garage/libuavcan/pkg/cyphal"
	"github.com/OpenCyphal-Garage/libuavcan/pkg/framer"
	"github.com/OpenCyphal-Garage/libuavcan/pkg/sessiontree"
)

// Delegate is the transport capability a session needs: push a transfer
// and manage framer port registration. The transport implements this
// directly against its own framer instance.
type Delegate interface {
	SendTransfer(deadline cyphal.Time, variant framer.TransferVariant, fragments [][]byte) error
	RegisterPort(kind framer.PortKind, port cyphal.PortID, userRef any) (*framer.Port, error)
	UnregisterPort(kind framer.PortKind, port cyphal.PortID)
}

// defaultSendTimeout matches the source's documented default.
const defaultSendTimeout = cyphal.Second

// OnReceiveFunc is the callback installed on an RX session. Only one may
// be installed at a time; a later SetOnReceive replaces the prior one.
type OnReceiveFunc func(cyphal.ServiceRxTransfer)

// ---- TX sessions ----

// MessageTxParams is a MessageTx session's fixed configuration.
type MessageTxParams struct {
	Port cyphal.PortID
}

// MessageTx publishes transfers on a subject.
type MessageTx struct {
	delegate Delegate
	params   MessageTxParams
	timeout  cyphal.Duration
}

// NewMessageTx validates port against the subject-id protocol maximum and
// builds a publisher.
func NewMessageTx(delegate Delegate, port cyphal.PortID) (*MessageTx, error) {
	if port > cyphal.MaxSubjectID {
		return nil, cyphal.NewArgumentError("subject id %d exceeds protocol maximum %d", port, cyphal.MaxSubjectID)
	}
	zap.L().Debug("message tx session opened", zap.Uint16("port", uint16(port)))
	return &MessageTx{delegate: delegate, params: MessageTxParams{Port: port}, timeout: defaultSendTimeout}, nil
}

func (s *MessageTx) Params() MessageTxParams { return s.params }

// SetSendTimeout sets the duration added to a transfer's metadata
// timestamp to derive the framer deadline.
func (s *MessageTx) SetSendTimeout(d cyphal.Duration) { s.timeout = d }

// Send enqueues payload for delivery on every medium.
func (s *MessageTx) Send(metadata cyphal.TransferMetadata, fragments [][]byte) error {
	variant := framer.TransferVariant{Kind: framer.PortMessage, Port: s.params.Port, Metadata: metadata}
	return s.delegate.SendTransfer(metadata.Timestamp.Add(s.timeout), variant, fragments)
}

// RequestTxParams is a RequestTx session's fixed configuration: the
// service id and the server it addresses.
type RequestTxParams struct {
	ServiceID    cyphal.PortID
	ServerNodeID cyphal.NodeID
}

// RequestTx issues service requests to one server.
type RequestTx struct {
	delegate Delegate
	params   RequestTxParams
	timeout  cyphal.Duration
}

func NewRequestTx(delegate Delegate, serverNodeID cyphal.NodeID, serviceID cyphal.PortID) (*RequestTx, error) {
	if serviceID > cyphal.MaxServiceID {
		return nil, cyphal.NewArgumentError("service id %d exceeds protocol maximum %d", serviceID, cyphal.MaxServiceID)
	}
	zap.L().Debug("request tx session opened", zap.Uint16("service", uint16(serviceID)), zap.Uint16("server", uint16(serverNodeID)))
	return &RequestTx{
		delegate: delegate,
		params:   RequestTxParams{ServiceID: serviceID, ServerNodeID: serverNodeID},
		timeout:  defaultSendTimeout,
	}, nil
}

func (s *RequestTx) Params() RequestTxParams         { return s.params }
func (s *RequestTx) SetSendTimeout(d cyphal.Duration) { s.timeout = d }

func (s *RequestTx) Send(metadata cyphal.TransferMetadata, fragments [][]byte) error {
	variant := framer.TransferVariant{
		Kind:         framer.PortRequest,
		Port:         s.params.ServiceID,
		RemoteNodeID: s.params.ServerNodeID,
		Metadata:     metadata,
	}
	return s.delegate.SendTransfer(metadata.Timestamp.Add(s.timeout), variant, fragments)
}

// ResponseTxParams is a ResponseTx session's fixed configuration: the
// service id and the client it addresses.
type ResponseTxParams struct {
	ServiceID    cyphal.PortID
	ClientNodeID cyphal.NodeID
}

// ResponseTx answers a previously received request. Correlation with the
// request is by transfer id: responding with metadata.TransferID == T
// produces an RX transfer on the client keyed by that same T.
type ResponseTx struct {
	delegate Delegate
	params   ResponseTxParams
	timeout  cyphal.Duration
}

func NewResponseTx(delegate Delegate, clientNodeID cyphal.NodeID, serviceID cyphal.PortID) (*ResponseTx, error) {
	if serviceID > cyphal.MaxServiceID {
		return nil, cyphal.NewArgumentError("service id %d exceeds protocol maximum %d", serviceID, cyphal.MaxServiceID)
	}
	zap.L().Debug("response tx session opened", zap.Uint16("service", uint16(serviceID)), zap.Uint16("client", uint16(clientNodeID)))
	return &ResponseTx{
		delegate: delegate,
		params:   ResponseTxParams{ServiceID: serviceID, ClientNodeID: clientNodeID},
		timeout:  defaultSendTimeout,
	}, nil
}

func (s *ResponseTx) Params() ResponseTxParams        { return s.params }
func (s *ResponseTx) SetSendTimeout(d cyphal.Duration) { s.timeout = d }

func (s *ResponseTx) Send(metadata cyphal.TransferMetadata, fragments [][]byte) error {
	variant := framer.TransferVariant{
		Kind:         framer.PortResponse,
		Port:         s.params.ServiceID,
		RemoteNodeID: s.params.ClientNodeID,
		Metadata:     metadata,
	}
	return s.delegate.SendTransfer(metadata.Timestamp.Add(s.timeout), variant, fragments)
}

// ---- RX sessions ----

// MessageRxParams is a MessageRx session's fixed configuration.
type MessageRxParams struct {
	Port cyphal.PortID
}

// MessageRx subscribes to a subject.
type MessageRx struct {
	delegate   Delegate
	tree       *sessiontree.Tree[*MessageRx]
	params     MessageRxParams
	framerPort *framer.Port
	onReceive  OnReceiveFunc
	tidTimeout cyphal.Duration
	closed     bool
}

// NewMessageRx inserts a tree node for port, then registers a framer port
// naming this session as its user-reference; a registration failure rolls
// the tree insertion back, per the construction sequence the RX sessions
// share.
func NewMessageRx(delegate Delegate, tree *sessiontree.Tree[*MessageRx], port cyphal.PortID) (*MessageRx, error) {
	if port > cyphal.MaxSubjectID {
		return nil, cyphal.NewArgumentError("subject id %d exceeds protocol maximum %d", port, cyphal.MaxSubjectID)
	}
	s := &MessageRx{delegate: delegate, tree: tree, params: MessageRxParams{Port: port}}
	if !tree.EnsureNew(port, s) {
		return nil, cyphal.NewArgumentError("duplicate message rx session for subject %d", port)
	}
	fp, err := delegate.RegisterPort(framer.PortMessage, port, s)
	if err != nil {
		tree.Remove(port)
		return nil, err
	}
	s.framerPort = fp
	zap.L().Debug("message rx session opened", zap.Uint16("port", uint16(port)))
	return s, nil
}

func (s *MessageRx) Params() MessageRxParams { return s.params }

func (s *MessageRx) SetTransferIDTimeout(d cyphal.Duration) {
	s.tidTimeout = d
	s.framerPort.SetTransferIDTimeout(d)
}

func (s *MessageRx) SetOnReceive(cb OnReceiveFunc) { s.onReceive = cb }

// AcceptRxTransfer is invoked synchronously by the transport's RX pump
// when the framer completes a transfer addressed to this session's port.
func (s *MessageRx) AcceptRxTransfer(t cyphal.ServiceRxTransfer) {
	if s.closed || s.onReceive == nil {
		return
	}
	s.onReceive(t)
}

// Close unregisters the framer port and removes the tree node. Implicitly
// cancels delivery of any further callbacks: once closed, AcceptRxTransfer
// is a no-op even if the transport still holds a stale reference.
func (s *MessageRx) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.delegate.UnregisterPort(framer.PortMessage, s.params.Port)
	s.tree.Remove(s.params.Port)
	zap.L().Debug("message rx session closed", zap.Uint16("port", uint16(s.params.Port)))
	return nil
}

// RequestRxParams is a RequestRx session's fixed configuration.
type RequestRxParams struct {
	ServiceID cyphal.PortID
}

// RequestRx serves incoming requests for one service.
type RequestRx struct {
	delegate   Delegate
	tree       *sessiontree.Tree[*RequestRx]
	params     RequestRxParams
	framerPort *framer.Port
	onReceive  OnReceiveFunc
	tidTimeout cyphal.Duration
	closed     bool
}

func NewRequestRx(delegate Delegate, tree *sessiontree.Tree[*RequestRx], serviceID cyphal.PortID) (*RequestRx, error) {
	if serviceID > cyphal.MaxServiceID {
		return nil, cyphal.NewArgumentError("service id %d exceeds protocol maximum %d", serviceID, cyphal.MaxServiceID)
	}
	s := &RequestRx{delegate: delegate, tree: tree, params: RequestRxParams{ServiceID: serviceID}}
	if !tree.EnsureNew(serviceID, s) {
		return nil, cyphal.NewArgumentError("duplicate request rx session for service %d", serviceID)
	}
	fp, err := delegate.RegisterPort(framer.PortRequest, serviceID, s)
	if err != nil {
		tree.Remove(serviceID)
		return nil, err
	}
	s.framerPort = fp
	zap.L().Debug("request rx session opened", zap.Uint16("service", uint16(serviceID)))
	return s, nil
}

func (s *RequestRx) Params() RequestRxParams { return s.params }

func (s *RequestRx) SetTransferIDTimeout(d cyphal.Duration) {
	s.tidTimeout = d
	s.framerPort.SetTransferIDTimeout(d)
}

func (s *RequestRx) SetOnReceive(cb OnReceiveFunc) { s.onReceive = cb }

func (s *RequestRx) AcceptRxTransfer(t cyphal.ServiceRxTransfer) {
	if s.closed || s.onReceive == nil {
		return
	}
	s.onReceive(t)
}

func (s *RequestRx) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.delegate.UnregisterPort(framer.PortRequest, s.params.ServiceID)
	s.tree.Remove(s.params.ServiceID)
	zap.L().Debug("request rx session closed", zap.Uint16("service", uint16(s.params.ServiceID)))
	return nil
}

// ResponseRxParams is a ResponseRx session's fixed configuration.
type ResponseRxParams struct {
	ServiceID cyphal.PortID
}

// ResponseRx receives responses to requests this node issued on a given
// service. Correlation with the originating request is by transfer id,
// carried symmetrically through RequestTx.Send and ResponseTx.Send.
type ResponseRx struct {
	delegate   Delegate
	tree       *sessiontree.Tree[*ResponseRx]
	params     ResponseRxParams
	framerPort *framer.Port
	onReceive  OnReceiveFunc
	tidTimeout cyphal.Duration
	closed     bool
}

func NewResponseRx(delegate Delegate, tree *sessiontree.Tree[*ResponseRx], serviceID cyphal.PortID) (*ResponseRx, error) {
	if serviceID > cyphal.MaxServiceID {
		return nil, cyphal.NewArgumentError("service id %d exceeds protocol maximum %d", serviceID, cyphal.MaxServiceID)
	}
	s := &ResponseRx{delegate: delegate, tree: tree, params: ResponseRxParams{ServiceID: serviceID}}
	if !tree.EnsureNew(serviceID, s) {
		return nil, cyphal.NewArgumentError("duplicate response rx session for service %d", serviceID)
	}
	fp, err := delegate.RegisterPort(framer.PortResponse, serviceID, s)
	if err != nil {
		tree.Remove(serviceID)
		return nil, err
	}
	s.framerPort = fp
	zap.L().Debug("response rx session opened", zap.Uint16("service", uint16(serviceID)))
	return s, nil
}

func (s *ResponseRx) Params() ResponseRxParams { return s.params }

func (s *ResponseRx) SetTransferIDTimeout(d cyphal.Duration) {
	s.tidTimeout = d
	s.framerPort.SetTransferIDTimeout(d)
}

func (s *ResponseRx) SetOnReceive(cb OnReceiveFunc) { s.onReceive = cb }

func (s *ResponseRx) AcceptRxTransfer(t cyphal.ServiceRxTransfer) {
	if s.closed || s.onReceive == nil {
		return
	}
	s.onReceive(t)
}

func (s *ResponseRx) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.delegate.UnregisterPort(framer.PortResponse, s.params.ServiceID)
	s.tree.Remove(s.params.ServiceID)
	zap.L().Debug("response rx session closed", zap.Uint16("service", uint16(s.params.ServiceID)))
	return nil
}
