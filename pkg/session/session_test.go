package session

import (
	"testing"

	"github.com/OpenCyphal-Garage/libuavcan/pkg/cyphal"
	"github.com/OpenCyphal-Garage/libuavcan/pkg/framer"
	"github.com/OpenCyphal-Garage/libuavcan/pkg/sessiontree"
)

// fakeDelegate is a minimal stand-in for the transport, backed by a real
// *framer.Framer so registration/dispatch semantics are exercised exactly
// as the transport would drive them.
type fakeDelegate struct {
	f      *framer.Framer
	dest   cyphal.Destination
	sent   []framer.TransferVariant
	failOn error
}

func newFakeDelegate() *fakeDelegate {
	return &fakeDelegate{f: framer.New(1, 0, nil), dest: cyphal.UDPEndpoint{Port: 1}}
}

func (d *fakeDelegate) SendTransfer(deadline cyphal.Time, variant framer.TransferVariant, fragments [][]byte) error {
	if d.failOn != nil {
		return d.failOn
	}
	d.sent = append(d.sent, variant)
	return d.f.SendTransfer(deadline, d.dest, variant, fragments)
}

func (d *fakeDelegate) RegisterPort(kind framer.PortKind, port cyphal.PortID, userRef any) (*framer.Port, error) {
	return d.f.RegisterPort(kind, port, userRef)
}

func (d *fakeDelegate) UnregisterPort(kind framer.PortKind, port cyphal.PortID) {
	d.f.UnregisterPort(kind, port)
}

func TestMessageTxRejectsOutOfRangeSubject(t *testing.T) {
	d := newFakeDelegate()
	if _, err := NewMessageTx(d, cyphal.MaxSubjectID+1); err == nil {
		t.Fatalf("expected out-of-range subject id to fail construction")
	}
}

func TestMessageTxSendDelegatesWithTimeoutDeadline(t *testing.T) {
	d := newFakeDelegate()
	tx, err := NewMessageTx(d, 5)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	tx.SetSendTimeout(10 * cyphal.Millisecond)
	if err := tx.Send(cyphal.TransferMetadata{TransferID: 1, Timestamp: 1000, Priority: cyphal.PriorityNominal}, [][]byte{[]byte("x")}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(d.sent) != 1 {
		t.Fatalf("expected one transfer sent, got %d", len(d.sent))
	}
}

func TestMessageRxDuplicateSubjectRejectedThenSucceedsAfterClose(t *testing.T) {
	d := newFakeDelegate()
	tree := sessiontree.New[*MessageRx]()

	first, err := NewMessageRx(d, tree, 9)
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	if _, err := NewMessageRx(d, tree, 9); err == nil {
		t.Fatalf("expected duplicate subject registration to fail")
	}
	if err := first.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := NewMessageRx(d, tree, 9); err != nil {
		t.Fatalf("expected re-registration to succeed after close: %v", err)
	}
}

func TestMessageRxCloseRemovesTreeNode(t *testing.T) {
	d := newFakeDelegate()
	tree := sessiontree.New[*MessageRx]()
	s, err := NewMessageRx(d, tree, 3)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if tree.Len() != 1 {
		t.Fatalf("expected one tree node, got %d", tree.Len())
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if tree.Len() != 0 {
		t.Fatalf("expected tree node removed after close, got %d remaining", tree.Len())
	}
}

func TestMessageRxAcceptRxTransferSilentAfterClose(t *testing.T) {
	d := newFakeDelegate()
	tree := sessiontree.New[*MessageRx]()
	s, _ := NewMessageRx(d, tree, 4)
	fired := false
	s.SetOnReceive(func(cyphal.ServiceRxTransfer) { fired = true })
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	s.AcceptRxTransfer(cyphal.ServiceRxTransfer{})
	if fired {
		t.Fatalf("expected no callback after close")
	}
}

func TestMessageEndToEndSendAndDispatchInvokesCallback(t *testing.T) {
	d := newFakeDelegate()
	tree := sessiontree.New[*MessageRx]()
	rx, err := NewMessageRx(d, tree, 11)
	if err != nil {
		t.Fatalf("new rx: %v", err)
	}
	var got cyphal.ServiceRxTransfer
	count := 0
	rx.SetOnReceive(func(t cyphal.ServiceRxTransfer) { got = t; count++ })

	tx, err := NewMessageTx(d, 11)
	if err != nil {
		t.Fatalf("new tx: %v", err)
	}
	if err := tx.Send(cyphal.TransferMetadata{TransferID: 7, Timestamp: 0, Priority: cyphal.PriorityHigh}, [][]byte{[]byte("payload")}); err != nil {
		t.Fatalf("send: %v", err)
	}

	head, ok := d.f.PeekHead(0)
	if !ok {
		t.Fatalf("expected a queued frame")
	}
	transfer, owner, completed, err := d.f.Dispatch(1000, head.Payload, 0)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if !completed {
		t.Fatalf("expected dispatch to complete the single-frame transfer")
	}
	owner.(*MessageRx).AcceptRxTransfer(*transfer)

	if count != 1 {
		t.Fatalf("expected exactly one callback invocation, got %d", count)
	}
	if string(got.Payload) != "payload" || got.Metadata.TransferID != 7 {
		t.Fatalf("unexpected transfer: %+v", got)
	}
}

func TestRequestRxRejectsOutOfRangeService(t *testing.T) {
	d := newFakeDelegate()
	tree := sessiontree.New[*RequestRx]()
	if _, err := NewRequestRx(d, tree, cyphal.MaxServiceID+1); err == nil {
		t.Fatalf("expected out-of-range service id to fail construction")
	}
}
