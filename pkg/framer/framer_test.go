package framer

import (
	"testing"

	"github.com/OpenCyphal-Garage/libuavcan/pkg/cyphal"
)

func TestSendTransferEnqueuesOntoEveryMedium(t *testing.T) {
	f := New(2, 0, nil)
	variant := TransferVariant{
		Kind: PortMessage,
		Port: 7,
		Metadata: cyphal.TransferMetadata{
			TransferID: 1,
			Priority:   cyphal.PriorityNominal,
		},
	}
	if err := f.SendTransfer(1000, cyphal.UDPEndpoint{Port: 9382}, variant, [][]byte{[]byte("hello")}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if f.QueueLen(0) != 1 || f.QueueLen(1) != 1 {
		t.Fatalf("expected 1 frame on each medium, got %d and %d", f.QueueLen(0), f.QueueLen(1))
	}
}

func TestTxQueueOrdersByPriorityThenFIFO(t *testing.T) {
	f := New(1, 0, nil)
	send := func(id cyphal.TransferID, prio cyphal.Priority) {
		v := TransferVariant{Kind: PortMessage, Port: 1, Metadata: cyphal.TransferMetadata{TransferID: id, Priority: prio}}
		if err := f.SendTransfer(1000, cyphal.UDPEndpoint{}, v, [][]byte{[]byte("x")}); err != nil {
			t.Fatalf("send %d: %v", id, err)
		}
	}
	send(1, cyphal.PriorityLow)
	send(2, cyphal.PriorityExceptional)
	send(3, cyphal.PriorityLow)

	var order []cyphal.TransferID
	for f.QueueLen(0) > 0 {
		head, _ := f.PeekHead(0)
		order = append(order, extractTransferID(head.Payload))
		f.PopFrame(0)
	}
	if len(order) != 3 || order[0] != 2 || order[1] != 1 || order[2] != 3 {
		t.Fatalf("expected [2 1 3], got %v", order)
	}
}

func extractTransferID(frame []byte) cyphal.TransferID {
	var id uint64
	for _, b := range frame[3:11] {
		id = id<<8 | uint64(b)
	}
	return cyphal.TransferID(id)
}

func TestPopTransferRemovesAllFramesOfOneTransfer(t *testing.T) {
	f := New(1, 0, nil)
	big := make([]byte, maxFragmentPayload*2+1) // forces 3 frames
	v := TransferVariant{Kind: PortMessage, Port: 1, Metadata: cyphal.TransferMetadata{TransferID: 9, Priority: cyphal.PriorityNominal}}
	if err := f.SendTransfer(1000, cyphal.UDPEndpoint{}, v, [][]byte{big}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if f.QueueLen(0) != 3 {
		t.Fatalf("expected 3 frames queued, got %d", f.QueueLen(0))
	}
	f.PopTransfer(0)
	if f.QueueLen(0) != 0 {
		t.Fatalf("expected transfer pop to clear the queue, got %d remaining", f.QueueLen(0))
	}
}

func TestDispatchReassemblesTwoFrames(t *testing.T) {
	tx := New(1, 0, nil)
	rx := New(1, 0, nil)

	var gotOwner any
	marker := "owner"
	if _, err := rx.RegisterPort(PortMessage, 4, marker); err != nil {
		t.Fatalf("register port: %v", err)
	}

	payload := make([]byte, maxFragmentPayload+10)
	for i := range payload {
		payload[i] = byte(i)
	}
	v := TransferVariant{Kind: PortMessage, Port: 4, Metadata: cyphal.TransferMetadata{TransferID: 42, Priority: cyphal.PriorityHigh}}
	if err := tx.SendTransfer(1000, cyphal.UDPEndpoint{}, v, [][]byte{payload}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if tx.QueueLen(0) != 2 {
		t.Fatalf("expected 2 frames, got %d", tx.QueueLen(0))
	}

	var transfer *cyphal.ServiceRxTransfer
	fireCount := 0
	for tx.QueueLen(0) > 0 {
		head, _ := tx.PeekHead(0)
		tr, owner, ok, err := rx.Dispatch(2000, head.Payload, 0)
		if err != nil {
			t.Fatalf("dispatch: %v", err)
		}
		if ok {
			fireCount++
			transfer = tr
			gotOwner = owner
		}
		tx.PopFrame(0)
	}

	if fireCount != 1 {
		t.Fatalf("expected exactly one completed transfer, got %d", fireCount)
	}
	if gotOwner != marker {
		t.Fatalf("expected owner reference to round-trip, got %v", gotOwner)
	}
	if transfer.Metadata.TransferID != 42 || transfer.Metadata.Priority != cyphal.PriorityHigh {
		t.Fatalf("unexpected metadata: %+v", transfer.Metadata)
	}
	if len(transfer.Payload) != len(payload) {
		t.Fatalf("expected %d reassembled bytes, got %d", len(payload), len(transfer.Payload))
	}
	for i := range payload {
		if transfer.Payload[i] != payload[i] {
			t.Fatalf("payload mismatch at byte %d", i)
		}
	}
}

func TestRegisterPortRejectsDuplicate(t *testing.T) {
	f := New(1, 0, nil)
	if _, err := f.RegisterPort(PortRequest, 3, "a"); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if _, err := f.RegisterPort(PortRequest, 3, "b"); err == nil {
		t.Fatalf("expected duplicate registration to fail")
	}
	f.UnregisterPort(PortRequest, 3)
	if _, err := f.RegisterPort(PortRequest, 3, "c"); err != nil {
		t.Fatalf("expected register to succeed after unregister: %v", err)
	}
}

func TestDispatchDropsUnregisteredPort(t *testing.T) {
	tx := New(1, 0, nil)
	rx := New(1, 0, nil) // nothing registered
	v := TransferVariant{Kind: PortMessage, Port: 1, Metadata: cyphal.TransferMetadata{TransferID: 1, Priority: cyphal.PriorityNominal}}
	_ = tx.SendTransfer(1000, cyphal.UDPEndpoint{}, v, [][]byte{[]byte("x")})
	head, _ := tx.PeekHead(0)
	_, _, ok, err := rx.Dispatch(1000, head.Payload, 0)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if ok {
		t.Fatalf("expected dispatch to a port with no registration to be dropped, not completed")
	}
}

func TestSendTransferRejectsWholeTransferOnCapacityOvershoot(t *testing.T) {
	f := New(1, 4, nil)
	big := make([]byte, maxFragmentPayload*4+1) // forces 5 frames, one over capacity
	v := TransferVariant{Kind: PortMessage, Port: 1, Metadata: cyphal.TransferMetadata{TransferID: 1, Priority: cyphal.PriorityNominal}}
	if err := f.SendTransfer(1000, cyphal.UDPEndpoint{}, v, [][]byte{big}); err == nil {
		t.Fatalf("expected a 5-frame transfer against a 4-frame queue to be rejected")
	}
	if f.QueueLen(0) != 0 {
		t.Fatalf("expected a rejected transfer to enqueue nothing, got %d frames", f.QueueLen(0))
	}
}

func TestSendTransferStampsPerMediumDSCP(t *testing.T) {
	f := New(2, 0, nil)
	f.SetMediumDSCP(0, 10)
	f.SetMediumDSCP(1, 46)
	v := TransferVariant{Kind: PortMessage, Port: 1, Metadata: cyphal.TransferMetadata{TransferID: 1, Priority: cyphal.PriorityNominal}}
	if err := f.SendTransfer(1000, cyphal.UDPEndpoint{}, v, [][]byte{[]byte("x")}); err != nil {
		t.Fatalf("send: %v", err)
	}
	head0, _ := f.PeekHead(0)
	head1, _ := f.PeekHead(1)
	if head0.DSCP != 10 {
		t.Fatalf("medium 0 DSCP = %d, want 10", head0.DSCP)
	}
	if head1.DSCP != 46 {
		t.Fatalf("medium 1 DSCP = %d, want 46", head1.DSCP)
	}
}
