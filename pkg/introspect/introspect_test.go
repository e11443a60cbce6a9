package introspect

import (
	"testing"

	"github.com/OpenCyphal-Garage/libuavcan/pkg/cyphal"
	"github.com/OpenCyphal-Garage/libuavcan/pkg/sessiontree"
)

func TestCorrelationIDsAreUnique(t *testing.T) {
	a := NewCorrelationID()
	b := NewCorrelationID()
	if a == b {
		t.Fatalf("expected distinct correlation ids, got %q twice", a)
	}
}

func TestSnapshotRoundTripsThroughCBOR(t *testing.T) {
	msgRx := []sessiontree.NodeSnapshot{{Port: 7}, {Port: 11}}
	snap := NewTransportSnapshot(cyphal.NodeID(42), msgRx, nil, nil)

	data, err := snap.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := Decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.NodeID != 42 {
		t.Fatalf("expected node id 42, got %d", got.NodeID)
	}
	if len(got.MessageRx) != 2 || got.MessageRx[0].Port+got.MessageRx[1].Port != 18 {
		t.Fatalf("unexpected message rx snapshot: %+v", got.MessageRx)
	}
	if got.CorrelationID == "" {
		t.Fatalf("expected a non-empty correlation id")
	}
}

func TestTreeSnapshotListsLiveNodes(t *testing.T) {
	tree := sessiontree.New[int]()
	tree.EnsureNew(3, 100)
	tree.EnsureNew(5, 200)
	tree.Remove(3)

	snap := tree.Snapshot()
	if len(snap) != 1 || snap[0].Port != 5 {
		t.Fatalf("expected exactly port 5 live, got %+v", snap)
	}
}
