package framer

import "github.com/OpenCyphal-Garage/libuavcan/pkg/cyphal"

// transferKey identifies one logical transfer's frames within a single
// medium's TX queue — the unit popped together on deadline expiry or send
// failure.
type transferKey struct {
	kind         PortKind
	port         cyphal.PortID
	remoteNodeID cyphal.NodeID
	transferID   cyphal.TransferID
}

// TxQueueItem is one frame queued for transmission on a single medium.
// Ordered by priority then FIFO within priority — a plain
// priority-then-arrival order with no per-destination fairness, since a
// Cyphal TX queue orders frames for one local node's own traffic, not
// between competing flows.
type TxQueueItem struct {
	Deadline    cyphal.Time
	Destination cyphal.Destination
	DSCP        uint8
	Payload     []byte
	Priority    cyphal.Priority
	seq         uint64
	key         transferKey
}

// txQueue is a bounded, priority-ordered FIFO of TxQueueItems for one
// medium. Not safe for concurrent use.
type txQueue struct {
	items    []TxQueueItem
	capacity int
	nextSeq  uint64
}

func newTxQueue(capacity int) *txQueue {
	return &txQueue{capacity: capacity}
}

func (q *txQueue) Len() int { return len(q.items) }

func (q *txQueue) Full() bool { return q.capacity > 0 && len(q.items) >= q.capacity }

// WouldOverflow reports whether pushing n more items would exceed
// capacity, so a multi-frame transfer can be admitted or rejected as one
// unit rather than frame by frame.
func (q *txQueue) WouldOverflow(n int) bool { return q.capacity > 0 && len(q.items)+n > q.capacity }

// push inserts it in priority-then-FIFO order. Callers must check
// WouldOverflow first; push itself never evicts or rejects.
func (q *txQueue) push(it TxQueueItem) {
	it.seq = q.nextSeq
	q.nextSeq++
	i := 0
	for ; i < len(q.items); i++ {
		if less(it, q.items[i]) {
			break
		}
	}
	q.items = append(q.items, TxQueueItem{})
	copy(q.items[i+1:], q.items[i:])
	q.items[i] = it
}

func less(a, b TxQueueItem) bool {
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	return a.seq < b.seq
}

// head returns the queue's front item without removing it.
func (q *txQueue) head() (TxQueueItem, bool) {
	if len(q.items) == 0 {
		return TxQueueItem{}, false
	}
	return q.items[0], true
}

// popFrame removes just the front item.
func (q *txQueue) popFrame() {
	if len(q.items) == 0 {
		return
	}
	q.items = q.items[1:]
}

// popTransfer removes every item sharing key's logical transfer, wherever
// it sits in the queue — used both for deadline-expiry drops and for
// failure handling, both of which discard the whole transfer, not just its
// head frame.
func (q *txQueue) popTransfer(key transferKey) {
	out := q.items[:0]
	for _, it := range q.items {
		if it.key != key {
			out = append(out, it)
		}
	}
	q.items = out
}
