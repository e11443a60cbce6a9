// Package media defines the capability interfaces an embedder implements
// to plug a network interface into the transport core: a Medium factory
// that lazily produces a TX and an RX socket, and the non-blocking socket
// contracts themselves. All three are object-safe capability traits, in
// the sense of the source's design notes — callers depend only on the
// methods they use.
package media

import "github.com/OpenCyphal-Garage/libuavcan/pkg/cyphal"

// SendResult is the non-error outcome of a TxSocket.Send call.
type SendResult int

const (
	// Accepted means the socket took ownership of the frame; the caller
	// may pop it from its queue.
	Accepted SendResult = iota
	// WouldBlock means retry later on the same queue item; the caller
	// must not pop it.
	WouldBlock
)

// TxSocket sends datagrams without blocking.
type TxSocket interface {
	// MTU returns the maximum payload size this socket can send in one
	// frame.
	MTU() int
	// Send attempts to hand fragments (concatenated into one frame) to
	// the socket for delivery to dest by deadline. deadline is advisory:
	// exceeding it is never an error at the socket layer, it simply
	// invites a drop on a later drain pass.
	Send(deadline cyphal.Time, dest cyphal.Destination, dscp uint8, fragments [][]byte) (SendResult, error)
}

// Datagram is one received frame, timestamped at reception. Payload must
// have come from the payload allocator category; Release returns it.
type Datagram struct {
	Timestamp cyphal.Time
	Payload   []byte
	Release   func()
}

// RxSocket receives datagrams without blocking. Receive returns (nil, nil)
// when nothing is pending — that is not a failure.
type RxSocket interface {
	Receive() (*Datagram, error)
}

// Medium is a single redundant network interface. Sockets are lazily
// constructed on first need and both factories may fail transiently; the
// core retries creation on every drain/pump until it succeeds or until
// the transient-error handler escalates to a fatal failure.
type Medium interface {
	// Index is this medium's stable position in the transport's media
	// array.
	Index() int
	MakeTxSocket() (TxSocket, error)
	MakeRxSocket(endpoint cyphal.Destination) (RxSocket, error)
}
