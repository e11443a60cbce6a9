// Package udpmedia implements the media.Medium contract over real UDP
// sockets, using the core's single-threaded polling model: instead of a
// background read loop feeding a channel, each socket sets a deadline
// pollWait in the future before every operation and turns the resulting
// timeout into a WouldBlock or an empty receive. A deadline already in the
// past would make net.Conn fail the operation without attempting it, so
// the wait is bounded rather than zero.
package udpmedia

import (
	"net"
	"time"

	"github.com/OpenCyphal-Garage/libuavcan/pkg/alloc"
	"github.com/OpenCyphal-Garage/libuavcan/pkg/cyphal"
	"github.com/OpenCyphal-Garage/libuavcan/pkg/media"
)

// defaultMTU is the UDP Cyphal frame's usable payload ceiling under the
// conservative assumption of no path MTU discovery.
const defaultMTU = 1408

// pollWait bounds how long a single Send or Receive may wait on the socket.
const pollWait = time.Millisecond

// Medium is one redundant UDP interface. bindHost names the local address
// of the TX socket, which always uses an ephemeral source port. The RX
// socket ignores bindHost and listens on all interfaces at the endpoint's
// port (see MakeRxSocket).
type Medium struct {
	index     int
	bindHost  string
	mtu       int
	resources *alloc.Resources
}

// New builds a Medium at the given position in the transport's media
// array. bindHost is the local interface address to bind the TX socket to
// (empty means all interfaces). res may be nil to skip payload accounting.
func New(index int, bindHost string, res *alloc.Resources) *Medium {
	return &Medium{index: index, bindHost: bindHost, mtu: defaultMTU, resources: res}
}

func (m *Medium) Index() int { return m.index }

// MakeTxSocket binds an unconnected UDP socket for outbound sends. The
// socket is not connected to any single peer since each Send call carries
// its own destination.
func (m *Medium) MakeTxSocket() (media.TxSocket, error) {
	laddr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(m.bindHost, "0"))
	if err != nil {
		return nil, cyphal.NewArgumentError("resolve tx bind address: %v", err)
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, cyphal.NewPlatformError(0, err.Error())
	}
	return &txSocket{conn: conn, mtu: m.mtu}, nil
}

// MakeRxSocket binds a UDP socket listening on endpoint's fixed port. Real
// multicast group membership (IP_ADD_MEMBERSHIP) is a POSIX socket adapter
// concern out of scope here, so the socket binds all interfaces rather
// than endpoint's host part: this medium receives whatever arrives on the
// conventional port regardless of which multicast group it was nominally
// addressed to.
func (m *Medium) MakeRxSocket(endpoint cyphal.Destination) (media.RxSocket, error) {
	ep, ok := endpoint.(cyphal.UDPEndpoint)
	if !ok {
		return nil, cyphal.NewArgumentError("udp medium cannot bind a non-UDP endpoint")
	}
	laddr := &net.UDPAddr{IP: net.IPv4zero, Port: int(ep.Port)}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, cyphal.NewPlatformError(0, err.Error())
	}
	return &rxSocket{conn: conn, resources: m.resources}, nil
}

type txSocket struct {
	conn *net.UDPConn
	mtu  int
}

func (s *txSocket) MTU() int { return s.mtu }

// Send writes fragments, concatenated into one datagram, to dest. A write
// deadline pollWait ahead bounds the wait: a timeout (the send buffer stayed
// full) reports WouldBlock rather than an error, matching the socket
// contract's "retry later" semantics.
func (s *txSocket) Send(_ cyphal.Time, dest cyphal.Destination, dscp uint8, fragments [][]byte) (media.SendResult, error) {
	ep, ok := dest.(cyphal.UDPEndpoint)
	if !ok {
		return media.WouldBlock, cyphal.NewArgumentError("udp tx socket cannot address a non-UDP destination")
	}
	raddr := &net.UDPAddr{IP: ep.IP, Port: int(ep.Port)}

	buf := fragments[0]
	if len(fragments) > 1 {
		n := 0
		for _, f := range fragments {
			n += len(f)
		}
		buf = make([]byte, 0, n)
		for _, f := range fragments {
			buf = append(buf, f...)
		}
	}

	_ = dscp // DSCP/traffic-class marking is a socket-option concern the core leaves to the embedder's socket factory; not set here.

	if err := s.conn.SetWriteDeadline(time.Now().Add(pollWait)); err != nil {
		return media.WouldBlock, cyphal.NewPlatformError(0, err.Error())
	}
	if _, err := s.conn.WriteToUDP(buf, raddr); err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return media.WouldBlock, nil
		}
		return media.WouldBlock, cyphal.NewPlatformError(0, err.Error())
	}
	return media.Accepted, nil
}

type rxSocket struct {
	conn      *net.UDPConn
	resources *alloc.Resources
}

// Receive reads one pending datagram, waiting at most pollWait. Like Send,
// it treats the resulting timeout as "nothing pending" rather than a
// failure.
func (s *rxSocket) Receive() (*media.Datagram, error) {
	if err := s.conn.SetReadDeadline(time.Now().Add(pollWait)); err != nil {
		return nil, cyphal.NewPlatformError(0, err.Error())
	}

	scratch := make([]byte, 65535)
	n, _, err := s.conn.ReadFromUDP(scratch)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return nil, nil
		}
		return nil, cyphal.NewPlatformError(0, err.Error())
	}

	var payload []byte
	if s.resources != nil {
		payload, err = s.resources.Alloc(alloc.CategoryPayload, n)
		if err != nil {
			return nil, err
		}
	} else {
		payload = make([]byte, n)
	}
	copy(payload, scratch[:n])

	released := false
	res := s.resources
	return &media.Datagram{
		Timestamp: cyphal.Time(time.Now().UnixMicro()),
		Payload:   payload,
		Release: func() {
			if released || res == nil {
				return
			}
			released = true
			res.Release(alloc.CategoryPayload, n)
		},
	}, nil
}
