// Package transport implements the Cyphal transport core: it owns the
// redundant media array, the framer (TX queues plus RX reassembly), and
// the three RX session trees (message, service-request, service-response),
// and is driven by repeated calls to Run from the owning executor callback.
//
// Key concepts:
//   - Transport: owns the media array and session trees for one local node
//   - Run: drains every medium's TX queue, then (once a node id is set)
//     pumps every medium's RX socket, dispatching completed transfers to
//     their owning session
//   - TransientErrorHandler: the per-tick policy for recovering from a
//     single medium's fault without losing progress on the others
package transport
