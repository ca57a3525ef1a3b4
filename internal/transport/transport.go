// Package transport defines the byte-oriented transport contract spec.md
// §6 names (ordered, reliable byte stream; send/recv/close) and the
// backends that satisfy it: TCP, serial (via github.com/tarm/serial), and
// an in-memory pipe for tests.
package transport

import "io"

// Port is the transport contract every ARQ sender/receiver is built
// against: an ordered, bidirectional byte stream. Grounded on the
// teacher's internal/serial.Port, widened here to be the one abstraction
// TCP connections, serial ports, and in-memory pipes all satisfy
// structurally without an adapter.
type Port interface {
	io.Reader
	io.Writer
	io.Closer
}
