package transport

import "net"

// Pipe returns two connected in-memory Ports, useful for tests where a
// sender and receiver run in the same process. Grounded on the teacher's fakeErrPort test double
// (cmd/can-server/backend_backoff_test.go), generalized here into a real
// net.Pipe-backed pair usable outside tests too.
func Pipe() (a, b Port) {
	x, y := net.Pipe()
	return x, y
}
