package tunnel

import (
	"fmt"
	"net"
)

// AllocateLocalPort asks the OS for a free ephemeral port on 127.0.0.1 by
// binding a listener, reading its port back, and closing it. The port is the
// session's internal tunnel endpoint; it is never user-visible, which lets a
// tunnel be torn down and re-bound without changing the client-facing port.
func AllocateLocalPort() (uint16, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, fmt.Errorf("failed to allocate internal port: %w", err)
	}
	defer l.Close()

	addr, ok := l.Addr().(*net.TCPAddr)
	if !ok {
		return 0, fmt.Errorf("unexpected listener address type %T", l.Addr())
	}
	return uint16(addr.Port), nil
}
