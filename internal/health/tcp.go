package health

import (
	"context"
	"fmt"
	"net"
)

// TCPProbe succeeds when the address accepts a TCP connection.
type TCPProbe struct {
	Addr string
}

// Check implements Probe.
func (p *TCPProbe) Check(ctx context.Context) error {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", p.Addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", p.Addr, err)
	}
	return conn.Close()
}
