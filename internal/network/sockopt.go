package network

import (
	"net"
	"strings"
	"syscall"
)

// ReuseAddrListenConfig returns a net.ListenConfig that sets SO_REUSEADDR
// before binding, so a restarted client (or a second client on the same
// host) can bind the guild hall port at once. UDP sockets also get
// SO_BROADCAST for announcements.
func ReuseAddrListenConfig() net.ListenConfig {
	return net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			broadcast := strings.HasPrefix(network, "udp")
			var opErr error
			if err := c.Control(func(fd uintptr) {
				opErr = setSockopts(fd, broadcast)
			}); err != nil {
				return err
			}
			return opErr
		},
	}
}
