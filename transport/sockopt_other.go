//go:build !(linux || darwin || freebsd || netbsd || openbsd || dragonfly)

package transport

import (
	"errors"
	"net"
	"net/netip"
	"syscall"
)

func listenDualStackTCP(ap netip.AddrPort) (net.Listener, error) {
	return nil, errors.ErrUnsupported
}

func reuseAddrControl(network, address string, c syscall.RawConn) error {
	return nil
}

func dualStackUnsupported(err error) bool {
	return errors.Is(err, errors.ErrUnsupported)
}
