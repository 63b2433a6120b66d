//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly

package transport

import (
	"errors"
	"net"
	"net/netip"
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

// listenDualStackTCP binds an IPv6 socket with IPV6_V6ONLY cleared to the
// IPv4-mapped form of ap, so IPv4 peers connect to it and are reported with
// IPv4-mapped remote addresses. The standard resolver refuses IPv4-mapped
// literals for "tcp6", so the socket is built by hand.
func listenDualStackTCP(ap netip.AddrPort) (net.Listener, error) {
	fd, err := unix.Socket(unix.AF_INET6, unix.SOCK_STREAM, unix.IPPROTO_TCP)
	if err != nil {
		return nil, os.NewSyscallError("socket", err)
	}
	unix.CloseOnExec(fd)

	if err := setDualStackOpts(fd); err != nil {
		unix.Close(fd)
		return nil, err
	}

	sa := &unix.SockaddrInet6{Port: int(ap.Port()), Addr: ap.Addr().As16()}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return nil, os.NewSyscallError("bind", err)
	}
	if err := unix.Listen(fd, unix.SOMAXCONN); err != nil {
		unix.Close(fd)
		return nil, os.NewSyscallError("listen", err)
	}

	f := os.NewFile(uintptr(fd), "tcp6:"+mapped(ap).String())
	defer f.Close()
	return net.FileListener(f)
}

func setDualStackOpts(fd int) error {
	if err := unix.SetsockoptInt(fd, unix.IPPROTO_IPV6, unix.IPV6_V6ONLY, 0); err != nil {
		return os.NewSyscallError("setsockopt", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return os.NewSyscallError("setsockopt", err)
	}
	return nil
}

// reuseAddrControl lets an outgoing connection bind the local port a
// listener just released.
func reuseAddrControl(network, address string, c syscall.RawConn) error {
	var sockErr error
	err := c.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	})
	if err != nil {
		return err
	}
	if sockErr != nil {
		return os.NewSyscallError("setsockopt", sockErr)
	}
	return nil
}

// dualStackUnsupported reports whether a dual-stack bind failed because the
// host cannot do it, as opposed to the address being taken.
func dualStackUnsupported(err error) bool {
	return errors.Is(err, unix.EAFNOSUPPORT) ||
		errors.Is(err, unix.EPROTONOSUPPORT) ||
		errors.Is(err, unix.EINVAL) ||
		errors.Is(err, unix.EADDRNOTAVAIL) ||
		errors.Is(err, errors.ErrUnsupported)
}
