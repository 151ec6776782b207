package intercept

import (
	"fmt"
	"net"
	"os"
	"syscall"

	"github.com/dshield/dshield/internal/policy"
	"golang.org/x/sys/unix"
)

// Signatures of the authentic implementations, matching golang.org/x/sys/unix.
type (
	ConnectFunc func(fd int, sa unix.Sockaddr) error
	SocketFunc  func(domain, typ, proto int) (int, error)
	SendtoFunc  func(fd int, p []byte, flags int, to unix.Sockaddr) error
)

// SyscallLookup resolves operation names to the x/sys/unix implementations,
// which issue raw system calls and never pass back through a Guard.
func SyscallLookup(name string) (any, error) {
	switch name {
	case OpConnect:
		return ConnectFunc(unix.Connect), nil
	case OpSocket:
		return SocketFunc(unix.Socket), nil
	case OpSendto:
		return SendtoFunc(unix.Sendto), nil
	default:
		return nil, fmt.Errorf("unknown operation %q", name)
	}
}

// Connect is the replacement for unix.Connect. A denied destination fails
// with unix.EACCES and the socket is left untouched.
func (g *Guard) Connect(fd int, sa unix.Sockaddr) error {
	h := g.Resolve(OpConnect)
	if err := g.Check(policy.FromSockaddr(sa)); err != nil {
		return err
	}
	fn, ok := h.Value().(ConnectFunc)
	if !ok {
		return unix.ENOSYS
	}
	return fn(fd, sa)
}

// Socket is the replacement for unix.Socket. Socket creation carries no
// destination and is always allowed.
func (g *Guard) Socket(domain, typ, proto int) (int, error) {
	h := g.Resolve(OpSocket)
	g.Debugf("socket(domain=%d, type=%d, protocol=%d)", domain, typ, proto)
	fn, ok := h.Value().(SocketFunc)
	if !ok {
		return -1, unix.ENOSYS
	}
	return fn(domain, typ, proto)
}

// Sendto is the replacement for unix.Sendto. Without a destination (a
// connected socket) the call is forwarded without classification.
func (g *Guard) Sendto(fd int, p []byte, flags int, to unix.Sockaddr) error {
	h := g.Resolve(OpSendto)
	if to != nil {
		if err := g.Check(policy.FromSockaddr(to)); err != nil {
			return err
		}
	}
	fn, ok := h.Value().(SendtoFunc)
	if !ok {
		return unix.ENOSYS
	}
	return fn(fd, p, flags, to)
}

// DialControl is a net.Dialer Control function that applies the allowlist
// before the dialer's connect. The error wraps unix.EACCES, so
// errors.Is(err, os.ErrPermission) holds for denied destinations.
func (g *Guard) DialControl(network, address string, _ syscall.RawConn) error {
	if err := g.Check(policy.FromNetAddr(network, address)); err != nil {
		return os.NewSyscallError("connect", err)
	}
	return nil
}

// Dialer returns a net.Dialer gated by g.
func (g *Guard) Dialer() *net.Dialer {
	return &net.Dialer{Control: g.DialControl}
}
