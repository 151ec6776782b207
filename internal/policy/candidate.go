package policy

import (
	"encoding/binary"
	"net"
	"net/netip"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// Family is the address family of a candidate destination.
type Family int

const (
	// FamilyNone means the call carried no destination address.
	FamilyNone Family = iota
	FamilyUnix
	FamilyIPv4
	FamilyIPv6
	// FamilyOther covers every family we do not police, including
	// truncated IPv4/IPv6 sockaddrs the kernel would reject anyway.
	FamilyOther
)

func (f Family) String() string {
	switch f {
	case FamilyNone:
		return "none"
	case FamilyUnix:
		return "unix"
	case FamilyIPv4:
		return "ipv4"
	case FamilyIPv6:
		return "ipv6"
	default:
		return "other"
	}
}

// Minimum sockaddr lengths accepted by the kernel for connect/sendto.
const (
	minSockaddrInet4 = unix.SizeofSockaddrInet4 // 16
	minSockaddrInet6 = 24                       // SIN6_LEN_RFC2133, no scope id
	maxSockaddrLen   = unix.SizeofSockaddrAny
)

// Candidate is the normalized view of one connection attempt. It lives
// only for the duration of the intercepted call.
type Candidate struct {
	Family Family
	// Addr is the textual address (inet_ntop form for IP, path for unix).
	Addr string
	Port int
	// RawFamily is the sa_family value for FamilyOther.
	RawFamily int
}

// String renders addr:port the way decision lines print it.
func (c Candidate) String() string {
	switch c.Family {
	case FamilyNone:
		return "<none>"
	case FamilyUnix:
		return c.Addr
	}
	return c.Addr + ":" + strconv.Itoa(c.Port)
}

// FromRaw parses a raw struct sockaddr as passed to connect(2) or sendto(2).
// The family is read in host byte order and the port in network byte order.
// It never fails: anything it cannot interpret becomes FamilyOther.
func FromRaw(raw []byte) Candidate {
	if len(raw) == 0 {
		return Candidate{Family: FamilyNone}
	}
	if len(raw) < 2 {
		return Candidate{Family: FamilyOther}
	}
	if len(raw) > maxSockaddrLen {
		raw = raw[:maxSockaddrLen]
	}
	family := int(binary.NativeEndian.Uint16(raw[:2]))

	switch family {
	case unix.AF_INET:
		if len(raw) < minSockaddrInet4 {
			return Candidate{Family: FamilyOther, RawFamily: family}
		}
		addr := netip.AddrFrom4([4]byte(raw[4:8]))
		return Candidate{
			Family: FamilyIPv4,
			Addr:   ntop(addr),
			Port:   int(binary.BigEndian.Uint16(raw[2:4])),
		}
	case unix.AF_INET6:
		if len(raw) < minSockaddrInet6 {
			return Candidate{Family: FamilyOther, RawFamily: family}
		}
		addr := netip.AddrFrom16([16]byte(raw[8:24]))
		return Candidate{
			Family: FamilyIPv6,
			Addr:   ntop(addr),
			Port:   int(binary.BigEndian.Uint16(raw[2:4])),
		}
	case unix.AF_UNIX:
		return Candidate{Family: FamilyUnix, Addr: unixPath(raw[2:])}
	default:
		return Candidate{Family: FamilyOther, RawFamily: family}
	}
}

// unixPath extracts sun_path; abstract sockets are rendered with a leading '@'.
func unixPath(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	if data[0] == 0 {
		end := 1
		for end < len(data) && data[end] != 0 {
			end++
		}
		return "@" + string(data[1:end])
	}
	end := 0
	for end < len(data) && data[end] != 0 {
		end++
	}
	return string(data[:end])
}

// FromSockaddr converts an x/sys/unix sockaddr.
func FromSockaddr(sa unix.Sockaddr) Candidate {
	switch v := sa.(type) {
	case nil:
		return Candidate{Family: FamilyNone}
	case *unix.SockaddrInet4:
		if v == nil {
			return Candidate{Family: FamilyNone}
		}
		return Candidate{Family: FamilyIPv4, Addr: ntop(netip.AddrFrom4(v.Addr)), Port: v.Port}
	case *unix.SockaddrInet6:
		if v == nil {
			return Candidate{Family: FamilyNone}
		}
		return Candidate{Family: FamilyIPv6, Addr: ntop(netip.AddrFrom16(v.Addr)), Port: v.Port}
	case *unix.SockaddrUnix:
		if v == nil {
			return Candidate{Family: FamilyNone}
		}
		return Candidate{Family: FamilyUnix, Addr: v.Name}
	default:
		return Candidate{Family: FamilyOther}
	}
}

// FromNetAddr converts the (network, address) pair handed to a
// net.Dialer Control function.
func FromNetAddr(network, address string) Candidate {
	if strings.HasPrefix(network, "unix") {
		return Candidate{Family: FamilyUnix, Addr: address}
	}
	if address == "" {
		return Candidate{Family: FamilyNone}
	}
	host, portStr, err := net.SplitHostPort(address)
	if err != nil {
		return Candidate{Family: FamilyOther}
	}
	ip, err := netip.ParseAddr(host)
	if err != nil {
		return Candidate{Family: FamilyOther}
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 0 || port > 65535 {
		return Candidate{Family: FamilyOther}
	}
	ip = ip.WithZone("")
	if ip.Is4() {
		return Candidate{Family: FamilyIPv4, Addr: ntop(ip), Port: port}
	}
	return Candidate{Family: FamilyIPv6, Addr: ntop(ip), Port: port}
}

// ntop formats addr the way glibc inet_ntop(3) does. netip agrees except
// for IPv4-compatible addresses, which glibc prints as ::a.b.c.d.
func ntop(addr netip.Addr) string {
	if addr.Is6() && !addr.Is4In6() {
		b := addr.As16()
		if [12]byte(b[:12]) == ([12]byte{}) && (b[12] != 0 || b[13] != 0) {
			return "::" + netip.AddrFrom4([4]byte(b[12:])).String()
		}
	}
	return addr.String()
}
