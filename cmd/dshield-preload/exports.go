//go:build linux && cgo

package main

/*
#include <stddef.h>
#include <sys/types.h>
#include "preload.h"
*/
import "C"

import (
	"errors"
	"unsafe"

	"github.com/dshield/dshield/internal/intercept"
	"github.com/dshield/dshield/internal/policy"
	"github.com/dshield/dshield/internal/resolver"
	"golang.org/x/sys/unix"
)

// The libc-ABI connect, socket and sendto live in shim.c. Until the
// process forks they ask the gates below which authentic function to
// call; a nil result means fail with *errp.

// maxSockaddr bounds how much of the caller's sockaddr we look at; the
// kernel never reads more than sizeof(struct sockaddr_storage).
const maxSockaddr = 128

func sockaddrBytes(addr unsafe.Pointer, addrlen C.uint) []byte {
	if addr == nil || addrlen == 0 {
		return nil
	}
	n := int(addrlen)
	if n > maxSockaddr {
		n = maxSockaddr
	}
	return unsafe.Slice((*byte)(addr), n)
}

func errnoOf(err error) unix.Errno {
	var e unix.Errno
	if errors.As(err, &e) {
		return e
	}
	return unix.EACCES
}

// refuse stores the errno for err and returns the nil function pointer.
func refuse(errp *C.int, err error) unsafe.Pointer {
	*errp = C.int(errnoOf(err))
	return nil
}

func fnPointer(h resolver.Handle) (unsafe.Pointer, bool) {
	p, ok := h.Value().(unsafe.Pointer)
	return p, ok && p != nil
}

func authentic(h resolver.Handle, errp *C.int) unsafe.Pointer {
	p, ok := fnPointer(h)
	if !ok {
		return refuse(errp, unix.ENOSYS)
	}
	return p
}

//export dshield_gate_connect
func dshield_gate_connect(addr unsafe.Pointer, addrlen C.uint, errp *C.int) unsafe.Pointer {
	h := guard.Resolve(intercept.OpConnect)
	if err := guard.Check(policy.FromRaw(sockaddrBytes(addr, addrlen))); err != nil {
		return refuse(errp, err)
	}
	return authentic(h, errp)
}

//export dshield_gate_socket
func dshield_gate_socket(domain, typ, protocol C.int, errp *C.int) unsafe.Pointer {
	h := guard.Resolve(intercept.OpSocket)
	guard.Debugf("socket(domain=%d, type=%d, protocol=%d)", int(domain), int(typ), int(protocol))
	return authentic(h, errp)
}

//export dshield_gate_sendto
func dshield_gate_sendto(addr unsafe.Pointer, addrlen C.uint, errp *C.int) unsafe.Pointer {
	h := guard.Resolve(intercept.OpSendto)
	if addr != nil {
		if err := guard.Check(policy.FromRaw(sockaddrBytes(addr, addrlen))); err != nil {
			return refuse(errp, err)
		}
	}
	return authentic(h, errp)
}
