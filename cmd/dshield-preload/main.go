//go:build linux && cgo

// dshield-preload: LD_PRELOAD library that gates connect(2), socket(2) and
// sendto(2) of an unmodified dynamically linked program on the dshield
// destination allowlist.
//
// Build: go build -buildmode=c-shared -o libdshield.so ./cmd/dshield-preload
// Use:   LD_PRELOAD=/path/to/libdshield.so DSHIELD_PROXY_HOST=127.0.0.1 DSHIELD_PROXY_PORT=8080 ./program
//
// Configuration is read from DSHIELD_PROXY_HOST, DSHIELD_PROXY_PORT,
// DSHIELD_DEBUG and DSHIELD_LOG_FILE when the library is loaded.
//
// After fork(2) without exec the child has a single thread and the Go
// runtime cannot run, so shim.c applies the same allowlist in C from the
// environment it captured at load.
package main

/*
#cgo LDFLAGS: -ldl
#include <stdlib.h>
#include "preload.h"
*/
import "C"

import (
	"fmt"
	"unsafe"

	"github.com/dshield/dshield/internal/intercept"
)

// guard is attached while the Go runtime initializes, which happens in the
// library's load-time constructor, before any export can run.
var guard = intercept.Attach(intercept.WithLookup(lookupNext))

// lookupNext finds the next definition of name after this library, i.e.
// the libc implementation we replace.
func lookupNext(name string) (any, error) {
	cname := C.CString(name)
	defer C.free(unsafe.Pointer(cname))
	p := C.dshield_dlsym_next(cname)
	if p == nil {
		return nil, fmt.Errorf("dlsym(RTLD_NEXT, %q): not found", name)
	}
	return p, nil
}

//export dshield_detach
func dshield_detach() {
	_ = guard.Close()
}

func main() {}
