//go:build linux && cgo

package main

import (
	"testing"
	"unsafe"

	"github.com/dshield/dshield/internal/intercept"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSockaddrBytes(t *testing.T) {
	buf := make([]byte, 256)
	for i := range buf {
		buf[i] = byte(i)
	}

	assert.Nil(t, sockaddrBytes(nil, 16))
	assert.Nil(t, sockaddrBytes(unsafe.Pointer(&buf[0]), 0))
	assert.Equal(t, buf[:16], sockaddrBytes(unsafe.Pointer(&buf[0]), 16))
	assert.Len(t, sockaddrBytes(unsafe.Pointer(&buf[0]), 200), maxSockaddr)
}

func TestLookupNext(t *testing.T) {
	for _, op := range intercept.Operations {
		impl, err := lookupNext(op)
		require.NoError(t, err, op)
		p, ok := impl.(unsafe.Pointer)
		require.True(t, ok, op)
		require.NotNil(t, p, op)
	}

	_, err := lookupNext("dshield_no_such_symbol")
	require.Error(t, err)
}

func TestGuardResolvesLibc(t *testing.T) {
	for _, op := range intercept.Operations {
		_, ok := fnPointer(guard.Resolve(op))
		assert.True(t, ok, op)
	}
}
