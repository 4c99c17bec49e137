package ffi

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
)

func TestUnsafePointerReadWriteRoundTrip(t *testing.T) {
	buf := make([]int32, 1)
	p := NewUnsafePointer(uintptr(unsafe.Pointer(&buf[0])))
	p.WriteI32(42)
	assert.Equal(t, int32(42), p.ReadI32())
}

func TestUnsafePointerAddOffsetsAddress(t *testing.T) {
	base := NewUnsafePointer(0x1000)
	offset := base.Add(16)
	assert.Equal(t, uintptr(0x1010), offset.Address())
}

func TestValueConstructorsRoundTripThroughUintptr(t *testing.T) {
	v := IntValue(7)
	assert.Equal(t, uintptr(7), v.asUintptr())

	p := PointerValue(unsafe.Pointer(uintptr(0xABCD)))
	assert.Equal(t, uintptr(0xABCD), p.asUintptr())
}

func TestCallbackRefCountingClosesAtZero(t *testing.T) {
	cb := &Callback{refs: 1}
	cb.Ref()
	assert.False(t, cb.Closed())
	cb.Unref()
	assert.False(t, cb.Closed())
	cb.Unref()
	assert.True(t, cb.Closed())
}
