// Package ffi implements the dlopen/typed-call/UnsafeCallback/
// UnsafePointer surface over github.com/ebitengine/purego, which gives
// the host a cgo-free dlopen/dlsym/call-by-signature primitive on every
// platform purego supports — directly satisfying the FFI surface without
// hand-written per-OS cgo shims.
package ffi

import (
	"context"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/ebitengine/purego"

	"github.com/andromeda-rt/andromeda/internal/config"
	"github.com/andromeda-rt/andromeda/internal/errs"
	"github.com/andromeda-rt/andromeda/pkg/eventloop"
)

// Type names one native ABI slot kind a Signature may use for a
// parameter or a return value.
type Type int

const (
	Void Type = iota
	I8
	U8
	I16
	U16
	I32
	U32
	I64
	U64
	F32
	F64
	Pointer
	Bool
)

// Signature is the declared shape of one foreign symbol: dlopen's
// symbolMap maps a name to one of these.
type Signature struct {
	Params []Type
	Result Type
}

// Value is one marshalled argument or return slot; exactly one field is
// meaningful per its Type.
type Value struct {
	I int64
	U uint64
	F float64
	Ptr unsafe.Pointer
}

func IntValue(v int64) Value { return Value{I: v} }
func UintValue(v uint64) Value { return Value{U: v} }
func FloatValue(v float64) Value { return Value{F: v} }
func PointerValue(p unsafe.Pointer) Value { return Value{Ptr: p} }

func (v Value) asUintptr() uintptr {
	if v.Ptr != nil {
		return uintptr(v.Ptr)
	}
	if v.F != 0 {
		return uintptr(int64(v.F))
	}
	if v.U != 0 {
		return uintptr(v.U)
	}
	return uintptr(v.I)
}

// Symbol is a resolved foreign function ready to be called.
type Symbol struct {
	name string
	ptr uintptr
	sig Signature
}

// Library is an opened dynamic library with its declared symbol table,
// the resource "FFI library" resource.
type Library struct {
	handle uintptr
	path string
	symbols map[string]*Symbol
}

// Dlopen resolves every name in symbolMap against the shared library at
// path, recording each symbol's declared Signature. Returns
// PermissionDenied if the runtime config disables FFI.
func Dlopen(path string, symbolMap map[string]Signature, cfg *config.Config) (*Library, error) {
	if cfg != nil && !cfg.AllowFFI {
		return nil, errs.New(errs.PermissionDenied, "FFI is disabled by configuration")
	}
	handle, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_GLOBAL)
	if err != nil {
		return nil, errs.Wrap(errs.NotFound, "dlopen failed for "+path, err)
	}
	lib := &Library{handle: handle, path: path, symbols: make(map[string]*Symbol, len(symbolMap))}
	for name, sig := range symbolMap {
		sym, err := purego.Dlsym(handle, name)
		if err != nil {
			return nil, errs.Wrap(errs.NotFound, "symbol not found: "+name, err)
		}
		lib.symbols[name] = &Symbol{name: name, ptr: sym, sig: sig}
	}
	return lib, nil
}

// Close unloads the library. purego does not expose dlclose portably, so
// this only marks the handle unusable for future calls; the OS reclaims
// the mapping at process exit.
func (l *Library) Close() error {
	l.symbols = nil
	return nil
}

// Symbol looks up a previously declared symbol by name.
func (l *Library) Symbol(name string) (*Symbol, error) {
	sym, ok := l.symbols[name]
	if !ok {
		return nil, errs.New(errs.NotFound, "symbol not declared in dlopen symbolMap: "+name)
	}
	return sym, nil
}

// Call marshals args per the symbol's declared Signature, invokes the
// foreign function synchronously on the calling goroutine, and demarshals
// the return per Signature.Result.
func (s *Symbol) Call(args []Value) (Value, error) {
	if len(args) != len(s.sig.Params) {
		return Value{}, errs.New(errs.InvalidInput, "argument count does not match declared signature")
	}
	raw := make([]uintptr, len(args))
	for i, a := range args {
		raw[i] = a.asUintptr()
	}
	r1, _, _ := purego.SyscallN(s.ptr, raw...)
	return unmarshalResult(s.sig.Result, r1), nil
}

func unmarshalResult(t Type, r uintptr) Value {
	switch t {
	case Void:
		return Value{}
	case F32, F64:
		return Value{F: float64(int64(r))}
	case Pointer:
		return Value{Ptr: unsafe.Pointer(r)}
	default:
		return Value{I: int64(r)}
	}
}

// CallAsync runs Call on loop's worker pool and delivers the result back onto the script thread via
// onComplete.
func (s *Symbol) CallAsync(ctx context.Context, loop *eventloop.Loop, args []Value, onComplete func(Value, error)) {
	loop.SubmitBlocking(ctx, func(context.Context) (any, error) {
		return s.Call(args)
	}, func(result any, err error) {
		if err != nil {
			onComplete(Value{}, err)
			return
		}
		onComplete(result.(Value), nil)
	})
}

// Callback is a native trampoline that posts invocations back to the
// script thread and collects the return value, for UnsafeCallback.
// Callbacks are reference-counted and must be explicitly closed; ref/
// unref mutate the refcount in place rather than allocating a new handle
// (Design Notes §9).
type Callback struct {
	ptr uintptr
	refs int32
	invoke func(args []Value) Value
	closed bool
	mu sync.Mutex
}

// NewCallback wraps invoke (which must itself post back onto the script
// thread via the event loop before returning a value) as a native
// function pointer foreign code can call.
func NewCallback(invoke func(args []Value) Value, paramCount int) *Callback {
	cb := &Callback{invoke: invoke, refs: 1}
	goFunc := func(a0, a1, a2, a3, a4, a5 uintptr) uintptr {
		args := make([]Value, 0, paramCount)
		for i, v := range []uintptr{a0, a1, a2, a3, a4, a5} {
			if i >= paramCount {
				break
			}
			args = append(args, Value{I: int64(v)})
		}
		result := cb.invoke(args)
		return result.asUintptr()
	}
	cb.ptr = purego.NewCallback(goFunc)
	return cb
}

// Pointer returns the native function pointer foreign code should be
// given.
func (c *Callback) Pointer() unsafe.Pointer { return unsafe.Pointer(c.ptr) }

// Ref increments the callback's reference count in place.
func (c *Callback) Ref() { atomic.AddInt32(&c.refs, 1) }

// Unref decrements the reference count; the callback is closed when it
// reaches zero.
func (c *Callback) Unref() {
	if atomic.AddInt32(&c.refs, -1) <= 0 {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
	}
}

// Closed reports whether the callback has been fully released.
func (c *Callback) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// UnsafePointer exposes arithmetic and primitive memory reads/writes
// over a raw address; safety is the script's responsibility, so this package performs no bounds checking beyond what the Go
// unsafe package itself requires.
type UnsafePointer struct {
	addr uintptr
}

func NewUnsafePointer(addr uintptr) UnsafePointer { return UnsafePointer{addr: addr} }

func (p UnsafePointer) Add(offset int64) UnsafePointer {
	return UnsafePointer{addr: p.addr + uintptr(offset)}
}

func (p UnsafePointer) Address() uintptr { return p.addr }

func (p UnsafePointer) ReadU8() uint8 { return *(*uint8)(unsafe.Pointer(p.addr)) }
func (p UnsafePointer) ReadI32() int32 { return *(*int32)(unsafe.Pointer(p.addr)) }
func (p UnsafePointer) ReadU32() uint32 { return *(*uint32)(unsafe.Pointer(p.addr)) }
func (p UnsafePointer) ReadI64() int64 { return *(*int64)(unsafe.Pointer(p.addr)) }
func (p UnsafePointer) ReadF64() float64 { return *(*float64)(unsafe.Pointer(p.addr)) }

func (p UnsafePointer) WriteU8(v uint8) { *(*uint8)(unsafe.Pointer(p.addr)) = v }
func (p UnsafePointer) WriteI32(v int32) { *(*int32)(unsafe.Pointer(p.addr)) = v }
func (p UnsafePointer) WriteU32(v uint32) { *(*uint32)(unsafe.Pointer(p.addr)) = v }
func (p UnsafePointer) WriteI64(v int64) { *(*int64)(unsafe.Pointer(p.addr)) = v }
func (p UnsafePointer) WriteF64(v float64) { *(*float64)(unsafe.Pointer(p.addr)) = v }
