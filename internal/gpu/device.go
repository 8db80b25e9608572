// Package gpu is the compute-device collaborator used by the
// smooth-terrain pipeline: parameterized kernel dispatch over storage
// buffers, recorded into command encoders and submitted as a batch.
//
// A kernel is registered process-wide under an id and invoked once per
// grid index with a uniform struct and its bound buffers. The reference
// backend runs kernels on the CPU as a worker pool over disjoint index
// ranges; a real GPU backend would compile the same kernel ids to
// compute shaders.
package gpu

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
)

var (
	ErrPipelineNotFound = errors.New("gpu: pipeline not found")
	ErrBufferReleased   = errors.New("gpu: buffer already released")
)

// KernelFunc executes one invocation of a compute kernel.
// index is the flat grid index; uniforms is the kernel's parameter
// struct; bindings are the bound storage buffers in declaration order.
type KernelFunc func(index int, uniforms any, bindings []*Buffer)

var (
	kernelMu  sync.RWMutex
	kernelReg = map[string]KernelFunc{}
)

// RegisterKernel installs a kernel under an id. Kernels are immutable
// process-wide constants; registration happens from package init.
func RegisterKernel(id string, fn KernelFunc) {
	kernelMu.Lock()
	defer kernelMu.Unlock()
	kernelReg[id] = fn
}

func lookupKernel(id string) (KernelFunc, bool) {
	kernelMu.RLock()
	defer kernelMu.RUnlock()
	fn, ok := kernelReg[id]
	return fn, ok
}

// RegisteredKernels returns the sorted ids of all registered kernels.
func RegisteredKernels() []string {
	kernelMu.RLock()
	defer kernelMu.RUnlock()
	ids := make([]string, 0, len(kernelReg))
	for id := range kernelReg {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Buffer is a reference-counted storage buffer. Data is a typed slice
// ([]float32, []uint32, ...) shared between recorded dispatches and, on
// the render side, in-flight draw commands. Release drops one
// reference; the backing slice is dropped when the count reaches zero
// so a renderer can keep an old mesh alive while a newer regeneration
// proceeds.
type Buffer struct {
	Label string
	Data  any

	refs int32
}

func NewBuffer(label string, data any) *Buffer {
	return &Buffer{Label: label, Data: data, refs: 1}
}

func (b *Buffer) Retain() *Buffer {
	atomic.AddInt32(&b.refs, 1)
	return b
}

func (b *Buffer) Release() {
	if atomic.AddInt32(&b.refs, -1) == 0 {
		b.Data = nil
	}
}

// Refs reports the current reference count. Test hook.
func (b *Buffer) Refs() int32 { return atomic.LoadInt32(&b.refs) }

func (b *Buffer) F32() []float32 { s, _ := b.Data.([]float32); return s }
func (b *Buffer) U16() []uint16  { s, _ := b.Data.([]uint16); return s }
func (b *Buffer) U32() []uint32  { s, _ := b.Data.([]uint32); return s }

type dispatch struct {
	kernel   KernelFunc
	uniforms any
	bindings []*Buffer
	count    int
}

// Encoder records dispatches in submission order. Order is significant
// within one chunk's pipeline; independent chunks may share an encoder.
type Encoder struct {
	dispatches []dispatch
}

// Dispatch records count invocations of the kernel registered under id.
func (e *Encoder) Dispatch(id string, uniforms any, bindings []*Buffer, count int) error {
	fn, ok := lookupKernel(id)
	if !ok {
		return ErrPipelineNotFound
	}
	e.dispatches = append(e.dispatches, dispatch{kernel: fn, uniforms: uniforms, bindings: bindings, count: count})
	return nil
}

// Device is the narrow compute interface the surface pipeline consumes.
type Device interface {
	NewEncoder() *Encoder
	// Submit executes the encoder's dispatches in recorded order and
	// blocks until complete. This models queue submission; readback of
	// results is a separate suspension point.
	Submit(enc *Encoder) error
	// Readback maps a buffer for host access. The CPU backend completes
	// immediately; the call still takes a context because a hardware
	// backend suspends here.
	Readback(ctx context.Context, buf *Buffer) (any, error)
}
