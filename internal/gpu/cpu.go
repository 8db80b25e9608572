package gpu

import (
	"context"
	"runtime"
	"sync"
)

// CPUDevice executes dispatches with a pool of workers, each handed a
// disjoint contiguous index range. Kernels therefore never alias writes
// as long as they only write to their own index, which is the same
// contract a compute shader invocation has.
type CPUDevice struct {
	workers int
}

func NewCPUDevice(workers int) *CPUDevice {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &CPUDevice{workers: workers}
}

func (d *CPUDevice) NewEncoder() *Encoder { return &Encoder{} }

func (d *CPUDevice) Submit(enc *Encoder) error {
	for _, dp := range enc.dispatches {
		d.run(dp)
	}
	enc.dispatches = enc.dispatches[:0]
	return nil
}

func (d *CPUDevice) run(dp dispatch) {
	n := dp.count
	if n <= 0 {
		return
	}
	w := d.workers
	if w > n {
		w = n
	}
	if w == 1 {
		for i := 0; i < n; i++ {
			dp.kernel(i, dp.uniforms, dp.bindings)
		}
		return
	}

	var wg sync.WaitGroup
	span := (n + w - 1) / w
	for start := 0; start < n; start += span {
		end := start + span
		if end > n {
			end = n
		}
		wg.Add(1)
		go func(lo, hi int) {
			defer wg.Done()
			for i := lo; i < hi; i++ {
				dp.kernel(i, dp.uniforms, dp.bindings)
			}
		}(start, end)
	}
	wg.Wait()
}

func (d *CPUDevice) Readback(ctx context.Context, buf *Buffer) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if buf == nil || buf.Data == nil {
		return nil, ErrBufferReleased
	}
	return buf.Data, nil
}
