package spatial

import (
	"log"
	"sync"
	"sync/atomic"

	"github.com/slideview/engine/internal/pointdata"
)

// BuildRequest describes one asynchronous index build. Positions and draw
// indices are snapshotted by Submit so the caller may keep mutating its own
// buffers.
type BuildRequest struct {
	ID          uint64
	Data        *pointdata.PointData
	DrawIndices []int32
	Params      BuildParams
}

// BuildResult carries a finished build back to the caller.
type BuildResult struct {
	ID    uint64
	Index *Index
	Err   error
}

// Builder runs index construction off the caller's goroutine, delivering
// results through a callback. If the worker has died, Submit falls back to
// building synchronously with an identical data layout.
type Builder struct {
	queue    chan BuildRequest
	onResult func(BuildResult)

	mu       sync.Mutex
	canceled map[uint64]bool
	pending  map[uint64]bool
	stopped  bool
	nextID   atomic.Uint64
	failed   atomic.Bool

	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewBuilder starts the background worker. onResult is invoked from the
// worker goroutine for every request that was not canceled before
// completion.
func NewBuilder(onResult func(BuildResult)) *Builder {
	b := &Builder{
		queue:    make(chan BuildRequest, 16),
		onResult: onResult,
		canceled: make(map[uint64]bool),
		pending:  make(map[uint64]bool),
	}
	b.wg.Add(1)
	go b.worker()
	return b
}

func (b *Builder) worker() {
	defer b.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			// Permanent fallback to synchronous builds. Set the flag under
			// the lock so no Submit can enqueue after the drain below, then
			// finish whatever is already buffered.
			b.mu.Lock()
			b.failed.Store(true)
			b.mu.Unlock()
			log.Printf("[SpatialBuilder] worker crashed, falling back to synchronous builds: %v", r)
			for {
				select {
				case req, ok := <-b.queue:
					if !ok {
						return
					}
					b.process(req)
				default:
					return
				}
			}
		}
	}()
	for req := range b.queue {
		b.process(req)
	}
}

func (b *Builder) process(req BuildRequest) {
	if b.dropIfCanceled(req.ID) {
		return
	}
	idx := Build(req.Data, req.DrawIndices, req.Params)
	if b.dropIfCanceled(req.ID) {
		return
	}
	// Past the point of no return: a Cancel from here on is a no-op.
	b.finish(req.ID)
	b.onResult(BuildResult{ID: req.ID, Index: idx})
}

func (b *Builder) dropIfCanceled(id uint64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.canceled[id] {
		delete(b.canceled, id)
		delete(b.pending, id)
		return true
	}
	return false
}

func (b *Builder) finish(id uint64) {
	b.mu.Lock()
	delete(b.pending, id)
	b.mu.Unlock()
}

// Submit snapshots the point data and enqueues a build, returning the
// request id. When the worker is unavailable the build runs inline on the
// calling goroutine and the callback fires before Submit returns.
func (b *Builder) Submit(pd *pointdata.PointData, drawIndices []int32, params BuildParams) uint64 {
	id := b.nextID.Add(1)
	req := BuildRequest{
		ID:     id,
		Data:   pd.Clone(),
		Params: params,
	}
	if drawIndices != nil {
		req.DrawIndices = append([]int32(nil), drawIndices...)
	}

	b.mu.Lock()
	if b.canceled[id] {
		delete(b.canceled, id)
		b.mu.Unlock()
		return id
	}
	b.pending[id] = true
	inline := b.failed.Load() || b.stopped
	if !inline {
		select {
		case b.queue <- req:
		default:
			// Queue full; build inline rather than dropping the request.
			inline = true
		}
	}
	b.mu.Unlock()

	if inline {
		b.finish(id)
		b.onResult(BuildResult{ID: id, Index: Build(req.Data, req.DrawIndices, req.Params)})
	}
	return id
}

// Cancel marks a request so its result is discarded. In-progress builds are
// allowed to finish; only the delivery is suppressed. Ids that have already
// delivered are ignored.
func (b *Builder) Cancel(id uint64) {
	b.mu.Lock()
	if id > b.nextID.Load() || b.pending[id] {
		b.canceled[id] = true
	}
	b.mu.Unlock()
}

// Stop drains the worker and waits for it to exit. Later Submit calls
// build inline.
func (b *Builder) Stop() {
	b.stopOnce.Do(func() {
		b.mu.Lock()
		b.stopped = true
		b.mu.Unlock()
		close(b.queue)
		b.wg.Wait()
	})
}
