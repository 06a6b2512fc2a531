package viewer

import (
	"sync"

	"github.com/slideview/engine/internal/pointdata"
	"github.com/slideview/engine/internal/spatial"
)

// One background index builder is shared by every engine in the process,
// constructed on first use and torn down explicitly. Results route back to
// the submitting engine by request id; a superseded request's callback is
// simply never the one the engine still wants.
var (
	builderMu      sync.Mutex
	sharedBuilder  *spatial.Builder
	buildCallbacks = make(map[uint64]func(*spatial.Index, uint64))
	// Results whose id was delivered before the callback registration,
	// which happens when the builder falls back to a synchronous build.
	parkedResults = make(map[uint64]spatial.BuildResult)
)

func submitIndexBuild(pd *pointdata.PointData, drawIndices []int32, params spatial.BuildParams, cb func(*spatial.Index, uint64)) uint64 {
	builderMu.Lock()
	if sharedBuilder == nil {
		sharedBuilder = spatial.NewBuilder(dispatchBuildResult)
	}
	b := sharedBuilder
	builderMu.Unlock()

	id := b.Submit(pd, drawIndices, params)

	builderMu.Lock()
	if r, ok := parkedResults[id]; ok {
		delete(parkedResults, id)
		builderMu.Unlock()
		if r.Err == nil {
			cb(r.Index, r.ID)
		}
		return id
	}
	buildCallbacks[id] = cb
	builderMu.Unlock()
	return id
}

func dispatchBuildResult(r spatial.BuildResult) {
	builderMu.Lock()
	cb, ok := buildCallbacks[r.ID]
	if !ok {
		parkedResults[r.ID] = r
		builderMu.Unlock()
		return
	}
	delete(buildCallbacks, r.ID)
	builderMu.Unlock()
	if r.Err == nil {
		cb(r.Index, r.ID)
	}
}

// ShutdownIndexBuilder stops the shared builder. Engines created afterwards
// lazily construct a fresh one.
func ShutdownIndexBuilder() {
	builderMu.Lock()
	b := sharedBuilder
	sharedBuilder = nil
	buildCallbacks = make(map[uint64]func(*spatial.Index, uint64))
	parkedResults = make(map[uint64]spatial.BuildResult)
	builderMu.Unlock()
	if b != nil {
		b.Stop()
	}
}
