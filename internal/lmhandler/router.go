package lmhandler

import (
	"sort"
	"sync"
)

// DepthRouter maps a request's depth to a model name, per §4.7.
// Unknown depths fall back to the model configured at the highest
// known depth. Safe for concurrent reads while being hot-reloaded by
// the ambient config watcher (fsnotify-backed viper reload).
type DepthRouter struct {
	mu      sync.RWMutex
	byDepth map[int]string
	maxDepthKey int
}

func NewDepthRouter(depthModelMap map[int]string) *DepthRouter {
	r := &DepthRouter{}
	r.Replace(depthModelMap)
	return r
}

// Replace atomically swaps the routing table, used both at startup and
// on a config hot-reload.
func (r *DepthRouter) Replace(depthModelMap map[int]string) {
	cp := make(map[int]string, len(depthModelMap))
	maxKey := 0
	for k, v := range depthModelMap {
		cp[k] = v
		if k > maxKey {
			maxKey = k
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.byDepth = cp
	r.maxDepthKey = maxKey
}

// ModelFor returns the model configured for depth, falling back to the
// highest configured depth's model when depth is unknown.
func (r *DepthRouter) ModelFor(depth int) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if model, ok := r.byDepth[depth]; ok {
		return model
	}
	if model, ok := r.byDepth[r.maxDepthKey]; ok {
		return model
	}
	return ""
}

// Depths returns the configured depths in ascending order, used by the
// introspection endpoint.
func (r *DepthRouter) Depths() []int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	depths := make([]int, 0, len(r.byDepth))
	for d := range r.byDepth {
		depths = append(depths, d)
	}
	sort.Ints(depths)
	return depths
}

// Snapshot returns a copy of the current routing table.
func (r *DepthRouter) Snapshot() map[int]string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cp := make(map[int]string, len(r.byDepth))
	for k, v := range r.byDepth {
		cp[k] = v
	}
	return cp
}
