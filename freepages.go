package vmpool

import (
	"sync"

	"github.com/coldvm/vmpool/internal/affinity"
)

// nFreePageShards is the original's VM_FREE_PAGE_LIST_COUNT.
const nFreePageShards = 64

// neighborProbeWidth is the original vm_alloc_low's loop_count: the number
// of shards probed in all, the caller-affinity shard followed by the next
// neighborProbeWidth-1 numerically-adjacent shards, before giving up and falling back to the next tier (C1's bump allocator
// for pages, shard expansion for Ctrls).
const neighborProbeWidth = 8

type framePageShard struct {
	mu     sync.Mutex
	frames [][]byte // LIFO: append/pop at the tail
}

// freePageLists is C2: N shards of ready-to-use frames.
type freePageLists struct {
	shards [nFreePageShards]framePageShard
}

func (f *freePageLists) shardFor(seed uint64) uint32 {
	return uint32(seed % nFreePageShards)
}

// allocPage probes the caller-affinity shard then its neighbors; it does
// not fall back to the arena itself (the caller, Pool.acquireFrame, does that
// so it can fall through to eviction on a total miss).
func (f *freePageLists) allocPage(seed uint64) []byte {
	start := f.shardFor(seed)
	for i := uint32(0); i < neighborProbeWidth; i++ {
		s := &f.shards[(start+i)%nFreePageShards]
		s.mu.Lock()
		n := len(s.frames)
		if n > 0 {
			frame := s.frames[n-1]
			s.frames = s.frames[:n-1]
			s.mu.Unlock()
			return frame
		}
		s.mu.Unlock()
	}
	return nil
}

func (f *freePageLists) freePage(seed uint64, frame []byte) {
	s := &f.shards[f.shardFor(seed)]
	s.mu.Lock()
	s.frames = append(s.frames, frame)
	s.mu.Unlock()
}

// affinitySeed is the package-wide substitute for a per-thread id; see
// internal/affinity.
func affinitySeed() uint64 {
	return affinity.Next()
}
