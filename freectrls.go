package vmpool

import (
	"sync"
	"time"
)

// nFreeCtrlShards is the original's VM_FREE_CTRL_LIST_COUNT.
const nFreeCtrlShards = 64

// expansionSpinSleep is the calibrated sleep used while a caller waits for
// another goroutine's shard expansion (or Ctrl close/open) to finish,
// matching the spec's ~50µs figure.
const expansionSpinSleep = 50 * time.Microsecond

// nominalCtrlRecordSize stands in for sizeof(Ctrl) in the original's "carve
// a page into Ctrl-sized slots" expansion math. Go allocates real *Ctrl
// structs rather than placement-newing them into a byte buffer (that would
// need unsafe), so this constant only sizes the batch; the frame pulled
// from C1/C2 to pay for the expansion is still consumed permanently and
// never returned, preserving the original's RAM accounting.
const nominalCtrlRecordSize = 64

func ctrlsPerBatch(pageSize uint32) int {
	n := int(pageSize) / nominalCtrlRecordSize
	if n < 1 {
		n = 1
	}
	return n
}

type freeCtrlShard struct {
	mu                   sync.Mutex
	free                 []*Ctrl
	ioInProgressCtrlPage bool
}

// freeCtrlLists is C3: N shards of free Ctrl records, lazily expanded.
type freeCtrlLists struct {
	shards [nFreeCtrlShards]freeCtrlShard
}

func shardIndex(seed uint64, n uint32) uint32 {
	return uint32(seed % uint64(n))
}

// alloc returns a free Ctrl, probing the caller-affinity shard and its
// neighbors before expanding the caller-affinity shard.
func (f *freeCtrlLists) alloc(p *Pool, seed uint64) *Ctrl {
	start := shardIndex(seed, nFreeCtrlShards)
	for i := uint32(0); i < neighborProbeWidth; i++ {
		s := &f.shards[(start+i)%nFreeCtrlShards]
		if c := s.pop(); c != nil {
			return c
		}
	}
	return f.expand(p, start)
}

func (s *freeCtrlShard) pop() *Ctrl {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.free)
	if n == 0 {
		return nil
	}
	c := s.free[n-1]
	s.free = s.free[:n-1]
	c.resetForRealloc()
	return c
}

// expand grows shard with one frame's worth of freshly carved Ctrls. Only
// one goroutine performs the actual expansion per shard at a time; others
// spin-sleep on ioInProgressCtrlPage and recheck.
func (f *freeCtrlLists) expand(p *Pool, shard uint32) *Ctrl {
	s := &f.shards[shard]

	for {
		s.mu.Lock()
		if len(s.free) > 0 {
			c := s.free[len(s.free)-1]
			s.free = s.free[:len(s.free)-1]
			s.mu.Unlock()
			c.resetForRealloc()
			return c
		}
		if s.ioInProgressCtrlPage {
			s.mu.Unlock()
			time.Sleep(expansionSpinSleep)
			continue
		}
		s.ioInProgressCtrlPage = true
		s.mu.Unlock()
		break
	}

	defer func() {
		s.mu.Lock()
		s.ioInProgressCtrlPage = false
		s.mu.Unlock()
	}()

	frame := p.acquireFrame(affinitySeed())
	if frame == nil {
		return nil
	}

	batch := make([]Ctrl, ctrlsPerBatch(p.pageSize))
	p.addCtrlBatch(batch)

	s.mu.Lock()
	first := &batch[0]
	first.resetToAbsent(p.nextCtrlID(), shard)
	for i := 1; i < len(batch); i++ {
		c := &batch[i]
		c.resetToAbsent(p.nextCtrlID(), shard)
		s.free = append(s.free, c)
	}
	s.mu.Unlock()

	return first
}

// free returns ctrl to the shard it was originally carved into, not the
// caller's current affinity, matching the original's owner_list_id.
func (f *freeCtrlLists) free(ctrl *Ctrl) {
	s := &f.shards[ctrl.shard]
	s.mu.Lock()
	s.free = append(s.free, ctrl)
	s.mu.Unlock()
}
