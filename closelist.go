package vmpool

import "sync"

// nCloseListShards is the original's VM_CLOSE_CTRL_LIST_COUNT.
const nCloseListShards = 64

// closeListShard is a FIFO of eviction-candidate Ctrls, represented as an
// intrusive doubly-linked list through Ctrl.closePrev/closeNext so a Ctrl
// that gets reopened can be unlinked from the middle in O(1).
type closeListShard struct {
	mu         sync.Mutex
	head, tail *Ctrl
}

// closeLists is C4.
type closeLists struct {
	shards [nCloseListShards]closeListShard
}

// add pushes ctrl onto the tail of its caller-affinity shard iff it is
// currently eligible (not already listed, ref_count == 0). Lock order:
// shard mutex first, then ctrl.mu, per the spec's rule 2.
func (cl *closeLists) add(seed uint64, ctrl *Ctrl) {
	shard := shardIndex(seed, nCloseListShards)
	s := &cl.shards[shard]

	s.mu.Lock()
	defer s.mu.Unlock()

	ctrl.mu.Lock()
	defer ctrl.mu.Unlock()

	if ctrl.inCloseList || ctrl.refCount != 0 {
		return
	}
	ctrl.inCloseList = true
	ctrl.closeShard = shard
	ctrl.closePrev = s.tail
	ctrl.closeNext = nil
	if s.tail != nil {
		s.tail.closeNext = ctrl
	} else {
		s.head = ctrl
	}
	s.tail = ctrl
}

// remove unlinks ctrl from whichever shard it is currently listed in, if
// any, reporting whether it actually removed something. It only knows the
// shard by reading ctrl.closeShard, set under both locks by add/pickVictim,
// so it takes an optimistic peek at the shard before acquiring lock order
// (shard, then ctrl) and retries if the shard changed out from under it.
func (cl *closeLists) remove(ctrl *Ctrl) bool {
	for {
		ctrl.mu.Lock()
		if !ctrl.inCloseList {
			ctrl.mu.Unlock()
			return false
		}
		shard := ctrl.closeShard
		ctrl.mu.Unlock()

		s := &cl.shards[shard]
		s.mu.Lock()
		ctrl.mu.Lock()
		if !ctrl.inCloseList || ctrl.closeShard != shard {
			ctrl.mu.Unlock()
			s.mu.Unlock()
			continue
		}
		cl.unlinkLocked(s, ctrl)
		ctrl.inCloseList = false
		ctrl.mu.Unlock()
		s.mu.Unlock()
		return true
	}
}

// unlinkLocked removes ctrl from shard s's list. Caller holds s.mu and
// ctrl.mu.
func (cl *closeLists) unlinkLocked(s *closeListShard, ctrl *Ctrl) {
	if ctrl.closePrev != nil {
		ctrl.closePrev.closeNext = ctrl.closeNext
	} else if s.head == ctrl {
		s.head = ctrl.closeNext
	}
	if ctrl.closeNext != nil {
		ctrl.closeNext.closePrev = ctrl.closePrev
	} else if s.tail == ctrl {
		s.tail = ctrl.closePrev
	}
	ctrl.closePrev = nil
	ctrl.closeNext = nil
}

// pickVictim scans shards starting at the caller-affinity shard, walking
// up to all nCloseListShards shards, head-to-tail within each, looking for
// a Ctrl with ref_count == 0, !io_in_progress, frame_ptr != nil. The
// winner is reserved (io_in_progress = true) and unlinked before return:
// the caller now owns the obligation to complete or undo the eviction.
func (cl *closeLists) pickVictim(seed uint64) *Ctrl {
	start := shardIndex(seed, nCloseListShards)
	for i := uint32(0); i < nCloseListShards; i++ {
		shard := (start + i) % nCloseListShards
		s := &cl.shards[shard]

		s.mu.Lock()
		for c := s.head; c != nil; {
			next := c.closeNext
			c.mu.Lock()
			if c.refCount == 0 && !c.ioInProgress && c.frame != nil {
				c.ioInProgress = true
				cl.unlinkLocked(s, c)
				c.inCloseList = false
				c.mu.Unlock()
				s.mu.Unlock()
				return c
			}
			c.mu.Unlock()
			c = next
		}
		s.mu.Unlock()
	}
	return nil
}
