package vmpool

import "sync"

// MaxRefCount is the largest ref_count a Ctrl may reach (2^24 - 1), matching
// the bitfield width of the original vm_ctrl_t.ref_num.
const MaxRefCount = 1<<24 - 1

// Ctrl is a handle identifying one logical page for its entire lifetime.
// Its address is stable from the moment it is carved out of a Ctrl batch
// (see freeCtrlLists.expand) until pool teardown; it is never moved or
// reallocated, only cycled between free, Absent, Resident and Swapped.
type Ctrl struct {
	mu sync.Mutex

	id    uint64
	shard uint32

	isFree       bool
	ioInProgress bool
	inCloseList  bool

	refCount uint32
	swapID   Sid
	frame    []byte

	// closePrev/closeNext link this Ctrl into its close-list shard's
	// intrusive doubly-linked FIFO. Valid only while inCloseList is true.
	closePrev *Ctrl
	closeNext *Ctrl

	// closeShard records which close-list shard inCloseList refers to, so
	// a later remove can find and lock the right shard mutex without a
	// linear scan over all of them.
	closeShard uint32
}

// resetToAbsent zeroes a freshly carved Ctrl to the Absent state. Called
// during shard expansion with the free-ctrl shard's mutex held; c.mu is
// not taken.
func (c *Ctrl) resetToAbsent(id uint64, shard uint32) {
	c.id = id
	c.shard = shard
	c.isFree = false
	c.ioInProgress = false
	c.inCloseList = false
	c.refCount = 0
	c.swapID = NoSid
	c.frame = nil
	c.closePrev = nil
	c.closeNext = nil
}

// resetForRealloc zeroes a Ctrl back to the Absent state when it is popped
// off a free-ctrl shard for reuse. id and shard are diagnostic/origin
// fields fixed at carve time and are left untouched, matching the
// original's alloc_ctrl (which resets every field except the two it
// never touches after expand_ctrls_by_page).
func (c *Ctrl) resetForRealloc() {
	c.isFree = false
	c.ioInProgress = false
	c.inCloseList = false
	c.refCount = 0
	c.swapID = NoSid
	c.frame = nil
	c.closePrev = nil
	c.closeNext = nil
}

// isResidentLocked reports Resident per the state-encoding invariant.
// Caller must hold c.mu.
func (c *Ctrl) isResidentLocked() bool {
	return c.frame != nil && c.swapID == NoSid
}

// isSwappedLocked reports Swapped per the state-encoding invariant.
// Caller must hold c.mu.
func (c *Ctrl) isSwappedLocked() bool {
	return c.frame == nil && c.swapID != NoSid
}
