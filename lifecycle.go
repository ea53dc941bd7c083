package vmpool

import (
	"time"

	"github.com/coldvm/vmpool/interfaces"
)

// ioTimeout is the fixed 120s bound on every swap read/write wait.
const ioTimeout = 120 * time.Second

// Alloc creates a new handle in the Absent state. It never fails unless
// both C2 is empty and eviction finds no victim anywhere in the
// close-lists, in which case it returns Exhausted.
func (p *Pool) Alloc() (*Ctrl, error) {
	seed := affinitySeed()
	ctrl := p.ctrls.alloc(p, seed)
	if ctrl == nil {
		return nil, ErrExhausted
	}
	return ctrl, nil
}

// Free reclaims ctrl's frame (if any) to C2, its swap page (if any) to
// C5, and ctrl itself to its origin shard in C3. It is idempotent: a
// second Free on an already-freed Ctrl is a no-op.
func (p *Pool) Free(ctrl *Ctrl) {
	var frame []byte
	var swapID Sid

	for {
		ctrl.mu.Lock()
		if ctrl.isFree {
			ctrl.mu.Unlock()
			return
		}
		if ctrl.ioInProgress || ctrl.refCount != 0 {
			ctrl.mu.Unlock()
			time.Sleep(expansionSpinSleep)
			continue
		}
		ctrl.isFree = true
		frame = ctrl.frame
		swapID = ctrl.swapID
		ctrl.frame = nil
		ctrl.swapID = NoSid
		ctrl.mu.Unlock()
		break
	}

	if p.closes.remove(ctrl) {
		p.metrics.closeListDepth.Dec()
	}

	if frame != nil {
		p.pages.freePage(affinitySeed(), frame)
		p.metrics.freePages.Inc()
		p.metrics.residentFrames.Dec()
	}
	p.ctrls.free(ctrl)
	if swapID != NoSid {
		p.swap.freeSwapPage(swapID)
		p.metrics.swapOccupied.Dec()
	}
}

// Open pins ctrl, returning its resident frame. A first open (or an open
// following a prior swap-out) may block on swap-in or eviction I/O.
func (p *Pool) Open(ctrl *Ctrl) ([]byte, error) {
	ctrl.mu.Lock()
	for ctrl.ioInProgress {
		ctrl.mu.Unlock()
		time.Sleep(expansionSpinSleep)
		ctrl.mu.Lock()
	}
	if ctrl.isFree {
		ctrl.mu.Unlock()
		return nil, ErrUseAfterFree
	}
	if ctrl.refCount >= MaxRefCount {
		ctrl.mu.Unlock()
		return nil, ErrOpenLimitExceeded
	}
	if ctrl.refCount > 0 {
		ctrl.refCount++
		frame := ctrl.frame
		ctrl.mu.Unlock()
		return frame, nil
	}

	needsFrame := ctrl.frame == nil
	if needsFrame {
		ctrl.ioInProgress = true
	}
	ctrl.refCount = 1
	ctrl.mu.Unlock()

	if p.closes.remove(ctrl) {
		p.metrics.closeListDepth.Dec()
	}

	if !needsFrame {
		ctrl.mu.Lock()
		frame := ctrl.frame
		ctrl.mu.Unlock()
		return frame, nil
	}

	seed := affinitySeed()
	frame := p.acquireFrame(seed)
	if frame == nil {
		ctrl.mu.Lock()
		ctrl.refCount--
		ctrl.ioInProgress = false
		ctrl.mu.Unlock()
		return nil, ErrExhausted
	}

	ctrl.mu.Lock()
	swapID := ctrl.swapID
	ctrl.mu.Unlock()

	if swapID == NoSid {
		ctrl.mu.Lock()
		ctrl.frame = frame
		ctrl.ioInProgress = false
		f := ctrl.frame
		ctrl.mu.Unlock()
		p.metrics.residentFrames.Inc()
		return f, nil
	}

	if err := p.swapIn(ctrl, frame, swapID); err != nil {
		ctrl.mu.Lock()
		ctrl.refCount--
		ctrl.ioInProgress = false
		ctrl.mu.Unlock()
		p.pages.freePage(seed, frame)
		p.metrics.freePages.Inc()
		return nil, err
	}

	ctrl.mu.Lock()
	f := ctrl.frame
	ctrl.mu.Unlock()
	return f, nil
}

// swapIn reads ctrl's swapped page into frame and, on success, installs
// it and clears the on-disk bit.
func (p *Pool) swapIn(ctrl *Ctrl, frame []byte, sid Sid) error {
	h := p.swap.fileHandle(sid)
	if h == nil {
		return newErr(KindIOError, nil)
	}
	sub, err := p.engine.Submit(h, interfaces.OpRead, frame, p.swap.offset(sid))
	if err != nil {
		p.metrics.ioFailures.Inc()
		return wrapErr(KindIOError, err, "submit swap-in read")
	}
	res := p.engine.Wait(sub, ioTimeout)
	switch res {
	case interfaces.IOCompleted:
		ctrl.mu.Lock()
		ctrl.frame = frame
		ctrl.swapID = NoSid
		ctrl.ioInProgress = false
		ctrl.mu.Unlock()
		p.swap.freeSwapPage(sid)
		p.metrics.residentFrames.Inc()
		p.metrics.swapOccupied.Dec()
		return nil
	case interfaces.IOTimedOut:
		p.metrics.ioTimeouts.Inc()
		// A timed-out read leaves sid intact: the data must remain
		// recoverable on retry.
		return ErrIOError
	default:
		p.metrics.ioFailures.Inc()
		return ErrIOError
	}
}

// Close releases one reference on ctrl. When the reference count reaches
// zero, ctrl becomes eligible for eviction and is offered to its
// caller-affinity close-list shard.
func (p *Pool) Close(ctrl *Ctrl) {
	for {
		ctrl.mu.Lock()
		if !ctrl.ioInProgress {
			break
		}
		ctrl.mu.Unlock()
		time.Sleep(expansionSpinSleep)
	}
	if ctrl.refCount == 0 {
		ctrl.mu.Unlock()
		panicInternal("close on ref_count == 0")
		return
	}
	ctrl.refCount--
	becameIdle := ctrl.refCount == 0
	ctrl.mu.Unlock()

	if becameIdle {
		p.closes.add(affinitySeed(), ctrl)
		ctrl.mu.Lock()
		listed := ctrl.inCloseList
		ctrl.mu.Unlock()
		if listed {
			p.metrics.closeListDepth.Inc()
		}
	}
}

// swapOutVictim picks an eviction candidate from the close-lists starting
// at seed's shard, writes its frame to a swap file, and returns the
// harvested frame. Transient I/O failure during an attempt is swallowed:
// the victim is restored to a close-list and another pick is made. At most
// nCloseListShards attempts are made, and Ctrls already tried are not
// excluded, so a restored victim can be picked again. It returns nil when
// no candidate is found or when every attempt has failed.
func (p *Pool) swapOutVictim(seed uint64) []byte {
	for attempt := uint32(0); attempt < nCloseListShards; attempt++ {
		victim := p.closes.pickVictim(seed + uint64(attempt))
		if victim == nil {
			return nil
		}
		p.metrics.closeListDepth.Dec()
		if frame, ok := p.evict(victim); ok {
			p.metrics.evictions.Inc()
			return frame
		}
		// evict failed and already restored victim to its close-list;
		// try the next candidate.
	}
	return nil
}

// evict writes victim's frame to a freshly allocated swap page. On
// success it nulls victim.frame_ptr, sets swap_id, clears io_in_progress,
// and returns the harvested frame. On any failure it undoes its own
// reservations, re-adds victim to the close-list, and reports false so
// the caller tries a different Ctrl.
func (p *Pool) evict(victim *Ctrl) ([]byte, bool) {
	sid := p.swap.allocSwapPage()
	if sid == NoSid {
		p.restoreVictim(victim)
		return nil, false
	}

	victim.mu.Lock()
	frame := victim.frame
	victim.mu.Unlock()

	h := p.swap.fileHandle(sid)
	sub, err := p.engine.Submit(h, interfaces.OpWrite, frame, p.swap.offset(sid))
	if err != nil {
		p.metrics.ioFailures.Inc()
		p.swap.freeSwapPage(sid)
		p.restoreVictim(victim)
		return nil, false
	}

	res := p.engine.Wait(sub, ioTimeout)
	if res != interfaces.IOCompleted {
		if res == interfaces.IOTimedOut {
			p.metrics.ioTimeouts.Inc()
		} else {
			p.metrics.ioFailures.Inc()
		}
		p.swap.freeSwapPage(sid)
		p.restoreVictim(victim)
		return nil, false
	}

	victim.mu.Lock()
	victim.frame = nil
	victim.swapID = sid
	victim.ioInProgress = false
	victim.mu.Unlock()

	p.metrics.residentFrames.Dec()
	p.metrics.swapOccupied.Inc()

	return frame, true
}

// restoreVictim undoes a reservation picked up by pickVictim: clears
// io_in_progress and re-offers the Ctrl to its close-list.
func (p *Pool) restoreVictim(victim *Ctrl) {
	victim.mu.Lock()
	victim.ioInProgress = false
	ref := victim.refCount
	victim.mu.Unlock()
	if ref == 0 {
		p.closes.add(affinitySeed(), victim)
		p.metrics.closeListDepth.Inc()
	}
}

// panicInternal reports an invariant violation. Production builds keep it
// a panic: close-on-zero-ref is a programming error per SPEC_FULL §7, not
// a recoverable condition.
func panicInternal(msg string) {
	panic("vmpool: internal invariant violated: " + msg)
}
