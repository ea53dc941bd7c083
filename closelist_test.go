package vmpool

import "testing"

func newResidentCtrl(id uint64, shard uint32, frame []byte) *Ctrl {
	c := &Ctrl{}
	c.resetToAbsent(id, shard)
	c.frame = frame
	return c
}

func TestCloseListsAddRemovePickVictim(t *testing.T) {
	var cl closeLists

	a := newResidentCtrl(1, 0, make([]byte, 16))
	b := newResidentCtrl(2, 0, make([]byte, 16))

	cl.add(0, a)
	cl.add(0, b)

	a.mu.Lock()
	if !a.inCloseList {
		t.Fatal("a not marked inCloseList after add")
	}
	a.mu.Unlock()

	// FIFO: a was added first, so pickVictim from the same shard must
	// return a before b.
	got := cl.pickVictim(0)
	if got != a {
		t.Fatalf("pickVictim() = %p, want a (%p)", got, a)
	}
	got.mu.Lock()
	if !got.ioInProgress {
		t.Fatal("victim not marked io_in_progress")
	}
	if got.inCloseList {
		t.Fatal("victim still marked inCloseList after pickVictim")
	}
	got.mu.Unlock()

	got2 := cl.pickVictim(0)
	if got2 != b {
		t.Fatalf("pickVictim() second call = %p, want b (%p)", got2, b)
	}
}

func TestCloseListsAddRejectsIneligible(t *testing.T) {
	var cl closeLists

	refd := newResidentCtrl(1, 0, make([]byte, 16))
	refd.refCount = 1 // not eligible: still referenced

	cl.add(0, refd)

	refd.mu.Lock()
	inList := refd.inCloseList
	refd.mu.Unlock()
	if inList {
		t.Fatal("ctrl with ref_count > 0 was added to close-list")
	}
}

func TestCloseListsRemove(t *testing.T) {
	var cl closeLists

	a := newResidentCtrl(1, 0, make([]byte, 16))
	cl.add(0, a)
	cl.remove(a)

	a.mu.Lock()
	inList := a.inCloseList
	a.mu.Unlock()
	if inList {
		t.Fatal("ctrl still marked inCloseList after remove")
	}

	if got := cl.pickVictim(0); got != nil {
		t.Fatalf("pickVictim() after remove = %v, want nil", got)
	}
}

func TestCloseListsPickVictimSkipsIOInProgress(t *testing.T) {
	var cl closeLists

	busy := newResidentCtrl(1, 0, make([]byte, 16))
	idle := newResidentCtrl(2, 0, make([]byte, 16))

	cl.add(0, busy)
	cl.add(0, idle)

	busy.mu.Lock()
	busy.ioInProgress = true
	busy.mu.Unlock()

	got := cl.pickVictim(0)
	if got != idle {
		t.Fatalf("pickVictim() = %v, want idle (busy candidate must be skipped)", got)
	}
}
