package vmpool

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/coldvm/vmpool/interfaces"
)

const (
	// maxSwapFiles is the original's VM_FILE_COUNT.
	maxSwapFiles = 8

	// pagesPerSlot: each 64-bit slot tracks this many on-disk pages.
	pagesPerSlot = 64

	minSwapFileSize = 8 << 20   // 8 MiB
	maxSwapFileSize = 1 << 40   // 1 TiB
	swapFileSizeRound = 1 << 20 // 1 MiB
)

// slotRef locates one bitmap slot: which slot page it lives in, and its
// index within that page's slotsPerSlotPage slots.
type slotRef struct {
	pageIdx uint32
	slotIdx uint32
}

// swapFile is one on-disk scratch file plus its in-memory bitmap slot
// chain. The slot pages themselves are pool-owned Ctrls, obtained through
// the pool's own Alloc+Open (the one bounded recursive use of the pool),
// and are never closed or freed for the file's lifetime.
type swapFile struct {
	mu sync.Mutex

	id       uint32
	handle   interfaces.FileHandle
	pageSize uint32

	pageMaxCount     uint32
	slotsPerSlotPage uint32

	slotPageCtrls []*Ctrl  // kept pinned; never routed through the close-list
	slotPages     [][]byte // frame of each slot page, same order as slotPageCtrls

	// freeSlots is a LIFO: the last entry is the current "head" slot that
	// allocation probes; it's only popped once it reports full.
	freeSlots []slotRef
}

func (f *swapFile) slotBytes(ref slotRef) []byte {
	off := ref.slotIdx * 8
	return f.slotPages[ref.pageIdx][off : off+8]
}

// occupiedCount reports the number of currently-allocated swap pages in
// this file, by popcounting every slot page. Diagnostic/test use only;
// never called from the hot path.
func (f *swapFile) occupiedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, page := range f.slotPages {
		for _, b := range page {
			for b != 0 {
				n += int(b & 1)
				b >>= 1
			}
		}
	}
	return n
}

// swapFileManager is C5.
type swapFileManager struct {
	mu       sync.Mutex // pool-wide file mutex; acquired before any per-file mutex
	files    []*swapFile
	pageSize uint32
	engine   interfaces.Engine

	// addMu serializes AddSwapFile calls. It is distinct from mu: building
	// a new file's slot pages calls back into the pool's own Alloc/Open,
	// which on the eviction path reacquires mu (allocSwapPage/freeSwapPage).
	// Holding mu across that callback would self-deadlock the first time a
	// swap file is added while RAM is already exhausted.
	addMu sync.Mutex
}

func newSwapFileManager(pageSize uint32, engine interfaces.Engine) *swapFileManager {
	return &swapFileManager{pageSize: pageSize, engine: engine}
}

// addFile creates (or truncates/reinitializes, per §6: swap files are
// scratch, never recovered across runs) a swap file of sizeBytes and
// allocates its bitmap slot pages out of p.
func (m *swapFileManager) addFile(p *Pool, path string, sizeBytes uint64) (*swapFile, error) {
	if sizeBytes < minSwapFileSize || sizeBytes > maxSwapFileSize {
		return nil, newErr(KindConfigInvalid, errors.Errorf("swap file size %d out of [%d, %d]", sizeBytes, minSwapFileSize, maxSwapFileSize))
	}
	sizeBytes -= sizeBytes % swapFileSizeRound

	// addMu serializes the whole add (not mu): the slot-page allocation
	// below calls back into p.Alloc/p.Open, which can reach eviction and
	// reacquire mu. mu itself is only held for the brief file-count check
	// and the final append.
	m.addMu.Lock()
	defer m.addMu.Unlock()

	m.mu.Lock()
	if len(m.files) >= maxSwapFiles {
		m.mu.Unlock()
		return nil, newErr(KindConfigInvalid, errors.New("too many swap files"))
	}
	fileID := uint32(len(m.files))
	m.mu.Unlock()

	handle, err := m.engine.OpenFile(path, int64(sizeBytes))
	if err != nil {
		return nil, wrapErr(KindIOError, err, "open swap file")
	}

	pageMaxCount := uint32(sizeBytes / uint64(m.pageSize))
	slotsPerSlotPage := m.pageSize / 8
	slotsPerPage := slotsPerSlotPage * pagesPerSlot
	slotPageCount := (pageMaxCount + slotsPerPage - 1) / slotsPerPage
	if slotPageCount == 0 {
		slotPageCount = 1
	}

	sf := &swapFile{
		id:               fileID,
		handle:           handle,
		pageSize:         m.pageSize,
		pageMaxCount:     pageMaxCount,
		slotsPerSlotPage: slotsPerSlotPage,
	}

	for i := uint32(0); i < slotPageCount; i++ {
		ctrl, err := p.Alloc()
		if err != nil {
			return nil, errors.Wrap(err, "allocate slot page ctrl")
		}
		frame, err := p.Open(ctrl)
		if err != nil {
			return nil, errors.Wrap(err, "open slot page ctrl")
		}
		clear(frame)
		sf.slotPageCtrls = append(sf.slotPageCtrls, ctrl)
		sf.slotPages = append(sf.slotPages, frame)
	}

	// Link every slot in descending order so that slot 0 of slot page 0
	// ends up as the head (last entry) of the LIFO.
	for i := slotPageCount; i > 0; i-- {
		for s := slotsPerSlotPage; s > 0; s-- {
			sf.freeSlots = append(sf.freeSlots, slotRef{pageIdx: i - 1, slotIdx: s - 1})
		}
	}

	m.mu.Lock()
	m.files = append(m.files, sf)
	m.mu.Unlock()
	return sf, nil
}

func scanSlotForZeroBit(slot []byte) (byteIdx, bitIdx int, ok bool) {
	for b := 0; b < len(slot); b++ {
		if slot[b] == 0xFF {
			continue
		}
		for bit := 0; bit < 8; bit++ {
			if slot[b]&(1<<uint(bit)) == 0 {
				return b, bit, true
			}
		}
	}
	return 0, 0, false
}

func isSlotFull(slot []byte) bool {
	for _, b := range slot {
		if b != 0xFF {
			return false
		}
	}
	return true
}

// allocSwapPage scans files in file-id order for one with a usable slot,
// returning NoSid if none has room.
func (m *swapFileManager) allocSwapPage() Sid {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, f := range m.files {
		if sid, ok := f.allocPage(); ok {
			return sid
		}
	}
	return NoSid
}

func (f *swapFile) allocPage() (Sid, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.allocPageLocked()
}

// allocPageLocked scans the head slot for a zero bit, retrying after
// popping a spuriously-full head slot. A zero bit at or past pageMaxCount
// means every page of the file is in use, so it reports no room without
// setting the bit. Caller holds f.mu.
func (f *swapFile) allocPageLocked() (Sid, bool) {
	if len(f.freeSlots) == 0 {
		return NoSid, false
	}
	ref := f.freeSlots[len(f.freeSlots)-1]
	slot := f.slotBytes(ref)
	byteIdx, bitIdx, ok := scanSlotForZeroBit(slot)
	if !ok {
		f.freeSlots = f.freeSlots[:len(f.freeSlots)-1]
		return f.allocPageLocked()
	}
	pageNum := ref.pageIdx*f.slotsPerSlotPage*pagesPerSlot + ref.slotIdx*pagesPerSlot + uint32(byteIdx)*8 + uint32(bitIdx)
	if pageNum >= f.pageMaxCount {
		return NoSid, false
	}
	slot[byteIdx] |= 1 << uint(bitIdx)
	if isSlotFull(slot) {
		f.freeSlots = f.freeSlots[:len(f.freeSlots)-1]
	}
	return newSid(f.id, pageNum), true
}

// freeSwapPage clears the bit for sid, relinking its slot at the head of
// free_slots if the slot was full before this clear.
func (m *swapFileManager) freeSwapPage(sid Sid) {
	if sid == NoSid {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	idx := int(sid.fileIndex())
	if idx < 0 || idx >= len(m.files) {
		return
	}
	m.files[idx].freePage(sid.pageNumber())
}

func (f *swapFile) freePage(pageNum uint32) {
	f.mu.Lock()
	defer f.mu.Unlock()

	slotsPerPage := f.slotsPerSlotPage * pagesPerSlot
	pageIdx := pageNum / slotsPerPage
	rem := pageNum % slotsPerPage
	slotIdx := rem / pagesPerSlot
	bitPos := rem % pagesPerSlot
	byteIdx := bitPos / 8
	bitIdx := bitPos % 8

	ref := slotRef{pageIdx: pageIdx, slotIdx: slotIdx}
	slot := f.slotBytes(ref)

	wasFull := isSlotFull(slot)
	slot[byteIdx] &^= 1 << bitIdx
	if wasFull {
		f.freeSlots = append(f.freeSlots, ref)
	}
}

// offset returns the on-disk byte offset of sid's page within its file.
func (m *swapFileManager) offset(sid Sid) int64 {
	return sid.offset(m.pageSize)
}

func (m *swapFileManager) fileHandle(sid Sid) interfaces.FileHandle {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := int(sid.fileIndex())
	if idx < 0 || idx >= len(m.files) {
		return nil
	}
	return m.files[idx].handle
}
