package vmpool

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/coldvm/vmpool/interfaces"
)

// minRAMBudget is the floor enforced by original_source/cm_vm_pool.cpp's
// vm_pool_create: pools smaller than this are rejected outright rather than
// silently rounded up.
const minRAMBudget = 64 << 20 // 64 MiB

// validPageSizes mirrors the original's {128 KiB, 256 KiB, 512 KiB} set.
var validPageSizes = map[uint32]bool{
	128 << 10: true,
	256 << 10: true,
	512 << 10: true,
}

// arena is C1: one contiguous OS reservation, handed out frame-by-frame by
// bumping a high-water mark. It keeps no free-list of its own; returned
// frames live in C2 instead.
type arena struct {
	pageSize  uint32
	frameCnt  uint32
	buf       []byte
	a         interfaces.Arena
	hwmMu     sync.Mutex // leaf mutex, per the spec's lock-ordering rules
	hwm       uint32
}

func newArena(a interfaces.Arena, ramBudget uint64, pageSize uint32) (*arena, error) {
	if !validPageSizes[pageSize] {
		return nil, newErr(KindConfigInvalid, errors.Errorf("unsupported page size %d", pageSize))
	}
	if ramBudget < minRAMBudget {
		return nil, newErr(KindConfigInvalid, errors.Errorf("ram budget %d below %d minimum", ramBudget, minRAMBudget))
	}
	frameCnt := uint32(ramBudget / uint64(pageSize))
	size := uint64(frameCnt) * uint64(pageSize)

	buf, err := a.Reserve(size)
	if err != nil {
		return nil, wrapErr(KindConfigInvalid, err, "reserve arena")
	}

	return &arena{
		pageSize: pageSize,
		frameCnt: frameCnt,
		buf:      buf,
		a:        a,
	}, nil
}

// allocFromBump returns the next unused frame, or nil if the arena is
// exhausted. Reclamation past this point is C2's job.
func (ar *arena) allocFromBump() []byte {
	ar.hwmMu.Lock()
	defer ar.hwmMu.Unlock()

	if ar.hwm >= ar.frameCnt {
		return nil
	}
	start := uint64(ar.hwm) * uint64(ar.pageSize)
	frame := ar.buf[start : start+uint64(ar.pageSize) : start+uint64(ar.pageSize)]
	ar.hwm++
	return frame
}

func (ar *arena) close() error {
	return ar.a.Release(ar.buf)
}
