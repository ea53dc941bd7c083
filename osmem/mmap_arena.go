// Package osmem implements interfaces.Arena over the host OS's virtual
// memory facility.
package osmem

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// MmapArena reserves process-private memory with an anonymous mmap, the
// idiomatic Go substitute for the original engine's os_mem_alloc_large.
type MmapArena struct{}

// NewMmapArena returns an Arena backed by mmap/munmap.
func NewMmapArena() *MmapArena {
	return &MmapArena{}
}

func (MmapArena) Reserve(size uint64) ([]byte, error) {
	mem, err := unix.Mmap(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, errors.Wrap(err, "mmap anonymous region")
	}
	return mem, nil
}

func (MmapArena) Release(mem []byte) error {
	if err := unix.Munmap(mem); err != nil {
		return errors.Wrap(err, "munmap region")
	}
	return nil
}
