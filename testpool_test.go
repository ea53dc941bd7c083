package vmpool

import (
	"os"
	"testing"

	"github.com/coldvm/vmpool/ioengine"
)

// fakeArena is a plain make([]byte, n) stand-in for interfaces.Arena, so
// unit tests never touch a real mmap syscall.
type fakeArena struct{}

func (fakeArena) Reserve(size uint64) ([]byte, error) {
	return make([]byte, size), nil
}

func (fakeArena) Release([]byte) error { return nil }

// newTestPool builds a Pool over fakeArena + MemEngine at the smallest
// legal page size (128 KiB), sized for nFrames resident frames.
func newTestPool(t *testing.T, nFrames int) (*Pool, *ioengine.MemEngine) {
	t.Helper()
	const pageSize = 128 << 10
	eng := ioengine.NewMemEngine()
	p, err := NewPool(Config{
		RAMBudget: uint64(nFrames) * pageSize,
		PageSize:  pageSize,
		Arena:     fakeArena{},
		Engine:    eng,
	})
	if err != nil {
		t.Fatalf("NewPool() failed: %v", err)
	}
	return p, eng
}

// newTestSwapFile adds a scratch swap file large enough for nPages pages,
// backed by a throwaway temp path (MemEngine never touches the
// filesystem, so the path is never actually created).
func newTestSwapFile(t *testing.T, p *Pool, nPages int) {
	t.Helper()
	const pageSize = 128 << 10
	size := uint64(nPages) * pageSize
	if size < minSwapFileSize {
		size = minSwapFileSize
	}
	if err := p.AddSwapFile(t.TempDir()+string(os.PathSeparator)+"swap0", size); err != nil {
		t.Fatalf("AddSwapFile() failed: %v", err)
	}
}

func fillPattern(frame []byte, b byte) {
	for i := range frame {
		frame[i] = b
	}
}

func checkPattern(t *testing.T, frame []byte, b byte) {
	t.Helper()
	for i, v := range frame {
		if v != b {
			t.Fatalf("pattern mismatch at byte %d: got %d want %d", i, v, b)
		}
	}
}
