package vmpool

import "testing"

func TestArenaBumpAllocation(t *testing.T) {
	ar, err := newArena(fakeArena{}, 64<<20, 128<<10)
	if err != nil {
		t.Fatalf("newArena() failed: %v", err)
	}

	want := int(64<<20) / (128 << 10)
	got := 0
	for {
		frame := ar.allocFromBump()
		if frame == nil {
			break
		}
		if len(frame) != 128<<10 {
			t.Fatalf("frame length = %d, want %d", len(frame), 128<<10)
		}
		got++
	}
	if got != want {
		t.Fatalf("allocFromBump() produced %d frames, want %d", got, want)
	}
}

func TestArenaRejectsBadConfig(t *testing.T) {
	if _, err := newArena(fakeArena{}, 64<<20, 4096); err == nil {
		t.Fatal("newArena() with unsupported page size succeeded")
	}
	if _, err := newArena(fakeArena{}, 1<<20, 128<<10); err == nil {
		t.Fatal("newArena() below RAM floor succeeded")
	}
}
