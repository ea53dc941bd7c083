package vmpool

import (
	"testing"

	"github.com/coldvm/vmpool/ioengine"
)

func TestNewPool(t *testing.T) {
	type args struct {
		ramBudget uint64
		pageSize  uint32
	}
	tests := []struct {
		name    string
		args    args
		wantErr Kind
	}{
		{
			name: "valid 64 MiB pool at 128 KiB pages",
			args: args{ramBudget: 64 << 20, pageSize: 128 << 10},
		},
		{
			name:    "budget below floor",
			args:    args{ramBudget: 1 << 20, pageSize: 128 << 10},
			wantErr: KindConfigInvalid,
		},
		{
			name:    "unsupported page size",
			args:    args{ramBudget: 64 << 20, pageSize: 4096},
			wantErr: KindConfigInvalid,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewPool(Config{
				RAMBudget: tt.args.ramBudget,
				PageSize:  tt.args.pageSize,
				Arena:     fakeArena{},
				Engine:    ioengine.NewMemEngine(),
			})
			if tt.wantErr != KindNone {
				if err == nil {
					t.Fatalf("NewPool() succeeded, want %v", tt.wantErr)
				}
				if verr, ok := err.(*Error); !ok || verr.Kind != tt.wantErr {
					t.Fatalf("NewPool() err = %v, want Kind %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewPool() failed: %v", err)
			}
			if p == nil {
				t.Fatal("NewPool() returned nil pool with no error")
			}
		})
	}
}

// TestBasicCycle is SPEC_FULL §8 scenario 1: allocate 10 Ctrls in a pool
// with plenty of RAM, write a distinct pattern to each, close them all,
// and confirm nothing needed to swap out.
func TestBasicCycle(t *testing.T) {
	p, _ := newTestPool(t, 512) // 64 MiB / 128 KiB
	newTestSwapFile(t, p, 512)

	ctrls := make([]*Ctrl, 10)
	for i := range ctrls {
		c, err := p.Alloc()
		if err != nil {
			t.Fatalf("Alloc() failed: %v", err)
		}
		ctrls[i] = c
	}

	for i, c := range ctrls {
		frame, err := p.Open(c)
		if err != nil {
			t.Fatalf("Open() failed: %v", err)
		}
		fillPattern(frame, byte(i))
		p.Close(c)
	}

	for i, c := range ctrls {
		frame, err := p.Open(c)
		if err != nil {
			t.Fatalf("re-Open() failed: %v", err)
		}
		checkPattern(t, frame, byte(i))
		p.Close(c)
	}

	if got := p.swap.files[0].occupiedCount(); got != 0 {
		t.Fatalf("swap occupied = %d, want 0 (RAM should have sufficed)", got)
	}

	for _, c := range ctrls {
		p.Free(c)
	}
}

func TestDestroy(t *testing.T) {
	p, _ := newTestPool(t, 512)
	newTestSwapFile(t, p, 8)
	if err := p.Destroy(); err != nil {
		t.Fatalf("Destroy() failed: %v", err)
	}
}
