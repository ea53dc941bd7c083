// Package vmpool implements a fixed-size in-memory page cache backed by
// one or more on-disk swap files, extending the effective working set
// beyond RAM. Callers obtain Ctrl handles, open them to pin a frame in
// memory, write through the returned byte slice, and close them to make
// the frame eligible for eviction again.
package vmpool

import (
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/log"

	"github.com/coldvm/vmpool/interfaces"
)

// Config holds the parameters accepted by NewPool. There is no INI/CLI
// surface here (the Non-goals exclude that outer layer); a caller builds
// one of these directly, the same way the teacher's NewBufMgr takes plain
// scalar arguments rather than a config file.
type Config struct {
	// RAMBudget is the target resident byte count; rounded down to a
	// multiple of PageSize, must be >= 64 MiB after rounding.
	RAMBudget uint64

	// PageSize must be one of 131072, 262144, 524288.
	PageSize uint32

	// InitialFrames is the number of frames to pre-populate into the C2
	// shards, round-robin, at construction time. Ignored if it exceeds
	// the arena's capacity.
	InitialFrames uint32

	// Arena is the OS large-page reservation collaborator (for example
	// osmem.MmapArena). Required: NewPool rejects a nil Arena with
	// ConfigInvalid.
	Arena interfaces.Arena

	// Engine is the async file-I/O collaborator (for example
	// ioengine.NewFileEngine()). Required: NewPool rejects a nil Engine
	// with ConfigInvalid.
	Engine interfaces.Engine

	// Registerer optionally receives the pool's Prometheus metrics. A
	// nil Registerer means metrics are tracked but never exposed.
	Registerer prometheus.Registerer

	// Logger receives structured debug/error lines at state transitions,
	// in the same vein as talyz-systemd_exporter's ambient logging.
	// Defaults to log.Base() if nil.
	Logger log.Logger
}

// Pool is the VMP: the arena (C1), the sharded free-page/free-ctrl/close
// lists (C2-C4), the swap-file manager (C5), the I/O engine binding (C6),
// and the page-lifecycle protocol (C7) tying them together.
type Pool struct {
	pageSize uint32

	arena   *arena
	pages   freePageLists
	ctrls   freeCtrlLists
	closes  closeLists
	swap    *swapFileManager
	engine  interfaces.Engine

	ctrlSeq uint64 // monotonic id source, diagnostic only per SPEC_FULL §9

	// allCtrls holds every Ctrl batch ever carved, so the full set stays
	// reachable from the pool; nothing in the package reads it back, and
	// it is never consulted on the hot path.
	allMu    sync.Mutex
	allCtrls [][]Ctrl

	metrics *metrics
	log     log.Logger
}

// NewPool validates cfg and constructs a Pool. It never opens any swap
// file; call AddSwapFile afterward for each backing file the caller wants.
func NewPool(cfg Config) (*Pool, error) {
	if cfg.Arena == nil {
		return nil, newErr(KindConfigInvalid, errors.New("nil Arena collaborator"))
	}
	if cfg.Engine == nil {
		return nil, newErr(KindConfigInvalid, errors.New("nil Engine collaborator"))
	}

	ar, err := newArena(cfg.Arena, cfg.RAMBudget, cfg.PageSize)
	if err != nil {
		return nil, err
	}

	lg := cfg.Logger
	if lg == nil {
		lg = log.Base()
	}

	p := &Pool{
		pageSize: cfg.PageSize,
		arena:    ar,
		engine:   cfg.Engine,
		metrics:  newMetrics(cfg.Registerer),
		log:      lg,
	}
	p.swap = newSwapFileManager(cfg.PageSize, cfg.Engine)

	initialFrames := cfg.InitialFrames
	if initialFrames > ar.frameCnt {
		initialFrames = 0
	}
	for i := uint32(0); i < initialFrames; i++ {
		frame := ar.allocFromBump()
		if frame == nil {
			break
		}
		p.pages.freePage(uint64(i), frame)
		p.metrics.freePages.Inc()
	}

	p.log.Debugf("vmpool: created pool page_size=%d ram_budget=%d initial_frames=%d", cfg.PageSize, cfg.RAMBudget, cfg.InitialFrames)
	return p, nil
}

// Destroy releases the arena's OS mapping and closes every swap file. The
// Pool must not be used afterward.
func (p *Pool) Destroy() error {
	var firstErr error
	for _, f := range p.swap.files {
		if err := p.engine.CloseFile(f.handle); err != nil && firstErr == nil {
			firstErr = errors.Wrap(err, "close swap file")
		}
	}
	if err := p.arena.close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// AddSwapFile creates (or reinitializes — swap files carry no
// cross-session durability, per SPEC_FULL §6) a backing file of sizeBytes
// and wires its bitmap slot chain into C5.
func (p *Pool) AddSwapFile(path string, sizeBytes uint64) error {
	_, err := p.swap.addFile(p, path, sizeBytes)
	if err != nil {
		p.log.Errorf("vmpool: add swap file %s failed: %v", path, err)
		return err
	}
	p.log.Debugf("vmpool: added swap file %s size=%d", path, sizeBytes)
	return nil
}

func (p *Pool) nextCtrlID() uint64 {
	return atomic.AddUint64(&p.ctrlSeq, 1)
}

func (p *Pool) addCtrlBatch(batch []Ctrl) {
	p.allMu.Lock()
	p.allCtrls = append(p.allCtrls, batch)
	p.allMu.Unlock()
}

// acquireFrame obtains one frame for a caller that needs raw backing
// storage (Ctrl-shard expansion, or a fresh Resident Ctrl): C2 first, then
// C1's bump allocator, then eviction through C4+C7. Returns nil only when
// every tier is exhausted.
func (p *Pool) acquireFrame(seed uint64) []byte {
	if frame := p.pages.allocPage(seed); frame != nil {
		p.metrics.freePages.Dec()
		return frame
	}
	if frame := p.arena.allocFromBump(); frame != nil {
		return frame
	}
	return p.swapOutVictim(seed)
}
