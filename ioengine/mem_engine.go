package ioengine

import (
	"sync"
	"time"

	"github.com/dsnet/golib/memfile"
	"github.com/pkg/errors"

	"github.com/coldvm/vmpool/interfaces"
)

// MemEngine is an in-memory fake Engine for tests, in the same spirit as
// the teacher's own in-memory ParentBufMgr test double: every swap "file"
// is a memfile.File over a plain byte slice, so the full swap-out/swap-in
// path runs without touching disk. It can be configured to fail or time
// out writes/reads to drive the rollback scenarios in SPEC_FULL.md §8.
type MemEngine struct {
	mu          sync.Mutex
	failReads   bool
	failWrites  bool
	timeoutOnce bool
}

// NewMemEngine returns a fake Engine that succeeds on every submission
// until configured otherwise.
func NewMemEngine() *MemEngine {
	return &MemEngine{}
}

// SetFailWrites makes every future write submission fail.
func (e *MemEngine) SetFailWrites(fail bool) {
	e.mu.Lock()
	e.failWrites = fail
	e.mu.Unlock()
}

// SetFailReads makes every future read submission fail.
func (e *MemEngine) SetFailReads(fail bool) {
	e.mu.Lock()
	e.failReads = fail
	e.mu.Unlock()
}

// SetTimeoutOnce makes the next submission of either kind report TimedOut
// instead of running at all.
func (e *MemEngine) SetTimeoutOnce(timeout bool) {
	e.mu.Lock()
	e.timeoutOnce = timeout
	e.mu.Unlock()
}

type memHandle struct {
	f *memfile.File
}

func (h *memHandle) Close() error { return h.f.Close() }

type memSubmission struct {
	result chan interfaces.IOResult
}

func (MemEngine) OpenFile(path string, size int64) (interfaces.FileHandle, error) {
	return &memHandle{f: memfile.New(make([]byte, size))}, nil
}

func (MemEngine) CloseFile(h interfaces.FileHandle) error {
	return h.Close()
}

func (e *MemEngine) Submit(h interfaces.FileHandle, op interfaces.OpKind, buf []byte, offset int64) (interfaces.Submission, error) {
	mh, ok := h.(*memHandle)
	if !ok {
		return nil, errors.New("ioengine: file handle not from MemEngine")
	}

	e.mu.Lock()
	failW, failR, forceTimeout := e.failWrites, e.failReads, e.timeoutOnce
	e.timeoutOnce = false
	e.mu.Unlock()

	result := make(chan interfaces.IOResult, 1)
	go func() {
		if forceTimeout {
			result <- interfaces.IOTimedOut
			return
		}
		switch op {
		case interfaces.OpWrite:
			if failW {
				result <- interfaces.IOFailed
				return
			}
			if _, err := mh.f.WriteAt(buf, offset); err != nil {
				result <- interfaces.IOFailed
				return
			}
		case interfaces.OpRead:
			if failR {
				result <- interfaces.IOFailed
				return
			}
			if _, err := mh.f.ReadAt(buf, offset); err != nil {
				result <- interfaces.IOFailed
				return
			}
		}
		result <- interfaces.IOCompleted
	}()
	return &memSubmission{result: result}, nil
}

func (MemEngine) Wait(s interfaces.Submission, timeout time.Duration) interfaces.IOResult {
	sub, ok := s.(*memSubmission)
	if !ok {
		return interfaces.IOFailed
	}
	select {
	case r := <-sub.result:
		return r
	case <-time.After(timeout):
		return interfaces.IOTimedOut
	}
}
