// Package alloc implements the free-space allocator described in
// spec.md §4.I: a best-fit reclaimed-region list backed by carving from
// the tail of the file, with an optional auto-grow fallback and a
// waste-ratio safety check that signals a rebuild is overdue.
package alloc

import (
	"sort"
	"sync"

	"github.com/cockroachdb/errors"
)

// NotEnoughSpace reports that a request could not be satisfied and
// auto-grow is disabled.
var NotEnoughSpace = errors.New("alloc: not enough space")

// RebuildRequired reports that reclaimed space exceeds half the original
// file length; the caller should schedule a full rebuild rather than
// continue allocating piecemeal.
var RebuildRequired = errors.New("alloc: wasted space exceeds rebuild threshold")

// Region is a reclaimed, currently-unused byte range.
type Region struct {
	Offset int64
	Length int64
}

// Allocator tracks the tree's total byte length, its free tail, and a
// list of reclaimed regions carved out by prior rebuilds/splits.
type Allocator struct {
	mu sync.Mutex

	totalLength   int64
	tailFree      int64
	reclaimed     []Region
	originalLength int64
	autoGrow      bool

	// persistTailFree is invoked whenever the tail-free length changes,
	// so the caller can keep the on-disk header in sync.
	persistTailFree func(newTailFree int64) error
	// grow is invoked when auto-grow extends the tree's total length.
	grow func(extraBytes int64) error
}

// Options configures a new Allocator.
type Options struct {
	TotalLength     int64
	TailFree        int64
	OriginalLength  int64
	AutoGrow        bool
	PersistTailFree func(int64) error
	Grow            func(int64) error
}

// New builds an Allocator over the given initial state.
func New(opts Options) *Allocator {
	return &Allocator{
		totalLength:     opts.TotalLength,
		tailFree:        opts.TailFree,
		originalLength:  opts.OriginalLength,
		autoGrow:        opts.AutoGrow,
		persistTailFree: opts.PersistTailFree,
		grow:            opts.Grow,
	}
}

// Request reserves n contiguous bytes, preferring a best-fit reclaimed
// region, then the free tail, then (if enabled) growing the tree.
func (a *Allocator) Request(n int64) (Region, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if region, ok := a.takeBestFitLocked(n); ok {
		return region, nil
	}

	if a.tailFree >= n {
		return a.carveTailLocked(n)
	}

	if a.autoGrow {
		extra := n - a.tailFree
		if a.grow != nil {
			if err := a.grow(extra); err != nil {
				return Region{}, err
			}
		}
		a.totalLength += extra
		a.tailFree += extra
		return a.carveTailLocked(n)
	}

	return Region{}, errors.Wrapf(NotEnoughSpace, "requested %d bytes, tail free %d", n, a.tailFree)
}

// takeBestFitLocked removes and returns the smallest reclaimed region that
// is still >= n, if any.
func (a *Allocator) takeBestFitLocked(n int64) (Region, bool) {
	bestIdx := -1
	for i, r := range a.reclaimed {
		if r.Length >= n && (bestIdx == -1 || r.Length < a.reclaimed[bestIdx].Length) {
			bestIdx = i
		}
	}
	if bestIdx == -1 {
		return Region{}, false
	}
	r := a.reclaimed[bestIdx]
	a.reclaimed = append(a.reclaimed[:bestIdx], a.reclaimed[bestIdx+1:]...)
	return Region{Offset: r.Offset, Length: n}, true
}

func (a *Allocator) carveTailLocked(n int64) (Region, error) {
	offset := a.totalLength - a.tailFree
	a.tailFree -= n
	if a.persistTailFree != nil {
		if err := a.persistTailFree(a.tailFree); err != nil {
			return Region{}, err
		}
	}
	return Region{Offset: offset, Length: n}, nil
}

// Release returns a region to the allocator. If it sits immediately
// before the free tail it extends the tail; otherwise it is appended to
// the reclaimed list.
func (a *Allocator) Release(offset, length int64) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	tailStart := a.totalLength - a.tailFree
	if offset+length == tailStart {
		a.tailFree += length
		if a.persistTailFree != nil {
			return a.persistTailFree(a.tailFree)
		}
		return nil
	}

	a.reclaimed = append(a.reclaimed, Region{Offset: offset, Length: length})
	return a.checkWasteLocked()
}

// checkWasteLocked enforces the safety check of spec.md §4.I point 4: if
// reclaimed space exceeds 50% of the original file length, a rebuild is
// overdue.
func (a *Allocator) checkWasteLocked() error {
	if a.originalLength <= 0 {
		return nil
	}
	var reclaimedTotal int64
	for _, r := range a.reclaimed {
		reclaimedTotal += r.Length
	}
	if reclaimedTotal*2 > a.originalLength {
		return errors.Wrapf(RebuildRequired, "reclaimed %d bytes exceeds 50%% of original length %d", reclaimedTotal, a.originalLength)
	}
	return nil
}

// Stats reports the allocator's current bookkeeping, used by spec.md §8
// invariant 5 (sum(reclaimed) + (byte_length - free_tail) + sum(live) <=
// byte_length) and by the tree's Stats() surface.
type Stats struct {
	TotalLength      int64
	TailFree         int64
	ReclaimedTotal    int64
	ReclaimedRegions int
}

// Stats returns a snapshot of the allocator's bookkeeping.
func (a *Allocator) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()

	var reclaimedTotal int64
	for _, r := range a.reclaimed {
		reclaimedTotal += r.Length
	}
	return Stats{
		TotalLength:      a.totalLength,
		TailFree:         a.tailFree,
		ReclaimedTotal:    reclaimedTotal,
		ReclaimedRegions: len(a.reclaimed),
	}
}

// sortedReclaimed returns a copy of the reclaimed list sorted by offset,
// for tests and diagnostics.
func (a *Allocator) sortedReclaimed() []Region {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := append([]Region(nil), a.reclaimed...)
	sort.Slice(out, func(i, j int) bool { return out[i].Offset < out[j].Offset })
	return out
}
