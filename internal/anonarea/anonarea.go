// Package anonarea implements the shared anonymous-memory region
// hashd's workers touch to mimic a production working set: a large
// byte-slice-backed arena supporting lock-free, relative-position page
// access with bounded compressibility.
//
// Grounded on original_source/util/src/anon_area.rs: the unit-of-growth
// allocation strategy and, most importantly, the rel_to_page_idx
// addressing contract that keeps the "hot" center of the distribution
// stable as the active footprint grows or shrinks.
package anonarea

import (
	"math/rand"
	"sync"
)

// PageSize is the page granularity the area is addressed in.
const PageSize = 4096

// UnitSize is the allocation granularity: the area grows in 32MiB
// chunks rather than one contiguous mapping, avoiding huge single
// reallocations as it resizes.
const UnitSize = 32 << 20

// Area is a growable arena of fixed-size units. Concurrent reads and
// writes to different pages are safe by construction; writes to the
// same page from different workers race, but the race is semantically
// benign — per spec §5 — since no caller compares hash results across
// workers. That benign race is the reason accesses aren't protected by
// a page-level lock here.
type Area struct {
	mu    sync.RWMutex
	units [][]byte
	size  uint64
}

// New creates an Area sized to at least size bytes (rounded up to a
// whole number of units).
func New(size uint64) *Area {
	a := &Area{}
	a.Resize(size)
	return a
}

// Resize grows or shrinks the area to at least size bytes, which is
// itself floored at one unit.
func (a *Area) Resize(size uint64) {
	if size < UnitSize {
		size = UnitSize
	}
	nrUnits := (size + UnitSize - 1) / UnitSize

	a.mu.Lock()
	defer a.mu.Unlock()

	if uint64(len(a.units)) > nrUnits {
		a.units = a.units[:nrUnits]
	}
	for uint64(len(a.units)) < nrUnits {
		a.units = append(a.units, make([]byte, UnitSize))
	}
	a.size = size
}

// Size returns the area's current byte size.
func (a *Area) Size() uint64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.size
}

// RelToPageIdx maps a relative position rel in [-1, 1] to a page index
// within an area of the given byte size.
//
// rel=0 maps to page 0; |rel|=1 maps to the last page. Sign selects
// parity: non-negative rel lands on an even page, negative rel on the
// adjacent odd page, so growing |rel| never shifts the distribution's
// center — only how far from it the access lands. This is what keeps
// the hot pages hot as the active footprint (and therefore the
// effective size passed in here) shrinks or grows.
func RelToPageIdx(rel float64, size uint64) uint64 {
	if rel < -1 {
		rel = -1
	} else if rel > 1 {
		rel = 1
	}
	abs := rel
	if abs < 0 {
		abs = -abs
	}

	addr := uint64(float64(size/2) * abs)
	pageIdx := (addr / PageSize) * 2
	if rel < 0 {
		pageIdx++
	}

	maxIdx := size/PageSize - 1
	if pageIdx > maxIdx {
		pageIdx = maxIdx
	}
	return pageIdx
}

// pagesPerUnit returns how many pages fit in one allocation unit.
func pagesPerUnit() uint64 { return UnitSize / PageSize }

// AccessPage returns a byte slice view into the page at pageIdx,
// computed by splitting the logical index into (unit, offset).
func (a *Area) AccessPage(pageIdx uint64) []byte {
	a.mu.RLock()
	defer a.mu.RUnlock()

	ppu := pagesPerUnit()
	unitIdx := pageIdx / ppu
	offset := (pageIdx % ppu) * PageSize
	if int(unitIdx) >= len(a.units) {
		return nil
	}
	return a.units[unitIdx][offset : offset+PageSize]
}

// FillPageWithRandom overwrites the page at pageIdx with
// pseudo-random bytes, used to defeat compressibility-based shortcuts
// in the underlying storage.
func (a *Area) FillPageWithRandom(pageIdx uint64, rnd *rand.Rand) {
	page := a.AccessPage(pageIdx)
	if page == nil {
		return
	}
	rnd.Read(page)
}

// TouchPages touches nr consecutive pages starting at pageIdx,
// wrapping within the area — the chunk_pages semantics decided in
// SPEC_FULL.md's open-question resolution: a contiguous run-length of
// pages touched per access, rather than a single page.
func (a *Area) TouchPages(pageIdx uint64, nr uint64, rnd *rand.Rand) {
	if nr == 0 {
		nr = 1
	}
	a.mu.RLock()
	total := a.size / PageSize
	a.mu.RUnlock()
	if total == 0 {
		return
	}
	for i := uint64(0); i < nr; i++ {
		a.FillPageWithRandom((pageIdx+i)%total, rnd)
	}
}
