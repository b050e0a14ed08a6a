package anonarea

import (
	"math/rand"
	"testing"
)

func TestRelToPageIdxCenterAndExtremes(t *testing.T) {
	size := uint64(1024 * PageSize) // 1024 pages

	if idx := RelToPageIdx(0, size); idx != 0 {
		t.Errorf("rel=0 should map to page 0, got %d", idx)
	}

	last := size/PageSize - 1
	if idx := RelToPageIdx(1, size); idx != last {
		t.Errorf("rel=1 should map to last page %d, got %d", last, idx)
	}
	if idx := RelToPageIdx(-1, size); idx != last {
		t.Errorf("rel=-1 should map to last page %d, got %d", last, idx)
	}
}

func TestRelToPageIdxParity(t *testing.T) {
	size := uint64(1024 * PageSize)
	for _, rel := range []float64{0.1, 0.25, 0.5, 0.9} {
		pos := RelToPageIdx(rel, size)
		neg := RelToPageIdx(-rel, size)
		if pos%2 != 0 {
			t.Errorf("positive rel=%v should land on even page, got %d", rel, pos)
		}
		if neg%2 != 1 {
			t.Errorf("negative rel=%v should land on odd page, got %d", rel, neg)
		}
		if pos+1 != neg {
			t.Errorf("rel=%v and -rel should be adjacent pages, got %d and %d", rel, pos, neg)
		}
	}
}

func TestRelToPageIdxMonotonic(t *testing.T) {
	size := uint64(1024 * PageSize)
	prev := RelToPageIdx(0, size)
	for _, rel := range []float64{0.1, 0.2, 0.3, 0.5, 0.8, 1.0} {
		idx := RelToPageIdx(rel, size)
		if idx < prev {
			t.Errorf("expected monotonic increase in |rel|, rel=%v idx=%d < prev=%d", rel, idx, prev)
		}
		prev = idx
	}
}

func TestAreaResizeAndAccess(t *testing.T) {
	a := New(UnitSize / 2) // forces floor to one unit
	if a.Size() != UnitSize {
		t.Errorf("Size() = %d, want %d", a.Size(), uint64(UnitSize))
	}

	a.Resize(UnitSize*2 + 1)
	if a.Size() != UnitSize*2+1 {
		t.Errorf("Size() after resize = %d", a.Size())
	}

	page := a.AccessPage(0)
	if len(page) != PageSize {
		t.Fatalf("AccessPage returned %d bytes, want %d", len(page), PageSize)
	}

	rnd := rand.New(rand.NewSource(1))
	a.TouchPages(0, 3, rnd)
}
