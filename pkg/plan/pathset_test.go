package plan

import (
	"errors"
	"fmt"
	"testing"

	"github.com/aretw0/reindex/pkg/core"
)

func TestPathSet(t *testing.T) {
	names := make([]string, 0, 70)
	for i := 0; i < 70; i++ {
		names = append(names, fmt.Sprintf("p%d", i))
	}
	idx := NewPathIndex(names...)

	a, err := idx.Set("p1", "p65")
	if err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	b, _ := idx.Set("p2")

	if a.Intersects(b) {
		t.Error("disjoint sets must not intersect")
	}
	u := a.Union(b)
	if u.Count() != 3 {
		t.Errorf("expected 3 bits, got %d", u.Count())
	}
	if !u.Has(65) || !u.Intersects(b) {
		t.Error("union lost bits")
	}
	if got := idx.NamesOf(u); fmt.Sprint(got) != "[p1 p2 p65]" {
		t.Errorf("unexpected names %v", got)
	}
	if !idx.NewSet().IsEmpty() {
		t.Error("new set must be empty")
	}
}

func TestPathIndex_UnknownPath(t *testing.T) {
	idx := NewPathIndex("a", "a", "b")
	if idx.Len() != 2 {
		t.Errorf("duplicates must collapse, got %d paths", idx.Len())
	}
	if _, err := idx.Set("c"); !errors.Is(err, core.ErrUnknownPath) {
		t.Errorf("expected ErrUnknownPath, got %v", err)
	}
}
