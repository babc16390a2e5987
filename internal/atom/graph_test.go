package atom

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func TestGraphAddAssignsStableSortOrder(t *testing.T) {
	g := NewGraph()
	id1 := g.Add(&Atom{Name: "_a"})
	id2 := g.Add(&Atom{Name: "_b"})

	if id1 != 0 || id2 != 1 {
		t.Fatalf("got ids %d,%d want 0,1", id1, id2)
	}
	if g.Get(id1).SortOrder != 0 || g.Get(id2).SortOrder != 1 {
		t.Fatalf("sort order not preserved in creation order")
	}
}

func TestGraphCompactDropsDeadAndRemaps(t *testing.T) {
	g := NewGraph()
	a0 := g.Add(&Atom{Name: "_live0"})
	a1 := g.Add(&Atom{Name: "_dead"})
	a2 := g.Add(&Atom{Name: "_live1"})
	g.Get(a1).Live = false

	remap := g.Compact()

	if g.Len() != 2 {
		t.Fatalf("want 2 live atoms after compact, got %d", g.Len())
	}
	if _, ok := remap[a1]; ok {
		t.Fatalf("dead atom should not appear in remap")
	}
	got := []string{g.Get(remap[a0]).Name, g.Get(remap[a2]).Name}
	want := []string{"_live0", "_live1"}
	if diff := cmp.Diff(want, got, cmpopts.EquateEmpty()); diff != "" {
		t.Fatalf("compact order mismatch (-want +got):\n%s", diff)
	}
}
