package dylibreader

import (
	"testing"

	"github.com/apple-oss-distributions/ld64-sub000/internal/atom"
)

func TestJustInTimeAtomReturnsExternalStrong(t *testing.T) {
	g := atom.NewGraph()
	rd := &Reader{
		InstallName: "/usr/lib/libSystem.B.dylib",
		exports:     map[string]atom.ExportEntry{"_printf": {Name: "_printf", Offset: 0x1000}},
		byName:      map[string]atom.AtomID{},
	}

	id, ok, err := rd.JustInTimeAtom(g, "_printf")
	if err != nil || !ok {
		t.Fatalf("JustInTimeAtom(_printf) = %v, %v, %v", id, ok, err)
	}
	got := g.Get(id)
	if got.Def != atom.DefExternalStrong || got.Scope != atom.ScopeGlobal {
		t.Fatalf("want external-strong global atom, got %+v", got)
	}

	// Second call returns the same atom rather than creating a duplicate.
	id2, ok, err := rd.JustInTimeAtom(g, "_printf")
	if err != nil || !ok || id2 != id {
		t.Fatalf("want cached atom id %d on second call, got %d", id, id2)
	}
}

func TestJustInTimeAtomMissReportsNotFound(t *testing.T) {
	g := atom.NewGraph()
	rd := &Reader{exports: map[string]atom.ExportEntry{}, byName: map[string]atom.AtomID{}}

	_, ok, err := rd.JustInTimeAtom(g, "_nope")
	if err != nil || ok {
		t.Fatalf("want ok=false for a name the dylib doesn't export, got ok=%v err=%v", ok, err)
	}
}

func TestExportsSortedByName(t *testing.T) {
	rd := &Reader{exports: map[string]atom.ExportEntry{
		"_b": {Name: "_b"},
		"_a": {Name: "_a"},
	}, byName: map[string]atom.AtomID{}}

	got := rd.Exports()
	if len(got) != 2 || got[0] != "_a" || got[1] != "_b" {
		t.Fatalf("want sorted [_a _b], got %v", got)
	}
}
