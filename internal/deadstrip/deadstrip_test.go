package deadstrip

import (
	"testing"

	"github.com/apple-oss-distributions/ld64-sub000/internal/atom"
)

func addAtom(g *atom.Graph, name string) atom.AtomID {
	return g.Add(&atom.Atom{Name: name, Kind: atom.KindSymbol})
}

// TestDeadStripPrunesUnreachable is scenario S4 from the testable
// properties: root _main -> _used, with an unreferenced _unused, and
// dead-strip should keep only _main and _used.
func TestDeadStripPrunesUnreachable(t *testing.T) {
	g := atom.NewGraph()
	main := addAtom(g, "_main")
	used := addAtom(g, "_used")
	addAtom(g, "_unused")

	g.Get(main).References = append(g.Get(main).References, &atom.Reference{
		To: atom.DirectTarget(used),
	})

	ds := New(g, nil, Options{EntryPoint: "_main"}, nil)
	undefined, err := ds.Run()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(undefined) != 0 {
		t.Fatalf("want no undefined names, got %v", undefined)
	}

	live := map[string]bool{}
	for _, a := range g.All() {
		if a.Live {
			live[a.Name] = true
		}
	}
	if len(live) != 2 || !live["_main"] || !live["_used"] {
		t.Fatalf("want only _main and _used live, got %v", live)
	}
	if g.Get(main) == nil || g.Get(used) == nil {
		t.Fatalf("dead-strip marks Live only; the arena is compacted later by the Layouter")
	}
}

func TestDontDeadStripAtomAlwaysSurvives(t *testing.T) {
	g := atom.NewGraph()
	addAtom(g, "_main")
	pinned := g.Add(&atom.Atom{Name: "_pinned", DontDeadStrip: true})

	ds := New(g, nil, Options{EntryPoint: "_main"}, nil)
	if _, err := ds.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !g.Get(pinned).Live {
		t.Fatalf("want dontDeadStrip atom marked live")
	}
}

func TestModInitFuncIsAlwaysRoot(t *testing.T) {
	g := atom.NewGraph()
	addAtom(g, "_main") // unrelated root; not referenced by the init atom
	init := g.Add(&atom.Atom{Kind: atom.KindAnonymous, SegmentName: "__DATA", SectionName: "__mod_init_func"})

	ds := New(g, nil, Options{EntryPoint: "_main"}, nil)
	if _, err := ds.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !g.Get(init).Live {
		t.Fatalf("want __mod_init_func atom marked live even though nothing references it")
	}
}

func TestExplainLivenessReturnsBackChain(t *testing.T) {
	g := atom.NewGraph()
	main := addAtom(g, "_main")
	helper := addAtom(g, "_helper")
	leaf := addAtom(g, "_leaf")

	g.Get(main).References = append(g.Get(main).References, &atom.Reference{To: atom.DirectTarget(helper)})
	g.Get(helper).References = append(g.Get(helper).References, &atom.Reference{To: atom.DirectTarget(leaf)})

	ds := New(g, nil, Options{EntryPoint: "_main"}, nil)
	if _, err := ds.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}

	chain := ds.ExplainLiveness("_leaf")
	if len(chain) != 3 {
		t.Fatalf("want a 3-atom back-chain root..leaf, got %d: %v", len(chain), chain)
	}
}
