package symtab

import (
	"testing"

	"github.com/apple-oss-distributions/ld64-sub000/internal/atom"
)

func TestAddDuplicateRegularIsError(t *testing.T) {
	g := atom.NewGraph()
	tab := New(g, Options{})

	a := g.Add(&atom.Atom{Name: "_foo", Def: atom.DefRegular})
	if _, err := tab.Add(a); err != nil {
		t.Fatalf("first add: %v", err)
	}

	b := g.Add(&atom.Atom{Name: "_foo", Def: atom.DefRegular})
	if _, err := tab.Add(b); err == nil {
		t.Fatalf("want duplicate-symbol error, got nil")
	}
}

func TestWeakLosesToRegular(t *testing.T) {
	g := atom.NewGraph()
	tab := New(g, Options{})

	weak := g.Add(&atom.Atom{Name: "_foo", Def: atom.DefWeak})
	if _, err := tab.Add(weak); err != nil {
		t.Fatalf("add weak: %v", err)
	}
	reg := g.Add(&atom.Atom{Name: "_foo", Def: atom.DefRegular})
	winner, err := tab.Add(reg)
	if err != nil {
		t.Fatalf("add regular: %v", err)
	}
	if winner != reg {
		t.Fatalf("want regular atom to win over weak")
	}
	if g.Get(weak).Live {
		t.Fatalf("losing weak atom should be marked dead")
	}
}

func TestTentativeMergeKeepsLargerSize(t *testing.T) {
	g := atom.NewGraph()
	tab := New(g, Options{})

	small := g.Add(&atom.Atom{Name: "_bss", Def: atom.DefTentative, Size: 4})
	if _, err := tab.Add(small); err != nil {
		t.Fatalf("add small: %v", err)
	}
	big := g.Add(&atom.Atom{Name: "_bss", Def: atom.DefTentative, Size: 16})
	winner, err := tab.Add(big)
	if err != nil {
		t.Fatalf("add big: %v", err)
	}
	if winner != big {
		t.Fatalf("want larger tentative to win")
	}
}

func TestCommonsModeIgnoreDylibsKeepsTentative(t *testing.T) {
	g := atom.NewGraph()
	tab := New(g, Options{Commons: IgnoreDylibs})

	tent := g.Add(&atom.Atom{Name: "_errno", Def: atom.DefTentative, Size: 4})
	if _, err := tab.Add(tent); err != nil {
		t.Fatalf("add tentative: %v", err)
	}
	dylib := g.Add(&atom.Atom{Name: "_errno", Def: atom.DefExternalStrong})
	winner, err := tab.Add(dylib)
	if err != nil {
		t.Fatalf("add dylib: %v", err)
	}
	if winner != tent {
		t.Fatalf("IgnoreDylibs should keep the tentative definition")
	}
}

func TestCommonsModeConflictErrors(t *testing.T) {
	g := atom.NewGraph()
	tab := New(g, Options{Commons: ConflictError})

	tent := g.Add(&atom.Atom{Name: "_errno", Def: atom.DefTentative, Size: 4})
	if _, err := tab.Add(tent); err != nil {
		t.Fatalf("add tentative: %v", err)
	}
	dylib := g.Add(&atom.Atom{Name: "_errno", Def: atom.DefExternalStrong})
	if _, err := tab.Add(dylib); err == nil {
		t.Fatalf("want conflict error")
	}
}

// stubProvider hands out one canned atom the first time it is asked for a
// given name, then reports it no longer has anything to offer.
type stubProvider struct {
	atoms map[string]*atom.Atom
	given map[string]bool
}

func (p *stubProvider) JustInTimeAtom(g *atom.Graph, name string) (atom.AtomID, bool, error) {
	if p.given == nil {
		p.given = make(map[string]bool)
	}
	if p.given[name] {
		return atom.InvalidAtomID, false, nil
	}
	a, ok := p.atoms[name]
	if !ok {
		return atom.InvalidAtomID, false, nil
	}
	p.given[name] = true
	return g.Add(a), true, nil
}

func TestResolverConvergesTransitively(t *testing.T) {
	g := atom.NewGraph()
	tab := New(g, Options{})

	main := &atom.Atom{Name: "_main", Def: atom.DefRegular}
	main.References = []*atom.Reference{{To: atom.NamedTarget("_helper")}}
	mainID := g.Add(main)
	if _, err := tab.Add(mainID); err != nil {
		t.Fatalf("add main: %v", err)
	}
	tab.RequireName("_main")

	helper := &atom.Atom{Name: "_helper", Def: atom.DefRegular}
	helper.References = []*atom.Reference{{To: atom.NamedTarget("_leaf")}}
	leaf := &atom.Atom{Name: "_leaf", Def: atom.DefRegular}

	provider := &stubProvider{atoms: map[string]*atom.Atom{
		"_helper": helper,
		"_leaf":   leaf,
	}}

	r := &Resolver{Graph: g, Table: tab, Providers: []Provider{provider}}
	if err := r.Converge(); err != nil {
		t.Fatalf("converge: %v", err)
	}
	if _, ok := tab.Winner("_helper"); !ok {
		t.Fatalf("want _helper resolved")
	}
	if _, ok := tab.Winner("_leaf"); !ok {
		t.Fatalf("want _leaf resolved transitively")
	}

	if err := r.Rebind(); err != nil {
		t.Fatalf("rebind: %v", err)
	}
	mainRef := g.Get(mainID).References[0]
	if !mainRef.To.Resolved {
		t.Fatalf("want _main's reference to _helper rebound")
	}
}

func TestResolverUndefinedDefaultsToError(t *testing.T) {
	g := atom.NewGraph()
	tab := New(g, Options{})

	main := &atom.Atom{Name: "_main", Def: atom.DefRegular}
	main.References = []*atom.Reference{{To: atom.NamedTarget("_missing")}}
	mainID := g.Add(main)
	if _, err := tab.Add(mainID); err != nil {
		t.Fatalf("add main: %v", err)
	}

	r := &Resolver{Graph: g, Table: tab}
	if err := r.Converge(); err != nil {
		t.Fatalf("converge: %v", err)
	}
	if err := r.Rebind(); err == nil {
		t.Fatalf("want error for unresolved reference under default policy")
	}
}

func TestResolverUndefinedDynamicLookupSuppressesError(t *testing.T) {
	g := atom.NewGraph()
	tab := New(g, Options{})

	main := &atom.Atom{Name: "_main", Def: atom.DefRegular}
	main.References = []*atom.Reference{{To: atom.NamedTarget("_missing")}}
	mainID := g.Add(main)
	if _, err := tab.Add(mainID); err != nil {
		t.Fatalf("add main: %v", err)
	}

	r := &Resolver{Graph: g, Table: tab, Opts: ResolverOptions{Undefined: UndefinedDynamicLookup, FlatNamespace: true}}
	if err := r.Converge(); err != nil {
		t.Fatalf("converge: %v", err)
	}
	if err := r.Rebind(); err != nil {
		t.Fatalf("rebind: %v", err)
	}
	if len(r.FlatImports()) != 1 || r.FlatImports()[0] != "_missing" {
		t.Fatalf("want _missing collected as a flat import, got %v", r.FlatImports())
	}
}
