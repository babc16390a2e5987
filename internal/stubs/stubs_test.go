package stubs

import (
	"testing"

	"github.com/apple-oss-distributions/ld64-sub000/internal/arch"
	"github.com/apple-oss-distributions/ld64-sub000/internal/atom"
)

func TestBranchReferenceGetsStubAndLazyPointer(t *testing.T) {
	g := atom.NewGraph()
	ext := g.Add(&atom.Atom{Name: "_printf", Def: atom.DefExternalStrong, Arch: arch.X8664})
	caller := g.Add(&atom.Atom{Name: "_main", Arch: arch.X8664})
	g.Get(caller).References = append(g.Get(caller).References, &atom.Reference{
		Kind: arch.BranchPCRel32,
		To:   atom.DirectTarget(ext),
	})

	s := New(g, Options{}, nil)
	if err := s.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}

	ref := g.Get(caller).References[0]
	stub := g.Get(ref.To.Atom)
	if stub == nil || stub.Kind != atom.KindStub {
		t.Fatalf("want caller's reference rewritten to a stub atom, got %+v", stub)
	}
	if len(stub.References) != 1 {
		t.Fatalf("want stub to reference its lazy pointer, got %d refs", len(stub.References))
	}
	lp := g.Get(stub.References[0].To.Atom)
	if lp == nil || lp.Kind != atom.KindLazyPointer {
		t.Fatalf("want stub's reference target to be a lazy pointer, got %+v", lp)
	}
}

func TestGOTReferenceGetsNonLazyPointer(t *testing.T) {
	g := atom.NewGraph()
	ext := g.Add(&atom.Atom{Name: "_errno", Def: atom.DefExternalStrong, Arch: arch.ARM64})
	caller := g.Add(&atom.Atom{Name: "_main", Arch: arch.ARM64})
	g.Get(caller).References = append(g.Get(caller).References, &atom.Reference{
		Kind: arch.GOTLoad,
		To:   atom.DirectTarget(ext),
	})

	s := New(g, Options{}, nil)
	if err := s.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}

	ref := g.Get(caller).References[0]
	nlp := g.Get(ref.To.Atom)
	if nlp == nil || nlp.Kind != atom.KindNonLazyPointer {
		t.Fatalf("want GOT-kind reference rewritten to a non-lazy pointer, got %+v", nlp)
	}
}

func TestSameExternalSharesOneStub(t *testing.T) {
	g := atom.NewGraph()
	ext := g.Add(&atom.Atom{Name: "_printf", Def: atom.DefExternalStrong, Arch: arch.X8664})
	a1 := g.Add(&atom.Atom{Name: "_a", Arch: arch.X8664})
	a2 := g.Add(&atom.Atom{Name: "_b", Arch: arch.X8664})
	g.Get(a1).References = append(g.Get(a1).References, &atom.Reference{Kind: arch.BranchPCRel32, To: atom.DirectTarget(ext)})
	g.Get(a2).References = append(g.Get(a2).References, &atom.Reference{Kind: arch.BranchPCRel32, To: atom.DirectTarget(ext)})

	s := New(g, Options{}, nil)
	if err := s.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if g.Get(a1).References[0].To.Atom != g.Get(a2).References[0].To.Atom {
		t.Fatalf("want both callers to share one synthesized stub")
	}
}

func TestWeakImportMismatchDefaultsToError(t *testing.T) {
	g := atom.NewGraph()
	ext := g.Add(&atom.Atom{Name: "_foo", Def: atom.DefExternalStrong, Arch: arch.X8664})
	a1 := g.Add(&atom.Atom{Name: "_a", Arch: arch.X8664})
	g.Get(a1).References = append(g.Get(a1).References,
		&atom.Reference{Kind: arch.BranchPCRel32, To: atom.DirectTarget(ext)},
		&atom.Reference{Kind: arch.BranchPCRel32WeakImport, To: atom.DirectTarget(ext)},
	)

	s := New(g, Options{}, nil)
	if err := s.Run(); err == nil {
		t.Fatalf("want an error for a weak/non-weak mismatch under the default policy")
	}
}

func TestWeakImportPreferWeakSuppressesError(t *testing.T) {
	g := atom.NewGraph()
	ext := g.Add(&atom.Atom{Name: "_foo", Def: atom.DefExternalStrong, Arch: arch.X8664})
	a1 := g.Add(&atom.Atom{Name: "_a", Arch: arch.X8664})
	g.Get(a1).References = append(g.Get(a1).References,
		&atom.Reference{Kind: arch.BranchPCRel32, To: atom.DirectTarget(ext)},
		&atom.Reference{Kind: arch.BranchPCRel32WeakImport, To: atom.DirectTarget(ext)},
	)

	s := New(g, Options{Policy: WeakImportPreferWeak}, nil)
	if err := s.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	weak := s.WeakImports()
	if len(weak) != 1 || weak[0] != "_foo" {
		t.Fatalf("want _foo reported weak, got %v", weak)
	}
}
