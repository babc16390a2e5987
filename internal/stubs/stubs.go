// Package stubs implements the StubSynthesizer component (spec.md §4.4's
// neighbor in the pipeline, spec.md §2 item 8): walking every live
// reference to an external (dylib-imported) atom and materializing the
// stub/lazy-pointer/non-lazy-pointer atoms the target architecture and
// reference kind require, rewriting the reference to point at the
// synthesized atom instead of the import directly.
package stubs

import (
	"sort"

	"github.com/apple-oss-distributions/ld64-sub000/internal/arch"
	"github.com/apple-oss-distributions/ld64-sub000/internal/atom"
	"github.com/apple-oss-distributions/ld64-sub000/internal/linkerr"
	"github.com/apple-oss-distributions/ld64-sub000/internal/linklog"
)

// WeakImportPolicy resolves a conflict when the same external symbol is
// referenced both weakly and non-weakly across the link (SPEC_FULL.md
// §9's supplemented feature, matching the WeakMismatch entry in spec.md
// §7's error taxonomy).
type WeakImportPolicy int

const (
	WeakImportError WeakImportPolicy = iota
	WeakImportPreferWeak
	WeakImportPreferNonWeak
)

// Options configures one StubSynthesizer run.
type Options struct {
	Policy                WeakImportPolicy
	StubBindingHelperName string // "" if none present (e.g. static/no-dyld links)
}

// StubSynthesizer materializes stub/lazy-pointer/non-lazy-pointer atoms
// for every live reference into an external atom.
type StubSynthesizer struct {
	Graph *atom.Graph
	Opts  Options
	Log   linklog.Logger

	stubFor       map[atom.AtomID]atom.AtomID
	lazyPtrFor    map[atom.AtomID]atom.AtomID
	nonLazyPtrFor map[atom.AtomID]atom.AtomID
	weakImport    map[atom.AtomID]bool
}

func New(g *atom.Graph, opts Options, log linklog.Logger) *StubSynthesizer {
	if log == nil {
		log = linklog.Discard{}
	}
	return &StubSynthesizer{
		Graph: g, Opts: opts, Log: log,
		stubFor: map[atom.AtomID]atom.AtomID{}, lazyPtrFor: map[atom.AtomID]atom.AtomID{},
		nonLazyPtrFor: map[atom.AtomID]atom.AtomID{}, weakImport: map[atom.AtomID]bool{},
	}
}

// Run processes every live atom's references. New atoms are appended to
// the Graph as it iterates the pre-existing slice, so synthesized
// stub/lazy-pointer/non-lazy-pointer atoms are not themselves re-scanned
// for imports (they never reference externals directly).
func (s *StubSynthesizer) Run() error {
	atoms := s.Graph.All()
	n := len(atoms)
	for i := 0; i < n; i++ {
		a := atoms[i]
		if !a.Live {
			continue
		}
		for _, ref := range a.References {
			if err := s.processRef(ref); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *StubSynthesizer) processRef(ref *atom.Reference) error {
	if !ref.To.Resolved {
		return nil // dynamic-lookup proxy target; nothing concrete to stub
	}
	target := s.Graph.Get(ref.To.Atom)
	if target == nil || (target.Def != atom.DefExternalStrong && target.Def != atom.DefExternalWeak) {
		return nil
	}

	if err := s.resolveWeakMismatch(target, ref.Kind); err != nil {
		return err
	}

	switch {
	case isBranchKind(ref.Kind):
		id := s.getOrMakeStub(target)
		ref.To = atom.DirectTarget(id)
	case isIndirectDataKind(ref.Kind):
		id := s.getOrMakeNonLazyPointer(target)
		ref.To = atom.DirectTarget(id)
	}
	return nil
}

func isBranchKind(k arch.RefKind) bool {
	switch k {
	case arch.Branch24, arch.Branch14, arch.BranchPCRel32, arch.BranchPCRel32WeakImport,
		arch.ThumbBranch22, arch.ArmBranch24:
		return true
	}
	return false
}

// isIndirectDataKind reports whether k addresses an external by loading
// its address out of a pointer slot rather than branching to it: GOT
// loads and plain data pointers both need a slot since the image has no
// fixed address for a symbol it doesn't define.
func isIndirectDataKind(k arch.RefKind) bool {
	switch k {
	case arch.PCRel32GOT, arch.PCRel32GOTLoad, arch.GOTLoad, arch.Pointer, arch.PointerWeakImport:
		return true
	}
	return false
}

// resolveWeakMismatch records the first weak-import-ness seen for target
// and applies Opts.Policy the first time a later reference disagrees
// (spec.md §4.6/§9's "configurable mismatch policy").
func (s *StubSynthesizer) resolveWeakMismatch(target *atom.Atom, kind arch.RefKind) error {
	isWeak := kind.IsWeakImportVariant() || target.Def == atom.DefExternalWeak
	existing, seen := s.weakImport[target.ID]
	if !seen {
		s.weakImport[target.ID] = isWeak
		return nil
	}
	if existing == isWeak {
		return nil
	}
	switch s.Opts.Policy {
	case WeakImportPreferWeak:
		s.weakImport[target.ID] = true
	case WeakImportPreferNonWeak:
		s.weakImport[target.ID] = false
	default:
		return linkerr.New(linkerr.WeakMismatch, "conflicting weak-import references").WithSymbol(target.Name)
	}
	return nil
}

func (s *StubSynthesizer) getOrMakeStub(target *atom.Atom) atom.AtomID {
	if id, ok := s.stubFor[target.ID]; ok {
		return id
	}
	lazyID := s.getOrMakeLazyPointer(target)
	stub := &atom.Atom{
		Kind:        atom.KindStub,
		Name:        target.Name + "$stub",
		Scope:       atom.ScopeTranslationUnit,
		Def:         atom.DefRegular,
		Size:        stubSize(target.Arch),
		SegmentName: "__TEXT",
		SectionName: "__stubs",
		Arch:        target.Arch,
		Reader:      target.Reader,
		References: []*atom.Reference{
			{Kind: stubFixupKind(target.Arch), To: atom.DirectTarget(lazyID)},
		},
	}
	id := s.Graph.Add(stub)
	s.stubFor[target.ID] = id
	return id
}

func (s *StubSynthesizer) getOrMakeLazyPointer(target *atom.Atom) atom.AtomID {
	if id, ok := s.lazyPtrFor[target.ID]; ok {
		return id
	}
	// Initialized to the dyld stub-binding helper until the first call
	// rewrites it to target's real address (spec.md glossary: "Lazy
	// pointer ... rewritten at first call to its target").
	initialTarget := target.ID
	if id, ok := s.helperID(); ok {
		initialTarget = id
	}
	lp := &atom.Atom{
		Kind:        atom.KindLazyPointer,
		Name:        target.Name + "$lazy_ptr",
		Scope:       atom.ScopeTranslationUnit,
		Size:        target.Arch.PointerSize(),
		SegmentName: "__DATA",
		SectionName: "__la_symbol_ptr",
		Arch:        target.Arch,
		Reader:      target.Reader,
		References: []*atom.Reference{
			{Kind: arch.Pointer, To: atom.DirectTarget(initialTarget)},
		},
	}
	id := s.Graph.Add(lp)
	s.lazyPtrFor[target.ID] = id
	return id
}

func (s *StubSynthesizer) getOrMakeNonLazyPointer(target *atom.Atom) atom.AtomID {
	if id, ok := s.nonLazyPtrFor[target.ID]; ok {
		return id
	}
	nlp := &atom.Atom{
		Kind:        atom.KindNonLazyPointer,
		Name:        target.Name + "$non_lazy_ptr",
		Scope:       atom.ScopeTranslationUnit,
		Size:        target.Arch.PointerSize(),
		SegmentName: "__DATA",
		SectionName: "__nl_symbol_ptr",
		Arch:        target.Arch,
		Reader:      target.Reader,
		References: []*atom.Reference{
			{Kind: arch.Pointer, To: atom.DirectTarget(target.ID)},
		},
	}
	id := s.Graph.Add(nlp)
	s.nonLazyPtrFor[target.ID] = id
	return id
}

func (s *StubSynthesizer) helperID() (atom.AtomID, bool) {
	if s.Opts.StubBindingHelperName == "" {
		return atom.InvalidAtomID, false
	}
	for _, a := range s.Graph.All() {
		if a.Name == s.Opts.StubBindingHelperName {
			return a.ID, true
		}
	}
	return atom.InvalidAtomID, false
}

// stubSize is the fixed code size of one architecture's stub template;
// the actual bytes are a FixupEngine concern, but the Layouter needs a
// concrete size before any code is emitted.
func stubSize(a arch.Arch) uint64 {
	switch a {
	case arch.X8664, arch.I386:
		return 6
	case arch.ARM, arch.ARM64:
		return 12
	case arch.PPC, arch.PPC64:
		return 16
	default:
		return 8
	}
}

// stubFixupKind is the reference kind FixupEngine uses to patch the
// stub's own load of its lazy-pointer slot.
func stubFixupKind(a arch.Arch) arch.RefKind {
	switch a {
	case arch.X8664:
		return arch.PCRel32GOTLoad
	case arch.ARM, arch.ARM64:
		return arch.GOTLoad
	default:
		return arch.Pointer
	}
}

// WeakImports returns the sorted names of every external symbol this run
// marked weak-import, for the symbol-table writer to set N_WEAK_REF on.
func (s *StubSynthesizer) WeakImports() []string {
	var out []string
	for id, weak := range s.weakImport {
		if !weak {
			continue
		}
		if a := s.Graph.Get(id); a != nil {
			out = append(out, a.Name)
		}
	}
	sort.Strings(out)
	return out
}
