package symtab

import (
	"github.com/apple-oss-distributions/ld64-sub000/internal/atom"
	"github.com/apple-oss-distributions/ld64-sub000/internal/linkerr"
)

// UndefinedTreatment selects what happens to a reference that is still
// unbound after the Resolver has converged (spec.md §3 invariant 2).
type UndefinedTreatment int

const (
	UndefinedError UndefinedTreatment = iota
	UndefinedSuppress
	UndefinedDynamicLookup
	UndefinedWarning
)

// Provider is a just-in-time atom source the Resolver consults in a fixed
// order (spec.md §4.3: "writer → readers → indirect dylibs → proxy").
// objreader.Reader, dylibreader.Reader and archivereader.Reader all
// implement this without importing symtab, keeping the dependency edge
// one-directional.
type Provider interface {
	// JustInTimeAtom adds an atom for name to g (if the provider has one)
	// and returns its ID. ok is false, err nil when the provider simply
	// doesn't define name.
	JustInTimeAtom(g *atom.Graph, name string) (id atom.AtomID, ok bool, err error)
}

// DylibProvider is the subset of Provider a dylibreader.Reader satisfies
// structurally (without symtab importing dylibreader): it lets satisfy
// detect when more than one directly-loaded dylib exports the identical
// name under the two-level namespace, where ld64 cannot pick an ordinal
// without -flat_namespace or a binding entry naming one explicitly.
type DylibProvider interface {
	Provider
	HasExport(name string) bool
}

// ResolverOptions configures one convergence run (SPEC_FULL.md §4.9).
type ResolverOptions struct {
	Undefined UndefinedTreatment
	FlatNamespace bool
}

// Resolver runs the convergence loop described in spec.md §4.3.
type Resolver struct {
	Graph     *atom.Graph
	Table     *Table
	Providers []Provider
	Opts      ResolverOptions

	// flatImports collects one by-name target per flat undefined when
	// FlatNamespace is set, so the output's import-collector atom (spec.md
	// §4.3 "synthesize an import collector atom") carries a complete list.
	flatImports []string
}

// Converge repeatedly asks providers, in order, for atoms satisfying the
// required-name set until it stops growing, per spec.md §4.3 step 1.
func (r *Resolver) Converge() error {
	for {
		required := r.Table.RequiredNames()
		if len(required) == 0 {
			break
		}
		grew := false
		for _, name := range required {
			if _, ok := r.Table.Winner(name); ok {
				continue
			}
			found, err := r.satisfy(name)
			if err != nil {
				return err
			}
			if found {
				grew = true
			}
		}
		if !grew {
			break
		}
	}
	return nil
}

func (r *Resolver) satisfy(name string) (bool, error) {
	if !r.Opts.FlatNamespace {
		if err := r.checkOrdinalAmbiguity(name); err != nil {
			return false, err
		}
	}
	for _, p := range r.Providers {
		id, ok, err := p.JustInTimeAtom(r.Graph, name)
		if err != nil {
			return false, err
		}
		if !ok {
			continue
		}
		if _, err := r.Table.Add(id); err != nil {
			return false, err
		}
		return true, nil
	}
	return false, nil
}

// checkOrdinalAmbiguity raises BadOrdinal when more than one
// directly-loaded dylib provider exports name: under the two-level
// namespace every import binds to exactly one library ordinal, so a name
// two dylibs both export directly (not through a re-export chain) cannot
// be resolved without -flat_namespace or an explicit ordinal.
func (r *Resolver) checkOrdinalAmbiguity(name string) error {
	count := 0
	for _, p := range r.Providers {
		dp, ok := p.(DylibProvider)
		if !ok {
			continue
		}
		if dp.HasExport(name) {
			count++
		}
	}
	if count > 1 {
		return linkerr.New(linkerr.BadOrdinal, "").WithSymbol(name)
	}
	return nil
}

// Rebind walks every live atom's references and rebinds by-name targets to
// their winner, per spec.md §4.3 step 2. Targets still unbound after this
// are handled per Opts.Undefined.
func (r *Resolver) Rebind() error {
	for _, a := range r.Graph.All() {
		if !a.Live {
			continue
		}
		for _, ref := range a.References {
			if err := r.rebindTarget(&ref.To, a.Name); err != nil {
				return err
			}
			if ref.From.Name != "" {
				if err := r.rebindTarget(&ref.From, a.Name); err != nil {
					return err
				}
			}
		}
	}
	if r.Opts.FlatNamespace && len(r.flatImports) > 0 {
		r.synthesizeImportCollector()
	}
	return nil
}

func (r *Resolver) rebindTarget(t *atom.Target, fromAtom string) error {
	if t.Resolved {
		return nil
	}
	if t.Name == "" {
		return nil
	}
	if id, ok := r.Table.Winner(t.Name); ok {
		t.Atom = id
		t.Resolved = true
		return nil
	}
	switch r.Opts.Undefined {
	case UndefinedSuppress, UndefinedDynamicLookup:
		if r.Opts.FlatNamespace {
			r.flatImports = append(r.flatImports, t.Name)
		}
		// Left unresolved-by-design: the FixupEngine/StubSynthesizer treat
		// an atom.Target with Resolved==false and a non-empty Name as a
		// dynamic-lookup proxy rather than a hard failure.
		return nil
	case UndefinedWarning:
		return nil
	default:
		return linkerr.New(linkerr.UndefinedSymbol, "").WithSymbol(t.Name)
	}
}

// synthesizeImportCollector builds the one atom flat-namespace links use
// to carry every flat undefined as a reference, so external relocations
// and imports stay consistent regardless of source policy (spec.md §4.3).
func (r *Resolver) synthesizeImportCollector() {
	collector := &atom.Atom{
		Kind:  atom.KindAnonymous,
		Name:  "__flat_import_collector",
		Scope: atom.ScopeTranslationUnit,
		Def:   atom.DefRegular,
	}
	for _, name := range r.flatImports {
		collector.References = append(collector.References, &atom.Reference{
			To: atom.NamedTarget(name),
		})
	}
	r.Graph.Add(collector)
}

// FlatImports exposes the collected flat-namespace undefined names, for
// tests and for StubSynthesizer to cross-check against the collector atom.
func (r *Resolver) FlatImports() []string { return r.flatImports }
