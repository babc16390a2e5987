// Package symtab implements the process-wide SymbolTable and its override
// lattice (spec.md §4.3).
package symtab

import (
	"fmt"

	"github.com/apple-oss-distributions/ld64-sub000/internal/atom"
	"github.com/apple-oss-distributions/ld64-sub000/internal/linkerr"
	"github.com/apple-oss-distributions/ld64-sub000/internal/linklog"
)

// CommonsMode selects how a tentative definition resolves against a
// dylib-exported strong/weak symbol of the same name (spec.md §4.3,
// Open Question 1).
type CommonsMode int

const (
	// IgnoreDylibs keeps the tentative definition: matches historical ld64
	// default absent an explicit -commons flag (SPEC_FULL.md §9, decision 1).
	IgnoreDylibs CommonsMode = iota
	OverriddenByDylibs
	ConflictError
)

// Options configures a SymbolTable, generalizing the teacher's FileConfig
// pattern to this phase (SPEC_FULL.md §4.9).
type Options struct {
	Commons     CommonsMode
	WarnCommons bool
	Logger      linklog.Logger
}

// Table is the process-wide unique mapping from external symbol name to
// the current winning atom, plus the required-name set the Resolver
// drives convergence from.
type Table struct {
	opts Options
	g    *atom.Graph

	winners  map[string]atom.AtomID
	required map[string]bool
}

func New(g *atom.Graph, opts Options) *Table {
	if opts.Logger == nil {
		opts.Logger = linklog.Discard{}
	}
	return &Table{
		opts:     opts,
		g:        g,
		winners:  make(map[string]atom.AtomID),
		required: make(map[string]bool),
	}
}

func (t *Table) Winner(name string) (atom.AtomID, bool) {
	id, ok := t.winners[name]
	return id, ok
}

func (t *Table) RequireName(name string) {
	if name == "" {
		return
	}
	t.required[name] = true
}

// RequiredNames returns every name the Resolver still needs a winner for.
func (t *Table) RequiredNames() []string {
	var out []string
	for name, need := range t.required {
		if !need {
			continue
		}
		if _, ok := t.winners[name]; !ok {
			out = append(out, name)
		}
	}
	return out
}

// Add applies the override lattice for newID's name, marking whichever of
// the new/existing atom loses as dead and returning the winner.
func (t *Table) Add(newID atom.AtomID) (atom.AtomID, error) {
	newAtom := t.g.Get(newID)
	if newAtom.Name == "" {
		// Anonymous atoms never enter the symbol table directly.
		return newID, nil
	}
	for _, ref := range newAtom.References {
		if !ref.To.Resolved && ref.To.Name != "" {
			t.RequireName(ref.To.Name)
		}
		if !ref.From.Resolved && ref.From.Name != "" {
			t.RequireName(ref.From.Name)
		}
	}

	existingID, ok := t.winners[newAtom.Name]
	if !ok {
		t.winners[newAtom.Name] = newID
		return newID, nil
	}
	existing := t.g.Get(existingID)

	winner, loser, err := t.resolvePair(existing, newAtom)
	if err != nil {
		return atom.InvalidAtomID, err
	}
	if loser != nil {
		loser.Live = false
	}
	t.winners[newAtom.Name] = winner.ID
	return winner.ID, nil
}

// resolvePair implements the §4.3 table. existing is the current holder;
// cand is the newly offered atom.
func (t *Table) resolvePair(existing, cand *atom.Atom) (winner, loser *atom.Atom, err error) {
	switch existing.Def {
	case atom.DefRegular:
		switch cand.Def {
		case atom.DefRegular:
			return nil, nil, linkerr.New(linkerr.DuplicateSymbol, "").WithSymbol(existing.Name)
		default:
			return existing, cand, nil
		}
	case atom.DefWeak:
		switch cand.Def {
		case atom.DefRegular, atom.DefTentative:
			return cand, existing, nil
		case atom.DefWeak:
			if cand.Alignment.Pow > existing.Alignment.Pow {
				return cand, existing, nil
			}
			return existing, cand, nil
		case atom.DefExternalStrong, atom.DefExternalWeak:
			return existing, cand, nil
		}
	case atom.DefTentative:
		switch cand.Def {
		case atom.DefRegular, atom.DefWeak:
			return cand, existing, nil
		case atom.DefTentative:
			if cand.Size > existing.Size {
				if cand.Alignment.Pow < existing.Alignment.Pow {
					t.opts.Logger.Warnf("tentative merge of %q loses alignment (%d -> %d)",
						cand.Name, existing.Alignment.Value(), cand.Alignment.Value())
				}
				return cand, existing, nil
			}
			if existing.Alignment.Pow < cand.Alignment.Pow {
				t.opts.Logger.Warnf("tentative merge of %q loses alignment (%d -> %d)",
					existing.Name, cand.Alignment.Value(), existing.Alignment.Value())
			}
			return existing, cand, nil
		case atom.DefExternalStrong, atom.DefExternalWeak:
			return t.commonsPolicy(existing, cand)
		}
	case atom.DefExternalStrong:
		switch cand.Def {
		case atom.DefRegular, atom.DefWeak:
			return cand, existing, nil
		case atom.DefTentative:
			return t.commonsPolicy(cand, existing)
		case atom.DefExternalStrong:
			return nil, nil, linkerr.New(linkerr.DuplicateSymbol, "").WithSymbol(existing.Name)
		case atom.DefExternalWeak:
			return existing, cand, nil
		}
	case atom.DefExternalWeak:
		switch cand.Def {
		case atom.DefRegular, atom.DefWeak, atom.DefExternalStrong:
			return cand, existing, nil
		case atom.DefTentative:
			return t.commonsPolicy(cand, existing)
		case atom.DefExternalWeak:
			return existing, cand, nil
		}
	}
	return nil, nil, fmt.Errorf("symtab: unhandled override pair %s/%s", existing.Def, cand.Def)
}

// commonsPolicy resolves a tentative/dylib pair per the configured
// CommonsMode; tent is the tentative atom, dylib the external one.
func (t *Table) commonsPolicy(tent, dylib *atom.Atom) (winner, loser *atom.Atom, err error) {
	switch t.opts.Commons {
	case IgnoreDylibs:
		if t.opts.WarnCommons {
			t.opts.Logger.Warnf("tentative definition %q kept over dylib export", tent.Name)
		}
		return tent, dylib, nil
	case OverriddenByDylibs:
		return dylib, tent, nil
	case ConflictError:
		return nil, nil, linkerr.New(linkerr.CommonsVsDylib, tent.Name)
	default:
		return tent, dylib, nil
	}
}
