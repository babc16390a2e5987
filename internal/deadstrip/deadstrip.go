// Package deadstrip implements the DeadStripper component (spec.md §4.4):
// a reachability sweep over the atom reference graph that discards
// anything not transitively reachable from a declared root, pulling in
// late by-name references through the Resolver exactly as the initial
// link does.
package deadstrip

import (
	"sort"

	"github.com/apple-oss-distributions/ld64-sub000/internal/atom"
	"github.com/apple-oss-distributions/ld64-sub000/internal/linklog"
	"github.com/apple-oss-distributions/ld64-sub000/internal/symtab"
)

// Options configures one dead-strip run (spec.md §4.4).
type Options struct {
	EntryPoint         string
	StubBindingHelper  string
	ExportedSymbols    []string // -exported_symbols_list
	RequiredSymbols    []string // -u
	AllGlobalsAreRoots bool     // allGlobalsAreDeadStripRoots
}

// DeadStripper computes and applies the live set for one Graph.
type DeadStripper struct {
	Graph    *atom.Graph
	Stabs    []atom.Stab
	Resolver *symtab.Resolver
	Opts     Options
	Log      linklog.Logger

	// parent records, for every atom first marked live during traversal,
	// the live atom whose reference caused it — the back-chain ExplainLiveness
	// walks (spec.md §4.4 "-why_live NAME... printing of the back-chain").
	parent map[atom.AtomID]atom.AtomID

	// undefined collects names still unresolved after a late Resolver
	// pull-in during traversal (spec.md §4.4: "queued for undefined-symbol
	// reporting").
	undefined []string
}

func New(g *atom.Graph, resolver *symtab.Resolver, opts Options, log linklog.Logger) *DeadStripper {
	if log == nil {
		log = linklog.Discard{}
	}
	return &DeadStripper{Graph: g, Resolver: resolver, Opts: opts, Log: log, parent: map[atom.AtomID]atom.AtomID{}}
}

// Run seeds the root set, traverses to a fixed point, and marks every
// unreached atom dead, discarding stabs whose owning atom didn't survive.
// It returns the (possibly empty) list of names still undefined after
// late resolution. Atom.Live is authoritative on return; the arena itself
// is left uncompacted here — Graph.Compact (and the AtomID remap it
// returns) is the Layouter's job, done once, right before any AtomID is
// baked into an output structure, so ExplainLiveness's back-chain stays
// addressable by the original IDs until then.
func (ds *DeadStripper) Run() ([]string, error) {
	for _, a := range ds.Graph.All() {
		a.Live = false
	}

	roots := ds.seedRoots()
	queue := append([]atom.AtomID{}, roots...)
	live := map[atom.AtomID]bool{}
	for _, id := range roots {
		live[id] = true
	}

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		a := ds.Graph.Get(id)
		if a == nil {
			continue
		}
		for _, ref := range a.References {
			for _, t := range []*atom.Target{&ref.To, &ref.From} {
				if t.Name == "" && !t.Resolved {
					continue
				}
				if !t.Resolved {
					if err := ds.resolveLate(t); err != nil {
						return nil, err
					}
					if !t.Resolved {
						ds.undefined = append(ds.undefined, t.Name)
						continue
					}
				}
				if live[t.Atom] {
					continue
				}
				live[t.Atom] = true
				ds.parent[t.Atom] = id
				queue = append(queue, t.Atom)
			}
		}
		if a.FollowOn != atom.InvalidAtomID && !live[a.FollowOn] {
			live[a.FollowOn] = true
			ds.parent[a.FollowOn] = id
			queue = append(queue, a.FollowOn)
		}
	}

	for id := range live {
		if a := ds.Graph.Get(id); a != nil {
			a.Live = true
		}
	}

	ds.dropStabsForDeadAtoms()

	sort.Strings(ds.undefined)
	return dedupSorted(ds.undefined), nil
}

// resolveLate asks the Resolver to satisfy t.Name before the traversal
// follows the edge, per spec.md §4.4: "the resolver is re-invoked to
// fulfil the name before traversing the edge."
func (ds *DeadStripper) resolveLate(t *atom.Target) error {
	if ds.Resolver == nil {
		return nil
	}
	ds.Resolver.Table.RequireName(t.Name)
	if err := ds.Resolver.Converge(); err != nil {
		return err
	}
	if id, ok := ds.Resolver.Table.Winner(t.Name); ok {
		t.Atom = id
		t.Resolved = true
	}
	return nil
}

func (ds *DeadStripper) seedRoots() []atom.AtomID {
	byName := map[string]atom.AtomID{}
	for _, a := range ds.Graph.All() {
		if a.Name != "" {
			byName[a.Name] = a.ID
		}
	}

	var roots []atom.AtomID
	add := func(name string) {
		if id, ok := byName[name]; ok {
			roots = append(roots, id)
		}
	}

	add(ds.Opts.EntryPoint)
	add(ds.Opts.StubBindingHelper)
	for _, n := range ds.Opts.ExportedSymbols {
		add(n)
	}
	for _, n := range ds.Opts.RequiredSymbols {
		add(n)
	}

	for _, a := range ds.Graph.All() {
		if a.DontDeadStrip {
			roots = append(roots, a.ID)
			continue
		}
		// mod_init_func/mod_term_func arrays are always dead-strip roots,
		// independent of AllGlobalsAreRoots: a translation unit whose only
		// purpose is a static constructor has no other reachable root, and
		// ld64 never lets -dead_strip remove it (SPEC_FULL.md §9).
		if a.SectionName == "__mod_init_func" || a.SectionName == "__mod_term_func" {
			roots = append(roots, a.ID)
			continue
		}
		if ds.Opts.AllGlobalsAreRoots && a.Scope == atom.ScopeGlobal {
			roots = append(roots, a.ID)
		}
	}
	return roots
}

func (ds *DeadStripper) dropStabsForDeadAtoms() {
	kept := ds.Stabs[:0]
	for _, s := range ds.Stabs {
		if s.Atom == atom.InvalidAtomID {
			kept = append(kept, s)
			continue
		}
		if a := ds.Graph.Get(s.Atom); a != nil && a.Live {
			kept = append(kept, s)
		}
	}
	ds.Stabs = kept
}

func dedupSorted(names []string) []string {
	out := names[:0]
	var last string
	for i, n := range names {
		if i > 0 && n == last {
			continue
		}
		out = append(out, n)
		last = n
	}
	return out
}

// ExplainLiveness returns the back-chain of AtomIDs from a root to the
// named atom, root first, matching spec.md §4.4's "-why_live NAME" option
// and SPEC_FULL.md §9's decision to return data rather than print it, so
// the driver (not the core) owns presentation.
func (ds *DeadStripper) ExplainLiveness(name string) []atom.AtomID {
	var target *atom.Atom
	for _, a := range ds.Graph.All() {
		if a.Name == name {
			target = a
			break
		}
	}
	if target == nil {
		return nil
	}

	var chain []atom.AtomID
	cur := target.ID
	seen := map[atom.AtomID]bool{}
	for {
		chain = append(chain, cur)
		seen[cur] = true
		parent, ok := ds.parent[cur]
		if !ok || seen[parent] {
			break
		}
		cur = parent
	}

	out := make([]atom.AtomID, len(chain))
	for i, id := range chain {
		out[len(chain)-1-i] = id
	}
	return out
}
