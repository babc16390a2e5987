package main

import (
	"sort"

	"github.com/apple-oss-distributions/ld64-sub000/internal/arch"
	"github.com/apple-oss-distributions/ld64-sub000/internal/archivereader"
	"github.com/apple-oss-distributions/ld64-sub000/internal/atom"
	"github.com/apple-oss-distributions/ld64-sub000/internal/deadstrip"
	"github.com/apple-oss-distributions/ld64-sub000/internal/debuginfo"
	"github.com/apple-oss-distributions/ld64-sub000/internal/exportstrie"
	"github.com/apple-oss-distributions/ld64-sub000/internal/fixup"
	"github.com/apple-oss-distributions/ld64-sub000/internal/layout"
	"github.com/apple-oss-distributions/ld64-sub000/internal/linklog"
	"github.com/apple-oss-distributions/ld64-sub000/internal/stubs"
	"github.com/apple-oss-distributions/ld64-sub000/internal/symtab"
	"github.com/apple-oss-distributions/ld64-sub000/internal/writer"
	"github.com/apple-oss-distributions/ld64-sub000/types"
)

// Config is the full set of options one link gathers from flags before
// wiring the thirteen-component pipeline together (SPEC_FULL.md §4.9's
// "value-typed Options structs passed into constructors" extended to the
// driver's own top-level knobs).
type Config struct {
	Arch     arch.Arch
	FileType types.HeaderFileType
	Output   string
	Inputs   []string

	EntryPoint      string
	RequiredSymbols []string // -u
	ExportedSymbols []string // -exported_symbols_list

	DeadStrip          bool
	AllGlobalsAreRoots bool

	FlatNamespace bool
	Undefined     symtab.UndefinedTreatment

	StubBindingHelperName string
	WeakImportPolicy      stubs.WeakImportPolicy

	Relocatable  bool
	MinimalStabs bool

	IslandRegionSize uint64
	PageZeroSize     uint64

	Verbose bool

	// ClientName is the name this link presents to a directly-loaded
	// dylib's LC_SUB_CLIENT allowable-clients check (-client_name).
	ClientName string

	// ForceLoadArchives loads every member of every archive input
	// regardless of whether any symbol requires it (-force_load_archives,
	// ld64's -all_load — renamed here since -all_load already names the
	// unrelated AllGlobalsAreRoots dead-strip knob in this driver).
	ForceLoadArchives bool
	// LoadAllObjCClasses loads only the archive members that define an
	// Objective-C class (-ObjC).
	LoadAllObjCClasses bool
}

// Link runs spec.md §2's full pipeline over cfg and returns the final
// container image, ready to be written to disk.
func Link(cfg Config) ([]byte, error) {
	var log linklog.Logger = linklog.Standard{Verbose: cfg.Verbose}

	g := atom.NewGraph()

	in, err := loadInputs(g, cfg.Inputs, cfg.Arch, cfg.ClientName, archivereader.Options{
		ForceLoadAll:       cfg.ForceLoadArchives,
		LoadAllObjCClasses: cfg.LoadAllObjCClasses,
	})
	if err != nil {
		return nil, err
	}
	defer in.Close()

	table := symtab.New(g, symtab.Options{Logger: log})
	for _, a := range g.All() {
		if _, err := table.Add(a.ID); err != nil {
			return nil, err
		}
	}
	for _, name := range cfg.RequiredSymbols {
		table.RequireName(name)
	}
	for _, name := range in.requiredNames {
		table.RequireName(name)
	}
	if cfg.EntryPoint != "" {
		table.RequireName(cfg.EntryPoint)
	}

	resolver := &symtab.Resolver{
		Graph:     g,
		Table:     table,
		Providers: in.providers,
		Opts: symtab.ResolverOptions{
			Undefined:     cfg.Undefined,
			FlatNamespace: cfg.FlatNamespace,
		},
	}
	if err := resolver.Converge(); err != nil {
		return nil, err
	}
	if err := resolver.Rebind(); err != nil {
		return nil, err
	}

	if cfg.DeadStrip {
		ds := deadstrip.New(g, resolver, deadstrip.Options{
			EntryPoint:         cfg.EntryPoint,
			StubBindingHelper:  cfg.StubBindingHelperName,
			ExportedSymbols:    cfg.ExportedSymbols,
			RequiredSymbols:    cfg.RequiredSymbols,
			AllGlobalsAreRoots: cfg.AllGlobalsAreRoots,
		}, log)
		if _, err := ds.Run(); err != nil {
			return nil, err
		}
	}
	// spec.md §2 item 7: DeadStripper is optional. With it disabled every
	// atom keeps the Live flag it already has: Graph.Add marks each atom
	// live, and only the symbol table's override losers are marked dead.

	ss := stubs.New(g, stubs.Options{
		Policy:                cfg.WeakImportPolicy,
		StubBindingHelperName: cfg.StubBindingHelperName,
	}, log)
	if err := ss.Run(); err != nil {
		return nil, err
	}

	lay := layout.New(g, layout.Options{
		Arch:             cfg.Arch,
		IslandRegionSize: cfg.IslandRegionSize,
		PageZeroSize:     cfg.PageZeroSize,
	}, log)
	if err := lay.Run(); err != nil {
		return nil, err
	}

	fe := fixup.New(g, fixup.Options{
		Arch:                  cfg.Arch,
		Relocatable:           cfg.Relocatable,
		Slideable:             isSlideable(cfg.FileType),
		StubBindingHelperName: cfg.StubBindingHelperName,
	}, log)
	patched, relocs, err := fe.Run()
	if err != nil {
		return nil, err
	}

	dc := debuginfo.New(g, in.stabs, debuginfo.Options{Minimal: cfg.MinimalStabs, Sources: in.sources}, log)
	stabs, err := dc.Run()
	if err != nil {
		return nil, err
	}

	var trie []byte
	if cfg.FileType == types.MH_DYLIB || cfg.FileType == types.MH_BUNDLE || cfg.FileType == types.MH_DYLIB_STUB {
		trie, err = buildExportsTrie(g, lay, cfg.Arch)
		if err != nil {
			return nil, err
		}
	}

	w := writer.New(g, writer.Options{
		Arch:        cfg.Arch,
		FileType:    cfg.FileType,
		Relocatable: cfg.Relocatable,
	}, log)
	w.Segments = lay.Segments
	w.Indirect = lay.Indirect
	w.Patched = patched
	w.Relocs = relocs
	w.Stabs = stabs
	w.ExportsTrie = trie

	return w.Run()
}

func isSlideable(ft types.HeaderFileType) bool {
	switch ft {
	case types.MH_DYLIB, types.MH_BUNDLE, types.MH_DYLIB_STUB:
		return true
	default:
		return false
	}
}

// buildExportsTrie collects every live, globally-scoped, symbol-table
// atom into the ExportEntry set exportstrie.Encode expects (spec.md
// §4.8): absolute addresses, relative to the image's first segment base.
func buildExportsTrie(g *atom.Graph, lay *layout.Layouter, a arch.Arch) ([]byte, error) {
	var loadAddress uint64
	if len(lay.Segments) > 0 {
		loadAddress = lay.Segments[0].BaseAddress
	}

	var entries []atom.ExportEntry
	for _, at := range g.All() {
		if !at.Live || at.Name == "" || at.Scope != atom.ScopeGlobal {
			continue
		}
		if at.SymTabInclusion == atom.NotIn {
			continue
		}
		flags := types.EXPORT_SYMBOL_FLAGS_KIND_REGULAR
		if at.Def == atom.DefWeak {
			flags = types.EXPORT_SYMBOL_FLAGS_WEAK_DEFINITION
		}
		entries = append(entries, atom.ExportEntry{
			Name:   at.Name,
			Offset: at.Address,
			Flags:  uint64(flags),
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })

	align := uint64(8)
	if !a.Is64() {
		align = 4
	}
	return exportstrie.Encode(entries, loadAddress, exportstrie.Options{Align: align}), nil
}
