package writer

import (
	"encoding/binary"

	"github.com/apple-oss-distributions/ld64-sub000/internal/atom"
	"github.com/apple-oss-distributions/ld64-sub000/internal/container"
	"github.com/apple-oss-distributions/ld64-sub000/types"
)

// stubSuffixes maps a synthesized atom's name suffix (internal/stubs'
// naming convention) back to the external symbol it stands for, so the
// indirect-symbol table can point at that symbol rather than the
// synthesized stub/pointer atom itself.
var stubSuffixes = []string{"$stub", "$lazy_ptr", "$non_lazy_ptr"}

func indirectTargetName(name string) string {
	for _, suf := range stubSuffixes {
		if n := len(name) - len(suf); n > 0 && name[n:] == suf {
			return name[:n]
		}
	}
	return name
}

// buildSymbols lays out the combined symbol table in the order Dysymtab
// requires: stabs and locally-scoped atoms first, then globally-defined
// atoms, then undefined (imported) atoms — spec.md §4.7/§3.
func (w *ExecutableWriter) buildSymbols(ordinal map[*atom.Section]uint8) ([]container.Symbol, map[string]int, int, int, int) {
	var symbols []container.Symbol
	for _, st := range w.Stabs {
		symbols = append(symbols, container.Symbol{
			Name:  st.String,
			Type:  types.NType(st.Type),
			Sect:  st.Other,
			Desc:  types.NDescType(st.Desc),
			Value: st.Value,
		})
	}
	localCount := len(symbols)

	var locals, extDefs, undefs []*atom.Atom
	for _, a := range w.Graph.All() {
		if !a.Live || a.Name == "" || a.SymTabInclusion == atom.NotIn {
			continue
		}
		switch {
		case a.Def == atom.DefExternalStrong || a.Def == atom.DefExternalWeak:
			undefs = append(undefs, a)
		case a.Scope == atom.ScopeGlobal:
			extDefs = append(extDefs, a)
		default:
			locals = append(locals, a)
		}
	}

	appendDefined := func(list []*atom.Atom) {
		for _, a := range list {
			var sect uint8
			if a.Section != nil {
				sect = ordinal[a.Section]
			}
			symbols = append(symbols, container.Symbol{
				Name:  a.Name,
				Type:  nType(a, true),
				Sect:  sect,
				Value: a.Address,
			})
		}
	}
	appendDefined(locals)
	localCount += len(locals)
	appendDefined(extDefs)

	for _, a := range undefs {
		symbols = append(symbols, container.Symbol{
			Name: a.Name,
			Type: nType(a, false),
		})
	}

	index := make(map[string]int, len(symbols))
	for i, s := range symbols {
		if s.Name == "" {
			continue
		}
		if _, seen := index[s.Name]; !seen {
			index[s.Name] = i
		}
	}

	return symbols, index, localCount, len(extDefs), len(undefs)
}

func nType(a *atom.Atom, defined bool) types.NType {
	if !defined {
		t := types.N_UNDF
		if a.Scope != atom.ScopeTranslationUnit {
			t |= types.N_EXT
		}
		return t
	}
	t := types.N_SECT
	switch a.Scope {
	case atom.ScopeGlobal:
		t |= types.N_EXT
	case atom.ScopeLinkageUnit:
		t |= types.N_EXT | types.N_PEXT
	}
	return t
}

// buildStringTable packs every symbol name into one pool; offset 0 and 1
// both name the empty string, per the reserved leading " \0".
func buildStringTable(symbols []container.Symbol) ([]byte, map[string]uint32) {
	strtab := []byte{' ', 0}
	offsets := map[string]uint32{"": 0}
	for _, s := range symbols {
		if s.Name == "" {
			continue
		}
		if _, ok := offsets[s.Name]; ok {
			continue
		}
		offsets[s.Name] = uint32(len(strtab))
		strtab = append(strtab, s.Name...)
		strtab = append(strtab, 0)
	}
	return strtab, offsets
}

func putSymbol(buf []byte, sym container.Symbol, nameOffset uint32, bo binary.ByteOrder, is64 bool) uint32 {
	if is64 {
		n := types.Nlist64{Nlist: types.Nlist{Name: nameOffset, Type: sym.Type, Sect: sym.Sect, Desc: sym.Desc}, Value: sym.Value}
		return uint32(n.Put64(buf, bo))
	}
	n := types.Nlist32{Nlist: types.Nlist{Name: nameOffset, Type: sym.Type, Sect: sym.Sect, Desc: sym.Desc}, Value: uint32(sym.Value)}
	return uint32(n.Put32(buf, bo))
}

// buildIndirectSyms walks every indirect-table section in Layouter order
// (matching how Layouter itself assigned IndirectBase) and resolves each
// entry's slot to its target symbol's final index.
func (w *ExecutableWriter) buildIndirectSyms(symIndex map[string]int) []uint32 {
	var out []uint32
	for _, seg := range w.Segments {
		for _, sec := range seg.Sections {
			switch sec.Kind {
			case atom.SectionAllStubs, atom.SectionAllSelfModifyingStubs, atom.SectionAllLazyPointers, atom.SectionAllNonLazyPointers:
			default:
				continue
			}
			for _, id := range sec.Atoms {
				a := w.Graph.Get(id)
				if a == nil {
					out = append(out, 0)
					continue
				}
				name := indirectTargetName(a.Name)
				if idx, ok := symIndex[name]; ok {
					out = append(out, uint32(idx))
					continue
				}
				w.Log.Tracef("writer: no symbol table entry for indirect target %q (from %q)", name, a.Name)
				out = append(out, 0)
			}
		}
	}
	return out
}
