// Package objreader implements the RelocatableReader collaborator
// (spec.md §4.1): it turns one Mach-O relocatable object's container.File
// into atoms, references and stabs, generalizing the teacher's flat
// "walk the sections and print" pass into the multi-pass algorithm a
// static linker needs: symbol-table first, then a section sweep that
// fills the byte ranges no symbol claims with anonymous atoms, then a
// relocation walk that becomes atom.Reference edges.
package objreader

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	godwarf "github.com/blacktop/go-dwarf"

	"github.com/apple-oss-distributions/ld64-sub000/internal/arch"
	"github.com/apple-oss-distributions/ld64-sub000/internal/atom"
	"github.com/apple-oss-distributions/ld64-sub000/internal/container"
	"github.com/apple-oss-distributions/ld64-sub000/internal/dwarfline"
	"github.com/apple-oss-distributions/ld64-sub000/internal/linkerr"
	"github.com/apple-oss-distributions/ld64-sub000/types"
)

// SourceInfo is the translation-unit identity objreader recovers from a
// DWARF-bearing object's compile unit, mirroring debuginfo.SourceInfo
// without objreader importing the debuginfo package (collaborators stay
// one-directional: debuginfo reads from objreader's output, never the
// reverse).
type SourceInfo struct {
	Dir        string
	File       string
	ObjectPath string
	ModTime    int64
}

// Reader holds one translation unit's parsed container and the state built
// up while converting it into atoms, so later passes (relocations, stabs)
// can refer back to symbol- and section-local atom IDs.
type Reader struct {
	Path string
	ID   atom.ReaderID
	Arch arch.Arch

	file *container.File

	// bySymIndex maps an Nlist index to the atom.AtomID created for it,
	// for N_SECT symbols and absolute symbols alike.
	bySymIndex map[int]atom.AtomID

	// sectionAtoms[i] holds every atom carved out of Sections[i], sorted
	// by address, for the relocation walk's address->atom lookup and for
	// the anonymous-atom sweep's gap filling.
	sectionAtoms [][]atom.AtomID

	undefined []string

	// addrAnchor[secIdx][addr] holds the most recently created atom at
	// addr, so a later symbol at the identical address becomes a
	// zero-size follow-on alias of it instead of a second claim on the
	// same bytes (spec.md §4.1's same-address symbol aliasing).
	addrAnchor map[int]map[uint64]atom.AtomID

	stabs      []atom.Stab
	sourceInfo SourceInfo
	hasDwarf   bool

	// oldObjCClasses collects the class names named by old-ABI
	// (".objc_class_name_*") N_ABS symbols, for ArchiveReader's
	// LoadAllObjCClasses eager-load policy to consult without re-parsing
	// the symbol table itself.
	oldObjCClasses []string
}

// New wraps an already-decoded container.File, ready to produce atoms. It
// does not itself touch the Graph; that happens in Load.
func New(path string, f *container.File, id atom.ReaderID, a arch.Arch) *Reader {
	return &Reader{Path: path, ID: id, Arch: a, file: f}
}

// Load runs the full spec.md §4.1 pipeline and adds every resulting atom
// to g, returning their IDs in creation order.
func (rd *Reader) Load(g *atom.Graph) ([]atom.AtomID, error) {
	if rd.file.Symtab == nil {
		return nil, linkerr.New(linkerr.NotMachO, "missing LC_SYMTAB")
	}

	rd.bySymIndex = make(map[int]atom.AtomID)
	rd.sectionAtoms = make([][]atom.AtomID, len(rd.file.Sections))
	rd.addrAnchor = make(map[int]map[uint64]atom.AtomID, len(rd.file.Sections))

	var created []atom.AtomID

	add := func(a *atom.Atom) atom.AtomID {
		a.Reader = rd.ID
		a.Arch = rd.Arch
		id := g.Add(a)
		created = append(created, id)
		return id
	}

	// Pass 1: symbol table. Every N_SECT (or N_ABS) symbol becomes an
	// atom whose section/offset we know exactly; undefined (N_UNDF)
	// externs with a zero value become required names for the Resolver,
	// while nonzero-value N_UNDF entries are tentative (common) symbols
	// and become atoms of their own; N_STAB entries are symbolic
	// debugging info, collected instead of turned into atoms.
	for i, sym := range rd.file.Symtab.Syms {
		switch {
		case sym.Type.IsStab():
			rd.stabs = append(rd.stabs, atom.Stab{
				Atom:   atom.InvalidAtomID,
				Type:   uint8(sym.Type),
				Other:  sym.Sect,
				Desc:   uint16(sym.Desc),
				Value:  sym.Value,
				String: sym.Name,
			})
		case sym.Type.IsUndefined():
			if sym.Name == "" {
				continue
			}
			if sym.Value == 0 {
				rd.undefined = append(rd.undefined, sym.Name)
				continue
			}
			// GET_COMM_ALIGN(n_desc) = (n_desc >> 8) & 0x0f, per
			// <mach-o/nlist.h>: a tentative definition's alignment rides
			// in the symbol's description field, its size in n_value.
			a := &atom.Atom{
				Kind:            atom.KindTentative,
				Name:            sym.Name,
				Def:             atom.DefTentative,
				Scope:           scopeFor(sym),
				SegmentName:     "__DATA",
				SectionName:     "__common",
				Size:            sym.Value,
				ZeroFill:        true,
				SymTabInclusion: atom.In,
				Alignment:       atom.Alignment{Pow: uint8((sym.Desc >> 8) & 0x0f)},
			}
			id := add(a)
			rd.bySymIndex[i] = id
		case sym.Type.IsAbsolute():
			a := &atom.Atom{
				Kind: atom.KindSymbol,
				Name: sym.Name,
				Def:  atom.DefRegular,
				Scope: scopeFor(sym),
				SymTabInclusion: atom.InAsAbsolute,
				Address: sym.Value,
			}
			id := add(a)
			rd.bySymIndex[i] = id
			if strings.HasPrefix(sym.Name, ".objc_class_name_") {
				rd.oldObjCClasses = append(rd.oldObjCClasses, strings.TrimPrefix(sym.Name, ".objc_class_name_"))
			}
		case sym.Type.IsDefinedInSection():
			secIdx := int(sym.Sect) - 1
			if secIdx < 0 || secIdx >= len(rd.file.Sections) {
				return nil, linkerr.New(linkerr.MalformedIndirectTable, fmt.Sprintf("symbol %q references out-of-range section %d", sym.Name, sym.Sect))
			}
			sec := rd.file.Sections[secIdx]
			inclusion := atom.In
			if sym.Name == "" {
				inclusion = atom.NotIn
			}

			if rd.addrAnchor[secIdx] == nil {
				rd.addrAnchor[secIdx] = make(map[uint64]atom.AtomID)
			}
			if anchor, ok := rd.addrAnchor[secIdx][sym.Value]; ok {
				// Same address as an already-created atom: this symbol
				// names the same bytes, so it becomes a zero-size
				// follow-on alias of the anchor rather than a second
				// claim on the range (property 3's contiguity edge,
				// reused to express "two names, one location").
				alias := &atom.Atom{
					Kind:            atom.KindSymbol,
					Name:            sym.Name,
					Def:             definitionKind(sym),
					Scope:           scopeFor(sym),
					SegmentName:     sec.Seg,
					SectionName:     sec.Name,
					Address:         sym.Value,
					SymTabInclusion: inclusion,
					DontDeadStrip:   sym.Desc.IsNoDeadStrip(),
				}
				id := add(alias)
				rd.bySymIndex[i] = id
				g.Get(anchor).FollowOn = id
				rd.addrAnchor[secIdx][sym.Value] = id
				continue
			}

			a := &atom.Atom{
				Kind:        atom.KindSymbol,
				Name:        sym.Name,
				Def:         definitionKind(sym),
				Scope:       scopeFor(sym),
				SegmentName: sec.Seg,
				SectionName: sec.Name,
				Address:     sym.Value,
				DontDeadStrip: sym.Desc.IsNoDeadStrip(),
				SymTabInclusion: inclusion,
			}
			id := add(a)
			rd.bySymIndex[i] = id
			rd.sectionAtoms[secIdx] = append(rd.sectionAtoms[secIdx], id)
			rd.addrAnchor[secIdx][sym.Value] = id
		}
	}

	// Pass 2: section sweep. Any bytes not claimed by a symbol-table atom
	// (string literals, jump tables, compiler-generated data, the whole
	// body of sections indirect-symbol-table sections like stubs/lazy and
	// non-lazy pointers) become anonymous atoms.
	for secIdx, sec := range rd.file.Sections {
		if err := rd.sweepSection(g, secIdx, sec, add); err != nil {
			return nil, err
		}
	}

	// Pass 3: relocations become References, attached to whichever atom
	// in the section owns the fixup offset.
	for secIdx, sec := range rd.file.Sections {
		if err := rd.applyRelocs(g, secIdx, sec); err != nil {
			return nil, err
		}
	}

	// Pass 4: if this object carries a __DWARF segment, decode its
	// compile-unit identity and line table so DebugInfoCollector can
	// synthesize stabs from it instead of only passing stabs-sourced
	// input through (spec.md §4.7).
	if err := rd.loadDebugInfo(g); err != nil {
		return nil, err
	}

	return created, nil
}

// loadDebugInfo builds a *dwarf.Data from this object's __DWARF segment
// (if any), grounded on the teacher's own File.DWARF() section-suffix
// mapping and ZLIB-compressed-section handling, then records the
// compile unit's (dir, file) identity and flattens its line-number
// program onto each owning atom's LineInfo via internal/dwarfline.
func (rd *Reader) loadDebugInfo(g *atom.Graph) error {
	dwarfSuffix := func(name string) string {
		switch {
		case strings.HasPrefix(name, "__debug_"):
			return name[8:]
		case strings.HasPrefix(name, "__zdebug_"):
			return name[9:]
		case strings.HasPrefix(name, "__apple_"):
			return name[8:]
		default:
			return ""
		}
	}
	sectionData := func(sec *container.Section) ([]byte, error) {
		b, err := sec.Data()
		if err != nil && uint64(len(b)) < sec.Size {
			return nil, err
		}
		if len(b) >= 12 && string(b[:4]) == "ZLIB" {
			dlen := binary.BigEndian.Uint64(b[4:12])
			dbuf := make([]byte, dlen)
			zr, err := zlib.NewReader(bytes.NewReader(b[12:]))
			if err != nil {
				return nil, err
			}
			if _, err := io.ReadFull(zr, dbuf); err != nil {
				return nil, err
			}
			if err := zr.Close(); err != nil {
				return nil, err
			}
			b = dbuf
		}
		return b, nil
	}

	dat := map[string][]byte{"abbrev": nil, "info": nil, "str": nil, "line": nil, "ranges": nil}
	found := false
	for _, sec := range rd.file.Sections {
		suffix := dwarfSuffix(sec.Name)
		if suffix == "" {
			continue
		}
		if _, ok := dat[suffix]; !ok {
			continue
		}
		b, err := sectionData(sec)
		if err != nil {
			return fmt.Errorf("reading DWARF section %s: %w", sec.Name, err)
		}
		dat[suffix] = b
		found = true
	}
	if !found {
		return nil
	}

	d, err := godwarf.New(dat["abbrev"], nil, nil, dat["info"], dat["line"], nil, dat["ranges"], dat["str"])
	if err != nil {
		return linkerr.New(linkerr.OldDwarfVersion, err.Error())
	}

	r := d.Reader()
	entry, err := r.Next()
	if err != nil {
		return fmt.Errorf("reading DWARF compile unit: %w", err)
	}
	if entry != nil && entry.Tag == godwarf.TagCompileUnit {
		name, _ := entry.Val(godwarf.AttrName).(string)
		compDir, _ := entry.Val(godwarf.AttrCompDir).(string)
		modTime := int64(0)
		if fi, err := os.Stat(rd.Path); err == nil {
			modTime = fi.ModTime().Unix()
		}
		rd.sourceInfo = SourceInfo{Dir: compDir, File: name, ObjectPath: rd.Path, ModTime: modTime}
		rd.hasDwarf = true
	}

	lines, err := dwarfline.Decode(d)
	if err != nil {
		return fmt.Errorf("decoding DWARF line table: %w", err)
	}
	for _, le := range lines {
		owner := rd.addressTarget(g, le.PC)
		if !owner.Resolved {
			continue
		}
		a := g.Get(owner.Atom)
		a.LineInfo = append(a.LineInfo, atom.LineInfo{
			AtomOffset: uint32(le.PC - a.Address),
			FileName:   le.File,
			Line:       uint32(le.Line),
		})
	}
	return nil
}

// UndefinedNames returns every extern symbol this translation unit left
// undefined, for the caller to feed into SymbolTable.RequireName.
func (rd *Reader) UndefinedNames() []string { return rd.undefined }

// Stabs returns every N_STAB symbol-table entry this translation unit
// carried directly (spec.md §4.7's stabs-sourced input), in file order.
func (rd *Reader) Stabs() []atom.Stab { return rd.stabs }

// SourceInfo returns the translation-unit identity recovered from this
// object's DWARF compile unit, if it has one.
func (rd *Reader) SourceInfo() (SourceInfo, bool) { return rd.sourceInfo, rd.hasDwarf }

// OldABIObjCClasses returns the class names this object defines under the
// pre-modern Objective-C ABI's ".objc_class_name_*" absolute-symbol
// convention.
func (rd *Reader) OldABIObjCClasses() []string { return rd.oldObjCClasses }

func scopeFor(sym container.Symbol) atom.Scope {
	if !sym.Type.IsExtern() {
		return atom.ScopeTranslationUnit
	}
	if sym.Type.IsPrivateExtern() {
		return atom.ScopeLinkageUnit
	}
	return atom.ScopeGlobal
}

func definitionKind(sym container.Symbol) atom.DefinitionKind {
	if sym.Desc.IsWeakDef() {
		return atom.DefWeak
	}
	return atom.DefRegular
}

// sweepSection fills every byte range of sec not already covered by a
// symbol-table atom with a synthesized anonymous atom, per section kind.
func (rd *Reader) sweepSection(g *atom.Graph, secIdx int, sec *container.Section, add func(*atom.Atom) atom.AtomID) error {
	atoms := rd.sectionAtoms[secIdx]
	sort.Slice(atoms, func(i, j int) bool { return g.Get(atoms[i]).Address < g.Get(atoms[j]).Address })
	rd.sectionAtoms[secIdx] = atoms

	// Without MH_SUBSECTIONS_VIA_SYMBOLS, the compiler never promised
	// these symbols could be reordered independently; chain them as
	// follow-ons so the Layouter keeps them contiguous in file order,
	// the same contiguity edge a linker would otherwise use to express
	// "this compiler doesn't emit per-symbol subsections" (spec.md §4.1).
	if !rd.file.Flags.SubsectionsViaSymbols() {
		for i := 0; i+1 < len(atoms); i++ {
			cur := g.Get(atoms[i])
			if cur.FollowOn == atom.InvalidAtomID {
				cur.FollowOn = atoms[i+1]
			}
		}
	}

	switch {
	case sec.Flags.IsZerofill() || sec.Flags.IsGBZerofill():
		return rd.sweepZeroFill(g, secIdx, sec, add)
	case sec.Flags.IsSymbolStubs():
		return rd.sweepIndirectTable(g, secIdx, sec, add, atom.KindStub, int(sec.Reserved2))
	case sec.Flags.IsLazySymbolPointers():
		return rd.sweepIndirectTable(g, secIdx, sec, add, atom.KindLazyPointer, int(rd.Arch.PointerSize()))
	case sec.Flags.IsNonLazySymbolPointers():
		return rd.sweepIndirectTable(g, secIdx, sec, add, atom.KindNonLazyPointer, int(rd.Arch.PointerSize()))
	case sec.Flags.IsCstringLiterals():
		return rd.sweepCStringLiterals(g, secIdx, sec, add)
	case sec.Flags.IsLiteralPointers():
		return rd.sweepFixedWidthLiterals(g, secIdx, sec, add, int(rd.Arch.PointerSize()))
	case sec.Flags.Type() == types.S4ByteLiterals:
		return rd.sweepFixedWidthLiterals(g, secIdx, sec, add, 4)
	case sec.Flags.Type() == types.S8ByteLiterals:
		return rd.sweepFixedWidthLiterals(g, secIdx, sec, add, 8)
	case sec.Flags.Type() == types.S16ByteLiterals:
		return rd.sweepFixedWidthLiterals(g, secIdx, sec, add, 16)
	default:
		return rd.sweepGaps(g, secIdx, sec, add)
	}
}

// sweepGaps fills the byte ranges between (and after the last of) the
// section's symbol-table atoms with one anonymous atom per gap, matching
// how a compiler emits unnamed jump tables and padding.
func (rd *Reader) sweepGaps(g *atom.Graph, secIdx int, sec *container.Section, add func(*atom.Atom) atom.AtomID) error {
	atoms := rd.sectionAtoms[secIdx]
	data, err := sec.Data()
	if err != nil {
		return fmt.Errorf("reading section %s.%s: %w", sec.Seg, sec.Name, err)
	}

	cursor := sec.Addr
	insertGap := func(start, end uint64) {
		if end <= start {
			return
		}
		off := start - sec.Addr
		sz := end - start
		var content []byte
		if off+sz <= uint64(len(data)) {
			content = append([]byte{}, data[off:off+sz]...)
		}
		id := add(&atom.Atom{
			Kind:            atom.KindAnonymous,
			Def:             atom.DefRegular,
			Scope:           atom.ScopeTranslationUnit,
			SegmentName:     sec.Seg,
			SectionName:     sec.Name,
			Address:         start,
			Size:            sz,
			SymTabInclusion: atom.NotIn,
			Content:         atom.RawBytes(content),
		})
		rd.sectionAtoms[secIdx] = append(rd.sectionAtoms[secIdx], id)
	}

	for _, id := range atoms {
		a := g.Get(id)
		insertGap(cursor, a.Address)
		if a.Size == 0 {
			a.Size = nextBoundary(atoms, g, a.Address, sec.Addr+sec.Size) - a.Address
		}
		cursor = a.Address + a.Size
	}
	insertGap(cursor, sec.Addr+sec.Size)
	return nil
}

func nextBoundary(atoms []atom.AtomID, g *atom.Graph, after, sectionEnd uint64) uint64 {
	best := sectionEnd
	for _, id := range atoms {
		addr := g.Get(id).Address
		if addr > after && addr < best {
			best = addr
		}
	}
	return best
}

// sweepZeroFill synthesizes one atom per the section when no symbol
// claims it (common __bss/__common padding), since zero-fill bytes carry
// no file content to split on.
func (rd *Reader) sweepZeroFill(g *atom.Graph, secIdx int, sec *container.Section, add func(*atom.Atom) atom.AtomID) error {
	if len(rd.sectionAtoms[secIdx]) > 0 {
		// Symbol-claimed tentative/bss atoms already cover their own
		// ranges; nothing unclaimed in a zero-fill section is meaningful
		// to materialize without a name, so there is no gap-fill here.
		for _, id := range rd.sectionAtoms[secIdx] {
			a := g.Get(id)
			a.ZeroFill = true
			a.Content = nil
		}
		return nil
	}
	if sec.Size == 0 {
		return nil
	}
	id := add(&atom.Atom{
		Kind:            atom.KindAnonymous,
		Def:             atom.DefRegular,
		Scope:           atom.ScopeTranslationUnit,
		SegmentName:     sec.Seg,
		SectionName:     sec.Name,
		Address:         sec.Addr,
		Size:            sec.Size,
		ZeroFill:        true,
		SymTabInclusion: atom.NotIn,
	})
	rd.sectionAtoms[secIdx] = append(rd.sectionAtoms[secIdx], id)
	return nil
}

// sweepIndirectTable synthesizes one atom per indirect-symbol-table slot
// in a stub/lazy/non-lazy-pointer section (spec.md §4.1's "synthesized
// names for stubs, lazy and non-lazy pointers"), named after the target
// import so later phases can find "the stub for _foo" by name.
func (rd *Reader) sweepIndirectTable(g *atom.Graph, secIdx int, sec *container.Section, add func(*atom.Atom) atom.AtomID, kind atom.Kind, elemSize int) error {
	if elemSize <= 0 {
		return linkerr.New(linkerr.MalformedIndirectTable, fmt.Sprintf("section %s.%s has zero element size", sec.Seg, sec.Name))
	}
	if rd.file.Dysymtab == nil {
		return linkerr.New(linkerr.MalformedIndirectTable, "indirect-symbol-pointer section with no LC_DYSYMTAB")
	}
	count := int(sec.Size) / elemSize
	base := int(sec.Reserved1)
	indirect := rd.file.Dysymtab.IndirectSyms

	for i := 0; i < count; i++ {
		idx := base + i
		if idx < 0 || idx >= len(indirect) {
			return linkerr.New(linkerr.MalformedIndirectTable, fmt.Sprintf("indirect index %d out of range", idx))
		}
		symIdx := indirect[idx]
		var name string
		switch symIdx {
		case 0x80000000, 0x40000000: // INDIRECT_SYMBOL_LOCAL / ABS, no import
		default:
			if int(symIdx) < len(rd.file.Symtab.Syms) {
				name = rd.file.Symtab.Syms[symIdx].Name
			}
		}
		addr := sec.Addr + uint64(i*elemSize)
		a := &atom.Atom{
			Kind:            kind,
			Def:             atom.DefRegular,
			Scope:           atom.ScopeTranslationUnit,
			SegmentName:     sec.Seg,
			SectionName:     sec.Name,
			Address:         addr,
			Size:            uint64(elemSize),
			SymTabInclusion: atom.NotIn,
		}
		if name != "" {
			a.Name = syntheticIndirectName(kind, name)
			a.References = []*atom.Reference{{To: atom.NamedTarget(name)}}
		}
		id := add(a)
		rd.sectionAtoms[secIdx] = append(rd.sectionAtoms[secIdx], id)
	}
	return nil
}

func syntheticIndirectName(kind atom.Kind, target string) string {
	switch kind {
	case atom.KindStub:
		return target + ".stub"
	case atom.KindLazyPointer:
		return target + ".lazy_ptr"
	case atom.KindNonLazyPointer:
		return target + ".non_lazy_ptr"
	default:
		return target
	}
}

// sweepCStringLiterals splits a __cstring-style section into one
// anonymous atom per NUL-terminated run, each individually coalescable.
func (rd *Reader) sweepCStringLiterals(g *atom.Graph, secIdx int, sec *container.Section, add func(*atom.Atom) atom.AtomID) error {
	data, err := sec.Data()
	if err != nil {
		return fmt.Errorf("reading section %s.%s: %w", sec.Seg, sec.Name, err)
	}
	start := 0
	for i, b := range data {
		if b != 0 {
			continue
		}
		sz := uint64(i - start + 1)
		// Content-keyed names let coalescing merge every atom with the
		// same literal text across translation units (spec.md §4.5);
		// DefWeak (rather than DefRegular) is what lets the symbol
		// table's override lattice merge same-named atoms silently
		// instead of raising DuplicateSymbol. Every empty string
		// canonicalizes to the same name regardless of where it was
		// found, so "" appears at most once in the final image.
		id := add(&atom.Atom{
			Kind:            atom.KindAnonymous,
			Name:            "cstring=" + string(data[start:i]),
			Def:             atom.DefWeak,
			Scope:           atom.ScopeLinkageUnit,
			SegmentName:     sec.Seg,
			SectionName:     sec.Name,
			Address:         sec.Addr + uint64(start),
			Size:            sz,
			SymTabInclusion: atom.NotIn,
			Content:         atom.RawBytes(append([]byte{}, data[start:i+1]...)),
		})
		rd.sectionAtoms[secIdx] = append(rd.sectionAtoms[secIdx], id)
		start = i + 1
	}
	return nil
}

// sweepFixedWidthLiterals splits a literal-pointers/4/8/16-byte-literal
// section into fixed-size anonymous atoms.
func (rd *Reader) sweepFixedWidthLiterals(g *atom.Graph, secIdx int, sec *container.Section, add func(*atom.Atom) atom.AtomID, width int) error {
	if width <= 0 {
		width = 4
	}
	if sec.Flags.Type() == types.SLiteralPointers {
		width = int(rd.Arch.PointerSize())
	}
	data, err := sec.Data()
	if err != nil {
		return fmt.Errorf("reading section %s.%s: %w", sec.Seg, sec.Name, err)
	}
	for off := 0; off+width <= len(data); off += width {
		id := add(&atom.Atom{
			Kind:            atom.KindAnonymous,
			Def:             atom.DefRegular,
			Scope:           atom.ScopeTranslationUnit,
			SegmentName:     sec.Seg,
			SectionName:     sec.Name,
			Address:         sec.Addr + uint64(off),
			Size:            uint64(width),
			SymTabInclusion: atom.NotIn,
			Content:         atom.RawBytes(append([]byte{}, data[off:off+width]...)),
		})
		rd.sectionAtoms[secIdx] = append(rd.sectionAtoms[secIdx], id)
	}
	return nil
}

// applyRelocs converts every container.Reloc in sec into an atom.Reference
// on whichever atom owns its fixup offset. Two-record combinations —
// (HI16/HA16/LO16/LO14, PAIR) on PPC and (SUBTRACTOR, UNSIGNED) on
// x86_64/ARM64 — describe one logical fixup across two relocation table
// entries; both records are consumed together into a single Reference.
func (rd *Reader) applyRelocs(g *atom.Graph, secIdx int, sec *container.Section) error {
	relocs := sec.Relocs
	for i := 0; i < len(relocs); i++ {
		rel := relocs[i]
		if rd.isPairRelocType(rel.Type) {
			// Consumed as the second half of the preceding HI16/HA16/
			// LO16/LO14 record; never a standalone fixup.
			continue
		}

		addr := sec.Addr + uint64(rel.Addr)
		owner := rd.findOwner(g, secIdx, addr)
		if owner == atom.InvalidAtomID {
			continue
		}
		ownerAtom := g.Get(owner)

		var secondary *container.Reloc
		combo := false
		if i+1 < len(relocs) {
			nxt := relocs[i+1]
			if rd.isPairRelocType(nxt.Type) || (rd.isSubtractorRelocType(rel.Type) && rd.isUnsignedRelocType(nxt.Type)) {
				secondary = &relocs[i+1]
				combo = true
			}
		}

		to, from, fromAddend, err := rd.relocTarget(g, rel, secondary)
		if err != nil {
			return err
		}

		ref := &atom.Reference{
			FixupOffset: uint32(addr - ownerAtom.Address),
			Kind:        relocKind(rd.Arch, rel, combo),
			To:          to,
			From:        from,
			FromAddend:  fromAddend,
		}
		ownerAtom.References = append(ownerAtom.References, ref)

		if combo && rd.isSubtractorRelocType(rel.Type) {
			// The UNSIGNED record at i+1 shares this fixup's address and
			// carries no independent offset of its own; skip it so it
			// isn't also processed as a plain pointer relocation.
			i++
		}
	}
	return nil
}

// isPairRelocType reports whether t is the current architecture's
// "second record" relocation type for a HI16/HA16/LO16/LO14 combination
// (GENERIC_RELOC_PAIR / PPC_RELOC_PAIR / ARM_RELOC_PAIR all share value 1
// in their respective <mach-o/*/reloc.h>).
func (rd *Reader) isPairRelocType(t uint8) bool {
	switch rd.Arch {
	case arch.PPC, arch.PPC64:
		return t == types.PPCRelocPair
	case arch.ARM:
		return t == types.ArmRelocPair
	case arch.I386:
		return t == types.GenericRelocPair
	default:
		return false
	}
}

func (rd *Reader) isSubtractorRelocType(t uint8) bool {
	switch rd.Arch {
	case arch.X8664:
		return t == types.X8664RelocSubtractor
	case arch.ARM64:
		return t == types.Arm64RelocSubtractor
	default:
		return false
	}
}

func (rd *Reader) isUnsignedRelocType(t uint8) bool {
	switch rd.Arch {
	case arch.X8664:
		return t == types.X8664RelocUnsigned
	case arch.ARM64:
		return t == types.Arm64RelocUnsigned
	default:
		return false
	}
}

func (rd *Reader) findOwner(g *atom.Graph, secIdx int, addr uint64) atom.AtomID {
	atoms := rd.sectionAtoms[secIdx]
	// atoms is sorted by address (set in sweepSection); binary search for
	// the last atom whose address is <= addr.
	idx := sort.Search(len(atoms), func(i int) bool {
		return g.Get(atoms[i]).Address > addr
	})
	if idx == 0 {
		return atom.InvalidAtomID
	}
	return atoms[idx-1]
}

// relocTarget resolves rel's primary target and, when secondary is the
// paired second record of a two-record combination, folds it in:
// SUBTRACTOR+UNSIGNED produces a from/to pair (the "to" target moves to
// the UNSIGNED record's symbol, and the SUBTRACTOR record's own target
// becomes the "from" anchor), while HI16/HA16/LO16/LO14+PAIR surfaces
// the PAIR record's low-order immediate as FromAddend for the fixup
// engine to fold back into the instruction.
func (rd *Reader) relocTarget(g *atom.Graph, rel container.Reloc, secondary *container.Reloc) (to, from atom.Target, fromAddend int64, err error) {
	to, err = rd.singleRelocTarget(g, rel)
	if err != nil {
		return atom.Target{}, atom.Target{}, 0, err
	}
	if secondary == nil {
		return to, atom.Target{}, 0, nil
	}

	if rd.isSubtractorRelocType(rel.Type) {
		unsignedTo, err := rd.singleRelocTarget(g, *secondary)
		if err != nil {
			return atom.Target{}, atom.Target{}, 0, err
		}
		return unsignedTo, to, 0, nil
	}

	// HI16/HA16/LO16/LO14 + PAIR: the PAIR record's r_address field
	// carries the low 16 bits of the original addend.
	return to, atom.Target{}, int64(int16(secondary.Addr)), nil
}

func (rd *Reader) singleRelocTarget(g *atom.Graph, rel container.Reloc) (atom.Target, error) {
	if rel.Scattered {
		return rd.addressTarget(g, uint64(rel.Value)), nil
	}
	if rel.Extern {
		if int(rel.Value) >= len(rd.file.Symtab.Syms) {
			return atom.Target{}, linkerr.New(linkerr.UndefinedSymbol, "relocation symbol index out of range")
		}
		sym := rd.file.Symtab.Syms[rel.Value]
		if id, ok := rd.bySymIndex[int(rel.Value)]; ok {
			return atom.DirectTarget(id), nil
		}
		return atom.NamedTarget(sym.Name), nil
	}
	// Section-relative: rel.Value is a 1-based section number; we don't
	// know the addend here (callers read it from the instruction bytes,
	// as ld64 does), so bind to the section's base and let the fixup
	// engine add the in-place addend when it re-reads the bytes.
	secIdx := int(rel.Value) - 1
	if secIdx < 0 || secIdx >= len(rd.sectionAtoms) {
		return atom.Target{}, linkerr.New(linkerr.MalformedIndirectTable, "relocation references out-of-range section")
	}
	atoms := rd.sectionAtoms[secIdx]
	if len(atoms) == 0 {
		return atom.Target{}, linkerr.New(linkerr.MalformedIndirectTable, "relocation references empty section")
	}
	return atom.DirectTarget(atoms[0]), nil
}

func (rd *Reader) addressTarget(g *atom.Graph, addr uint64) atom.Target {
	for secIdx, sec := range rd.file.Sections {
		if addr < sec.Addr || addr >= sec.Addr+sec.Size {
			continue
		}
		owner := rd.findOwner(g, secIdx, addr)
		if owner != atom.InvalidAtomID {
			return atom.DirectTarget(owner)
		}
	}
	return atom.Target{}
}

// relocKind maps a container.Reloc's raw (type, length, pcrel) triple to
// the architecture-neutral arch.RefKind the rest of the core reasons
// about, per spec.md §4.1/§4.6's reloc-to-reference-kind table. combo is
// true when rel was paired with a second relocation record by
// applyRelocs (PAIR or SUBTRACTOR+UNSIGNED).
func relocKind(a arch.Arch, rel container.Reloc, combo bool) arch.RefKind {
	if combo {
		switch a {
		case arch.PPC, arch.PPC64:
			switch rel.Type {
			case types.PPCRelocHi16:
				return arch.AbsHigh16
			case types.PPCRelocHa16:
				return arch.AbsHigh16AddLow
			case types.PPCRelocLo16:
				return arch.AbsLow16
			case types.PPCRelocLo14:
				return arch.AbsLow14
			}
		case arch.X8664:
			if rel.Type == types.X8664RelocSubtractor {
				return arch.PointerDiff
			}
		case arch.ARM64:
			if rel.Type == types.Arm64RelocSubtractor {
				return arch.PointerDiff64
			}
		}
	}
	switch {
	case rel.Pcrel && rel.Len == 2:
		return arch.PCRel32
	case rel.Pcrel && rel.Len == 1:
		return arch.PCRel32
	case !rel.Pcrel && rel.Len == 2 && a.PointerSize() == 4:
		return arch.Pointer
	case !rel.Pcrel && rel.Len == 3:
		return arch.Pointer
	default:
		return arch.Absolute32
	}
}
