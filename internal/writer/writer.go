// Package writer implements the ExecutableWriter component (spec.md §2,
// item 13): it takes the Layouter's segment/section layout, the
// FixupEngine's patched atom bytes and relocation records, the
// DebugInfoCollector's stabs, and the exports-trie bytes, and serializes
// them into one Mach-O-family container buffer, ready to be written to
// disk.
//
// It owns no policy of its own — every address, byte, and ordering
// decision was already made upstream; this package only encodes those
// decisions with internal/container's Put/Write methods, the same way
// export.go assembles a bytes.Buffer and hands it to ioutil.WriteFile in
// one shot rather than streaming to an open file descriptor.
package writer

import (
	"bytes"
	"fmt"
	"unsafe"

	"github.com/apple-oss-distributions/ld64-sub000/internal/arch"
	"github.com/apple-oss-distributions/ld64-sub000/internal/atom"
	"github.com/apple-oss-distributions/ld64-sub000/internal/container"
	"github.com/apple-oss-distributions/ld64-sub000/internal/fixup"
	"github.com/apple-oss-distributions/ld64-sub000/internal/linklog"
	"github.com/apple-oss-distributions/ld64-sub000/types"
)

// Sizes of the two trailing load commands this writer always emits,
// computed the same way container.Symtab.LoadSize does.
var (
	sizeofSymtabCmd   = uint32(unsafe.Sizeof(types.SymtabCmd{}))
	sizeofDysymtabCmd = uint32(unsafe.Sizeof(types.DysymtabCmd{}))
)

// Options configures one ExecutableWriter run.
type Options struct {
	Arch        arch.Arch
	FileType    types.HeaderFileType
	Flags       types.HeaderFlag
	Relocatable bool // not read by Run: relocations always go to the LINKEDIT local/external tables, and Stabs/ExportsTrie are written as given
}

// ExecutableWriter renders a linked image's final byte layout from the
// outputs of every phase that ran before it.
type ExecutableWriter struct {
	Graph *atom.Graph
	Opts  Options
	Log   linklog.Logger

	Segments []*atom.SegmentInfo
	Indirect []atom.IndirectEntry

	Patched []fixup.PatchedAtom
	Relocs  []fixup.SectionRelocs

	Stabs       []atom.Stab
	ExportsTrie []byte
}

func New(g *atom.Graph, opts Options, log linklog.Logger) *ExecutableWriter {
	if log == nil {
		log = linklog.Discard{}
	}
	return &ExecutableWriter{Graph: g, Opts: opts, Log: log}
}

// Run builds the full container image and returns its bytes.
func (w *ExecutableWriter) Run() ([]byte, error) {
	bo := w.Opts.Arch.ByteOrder()
	is64 := w.Opts.Arch.Is64()

	patchedByAtom := make(map[atom.AtomID][]byte, len(w.Patched))
	for _, p := range w.Patched {
		patchedByAtom[p.Atom] = p.Bytes
	}

	segs, sectionOrdinal, err := w.buildSegments(patchedByAtom, is64)
	if err != nil {
		return nil, err
	}

	symbols, symIndex, localCount, extDefCount, undefCount := w.buildSymbols(sectionOrdinal)
	strtab, nameOff := buildStringTable(symbols)
	indirectSyms := w.buildIndirectSyms(symIndex)
	localRelocs, externRelocs := splitRelocs(w.Relocs)
	localRelocBytes := encodeRelocs(localRelocs, bo)
	externRelocBytes := encodeRelocs(externRelocs, bo)

	toc := &container.FileTOC{
		FileHeader: types.FileHeader{
			Magic:  w.Opts.Arch.Magic(),
			CPU:    w.Opts.Arch.CPU(),
			SubCPU: w.Opts.Arch.CPUSubtype(),
			Type:   w.Opts.FileType,
			Flags:  w.Opts.Flags,
		},
		ByteOrder: bo,
	}

	hdrSize := toc.HdrSize()
	cmdsSize := w.commandsSize(segs)

	linkeditSeg := segByName(segs, "__LINKEDIT")
	linkeditOff := uint64(0)
	if linkeditSeg != nil {
		linkeditOff = linkeditSeg.Offset
	}

	// LINKEDIT tail, in spec.md §6's fixed order: local relocations,
	// symbol table, external relocations, indirect-symbol table, string
	// pool, exports trie.
	locreloff := uint32(linkeditOff)
	symoff := locreloff + uint32(len(localRelocBytes))
	symSize := uint32(len(symbols)) * toc.SymbolEntrySize()
	extreloff := symoff + symSize
	indirectOff := extreloff + uint32(len(externRelocBytes))
	indirectSize := uint32(len(indirectSyms)) * 4
	stroff := indirectOff + indirectSize
	strsize := uint32(len(strtab))
	exportsOff := stroff + strsize
	exportsSize := uint32(len(w.ExportsTrie))

	if linkeditSeg != nil {
		linkeditSeg.Filesz = uint64(exportsOff+exportsSize) - linkeditOff
		linkeditSeg.Memsz = alignUp64(linkeditSeg.Filesz, w.Opts.Arch.PageSize())
	}

	symtabCmd := &container.Symtab{
		SymtabCmd: types.SymtabCmd{
			LoadCmd: types.LC_SYMTAB,
			Len:     sizeofSymtabCmd,
			Symoff:  symoff,
			Nsyms:   uint32(len(symbols)),
			Stroff:  stroff,
			Strsize: strsize,
		},
	}
	dysymtabCmd := &container.Dysymtab{
		DysymtabCmd: types.DysymtabCmd{
			LoadCmd:        types.LC_DYSYMTAB,
			Len:            sizeofDysymtabCmd,
			Ilocalsym:      0,
			Nlocalsym:      uint32(localCount),
			Iextdefsym:     uint32(localCount),
			Nextdefsym:     uint32(extDefCount),
			Iundefsym:      uint32(localCount + extDefCount),
			Nundefsym:      uint32(undefCount),
			Indirectsymoff: indirectOff,
			Nindirectsyms:  uint32(len(indirectSyms)),
			Locreloff:      locreloff,
			Nlocrel:        uint32(len(localRelocs)),
			Extreloff:      extreloff,
			Nextrel:        uint32(len(externRelocs)),
		},
	}

	var buf bytes.Buffer
	hdr := toc.FileHeader
	hdr.NCommands = uint32(len(segs)) + 2
	hdr.SizeCommands = cmdsSize
	if err := hdr.Write(&buf, bo); err != nil {
		return nil, err
	}

	for _, seg := range segs {
		if err := seg.Write(&buf, bo); err != nil {
			return nil, err
		}
		for _, sec := range seg.sections {
			if err := sec.Write(&buf, bo); err != nil {
				return nil, err
			}
		}
	}
	if err := symtabCmd.Write(&buf, bo); err != nil {
		return nil, err
	}
	if err := dysymtabCmd.Write(&buf, bo); err != nil {
		return nil, err
	}

	if uint32(buf.Len()) != hdrSize+cmdsSize {
		return nil, fmt.Errorf("writer: load-command region size mismatch: wrote %d, expected %d", buf.Len(), hdrSize+cmdsSize)
	}

	image := make([]byte, exportsOff+exportsSize)
	copy(image, buf.Bytes())

	for _, seg := range segs {
		if seg.Name == "__PAGEZERO" || seg.Filesz == 0 {
			continue
		}
		copy(image[seg.Offset:], seg.data)
	}

	off := locreloff
	copy(image[off:], localRelocBytes)
	off = symoff
	for _, sym := range symbols {
		off += putSymbol(image[off:], sym, nameOff[sym.Name], bo, is64)
	}
	copy(image[extreloff:], externRelocBytes)
	off = indirectOff
	for _, v := range indirectSyms {
		bo.PutUint32(image[off:], v)
		off += 4
	}
	copy(image[stroff:], strtab)
	copy(image[exportsOff:], w.ExportsTrie)

	return image, nil
}

// commandsSize sums every load command's on-disk size, the way
// FileTOC.AddLoad would have, had Segment/Dysymtab satisfied its generic
// Load interface; LoadSize ignores its *FileTOC argument for every
// command this writer emits, so nil is safe here.
func (w *ExecutableWriter) commandsSize(segs []*builtSegment) uint32 {
	var total uint32
	for _, seg := range segs {
		total += seg.LoadSize(nil)
	}
	return total + sizeofSymtabCmd + sizeofDysymtabCmd
}

func segByName(segs []*builtSegment, name string) *builtSegment {
	for _, s := range segs {
		if s.Name == name {
			return s
		}
	}
	return nil
}

func alignUp64(v, align uint64) uint64 {
	if align <= 1 {
		return v
	}
	if rem := v % align; rem != 0 {
		return v + (align - rem)
	}
	return v
}

