// Package container implements the BinaryView over a Mach-O-family byte
// buffer: endian-aware header, load-command, symbol-table and relocation
// decoding, plus the on-disk Put/Write encoders used by the writer phase.
//
// It has no notion of atoms, symbol resolution, or layout; it only turns
// bytes into typed records and back. Everything above this package
// (readers, resolver, layout, fixups) is architecture-aware only insofar
// as it reads the CPU field this package decodes.
package container

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/apple-oss-distributions/ld64-sub000/types"
)

// FormatError is returned when the input bytes do not have the shape of a
// Mach-O relocatable object, dylib, or archive member.
type FormatError struct {
	Off int64
	Msg string
	Val any
}

func (e *FormatError) Error() string {
	msg := e.Msg
	if e.Val != nil {
		msg += fmt.Sprintf(" %v", e.Val)
	}
	return fmt.Sprintf("%s (at offset %#x)", msg, e.Off)
}

// FileTOC is the table of contents of a Mach-O container: header plus the
// decoded load-command stream.
type FileTOC struct {
	types.FileHeader
	ByteOrder binary.ByteOrder
	Loads     []Load
	Sections  []*Section
}

// AddLoad appends a load command and keeps NCommands/SizeCommands in sync.
func (t *FileTOC) AddLoad(l Load) {
	t.Loads = append(t.Loads, l)
	t.NCommands++
	t.SizeCommands += l.LoadSize(t)
}

// AddSegment appends a segment load command (with no sections yet).
func (t *FileTOC) AddSegment(s *Segment) {
	t.AddLoad(s)
	s.Nsect = 0
	s.Firstsect = 0
}

// AddSection appends a section to the most recently added segment.
func (t *FileTOC) AddSection(s *Section) {
	seg := t.Loads[len(t.Loads)-1].(*Segment)
	if seg.Nsect == 0 {
		seg.Firstsect = uint32(len(t.Sections))
	}
	seg.Nsect++
	t.Sections = append(t.Sections, s)
	sz := uint32(sectionHeaderSize32)
	if seg.Command() == types.LC_SEGMENT_64 {
		sz = sectionHeaderSize64
	}
	t.SizeCommands += sz
	seg.Len += sz
}

const (
	sectionHeaderSize32 = 17 * 4
	sectionHeaderSize64 = 16*4 + 2*8
)

// HdrSize returns the on-disk size of the Mach-O header for t.Magic.
func (t *FileTOC) HdrSize() uint32 {
	switch t.Magic {
	case types.Magic32:
		return types.FileHeaderSize32
	case types.Magic64:
		return types.FileHeaderSize64
	default:
		panic(fmt.Sprintf("unexpected magic %#x", uint32(t.Magic)))
	}
}

// LoadAlign is the required alignment of the load-command stream.
func (t *FileTOC) LoadAlign() uint64 {
	if t.Magic == types.Magic64 {
		return 8
	}
	return 4
}

// SymbolEntrySize is the on-disk size of one Nlist32/Nlist64 record.
func (t *FileTOC) SymbolEntrySize() uint32 {
	if t.Magic == types.Magic64 {
		return 16
	}
	return 12
}

// File is a parsed relocatable object, dylib, or executable.
type File struct {
	FileTOC
	Symtab   *Symtab
	Dysymtab *Dysymtab

	sr io.ReaderAt
}

// NewFile decodes the Mach-O container in r. It understands exactly the
// load commands a static linker's readers need (segments/sections,
// symbol table, dynamic symbol table, dylib identity and dependents,
// dyld info, sub-umbrella/library/framework/client, exports trie); any
// other load command is retained uninterpreted as LoadBytes.
func NewFile(r io.ReaderAt) (*File, error) {
	f := &File{sr: r}

	var ident [4]byte
	if _, err := r.ReadAt(ident[:], 0); err != nil {
		return nil, fmt.Errorf("reading magic: %w", err)
	}
	be := binary.BigEndian.Uint32(ident[:])
	le := binary.LittleEndian.Uint32(ident[:])
	switch {
	case be == uint32(types.Magic32) || be == uint32(types.Magic64):
		f.ByteOrder = binary.BigEndian
		f.Magic = types.Magic(be)
	case le == uint32(types.Magic32) || le == uint32(types.Magic64):
		f.ByteOrder = binary.LittleEndian
		f.Magic = types.Magic(le)
	default:
		return nil, &FormatError{0, "invalid magic number", nil}
	}

	var hdr [32]byte
	hdrSize := types.FileHeaderSize32
	if f.Magic == types.Magic64 {
		hdrSize = types.FileHeaderSize64
	}
	if _, err := r.ReadAt(hdr[:hdrSize], 0); err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	f.FileHeader = types.FileHeader{
		Magic:        f.Magic,
		CPU:          types.CPU(f.ByteOrder.Uint32(hdr[4:8])),
		SubCPU:       types.CPUSubtype(f.ByteOrder.Uint32(hdr[8:12])),
		Type:         types.HeaderFileType(f.ByteOrder.Uint32(hdr[12:16])),
		NCommands:    f.ByteOrder.Uint32(hdr[16:20]),
		SizeCommands: f.ByteOrder.Uint32(hdr[20:24]),
		Flags:        types.HeaderFlag(f.ByteOrder.Uint32(hdr[24:28])),
	}

	offset := int64(f.HdrSize())
	cmdDat := make([]byte, f.SizeCommands)
	if _, err := r.ReadAt(cmdDat, offset); err != nil {
		return nil, fmt.Errorf("reading load commands: %w", err)
	}

	for i := uint32(0); i < f.NCommands; i++ {
		if len(cmdDat) < 8 {
			return nil, &FormatError{offset, "command block too small", nil}
		}
		cmd := types.LoadCmd(f.ByteOrder.Uint32(cmdDat[0:4]))
		siz := f.ByteOrder.Uint32(cmdDat[4:8])
		if siz < 8 || siz > uint32(len(cmdDat)) {
			return nil, &FormatError{offset, "invalid command block size", siz}
		}
		this := cmdDat[0:siz]
		cmdDat = cmdDat[siz:]

		switch cmd {
		case types.LC_SEGMENT, types.LC_SEGMENT_64:
			seg, secs, err := parseSegment(cmd, this, f.ByteOrder, r)
			if err != nil {
				return nil, err
			}
			f.Loads = append(f.Loads, seg)
			f.Sections = append(f.Sections, secs...)
		case types.LC_SYMTAB:
			st, err := parseSymtab(this, f.ByteOrder, f.Magic, r)
			if err != nil {
				return nil, err
			}
			f.Symtab = st
			f.Loads = append(f.Loads, st)
		case types.LC_DYSYMTAB:
			dt, err := parseDysymtab(this, f.ByteOrder, r)
			if err != nil {
				return nil, err
			}
			f.Dysymtab = dt
			f.Loads = append(f.Loads, dt)
		case types.LC_ID_DYLIB, types.LC_LOAD_DYLIB, types.LC_LOAD_WEAK_DYLIB,
			types.LC_REEXPORT_DYLIB, types.LC_LAZY_LOAD_DYLIB, types.LC_LOAD_UPWARD_DYLIB:
			dl, err := parseDylib(cmd, this, f.ByteOrder)
			if err != nil {
				return nil, err
			}
			f.Loads = append(f.Loads, dl)
		case types.LC_DYLD_INFO, types.LC_DYLD_INFO_ONLY:
			di, err := parseDyldInfo(cmd, this, f.ByteOrder)
			if err != nil {
				return nil, err
			}
			f.Loads = append(f.Loads, di)
		case types.LC_SUB_FRAMEWORK:
			sf, err := parseSubFramework(cmd, this, f.ByteOrder)
			if err != nil {
				return nil, err
			}
			f.Loads = append(f.Loads, sf)
		case types.LC_SUB_UMBRELLA:
			su, err := parseSubUmbrella(cmd, this, f.ByteOrder)
			if err != nil {
				return nil, err
			}
			f.Loads = append(f.Loads, su)
		case types.LC_SUB_CLIENT:
			sc, err := parseSubClient(cmd, this, f.ByteOrder)
			if err != nil {
				return nil, err
			}
			f.Loads = append(f.Loads, sc)
		case types.LC_SUB_LIBRARY:
			sl, err := parseSubLibrary(cmd, this, f.ByteOrder)
			if err != nil {
				return nil, err
			}
			f.Loads = append(f.Loads, sl)
		case types.LC_DYLD_EXPORTS_TRIE:
			et, err := parseLinkEditData(cmd, this, f.ByteOrder)
			if err != nil {
				return nil, err
			}
			f.Loads = append(f.Loads, &DyldExportsTrie{LoadBytes: LoadBytes(this), DyldExportsTrieCmd: types.DyldExportsTrieCmd(et), Offset: et.Offset, Size: et.Size})
		default:
			f.Loads = append(f.Loads, LoadBytes(this))
		}
		offset += int64(siz)
	}

	return f, nil
}

func parseSegment(cmd types.LoadCmd, b []byte, bo binary.ByteOrder, r io.ReaderAt) (*Segment, []*Section, error) {
	br := bytes.NewReader(b)
	seg := &Segment{ReaderAt: r}
	var nsect uint32
	if cmd == types.LC_SEGMENT_64 {
		var sh types.Segment64
		if err := binary.Read(br, bo, &sh); err != nil {
			return nil, nil, err
		}
		seg.SegmentHeader = SegmentHeader{
			LoadCmd: cmd, Len: sh.Len, Name: cstr(sh.Name[:]), Addr: sh.Addr, Memsz: sh.Memsz,
			Offset: sh.Offset, Filesz: sh.Filesz, Maxprot: sh.Maxprot, Prot: sh.Prot,
			Nsect: sh.Nsect, Flag: sh.Flag,
		}
		nsect = sh.Nsect
	} else {
		var sh types.Segment32
		if err := binary.Read(br, bo, &sh); err != nil {
			return nil, nil, err
		}
		seg.SegmentHeader = SegmentHeader{
			LoadCmd: cmd, Len: sh.Len, Name: cstr(sh.Name[:]), Addr: uint64(sh.Addr), Memsz: uint64(sh.Memsz),
			Offset: uint64(sh.Offset), Filesz: uint64(sh.Filesz), Maxprot: sh.Maxprot, Prot: sh.Prot,
			Nsect: sh.Nsect, Flag: sh.Flag,
		}
		nsect = sh.Nsect
	}

	secs := make([]*Section, 0, nsect)
	for i := uint32(0); i < nsect; i++ {
		sec := &Section{}
		var relOff, nreloc uint32
		if cmd == types.LC_SEGMENT_64 {
			var sh types.Section64
			if err := binary.Read(br, bo, &sh); err != nil {
				return nil, nil, err
			}
			sec.SectionHeader = SectionHeader{
				Name: cstr(sh.Name[:]), Seg: cstr(sh.Seg[:]), Addr: sh.Addr, Size: sh.Size,
				Offset: sh.Offset, Align: sh.Align, Reloff: sh.Reloff, Nreloc: sh.Nreloc,
				Flags: sh.Flags, Reserved1: sh.Reserve1, Reserved2: sh.Reserve2, Reserved3: sh.Reserve3,
				Type: 64,
			}
			relOff, nreloc = sh.Reloff, sh.Nreloc
		} else {
			var sh types.Section32
			if err := binary.Read(br, bo, &sh); err != nil {
				return nil, nil, err
			}
			sec.SectionHeader = SectionHeader{
				Name: cstr(sh.Name[:]), Seg: cstr(sh.Seg[:]), Addr: uint64(sh.Addr), Size: uint64(sh.Size),
				Offset: sh.Offset, Align: sh.Align, Reloff: sh.Reloff, Nreloc: sh.Nreloc,
				Flags: sh.Flags, Reserved1: sh.Reserve1, Reserved2: sh.Reserve2, Type: 32,
			}
			relOff, nreloc = sh.Reloff, sh.Nreloc
		}
		if nreloc > 0 {
			relDat := make([]byte, nreloc*8)
			if _, err := r.ReadAt(relDat, int64(relOff)); err != nil {
				return nil, nil, fmt.Errorf("reading relocations for %s.%s: %w", sec.Seg, sec.Name, err)
			}
			sec.Relocs = decodeRelocs(relDat, bo, nreloc)
		}
		sec.ReaderAt = r
		sec.sr = io.NewSectionReader(r, int64(sec.Offset), int64(sec.Size))
		secs = append(secs, sec)
	}
	seg.sr = io.NewSectionReader(r, int64(seg.Offset), int64(seg.Filesz))
	return seg, secs, nil
}

func decodeRelocs(b []byte, bo binary.ByteOrder, n uint32) []Reloc {
	out := make([]Reloc, 0, n)
	for i := uint32(0); i < n; i++ {
		addr := bo.Uint32(b[i*8:])
		symnum := bo.Uint32(b[i*8+4:])
		r := Reloc{}
		if addr&(1<<31) != 0 {
			r.Scattered = true
			r.Type = uint8((addr >> 24) & 0xf)
			r.Len = uint8((addr >> 28) & 0x3)
			r.Pcrel = (addr>>30)&1 != 0
			r.Addr = addr & 0x00ffffff
			r.Value = symnum
		} else if bo == binary.LittleEndian {
			r.Addr = addr
			r.Value = symnum & 0xffffff
			r.Pcrel = (symnum>>24)&1 != 0
			r.Len = uint8((symnum >> 25) & 0x3)
			r.Extern = (symnum>>27)&1 != 0
			r.Type = uint8((symnum >> 28) & 0xf)
		} else {
			r.Addr = addr
			r.Value = symnum >> 8
			r.Pcrel = (symnum>>7)&1 != 0
			r.Len = uint8((symnum >> 5) & 0x3)
			r.Extern = (symnum>>4)&1 != 0
			r.Type = uint8(symnum & 0xf)
		}
		out = append(out, r)
	}
	return out
}

func parseSymtab(b []byte, bo binary.ByteOrder, magic types.Magic, r io.ReaderAt) (*Symtab, error) {
	var hdr types.SymtabCmd
	if err := binary.Read(bytes.NewReader(b), bo, &hdr); err != nil {
		return nil, err
	}
	strtab := make([]byte, hdr.Strsize)
	if hdr.Strsize > 0 {
		if _, err := r.ReadAt(strtab, int64(hdr.Stroff)); err != nil {
			return nil, fmt.Errorf("reading string table: %w", err)
		}
	}
	entSize := 12
	if magic == types.Magic64 {
		entSize = 16
	}
	raw := make([]byte, int(hdr.Nsyms)*entSize)
	if hdr.Nsyms > 0 {
		if _, err := r.ReadAt(raw, int64(hdr.Symoff)); err != nil {
			return nil, fmt.Errorf("reading symbol table: %w", err)
		}
	}

	st := &Symtab{SymtabCmd: hdr}
	st.Syms = make([]Symbol, 0, hdr.Nsyms)
	for i := uint32(0); i < hdr.Nsyms; i++ {
		rec := raw[int(i)*entSize : int(i+1)*entSize]
		nameOff := bo.Uint32(rec[0:4])
		typ := types.NType(rec[4])
		sect := rec[5]
		desc := types.NDescType(bo.Uint16(rec[6:8]))
		var value uint64
		if magic == types.Magic64 {
			value = bo.Uint64(rec[8:16])
		} else {
			value = uint64(bo.Uint32(rec[8:12]))
		}
		st.Syms = append(st.Syms, Symbol{
			Name:  cstrAt(strtab, nameOff),
			Type:  typ,
			Sect:  sect,
			Desc:  desc,
			Value: value,
		})
	}
	return st, nil
}

func parseDysymtab(b []byte, bo binary.ByteOrder, r io.ReaderAt) (*Dysymtab, error) {
	var hdr types.DysymtabCmd
	if err := binary.Read(bytes.NewReader(b), bo, &hdr); err != nil {
		return nil, err
	}
	dt := &Dysymtab{DysymtabCmd: hdr}
	if hdr.Nindirectsyms > 0 {
		raw := make([]byte, hdr.Nindirectsyms*4)
		if _, err := r.ReadAt(raw, int64(hdr.Indirectsymoff)); err != nil {
			return nil, fmt.Errorf("reading indirect symbol table: %w", err)
		}
		dt.IndirectSyms = make([]uint32, hdr.Nindirectsyms)
		for i := range dt.IndirectSyms {
			dt.IndirectSyms[i] = bo.Uint32(raw[i*4:])
		}
	}
	return dt, nil
}

func parseDylib(cmd types.LoadCmd, b []byte, bo binary.ByteOrder) (*Dylib, error) {
	var hdr types.DylibCmd
	if err := binary.Read(bytes.NewReader(b), bo, &hdr); err != nil {
		return nil, err
	}
	hdr.LoadCmd = cmd
	return &Dylib{
		LoadBytes:      LoadBytes(b),
		DylibCmd:       hdr,
		Name:           cstrAt(b, hdr.Name),
		Time:           hdr.Time,
		CurrentVersion: hdr.CurrentVersion.String(),
		CompatVersion:  hdr.CompatVersion.String(),
	}, nil
}

func parseSubFramework(cmd types.LoadCmd, b []byte, bo binary.ByteOrder) (*SubFramework, error) {
	var hdr types.SubFrameworkCmd
	if err := binary.Read(bytes.NewReader(b), bo, &hdr); err != nil {
		return nil, err
	}
	hdr.LoadCmd = cmd
	return &SubFramework{LoadBytes: LoadBytes(b), SubFrameworkCmd: hdr, Umbrella: cstrAt(b, hdr.Framework)}, nil
}

func parseSubUmbrella(cmd types.LoadCmd, b []byte, bo binary.ByteOrder) (*SubUmbrella, error) {
	var hdr types.SubUmbrellaCmd
	if err := binary.Read(bytes.NewReader(b), bo, &hdr); err != nil {
		return nil, err
	}
	hdr.LoadCmd = cmd
	return &SubUmbrella{LoadBytes: LoadBytes(b), SubUmbrellaCmd: hdr, Name: cstrAt(b, hdr.Umbrella)}, nil
}

func parseSubClient(cmd types.LoadCmd, b []byte, bo binary.ByteOrder) (*SubClient, error) {
	var hdr types.SubClientCmd
	if err := binary.Read(bytes.NewReader(b), bo, &hdr); err != nil {
		return nil, err
	}
	hdr.LoadCmd = cmd
	return &SubClient{LoadBytes: LoadBytes(b), SubClientCmd: hdr, Name: cstrAt(b, hdr.Client)}, nil
}

func parseSubLibrary(cmd types.LoadCmd, b []byte, bo binary.ByteOrder) (*SubLibrary, error) {
	var hdr types.SubLibraryCmd
	if err := binary.Read(bytes.NewReader(b), bo, &hdr); err != nil {
		return nil, err
	}
	hdr.LoadCmd = cmd
	return &SubLibrary{LoadBytes: LoadBytes(b), SubLibraryCmd: hdr, Name: cstrAt(b, hdr.Library)}, nil
}

func parseDyldInfo(cmd types.LoadCmd, b []byte, bo binary.ByteOrder) (*DyldInfo, error) {
	var hdr types.DyldInfoCmd
	if err := binary.Read(bytes.NewReader(b), bo, &hdr); err != nil {
		return nil, err
	}
	hdr.LoadCmd = cmd
	return &DyldInfo{
		LoadBytes:    LoadBytes(b),
		DyldInfoCmd:  hdr,
		RebaseOff:    hdr.RebaseOff,
		RebaseSize:   hdr.RebaseSize,
		BindOff:      hdr.BindOff,
		BindSize:     hdr.BindSize,
		WeakBindOff:  hdr.WeakBindOff,
		WeakBindSize: hdr.WeakBindSize,
		LazyBindOff:  hdr.LazyBindOff,
		LazyBindSize: hdr.LazyBindSize,
		ExportOff:    hdr.ExportOff,
		ExportSize:   hdr.ExportSize,
	}, nil
}

func parseLinkEditData(cmd types.LoadCmd, b []byte, bo binary.ByteOrder) (types.LinkEditDataCmd, error) {
	var hdr types.LinkEditDataCmd
	if err := binary.Read(bytes.NewReader(b), bo, &hdr); err != nil {
		return types.LinkEditDataCmd{}, err
	}
	hdr.LoadCmd = cmd
	return hdr, nil
}

func cstr(b []byte) string {
	n := bytes.IndexByte(b, 0)
	if n < 0 {
		return string(b)
	}
	return string(b[:n])
}

func cstrAt(strtab []byte, off uint32) string {
	if off == 0 || int(off) >= len(strtab) {
		return ""
	}
	return cstr(strtab[off:])
}

// SectionReaderAt returns the underlying reader, for components (objreader,
// dwarfline) that need raw byte access at file offsets.
func (f *File) SectionReaderAt() io.ReaderAt { return f.sr }
