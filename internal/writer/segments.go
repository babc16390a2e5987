package writer

import (
	"github.com/apple-oss-distributions/ld64-sub000/internal/atom"
	"github.com/apple-oss-distributions/ld64-sub000/internal/container"
	"github.com/apple-oss-distributions/ld64-sub000/types"
)

// builtSegment pairs a container.Segment load command with the sections
// that belong to it and the concatenated file bytes those sections carry
// (offsets below are relative to the segment's own Offset).
type builtSegment struct {
	*container.Segment
	sections []*builtSection
	data     []byte
}

type builtSection struct {
	*container.Section
}

// segmentProt returns (initprot, maxprot) for a standard segment name;
// anything else defaults to read/write, read/write/execute.
func segmentProt(name string) (types.VmProtection, types.VmProtection) {
	switch name {
	case "__PAGEZERO":
		return 0, 0
	case "__TEXT":
		return 5, 7 // r-x, rwx
	case "__LINKEDIT":
		return 1, 1 // r--, r--
	default:
		return 3, 7 // rw-, rwx
	}
}

func sectionFlags(sec *atom.Section) types.SectionFlag {
	switch sec.Kind {
	case atom.SectionAllZeroFill:
		return types.SZerofill
	case atom.SectionAllLazyPointers:
		return types.SLazySymbolPointers
	case atom.SectionAllNonLazyPointers:
		return types.SNonLazySymbolPointers
	case atom.SectionAllStubs:
		return types.SSymbolStubs
	case atom.SectionAllSelfModifyingStubs:
		return types.SSymbolStubs | types.SAttrSelfModifyingCode
	default:
		if sec.SegmentName == "__TEXT" && sec.SectionName == "__text" {
			return types.SRegular | types.SAttrPureInstructions | types.SAttrSomeInstructions
		}
		return types.SRegular
	}
}

// buildSegments renders every Layouter-produced segment/section into its
// container encoding, fills in each section's file bytes from the
// FixupEngine's patched atoms, and synthesizes a trailing __LINKEDIT
// segment (the Layouter never lays one out, since it carries no atoms).
// It returns the section-ordinal table the symbol table needs for n_sect.
func (w *ExecutableWriter) buildSegments(patchedByAtom map[atom.AtomID][]byte, is64 bool) ([]*builtSegment, map[*atom.Section]uint8, error) {
	var segs []*builtSegment
	ordinal := map[*atom.Section]uint8{}
	var nextOrdinal uint8 = 1

	segCmd := types.LC_SEGMENT
	secType := uint8(32)
	if is64 {
		segCmd = types.LC_SEGMENT_64
		secType = 64
	}

	lastEnd, lastAddrEnd := uint64(0), uint64(0)
	for _, si := range w.Segments {
		initProt, maxProt := segmentProt(si.Name)
		bs := &builtSegment{Segment: &container.Segment{SegmentHeader: container.SegmentHeader{
			LoadCmd: segCmd,
			Name:    si.Name,
			Addr:    si.BaseAddress,
			Memsz:   si.VMSize,
			Offset:  si.FileOffset,
			Filesz:  si.FileSize,
			Maxprot: maxProt,
			Prot:    initProt,
		}}}

		if si.FileOffset+si.FileSize > lastEnd {
			lastEnd = si.FileOffset + si.FileSize
		}
		if si.BaseAddress+si.VMSize > lastAddrEnd {
			lastAddrEnd = si.BaseAddress + si.VMSize
		}

		if si.Name != "__PAGEZERO" {
			bs.data = make([]byte, si.FileSize)
		}

		for _, sec := range si.Sections {
			cs := &container.Section{SectionHeader: container.SectionHeader{
				Name:   sec.SectionName,
				Seg:    sec.SegmentName,
				Addr:   sec.Address,
				Size:   sec.Size,
				Offset: uint32(sec.FileOffset),
				Align:  uint32(sec.Alignment.Pow),
				Flags:  sectionFlags(sec),
				Type:   secType,
			}}
			if sec.Kind == atom.SectionAllStubs || sec.Kind == atom.SectionAllSelfModifyingStubs ||
				sec.Kind == atom.SectionAllLazyPointers || sec.Kind == atom.SectionAllNonLazyPointers {
				cs.Reserved1 = sec.IndirectBase
				if sec.ElementSize != 0 {
					cs.Reserved2 = uint32(sec.ElementSize)
				}
			}
			ordinal[sec] = nextOrdinal
			nextOrdinal++
			bs.sections = append(bs.sections, &builtSection{Section: cs})

			if !sec.ZeroFill {
				base := sec.FileOffset - si.FileOffset
				for _, id := range sec.Atoms {
					a := w.Graph.Get(id)
					if a == nil {
						continue
					}
					if content, ok := patchedByAtom[id]; ok {
						copy(bs.data[base+a.SectionOffset:], content)
					}
				}
			}
		}
		bs.Nsect = uint32(len(bs.sections))
		bs.Len = bs.LoadSize(nil)
		segs = append(segs, bs)
	}

	linkedit := &builtSegment{Segment: &container.Segment{SegmentHeader: container.SegmentHeader{
		LoadCmd: segCmd,
		Name:    "__LINKEDIT",
		Addr:    alignUp64(lastAddrEnd, w.Opts.Arch.PageSize()),
		Offset:  alignUp64(lastEnd, w.Opts.Arch.PageSize()),
		Maxprot: 1,
		Prot:    1,
	}}}
	linkedit.Len = linkedit.LoadSize(nil)
	segs = append(segs, linkedit)

	return segs, ordinal, nil
}
