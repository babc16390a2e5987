// Package layout implements the Layouter component (spec.md §4.5):
// partitioning live atoms into output sections and segments, assigning
// addresses and file offsets, and inserting PowerPC branch islands and
// ARM thumb/arm shims to a fixed point.
package layout

import (
	"sort"

	"github.com/apple-oss-distributions/ld64-sub000/internal/arch"
	"github.com/apple-oss-distributions/ld64-sub000/internal/atom"
	"github.com/apple-oss-distributions/ld64-sub000/internal/linkerr"
	"github.com/apple-oss-distributions/ld64-sub000/internal/linklog"
)

const (
	// defaultIslandRegionSize and defaultTextLimit are ld64's historical
	// PowerPC constants (SPEC_FULL.md §9, Open Question 2): islands are
	// only needed once __text exceeds 16 MiB, in which case the range is
	// divided into 15 MiB regions so every branch24 can always reach the
	// nearest island.
	defaultIslandRegionSize = 15 * 1024 * 1024
	defaultTextLimit        = 16 * 1024 * 1024
)

// Options configures one Layouter run.
type Options struct {
	Arch arch.Arch

	// IslandRegionSize overrides the 15 MiB default (SPEC_FULL.md §9,
	// Open Question 2); zero means "use the default."
	IslandRegionSize uint64
	// TextLimit overrides the 16 MiB island-insertion trigger; zero means
	// "use the default."
	TextLimit uint64

	PageZeroSize uint64 // 0 if no __PAGEZERO segment
}

// Layouter partitions a Graph's live atoms into segments/sections and
// assigns every surviving atom an address.
type Layouter struct {
	Graph *atom.Graph
	Opts  Options
	Log   linklog.Logger

	Segments []*atom.SegmentInfo
	Indirect []atom.IndirectEntry

	segByName map[string]*atom.SegmentInfo
	secByKey  map[string]*atom.Section
}

func New(g *atom.Graph, opts Options, log linklog.Logger) *Layouter {
	if log == nil {
		log = linklog.Discard{}
	}
	return &Layouter{Graph: g, Opts: opts, Log: log, segByName: map[string]*atom.SegmentInfo{}, secByKey: map[string]*atom.Section{}}
}

// Run compacts the Graph (discarding atoms DeadStripper marked dead and
// remapping every surviving reference), partitions atoms into sections,
// assigns addresses, and — for PowerPC/ARM — iterates branch-island and
// thumb/arm shim insertion to a fixed point (spec.md §4.5, testable
// property 5's idempotence once no more insertions are needed).
func (l *Layouter) Run() error {
	l.compactAndRemap()
	l.partition()

	for {
		if err := l.assignAddresses(); err != nil {
			return err
		}
		grew := false
		if l.Opts.Arch.IsPowerPC() {
			g, err := l.insertBranchIslands()
			if err != nil {
				return err
			}
			grew = grew || g
		}
		if l.Opts.Arch == arch.ARM {
			g := l.insertThumbArmShims()
			grew = grew || g
		}
		if !grew {
			break
		}
	}

	if err := l.checkOverlaps(); err != nil {
		return err
	}
	l.buildIndirectTable()
	return nil
}

// compactAndRemap drops dead atoms from the Graph's arena and rewrites
// every surviving atom's References/FollowOn to the post-compaction IDs,
// per internal/atom/graph.go's documented contract that the Layouter (not
// DeadStripper) owns this step.
func (l *Layouter) compactAndRemap() {
	remap := l.Graph.Compact()
	remapID := func(id atom.AtomID) atom.AtomID {
		if id == atom.InvalidAtomID {
			return id
		}
		if newID, ok := remap[id]; ok {
			return newID
		}
		return id
	}
	for _, a := range l.Graph.All() {
		for _, ref := range a.References {
			if ref.To.Resolved {
				ref.To.Atom = remapID(ref.To.Atom)
			}
			if ref.From.Resolved {
				ref.From.Atom = remapID(ref.From.Atom)
			}
		}
		a.FollowOn = remapID(a.FollowOn)
	}
}

// segmentOrdinal implements spec.md §4.5's partitioning table.
func segmentOrdinal(name string) int {
	switch name {
	case "__PAGEZERO":
		return 1
	case "__TEXT":
		return 2
	case "__DATA":
		return 3
	case "__OBJC":
		return 4
	case "__LINKEDIT":
		return 1 << 30
	default:
		return 5
	}
}

// partition groups live atoms into sections (by segment+section name),
// in "segment ordinal, section discovery order, atom sort order"
// (spec.md §4.5), with zero-fill sections sorted after non-zero-fill
// within a segment and __textcoal_nt pinned right after __text.
func (l *Layouter) partition() {
	atoms := append([]*atom.Atom{}, l.Graph.All()...)
	sort.SliceStable(atoms, func(i, j int) bool { return atoms[i].SortOrder < atoms[j].SortOrder })

	var discovery []string // section keys, in first-seen order
	for _, a := range atoms {
		key := a.SegmentName + "\x00" + a.SectionName
		sec, ok := l.secByKey[key]
		if !ok {
			sec = &atom.Section{SegmentName: a.SegmentName, SectionName: a.SectionName, ZeroFill: a.ZeroFill}
			sec.Kind = sectionKindFor(a)
			sec.Alignment = a.Alignment
			l.secByKey[key] = sec
			discovery = append(discovery, key)
		}
		sec.Atoms = append(sec.Atoms, a.ID)
	}

	sort.SliceStable(discovery, func(i, j int) bool {
		si, sj := l.secByKey[discovery[i]], l.secByKey[discovery[j]]
		oi, oj := segmentOrdinal(si.SegmentName), segmentOrdinal(sj.SegmentName)
		if oi != oj {
			return oi < oj
		}
		if si.SegmentName == sj.SegmentName {
			pi, pj := sectionPinRank(si), sectionPinRank(sj)
			if pi != pj {
				return pi < pj
			}
			if si.ZeroFill != sj.ZeroFill {
				return !si.ZeroFill // non-zero-fill first
			}
		}
		return false // stable: preserves discovery order otherwise
	})

	segOrder := map[string]int{}
	for _, key := range discovery {
		sec := l.secByKey[key]
		seg, ok := l.segByName[sec.SegmentName]
		if !ok {
			seg = &atom.SegmentInfo{Name: sec.SegmentName}
			l.segByName[sec.SegmentName] = seg
			segOrder[sec.SegmentName] = len(l.Segments)
			l.Segments = append(l.Segments, seg)
		}
		sec.Segment = seg
		seg.Sections = append(seg.Sections, sec)
	}

	sort.SliceStable(l.Segments, func(i, j int) bool {
		return segmentOrdinal(l.Segments[i].Name) < segmentOrdinal(l.Segments[j].Name)
	})
}

// sectionPinRank pins __textcoal_nt immediately after __text within
// __TEXT (spec.md §4.5), ahead of the zero-fill-sorts-last rule.
func sectionPinRank(s *atom.Section) int {
	if s.SegmentName != "__TEXT" {
		return 0
	}
	switch s.SectionName {
	case "__text":
		return 0
	case "__textcoal_nt":
		return 1
	default:
		return 2
	}
}

func sectionKindFor(a *atom.Atom) atom.SectionKind {
	switch a.Kind {
	case atom.KindStub:
		return atom.SectionAllStubs
	case atom.KindLazyPointer:
		return atom.SectionAllLazyPointers
	case atom.KindNonLazyPointer:
		return atom.SectionAllNonLazyPointers
	}
	if a.ZeroFill {
		return atom.SectionAllZeroFill
	}
	return atom.SectionPlain
}

// assignAddresses walks segments in partition order, page-aligning each
// segment's base address and laying out its sections (and their atoms)
// in order, per spec.md §4.5's address-assignment rule. It is safe to
// call repeatedly: branch-island/shim insertion appends atoms and calls
// this again to re-derive addresses.
func (l *Layouter) assignAddresses() error {
	pageSize := l.Opts.Arch.PageSize()
	addr := l.Opts.PageZeroSize
	fileOffset := uint64(0)
	if l.Opts.PageZeroSize > 0 {
		fileOffset = 0 // __PAGEZERO contributes no file bytes
	}

	for _, seg := range l.Segments {
		if seg.Name == "__PAGEZERO" {
			seg.BaseAddress = 0
			seg.VMSize = l.Opts.PageZeroSize
			seg.FixedAddress = true
			addr = l.Opts.PageZeroSize
			continue
		}
		segAddr := alignUp(addr, pageSize)
		segFileOffset := fileOffset
		seg.BaseAddress = segAddr
		seg.FileOffset = segFileOffset

		cursor := segAddr
		fcursor := segFileOffset
		for _, sec := range seg.Sections {
			align := sec.Alignment.Value()
			if align == 0 {
				align = 1
			}
			cursor = alignUp(cursor, align)
			sec.Address = cursor
			if sec.ZeroFill {
				sec.FileOffset = fcursor
			} else {
				fcursor = alignUp(fcursor, align)
				sec.FileOffset = fcursor
			}

			var off uint64
			for _, id := range sec.Atoms {
				a := l.Graph.Get(id)
				if a == nil {
					continue
				}
				aAlign := a.Alignment.Value()
				if aAlign == 0 {
					aAlign = 1
				}
				off = alignUp(off, aAlign)
				a.Address = sec.Address + off
				a.SectionOffset = off
				a.Section = sec
				off += a.Size
			}
			sec.Size = off
			cursor = sec.Address + sec.Size
			if !sec.ZeroFill {
				fcursor += sec.Size
			}
		}
		seg.VMSize = cursor - segAddr
		seg.FileSize = fcursor - segFileOffset
		addr = cursor
		fileOffset = fcursor
	}

	l.applyFollowOnAdjacency()
	return nil
}

// applyFollowOnAdjacency re-pins any atom with a FollowOn edge directly
// after its predecessor (spec.md §5 property 3), overriding the section
// walk's natural spacing for atoms that must be contiguous.
func (l *Layouter) applyFollowOnAdjacency() {
	for _, a := range l.Graph.All() {
		if a.FollowOn == atom.InvalidAtomID {
			continue
		}
		next := l.Graph.Get(a.FollowOn)
		if next == nil {
			continue
		}
		next.Address = a.Address + a.Size
	}
}

func alignUp(v, align uint64) uint64 {
	if align <= 1 {
		return v
	}
	if rem := v % align; rem != 0 {
		return v + (align - rem)
	}
	return v
}

// checkOverlaps fails if any two segments' vm ranges overlap, per
// spec.md §4.5: "after assignment, the Layouter checks all segment
// pairs for vm-range overlap and fails on conflict."
func (l *Layouter) checkOverlaps() error {
	for i := range l.Segments {
		for j := i + 1; j < len(l.Segments); j++ {
			a, b := l.Segments[i], l.Segments[j]
			if rangesOverlap(a.BaseAddress, a.VMSize, b.BaseAddress, b.VMSize) {
				return linkerr.New(linkerr.SegmentOverlap, a.Name+" overlaps "+b.Name)
			}
		}
	}
	return nil
}

func rangesOverlap(aStart, aSize, bStart, bSize uint64) bool {
	if aSize == 0 || bSize == 0 {
		return false
	}
	aEnd, bEnd := aStart+aSize, bStart+bSize
	return aStart < bEnd && bStart < aEnd
}

// buildIndirectTable assigns one IndirectEntry per atom in every
// AllStubs/AllLazyPointers/AllNonLazyPointers/AllSelfModifyingStubs
// section, in atom order,
// satisfying spec.md §5 invariant 6/testable property 6.
func (l *Layouter) buildIndirectTable() {
	for _, seg := range l.Segments {
		for _, sec := range seg.Sections {
			switch sec.Kind {
			case atom.SectionAllStubs, atom.SectionAllLazyPointers, atom.SectionAllNonLazyPointers, atom.SectionAllSelfModifyingStubs:
			default:
				continue
			}
			sec.IndirectBase = uint32(len(l.Indirect))
			for i := range sec.Atoms {
				l.Indirect = append(l.Indirect, atom.IndirectEntry{
					IndirectIndex: sec.IndirectBase + uint32(i),
				})
			}
		}
	}
}
