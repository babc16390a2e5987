package fixup

import (
	"encoding/binary"
	"testing"

	"github.com/apple-oss-distributions/ld64-sub000/internal/arch"
	"github.com/apple-oss-distributions/ld64-sub000/internal/atom"
)

func withContent(a *atom.Atom, b []byte) *atom.Atom {
	a.Size = uint64(len(b))
	a.Content = atom.RawBytes(append([]byte(nil), b...))
	return a
}

func TestFinalModeEncodesPCRel32(t *testing.T) {
	g := atom.NewGraph()
	callerID := g.Add(withContent(&atom.Atom{Name: "_caller", SegmentName: "__TEXT", SectionName: "__text"}, make([]byte, 8)))
	targetID := g.Add(withContent(&atom.Atom{Name: "_target", SegmentName: "__TEXT", SectionName: "__text"}, make([]byte, 4)))

	caller := g.Get(callerID)
	caller.Address = 0x1000
	g.Get(targetID).Address = 0x2000
	caller.References = []*atom.Reference{{FixupOffset: 4, Kind: arch.PCRel32, To: atom.DirectTarget(targetID)}}

	e := New(g, Options{Arch: arch.X8664}, nil)
	patched, _, err := e.Run()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	var p []byte
	for _, pa := range patched {
		if pa.Atom == callerID {
			p = pa.Bytes
		}
	}
	want := int32(0x2000 - (0x1000 + 4 + 4))
	got := int32(binary.LittleEndian.Uint32(p[4:]))
	if got != want {
		t.Fatalf("want pcrel32 %d, got %d", want, got)
	}
}

func TestFinalModeRejectsOutOfRangeBranch24(t *testing.T) {
	g := atom.NewGraph()
	callerID := g.Add(withContent(&atom.Atom{Name: "_caller", SegmentName: "__TEXT", SectionName: "__text", Arch: arch.PPC}, make([]byte, 4)))
	targetID := g.Add(withContent(&atom.Atom{Name: "_target", SegmentName: "__TEXT", SectionName: "__text", Arch: arch.PPC}, make([]byte, 4)))

	caller := g.Get(callerID)
	caller.Address = 0
	g.Get(targetID).Address = 0x4000000 // 64 MiB away, out of ±24-bit range
	caller.References = []*atom.Reference{{FixupOffset: 0, Kind: arch.Branch24, To: atom.DirectTarget(targetID)}}

	e := New(g, Options{Arch: arch.PPC}, nil)
	if _, _, err := e.Run(); err == nil {
		t.Fatalf("want an out-of-range branch24 error")
	}
}

func TestSlideableImageRejectsAbsoluteFixup(t *testing.T) {
	g := atom.NewGraph()
	callerID := g.Add(withContent(&atom.Atom{Name: "_caller", SegmentName: "__TEXT", SectionName: "__text", Arch: arch.I386}, make([]byte, 4)))
	targetID := g.Add(withContent(&atom.Atom{Name: "_target", SegmentName: "__TEXT", SectionName: "__text", Arch: arch.I386}, make([]byte, 4)))
	g.Get(callerID).References = []*atom.Reference{{FixupOffset: 0, Kind: arch.Absolute32, To: atom.DirectTarget(targetID)}}

	e := New(g, Options{Arch: arch.I386, Slideable: true}, nil)
	if _, _, err := e.Run(); err == nil {
		t.Fatalf("want AbsoluteInSlideable for an absolute32 fixup in a slideable image")
	}
}

func TestRelocatableModeEmitsExternRecordForImport(t *testing.T) {
	g := atom.NewGraph()
	callerID := g.Add(withContent(&atom.Atom{Name: "_caller", SegmentName: "__TEXT", SectionName: "__text", Arch: arch.X8664}, make([]byte, 8)))
	targetID := g.Add(&atom.Atom{Name: "_imported", Def: atom.DefExternalStrong, Size: 0})

	caller := g.Get(callerID)
	caller.References = []*atom.Reference{{FixupOffset: 4, Kind: arch.BranchPCRel32, To: atom.DirectTarget(targetID)}}

	e := New(g, Options{Arch: arch.X8664, Relocatable: true}, nil)
	_, secs, err := e.Run()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(secs) != 1 || len(secs[0].Relocs) != 1 {
		t.Fatalf("want one section with one reloc, got %+v", secs)
	}
	if !secs[0].Relocs[0].Extern {
		t.Fatalf("want Extern=true for a reference to an imported symbol")
	}
}

func TestRealSectionAfterZeroFillAtomFails(t *testing.T) {
	g := atom.NewGraph()
	bss := &atom.Atom{Name: "_bss", SegmentName: "__DATA", SectionName: "__bss", Size: 8, ZeroFill: true}
	data := &atom.Atom{Name: "_data", SegmentName: "__DATA", SectionName: "__data", Size: 8}
	g.Add(bss)
	g.Add(data)

	bssSection := &atom.Section{SegmentName: "__DATA", SectionName: "__bss", ZeroFill: true, Atoms: []atom.AtomID{bss.ID}}
	dataSection := &atom.Section{SegmentName: "__DATA", SectionName: "__data", Atoms: []atom.AtomID{data.ID}}
	seg := &atom.SegmentInfo{Name: "__DATA", Sections: []*atom.Section{bssSection, dataSection}}
	bssSection.Segment = seg
	dataSection.Segment = seg
	bss.Section = bssSection
	data.Section = dataSection

	e := New(g, Options{Arch: arch.X8664}, nil)
	if _, _, err := e.Run(); err == nil {
		t.Fatalf("want ZeroFillNotAtSegmentEnd when a real section follows a zero-fill one")
	}
}
