package objreader

import (
	"testing"

	"github.com/apple-oss-distributions/ld64-sub000/internal/arch"
	"github.com/apple-oss-distributions/ld64-sub000/internal/atom"
	"github.com/apple-oss-distributions/ld64-sub000/internal/container"
	"github.com/apple-oss-distributions/ld64-sub000/types"
)

func textSection(addr, size uint64) *container.Section {
	return &container.Section{
		SectionHeader: container.SectionHeader{
			Name: "__text", Seg: "__TEXT", Addr: addr, Size: size,
			Flags: types.SRegular,
		},
	}
}

func TestSweepGapsFillsUnclaimedBytes(t *testing.T) {
	g := atom.NewGraph()
	rd := &Reader{Arch: arch.X8664, sectionAtoms: [][]atom.AtomID{nil}}

	named := &atom.Atom{Name: "_foo", Address: 0x10, Size: 4}
	namedID := g.Add(named)
	rd.sectionAtoms[0] = []atom.AtomID{namedID}

	sec := textSection(0, 0x20)
	sec.ReaderAt = fakeReaderAt(make([]byte, 0x20))
	add := func(a *atom.Atom) atom.AtomID { return g.Add(a) }

	if err := rd.sweepGaps(g, 0, sec, add); err != nil {
		t.Fatalf("sweepGaps: %v", err)
	}

	var gaps []*atom.Atom
	for _, a := range g.All() {
		if a.Kind == atom.KindAnonymous {
			gaps = append(gaps, a)
		}
	}
	if len(gaps) != 2 {
		t.Fatalf("want 2 gap atoms (before and after the named one), got %d", len(gaps))
	}
	if gaps[0].Address != 0 || gaps[0].Size != 0x10 {
		t.Fatalf("want first gap [0,0x10), got addr=%#x size=%#x", gaps[0].Address, gaps[0].Size)
	}
	if gaps[1].Address != 0x14 || gaps[1].Size != 0x0c {
		t.Fatalf("want second gap [0x14,0x20), got addr=%#x size=%#x", gaps[1].Address, gaps[1].Size)
	}
}

func TestSweepCStringLiteralsSplitsOnNUL(t *testing.T) {
	g := atom.NewGraph()
	rd := &Reader{Arch: arch.X8664, sectionAtoms: [][]atom.AtomID{nil}}
	add := func(a *atom.Atom) atom.AtomID { return g.Add(a) }

	// Two NUL-terminated strings back to back: "ab\0" "c\0"
	sec := &container.Section{SectionHeader: container.SectionHeader{
		Name: "__cstring", Seg: "__TEXT", Addr: 0x100, Size: 5, Flags: types.SCstringLiterals,
	}}
	sec.ReaderAt = fakeReaderAt([]byte("ab\x00c\x00"))
	sec2 := sectionWithData(sec, []byte("ab\x00c\x00"))

	if err := rd.sweepCStringLiterals(g, 0, sec2, add); err != nil {
		t.Fatalf("sweepCStringLiterals: %v", err)
	}
	atoms := rd.sectionAtoms[0]
	if len(atoms) != 2 {
		t.Fatalf("want 2 literal atoms, got %d", len(atoms))
	}
	if g.Get(atoms[0]).Size != 3 || g.Get(atoms[1]).Size != 2 {
		t.Fatalf("want sizes 3,2 got %d,%d", g.Get(atoms[0]).Size, g.Get(atoms[1]).Size)
	}
}

// fakeReaderAt/sectionWithData let tests drive Section.Data() without a
// real Mach-O file backing it.
type fakeReaderAt []byte

func (f fakeReaderAt) ReadAt(p []byte, off int64) (int, error) {
	n := copy(p, f[off:])
	return n, nil
}

func sectionWithData(base *container.Section, data []byte) *container.Section {
	sec := *base
	sec.Size = uint64(len(data))
	return &sec
}
