package writer

import (
	"encoding/binary"
	"testing"

	"github.com/apple-oss-distributions/ld64-sub000/internal/arch"
	"github.com/apple-oss-distributions/ld64-sub000/internal/atom"
	"github.com/apple-oss-distributions/ld64-sub000/internal/fixup"
	"github.com/apple-oss-distributions/ld64-sub000/internal/layout"
	"github.com/apple-oss-distributions/ld64-sub000/types"
)

func layoutFor(t *testing.T, g *atom.Graph) *layout.Layouter {
	t.Helper()
	l := layout.New(g, layout.Options{Arch: arch.X8664}, nil)
	if err := l.Run(); err != nil {
		t.Fatalf("layout.Run: %v", err)
	}
	return l
}

func TestRunProducesValidMachOHeader(t *testing.T) {
	g := atom.NewGraph()
	g.Add(&atom.Atom{
		Name: "_main", SegmentName: "__TEXT", SectionName: "__text",
		Size: 4, Live: true, Scope: atom.ScopeGlobal, SymTabInclusion: atom.In,
		Content: atom.RawBytes([]byte{0x90, 0x90, 0x90, 0xc3}),
	})
	l := layoutFor(t, g)

	w := New(g, Options{Arch: arch.X8664, FileType: types.MH_EXECUTE}, nil)
	w.Segments = l.Segments
	w.Indirect = l.Indirect

	image, err := w.Run()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(image) < 32 {
		t.Fatalf("image too small: %d bytes", len(image))
	}
	gotMagic := types.Magic(binary.LittleEndian.Uint32(image))
	if gotMagic != types.Magic64 {
		t.Fatalf("want Magic64 header, got %#x", gotMagic)
	}
	gotType := binary.LittleEndian.Uint32(image[12:])
	if types.HeaderFileType(gotType) != types.MH_EXECUTE {
		t.Fatalf("want MH_EXECUTE filetype, got %#x", gotType)
	}
}

func TestRunIncludesPatchedBytesAtSectionOffset(t *testing.T) {
	g := atom.NewGraph()
	id := g.Add(&atom.Atom{
		Name: "_main", SegmentName: "__TEXT", SectionName: "__text",
		Size: 4, Live: true, Scope: atom.ScopeGlobal, SymTabInclusion: atom.In,
	})
	l := layoutFor(t, g)

	w := New(g, Options{Arch: arch.X8664, FileType: types.MH_EXECUTE}, nil)
	w.Segments = l.Segments
	w.Patched = []fixup.PatchedAtom{{Atom: id, Bytes: []byte{0xde, 0xad, 0xbe, 0xef}}}

	image, err := w.Run()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	patchedByAtom := map[atom.AtomID][]byte{id: {0xde, 0xad, 0xbe, 0xef}}
	segs, _, err := w.buildSegments(patchedByAtom, true)
	if err != nil {
		t.Fatalf("buildSegments: %v", err)
	}
	seg := segByName(segs, "__TEXT")
	if seg == nil {
		t.Fatalf("no __TEXT segment in output")
	}
	a := g.Get(id)
	off := seg.Offset + a.SectionOffset
	got := image[off : off+4]
	want := []byte{0xde, 0xad, 0xbe, 0xef}
	if string(got) != string(want) {
		t.Fatalf("want patched bytes %x at section offset, got %x", want, got)
	}
}

func TestBuildSymbolsOrdersLocalsBeforeExternsBeforeUndefs(t *testing.T) {
	g := atom.NewGraph()
	g.Add(&atom.Atom{Name: "_local", SegmentName: "__TEXT", SectionName: "__text", Size: 4, Live: true, SymTabInclusion: atom.In})
	g.Add(&atom.Atom{Name: "_global", SegmentName: "__TEXT", SectionName: "__text", Size: 4, Live: true, Scope: atom.ScopeGlobal, SymTabInclusion: atom.In})
	g.Add(&atom.Atom{Name: "_extern", Live: true, Def: atom.DefExternalStrong, SymTabInclusion: atom.In})
	l := layoutFor(t, g)

	w := New(g, Options{Arch: arch.X8664}, nil)
	w.Segments = l.Segments

	symbols, _, localCount, extDefCount, undefCount := w.buildSymbols(map[*atom.Section]uint8{})
	if localCount != 1 || extDefCount != 1 || undefCount != 1 {
		t.Fatalf("want 1 local, 1 extdef, 1 undef, got %d/%d/%d", localCount, extDefCount, undefCount)
	}
	if symbols[0].Name != "_local" || symbols[1].Name != "_global" || symbols[2].Name != "_extern" {
		t.Fatalf("want local,global,extern order, got %v, %v, %v", symbols[0].Name, symbols[1].Name, symbols[2].Name)
	}
}

func TestBuildSymbolsSkipsNotInAtoms(t *testing.T) {
	g := atom.NewGraph()
	g.Add(&atom.Atom{Name: "_hidden", SegmentName: "__TEXT", SectionName: "__text", Size: 4, Live: true})
	l := layoutFor(t, g)

	w := New(g, Options{Arch: arch.X8664}, nil)
	w.Segments = l.Segments
	symbols, _, _, _, _ := w.buildSymbols(map[*atom.Section]uint8{})
	if len(symbols) != 0 {
		t.Fatalf("want no symbols for a NotIn atom, got %d", len(symbols))
	}
}

func TestIndirectTargetNameStripsKnownSuffixes(t *testing.T) {
	cases := map[string]string{
		"_foo$stub":      "_foo",
		"_foo$lazy_ptr":  "_foo",
		"_foo$non_lazy_ptr": "_foo",
		"_foo":           "_foo",
	}
	for in, want := range cases {
		if got := indirectTargetName(in); got != want {
			t.Errorf("indirectTargetName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestBuildStringTableStartsWithSpaceNUL(t *testing.T) {
	strtab, offsets := buildStringTable(nil)
	if len(strtab) != 2 || strtab[0] != ' ' || strtab[1] != 0 {
		t.Fatalf("want leading {' ', 0}, got %v", strtab)
	}
	if offsets[""] != 0 {
		t.Fatalf("want empty name at offset 0, got %d", offsets[""])
	}
}
