package debuginfo

import (
	"testing"

	"github.com/apple-oss-distributions/ld64-sub000/internal/atom"
	"github.com/apple-oss-distributions/ld64-sub000/types"
)

func TestRepeatedBinclRunCollapsesToExcl(t *testing.T) {
	run := func(path string) []atom.Stab {
		return []atom.Stab{
			{Type: types.N_BINCL, String: path},
			{Type: types.N_GSYM, String: "foo:G"},
			{Type: types.N_EINCL},
		}
	}
	var stabs []atom.Stab
	stabs = append(stabs, run("header.h")...)
	stabs = append(stabs, run("header.h")...)

	c := New(atom.NewGraph(), stabs, Options{}, nil)
	out, err := c.Run()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	var binclCount, exclCount int
	for _, s := range out {
		switch s.Type {
		case types.N_BINCL:
			binclCount++
		case types.N_EXCL:
			exclCount++
		}
	}
	if binclCount != 1 || exclCount != 1 {
		t.Fatalf("want 1 BINCL + 1 EXCL for a repeated header, got %d BINCL, %d EXCL", binclCount, exclCount)
	}
}

func TestBinclRunWithSlineIsNeverCollapsed(t *testing.T) {
	run := func() []atom.Stab {
		return []atom.Stab{
			{Type: types.N_BINCL, String: "header.h"},
			{Type: types.N_SLINE},
			{Type: types.N_EINCL},
		}
	}
	var stabs []atom.Stab
	stabs = append(stabs, run()...)
	stabs = append(stabs, run()...)

	c := New(atom.NewGraph(), stabs, Options{}, nil)
	out, err := c.Run()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	var binclCount int
	for _, s := range out {
		if s.Type == types.N_BINCL {
			binclCount++
		}
	}
	if binclCount != 2 {
		t.Fatalf("want both BINCL runs left intact (cannot-EXCL), got %d", binclCount)
	}
}

func TestMinimalModeDropsUnlistedTypesAndTruncatesNames(t *testing.T) {
	stabs := []atom.Stab{
		{Type: types.N_GSYM, String: "myGlobal:G"},
		{Type: types.N_RSYM, String: "r0"}, // not in the minimal allow-list
	}
	c := New(atom.NewGraph(), stabs, Options{Minimal: true}, nil)
	out, err := c.Run()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("want 1 surviving stab, got %d: %+v", len(out), out)
	}
	if out[0].String != "myGlobal" {
		t.Fatalf("want truncated name %q, got %q", "myGlobal", out[0].String)
	}
}

func TestSynthesizeFromDwarfEmitsFunctionStabs(t *testing.T) {
	g := atom.NewGraph()
	fn := g.Add(&atom.Atom{
		Name: "_main", SegmentName: "__TEXT", SectionName: "__text", Size: 16,
		LineInfo: []atom.LineInfo{{FileName: "main.c", Line: 10}},
	})
	g.Get(fn).Address = 0x1000

	c := New(g, nil, Options{Sources: map[atom.ReaderID]SourceInfo{
		0: {Dir: "/src", File: "main.c", ObjectPath: "/obj/main.o", ModTime: 1700000000},
	}}, nil)
	out, err := c.Run()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	var types_ []uint8
	for _, s := range out {
		types_ = append(types_, s.Type)
	}
	want := []uint8{types.N_SO, types.N_SO, types.N_OSO, types.N_BNSYM, types.N_FUN, types.N_SOL, types.N_ENSYM, types.N_SO}
	if len(types_) != len(want) {
		t.Fatalf("want %d stabs %v, got %d %v", len(want), want, len(types_), types_)
	}
	for i := range want {
		if types_[i] != want[i] {
			t.Fatalf("stab %d: want type %d, got %d", i, want[i], types_[i])
		}
	}
}

func TestSplitStabNameTreatsDoubleColonAndBracketAsNonSeparator(t *testing.T) {
	if name, _, ok := splitStabName("Foo::Bar:F"); !ok || name != "Foo::Bar" {
		t.Fatalf("want name %q, got %q (ok=%v)", "Foo::Bar", name, ok)
	}
	if name, _, ok := splitStabName("-[Obj method:]:F"); !ok || name != "-[Obj method:]" {
		t.Fatalf("want name %q, got %q (ok=%v)", "-[Obj method:]", name, ok)
	}
}
