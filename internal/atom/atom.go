// Package atom defines the linker's core data model: Atom, Reference,
// Section/SegmentInfo, Stab, ExportEntry and IndirectEntry (spec.md §3).
//
// Atoms live in a single arena owned by a Graph; every other structure
// that needs to "point at" an atom (references, the symbol table, the
// dead-strip live set, indirect-table entries) holds an AtomID index
// instead of a pointer, per Design Note 9 — this is a deliberate
// collapse of the source's pointer-cycle ownership model into something
// an arena + index scheme can express without a garbage collector's help.
package atom

import (
	"fmt"

	"github.com/apple-oss-distributions/ld64-sub000/internal/arch"
)

// Scope is where an atom's name is visible.
type Scope int

const (
	ScopeTranslationUnit Scope = iota
	ScopeLinkageUnit
	ScopeGlobal
)

func (s Scope) String() string {
	switch s {
	case ScopeTranslationUnit:
		return "translation-unit"
	case ScopeLinkageUnit:
		return "linkage-unit"
	case ScopeGlobal:
		return "global"
	default:
		return "scope(?)"
	}
}

// DefinitionKind is an atom's position in the override lattice (§4.3).
type DefinitionKind int

const (
	DefRegular DefinitionKind = iota
	DefWeak
	DefTentative
	DefExternalStrong
	DefExternalWeak
)

func (d DefinitionKind) String() string {
	switch d {
	case DefRegular:
		return "regular"
	case DefWeak:
		return "weak"
	case DefTentative:
		return "tentative"
	case DefExternalStrong:
		return "external-strong"
	case DefExternalWeak:
		return "external-weak"
	default:
		return "definition(?)"
	}
}

// SymbolTableInclusion controls whether, and how, an atom's name is
// emitted into the output symbol table.
type SymbolTableInclusion int

const (
	NotIn SymbolTableInclusion = iota
	In
	InAndNeverStrip
	InAsAbsolute
)

// Kind distinguishes the tagged-union atom variants (Design Note:
// "multi-tier inheritance... collapse to a tagged-union Atom.kind").
type Kind int

const (
	KindSymbol Kind = iota
	KindAnonymous
	KindTentative
	KindExport
	KindBranchIsland
	KindShim
	KindStub
	KindLazyPointer
	KindNonLazyPointer
)

// ReaderID identifies the input file (object, archive member, or dylib)
// that originated an atom, without the atom holding a pointer back to its
// reader (readers are owned by the Linker for the link's duration; the ID
// lets debuginfo/diagnostics look the reader metadata up when needed).
type ReaderID int

// AtomID is an index into a Graph's arena. Index 0 is the first atom
// added; InvalidAtomID (-1) is the "no atom" value.
type AtomID int

const InvalidAtomID AtomID = -1

// ContentProvider materializes an atom's raw bytes on demand. Object-file
// atoms back this with a slice into the mapped input; synthesized atoms
// (stubs, islands, shims) back it with a closure that renders a template.
type ContentProvider interface {
	CopyRawContent(buf []byte) error
}

// RawBytes is the trivial ContentProvider over an in-memory slice.
type RawBytes []byte

func (b RawBytes) CopyRawContent(buf []byte) error {
	n := copy(buf, b)
	if n < len(buf) {
		for ; n < len(buf); n++ {
			buf[n] = 0
		}
	}
	return nil
}

// LineInfo records one (address-relative) source-line entry, the product
// of either a DWARF line program or, later, a stabs sweep (spec.md §4.1.7).
type LineInfo struct {
	AtomOffset uint32
	FileName   string
	Line       uint32
}

// Alignment is a power-of-two plus modulus, matching the spec's "target
// alignment (power of two plus a modulus)".
type Alignment struct {
	Pow     uint8
	Modulus uint32
}

func (a Alignment) Value() uint64 { return uint64(1) << a.Pow }

// Atom is the unit of linking.
type Atom struct {
	ID   AtomID
	Kind Kind

	Name  string // "" for anonymous atoms
	Scope Scope
	Def   DefinitionKind
	SymTabInclusion SymbolTableInclusion

	Size        uint64
	ZeroFill    bool
	DontDeadStrip bool
	Alignment   Alignment

	SegmentName string
	SectionName string

	// MustRemainInSection names a section an atom is pinned to even across
	// coalescing (e.g. __textcoal_nt placement, spec.md §4.5).
	MustRemainInSection string

	// FollowOn is the contiguity-constrained next atom, if any (property 3).
	FollowOn AtomID

	LineInfo []LineInfo
	Content  ContentProvider

	Reader ReaderID
	Arch   arch.Arch

	// Thumb marks a code atom as entered in Thumb instruction mode, the
	// bit the ARM thumb<->arm shim pass (spec.md §4.5) needs to tell a
	// target's execution mode from its ArmBranch24/ThumbBranch22 kind alone.
	Thumb bool

	// SortOrder is the creation-order key used as the stable initial sort
	// (spec.md §5, "atom creation order is preserved... stable through
	// dead-strip").
	SortOrder int

	References []*Reference

	// Populated by the Layouter (spec.md §3's "linked to exactly one
	// Section object after partitioning").
	Section       *Section
	SectionOffset uint64
	Address       uint64

	// live is read by DeadStripper; atoms default live so a linker run
	// with dead-strip disabled keeps everything.
	Live bool
}

// Target is either a directly-bound atom or a by-name unbound reference.
type Target struct {
	Atom     AtomID // InvalidAtomID when unbound
	Name     string // meaningful only when Atom == InvalidAtomID
	Resolved bool
}

func DirectTarget(id AtomID) Target  { return Target{Atom: id, Resolved: true} }
func NamedTarget(name string) Target { return Target{Atom: InvalidAtomID, Name: name} }

// Reference is a directed, optionally two-ended edge from a source atom at
// a fix-up offset to a to-target and optionally a from-target.
type Reference struct {
	FixupOffset uint32
	Kind        arch.RefKind
	To          Target
	From        Target // zero value (unresolved, unused) unless SECTDIFF/SUBTRACTOR
	ToAddend    int64
	FromAddend  int64
}
