// Package linkerr is the closed taxonomy of link-time errors (spec.md §7).
// Every collaborator in the core returns one of these instead of a bare
// string so the driver can format "ld failed: <msg> for architecture
// <arch>" without string-matching, and so callers can branch on kind with
// errors.As/errors.Is.
package linkerr

import "fmt"

// Kind names one of the taxonomy's error categories.
type Kind int

const (
	NotMachO Kind = iota
	WrongArchitecture
	TruncatedLoadCommands
	UnsupportedSectionType
	OldDwarfVersion
	MalformedIndirectTable

	DuplicateSymbol
	UndefinedSymbol
	BadOrdinal
	SubframeworkLinkage

	Rel32OutOfRange
	Branch24OutOfRange
	Branch14OutOfRange
	AbsoluteInSlideable
	SegmentOverlap
	ZeroFillNotAtSegmentEnd
	PointerInReadOnlyInSlideable

	CommonsVsDylib
	WeakMismatch
)

func (k Kind) String() string {
	switch k {
	case NotMachO:
		return "not a Mach-O file"
	case WrongArchitecture:
		return "wrong architecture"
	case TruncatedLoadCommands:
		return "truncated load commands"
	case UnsupportedSectionType:
		return "unsupported section type"
	case OldDwarfVersion:
		return "unsupported (old) DWARF version"
	case MalformedIndirectTable:
		return "malformed indirect symbol table"
	case DuplicateSymbol:
		return "duplicate symbol"
	case UndefinedSymbol:
		return "undefined symbol"
	case BadOrdinal:
		return "cannot determine library ordinal"
	case SubframeworkLinkage:
		return "client not in allowable-clients list"
	case Rel32OutOfRange:
		return "rel32 out of range"
	case Branch24OutOfRange:
		return "bl out of range (±16 MiB)"
	case Branch14OutOfRange:
		return "bc out of range (±64 KiB)"
	case AbsoluteInSlideable:
		return "absolute addressing not allowed in slidable image"
	case SegmentOverlap:
		return "segment overlap"
	case ZeroFillNotAtSegmentEnd:
		return "zero-fill section not at end of segment"
	case PointerInReadOnlyInSlideable:
		return "pointer fixup in read-only segment of slidable image"
	case CommonsVsDylib:
		return "tentative definition conflicts with dylib export"
	case WeakMismatch:
		return "weak-import mismatch"
	default:
		return "unknown link error"
	}
}

// Error is the concrete error type every core collaborator returns.
// Symbol/Offset/Arch are filled in to the extent the raising component
// knows them; zero values are omitted from Error().
type Error struct {
	Kind   Kind
	Symbol string
	Offset int64
	Arch   string
	Detail string
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Symbol != "" {
		msg += fmt.Sprintf(" (symbol %q)", e.Symbol)
	}
	if e.Arch != "" {
		msg += fmt.Sprintf(" for architecture %s", e.Arch)
	}
	return msg
}

// New builds an Error of the given kind with an optional detail message.
func New(k Kind, detail string) *Error {
	return &Error{Kind: k, Detail: detail}
}

// WithSymbol returns a copy of e with Symbol set, for errors raised deep
// in a collaborator that doesn't know the link-wide architecture name.
func (e *Error) WithSymbol(name string) *Error {
	c := *e
	c.Symbol = name
	return &c
}

func (e *Error) WithArch(arch string) *Error {
	c := *e
	c.Arch = arch
	return &c
}

func (e *Error) WithOffset(off int64) *Error {
	c := *e
	c.Offset = off
	return &c
}

// Is supports errors.Is(err, linkerr.New(Kind, "")) comparisons by Kind
// alone, matching how the driver branches on category rather than detail.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}
