// Package fixup implements the FixupEngine (spec.md §4.6): it copies every
// live atom's raw content to a patched buffer and applies each of the
// atom's references, either by encoding the target's final address
// straight into the bytes (final-image mode) or by leaving the addend in
// place and emitting a relocation record (relocatable mode).
package fixup

import (
	"encoding/binary"

	"github.com/apple-oss-distributions/ld64-sub000/internal/arch"
	"github.com/apple-oss-distributions/ld64-sub000/internal/atom"
	"github.com/apple-oss-distributions/ld64-sub000/internal/container"
	"github.com/apple-oss-distributions/ld64-sub000/internal/linkerr"
	"github.com/apple-oss-distributions/ld64-sub000/internal/linklog"
)

// Options configures one FixupEngine run.
type Options struct {
	Arch arch.Arch

	// Relocatable selects relocatable-object mode (addend encoded in
	// place, relocation records emitted) over final-image mode (target
	// address encoded, no relocation records).
	Relocatable bool

	// Slideable rejects any reference kind that would need run-time code
	// rewriting (spec.md §4.6, "absolute addressing not allowed in a
	// slidable image").
	Slideable bool

	// StubBindingHelperName names the atom a freshly bound lazy-pointer
	// slot should point at in final-image mode, before dyld's first call
	// binds it for real.
	StubBindingHelperName string

	// PICBase is the atom the ppc PICBaseHigh16/Low16/Low14 kinds compute
	// their displacement relative to (usually the containing function's
	// entry atom). Only consulted for those three kinds.
	PICBase atom.AtomID
}

// PatchedAtom is one live atom's final on-disk bytes, ready for the
// ExecutableWriter to place at Atom.SectionOffset within its section.
type PatchedAtom struct {
	Atom  atom.AtomID
	Bytes []byte
}

// SectionRelocs collects the relocation records relocatable mode emits
// for one output section.
type SectionRelocs struct {
	SegmentName string
	SectionName string
	Relocs      []container.Reloc
}

// FixupEngine applies every live atom's references into patched content.
type FixupEngine struct {
	Graph *atom.Graph
	Opts  Options
	Log   linklog.Logger

	byteOrder binary.ByteOrder
}

func New(g *atom.Graph, opts Options, log linklog.Logger) *FixupEngine {
	if log == nil {
		log = linklog.Discard{}
	}
	return &FixupEngine{Graph: g, Opts: opts, Log: log, byteOrder: opts.Arch.ByteOrder()}
}

// Run walks every live atom in the graph, in address order is not
// required (the patched bytes are addressed by AtomID, not position), and
// returns the patched content plus, in relocatable mode, the per-section
// relocation records.
func (e *FixupEngine) Run() ([]PatchedAtom, []SectionRelocs, error) {
	var patched []PatchedAtom
	relocsBySection := map[string]*SectionRelocs{}
	var relocOrder []string

	for _, a := range e.Graph.All() {
		if !a.Live {
			continue
		}
		if a.ZeroFill {
			if err := e.checkZeroFillPlacement(a); err != nil {
				return nil, nil, err
			}
			continue
		}

		buf := make([]byte, a.Size)
		if a.Content != nil {
			if err := a.Content.CopyRawContent(buf); err != nil {
				return nil, nil, err
			}
		}

		for _, ref := range a.References {
			if ref.Kind == arch.NoFixUp || ref.Kind == arch.FollowOn {
				continue
			}
			target := e.resolveTarget(ref.To)
			if target == nil {
				continue // unresolved by-name: a prior phase should have failed already
			}

			if e.Opts.Relocatable {
				rec, err := e.encodeRelocatable(a, ref, target, buf)
				if err != nil {
					return nil, nil, err
				}
				key := a.SegmentName + "\x00" + a.SectionName
				sr, ok := relocsBySection[key]
				if !ok {
					sr = &SectionRelocs{SegmentName: a.SegmentName, SectionName: a.SectionName}
					relocsBySection[key] = sr
					relocOrder = append(relocOrder, key)
				}
				sr.Relocs = append(sr.Relocs, rec...)
				continue
			}

			if err := e.encodeFinal(a, ref, target, buf); err != nil {
				return nil, nil, err
			}
		}

		patched = append(patched, PatchedAtom{Atom: a.ID, Bytes: buf})
	}

	var out []SectionRelocs
	for _, key := range relocOrder {
		out = append(out, *relocsBySection[key])
	}
	return patched, out, nil
}

func (e *FixupEngine) resolveTarget(t atom.Target) *atom.Atom {
	if !t.Resolved {
		return nil
	}
	return e.Graph.Get(t.Atom)
}

// checkZeroFillPlacement enforces spec.md §7's ZeroFillNotAtSegmentEnd:
// a zero-fill atom's section must itself be the last, non-empty section
// in its segment (the Layouter already sorts zero-fill sections last;
// this just confirms nothing else slipped in after one).
func (e *FixupEngine) checkZeroFillPlacement(a *atom.Atom) error {
	if a.Section == nil || a.Section.Segment == nil {
		return nil
	}
	secs := a.Section.Segment.Sections
	idx := -1
	for i, s := range secs {
		if s == a.Section {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil
	}
	for _, s := range secs[idx+1:] {
		if !s.ZeroFill && len(s.Atoms) > 0 {
			return linkerr.New(linkerr.ZeroFillNotAtSegmentEnd, a.SegmentName+"/"+a.SectionName)
		}
	}
	return nil
}

// finalAddress is target.address + addend, spec.md §4.6's final-image
// mode computation.
func finalAddress(target *atom.Atom, addend int64) uint64 {
	return uint64(int64(target.Address) + addend)
}
