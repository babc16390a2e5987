package fixup

import (
	"github.com/apple-oss-distributions/ld64-sub000/internal/arch"
	"github.com/apple-oss-distributions/ld64-sub000/internal/atom"
	"github.com/apple-oss-distributions/ld64-sub000/internal/container"
)

// Mach-O relocation type constants (generic + x86_64/ppc scattered pair
// kinds), named the way container.Reloc.Type is documented to carry them.
const (
	relocVanilla   = 0
	relocPair      = 1
	relocSectdiff  = 2
	relocPBLaPtr   = 3
	relocLocalSect = 4

	relocX8664Unsigned   = 0
	relocX8664Signed     = 1
	relocX8664Branch     = 2
	relocX8664GOTLoad    = 3
	relocX8664GOT        = 4
	relocX8664Subtractor = 5
)

// encodeRelocatable implements spec.md §4.6's relocatable mode: the
// addend stays baked into the atom's raw bytes (copied through
// unmodified by Run), and this emits the one or two relocation records
// the reference corresponds to — vanilla when the addend keeps the
// relocation's implied value inside the target atom, scattered otherwise.
//
// A vanilla record's Value (extern or section-relative) carries the
// target's AtomID, and a scattered record's Value carries the target
// address plus addend. The ExecutableWriter copies these records into
// the output as they are; it does not rewrite Value to a symbol-table
// index or section ordinal.
func (e *FixupEngine) encodeRelocatable(a *atom.Atom, ref *atom.Reference, target *atom.Atom, buf []byte) ([]container.Reloc, error) {
	extern := target.Def == atom.DefExternalStrong || target.Def == atom.DefExternalWeak
	length := relocLength(ref.Kind, e.Opts.Arch)
	pcrel := ref.Kind.PCRelative()

	if ref.Kind == arch.PointerDiff || ref.Kind == arch.PointerDiff32 || ref.Kind == arch.PointerDiff64 {
		from := e.resolveTarget(ref.From)
		var fromValue uint32
		if from != nil {
			fromValue = uint32(from.ID)
		}
		return []container.Reloc{
			{
				Addr:   ref.FixupOffset,
				Value:  fromValue,
				Type:   relocX8664Subtractor,
				Len:    length,
				Pcrel:  false,
				Extern: true,
			},
			{
				Addr:   ref.FixupOffset,
				Value:  uint32(target.ID),
				Type:   relocX8664Unsigned,
				Len:    length,
				Pcrel:  false,
				Extern: extern,
			},
		}, nil
	}

	scattered := !extern && addendEscapesTarget(ref.ToAddend, target)
	if scattered {
		return []container.Reloc{{
			Addr:      ref.FixupOffset,
			Value:     uint32(int64(target.Address) + ref.ToAddend),
			Type:      relocVanilla,
			Len:       length,
			Pcrel:     pcrel,
			Scattered: true,
		}}, nil
	}

	return []container.Reloc{{
		Addr:   ref.FixupOffset,
		Value:  uint32(target.ID),
		Type:   relocKindType(ref.Kind, e.Opts.Arch),
		Len:    length,
		Pcrel:  pcrel,
		Extern: extern,
	}}, nil
}

// addendEscapesTarget reports whether ref.ToAddend would land outside the
// target atom's own bytes, the condition spec.md §4.6 uses to pick
// scattered over vanilla relocations.
func addendEscapesTarget(addend int64, target *atom.Atom) bool {
	return addend < 0 || uint64(addend) >= target.Size
}

func relocLength(k arch.RefKind, a arch.Arch) uint8 {
	w := k.Width(a)
	switch w {
	case 1:
		return 0
	case 2:
		return 1
	case 4:
		return 2
	case 8:
		return 3
	default:
		return 2
	}
}

func relocKindType(k arch.RefKind, a arch.Arch) uint8 {
	if a != arch.X8664 {
		return relocVanilla
	}
	switch k {
	case arch.BranchPCRel32, arch.BranchPCRel32WeakImport:
		return relocX8664Branch
	case arch.PCRel32GOTLoad:
		return relocX8664GOTLoad
	case arch.PCRel32GOT:
		return relocX8664GOT
	case arch.Pointer, arch.PointerWeakImport:
		return relocX8664Unsigned
	default:
		return relocX8664Signed
	}
}
