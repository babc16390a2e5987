// Package arch holds the single Arch enum and its per-kind match tables.
//
// Design Note 9 (SPEC_FULL.md §9 / Design Notes) collapses the source's
// per-architecture class-template hierarchy into one enum plus table
// lookups dispatched by it; every other package treats Arch as an opaque
// key into these tables instead of branching on CPU type directly.
package arch

import (
	"encoding/binary"
	"fmt"

	"github.com/apple-oss-distributions/ld64-sub000/types"
)

// Arch names one of the target architectures the linker core supports.
type Arch int

const (
	I386 Arch = iota
	X8664
	ARM
	ARM64
	PPC
	PPC64
)

func (a Arch) String() string {
	switch a {
	case I386:
		return "i386"
	case X8664:
		return "x86_64"
	case ARM:
		return "arm"
	case ARM64:
		return "arm64"
	case PPC:
		return "ppc"
	case PPC64:
		return "ppc64"
	default:
		return fmt.Sprintf("Arch(%d)", int(a))
	}
}

// info is the per-architecture trait table; everything arch-dependent in
// the core reads from here instead of switching on CPU type inline.
type info struct {
	cpu        types.CPU
	subtype    types.CPUSubtype
	is64       bool
	byteOrder  binary.ByteOrder
	ptrSize    uint64
	pageSize   uint64
	hasThumb   bool
	branchBits uint // width of the PC-relative branch-displacement field
}

var table = map[Arch]info{
	I386:   {types.CPU386, types.CPUSubtypeX86Arch1, false, binary.LittleEndian, 4, 1 << 12, false, 32},
	X8664:  {types.CPUAmd64, types.CPUSubtypeX8664All, true, binary.LittleEndian, 8, 1 << 12, false, 32},
	ARM:    {types.CPUArm, types.CPUSubtypeArmV7, false, binary.LittleEndian, 4, 1 << 12, true, 24},
	ARM64:  {types.CPUArm64, types.CPUSubtypeArm64All, true, binary.LittleEndian, 8, 1 << 14, false, 26},
	PPC:    {types.CPUPpc, 0, false, binary.BigEndian, 4, 1 << 12, false, 24},
	PPC64:  {types.CPUPpc64, 0, true, binary.BigEndian, 8, 1 << 12, false, 24},
}

// ForCPU maps a container CPU type to an Arch; the subtype is not
// consulted except to name it in the error returned for CPU types this
// core does not target.
func ForCPU(cpu types.CPU, subtype types.CPUSubtype) (Arch, error) {
	for a, inf := range table {
		if inf.cpu == cpu {
			return a, nil
		}
	}
	return 0, fmt.Errorf("unsupported CPU type %s/%s", cpu, subtype.String(cpu))
}

func (a Arch) Is64() bool                    { return table[a].is64 }
func (a Arch) ByteOrder() binary.ByteOrder   { return table[a].byteOrder }
func (a Arch) PointerSize() uint64           { return table[a].ptrSize }
func (a Arch) PageSize() uint64              { return table[a].pageSize }
func (a Arch) HasThumb() bool                { return table[a].hasThumb }
func (a Arch) BranchDisplacementBits() uint  { return table[a].branchBits }
func (a Arch) CPU() types.CPU                { return table[a].cpu }
func (a Arch) CPUSubtype() types.CPUSubtype  { return table[a].subtype }

// IsPowerPC reports whether branch-island insertion (§4.5) applies.
func (a Arch) IsPowerPC() bool { return a == PPC || a == PPC64 }

// Magic returns the container magic number this architecture is written
// and read with.
func (a Arch) Magic() types.Magic {
	if a.Is64() {
		return types.Magic64
	}
	return types.Magic32
}
