package types

// Relocation type codes for the "generic" (i386) relocation family, the
// numbering fixed by <mach-o/reloc.h>.
const (
	GenericRelocVanilla       uint8 = 0
	GenericRelocPair          uint8 = 1
	GenericRelocSectDiff      uint8 = 2
	GenericRelocPBLAPtr       uint8 = 3
	GenericRelocLocalSectDiff uint8 = 4
	GenericRelocTLV           uint8 = 5
)

// PowerPC relocation type codes, per <mach-o/ppc/reloc.h>.
const (
	PPCRelocVanilla       uint8 = 0
	PPCRelocPair          uint8 = 1
	PPCRelocBr14          uint8 = 2
	PPCRelocBr24          uint8 = 3
	PPCRelocHi16          uint8 = 4
	PPCRelocLo16          uint8 = 5
	PPCRelocHa16          uint8 = 6
	PPCRelocLo14          uint8 = 7
	PPCRelocSectDiff      uint8 = 8
	PPCRelocPBLAPtr       uint8 = 9
	PPCRelocHi16SectDiff  uint8 = 10
	PPCRelocLo16SectDiff  uint8 = 11
	PPCRelocHa16SectDiff  uint8 = 12
	PPCRelocJbsr          uint8 = 13
	PPCRelocLo14SectDiff  uint8 = 14
	PPCRelocLocalSectDiff uint8 = 15
)

// x86_64 relocation type codes, per <mach-o/x86_64/reloc.h>.
const (
	X8664RelocUnsigned   uint8 = 0
	X8664RelocSigned     uint8 = 1
	X8664RelocBranch     uint8 = 2
	X8664RelocGotLoad    uint8 = 3
	X8664RelocGot        uint8 = 4
	X8664RelocSubtractor uint8 = 5
	X8664RelocSigned1    uint8 = 6
	X8664RelocSigned2    uint8 = 7
	X8664RelocSigned4    uint8 = 8
	X8664RelocTLV        uint8 = 9
)

// ARM64 relocation type codes, per <mach-o/arm64/reloc.h>.
const (
	Arm64RelocUnsigned         uint8 = 0
	Arm64RelocSubtractor       uint8 = 1
	Arm64RelocBranch26         uint8 = 2
	Arm64RelocPage21           uint8 = 3
	Arm64RelocPageoff12        uint8 = 4
	Arm64RelocGotLoadPage21    uint8 = 5
	Arm64RelocGotLoadPageoff12 uint8 = 6
	Arm64RelocPointerToGot     uint8 = 7
	Arm64RelocTlvpLoadPage21   uint8 = 8
	Arm64RelocTlvpLoadPageoff12 uint8 = 9
	Arm64RelocAddend           uint8 = 10
)

// ARM (32-bit) relocation type codes, per <mach-o/arm/reloc.h>.
const (
	ArmRelocVanilla       uint8 = 0
	ArmRelocPair          uint8 = 1
	ArmRelocSectDiff      uint8 = 2
	ArmRelocLocalSectDiff uint8 = 3
	ArmRelocPBLAPtr       uint8 = 4
	ArmRelocBr24          uint8 = 5
	ArmRelocThumbBr22     uint8 = 6
	ArmRelocThumb32BrPair uint8 = 7
	ArmRelocHalf          uint8 = 8
	ArmRelocHalfSectDiff  uint8 = 9
)
