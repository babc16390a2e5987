package arch

// RefKind enumerates the architecture-specific reference kinds a Reference
// can carry (spec.md §3/§4.6). The encoding/decoding action for each kind
// lives in internal/fixup; this table only says which kinds exist and
// their width/PC-relative-ness, since every package that walks references
// needs that much without needing to know how to encode them.
type RefKind int

const (
	NoFixUp RefKind = iota
	FollowOn
	Pointer
	PointerWeakImport
	PointerDiff32
	PointerDiff64
	Branch24
	Branch14
	AbsHigh16
	AbsHigh16AddLow
	AbsLow14
	AbsLow16
	PICBaseHigh16
	PICBaseLow16
	PICBaseLow14
	PCRel32
	Absolute32
	BranchPCRel32
	BranchPCRel32WeakImport
	PCRel32GOT
	PCRel32GOTLoad
	PointerDiff
	ThumbBranch22
	ArmBranch24
	GOTLoad
)

func (k RefKind) String() string {
	names := [...]string{
		"NoFixUp", "FollowOn", "Pointer", "PointerWeakImport",
		"PointerDiff32", "PointerDiff64", "Branch24", "Branch14",
		"AbsHigh16", "AbsHigh16AddLow", "AbsLow14", "AbsLow16",
		"PICBaseHigh16", "PICBaseLow16", "PICBaseLow14", "PCRel32",
		"Absolute32", "BranchPCRel32", "BranchPCRel32WeakImport",
		"PCRel32GOT", "PCRel32GOTLoad", "PointerDiff", "ThumbBranch22",
		"ArmBranch24", "GOTLoad",
	}
	if int(k) < len(names) {
		return names[k]
	}
	return "RefKind(?)"
}

// kindInfo is per-kind metadata independent of architecture: whether the
// fix-up is computed PC-relative to the instruction, and the width in
// bytes of the encoded field (0 for layout-only kinds).
type kindInfo struct {
	pcRelative bool
	width      int
}

var kindTable = map[RefKind]kindInfo{
	NoFixUp:                 {false, 0},
	FollowOn:                {false, 0},
	Pointer:                 {false, 0}, // width is arch pointer size
	PointerWeakImport:       {false, 0},
	PointerDiff32:           {false, 4},
	PointerDiff64:           {false, 8},
	Branch24:                {true, 4},
	Branch14:                {true, 4},
	AbsHigh16:               {false, 4},
	AbsHigh16AddLow:         {false, 4},
	AbsLow14:                {false, 4},
	AbsLow16:                {false, 4},
	PICBaseHigh16:           {false, 4},
	PICBaseLow16:            {false, 4},
	PICBaseLow14:            {false, 4},
	PCRel32:                 {true, 4},
	Absolute32:              {false, 4},
	BranchPCRel32:           {true, 4},
	BranchPCRel32WeakImport: {true, 4},
	PCRel32GOT:              {true, 4},
	PCRel32GOTLoad:          {true, 4},
	PointerDiff:             {false, 8},
	ThumbBranch22:           {true, 4},
	ArmBranch24:             {true, 4},
	GOTLoad:                 {true, 4},
}

func (k RefKind) PCRelative() bool { return kindTable[k].pcRelative }
func (k RefKind) Width(a Arch) int {
	if k == Pointer || k == PointerWeakImport {
		return int(a.PointerSize())
	}
	return kindTable[k].width
}

// IsWeakImportVariant reports whether a kind carries weak-import semantics
// for StubSynthesizer's mismatch policy (spec.md §4.6/§9).
func (k RefKind) IsWeakImportVariant() bool {
	return k == PointerWeakImport || k == BranchPCRel32WeakImport
}

// ValidFor reports whether an architecture's fix-up tables define an
// encoding for this kind (spec.md §6's per-architecture table excerpt).
func (k RefKind) ValidFor(a Arch) bool {
	switch a {
	case PPC, PPC64:
		switch k {
		case NoFixUp, FollowOn, Pointer, PointerWeakImport, PointerDiff32, PointerDiff64,
			Branch24, Branch14, AbsHigh16, AbsHigh16AddLow, AbsLow14, AbsLow16,
			PICBaseHigh16, PICBaseLow16, PICBaseLow14:
			return true
		}
		return false
	case I386:
		switch k {
		case NoFixUp, FollowOn, Pointer, PointerWeakImport, PointerDiff32,
			PCRel32, Absolute32:
			return true
		}
		return false
	case X8664:
		switch k {
		case NoFixUp, FollowOn, Pointer, PointerWeakImport, PointerDiff,
			BranchPCRel32, BranchPCRel32WeakImport, PCRel32GOT, PCRel32GOTLoad:
			return true
		}
		return false
	case ARM:
		switch k {
		case NoFixUp, FollowOn, Pointer, PointerWeakImport, PointerDiff32,
			Branch24, ThumbBranch22, ArmBranch24, GOTLoad:
			return true
		}
		return false
	case ARM64:
		switch k {
		case NoFixUp, FollowOn, Pointer, PointerWeakImport, PointerDiff64,
			BranchPCRel32, GOTLoad:
			return true
		}
		return false
	}
	return false
}
