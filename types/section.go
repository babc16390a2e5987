package types

import "strings"

// A SectionFlag holds the type and attribute bits of a Mach-O section header.
type SectionFlag uint32

const (
	sectionTypeMask       SectionFlag = 0x000000ff
	sectionAttributesMask SectionFlag = 0xffffff00
)

// Section types (low byte of Flags).
const (
	SRegular                 SectionFlag = 0x0
	SZerofill                SectionFlag = 0x1
	SCstringLiterals         SectionFlag = 0x2
	S4ByteLiterals           SectionFlag = 0x3
	S8ByteLiterals           SectionFlag = 0x4
	SLiteralPointers         SectionFlag = 0x5
	SNonLazySymbolPointers   SectionFlag = 0x6
	SLazySymbolPointers      SectionFlag = 0x7
	SSymbolStubs             SectionFlag = 0x8
	SModInitFuncPointers     SectionFlag = 0x9
	SModTermFuncPointers     SectionFlag = 0xa
	SCoalesced               SectionFlag = 0xb
	SGBZerofill              SectionFlag = 0xc
	SInterposing             SectionFlag = 0xd
	S16ByteLiterals          SectionFlag = 0xe
	SDtraceDOF               SectionFlag = 0xf
	SLazyDylibSymbolPointers SectionFlag = 0x10
	SThreadLocalRegular      SectionFlag = 0x11
	SThreadLocalZerofill     SectionFlag = 0x12
	SThreadLocalVariables    SectionFlag = 0x13
	SThreadLocalVariablePtrs SectionFlag = 0x14
	SThreadLocalInitFuncPtrs SectionFlag = 0x15
)

// Section attributes (high 24 bits of Flags).
const (
	SAttrPureInstructions   SectionFlag = 0x80000000
	SAttrNoTOC              SectionFlag = 0x40000000
	SAttrStripStaticSyms    SectionFlag = 0x20000000
	SAttrNoDeadStrip        SectionFlag = 0x10000000
	SAttrLiveSupport        SectionFlag = 0x08000000
	SAttrSelfModifyingCode  SectionFlag = 0x04000000
	SAttrDebug              SectionFlag = 0x02000000
	SAttrSomeInstructions   SectionFlag = 0x00000400
	SAttrExtReloc           SectionFlag = 0x00000200
	SAttrLocReloc           SectionFlag = 0x00000100
)

func (f SectionFlag) Type() SectionFlag { return f & sectionTypeMask }

func (f SectionFlag) IsRegular() bool                 { return f.Type() == SRegular }
func (f SectionFlag) IsZerofill() bool                { return f.Type() == SZerofill }
func (f SectionFlag) IsCstringLiterals() bool         { return f.Type() == SCstringLiterals }
func (f SectionFlag) IsLiteralPointers() bool         { return f.Type() == SLiteralPointers }
func (f SectionFlag) IsNonLazySymbolPointers() bool   { return f.Type() == SNonLazySymbolPointers }
func (f SectionFlag) IsLazySymbolPointers() bool      { return f.Type() == SLazySymbolPointers }
func (f SectionFlag) IsSymbolStubs() bool             { return f.Type() == SSymbolStubs }
func (f SectionFlag) IsModInitFuncPointers() bool     { return f.Type() == SModInitFuncPointers }
func (f SectionFlag) IsModTermFuncPointers() bool     { return f.Type() == SModTermFuncPointers }
func (f SectionFlag) IsCoalesced() bool               { return f.Type() == SCoalesced }
func (f SectionFlag) IsInterposing() bool             { return f.Type() == SInterposing }
func (f SectionFlag) IsGBZerofill() bool              { return f.Type() == SGBZerofill }

func (f SectionFlag) NoDeadStrip() bool       { return f&SAttrNoDeadStrip != 0 }
func (f SectionFlag) PureInstructions() bool  { return f&SAttrPureInstructions != 0 }
func (f SectionFlag) SelfModifyingCode() bool { return f&SAttrSelfModifyingCode != 0 }
func (f SectionFlag) Debug() bool             { return f&SAttrDebug != 0 }
func (f SectionFlag) LiveSupport() bool       { return f&SAttrLiveSupport != 0 }

var sectionTypeStrings = []IntName{
	{uint32(SRegular), "Regular"},
	{uint32(SZerofill), "Zerofill"},
	{uint32(SCstringLiterals), "CstringLiterals"},
	{uint32(S4ByteLiterals), "4ByteLiterals"},
	{uint32(S8ByteLiterals), "8ByteLiterals"},
	{uint32(SLiteralPointers), "LiteralPointers"},
	{uint32(SNonLazySymbolPointers), "NonLazySymbolPointers"},
	{uint32(SLazySymbolPointers), "LazySymbolPointers"},
	{uint32(SSymbolStubs), "SymbolStubs"},
	{uint32(SModInitFuncPointers), "ModInitFuncPointers"},
	{uint32(SModTermFuncPointers), "ModTermFuncPointers"},
	{uint32(SCoalesced), "Coalesced"},
	{uint32(SGBZerofill), "GBZerofill"},
	{uint32(SInterposing), "Interposing"},
	{uint32(S16ByteLiterals), "16ByteLiterals"},
	{uint32(SDtraceDOF), "DtraceDOF"},
	{uint32(SLazyDylibSymbolPointers), "LazyDylibSymbolPointers"},
	{uint32(SThreadLocalRegular), "ThreadLocalRegular"},
	{uint32(SThreadLocalZerofill), "ThreadLocalZerofill"},
	{uint32(SThreadLocalVariables), "ThreadLocalVariables"},
	{uint32(SThreadLocalVariablePtrs), "ThreadLocalVariablePtrs"},
	{uint32(SThreadLocalInitFuncPtrs), "ThreadLocalInitFuncPtrs"},
}

func (f SectionFlag) String() string {
	return StringName(uint32(f.Type()), sectionTypeStrings, false)
}

func (f SectionFlag) AttributesString() string {
	var attrs []string
	if f.PureInstructions() {
		attrs = append(attrs, "PureInstructions")
	}
	if f.NoDeadStrip() {
		attrs = append(attrs, "NoDeadStrip")
	}
	if f.SelfModifyingCode() {
		attrs = append(attrs, "SelfModifyingCode")
	}
	if f.Debug() {
		attrs = append(attrs, "Debug")
	}
	if f.LiveSupport() {
		attrs = append(attrs, "LiveSupport")
	}
	return strings.Join(attrs, ",")
}

// Section32 is a 32-bit Mach-O section header as laid out on disk.
type Section32 struct {
	Name     [16]byte
	Seg      [16]byte
	Addr     uint32
	Size     uint32
	Offset   uint32
	Align    uint32
	Reloff   uint32
	Nreloc   uint32
	Flags    SectionFlag
	Reserve1 uint32
	Reserve2 uint32
}

// Section64 is a 64-bit Mach-O section header as laid out on disk.
type Section64 struct {
	Name     [16]byte
	Seg      [16]byte
	Addr     uint64
	Size     uint64
	Offset   uint32
	Align    uint32
	Reloff   uint32
	Nreloc   uint32
	Flags    SectionFlag
	Reserve1 uint32
	Reserve2 uint32
	Reserve3 uint32
}
