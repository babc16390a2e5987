package types

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// An Nlist is the common prefix of a Mach-O 32-bit or 64-bit symbol table entry.
type Nlist struct {
	Name uint32
	Type NType
	Sect uint8
	Desc NDescType
}

// Nlist32 is a Mach-O 32-bit symbol table entry.
type Nlist32 struct {
	Nlist
	Value uint32
}

func (n *Nlist32) Put32(b []byte, o binary.ByteOrder) int {
	o.PutUint32(b[0:], n.Name)
	b[4] = byte(n.Type)
	b[5] = n.Sect
	o.PutUint16(b[6:], uint16(n.Desc))
	o.PutUint32(b[8:], n.Value)
	return 12
}

// Nlist64 is a Mach-O 64-bit symbol table entry.
type Nlist64 struct {
	Nlist
	Value uint64
}

func (n *Nlist64) Put64(b []byte, o binary.ByteOrder) int {
	o.PutUint32(b[0:], n.Name)
	b[4] = byte(n.Type)
	b[5] = n.Sect
	o.PutUint16(b[6:], uint16(n.Desc))
	o.PutUint64(b[8:], n.Value)
	return 16
}

// NType is the n_type byte of a symbol table entry: a bitfield of
// N_STAB:3, N_PEXT:1, N_TYPE:3, N_EXT:1.
type NType uint8

const (
	N_STAB NType = 0xe0
	N_PEXT NType = 0x10
	N_TYPE NType = 0x0e
	N_EXT  NType = 0x01
)

const (
	N_UNDF NType = 0x0
	N_ABS  NType = 0x2
	N_SECT NType = 0xe
	N_PBUD NType = 0xc
	N_INDR NType = 0xa
)

func (t NType) IsStab() bool               { return t&N_STAB != 0 }
func (t NType) IsPrivateExtern() bool      { return t&N_PEXT != 0 }
func (t NType) IsExtern() bool             { return t&N_EXT != 0 }
func (t NType) IsUndefined() bool          { return t&N_TYPE == N_UNDF }
func (t NType) IsAbsolute() bool           { return t&N_TYPE == N_ABS }
func (t NType) IsDefinedInSection() bool   { return t&N_TYPE == N_SECT }
func (t NType) IsPreboundUndefined() bool  { return t&N_TYPE == N_PBUD }
func (t NType) IsIndirect() bool           { return t&N_TYPE == N_INDR }

func (t NType) String(secName string) string {
	var s string
	if t.IsStab() {
		s += fmt.Sprintf("stab(%#02x)|", uint8(t))
	}
	if t.IsPrivateExtern() {
		s += "priv_ext|"
	}
	if t.IsExtern() {
		s += "ext|"
	}
	switch {
	case t.IsUndefined():
		s += "undef|"
	case t.IsAbsolute():
		s += "abs|"
	case t.IsDefinedInSection():
		s += secName + "|"
	case t.IsPreboundUndefined():
		s += "prebound_undef|"
	case t.IsIndirect():
		s += "indirect|"
	}
	return strings.TrimSuffix(s, "|")
}

// NDescType is the n_desc field of a symbol table entry.
type NDescType uint16

const (
	REFERENCE_TYPE NDescType = 0x7

	ReferenceFlagUndefinedNonLazy        NDescType = 0
	ReferenceFlagUndefinedLazy           NDescType = 1
	ReferenceFlagDefined                 NDescType = 2
	ReferenceFlagPrivateDefined          NDescType = 3
	ReferenceFlagPrivateUndefinedNonLazy NDescType = 4
	ReferenceFlagPrivateUndefinedLazy    NDescType = 5
)

const (
	NoDeadStrip     NDescType = 0x0020
	DescDiscarded   NDescType = 0x0020
	WeakRef         NDescType = 0x0040
	WeakDef         NDescType = 0x0080
	RefToWeak       NDescType = 0x0080
	ArmThumbDef     NDescType = 0x0008
	SymbolResolver  NDescType = 0x0100
	AltEntry        NDescType = 0x0200
	ColdFunc        NDescType = 0x0400
)

const (
	SelfLibraryOrdinal   NDescType = 0x0
	MaxLibraryOrdinal    NDescType = 0xfd
	DynamicLookupOrdinal NDescType = 0xfe
	ExecutableOrdinal    NDescType = 0xff
)

func (d NDescType) LibraryOrdinal() NDescType { return (d >> 8) & 0xff }
func (d NDescType) IsWeakRef() bool           { return d&WeakRef != 0 }
func (d NDescType) IsWeakDef() bool           { return d&WeakDef != 0 }
func (d NDescType) IsNoDeadStrip() bool       { return d&NoDeadStrip != 0 }

// Stab values: the n_type byte of a symbolic debugging entry (N_STAB set).
const (
	N_GSYM  = 0x20 // global symbol: name,,NO_SECT,type,0
	N_FNAME = 0x22 // procedure name (f77 kludge)
	N_FUN   = 0x24 // procedure: name,,n_sect,linenumber,address
	N_STSYM = 0x26 // static symbol: name,,n_sect,type,address
	N_LCSYM = 0x28 // .lcomm symbol: name,,n_sect,type,address
	N_BNSYM = 0x2e // begin nsect sym: 0,,n_sect,0,address
	N_AST   = 0x32 // AST file path
	N_OPT   = 0x3c // emitted with gcc2_compiled
	N_RSYM  = 0x40 // register sym
	N_SLINE = 0x44 // src line: 0,,n_sect,linenumber,address
	N_ENSYM = 0x4e // end nsect sym: 0,,n_sect,0,address
	N_SSYM  = 0x60 // structure elt
	N_SO    = 0x64 // source file name: name,,n_sect,0,address
	N_OSO   = 0x66 // object file name: name,,0,0,st_mtime
	N_LSYM  = 0x80 // local sym
	N_BINCL = 0x82 // include file beginning: name,,NO_SECT,0,sum
	N_SOL   = 0x84 // #included file name: name,,n_sect,0,address
	N_PSYM  = 0xa0 // parameter
	N_EINCL = 0xa2 // include file end
	N_ENTRY = 0xa4 // alternate entry
	N_LBRAC = 0xc0 // left bracket: 0,,NO_SECT,nesting level,address
	N_EXCL  = 0xc2 // deleted include file: name,,NO_SECT,0,sum
	N_RBRAC = 0xe0 // right bracket: 0,,NO_SECT,nesting level,address
	N_BCOMM = 0xe2 // begin common
	N_ECOMM = 0xe4 // end common
	N_ECOML = 0xe8 // end common (local name)
)
