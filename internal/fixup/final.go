package fixup

import (
	"github.com/apple-oss-distributions/ld64-sub000/internal/arch"
	"github.com/apple-oss-distributions/ld64-sub000/internal/atom"
	"github.com/apple-oss-distributions/ld64-sub000/internal/linkerr"
)

// encodeFinal implements spec.md §4.6's final-image mode: the target's
// final address (plus addend) is computed once and encoded straight into
// the instruction or data bytes at ref.FixupOffset, per the architecture
// table in §4.6/§6.
func (e *FixupEngine) encodeFinal(a *atom.Atom, ref *atom.Reference, target *atom.Atom, buf []byte) error {
	if e.Opts.Slideable && rewritesCodeBytesAbsolutely(ref.Kind) {
		return linkerr.New(linkerr.AbsoluteInSlideable, a.Name).WithSymbol(target.Name)
	}

	off := ref.FixupOffset
	addr := finalAddress(target, ref.ToAddend)
	pc := a.Address + uint64(off)

	switch ref.Kind {
	case arch.Pointer, arch.PointerWeakImport:
		if target.Def == atom.DefExternalStrong || target.Def == atom.DefExternalWeak {
			if isLazyPointerHelperSlot(a) {
				helper := e.Graph.Get(e.stubHelperID())
				if helper != nil {
					addr = helper.Address
				}
			}
		}
		return putPointer(buf, off, addr, e.Opts.Arch, e.byteOrder)

	case arch.PointerDiff32:
		d := int64(finalAddress(target, ref.ToAddend)) - int64(finalAddress(e.resolveTarget(ref.From), ref.FromAddend))
		e.byteOrder.PutUint32(buf[off:], uint32(d))
		return nil

	case arch.PointerDiff64:
		d := int64(finalAddress(target, ref.ToAddend)) - int64(finalAddress(e.resolveTarget(ref.From), ref.FromAddend))
		e.byteOrder.PutUint64(buf[off:], uint64(d))
		return nil

	case arch.Branch24:
		return e.putPPCBranch(buf, off, addr, pc, a, 24, linkerr.Branch24OutOfRange)
	case arch.Branch14:
		return e.putPPCBranch(buf, off, addr, pc, a, 14, linkerr.Branch14OutOfRange)

	case arch.AbsHigh16, arch.AbsHigh16AddLow, arch.AbsLow14, arch.AbsLow16:
		return putPPCAbsHalf(buf, off, addr, ref.Kind, e.byteOrder)

	case arch.PICBaseHigh16, arch.PICBaseLow16, arch.PICBaseLow14:
		base := e.Graph.Get(e.Opts.PICBase)
		var baseAddr uint64
		if base != nil {
			baseAddr = base.Address
		}
		d := int64(addr) - int64(baseAddr)
		return putPPCAbsHalf(buf, off, uint64(d), picToAbsKind(ref.Kind), e.byteOrder)

	case arch.PCRel32:
		d := int64(addr) - int64(pc+4)
		return checkedPutInt32(buf, off, d, e.byteOrder, linkerr.Rel32OutOfRange, a.Name)

	case arch.Absolute32:
		e.byteOrder.PutUint32(buf[off:], uint32(addr))
		return nil

	case arch.BranchPCRel32, arch.BranchPCRel32WeakImport:
		d := int64(addr) - int64(pc+4)
		return checkedPutInt32(buf, off, d, e.byteOrder, linkerr.Rel32OutOfRange, a.Name)

	case arch.PCRel32GOT, arch.PCRel32GOTLoad:
		d := int64(addr) - int64(pc+4)
		return checkedPutInt32(buf, off, d, e.byteOrder, linkerr.Rel32OutOfRange, a.Name)

	case arch.ThumbBranch22, arch.ArmBranch24, arch.GOTLoad:
		d := int64(addr) - int64(pc)
		return checkedPutInt32(buf, off, d, e.byteOrder, linkerr.Branch24OutOfRange, a.Name)
	}
	return nil
}

// rewritesCodeBytesAbsolutely reports whether a kind bakes an absolute
// (not PC-relative) address directly into code bytes, which a slideable
// image can never do since its load address isn't known until run time.
func rewritesCodeBytesAbsolutely(k arch.RefKind) bool {
	switch k {
	case arch.Absolute32, arch.AbsHigh16, arch.AbsHigh16AddLow, arch.AbsLow14, arch.AbsLow16:
		return true
	}
	return false
}

func isLazyPointerHelperSlot(a *atom.Atom) bool {
	return a.Kind == atom.KindLazyPointer
}

func (e *FixupEngine) stubHelperID() atom.AtomID {
	for _, a := range e.Graph.All() {
		if a.Name == e.Opts.StubBindingHelperName {
			return a.ID
		}
	}
	return atom.InvalidAtomID
}

func putPointer(buf []byte, off uint32, addr uint64, a arch.Arch, bo interface {
	PutUint32([]byte, uint32)
	PutUint64([]byte, uint64)
}) error {
	if a.PointerSize() == 8 {
		bo.PutUint64(buf[off:], addr)
	} else {
		bo.PutUint32(buf[off:], uint32(addr))
	}
	return nil
}

func checkedPutInt32(buf []byte, off uint32, d int64, bo interface{ PutUint32([]byte, uint32) }, kind linkerr.Kind, name string) error {
	if d > int64(1)<<31-1 || d < -(int64(1)<<31) {
		return linkerr.New(kind, "").WithSymbol(name)
	}
	bo.PutUint32(buf[off:], uint32(int32(d)))
	return nil
}

// putPPCBranch masks and replaces the low branchBits bits of the 4-byte
// instruction at off with (target-pc), range-checked per spec.md §4.6.
func (e *FixupEngine) putPPCBranch(buf []byte, off uint32, addr, pc uint64, a *atom.Atom, bits int, errKind linkerr.Kind) error {
	d := int64(addr) - int64(pc)
	limit := int64(1) << uint(bits-1)
	if d >= limit || d < -limit {
		return linkerr.New(errKind, "").WithSymbol(a.Name)
	}
	instr := e.byteOrder.Uint32(buf[off:])
	mask := uint32(1)<<uint(bits) - 1
	instr = instr&^mask | (uint32(d) & mask)
	e.byteOrder.PutUint32(buf[off:], instr)
	return nil
}

// putPPCAbsHalf splits a 32-bit value across the two-instruction high/low
// pairs ppc uses for absolute 32-bit constant materialization.
func putPPCAbsHalf(buf []byte, off uint32, v uint64, kind arch.RefKind, bo interface {
	Uint32([]byte) uint32
	PutUint32([]byte, uint32)
}) error {
	instr := bo.Uint32(buf[off:])
	switch kind {
	case arch.AbsHigh16, arch.PICBaseHigh16:
		high := uint16(v >> 16)
		instr = instr&0xFFFF0000 | uint32(high)
	case arch.AbsHigh16AddLow:
		high := uint16((v + 0x8000) >> 16)
		instr = instr&0xFFFF0000 | uint32(high)
	case arch.AbsLow16, arch.PICBaseLow16:
		low := uint16(v)
		instr = instr&0xFFFF0000 | uint32(low)
	case arch.AbsLow14, arch.PICBaseLow14:
		low := uint16(v) &^ 0x3
		instr = instr&0xFFFF0000 | uint32(low)
	}
	bo.PutUint32(buf[off:], instr)
	return nil
}

func picToAbsKind(k arch.RefKind) arch.RefKind {
	switch k {
	case arch.PICBaseHigh16:
		return arch.AbsHigh16
	case arch.PICBaseLow16:
		return arch.AbsLow16
	case arch.PICBaseLow14:
		return arch.AbsLow14
	}
	return k
}
