// Package archivereader implements the ArchiveReader collaborator: a
// static archive (.a, BSD ar format with a ranlib-style symbol-table
// member) lazily contributes member object files to the link only when
// one of their symbols is required, rather than eagerly like a plain
// object file.
//
// Go's standard library has no archive/ar package, and none of the
// retrieved example repos touch the format either (it is a plain
// library-packaging convention, not something any of their domains
// needed); this is a from-scratch, standard-library-only decode,
// recorded here rather than silently defaulting to one.
package archivereader

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/apple-oss-distributions/ld64-sub000/internal/arch"
	"github.com/apple-oss-distributions/ld64-sub000/internal/atom"
	"github.com/apple-oss-distributions/ld64-sub000/internal/container"
	"github.com/apple-oss-distributions/ld64-sub000/internal/objreader"
)

const (
	globalHeader = "!<arch>\n"
	headerSize   = 60
)

// Options configures the eager-load policies ld64 drives from -all_load
// and -ObjC: both pull members into the link whether or not the
// Resolver ever asks for one of their symbols.
type Options struct {
	// ForceLoadAll loads every member immediately, matching -all_load:
	// even a member no required symbol ever references contributes its
	// atoms, which only matters once DeadStrip decides what stays live.
	ForceLoadAll bool
	// LoadAllObjCClasses loads only members that define an Objective-C
	// class, matching -ObjC: old-ABI ".objc_class_name_*" absolute
	// symbols or a __DATA,__objc_classlist section (spec.md §4.2's
	// "categories and classes linked in even when nothing else in the
	// member is referenced" requirement, since a class pulled in via one
	// category can leave the class symbol itself unreferenced).
	LoadAllObjCClasses bool
}

// Member is one object file inside the archive, decoded lazily.
type Member struct {
	Name   string
	Offset int64
	Size   int64

	loaded bool
	reader *objreader.Reader
}

// Reader indexes an archive's members without eagerly parsing any of
// them; Load is called once a member's symbol is actually required.
type Reader struct {
	Path string
	ID   atom.ReaderID
	Arch arch.Arch

	ra io.ReaderAt

	members []*Member
	// bySymbol caches, per symbol name, the member findMemberDefining
	// found defining it by scanning member symbol tables (the archive's
	// own "__.SYMDEF" index is not read).
	bySymbol map[string]*Member

	nextReaderID int
}

// New indexes the archive at ra (size bytes total). It reads the global
// header, skips the symbol-table member (if present), and records every
// other member's name and extent, but does not decode any member's Mach-O contents yet,
// unless opts requests eager loading of some or all members (g must be
// non-nil whenever opts.ForceLoadAll or opts.LoadAllObjCClasses is set).
func New(path string, ra io.ReaderAt, size int64, id atom.ReaderID, a arch.Arch, g *atom.Graph, opts Options) (*Reader, error) {
	r := &Reader{Path: path, ID: id, Arch: a, ra: ra, bySymbol: map[string]*Member{}}

	var hdr [8]byte
	if _, err := ra.ReadAt(hdr[:], 0); err != nil {
		return nil, fmt.Errorf("reading archive magic: %w", err)
	}
	if string(hdr[:]) != globalHeader {
		return nil, fmt.Errorf("%s: not a BSD ar archive", path)
	}

	var longNames string
	off := int64(len(globalHeader))
	for off < size {
		name, memSize, next, err := readMemberHeader(ra, off)
		if err != nil {
			return nil, err
		}
		dataOff := off + headerSize

		switch {
		case name == "//":
			// GNU-style extended name table: subsequent "/<n>" names are
			// offsets into this blob.
			buf := make([]byte, memSize)
			if _, err := ra.ReadAt(buf, dataOff); err != nil {
				return nil, fmt.Errorf("reading long-name table: %w", err)
			}
			longNames = string(buf)
		case name == "__.SYMDEF" || name == "__.SYMDEF SORTED" || strings.HasPrefix(name, "#1/"):
			// Symbol-table members are format-specific index blobs this
			// reader does not need: the Resolver drives archive pulls by
			// asking every member in turn via JustInTimeAtom instead of
			// trusting a possibly-stale ranlib index, matching ld64's
			// tolerance for archives built without one.
		default:
			resolved := resolveName(name, longNames)
			r.members = append(r.members, &Member{Name: resolved, Offset: dataOff, Size: memSize})
		}

		off = next
	}

	if opts.ForceLoadAll {
		for _, m := range r.members {
			if err := r.loadMember(g, m); err != nil {
				return nil, err
			}
		}
	} else if opts.LoadAllObjCClasses {
		for _, m := range r.members {
			definesClass, err := r.membersDefinesObjCClass(m)
			if err != nil {
				return nil, err
			}
			if !definesClass {
				continue
			}
			if err := r.loadMember(g, m); err != nil {
				return nil, err
			}
		}
	}

	return r, nil
}

// membersDefinesObjCClass reports whether m defines an Objective-C
// class, without materializing its atoms: an old-ABI N_ABS symbol named
// ".objc_class_name_*" (Finding 1's oldObjCClasses tracking), or a
// __objc_classlist (new ABI's array of class pointers) or
// __objc_classrefs section.
func (r *Reader) membersDefinesObjCClass(m *Member) (bool, error) {
	sr := io.NewSectionReader(r.ra, m.Offset, m.Size)
	f, err := container.NewFile(sr)
	if err != nil {
		return false, nil // not a Mach-O member; -ObjC only concerns objects
	}
	if f.Symtab != nil {
		for _, sym := range f.Symtab.Syms {
			if sym.Type.IsAbsolute() && strings.HasPrefix(sym.Name, ".objc_class_name_") {
				return true, nil
			}
		}
	}
	for _, sec := range f.Sections {
		if sec.Name == "__objc_classlist" || sec.Name == "__objc_classrefs" {
			return true, nil
		}
	}
	return false, nil
}

// readMemberHeader parses one 60-byte ar member header at off and
// returns its name, content size, and the offset of the next header
// (content is padded to an even byte boundary).
func readMemberHeader(ra io.ReaderAt, off int64) (name string, size int64, next int64, err error) {
	var buf [headerSize]byte
	if _, err = ra.ReadAt(buf[:], off); err != nil {
		return "", 0, 0, fmt.Errorf("reading archive member header at %#x: %w", off, err)
	}
	rawName := strings.TrimRight(string(buf[0:16]), " ")
	rawSize := strings.TrimSpace(string(buf[48:58]))
	sz, err := strconv.ParseInt(rawSize, 10, 64)
	if err != nil {
		return "", 0, 0, fmt.Errorf("archive member at %#x: bad size field %q: %w", off, rawSize, err)
	}
	name = rawName
	if name != "//" { // keep the GNU long-name table's name intact
		name = strings.TrimSuffix(rawName, "/")
	}
	dataOff := off + headerSize
	next = dataOff + sz
	if next%2 != 0 {
		next++
	}
	return name, sz, next, nil
}

// resolveName expands a GNU "/<offset>" extended name into the real
// member name looked up in the archive's "//" string table.
func resolveName(name, longNames string) string {
	if !strings.HasPrefix(name, "/") || longNames == "" {
		return name
	}
	offStr := strings.TrimPrefix(name, "/")
	offset, err := strconv.Atoi(offStr)
	if err != nil || offset < 0 || offset >= len(longNames) {
		return name
	}
	rest := longNames[offset:]
	if i := strings.IndexAny(rest, "/\n"); i >= 0 {
		rest = rest[:i]
	}
	return rest
}

// JustInTimeAtom implements symtab.Provider: the first time any symbol
// from a given member is required, the whole member is decoded and all
// of its atoms are added, matching the archive linking model where
// pulling in one symbol pulls in its entire translation unit.
func (r *Reader) JustInTimeAtom(g *atom.Graph, name string) (atom.AtomID, bool, error) {
	m := r.bySymbol[name]
	if m == nil {
		var err error
		m, err = r.findMemberDefining(name)
		if err != nil {
			return atom.InvalidAtomID, false, err
		}
		if m == nil {
			return atom.InvalidAtomID, false, nil
		}
	}
	if !m.loaded {
		if err := r.loadMember(g, m); err != nil {
			return atom.InvalidAtomID, false, err
		}
	}
	if id, ok := r.findLoadedAtom(g, m, name); ok {
		return id, true, nil
	}
	return atom.InvalidAtomID, false, nil
}

// findMemberDefining scans every not-yet-loaded member's symbol table
// for name, without materializing atoms, since most archive members are
// never pulled into a given link.
func (r *Reader) findMemberDefining(name string) (*Member, error) {
	for _, m := range r.members {
		if m.loaded {
			continue
		}
		sr := io.NewSectionReader(r.ra, m.Offset, m.Size)
		f, err := container.NewFile(sr)
		if err != nil {
			continue // not a Mach-O member (e.g. a stray README); skip
		}
		if f.Symtab == nil {
			continue
		}
		for _, sym := range f.Symtab.Syms {
			if sym.Name == name && !sym.Type.IsUndefined() {
				r.bySymbol[name] = m
				return m, nil
			}
		}
	}
	return nil, nil
}

func (r *Reader) loadMember(g *atom.Graph, m *Member) error {
	sr := io.NewSectionReader(r.ra, m.Offset, m.Size)
	f, err := container.NewFile(sr)
	if err != nil {
		return fmt.Errorf("%s(%s): %w", r.Path, m.Name, err)
	}
	rid := atom.ReaderID(int(r.ID)*100000 + r.nextReaderID)
	r.nextReaderID++
	rd := objreader.New(m.Name, f, rid, r.Arch)
	if _, err := rd.Load(g); err != nil {
		return fmt.Errorf("%s(%s): %w", r.Path, m.Name, err)
	}
	m.reader = rd
	m.loaded = true
	return nil
}

func (r *Reader) findLoadedAtom(g *atom.Graph, m *Member, name string) (atom.AtomID, bool) {
	for _, a := range g.All() {
		if a.Name == name {
			return a.ID, true
		}
	}
	return atom.InvalidAtomID, false
}
