// Package dylibreader implements the DylibReader collaborator (spec.md
// §4.2): turning a dynamic library's container.File into the install
// name, ordinal-eligible dependent list, and exported-symbol atoms a
// link needs without ever reading the dylib's code sections.
package dylibreader

import (
	"path"
	"sort"
	"strings"

	"github.com/apple-oss-distributions/ld64-sub000/internal/atom"
	"github.com/apple-oss-distributions/ld64-sub000/internal/container"
	"github.com/apple-oss-distributions/ld64-sub000/internal/exportstrie"
	"github.com/apple-oss-distributions/ld64-sub000/internal/linkerr"
	"github.com/apple-oss-distributions/ld64-sub000/types"
)

// Dependent records one LC_LOAD_DYLIB-family command this dylib (or the
// object linking against it) carries, with the load flavor it was
// declared under.
type Dependent struct {
	InstallName string
	Weak        bool // LC_LOAD_WEAK_DYLIB
	Upward      bool // LC_LOAD_UPWARD_DYLIB
	Lazy        bool // LC_LAZY_LOAD_DYLIB
	Reexport    bool // LC_REEXPORT_DYLIB
}

// Reader exposes one dylib's identity and export set.
type Reader struct {
	Path        string
	ID          atom.ReaderID
	InstallName string
	CurrentVersion string
	CompatVersion  string

	// ReExports holds, sorted, the non-empty ImportName of every
	// export-trie re-export entry; dylibs loaded with
	// LC_REEXPORT_DYLIB are listed in Dependents instead.
	ReExports []string

	// Dependents is every dependent-library load command this dylib
	// carries, classified by flavor (spec.md §4.2's dependent-library
	// metadata).
	Dependents []Dependent

	// ParentUmbrella is this dylib's LC_SUB_FRAMEWORK umbrella name, if
	// it declares one (it is itself a sub-framework of that umbrella).
	ParentUmbrella string
	// SubUmbrellas/SubLibraries are the LC_SUB_UMBRELLA/LC_SUB_LIBRARY
	// names this (umbrella) dylib declares it contains.
	SubUmbrellas []string
	SubLibraries []string
	// AllowableClients is the LC_SUB_CLIENT list of client names
	// permitted to link against this sub-framework-private dylib.
	AllowableClients []string

	exports map[string]atom.ExportEntry
	byName  map[string]atom.AtomID
}

// New decodes f's identity and export trie. loadAddress is the dylib's
// link-edit load address (0 for a freshly-built, not-yet-slid image).
func New(path string, f *container.File, id atom.ReaderID, loadAddress uint64) (*Reader, error) {
	rd := &Reader{Path: path, ID: id, exports: map[string]atom.ExportEntry{}, byName: map[string]atom.AtomID{}}

	for _, l := range f.Loads {
		switch dl := l.(type) {
		case *container.Dylib:
			switch dl.LoadCmd {
			case types.LC_ID_DYLIB:
				rd.InstallName = dl.Name
				rd.CurrentVersion = dl.CurrentVersion
				rd.CompatVersion = dl.CompatVersion
			case types.LC_LOAD_DYLIB, types.LC_LOAD_WEAK_DYLIB, types.LC_LOAD_UPWARD_DYLIB,
				types.LC_LAZY_LOAD_DYLIB, types.LC_REEXPORT_DYLIB:
				rd.Dependents = append(rd.Dependents, Dependent{
					InstallName: dl.Name,
					Weak:        dl.LoadCmd == types.LC_LOAD_WEAK_DYLIB,
					Upward:      dl.LoadCmd == types.LC_LOAD_UPWARD_DYLIB,
					Lazy:        dl.LoadCmd == types.LC_LAZY_LOAD_DYLIB,
					Reexport:    dl.LoadCmd == types.LC_REEXPORT_DYLIB,
				})
			}
		case *container.SubFramework:
			rd.ParentUmbrella = dl.Umbrella
		case *container.SubUmbrella:
			rd.SubUmbrellas = append(rd.SubUmbrellas, dl.Name)
		case *container.SubLibrary:
			rd.SubLibraries = append(rd.SubLibraries, dl.Name)
		case *container.SubClient:
			rd.AllowableClients = append(rd.AllowableClients, dl.Name)
		}
	}
	if rd.InstallName == "" {
		rd.InstallName = path
	}

	trieData, err := readExportTrie(f)
	if err != nil {
		return nil, err
	}
	if trieData == nil {
		return rd, nil
	}

	entries, err := exportstrie.Decode(trieData, loadAddress)
	if err != nil {
		return nil, linkerr.New(linkerr.NotMachO, "malformed export trie: "+err.Error()).WithSymbol(rd.InstallName)
	}
	for _, e := range entries {
		rd.exports[e.Name] = e
		if e.ImportName != "" {
			rd.ReExports = append(rd.ReExports, e.ImportName)
		}
	}
	sort.Strings(rd.ReExports)
	return rd, nil
}

// installNameLeaf reduces a dylib install name or sub-umbrella/sub-library
// name to the bare framework/library name a LC_SUB_UMBRELLA, LC_SUB_LIBRARY
// or LC_SUB_FRAMEWORK command actually carries: the last path component,
// with a trailing ".dylib" or numeric version suffix stripped (spec.md:96).
func installNameLeaf(name string) string {
	leaf := path.Base(name)
	leaf = strings.TrimSuffix(leaf, ".dylib")
	for {
		trimmed := strings.TrimRight(leaf, "0123456789")
		if trimmed == leaf || !strings.HasSuffix(trimmed, ".") {
			break
		}
		leaf = strings.TrimSuffix(trimmed, ".")
	}
	return leaf
}

// ReExportsDylib implements spec.md:96's literal re-export predicate:
// a dylib re-exports other if other's install name is named in a's
// sub-umbrella/sub-library list, or a is named as other's parent
// umbrella, modulo the version-suffix stripping installNameLeaf applies.
func (rd *Reader) ReExportsDylib(other *Reader) bool {
	otherLeaf := installNameLeaf(other.InstallName)
	for _, name := range rd.SubUmbrellas {
		if installNameLeaf(name) == otherLeaf {
			return true
		}
	}
	for _, name := range rd.SubLibraries {
		if installNameLeaf(name) == otherLeaf {
			return true
		}
	}
	if other.ParentUmbrella != "" && installNameLeaf(other.ParentUmbrella) == installNameLeaf(rd.InstallName) {
		return true
	}
	return false
}

// HasExport reports whether this dylib directly exports name, for the
// Resolver's two-level-namespace ambiguity check (symtab.DylibProvider).
func (rd *Reader) HasExport(name string) bool {
	_, ok := rd.exports[name]
	return ok
}

// CheckClient enforces this dylib's LC_SUB_CLIENT allowable-clients list,
// if it declares one: a sub-framework-private dylib may only be linked
// directly by a client named in that list (spec.md §4.2).
func (rd *Reader) CheckClient(clientName string) error {
	if len(rd.AllowableClients) == 0 {
		return nil
	}
	for _, c := range rd.AllowableClients {
		if c == clientName {
			return nil
		}
	}
	return linkerr.New(linkerr.SubframeworkLinkage, "").WithSymbol(rd.InstallName)
}

// readExportTrie finds the export-info blob, preferring the newer
// LC_DYLD_EXPORTS_TRIE over the combined LC_DYLD_INFO(_ONLY) command.
func readExportTrie(f *container.File) ([]byte, error) {
	for _, l := range f.Loads {
		if et, ok := l.(*container.DyldExportsTrie); ok && et.Size > 0 {
			return readAt(f, int64(et.Offset), int64(et.Size))
		}
	}
	for _, l := range f.Loads {
		if di, ok := l.(*container.DyldInfo); ok && di.ExportSize > 0 {
			return readAt(f, int64(di.ExportOff), int64(di.ExportSize))
		}
	}
	return nil, nil
}

func readAt(f *container.File, off, size int64) ([]byte, error) {
	buf := make([]byte, size)
	if _, err := f.SectionReaderAt().ReadAt(buf, off); err != nil {
		return nil, err
	}
	return buf, nil
}

// Exports returns every name this dylib exports directly (not counting
// names only reachable through a re-export), for diagnostics and -exported_symbols_list.
func (rd *Reader) Exports() []string {
	out := make([]string, 0, len(rd.exports))
	for name := range rd.exports {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// JustInTimeAtom implements symtab.Provider: it hands back a
// DefExternalStrong/Weak atom for any name in this dylib's export trie.
func (rd *Reader) JustInTimeAtom(g *atom.Graph, name string) (atom.AtomID, bool, error) {
	if id, ok := rd.byName[name]; ok {
		return id, true, nil
	}
	entry, ok := rd.exports[name]
	if !ok {
		return atom.InvalidAtomID, false, nil
	}
	def := atom.DefExternalStrong
	if types.ExportFlag(entry.Flags).WeakDefinition() {
		def = atom.DefExternalWeak
	}
	a := &atom.Atom{
		Kind:  atom.KindSymbol,
		Name:  name,
		Def:   def,
		Scope: atom.ScopeGlobal,
		Reader: rd.ID,
		Address: entry.Offset,
	}
	id := g.Add(a)
	rd.byName[name] = id
	return id, true, nil
}
