// Package debuginfo implements the DebugInfoCollector (spec.md §4.7): it
// builds the output stabs stream either by passing a reader's own stabs
// through (de-duplicating repeated BINCL/EINCL include-file pairs into a
// single EXCL) or, for DWARF-sourced readers, by synthesizing SO/OSO/
// BNSYM/FUN/SOL/ENSYM/GSYM/STSYM stabs from each atom's translation-unit
// and line-info metadata.
package debuginfo

import (
	"sort"
	"strings"

	"github.com/apple-oss-distributions/ld64-sub000/internal/atom"
	"github.com/apple-oss-distributions/ld64-sub000/internal/linklog"
	"github.com/apple-oss-distributions/ld64-sub000/types"
)

// SourceInfo is the translation-unit identity a DWARF-sourced reader
// doesn't otherwise carry on the atom model: spec.md §4.7's "known (dir,
// filename) translation-unit source" plus the object path/mtime an `OSO`
// stab needs.
type SourceInfo struct {
	Dir        string
	File       string
	ObjectPath string
	ModTime    int64
}

// Options configures one DebugInfoCollector run.
type Options struct {
	// Sources maps a DWARF-sourced reader to its translation-unit
	// identity. A reader absent from this map is assumed stabs-sourced:
	// its atoms contribute no synthesized stabs, because its own stabs
	// already arrived through the Stabs field.
	Sources map[atom.ReaderID]SourceInfo

	// Minimal restricts the de-duplicated passthrough stream to
	// GSYM/STSYM/LCSYM/FUN/SO/OSO/OPT/SOL, with names truncated to drop
	// the stab-type suffix after the separating colon (spec.md §4.7's
	// "minimal-stabs mode").
	Minimal bool
}

// DebugInfoCollector builds the final stabs stream for one link.
type DebugInfoCollector struct {
	Graph *atom.Graph
	// Stabs is the concatenated, file-order stream of stabs collected
	// directly from every stabs-sourced reader (already on Stab.Atom's
	// AtomID where the entry is atom-scoped, InvalidAtomID otherwise).
	Stabs []atom.Stab
	Opts  Options
	Log   linklog.Logger
}

func New(g *atom.Graph, stabs []atom.Stab, opts Options, log linklog.Logger) *DebugInfoCollector {
	if log == nil {
		log = linklog.Discard{}
	}
	return &DebugInfoCollector{Graph: g, Stabs: stabs, Opts: opts, Log: log}
}

// Run returns the complete output stabs stream.
func (c *DebugInfoCollector) Run() ([]atom.Stab, error) {
	out := c.dedupeBinclEinclRuns(c.Stabs)
	if c.Opts.Minimal {
		out = minimalize(out)
	}
	synthesized, err := c.synthesizeFromDwarf()
	if err != nil {
		return nil, err
	}
	out = append(out, synthesized...)
	return out, nil
}

// dedupeBinclEinclRuns rewrites every repeated BINCL...EINCL run (by
// header-path name) into a single EXCL stab carrying the first run's
// checksum, except runs containing SLINE/BNSYM/FUN/ENSYM, which are
// "cannot-EXCL" and are always left intact (spec.md §4.7).
func (c *DebugInfoCollector) dedupeBinclEinclRuns(stabs []atom.Stab) []atom.Stab {
	type inclState struct {
		checksum uint64
		emitted  bool
	}
	seen := map[string]*inclState{}

	var out []atom.Stab
	i := 0
	for i < len(stabs) {
		s := stabs[i]
		if s.Type != types.N_BINCL {
			out = append(out, s)
			i++
			continue
		}

		j := i + 1
		cannotExcl := false
		for j < len(stabs) && stabs[j].Type != types.N_EINCL {
			switch stabs[j].Type {
			case types.N_SLINE, types.N_BNSYM, types.N_FUN, types.N_ENSYM:
				cannotExcl = true
			}
			j++
		}
		if j >= len(stabs) {
			out = append(out, stabs[i:]...)
			break
		}
		run := stabs[i : j+1]
		if cannotExcl {
			out = append(out, run...)
			i = j + 1
			continue
		}

		sum := checksumRange(run[1 : len(run)-1])
		st, ok := seen[s.String]
		if !ok {
			st = &inclState{checksum: sum}
			seen[s.String] = st
		}
		if !st.emitted {
			out = append(out, run...)
			st.emitted = true
		} else {
			out = append(out, atom.Stab{Type: types.N_EXCL, String: s.String, Value: st.checksum})
		}
		i = j + 1
	}
	return out
}

// checksumRange sums every byte of every stab string in the range, with
// the first parenthesized decimal in each string excluded, per spec.md
// §4.7's checksum definition.
func checksumRange(stabs []atom.Stab) uint64 {
	var sum uint64
	for _, s := range stabs {
		str := stripFirstParenDecimal(s.String)
		for i := 0; i < len(str); i++ {
			sum += uint64(str[i])
		}
	}
	return sum
}

func stripFirstParenDecimal(s string) string {
	open := strings.IndexByte(s, '(')
	if open < 0 {
		return s
	}
	rest := s[open+1:]
	closeRel := strings.IndexByte(rest, ')')
	if closeRel < 0 {
		return s
	}
	inner := rest[:closeRel]
	if inner == "" {
		return s
	}
	for i := 0; i < len(inner); i++ {
		if inner[i] < '0' || inner[i] > '9' {
			return s
		}
	}
	closeAbs := open + 1 + closeRel
	return s[:open] + s[closeAbs+1:]
}

// minimalize restricts stabs to the minimal-stabs set and truncates each
// surviving name string to drop the stab-suffix after its separating
// colon (spec.md §4.7).
func minimalize(stabs []atom.Stab) []atom.Stab {
	allowed := map[uint8]bool{
		types.N_GSYM: true, types.N_STSYM: true, types.N_LCSYM: true,
		types.N_FUN: true, types.N_SO: true, types.N_OSO: true,
		types.N_OPT: true, types.N_SOL: true,
	}
	var out []atom.Stab
	for _, s := range stabs {
		if !allowed[s.Type] {
			continue
		}
		if name, _, ok := splitStabName(s.String); ok {
			s.String = name
		}
		out = append(out, s)
	}
	return out
}

// splitStabName finds the colon separating a stab's symbol name from its
// suffix, treating "::" (C++ scope) and ":]" (Objective-C method) as
// part of the name rather than the separator.
func splitStabName(s string) (name, suffix string, ok bool) {
	i := 0
	for i < len(s) {
		if s[i] != ':' {
			i++
			continue
		}
		if i+1 < len(s) && s[i+1] == ':' {
			i += 2
			continue
		}
		if i+1 < len(s) && s[i+1] == ']' {
			i++
			continue
		}
		return s[:i], s[i+1:], true
	}
	return s, "", false
}

// dwarfSourcedAtomsInOrder returns every live atom whose reader has a
// registered SourceInfo, in creation order.
func (c *DebugInfoCollector) dwarfSourcedAtomsInOrder() []*atom.Atom {
	var out []*atom.Atom
	for _, a := range c.Graph.All() {
		if !a.Live {
			continue
		}
		if _, ok := c.Opts.Sources[a.Reader]; !ok {
			continue
		}
		out = append(out, a)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].SortOrder < out[j].SortOrder })
	return out
}

func isFunctionAtom(a *atom.Atom) bool {
	return a.SegmentName == "__TEXT" && a.SectionName == "__text"
}

// synthesizeFromDwarf implements spec.md §4.7's DWARF-input branch: for
// each DWARF-sourced atom, opening an SO/OSO pair whenever its reader's
// translation unit changes, then emitting BNSYM/FUN/SOL*/ENSYM for code
// atoms or STSYM/GSYM for data atoms.
func (c *DebugInfoCollector) synthesizeFromDwarf() ([]atom.Stab, error) {
	if len(c.Opts.Sources) == 0 {
		return nil, nil
	}
	atoms := c.dwarfSourcedAtomsInOrder()

	var out []atom.Stab
	var curReader atom.ReaderID
	haveSource := false
	soOpen := false
	seenSOL := map[string]bool{}

	for _, a := range atoms {
		src, ok := c.Opts.Sources[a.Reader]
		if !ok {
			continue
		}
		if !haveSource || a.Reader != curReader {
			if soOpen {
				out = append(out, atom.Stab{Type: types.N_SO})
			}
			out = append(out, atom.Stab{Type: types.N_SO, String: src.Dir})
			out = append(out, atom.Stab{Type: types.N_SO, String: src.File})
			out = append(out, atom.Stab{Type: types.N_OSO, String: src.ObjectPath, Value: uint64(src.ModTime)})
			soOpen = true
			curReader = a.Reader
			haveSource = true
			seenSOL = map[string]bool{}
		}

		if isFunctionAtom(a) {
			out = append(out, atom.Stab{Atom: a.ID, Type: types.N_BNSYM, Value: a.Address})
			out = append(out, atom.Stab{Atom: a.ID, Type: types.N_FUN, String: a.Name, Value: a.Address})
			for _, li := range a.LineInfo {
				if li.FileName == "" || seenSOL[li.FileName] {
					continue
				}
				seenSOL[li.FileName] = true
				out = append(out, atom.Stab{Atom: a.ID, Type: types.N_SOL, String: li.FileName})
			}
			out = append(out, atom.Stab{Atom: a.ID, Type: types.N_ENSYM, Value: a.Address + a.Size})
			continue
		}

		typ := uint8(types.N_STSYM)
		if a.Scope != atom.ScopeTranslationUnit && a.SectionName != "__eh_frame" {
			typ = types.N_GSYM
		}
		out = append(out, atom.Stab{Atom: a.ID, Type: typ, String: a.Name, Value: a.Address})
	}

	if soOpen {
		out = append(out, atom.Stab{Type: types.N_SO})
	}
	return out, nil
}
