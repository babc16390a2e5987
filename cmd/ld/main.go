// Command ld is the driver for the static linker core: it parses the
// command line, wires RelocatableReader/ArchiveReader/DylibReader input
// into the Resolver, runs the rest of spec.md §2's pipeline, and writes
// the resulting container image to disk.
//
// Command-line parsing, fat-file slicing and tracing output are
// explicitly out of the core's scope (spec.md §1); this file is the thin
// collaborator shim spec.md §6 says must still exist for the repository
// to build and run end to end.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/apple-oss-distributions/ld64-sub000/internal/linkerr"
	"github.com/apple-oss-distributions/ld64-sub000/internal/stubs"
	"github.com/apple-oss-distributions/ld64-sub000/internal/symtab"
	"github.com/apple-oss-distributions/ld64-sub000/types"
	"github.com/xyproto/env/v2"
)

// multiFlag collects a repeatable -u/-exported_symbols_list-style flag
// into a slice, the way the standard flag package expects a custom Value
// to behave for options given more than once on the command line.
type multiFlag []string

func (m *multiFlag) String() string { return fmt.Sprint([]string(*m)) }
func (m *multiFlag) Set(v string) error {
	*m = append(*m, v)
	return nil
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("ld", flag.ContinueOnError)

	output := fs.String("o", "a.out", "output file path")
	archFlag := fs.String("arch", "x86_64", "target architecture (i386, x86_64, arm, arm64, ppc, ppc64)")
	entry := fs.String("e", "_main", "entry point symbol")
	dylib := fs.Bool("dylib", false, "produce a dynamic library (MH_DYLIB) instead of an executable")
	bundle := fs.Bool("bundle", false, "produce a loadable bundle (MH_BUNDLE) instead of an executable")
	relocatable := fs.Bool("r", false, "merge inputs into one relocatable object (MH_OBJECT)")
	deadStrip := fs.Bool("dead_strip", false, "remove code and data unreachable from any root")
	allGlobalsRoots := fs.Bool("all_load", false, "treat every global symbol as a dead-strip root")
	flatNamespace := fs.Bool("flat_namespace", false, "resolve undefines against the flat combined symbol space")
	undefinedFlag := fs.String("undefined", "error", "treatment of remaining undefined symbols (error, suppress, dynamic_lookup, warning)")
	stubHelper := fs.String("stub_binding_helper", "", "name of the dyld stub binding helper symbol, if any")
	weakPolicy := fs.String("weak_import_policy", "error", "conflicting weak-import resolution (error, prefer_weak, prefer_non_weak)")
	minimalStabs := fs.Bool("S", false, "emit minimal debug-symbol table")
	verbose := fs.Bool("v", false, "verbose logging")
	clientName := fs.String("client_name", "", "name this link presents to a sub-framework-private dylib's allowable-clients check")
	forceLoadArchives := fs.Bool("force_load_archives", false, "load every member of every archive input, not just members a required symbol pulls in")
	loadAllObjC := fs.Bool("ObjC", false, "load every archive member that defines an Objective-C class")

	var requiredSyms multiFlag
	fs.Var(&requiredSyms, "u", "force symbol to be resolved and treated as a root (repeatable)")
	var exportedList multiFlag
	fs.Var(&exportedList, "exported_symbols_list", "symbol name exported regardless of scope (repeatable)")

	if err := fs.Parse(args); err != nil {
		return 2
	}

	a, err := ParseArch(*archFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ld failed: %s\n", err)
		return 1
	}

	undefined, err := parseUndefined(*undefinedFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ld failed: %s for architecture %s\n", err, a)
		return 1
	}
	weakImportPolicy, err := parseWeakImportPolicy(*weakPolicy)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ld failed: %s for architecture %s\n", err, a)
		return 1
	}

	fileType := types.MH_EXECUTE
	switch {
	case *relocatable:
		fileType = types.MH_OBJECT
	case *dylib:
		fileType = types.MH_DYLIB
	case *bundle:
		fileType = types.MH_BUNDLE
	}

	cfg := Config{
		Arch:                  a,
		FileType:              fileType,
		Output:                *output,
		Inputs:                fs.Args(),
		EntryPoint:            *entry,
		RequiredSymbols:       requiredSyms,
		ExportedSymbols:       exportedList,
		DeadStrip:             *deadStrip,
		AllGlobalsAreRoots:    *allGlobalsRoots,
		FlatNamespace:         *flatNamespace,
		Undefined:             undefined,
		StubBindingHelperName: *stubHelper,
		WeakImportPolicy:      weakImportPolicy,
		Relocatable:           *relocatable,
		MinimalStabs:          *minimalStabs,
		IslandRegionSize:      islandRegionSizeFromEnv(),
		Verbose:               *verbose,
		ClientName:            *clientName,
		ForceLoadArchives:     *forceLoadArchives,
		LoadAllObjCClasses:    *loadAllObjC,
	}

	if len(cfg.Inputs) == 0 {
		fmt.Fprintln(os.Stderr, "ld failed: no input files")
		return 1
	}

	image, err := Link(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", formatLinkError(err, a))
		return 1
	}

	if err := writeOutput(cfg.Output, image); err != nil {
		fmt.Fprintf(os.Stderr, "ld failed: %s\n", err)
		return 1
	}

	return 0
}

// islandRegionSizeFromEnv resolves the one environment-driven tuning
// knob SPEC_FULL.md's Open Question 2 leaves configurable: an
// LD_ISLAND_REGION_SIZE override of the 15 MiB PowerPC branch-island
// spacing default, read the way flapc reads its own environment knobs.
// Zero means "use the Layouter's built-in default."
func islandRegionSizeFromEnv() uint64 {
	return uint64(env.Int64("LD_ISLAND_REGION_SIZE", 0))
}

func parseUndefined(s string) (symtab.UndefinedTreatment, error) {
	switch s {
	case "error":
		return symtab.UndefinedError, nil
	case "suppress":
		return symtab.UndefinedSuppress, nil
	case "dynamic_lookup":
		return symtab.UndefinedDynamicLookup, nil
	case "warning":
		return symtab.UndefinedWarning, nil
	default:
		return 0, fmt.Errorf("unrecognized -undefined treatment %q", s)
	}
}

func parseWeakImportPolicy(s string) (stubs.WeakImportPolicy, error) {
	switch s {
	case "error":
		return stubs.WeakImportError, nil
	case "prefer_weak":
		return stubs.WeakImportPreferWeak, nil
	case "prefer_non_weak":
		return stubs.WeakImportPreferNonWeak, nil
	default:
		return 0, fmt.Errorf("unrecognized -weak_import_policy %q", s)
	}
}

// formatLinkError renders spec.md §7's "ld failed: <msg> for architecture
// <arch>" convention, filling in the architecture name on any *linkerr.Error
// that didn't already carry one.
func formatLinkError(err error, a interface{ String() string }) string {
	if le, ok := err.(*linkerr.Error); ok && le.Arch == "" {
		err = le.WithArch(a.String())
	}
	return "ld failed: " + err.Error()
}

// writeOutput implements spec.md §7's "no partial output files are left
// on disk" guarantee: the destination is unlinked first, then the whole
// image is written in one call before the descriptor is closed, so an
// abnormal termination leaves at most a truncated file rather than a
// stale previous link's output.
func writeOutput(path string, image []byte) error {
	os.Remove(path)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0755)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()
	if _, err := f.WriteAt(image, 0); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}
