package main

import (
	"fmt"
	"io"
	"os"

	"github.com/apple-oss-distributions/ld64-sub000/internal/archivereader"
	"github.com/apple-oss-distributions/ld64-sub000/internal/arch"
	"github.com/apple-oss-distributions/ld64-sub000/internal/atom"
	"github.com/apple-oss-distributions/ld64-sub000/internal/container"
	"github.com/apple-oss-distributions/ld64-sub000/internal/debuginfo"
	"github.com/apple-oss-distributions/ld64-sub000/internal/dylibreader"
	"github.com/apple-oss-distributions/ld64-sub000/internal/objreader"
	"github.com/apple-oss-distributions/ld64-sub000/internal/symtab"
	"github.com/apple-oss-distributions/ld64-sub000/types"
)

const arMagic = "!<arch>\n"

// inputSet accumulates everything the Resolver needs from the file list:
// the just-in-time providers archive and dylib readers register
// themselves as, and the undefined names eager object loading already
// knows it will need satisfied. archiveFiles stays open for the whole
// link (archive members are decoded lazily, possibly as late as
// DeadStripper's resolveLate), and is closed once by the driver at exit.
type inputSet struct {
	providers     []symtab.Provider
	dylibs        []*dylibreader.Reader
	requiredNames []string
	nextReaderID  atom.ReaderID
	archiveFiles  []*os.File

	// stabs and sources accumulate every object's own debug info (stabs
	// passed through directly, DWARF-derived translation-unit identity
	// collected by reader ID) for debuginfo.New to consume, instead of
	// the link always running with no stabs input at all.
	stabs   []atom.Stab
	sources map[atom.ReaderID]debuginfo.SourceInfo
}

// loadInputs classifies and reads every file on the command line, per
// spec.md §2's "command-line file list" stage: relocatable objects are
// read eagerly, archives and dylibs register as lazy providers the
// Resolver only consults once a name is actually required.
func loadInputs(g *atom.Graph, paths []string, a arch.Arch, clientName string, archiveOpts archivereader.Options) (*inputSet, error) {
	in := &inputSet{}

	for _, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("opening %s: %w", path, err)
		}

		isArchive, err := sniffArchive(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		if isArchive {
			if err := in.addArchive(g, path, f, a, archiveOpts); err != nil {
				f.Close()
				return nil, err
			}
			in.archiveFiles = append(in.archiveFiles, f)
			continue
		}

		mf, err := container.NewFile(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("%s: %w", path, err)
		}

		switch mf.Type {
		case types.MH_DYLIB, types.MH_DYLIB_STUB:
			if err := in.addDylib(path, f, mf, clientName); err != nil {
				f.Close()
				return nil, err
			}
			f.Close() // spec.md §5: dylib readers unmap once exports are built
		case types.MH_OBJECT:
			if err := in.addObject(g, path, f, mf, a); err != nil {
				f.Close()
				return nil, err
			}
			f.Close() // objreader copies every atom's bytes during Load
		default:
			f.Close()
			return nil, fmt.Errorf("%s: unsupported input file type %v", path, mf.Type)
		}
	}

	return in, nil
}

// Close releases every archive file kept open for lazy member decoding.
func (in *inputSet) Close() {
	for _, f := range in.archiveFiles {
		f.Close()
	}
}

func sniffArchive(r io.ReaderAt) (bool, error) {
	var hdr [8]byte
	n, err := r.ReadAt(hdr[:], 0)
	if err != nil && err != io.EOF {
		return false, err
	}
	return n == len(hdr) && string(hdr[:]) == arMagic, nil
}

func (in *inputSet) addObject(g *atom.Graph, path string, f *os.File, mf *container.File, a arch.Arch) error {
	rid := in.nextReaderID
	in.nextReaderID++
	rd := objreader.New(path, mf, rid, a)
	if _, err := rd.Load(g); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	in.requiredNames = append(in.requiredNames, rd.UndefinedNames()...)
	in.stabs = append(in.stabs, rd.Stabs()...)
	if si, ok := rd.SourceInfo(); ok {
		if in.sources == nil {
			in.sources = make(map[atom.ReaderID]debuginfo.SourceInfo)
		}
		in.sources[rid] = debuginfo.SourceInfo{
			Dir:        si.Dir,
			File:       si.File,
			ObjectPath: si.ObjectPath,
			ModTime:    si.ModTime,
		}
	}
	return nil
}

func (in *inputSet) addArchive(g *atom.Graph, path string, f *os.File, a arch.Arch, opts archivereader.Options) error {
	st, err := f.Stat()
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	rid := in.nextReaderID
	in.nextReaderID++
	rd, err := archivereader.New(path, f, st.Size(), rid, a, g, opts)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	in.providers = append(in.providers, rd)
	return nil
}

func (in *inputSet) addDylib(path string, f *os.File, mf *container.File, clientName string) error {
	rid := in.nextReaderID
	in.nextReaderID++
	rd, err := dylibreader.New(path, mf, rid, 0)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	// A sub-framework-private dylib's LC_SUB_CLIENT list binds regardless
	// of whether -client_name was given: linking against one without
	// naming an allowed client fails the same way ld64 itself refuses it.
	if err := rd.CheckClient(clientName); err != nil {
		return err
	}
	in.providers = append(in.providers, rd)
	in.dylibs = append(in.dylibs, rd)
	return nil
}
