// Package exportstrie implements the ExportsTrie component (spec.md
// §4.8): decoding a dylib's LC_DYLD_INFO/LC_DYLD_EXPORTS_TRIE export trie
// into entries, and encoding a linked image's export set back into the
// same ULEB128-prefix-tree format dyld expects.
//
// The decode half is adapted from the teacher's pkg/trie walk (a
// stack-driven depth-first traversal of the compressed trie); the encode
// half is new, needed because this package also plays the Writer role
// the teacher never implements (go-macho only reads Mach-O, never
// produces it).
package exportstrie

import (
	"bytes"
	"fmt"
	"io"
	"sort"

	"github.com/apple-oss-distributions/ld64-sub000/internal/atom"
	"github.com/apple-oss-distributions/ld64-sub000/types"
)

// Options configures trie encoding (SPEC_FULL.md §9, Open Question 3).
type Options struct {
	// Align pads the encoded trie's length up to a multiple of Align
	// bytes. Zero means "use the default," not "disable padding" — ld64
	// always pads export info to the target's pointer size inside
	// LINKEDIT, so a caller must pass 1 explicitly to turn padding off.
	Align uint64
}

// defaultAlign is the 64-bit pointer size; 32-bit target drivers pass
// Options{Align: 4} explicitly.
const defaultAlign = 8

// ReadUleb128 decodes one ULEB128-encoded integer from r.
func ReadUleb128(r *bytes.Reader) (uint64, error) {
	var result uint64
	var shift uint64
	for {
		b, err := r.ReadByte()
		if err != nil {
			return 0, fmt.Errorf("parsing uleb128: %w", err)
		}
		result |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			break
		}
		shift += 7
	}
	return result, nil
}

func putUleb128(buf *bytes.Buffer, v uint64) {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		buf.WriteByte(b)
		if v == 0 {
			return
		}
	}
}

type trieNode struct {
	offset  uint64
	symName []byte
}

// Decode walks the compressed trie in data and returns one atom.ExportEntry
// per terminal node, with addresses already relocated by loadAddress
// (spec.md §4.8: export entries carry an image-relative offset on disk,
// an absolute address once the image is loaded).
func Decode(data []byte, loadAddress uint64) ([]atom.ExportEntry, error) {
	var entries []atom.ExportEntry
	stack := []trieNode{{offset: 0}}
	r := bytes.NewReader(data)

	for len(stack) > 0 {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if _, err := r.Seek(int64(node.offset), io.SeekStart); err != nil {
			return nil, fmt.Errorf("seeking to trie node %#x: %w", node.offset, err)
		}
		terminalSize, err := ReadUleb128(r)
		if err != nil {
			return nil, err
		}

		if terminalSize != 0 {
			entry, err := decodeTerminal(r, node.symName, loadAddress)
			if err != nil {
				return nil, err
			}
			entries = append(entries, entry)
		}

		if _, err := r.Seek(int64(node.offset+terminalSize+1), io.SeekStart); err != nil {
			return nil, fmt.Errorf("seeking past terminal: %w", err)
		}
		childCount, err := r.ReadByte()
		if err == io.EOF {
			continue
		}
		if err != nil {
			return nil, err
		}

		for i := 0; i < int(childCount); i++ {
			label, err := readCString(r)
			if err != nil {
				return nil, err
			}
			childOffset, err := ReadUleb128(r)
			if err != nil {
				return nil, err
			}
			full := make([]byte, 0, len(node.symName)+len(label))
			full = append(full, node.symName...)
			full = append(full, label...)
			stack = append(stack, trieNode{offset: childOffset, symName: full})
		}
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

func decodeTerminal(r *bytes.Reader, symName []byte, loadAddress uint64) (atom.ExportEntry, error) {
	rawFlags, err := ReadUleb128(r)
	if err != nil {
		return atom.ExportEntry{}, err
	}
	flags := types.ExportFlag(rawFlags)

	var other uint64
	var importName string

	switch {
	case flags.ReExport():
		other, err = ReadUleb128(r)
		if err != nil {
			return atom.ExportEntry{}, err
		}
		b, err := readCString(r)
		if err != nil {
			return atom.ExportEntry{}, err
		}
		importName = string(b)
	case flags.StubAndResolver():
		other, err = ReadUleb128(r)
		if err != nil {
			return atom.ExportEntry{}, err
		}
		other += loadAddress
	}

	value, err := ReadUleb128(r)
	if err != nil {
		return atom.ExportEntry{}, err
	}
	if (flags.Regular() || flags.ThreadLocal()) && !flags.ReExport() {
		value += loadAddress
	}

	return atom.ExportEntry{
		Name:       string(symName),
		Offset:     value,
		Flags:      uint64(flags),
		Other:      other,
		ImportName: importName,
	}, nil
}

func readCString(r *bytes.Reader) ([]byte, error) {
	var out []byte
	for {
		b, err := r.ReadByte()
		if err == io.EOF || b == 0 {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
}
