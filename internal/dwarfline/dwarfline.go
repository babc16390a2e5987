// Package dwarfline is a black-box wrapper around go-dwarf's line-number
// program decoder (SPEC_FULL.md §6): it walks every compilation unit's
// line table and flattens it into plain (PC, file, line) rows, so
// internal/debuginfo never has to know the line-number program's opcode
// encoding.
package dwarfline

import (
	"io"

	"github.com/blacktop/go-dwarf"
)

// LineEntry is one row of a flattened DWARF line table.
type LineEntry struct {
	PC   uint64
	File string
	Line int
}

// Decode returns every line-table row across every compilation unit in d,
// in appearance order.
func Decode(d *dwarf.Data) ([]LineEntry, error) {
	var out []LineEntry
	r := d.Reader()
	for {
		cu, err := r.Next()
		if err != nil {
			return nil, err
		}
		if cu == nil {
			break
		}
		if cu.Tag != dwarf.TagCompileUnit {
			r.SkipChildren()
			continue
		}

		lr, err := d.LineReader(cu)
		if err != nil {
			return nil, err
		}
		if lr != nil {
			var entry dwarf.LineEntry
			for {
				if err := lr.Next(&entry); err == io.EOF {
					break
				} else if err != nil {
					return nil, err
				}
				file := ""
				if entry.File != nil {
					file = entry.File.Name
				}
				out = append(out, LineEntry{PC: entry.Address, File: file, Line: entry.Line})
			}
		}
		r.SkipChildren()
	}
	return out, nil
}
