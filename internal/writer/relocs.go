package writer

import (
	"encoding/binary"

	"github.com/apple-oss-distributions/ld64-sub000/internal/container"
	"github.com/apple-oss-distributions/ld64-sub000/internal/fixup"
)

// splitRelocs flattens every section's relocation list (FixupEngine's
// relocatable-mode output) into the local/external partition the
// LINKEDIT tail stores them as (spec.md §6): scattered and
// section-relative records are local, vanilla extern records are
// external.
func splitRelocs(sections []fixup.SectionRelocs) (local, extern []container.Reloc) {
	for _, sr := range sections {
		for _, r := range sr.Relocs {
			if !r.Scattered && r.Extern {
				extern = append(extern, r)
			} else {
				local = append(local, r)
			}
		}
	}
	return local, extern
}

func encodeRelocs(relocs []container.Reloc, bo binary.ByteOrder) []byte {
	buf := make([]byte, len(relocs)*8)
	(&container.Section{Relocs: relocs}).PutRelocs(buf, bo)
	return buf
}
