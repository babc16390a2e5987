package dwarfline

import (
	"testing"

	"github.com/blacktop/go-dwarf"
)

func TestDecodeOnEmptyDataReturnsNoEntries(t *testing.T) {
	d, err := dwarf.New(nil, nil, nil, nil, nil, nil, nil, nil)
	if err != nil {
		t.Fatalf("dwarf.New: %v", err)
	}
	entries, err := Decode(d)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("want no line entries from an empty DWARF section set, got %d", len(entries))
	}
}
