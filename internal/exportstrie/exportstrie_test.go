package exportstrie

import (
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/apple-oss-distributions/ld64-sub000/internal/atom"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	const loadAddress = 0x100000000
	entries := []atom.ExportEntry{
		{Name: "_foo", Offset: loadAddress + 0x1000},
		{Name: "_foobar", Offset: loadAddress + 0x1010},
		{Name: "_bar", Offset: loadAddress + 0x2000},
	}

	encoded := Encode(entries, loadAddress, Options{})
	got, err := Decode(encoded, loadAddress)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	want := append([]atom.ExportEntry{}, entries...)
	sort.Slice(want, func(i, j int) bool { return want[i].Name < want[j].Name })

	if diff := cmp.Diff(want, got, cmpopts.EquateEmpty()); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestEncodeDefaultsToEightByteAlignment(t *testing.T) {
	entries := []atom.ExportEntry{{Name: "_a", Offset: 0x10}}
	out := Encode(entries, 0, Options{})
	if len(out)%8 != 0 {
		t.Fatalf("want default padding to 8 bytes, got length %d", len(out))
	}
}

func TestEncodeAlignOneDisablesPadding(t *testing.T) {
	entries := []atom.ExportEntry{{Name: "_a", Offset: 0x10}}
	unpadded := Encode(entries, 0, Options{Align: 1})
	padded := Encode(entries, 0, Options{})
	if len(padded)%8 != 0 {
		t.Fatalf("want default-aligned output padded to 8 bytes, got length %d", len(padded))
	}
	if len(unpadded) > len(padded) {
		t.Fatalf("Align:1 output (%d) should never be longer than the default-padded output (%d)", len(unpadded), len(padded))
	}
}
