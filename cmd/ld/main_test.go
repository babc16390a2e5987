package main

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/apple-oss-distributions/ld64-sub000/internal/arch"
	"github.com/apple-oss-distributions/ld64-sub000/internal/linkerr"
)

func TestParseArch(t *testing.T) {
	cases := map[string]arch.Arch{
		"i386": arch.I386, "x86_64": arch.X8664, "arm": arch.ARM,
		"arm64": arch.ARM64, "ppc": arch.PPC, "ppc64": arch.PPC64,
	}
	for in, want := range cases {
		got, err := ParseArch(in)
		if err != nil {
			t.Fatalf("ParseArch(%q): %v", in, err)
		}
		if got != want {
			t.Errorf("ParseArch(%q) = %v, want %v", in, got, want)
		}
	}
	if _, err := ParseArch("sparc"); err == nil {
		t.Fatal("want error for unrecognized architecture")
	}
}

func TestParseUndefined(t *testing.T) {
	if _, err := parseUndefined("nonsense"); err == nil {
		t.Fatal("want error for unrecognized -undefined treatment")
	}
	if _, err := parseUndefined("dynamic_lookup"); err != nil {
		t.Fatalf("parseUndefined: %v", err)
	}
}

func TestFormatLinkErrorFillsMissingArch(t *testing.T) {
	err := linkerr.New(linkerr.UndefinedSymbol, "").WithSymbol("_foo")
	got := formatLinkError(err, arch.X8664)
	want := `ld failed: undefined symbol (symbol "_foo") for architecture x86_64`
	if got != want {
		t.Fatalf("formatLinkError = %q, want %q", got, want)
	}
}

func TestFormatLinkErrorLeavesExplicitArchAlone(t *testing.T) {
	err := linkerr.New(linkerr.UndefinedSymbol, "").WithArch("arm64")
	got := formatLinkError(err, arch.X8664)
	want := "ld failed: undefined symbol for architecture arm64"
	if got != want {
		t.Fatalf("formatLinkError = %q, want %q", got, want)
	}
}

func TestFormatLinkErrorNonLinkerr(t *testing.T) {
	got := formatLinkError(errors.New("boom"), arch.X8664)
	if got != "ld failed: boom" {
		t.Fatalf("formatLinkError = %q, want %q", got, "ld failed: boom")
	}
}

func TestWriteOutputOverwritesExistingFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.out")
	if err := os.WriteFile(path, []byte("stale previous link, much longer than the new one"), 0644); err != nil {
		t.Fatalf("seeding stale output: %v", err)
	}

	if err := writeOutput(path, []byte{0xca, 0xfe}); err != nil {
		t.Fatalf("writeOutput: %v", err)
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading output: %v", err)
	}
	if len(got) != 2 || got[0] != 0xca || got[1] != 0xfe {
		t.Fatalf("want exactly the new 2-byte image, got %x (no truncated leftover from the stale file)", got)
	}
}

func TestIslandRegionSizeFromEnv(t *testing.T) {
	t.Setenv("LD_ISLAND_REGION_SIZE", "1048576")
	if got := islandRegionSizeFromEnv(); got != 1048576 {
		t.Fatalf("islandRegionSizeFromEnv() = %d, want 1048576", got)
	}
}

func TestIslandRegionSizeFromEnvDefault(t *testing.T) {
	t.Setenv("LD_ISLAND_REGION_SIZE", "")
	if got := islandRegionSizeFromEnv(); got != 0 {
		t.Fatalf("islandRegionSizeFromEnv() = %d, want 0 default", got)
	}
}
