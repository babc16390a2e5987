package main

import (
	"fmt"

	"github.com/apple-oss-distributions/ld64-sub000/internal/arch"
)

// ParseArch turns a -arch flag value into the core's Arch enum; it is the
// inverse of Arch.String, which internal/arch itself has no need of since
// every other collaborator only ever receives an Arch, never parses one.
func ParseArch(name string) (arch.Arch, error) {
	switch name {
	case "i386":
		return arch.I386, nil
	case "x86_64":
		return arch.X8664, nil
	case "arm", "armv7":
		return arch.ARM, nil
	case "arm64":
		return arch.ARM64, nil
	case "ppc":
		return arch.PPC, nil
	case "ppc64":
		return arch.PPC64, nil
	default:
		return 0, fmt.Errorf("unrecognized architecture %q", name)
	}
}
