// Package linklog is the core's logging seam (SPEC_FULL.md §4.9): a small
// interface wrapping the standard log package, so cmd/ld can swap in a
// no-op for tests without the core depending on a logging framework.
package linklog

import "log"

// Logger receives operator-facing warnings and, when verbose is enabled,
// trace messages. It deliberately has the same shape as the handful of
// log.Printf call sites the core needs, not a structured-logging API.
type Logger interface {
	Warnf(format string, args ...any)
	Tracef(format string, args ...any)
}

// Standard wraps the standard library's log package, matching the
// teacher's sparse use of log.Printf for operator warnings.
type Standard struct {
	Verbose bool
}

func (s Standard) Warnf(format string, args ...any) {
	log.Printf("warning: "+format, args...)
}

func (s Standard) Tracef(format string, args ...any) {
	if s.Verbose {
		log.Printf(format, args...)
	}
}

// Discard drops every message; used by tests and by callers that handle
// presentation themselves (e.g. DeadStripper.ExplainLiveness returns data
// instead of logging, per SPEC_FULL.md §9).
type Discard struct{}

func (Discard) Warnf(string, ...any)  {}
func (Discard) Tracef(string, ...any) {}
