// Package security holds the guardrails applied around the operator's
// messages and around every synthesized action program.
package security

import (
	"errors"
	"fmt"
	"strings"
)

// ErrSynthesisRejected is wrapped by every rejection of a synthesized program.
var ErrSynthesisRejected = errors.New("synthesized action rejected")

// DefaultDenylist are script forms that never appear in an acceptable
// program. Matching is case-sensitive, and an entry that starts with an
// identifier character only matches at an identifier boundary, so "fs."
// matches "fs.rm" but not "gifs.".
var DefaultDenylist = []string{
	"process.",
	"process[",
	"require(",
	"child_process",
	"import(",
	"fs.",
	"eval(",
	"Function(",
	"os/exec",
	"syscall",
	"__proto__",
	"constructor[",
	"client.token",
}

// Rejection names the denylist entry that matched.
type Rejection struct {
	Pattern string
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("Security violation: generated code contains forbidden pattern %q", r.Pattern)
}

func (r *Rejection) Unwrap() error { return ErrSynthesisRejected }

// Filter is a substring denylist. It accepts or rejects; it never rewrites.
type Filter struct {
	patterns []string
}

// NewFilter builds a filter from the default denylist plus extra entries.
func NewFilter(extra []string) *Filter {
	seen := make(map[string]bool)
	var patterns []string
	for _, p := range append(append([]string{}, DefaultDenylist...), extra...) {
		p = strings.TrimSpace(p)
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		patterns = append(patterns, p)
	}
	return &Filter{patterns: patterns}
}

// Check returns nil for an acceptable candidate or a *Rejection naming the
// first matching entry in denylist order.
func (f *Filter) Check(candidate string) error {
	for _, p := range f.patterns {
		if containsAtBoundary(candidate, p) {
			return &Rejection{Pattern: p}
		}
	}
	return nil
}

// containsAtBoundary reports whether s contains p where p is not the tail
// of a longer identifier.
func containsAtBoundary(s, p string) bool {
	bounded := isIdentByte(p[0])
	for i := 0; ; {
		j := strings.Index(s[i:], p)
		if j < 0 {
			return false
		}
		at := i + j
		if !bounded || at == 0 || !isIdentByte(s[at-1]) {
			return true
		}
		i = at + 1
	}
}

func isIdentByte(b byte) bool {
	return b == '_' || b == '$' ||
		('a' <= b && b <= 'z') || ('A' <= b && b <= 'Z') || ('0' <= b && b <= '9')
}

// Patterns returns a copy of the active denylist.
func (f *Filter) Patterns() []string {
	return append([]string(nil), f.patterns...)
}
