package security

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestFilterCheck(t *testing.T) {
	t.Parallel()

	f := NewFilter([]string{"client.destroy", "  ", "TOKEN"})

	tests := []struct {
		name      string
		candidate string
		pattern   string
	}{
		{"clean program", `{"steps":[{"call":"message.reply","args":{"content":"hi"}}]}`, ""},
		{"process access", `process.exit(1)`, "process."},
		{"bracket access", `process["env"]`, "process["},
		{"require", `const cp = require("child_process")`, "require("},
		{"dynamic import", `await import("fs")`, "import("},
		{"fs", `fs.readFileSync("/etc/passwd")`, "fs."},
		{"eval", `eval("1+1")`, "eval("},
		{"function ctor", `new Function("return 1")()`, "Function("},
		{"proto", `({}).__proto__`, "__proto__"},
		{"constructor", `x.constructor["prototype"]`, "constructor["},
		{"client token", `{"steps":[{"call":"message.reply","args":{"content":"${client.token}"}}]}`, "client.token"},
		{"extra entry is case-sensitive", `{"content":"Bot TOKEN"}`, "TOKEN"},
		{"fs after a non-identifier", `{"content":"x fs.rm"}`, "fs."},
		{"word ending in fs", `{"topic":"Post your favourite gifs."}`, ""},
		{"plain word token", `{"content":"Your access token expired"}`, ""},
		{"other case", `{"content":"PROCESS.exit"}`, ""},
		{"identifier suffix", `{"content":"subprocess.run"}`, ""},
		{"later boundary match", `{"content":"gifs. then fs.unlink"}`, "fs."},
		{"extra entry", `client.destroy()`, "client.destroy"},
		{"go exec", `import "os/exec"`, "os/exec"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := f.Check(tt.candidate)
			if tt.pattern == "" {
				if err != nil {
					t.Fatalf("unexpected rejection: %v", err)
				}
				return
			}
			var rej *Rejection
			if !errors.As(err, &rej) {
				t.Fatalf("expected *Rejection, got %v", err)
			}
			if rej.Pattern != tt.pattern {
				t.Errorf("pattern = %q, want %q", rej.Pattern, tt.pattern)
			}
			if !errors.Is(err, ErrSynthesisRejected) {
				t.Error("rejection must wrap ErrSynthesisRejected")
			}
			if !strings.Contains(err.Error(), tt.pattern) {
				t.Errorf("message %q does not name the pattern", err)
			}
		})
	}
}

func TestFilterFirstMatchWins(t *testing.T) {
	t.Parallel()

	// "require(" precedes "child_process" in the denylist.
	err := NewFilter(nil).Check(`require("child_process")`)
	var rej *Rejection
	if !errors.As(err, &rej) || rej.Pattern != "require(" {
		t.Fatalf("got %v, want require( rejection", err)
	}
}

func TestFilterDeduplicatesExtras(t *testing.T) {
	t.Parallel()

	f := NewFilter([]string{"eval(", " eval( ", "Eval("})
	if got, want := len(f.Patterns()), len(DefaultDenylist)+1; got != want {
		t.Errorf("patterns = %d, want %d", got, want)
	}
}

func TestInputGuardrail(t *testing.T) {
	t.Parallel()

	g := NewInputGuardrail(10, 2)

	if err := g.Validate("u1", strings.Repeat("a", 11)); !errors.Is(err, ErrInputTooLong) {
		t.Errorf("long input: got %v", err)
	}
	if err := g.Validate("u1", "hello"); err != nil {
		t.Errorf("first: %v", err)
	}
	if err := g.Validate("u1", "hello"); err != nil {
		t.Errorf("second: %v", err)
	}
	if err := g.Validate("u1", "hello"); !errors.Is(err, ErrRateLimited) {
		t.Errorf("third: got %v, want rate limited", err)
	}
	if err := g.Validate("u2", "hello"); err != nil {
		t.Errorf("other user: %v", err)
	}
}

func TestRateLimiterWindowSlides(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(1, time.Minute)
	rl.now = func() time.Time { return now }

	if !rl.Allow("u") {
		t.Fatal("first request denied")
	}
	if rl.Allow("u") {
		t.Fatal("second request within window allowed")
	}
	now = now.Add(61 * time.Second)
	if !rl.Allow("u") {
		t.Fatal("request after window denied")
	}
}
