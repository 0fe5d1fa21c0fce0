package script

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// MaxSteps bounds the length of a program.
const MaxSteps = 25

// ErrInvalidProgram is returned for programs outside the vocabulary.
var ErrInvalidProgram = errors.New("invalid action program")

// Step is a single call in a program.
type Step struct {
	// Call is "<binding>.<name>", e.g. "client.createChannel".
	Call string `json:"call"`

	// Args are the call arguments. String values may contain ${name.field}.
	Args map[string]any `json:"args,omitempty"`

	// As names the step result for later references.
	As string `json:"as,omitempty"`
}

// Program is an ordered list of steps.
type Program struct {
	Steps []Step `json:"steps"`
}

var (
	refPattern  = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\.([A-Za-z_][A-Za-z0-9_]*)\}`)
	namePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
)

// Parse decodes and validates a program. Both {"steps": [...]} and a bare
// array of steps are accepted.
func Parse(source string) (*Program, error) {
	src := strings.TrimSpace(source)
	if src == "" {
		return nil, fmt.Errorf("%w: empty program", ErrInvalidProgram)
	}

	var prog Program
	if strings.HasPrefix(src, "[") {
		if err := decodeStrict(src, &prog.Steps); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidProgram, err)
		}
	} else if err := decodeStrict(src, &prog); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidProgram, err)
	}

	if err := prog.Validate(); err != nil {
		return nil, err
	}
	return &prog, nil
}

func decodeStrict(src string, v any) error {
	dec := json.NewDecoder(bytes.NewReader([]byte(src)))
	dec.DisallowUnknownFields()
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("trailing data after program")
	}
	return nil
}

// Validate checks every step against the vocabulary and verifies that
// references only point at earlier named steps.
func (p *Program) Validate() error {
	if len(p.Steps) == 0 {
		return fmt.Errorf("%w: no steps", ErrInvalidProgram)
	}
	if len(p.Steps) > MaxSteps {
		return fmt.Errorf("%w: %d steps exceeds the limit of %d", ErrInvalidProgram, len(p.Steps), MaxSteps)
	}

	named := make(map[string]bool)
	for i, step := range p.Steps {
		spec, err := lookup(step.Call)
		if err != nil {
			return fmt.Errorf("%w: step %d: %v", ErrInvalidProgram, i+1, err)
		}

		for _, req := range spec.required {
			if _, ok := step.Args[req]; !ok {
				return fmt.Errorf("%w: step %d: %s requires %q", ErrInvalidProgram, i+1, step.Call, req)
			}
		}
		for name, v := range step.Args {
			if !spec.accepts(name) {
				return fmt.Errorf("%w: step %d: %s does not accept %q", ErrInvalidProgram, i+1, step.Call, name)
			}
			if !isScalar(v) {
				return fmt.Errorf("%w: step %d: argument %q must be a string, number or boolean", ErrInvalidProgram, i+1, name)
			}
			if s, ok := v.(string); ok {
				for _, m := range refPattern.FindAllStringSubmatch(s, -1) {
					if !named[m[1]] {
						return fmt.Errorf("%w: step %d: reference to unknown step %q", ErrInvalidProgram, i+1, m[1])
					}
				}
			}
		}

		if step.As != "" {
			if !namePattern.MatchString(step.As) {
				return fmt.Errorf("%w: step %d: invalid result name %q", ErrInvalidProgram, i+1, step.As)
			}
			if named[step.As] {
				return fmt.Errorf("%w: step %d: duplicate result name %q", ErrInvalidProgram, i+1, step.As)
			}
			named[step.As] = true
		}
	}
	return nil
}

func isScalar(v any) bool {
	switch v.(type) {
	case string, bool, json.Number, float64, int, int64:
		return true
	}
	return false
}

// resolveArgs substitutes ${name.field} references with prior results.
// A string that is exactly one reference takes the referenced value as is.
func resolveArgs(args map[string]any, results map[string]Result) (map[string]any, error) {
	out := make(map[string]any, len(args))
	for k, v := range args {
		s, ok := v.(string)
		if !ok {
			out[k] = v
			continue
		}

		if m := refPattern.FindStringSubmatch(s); m != nil && m[0] == s {
			val, err := lookupRef(results, m[1], m[2])
			if err != nil {
				return nil, err
			}
			out[k] = val
			continue
		}

		var refErr error
		out[k] = refPattern.ReplaceAllStringFunc(s, func(ref string) string {
			m := refPattern.FindStringSubmatch(ref)
			val, err := lookupRef(results, m[1], m[2])
			if err != nil {
				refErr = err
				return ref
			}
			return fmt.Sprint(val)
		})
		if refErr != nil {
			return nil, refErr
		}
	}
	return out, nil
}

func lookupRef(results map[string]Result, name, field string) (any, error) {
	res, ok := results[name]
	if !ok {
		return nil, fmt.Errorf("step %q has no result", name)
	}
	val, ok := res[field]
	if !ok {
		return nil, fmt.Errorf("result %q has no field %q", name, field)
	}
	return val, nil
}
