// Package validate implements plan validation (component E): a pure,
// no-I/O walk over a plan that rejects on the first violation, resolving
// every RUN step's (target, token) against a catalog and checking its
// arguments against the resolved command's declared spec.
package validate

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/vedpanse/daemon/internal/catalog"
	"github.com/vedpanse/daemon/internal/daemon"
	"github.com/vedpanse/daemon/internal/errs"
)

// Error is a validation failure located at a specific step index.
type Error struct {
	StepIndex int
	Message   string
}

func (e *Error) Error() string {
	return fmt.Sprintf("step[%d] %s", e.StepIndex, e.Message)
}

func fail(i int, format string, args ...interface{}) error {
	ve := &Error{StepIndex: i, Message: fmt.Sprintf(format, args...)}
	return errs.Wrap("validate.plan", "", errs.ErrValidation, ve)
}

// Plan validates p against cat, mutating duration_ms fields in place to
// their normalized float form. It returns the first violation found, or
// nil if the plan is fully sound.
func Plan(cat *catalog.Catalog, p *daemon.Plan) error {
	if p == nil {
		return fail(0, "plan must be a list of steps")
	}
	for i := range p.Steps {
		if err := step(cat, i, &p.Steps[i]); err != nil {
			return err
		}
	}
	return nil
}

func step(cat *catalog.Catalog, i int, s *daemon.Step) error {
	switch s.Type {
	case daemon.StepStop:
		if s.Target != "" || s.Token != "" || len(s.Args) != 0 || s.DurationMs != nil {
			return fail(i, "STOP steps admit no other fields")
		}
		return nil
	case daemon.StepRun:
		return validateRun(cat, i, s)
	default:
		return fail(i, "type must be one of RUN, STOP, got %q", s.Type)
	}
}

func validateRun(cat *catalog.Catalog, i int, s *daemon.Step) error {
	if s.Token == "" {
		return fail(i, "token is required for a RUN step")
	}

	if s.Target == "" {
		if cat.IsAmbiguous(s.Token) {
			return fail(i, "token %q is ambiguous across nodes; explicit target is required", s.Token)
		}
		if !strings.Contains(s.Token, ".") {
			if _, ok := cat.Unqualified(s.Token); !ok {
				return fail(i, "token %q does not match any connected node", s.Token)
			}
		}
	} else {
		if _, ok := cat.FindSession(s.Target); !ok {
			return fail(i, "target %q does not match any connected node", s.Target)
		}
	}

	owner, cmd, err := cat.Resolve(s.Target, s.Token)
	if err != nil {
		return fail(i, "%s", stripWrap(err))
	}
	if s.Target == "" && strings.Contains(s.Token, ".") {
		s.Target = owner.Alias
		s.Token = cmd.Token
	}

	if s.Args == nil {
		s.Args = []interface{}{}
	}
	if len(s.Args) != len(cmd.Args) {
		return fail(i, "token %q expects %d argument(s), got %d", s.Token, len(cmd.Args), len(s.Args))
	}

	for argIdx, spec := range cmd.Args {
		coerced, err := coerceArg(spec, s.Args[argIdx])
		if err != nil {
			return fail(i, "arg[%d] %q: %s", argIdx, spec.Name, err)
		}
		s.Args[argIdx] = coerced
	}

	if s.DurationMs != nil {
		ms, err := coerceNonNegativeMs(s.DurationMs)
		if err != nil {
			return fail(i, "duration_ms: %s", err)
		}
		s.DurationMs = &ms
	}

	return nil
}

// stripWrap extracts the inner violation message from a catalog error so
// the validator's step[i] prefix is not doubled up by errs.Wrap's own
// formatting.
func stripWrap(err error) string {
	msg := err.Error()
	if idx := strings.Index(msg, ": "); idx >= 0 {
		return msg[idx+2:]
	}
	return msg
}

func coerceNonNegativeMs(v *float64) (float64, error) {
	if *v < 0 {
		return 0, fmt.Errorf("must be >= 0, got %v", *v)
	}
	return *v, nil
}

// coerceArg validates and normalizes one argument value against spec,
// per the eight rules in the plan validator design.
func coerceArg(spec daemon.ArgSpec, v interface{}) (interface{}, error) {
	switch spec.Type {
	case daemon.ArgInt:
		return coerceInt(spec, v)
	case daemon.ArgFloat:
		return coerceFloat(spec, v)
	case daemon.ArgBool:
		return coerceBool(spec, v)
	case daemon.ArgString:
		return coerceString(spec, v)
	default:
		return nil, fmt.Errorf("unsupported arg type %q", spec.Type)
	}
}

func coerceInt(spec daemon.ArgSpec, v interface{}) (interface{}, error) {
	if _, ok := v.(bool); ok {
		return nil, fmt.Errorf("expected int, got bool")
	}
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
		if f != float64(int64(f)) {
			return nil, fmt.Errorf("expected int, got non-integer float %v", f)
		}
	case string:
		parsed, err := strconv.ParseInt(n, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("expected int, got %q", n)
		}
		f = float64(parsed)
	default:
		return nil, fmt.Errorf("expected int, got %T", v)
	}
	if err := checkEnumAndBounds(spec, f); err != nil {
		return nil, err
	}
	return f, nil
}

func coerceFloat(spec daemon.ArgSpec, v interface{}) (interface{}, error) {
	if _, ok := v.(bool); ok {
		return nil, fmt.Errorf("expected float, got bool")
	}
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case string:
		parsed, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return nil, fmt.Errorf("expected float, got %q", n)
		}
		f = parsed
	default:
		return nil, fmt.Errorf("expected float, got %T", v)
	}
	if err := checkEnumAndBounds(spec, f); err != nil {
		return nil, err
	}
	return f, nil
}

func coerceBool(spec daemon.ArgSpec, v interface{}) (interface{}, error) {
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		switch strings.ToLower(b) {
		case "true", "1":
			return true, nil
		case "false", "0":
			return false, nil
		}
		return nil, fmt.Errorf("expected bool, got %q", b)
	default:
		return nil, fmt.Errorf("expected bool, got %T", v)
	}
}

func coerceString(spec daemon.ArgSpec, v interface{}) (interface{}, error) {
	s, ok := v.(string)
	if !ok {
		return nil, fmt.Errorf("expected string, got %T", v)
	}
	if len(spec.Enum) > 0 {
		for _, e := range spec.Enum {
			if e == s || fmt.Sprint(e) == s {
				return s, nil
			}
		}
		return nil, fmt.Errorf("%q is not one of %v", s, spec.Enum)
	}
	return s, nil
}

func checkEnumAndBounds(spec daemon.ArgSpec, f float64) error {
	if len(spec.Enum) > 0 {
		matched := false
		for _, e := range spec.Enum {
			if ef, ok := toFloat(e); ok && ef == f {
				matched = true
				break
			}
			if fmt.Sprint(e) == formatNumber(f) {
				matched = true
				break
			}
		}
		if !matched {
			return fmt.Errorf("%v is not one of %v", formatNumber(f), spec.Enum)
		}
	}
	if spec.Min != nil && f < *spec.Min {
		return fmt.Errorf("value %v < min %v", formatNumber(f), *spec.Min)
	}
	if spec.Max != nil && f > *spec.Max {
		return fmt.Errorf("value %v > max %v", formatNumber(f), *spec.Max)
	}
	return nil
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}

func formatNumber(f float64) string {
	if f == float64(int64(f)) {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}
