package planner

import (
	"strings"

	"github.com/vedpanse/daemon/internal/daemon"
)

func runStep(target, token string, args []interface{}, durationMs *float64) daemon.Step {
	return daemon.Step{Type: daemon.StepRun, Target: target, Token: token, Args: args, DurationMs: durationMs}
}

func ms(v float64) *float64 { return &v }

// Fallback builds a deterministic plan from keyword matching, with no
// I/O and no dependency on a live catalog: it must always produce a plan
// the validator accepts against whatever fleet is actually connected, so
// every macro targets the conventional "base"/"arm" aliases and uses only
// the commands those node types are expected to declare.
func Fallback(instruction string) daemon.Plan {
	text := strings.ToLower(strings.TrimSpace(instruction))

	switch {
	case strings.Contains(text, "left square"):
		return square(-90)
	case strings.Contains(text, "square"):
		return square(90)
	case strings.Contains(text, "left triangle"):
		return triangle(-120)
	case strings.Contains(text, "triangle"):
		return triangle(120)
	case strings.Contains(text, "straight line"):
		return straightLine()
	}

	return keywordPlan(text)
}

// square expands into four forward+turn segments, turning by turnDeg
// each corner, ending with a trailing STOP.
func square(turnDeg float64) daemon.Plan {
	var steps []daemon.Step
	for i := 0; i < 4; i++ {
		steps = append(steps,
			runStep("base", "FWD", []interface{}{0.6}, ms(1200)),
			runStep("base", "TURN", []interface{}{turnDeg}, ms(800)),
		)
	}
	steps = append(steps, daemon.Step{Type: daemon.StepStop})
	return daemon.Plan{Steps: steps}
}

// triangle expands into three forward+turn segments (exterior angle 120
// degrees, turning by turnDeg each corner), ending with a trailing STOP.
func triangle(turnDeg float64) daemon.Plan {
	var steps []daemon.Step
	for i := 0; i < 3; i++ {
		steps = append(steps,
			runStep("base", "FWD", []interface{}{0.6}, ms(1200)),
			runStep("base", "TURN", []interface{}{turnDeg}, ms(800)),
		)
	}
	steps = append(steps, daemon.Step{Type: daemon.StepStop})
	return daemon.Plan{Steps: steps}
}

// straightLine is a single timed forward segment.
func straightLine() daemon.Plan {
	return daemon.Plan{Steps: []daemon.Step{
		runStep("base", "FWD", []interface{}{0.6}, ms(2000)),
		{Type: daemon.StepStop},
	}}
}

// keywordPlan implements the original per-clause keyword matcher: the
// instruction is split on "then"/commas into clauses, and each clause
// independently contributes forward/turn/grip/home steps.
func keywordPlan(text string) daemon.Plan {
	replaced := strings.ReplaceAll(text, ",", " then ")
	rawParts := strings.Split(replaced, "then")

	var steps []daemon.Step
	for _, raw := range rawParts {
		part := strings.TrimSpace(raw)
		if part == "" {
			continue
		}
		if strings.Contains(part, "forward") {
			steps = append(steps, runStep("base", "FWD", []interface{}{0.6}, ms(1000)))
		}
		switch {
		case strings.Contains(part, "turn left") || strings.Contains(" "+part, " left"):
			steps = append(steps, runStep("base", "TURN", []interface{}{-90.0}, ms(800)))
		case strings.Contains(part, "right"):
			steps = append(steps, runStep("base", "TURN", []interface{}{90.0}, ms(800)))
		}
		if strings.Contains(part, "open") {
			steps = append(steps, runStep("arm", "GRIP", []interface{}{"open"}, nil))
		}
		if strings.Contains(part, "close") {
			steps = append(steps, runStep("arm", "GRIP", []interface{}{"close"}, nil))
		}
		if strings.Contains(part, "home") {
			steps = append(steps, runStep("arm", "HOME", []interface{}{}, nil))
		}
	}

	if len(steps) == 0 {
		return daemon.Plan{Steps: []daemon.Step{{Type: daemon.StepStop}}}
	}
	steps = append(steps, daemon.Step{Type: daemon.StepStop})
	return daemon.Plan{Steps: steps}
}
