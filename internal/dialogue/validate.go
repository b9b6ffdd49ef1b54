package dialogue

import (
	"fmt"
	"strings"

	"github.com/apresai/callsynth/internal/catalog"
	"github.com/apresai/callsynth/internal/scenario"
)

// Issue describes a problem found in a parsed dialogue.
type Issue struct {
	Category string // "turn_count", "alternation", "role", "format", "placeholder"
	Message  string
	Severity string // "error" or "warning"
}

const (
	SeverityError   = "error"
	SeverityWarning = "warning"
)

// ValidationError carries the error-severity issues of a rejected dialogue.
type ValidationError struct {
	Issues []Issue
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Issues))
	for i, issue := range e.Issues {
		msgs[i] = issue.Message
	}
	return "invalid dialogue: " + strings.Join(msgs, "; ")
}

// Validate checks turn count against tr widened by tolerance, strict role
// alternation starting with the caller, and non-empty turns. Counts outside
// tr but inside the tolerance are reported as warnings.
func Validate(turns []Turn, tr scenario.TurnRange, tolerance int) []Issue {
	var issues []Issue
	issues = append(issues, checkTurnCount(turns, tr, tolerance)...)
	issues = append(issues, checkAlternation(turns)...)
	issues = append(issues, checkText(turns)...)
	return issues
}

// Errors filters issues down to error severity.
func Errors(issues []Issue) []Issue {
	var out []Issue
	for _, issue := range issues {
		if issue.Severity == SeverityError {
			out = append(out, issue)
		}
	}
	return out
}

// OnlyTurnCount reports whether every error in issues is a turn-count error.
func OnlyTurnCount(issues []Issue) bool {
	errs := Errors(issues)
	if len(errs) == 0 {
		return false
	}
	for _, issue := range errs {
		if issue.Category != "turn_count" {
			return false
		}
	}
	return true
}

func checkTurnCount(turns []Turn, tr scenario.TurnRange, tolerance int) []Issue {
	n := len(turns)
	lo, hi := tr.Min-tolerance, tr.Max+tolerance
	switch {
	case n < lo || n > hi:
		return []Issue{{
			Category: "turn_count",
			Message:  fmt.Sprintf("dialogue has %d turns, allowed %d-%d (range %s ±%d)", n, lo, hi, tr, tolerance),
			Severity: SeverityError,
		}}
	case n < tr.Min || n > tr.Max:
		return []Issue{{
			Category: "turn_count",
			Message:  fmt.Sprintf("dialogue has %d turns, outside target range %s", n, tr),
			Severity: SeverityWarning,
		}}
	}
	return nil
}

func checkAlternation(turns []Turn) []Issue {
	var issues []Issue
	for i, t := range turns {
		if t.Role != RoleCaller && t.Role != RoleCallee {
			issues = append(issues, Issue{
				Category: "role",
				Message:  fmt.Sprintf("turn %d has unknown role %q", i, t.Role),
				Severity: SeverityError,
			})
			continue
		}
		want := RoleCaller
		if i%2 == 1 {
			want = RoleCallee
		}
		if t.Role != want {
			issues = append(issues, Issue{
				Category: "alternation",
				Message:  fmt.Sprintf("turn %d is %s, expected %s", i, t.Role, want),
				Severity: SeverityError,
			})
		}
	}
	return issues
}

func checkText(turns []Turn) []Issue {
	var issues []Issue
	for i, t := range turns {
		if strings.TrimSpace(t.Text) == "" {
			issues = append(issues, Issue{
				Category: "format",
				Message:  fmt.Sprintf("turn %d has no text", i),
				Severity: SeverityError,
			})
		}
	}
	return issues
}

// checkPlaceholders flags tags left in the text after substitution. These
// are codes the model invented; they are kept as warnings.
func checkPlaceholders(turns []Turn) []Issue {
	var issues []Issue
	for i, t := range turns {
		if tags := catalog.Unresolved(t.Text); len(tags) > 0 {
			issues = append(issues, Issue{
				Category: "placeholder",
				Message:  fmt.Sprintf("turn %d has unresolved tags %v", i, tags),
				Severity: SeverityWarning,
			})
		}
	}
	return issues
}
