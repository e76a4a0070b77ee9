package tasksupervisor

import "strings"

// skipValidationMarkers and directExecutionMarkers are checked
// case-insensitively anywhere in the formatted output. Their presence
// signals an attempt to bypass this package's contract, which is itself a
// major validation violation rather than something to silently strip.
var skipValidationMarkers = []string{"SKIP_VALIDATION", "NO_TEMPLATE"}
var directExecutionMarkers = []string{"DIRECT_EXECUTE", "BYPASS_SUPERVISOR"}

// Validate checks formatted output against the fixed rule set.
func Validate(output string) ValidationResult {
	var violations []Violation

	if strings.TrimSpace(output) == "" {
		violations = append(violations, Violation{
			Type:    "missing_required_section",
			Message: "output is empty after trimming",
			Severity: SeverityMajor,
		})
	}

	upper := strings.ToUpper(output)
	for _, marker := range skipValidationMarkers {
		if strings.Contains(upper, marker) {
			violations = append(violations, Violation{
				Type:    "skipped_validation",
				Message: "output contains validation-skip marker " + marker,
				Severity: SeverityMajor,
			})
		}
	}
	for _, marker := range directExecutionMarkers {
		if strings.Contains(upper, marker) {
			violations = append(violations, Violation{
				Type:    "direct_execution_attempt",
				Message: "output contains direct-execution marker " + marker,
				Severity: SeverityMajor,
			})
		}
	}

	return ValidationResult{
		Valid:      len(violations) == 0,
		Violations: violations,
	}
}

// HasMajorViolation reports whether any violation is major severity.
func (r ValidationResult) HasMajorViolation() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityMajor {
			return true
		}
	}
	return false
}
