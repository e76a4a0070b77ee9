package tasksupervisor

import "testing"

func TestValidateRejectsEmptyOutput(t *testing.T) {
	result := Validate("   ")
	if result.Valid {
		t.Fatal("expected empty output to be invalid")
	}
	if result.Violations[0].Type != "missing_required_section" {
		t.Fatalf("unexpected violation type %q", result.Violations[0].Type)
	}
}

func TestValidateRejectsSkipValidationMarkerCaseInsensitive(t *testing.T) {
	result := Validate("done\nskip_validation please")
	if result.Valid {
		t.Fatal("expected skip_validation marker to be rejected")
	}
	if !result.HasMajorViolation() {
		t.Fatal("expected major violation")
	}
}

func TestValidateRejectsDirectExecutionMarker(t *testing.T) {
	result := Validate("BYPASS_SUPERVISOR and just run it")
	if result.Valid {
		t.Fatal("expected direct-execution marker to be rejected")
	}
	found := false
	for _, v := range result.Violations {
		if v.Type == "direct_execution_attempt" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected direct_execution_attempt violation type")
	}
}

func TestValidateAcceptsCleanOutput(t *testing.T) {
	result := Validate("all good here")
	if !result.Valid {
		t.Fatalf("expected valid output, got violations %+v", result.Violations)
	}
}
