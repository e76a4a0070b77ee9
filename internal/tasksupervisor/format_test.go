package tasksupervisor

import "testing"

func TestFormatSubstitutesFirstOutputOccurrenceOnly(t *testing.T) {
	template := "Result: {{OUTPUT}}\nRaw marker stays literal: {{OUTPUT}}"
	got, warnings := Format("42", template, nil, false)
	want := "Result: 42\nRaw marker stays literal: {{OUTPUT}}"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
	if len(warnings) != 0 {
		t.Fatalf("expected no warnings, got %v", warnings)
	}
}

func TestFormatAppendsWhenNoPlaceholder(t *testing.T) {
	got, _ := Format("the output", "Header only", nil, false)
	want := "Header only\n\nthe output"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestFormatPassesRawThroughWhenAllowedAndNoTemplate(t *testing.T) {
	got, _ := Format("raw passthrough", "", nil, true)
	if got != "raw passthrough" {
		t.Fatalf("got %q want raw passthrough", got)
	}
}

func TestFormatSubstitutesNamedVars(t *testing.T) {
	got, warnings := Format("x", "{{OUTPUT}} by {{AUTHOR}}", map[string]string{"AUTHOR": "runner-1"}, false)
	if got != "x by runner-1" {
		t.Fatalf("got %q", got)
	}
	if len(warnings) != 0 {
		t.Fatalf("expected no warnings, got %v", warnings)
	}
}

func TestFormatWarnsOnUnmatchedBraces(t *testing.T) {
	_, warnings := Format("x", "{{OUTPUT}} trailing {{ unmatched", nil, false)
	if len(warnings) == 0 {
		t.Fatal("expected a warning for unmatched braces")
	}
}
