package tasksupervisor

import (
	"strings"
	"testing"
)

func TestComposeJoinsInFixedOrder(t *testing.T) {
	got := Compose("global", "project", "user prompt")
	want := "global\n\nproject\n\nuser prompt"
	if got.Text != want {
		t.Fatalf("got %q want %q", got.Text, want)
	}
}

func TestComposeOmitsEmptyParts(t *testing.T) {
	got := Compose("", "  ", "user prompt")
	if got.Text != "user prompt" {
		t.Fatalf("got %q want %q", got.Text, "user prompt")
	}
	if len(got.Parts) != 1 {
		t.Fatalf("expected one part, got %d", len(got.Parts))
	}
}

func TestComposeDebugWrapsPartsInMarkers(t *testing.T) {
	got := ComposeDebug("g", "", "u")
	if got.Text == "" {
		t.Fatal("expected non-empty debug output")
	}
	for _, want := range []string{"GLOBAL_INPUT_TEMPLATE", "USER_PROMPT"} {
		if !strings.Contains(got.Text, want) {
			t.Fatalf("expected debug output to contain %q, got %q", want, got.Text)
		}
	}
	if strings.Contains(got.Text, "PROJECT_INPUT_TEMPLATE") {
		t.Fatal("expected empty project template omitted from debug output")
	}
}
