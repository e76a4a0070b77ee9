package tasksupervisor

import "strings"

// Compose joins globalTemplate, projectTemplate, and userPrompt in that
// fixed order, separated by blank lines, trimming each part and omitting
// empty ones. The order is part of the contract and must never change.
func Compose(globalTemplate, projectTemplate, userPrompt string) ComposedPrompt {
	parts := make([]string, 0, 3)
	for _, p := range []string{globalTemplate, projectTemplate, userPrompt} {
		trimmed := strings.TrimSpace(p)
		if trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return ComposedPrompt{
		Text:  strings.Join(parts, "\n\n"),
		Parts: parts,
	}
}

// ComposeDebug wraps each non-empty part in named markers so a downstream
// tool can extract exactly what contributed to the final prompt.
func ComposeDebug(globalTemplate, projectTemplate, userPrompt string) ComposedPrompt {
	type named struct {
		name  string
		value string
	}
	named3 := []named{
		{"GLOBAL_INPUT_TEMPLATE", globalTemplate},
		{"PROJECT_INPUT_TEMPLATE", projectTemplate},
		{"USER_PROMPT", userPrompt},
	}
	parts := make([]string, 0, 3)
	for _, n := range named3 {
		trimmed := strings.TrimSpace(n.value)
		if trimmed == "" {
			continue
		}
		parts = append(parts, "<<<"+n.name+">>>\n"+trimmed+"\n<<</"+n.name+">>>")
	}
	return ComposedPrompt{
		Text:  strings.Join(parts, "\n\n"),
		Parts: parts,
	}
}
