package tasksupervisor

import "strings"

const outputPlaceholder = "{{OUTPUT}}"

// Format applies template (project_output_template if set, else
// global_output_template) to rawOutput. A template containing the literal
// {{OUTPUT}} placeholder gets it substituted once, first occurrence only;
// a template without the placeholder has rawOutput appended after a
// blank-line separator. An empty template with allowRawOutput set passes
// rawOutput through unchanged; an empty template without allowRawOutput
// falls back to the same "append after blank line" rule against an empty
// template, which reduces to the trimmed raw output.
//
// vars supplies {{KEY}} substitutions beyond {{OUTPUT}}; any remaining
// unmatched "{{" with no closing "}}" is returned as a template-validation
// warning rather than failing the format outright.
func Format(rawOutput, template string, vars map[string]string, allowRawOutput bool) (string, []string) {
	var result string
	switch {
	case template == "" && allowRawOutput:
		result = rawOutput
	case strings.Contains(template, outputPlaceholder):
		result = replaceFirst(template, outputPlaceholder, rawOutput)
	default:
		result = strings.TrimSpace(strings.Join(trimmedNonEmpty(template, rawOutput), "\n\n"))
	}

	result, warnings := substituteVars(result, vars)
	return result, warnings
}

func trimmedNonEmpty(parts ...string) []string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func replaceFirst(s, marker, replacement string) string {
	idx := strings.Index(s, marker)
	if idx < 0 {
		return s
	}
	return s[:idx] + replacement + s[idx+len(marker):]
}

// substituteVars replaces every {{KEY}} in s with vars[KEY] (left
// untouched if KEY is unknown) and reports any "{{" lacking a matching
// "}}" as a warning.
func substituteVars(s string, vars map[string]string) (string, []string) {
	var warnings []string
	var b strings.Builder
	i := 0
	for i < len(s) {
		open := strings.Index(s[i:], "{{")
		if open < 0 {
			b.WriteString(s[i:])
			break
		}
		open += i
		b.WriteString(s[i:open])
		closeIdx := strings.Index(s[open:], "}}")
		if closeIdx < 0 {
			warnings = append(warnings, "unmatched \"{{\" in template output")
			b.WriteString(s[open:])
			break
		}
		closeIdx += open
		key := strings.TrimSpace(s[open+2 : closeIdx])
		if val, ok := vars[key]; ok {
			b.WriteString(val)
		} else {
			b.WriteString(s[open : closeIdx+2])
		}
		i = closeIdx + 2
	}
	return b.String(), warnings
}
