package prompt

import (
	"regexp"
	"strings"
)

var variablePattern = regexp.MustCompile(`\{\{\s*(\w+)\s*\}\}`)

// Render replaces {{variable}} placeholders in tmpl with values from vars.
// Every placeholder must have a value.
func Render(tmpl string, vars map[string]string) (string, error) {
	if missing := MissingVariables(tmpl, vars); len(missing) > 0 {
		return "", validationError("missing template variables: " + strings.Join(missing, ", "))
	}

	return variablePattern.ReplaceAllStringFunc(tmpl, func(match string) string {
		key := variablePattern.FindStringSubmatch(match)[1]
		return vars[key]
	}), nil
}

// ExtractVariables returns the placeholder names in tmpl in order of first use.
func ExtractVariables(tmpl string) []string {
	seen := make(map[string]bool)
	var vars []string
	for _, m := range variablePattern.FindAllStringSubmatch(tmpl, -1) {
		if !seen[m[1]] {
			vars = append(vars, m[1])
			seen[m[1]] = true
		}
	}
	return vars
}

func MissingVariables(tmpl string, vars map[string]string) []string {
	var missing []string
	for _, v := range ExtractVariables(tmpl) {
		if _, ok := vars[v]; !ok {
			missing = append(missing, v)
		}
	}
	return missing
}
