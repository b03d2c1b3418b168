package prompt

import "github.com/nikhilbhutani/promptvault/internal/models"

// HasChanges reports whether any versioned field differs between a and b.
func HasChanges(a, b models.Content) bool {
	return a != b
}

// ChangedFields lists the JSON names of the fields that differ between a and b.
func ChangedFields(a, b models.Content) []string {
	var fields []string
	if a.SystemPrompt != b.SystemPrompt {
		fields = append(fields, "system_prompt")
	}
	if a.UserTemplate != b.UserTemplate {
		fields = append(fields, "user_template")
	}
	if a.Model != b.Model {
		fields = append(fields, "model")
	}
	if a.Temperature != b.Temperature {
		fields = append(fields, "temperature")
	}
	if a.MaxTokens != b.MaxTokens {
		fields = append(fields, "max_tokens")
	}
	return fields
}
