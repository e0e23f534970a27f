package ai

import (
	_ "embed"
	"strings"
)

//go:embed prompt.md
var promptTemplate string

// BuildPrompt renders the screening instructions for one job profile.
func BuildPrompt(title, requirements string) string {
	template := promptTemplate
	if strings.TrimSpace(template) == "" {
		template = "Vaga: {{JOB_TITLE}}\nRequisitos:\n{{JOB_REQUIREMENTS}}\n\nJSON:"
	}
	// One pass, so placeholder text inside a field is left as typed.
	return strings.NewReplacer(
		"{{JOB_TITLE}}", strings.TrimSpace(title),
		"{{JOB_REQUIREMENTS}}", strings.TrimSpace(requirements),
	).Replace(template)
}
