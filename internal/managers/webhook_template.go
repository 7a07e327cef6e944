package managers

import (
	"regexp"
)

var placeholderPattern = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_]+)\s*\}\}`)

// renderWebhookTemplate substitutes {{key}} placeholders against a fixed
// variable map. Unknown placeholders render as the empty string and are
// returned so the caller can warn about likely configuration typos. Pure
// function: same template and variables always produce the same payload.
func renderWebhookTemplate(template string, variables map[string]string) (string, []string) {
	var unknown []string

	rendered := placeholderPattern.ReplaceAllStringFunc(template, func(match string) string {
		key := placeholderPattern.FindStringSubmatch(match)[1]
		value, ok := variables[key]
		if !ok {
			unknown = append(unknown, key)
			return ""
		}
		return value
	})

	return rendered, unknown
}
