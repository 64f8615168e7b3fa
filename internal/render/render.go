// Package render substitutes {{variable}} tokens in campaign content.
package render

import (
	"regexp"
)

// variable pattern for template substitution: {{variable_name}}
var varPattern = regexp.MustCompile(`\{\{([^}]+)\}\}`)

// Keys is the fixed variable vocabulary recognized for recipient-aware
// rendering. Callers supply whatever subset they have; the renderer never
// invents keys.
var Keys = []string{
	"firstName", "lastName", "email", "phone",
	"branchName", "groupName", "unitName", "districtName",
	"membershipStatus", "joinDate",
}

// Render replaces each {{key}} occurrence with vars[key]. Keys are
// case-sensitive. A token whose key is absent from vars is left unmodified
// in the output, so operator mistakes stay visible instead of producing
// blank content in sent mail. Rendering is a pure function: identical input
// always yields identical output.
func Render(body string, vars map[string]string) string {
	if body == "" {
		return body
	}

	return varPattern.ReplaceAllStringFunc(body, func(match string) string {
		key := match[2 : len(match)-2]
		if value, ok := vars[key]; ok {
			return value
		}
		// Keep original if variable not found
		return match
	})
}
