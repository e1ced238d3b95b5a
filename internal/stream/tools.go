package stream

import "strings"

var toolNameRules = []struct {
	keywords []string
	name     string
}{
	{[]string{"bash", "command", "shell"}, "Bash"},
	{[]string{"read"}, "Read"},
	{[]string{"grep", "search"}, "Grep"},
	{[]string{"glob", "find", "list"}, "Glob"},
	{[]string{"write"}, "Write"},
	{[]string{"edit", "patch"}, "Edit"},
}

// NormalizeToolName maps provider tool vocabulary onto canonical tool names. The first
// matching rule wins; unmatched names pass through unchanged.
func NormalizeToolName(name string) string {
	lower := strings.ToLower(name)
	for _, rule := range toolNameRules {
		for _, kw := range rule.keywords {
			if strings.Contains(lower, kw) {
				return rule.name
			}
		}
	}
	return name
}
