package main

import "strings"

// parseInput splits comma or newline separated identifiers, trimming
// whitespace and skipping blanks and #-comment lines.
func parseInput(raw string) []string {
	var out []string
	for _, line := range strings.Split(strings.ReplaceAll(raw, ",", "\n"), "\n") {
		item := strings.TrimSpace(line)
		if item == "" || strings.HasPrefix(item, "#") {
			continue
		}
		out = append(out, item)
	}
	return out
}
