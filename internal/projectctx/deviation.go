package projectctx

import "strings"

// deviationMarkers are phrases agents use when they stray from the
// documented approach.
var deviationMarkers = []string{
	"different approach",
	"updated approach",
	"changed strategy",
	"new pattern",
	"deviation from",
}

// Deviation returns the first deviation marker found in output.
func Deviation(output string) (string, bool) {
	lower := strings.ToLower(output)
	for _, m := range deviationMarkers {
		if strings.Contains(lower, m) {
			return m, true
		}
	}
	return "", false
}

// Instructions is appended to task prompts that carry project context.
const Instructions = "IMPORTANT: Follow the project rules. If your approach differs from documented wiki/skills, note this in your output."
