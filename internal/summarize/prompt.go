// internal/summarize/prompt.go
package summarize

import (
	"fmt"
	"strings"
)

// buildPrompt renders the batch prompt. Deterministic and backend-independent
// so the same batch always produces the same request body.
func buildPrompt(commits []CommitLine) string {
	lines := []string{
		"We help developers prepare for a daily standup.",
		"Summarize the following git commits into 3-6 short, readable bullet points.",
		"Focus on user-visible changes, refactors, and fixes. Combine related commits.",
		"",
		"Commits:",
	}
	for _, c := range commits {
		lines = append(lines, fmt.Sprintf("- [%s] %s", shortSHA(c.SHA), c.Message))
	}
	return strings.Join(lines, "\n")
}

// shortSHA is the first 7 hex characters of a content hash.
func shortSHA(sha string) string {
	if len(sha) > 7 {
		return sha[:7]
	}
	return sha
}
