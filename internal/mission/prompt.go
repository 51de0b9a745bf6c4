package mission

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// renderPrompt assembles a mission's step-4 prompt text from the context
// gathered in step 3: portfolio health, per-file digests, the current date,
// and the domain's named counts. Counts are rendered in sorted key order so
// promptHash is stable across runs with identical inputs.
func renderPrompt(health Health, digests []Digest, now time.Time) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Current date: %s\n\n", now.UTC().Format("2006-01-02"))

	if health.Summary != "" {
		fmt.Fprintf(&b, "Portfolio health:\n%s\n\n", health.Summary)
	}
	if len(health.Counts) > 0 {
		b.WriteString("Counts:\n")
		keys := make([]string, 0, len(health.Counts))
		for k := range health.Counts {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "- %s: %d\n", k, health.Counts[k])
		}
		b.WriteString("\n")
	}

	if len(digests) > 0 {
		b.WriteString("Knowledge base digests:\n")
		for _, d := range digests {
			fmt.Fprintf(&b, "--- %s (hash=%s, chars=%d) ---\n%s\n\n", d.Path, d.ContentHash, d.CharCount, d.Head)
		}
	}

	return strings.TrimSpace(b.String())
}
