package chatloop

import (
	"regexp"
	"strings"
)

const (
	toolOutputByteCap = 75 * 1024
	truncationSuffix  = "[truncated at 75KB]"
)

// secretPatterns matches the fixed set of secret shapes stripped from tool
// output before it ever reaches a transcript: bearer tokens, cookies,
// api-key headers, PEM blocks, and long base64 blobs.
var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)bearer\s+[a-z0-9._~+/-]+=*`),
	regexp.MustCompile(`(?i)cookie:\s*[^\r\n]+`),
	regexp.MustCompile(`(?i)(api[_-]?key|x-api-key)\s*[:=]\s*[^\s,;]+`),
	regexp.MustCompile(`-----BEGIN [A-Z ]+-----[\s\S]+?-----END [A-Z ]+-----`),
	regexp.MustCompile(`[A-Za-z0-9+/]{200,}={0,2}`),
}

const secretRedactedPlaceholder = "[redacted]"

// stripSecrets removes anything matching secretPatterns from s, replacing
// each match with a fixed placeholder so the output shape stays readable.
func stripSecrets(s string) string {
	for _, p := range secretPatterns {
		s = p.ReplaceAllString(s, secretRedactedPlaceholder)
	}
	return s
}

// truncateToolOutput byte-truncates s to toolOutputByteCap, cutting at the
// last newline before the cap and appending truncationSuffix. Output at or
// under the cap is returned unchanged.
func truncateToolOutput(s string) string {
	if len(s) <= toolOutputByteCap {
		return s
	}
	cut := strings.LastIndexByte(s[:toolOutputByteCap], '\n')
	if cut < 0 {
		cut = toolOutputByteCap
	}
	return s[:cut] + "\n" + truncationSuffix
}

// sanitizeToolOutput applies the loop's fixed secret-stripping pattern set
// and then the 75KB truncation, in that order (stripping first avoids
// truncating mid-secret and leaving a partial token behind).
func sanitizeToolOutput(s string) string {
	return truncateToolOutput(stripSecrets(s))
}
