package ingest

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// extractBearerToken pulls the token out of an "Authorization: Bearer <tok>"
// header, returning "" if the header is absent or malformed.
func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return parts[1]
}

// validToken compares token against want in constant time, rejecting a
// length mismatch before the comparison rather than after, since a timing
// difference on length alone would leak nothing a length check didn't
// already make public.
func validToken(token, want string) bool {
	if token == "" || len(token) != len(want) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(want)) == 1
}
