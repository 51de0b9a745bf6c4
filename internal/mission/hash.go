package mission

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// canonicalHashJSON hashes the canonical form of a JSON document: parsed,
// then re-marshaled with every object's keys sorted recursively, so two
// byte-different encodings of the same document hash identically. Used for
// a mission's definitionHash, where Definition is already stored as an
// opaque JSON string.
func canonicalHashJSON(rawJSON string) (string, error) {
	var generic any
	if err := json.Unmarshal([]byte(rawJSON), &generic); err != nil {
		return "", fmt.Errorf("mission: canonical hash: %w", err)
	}
	return hashValue(sortKeys(generic))
}

// canonicalHashValue hashes an arbitrary Go value's canonical JSON form the
// same way canonicalHashJSON hashes a parsed document. Used for a run's
// promptHash, wrapping the rendered text as {"prompt": text}.
func canonicalHashValue(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		return "", err
	}
	return hashValue(sortKeys(generic))
}

func hashValue(canon any) (string, error) {
	data, err := json.Marshal(canon)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// sortKeys rebuilds every map level as a Go map[string]any whose entries are
// inserted in sorted-key order. encoding/json already marshals map[string]any
// keys in sorted order, but doing the sort explicitly here makes the
// canonicalization contract a property of this function rather than an
// incidental detail of the standard library's marshaler.
func sortKeys(v any) any {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make(map[string]any, len(t))
		for _, k := range keys {
			out[k] = sortKeys(t[k])
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = sortKeys(e)
		}
		return out
	default:
		return t
	}
}

func hashPrompt(text string) (string, error) {
	return canonicalHashValue(map[string]string{"prompt": text})
}
