package automation

import (
	"encoding/json"
	"strings"
	"time"
)

// renderPrompt substitutes the engine's four recognized placeholders into
// template. eventData, if non-nil, is re-marshaled compactly so the
// rendered {{event_data}} is always single-line JSON regardless of how it
// was stored.
func renderPrompt(template, domainName, eventType string, eventData []byte, now time.Time) (string, error) {
	eventDataStr := "null"
	if len(eventData) > 0 {
		var v any
		if err := json.Unmarshal(eventData, &v); err != nil {
			return "", err
		}
		compact, err := json.Marshal(v)
		if err != nil {
			return "", err
		}
		eventDataStr = string(compact)
	}

	replacer := strings.NewReplacer(
		"{{domain_name}}", domainName,
		"{{event_type}}", eventType,
		"{{event_data}}", eventDataStr,
		"{{current_date}}", now.UTC().Format("2006-01-02"),
	)
	return replacer.Replace(template), nil
}
