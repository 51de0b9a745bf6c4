package chatloop

import "encoding/json"

// decodeToolArgs parses a tool call's canonical JSON arguments into the
// map shape tools.Registry.Execute expects. Go's encoding/json decodes JSON
// numbers into float64 by default; tool schemas that declare an integer
// property normalize that themselves, matching the registry's existing
// type-assertion-with-default style (see tools.Tool.Schema).
func decodeToolArgs(input []byte) (map[string]any, error) {
	if len(input) == 0 {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal(input, &args); err != nil {
		return nil, err
	}
	return args, nil
}
