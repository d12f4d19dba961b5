package mcpserver

import (
	"encoding/json"
	"fmt"
	"strings"
)

// marshalJSON serializes a value to indented JSON bytes.
func marshalJSON(v any) ([]byte, error) {
	return json.MarshalIndent(v, "", "  ")
}

// sourceArg returns the required "source" argument.
func sourceArg(args map[string]any) (string, error) {
	source, _ := args["source"].(string)
	source = strings.TrimSpace(source)
	if source == "" {
		return "", fmt.Errorf("source is required")
	}
	return source, nil
}

// intArg reads a numeric argument. JSON numbers arrive as float64.
func intArg(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case string:
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil {
			return n
		}
	}
	return def
}

func boolPtr(v bool) *bool { return &v }
