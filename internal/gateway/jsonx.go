package gateway

import (
	"encoding/json"
	"strings"
)

// cleanReply strips everything before the first '{' and after the last '}'.
// Agent CLIs tend to wrap their JSON in banners and trailing notes; this
// recovers the object when one is present and otherwise returns the
// trimmed input.
func cleanReply(raw string) string {
	start := strings.IndexByte(raw, '{')
	end := strings.LastIndexByte(raw, '}')
	if start < 0 || end < start {
		return strings.TrimSpace(raw)
	}
	return raw[start : end+1]
}

// parseReply cleans a raw agent reply and attempts a JSON parse, returning
// the parsed object or the cleaned string.
func parseReply(raw string) any {
	cleaned := cleanReply(raw)
	var parsed map[string]any
	if err := json.Unmarshal([]byte(cleaned), &parsed); err == nil {
		return parsed
	}
	return cleaned
}
