package gateway

import "testing"

func TestCleanReply(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"bare object", `{"result":"ok"}`, `{"result":"ok"}`},
		{"banner prefix", "Loading...\n{\"result\":\"ok\"}", `{"result":"ok"}`},
		{"trailing note", `{"result":"ok"}` + "\ndone in 2s", `{"result":"ok"}`},
		{"both sides", "note {\"a\":1} tail", `{"a":1}`},
		{"no object", "  plain text  ", "plain text"},
		{"lone open brace", "oops {", "oops {"},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := cleanReply(tt.raw); got != tt.want {
				t.Errorf("cleanReply(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestParseReply(t *testing.T) {
	parsed := parseReply(`banner {"type":"result","result":"done"} trailer`)
	obj, ok := parsed.(map[string]any)
	if !ok {
		t.Fatalf("parseReply returned %T, want map", parsed)
	}
	if obj["result"] != "done" {
		t.Errorf("result = %v, want done", obj["result"])
	}

	parsed = parseReply("just words")
	if s, ok := parsed.(string); !ok || s != "just words" {
		t.Errorf("parseReply = %v (%T), want the plain string", parsed, parsed)
	}

	// braces that do not contain valid JSON fall back to the cleaned string
	parsed = parseReply("{not json}")
	if s, ok := parsed.(string); !ok || s != "{not json}" {
		t.Errorf("parseReply = %v (%T), want the raw braces", parsed, parsed)
	}
}
