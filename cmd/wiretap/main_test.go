package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSanitizeLine(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			"external number",
			`{"caller":{"name":"","number":"+442079460000"}}`,
			`{"caller":{"name":"","number":"+15550001234"}}`,
		},
		{
			"extension kept",
			`{"caller":{"name":"Kitchen","number":"1002"}}`,
			`{"caller":{"name":"Kitchen","number":"1002"}}`,
		},
		{
			"ip redacted",
			`{"peer":{"name":"PJSIP/trunk-0001"},"sip":"203.0.113.9"}`,
			`{"peer":{"name":"PJSIP/trunk-0001"},"sip":"10.0.0.1"}`,
		},
		{
			"localhost kept",
			`{"uri":"127.0.0.1"}`,
			`{"uri":"127.0.0.1"}`,
		},
		{
			"api key",
			`{"target_uri":"ws://pbx/ari/events?api_key=user:pass&app=calllog"}`,
			`{"target_uri":"ws://pbx/ari/events?api_key=REDACTED&app=calllog"}`,
		},
		{
			"channel ids untouched",
			`{"channel":{"id":"1772442900.101"}}`,
			`{"channel":{"id":"1772442900.101"}}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sanitizeLine(tt.in); got != tt.want {
				t.Errorf("sanitizeLine(%s)\n got %s\nwant %s", tt.in, got, tt.want)
			}
		})
	}
}

func TestSanitizeFileKeepsBackup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.jsonl")
	orig := `{"caller":{"number":"15551234567"}}` + "\n"
	if err := os.WriteFile(path, []byte(orig), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := sanitizeFile(path); err != nil {
		t.Fatalf("sanitizeFile: %v", err)
	}

	bak, err := os.ReadFile(path + ".bak")
	if err != nil || string(bak) != orig {
		t.Errorf("expected backup with original content, got %q, %v", bak, err)
	}
	got, _ := os.ReadFile(path)
	if strings.Contains(string(got), "15551234567") {
		t.Errorf("number not redacted: %s", got)
	}
}

func TestCompactFrame(t *testing.T) {
	got := string(compactFrame([]byte("{\n  \"type\": \"StasisStart\"\n}")))
	if got != `{"type":"StasisStart"}` {
		t.Errorf("unexpected compact frame %s", got)
	}
	if got := string(compactFrame([]byte("not\njson"))); got != "not json" {
		t.Errorf("unexpected fallback %q", got)
	}
}
