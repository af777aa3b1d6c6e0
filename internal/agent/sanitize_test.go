package agent

import "testing"

func TestSanitize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"plain", "gm", "gm"},
		{"thinking", "<thinking>\nplan\n</thinking>\nDone.", "Done."},
		{"final tags", "<final>Locked in.</final>", "Locked in."},
		{"tool call text", "[Tool Call: xbtify_create]\nArguments: {\"a\":1}\nSure thing.", "Sure thing."},
		{"duplicate paragraphs", "Hey.\n\nHey.\n\nBye.", "Hey.\n\nBye."},
		{"leading blank lines", "\n\n  \nhello", "hello"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Sanitize(tt.in); got != tt.want {
				t.Errorf("Sanitize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestIsToolHandled(t *testing.T) {
	if !IsToolHandled("  TOOL_HANDLED\n") {
		t.Error("expected token to match")
	}
	if IsToolHandled("TOOL_HANDLED and more") {
		t.Error("token with extra text must not match")
	}
}
