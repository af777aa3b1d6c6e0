package agent

import (
	"log/slog"
	"regexp"
	"strings"
)

// Sanitize cleans model output before it is sent to a conversation:
// reasoning blocks, <final> wrappers, tool-call text leaked into the
// answer and repeated paragraphs are removed.
func Sanitize(text string) string {
	if text == "" {
		return ""
	}
	original := text

	text = stripToolCallText(text)
	text = stripReasoning(text)
	text = finalTag.ReplaceAllString(text, "")
	text = dedupeParagraphs(text)
	text = strings.TrimSpace(leadingBlankLines.ReplaceAllString(text, ""))

	if text != original {
		slog.Debug("sanitized answer", "original_len", len(original), "cleaned_len", len(text))
	}
	return text
}

var reasoningBlocks = []*regexp.Regexp{
	regexp.MustCompile(`(?is)<think>.*?</think>`),
	regexp.MustCompile(`(?is)<thinking>.*?</thinking>`),
	regexp.MustCompile(`(?is)<thought>.*?</thought>`),
}

func stripReasoning(text string) string {
	lower := strings.ToLower(text)
	if !strings.Contains(lower, "<think") && !strings.Contains(lower, "<thought") {
		return text
	}
	for _, re := range reasoningBlocks {
		text = re.ReplaceAllString(text, "")
	}
	return strings.TrimSpace(text)
}

var (
	finalTag          = regexp.MustCompile(`(?i)<\s*/?\s*final\s*>`)
	leadingBlankLines = regexp.MustCompile(`^(?:[ \t]*\r?\n)+`)
)

// stripToolCallText drops "[Tool Call: ...]" / "[Tool Result ...]" blocks
// together with their indented or JSON continuation lines.
func stripToolCallText(text string) string {
	if !strings.Contains(text, "[Tool Call:") && !strings.Contains(text, "[Tool Result") {
		return text
	}
	var kept []string
	inBlock := false
	for _, line := range strings.Split(text, "\n") {
		t := strings.TrimSpace(line)
		if strings.HasPrefix(t, "[Tool Call:") || strings.HasPrefix(t, "[Tool Result") {
			inBlock = true
			continue
		}
		if inBlock {
			if t == "" || strings.HasPrefix(t, "Arguments:") || strings.HasPrefix(t, "{") || strings.HasPrefix(t, "}") {
				continue
			}
			inBlock = false
		}
		kept = append(kept, line)
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}

func dedupeParagraphs(text string) string {
	blocks := strings.Split(text, "\n\n")
	if len(blocks) < 2 {
		return text
	}
	out := make([]string, 0, len(blocks))
	for _, b := range blocks {
		t := strings.TrimSpace(b)
		if t == "" {
			continue
		}
		if len(out) > 0 && t == strings.TrimSpace(out[len(out)-1]) {
			continue
		}
		out = append(out, b)
	}
	return strings.Join(out, "\n\n")
}

// ToolHandledToken is what the model answers after a tool already
// messaged the user.
const ToolHandledToken = "TOOL_HANDLED"

// IsToolHandled reports whether text is only the tool-handled token.
func IsToolHandled(text string) bool {
	return strings.TrimSpace(text) == ToolHandledToken
}
