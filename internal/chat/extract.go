package chat

import (
	"encoding/json"
	"strings"

	"github.com/vetclaims/assistant-api/internal/ai"
)

// Inbound turns arrive in three shapes: an object with a typed parts array,
// an object with a plain content field, or a bare JSON string. Extraction
// resolves all of them once, at the normalization boundary, so the rest of
// the pipeline sees one canonical shape.

type turnPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type turnObject struct {
	Role    string     `json:"role"`
	Parts   []turnPart `json:"parts"`
	Content string     `json:"content"`
}

// decodeTurn resolves one raw turn to (role, text). Bare strings are treated
// as user turns. Unparseable turns come back empty and are dropped upstream.
func decodeTurn(raw json.RawMessage) (role, text string) {
	var obj turnObject
	if err := json.Unmarshal(raw, &obj); err == nil && (obj.Role != "" || obj.Content != "" || len(obj.Parts) > 0) {
		if len(obj.Parts) > 0 {
			var b strings.Builder
			for _, p := range obj.Parts {
				if p.Type == "text" {
					b.WriteString(p.Text)
				}
			}
			return obj.Role, b.String()
		}
		return obj.Role, obj.Content
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return "user", s
	}
	return "", ""
}

// extractTurns normalizes the raw turn list: caller-supplied system turns
// are dropped (the system prompt is gateway-owned), the list is capped to
// the most recent window turns, and turns that resolve to empty text are
// discarded. The returned question is the text of the most recent user turn.
func extractTurns(raw []json.RawMessage, window int) (turns []ai.Message, question string) {
	type decoded struct{ role, text string }

	all := make([]decoded, 0, len(raw))
	for _, r := range raw {
		role, text := decodeTurn(r)
		if role == "system" {
			continue
		}
		if role == "" {
			role = "user"
		}
		all = append(all, decoded{role: role, text: text})
	}

	if window > 0 && len(all) > window {
		all = all[len(all)-window:]
	}

	for _, d := range all {
		if strings.TrimSpace(d.text) == "" {
			continue
		}
		turns = append(turns, ai.Message{Role: d.role, Content: d.text})
		if d.role == "user" {
			question = d.text
		}
	}
	return turns, question
}
