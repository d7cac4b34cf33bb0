package quality

import (
	"encoding/json"
	"strings"
)

// ExtractText flattens an update summary to plain text. Atlas summaries are
// often rich-text JSON documents; this walks the document and joins every
// "text" value. A plain string passes through unchanged.
func ExtractText(summary string) string {
	trimmed := strings.TrimSpace(summary)
	if trimmed == "" {
		return ""
	}
	if !strings.HasPrefix(trimmed, "{") && !strings.HasPrefix(trimmed, "[") {
		return trimmed
	}

	var doc any
	if err := json.Unmarshal([]byte(trimmed), &doc); err != nil {
		return trimmed
	}

	var parts []string
	collectText(doc, &parts)
	if len(parts) == 0 {
		return trimmed
	}
	return strings.Join(parts, " ")
}

func collectText(node any, parts *[]string) {
	switch v := node.(type) {
	case map[string]any:
		if s, ok := v["text"].(string); ok && s != "" {
			*parts = append(*parts, s)
		}
		if content, ok := v["content"].([]any); ok {
			for _, c := range content {
				collectText(c, parts)
			}
		}
	case []any:
		for _, c := range v {
			collectText(c, parts)
		}
	}
}
