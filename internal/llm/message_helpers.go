package llm

import "strings"

func collectTextParts(parts []Part) string {
	var b strings.Builder
	for _, part := range parts {
		if part.Type == PartText {
			b.WriteString(part.Text)
		}
	}
	return b.String()
}

// splitSystem separates system messages from the conversation. The request's
// own System field comes first.
func splitSystem(req Request) (string, []Message) {
	var system []string
	if s := strings.TrimSpace(req.System); s != "" {
		system = append(system, s)
	}
	msgs := make([]Message, 0, len(req.Messages))
	for _, msg := range req.Messages {
		if msg.Role == RoleSystem {
			if text := collectTextParts(msg.Parts); text != "" {
				system = append(system, text)
			}
			continue
		}
		msgs = append(msgs, msg)
	}
	return strings.Join(system, "\n\n"), msgs
}

func chooseModel(requested, fallback string) string {
	if requested != "" {
		return requested
	}
	return fallback
}

func maxTokens(requested, fallback int) int64 {
	if requested > 0 {
		return int64(requested)
	}
	return int64(fallback)
}
