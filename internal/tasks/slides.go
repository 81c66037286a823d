package tasks

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Slide colors used when the model leaves them out.
const (
	DefaultThemeColor  = "#0f172a"
	DefaultAccentColor = "#22d3ee"
)

// ErrNoSlides is returned when a slide-ranger answer has no slides array.
var ErrNoSlides = errors.New("unexpected response format")

// Slide is one briefing slide.
type Slide struct {
	Title       string   `json:"title"`
	Bullets     []string `json:"bullets"`
	ThemeColor  string   `json:"themeColor"`
	AccentColor string   `json:"accentColor"`
	Icon        string   `json:"icon,omitempty"`
}

type rawDeck struct {
	Slides []map[string]any `json:"slides"`
}

// ParseSlides reads the JSON deck out of a model answer. Code fences and
// prose around the JSON object are ignored; fields of the wrong type fall
// back to defaults.
func ParseSlides(answer string) ([]Slide, error) {
	start := strings.Index(answer, "{")
	end := strings.LastIndex(answer, "}")
	if start < 0 || end <= start {
		return nil, ErrNoSlides
	}
	var deck rawDeck
	if err := json.Unmarshal([]byte(answer[start:end+1]), &deck); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoSlides, err)
	}
	if deck.Slides == nil {
		return nil, ErrNoSlides
	}

	out := make([]Slide, 0, len(deck.Slides))
	for _, raw := range deck.Slides {
		s := Slide{
			Title:       stringField(raw, "title", "Untitled slide"),
			ThemeColor:  stringField(raw, "themeColor", DefaultThemeColor),
			AccentColor: stringField(raw, "accentColor", DefaultAccentColor),
			Icon:        strings.TrimSpace(stringField(raw, "icon", "")),
			Bullets:     []string{},
		}
		if list, ok := raw["bullets"].([]any); ok {
			for _, b := range list {
				if str, ok := b.(string); ok && strings.TrimSpace(str) != "" {
					s.Bullets = append(s.Bullets, strings.TrimSpace(str))
				}
			}
		}
		out = append(out, s)
	}
	return out, nil
}

func stringField(m map[string]any, key, def string) string {
	s, ok := m[key].(string)
	if !ok || strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
