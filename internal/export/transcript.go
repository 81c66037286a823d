package export

import (
	"fmt"
	"strings"
	"time"

	"github.com/jonbmost/acquisition-assistant/internal/stream"
)

// TranscriptSeparator ends every transcript entry.
const TranscriptSeparator = "----------------------------------------"

// TranscriptTimeLayout formats entry timestamps.
const TranscriptTimeLayout = "1/2/2006, 3:04:05 PM"

// TranscriptEntry is one chat message in a downloadable history.
type TranscriptEntry struct {
	Role       string
	Time       time.Time
	Attachment string
	Text       string
	Citations  []stream.Citation
}

// Transcript renders a plain-text chat history.
func Transcript(entries []TranscriptEntry) string {
	var sb strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&sb, "[%s] - %s\n", strings.ToUpper(e.Role), e.Time.Format(TranscriptTimeLayout))
		if e.Attachment != "" {
			fmt.Fprintf(&sb, "Attachment: %s\n", e.Attachment)
		}
		sb.WriteString("\n")
		sb.WriteString(e.Text)
		if len(e.Citations) > 0 {
			sb.WriteString("\n\nSources:")
			for _, c := range e.Citations {
				title := c.Title
				if title == "" {
					title = c.URI
				}
				fmt.Fprintf(&sb, "\n- %s: %s", title, c.URI)
			}
		}
		sb.WriteString("\n\n" + TranscriptSeparator + "\n")
	}
	return sb.String()
}

// TranscriptFileName names a history download taken at t.
func TranscriptFileName(t time.Time) string {
	return "AIT_Chat_History_" + t.UTC().Format("2006-01-02T15-04-05Z") + ".txt"
}
