package export

import (
	"testing"
	"time"

	"github.com/jonbmost/acquisition-assistant/internal/stream"
	"github.com/stretchr/testify/assert"
)

func TestTranscript(t *testing.T) {
	ts := time.Date(2025, 3, 4, 14, 5, 6, 0, time.UTC)
	got := Transcript([]TranscriptEntry{
		{Role: "user", Time: ts, Attachment: "sow.docx", Text: "Review this"},
		{Role: "model", Time: ts, Text: "Looks fine.", Citations: []stream.Citation{
			{URI: "https://www.acquisition.gov/far/part-37", Title: "FAR Part 37"},
			{URI: "https://www.gsa.gov"},
		}},
	})

	want := "[USER] - 3/4/2025, 2:05:06 PM\nAttachment: sow.docx\n\nReview this\n\n" + TranscriptSeparator + "\n" +
		"[MODEL] - 3/4/2025, 2:05:06 PM\n\nLooks fine.\n\nSources:\n- FAR Part 37: https://www.acquisition.gov/far/part-37\n- https://www.gsa.gov: https://www.gsa.gov\n\n" +
		TranscriptSeparator + "\n"
	assert.Equal(t, want, got)
}

func TestTranscriptEmpty(t *testing.T) {
	assert.Equal(t, "", Transcript(nil))
}

func TestTranscriptFileName(t *testing.T) {
	ts := time.Date(2025, 3, 4, 14, 5, 6, 0, time.UTC)
	assert.Equal(t, "AIT_Chat_History_2025-03-04T14-05-06Z.txt", TranscriptFileName(ts))
}
