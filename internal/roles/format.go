package roles

import (
	"fmt"
	"strings"

	"call-notes-go/internal/types"
)

// FormatTranscript renders one "[Role]: text" line per utterance. Without
// diarization it falls back to the plain transcript text.
func FormatTranscript(tr types.Transcript, ra types.RoleAssignment) string {
	if len(tr.Utterances) == 0 {
		return tr.FullText
	}
	lines := make([]string, 0, len(tr.Utterances))
	for _, u := range tr.Utterances {
		name := fmt.Sprintf("Говорящий %s", u.SpeakerLabel)
		if role, ok := ra[u.SpeakerLabel]; ok {
			name = role.Label()
		}
		lines = append(lines, fmt.Sprintf("[%s]: %s", name, u.Text))
	}
	return strings.Join(lines, "\n")
}
