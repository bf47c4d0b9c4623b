package core

import (
	"fmt"
	"strings"
	"time"

	"memoryvault.app/memory-vault/internal/store"
)

// EmptyVaultContext is returned when no notes exist. Callers treat it as a
// normal context blob; it instructs the model to encourage note creation.
const EmptyVaultContext = "The user has not created any memories yet. Encourage them to create their first one!"

// NotesContext renders the note collection into a single text block for
// model consumption: one paragraph per note with a human-readable date, the
// tags, and media counts. No raw media bytes are ever included.
func NotesContext(notes []store.Note) string {
	if len(notes) == 0 {
		return EmptyVaultContext
	}

	paragraphs := make([]string, 0, len(notes))
	for _, note := range notes {
		var sb strings.Builder
		date := time.UnixMilli(note.Timestamp).Format("January 2, 2006")
		fmt.Fprintf(&sb, "[Note ID: %d]\n", note.ID)
		fmt.Fprintf(&sb, "On %s, the user recorded a memory titled %q.\n", date, note.Title)
		fmt.Fprintf(&sb, "Content: %s", note.Content)
		if len(note.Tags) > 0 {
			fmt.Fprintf(&sb, "\nTags: %s", strings.Join(note.Tags, ", "))
		}
		var media []string
		if note.HasImages {
			media = append(media, fmt.Sprintf("This note has %d image(s) that could be compared with user-shared images.", len(note.ImagePaths)))
		}
		if note.HasAudio {
			media = append(media, "This note has an audio recording.")
		}
		if len(media) > 0 {
			sb.WriteString("\n" + strings.Join(media, " "))
		}
		paragraphs = append(paragraphs, sb.String())
	}

	return strings.Join(paragraphs, "\n\n---\n\n")
}
