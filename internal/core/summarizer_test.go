package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"memoryvault.app/memory-vault/internal/store"
)

func TestNotesContextEmptyVault(t *testing.T) {
	assert.Equal(t, EmptyVaultContext, NotesContext(nil))
	assert.Equal(t, EmptyVaultContext, NotesContext([]store.Note{}))
}

func TestNotesContextRendersNotes(t *testing.T) {
	ts := time.Date(2023, time.June, 15, 10, 0, 0, 0, time.UTC).UnixMilli()
	notes := []store.Note{
		{
			ID: 7, Title: "Lake trip", Content: "We swam all afternoon.",
			Timestamp: ts, Tags: []string{"summer", "family"},
			HasImages: true, ImagePaths: []string{"media/a.jpg", "media/b.jpg"},
		},
		{ID: 8, Title: "Quiet morning", Content: "Coffee on the porch.", Timestamp: ts},
	}

	ctx := NotesContext(notes)
	assert.Contains(t, ctx, "[Note ID: 7]")
	assert.Contains(t, ctx, "June 15, 2023")
	assert.Contains(t, ctx, `"Lake trip"`)
	assert.Contains(t, ctx, "We swam all afternoon.")
	assert.Contains(t, ctx, "Tags: summer, family")
	assert.Contains(t, ctx, "2 image(s)")
	assert.Contains(t, ctx, "\n\n---\n\n", "notes are separated by a divider")
	assert.NotContains(t, ctx, "a.jpg", "media paths never reach the model")
}

func TestNotesContextAudioSentence(t *testing.T) {
	notes := []store.Note{{ID: 1, Title: "Song", Content: "Humming", HasAudio: true, AudioPath: "media/x.m4a"}}
	ctx := NotesContext(notes)
	assert.Contains(t, ctx, "audio recording")
	assert.NotContains(t, ctx, "x.m4a")
}
