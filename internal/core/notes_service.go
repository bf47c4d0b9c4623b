package core

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"memoryvault.app/memory-vault/internal/media"
	"memoryvault.app/memory-vault/internal/store"
)

var ErrNoteIncomplete = errors.New("a note needs both a title and content")

// NoteInput is a note save request as it arrives from capture: media fields
// may still be transient URIs.
type NoteInput struct {
	ID        int64    `json:"id,omitempty"` // zero for create
	Title     string   `json:"title"`
	Content   string   `json:"content"`
	Tags      []string `json:"tags"`
	AudioURI  string   `json:"audio_uri,omitempty"`
	ImageURIs []string `json:"image_uris,omitempty"`
}

// NotesService orchestrates note persistence: media promotion strictly
// happens-before the row write, and row deletion cascades to owned files.
type NotesService struct {
	dbStore *store.SQLiteStore
	media   *media.Manager
}

func NewNotesService(db *store.SQLiteStore, m *media.Manager) *NotesService {
	return &NotesService{dbStore: db, media: m}
}

func (s *NotesService) ListNotes() ([]store.Note, error) {
	return s.dbStore.GetAllNotes()
}

func (s *NotesService) GetNote(id int64) (*store.Note, error) {
	return s.dbStore.GetNoteByID(id)
}

func (s *NotesService) SearchNotes(query string) ([]store.Note, error) {
	return s.dbStore.SearchNotes(query)
}

// SaveNote creates or updates a note. Media promotion failures degrade (the
// note is saved without the failed item); only store failures abort.
func (s *NotesService) SaveNote(input NoteInput) (*store.Note, error) {
	title := strings.TrimSpace(input.Title)
	content := strings.TrimSpace(input.Content)
	if title == "" || content == "" {
		return nil, ErrNoteIncomplete
	}

	// Promote before persisting: a row must never reference a transient URI.
	audioPath := s.media.PromoteAudio(input.AudioURI)
	imagePaths := s.media.PromoteImages(input.ImageURIs)

	note := &store.Note{
		ID:         input.ID,
		Title:      title,
		Content:    content,
		Tags:       cleanTags(input.Tags),
		AudioPath:  audioPath,
		ImagePaths: imagePaths,
	}

	if input.ID == 0 {
		return s.dbStore.CreateNote(note)
	}

	existing, err := s.dbStore.GetNoteByID(input.ID)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, fmt.Errorf("note %d not found", input.ID)
	}
	note.Timestamp = existing.Timestamp
	if note.Timestamp == 0 {
		note.Timestamp = time.Now().UnixMilli()
	}
	if err := s.dbStore.UpdateNote(note); err != nil {
		return nil, err
	}
	return note, nil
}

// DeleteNote removes the row and then best-effort deletes its owned media.
func (s *NotesService) DeleteNote(id int64) error {
	note, err := s.dbStore.GetNoteByID(id)
	if err != nil {
		return err
	}
	if err := s.dbStore.DeleteNote(id); err != nil {
		return err
	}
	if note != nil {
		s.media.DeleteOwned(note.AudioPath, note.ImagePaths)
	}
	return nil
}

func cleanTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag != "" {
			out = append(out, tag)
		}
	}
	return out
}
