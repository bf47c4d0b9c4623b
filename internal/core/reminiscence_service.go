package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"memoryvault.app/memory-vault/internal/gateway"
	"memoryvault.app/memory-vault/internal/store"
)

type ReminiscenceState string

const (
	ReminiscenceNone       ReminiscenceState = "none"
	ReminiscenceGenerating ReminiscenceState = "generating"
	ReminiscenceReady      ReminiscenceState = "ready"
	ReminiscenceErrored    ReminiscenceState = "errored"
)

// ReminiscenceSession is a themed narrative woven from several memories,
// with the resolved source notes attached in the order the model first
// referenced them.
type ReminiscenceSession struct {
	ID                 int64        `json:"id"`
	Title              string       `json:"title"`
	Narrative          string       `json:"narrative"`
	Notes              []store.Note `json:"notes"`
	PromptingQuestions []string     `json:"prompting_questions"`
}

type ReminiscenceService struct {
	dbStore   *store.SQLiteStore
	gw        gateway.Gateway
	modelName string
	useGPU    bool

	mu      sync.Mutex
	token   string
	state   ReminiscenceState
	session *ReminiscenceSession
	lastErr error
}

func NewReminiscenceService(db *store.SQLiteStore, gw gateway.Gateway, modelName string, useGPU bool) *ReminiscenceService {
	return &ReminiscenceService{
		dbStore:   db,
		gw:        gw,
		modelName: modelName,
		useGPU:    useGPU,
		state:     ReminiscenceNone,
	}
}

// Generate weaves a new session from the whole vault. Needs at least three
// notes to have material worth connecting.
func (s *ReminiscenceService) Generate(ctx context.Context) (*ReminiscenceSession, error) {
	s.mu.Lock()
	if s.state == ReminiscenceGenerating {
		s.mu.Unlock()
		return nil, ErrGenerationInProgress
	}
	token := uuid.NewString()
	s.token = token
	s.state = ReminiscenceGenerating
	s.session = nil
	s.lastErr = nil
	s.mu.Unlock()

	session, err := s.generate(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token != token {
		return nil, nil
	}
	if err != nil {
		s.state = ReminiscenceErrored
		s.lastErr = err
		return nil, err
	}
	s.session = session
	s.state = ReminiscenceReady
	out := *session
	return &out, nil
}

func (s *ReminiscenceService) generate(ctx context.Context) (*ReminiscenceSession, error) {
	if err := ensureModelLoaded(ctx, s.gw, s.modelName, s.useGPU); err != nil {
		return nil, err
	}

	notes, err := s.dbStore.GetAllNotes()
	if err != nil {
		return nil, fmt.Errorf("failed to load notes: %w", err)
	}
	if len(notes) < 3 {
		return nil, ErrInsufficientData
	}

	prompt := BuildReminiscencePrompt(NotesContext(notes))
	var payload *ReminiscencePayload
	err = generateWithRetry(ctx, s.gw, prompt, func(raw string) error {
		parsed, perr := ParseReminiscenceResponse(raw)
		if perr != nil {
			return perr
		}
		payload = parsed
		return nil
	})
	if err != nil {
		return nil, err
	}

	resolved, err := s.resolveNotes(payload.Notes)
	if err != nil {
		return nil, err
	}

	return &ReminiscenceSession{
		ID:                 time.Now().UnixMilli(),
		Title:              payload.Title,
		Narrative:          payload.Narrative,
		Notes:              resolved,
		PromptingQuestions: payload.PromptingQuestions,
	}, nil
}

// resolveNotes maps the model's note references to stored notes, keeping
// first-seen order, dropping duplicates and ids that no longer exist.
func (s *ReminiscenceService) resolveNotes(refs []ReminiscenceNoteRef) ([]store.Note, error) {
	order := make([]int64, 0, len(refs))
	seen := make(map[int64]bool, len(refs))
	for _, ref := range refs {
		if seen[ref.ID] {
			continue
		}
		seen[ref.ID] = true
		order = append(order, ref.ID)
	}

	found, err := s.dbStore.GetNotesByIDs(order)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve referenced notes: %w", err)
	}
	byID := make(map[int64]store.Note, len(found))
	for _, n := range found {
		byID[n.ID] = n
	}

	resolved := make([]store.Note, 0, len(order))
	for _, id := range order {
		if n, ok := byID[id]; ok {
			resolved = append(resolved, n)
		}
	}
	return resolved, nil
}

func (s *ReminiscenceService) Session() (*ReminiscenceSession, ReminiscenceState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return nil, s.state
	}
	out := *s.session
	return &out, s.state
}

func (s *ReminiscenceService) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

func (s *ReminiscenceService) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = uuid.NewString()
	s.state = ReminiscenceNone
	s.session = nil
	s.lastErr = nil
}
