package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"memoryvault.app/memory-vault/internal/gateway"
	"memoryvault.app/memory-vault/internal/store"
)

type QuizState string

const (
	QuizNone       QuizState = "none"
	QuizGenerating QuizState = "generating"
	QuizInProgress QuizState = "in_progress"
	QuizComplete   QuizState = "complete"
)

type CompletionState string

const (
	CompletionNone       CompletionState = "none"
	CompletionGenerating CompletionState = "generating"
	CompletionAwaiting   CompletionState = "awaiting_completion"
	CompletionGraded     CompletionState = "graded"
)

var (
	ErrNoActiveGame    = errors.New("no active game")
	ErrAlreadyAnswered = errors.New("this question was already answered")
)

// QuizQuestion is ephemeral game state: immutable after generation except
// for the answer fields, which are set exactly once on submit.
type QuizQuestion struct {
	ID            int64  `json:"id"`
	Question      string `json:"question"`
	CorrectAnswer string `json:"correct_answer"`
	RelatedNoteID int64  `json:"related_note_id"`
	UserAnswer    string `json:"user_answer,omitempty"`
	IsCorrect     *bool  `json:"is_correct,omitempty"`
	Feedback      string `json:"feedback,omitempty"`
}

// MemoryCompletionGame is one ephemeral fill-in-the-blank round built from a
// randomly chosen note.
type MemoryCompletionGame struct {
	ID                 int64      `json:"id"`
	Note               store.Note `json:"note"`
	PartialMemory      string     `json:"partial_memory"`
	ExpectedCompletion string     `json:"expected_completion"`
	UserCompletion     string     `json:"user_completion,omitempty"`
	IsCorrect          *bool      `json:"is_correct,omitempty"`
	Feedback           string     `json:"feedback,omitempty"`
}

// GamesService drives the quiz and memory-completion machines. Game state
// lives only in memory and is discarded on reset.
type GamesService struct {
	dbStore   *store.SQLiteStore
	gw        gateway.Gateway
	modelName string
	useGPU    bool
	sampler   *NoteSampler

	mu sync.Mutex

	quizToken    string
	quizState    QuizState
	questions    []QuizQuestion
	currentIndex int

	memToken string
	memState CompletionState
	memGame  *MemoryCompletionGame
}

func NewGamesService(db *store.SQLiteStore, gw gateway.Gateway, modelName string, useGPU bool, sampler *NoteSampler) *GamesService {
	if sampler == nil {
		sampler = NewNoteSampler()
	}
	return &GamesService{
		dbStore:   db,
		gw:        gw,
		modelName: modelName,
		useGPU:    useGPU,
		sampler:   sampler,
		quizState: QuizNone,
		memState:  CompletionNone,
	}
}

// Quiz

// GenerateQuiz builds a fresh quiz of count questions. Needs at least one
// note.
func (s *GamesService) GenerateQuiz(ctx context.Context, count int) ([]QuizQuestion, error) {
	if count <= 0 {
		count = 5
	}

	s.mu.Lock()
	if s.quizState == QuizGenerating {
		s.mu.Unlock()
		return nil, ErrGenerationInProgress
	}
	token := uuid.NewString()
	s.quizToken = token
	s.quizState = QuizGenerating
	s.mu.Unlock()

	questions, err := s.generateQuizQuestions(ctx, count)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.quizToken != token {
		// Reset happened mid-generation; discard whatever came back.
		return nil, nil
	}
	if err != nil {
		s.quizState = QuizNone
		return nil, err
	}
	s.questions = questions
	s.currentIndex = 0
	s.quizState = QuizInProgress
	return append([]QuizQuestion(nil), questions...), nil
}

func (s *GamesService) generateQuizQuestions(ctx context.Context, count int) ([]QuizQuestion, error) {
	if err := ensureModelLoaded(ctx, s.gw, s.modelName, s.useGPU); err != nil {
		return nil, err
	}

	notes, err := s.dbStore.GetAllNotes()
	if err != nil {
		return nil, fmt.Errorf("failed to load notes: %w", err)
	}
	if len(notes) == 0 {
		return nil, ErrInsufficientData
	}

	knownIDs := make(map[int64]bool, len(notes))
	for _, n := range notes {
		knownIDs[n.ID] = true
	}

	prompt := BuildQuizPrompt(count, NotesContext(notes))
	var payload *QuizPayload
	err = generateWithRetry(ctx, s.gw, prompt, func(raw string) error {
		parsed, perr := ParseQuizResponse(raw)
		if perr != nil {
			return perr
		}
		payload = parsed
		return nil
	})
	if err != nil {
		return nil, err
	}

	questions := make([]QuizQuestion, 0, len(payload.Questions))
	for _, q := range payload.Questions {
		if !knownIDs[q.RelatedNoteID] {
			// The model invented a note id; skip the question.
			continue
		}
		questions = append(questions, QuizQuestion{
			ID:            int64(len(questions) + 1),
			Question:      q.Question,
			CorrectAnswer: q.CorrectAnswer,
			RelatedNoteID: q.RelatedNoteID,
		})
	}
	if len(questions) == 0 {
		return nil, &ProtocolError{Detail: "no questions referenced existing notes"}
	}
	return questions, nil
}

// SubmitQuizAnswer grades the current question. The answer fields are set
// exactly once; a grading failure leaves the question unanswered so the
// same submit can be retried.
func (s *GamesService) SubmitQuizAnswer(ctx context.Context, answer string) (*QuizQuestion, error) {
	s.mu.Lock()
	if s.quizState != QuizInProgress {
		s.mu.Unlock()
		return nil, ErrNoActiveGame
	}
	idx := s.currentIndex
	question := s.questions[idx]
	if question.IsCorrect != nil {
		s.mu.Unlock()
		return nil, ErrAlreadyAnswered
	}
	token := s.quizToken
	s.mu.Unlock()

	if err := ensureModelLoaded(ctx, s.gw, s.modelName, s.useGPU); err != nil {
		return nil, err
	}

	prompt := BuildQuizGradingPrompt(question.Question, question.CorrectAnswer, answer)
	var grade *GradePayload
	err := generateWithRetry(ctx, s.gw, prompt, func(raw string) error {
		parsed, perr := ParseGradeResponse(raw)
		if perr != nil {
			return perr
		}
		grade = parsed
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.quizToken != token || s.quizState != QuizInProgress {
		return nil, nil
	}
	q := &s.questions[idx]
	if q.IsCorrect != nil {
		// A concurrent submit graded this question first; its grade stands.
		return nil, ErrAlreadyAnswered
	}
	q.UserAnswer = answer
	q.IsCorrect = grade.IsCorrect
	q.Feedback = grade.Feedback
	out := *q
	return &out, nil
}

// NextQuestion advances the quiz; past the last question it transitions
// directly to Complete.
func (s *GamesService) NextQuestion() QuizState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.quizState != QuizInProgress {
		return s.quizState
	}
	s.currentIndex++
	if s.currentIndex >= len(s.questions) {
		s.quizState = QuizComplete
	}
	return s.quizState
}

func (s *GamesService) CurrentQuestion() (*QuizQuestion, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.quizState != QuizInProgress || s.currentIndex >= len(s.questions) {
		return nil, s.currentIndex
	}
	q := s.questions[s.currentIndex]
	return &q, s.currentIndex
}

func (s *GamesService) QuizQuestions() []QuizQuestion {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]QuizQuestion(nil), s.questions...)
}

func (s *GamesService) QuizState() QuizState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.quizState
}

// QuizScore counts correctly answered questions.
func (s *GamesService) QuizScore() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	score := 0
	for _, q := range s.questions {
		if q.IsCorrect != nil && *q.IsCorrect {
			score++
		}
	}
	return score
}

// QuizProgress is recomputed, never stored: (currentIndex+1)/total × 100.
func (s *GamesService) QuizProgress() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.questions) == 0 {
		return 0
	}
	idx := s.currentIndex
	if idx >= len(s.questions) {
		idx = len(s.questions) - 1
	}
	return float64(idx+1) / float64(len(s.questions)) * 100
}

func (s *GamesService) ResetQuiz() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quizToken = uuid.NewString()
	s.quizState = QuizNone
	s.questions = nil
	s.currentIndex = 0
}

// Memory completion

// GenerateMemoryGame starts a fresh round from one uniformly random note.
func (s *GamesService) GenerateMemoryGame(ctx context.Context) (*MemoryCompletionGame, error) {
	s.mu.Lock()
	if s.memState == CompletionGenerating {
		s.mu.Unlock()
		return nil, ErrGenerationInProgress
	}
	token := uuid.NewString()
	s.memToken = token
	s.memState = CompletionGenerating
	s.mu.Unlock()

	game, err := s.generateMemoryGame(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.memToken != token {
		return nil, nil
	}
	if err != nil {
		s.memState = CompletionNone
		return nil, err
	}
	s.memGame = game
	s.memState = CompletionAwaiting
	out := *game
	return &out, nil
}

func (s *GamesService) generateMemoryGame(ctx context.Context) (*MemoryCompletionGame, error) {
	if err := ensureModelLoaded(ctx, s.gw, s.modelName, s.useGPU); err != nil {
		return nil, err
	}

	notes, err := s.dbStore.GetAllNotes()
	if err != nil {
		return nil, fmt.Errorf("failed to load notes: %w", err)
	}
	note := s.sampler.Pick(notes)
	if note == nil {
		return nil, ErrInsufficientData
	}

	prompt := BuildMemoryCompletionPrompt(note)
	var payload *CompletionPayload
	err = generateWithRetry(ctx, s.gw, prompt, func(raw string) error {
		parsed, perr := ParseCompletionResponse(raw)
		if perr != nil {
			return perr
		}
		payload = parsed
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &MemoryCompletionGame{
		ID:                 time.Now().UnixMilli(),
		Note:               *note,
		PartialMemory:      payload.PartialMemory,
		ExpectedCompletion: payload.ExpectedCompletion,
	}, nil
}

// SubmitMemoryCompletion grades the user's completion and moves the round
// to Graded.
func (s *GamesService) SubmitMemoryCompletion(ctx context.Context, completion string) (*MemoryCompletionGame, error) {
	s.mu.Lock()
	if s.memState != CompletionAwaiting || s.memGame == nil {
		s.mu.Unlock()
		return nil, ErrNoActiveGame
	}
	game := *s.memGame
	token := s.memToken
	s.mu.Unlock()

	if err := ensureModelLoaded(ctx, s.gw, s.modelName, s.useGPU); err != nil {
		return nil, err
	}

	prompt := BuildCompletionGradingPrompt(game.Note.Content, game.ExpectedCompletion, completion)
	var grade *GradePayload
	err := generateWithRetry(ctx, s.gw, prompt, func(raw string) error {
		parsed, perr := ParseGradeResponse(raw)
		if perr != nil {
			return perr
		}
		grade = parsed
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.memToken != token || s.memGame == nil {
		return nil, nil
	}
	if s.memState != CompletionAwaiting {
		// A concurrent submit graded this round first; its grade stands.
		return nil, ErrNoActiveGame
	}
	s.memGame.UserCompletion = completion
	s.memGame.IsCorrect = grade.IsCorrect
	s.memGame.Feedback = grade.Feedback
	s.memState = CompletionGraded
	out := *s.memGame
	return &out, nil
}

func (s *GamesService) MemoryGame() (*MemoryCompletionGame, CompletionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.memGame == nil {
		return nil, s.memState
	}
	out := *s.memGame
	return &out, s.memState
}

func (s *GamesService) ResetMemoryGame() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.memToken = uuid.NewString()
	s.memState = CompletionNone
	s.memGame = nil
}
