package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"memoryvault.app/memory-vault/internal/store"
)

func seedNotes(t *testing.T, db *store.SQLiteStore, titles ...string) []store.Note {
	t.Helper()
	notes := make([]store.Note, 0, len(titles))
	for _, title := range titles {
		n, err := db.CreateNote(&store.Note{Title: title, Content: "Details about " + title})
		require.NoError(t, err)
		notes = append(notes, *n)
	}
	return notes
}

func TestGenerateQuizNeedsNotes(t *testing.T) {
	db := newTestDBWithUser(t)
	svc := NewGamesService(db, &stubGateway{}, "test-model", false, nil)

	_, err := svc.GenerateQuiz(context.Background(), 3)
	assert.ErrorIs(t, err, ErrInsufficientData)
	assert.Equal(t, QuizNone, svc.QuizState())
}

func TestGenerateQuizFiltersUnknownNoteIDs(t *testing.T) {
	db := newTestDBWithUser(t)
	notes := seedNotes(t, db, "Lake trip")
	gw := &stubGateway{responses: []string{`{"questions": [
		{"question": "Where did you swim?", "correctAnswer": "The lake", "relatedNoteId": 1},
		{"question": "Invented?", "correctAnswer": "Yes", "relatedNoteId": 99}
	]}`}}
	svc := NewGamesService(db, gw, "test-model", false, nil)

	questions, err := svc.GenerateQuiz(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, questions, 1, "questions referencing unknown notes are dropped")
	assert.Equal(t, notes[0].ID, questions[0].RelatedNoteID)
	assert.Equal(t, QuizInProgress, svc.QuizState())
}

func TestGenerateQuizRetriesOnceOnMalformedResponse(t *testing.T) {
	db := newTestDBWithUser(t)
	seedNotes(t, db, "Lake trip")
	good := `{"questions": [{"question": "Where?", "correctAnswer": "Lake", "relatedNoteId": 1}]}`
	gw := &stubGateway{responses: []string{"not json at all", good}}
	svc := NewGamesService(db, gw, "test-model", false, nil)

	questions, err := svc.GenerateQuiz(context.Background(), 1)
	require.NoError(t, err)
	assert.Len(t, questions, 1)
	assert.Equal(t, 2, gw.callCount())
}

func TestGenerateQuizGivesUpAfterSecondMalformedResponse(t *testing.T) {
	db := newTestDBWithUser(t)
	seedNotes(t, db, "Lake trip")
	gw := &stubGateway{responses: []string{"garbage", "more garbage"}}
	svc := NewGamesService(db, gw, "test-model", false, nil)

	_, err := svc.GenerateQuiz(context.Background(), 1)
	require.Error(t, err)
	assert.True(t, IsMalformedResponse(err))
	assert.Equal(t, 2, gw.callCount())
	assert.Equal(t, QuizNone, svc.QuizState())
}

func TestQuizFullRound(t *testing.T) {
	db := newTestDBWithUser(t)
	seedNotes(t, db, "Lake trip", "Garden")
	gw := &stubGateway{responses: []string{
		`{"questions": [
			{"question": "Where did you swim?", "correctAnswer": "The lake", "relatedNoteId": 1},
			{"question": "What did you plant?", "correctAnswer": "Tomatoes", "relatedNoteId": 2}
		]}`,
		`{"isCorrect": true, "feedback": "Well remembered!"}`,
		`{"isCorrect": false, "feedback": "Close, it was tomatoes."}`,
	}}
	svc := NewGamesService(db, gw, "test-model", false, nil)

	questions, err := svc.GenerateQuiz(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, questions, 2)
	assert.InDelta(t, 50.0, svc.QuizProgress(), 0.01)

	graded, err := svc.SubmitQuizAnswer(context.Background(), "the lake")
	require.NoError(t, err)
	require.NotNil(t, graded.IsCorrect)
	assert.True(t, *graded.IsCorrect)
	assert.Equal(t, "Well remembered!", graded.Feedback)

	// A question is graded exactly once.
	_, err = svc.SubmitQuizAnswer(context.Background(), "again")
	assert.ErrorIs(t, err, ErrAlreadyAnswered)

	state := svc.NextQuestion()
	assert.Equal(t, QuizInProgress, state)
	assert.InDelta(t, 100.0, svc.QuizProgress(), 0.01)

	graded, err = svc.SubmitQuizAnswer(context.Background(), "carrots")
	require.NoError(t, err)
	assert.False(t, *graded.IsCorrect)

	state = svc.NextQuestion()
	assert.Equal(t, QuizComplete, state)
	assert.Equal(t, 1, svc.QuizScore())

	// No current question past the end.
	q, _ := svc.CurrentQuestion()
	assert.Nil(t, q)

	svc.ResetQuiz()
	assert.Equal(t, QuizNone, svc.QuizState())
	assert.Empty(t, svc.QuizQuestions())
}

func TestSubmitQuizAnswerWithoutGame(t *testing.T) {
	db := newTestDBWithUser(t)
	svc := NewGamesService(db, &stubGateway{}, "test-model", false, nil)
	_, err := svc.SubmitQuizAnswer(context.Background(), "anything")
	assert.ErrorIs(t, err, ErrNoActiveGame)
}

func TestMemoryGameNeedsNotes(t *testing.T) {
	db := newTestDBWithUser(t)
	svc := NewGamesService(db, &stubGateway{}, "test-model", false, nil)
	_, err := svc.GenerateMemoryGame(context.Background())
	assert.ErrorIs(t, err, ErrInsufficientData)
}

func TestMemoryGameFullRound(t *testing.T) {
	db := newTestDBWithUser(t)
	seedNotes(t, db, "Lake trip")
	gw := &stubGateway{responses: []string{
		`{"partialMemory": "We went to [___]", "expectedCompletion": "the lake"}`,
		`{"isCorrect": true, "feedback": "Exactly right."}`,
	}}
	svc := NewGamesService(db, gw, "test-model", false, NewSeededNoteSampler(1))

	game, err := svc.GenerateMemoryGame(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "We went to [___]", game.PartialMemory)
	assert.Equal(t, "Lake trip", game.Note.Title)

	_, state := svc.MemoryGame()
	assert.Equal(t, CompletionAwaiting, state)

	graded, err := svc.SubmitMemoryCompletion(context.Background(), "the lake")
	require.NoError(t, err)
	require.NotNil(t, graded.IsCorrect)
	assert.True(t, *graded.IsCorrect)
	assert.Equal(t, "the lake", graded.UserCompletion)

	_, state = svc.MemoryGame()
	assert.Equal(t, CompletionGraded, state)

	// Grading is final for this round.
	_, err = svc.SubmitMemoryCompletion(context.Background(), "again")
	assert.ErrorIs(t, err, ErrNoActiveGame)

	svc.ResetMemoryGame()
	game, state = svc.MemoryGame()
	assert.Nil(t, game)
	assert.Equal(t, CompletionNone, state)
}

func TestSubmitQuizAnswerConcurrentlyGradesOnce(t *testing.T) {
	db := newTestDBWithUser(t)
	seedNotes(t, db, "Lake trip")
	gw := &stubGateway{responses: []string{
		`{"questions": [{"question": "Where?", "correctAnswer": "Lake", "relatedNoteId": 1}]}`,
		`{"isCorrect": true, "feedback": "first"}`,
		`{"isCorrect": true, "feedback": "second"}`,
	}}
	svc := NewGamesService(db, gw, "test-model", false, nil)

	_, err := svc.GenerateQuiz(context.Background(), 1)
	require.NoError(t, err)

	// Park both grading calls at the gateway, then release them together.
	gw.mu.Lock()
	gw.block = make(chan struct{})
	gw.mu.Unlock()

	results := make(chan error, 2)
	var graded []*QuizQuestion
	var gradedMu sync.Mutex
	for i := 0; i < 2; i++ {
		go func(answer string) {
			q, err := svc.SubmitQuizAnswer(context.Background(), answer)
			if q != nil {
				gradedMu.Lock()
				graded = append(graded, q)
				gradedMu.Unlock()
			}
			results <- err
		}(fmt.Sprintf("answer-%d", i))
	}

	require.Eventually(t, func() bool { return gw.enteredCount() == 3 }, time.Second, time.Millisecond)
	close(gw.block)

	var okCount, rejectedCount int
	for i := 0; i < 2; i++ {
		err := <-results
		switch {
		case err == nil:
			okCount++
		case errors.Is(err, ErrAlreadyAnswered):
			rejectedCount++
		default:
			t.Fatalf("unexpected submit error: %v", err)
		}
	}
	assert.Equal(t, 1, okCount, "exactly one submit may record a grade")
	assert.Equal(t, 1, rejectedCount)

	require.Len(t, graded, 1)
	stored := svc.QuizQuestions()[0]
	require.NotNil(t, stored.IsCorrect)
	assert.Equal(t, graded[0].Feedback, stored.Feedback, "the losing grade must not overwrite the winner")
	assert.Equal(t, graded[0].UserAnswer, stored.UserAnswer)
}

func TestSubmitMemoryCompletionConcurrentlyGradesOnce(t *testing.T) {
	db := newTestDBWithUser(t)
	seedNotes(t, db, "Lake trip")
	gw := &stubGateway{responses: []string{
		`{"partialMemory": "We went to [___]", "expectedCompletion": "the lake"}`,
		`{"isCorrect": true, "feedback": "first"}`,
		`{"isCorrect": false, "feedback": "second"}`,
	}}
	svc := NewGamesService(db, gw, "test-model", false, NewSeededNoteSampler(1))

	_, err := svc.GenerateMemoryGame(context.Background())
	require.NoError(t, err)

	gw.mu.Lock()
	gw.block = make(chan struct{})
	gw.mu.Unlock()

	results := make(chan error, 2)
	var graded []*MemoryCompletionGame
	var gradedMu sync.Mutex
	for i := 0; i < 2; i++ {
		go func(completion string) {
			g, err := svc.SubmitMemoryCompletion(context.Background(), completion)
			if g != nil {
				gradedMu.Lock()
				graded = append(graded, g)
				gradedMu.Unlock()
			}
			results <- err
		}(fmt.Sprintf("completion-%d", i))
	}

	require.Eventually(t, func() bool { return gw.enteredCount() == 3 }, time.Second, time.Millisecond)
	close(gw.block)

	var okCount, rejectedCount int
	for i := 0; i < 2; i++ {
		err := <-results
		switch {
		case err == nil:
			okCount++
		case errors.Is(err, ErrNoActiveGame):
			rejectedCount++
		default:
			t.Fatalf("unexpected submit error: %v", err)
		}
	}
	assert.Equal(t, 1, okCount, "exactly one submit may record a grade")
	assert.Equal(t, 1, rejectedCount)

	require.Len(t, graded, 1)
	stored, state := svc.MemoryGame()
	assert.Equal(t, CompletionGraded, state)
	assert.Equal(t, graded[0].UserCompletion, stored.UserCompletion)
	assert.Equal(t, graded[0].Feedback, stored.Feedback)
}

func TestQuizResetDiscardsInFlightGeneration(t *testing.T) {
	db := newTestDBWithUser(t)
	seedNotes(t, db, "Lake trip")
	gw := &stubGateway{
		responses: []string{`{"questions": [{"question": "Where?", "correctAnswer": "Lake", "relatedNoteId": 1}]}`},
		block:     make(chan struct{}),
	}
	svc := NewGamesService(db, gw, "test-model", false, nil)

	type result struct {
		questions []QuizQuestion
		err       error
	}
	done := make(chan result, 1)
	go func() {
		q, err := svc.GenerateQuiz(context.Background(), 1)
		done <- result{q, err}
	}()

	require.Eventually(t, func() bool { return gw.enteredCount() == 1 }, time.Second, time.Millisecond)
	svc.ResetQuiz()
	close(gw.block)

	res := <-done
	assert.NoError(t, res.err)
	assert.Nil(t, res.questions, "a generation finishing after reset is discarded")
	assert.Equal(t, QuizNone, svc.QuizState())
	assert.Empty(t, svc.QuizQuestions())
}

func TestMemoryGameResetDiscardsInFlightGeneration(t *testing.T) {
	db := newTestDBWithUser(t)
	seedNotes(t, db, "Lake trip")
	gw := &stubGateway{
		responses: []string{`{"partialMemory": "We went to [___]", "expectedCompletion": "the lake"}`},
		block:     make(chan struct{}),
	}
	svc := NewGamesService(db, gw, "test-model", false, NewSeededNoteSampler(1))

	type result struct {
		game *MemoryCompletionGame
		err  error
	}
	done := make(chan result, 1)
	go func() {
		g, err := svc.GenerateMemoryGame(context.Background())
		done <- result{g, err}
	}()

	require.Eventually(t, func() bool { return gw.enteredCount() == 1 }, time.Second, time.Millisecond)
	svc.ResetMemoryGame()
	close(gw.block)

	res := <-done
	assert.NoError(t, res.err)
	assert.Nil(t, res.game, "a generation finishing after reset is discarded")
	game, state := svc.MemoryGame()
	assert.Nil(t, game)
	assert.Equal(t, CompletionNone, state)
}
