package core

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReminiscenceNeedsThreeNotes(t *testing.T) {
	db := newTestDBWithUser(t)
	seedNotes(t, db, "One", "Two")
	svc := NewReminiscenceService(db, &stubGateway{}, "test-model", false)

	_, err := svc.Generate(context.Background())
	assert.ErrorIs(t, err, ErrInsufficientData)
}

func TestReminiscenceResolvesNotesFirstSeenOrder(t *testing.T) {
	db := newTestDBWithUser(t)
	seedNotes(t, db, "One", "Two", "Three")
	// Duplicates collapse to first mention; id 9 no longer exists.
	gw := &stubGateway{responses: []string{`{
		"title": "Quiet Days",
		"narrative": "A story about quiet days.",
		"notes": [{"id": 3, "title": "Three"}, {"id": 1, "title": "One"}, {"id": 3, "title": "Three"}, {"id": 9, "title": "Gone"}],
		"promptingQuestions": ["What do you remember most?"]
	}`}}
	svc := NewReminiscenceService(db, gw, "test-model", false)

	session, err := svc.Generate(context.Background())
	require.NoError(t, err)
	require.Len(t, session.Notes, 2)
	assert.Equal(t, int64(3), session.Notes[0].ID)
	assert.Equal(t, int64(1), session.Notes[1].ID)
	assert.Equal(t, "Quiet Days", session.Title)
	assert.Equal(t, []string{"What do you remember most?"}, session.PromptingQuestions)

	stored, state := svc.Session()
	assert.Equal(t, ReminiscenceReady, state)
	require.NotNil(t, stored)
	assert.Equal(t, session.Title, stored.Title)
}

func TestReminiscenceMalformedResponseErrors(t *testing.T) {
	db := newTestDBWithUser(t)
	seedNotes(t, db, "One", "Two", "Three")
	gw := &stubGateway{responses: []string{"garbage", "still garbage"}}
	svc := NewReminiscenceService(db, gw, "test-model", false)

	_, err := svc.Generate(context.Background())
	require.Error(t, err)
	assert.True(t, IsMalformedResponse(err))

	_, state := svc.Session()
	assert.Equal(t, ReminiscenceErrored, state)
	assert.Error(t, svc.LastError())

	svc.Reset()
	_, state = svc.Session()
	assert.Equal(t, ReminiscenceNone, state)
	assert.NoError(t, svc.LastError())
}

func TestReminiscenceResetDiscardsInFlightGeneration(t *testing.T) {
	db := newTestDBWithUser(t)
	seedNotes(t, db, "One", "Two", "Three")
	gw := &stubGateway{
		responses: []string{`{
			"title": "Quiet Days",
			"narrative": "A story about quiet days.",
			"notes": [{"id": 1, "title": "One"}],
			"promptingQuestions": ["What do you remember most?"]
		}`},
		block: make(chan struct{}),
	}
	svc := NewReminiscenceService(db, gw, "test-model", false)

	type result struct {
		session *ReminiscenceSession
		err     error
	}
	done := make(chan result, 1)
	go func() {
		s, err := svc.Generate(context.Background())
		done <- result{s, err}
	}()

	require.Eventually(t, func() bool { return gw.enteredCount() == 1 }, time.Second, time.Millisecond)
	svc.Reset()
	close(gw.block)

	res := <-done
	assert.NoError(t, res.err)
	assert.Nil(t, res.session, "a session finishing after reset is discarded")
	session, state := svc.Session()
	assert.Nil(t, session)
	assert.Equal(t, ReminiscenceNone, state)
	assert.NoError(t, svc.LastError())
}
