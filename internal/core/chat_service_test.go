package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"memoryvault.app/memory-vault/internal/gateway"
	"memoryvault.app/memory-vault/internal/store"
)

func newTestDB(t *testing.T) *store.SQLiteStore {
	t.Helper()
	db, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func newTestDBWithUser(t *testing.T) *store.SQLiteStore {
	t.Helper()
	db := newTestDB(t)
	_, err := db.CreateUser("Margaret", "")
	require.NoError(t, err)
	return db
}

func TestChatOpenRequiresUser(t *testing.T) {
	db := newTestDB(t)
	svc := NewChatService(db, &stubGateway{}, "test-model", false)

	_, _, err := svc.Open(context.Background())
	assert.ErrorIs(t, err, ErrNoUser)
}

func TestChatOpenSeedsWelcomeMessage(t *testing.T) {
	db := newTestDBWithUser(t)
	svc := NewChatService(db, &stubGateway{}, "test-model", false)

	session, messages, err := svc.Open(context.Background())
	require.NoError(t, err)
	require.NotNil(t, session)
	require.Len(t, messages, 1)
	assert.Equal(t, store.MessageTypeAssistant, messages[0].Type)
	assert.Contains(t, messages[0].Content, "Margaret")
	assert.Equal(t, ChatReady, svc.State())

	// Reopening must reuse the session and not seed a second welcome.
	again, messages, err := svc.Open(context.Background())
	require.NoError(t, err)
	assert.Equal(t, session.ID, again.ID)
	assert.Len(t, messages, 1)
}

func TestChatSendPersistsBothSides(t *testing.T) {
	db := newTestDBWithUser(t)
	gw := &stubGateway{responses: []string{"That sounds like a lovely day."}}
	svc := NewChatService(db, gw, "test-model", false)

	_, _, err := svc.Open(context.Background())
	require.NoError(t, err)

	reply, err := svc.Send(context.Background(), "I went to the lake today", nil)
	require.NoError(t, err)
	require.NotNil(t, reply)
	assert.Equal(t, "That sounds like a lovely day.", reply.Content)
	assert.Equal(t, ChatReady, svc.State())

	history, err := svc.History()
	require.NoError(t, err)
	require.Len(t, history, 3) // welcome, user, assistant
	assert.Equal(t, store.MessageTypeUser, history[1].Type)
	assert.Equal(t, "I went to the lake today", history[1].Content)
}

func TestChatSendRejectsWhileGenerating(t *testing.T) {
	db := newTestDBWithUser(t)
	gw := &stubGateway{responses: []string{"ok"}, block: make(chan struct{})}
	svc := NewChatService(db, gw, "test-model", false)

	_, _, err := svc.Open(context.Background())
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = svc.Send(context.Background(), "first", nil)
	}()

	// Wait for the first send to reach the gateway.
	require.Eventually(t, func() bool {
		s := svc.State()
		return s == ChatAwaitingResponse || s == ChatModelLoading
	}, time.Second, time.Millisecond)

	_, err = svc.Send(context.Background(), "second", nil)
	assert.ErrorIs(t, err, ErrGenerationInProgress)

	close(gw.block)
	<-done
	assert.Equal(t, ChatReady, svc.State())
}

func TestChatSendGenerationFailureStaysUsable(t *testing.T) {
	db := newTestDBWithUser(t)
	gw := &stubGateway{genErr: &gateway.Error{Reason: gateway.ReasonInferenceFailed, Message: "boom"}}
	svc := NewChatService(db, gw, "test-model", false)

	_, _, err := svc.Open(context.Background())
	require.NoError(t, err)

	reply, err := svc.Send(context.Background(), "hello", nil)
	require.NoError(t, err, "a failed generation surfaces as an assistant message, not an error")
	require.NotNil(t, reply)
	assert.Equal(t, store.MessageTypeAssistant, reply.Type)
	assert.Contains(t, reply.Content, "I'm sorry")
	assert.Equal(t, ChatReady, svc.State())

	// The chat recovers on the next turn.
	gw.mu.Lock()
	gw.genErr = nil
	gw.responses = []string{"recovered"}
	gw.mu.Unlock()
	reply, err = svc.Send(context.Background(), "try again", nil)
	require.NoError(t, err)
	assert.Equal(t, "recovered", reply.Content)
}

func TestChatSendModelLoadFailure(t *testing.T) {
	db := newTestDBWithUser(t)
	loadErr := &gateway.Error{Reason: gateway.ReasonModelLoadFailed, Message: "no weights"}
	gw := &stubGateway{loadErr: loadErr}
	svc := NewChatService(db, gw, "test-model", false)

	_, _, err := svc.Open(context.Background())
	require.NoError(t, err)

	_, err = svc.Send(context.Background(), "hello", nil)
	var gerr *gateway.Error
	require.True(t, errors.As(err, &gerr))
	assert.Equal(t, gateway.ReasonModelLoadFailed, gerr.Reason)
	assert.Equal(t, ChatErrored, svc.State())

	// Reset clears the error state.
	svc.Reset()
	assert.Equal(t, ChatReady, svc.State())
}

func TestChatSendRejectsEmptyMessage(t *testing.T) {
	db := newTestDBWithUser(t)
	svc := NewChatService(db, &stubGateway{}, "test-model", false)
	_, _, err := svc.Open(context.Background())
	require.NoError(t, err)

	_, err = svc.Send(context.Background(), "", nil)
	assert.Error(t, err)
}

func TestChatImageOnlyMessageGetsPlaceholder(t *testing.T) {
	db := newTestDBWithUser(t)
	gw := &stubGateway{responses: []string{"What a great photo!"}}
	svc := NewChatService(db, gw, "test-model", false)
	_, _, err := svc.Open(context.Background())
	require.NoError(t, err)

	reply, err := svc.Send(context.Background(), "", []string{"media/image_1.jpg"})
	require.NoError(t, err)
	require.NotNil(t, reply)

	history, err := svc.History()
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, "📸 Sent images", history[1].Content)
	assert.Equal(t, []string{"media/image_1.jpg"}, history[1].ImagePaths)
}

func TestChatResetDiscardsInFlightReply(t *testing.T) {
	db := newTestDBWithUser(t)
	gw := &stubGateway{responses: []string{"late reply"}, block: make(chan struct{})}
	svc := NewChatService(db, gw, "test-model", false)

	_, _, err := svc.Open(context.Background())
	require.NoError(t, err)

	type result struct {
		reply *store.Message
		err   error
	}
	done := make(chan result, 1)
	go func() {
		reply, err := svc.Send(context.Background(), "hello", nil)
		done <- result{reply, err}
	}()

	require.Eventually(t, func() bool { return gw.enteredCount() == 1 }, time.Second, time.Millisecond)
	svc.Reset()
	close(gw.block)

	res := <-done
	assert.NoError(t, res.err)
	assert.Nil(t, res.reply, "a reply finishing after reset is discarded")
	assert.Equal(t, ChatReady, svc.State())

	// The user message was already persisted, but no stale assistant reply.
	history, err := svc.History()
	require.NoError(t, err)
	require.Len(t, history, 2) // welcome, user
	assert.Equal(t, store.MessageTypeUser, history[1].Type)
}

func TestChatSendWithoutUserReturnsNoUserError(t *testing.T) {
	db := newTestDB(t) // never onboarded
	svc := NewChatService(db, &stubGateway{}, "test-model", false)
	svc.session = &store.ChatSession{ID: 1}

	_, err := svc.Send(context.Background(), "hello", nil)
	assert.ErrorIs(t, err, ErrNoUser)
	assert.NotContains(t, err.Error(), "%!w", "no nil error gets wrapped")
	assert.Equal(t, ChatReady, svc.State())
}
