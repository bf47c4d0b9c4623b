package core

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"

	"memoryvault.app/memory-vault/internal/gateway"
	"memoryvault.app/memory-vault/internal/store"
)

type ChatState string

const (
	ChatIdle             ChatState = "idle"
	ChatModelLoading     ChatState = "model_loading"
	ChatAwaitingResponse ChatState = "awaiting_response"
	ChatReady            ChatState = "ready"
	ChatErrored          ChatState = "errored"
)

var ErrNoUser = errors.New("no user has been onboarded yet")

const chatHistoryWindow = 5

// ChatService drives one chat turn at a time. A send is rejected while the
// model is loading or a response is outstanding; a gateway failure is
// surfaced as an assistant-role error message so the chat is never left
// unusable.
type ChatService struct {
	dbStore   *store.SQLiteStore
	gw        gateway.Gateway
	modelName string
	useGPU    bool

	mu      sync.Mutex
	state   ChatState
	session *store.ChatSession
	token   string // current generation token; stale completions are discarded
}

func NewChatService(db *store.SQLiteStore, gw gateway.Gateway, modelName string, useGPU bool) *ChatService {
	return &ChatService{
		dbStore:   db,
		gw:        gw,
		modelName: modelName,
		useGPU:    useGPU,
		state:     ChatIdle,
	}
}

func (s *ChatService) State() ChatState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Open resolves the user's session (creating one only when none exists) and
// seeds a welcome message into an empty conversation.
func (s *ChatService) Open(ctx context.Context) (*store.ChatSession, []store.Message, error) {
	user, err := s.dbStore.GetUser()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load user: %w", err)
	}
	if user == nil {
		return nil, nil, ErrNoUser
	}

	session, err := s.dbStore.GetOrCreateChatSession(user.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open chat session: %w", err)
	}

	messages, err := s.dbStore.GetMessagesForSession(session.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load messages: %w", err)
	}

	if len(messages) == 0 {
		welcome := fmt.Sprintf("Hello %s! I'm here to help you explore your memories and experiences. What would you like to talk about today?", user.Name)
		msg, err := s.dbStore.SaveMessage(session.ID, store.MessageTypeAssistant, welcome, nil, nil)
		if err != nil {
			log.Printf("Failed to save welcome message for session %d: %v", session.ID, err)
		} else {
			messages = append(messages, *msg)
		}
	}

	s.mu.Lock()
	s.session = session
	if s.state == ChatIdle {
		s.state = ChatReady
	}
	s.mu.Unlock()

	return session, messages, nil
}

// Send runs one chat turn: persist the user message, build the prompt from
// the notes context and recent history, generate, persist the reply.
// imagePaths must already be promoted by the media manager.
func (s *ChatService) Send(ctx context.Context, content string, imagePaths []string) (*store.Message, error) {
	if content == "" && len(imagePaths) == 0 {
		return nil, errors.New("message is empty")
	}

	s.mu.Lock()
	if s.state == ChatModelLoading || s.state == ChatAwaitingResponse {
		s.mu.Unlock()
		return nil, ErrGenerationInProgress
	}
	session := s.session
	if session == nil {
		s.mu.Unlock()
		return nil, errors.New("chat session not opened")
	}
	token := uuid.NewString()
	s.token = token
	if s.gw.IsLoaded() {
		s.state = ChatAwaitingResponse
	} else {
		s.state = ChatModelLoading
	}
	s.mu.Unlock()

	if err := ensureModelLoaded(ctx, s.gw, s.modelName, s.useGPU); err != nil {
		s.advance(token, ChatErrored)
		return nil, err
	}
	s.advance(token, ChatAwaitingResponse)

	userContent := content
	if userContent == "" {
		userContent = "📸 Sent images"
	}
	userMsg, err := s.dbStore.SaveMessage(session.ID, store.MessageTypeUser, userContent, nil, imagePaths)
	if err != nil {
		s.advance(token, ChatReady)
		return nil, fmt.Errorf("failed to save user message: %w", err)
	}

	user, err := s.dbStore.GetUser()
	if err != nil {
		s.advance(token, ChatReady)
		return nil, fmt.Errorf("failed to load user for prompt: %w", err)
	}
	if user == nil {
		s.advance(token, ChatReady)
		return nil, ErrNoUser
	}

	notes, err := s.dbStore.GetAllNotes()
	if err != nil {
		log.Printf("Failed to load notes for chat context, proceeding without them: %v", err)
		notes = nil
	}
	history := s.recentHistory(session.ID, userMsg.ID)

	prompt := BuildChatPrompt(user.Name, NotesContext(notes), history, content, len(imagePaths) > 0)

	var result *gateway.GenerationResult
	var genErr error
	if len(imagePaths) > 0 {
		result, genErr = s.gw.GenerateTextWithImages(ctx, prompt, imagePaths)
	} else {
		result, genErr = s.gw.GenerateText(ctx, prompt)
	}

	s.mu.Lock()
	if s.token != token {
		// The session was reset while we were generating; drop the result.
		s.mu.Unlock()
		return nil, nil
	}
	s.state = ChatReady
	s.mu.Unlock()

	if genErr != nil {
		log.Printf("Chat generation failed for session %d: %v", session.ID, genErr)
		errMsg, saveErr := s.dbStore.SaveMessage(session.ID, store.MessageTypeAssistant,
			"I'm sorry, I encountered an error while processing your request. Please try again.", nil, nil)
		if saveErr != nil {
			return nil, fmt.Errorf("failed to save error message: %w", saveErr)
		}
		return errMsg, nil
	}

	assistantMsg, err := s.dbStore.SaveMessage(session.ID, store.MessageTypeAssistant, result.Text, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to save assistant message: %w", err)
	}
	return assistantMsg, nil
}

// History returns the full conversation for the open session.
func (s *ChatService) History() ([]store.Message, error) {
	s.mu.Lock()
	session := s.session
	s.mu.Unlock()
	if session == nil {
		return []store.Message{}, nil
	}
	return s.dbStore.GetMessagesForSession(session.ID)
}

// Reset invalidates any outstanding generation; its eventual result is
// discarded instead of being applied to stale state.
func (s *ChatService) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = uuid.NewString()
	if s.session != nil {
		s.state = ChatReady
	} else {
		s.state = ChatIdle
	}
}

func (s *ChatService) recentHistory(sessionID, excludeID int64) []store.Message {
	messages, err := s.dbStore.GetMessagesForSession(sessionID)
	if err != nil {
		log.Printf("Failed to load chat history for session %d, proceeding without it: %v", sessionID, err)
		return nil
	}
	history := make([]store.Message, 0, len(messages))
	for _, m := range messages {
		if m.ID != excludeID {
			history = append(history, m)
		}
	}
	if len(history) > chatHistoryWindow {
		history = history[len(history)-chatHistoryWindow:]
	}
	return history
}

// advance moves to next only if the token is still current.
func (s *ChatService) advance(token string, next ChatState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token == token {
		s.state = next
	}
}
