package api

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"memoryvault.app/memory-vault/internal/core"
	"memoryvault.app/memory-vault/internal/gateway"
	"memoryvault.app/memory-vault/internal/store"
)

type APIHandler struct {
	dbStore      *store.SQLiteStore
	gw           gateway.Gateway
	notes        *core.NotesService
	chat         *core.ChatService
	games        *core.GamesService
	reminiscence *core.ReminiscenceService
	modelName    string
	useGPU       bool
}

func NewAPIHandler(
	dbStore *store.SQLiteStore,
	gw gateway.Gateway,
	notes *core.NotesService,
	chat *core.ChatService,
	games *core.GamesService,
	reminiscence *core.ReminiscenceService,
	modelName string,
	useGPU bool,
) *APIHandler {
	return &APIHandler{
		dbStore:      dbStore,
		gw:           gw,
		notes:        notes,
		chat:         chat,
		games:        games,
		reminiscence: reminiscence,
		modelName:    modelName,
		useGPU:       useGPU,
	}
}

// writeServiceError maps core and gateway failures onto HTTP statuses. The
// messages are user-facing; details go to the log.
func writeServiceError(w http.ResponseWriter, err error) {
	var gerr *gateway.Error
	switch {
	case errors.Is(err, core.ErrInsufficientData):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, core.ErrGenerationInProgress):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, core.ErrNoUser):
		http.Error(w, err.Error(), http.StatusNotFound)
	case core.IsMalformedResponse(err):
		log.Printf("Model returned an unusable response: %v", err)
		http.Error(w, "The model returned an unusable response, please try again", http.StatusBadGateway)
	case errors.As(err, &gerr):
		log.Printf("Gateway error (%s): %v", gerr.Reason, err)
		http.Error(w, "The model is unavailable right now, please try again", http.StatusBadGateway)
	default:
		log.Printf("Internal error: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

// User onboarding

type OnboardRequest struct {
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

func (h *APIHandler) OnboardHandler(w http.ResponseWriter, r *http.Request) {
	var req OnboardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.Name == "" {
		http.Error(w, "Name is required", http.StatusBadRequest)
		return
	}

	existing, err := h.dbStore.GetUser()
	if err != nil {
		log.Printf("Error checking for existing user: %v", err)
		http.Error(w, "Failed to create user", http.StatusInternalServerError)
		return
	}
	if existing != nil {
		http.Error(w, "A user already exists", http.StatusConflict)
		return
	}

	user, err := h.dbStore.CreateUser(req.Name, req.Email)
	if err != nil {
		log.Printf("Error creating user %s: %v", req.Name, err)
		http.Error(w, "Failed to create user", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(user)
}

func (h *APIHandler) GetUserHandler(w http.ResponseWriter, r *http.Request) {
	user, err := h.dbStore.GetUser()
	if err != nil {
		log.Printf("Error getting user: %v", err)
		http.Error(w, "Failed to get user", http.StatusInternalServerError)
		return
	}
	if user == nil {
		http.Error(w, "No user found", http.StatusNotFound)
		return
	}
	json.NewEncoder(w).Encode(user)
}

// Notes

func (h *APIHandler) ListNotesHandler(w http.ResponseWriter, r *http.Request) {
	if query := r.URL.Query().Get("q"); query != "" {
		notes, err := h.notes.SearchNotes(query)
		if err != nil {
			log.Printf("Error searching notes for %q: %v", query, err)
			http.Error(w, "Failed to search notes", http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(notes)
		return
	}

	notes, err := h.notes.ListNotes()
	if err != nil {
		log.Printf("Error listing notes: %v", err)
		http.Error(w, "Failed to list notes", http.StatusInternalServerError)
		return
	}
	json.NewEncoder(w).Encode(notes)
}

func (h *APIHandler) GetNoteHandler(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "noteID"), 10, 64)
	if err != nil {
		http.Error(w, "Invalid note id", http.StatusBadRequest)
		return
	}

	note, err := h.notes.GetNote(id)
	if err != nil {
		log.Printf("Error getting note %d: %v", id, err)
		http.Error(w, "Failed to get note", http.StatusInternalServerError)
		return
	}
	if note == nil {
		http.Error(w, "Note not found", http.StatusNotFound)
		return
	}
	json.NewEncoder(w).Encode(note)
}

func (h *APIHandler) SaveNoteHandler(w http.ResponseWriter, r *http.Request) {
	var input core.NoteInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	note, err := h.notes.SaveNote(input)
	if err != nil {
		if errors.Is(err, core.ErrNoteIncomplete) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		log.Printf("Error saving note: %v", err)
		http.Error(w, "Failed to save note", http.StatusInternalServerError)
		return
	}

	if input.ID == 0 {
		w.WriteHeader(http.StatusCreated)
	}
	json.NewEncoder(w).Encode(note)
}

func (h *APIHandler) DeleteNoteHandler(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "noteID"), 10, 64)
	if err != nil {
		http.Error(w, "Invalid note id", http.StatusBadRequest)
		return
	}

	if err := h.notes.DeleteNote(id); err != nil {
		log.Printf("Error deleting note %d: %v", id, err)
		http.Error(w, "Failed to delete note", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Chat

type OpenChatResponse struct {
	*store.ChatSession
	Messages []store.Message `json:"messages"`
}

func (h *APIHandler) OpenChatHandler(w http.ResponseWriter, r *http.Request) {
	session, messages, err := h.chat.Open(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	json.NewEncoder(w).Encode(OpenChatResponse{ChatSession: session, Messages: messages})
}

type SendMessageRequest struct {
	Content    string   `json:"content"`
	ImagePaths []string `json:"image_paths,omitempty"`
}

func (h *APIHandler) SendMessageHandler(w http.ResponseWriter, r *http.Request) {
	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.Content == "" && len(req.ImagePaths) == 0 {
		http.Error(w, "Message content cannot be empty", http.StatusBadRequest)
		return
	}

	reply, err := h.chat.Send(r.Context(), req.Content, req.ImagePaths)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if reply == nil {
		// The chat was reset while generating; there is nothing to return.
		w.WriteHeader(http.StatusNoContent)
		return
	}
	json.NewEncoder(w).Encode(reply)
}

func (h *APIHandler) ChatHistoryHandler(w http.ResponseWriter, r *http.Request) {
	messages, err := h.chat.History()
	if err != nil {
		log.Printf("Error loading chat history: %v", err)
		http.Error(w, "Failed to load chat history", http.StatusInternalServerError)
		return
	}
	json.NewEncoder(w).Encode(messages)
}

func (h *APIHandler) ResetChatHandler(w http.ResponseWriter, r *http.Request) {
	h.chat.Reset()
	w.WriteHeader(http.StatusNoContent)
}

// Quiz

type GenerateQuizRequest struct {
	QuestionCount int `json:"question_count"`
}

func (h *APIHandler) GenerateQuizHandler(w http.ResponseWriter, r *http.Request) {
	var req GenerateQuizRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	questions, err := h.games.GenerateQuiz(r.Context(), req.QuestionCount)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if questions == nil {
		// The quiz was reset while generating; there is nothing to return.
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(questions)
}

type QuizStatusResponse struct {
	State     core.QuizState      `json:"state"`
	Questions []core.QuizQuestion `json:"questions"`
	Score     int                 `json:"score"`
	Progress  float64             `json:"progress"`
}

func (h *APIHandler) QuizStatusHandler(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(QuizStatusResponse{
		State:     h.games.QuizState(),
		Questions: h.games.QuizQuestions(),
		Score:     h.games.QuizScore(),
		Progress:  h.games.QuizProgress(),
	})
}

type SubmitAnswerRequest struct {
	Answer string `json:"answer"`
}

func (h *APIHandler) SubmitQuizAnswerHandler(w http.ResponseWriter, r *http.Request) {
	var req SubmitAnswerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	question, err := h.games.SubmitQuizAnswer(r.Context(), req.Answer)
	if err != nil {
		switch {
		case errors.Is(err, core.ErrNoActiveGame), errors.Is(err, core.ErrAlreadyAnswered):
			http.Error(w, err.Error(), http.StatusConflict)
		default:
			writeServiceError(w, err)
		}
		return
	}
	json.NewEncoder(w).Encode(question)
}

func (h *APIHandler) NextQuestionHandler(w http.ResponseWriter, r *http.Request) {
	state := h.games.NextQuestion()
	json.NewEncoder(w).Encode(map[string]any{"state": state, "progress": h.games.QuizProgress()})
}

func (h *APIHandler) ResetQuizHandler(w http.ResponseWriter, r *http.Request) {
	h.games.ResetQuiz()
	w.WriteHeader(http.StatusNoContent)
}

// Memory completion

func (h *APIHandler) GenerateMemoryGameHandler(w http.ResponseWriter, r *http.Request) {
	game, err := h.games.GenerateMemoryGame(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if game == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(game)
}

type SubmitCompletionRequest struct {
	Completion string `json:"completion"`
}

func (h *APIHandler) SubmitCompletionHandler(w http.ResponseWriter, r *http.Request) {
	var req SubmitCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	game, err := h.games.SubmitMemoryCompletion(r.Context(), req.Completion)
	if err != nil {
		if errors.Is(err, core.ErrNoActiveGame) {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		writeServiceError(w, err)
		return
	}
	json.NewEncoder(w).Encode(game)
}

func (h *APIHandler) ResetMemoryGameHandler(w http.ResponseWriter, r *http.Request) {
	h.games.ResetMemoryGame()
	w.WriteHeader(http.StatusNoContent)
}

// Reminiscence

func (h *APIHandler) GenerateReminiscenceHandler(w http.ResponseWriter, r *http.Request) {
	session, err := h.reminiscence.Generate(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if session == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(session)
}

func (h *APIHandler) ReminiscenceStatusHandler(w http.ResponseWriter, r *http.Request) {
	session, state := h.reminiscence.Session()
	json.NewEncoder(w).Encode(map[string]any{"state": state, "session": session})
}

func (h *APIHandler) ResetReminiscenceHandler(w http.ResponseWriter, r *http.Request) {
	h.reminiscence.Reset()
	w.WriteHeader(http.StatusNoContent)
}

// Model lifecycle

func (h *APIHandler) LoadModelHandler(w http.ResponseWriter, r *http.Request) {
	if err := h.gw.LoadModel(r.Context(), h.modelName, h.useGPU); err != nil {
		writeServiceError(w, err)
		return
	}
	json.NewEncoder(w).Encode(map[string]any{"loaded": true, "model": h.modelName})
}

func (h *APIHandler) UnloadModelHandler(w http.ResponseWriter, r *http.Request) {
	if err := h.gw.UnloadModel(r.Context()); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *APIHandler) ModelStatusHandler(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(map[string]any{"loaded": h.gw.IsLoaded(), "model": h.modelName})
}
