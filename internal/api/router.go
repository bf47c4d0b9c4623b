package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func NewRouter(apiHandler *APIHandler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Logger)       // Basic request logging
	r.Use(middleware.Recoverer)    // Recover from panics
	r.Use(middleware.StripSlashes) // Ensure consistent path handling

	// All API routes will be under /api
	r.Route("/api", func(r chi.Router) {
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"status":"ok"}`))
		})

		// User onboarding
		r.Post("/user", apiHandler.OnboardHandler)
		r.Get("/user", apiHandler.GetUserHandler)

		// Notes
		r.Get("/notes", apiHandler.ListNotesHandler)
		r.Post("/notes", apiHandler.SaveNoteHandler)
		r.Get("/notes/{noteID}", apiHandler.GetNoteHandler)
		r.Delete("/notes/{noteID}", apiHandler.DeleteNoteHandler)

		// Chat
		r.Post("/chat/open", apiHandler.OpenChatHandler)
		r.Get("/chat/messages", apiHandler.ChatHistoryHandler)
		r.Post("/chat/messages", apiHandler.SendMessageHandler)
		r.Post("/chat/reset", apiHandler.ResetChatHandler)

		// Quiz
		r.Post("/games/quiz", apiHandler.GenerateQuizHandler)
		r.Get("/games/quiz", apiHandler.QuizStatusHandler)
		r.Post("/games/quiz/answer", apiHandler.SubmitQuizAnswerHandler)
		r.Post("/games/quiz/next", apiHandler.NextQuestionHandler)
		r.Post("/games/quiz/reset", apiHandler.ResetQuizHandler)

		// Memory completion
		r.Post("/games/completion", apiHandler.GenerateMemoryGameHandler)
		r.Post("/games/completion/answer", apiHandler.SubmitCompletionHandler)
		r.Post("/games/completion/reset", apiHandler.ResetMemoryGameHandler)

		// Reminiscence sessions
		r.Post("/reminiscence", apiHandler.GenerateReminiscenceHandler)
		r.Get("/reminiscence", apiHandler.ReminiscenceStatusHandler)
		r.Post("/reminiscence/reset", apiHandler.ResetReminiscenceHandler)

		// Model lifecycle
		r.Post("/model/load", apiHandler.LoadModelHandler)
		r.Post("/model/unload", apiHandler.UnloadModelHandler)
		r.Get("/model/status", apiHandler.ModelStatusHandler)
	})

	return r
}
