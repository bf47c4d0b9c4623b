package core

import (
	"encoding/json"
	"fmt"
	"strings"

	"memoryvault.app/memory-vault/internal/store"
)

// Prompt builders. Every task prompt pins down a strict JSON response shape;
// parsing below is the mirror image. Grading prompts are deliberately
// generous: correctness is a model judgment for user feedback, not an
// equality check.

func BuildQuizPrompt(count int, notesContext string) string {
	var sb strings.Builder
	sb.WriteString("You are creating a memory recall quiz from the user's personal notes.\n\n")
	sb.WriteString("**Instructions:**\n")
	fmt.Fprintf(&sb, "1. Create exactly %d questions, each testing recall of a specific detail from one note\n", count)
	sb.WriteString("2. Questions should be warm and conversational, never clinical\n")
	sb.WriteString("3. Each question must reference the note it was drawn from by its numeric id\n")
	sb.WriteString("4. Provide the expected answer for each question\n\n")
	sb.WriteString("**Response Format:** Return a JSON object:\n")
	sb.WriteString(`{
  "questions": [
    {
      "question": "The question text",
      "correctAnswer": "The expected answer",
      "relatedNoteId": 1
    }
  ]
}`)
	sb.WriteString("\n\n**Available Notes (Memories):**\n")
	sb.WriteString(notesContext)
	sb.WriteString("\n\n**Your JSON Response:**\n")
	return sb.String()
}

func BuildQuizGradingPrompt(question, correctAnswer, userAnswer string) string {
	var sb strings.Builder
	sb.WriteString("You are an empathetic AI tutor evaluating a quiz answer about the user's own memories.\n\n")
	fmt.Fprintf(&sb, "**Question:** %s\n", question)
	fmt.Fprintf(&sb, "**Expected Answer:** %s\n", correctAnswer)
	fmt.Fprintf(&sb, "**User's Answer:** %s\n\n", userAnswer)
	sb.WriteString("**Instructions:**\n")
	sb.WriteString("1. Determine if the user's answer captures the essence of the expected answer\n")
	sb.WriteString("2. Be generous - look for meaning rather than exact words\n")
	sb.WriteString("3. Provide warm, encouraging feedback\n")
	sb.WriteString("4. If correct: celebrate their memory\n")
	sb.WriteString("5. If incorrect: be gentle and show what they might have remembered\n\n")
	sb.WriteString("**Response Format:** Return a JSON object:\n")
	sb.WriteString(`{
  "isCorrect": true/false,
  "feedback": "Your warm, encouraging response here"
}`)
	sb.WriteString("\n\n**Your JSON Response:**\n")
	return sb.String()
}

func BuildMemoryCompletionPrompt(note *store.Note) string {
	var sb strings.Builder
	sb.WriteString("You are creating a memory completion game from the user's personal note.\n\n")
	sb.WriteString("**Instructions:**\n")
	sb.WriteString("1. Take the provided memory and create a partial version (show about 60-70% of it)\n")
	sb.WriteString("2. Hide a meaningful part that the user should remember\n")
	sb.WriteString("3. Provide the expected completion text\n")
	sb.WriteString("4. Make it engaging and test meaningful recall\n\n")
	fmt.Fprintf(&sb, "**Note Title:** %s\n", note.Title)
	fmt.Fprintf(&sb, "**Note Content:** %s\n\n", note.Content)
	sb.WriteString("**Response Format:** Return a JSON object:\n")
	sb.WriteString(`{
  "partialMemory": "The partial memory with [___] where completion should go",
  "expectedCompletion": "The text that should complete the memory"
}`)
	sb.WriteString("\n\n**Your JSON Response:**\n")
	return sb.String()
}

func BuildCompletionGradingPrompt(noteContent, expectedCompletion, userCompletion string) string {
	var sb strings.Builder
	sb.WriteString("You are an empathetic AI tutor evaluating a memory completion.\n\n")
	fmt.Fprintf(&sb, "**Original Memory:** %s\n", noteContent)
	fmt.Fprintf(&sb, "**Expected Completion:** %s\n", expectedCompletion)
	fmt.Fprintf(&sb, "**User's Completion:** %s\n\n", userCompletion)
	sb.WriteString("**Instructions:**\n")
	sb.WriteString("1. Determine if the user's completion captures the essence of the expected completion\n")
	sb.WriteString("2. Be generous - look for meaning rather than exact words\n")
	sb.WriteString("3. Provide warm, encouraging feedback\n")
	sb.WriteString("4. If correct: celebrate their memory\n")
	sb.WriteString("5. If incorrect: be gentle and show what they might have remembered\n\n")
	sb.WriteString("**Response Format:** Return a JSON object:\n")
	sb.WriteString(`{
  "isCorrect": true/false,
  "feedback": "Your warm, encouraging response here"
}`)
	sb.WriteString("\n\n**Your JSON Response:**\n")
	return sb.String()
}

func BuildReminiscencePrompt(notesContext string) string {
	var sb strings.Builder
	sb.WriteString("You are an expert in reminiscence therapy. Your task is to create a themed \"memory album\" from the user's notes.\n\n")
	sb.WriteString("**Instructions:**\n")
	sb.WriteString("1. Analyze the user's notes to find a recurring theme (e.g., \"Family Gatherings,\" \"Travels,\" \"Childhood Pets,\" \"Summer Holidays\").\n")
	sb.WriteString("2. Select 3-5 notes that strongly relate to this theme.\n")
	sb.WriteString("3. Create a title for the session based on the theme.\n")
	sb.WriteString("4. Write a gentle, story-like narrative that weaves the selected notes together. The narrative should be warm, engaging, and feel like a story.\n")
	sb.WriteString("5. Generate 2-3 thoughtful, open-ended questions to prompt the user for reflection.\n")
	sb.WriteString("6. Your response MUST be a JSON object with the following structure:\n")
	sb.WriteString(`{
  "title": "Your themed title here.",
  "narrative": "Your story-like narrative here.",
  "notes": [
    { "id": 1, "title": "Note Title 1" },
    { "id": 5, "title": "Note Title 2" }
  ],
  "promptingQuestions": [
    "Your first question here.",
    "Your second question here."
  ]
}`)
	sb.WriteString("\n\n**Available Notes (Memories):**\n")
	sb.WriteString(notesContext)
	sb.WriteString("\n\n**Your JSON Response:**\n")
	return sb.String()
}

// BuildChatPrompt assembles the conversational prompt: the notes context,
// recent history, and the new user message.
func BuildChatPrompt(userName, notesContext string, history []store.Message, userMessage string, hasImages bool) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "You are a caring memory assistant for %s. ", userName)
	sb.WriteString("Help them explore and talk about their recorded memories. Be warm and concise.\n\n")
	sb.WriteString("**Their Memories:**\n")
	sb.WriteString(notesContext)
	if len(history) > 0 {
		sb.WriteString("\n\n**Recent Conversation:**\n")
		for _, msg := range history {
			fmt.Fprintf(&sb, "%s: %s\n", msg.Type, msg.Content)
		}
	}
	sb.WriteString("\n**User:** ")
	if userMessage != "" {
		sb.WriteString(userMessage)
	} else if hasImages {
		sb.WriteString("Please analyze and discuss these images in relation to my memories.")
	}
	sb.WriteString("\n**Assistant:** ")
	return sb.String()
}

// Response payloads.

type QuizQuestionPayload struct {
	Question      string `json:"question"`
	CorrectAnswer string `json:"correctAnswer"`
	RelatedNoteID int64  `json:"relatedNoteId"`
}

type QuizPayload struct {
	Questions []QuizQuestionPayload `json:"questions"`
}

type GradePayload struct {
	IsCorrect *bool  `json:"isCorrect"`
	Feedback  string `json:"feedback"`
}

type CompletionPayload struct {
	PartialMemory      string `json:"partialMemory"`
	ExpectedCompletion string `json:"expectedCompletion"`
}

type ReminiscenceNoteRef struct {
	ID    int64  `json:"id"`
	Title string `json:"title"`
}

type ReminiscencePayload struct {
	Title              string                `json:"title"`
	Narrative          string                `json:"narrative"`
	Notes              []ReminiscenceNoteRef `json:"notes"`
	PromptingQuestions []string              `json:"promptingQuestions"`
}

// stripCodeFence removes markdown code block wrappers (```json ... ```).
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	lines := strings.Split(s, "\n")
	if len(lines) > 0 {
		lines = lines[1:]
	}
	if len(lines) > 0 && strings.HasPrefix(strings.TrimSpace(lines[len(lines)-1]), "```") {
		lines = lines[:len(lines)-1]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func decodeStrict(raw string, v any) error {
	cleaned := stripCodeFence(raw)
	if cleaned == "" {
		return &ProtocolError{Detail: "empty response"}
	}
	if err := json.Unmarshal([]byte(cleaned), v); err != nil {
		return &ProtocolError{Detail: "not valid JSON", Err: err}
	}
	return nil
}

// ParseQuizResponse parses and validates the quiz-generation response.
func ParseQuizResponse(raw string) (*QuizPayload, error) {
	var payload QuizPayload
	if err := decodeStrict(raw, &payload); err != nil {
		return nil, err
	}
	if len(payload.Questions) == 0 {
		return nil, &ProtocolError{Detail: "no questions in response"}
	}
	for i, q := range payload.Questions {
		if strings.TrimSpace(q.Question) == "" {
			return nil, &ProtocolError{Detail: fmt.Sprintf("question %d has empty text", i)}
		}
		if strings.TrimSpace(q.CorrectAnswer) == "" {
			return nil, &ProtocolError{Detail: fmt.Sprintf("question %d has empty answer", i)}
		}
	}
	return &payload, nil
}

// ParseGradeResponse parses a grading response for quiz or completion.
func ParseGradeResponse(raw string) (*GradePayload, error) {
	var payload GradePayload
	if err := decodeStrict(raw, &payload); err != nil {
		return nil, err
	}
	if payload.IsCorrect == nil {
		return nil, &ProtocolError{Detail: "missing isCorrect field"}
	}
	if strings.TrimSpace(payload.Feedback) == "" {
		return nil, &ProtocolError{Detail: "missing feedback field"}
	}
	return &payload, nil
}

// ParseCompletionResponse parses a memory-completion generation response.
// The partial/expected split is entirely the model's call; only presence of
// both strings is enforced.
func ParseCompletionResponse(raw string) (*CompletionPayload, error) {
	var payload CompletionPayload
	if err := decodeStrict(raw, &payload); err != nil {
		return nil, err
	}
	if strings.TrimSpace(payload.PartialMemory) == "" {
		return nil, &ProtocolError{Detail: "missing partialMemory field"}
	}
	if strings.TrimSpace(payload.ExpectedCompletion) == "" {
		return nil, &ProtocolError{Detail: "missing expectedCompletion field"}
	}
	return &payload, nil
}

// ParseReminiscenceResponse parses a reminiscence session response.
func ParseReminiscenceResponse(raw string) (*ReminiscencePayload, error) {
	var payload ReminiscencePayload
	if err := decodeStrict(raw, &payload); err != nil {
		return nil, err
	}
	if strings.TrimSpace(payload.Title) == "" {
		return nil, &ProtocolError{Detail: "missing title field"}
	}
	if strings.TrimSpace(payload.Narrative) == "" {
		return nil, &ProtocolError{Detail: "missing narrative field"}
	}
	if len(payload.Notes) == 0 {
		return nil, &ProtocolError{Detail: "no notes selected in response"}
	}
	return &payload, nil
}
