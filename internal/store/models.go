package store

// MessageType distinguishes who authored a chat message.
type MessageType string

const (
	MessageTypeUser      MessageType = "user"
	MessageTypeAssistant MessageType = "assistant"
)

// User is the single owner of the vault. Created once during onboarding,
// read-only afterward.
type User struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email,omitempty"`
	CreatedAt int64  `json:"created_at"` // epoch millis
}

// Note is a user-authored memory record with optional audio/image
// attachments. HasAudio/HasImages always mirror the path fields; the store
// normalizes them on every write.
type Note struct {
	ID         int64    `json:"id"`
	Title      string   `json:"title"`
	Content    string   `json:"content"`
	Timestamp  int64    `json:"timestamp"` // epoch millis
	Tags       []string `json:"tags"`
	HasAudio   bool     `json:"has_audio"`
	HasImages  bool     `json:"has_images"`
	AudioPath  string   `json:"audio_path,omitempty"`
	ImagePaths []string `json:"image_paths"`
}

type ChatSession struct {
	ID        int64 `json:"id"`
	UserID    int64 `json:"user_id"`
	StartedAt int64 `json:"started_at"` // epoch millis
}

// Message is an append-only chat entry. ReferencedNoteIDs is a weak
// association: the notes may be deleted later and resolution drops missing
// ids instead of failing.
type Message struct {
	ID                int64       `json:"id"`
	SessionID         int64       `json:"session_id"`
	Type              MessageType `json:"type"`
	Content           string      `json:"content"`
	Timestamp         int64       `json:"timestamp"` // epoch millis
	ReferencedNoteIDs []int64     `json:"referenced_note_ids"`
	Notes             []Note      `json:"notes,omitempty"` // resolved referenced notes
	HasImages         bool        `json:"has_images"`
	ImagePaths        []string    `json:"image_paths"`
}
