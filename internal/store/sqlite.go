package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dataSourceName string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err = db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err = store.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// initSchema is idempotent; it runs on every launch.
func (s *SQLiteStore) initSchema() error {
	schema := `
    CREATE TABLE IF NOT EXISTS users (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        name TEXT NOT NULL,
        email TEXT,
        created_at INTEGER NOT NULL
    );

    CREATE TABLE IF NOT EXISTS notes (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        title TEXT NOT NULL,
        content TEXT NOT NULL,
        timestamp INTEGER NOT NULL,
        tags TEXT NOT NULL DEFAULT '[]',
        has_audio INTEGER NOT NULL DEFAULT 0,
        has_images INTEGER NOT NULL DEFAULT 0,
        audio_path TEXT,
        image_paths TEXT NOT NULL DEFAULT '[]'
    );

    CREATE TABLE IF NOT EXISTS chat_sessions (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        user_id INTEGER NOT NULL,
        started_at INTEGER NOT NULL,
        FOREIGN KEY (user_id) REFERENCES users (id)
    );

    CREATE TABLE IF NOT EXISTS messages (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        session_id INTEGER NOT NULL,
        type TEXT NOT NULL CHECK (type IN ('user', 'assistant')),
        content TEXT NOT NULL,
        timestamp INTEGER NOT NULL,
        notes TEXT NOT NULL DEFAULT '[]',
        has_images INTEGER NOT NULL DEFAULT 0,
        image_paths TEXT NOT NULL DEFAULT '[]',
        FOREIGN KEY (session_id) REFERENCES chat_sessions (id)
    );

    CREATE INDEX IF NOT EXISTS idx_notes_timestamp ON notes(timestamp);
    CREATE INDEX IF NOT EXISTS idx_messages_session_id ON messages(session_id);
    `
	_, err := s.db.Exec(schema)
	return err
}

// User methods

func (s *SQLiteStore) CreateUser(name, email string) (*User, error) {
	createdAt := time.Now().UnixMilli()
	res, err := s.db.Exec("INSERT INTO users (name, email, created_at) VALUES (?, ?, ?)",
		name, nullableString(email), createdAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert user: %w", err)
	}
	id, _ := res.LastInsertId()
	return &User{ID: id, Name: name, Email: email, CreatedAt: createdAt}, nil
}

// GetUser returns the vault owner, or nil if onboarding has not happened yet.
func (s *SQLiteStore) GetUser() (*User, error) {
	var user User
	var email sql.NullString
	err := s.db.QueryRow("SELECT id, name, email, created_at FROM users LIMIT 1").
		Scan(&user.ID, &user.Name, &email, &user.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	if email.Valid {
		user.Email = email.String
	}
	return &user, nil
}

// Note methods

// normalize enforces the media invariant before any write: the has_* flags
// always equal the non-emptiness of the corresponding path field.
func (n *Note) normalize() {
	if n.Tags == nil {
		n.Tags = []string{}
	}
	if n.ImagePaths == nil {
		n.ImagePaths = []string{}
	}
	n.HasAudio = n.AudioPath != ""
	n.HasImages = len(n.ImagePaths) > 0
}

func (s *SQLiteStore) CreateNote(note *Note) (*Note, error) {
	note.normalize()
	if note.Timestamp == 0 {
		note.Timestamp = time.Now().UnixMilli()
	}

	tagsJSON, err := json.Marshal(note.Tags)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal tags: %w", err)
	}
	imagesJSON, err := json.Marshal(note.ImagePaths)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal image paths: %w", err)
	}

	res, err := s.db.Exec(`INSERT INTO notes (title, content, timestamp, tags, has_audio, has_images, audio_path, image_paths)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		note.Title, note.Content, note.Timestamp, string(tagsJSON),
		boolToInt(note.HasAudio), boolToInt(note.HasImages),
		nullableString(note.AudioPath), string(imagesJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to insert note: %w", err)
	}
	note.ID, _ = res.LastInsertId()
	return note, nil
}

func (s *SQLiteStore) UpdateNote(note *Note) error {
	note.normalize()

	tagsJSON, err := json.Marshal(note.Tags)
	if err != nil {
		return fmt.Errorf("failed to marshal tags: %w", err)
	}
	imagesJSON, err := json.Marshal(note.ImagePaths)
	if err != nil {
		return fmt.Errorf("failed to marshal image paths: %w", err)
	}

	_, err = s.db.Exec(`UPDATE notes SET title = ?, content = ?, timestamp = ?, tags = ?,
        has_audio = ?, has_images = ?, audio_path = ?, image_paths = ? WHERE id = ?`,
		note.Title, note.Content, note.Timestamp, string(tagsJSON),
		boolToInt(note.HasAudio), boolToInt(note.HasImages),
		nullableString(note.AudioPath), string(imagesJSON), note.ID)
	if err != nil {
		return fmt.Errorf("failed to update note: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetAllNotes() ([]Note, error) {
	rows, err := s.db.Query("SELECT id, title, content, timestamp, tags, has_audio, has_images, audio_path, image_paths FROM notes ORDER BY timestamp DESC")
	if err != nil {
		return nil, fmt.Errorf("failed to query notes: %w", err)
	}
	defer rows.Close()
	return scanNotes(rows)
}

// GetNoteByID returns the note, or nil if no such note exists.
func (s *SQLiteStore) GetNoteByID(id int64) (*Note, error) {
	row := s.db.QueryRow("SELECT id, title, content, timestamp, tags, has_audio, has_images, audio_path, image_paths FROM notes WHERE id = ?", id)
	note, err := scanNote(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get note: %w", err)
	}
	return note, nil
}

// GetNotesByIDs resolves the given ids. Missing ids are simply absent from
// the result, and the returned order carries no contract; callers needing a
// specific order must re-sort by their own id sequence.
func (s *SQLiteStore) GetNotesByIDs(ids []int64) ([]Note, error) {
	if len(ids) == 0 {
		return []Note{}, nil
	}

	placeholders := make([]byte, 0, len(ids)*2)
	args := make([]any, 0, len(ids))
	for i, id := range ids {
		if i > 0 {
			placeholders = append(placeholders, ',', ' ')
		}
		placeholders = append(placeholders, '?')
		args = append(args, id)
	}

	query := fmt.Sprintf("SELECT id, title, content, timestamp, tags, has_audio, has_images, audio_path, image_paths FROM notes WHERE id IN (%s)", placeholders)
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query notes by ids: %w", err)
	}
	defer rows.Close()
	return scanNotes(rows)
}

func (s *SQLiteStore) SearchNotes(query string) ([]Note, error) {
	like := "%" + query + "%"
	rows, err := s.db.Query(`SELECT id, title, content, timestamp, tags, has_audio, has_images, audio_path, image_paths
        FROM notes WHERE title LIKE ? OR content LIKE ? OR tags LIKE ? ORDER BY timestamp DESC`,
		like, like, like)
	if err != nil {
		return nil, fmt.Errorf("failed to search notes: %w", err)
	}
	defer rows.Close()
	return scanNotes(rows)
}

func (s *SQLiteStore) CountNotes() (int, error) {
	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM notes").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count notes: %w", err)
	}
	return count, nil
}

// DeleteNote is idempotent: deleting a non-existent id is not an error.
func (s *SQLiteStore) DeleteNote(id int64) error {
	if _, err := s.db.Exec("DELETE FROM notes WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete note: %w", err)
	}
	return nil
}

// Chat methods

// GetOrCreateChatSession resolves the user's active session as "most
// recent", creating one only when none exists.
func (s *SQLiteStore) GetOrCreateChatSession(userID int64) (*ChatSession, error) {
	var session ChatSession
	err := s.db.QueryRow("SELECT id, user_id, started_at FROM chat_sessions WHERE user_id = ? ORDER BY started_at DESC LIMIT 1", userID).
		Scan(&session.ID, &session.UserID, &session.StartedAt)
	if err == nil {
		return &session, nil
	}
	if err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to query chat session: %w", err)
	}

	startedAt := time.Now().UnixMilli()
	res, err := s.db.Exec("INSERT INTO chat_sessions (user_id, started_at) VALUES (?, ?)", userID, startedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert chat session: %w", err)
	}
	id, _ := res.LastInsertId()
	return &ChatSession{ID: id, UserID: userID, StartedAt: startedAt}, nil
}

// SaveMessage appends a message. Messages are never mutated after creation.
func (s *SQLiteStore) SaveMessage(sessionID int64, msgType MessageType, content string, noteIDs []int64, imagePaths []string) (*Message, error) {
	if noteIDs == nil {
		noteIDs = []int64{}
	}
	if imagePaths == nil {
		imagePaths = []string{}
	}

	timestamp := time.Now().UnixMilli()
	notesJSON, err := json.Marshal(noteIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal note ids: %w", err)
	}
	imagesJSON, err := json.Marshal(imagePaths)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal image paths: %w", err)
	}
	hasImages := len(imagePaths) > 0

	res, err := s.db.Exec(`INSERT INTO messages (session_id, type, content, timestamp, notes, has_images, image_paths)
        VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sessionID, string(msgType), content, timestamp, string(notesJSON), boolToInt(hasImages), string(imagesJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to insert message: %w", err)
	}
	id, _ := res.LastInsertId()

	notes, err := s.GetNotesByIDs(noteIDs)
	if err != nil {
		log.Printf("Failed to resolve referenced notes for message %d: %v", id, err)
		notes = []Note{}
	}

	return &Message{
		ID:                id,
		SessionID:         sessionID,
		Type:              msgType,
		Content:           content,
		Timestamp:         timestamp,
		ReferencedNoteIDs: noteIDs,
		Notes:             notes,
		HasImages:         hasImages,
		ImagePaths:        imagePaths,
	}, nil
}

func (s *SQLiteStore) GetMessagesForSession(sessionID int64) ([]Message, error) {
	rows, err := s.db.Query("SELECT id, session_id, type, content, timestamp, notes, has_images, image_paths FROM messages WHERE session_id = ? ORDER BY timestamp ASC, id ASC", sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var msg Message
		var msgType, notesJSON, imagesJSON string
		var hasImages int
		if err := rows.Scan(&msg.ID, &msg.SessionID, &msgType, &msg.Content, &msg.Timestamp, &notesJSON, &hasImages, &imagesJSON); err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		msg.Type = MessageType(msgType)
		msg.HasImages = hasImages != 0
		msg.ReferencedNoteIDs = unmarshalInt64s(notesJSON, msg.ID, "notes")
		msg.ImagePaths = unmarshalStrings(imagesJSON, msg.ID, "image_paths")

		if len(msg.ReferencedNoteIDs) > 0 {
			notes, err := s.GetNotesByIDs(msg.ReferencedNoteIDs)
			if err != nil {
				log.Printf("Failed to resolve referenced notes for message %d: %v", msg.ID, err)
				notes = []Note{}
			}
			msg.Notes = notes
		} else {
			msg.Notes = []Note{}
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// Scan helpers

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNote(row rowScanner) (*Note, error) {
	var note Note
	var tagsJSON, imagesJSON string
	var hasAudio, hasImages int
	var audioPath sql.NullString

	err := row.Scan(&note.ID, &note.Title, &note.Content, &note.Timestamp,
		&tagsJSON, &hasAudio, &hasImages, &audioPath, &imagesJSON)
	if err != nil {
		return nil, err
	}

	note.HasAudio = hasAudio != 0
	note.HasImages = hasImages != 0
	if audioPath.Valid {
		note.AudioPath = audioPath.String
	}
	note.Tags = unmarshalStrings(tagsJSON, note.ID, "tags")
	note.ImagePaths = unmarshalStrings(imagesJSON, note.ID, "image_paths")
	return &note, nil
}

func scanNotes(rows *sql.Rows) ([]Note, error) {
	var notes []Note
	for rows.Next() {
		note, err := scanNote(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan note row: %w", err)
		}
		notes = append(notes, *note)
	}
	return notes, rows.Err()
}

func unmarshalStrings(raw string, rowID int64, column string) []string {
	if raw == "" {
		return []string{}
	}
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		log.Printf("Warning: malformed %s JSON for row %d: %v", column, rowID, err)
		return []string{}
	}
	if out == nil {
		return []string{}
	}
	return out
}

func unmarshalInt64s(raw string, rowID int64, column string) []int64 {
	if raw == "" {
		return []int64{}
	}
	var out []int64
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		log.Printf("Warning: malformed %s JSON for row %d: %v", column, rowID, err)
		return []int64{}
	}
	if out == nil {
		return []int64{}
	}
	return out
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
