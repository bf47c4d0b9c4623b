// Package media owns the physical files referenced by notes. Transient
// capture URIs are promoted into the app's permanent media directory before
// the owning note row is ever written.
package media

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Error wraps a failed copy/move/delete. Media errors never abort a note
// save; callers log them and persist the note without the failed item.
type Error struct {
	Op   string // "copy", "move", "delete"
	Path string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("media %s failed for %s: %v", e.Op, e.Path, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

type Manager struct {
	dir string
}

func NewManager(dir string) (*Manager, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve media dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create media dir: %w", err)
	}
	return &Manager{dir: abs}, nil
}

func (m *Manager) Dir() string { return m.dir }

// isPermanent reports whether the path already lives inside the managed
// directory, so an unchanged path on re-save is not promoted again.
func (m *Manager) isPermanent(path string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	return strings.HasPrefix(abs, m.dir+string(filepath.Separator))
}

// PromoteImages copies each transient image into permanent storage. The
// source is copied, not moved, so the capture cache can be cleared
// independently. Failed items are logged and skipped; the returned slice
// holds only paths that are safe to reference from a persisted note.
func (m *Manager) PromoteImages(paths []string) []string {
	promoted := make([]string, 0, len(paths))
	for _, src := range paths {
		if m.isPermanent(src) {
			promoted = append(promoted, src)
			continue
		}
		dst := filepath.Join(m.dir, fmt.Sprintf("image_%d_%s%s", time.Now().UnixMilli(), uuid.NewString()[:8], imageExt(src)))
		if err := copyFile(src, dst); err != nil {
			log.Printf("%v (note will be saved without this image)", &Error{Op: "copy", Path: src, Err: err})
			continue
		}
		promoted = append(promoted, dst)
	}
	return promoted
}

// PromoteAudio moves a transient recording into permanent storage. Audio has
// a single producer, so a move is safe. On failure the note is saved without
// audio; the returned path is empty in that case.
func (m *Manager) PromoteAudio(path string) string {
	if path == "" || m.isPermanent(path) {
		return path
	}
	dst := filepath.Join(m.dir, fmt.Sprintf("audio_%d%s", time.Now().UnixMilli(), audioExt(path)))
	if err := moveFile(path, dst); err != nil {
		log.Printf("%v (note will be saved without audio)", &Error{Op: "move", Path: path, Err: err})
		return ""
	}
	return dst
}

// DeleteOwned best-effort removes every owned path. A dangling file is a
// leak, not data loss, so failures are logged and swallowed.
func (m *Manager) DeleteOwned(audioPath string, imagePaths []string) {
	paths := imagePaths
	if audioPath != "" {
		paths = append([]string{audioPath}, imagePaths...)
	}
	for _, p := range paths {
		if !m.isPermanent(p) {
			continue
		}
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			log.Printf("%v", &Error{Op: "delete", Path: p, Err: err})
		}
	}
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	return out.Close()
}

// moveFile renames when possible and falls back to copy+remove across
// filesystems.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	if err := copyFile(src, dst); err != nil {
		return err
	}
	if err := os.Remove(src); err != nil {
		log.Printf("Warning: could not remove moved source %s: %v", src, err)
	}
	return nil
}

func imageExt(path string) string {
	if ext := filepath.Ext(path); ext != "" {
		return ext
	}
	return ".jpg"
}

func audioExt(path string) string {
	if ext := filepath.Ext(path); ext != "" {
		return ext
	}
	return ".m4a"
}
