package core

import (
	"math/rand"
	"time"

	"memoryvault.app/memory-vault/internal/store"
)

// NoteSampler picks a note uniformly at random. Isolated so game tests can
// seed it deterministically.
type NoteSampler struct {
	rng *rand.Rand
}

func NewNoteSampler() *NoteSampler {
	return NewSeededNoteSampler(time.Now().UnixNano())
}

func NewSeededNoteSampler(seed int64) *NoteSampler {
	return &NoteSampler{rng: rand.New(rand.NewSource(seed))}
}

// Pick returns a copy of one note, or nil for an empty collection.
func (s *NoteSampler) Pick(notes []store.Note) *store.Note {
	if len(notes) == 0 {
		return nil
	}
	note := notes[s.rng.Intn(len(notes))]
	return &note
}
