// Package gateway defines the on-device inference contract. The model
// runtime is an external collaborator: the core only depends on this
// interface and its typed failures.
package gateway

import (
	"context"
	"fmt"
)

// MaxImagesPerRequest limits multimodal generations; extra images are
// ignored.
const MaxImagesPerRequest = 1

type Reason string

const (
	ReasonModelNotLoaded  Reason = "ModelNotLoaded"
	ReasonModelLoadFailed Reason = "ModelLoadFailed"
	ReasonInferenceFailed Reason = "InferenceFailed"
)

// Error is a typed gateway failure: a machine-readable reason plus a human
// message.
type Error struct {
	Reason  Reason
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Reason, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Reason, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// GenerationResult carries the raw model text plus cheap telemetry.
// ApproxTokenCount uses the characters/4 heuristic and is only an
// approximation.
type GenerationResult struct {
	Text             string `json:"text"`
	ElapsedMs        int64  `json:"elapsed_ms"`
	ApproxTokenCount int    `json:"approx_token_count"`
}

// Gateway is the single inference surface. Implementations must never run
// two generations concurrently: the underlying model session is exclusive.
type Gateway interface {
	LoadModel(ctx context.Context, modelName string, useGPU bool) error
	UnloadModel(ctx context.Context) error
	IsLoaded() bool
	GenerateText(ctx context.Context, prompt string) (*GenerationResult, error)
	GenerateTextWithImages(ctx context.Context, prompt string, imagePaths []string) (*GenerationResult, error)
}

func approxTokenCount(prompt, response string) int {
	return (len(prompt) + len(response)) / 4
}
