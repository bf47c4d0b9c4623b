package gateway

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// Gemini backs the gateway contract with the Gemini API. It serializes
// generations with genMu so at most one call is in flight system-wide.
type Gemini struct {
	apiKey string

	mu        sync.Mutex // guards client/modelName
	client    *genai.Client
	modelName string

	genMu sync.Mutex // exclusive model session
}

func NewGemini(apiKey string) *Gemini {
	return &Gemini{apiKey: apiKey}
}

// LoadModel is idempotent for the same model name. The GPU hint is accepted
// for contract compatibility; a remote backend has nothing to do with it.
func (g *Gemini) LoadModel(ctx context.Context, modelName string, useGPU bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.client != nil && g.modelName == modelName {
		return nil
	}
	if g.client != nil {
		if err := g.client.Close(); err != nil {
			log.Printf("Error closing previous GenAI client: %v", err)
		}
		g.client = nil
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(g.apiKey))
	if err != nil {
		return &Error{Reason: ReasonModelLoadFailed, Message: "failed to create GenAI client", Err: err}
	}
	g.client = client
	g.modelName = modelName
	if useGPU {
		log.Printf("GPU hint ignored for remote model %s", modelName)
	}
	log.Printf("Model %s ready", modelName)
	return nil
}

func (g *Gemini) UnloadModel(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.client == nil {
		return nil
	}
	err := g.client.Close()
	g.client = nil
	g.modelName = ""
	if err != nil {
		return &Error{Reason: ReasonModelLoadFailed, Message: "failed to close GenAI client", Err: err}
	}
	return nil
}

func (g *Gemini) IsLoaded() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.client != nil
}

func (g *Gemini) GenerateText(ctx context.Context, prompt string) (*GenerationResult, error) {
	return g.generate(ctx, prompt, nil)
}

func (g *Gemini) GenerateTextWithImages(ctx context.Context, prompt string, imagePaths []string) (*GenerationResult, error) {
	return g.generate(ctx, prompt, imagePaths)
}

func (g *Gemini) generate(ctx context.Context, prompt string, imagePaths []string) (*GenerationResult, error) {
	g.mu.Lock()
	client, modelName := g.client, g.modelName
	g.mu.Unlock()

	if client == nil {
		return nil, &Error{Reason: ReasonModelNotLoaded, Message: "no model is loaded"}
	}

	parts := []genai.Part{genai.Text(prompt)}
	if len(imagePaths) > MaxImagesPerRequest {
		imagePaths = imagePaths[:MaxImagesPerRequest]
	}
	for _, path := range imagePaths {
		data, err := os.ReadFile(path)
		if err != nil {
			log.Printf("Skipping unreadable image %s: %v", path, err)
			continue
		}
		parts = append(parts, genai.ImageData(imageFormat(path), data))
	}

	// One generation at a time; later callers queue here.
	g.genMu.Lock()
	defer g.genMu.Unlock()

	start := time.Now()
	model := client.GenerativeModel(modelName)
	resp, err := model.GenerateContent(ctx, parts...)
	if err != nil {
		return nil, &Error{Reason: ReasonInferenceFailed, Message: "generation request failed", Err: err}
	}

	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return nil, &Error{Reason: ReasonInferenceFailed, Message: "model returned an empty response"}
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			text.WriteString(string(txt))
		} else {
			log.Printf("Response part was not text: %T", part)
		}
	}
	if text.Len() == 0 {
		return nil, &Error{Reason: ReasonInferenceFailed, Message: "model returned no text parts"}
	}

	out := text.String()
	return &GenerationResult{
		Text:             out,
		ElapsedMs:        time.Since(start).Milliseconds(),
		ApproxTokenCount: approxTokenCount(prompt, out),
	}, nil
}

func imageFormat(path string) string {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	switch ext {
	case "jpg", "":
		return "jpeg"
	default:
		return ext
	}
}

var _ Gateway = (*Gemini)(nil)
