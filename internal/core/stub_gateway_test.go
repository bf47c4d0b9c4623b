package core

import (
	"context"
	"sync"

	"memoryvault.app/memory-vault/internal/gateway"
)

// stubGateway plays back scripted responses in order. When block is set,
// generations park on the channel until the test releases them.
type stubGateway struct {
	mu        sync.Mutex
	loaded    bool
	loadErr   error
	genErr    error
	responses []string
	calls     []string
	block     chan struct{}
	entered   int
}

func (g *stubGateway) LoadModel(ctx context.Context, modelName string, useGPU bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.loadErr != nil {
		return g.loadErr
	}
	g.loaded = true
	return nil
}

func (g *stubGateway) UnloadModel(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.loaded = false
	return nil
}

func (g *stubGateway) IsLoaded() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.loaded
}

func (g *stubGateway) GenerateText(ctx context.Context, prompt string) (*gateway.GenerationResult, error) {
	return g.generate(ctx, prompt)
}

func (g *stubGateway) GenerateTextWithImages(ctx context.Context, prompt string, imagePaths []string) (*gateway.GenerationResult, error) {
	return g.generate(ctx, prompt)
}

func (g *stubGateway) generate(ctx context.Context, prompt string) (*gateway.GenerationResult, error) {
	g.mu.Lock()
	block := g.block
	g.entered++
	g.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, prompt)
	if g.genErr != nil {
		return nil, g.genErr
	}
	var text string
	if len(g.responses) > 0 {
		text = g.responses[0]
		g.responses = g.responses[1:]
	}
	return &gateway.GenerationResult{Text: text, ElapsedMs: 1, ApproxTokenCount: (len(prompt) + len(text)) / 4}, nil
}

func (g *stubGateway) enteredCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.entered
}

func (g *stubGateway) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

var _ gateway.Gateway = (*stubGateway)(nil)
