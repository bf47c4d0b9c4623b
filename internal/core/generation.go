package core

import (
	"context"
	"log"

	"memoryvault.app/memory-vault/internal/gateway"
)

// ensureModelLoaded loads the model on demand. Idempotent when already
// loaded.
func ensureModelLoaded(ctx context.Context, gw gateway.Gateway, modelName string, useGPU bool) error {
	if gw.IsLoaded() {
		return nil
	}
	return gw.LoadModel(ctx, modelName, useGPU)
}

// generateWithRetry issues the prompt and, if the response fails to parse,
// re-issues the same request exactly once. Retry policy lives here with the
// state machines, not inside the protocol.
func generateWithRetry(ctx context.Context, gw gateway.Gateway, prompt string, parse func(raw string) error) error {
	res, err := gw.GenerateText(ctx, prompt)
	if err != nil {
		return err
	}
	perr := parse(res.Text)
	if perr == nil {
		return nil
	}
	if !IsMalformedResponse(perr) {
		return perr
	}
	log.Printf("Malformed model response, re-issuing request once: %v", perr)

	res, err = gw.GenerateText(ctx, prompt)
	if err != nil {
		return err
	}
	return parse(res.Text)
}
