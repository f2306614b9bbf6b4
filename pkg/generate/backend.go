package generate

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/Cybvr/Juju2026/pkg/ai"
)

// ImageBackend renders image bytes for a prompt.
type ImageBackend interface {
	GenerateImage(ctx context.Context, prompt string) ([]byte, error)
}

// GeminiBackend renders images through the Gemini image API.
type GeminiBackend struct {
	client *ai.GeminiClient
	model  string
}

// NewGeminiBackend binds a client to one image model.
func NewGeminiBackend(client *ai.GeminiClient, model string) *GeminiBackend {
	return &GeminiBackend{client: client, model: model}
}

// GenerateImage implements ImageBackend using Gemini.
func (b *GeminiBackend) GenerateImage(ctx context.Context, prompt string) ([]byte, error) {
	data, err := b.client.GenerateImage(ctx, b.model, prompt)
	if err != nil {
		return nil, fmt.Errorf("image model: %w", err)
	}
	return data, nil
}

// A 1x1 transparent PNG, the stand-in artifact while the real generation
// backend is not wired up.
const stubPNGBase64 = "iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAYAAAAfFcSJAAAADUlEQVR42mNkYPhfDwAChwGA60e6kgAAAABJRU5ErkJggg=="

// StubBackend returns a fixed placeholder image for any prompt. Used in dev
// and tests so the rest of the pipeline can be exercised without an API key.
type StubBackend struct{}

// GenerateImage implements ImageBackend with a canned artifact.
func (StubBackend) GenerateImage(_ context.Context, _ string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(stubPNGBase64)
}
