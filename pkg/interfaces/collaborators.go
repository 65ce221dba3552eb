package interfaces

import "context"

// Transcriber turns raw audio into text. Partial or empty text is valid output.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte) (string, error)
}

// Generator produces free text for a prompt. The coaching core sends a
// structured prompt and parses the reply itself.
type Generator interface {
	Generate(ctx context.Context, prompt string, maxTokens int, temperature float32) (string, error)
}
