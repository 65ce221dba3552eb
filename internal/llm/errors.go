package llm

import "errors"

var (
	// ErrTranscriptionUnavailable is reported when audio arrives and no
	// speech-to-text collaborator can turn it into text.
	ErrTranscriptionUnavailable = errors.New("transcription unavailable")
	// ErrGenerationFailure wraps every failed or empty generative call.
	ErrGenerationFailure = errors.New("generation failed")
	ErrMissingAPIKey     = errors.New("openai api key is required")
)
