package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *OpenAIGenerator {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client, err := NewClient(ClientConfig{APIKey: "test-key", BaseURL: server.URL + "/v1"})
	require.NoError(t, err)
	logger, _ := logtest.NewNullLogger()
	return NewOpenAIGenerator(client, "", "", logger)
}

func TestNewClient_RequiresKey(t *testing.T) {
	_, err := NewClient(ClientConfig{APIKey: "  "})
	assert.ErrorIs(t, err, ErrMissingAPIKey)
}

func TestOpenAIGenerator_Generate(t *testing.T) {
	var got map[string]interface{}
	gen := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"x","object":"chat.completion","choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"RESPONSE: Be concrete | SCORE: 8 | FEEDBACK: Good"}}],"usage":{"total_tokens":42}}`))
	})

	out, err := gen.Generate(context.Background(), "Why us?", 150, 0.7)
	require.NoError(t, err)
	assert.Equal(t, "RESPONSE: Be concrete | SCORE: 8 | FEEDBACK: Good", out)

	assert.Equal(t, DefaultModel, got["model"])
	assert.EqualValues(t, 150, got["max_completion_tokens"])
	assert.InDelta(t, 0.7, got["temperature"], 0.0001)
	messages := got["messages"].([]interface{})
	require.Len(t, messages, 2)
	assert.Equal(t, "system", messages[0].(map[string]interface{})["role"])
	assert.Equal(t, "Why us?", messages[1].(map[string]interface{})["content"])
}

func TestOpenAIGenerator_Failures(t *testing.T) {
	tests := map[string]http.HandlerFunc{
		"server error": func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error":{"message":"boom","type":"server_error"}}`))
		},
		"no choices": func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"choices":[]}`))
		},
		"blank content": func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"  "}}]}`))
		},
	}
	for name, handler := range tests {
		t.Run(name, func(t *testing.T) {
			gen := newTestClient(t, handler)
			_, err := gen.Generate(context.Background(), "Why us?", 10, 0)
			assert.ErrorIs(t, err, ErrGenerationFailure)
		})
	}
}

func TestOpenAITranscriber_Transcribe(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/audio/transcriptions", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "whisper-1", r.FormValue("model"))
		file, _, err := r.FormFile("file")
		require.NoError(t, err)
		data, _ := io.ReadAll(file)
		assert.Equal(t, []byte{1, 2, 3}, data)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"text":" What are your strengths? "}`))
	}))
	defer server.Close()

	client, err := NewClient(ClientConfig{APIKey: "k", BaseURL: server.URL + "/v1"})
	require.NoError(t, err)
	tr := NewOpenAITranscriber(client, "", "en")

	text, err := tr.Transcribe(context.Background(), []byte{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, "What are your strengths?", text)

	text, err = tr.Transcribe(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, text)
}

func TestOpenAITranscriber_Failure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client, err := NewClient(ClientConfig{APIKey: "k", BaseURL: server.URL + "/v1"})
	require.NoError(t, err)

	_, err = NewOpenAITranscriber(client, "", "").Transcribe(context.Background(), []byte{1})
	assert.True(t, errors.Is(err, ErrTranscriptionUnavailable))
}
