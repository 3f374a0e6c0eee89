package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pipeerrors "github.com/Aman-CERP/driverag/internal/errors"
	"github.com/Aman-CERP/driverag/internal/search"
)

func testContext() *search.Context {
	return &search.Context{
		Text:       "The cache TTL defaults to 24 hours.\n\nEviction runs at the end of every sync pass.",
		TokenCount: 15,
		Citations: []search.Citation{
			{DocumentID: "d1", DocumentName: "ops.txt", ChunkID: "c1"},
		},
	}
}

func newGenerateServer(t *testing.T, handler func(req ollamaGenerateRequest) ollamaGenerateResponse) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/generate", r.URL.Path)
		var req ollamaGenerateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.False(t, req.Stream)
		require.NoError(t, json.NewEncoder(w).Encode(handler(req)))
	}))
}

func TestAsk_ReturnsAnswerWithCitations(t *testing.T) {
	// Given a backend that answers from the prompt
	var gotPrompt string
	srv := newGenerateServer(t, func(req ollamaGenerateRequest) ollamaGenerateResponse {
		gotPrompt = req.Prompt
		return ollamaGenerateResponse{Model: req.Model, Response: "  24 hours.  ", Done: true}
	})
	defer srv.Close()

	client, err := NewClient(Config{Host: srv.URL, Model: "llama3.2"})
	require.NoError(t, err)

	// When a question is asked over retrieved context
	answer, err := client.Ask(context.Background(), "What is the cache TTL?", testContext())

	// Then the trimmed answer and the context citations come back
	require.NoError(t, err)
	assert.Equal(t, "24 hours.", answer.Text)
	assert.Equal(t, "llama3.2", answer.Model)
	require.Len(t, answer.Citations, 1)
	assert.Equal(t, "d1", answer.Citations[0].DocumentID)

	// And the prompt carries both the passages and the question
	assert.Contains(t, gotPrompt, "24 hours")
	assert.Contains(t, gotPrompt, "What is the cache TTL?")
}

func TestAsk_EmptyQuestionRejected(t *testing.T) {
	client, err := NewClient(Config{Host: "http://localhost:0", Model: "llama3.2"})
	require.NoError(t, err)

	_, err = client.Ask(context.Background(), "   ", testContext())

	require.Error(t, err)
	assert.Equal(t, pipeerrors.ErrCodeQueryEmpty, pipeerrors.GetCode(err))
}

func TestAsk_EmptyContextRejected(t *testing.T) {
	client, err := NewClient(Config{Host: "http://localhost:0", Model: "llama3.2"})
	require.NoError(t, err)

	_, err = client.Ask(context.Background(), "anything", &search.Context{})

	require.Error(t, err)
	assert.Equal(t, pipeerrors.ErrCodeInvalidInput, pipeerrors.GetCode(err))
}

func TestAsk_BackendErrorSurfaces(t *testing.T) {
	// Given a backend that fails every request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model not found", http.StatusInternalServerError)
	}))
	defer srv.Close()

	client, err := NewClient(Config{Host: srv.URL, Model: "llama3.2"})
	require.NoError(t, err)

	// When a question is asked
	_, err = client.Ask(context.Background(), "anything", testContext())

	// Then the failure carries the generation error code and backend text
	require.Error(t, err)
	assert.Equal(t, pipeerrors.ErrCodeGenerationFailed, pipeerrors.GetCode(err))
	assert.Contains(t, err.Error(), "model not found")
}

func TestAsk_IncompleteResponseRejected(t *testing.T) {
	// Given a backend that reports an unfinished generation
	srv := newGenerateServer(t, func(req ollamaGenerateRequest) ollamaGenerateResponse {
		return ollamaGenerateResponse{Model: req.Model, Response: "partial", Done: false}
	})
	defer srv.Close()

	client, err := NewClient(Config{Host: srv.URL, Model: "llama3.2"})
	require.NoError(t, err)

	_, err = client.Ask(context.Background(), "anything", testContext())

	require.Error(t, err)
	assert.Equal(t, pipeerrors.ErrCodeGenerationFailed, pipeerrors.GetCode(err))
}

func TestNewClient_RequiresModel(t *testing.T) {
	_, err := NewClient(Config{Host: "http://localhost:11434"})

	require.Error(t, err)
	assert.Equal(t, pipeerrors.ErrCodeInvalidInput, pipeerrors.GetCode(err))
}
