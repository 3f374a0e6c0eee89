// Package llm answers questions over retrieved context through Ollama's
// generate API.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Aman-CERP/driverag/internal/errors"
	"github.com/Aman-CERP/driverag/internal/search"
)

const (
	// DefaultGenerateTimeout bounds a single generate call. Generation
	// is slower than embedding, so the budget is wider.
	DefaultGenerateTimeout = 120 * time.Second

	defaultTemperature = 0.1
)

// Config configures the Ollama generation backend.
type Config struct {
	Host        string // e.g. http://localhost:11434
	Model       string
	Timeout     time.Duration
	Temperature float64
}

// ollamaGenerateRequest is the /api/generate request body.
type ollamaGenerateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

// ollamaGenerateResponse is the non-streaming /api/generate response body.
type ollamaGenerateResponse struct {
	Model    string `json:"model"`
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// Answer is a generated response plus the citations of the context it
// was grounded on.
type Answer struct {
	Text      string
	Model     string
	Citations []search.Citation
}

// Client calls Ollama's generate endpoint with stream disabled. One
// request per question; no conversation state is kept.
type Client struct {
	http   *http.Client
	config Config
}

func NewClient(cfg Config) (*Client, error) {
	if cfg.Host == "" {
		cfg.Host = "http://localhost:11434"
	}
	if cfg.Model == "" {
		return nil, errors.New(errors.ErrCodeInvalidInput, "generation model name is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultGenerateTimeout
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = defaultTemperature
	}
	return &Client{
		http:   &http.Client{},
		config: cfg,
	}, nil
}

// Ask generates an answer to question grounded on retrieved. The
// prompt instructs the model to answer only from the supplied passages
// and to say so when they do not contain the answer.
func (c *Client) Ask(ctx context.Context, question string, retrieved *search.Context) (*Answer, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, errors.New(errors.ErrCodeQueryEmpty, "question is empty")
	}
	if retrieved == nil || retrieved.Text == "" {
		return nil, errors.New(errors.ErrCodeInvalidInput, "no context to answer from")
	}

	text, err := c.generate(ctx, buildPrompt(question, retrieved.Text))
	if err != nil {
		return nil, err
	}
	return &Answer{
		Text:      strings.TrimSpace(text),
		Model:     c.config.Model,
		Citations: retrieved.Citations,
	}, nil
}

func buildPrompt(question, contextText string) string {
	var b strings.Builder
	b.WriteString("Answer the question using only the passages below. ")
	b.WriteString("If the passages do not contain the answer, say you do not know.\n\n")
	b.WriteString("Passages:\n")
	b.WriteString(contextText)
	b.WriteString("\n\nQuestion: ")
	b.WriteString(question)
	b.WriteString("\nAnswer:")
	return b.String()
}

func (c *Client) generate(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(ollamaGenerateRequest{
		Model:  c.config.Model,
		Prompt: prompt,
		Stream: false,
		Options: map[string]any{
			"temperature": c.config.Temperature,
		},
	})
	if err != nil {
		return "", errors.Wrap(err, errors.ErrCodeGenerationFailed, "marshal generate request")
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost,
		c.config.Host+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", errors.Wrap(err, errors.ErrCodeGenerationFailed, "create generate request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if reqCtx.Err() == context.DeadlineExceeded {
			return "", errors.Wrap(err, errors.ErrCodeFetchTimeout, "generation timed out")
		}
		return "", errors.Wrap(err, errors.ErrCodeGenerationFailed, "generation request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", errors.New(errors.ErrCodeGenerationFailed,
			fmt.Sprintf("generation failed with status %d: %s", resp.StatusCode, string(respBody)))
	}

	var apiResult ollamaGenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResult); err != nil {
		return "", errors.Wrap(err, errors.ErrCodeGenerationFailed, "decode generate response")
	}
	if !apiResult.Done {
		return "", errors.New(errors.ErrCodeGenerationFailed, "backend returned an incomplete response")
	}
	return apiResult.Response, nil
}
