// Package ai holds the clients for the external generation, speech-to-text
// and text-to-speech endpoints. Every client is stateless between calls.
package ai

import (
	"context"
	"errors"
	"net/http"
	"time"
)

var (
	// ErrNotConfigured is returned when a client has no API key
	ErrNotConfigured = errors.New("ai: api key not configured")
	// ErrEmptyResponse is returned when a well-formed call produced no usable text
	ErrEmptyResponse = errors.New("ai: response contained no candidates")
)

// Generator turns one prompt into one reply
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
	// Provider names the backing service for logs and metrics
	Provider() string
}

// Transcriber converts recorded speech into text
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, contentType string) (string, error)
}

// Synthesizer converts text into spoken audio
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// Sampling parameters shared by every generator
const (
	Temperature     = 0.7
	TopK            = 40
	TopP            = 0.95
	MaxOutputTokens = 1024
)

// StatusError reports a non-2xx answer from an upstream API
type StatusError struct {
	Service    string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return e.Service + " returned status " + http.StatusText(e.StatusCode) + ": " + truncate(e.Body, 200)
}

func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
