package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultAudioContentType is assumed when a recording arrives untyped
const DefaultAudioContentType = "audio/m4a"

// DeepgramTranscriber calls the Deepgram prerecorded listen endpoint
type DeepgramTranscriber struct {
	apiKey     string
	endpoint   string
	httpClient *http.Client
}

// NewDeepgramTranscriber creates a transcriber for the given listen URL
func NewDeepgramTranscriber(apiKey, listenURL string, timeout time.Duration) *DeepgramTranscriber {
	return &DeepgramTranscriber{
		apiKey:     apiKey,
		endpoint:   listenURL + "?model=nova-2&language=en-US&punctuate=true",
		httpClient: newHTTPClient(timeout),
	}
}

// Transcribe returns the first alternative of the first channel. An empty
// transcript is reported as ErrEmptyResponse.
func (t *DeepgramTranscriber) Transcribe(ctx context.Context, audio []byte, contentType string) (string, error) {
	if t.apiKey == "" {
		return "", ErrNotConfigured
	}
	if len(audio) == 0 {
		return "", fmt.Errorf("deepgram: empty recording")
	}
	if contentType == "" {
		contentType = DefaultAudioContentType
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(audio))
	if err != nil {
		return "", fmt.Errorf("failed to create deepgram request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Token "+t.apiKey)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("deepgram request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return "", &StatusError{Service: "deepgram", StatusCode: resp.StatusCode, Body: string(bodyBytes)}
	}

	var result struct {
		Results struct {
			Channels []struct {
				Alternatives []struct {
					Transcript string `json:"transcript"`
				} `json:"alternatives"`
			} `json:"channels"`
		} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to decode deepgram response: %w", err)
	}

	if len(result.Results.Channels) == 0 || len(result.Results.Channels[0].Alternatives) == 0 {
		return "", ErrEmptyResponse
	}
	transcript := strings.TrimSpace(result.Results.Channels[0].Alternatives[0].Transcript)
	if transcript == "" {
		return "", ErrEmptyResponse
	}
	return transcript, nil
}
