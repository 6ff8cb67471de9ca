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

// ElevenLabsSynthesizer calls the ElevenLabs text-to-speech endpoint
type ElevenLabsSynthesizer struct {
	apiKey     string
	baseURL    string
	voiceID    string
	httpClient *http.Client
}

// NewElevenLabsSynthesizer creates a synthesizer speaking with voiceID
func NewElevenLabsSynthesizer(apiKey, baseURL, voiceID string, timeout time.Duration) *ElevenLabsSynthesizer {
	return &ElevenLabsSynthesizer{
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		voiceID:    voiceID,
		httpClient: newHTTPClient(timeout),
	}
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

type ttsRequest struct {
	Text          string        `json:"text"`
	VoiceSettings voiceSettings `json:"voice_settings"`
}

// Synthesize returns MPEG audio for text
func (s *ElevenLabsSynthesizer) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if s.apiKey == "" {
		return nil, ErrNotConfigured
	}

	jsonData, err := json.Marshal(ttsRequest{
		Text:          text,
		VoiceSettings: voiceSettings{Stability: 0.75, SimilarityBoost: 0.75},
	})
	if err != nil {
		return nil, fmt.Errorf("error marshaling TTS request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/"+s.voiceID, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("error creating TTS request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("xi-api-key", s.apiKey)
	req.Header.Set("Accept", "audio/mpeg")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error making TTS request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, &StatusError{Service: "elevenlabs", StatusCode: resp.StatusCode, Body: string(bodyBytes)}
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("error reading TTS response body: %w", err)
	}
	if len(audio) == 0 {
		return nil, ErrEmptyResponse
	}
	return audio, nil
}
