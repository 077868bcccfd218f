// Package elevenlabs implements a minimal client for the ElevenLabs
// text-to-speech API.
package elevenlabs

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	DefaultBaseURL = "https://api.elevenlabs.io"

	// defaultModelID is the turbo voice model used for narration synthesis.
	defaultModelID = "eleven_turbo_v2"

	synthesizeTimeout = 120 * time.Second
)

// Client communicates with the ElevenLabs API over HTTP.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// New creates a Client for the given base URL and API key.
func New(baseURL, apiKey string, httpClient *http.Client) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: httpClient,
	}
}

// synthesizeRequest is the JSON body for POST /v1/text-to-speech/{voiceID}.
type synthesizeRequest struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id"`
	VoiceSettings voiceSettings `json:"voice_settings"`
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

// Synthesize converts text to speech with the given voice and returns the raw
// audio bytes (MPEG).
func (c *Client) Synthesize(ctx context.Context, text, voiceID string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, synthesizeTimeout)
	defer cancel()

	body, err := json.Marshal(synthesizeRequest{
		Text:    text,
		ModelID: defaultModelID,
		VoiceSettings: voiceSettings{
			Stability:       0.5,
			SimilarityBoost: 0.75,
		},
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/text-to-speech/"+voiceID, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating synthesize request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("xi-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("synthesize request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return nil, fmt.Errorf("synthesize: unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading audio: %w", err)
	}
	return audio, nil
}

// AudioDataURL encodes raw MPEG audio bytes as a data URL suitable for
// storage or direct playback.
func AudioDataURL(audio []byte) string {
	return "data:audio/mpeg;base64," + base64.StdEncoding.EncodeToString(audio)
}
