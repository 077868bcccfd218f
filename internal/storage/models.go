package storage

import (
	"errors"
	"time"

	"github.com/docbot-ai/docbot/internal/source"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ChatbotConfig is the mutable per-chatbot configuration. Changing it never
// requires rebuilding the index.
type ChatbotConfig struct {
	ModelName    string `json:"model_name"`
	CustomPrompt string `json:"custom_prompt,omitempty"`
}

// Chatbot is the knowledge base identity under which passages are indexed
// and retrieved.
type Chatbot struct {
	ID        string
	OwnerID   string
	Name      string
	Config    ChatbotConfig
	Sources   []source.Source
	CreatedAt time.Time
}

// Narration is a generated voice-narration record: the summary text, the
// voice it was (or will be) synthesized with, and the resulting audio as a
// data URL.
type Narration struct {
	ID            string
	OwnerID       string
	Name          string
	Content       string
	VoiceID       string
	AudioURL      string
	LengthMinutes int
	CreatedAt     time.Time
}
