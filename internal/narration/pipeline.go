// Package narration implements the voice-narration pipeline: summarize
// source content to a spoken-style script of a target length, then hand the
// script to a text-to-speech provider.
package narration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/docbot-ai/docbot/internal/chatbot"
	"github.com/docbot-ai/docbot/internal/chunk"
	"github.com/docbot-ai/docbot/internal/elevenlabs"
	"github.com/docbot-ai/docbot/internal/openai"
	"github.com/docbot-ai/docbot/internal/source"
	"github.com/docbot-ai/docbot/internal/storage"
)

// ErrNoContent is returned when neither raw text nor any loadable source
// yields content to summarize.
var ErrNoContent = errors.New("no content to summarize")

const (
	// wordsPerMinute is the average speaking rate used to convert a target
	// duration into a word budget.
	wordsPerMinute = 150

	// Narration uses larger chunks than chatbot indexing and keeps only the
	// first few: a bounded-context summary, not a full-document one.
	narrationChunkSize    = 2000
	narrationChunkOverlap = 200
	maxSummaryChunks      = 5
)

// DefaultPrompt is the summarization instruction used when no custom prompt
// is supplied.
const DefaultPrompt = `Summarize the following content as a conversational script meant to be read aloud.
Keep the tone friendly and engaging, avoid headings and bullet points, and write in full sentences.`

// summarySampling keeps narration scripts steadier than chat answers.
var summarySampling = openai.SamplingParams{Temperature: 0.5}

// Request describes one narration job. Either Text or Sources must be set;
// Text wins when both are present.
type Request struct {
	Text          string
	Sources       []source.Source
	TargetMinutes int
	CustomPrompt  string
}

// SourceLoader converts sources into normalized documents.
type SourceLoader interface {
	LoadAll(ctx context.Context, sources []source.Source) ([]source.Document, error)
}

// SummaryEngine abstracts the language-model provider.
type SummaryEngine interface {
	Chat(ctx context.Context, model string, messages []openai.Message, params openai.SamplingParams) (string, error)
}

// Synthesizer abstracts the text-to-speech provider.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voiceID string) ([]byte, error)
}

// NarrationStore persists narration records.
type NarrationStore interface {
	SaveNarration(ctx context.Context, n storage.Narration) error
	GetNarration(ctx context.Context, id string) (storage.Narration, error)
	ListNarrations(ctx context.Context, ownerID string) ([]storage.Narration, error)
	UpdateNarrationAudio(ctx context.Context, id, audioURL string) error
	DeleteNarration(ctx context.Context, id string) error
}

// Pipeline runs summarization and synthesis.
type Pipeline struct {
	loader  SourceLoader
	engine  SummaryEngine
	tts     Synthesizer
	store   NarrationStore
	chunker *chunk.Chunker
	model   string
	logger  *slog.Logger
}

// NewPipeline wires the narration pipeline. model is the summarization model
// name (openai.DefaultChatModel if empty).
func NewPipeline(loader SourceLoader, engine SummaryEngine, tts Synthesizer, store NarrationStore, model string) (*Pipeline, error) {
	if model == "" {
		model = openai.DefaultChatModel
	}
	chunker, err := chunk.New(narrationChunkSize, narrationChunkOverlap)
	if err != nil {
		return nil, err
	}
	return &Pipeline{
		loader:  loader,
		engine:  engine,
		tts:     tts,
		store:   store,
		chunker: chunker,
		model:   model,
		logger:  slog.Default(),
	}, nil
}

// Summarize produces a spoken-style summary of the request content near
// TargetMinutes * 150 words. Only the first few chunks of the content feed
// the model; long documents are deliberately truncated.
func (p *Pipeline) Summarize(ctx context.Context, req Request) (string, error) {
	text := req.Text
	if text == "" {
		docs, err := p.loader.LoadAll(ctx, req.Sources)
		if err != nil {
			return "", err
		}
		var parts []string
		for _, doc := range docs {
			if doc.Metadata.IsError || doc.Metadata.IsPlaceholder {
				continue
			}
			parts = append(parts, doc.Text)
		}
		text = strings.Join(parts, " ")
	}
	if strings.TrimSpace(text) == "" {
		return "", ErrNoContent
	}

	minutes := req.TargetMinutes
	if minutes <= 0 {
		minutes = 1
	}
	targetWords := minutes * wordsPerMinute

	passages := p.chunker.Split([]source.Document{{Text: text}})
	if len(passages) > maxSummaryChunks {
		passages = passages[:maxSummaryChunks]
	}
	chunks := make([]string, len(passages))
	for i, passage := range passages {
		chunks[i] = passage.Text
	}

	instruction := req.CustomPrompt
	if instruction == "" {
		instruction = DefaultPrompt
	}
	rendered := fmt.Sprintf("%s\n\nTarget length: %d words (about %d minute(s) when spoken)\n\nContent to summarize:\n%s",
		instruction, targetWords, minutes, strings.Join(chunks, "\n\n"))

	summary, err := p.engine.Chat(ctx, p.model, []openai.Message{{Role: "user", Content: rendered}}, summarySampling)
	if err != nil {
		return "", &chatbot.ProviderError{Provider: "language model", Op: "summarize", Err: err}
	}
	return summary, nil
}

// Generate runs the full pipeline: summarize, synthesize with the given
// voice, and persist the narration record with its audio data URL.
func (p *Pipeline) Generate(ctx context.Context, ownerID, name string, req Request, voiceID string) (storage.Narration, error) {
	summary, err := p.Summarize(ctx, req)
	if err != nil {
		return storage.Narration{}, err
	}

	audio, err := p.tts.Synthesize(ctx, summary, voiceID)
	if err != nil {
		return storage.Narration{}, &chatbot.ProviderError{Provider: "text-to-speech", Op: "synthesize", Err: err}
	}

	minutes := req.TargetMinutes
	if minutes <= 0 {
		minutes = 1
	}
	n := storage.Narration{
		ID:            uuid.New().String(),
		OwnerID:       ownerID,
		Name:          name,
		Content:       summary,
		VoiceID:       voiceID,
		AudioURL:      elevenlabs.AudioDataURL(audio),
		LengthMinutes: minutes,
		CreatedAt:     time.Now().UTC(),
	}
	if err := p.store.SaveNarration(ctx, n); err != nil {
		return storage.Narration{}, fmt.Errorf("saving narration: %w", err)
	}

	p.logger.Info("narration generated", "narration_id", n.ID, "owner_id", ownerID, "minutes", minutes)
	return n, nil
}

// Regenerate synthesizes fresh audio for a stored narration's script and
// updates the record.
func (p *Pipeline) Regenerate(ctx context.Context, id string) (storage.Narration, error) {
	n, err := p.store.GetNarration(ctx, id)
	if err != nil {
		return storage.Narration{}, err
	}

	audio, err := p.tts.Synthesize(ctx, n.Content, n.VoiceID)
	if err != nil {
		return storage.Narration{}, &chatbot.ProviderError{Provider: "text-to-speech", Op: "synthesize", Err: err}
	}

	n.AudioURL = elevenlabs.AudioDataURL(audio)
	if err := p.store.UpdateNarrationAudio(ctx, n.ID, n.AudioURL); err != nil {
		return storage.Narration{}, fmt.Errorf("updating narration audio: %w", err)
	}
	return n, nil
}

// Get returns a narration record.
func (p *Pipeline) Get(ctx context.Context, id string) (storage.Narration, error) {
	return p.store.GetNarration(ctx, id)
}

// List returns all narrations belonging to the owner.
func (p *Pipeline) List(ctx context.Context, ownerID string) ([]storage.Narration, error) {
	return p.store.ListNarrations(ctx, ownerID)
}

// Delete removes a narration record.
func (p *Pipeline) Delete(ctx context.Context, id string) error {
	return p.store.DeleteNarration(ctx, id)
}
