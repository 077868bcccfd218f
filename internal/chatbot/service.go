// Package chatbot implements the document-grounded chatbot core: building a
// knowledge base from content sources and answering questions against it.
package chatbot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/docbot-ai/docbot/internal/chunk"
	"github.com/docbot-ai/docbot/internal/openai"
	"github.com/docbot-ai/docbot/internal/prompt"
	"github.com/docbot-ai/docbot/internal/retrieval"
	"github.com/docbot-ai/docbot/internal/source"
	"github.com/docbot-ai/docbot/internal/storage"
)

// chatSampling are the fixed completion sampling parameters for grounded
// answers. They are sent explicitly on every call.
var chatSampling = openai.SamplingParams{
	Temperature:      0.7,
	PresencePenalty:  0.6,
	FrequencyPenalty: 0.5,
}

// Turn is one exchange entry in a conversation session.
type Turn struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}

// Passage is a retrieved knowledge base fragment returned for attribution.
type Passage struct {
	Text    string  `json:"text"`
	Source  string  `json:"source"`
	Score   float32 `json:"score"`
	IsError bool    `json:"is_error,omitempty"`
}

// Answer is the result of one question-answer call: the response text, the
// passages it was grounded on, and the updated session history.
type Answer struct {
	Text    string
	Sources []Passage
	History []Turn
}

// SourceLoader converts sources into normalized documents.
type SourceLoader interface {
	LoadAll(ctx context.Context, sources []source.Source) ([]source.Document, error)
}

// IndexBuilder embeds passages into the vector store and reports index existence.
type IndexBuilder interface {
	Index(ctx context.Context, chatbotID string, passages []chunk.Passage) error
	Exists(ctx context.Context, chatbotID string) (bool, error)
}

// PassageRetriever finds the passages most similar to a query within one
// chatbot's knowledge base.
type PassageRetriever interface {
	Retrieve(ctx context.Context, chatbotID, query string, topK int) ([]retrieval.ScoredRecord, error)
}

// ChatEngine abstracts the language-model provider.
type ChatEngine interface {
	Chat(ctx context.Context, model string, messages []openai.Message, params openai.SamplingParams) (string, error)
}

// ChatbotStore persists chatbot identity records.
type ChatbotStore interface {
	SaveChatbot(ctx context.Context, bot storage.Chatbot) error
	GetChatbot(ctx context.Context, id string) (storage.Chatbot, error)
	ListChatbots(ctx context.Context, ownerID string) ([]storage.Chatbot, error)
	UpdateChatbot(ctx context.Context, id, name string, config storage.ChatbotConfig) error
	DeleteChatbot(ctx context.Context, id string) error
}

// VectorDeleter removes a chatbot's records from the vector store.
type VectorDeleter interface {
	DeleteChatbot(ctx context.Context, chatbotID string) error
}

// Service is the produced core interface: build, answer, manage, delete.
// Each call is stateless between calls; conversation history is a value
// passed in and returned, never hidden state.
type Service struct {
	store     ChatbotStore
	loader    SourceLoader
	chunker   *chunk.Chunker
	indexer   IndexBuilder
	retriever PassageRetriever
	vectors   VectorDeleter
	engine    ChatEngine
	topK      int
	logger    *slog.Logger

	// builds serializes index builds per chatbot ID so concurrent builds of
	// the same chatbot cannot interleave writes; builds of different
	// chatbots proceed independently.
	builds singleflight.Group
}

// NewService wires the chatbot core. topK controls how many passages are
// retrieved per question (default retrieval.DefaultTopK if <= 0).
func NewService(
	store ChatbotStore,
	loader SourceLoader,
	chunker *chunk.Chunker,
	indexer IndexBuilder,
	retriever PassageRetriever,
	vectors VectorDeleter,
	engine ChatEngine,
	topK int,
) *Service {
	if topK <= 0 {
		topK = retrieval.DefaultTopK
	}
	return &Service{
		store:     store,
		loader:    loader,
		chunker:   chunker,
		indexer:   indexer,
		retriever: retriever,
		vectors:   vectors,
		engine:    engine,
		topK:      topK,
		logger:    slog.Default(),
	}
}

// Build creates a chatbot: loads all sources, chunks them, indexes the
// passages, and persists the identity record. Fails with ErrNoSources for an
// empty source list and ErrNoDocumentsLoaded when every source failed to
// produce usable text; a single loadable source is enough to succeed.
func (s *Service) Build(ctx context.Context, ownerID, name string, sources []source.Source, config storage.ChatbotConfig) (storage.Chatbot, error) {
	if len(sources) == 0 {
		return storage.Chatbot{}, ErrNoSources
	}
	if config.ModelName == "" {
		config.ModelName = openai.DefaultChatModel
	}

	bot := storage.Chatbot{
		ID:        uuid.New().String(),
		OwnerID:   ownerID,
		Name:      name,
		Config:    config,
		Sources:   sources,
		CreatedAt: time.Now().UTC(),
	}

	if err := s.buildIndex(ctx, bot.ID, sources); err != nil {
		return storage.Chatbot{}, err
	}

	if err := s.store.SaveChatbot(ctx, bot); err != nil {
		// Avoid orphaned vectors when the identity record cannot be saved.
		if delErr := s.vectors.DeleteChatbot(ctx, bot.ID); delErr != nil {
			s.logger.Warn("cleanup after failed save", "chatbot_id", bot.ID, "error", delErr)
		}
		return storage.Chatbot{}, fmt.Errorf("saving chatbot: %w", err)
	}

	s.logger.Info("chatbot built", "chatbot_id", bot.ID, "owner_id", ownerID, "sources", len(sources))
	return bot, nil
}

// buildIndex loads, chunks, and indexes the chatbot's sources. Concurrent
// builds for the same chatbot ID are collapsed into one. The build itself is
// detached from the initiating caller's cancellation so callers coalesced
// onto it are not failed when that caller goes away; each caller still waits
// under its own context.
func (s *Service) buildIndex(ctx context.Context, chatbotID string, sources []source.Source) error {
	buildCtx := context.WithoutCancel(ctx)
	ch := s.builds.DoChan(chatbotID, func() (any, error) {
		docs, err := s.loader.LoadAll(buildCtx, sources)
		if err != nil {
			return nil, err
		}

		usable := 0
		for _, doc := range docs {
			if !doc.Metadata.IsError && !doc.Metadata.IsPlaceholder {
				usable++
			}
		}
		if usable == 0 {
			return nil, ErrNoDocumentsLoaded
		}

		passages := s.chunker.Split(docs)
		if err := s.indexer.Index(buildCtx, chatbotID, passages); err != nil {
			return nil, &ProviderError{Provider: "embedding", Op: "index", Err: err}
		}

		s.logger.Debug("index built", "chatbot_id", chatbotID,
			"documents", len(docs), "passages", len(passages))
		return nil, nil
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Answer runs one question through the conversation engine: retrieve, build
// the grounded prompt, invoke the model with session history, and return the
// response with the passages used and the updated history.
//
// If no index exists (for example after a restart with a volatile store), the
// engine rebuilds it on demand from the chatbot's stored sources before
// answering; if that rebuild is impossible the call fails with
// ErrNoKnowledgeBase.
func (s *Service) Answer(ctx context.Context, chatbotID, question string, history []Turn) (Answer, error) {
	bot, err := s.store.GetChatbot(ctx, chatbotID)
	if errors.Is(err, storage.ErrNotFound) {
		return Answer{}, ErrChatbotNotFound
	}
	if err != nil {
		return Answer{}, fmt.Errorf("loading chatbot: %w", err)
	}

	exists, err := s.indexer.Exists(ctx, chatbotID)
	if err != nil {
		return Answer{}, &ProviderError{Provider: "vector store", Op: "exists", Err: err}
	}
	if !exists {
		if len(bot.Sources) == 0 {
			return Answer{}, ErrNoKnowledgeBase
		}
		s.logger.Info("no index found, rebuilding from stored sources", "chatbot_id", chatbotID)
		if err := s.buildIndex(ctx, chatbotID, bot.Sources); err != nil {
			return Answer{}, fmt.Errorf("%w: rebuild failed: %v", ErrNoKnowledgeBase, err)
		}
	}

	records, err := s.retriever.Retrieve(ctx, chatbotID, question, s.topK)
	if err != nil {
		return Answer{}, &ProviderError{Provider: "embedding", Op: "retrieve", Err: err}
	}
	// An empty result set is not an error: the model answers from general
	// knowledge under the template's own admit-ignorance instruction.

	rendered := prompt.Render(prompt.Repair(bot.Config.CustomPrompt), contextText(records), question)

	messages := make([]openai.Message, 0, len(history)+1)
	for _, turn := range history {
		messages = append(messages, openai.Message{Role: turn.Role, Content: turn.Content})
	}
	messages = append(messages, openai.Message{Role: "user", Content: rendered})

	text, err := s.engine.Chat(ctx, bot.Config.ModelName, messages, chatSampling)
	if err != nil {
		return Answer{}, &ProviderError{Provider: "language model", Op: "chat", Err: err}
	}

	updated := append(append([]Turn{}, history...),
		Turn{Role: "user", Content: question},
		Turn{Role: "assistant", Content: text},
	)

	return Answer{
		Text:    text,
		Sources: toPassages(records),
		History: updated,
	}, nil
}

// Search returns the chatbot's most relevant passages for a query without
// invoking the language model.
func (s *Service) Search(ctx context.Context, chatbotID, query string, topK int) ([]Passage, error) {
	if _, err := s.store.GetChatbot(ctx, chatbotID); errors.Is(err, storage.ErrNotFound) {
		return nil, ErrChatbotNotFound
	} else if err != nil {
		return nil, fmt.Errorf("loading chatbot: %w", err)
	}

	records, err := s.retriever.Retrieve(ctx, chatbotID, query, topK)
	if err != nil {
		return nil, &ProviderError{Provider: "embedding", Op: "retrieve", Err: err}
	}
	return toPassages(records), nil
}

// Get returns a chatbot identity record.
func (s *Service) Get(ctx context.Context, chatbotID string) (storage.Chatbot, error) {
	bot, err := s.store.GetChatbot(ctx, chatbotID)
	if errors.Is(err, storage.ErrNotFound) {
		return storage.Chatbot{}, ErrChatbotNotFound
	}
	return bot, err
}

// List returns all chatbots belonging to the owner.
func (s *Service) List(ctx context.Context, ownerID string) ([]storage.Chatbot, error) {
	return s.store.ListChatbots(ctx, ownerID)
}

// Update renames a chatbot and replaces its config without rebuilding the index.
func (s *Service) Update(ctx context.Context, chatbotID, name string, config storage.ChatbotConfig) error {
	if config.ModelName == "" {
		config.ModelName = openai.DefaultChatModel
	}
	err := s.store.UpdateChatbot(ctx, chatbotID, name, config)
	if errors.Is(err, storage.ErrNotFound) {
		return ErrChatbotNotFound
	}
	return err
}

// Delete removes the chatbot identity and cascades deletion of its passages.
func (s *Service) Delete(ctx context.Context, chatbotID string) error {
	err := s.store.DeleteChatbot(ctx, chatbotID)
	if errors.Is(err, storage.ErrNotFound) {
		return ErrChatbotNotFound
	}
	if err != nil {
		return fmt.Errorf("deleting chatbot: %w", err)
	}
	if err := s.vectors.DeleteChatbot(ctx, chatbotID); err != nil {
		return &ProviderError{Provider: "vector store", Op: "delete", Err: err}
	}
	return nil
}

// contextText concatenates retrieved passage texts for the {context} slot.
func contextText(records []retrieval.ScoredRecord) string {
	parts := make([]string, len(records))
	for i, r := range records {
		parts[i] = r.Text
	}
	return strings.Join(parts, "\n\n")
}

func toPassages(records []retrieval.ScoredRecord) []Passage {
	passages := make([]Passage, len(records))
	for i, r := range records {
		passages[i] = Passage{
			Text:    r.Text,
			Source:  r.Source,
			Score:   r.Score,
			IsError: r.IsError,
		}
	}
	return passages
}
