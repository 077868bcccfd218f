package retrieval

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/docbot-ai/docbot/internal/chunk"
)

// Indexer embeds passages and persists them in the vector store, tagged with
// the owning chatbot ID.
type Indexer struct {
	embedder *Embedder
	store    VectorStore
}

// NewIndexer creates an Indexer backed by the given Embedder and VectorStore.
func NewIndexer(embedder *Embedder, store VectorStore) *Indexer {
	return &Indexer{embedder: embedder, store: store}
}

// Index embeds every passage and replaces the chatbot's records with the
// result. A failure to embed any passage aborts the whole build and leaves
// the store untouched.
func (ix *Indexer) Index(ctx context.Context, chatbotID string, passages []chunk.Passage) error {
	texts := make([]string, len(passages))
	for i, p := range passages {
		texts[i] = p.Text
	}

	vectors, err := ix.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("embedding %d passages: %w", len(passages), err)
	}

	now := time.Now().UTC()
	records := make([]Record, len(passages))
	for i, p := range passages {
		records[i] = Record{
			ID:            uuid.New().String(),
			ChatbotID:     chatbotID,
			Source:        p.Metadata.Source,
			Text:          p.Text,
			Embedding:     vectors[i],
			IsError:       p.Metadata.IsError,
			IsPlaceholder: p.Metadata.IsPlaceholder,
			CreatedAt:     now,
		}
	}

	if err := ix.store.Replace(ctx, chatbotID, records); err != nil {
		return fmt.Errorf("storing %d records: %w", len(records), err)
	}
	return nil
}

// Exists reports whether the chatbot has any indexed records. Safe to call
// concurrently with an in-flight build of the same chatbot.
func (ix *Indexer) Exists(ctx context.Context, chatbotID string) (bool, error) {
	n, err := ix.store.Count(ctx, chatbotID)
	if err != nil {
		return false, fmt.Errorf("counting records for chatbot %s: %w", chatbotID, err)
	}
	return n > 0, nil
}
