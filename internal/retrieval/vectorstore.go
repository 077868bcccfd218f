package retrieval

import (
	"context"
	"time"
)

// VectorStore is the interface for vector storage and similarity search
// backends. The default implementation uses SQLite with brute-force cosine
// similarity; a Qdrant-backed implementation is available for deployments
// that need an external ANN-capable store.
//
// Every operation is scoped to one chatbot: records carry the owning chatbot
// ID and Search never returns records tagged with a different chatbot, no
// matter how similar their vectors are.
type VectorStore interface {
	// Replace atomically swaps the chatbot's records for the given set.
	// Either all records are visible afterwards or the previous state is
	// kept; a chatbot never has a partial index.
	Replace(ctx context.Context, chatbotID string, records []Record) error

	// Search performs vector similarity search restricted to the chatbot's
	// records, returning the top-K most similar. An empty result is not an
	// error.
	Search(ctx context.Context, chatbotID string, vector []float32, topK int) ([]ScoredRecord, error)

	// Count returns the number of records indexed for the chatbot.
	Count(ctx context.Context, chatbotID string) (int, error)

	// DeleteChatbot removes every record belonging to the chatbot.
	DeleteChatbot(ctx context.Context, chatbotID string) error
}

// Record represents one indexed passage.
type Record struct {
	ID            string
	ChatbotID     string
	Source        string
	Text          string
	Embedding     []float32
	IsError       bool
	IsPlaceholder bool
	CreatedAt     time.Time
}

// ScoredRecord is a Record with a similarity score attached.
type ScoredRecord struct {
	Record
	Score float32
}
