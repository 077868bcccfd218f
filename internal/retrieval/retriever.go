package retrieval

import (
	"context"
)

// DefaultTopK is the number of passages retrieved per query.
const DefaultTopK = 4

// Retriever combines embedding and vector search to find the passages most
// relevant to a query within one chatbot's knowledge base.
type Retriever struct {
	embedder *Embedder
	store    VectorStore
}

// NewRetriever creates a Retriever backed by the given Embedder and VectorStore.
func NewRetriever(embedder *Embedder, store VectorStore) *Retriever {
	return &Retriever{embedder: embedder, store: store}
}

// Retrieve embeds the query and returns the top-K most similar records
// tagged with chatbotID. An empty slice means the chatbot has no indexed
// passages; callers decide whether that is fatal.
func (r *Retriever) Retrieve(ctx context.Context, chatbotID, query string, topK int) ([]ScoredRecord, error) {
	if topK <= 0 {
		topK = DefaultTopK
	}

	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	return r.store.Search(ctx, chatbotID, vec, topK)
}
