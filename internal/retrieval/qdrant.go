package retrieval

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

// Compile-time check that QdrantStore implements VectorStore.
var _ VectorStore = (*QdrantStore)(nil)

// QdrantStore is a minimal REST client to Qdrant, used as the external
// ANN-capable VectorStore backend. It assumes cosine distance and creates
// the collection on Init if missing. Chatbot scoping is enforced with a
// payload filter on every search, count, and delete.
type QdrantStore struct {
	baseURL    string
	apiKey     string
	collection string
	dimension  int
	httpClient *http.Client
}

// QdrantConfig configures a QdrantStore.
type QdrantConfig struct {
	URL        string
	APIKey     string
	Collection string
	Dimension  int
	Timeout    time.Duration
}

// NewQdrantStore creates a QdrantStore from config. Call Init before use.
func NewQdrantStore(cfg QdrantConfig) *QdrantStore {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	collection := cfg.Collection
	if collection == "" {
		collection = "chatbot_vectors"
	}
	return &QdrantStore{
		baseURL:    strings.TrimRight(cfg.URL, "/"),
		apiKey:     cfg.APIKey,
		collection: collection,
		dimension:  cfg.Dimension,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Init ensures the collection exists with the configured vector dimension.
func (s *QdrantStore) Init(ctx context.Context) error {
	if s.dimension <= 0 {
		return fmt.Errorf("invalid vector dimension %d", s.dimension)
	}
	body := map[string]any{
		"vectors": map[string]any{
			"size":     s.dimension,
			"distance": "Cosine",
		},
	}
	// Qdrant returns 200 if the collection already exists with the same schema.
	return s.do(ctx, http.MethodPut, fmt.Sprintf("/collections/%s", s.collection), body, nil)
}

func chatbotFilter(chatbotID string) map[string]any {
	return map[string]any{
		"must": []map[string]any{
			{"key": "chatbot_id", "match": map[string]any{"value": chatbotID}},
		},
	}
}

// Replace deletes the chatbot's points and upserts the new set. Qdrant has no
// cross-request transaction; a crash between the two calls is repaired by the
// lazy-rebuild path, which treats the resulting empty scope as no index.
func (s *QdrantStore) Replace(ctx context.Context, chatbotID string, records []Record) error {
	if err := s.DeleteChatbot(ctx, chatbotID); err != nil {
		return err
	}

	points := make([]map[string]any, len(records))
	for i, r := range records {
		points[i] = map[string]any{
			"id":     r.ID,
			"vector": r.Embedding,
			"payload": map[string]any{
				"chatbot_id":     chatbotID,
				"source":         r.Source,
				"text":           r.Text,
				"is_error":       r.IsError,
				"is_placeholder": r.IsPlaceholder,
				"created_at":     r.CreatedAt.UTC().Format(time.RFC3339),
			},
		}
	}

	path := fmt.Sprintf("/collections/%s/points?wait=true", s.collection)
	return s.do(ctx, http.MethodPut, path, map[string]any{"points": points}, nil)
}

// Search returns the chatbot's top-K most similar points.
func (s *QdrantStore) Search(ctx context.Context, chatbotID string, vector []float32, topK int) ([]ScoredRecord, error) {
	req := map[string]any{
		"vector":       vector,
		"limit":        topK,
		"with_payload": true,
		"filter":       chatbotFilter(chatbotID),
	}

	var resp struct {
		Result []struct {
			ID      string          `json:"id"`
			Score   float32         `json:"score"`
			Payload json.RawMessage `json:"payload"`
		} `json:"result"`
	}
	path := fmt.Sprintf("/collections/%s/points/search", s.collection)
	if err := s.do(ctx, http.MethodPost, path, req, &resp); err != nil {
		return nil, err
	}

	results := make([]ScoredRecord, 0, len(resp.Result))
	for _, hit := range resp.Result {
		rec, err := recordFromPayload(hit.ID, hit.Payload)
		if err != nil {
			return nil, err
		}
		results = append(results, ScoredRecord{Record: rec, Score: hit.Score})
	}
	return results, nil
}

// Count returns the exact number of points tagged with the chatbot ID.
func (s *QdrantStore) Count(ctx context.Context, chatbotID string) (int, error) {
	req := map[string]any{
		"filter": chatbotFilter(chatbotID),
		"exact":  true,
	}
	var resp struct {
		Result struct {
			Count int `json:"count"`
		} `json:"result"`
	}
	path := fmt.Sprintf("/collections/%s/points/count", s.collection)
	if err := s.do(ctx, http.MethodPost, path, req, &resp); err != nil {
		return 0, err
	}
	return resp.Result.Count, nil
}

// DeleteChatbot removes every point tagged with the chatbot ID.
func (s *QdrantStore) DeleteChatbot(ctx context.Context, chatbotID string) error {
	req := map[string]any{"filter": chatbotFilter(chatbotID)}
	path := fmt.Sprintf("/collections/%s/points/delete?wait=true", s.collection)
	return s.do(ctx, http.MethodPost, path, req, nil)
}

type qdrantPayload struct {
	ChatbotID     string `json:"chatbot_id"`
	Source        string `json:"source"`
	Text          string `json:"text"`
	IsError       bool   `json:"is_error"`
	IsPlaceholder bool   `json:"is_placeholder"`
	CreatedAt     string `json:"created_at"`
}

func recordFromPayload(id string, raw json.RawMessage) (Record, error) {
	var p qdrantPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return Record{}, fmt.Errorf("decoding payload for point %s: %w", id, err)
	}
	rec := Record{
		ID:            id,
		ChatbotID:     p.ChatbotID,
		Source:        p.Source,
		Text:          p.Text,
		IsError:       p.IsError,
		IsPlaceholder: p.IsPlaceholder,
	}
	if p.CreatedAt != "" {
		t, err := time.Parse(time.RFC3339, p.CreatedAt)
		if err != nil {
			return Record{}, fmt.Errorf("parsing created_at for point %s: %w", id, err)
		}
		rec.CreatedAt = t
	}
	return rec, nil
}

// do sends a JSON request and optionally decodes a JSON response.
func (s *QdrantStore) do(ctx context.Context, method, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("creating qdrant request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("qdrant %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return fmt.Errorf("qdrant %s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding qdrant response: %w", err)
		}
	}
	return nil
}
