package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/docbot-ai/docbot/internal/chatbot"
	"github.com/docbot-ai/docbot/internal/chunk"
	"github.com/docbot-ai/docbot/internal/narration"
	"github.com/docbot-ai/docbot/internal/openai"
	"github.com/docbot-ai/docbot/internal/retrieval"
	"github.com/docbot-ai/docbot/internal/source"
	"github.com/docbot-ai/docbot/internal/storage"
)

const testToken = "test-token"

// stubProvider fakes both the chat and embedding provider.
type stubProvider struct {
	mu        sync.Mutex
	chatCalls [][]openai.Message
	response  string
}

func (s *stubProvider) Chat(ctx context.Context, model string, messages []openai.Message, params openai.SamplingParams) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chatCalls = append(s.chatCalls, messages)
	return s.response, nil
}

func (s *stubProvider) Embed(ctx context.Context, model string, text string) ([]float32, error) {
	// Deterministic per-text vector so similarity search has something to rank.
	vec := make([]float32, 8)
	for i, r := range text {
		vec[i%8] += float32(r)
	}
	return vec, nil
}

type stubTTS struct{}

func (stubTTS) Synthesize(ctx context.Context, text, voiceID string) ([]byte, error) {
	return []byte("audio:" + voiceID), nil
}

type testApp struct {
	handler    http.Handler
	provider   *stubProvider
	store      *storage.Store
	chatbots   *chatbot.Service
	narrations *narration.Pipeline
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()

	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	provider := &stubProvider{response: "the answer"}
	vectors := retrieval.NewSQLiteStore(store.DB())
	embedder := retrieval.NewEmbedder(provider, "test-embed")
	indexer := retrieval.NewIndexer(embedder, vectors)
	retriever := retrieval.NewRetriever(embedder, vectors)
	loader := source.NewLoader(nil)

	chunker, err := chunk.New(chunk.DefaultSize, chunk.DefaultOverlap)
	if err != nil {
		t.Fatalf("chunk.New: %v", err)
	}
	chatbots := chatbot.NewService(store, loader, chunker, indexer, retriever, vectors, provider, 4)

	narrations, err := narration.NewPipeline(loader, provider, stubTTS{}, store, "test-chat")
	if err != nil {
		t.Fatalf("narration.NewPipeline: %v", err)
	}

	return &testApp{
		handler: NewAppHandler(AppDeps{
			Chatbots:   chatbots,
			Narrations: narrations,
			Token:      testToken,
		}),
		provider:   provider,
		store:      store,
		chatbots:   chatbots,
		narrations: narrations,
	}
}

func (a *testApp) request(t *testing.T, method, path, owner string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshalling body: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Authorization", "Bearer "+testToken)
	if owner != "" {
		req.Header.Set("X-Owner-ID", owner)
	}
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(out); err != nil {
		t.Fatalf("decoding response %q: %v", rec.Body.String(), err)
	}
}

func writeSourceFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "knowledge.txt")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing source file: %v", err)
	}
	return path
}

func createChatbot(t *testing.T, app *testApp, owner, content string) string {
	t.Helper()
	path := writeSourceFile(t, content)
	rec := app.request(t, http.MethodPost, "/chatbots", owner, map[string]any{
		"name":    "support bot",
		"sources": []map[string]string{{"kind": "text", "locator": path}},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create chatbot: status %d, body %s", rec.Code, rec.Body.String())
	}
	var resp map[string]string
	decodeBody(t, rec, &resp)
	if resp["chatbot_id"] == "" {
		t.Fatal("no chatbot_id in response")
	}
	return resp["chatbot_id"]
}

func TestHealthUnauthenticated(t *testing.T) {
	app := newTestApp(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	app.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestAuthRequired(t *testing.T) {
	app := newTestApp(t)

	req := httptest.NewRequest(http.MethodGet, "/chatbots", nil)
	rec := httptest.NewRecorder()
	app.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("no token: status = %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/chatbots", nil)
	req.Header.Set("Authorization", "Bearer wrong-token")
	rec = httptest.NewRecorder()
	app.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong token: status = %d", rec.Code)
	}

	// Valid token but no owner header.
	req = httptest.NewRequest(http.MethodGet, "/chatbots", nil)
	req.Header.Set("Authorization", "Bearer "+testToken)
	rec = httptest.NewRecorder()
	app.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("no owner: status = %d", rec.Code)
	}
}

func TestCreateAndGetChatbot(t *testing.T) {
	app := newTestApp(t)
	id := createChatbot(t, app, "owner1", "Our office opens at 9am on weekdays.")

	rec := app.request(t, http.MethodGet, "/chatbots/"+id, "owner1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get: status %d, body %s", rec.Code, rec.Body.String())
	}
	var bot chatbotResponse
	decodeBody(t, rec, &bot)
	if bot.ID != id || bot.Name != "support bot" {
		t.Fatalf("chatbot = %+v", bot)
	}
	if bot.ModelName == "" {
		t.Fatal("model name not defaulted")
	}
}

func TestCreateChatbotNoSources(t *testing.T) {
	app := newTestApp(t)
	rec := app.request(t, http.MethodPost, "/chatbots", "owner1", map[string]any{
		"name":    "empty bot",
		"sources": []map[string]string{},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
}

func TestCreateChatbotAllSourcesFail(t *testing.T) {
	app := newTestApp(t)
	rec := app.request(t, http.MethodPost, "/chatbots", "owner1", map[string]any{
		"name":    "broken bot",
		"sources": []map[string]string{{"kind": "text", "locator": "/nonexistent/void.txt"}},
	})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
}

func TestChatbotOwnershipEnforced(t *testing.T) {
	app := newTestApp(t)
	id := createChatbot(t, app, "owner1", "content")

	rec := app.request(t, http.MethodGet, "/chatbots/"+id, "owner2", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("cross-owner get: status %d", rec.Code)
	}
}

func TestMessageReturnsAnswerAndSources(t *testing.T) {
	app := newTestApp(t)
	id := createChatbot(t, app, "owner1", "Our office opens at 9am on weekdays.")

	rec := app.request(t, http.MethodPost, "/chatbots/"+id+"/messages", "owner1", map[string]string{
		"message": "when do you open?",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp messageResponse
	decodeBody(t, rec, &resp)
	if resp.Response != "the answer" {
		t.Fatalf("response = %q", resp.Response)
	}
	if len(resp.Sources) == 0 {
		t.Fatal("no sources returned")
	}
}

func TestMessageSessionContinuity(t *testing.T) {
	app := newTestApp(t)
	id := createChatbot(t, app, "owner1", "Our office opens at 9am on weekdays.")

	for _, q := range []string{"first question", "second question"} {
		rec := app.request(t, http.MethodPost, "/chatbots/"+id+"/messages", "owner1", map[string]string{
			"message":    q,
			"session_id": "sess1",
		})
		if rec.Code != http.StatusOK {
			t.Fatalf("message %q: status %d, body %s", q, rec.Code, rec.Body.String())
		}
	}

	app.provider.mu.Lock()
	defer app.provider.mu.Unlock()
	last := app.provider.chatCalls[len(app.provider.chatCalls)-1]
	// Second call carries the first exchange (2 turns) plus the new prompt.
	if len(last) != 3 {
		t.Fatalf("second call got %d messages, want 3", len(last))
	}
	if last[0].Content != "first question" {
		t.Fatalf("history lost: first message = %q", last[0].Content)
	}
}

func TestMessageUnknownChatbot(t *testing.T) {
	app := newTestApp(t)
	rec := app.request(t, http.MethodPost, "/chatbots/nope/messages", "owner1", map[string]string{
		"message": "hello",
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		Error struct {
			Type string `json:"type"`
		} `json:"error"`
	}
	decodeBody(t, rec, &body)
	if body.Error.Type != "not_found_error" {
		t.Fatalf("error type = %q", body.Error.Type)
	}
}

func TestDeleteChatbot(t *testing.T) {
	app := newTestApp(t)
	id := createChatbot(t, app, "owner1", "content")

	rec := app.request(t, http.MethodDelete, "/chatbots/"+id, "owner1", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete: status %d", rec.Code)
	}
	rec = app.request(t, http.MethodGet, "/chatbots/"+id, "owner1", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("get after delete: status %d", rec.Code)
	}
}

func TestUpdateChatbot(t *testing.T) {
	app := newTestApp(t)
	id := createChatbot(t, app, "owner1", "content")

	rec := app.request(t, http.MethodPatch, "/chatbots/"+id, "owner1", map[string]string{
		"name":          "renamed bot",
		"custom_prompt": "Be concise. {context} {question}",
	})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("patch: status %d, body %s", rec.Code, rec.Body.String())
	}

	rec = app.request(t, http.MethodGet, "/chatbots/"+id, "owner1", nil)
	var bot chatbotResponse
	decodeBody(t, rec, &bot)
	if bot.Name != "renamed bot" {
		t.Fatalf("name = %q", bot.Name)
	}
	if !strings.Contains(bot.CustomPrompt, "Be concise.") {
		t.Fatalf("custom prompt = %q", bot.CustomPrompt)
	}
}

func TestUpdateChatbotPartial(t *testing.T) {
	app := newTestApp(t)
	id := createChatbot(t, app, "owner1", "content")

	rec := app.request(t, http.MethodPatch, "/chatbots/"+id, "owner1", map[string]string{
		"model_name":    "gpt-4o",
		"custom_prompt": "Be concise. {context} {question}",
	})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("patch: status %d, body %s", rec.Code, rec.Body.String())
	}

	// A rename-only patch keeps the configured model and prompt.
	rec = app.request(t, http.MethodPatch, "/chatbots/"+id, "owner1", map[string]string{
		"name": "renamed bot",
	})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("rename patch: status %d, body %s", rec.Code, rec.Body.String())
	}

	rec = app.request(t, http.MethodGet, "/chatbots/"+id, "owner1", nil)
	var bot chatbotResponse
	decodeBody(t, rec, &bot)
	if bot.Name != "renamed bot" {
		t.Fatalf("name = %q", bot.Name)
	}
	if bot.ModelName != "gpt-4o" {
		t.Fatalf("model name = %q, want gpt-4o preserved", bot.ModelName)
	}
	if !strings.Contains(bot.CustomPrompt, "Be concise.") {
		t.Fatalf("custom prompt = %q, want configured prompt preserved", bot.CustomPrompt)
	}
}

func TestListChatbotsScopedToOwner(t *testing.T) {
	app := newTestApp(t)
	createChatbot(t, app, "owner1", "content one")
	createChatbot(t, app, "owner2", "content two")

	rec := app.request(t, http.MethodGet, "/chatbots", "owner1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var bots []chatbotResponse
	decodeBody(t, rec, &bots)
	if len(bots) != 1 {
		t.Fatalf("got %d chatbots, want 1", len(bots))
	}
}

func TestSummarizeText(t *testing.T) {
	app := newTestApp(t)
	app.provider.response = "a narration script"

	rec := app.request(t, http.MethodPost, "/narrations/text", "owner1", map[string]any{
		"text":           "long form content to narrate",
		"length_minutes": 2,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp map[string]string
	decodeBody(t, rec, &resp)
	if resp["summary"] != "a narration script" {
		t.Fatalf("summary = %q", resp["summary"])
	}
}

func TestSummarizeTextRequiresContent(t *testing.T) {
	app := newTestApp(t)
	rec := app.request(t, http.MethodPost, "/narrations/text", "owner1", map[string]any{})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestGenerateNarration(t *testing.T) {
	app := newTestApp(t)
	app.provider.response = "narration script"

	rec := app.request(t, http.MethodPost, "/narrations", "owner1", map[string]any{
		"name":           "intro",
		"text":           "content to narrate",
		"voice_id":       "voice42",
		"length_minutes": 1,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var n narrationResponse
	decodeBody(t, rec, &n)
	if n.Content != "narration script" {
		t.Fatalf("content = %q", n.Content)
	}
	if !strings.HasPrefix(n.AudioURL, "data:audio/mpeg;base64,") {
		t.Fatalf("audio url = %q", n.AudioURL)
	}

	// Record is listed for its owner and invisible to others.
	rec = app.request(t, http.MethodGet, "/narrations", "owner1", nil)
	var list []narrationResponse
	decodeBody(t, rec, &list)
	if len(list) != 1 || list[0].ID != n.ID {
		t.Fatalf("list = %+v", list)
	}
	rec = app.request(t, http.MethodGet, "/narrations/"+n.ID, "owner2", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("cross-owner get: status %d", rec.Code)
	}
}

func TestGenerateNarrationRequiresVoice(t *testing.T) {
	app := newTestApp(t)
	rec := app.request(t, http.MethodPost, "/narrations", "owner1", map[string]any{
		"name": "x",
		"text": "content",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
}

func TestRegenerateNarration(t *testing.T) {
	app := newTestApp(t)
	app.provider.response = "script"

	rec := app.request(t, http.MethodPost, "/narrations", "owner1", map[string]any{
		"name": "x", "text": "content", "voice_id": "voiceA",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: status %d", rec.Code)
	}
	var n narrationResponse
	decodeBody(t, rec, &n)

	rec = app.request(t, http.MethodPost, fmt.Sprintf("/narrations/%s/regenerate", n.ID), "owner1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("regenerate: status %d, body %s", rec.Code, rec.Body.String())
	}
	var regen narrationResponse
	decodeBody(t, rec, &regen)
	if regen.Content != n.Content {
		t.Fatalf("regenerate changed the script: %q vs %q", regen.Content, n.Content)
	}
}
