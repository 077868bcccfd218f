// Package api exposes the chatbot and narration core over HTTP and MCP.
// Authentication and billing live in upstream collaborators; this layer only
// checks the bearer token and trusts the owner identity header.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/docbot-ai/docbot/internal/chatbot"
	"github.com/docbot-ai/docbot/internal/narration"
	"github.com/docbot-ai/docbot/internal/source"
	"github.com/docbot-ai/docbot/internal/storage"
)

const maxRequestBodySize = 10 << 20 // 10MB

// AppDeps holds dependencies for the HTTP surface.
type AppDeps struct {
	Chatbots   *chatbot.Service
	Narrations *narration.Pipeline
	Token      string
}

// NewAppHandler builds the chi router for the application API.
func NewAppHandler(deps AppDeps) http.Handler {
	sessions := newSessionStore()

	r := chi.NewRouter()
	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))
		r.Use(RequireOwner)

		r.Post("/chatbots", handleCreateChatbot(deps))
		r.Get("/chatbots", handleListChatbots(deps))
		r.Get("/chatbots/{chatbotID}", handleGetChatbot(deps))
		r.Patch("/chatbots/{chatbotID}", handleUpdateChatbot(deps))
		r.Delete("/chatbots/{chatbotID}", handleDeleteChatbot(deps))
		r.Post("/chatbots/{chatbotID}/messages", handleMessage(deps, sessions))

		r.Post("/narrations/text", handleSummarizeText(deps))
		r.Post("/narrations", handleGenerateNarration(deps))
		r.Get("/narrations", handleListNarrations(deps))
		r.Get("/narrations/{narrationID}", handleGetNarration(deps))
		r.Post("/narrations/{narrationID}/regenerate", handleRegenerateNarration(deps))
		r.Delete("/narrations/{narrationID}", handleDeleteNarration(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

// --- Chatbots ---

type sourcePayload struct {
	Kind    string `json:"kind"`
	Locator string `json:"locator"`
}

type createChatbotRequest struct {
	Name         string          `json:"name"`
	Sources      []sourcePayload `json:"sources"`
	ModelName    string          `json:"model_name"`
	CustomPrompt string          `json:"custom_prompt"`
}

type chatbotResponse struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	ModelName    string          `json:"model_name"`
	CustomPrompt string          `json:"custom_prompt,omitempty"`
	Sources      []sourcePayload `json:"sources"`
	CreatedAt    time.Time       `json:"created_at"`
}

func toChatbotResponse(bot storage.Chatbot) chatbotResponse {
	sources := make([]sourcePayload, len(bot.Sources))
	for i, src := range bot.Sources {
		sources[i] = sourcePayload{Kind: string(src.Kind), Locator: src.Locator}
	}
	return chatbotResponse{
		ID:           bot.ID,
		Name:         bot.Name,
		ModelName:    bot.Config.ModelName,
		CustomPrompt: bot.Config.CustomPrompt,
		Sources:      sources,
		CreatedAt:    bot.CreatedAt,
	}
}

func handleCreateChatbot(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req createChatbotRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		sources := make([]source.Source, len(req.Sources))
		for i, s := range req.Sources {
			sources[i] = source.Source{Kind: source.Kind(s.Kind), Locator: s.Locator}
		}

		bot, err := deps.Chatbots.Build(r.Context(), ownerID(r), req.Name, sources, storage.ChatbotConfig{
			ModelName:    req.ModelName,
			CustomPrompt: req.CustomPrompt,
		})
		if err != nil {
			writeChatbotError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, map[string]string{
			"chatbot_id": bot.ID,
			"message":    "chatbot initialized successfully",
		})
	}
}

func handleListChatbots(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		bots, err := deps.Chatbots.List(r.Context(), ownerID(r))
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "listing chatbots: %v", err)
			return
		}
		out := make([]chatbotResponse, len(bots))
		for i, bot := range bots {
			out[i] = toChatbotResponse(bot)
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// ownedChatbot loads the chatbot and enforces ownership, reporting not-found
// for other owners' bots to avoid leaking their existence.
func ownedChatbot(deps AppDeps, w http.ResponseWriter, r *http.Request) (storage.Chatbot, bool) {
	bot, err := deps.Chatbots.Get(r.Context(), chi.URLParam(r, "chatbotID"))
	if err != nil {
		writeChatbotError(w, err)
		return storage.Chatbot{}, false
	}
	if bot.OwnerID != ownerID(r) {
		httpError(w, http.StatusNotFound, "not_found_error", "chatbot not found")
		return storage.Chatbot{}, false
	}
	return bot, true
}

func handleGetChatbot(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		bot, ok := ownedChatbot(deps, w, r)
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, toChatbotResponse(bot))
	}
}

type updateChatbotRequest struct {
	Name         string `json:"name"`
	ModelName    string `json:"model_name"`
	CustomPrompt string `json:"custom_prompt"`
}

func handleUpdateChatbot(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		bot, ok := ownedChatbot(deps, w, r)
		if !ok {
			return
		}

		var req updateChatbotRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		// Partial update: omitted fields keep their current values.
		if req.Name == "" {
			req.Name = bot.Name
		}
		if req.ModelName == "" {
			req.ModelName = bot.Config.ModelName
		}
		if req.CustomPrompt == "" {
			req.CustomPrompt = bot.Config.CustomPrompt
		}

		err := deps.Chatbots.Update(r.Context(), bot.ID, req.Name, storage.ChatbotConfig{
			ModelName:    req.ModelName,
			CustomPrompt: req.CustomPrompt,
		})
		if err != nil {
			writeChatbotError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleDeleteChatbot(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		bot, ok := ownedChatbot(deps, w, r)
		if !ok {
			return
		}
		if err := deps.Chatbots.Delete(r.Context(), bot.ID); err != nil {
			writeChatbotError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

type messageRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
}

type messageResponse struct {
	Response string            `json:"response"`
	Sources  []chatbot.Passage `json:"sources"`
}

func handleMessage(deps AppDeps, sessions *sessionStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		bot, ok := ownedChatbot(deps, w, r)
		if !ok {
			return
		}

		var req messageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Message == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "message is required")
			return
		}

		var history []chatbot.Turn
		if req.SessionID != "" {
			history = sessions.History(bot.ID, req.SessionID)
		}

		answer, err := deps.Chatbots.Answer(r.Context(), bot.ID, req.Message, history)
		if err != nil {
			writeChatbotError(w, err)
			return
		}

		if req.SessionID != "" {
			sessions.Update(bot.ID, req.SessionID, answer.History)
		}

		writeJSON(w, http.StatusOK, messageResponse{
			Response: answer.Text,
			Sources:  answer.Sources,
		})
	}
}

// --- Narrations ---

type narrationRequest struct {
	Name          string          `json:"name"`
	Text          string          `json:"text"`
	Sources       []sourcePayload `json:"sources"`
	LengthMinutes int             `json:"length_minutes"`
	CustomPrompt  string          `json:"custom_prompt"`
	VoiceID       string          `json:"voice_id"`
}

func (req narrationRequest) toPipelineRequest() narration.Request {
	sources := make([]source.Source, len(req.Sources))
	for i, s := range req.Sources {
		sources[i] = source.Source{Kind: source.Kind(s.Kind), Locator: s.Locator}
	}
	return narration.Request{
		Text:          req.Text,
		Sources:       sources,
		TargetMinutes: req.LengthMinutes,
		CustomPrompt:  req.CustomPrompt,
	}
}

type narrationResponse struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Content       string    `json:"content"`
	VoiceID       string    `json:"voice_id"`
	AudioURL      string    `json:"audio_url,omitempty"`
	LengthMinutes int       `json:"length_minutes"`
	CreatedAt     time.Time `json:"created_at"`
}

func toNarrationResponse(n storage.Narration) narrationResponse {
	return narrationResponse{
		ID:            n.ID,
		Name:          n.Name,
		Content:       n.Content,
		VoiceID:       n.VoiceID,
		AudioURL:      n.AudioURL,
		LengthMinutes: n.LengthMinutes,
		CreatedAt:     n.CreatedAt,
	}
}

func handleSummarizeText(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req narrationRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Text == "" && len(req.Sources) == 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "provide text or at least one source")
			return
		}

		summary, err := deps.Narrations.Summarize(r.Context(), req.toPipelineRequest())
		if err != nil {
			writeNarrationError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"summary": summary})
	}
}

func handleGenerateNarration(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req narrationRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Text == "" && len(req.Sources) == 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "provide text or at least one source")
			return
		}
		if req.VoiceID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "voice_id is required")
			return
		}

		n, err := deps.Narrations.Generate(r.Context(), ownerID(r), req.Name, req.toPipelineRequest(), req.VoiceID)
		if err != nil {
			writeNarrationError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, toNarrationResponse(n))
	}
}

func handleListNarrations(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		narrations, err := deps.Narrations.List(r.Context(), ownerID(r))
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "listing narrations: %v", err)
			return
		}
		out := make([]narrationResponse, len(narrations))
		for i, n := range narrations {
			out[i] = toNarrationResponse(n)
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// ownedNarration loads the narration and enforces ownership.
func ownedNarration(deps AppDeps, w http.ResponseWriter, r *http.Request) (storage.Narration, bool) {
	n, err := deps.Narrations.Get(r.Context(), chi.URLParam(r, "narrationID"))
	if errors.Is(err, storage.ErrNotFound) {
		httpError(w, http.StatusNotFound, "not_found_error", "narration not found")
		return storage.Narration{}, false
	}
	if err != nil {
		httpError(w, http.StatusInternalServerError, "api_error", "loading narration: %v", err)
		return storage.Narration{}, false
	}
	if n.OwnerID != ownerID(r) {
		httpError(w, http.StatusNotFound, "not_found_error", "narration not found")
		return storage.Narration{}, false
	}
	return n, true
}

func handleGetNarration(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n, ok := ownedNarration(deps, w, r)
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, toNarrationResponse(n))
	}
}

func handleRegenerateNarration(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n, ok := ownedNarration(deps, w, r)
		if !ok {
			return
		}
		updated, err := deps.Narrations.Regenerate(r.Context(), n.ID)
		if err != nil {
			writeNarrationError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toNarrationResponse(updated))
	}
}

func handleDeleteNarration(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n, ok := ownedNarration(deps, w, r)
		if !ok {
			return
		}
		if err := deps.Narrations.Delete(r.Context(), n.ID); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "deleting narration: %v", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// --- Error mapping ---

// writeChatbotError maps core errors to HTTP statuses: domain errors get 4xx,
// provider failures get 502 so callers know a retry may help.
func writeChatbotError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, chatbot.ErrNoSources):
		httpError(w, http.StatusBadRequest, "invalid_request_error", "no sources provided")
	case errors.Is(err, chatbot.ErrNoDocumentsLoaded):
		httpError(w, http.StatusUnprocessableEntity, "invalid_request_error", "no documents were successfully loaded")
	case errors.Is(err, chatbot.ErrChatbotNotFound):
		httpError(w, http.StatusNotFound, "not_found_error", "chatbot not found")
	case errors.Is(err, chatbot.ErrNoKnowledgeBase):
		httpError(w, http.StatusConflict, "invalid_request_error", "no knowledge base available: %v", err)
	case errors.Is(err, source.ErrUnsupportedKind):
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
	case chatbot.IsProviderError(err):
		httpError(w, http.StatusBadGateway, "api_error", "%v", err)
	default:
		httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
	}
}

func writeNarrationError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, narration.ErrNoContent):
		httpError(w, http.StatusUnprocessableEntity, "invalid_request_error", "no content to summarize")
	case errors.Is(err, source.ErrUnsupportedKind):
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
	case chatbot.IsProviderError(err):
		httpError(w, http.StatusBadGateway, "api_error", "%v", err)
	default:
		httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
