package chatbot

import (
	"errors"
	"fmt"
)

var (
	// ErrNoSources is returned by Build when the source list is empty.
	ErrNoSources = errors.New("no sources provided")

	// ErrNoDocumentsLoaded is returned by Build when every source failed to
	// produce usable text.
	ErrNoDocumentsLoaded = errors.New("no documents were successfully loaded")

	// ErrChatbotNotFound is returned when the chatbot identity does not exist.
	ErrChatbotNotFound = errors.New("chatbot not found")

	// ErrNoKnowledgeBase is returned by Answer when no index exists and the
	// lazy rebuild from stored sources also failed.
	ErrNoKnowledgeBase = errors.New("no knowledge base available")
)

// ProviderError marks a failure of an external provider call (embedding,
// language model, text-to-speech, vector store) so the API layer can
// distinguish it from domain errors and respond with a retryable status.
type ProviderError struct {
	Provider string
	Op       string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s %s failed: %v", e.Provider, e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// IsProviderError reports whether err wraps a ProviderError.
func IsProviderError(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe)
}
