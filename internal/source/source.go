package source

import (
	"errors"
	"path/filepath"
	"strings"
)

// ErrUnsupportedKind is returned for source kinds the loader does not know.
// This is the only hard error Load produces for a well-formed source; content
// failures are converted to error Documents instead.
var ErrUnsupportedKind = errors.New("unsupported source kind")

// Kind identifies how a source locator should be interpreted.
type Kind string

const (
	KindPDF      Kind = "pdf"
	KindURL      Kind = "url"
	KindText     Kind = "text"
	KindMarkdown Kind = "markdown"
	KindJSON     Kind = "json"
	// KindBinary covers office formats (docx, xlsx, pptx, ...) that cannot be
	// parsed here. Loading one yields a placeholder Document telling the user
	// to supply the content as direct text instead.
	KindBinary Kind = "binary"
)

// Source is an immutable descriptor of ingestion input: a file path, URL, or
// raw text, depending on Kind.
type Source struct {
	Kind    Kind   `json:"kind"`
	Locator string `json:"locator"`
}

// Metadata carries provenance for a Document and every passage derived from it.
type Metadata struct {
	Source        string `json:"source"`
	ChatbotID     string `json:"chatbot_id,omitempty"`
	IsError       bool   `json:"is_error,omitempty"`
	IsPlaceholder bool   `json:"is_placeholder,omitempty"`
}

// Document is a normalized plain-text unit produced by the Loader.
// A Document with IsError set holds a human-readable failure message in place
// of content that could not be fetched or parsed.
type Document struct {
	Text     string
	Metadata Metadata
}

// KindForFile guesses a source kind from a file name extension.
// Unrecognized extensions map to KindBinary so ingestion degrades to a
// placeholder instead of failing.
func KindForFile(name string) Kind {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".pdf":
		return KindPDF
	case ".txt":
		return KindText
	case ".md", ".markdown":
		return KindMarkdown
	case ".json":
		return KindJSON
	default:
		return KindBinary
	}
}
