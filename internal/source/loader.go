package source

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/ledongthuc/pdf"
	"golang.org/x/net/html"
	"golang.org/x/sync/errgroup"
)

const (
	// maxFetchSize caps the bytes read from a URL source.
	maxFetchSize = 5 << 20 // 5MB

	defaultFetchTimeout = 15 * time.Second

	// loadConcurrency bounds parallel source loads within one LoadAll call.
	loadConcurrency = 4
)

// Loader converts heterogeneous source descriptors into normalized plain-text
// Documents. Content-level failures never abort a load: they are substituted
// with a single error Document so one bad source cannot sink a whole build.
type Loader struct {
	httpClient   *http.Client
	fetchTimeout time.Duration
	logger       *slog.Logger
}

// NewLoader creates a Loader using the given HTTP client for URL sources.
// If client is nil, http.DefaultClient is used.
func NewLoader(client *http.Client) *Loader {
	if client == nil {
		client = http.DefaultClient
	}
	return &Loader{
		httpClient:   client,
		fetchTimeout: defaultFetchTimeout,
		logger:       slog.Default(),
	}
}

// Load converts one source into one or more Documents. A fetch or parse
// failure returns a single error Document; only an unknown Kind returns a
// hard error (ErrUnsupportedKind).
func (l *Loader) Load(ctx context.Context, src Source) ([]Document, error) {
	switch src.Kind {
	case KindPDF:
		return l.loadPDF(src), nil
	case KindURL:
		return l.loadURL(ctx, src), nil
	case KindText, KindMarkdown, KindJSON:
		return l.loadFile(src), nil
	case KindBinary:
		return []Document{placeholderDocument(src)}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedKind, src.Kind)
	}
}

// LoadAll loads every source concurrently and returns the Documents in source
// order. All sources are loaded (possibly as error Documents) before
// returning, so callers can apply the all-sources-failed check on a complete
// set. Only unsupported kinds produce an error.
func (l *Loader) LoadAll(ctx context.Context, sources []Source) ([]Document, error) {
	results := make([][]Document, len(sources))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(loadConcurrency)

	for i, src := range sources {
		g.Go(func() error {
			docs, err := l.Load(gCtx, src)
			if err != nil {
				return fmt.Errorf("loading source %q: %w", src.Locator, err)
			}
			results[i] = docs
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	var all []Document
	for _, docs := range results {
		all = append(all, docs...)
	}
	return all, nil
}

// loadPDF extracts text page by page, producing one Document per page with
// extractable text.
func (l *Loader) loadPDF(src Source) []Document {
	f, reader, err := pdf.Open(src.Locator)
	if err != nil {
		return []Document{l.errorDocument(src, fmt.Errorf("opening PDF: %w", err))}
	}
	defer f.Close()

	var docs []Document
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			l.logger.Warn("skipping unreadable PDF page", "source", src.Locator, "page", i, "error", err)
			continue
		}
		text = collapseWhitespace(text)
		if text == "" {
			continue
		}
		docs = append(docs, Document{
			Text:     text,
			Metadata: Metadata{Source: src.Locator},
		})
	}

	if len(docs) == 0 {
		return []Document{l.errorDocument(src, fmt.Errorf("no extractable text in PDF"))}
	}
	return docs
}

// loadURL fetches the page, strips markup, and collapses whitespace.
// Network errors and non-2xx responses become an error Document.
func (l *Loader) loadURL(ctx context.Context, src Source) []Document {
	url := NormalizeURL(src.Locator)

	ctx, cancel := context.WithTimeout(ctx, l.fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return []Document{l.errorDocument(src, fmt.Errorf("invalid URL: %w", err))}
	}

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return []Document{l.errorDocument(src, fmt.Errorf("fetching %s: %w", url, err))}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return []Document{l.errorDocument(src, fmt.Errorf("fetching %s: status %d", url, resp.StatusCode))}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchSize))
	if err != nil {
		return []Document{l.errorDocument(src, fmt.Errorf("reading %s: %w", url, err))}
	}

	text := collapseWhitespace(htmlToText(string(body)))
	if text == "" {
		return []Document{l.errorDocument(src, fmt.Errorf("no text content at %s", url))}
	}

	return []Document{{
		Text:     text,
		Metadata: Metadata{Source: url},
	}}
}

// loadFile reads a local text, markdown, or JSON file as UTF-8 text.
func (l *Loader) loadFile(src Source) []Document {
	data, err := os.ReadFile(src.Locator)
	if err != nil {
		return []Document{l.errorDocument(src, fmt.Errorf("reading file: %w", err))}
	}
	return []Document{{
		Text:     string(data),
		Metadata: Metadata{Source: src.Locator},
	}}
}

func (l *Loader) errorDocument(src Source, cause error) Document {
	l.logger.Warn("source failed to load", "source", src.Locator, "kind", src.Kind, "error", cause)
	return Document{
		Text:     fmt.Sprintf("The source %q could not be loaded: %v.", src.Locator, cause),
		Metadata: Metadata{Source: src.Locator, IsError: true},
	}
}

func placeholderDocument(src Source) Document {
	return Document{
		Text: fmt.Sprintf("The file %q is in a binary format that cannot be read. "+
			"Please paste its content as direct text input instead.", src.Locator),
		Metadata: Metadata{Source: src.Locator, IsPlaceholder: true},
	}
}

// NormalizeURL prefixes a URL with https:// when it carries no scheme.
func NormalizeURL(url string) string {
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return "https://" + url
	}
	return url
}

// htmlToText strips markup, skipping script and style bodies.
func htmlToText(s string) string {
	var sb strings.Builder
	tokenizer := html.NewTokenizer(strings.NewReader(s))
	skipDepth := 0

	for {
		switch tokenizer.Next() {
		case html.ErrorToken:
			return sb.String()
		case html.StartTagToken:
			name, _ := tokenizer.TagName()
			if tag := string(name); tag == "script" || tag == "style" {
				skipDepth++
			}
		case html.EndTagToken:
			name, _ := tokenizer.TagName()
			if tag := string(name); (tag == "script" || tag == "style") && skipDepth > 0 {
				skipDepth--
			}
		case html.TextToken:
			if skipDepth == 0 {
				sb.Write(tokenizer.Text())
				sb.WriteByte(' ')
			}
		}
	}
}

// collapseWhitespace trims and folds all whitespace runs into single spaces.
func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
