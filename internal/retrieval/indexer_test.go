package retrieval

import (
	"context"
	"testing"

	"github.com/docbot-ai/docbot/internal/chunk"
	"github.com/docbot-ai/docbot/internal/source"
)

func testPassage(text, src string) chunk.Passage {
	return chunk.Passage{
		Text:     text,
		Metadata: source.Metadata{Source: src, ChatbotID: "bot1"},
	}
}

func TestIndexAndExists(t *testing.T) {
	db := openTestDB(t)
	store := NewSQLiteStore(db)
	ix := NewIndexer(NewEmbedder(&fakeEngine{}, "test-model"), store)
	ctx := context.Background()

	exists, err := ix.Exists(ctx, "bot1")
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if exists {
		t.Fatal("Exists reported true before any index")
	}

	passages := []chunk.Passage{
		testPassage("first passage", "a.txt"),
		testPassage("second passage", "a.txt"),
	}
	if err := ix.Index(ctx, "bot1", passages); err != nil {
		t.Fatalf("Index: %v", err)
	}

	exists, err = ix.Exists(ctx, "bot1")
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if !exists {
		t.Fatal("Exists reported false after index")
	}

	count, err := store.Count(ctx, "bot1")
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != 2 {
		t.Fatalf("got %d records, want 2", count)
	}
}

func TestIndexPropagatesMetadataFlags(t *testing.T) {
	db := openTestDB(t)
	store := NewSQLiteStore(db)
	ix := NewIndexer(NewEmbedder(&fakeEngine{}, "test-model"), store)
	ctx := context.Background()

	p := chunk.Passage{
		Text:     "The source could not be loaded.",
		Metadata: source.Metadata{Source: "broken.pdf", IsError: true},
	}
	if err := ix.Index(ctx, "bot1", []chunk.Passage{p}); err != nil {
		t.Fatalf("Index: %v", err)
	}

	results, err := store.Search(ctx, "bot1", []float32{1, 0, 0}, 1)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || !results[0].IsError {
		t.Fatalf("error flag not carried into store: %+v", results)
	}
}

func TestIndexAbortsOnEmbedFailure(t *testing.T) {
	db := openTestDB(t)
	store := NewSQLiteStore(db)
	ix := NewIndexer(NewEmbedder(&fakeEngine{failOn: "poison"}, "test-model"), store)
	ctx := context.Background()

	passages := []chunk.Passage{
		testPassage("fine", "a.txt"),
		testPassage("poison", "a.txt"),
	}
	if err := ix.Index(ctx, "bot1", passages); err == nil {
		t.Fatal("expected error from failed embedding")
	}

	count, err := store.Count(ctx, "bot1")
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != 0 {
		t.Fatalf("store modified despite failed build: %d records", count)
	}
}
