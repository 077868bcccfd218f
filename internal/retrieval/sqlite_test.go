package retrieval

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

// openTestDB creates an in-memory SQLite database with the chatbot_vectors table.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	_, err = db.Exec(`
		CREATE TABLE chatbot_vectors (
			id TEXT PRIMARY KEY,
			chatbot_id TEXT NOT NULL,
			source TEXT NOT NULL,
			text_chunk TEXT NOT NULL,
			embedding BLOB NOT NULL,
			is_error INTEGER NOT NULL DEFAULT 0,
			is_placeholder INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL
		)`)
	if err != nil {
		t.Fatalf("creating table: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func makeTestVector(dim int, seed float32) []float32 {
	v := make([]float32, dim)
	for i := range v {
		v[i] = seed + float32(i)*0.001
	}
	return v
}

func testRecord(id, chatbotID string, vec []float32) Record {
	return Record{
		ID:        id,
		ChatbotID: chatbotID,
		Source:    "doc.txt",
		Text:      "text for " + id,
		Embedding: vec,
		CreatedAt: time.Now().UTC(),
	}
}

func TestReplaceAndSearch(t *testing.T) {
	db := openTestDB(t)
	s := NewSQLiteStore(db)
	ctx := context.Background()

	vec := makeTestVector(64, 0.1)
	err := s.Replace(ctx, "bot1", []Record{testRecord("r1", "bot1", vec)})
	if err != nil {
		t.Fatalf("Replace: %v", err)
	}

	results, err := s.Search(ctx, "bot1", vec, 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	if results[0].ID != "r1" {
		t.Fatalf("got ID %s, want r1", results[0].ID)
	}
	// Identical vectors score ~1.0.
	if results[0].Score < 0.999 {
		t.Fatalf("self-similarity score %f, want ~1.0", results[0].Score)
	}
}

func TestSearchScopedToChatbot(t *testing.T) {
	db := openTestDB(t)
	s := NewSQLiteStore(db)
	ctx := context.Background()

	vec := makeTestVector(64, 0.1)
	if err := s.Replace(ctx, "botA", []Record{testRecord("a1", "botA", vec)}); err != nil {
		t.Fatalf("Replace botA: %v", err)
	}
	// botB's record has an identical vector; it must never leak into botA's results.
	if err := s.Replace(ctx, "botB", []Record{testRecord("b1", "botB", vec)}); err != nil {
		t.Fatalf("Replace botB: %v", err)
	}

	results, err := s.Search(ctx, "botA", vec, 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	if results[0].ChatbotID != "botA" {
		t.Fatalf("result belongs to %s, want botA", results[0].ChatbotID)
	}
}

func TestSearchTopKOrdering(t *testing.T) {
	db := openTestDB(t)
	s := NewSQLiteStore(db)
	ctx := context.Background()

	query := []float32{1, 0, 0}
	records := []Record{
		testRecord("close", "bot1", []float32{0.9, 0.1, 0}),
		testRecord("mid", "bot1", []float32{0.5, 0.5, 0}),
		testRecord("far", "bot1", []float32{0, 1, 0}),
	}
	if err := s.Replace(ctx, "bot1", records); err != nil {
		t.Fatalf("Replace: %v", err)
	}

	results, err := s.Search(ctx, "bot1", query, 2)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].ID != "close" || results[1].ID != "mid" {
		t.Fatalf("got order [%s, %s], want [close, mid]", results[0].ID, results[1].ID)
	}
	if results[0].Score < results[1].Score {
		t.Fatal("results not sorted by score descending")
	}
}

func TestSearchEmptyStore(t *testing.T) {
	db := openTestDB(t)
	s := NewSQLiteStore(db)

	results, err := s.Search(context.Background(), "bot1", makeTestVector(8, 0.5), 4)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("got %d results from empty store, want 0", len(results))
	}
}

func TestReplaceSwapsAtomically(t *testing.T) {
	db := openTestDB(t)
	s := NewSQLiteStore(db)
	ctx := context.Background()

	old := make([]Record, 3)
	for i := range old {
		old[i] = testRecord(fmt.Sprintf("old%d", i), "bot1", makeTestVector(8, float32(i)))
	}
	if err := s.Replace(ctx, "bot1", old); err != nil {
		t.Fatalf("first Replace: %v", err)
	}

	fresh := []Record{testRecord("new1", "bot1", makeTestVector(8, 0.7))}
	if err := s.Replace(ctx, "bot1", fresh); err != nil {
		t.Fatalf("second Replace: %v", err)
	}

	count, err := s.Count(ctx, "bot1")
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != 1 {
		t.Fatalf("got %d records after replace, want 1", count)
	}
}

func TestReplaceRollsBackOnBadRecord(t *testing.T) {
	db := openTestDB(t)
	s := NewSQLiteStore(db)
	ctx := context.Background()

	if err := s.Replace(ctx, "bot1", []Record{testRecord("r1", "bot1", makeTestVector(8, 0.1))}); err != nil {
		t.Fatalf("seed Replace: %v", err)
	}

	// Duplicate primary keys make the second insert fail mid-transaction.
	bad := []Record{
		testRecord("dup", "bot1", makeTestVector(8, 0.2)),
		testRecord("dup", "bot1", makeTestVector(8, 0.3)),
	}
	if err := s.Replace(ctx, "bot1", bad); err == nil {
		t.Fatal("expected error from duplicate IDs")
	}

	// Previous state must survive the failed replace.
	count, err := s.Count(ctx, "bot1")
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != 1 {
		t.Fatalf("got %d records after failed replace, want the original 1", count)
	}
	results, err := s.Search(ctx, "bot1", makeTestVector(8, 0.1), 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].ID != "r1" {
		t.Fatalf("original record lost after failed replace: %+v", results)
	}
}

func TestDeleteChatbot(t *testing.T) {
	db := openTestDB(t)
	s := NewSQLiteStore(db)
	ctx := context.Background()

	vec := makeTestVector(8, 0.4)
	if err := s.Replace(ctx, "bot1", []Record{testRecord("r1", "bot1", vec)}); err != nil {
		t.Fatalf("Replace bot1: %v", err)
	}
	if err := s.Replace(ctx, "bot2", []Record{testRecord("r2", "bot2", vec)}); err != nil {
		t.Fatalf("Replace bot2: %v", err)
	}

	if err := s.DeleteChatbot(ctx, "bot1"); err != nil {
		t.Fatalf("DeleteChatbot: %v", err)
	}

	count1, _ := s.Count(ctx, "bot1")
	count2, _ := s.Count(ctx, "bot2")
	if count1 != 0 {
		t.Fatalf("bot1 still has %d records", count1)
	}
	if count2 != 1 {
		t.Fatalf("bot2 lost records: %d", count2)
	}
}

func TestSearchRoundTripsFlags(t *testing.T) {
	db := openTestDB(t)
	s := NewSQLiteStore(db)
	ctx := context.Background()

	vec := makeTestVector(8, 0.3)
	r := testRecord("err1", "bot1", vec)
	r.IsError = true
	if err := s.Replace(ctx, "bot1", []Record{r}); err != nil {
		t.Fatalf("Replace: %v", err)
	}

	results, err := s.Search(ctx, "bot1", vec, 1)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || !results[0].IsError {
		t.Fatalf("IsError flag not round-tripped: %+v", results)
	}
}

func TestEncodeDecodeFloat32s(t *testing.T) {
	vec := []float32{0.1, -2.5, 3.75, 0}
	decoded, err := decodeFloat32s(encodeFloat32s(vec))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(decoded) != len(vec) {
		t.Fatalf("got %d floats, want %d", len(decoded), len(vec))
	}
	for i := range vec {
		if decoded[i] != vec[i] {
			t.Fatalf("element %d: got %f, want %f", i, decoded[i], vec[i])
		}
	}
}

func TestDecodeFloat32sRejectsCorruptBlob(t *testing.T) {
	if _, err := decodeFloat32s([]byte{1, 2, 3}); err == nil {
		t.Fatal("expected error for blob length not a multiple of 4")
	}
}
