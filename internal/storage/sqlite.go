package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite database with methods for chatbots and narrations.
// The same database also holds the chatbot_vectors table used by the SQLite
// vector store backend.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending migrations.
// Pass ":memory:" as dataDir for an in-memory database (used by tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "docbot.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	// Set busy timeout so concurrent access waits briefly instead of failing immediately.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// DB exposes the underlying database so the SQLite vector store can share it.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	// Ensure schema_version table exists (bootstrap).
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	// Sort by filename to guarantee ascending order.
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		// Check if already applied.
		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// --- Chatbots ---

// SaveChatbot inserts a chatbot record.
func (s *Store) SaveChatbot(ctx context.Context, bot Chatbot) error {
	configJSON, err := json.Marshal(bot.Config)
	if err != nil {
		return fmt.Errorf("marshalling config: %w", err)
	}
	sourcesJSON, err := json.Marshal(bot.Sources)
	if err != nil {
		return fmt.Errorf("marshalling sources: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO chatbots (id, owner_id, name, config, sources, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		bot.ID, bot.OwnerID, bot.Name, string(configJSON), string(sourcesJSON),
		bot.CreatedAt.UTC().Format(time.RFC3339),
	)
	return err
}

// GetChatbot returns the chatbot with the given ID, or ErrNotFound.
func (s *Store) GetChatbot(ctx context.Context, id string) (Chatbot, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, name, config, sources, created_at
		FROM chatbots WHERE id = ?`, id)
	bot, err := scanChatbot(row)
	if err == sql.ErrNoRows {
		return Chatbot{}, ErrNotFound
	}
	return bot, err
}

// ListChatbots returns all chatbots belonging to the owner, newest first.
func (s *Store) ListChatbots(ctx context.Context, ownerID string) ([]Chatbot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, name, config, sources, created_at
		FROM chatbots WHERE owner_id = ? ORDER BY created_at DESC`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Chatbot
	for rows.Next() {
		bot, err := scanChatbot(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, bot)
	}
	return results, rows.Err()
}

// UpdateChatbot renames a chatbot and swaps its config. The index is not
// touched; config changes never require a rebuild.
func (s *Store) UpdateChatbot(ctx context.Context, id, name string, config ChatbotConfig) error {
	configJSON, err := json.Marshal(config)
	if err != nil {
		return fmt.Errorf("marshalling config: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE chatbots SET name = ?, config = ? WHERE id = ?`, name, string(configJSON), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteChatbot removes a chatbot record. Vector cleanup is the caller's
// responsibility (the vector store may live in another system).
func (s *Store) DeleteChatbot(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM chatbots WHERE id = ?", id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChatbot(row rowScanner) (Chatbot, error) {
	var bot Chatbot
	var configJSON, sourcesJSON, createdAt string
	if err := row.Scan(&bot.ID, &bot.OwnerID, &bot.Name, &configJSON, &sourcesJSON, &createdAt); err != nil {
		return Chatbot{}, err
	}
	if err := json.Unmarshal([]byte(configJSON), &bot.Config); err != nil {
		return Chatbot{}, fmt.Errorf("parsing config for chatbot %s: %w", bot.ID, err)
	}
	if err := json.Unmarshal([]byte(sourcesJSON), &bot.Sources); err != nil {
		return Chatbot{}, fmt.Errorf("parsing sources for chatbot %s: %w", bot.ID, err)
	}
	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return Chatbot{}, fmt.Errorf("parsing created_at for chatbot %s: %w", bot.ID, err)
	}
	bot.CreatedAt = t
	return bot, nil
}

// --- Narrations ---

// SaveNarration inserts a narration record.
func (s *Store) SaveNarration(ctx context.Context, n Narration) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO narrations (id, owner_id, name, content, voice_id, audio_url, length_minutes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.OwnerID, n.Name, n.Content, n.VoiceID, n.AudioURL, n.LengthMinutes,
		n.CreatedAt.UTC().Format(time.RFC3339),
	)
	return err
}

// GetNarration returns the narration with the given ID, or ErrNotFound.
func (s *Store) GetNarration(ctx context.Context, id string) (Narration, error) {
	var n Narration
	var createdAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, name, content, voice_id, audio_url, length_minutes, created_at
		FROM narrations WHERE id = ?`, id,
	).Scan(&n.ID, &n.OwnerID, &n.Name, &n.Content, &n.VoiceID, &n.AudioURL, &n.LengthMinutes, &createdAt)
	if err == sql.ErrNoRows {
		return Narration{}, ErrNotFound
	}
	if err != nil {
		return Narration{}, err
	}
	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return Narration{}, fmt.Errorf("parsing created_at: %w", err)
	}
	n.CreatedAt = t
	return n, nil
}

// ListNarrations returns all narrations belonging to the owner, newest first.
func (s *Store) ListNarrations(ctx context.Context, ownerID string) ([]Narration, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, name, content, voice_id, audio_url, length_minutes, created_at
		FROM narrations WHERE owner_id = ? ORDER BY created_at DESC`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Narration
	for rows.Next() {
		var n Narration
		var createdAt string
		if err := rows.Scan(&n.ID, &n.OwnerID, &n.Name, &n.Content, &n.VoiceID, &n.AudioURL, &n.LengthMinutes, &createdAt); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		n.CreatedAt = t
		results = append(results, n)
	}
	return results, rows.Err()
}

// UpdateNarrationAudio stores a freshly synthesized audio data URL.
func (s *Store) UpdateNarrationAudio(ctx context.Context, id, audioURL string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE narrations SET audio_url = ? WHERE id = ?`, audioURL, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteNarration removes a narration record.
func (s *Store) DeleteNarration(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM narrations WHERE id = ?", id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
