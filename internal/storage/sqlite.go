package storage

import (
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

// Store wraps a SQLite database holding ingested items and their embeddings.
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
		dsn = filepath.Join(dataDir, "imgraph.db")
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

	// Enable WAL mode so graph reads don't block the scan worker's writes.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
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

// AppliedMigrations returns the list of applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// --- Items ---

// UpsertItem inserts the item keyed by path, or keeps the existing row if the
// path was ingested before. The embedding is always (re)written. Both writes
// happen in one transaction so readers never see an item half-written.
func (s *Store) UpsertItem(in ItemInput) (int64, error) {
	if in.Path == "" {
		return 0, fmt.Errorf("upsert item: empty path")
	}
	itemType := in.Type
	if itemType == "" {
		itemType = TypeImage
	}
	tags := in.Tags
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return 0, fmt.Errorf("marshaling tags: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("beginning upsert transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		INSERT INTO items (path, type, caption, content, tags, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO NOTHING`,
		in.Path, itemType, in.Caption, in.Content, string(tagsJSON),
		time.Now().UTC().Format(time.RFC3339),
	); err != nil {
		return 0, fmt.Errorf("inserting item %s: %w", in.Path, err)
	}

	var id int64
	if err := tx.QueryRow(`SELECT id FROM items WHERE path = ?`, in.Path).Scan(&id); err != nil {
		return 0, fmt.Errorf("looking up item id for %s: %w", in.Path, err)
	}

	if _, err := tx.Exec(`
		INSERT INTO item_embeddings (item_id, dim, vector) VALUES (?, ?, ?)
		ON CONFLICT(item_id) DO UPDATE SET dim = excluded.dim, vector = excluded.vector`,
		id, len(in.Embedding), encodeFloat32s(in.Embedding),
	); err != nil {
		return 0, fmt.Errorf("writing embedding for item %d: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing item %s: %w", in.Path, err)
	}
	return id, nil
}

// GetItem returns the full item row for id.
func (s *Store) GetItem(id int64) (Item, error) {
	var it Item
	var tagsJSON, createdAt string
	err := s.db.QueryRow(`
		SELECT id, path, type, caption, content, tags, created_at
		FROM items WHERE id = ?`, id,
	).Scan(&it.ID, &it.Path, &it.Type, &it.Caption, &it.Content, &tagsJSON, &createdAt)
	if err == sql.ErrNoRows {
		return Item{}, ErrNotFound
	}
	if err != nil {
		return Item{}, err
	}
	if it.Tags, err = decodeTags(tagsJSON); err != nil {
		return Item{}, fmt.Errorf("decoding tags for item %d: %w", id, err)
	}
	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return Item{}, fmt.Errorf("parsing created_at: %w", err)
	}
	it.CreatedAt = t
	return it, nil
}

// ListItems returns every item in ascending id order.
func (s *Store) ListItems() ([]ItemSummary, error) {
	rows, err := s.db.Query(`SELECT id, path, caption, tags, type FROM items ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("querying items: %w", err)
	}
	defer rows.Close()

	var items []ItemSummary
	for rows.Next() {
		var it ItemSummary
		var tagsJSON string
		if err := rows.Scan(&it.ID, &it.Path, &it.Caption, &tagsJSON, &it.Type); err != nil {
			return nil, fmt.Errorf("scanning item: %w", err)
		}
		if it.Tags, err = decodeTags(tagsJSON); err != nil {
			return nil, fmt.Errorf("decoding tags for item %d: %w", it.ID, err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// ListEmbeddings returns item ids and their vectors, aligned by index, in
// ascending id order. Items with an empty vector are omitted.
func (s *Store) ListEmbeddings() ([]int64, [][]float32, error) {
	rows, err := s.db.Query(`SELECT item_id, vector FROM item_embeddings WHERE dim > 0 ORDER BY item_id ASC`)
	if err != nil {
		return nil, nil, fmt.Errorf("querying embeddings: %w", err)
	}
	defer rows.Close()

	var ids []int64
	var vecs [][]float32
	for rows.Next() {
		var id int64
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, nil, fmt.Errorf("scanning embedding: %w", err)
		}
		vec, err := decodeFloat32s(blob)
		if err != nil {
			return nil, nil, fmt.Errorf("decoding embedding for item %d: %w", id, err)
		}
		ids = append(ids, id)
		vecs = append(vecs, vec)
	}
	return ids, vecs, rows.Err()
}

// CountItems returns the number of stored items.
func (s *Store) CountItems() (int, error) {
	var n int
	err := s.db.QueryRow("SELECT COUNT(*) FROM items").Scan(&n)
	return n, err
}

// Clear deletes every item and embedding.
func (s *Store) Clear() error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning clear transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM item_embeddings`); err != nil {
		return fmt.Errorf("clearing embeddings: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM items`); err != nil {
		return fmt.Errorf("clearing items: %w", err)
	}
	return tx.Commit()
}

func decodeTags(raw string) ([]string, error) {
	if raw == "" {
		return []string{}, nil
	}
	var tags []string
	if err := json.Unmarshal([]byte(raw), &tags); err != nil {
		return nil, err
	}
	if tags == nil {
		tags = []string{}
	}
	return tags, nil
}
