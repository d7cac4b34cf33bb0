package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/jordanlewiz/atlas-xray/internal/models"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements Store using modernc.org/sqlite (pure Go, no CGO).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// Ensure parent directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite only supports one concurrent writer. Limiting to a single
	// connection serializes all DB access through Go's connection pool,
	// preventing "database is locked" errors during concurrent pipeline writes.
	db.SetMaxOpenConns(1)

	// Enable WAL mode for concurrent reads
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	// Set busy timeout so concurrent writes wait instead of failing immediately
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// boolToInt converts a bool to 0 or 1 for SQLite storage.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// newULID generates a new ULID string.
func newULID() string {
	entropy := rand.New(rand.NewSource(time.Now().UnixNano()))
	return ulid.MustNew(ulid.Timestamp(time.Now()), ulid.Monotonic(entropy, 0)).String()
}

// marshalStrings JSON-encodes a string slice, falling back to "[]".
func marshalStrings(ss []string) string {
	if len(ss) == 0 {
		return "[]"
	}
	data, err := json.Marshal(ss)
	if err != nil {
		return "[]"
	}
	return string(data)
}

// Migrate runs all embedded SQL migration files in order. Migrations are
// additive only; an existing lower-versioned cache is upgraded without
// data loss.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	// Create migrations tracking table
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		filename TEXT PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	// Sort by filename
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()

		// Check if already applied
		var count int
		err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations WHERE filename = ?", name).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %s: %w", name, err)
		}
		if count > 0 {
			continue
		}

		data, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}

		if _, err := s.db.ExecContext(ctx, string(data)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}

		if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_migrations (filename) VALUES (?)", name); err != nil {
			return fmt.Errorf("record migration %s: %w", name, err)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Project snapshots ---

func (s *SQLiteStore) PutProjectSnapshot(ctx context.Context, projectKey string, raw json.RawMessage) error {
	if projectKey == "" {
		return fmt.Errorf("put project snapshot: empty project key")
	}
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO projects (project_key, raw, fetched_at) VALUES (?, ?, ?)
		ON CONFLICT(project_key) DO UPDATE SET raw=excluded.raw, fetched_at=excluded.fetched_at`,
		projectKey, string(raw), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("put project snapshot: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetProjectSnapshot(ctx context.Context, projectKey string) (*models.ProjectSnapshot, error) {
	p := &models.ProjectSnapshot{}
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT project_key, raw, fetched_at FROM projects WHERE project_key = ?`, projectKey,
	).Scan(&p.ProjectKey, &raw, &p.FetchedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("project not found: %s", projectKey)
	}
	if err != nil {
		return nil, fmt.Errorf("get project snapshot: %w", err)
	}
	p.Raw = json.RawMessage(raw)
	return p, nil
}

func (s *SQLiteStore) ListProjectSnapshots(ctx context.Context) ([]*models.ProjectSnapshot, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT project_key, raw, fetched_at FROM projects ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("list project snapshots: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var snapshots []*models.ProjectSnapshot
	for rows.Next() {
		p := &models.ProjectSnapshot{}
		var raw string
		if err := rows.Scan(&p.ProjectKey, &raw, &p.FetchedAt); err != nil {
			return nil, fmt.Errorf("scan project snapshot: %w", err)
		}
		p.Raw = json.RawMessage(raw)
		snapshots = append(snapshots, p)
	}
	return snapshots, rows.Err()
}

// --- Project updates ---

// UpsertProjectUpdates inserts or replaces update rows by id. Content
// columns are overwritten; analysis columns are preserved so a re-fetch
// does not wipe existing scores. Nodes without an id are skipped.
func (s *SQLiteStore) UpsertProjectUpdates(ctx context.Context, updates []models.ProjectUpdate) (int, error) {
	if len(updates) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stored := 0
	for _, u := range updates {
		if u.ID == "" {
			continue
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO project_updates (id, project_key, creation_date, state, old_state, new_due_date, old_due_date, summary, details, missed_update)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				project_key=excluded.project_key,
				creation_date=excluded.creation_date,
				state=excluded.state,
				old_state=excluded.old_state,
				new_due_date=excluded.new_due_date,
				old_due_date=excluded.old_due_date,
				summary=excluded.summary,
				details=excluded.details,
				missed_update=excluded.missed_update`,
			u.ID, u.ProjectKey, u.CreationDate, u.State, u.OldState,
			u.NewDueDate, u.OldDueDate, u.Summary, u.Details, boolToInt(u.MissedUpdate),
		)
		if err != nil {
			// A malformed node must not abort the rest of the batch.
			continue
		}
		stored++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit tx: %w", err)
	}
	return stored, nil
}

func (s *SQLiteStore) ListProjectUpdates(ctx context.Context, projectKey string) ([]*models.ProjectUpdate, error) {
	query := `SELECT id, project_key, creation_date, state, old_state, new_due_date, old_due_date, summary, details, missed_update, analyzed, update_quality, quality_level, quality_summary, quality_recommendations, quality_missing_info
		FROM project_updates`
	var args []any
	if projectKey != "" {
		query += " WHERE project_key = ?"
		args = append(args, projectKey)
	}
	query += " ORDER BY rowid"

	return s.scanUpdates(ctx, query, args...)
}

func (s *SQLiteStore) ListUnanalyzedUpdates(ctx context.Context) ([]*models.ProjectUpdate, error) {
	return s.scanUpdates(ctx,
		`SELECT id, project_key, creation_date, state, old_state, new_due_date, old_due_date, summary, details, missed_update, analyzed, update_quality, quality_level, quality_summary, quality_recommendations, quality_missing_info
		FROM project_updates WHERE analyzed = 0 ORDER BY rowid`)
}

// scanUpdates is a shared helper for scanning project update rows.
func (s *SQLiteStore) scanUpdates(ctx context.Context, query string, args ...any) ([]*models.ProjectUpdate, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list project updates: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var updates []*models.ProjectUpdate
	for rows.Next() {
		u := &models.ProjectUpdate{}
		var quality sql.NullInt64
		var level, recsJSON, missingJSON string

		if err := rows.Scan(&u.ID, &u.ProjectKey, &u.CreationDate, &u.State, &u.OldState,
			&u.NewDueDate, &u.OldDueDate, &u.Summary, &u.Details, &u.MissedUpdate,
			&u.Analyzed, &quality, &level, &u.QualitySummary, &recsJSON, &missingJSON); err != nil {
			return nil, fmt.Errorf("scan project update: %w", err)
		}

		u.QualityLevel = models.QualityLevel(level)
		if quality.Valid {
			v := int(quality.Int64)
			u.UpdateQuality = &v
		}
		_ = json.Unmarshal([]byte(recsJSON), &u.QualityRecommendations)
		_ = json.Unmarshal([]byte(missingJSON), &u.QualityMissingInfo)

		updates = append(updates, u)
	}
	return updates, rows.Err()
}

// SetUpdateAnalysis marks an update analyzed and writes the analyzer output.
func (s *SQLiteStore) SetUpdateAnalysis(ctx context.Context, id string, a models.UpdateAnalysis) error {
	var quality any
	if a.Score != nil {
		quality = *a.Score
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE project_updates SET analyzed=1, update_quality=?, quality_level=?, quality_summary=?, quality_recommendations=?, quality_missing_info=?
		WHERE id=?`,
		quality, string(a.Level), a.Summary,
		marshalStrings(a.Recommendations), marshalStrings(a.MissingInfo), id,
	)
	if err != nil {
		return fmt.Errorf("set update analysis: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("update not found: %s", id)
	}
	return nil
}

// --- Status history ---

// UpsertStatusHistory inserts or replaces history entries by id. Entries
// without an id are skipped; projectKey overrides any key set on the entry.
func (s *SQLiteStore) UpsertStatusHistory(ctx context.Context, projectKey string, entries []models.StatusHistoryEntry) (int, error) {
	if len(entries) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stored := 0
	for _, e := range entries {
		if e.ID == "" {
			continue
		}
		key := projectKey
		if key == "" {
			key = e.ProjectKey
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO status_history (id, project_key, creation_date, start_date, target_date, state)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				project_key=excluded.project_key,
				creation_date=excluded.creation_date,
				start_date=excluded.start_date,
				target_date=excluded.target_date,
				state=excluded.state`,
			e.ID, key, e.CreationDate, e.StartDate, e.TargetDate, e.State,
		)
		if err != nil {
			continue
		}
		stored++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit tx: %w", err)
	}
	return stored, nil
}

func (s *SQLiteStore) ListStatusHistory(ctx context.Context, projectKey string) ([]*models.StatusHistoryEntry, error) {
	query := `SELECT id, project_key, creation_date, start_date, target_date, state FROM status_history`
	var args []any
	if projectKey != "" {
		query += " WHERE project_key = ?"
		args = append(args, projectKey)
	}
	query += " ORDER BY rowid"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list status history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []*models.StatusHistoryEntry
	for rows.Next() {
		e := &models.StatusHistoryEntry{}
		if err := rows.Scan(&e.ID, &e.ProjectKey, &e.CreationDate, &e.StartDate, &e.TargetDate, &e.State); err != nil {
			return nil, fmt.Errorf("scan status history entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// --- Meta and fetch log ---

func (s *SQLiteStore) GetMeta(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM meta WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get meta: %w", err)
	}
	return value, nil
}

func (s *SQLiteStore) SetMeta(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value=excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("set meta: %w", err)
	}
	return nil
}

func (s *SQLiteStore) LogFetch(ctx context.Context, rec *models.FetchRecord) error {
	if rec.ID == "" {
		rec.ID = newULID()
	}
	rec.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO fetch_log (id, project_key, query, ok, error, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.ProjectKey, rec.Query, boolToInt(rec.OK), rec.Error, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("log fetch: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListFetchLog(ctx context.Context, limit int) ([]*models.FetchRecord, error) {
	query := `SELECT id, project_key, query, ok, error, created_at FROM fetch_log ORDER BY id DESC`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list fetch log: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []*models.FetchRecord
	for rows.Next() {
		r := &models.FetchRecord{}
		if err := rows.Scan(&r.ID, &r.ProjectKey, &r.Query, &r.OK, &r.Error, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan fetch record: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// --- Stats and lifecycle ---

func (s *SQLiteStore) CacheStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}
	queries := []struct {
		sql  string
		dest *int
	}{
		{"SELECT COUNT(*) FROM projects", &stats.Projects},
		{"SELECT COUNT(*) FROM project_updates", &stats.Updates},
		{"SELECT COUNT(*) FROM project_updates WHERE analyzed = 1", &stats.AnalyzedUpdates},
		{"SELECT COUNT(*) FROM status_history", &stats.HistoryEntries},
	}
	for _, q := range queries {
		if err := s.db.QueryRowContext(ctx, q.sql).Scan(q.dest); err != nil {
			return nil, fmt.Errorf("cache stats: %w", err)
		}
	}
	return stats, nil
}

// ClearCache removes all cached rows. The schema itself is kept.
func (s *SQLiteStore) ClearCache(ctx context.Context) error {
	for _, table := range []string{"projects", "status_history", "project_updates", "meta", "fetch_log"} {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}
	return nil
}
