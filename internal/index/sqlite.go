package index

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"github.com/zhang3xing1/codmate-sub000/internal/model"
)

const schema = `
PRAGMA journal_mode = WAL;
PRAGMA synchronous = NORMAL;
PRAGMA cache_size = -64000;
PRAGMA busy_timeout = 5000;

CREATE TABLE IF NOT EXISTS records (
    path         TEXT PRIMARY KEY,
    source       TEXT NOT NULL,
    session_id   TEXT NOT NULL DEFAULT '',
    mtime        INTEGER NOT NULL DEFAULT 0,
    size         INTEGER NOT NULL DEFAULT 0,
    level        TEXT NOT NULL DEFAULT 'none',
    status       TEXT NOT NULL DEFAULT 'ok',
    summary      TEXT NOT NULL DEFAULT '',
    instructions TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS records_session ON records(session_id);

CREATE TABLE IF NOT EXISTS previews (
    session_id TEXT PRIMARY KEY,
    signature  TEXT NOT NULL,
    body       TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS meta (key TEXT PRIMARY KEY, value TEXT);
`

// schemaVersion should be bumped whenever parsing logic changes in a way
// that makes stored summaries stale.
const schemaVersion = "1"

type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

func OpenSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// pragmas are per connection
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrateSchemaVersion(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// migrateSchemaVersion invalidates every signature when the version
// changes, so the next refresh re-parses everything.
func (s *SQLiteStore) migrateSchemaVersion() error {
	var ver string
	err := s.db.QueryRow("SELECT value FROM meta WHERE key = 'schema_version'").Scan(&ver)
	if err == nil && ver == schemaVersion {
		return nil
	}
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return err
	}
	log.Info().Str("from", ver).Str("to", schemaVersion).Msg("index schema changed, forcing re-parse")
	if _, err := s.db.Exec("UPDATE records SET mtime = 0, size = 0"); err != nil {
		return err
	}
	if _, err := s.db.Exec("DELETE FROM previews"); err != nil {
		return err
	}
	_, err = s.db.Exec("INSERT OR REPLACE INTO meta (key, value) VALUES ('schema_version', ?)", schemaVersion)
	return err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const recordColumns = "path, source, mtime, size, level, status, summary, instructions"

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*Record, error) {
	var (
		rec          Record
		source       string
		level        string
		status       string
		summary      string
		instructions string
	)
	if err := row.Scan(&rec.Path, &source, &rec.Mtime, &rec.Size, &level, &status, &summary, &instructions); err != nil {
		return nil, err
	}
	rec.Source = model.Source(source)
	rec.Level = model.ParseLevelFromString(level)
	rec.Status = Status(status)
	rec.Instructions = instructions
	if summary != "" {
		var sum model.SessionSummary
		if err := json.Unmarshal([]byte(summary), &sum); err != nil {
			return nil, fmt.Errorf("decode summary of %s: %w", rec.Path, err)
		}
		rec.Summary = &sum
	}
	return &rec, nil
}

func (s *SQLiteStore) Fetch(ctx context.Context, path string, mtime, size int64) (*Record, error) {
	rec, err := scanRecord(s.db.QueryRowContext(ctx,
		"SELECT "+recordColumns+" FROM records WHERE path = ? AND mtime = ? AND size = ?",
		path, mtime, size))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return rec, err
}

func (s *SQLiteStore) FetchByPath(ctx context.Context, path string) (*Record, error) {
	rec, err := scanRecord(s.db.QueryRowContext(ctx,
		"SELECT "+recordColumns+" FROM records WHERE path = ?", path))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return rec, err
}

func (s *SQLiteStore) FetchBySession(ctx context.Context, id string) ([]Record, error) {
	return s.query(ctx,
		"SELECT "+recordColumns+" FROM records WHERE session_id = ? AND status = ? ORDER BY path",
		id, string(StatusOK))
}

func (s *SQLiteStore) FetchAll(ctx context.Context) ([]Record, error) {
	return s.query(ctx, "SELECT "+recordColumns+" FROM records ORDER BY path")
}

func (s *SQLiteStore) query(ctx context.Context, q string, args ...any) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Upsert(ctx context.Context, rec Record) error {
	var summary []byte
	if rec.Summary != nil {
		var err error
		if summary, err = json.Marshal(rec.Summary); err != nil {
			return fmt.Errorf("encode summary of %s: %w", rec.Path, err)
		}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO records (path, source, session_id, mtime, size, level, status, summary, instructions)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Path, string(rec.Source), rec.SessionID(), rec.Mtime, rec.Size,
		rec.Level.String(), string(rec.Status), string(summary), rec.Instructions,
	)
	return err
}

func (s *SQLiteStore) Delete(ctx context.Context, path string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM records WHERE path = ?", path)
	return err
}

func (s *SQLiteStore) FetchMeta(ctx context.Context) (Meta, error) {
	var m Meta
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(DISTINCT session_id) FROM records WHERE status = ?", string(StatusOK),
	).Scan(&m.SessionCount)
	if err != nil {
		return m, err
	}
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM records").Scan(&m.RecordCount); err != nil {
		return m, err
	}
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM previews").Scan(&m.PreviewCount); err != nil {
		return m, err
	}
	err = s.db.QueryRowContext(ctx, "SELECT value FROM meta WHERE key = 'schema_version'").Scan(&m.SchemaVersion)
	return m, err
}

type previewBody struct {
	Summary      model.SessionSummary     `json:"summary"`
	Paths        []string                 `json:"paths"`
	Turns        []model.ConversationTurn `json:"turns"`
	Environment  []model.TimelineEvent    `json:"environment,omitempty"`
	LatestTokens *model.TimelineEvent     `json:"latestTokens,omitempty"`
}

func (s *SQLiteStore) FetchPreview(ctx context.Context, sessionID, signature string) (*Preview, error) {
	var body string
	err := s.db.QueryRowContext(ctx,
		"SELECT body FROM previews WHERE session_id = ? AND signature = ?", sessionID, signature,
	).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var b previewBody
	if err := json.Unmarshal([]byte(body), &b); err != nil {
		return nil, fmt.Errorf("decode preview of %s: %w", sessionID, err)
	}
	return &Preview{
		SessionID:    sessionID,
		Signature:    signature,
		Summary:      b.Summary,
		Paths:        b.Paths,
		Turns:        b.Turns,
		Environment:  b.Environment,
		LatestTokens: b.LatestTokens,
	}, nil
}

func (s *SQLiteStore) UpsertPreview(ctx context.Context, p Preview) error {
	body, err := json.Marshal(previewBody{
		Summary:      p.Summary,
		Paths:        p.Paths,
		Turns:        p.Turns,
		Environment:  p.Environment,
		LatestTokens: p.LatestTokens,
	})
	if err != nil {
		return fmt.Errorf("encode preview of %s: %w", p.SessionID, err)
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO previews (session_id, signature, body) VALUES (?, ?, ?)",
		p.SessionID, p.Signature, string(body))
	return err
}

func (s *SQLiteStore) DeletePreviews(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM previews WHERE session_id = ?", sessionID)
	return err
}
