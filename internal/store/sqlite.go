package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/rcliao/memoryd/internal/apperr"
	"github.com/rcliao/memoryd/internal/model"
)

// timeFormat is fixed width so stored timestamps sort lexically.
const timeFormat = "2006-01-02T15:04:05.000000Z"

// SQLiteStore is the relational store.
type SQLiteStore struct {
	db   *sql.DB
	path string
	log  *zap.Logger

	idMu    sync.Mutex
	entropy *ulid.MonotonicEntropy

	// allocMu serializes vector id issuance within this process; the
	// immediate transaction serializes it across processes.
	allocMu sync.Mutex

	halted atomic.Pointer[apperr.Error]
}

// NewSQLiteStore opens or creates a SQLite database at the given path.
func NewSQLiteStore(dbPath string, log *zap.Logger) (*SQLiteStore, error) {
	if log == nil {
		log = zap.NewNop()
	}
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	dsn := dbPath + "?_pragma=journal_mode(wal)&_pragma=foreign_keys(on)&_pragma=busy_timeout(5000)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	s := &SQLiteStore{
		db:      db,
		path:    dbPath,
		log:     log,
		entropy: ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string { return s.path }

// NewID returns a fresh ULID.
func (s *SQLiteStore) NewID() string {
	s.idMu.Lock()
	defer s.idMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), s.entropy).String()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS resources (
		id            TEXT PRIMARY KEY,
		file_name     TEXT NOT NULL,
		resource_type TEXT NOT NULL DEFAULT 'text',
		content       TEXT NOT NULL,
		created_at    TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_resources_created ON resources(created_at DESC);

	CREATE TABLE IF NOT EXISTS resource_chunks (
		id          TEXT PRIMARY KEY,
		resource_id TEXT NOT NULL REFERENCES resources(id) ON DELETE CASCADE,
		seq         INTEGER NOT NULL,
		text        TEXT NOT NULL,
		vector_id   INTEGER NOT NULL UNIQUE,
		start_line  INTEGER,
		end_line    INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_chunks_resource ON resource_chunks(resource_id, seq);

	CREATE TABLE IF NOT EXISTS vector_id_sequence (
		id             INTEGER PRIMARY KEY CHECK (id = 1),
		last_vector_id INTEGER NOT NULL
	);
	INSERT OR IGNORE INTO vector_id_sequence (id, last_vector_id) VALUES (1, 0);

	CREATE TABLE IF NOT EXISTS retired_vector_ids (
		vector_id  INTEGER PRIMARY KEY,
		reason     TEXT NOT NULL,
		retired_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS context_links (
		id         TEXT PRIMARY KEY,
		source_id  TEXT NOT NULL REFERENCES resources(id) ON DELETE CASCADE,
		target_id  TEXT NOT NULL REFERENCES resources(id) ON DELETE CASCADE,
		kind       TEXT NOT NULL,
		score      REAL CHECK (score IS NULL OR (score >= 0 AND score <= 1)),
		created_at TEXT NOT NULL,
		UNIQUE (source_id, target_id, kind)
	);
	CREATE INDEX IF NOT EXISTS idx_links_source ON context_links(source_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_links_target ON context_links(target_id, created_at);

	CREATE TABLE IF NOT EXISTS code_patterns (
		id             TEXT PRIMARY KEY,
		function_name  TEXT,
		file_name      TEXT,
		module_name    TEXT,
		prompt         TEXT NOT NULL,
		code           TEXT NOT NULL,
		verdict        TEXT NOT NULL CHECK (verdict IN ('pass', 'fail', 'partial')),
		execution_time REAL NOT NULL DEFAULT 0,
		error_message  TEXT,
		tags           TEXT,
		created_at     TEXT NOT NULL,
		vector_id      INTEGER UNIQUE
	);
	CREATE INDEX IF NOT EXISTS idx_patterns_created ON code_patterns(created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_patterns_verdict ON code_patterns(verdict);

	CREATE TABLE IF NOT EXISTS code_pattern_context (
		id           TEXT PRIMARY KEY,
		pattern_id   TEXT NOT NULL REFERENCES code_patterns(id) ON DELETE CASCADE,
		context_kind TEXT NOT NULL,
		context_id   TEXT NOT NULL,
		similarity   REAL NOT NULL,
		created_at   TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_pattern_context ON code_pattern_context(pattern_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Halted returns the violation that stopped writes, or nil.
func (s *SQLiteStore) Halted() error {
	if e := s.halted.Load(); e != nil {
		return e
	}
	return nil
}

func (s *SQLiteStore) checkWritable() error {
	if e := s.halted.Load(); e != nil {
		return apperr.Wrap(apperr.SchemaViolation, e, "store halted after a consistency violation")
	}
	return nil
}

// classifyWrite maps a vector id uniqueness failure to SchemaViolation and
// halts further writes. Allocation makes such a failure impossible unless the
// invariant was broken elsewhere, so it is never retried.
func (s *SQLiteStore) classifyWrite(err error, op string) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	if strings.Contains(msg, "UNIQUE constraint failed") && strings.Contains(msg, "vector_id") {
		v := apperr.Wrap(apperr.SchemaViolation, err, "%s: duplicate vector id", op)
		if s.halted.CompareAndSwap(nil, v) {
			s.log.Error("consistency violation, halting writes", zap.String("op", op), zap.Error(err))
		}
		return v
	}
	return fmt.Errorf("%s: %w", op, err)
}

// --- Resources ---

// InsertResource commits a resource and its chunks in one transaction. The
// chunks' vector ids must already be allocated and present in the index. Empty
// ids and timestamps are filled in.
func (s *SQLiteStore) InsertResource(ctx context.Context, r *model.Resource) error {
	if err := s.checkWritable(); err != nil {
		return err
	}
	if r.ID == "" {
		r.ID = s.NewID()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	if r.ResourceType == "" {
		r.ResourceType = "text"
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO resources (id, file_name, resource_type, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		r.ID, r.FileName, r.ResourceType, r.Content, formatTime(r.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert resource: %w", err)
	}

	for i := range r.Chunks {
		c := &r.Chunks[i]
		if c.ID == "" {
			c.ID = s.NewID()
		}
		c.ResourceID = r.ID
		_, err = tx.ExecContext(ctx,
			`INSERT INTO resource_chunks (id, resource_id, seq, text, vector_id, start_line, end_line)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			c.ID, r.ID, c.Seq, c.Text, c.VectorID, c.StartLine, c.EndLine)
		if err != nil {
			return s.classifyWrite(err, "insert chunk")
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit resource: %w", err)
	}
	return nil
}

// GetResource returns a resource with its chunks in order.
func (s *SQLiteStore) GetResource(ctx context.Context, id string) (*model.Resource, error) {
	var r model.Resource
	var createdAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, file_name, resource_type, content, created_at FROM resources WHERE id = ?`, id).
		Scan(&r.ID, &r.FileName, &r.ResourceType, &r.Content, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.New(apperr.NotFound, "resource not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get resource: %w", err)
	}
	r.CreatedAt = parseTime(createdAt)

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, resource_id, seq, text, vector_id, start_line, end_line
		 FROM resource_chunks WHERE resource_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("get chunks: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		r.Chunks = append(r.Chunks, c)
	}
	return &r, rows.Err()
}

// MissingResources returns the ids in ids that do not resolve to a resource.
func (s *SQLiteStore) MissingResources(ctx context.Context, ids ...string) ([]string, error) {
	var missing []string
	for _, id := range ids {
		ok, err := resourceExists(ctx, s.db, id)
		if err != nil {
			return nil, err
		}
		if !ok {
			missing = append(missing, id)
		}
	}
	return missing, nil
}

// ListResourceIDs returns up to limit resource ids, newest first.
func (s *SQLiteStore) ListResourceIDs(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM resources ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ChunksByVectorID hydrates chunk rows for the given vector ids. Ids with no
// chunk row are absent from the result.
func (s *SQLiteStore) ChunksByVectorID(ctx context.Context, vectorIDs []int64) (map[int64]model.ResourceChunk, error) {
	out := make(map[int64]model.ResourceChunk, len(vectorIDs))
	if len(vectorIDs) == 0 {
		return out, nil
	}
	query := `SELECT id, resource_id, seq, text, vector_id, start_line, end_line
		FROM resource_chunks WHERE vector_id IN (` + placeholders(len(vectorIDs)) + `)`
	rows, err := s.db.QueryContext(ctx, query, int64Args(vectorIDs)...)
	if err != nil {
		return nil, fmt.Errorf("chunks by vector id: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		out[c.VectorID] = c
	}
	return out, rows.Err()
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func resourceExists(ctx context.Context, q queryer, id string) (bool, error) {
	var n int
	err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM resources WHERE id = ?`, id).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("resolve resource: %w", err)
	}
	return n > 0, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanChunk(row scanner) (model.ResourceChunk, error) {
	var c model.ResourceChunk
	var start, end sql.NullInt64
	err := row.Scan(&c.ID, &c.ResourceID, &c.Seq, &c.Text, &c.VectorID, &start, &end)
	if err != nil {
		return c, err
	}
	c.StartLine = int(start.Int64)
	c.EndLine = int(end.Int64)
	return c, nil
}

func formatTime(t time.Time) string { return t.UTC().Format(timeFormat) }

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeFormat, s)
	return t
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func int64Args(ids []int64) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

func stringArgs(ids []string) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

func encodeTags(tags []string) *string {
	if len(tags) == 0 {
		return nil
	}
	b, _ := json.Marshal(tags)
	s := string(b)
	return &s
}

var windowRegex = regexp.MustCompile(`^(\d+)([dhms])$`)

// ParseWindow parses a window string like "7d", "24h", "30m" into a
// time.Duration.
func ParseWindow(s string) (time.Duration, error) {
	m := windowRegex.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("invalid window %q (use e.g. 7d, 24h, 30m, 60s)", s)
	}
	n, _ := strconv.Atoi(m[1])
	switch m[2] {
	case "d":
		return time.Duration(n) * 24 * time.Hour, nil
	case "h":
		return time.Duration(n) * time.Hour, nil
	case "m":
		return time.Duration(n) * time.Minute, nil
	case "s":
		return time.Duration(n) * time.Second, nil
	}
	return 0, fmt.Errorf("unknown unit %q", m[2])
}
