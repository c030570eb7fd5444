// Package store persists blueprint documents, their source images and the
// full verification history in SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"pixel-blueprint/internal/blueprint"
	"pixel-blueprint/internal/errs"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS sources (
	hash       TEXT PRIMARY KEY,
	format     TEXT NOT NULL,
	data       BLOB NOT NULL,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS documents (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL DEFAULT '',
	image_hash  TEXT NOT NULL REFERENCES sources(hash),
	width       INTEGER NOT NULL,
	height      INTEGER NOT NULL,
	locked      INTEGER NOT NULL DEFAULT 0,
	body        TEXT NOT NULL,
	created_at  TEXT NOT NULL,
	modified_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS diffs (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	document_id  TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
	pass         INTEGER NOT NULL,
	iou          REAL NOT NULL,
	mismatch_pct REAL NOT NULL,
	max_offset   REAL NOT NULL,
	source       TEXT NOT NULL,
	reason       TEXT NOT NULL DEFAULT '',
	nodes_hash   TEXT NOT NULL DEFAULT '',
	checked_at   TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_diffs_document ON diffs(document_id, id);
`

// Summary is a listing row.
type Summary struct {
	ID       string    `json:"id"`
	Name     string    `json:"name,omitempty"`
	Width    int       `json:"width"`
	Height   int       `json:"height"`
	Locked   bool      `json:"locked"`
	Modified time.Time `json:"modified"`
}

// Store is a SQLite-backed document store.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// Open opens (creating if needed) the database at dsn and applies the
// schema. Use ":memory:" for an ephemeral store.
func Open(ctx context.Context, dsn string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errs.Wrap(errs.CodeStorageFailed, err, "failed to open database")
	}
	// SQLite allows one writer; a single connection also keeps an in-memory
	// database alive and shared.
	db.SetMaxOpenConns(1)

	pragmas := []string{"PRAGMA foreign_keys = ON", "PRAGMA busy_timeout = 5000"}
	if dsn != ":memory:" {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL")
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			db.Close()
			return nil, errs.Wrap(errs.CodeStorageFailed, err, "failed to apply %q", p)
		}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, errs.Wrap(errs.CodeStorageFailed, err, "failed to apply schema")
	}

	logger.Named("store").Info("Store opened", zap.String("dsn", dsn))
	return &Store{db: db, logger: logger.Named("store")}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Create stores a new document together with its source bytes.
func (s *Store) Create(ctx context.Context, doc *blueprint.Document, source []byte) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errs.Wrap(errs.CodeStorageFailed, err, "failed to begin transaction")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO sources (hash, format, data, created_at) VALUES (?, ?, ?, ?)`,
		doc.Image.Hash, doc.Image.Format, source, formatTime(time.Now())); err != nil {
		return errs.Wrap(errs.CodeStorageFailed, err, "failed to store source image")
	}
	if err := upsert(ctx, tx, doc); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return errs.Wrap(errs.CodeStorageFailed, err, "failed to commit document")
	}

	s.logger.Debug("Document created", zap.String("id", doc.ID), zap.String("image_hash", doc.Image.Hash))
	return nil
}

// Save updates an existing document.
func (s *Store) Save(ctx context.Context, doc *blueprint.Document) error {
	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM documents WHERE id = ?`, doc.ID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return errs.New(errs.CodeNotFound, "document %s not found", doc.ID)
	}
	if err != nil {
		return errs.Wrap(errs.CodeStorageFailed, err, "failed to look up document")
	}
	return upsert(ctx, s.db, doc)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func upsert(ctx context.Context, db execer, doc *blueprint.Document) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode document: %w", err)
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO documents (id, name, image_hash, width, height, locked, body, created_at, modified_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			image_hash = excluded.image_hash,
			width = excluded.width,
			height = excluded.height,
			locked = excluded.locked,
			body = excluded.body,
			modified_at = excluded.modified_at`,
		doc.ID, doc.Name, doc.Image.Hash, doc.Image.Width, doc.Image.Height,
		boolInt(doc.Locks.Locked), string(body), formatTime(doc.Created), formatTime(doc.Modified))
	if err != nil {
		return errs.Wrap(errs.CodeStorageFailed, err, "failed to store document %s", doc.ID)
	}
	return nil
}

// Get loads a document.
func (s *Store) Get(ctx context.Context, id string) (*blueprint.Document, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `SELECT body FROM documents WHERE id = ?`, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.New(errs.CodeNotFound, "document %s not found", id)
	}
	if err != nil {
		return nil, errs.Wrap(errs.CodeStorageFailed, err, "failed to load document %s", id)
	}
	return blueprint.Unmarshal([]byte(body))
}

// Source returns the stored source bytes for an image hash.
func (s *Store) Source(ctx context.Context, hash string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM sources WHERE hash = ?`, hash).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.New(errs.CodeNotFound, "source %s not found", hash)
	}
	if err != nil {
		return nil, errs.Wrap(errs.CodeStorageFailed, err, "failed to load source %s", hash)
	}
	return data, nil
}

// List returns document summaries, most recently modified first.
func (s *Store) List(ctx context.Context) ([]Summary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, width, height, locked, modified_at FROM documents ORDER BY modified_at DESC, id`)
	if err != nil {
		return nil, errs.Wrap(errs.CodeStorageFailed, err, "failed to list documents")
	}
	defer rows.Close()

	out := []Summary{}
	for rows.Next() {
		var sum Summary
		var locked int
		var modified string
		if err := rows.Scan(&sum.ID, &sum.Name, &sum.Width, &sum.Height, &locked, &modified); err != nil {
			return nil, errs.Wrap(errs.CodeStorageFailed, err, "failed to scan document row")
		}
		sum.Locked = locked != 0
		sum.Modified, _ = time.Parse(time.RFC3339Nano, modified)
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Wrap(errs.CodeStorageFailed, err, "failed to list documents")
	}
	return out, nil
}

// Delete removes a document and its diff history. The source image stays
// while other documents may share it.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return errs.Wrap(errs.CodeStorageFailed, err, "failed to delete document %s", id)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errs.New(errs.CodeNotFound, "document %s not found", id)
	}
	return nil
}

// AppendDiff records a verification outcome in the unbounded history.
func (s *Store) AppendDiff(ctx context.Context, docID string, e blueprint.DiffEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO diffs (document_id, pass, iou, mismatch_pct, max_offset, source, reason, nodes_hash, checked_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		docID, boolInt(e.Pass), e.IoU, e.MismatchPct, e.MaxOffsetPx, e.Source, e.Reason, e.NodesHash, formatTime(e.CheckedAt))
	if err != nil {
		return errs.Wrap(errs.CodeStorageFailed, err, "failed to record diff for %s", docID)
	}
	return nil
}

// Diffs returns the verification history of a document, oldest first.
func (s *Store) Diffs(ctx context.Context, docID string) ([]blueprint.DiffEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT pass, iou, mismatch_pct, max_offset, source, reason, nodes_hash, checked_at
		FROM diffs WHERE document_id = ? ORDER BY id`, docID)
	if err != nil {
		return nil, errs.Wrap(errs.CodeStorageFailed, err, "failed to load diffs for %s", docID)
	}
	defer rows.Close()

	out := []blueprint.DiffEntry{}
	for rows.Next() {
		var e blueprint.DiffEntry
		var pass int
		var checked string
		if err := rows.Scan(&pass, &e.IoU, &e.MismatchPct, &e.MaxOffsetPx, &e.Source, &e.Reason, &e.NodesHash, &checked); err != nil {
			return nil, errs.Wrap(errs.CodeStorageFailed, err, "failed to scan diff row")
		}
		e.Pass = pass != 0
		e.CheckedAt, _ = time.Parse(time.RFC3339Nano, checked)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Wrap(errs.CodeStorageFailed, err, "failed to load diffs for %s", docID)
	}
	return out, nil
}

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
