package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/zclconf/go-cty/cty"
	_ "modernc.org/sqlite"

	"github.com/vk/weftgo/internal/fingerprint"
)

// Local is the default store: value blobs under <root>/objects, metadata in
// a SQLite table at <root>/meta.db. The same root is re-opened and consulted
// on every run.
type Local struct {
	root string
	db   *sql.DB
}

// Open creates or re-opens a local store rooted at dir.
func Open(dir string) (*Local, error) {
	if err := os.MkdirAll(filepath.Join(dir, "objects"), 0o755); err != nil {
		return nil, fmt.Errorf("store: creating object dir: %w", err)
	}
	// WAL keeps readers unblocked during record writes; SQLite still allows
	// only one writer, so the pool is capped at a single connection.
	db, err := sql.Open("sqlite", filepath.Join(dir, "meta.db")+"?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("store: opening meta db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Local{root: dir, db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	return s, nil
}

func (s *Local) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS records (
		node_id      TEXT PRIMARY KEY,
		code_hash    TEXT NOT NULL,
		input_hashes TEXT NOT NULL,
		output_hash  TEXT NOT NULL,
		duration_us  INTEGER NOT NULL,
		bytes        INTEGER NOT NULL,
		warnings     TEXT,
		error        TEXT,
		format       TEXT NOT NULL,
		created_at   DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS invalidated (
		node_id TEXT PRIMARY KEY
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the metadata database.
func (s *Local) Close() error { return s.db.Close() }

func (s *Local) blobPath(id string) string {
	return filepath.Join(s.root, "objects", id+".json")
}

// Put writes the value blob via a temp file and an atomic rename, then
// upserts the record. A crash between the two leaves a blob with no record,
// which the invalidation engine treats as absent.
func (s *Local) Put(ctx context.Context, id string, value cty.Value, rec Record) error {
	enc, err := fingerprint.EncodeValue(value)
	if err != nil {
		return &WriteError{NodeID: id, Err: err}
	}

	dir := filepath.Join(s.root, "objects")
	tmp, err := os.CreateTemp(dir, "."+id+".tmp-*")
	if err != nil {
		return &WriteError{NodeID: id, Err: err}
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(enc); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return &WriteError{NodeID: id, Err: err}
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return &WriteError{NodeID: id, Err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return &WriteError{NodeID: id, Err: err}
	}
	if err := os.Rename(tmpName, s.blobPath(id)); err != nil {
		os.Remove(tmpName)
		return &WriteError{NodeID: id, Err: err}
	}

	inputs, err := json.Marshal(rec.InputHashes)
	if err != nil {
		return &WriteError{NodeID: id, Err: err}
	}
	warnings, err := json.Marshal(rec.Warnings)
	if err != nil {
		return &WriteError{NodeID: id, Err: err}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &WriteError{NodeID: id, Err: err}
	}
	_, err = tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO records
		(node_id, code_hash, input_hashes, output_hash, duration_us, bytes, warnings, error, format, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, string(rec.CodeHash), string(inputs), string(rec.OutputHash),
		rec.Duration.Microseconds(), rec.Bytes, string(warnings), rec.ErrorText,
		rec.Format, rec.CreatedAt.UTC(),
	)
	if err != nil {
		tx.Rollback()
		return &WriteError{NodeID: id, Err: err}
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM invalidated WHERE node_id = ?`, id); err != nil {
		tx.Rollback()
		return &WriteError{NodeID: id, Err: err}
	}
	if err := tx.Commit(); err != nil {
		return &WriteError{NodeID: id, Err: err}
	}
	return nil
}

// Get reads and decodes the value blob for an ID.
func (s *Local) Get(ctx context.Context, id string) (cty.Value, error) {
	data, err := os.ReadFile(s.blobPath(id))
	if errors.Is(err, os.ErrNotExist) {
		return cty.NilVal, ErrNotFound
	}
	if err != nil {
		return cty.NilVal, &ReadError{NodeID: id, Err: err}
	}
	v, err := fingerprint.DecodeValue(data)
	if err != nil {
		return cty.NilVal, &ReadError{NodeID: id, Err: err}
	}
	return v, nil
}

// GetMetadata reads the record row for an ID.
func (s *Local) GetMetadata(ctx context.Context, id string) (Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT node_id, code_hash, input_hashes, output_hash, duration_us, bytes, warnings, error, format, created_at
		FROM records WHERE node_id = ?`, id)

	var rec Record
	var inputs, warnings string
	var durationUS int64
	var createdAt time.Time
	var codeHash, outputHash string
	err := row.Scan(&rec.NodeID, &codeHash, &inputs, &outputHash, &durationUS,
		&rec.Bytes, &warnings, &rec.ErrorText, &rec.Format, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, &ReadError{NodeID: id, Err: err}
	}
	rec.CodeHash = fingerprint.Hash(codeHash)
	rec.OutputHash = fingerprint.Hash(outputHash)
	rec.Duration = time.Duration(durationUS) * time.Microsecond
	rec.CreatedAt = createdAt
	if err := json.Unmarshal([]byte(inputs), &rec.InputHashes); err != nil {
		return Record{}, &ReadError{NodeID: id, Err: err}
	}
	if warnings != "" {
		if err := json.Unmarshal([]byte(warnings), &rec.Warnings); err != nil {
			return Record{}, &ReadError{NodeID: id, Err: err}
		}
	}
	return rec, nil
}

// Delete removes both the record and the blob.
func (s *Local) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM records WHERE node_id = ?`, id); err != nil {
		return &WriteError{NodeID: id, Err: err}
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM invalidated WHERE node_id = ?`, id); err != nil {
		return &WriteError{NodeID: id, Err: err}
	}
	if err := os.Remove(s.blobPath(id)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return &WriteError{NodeID: id, Err: err}
	}
	return nil
}

// List returns every recorded node ID.
func (s *Local) List(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT node_id FROM records ORDER BY node_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// Invalidate force-marks an ID stale. The stored value and record survive so
// inspection keeps working until the next rebuild supersedes them.
func (s *Local) Invalidate(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO invalidated (node_id) VALUES (?)`, id)
	if err != nil {
		return &WriteError{NodeID: id, Err: err}
	}
	return nil
}

// IsInvalidated reports whether the ID carries a force-stale mark.
func (s *Local) IsInvalidated(ctx context.Context, id string) (bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT 1 FROM invalidated WHERE node_id = ?`, id)
	var one int
	err := row.Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
