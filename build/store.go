// ABOUTME: Disk-backed artifact store with a SQLite index keyed by target and fingerprint.
// ABOUTME: Artifacts survive restarts; the index is rebuildable from reads, never source of truth for bytes.
package build

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const timeLayout = "2006-01-02T15:04:05Z07:00"

// Store persists built artifacts under <baseDir>/<target_id>/<fingerprint>.wasm
// and indexes them in SQLite for lookup across restarts.
type Store struct {
	db      *sql.DB
	baseDir string
}

// OpenStore opens or creates the artifact store rooted at baseDir, with the
// index database alongside the artifact tree.
func OpenStore(baseDir string) (*Store, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating artifact directory: %w", err)
	}

	db, err := sql.Open("sqlite3", filepath.Join(baseDir, "artifacts.db"))
	if err != nil {
		return nil, fmt.Errorf("open artifact index: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	schema := `
		CREATE TABLE IF NOT EXISTS artifacts (
			target_id TEXT NOT NULL,
			fingerprint TEXT NOT NULL,
			path TEXT NOT NULL,
			content_hash TEXT NOT NULL,
			size_bytes INTEGER NOT NULL,
			built_at TEXT NOT NULL,
			PRIMARY KEY (target_id, fingerprint)
		);`

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create artifact schema: %w", err)
	}

	return &Store{db: db, baseDir: baseDir}, nil
}

// Close closes the index database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save writes artifact bytes to disk and upserts the index row. The returned
// reference is immutable.
func (s *Store) Save(targetID, fingerprint string, data []byte) (*ArtifactRef, error) {
	dir := filepath.Join(s.baseDir, targetID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating target artifact dir: %w", err)
	}

	path := filepath.Join(dir, fingerprint+".wasm")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return nil, fmt.Errorf("writing artifact %s: %w", path, err)
	}

	ref := &ArtifactRef{
		TargetID:    targetID,
		Fingerprint: fingerprint,
		Path:        path,
		ContentHash: hashBytes(data),
		SizeBytes:   int64(len(data)),
		BuiltAt:     time.Now(),
	}

	_, err := s.db.Exec(
		`INSERT INTO artifacts (target_id, fingerprint, path, content_hash, size_bytes, built_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(target_id, fingerprint) DO UPDATE SET
			path = excluded.path,
			content_hash = excluded.content_hash,
			size_bytes = excluded.size_bytes,
			built_at = excluded.built_at`,
		ref.TargetID, ref.Fingerprint, ref.Path, ref.ContentHash, ref.SizeBytes,
		ref.BuiltAt.Format(timeLayout),
	)
	if err != nil {
		return nil, fmt.Errorf("indexing artifact: %w", err)
	}

	return ref, nil
}

// Lookup finds a cached artifact for an exact (target, fingerprint) pair. The
// index row is discarded if the file vanished from disk.
func (s *Store) Lookup(targetID, fingerprint string) (*ArtifactRef, bool, error) {
	row := s.db.QueryRow(
		`SELECT path, content_hash, size_bytes, built_at FROM artifacts
		 WHERE target_id = ? AND fingerprint = ?`,
		targetID, fingerprint)

	ref := &ArtifactRef{TargetID: targetID, Fingerprint: fingerprint}
	var builtAt string
	err := row.Scan(&ref.Path, &ref.ContentHash, &ref.SizeBytes, &builtAt)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("query artifact: %w", err)
	}
	ref.BuiltAt, err = time.Parse(timeLayout, builtAt)
	if err != nil {
		return nil, false, fmt.Errorf("parse built_at: %w", err)
	}

	if _, statErr := os.Stat(ref.Path); statErr != nil {
		if os.IsNotExist(statErr) {
			_, _ = s.db.Exec("DELETE FROM artifacts WHERE target_id = ? AND fingerprint = ?", targetID, fingerprint)
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("stat artifact %s: %w", ref.Path, statErr)
	}

	return ref, true, nil
}

// Latest returns the most recently built artifact per target, used to
// rehydrate the registry at startup.
func (s *Store) Latest() (map[string]*ArtifactRef, error) {
	rows, err := s.db.Query(
		`SELECT target_id, fingerprint, path, content_hash, size_bytes, built_at
		 FROM artifacts ORDER BY built_at ASC, rowid ASC`)
	if err != nil {
		return nil, fmt.Errorf("query artifacts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	latest := make(map[string]*ArtifactRef)
	for rows.Next() {
		ref := &ArtifactRef{}
		var builtAt string
		if err := rows.Scan(&ref.TargetID, &ref.Fingerprint, &ref.Path,
			&ref.ContentHash, &ref.SizeBytes, &builtAt); err != nil {
			return nil, fmt.Errorf("scan artifact row: %w", err)
		}
		ref.BuiltAt, err = time.Parse(timeLayout, builtAt)
		if err != nil {
			return nil, fmt.Errorf("parse built_at: %w", err)
		}
		// Ascending order means the last row wins per target.
		latest[ref.TargetID] = ref
	}
	return latest, rows.Err()
}
