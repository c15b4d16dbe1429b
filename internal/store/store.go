// Package store implements the Metadata Store component (spec §4.3): a
// transactional SQLite index of every known file plus the materialized
// permission-rule index consumed by internal/permissions.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	_ "modernc.org/sqlite" // pure-Go SQLite driver, registers as "sqlite"

	"github.com/OpenMined/syftbox-go/internal/permissions"
)

// FileRecord is one row of the files relation (spec §3's "File record").
type FileRecord struct {
	Path      string
	Hash      string
	SizeBytes int64
	MtimeNS   int64
	Signature []byte
	Revision  int64
}

// walJournalSizeLimit bounds the WAL file so it doesn't grow unbounded
// between checkpoints.
const walJournalSizeLimit = 64 * 1024 * 1024

// SQLiteStore implements the metadata store and the permissions.RuleStore
// interface over an embedded SQLite database.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger

	fileStmts fileStatements
	ruleStmts ruleStatements
}

type fileStatements struct {
	get, upsert, delete, listByPrefix, listDatasites *sql.Stmt
}

type ruleStatements struct {
	deleteDir, insert, all *sql.Stmt
}

// Open opens (or creates) the SQLite database at dbPath, applies pending
// migrations, and prepares all repeated statements. Use ":memory:" for
// tests.
func Open(ctx context.Context, dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	logger.Info("opening metadata store", slog.String("path", dbPath))

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("store: opening sqlite: %w", err)
	}

	if err := setPragmas(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	s := &SQLiteStore{db: db, logger: logger}

	if err := s.prepareStatements(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: preparing statements: %w", err)
	}

	return s, nil
}

func setPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = FULL",
		"PRAGMA foreign_keys = ON",
		fmt.Sprintf("PRAGMA journal_size_limit = %d", walJournalSizeLimit),
	}

	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("store: set pragma %q: %w", p, err)
		}
	}

	return nil
}

func (s *SQLiteStore) prepareStatements(ctx context.Context) error {
	var err error

	prep := func(query string) *sql.Stmt {
		if err != nil {
			return nil
		}

		var stmt *sql.Stmt

		stmt, err = s.db.PrepareContext(ctx, query)

		return stmt
	}

	s.fileStmts.get = prep(`SELECT path, hash, size_bytes, mtime_ns, signature, revision FROM files WHERE path = ?`)
	s.fileStmts.upsert = prep(`
		INSERT INTO files (path, hash, size_bytes, mtime_ns, signature, revision)
		VALUES (?, ?, ?, ?, ?, 1)
		ON CONFLICT(path) DO UPDATE SET
			hash = excluded.hash,
			size_bytes = excluded.size_bytes,
			mtime_ns = excluded.mtime_ns,
			signature = excluded.signature,
			revision = files.revision + 1
	`)
	s.fileStmts.delete = prep(`DELETE FROM files WHERE path = ?`)
	s.fileStmts.listByPrefix = prep(`
		SELECT path, hash, size_bytes, mtime_ns, signature, revision FROM files
		WHERE path = ? OR path LIKE ? ESCAPE '\' ORDER BY path
	`)
	s.fileStmts.listDatasites = prep(`SELECT path FROM files WHERE path LIKE 'datasites/%'`)

	s.ruleStmts.deleteDir = prep(`DELETE FROM rules WHERE permfile_dir = ?`)
	s.ruleStmts.insert = prep(`
		INSERT INTO rules (permfile_dir, priority, path, user, can_read, can_create, can_write, admin, disallow, terminal, permfile_depth)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	s.ruleStmts.all = prep(`
		SELECT permfile_dir, priority, path, user, can_read, can_create, can_write, admin, disallow, terminal, permfile_depth
		FROM rules
	`)

	return err
}

// Close closes the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// GetFile returns the record at path, or ok=false if none exists.
func (s *SQLiteStore) GetFile(ctx context.Context, path string) (FileRecord, bool, error) {
	row := s.fileStmts.get.QueryRowContext(ctx, path)

	rec, err := scanFileRow(row)
	if err == sql.ErrNoRows {
		return FileRecord{}, false, nil
	}

	if err != nil {
		return FileRecord{}, false, fmt.Errorf("store: get file %s: %w", path, err)
	}

	return rec, true, nil
}

// UpsertFile inserts or replaces the record, bumping revision, per spec §4.3.
func (s *SQLiteStore) UpsertFile(ctx context.Context, rec FileRecord) (FileRecord, error) {
	if _, err := s.fileStmts.upsert.ExecContext(ctx, rec.Path, rec.Hash, rec.SizeBytes, rec.MtimeNS, rec.Signature); err != nil {
		return FileRecord{}, fmt.Errorf("store: upsert file %s: %w", rec.Path, err)
	}

	updated, ok, err := s.GetFile(ctx, rec.Path)
	if err != nil {
		return FileRecord{}, err
	}

	if !ok {
		return FileRecord{}, fmt.Errorf("store: upsert file %s: row missing after write", rec.Path)
	}

	return updated, nil
}

// DeleteFile removes the record at path.
func (s *SQLiteStore) DeleteFile(ctx context.Context, path string) error {
	if _, err := s.fileStmts.delete.ExecContext(ctx, path); err != nil {
		return fmt.Errorf("store: delete file %s: %w", path, err)
	}

	return nil
}

// ListByPrefix returns every record whose path begins with prefix.
func (s *SQLiteStore) ListByPrefix(ctx context.Context, prefix string) ([]FileRecord, error) {
	likePattern := strings.NewReplacer("\\", "\\\\", "%", "\\%", "_", "\\_").Replace(prefix) + "/%"

	rows, err := s.fileStmts.listByPrefix.QueryContext(ctx, prefix, likePattern)
	if err != nil {
		return nil, fmt.Errorf("store: list by prefix %s: %w", prefix, err)
	}
	defer rows.Close()

	var out []FileRecord

	for rows.Next() {
		rec, err := scanFileRow(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scanning file row: %w", err)
		}

		out = append(out, rec)
	}

	return out, rows.Err()
}

// ListDatasites returns the distinct top-level directories under
// "datasites/", per spec §4.3.
func (s *SQLiteStore) ListDatasites(ctx context.Context) ([]string, error) {
	rows, err := s.fileStmts.listDatasites.QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: list datasites: %w", err)
	}
	defer rows.Close()

	seen := make(map[string]bool)

	var out []string

	for rows.Next() {
		var path string
		if err := rows.Scan(&path); err != nil {
			return nil, err
		}

		rest := strings.TrimPrefix(path, "datasites/")

		slash := strings.IndexByte(rest, '/')
		if slash < 0 {
			continue
		}

		email := rest[:slash]
		if !seen[email] {
			seen[email] = true

			out = append(out, email)
		}
	}

	return out, rows.Err()
}

// MoveAtomic writes a new file object at the destination (via writeAndRename,
// expected to write-to-temp-then-rename) and updates the metadata row in a
// single logical transaction, per spec §4.3. If writeAndRename fails the
// metadata row is left untouched; if the metadata update fails after a
// successful rename, the file on disk and its row disagree, and nothing in
// this module reconciles them at startup.
func (s *SQLiteStore) MoveAtomic(ctx context.Context, rec FileRecord, writeAndRename func() error) (FileRecord, error) {
	if err := writeAndRename(); err != nil {
		return FileRecord{}, fmt.Errorf("store: writing file object for %s: %w", rec.Path, err)
	}

	return s.UpsertFile(ctx, rec)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFileRow(row rowScanner) (FileRecord, error) {
	var rec FileRecord

	err := row.Scan(&rec.Path, &rec.Hash, &rec.SizeBytes, &rec.MtimeNS, &rec.Signature, &rec.Revision)

	return rec, err
}

// AllRules implements permissions.RuleStore.
func (s *SQLiteStore) AllRules() ([]permissions.Record, error) {
	rows, err := s.ruleStmts.all.Query()
	if err != nil {
		return nil, fmt.Errorf("store: listing rules: %w", err)
	}
	defer rows.Close()

	var out []permissions.Record

	for rows.Next() {
		var (
			rec                                                   permissions.Record
			canRead, canCreate, canWrite, admin, disallow, terminal int
		)

		if err := rows.Scan(&rec.PermfileDir, &rec.Priority, &rec.Path, &rec.User,
			&canRead, &canCreate, &canWrite, &admin, &disallow, &terminal, &rec.PermfileDepth); err != nil {
			return nil, err
		}

		rec.CanRead = canRead != 0
		rec.CanCreate = canCreate != 0
		rec.CanWrite = canWrite != 0
		rec.Admin = admin != 0
		rec.Disallow = disallow != 0
		rec.Terminal = terminal != 0

		out = append(out, rec)
	}

	return out, rows.Err()
}

// ReplaceRules implements permissions.RuleStore: replaces every rule owned
// by permfileDir in a single transaction, per spec §4.4's "no partial-rule
// state" requirement.
func (s *SQLiteStore) ReplaceRules(permfileDir string, records []permissions.Record) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: beginning rule replace transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.Stmt(s.ruleStmts.deleteDir).Exec(permfileDir); err != nil {
		return fmt.Errorf("store: clearing rules for %s: %w", permfileDir, err)
	}

	insert := tx.Stmt(s.ruleStmts.insert)

	for _, rec := range records {
		_, err := insert.Exec(rec.PermfileDir, rec.Priority, rec.Path, rec.User,
			boolToInt(rec.CanRead), boolToInt(rec.CanCreate), boolToInt(rec.CanWrite),
			boolToInt(rec.Admin), boolToInt(rec.Disallow), boolToInt(rec.Terminal), rec.PermfileDepth)
		if err != nil {
			return fmt.Errorf("store: inserting rule for %s: %w", permfileDir, err)
		}
	}

	return tx.Commit()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}

	return 0
}
