// Package sqlite implements the embedded relational catalog store (C6) on
// top of database/sql + modernc.org/sqlite (pure Go, no cgo). It is
// grounded directly on the teacher's backend/sqlite.Backend: the
// PRAGMA user_version migration ladder, parameterized statements
// exclusively, and VACUUM INTO for backups. Authors for a page of books
// are loaded with one IN-list join query (BookAuthorNames) rather than one
// query per book.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/banux/zlibrary/internal/apperr"
	"github.com/banux/zlibrary/internal/catalog"
	_ "modernc.org/sqlite" // register "sqlite" driver
)

// Backend is a SQLite-backed implementation of catalog.Store.
type Backend struct {
	db *sql.DB
}

// Open opens (or creates) the SQLite catalog at path and applies schema
// migrations.
func Open(path string) (*Backend, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create catalog directory %q: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database %q: %w", path, err)
	}

	// WAL mode for concurrent reads; foreign keys for cascade deletes.
	if _, err := db.Exec(`PRAGMA journal_mode=WAL; PRAGMA foreign_keys=ON;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure database: %w", err)
	}

	b := &Backend{db: db}
	if err := b.migrateSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return b, nil
}

func (b *Backend) Close() error { return b.db.Close() }

// --- schema migrations ---

const currentSchemaVersion = 1

type schemaMigration struct {
	version int
	apply   func(db *sql.DB) error
}

var schemaMigrations = []schemaMigration{
	{version: 1, apply: migration1},
}

func migration1(db *sql.DB) error {
	_, err := db.Exec(`
CREATE TABLE IF NOT EXISTS books (
    id            TEXT PRIMARY KEY,
    hash          TEXT NOT NULL DEFAULT '',
    title         TEXT NOT NULL,
    year          TEXT NOT NULL DEFAULT '',
    publisher     TEXT NOT NULL DEFAULT '',
    language      TEXT NOT NULL DEFAULT '',
    extension     TEXT NOT NULL DEFAULT '',
    size_human    TEXT NOT NULL DEFAULT '',
    size_bytes    INTEGER NOT NULL DEFAULT 0,
    cover_url     TEXT NOT NULL DEFAULT '',
    description   TEXT NOT NULL DEFAULT '',
    isbn          TEXT NOT NULL DEFAULT '',
    edition       TEXT NOT NULL DEFAULT '',
    pages         INTEGER NOT NULL DEFAULT 0,
    created_at    INTEGER NOT NULL,
    updated_at    INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS authors (
    id   INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS book_authors (
    book_id   TEXT NOT NULL REFERENCES books(id) ON DELETE CASCADE,
    author_id INTEGER NOT NULL REFERENCES authors(id) ON DELETE CASCADE,
    position  INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (book_id, author_id)
);

CREATE TABLE IF NOT EXISTS reading_lists (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    name        TEXT NOT NULL UNIQUE,
    description TEXT NOT NULL DEFAULT '',
    created_at  INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS list_books (
    list_id  INTEGER NOT NULL REFERENCES reading_lists(id) ON DELETE CASCADE,
    book_id  TEXT NOT NULL REFERENCES books(id) ON DELETE CASCADE,
    position INTEGER NOT NULL DEFAULT 0,
    added_at INTEGER NOT NULL,
    PRIMARY KEY (list_id, book_id)
);

CREATE TABLE IF NOT EXISTS saved_books (
    id        INTEGER PRIMARY KEY AUTOINCREMENT,
    book_id   TEXT NOT NULL UNIQUE REFERENCES books(id) ON DELETE CASCADE,
    notes     TEXT NOT NULL DEFAULT '',
    tags      TEXT NOT NULL DEFAULT '[]',
    priority  INTEGER NOT NULL DEFAULT 0,
    saved_at  INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS downloads (
    id                  INTEGER PRIMARY KEY AUTOINCREMENT,
    book_id             TEXT NOT NULL REFERENCES books(id) ON DELETE CASCADE,
    credential_identity TEXT NOT NULL DEFAULT '',
    filename            TEXT NOT NULL DEFAULT '',
    file_path           TEXT NOT NULL DEFAULT '',
    size_bytes          INTEGER NOT NULL DEFAULT 0,
    status              TEXT NOT NULL,
    error_message       TEXT NOT NULL DEFAULT '',
    downloaded_at       INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS search_history (
    id        INTEGER PRIMARY KEY AUTOINCREMENT,
    raw_query TEXT NOT NULL,
    filters   TEXT NOT NULL DEFAULT '',
    found_at  INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_books_title    ON books(title);
CREATE INDEX IF NOT EXISTS idx_books_language ON books(language);
CREATE INDEX IF NOT EXISTS idx_books_year     ON books(year);
CREATE INDEX IF NOT EXISTS idx_book_authors_author ON book_authors(author_id);
CREATE INDEX IF NOT EXISTS idx_downloads_credential ON downloads(credential_identity);
`)
	return err
}

func (b *Backend) migrateSchema() error {
	var version int
	if err := b.db.QueryRow(`PRAGMA user_version`).Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for _, m := range schemaMigrations {
		if m.version <= version {
			continue
		}
		if err := m.apply(b.db); err != nil {
			return fmt.Errorf("apply migration v%d: %w", m.version, err)
		}
		if _, err := b.db.Exec(fmt.Sprintf(`PRAGMA user_version = %d`, m.version)); err != nil {
			return fmt.Errorf("set schema version to %d: %w", m.version, err)
		}
	}
	_ = currentSchemaVersion
	return nil
}

// --- transaction plumbing ---

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type txKey struct{}

func (b *Backend) conn(ctx context.Context) execer {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx
	}
	return b.db
}

// WithTx runs fn with a transaction bound to ctx; every repository call
// inside fn that receives the returned context participates in the same
// transaction. A non-nil return from fn rolls the transaction back, so
// import-style multi-row operations never leave partial writes (spec §4.7
// "Import/Export").
func (b *Backend) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return apperr.Catalog("begin transaction", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return apperr.Catalog("commit transaction", err)
	}
	return nil
}

// --- Store interface wiring ---

func (b *Backend) Books() catalog.BookRepository               { return bookRepo{b} }
func (b *Backend) Authors() catalog.AuthorRepository            { return authorRepo{b} }
func (b *Backend) BookAuthors() catalog.BookAuthorRepository    { return bookAuthorRepo{b} }
func (b *Backend) ReadingLists() catalog.ReadingListRepository  { return listRepo{b} }
func (b *Backend) SavedBooks() catalog.SavedBookRepository      { return savedRepo{b} }
func (b *Backend) Downloads() catalog.DownloadRepository        { return downloadRepo{b} }
func (b *Backend) SearchHistory() catalog.SearchHistoryRepository { return historyRepo{b} }

// Stats implements catalog.Store.
func (b *Backend) Stats(ctx context.Context) (catalog.Stats, error) {
	var st catalog.Stats
	conn := b.conn(ctx)

	if err := conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM books`).Scan(&st.TotalBooks); err != nil {
		return st, apperr.Catalog("count books", err)
	}
	if err := conn.QueryRowContext(ctx, `SELECT COUNT(DISTINCT language) FROM books WHERE language != ''`).Scan(&st.DistinctLanguages); err != nil {
		return st, apperr.Catalog("count languages", err)
	}
	if err := conn.QueryRowContext(ctx, `SELECT COUNT(DISTINCT extension) FROM books WHERE extension != ''`).Scan(&st.DistinctFormats); err != nil {
		return st, apperr.Catalog("count formats", err)
	}
	if err := conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM downloads`).Scan(&st.TotalDownloads); err != nil {
		return st, apperr.Catalog("count downloads", err)
	}

	if fi, err := os.Stat(b.path()); err == nil {
		st.DBSizeBytes = fi.Size()
	}
	return st, nil
}

func (b *Backend) path() string {
	var name string
	_ = b.db.QueryRow(`PRAGMA database_list`).Scan(new(int), new(string), &name)
	return name
}

// Vacuum implements catalog.Store. It issues the store's compaction
// primitive (spec §4.7 "Vacuum").
func (b *Backend) Vacuum(ctx context.Context) error {
	if _, err := b.db.ExecContext(ctx, `VACUUM`); err != nil {
		return apperr.Catalog("vacuum", err)
	}
	return nil
}

// Backup creates a consistent snapshot of the catalog database in destDir
// using SQLite's VACUUM INTO, then prunes old backups to keep (keep<=0
// means unlimited). Grounded on the teacher's Backend.Backup.
func (b *Backend) Backup(ctx context.Context, destDir string, keep int) (string, error) {
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return "", fmt.Errorf("create backup dir %q: %w", destDir, err)
	}

	name := "catalog-" + time.Now().Format("20060102-150405") + ".db"
	destPath := filepath.Join(destDir, name)

	if _, err := b.db.ExecContext(ctx, `VACUUM INTO ?`, destPath); err != nil {
		return "", apperr.Catalog("vacuum into backup", err)
	}

	if keep > 0 {
		if err := pruneBackups(destDir, keep); err != nil {
			return destPath, fmt.Errorf("prune backups: %w", err)
		}
	}
	return destPath, nil
}

func pruneBackups(dir string, keep int) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read backup dir: %w", err)
	}

	var backups []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		n := e.Name()
		if strings.HasPrefix(n, "catalog-") && filepath.Ext(n) == ".db" {
			backups = append(backups, filepath.Join(dir, n))
		}
	}

	if len(backups) > keep {
		for _, old := range backups[:len(backups)-keep] {
			_ = os.Remove(old)
		}
	}
	return nil
}

// BookAuthorNames implements catalog.Store: returns ordered author names
// per book id via a single join query, avoiding N+1 lookups when browsing.
func (b *Backend) BookAuthorNames(ctx context.Context, bookIDs []string) (map[string][]string, error) {
	result := make(map[string][]string, len(bookIDs))
	if len(bookIDs) == 0 {
		return result, nil
	}

	placeholders := make([]string, len(bookIDs))
	args := make([]any, len(bookIDs))
	for i, id := range bookIDs {
		placeholders[i] = "?"
		args[i] = id
	}

	q := `
SELECT ba.book_id, a.name
FROM book_authors ba
JOIN authors a ON a.id = ba.author_id
WHERE ba.book_id IN (` + strings.Join(placeholders, ",") + `)
ORDER BY ba.book_id, ba.position`

	rows, err := b.conn(ctx).QueryContext(ctx, q, args...)
	if err != nil {
		return nil, apperr.Catalog("query book authors", err)
	}
	defer rows.Close()

	for rows.Next() {
		var bookID, name string
		if err := rows.Scan(&bookID, &name); err != nil {
			return nil, apperr.Catalog("scan book author", err)
		}
		result[bookID] = append(result[bookID], name)
	}
	return result, rows.Err()
}
