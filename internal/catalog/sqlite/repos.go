package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/banux/zlibrary/internal/apperr"
	"github.com/banux/zlibrary/internal/catalog"
)

// --- books ---

type bookRepo struct{ b *Backend }

func (r bookRepo) Create(ctx context.Context, bk catalog.Book) error {
	now := time.Now().Unix()
	_, err := r.b.conn(ctx).ExecContext(ctx, `
INSERT INTO books (id, hash, title, year, publisher, language, extension, size_human, size_bytes,
                    cover_url, description, isbn, edition, pages, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		bk.ID, bk.Hash, bk.Title, bk.Year, bk.Publisher, bk.Language, bk.Extension, bk.SizeHuman, bk.SizeBytes,
		bk.CoverURL, bk.Description, bk.ISBN, bk.Edition, bk.Pages, now, now)
	if err != nil {
		if isUniqueViolation(err) {
			return apperr.Duplicate(fmt.Sprintf("book %q already exists", bk.ID))
		}
		return apperr.Catalog("insert book", err)
	}
	return nil
}

func (r bookRepo) GetByID(ctx context.Context, id string) (catalog.Book, error) {
	row := r.b.conn(ctx).QueryRowContext(ctx, `
SELECT id, hash, title, year, publisher, language, extension, size_human, size_bytes,
       cover_url, description, isbn, edition, pages, created_at, updated_at
FROM books WHERE id = ?`, id)
	bk, err := scanBook(row)
	if errors.Is(err, sql.ErrNoRows) {
		return catalog.Book{}, apperr.NotFound(fmt.Sprintf("book %q not found", id))
	}
	if err != nil {
		return catalog.Book{}, apperr.Catalog("get book", err)
	}
	return bk, nil
}

// Upsert inserts bk if absent, otherwise updates every mutable column and
// refreshes UpdatedAt, leaving CreatedAt untouched (spec §4.6 invariant 1).
func (r bookRepo) Upsert(ctx context.Context, bk catalog.Book) error {
	now := time.Now().Unix()
	_, err := r.b.conn(ctx).ExecContext(ctx, `
INSERT INTO books (id, hash, title, year, publisher, language, extension, size_human, size_bytes,
                    cover_url, description, isbn, edition, pages, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    hash = excluded.hash,
    title = excluded.title,
    year = excluded.year,
    publisher = excluded.publisher,
    language = excluded.language,
    extension = excluded.extension,
    size_human = excluded.size_human,
    size_bytes = excluded.size_bytes,
    cover_url = excluded.cover_url,
    description = excluded.description,
    isbn = excluded.isbn,
    edition = excluded.edition,
    pages = excluded.pages,
    updated_at = excluded.updated_at`,
		bk.ID, bk.Hash, bk.Title, bk.Year, bk.Publisher, bk.Language, bk.Extension, bk.SizeHuman, bk.SizeBytes,
		bk.CoverURL, bk.Description, bk.ISBN, bk.Edition, bk.Pages, now, now)
	if err != nil {
		return apperr.Catalog("upsert book", err)
	}
	return nil
}

func (r bookRepo) Update(ctx context.Context, bk catalog.Book) error {
	res, err := r.b.conn(ctx).ExecContext(ctx, `
UPDATE books SET hash=?, title=?, year=?, publisher=?, language=?, extension=?, size_human=?,
                 size_bytes=?, cover_url=?, description=?, isbn=?, edition=?, pages=?, updated_at=?
WHERE id=?`,
		bk.Hash, bk.Title, bk.Year, bk.Publisher, bk.Language, bk.Extension, bk.SizeHuman,
		bk.SizeBytes, bk.CoverURL, bk.Description, bk.ISBN, bk.Edition, bk.Pages, time.Now().Unix(), bk.ID)
	if err != nil {
		return apperr.Catalog("update book", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return apperr.NotFound(fmt.Sprintf("book %q not found", bk.ID))
	}
	return nil
}

func (r bookRepo) Delete(ctx context.Context, id string) error {
	res, err := r.b.conn(ctx).ExecContext(ctx, `DELETE FROM books WHERE id = ?`, id)
	if err != nil {
		return apperr.Catalog("delete book", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return apperr.NotFound(fmt.Sprintf("book %q not found", id))
	}
	return nil
}

func (r bookRepo) Search(ctx context.Context, filter catalog.SearchFilter, limit, offset int) ([]catalog.Book, error) {
	where, args := buildWhere(filter)
	order := orderClause(filter.Order)

	q := `
SELECT id, hash, title, year, publisher, language, extension, size_human, size_bytes,
       cover_url, description, isbn, edition, pages, created_at, updated_at
FROM books` + where + order + ` LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := r.b.conn(ctx).QueryContext(ctx, q, args...)
	if err != nil {
		return nil, apperr.Catalog("search books", err)
	}
	defer rows.Close()

	var out []catalog.Book
	for rows.Next() {
		bk, err := scanBookRows(rows)
		if err != nil {
			return nil, apperr.Catalog("scan book", err)
		}
		out = append(out, bk)
	}
	return out, rows.Err()
}

func (r bookRepo) Count(ctx context.Context, filter catalog.SearchFilter) (int, error) {
	where, args := buildWhere(filter)
	var n int
	err := r.b.conn(ctx).QueryRowContext(ctx, `SELECT COUNT(*) FROM books`+where, args...).Scan(&n)
	if err != nil {
		return 0, apperr.Catalog("count books", err)
	}
	return n, nil
}

func buildWhere(f catalog.SearchFilter) (string, []any) {
	var clauses []string
	var args []any

	if f.TitleContains != "" {
		clauses = append(clauses, `title LIKE ? ESCAPE '\'`)
		args = append(args, "%"+escapeLike(f.TitleContains)+"%")
	}
	if f.Language != "" {
		clauses = append(clauses, `language = ?`)
		args = append(args, f.Language)
	}
	if f.Extension != "" {
		clauses = append(clauses, `extension = ?`)
		args = append(args, f.Extension)
	}
	if f.YearFrom != "" {
		clauses = append(clauses, `year >= ?`)
		args = append(args, f.YearFrom)
	}
	if f.YearTo != "" {
		clauses = append(clauses, `year <= ?`)
		args = append(args, f.YearTo)
	}
	if f.Author != "" {
		clauses = append(clauses, `id IN (SELECT ba.book_id FROM book_authors ba JOIN authors a ON a.id = ba.author_id WHERE a.name LIKE ? ESCAPE '\')`)
		args = append(args, "%"+escapeLike(f.Author)+"%")
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}

func orderClause(o catalog.SortOrder) string {
	switch o {
	case catalog.SortByYear:
		return " ORDER BY year DESC, title ASC"
	case catalog.SortByPopular:
		return " ORDER BY (SELECT COUNT(*) FROM downloads d WHERE d.book_id = books.id) DESC, title ASC"
	default:
		return " ORDER BY title ASC"
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBook(row *sql.Row) (catalog.Book, error) { return scanBookGeneric(row) }

func scanBookRows(rows *sql.Rows) (catalog.Book, error) { return scanBookGeneric(rows) }

func scanBookGeneric(s rowScanner) (catalog.Book, error) {
	var bk catalog.Book
	var created, updated int64
	err := s.Scan(&bk.ID, &bk.Hash, &bk.Title, &bk.Year, &bk.Publisher, &bk.Language, &bk.Extension,
		&bk.SizeHuman, &bk.SizeBytes, &bk.CoverURL, &bk.Description, &bk.ISBN, &bk.Edition, &bk.Pages,
		&created, &updated)
	if err != nil {
		return catalog.Book{}, err
	}
	bk.CreatedAt = time.Unix(created, 0).UTC()
	bk.UpdatedAt = time.Unix(updated, 0).UTC()
	return bk, nil
}

// --- authors ---

type authorRepo struct{ b *Backend }

func (r authorRepo) GetOrCreate(ctx context.Context, name string) (int64, error) {
	conn := r.b.conn(ctx)

	var id int64
	err := conn.QueryRowContext(ctx, `SELECT id FROM authors WHERE name = ?`, name).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, apperr.Catalog("lookup author", err)
	}

	res, err := conn.ExecContext(ctx, `INSERT INTO authors (name) VALUES (?)`, name)
	if err != nil {
		if isUniqueViolation(err) {
			// Lost a race with a concurrent insert; re-read.
			if err2 := conn.QueryRowContext(ctx, `SELECT id FROM authors WHERE name = ?`, name).Scan(&id); err2 == nil {
				return id, nil
			}
		}
		return 0, apperr.Catalog("create author", err)
	}
	return res.LastInsertId()
}

// --- book_authors ---

type bookAuthorRepo struct{ b *Backend }

func (r bookAuthorRepo) Link(ctx context.Context, bookID string, authorID int64, position int) error {
	_, err := r.b.conn(ctx).ExecContext(ctx, `
INSERT INTO book_authors (book_id, author_id, position) VALUES (?, ?, ?)
ON CONFLICT(book_id, author_id) DO UPDATE SET position = excluded.position`,
		bookID, authorID, position)
	if err != nil {
		return apperr.Catalog("link author to book", err)
	}
	return nil
}

// --- reading lists ---

type listRepo struct{ b *Backend }

func (r listRepo) Create(ctx context.Context, name, description string) (catalog.ReadingList, error) {
	now := time.Now()
	res, err := r.b.conn(ctx).ExecContext(ctx, `
INSERT INTO reading_lists (name, description, created_at) VALUES (?, ?, ?)`,
		name, description, now.Unix())
	if err != nil {
		if isUniqueViolation(err) {
			return catalog.ReadingList{}, apperr.Duplicate(fmt.Sprintf("reading list %q already exists", name))
		}
		return catalog.ReadingList{}, apperr.Catalog("create reading list", err)
	}
	id, _ := res.LastInsertId()
	return catalog.ReadingList{ID: id, Name: name, Description: description, CreatedAt: now}, nil
}

func (r listRepo) GetByName(ctx context.Context, name string) (catalog.ReadingList, error) {
	var l catalog.ReadingList
	var created int64
	err := r.b.conn(ctx).QueryRowContext(ctx, `
SELECT id, name, description, created_at FROM reading_lists WHERE name = ?`, name).
		Scan(&l.ID, &l.Name, &l.Description, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return catalog.ReadingList{}, apperr.NotFound(fmt.Sprintf("reading list %q not found", name))
	}
	if err != nil {
		return catalog.ReadingList{}, apperr.Catalog("get reading list", err)
	}
	l.CreatedAt = time.Unix(created, 0).UTC()
	return l, nil
}

func (r listRepo) ListAll(ctx context.Context) ([]catalog.ReadingList, error) {
	rows, err := r.b.conn(ctx).QueryContext(ctx, `
SELECT id, name, description, created_at FROM reading_lists ORDER BY name`)
	if err != nil {
		return nil, apperr.Catalog("list reading lists", err)
	}
	defer rows.Close()

	var out []catalog.ReadingList
	for rows.Next() {
		var l catalog.ReadingList
		var created int64
		if err := rows.Scan(&l.ID, &l.Name, &l.Description, &created); err != nil {
			return nil, apperr.Catalog("scan reading list", err)
		}
		l.CreatedAt = time.Unix(created, 0).UTC()
		out = append(out, l)
	}
	return out, rows.Err()
}

func (r listRepo) AddBook(ctx context.Context, listID int64, bookID string) error {
	conn := r.b.conn(ctx)
	var nextPos int
	_ = conn.QueryRowContext(ctx, `SELECT COALESCE(MAX(position)+1, 0) FROM list_books WHERE list_id = ?`, listID).Scan(&nextPos)

	_, err := conn.ExecContext(ctx, `
INSERT INTO list_books (list_id, book_id, position, added_at) VALUES (?, ?, ?, ?)
ON CONFLICT(list_id, book_id) DO NOTHING`, listID, bookID, nextPos, time.Now().Unix())
	if err != nil {
		return apperr.Catalog("add book to list", err)
	}
	return nil
}

func (r listRepo) RemoveBook(ctx context.Context, listID int64, bookID string) error {
	res, err := r.b.conn(ctx).ExecContext(ctx, `DELETE FROM list_books WHERE list_id = ? AND book_id = ?`, listID, bookID)
	if err != nil {
		return apperr.Catalog("remove book from list", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return apperr.NotFound("book not in list")
	}
	return nil
}

func (r listRepo) GetBooks(ctx context.Context, listID int64) ([]catalog.Book, error) {
	rows, err := r.b.conn(ctx).QueryContext(ctx, `
SELECT b.id, b.hash, b.title, b.year, b.publisher, b.language, b.extension, b.size_human, b.size_bytes,
       b.cover_url, b.description, b.isbn, b.edition, b.pages, b.created_at, b.updated_at
FROM books b
JOIN list_books lb ON lb.book_id = b.id
WHERE lb.list_id = ?
ORDER BY lb.position`, listID)
	if err != nil {
		return nil, apperr.Catalog("list books in reading list", err)
	}
	defer rows.Close()

	var out []catalog.Book
	for rows.Next() {
		bk, err := scanBookRows(rows)
		if err != nil {
			return nil, apperr.Catalog("scan book", err)
		}
		out = append(out, bk)
	}
	return out, rows.Err()
}

func (r listRepo) Delete(ctx context.Context, listID int64) error {
	res, err := r.b.conn(ctx).ExecContext(ctx, `DELETE FROM reading_lists WHERE id = ?`, listID)
	if err != nil {
		return apperr.Catalog("delete reading list", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return apperr.NotFound("reading list not found")
	}
	return nil
}

// --- saved books ---

type savedRepo struct{ b *Backend }

func (r savedRepo) Save(ctx context.Context, bookID, notes string, tags []string, priority int) error {
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}
	_, err = r.b.conn(ctx).ExecContext(ctx, `
INSERT INTO saved_books (book_id, notes, tags, priority, saved_at) VALUES (?, ?, ?, ?, ?)
ON CONFLICT(book_id) DO UPDATE SET notes = excluded.notes, tags = excluded.tags, priority = excluded.priority`,
		bookID, notes, string(tagsJSON), priority, time.Now().Unix())
	if err != nil {
		return apperr.Catalog("save book", err)
	}
	return nil
}

func (r savedRepo) Unsave(ctx context.Context, bookID string) error {
	res, err := r.b.conn(ctx).ExecContext(ctx, `DELETE FROM saved_books WHERE book_id = ?`, bookID)
	if err != nil {
		return apperr.Catalog("unsave book", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return apperr.NotFound(fmt.Sprintf("book %q is not saved", bookID))
	}
	return nil
}

func (r savedRepo) ListAll(ctx context.Context) ([]catalog.SavedBook, error) {
	rows, err := r.b.conn(ctx).QueryContext(ctx, `
SELECT id, book_id, notes, tags, priority, saved_at FROM saved_books ORDER BY priority DESC, saved_at DESC`)
	if err != nil {
		return nil, apperr.Catalog("list saved books", err)
	}
	defer rows.Close()

	var out []catalog.SavedBook
	for rows.Next() {
		var s catalog.SavedBook
		var tagsJSON string
		var saved int64
		if err := rows.Scan(&s.ID, &s.BookID, &s.Notes, &tagsJSON, &s.Priority, &saved); err != nil {
			return nil, apperr.Catalog("scan saved book", err)
		}
		_ = json.Unmarshal([]byte(tagsJSON), &s.Tags)
		s.SavedAt = time.Unix(saved, 0).UTC()
		out = append(out, s)
	}
	return out, rows.Err()
}

// --- downloads ---

type downloadRepo struct{ b *Backend }

func (r downloadRepo) Record(ctx context.Context, d catalog.Download) error {
	ts := d.DownloadedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err := r.b.conn(ctx).ExecContext(ctx, `
INSERT INTO downloads (book_id, credential_identity, filename, file_path, size_bytes, status, error_message, downloaded_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		d.BookID, d.CredentialIdentity, d.Filename, d.FilePath, d.SizeBytes, d.Status.String(), d.ErrorMessage, ts.Unix())
	if err != nil {
		return apperr.Catalog("record download", err)
	}
	return nil
}

func (r downloadRepo) ListRecent(ctx context.Context, limit int) ([]catalog.Download, error) {
	rows, err := r.b.conn(ctx).QueryContext(ctx, `
SELECT id, book_id, credential_identity, filename, file_path, size_bytes, status, error_message, downloaded_at
FROM downloads ORDER BY downloaded_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, apperr.Catalog("list recent downloads", err)
	}
	defer rows.Close()
	return scanDownloads(rows)
}

func (r downloadRepo) ListByCredential(ctx context.Context, identity string) ([]catalog.Download, error) {
	rows, err := r.b.conn(ctx).QueryContext(ctx, `
SELECT id, book_id, credential_identity, filename, file_path, size_bytes, status, error_message, downloaded_at
FROM downloads WHERE credential_identity = ? ORDER BY downloaded_at DESC`, identity)
	if err != nil {
		return nil, apperr.Catalog("list downloads by credential", err)
	}
	defer rows.Close()
	return scanDownloads(rows)
}

func scanDownloads(rows *sql.Rows) ([]catalog.Download, error) {
	var out []catalog.Download
	for rows.Next() {
		var d catalog.Download
		var status string
		var ts int64
		if err := rows.Scan(&d.ID, &d.BookID, &d.CredentialIdentity, &d.Filename, &d.FilePath,
			&d.SizeBytes, &status, &d.ErrorMessage, &ts); err != nil {
			return nil, apperr.Catalog("scan download", err)
		}
		if status == "failed" {
			d.Status = catalog.DownloadFailed
		} else {
			d.Status = catalog.DownloadCompleted
		}
		d.DownloadedAt = time.Unix(ts, 0).UTC()
		out = append(out, d)
	}
	return out, rows.Err()
}

// --- search history ---

type historyRepo struct{ b *Backend }

func (r historyRepo) Record(ctx context.Context, rawQuery, filters string) error {
	_, err := r.b.conn(ctx).ExecContext(ctx, `
INSERT INTO search_history (raw_query, filters, found_at) VALUES (?, ?, ?)`,
		rawQuery, filters, time.Now().Unix())
	if err != nil {
		return apperr.Catalog("record search history", err)
	}
	return nil
}

func (r historyRepo) ListRecent(ctx context.Context, limit int) ([]catalog.SearchHistoryEntry, error) {
	rows, err := r.b.conn(ctx).QueryContext(ctx, `
SELECT id, raw_query, filters, found_at FROM search_history ORDER BY found_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, apperr.Catalog("list search history", err)
	}
	defer rows.Close()

	var out []catalog.SearchHistoryEntry
	for rows.Next() {
		var e catalog.SearchHistoryEntry
		var ts int64
		if err := rows.Scan(&e.ID, &e.RawQuery, &e.Filters, &ts); err != nil {
			return nil, apperr.Catalog("scan search history", err)
		}
		e.FoundAt = time.Unix(ts, 0).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
