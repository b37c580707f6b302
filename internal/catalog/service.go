package catalog

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/banux/zlibrary/internal/apperr"
)

// Service is the C7 orchestration layer over the C6 repositories: it is
// the only thing callers (the orchestrator and the CLI) talk to for
// catalog operations. Grounded on the teacher's Catalog type, which
// likewise sat in front of its backend and did author splitting/joining
// that the raw repository layer had no business doing.
type Service struct {
	store Store
}

// NewService wraps store in catalog business logic.
func NewService(store Store) *Service { return &Service{store: store} }

var authorSplitRe = regexp.MustCompile(`\s*(?:,|;|\band\b)\s*`)

// SplitAuthors breaks a raw, unstructured author string into individual
// names on ",", ";", and the literal word "and" (spec §4.7 "Ingest").
func SplitAuthors(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := authorSplitRe.Split(raw, -1)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// validateBook rejects the malformed-input boundary cases spec §6.3/§8
// calls out: a book with no id, or an id but an empty title.
func validateBook(b Book) error {
	if strings.TrimSpace(b.ID) == "" {
		return apperr.Catalog("validate book", fmt.Errorf("book id is required"))
	}
	if strings.TrimSpace(b.Title) == "" {
		return apperr.Catalog("validate book", fmt.Errorf("book %q: title is required", b.ID))
	}
	return nil
}

// IngestBook upserts a single book plus its authors (split from rawAuthors)
// atomically: the book row, the author rows, and the book_authors links all
// land in one transaction so Browse never observes a book with no authors
// mid-ingest.
func (s *Service) IngestBook(ctx context.Context, b Book, rawAuthors string) error {
	return s.store.WithTx(ctx, func(ctx context.Context) error {
		return s.ingestBookTx(ctx, b, rawAuthors)
	})
}

// ingestBookTx runs the ingest path against an already-open transaction on
// ctx. Callers that need several books in one transaction (ImportJSON,
// ImportCSV) call this directly instead of IngestBook, since WithTx does not
// nest.
func (s *Service) ingestBookTx(ctx context.Context, b Book, rawAuthors string) error {
	if err := validateBook(b); err != nil {
		return err
	}
	if err := s.store.Books().Upsert(ctx, b); err != nil {
		return fmt.Errorf("upsert book %q: %w", b.ID, err)
	}
	for i, name := range SplitAuthors(rawAuthors) {
		authorID, err := s.store.Authors().GetOrCreate(ctx, name)
		if err != nil {
			return fmt.Errorf("get or create author %q: %w", name, err)
		}
		if err := s.store.BookAuthors().Link(ctx, b.ID, authorID, i); err != nil {
			return fmt.Errorf("link author %q to book %q: %w", name, b.ID, err)
		}
	}
	return nil
}

// IngestSearchResults ingests a batch of books discovered by a search,
// continuing past individual failures so one bad record doesn't drop the
// rest of a page (spec §4.7 invariant: partial ingest never loses already
// persisted rows).
func (s *Service) IngestSearchResults(ctx context.Context, books []Book, rawAuthors []string) (ingested int, errs []error) {
	for i, b := range books {
		raw := ""
		if i < len(rawAuthors) {
			raw = rawAuthors[i]
		}
		if err := s.IngestBook(ctx, b, raw); err != nil {
			errs = append(errs, err)
			continue
		}
		ingested++
	}
	return ingested, errs
}

// Browse returns a page of books matching filter with Authors populated via
// a single follow-up join query, never one query per book.
func (s *Service) Browse(ctx context.Context, filter SearchFilter, limit, offset int) ([]Book, int, error) {
	if limit <= 0 {
		limit = 50
	}
	books, err := s.store.Books().Search(ctx, filter, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("search books: %w", err)
	}
	total, err := s.store.Books().Count(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("count books: %w", err)
	}

	ids := make([]string, len(books))
	for i, b := range books {
		ids[i] = b.ID
	}
	names, err := s.store.BookAuthorNames(ctx, ids)
	if err != nil {
		return nil, 0, fmt.Errorf("load authors: %w", err)
	}
	for i := range books {
		books[i].Authors = names[books[i].ID]
	}
	return books, total, nil
}

// Show returns a single book with its authors populated.
func (s *Service) Show(ctx context.Context, id string) (Book, error) {
	b, err := s.store.Books().GetByID(ctx, id)
	if err != nil {
		return Book{}, err
	}
	names, err := s.store.BookAuthorNames(ctx, []string{id})
	if err != nil {
		return Book{}, fmt.Errorf("load authors: %w", err)
	}
	b.Authors = names[id]
	return b, nil
}

// CreateList creates a named reading list. It returns apperr.Duplicate if
// name is already taken (spec §4.7 invariant: list names are unique).
func (s *Service) CreateList(ctx context.Context, name, description string) (ReadingList, error) {
	if _, err := s.store.ReadingLists().GetByName(ctx, name); err == nil {
		return ReadingList{}, apperr.Duplicate(fmt.Sprintf("reading list %q already exists", name))
	} else if ae, ok := err.(*apperr.Error); !ok || ae.Code != apperr.CodeNotFound {
		return ReadingList{}, err
	}
	return s.store.ReadingLists().Create(ctx, name, description)
}

// AddToList adds bookID to the named list, resolving the list by name.
func (s *Service) AddToList(ctx context.Context, listName, bookID string) error {
	list, err := s.store.ReadingLists().GetByName(ctx, listName)
	if err != nil {
		return err
	}
	return s.store.ReadingLists().AddBook(ctx, list.ID, bookID)
}

// RemoveFromList removes bookID from the named list.
func (s *Service) RemoveFromList(ctx context.Context, listName, bookID string) error {
	list, err := s.store.ReadingLists().GetByName(ctx, listName)
	if err != nil {
		return err
	}
	return s.store.ReadingLists().RemoveBook(ctx, list.ID, bookID)
}

// ListBooks returns every book in the named list, in the order added.
func (s *Service) ListBooks(ctx context.Context, listName string) ([]Book, error) {
	list, err := s.store.ReadingLists().GetByName(ctx, listName)
	if err != nil {
		return nil, err
	}
	return s.store.ReadingLists().GetBooks(ctx, list.ID)
}

// DeleteList removes a reading list and its membership rows (cascade).
func (s *Service) DeleteList(ctx context.Context, listName string) error {
	list, err := s.store.ReadingLists().GetByName(ctx, listName)
	if err != nil {
		return err
	}
	return s.store.ReadingLists().Delete(ctx, list.ID)
}

// SaveBook bookmarks a book with optional notes/tags/priority.
func (s *Service) SaveBook(ctx context.Context, bookID, notes string, tags []string, priority int) error {
	return s.store.SavedBooks().Save(ctx, bookID, notes, tags, priority)
}

// UnsaveBook removes a bookmark.
func (s *Service) UnsaveBook(ctx context.Context, bookID string) error {
	return s.store.SavedBooks().Unsave(ctx, bookID)
}

// SavedBooks lists every bookmark.
func (s *Service) SavedBooks(ctx context.Context) ([]SavedBook, error) {
	return s.store.SavedBooks().ListAll(ctx)
}

// RecordDownload appends a download attempt record (success or failure).
func (s *Service) RecordDownload(ctx context.Context, d Download) error {
	d.DownloadedAt = time.Now()
	return s.store.Downloads().Record(ctx, d)
}

// RecentDownloads returns the most recent download records, newest first.
func (s *Service) RecentDownloads(ctx context.Context, limit int) ([]Download, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.Downloads().ListRecent(ctx, limit)
}

// RecordSearch appends a search_history row.
func (s *Service) RecordSearch(ctx context.Context, rawQuery, filters string) error {
	return s.store.SearchHistory().Record(ctx, rawQuery, filters)
}

// Stats reports aggregate catalog counters.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	return s.store.Stats(ctx)
}

// Vacuum compacts the underlying store.
func (s *Service) Vacuum(ctx context.Context) error {
	return s.store.Vacuum(ctx)
}

// Backup snapshots the catalog, keeping at most keep backups.
func (s *Service) Backup(ctx context.Context, destDir string, keep int) (string, error) {
	return s.store.Backup(ctx, destDir, keep)
}

// exportColumns is the fixed column order for CSV export (spec §4.7 "Export"):
// id,title,authors,year,publisher,language,extension,filesize,isbn, with
// authors joined by ";".
var exportColumns = []string{"id", "title", "authors", "year", "publisher", "language", "extension", "filesize", "isbn"}

// ExportJSON returns the full catalog (with authors populated) as an
// indented JSON array.
func (s *Service) ExportJSON(ctx context.Context) ([]byte, error) {
	books, _, err := s.Browse(ctx, SearchFilter{}, 1<<30, 0)
	if err != nil {
		return nil, fmt.Errorf("browse for export: %w", err)
	}
	data, err := json.MarshalIndent(books, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal export: %w", err)
	}
	return data, nil
}

// ExportCSV writes the full catalog to w in the fixed column order spec §4.7
// requires, joining multiple authors with ";".
func (s *Service) ExportCSV(ctx context.Context, w *csv.Writer) error {
	books, _, err := s.Browse(ctx, SearchFilter{}, 1<<30, 0)
	if err != nil {
		return fmt.Errorf("browse for export: %w", err)
	}
	if err := w.Write(exportColumns); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, b := range books {
		row := []string{
			b.ID,
			b.Title,
			strings.Join(b.Authors, ";"),
			b.Year,
			b.Publisher,
			b.Language,
			b.Extension,
			strconv.FormatInt(b.SizeBytes, 10),
			b.ISBN,
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("write csv row for %q: %w", b.ID, err)
		}
	}
	w.Flush()
	return w.Error()
}

// ImportJSON reads a JSON array of books (as produced by ExportJSON) and
// ingests all of them inside a single transaction: a malformed record aborts
// the whole import with no partial writes (spec §4.7 "Import").
func (s *Service) ImportJSON(ctx context.Context, data []byte) (ingested int, errs []error) {
	var books []Book
	if err := json.Unmarshal(data, &books); err != nil {
		return 0, []error{fmt.Errorf("parse import json: %w", err)}
	}
	err := s.store.WithTx(ctx, func(ctx context.Context) error {
		for _, b := range books {
			authors := strings.Join(b.Authors, ", ")
			if err := s.ingestBookTx(ctx, b, authors); err != nil {
				return fmt.Errorf("import book %q: %w", b.ID, err)
			}
			ingested++
		}
		return nil
	})
	if err != nil {
		return 0, []error{err}
	}
	return ingested, nil
}

// ImportCSV reads rows in the ExportCSV column order and ingests all of them
// inside a single transaction: a malformed record aborts the whole import
// with no partial writes (spec §4.7 "Import").
func (s *Service) ImportCSV(ctx context.Context, r *csv.Reader) (ingested int, errs []error) {
	header, err := r.Read()
	if err != nil {
		return 0, []error{fmt.Errorf("read csv header: %w", err)}
	}
	col := make(map[string]int, len(header))
	for i, h := range header {
		col[h] = i
	}

	var rows []Book
	var rawAuthors []string
	for {
		rec, err := r.Read()
		if err != nil {
			break
		}
		sizeBytes, _ := strconv.ParseInt(get(rec, col, "filesize"), 10, 64)
		rows = append(rows, Book{
			ID:        get(rec, col, "id"),
			Title:     get(rec, col, "title"),
			Year:      get(rec, col, "year"),
			Publisher: get(rec, col, "publisher"),
			Language:  get(rec, col, "language"),
			Extension: get(rec, col, "extension"),
			ISBN:      get(rec, col, "isbn"),
			SizeBytes: sizeBytes,
		})
		rawAuthors = append(rawAuthors, strings.ReplaceAll(get(rec, col, "authors"), ";", ", "))
	}

	txErr := s.store.WithTx(ctx, func(ctx context.Context) error {
		for i, b := range rows {
			if err := s.ingestBookTx(ctx, b, rawAuthors[i]); err != nil {
				return fmt.Errorf("import book %q: %w", b.ID, err)
			}
			ingested++
		}
		return nil
	})
	if txErr != nil {
		return 0, []error{txErr}
	}
	return ingested, nil
}

func get(rec []string, col map[string]int, name string) string {
	i, ok := col[name]
	if !ok || i >= len(rec) {
		return ""
	}
	return rec[i]
}
