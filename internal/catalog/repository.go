package catalog

import "context"

// BookRepository is the C6 contract for the books table. upsert semantics
// are "insert if absent; otherwise update all mutable columns and refresh
// UpdatedAt" (spec §4.6).
type BookRepository interface {
	Create(ctx context.Context, b Book) error
	GetByID(ctx context.Context, id string) (Book, error)
	Upsert(ctx context.Context, b Book) error
	Update(ctx context.Context, b Book) error
	Delete(ctx context.Context, id string) error
	Search(ctx context.Context, filter SearchFilter, limit, offset int) ([]Book, error)
	Count(ctx context.Context, filter SearchFilter) (int, error)
}

// AuthorRepository is the C6 contract for the authors table.
type AuthorRepository interface {
	// GetOrCreate returns the existing or new surrogate id for name; it
	// never creates a duplicate row for the same name.
	GetOrCreate(ctx context.Context, name string) (int64, error)
}

// BookAuthorRepository links books to authors in a stable, per-book
// position order.
type BookAuthorRepository interface {
	Link(ctx context.Context, bookID string, authorID int64, position int) error
}

// ReadingListRepository is the C6 contract for reading_lists/list_books.
type ReadingListRepository interface {
	Create(ctx context.Context, name, description string) (ReadingList, error)
	GetByName(ctx context.Context, name string) (ReadingList, error)
	ListAll(ctx context.Context) ([]ReadingList, error)
	AddBook(ctx context.Context, listID int64, bookID string) error
	RemoveBook(ctx context.Context, listID int64, bookID string) error
	GetBooks(ctx context.Context, listID int64) ([]Book, error)
	Delete(ctx context.Context, listID int64) error
}

// SavedBookRepository is the C6 contract for saved_books.
type SavedBookRepository interface {
	Save(ctx context.Context, bookID, notes string, tags []string, priority int) error
	Unsave(ctx context.Context, bookID string) error
	ListAll(ctx context.Context) ([]SavedBook, error)
}

// DownloadRepository is the C6 contract for the append-only downloads table.
type DownloadRepository interface {
	Record(ctx context.Context, d Download) error
	ListRecent(ctx context.Context, limit int) ([]Download, error)
	ListByCredential(ctx context.Context, identity string) ([]Download, error)
}

// SearchHistoryRepository is the C6 contract for the append-only
// search_history table.
type SearchHistoryRepository interface {
	Record(ctx context.Context, rawQuery, filters string) error
	ListRecent(ctx context.Context, limit int) ([]SearchHistoryEntry, error)
}

// Store aggregates every repository plus the store-level operations (C6
// contracts as a whole) so C7 services can depend on one interface.
type Store interface {
	Books() BookRepository
	Authors() AuthorRepository
	BookAuthors() BookAuthorRepository
	ReadingLists() ReadingListRepository
	SavedBooks() SavedBookRepository
	Downloads() DownloadRepository
	SearchHistory() SearchHistoryRepository

	// BookAuthorNames returns the ordered author names for a book, via a
	// single join query (used by Browse to avoid N+1).
	BookAuthorNames(ctx context.Context, bookIDs []string) (map[string][]string, error)

	Stats(ctx context.Context) (Stats, error)
	Vacuum(ctx context.Context) error
	Backup(ctx context.Context, destDir string, keep int) (string, error)

	// WithTx runs fn inside a single transaction; a non-nil return aborts
	// with no partial writes.
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error

	Close() error
}
