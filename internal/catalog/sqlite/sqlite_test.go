package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/banux/zlibrary/internal/apperr"
	"github.com/banux/zlibrary/internal/catalog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestBackend(t *testing.T) *Backend {
	t.Helper()
	b, err := Open(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func sampleBook(id string) catalog.Book {
	return catalog.Book{
		ID:        id,
		Title:     "Book " + id,
		Year:      "2020",
		Language:  "en",
		Extension: "epub",
		SizeBytes: 1024,
	}
}

func TestBooks_Upsert_IsIdempotentAndUpdatesMutableFields(t *testing.T) {
	b := openTestBackend(t)
	ctx := context.Background()

	bk := sampleBook("book-1")
	require.NoError(t, b.Books().Upsert(ctx, bk))

	first, err := b.Books().GetByID(ctx, "book-1")
	require.NoError(t, err)

	bk.Title = "Updated Title"
	bk.Year = "2021"
	require.NoError(t, b.Books().Upsert(ctx, bk))

	second, err := b.Books().GetByID(ctx, "book-1")
	require.NoError(t, err)
	assert.Equal(t, "Updated Title", second.Title)
	assert.Equal(t, "2021", second.Year)
	assert.Equal(t, first.CreatedAt.Unix(), second.CreatedAt.Unix())

	n, err := b.Books().Count(ctx, catalog.SearchFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestBooks_GetByID_NotFound(t *testing.T) {
	b := openTestBackend(t)
	_, err := b.Books().GetByID(context.Background(), "missing")
	require.Error(t, err)
	ae, ok := err.(*apperr.Error)
	require.True(t, ok)
	assert.Equal(t, apperr.CodeNotFound, ae.Code)
}

func TestBooks_Delete_CascadesToAuthorsLinksAndDownloads(t *testing.T) {
	b := openTestBackend(t)
	ctx := context.Background()

	require.NoError(t, b.Books().Upsert(ctx, sampleBook("book-1")))
	authorID, err := b.Authors().GetOrCreate(ctx, "Jane Doe")
	require.NoError(t, err)
	require.NoError(t, b.BookAuthors().Link(ctx, "book-1", authorID, 0))
	require.NoError(t, b.Downloads().Record(ctx, catalog.Download{
		BookID: "book-1", Status: catalog.DownloadCompleted, DownloadedAt: time.Now(),
	}))

	require.NoError(t, b.Books().Delete(ctx, "book-1"))

	names, err := b.BookAuthorNames(ctx, []string{"book-1"})
	require.NoError(t, err)
	assert.Empty(t, names["book-1"])

	downloads, err := b.Downloads().ListRecent(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, downloads)
}

func TestBooks_Search_FiltersAndOrdering(t *testing.T) {
	b := openTestBackend(t)
	ctx := context.Background()

	require.NoError(t, b.Books().Upsert(ctx, catalog.Book{ID: "1", Title: "Alpha", Year: "1999", Language: "en", Extension: "pdf"}))
	require.NoError(t, b.Books().Upsert(ctx, catalog.Book{ID: "2", Title: "Beta", Year: "2005", Language: "fr", Extension: "epub"}))
	require.NoError(t, b.Books().Upsert(ctx, catalog.Book{ID: "3", Title: "Gamma", Year: "2010", Language: "en", Extension: "epub"}))

	results, err := b.Books().Search(ctx, catalog.SearchFilter{Language: "en"}, 10, 0)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "Alpha", results[0].Title)

	results, err = b.Books().Search(ctx, catalog.SearchFilter{TitleContains: "et"}, 10, 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "Beta", results[0].Title)

	results, err = b.Books().Search(ctx, catalog.SearchFilter{YearFrom: "2000"}, 10, 0)
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestBooks_Search_Pagination(t *testing.T) {
	b := openTestBackend(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, b.Books().Upsert(ctx, catalog.Book{ID: string(rune('a' + i)), Title: string(rune('A' + i))}))
	}

	page1, err := b.Books().Search(ctx, catalog.SearchFilter{}, 2, 0)
	require.NoError(t, err)
	assert.Len(t, page1, 2)

	pageLast, err := b.Books().Search(ctx, catalog.SearchFilter{}, 100, 4)
	require.NoError(t, err)
	assert.Len(t, pageLast, 1)

	pageBeyond, err := b.Books().Search(ctx, catalog.SearchFilter{}, 10, 100)
	require.NoError(t, err)
	assert.Empty(t, pageBeyond)
}

func TestAuthors_GetOrCreate_NoDuplicates(t *testing.T) {
	b := openTestBackend(t)
	ctx := context.Background()

	id1, err := b.Authors().GetOrCreate(ctx, "Ada Lovelace")
	require.NoError(t, err)
	id2, err := b.Authors().GetOrCreate(ctx, "Ada Lovelace")
	require.NoError(t, err)
	assert.Equal(t, id1, id2)
}

func TestBookAuthorNames_OrderedByPosition(t *testing.T) {
	b := openTestBackend(t)
	ctx := context.Background()
	require.NoError(t, b.Books().Upsert(ctx, sampleBook("book-1")))

	id2, _ := b.Authors().GetOrCreate(ctx, "Second Author")
	id1, _ := b.Authors().GetOrCreate(ctx, "First Author")
	require.NoError(t, b.BookAuthors().Link(ctx, "book-1", id2, 1))
	require.NoError(t, b.BookAuthors().Link(ctx, "book-1", id1, 0))

	names, err := b.BookAuthorNames(ctx, []string{"book-1"})
	require.NoError(t, err)
	require.Equal(t, []string{"First Author", "Second Author"}, names["book-1"])
}

func TestReadingLists_CreateGetAddRemoveDelete(t *testing.T) {
	b := openTestBackend(t)
	ctx := context.Background()
	require.NoError(t, b.Books().Upsert(ctx, sampleBook("book-1")))

	list, err := b.ReadingLists().Create(ctx, "Favorites", "my favorites")
	require.NoError(t, err)

	_, err = b.ReadingLists().Create(ctx, "Favorites", "dup")
	require.Error(t, err)

	require.NoError(t, b.ReadingLists().AddBook(ctx, list.ID, "book-1"))
	books, err := b.ReadingLists().GetBooks(ctx, list.ID)
	require.NoError(t, err)
	require.Len(t, books, 1)

	require.NoError(t, b.ReadingLists().RemoveBook(ctx, list.ID, "book-1"))
	books, err = b.ReadingLists().GetBooks(ctx, list.ID)
	require.NoError(t, err)
	assert.Empty(t, books)

	require.NoError(t, b.ReadingLists().Delete(ctx, list.ID))
	_, err = b.ReadingLists().GetByName(ctx, "Favorites")
	require.Error(t, err)
}

func TestSavedBooks_SaveUnsaveListAll(t *testing.T) {
	b := openTestBackend(t)
	ctx := context.Background()
	require.NoError(t, b.Books().Upsert(ctx, sampleBook("book-1")))

	require.NoError(t, b.SavedBooks().Save(ctx, "book-1", "great read", []string{"fiction"}, 5))
	saved, err := b.SavedBooks().ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, saved, 1)
	assert.Equal(t, []string{"fiction"}, saved[0].Tags)

	require.NoError(t, b.SavedBooks().Unsave(ctx, "book-1"))
	saved, err = b.SavedBooks().ListAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, saved)
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	b := openTestBackend(t)
	ctx := context.Background()

	err := b.WithTx(ctx, func(ctx context.Context) error {
		if err := b.Books().Upsert(ctx, sampleBook("book-1")); err != nil {
			return err
		}
		return assert.AnError
	})
	require.Error(t, err)

	_, err = b.Books().GetByID(ctx, "book-1")
	require.Error(t, err)
}

func TestStats_ReportsCounts(t *testing.T) {
	b := openTestBackend(t)
	ctx := context.Background()
	require.NoError(t, b.Books().Upsert(ctx, sampleBook("book-1")))
	require.NoError(t, b.Downloads().Record(ctx, catalog.Download{BookID: "book-1", Status: catalog.DownloadCompleted, DownloadedAt: time.Now()}))

	st, err := b.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.TotalBooks)
	assert.Equal(t, 1, st.TotalDownloads)
}

func TestSearch_InjectionSafeFilter(t *testing.T) {
	b := openTestBackend(t)
	ctx := context.Background()
	require.NoError(t, b.Books().Upsert(ctx, sampleBook("book-1")))

	results, err := b.Books().Search(ctx, catalog.SearchFilter{TitleContains: "'; DROP TABLE books; --"}, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, results)

	n, err := b.Books().Count(ctx, catalog.SearchFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestBackup_CreatesFileAndPrunesOldest(t *testing.T) {
	b := openTestBackend(t)
	ctx := context.Background()
	require.NoError(t, b.Books().Upsert(ctx, sampleBook("book-1")))

	dir := t.TempDir()
	for i := 0; i < 3; i++ {
		_, err := b.Backup(ctx, dir, 2)
		require.NoError(t, err)
		time.Sleep(1100 * time.Millisecond)
	}

	entries, err := filepathGlob(dir)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(entries), 2)
}

func filepathGlob(dir string) ([]string, error) {
	return filepath.Glob(filepath.Join(dir, "catalog-*.db"))
}
