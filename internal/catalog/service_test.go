package catalog_test

import (
	"context"
	"encoding/csv"
	"path/filepath"
	"strings"
	"testing"

	. "github.com/banux/zlibrary/internal/catalog"
	"github.com/banux/zlibrary/internal/catalog/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	b, err := sqlite.Open(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return NewService(b)
}

func TestSplitAuthors(t *testing.T) {
	cases := []struct {
		raw  string
		want []string
	}{
		{"Jane Doe, John Smith", []string{"Jane Doe", "John Smith"}},
		{"Jane Doe; John Smith", []string{"Jane Doe", "John Smith"}},
		{"Jane Doe and John Smith", []string{"Jane Doe", "John Smith"}},
		{"Jane Doe, John Smith and Ann Lee", []string{"Jane Doe", "John Smith", "Ann Lee"}},
		{"", nil},
		{"   ", nil},
		{"Solo Author", []string{"Solo Author"}},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, SplitAuthors(tc.raw))
	}
}

func TestIngestBook_IsIdempotent(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	b := Book{ID: "book-1", Title: "Test Book", Year: "2020"}
	require.NoError(t, svc.IngestBook(ctx, b, "Jane Doe, John Smith"))
	require.NoError(t, svc.IngestBook(ctx, b, "Jane Doe, John Smith"))

	got, err := svc.Show(ctx, "book-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"Jane Doe", "John Smith"}, got.Authors)

	stats, err := svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalBooks)
}

func TestIngestSearchResults_IngestsEveryRecord(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	books := []Book{
		{ID: "ok-1", Title: "First"},
		{ID: "ok-2", Title: "Second"},
		{ID: "ok-3", Title: "Third"},
	}
	authors := []string{"A", "B", "C"}

	ingested, errs := svc.IngestSearchResults(ctx, books, authors)
	assert.Empty(t, errs)
	assert.Equal(t, 3, ingested)

	_, total, err := svc.Browse(ctx, SearchFilter{}, 50, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
}

func TestIngestSearchResults_ContinuesPastFailure(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.IngestBook(ctx, Book{ID: "ok-1", Title: "First"}, "A"))

	cancelled, cancel := context.WithCancel(ctx)
	cancel()

	books := []Book{
		{ID: "ok-1", Title: "First updated"},
		{ID: "fails-due-to-cancellation", Title: "Second"},
		{ID: "ok-2", Title: "Third"},
	}
	authors := []string{"A", "B", "C"}

	// A context cancelled before the batch starts fails every ingest call.
	// The batch still attempts all three records (one error each) instead of
	// stopping at the first failure, and the book committed before the batch
	// still reads back with its original title.
	ingested, errs := svc.IngestSearchResults(cancelled, books, authors)
	assert.Equal(t, 0, ingested)
	assert.Len(t, errs, 3)

	got, err := svc.Show(ctx, "ok-1")
	require.NoError(t, err)
	assert.Equal(t, "First", got.Title)
}

func TestBrowse_PopulatesAuthorsWithoutNPlusOne(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	require.NoError(t, svc.IngestBook(ctx, Book{ID: "1", Title: "One"}, "Author A"))
	require.NoError(t, svc.IngestBook(ctx, Book{ID: "2", Title: "Two"}, "Author B, Author C"))

	books, total, err := svc.Browse(ctx, SearchFilter{}, 50, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	for _, b := range books {
		assert.NotEmpty(t, b.Authors)
	}
}

func TestCreateList_DuplicateName_Errors(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateList(ctx, "Favorites", "")
	require.NoError(t, err)

	_, err = svc.CreateList(ctx, "Favorites", "")
	require.Error(t, err)
}

func TestListManagement_AddRemoveBooks(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	require.NoError(t, svc.IngestBook(ctx, Book{ID: "1", Title: "One"}, ""))
	_, err := svc.CreateList(ctx, "Reading", "")
	require.NoError(t, err)

	require.NoError(t, svc.AddToList(ctx, "Reading", "1"))
	books, err := svc.ListBooks(ctx, "Reading")
	require.NoError(t, err)
	require.Len(t, books, 1)

	require.NoError(t, svc.RemoveFromList(ctx, "Reading", "1"))
	books, err = svc.ListBooks(ctx, "Reading")
	require.NoError(t, err)
	assert.Empty(t, books)

	err = svc.AddToList(ctx, "NoSuchList", "1")
	require.Error(t, err)
}

func TestSaveUnsaveBook(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	require.NoError(t, svc.IngestBook(ctx, Book{ID: "1", Title: "One"}, ""))

	require.NoError(t, svc.SaveBook(ctx, "1", "notes", []string{"tag"}, 1))
	saved, err := svc.SavedBooks(ctx)
	require.NoError(t, err)
	require.Len(t, saved, 1)

	require.NoError(t, svc.UnsaveBook(ctx, "1"))
	saved, err = svc.SavedBooks(ctx)
	require.NoError(t, err)
	assert.Empty(t, saved)
}

func TestExportImportJSON_RoundTrip(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	require.NoError(t, svc.IngestBook(ctx, Book{ID: "1", Title: "One", Year: "2001", ISBN: "111"}, "Author A"))
	require.NoError(t, svc.IngestBook(ctx, Book{ID: "2", Title: "Two", Year: "2002", ISBN: "222"}, "Author B"))

	data, err := svc.ExportJSON(ctx)
	require.NoError(t, err)

	svc2 := newTestService(t)
	ingested, errs := svc2.ImportJSON(ctx, data)
	assert.Empty(t, errs)
	assert.Equal(t, 2, ingested)

	books, total, err := svc2.Browse(ctx, SearchFilter{}, 50, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.NotEmpty(t, books[0].Authors)
}

func TestExportCSV_ColumnOrderAndAuthorJoin(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	require.NoError(t, svc.IngestBook(ctx, Book{ID: "1", Title: "One", Year: "2001", Publisher: "Pub", Language: "en", Extension: "epub", ISBN: "111", SizeBytes: 42}, "Author A, Author B"))

	var buf strings.Builder
	w := csv.NewWriter(&buf)
	require.NoError(t, svc.ExportCSV(ctx, w))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "id,title,authors,year,publisher,language,extension,filesize,isbn", strings.TrimSpace(lines[0]))
	assert.Contains(t, lines[1], "Author A;Author B")
}

func TestImportCSV_RoundTrip(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	require.NoError(t, svc.IngestBook(ctx, Book{ID: "1", Title: "One", Year: "2001", ISBN: "111", SizeBytes: 42}, "Author A;Author B"))

	var buf strings.Builder
	w := csv.NewWriter(&buf)
	require.NoError(t, svc.ExportCSV(ctx, w))

	svc2 := newTestService(t)
	r := csv.NewReader(strings.NewReader(buf.String()))
	ingested, errs := svc2.ImportCSV(ctx, r)
	assert.Empty(t, errs)
	assert.Equal(t, 1, ingested)

	got, err := svc2.Show(ctx, "1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"Author A", "Author B"}, got.Authors)
}

func TestImportJSON_MalformedRecordAbortsWholeImport(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	data := []byte(`[{"id":"A","title":"T"},{"title":"no id"}]`)
	ingested, errs := svc.ImportJSON(ctx, data)
	assert.Equal(t, 0, ingested)
	require.Len(t, errs, 1)

	_, total, err := svc.Browse(ctx, SearchFilter{}, 50, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, total, "a rejected record must leave no partial writes behind")
}

func TestIngestBook_RejectsEmptyIDOrTitle(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	err := svc.IngestBook(ctx, Book{ID: "", Title: "Has no id"}, "")
	assert.Error(t, err)

	err = svc.IngestBook(ctx, Book{ID: "has-id", Title: ""}, "")
	assert.Error(t, err)

	_, total, err := svc.Browse(ctx, SearchFilter{}, 50, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, total)
}

func TestRecordDownload_AndRecent(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	require.NoError(t, svc.IngestBook(ctx, Book{ID: "1", Title: "One"}, ""))

	require.NoError(t, svc.RecordDownload(ctx, Download{BookID: "1", Status: DownloadCompleted}))
	downloads, err := svc.RecentDownloads(ctx, 10)
	require.NoError(t, err)
	require.Len(t, downloads, 1)
}
