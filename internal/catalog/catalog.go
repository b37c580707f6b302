// Package catalog provides the book catalog domain types and the
// repository/service contracts the embedded relational store implements
// (C6/C7). It mirrors the teacher's type-definitions-plus-interfaces file
// shape, generalized from a single OPDS-reader Catalog interface to the
// repository-per-entity-family surface spec §4.6 specifies.
package catalog

import "time"

// Book is a publication discovered via search or import (spec §3.2).
type Book struct {
	ID          string // external id, stable across re-ingestion
	Hash        string
	Title       string
	Year        string // compared lexicographically; callers zero-pad
	Publisher   string
	Language    string
	Extension   string
	SizeHuman   string
	SizeBytes   int64
	CoverURL    string
	Description string
	ISBN        string
	Edition     string
	Pages       int
	CreatedAt   time.Time
	UpdatedAt   time.Time

	// Authors is populated by Service.Browse and Service.Show via a single
	// join query; repository queries leave it empty. It is not a column on
	// the books table itself.
	Authors []string
}

// Author is a normalized author name (spec §3.2). Names are unique and
// case-sensitive as stored; callers normalize before insert.
type Author struct {
	ID   int64
	Name string
}

// ReadingList is a user-defined named collection of books.
type ReadingList struct {
	ID          int64
	Name        string
	Description string
	CreatedAt   time.Time
}

// SavedBook is a bookmark on a single book, at most one per book.
type SavedBook struct {
	ID       int64
	BookID   string
	Notes    string
	Tags     []string
	Priority int
	SavedAt  time.Time
}

// DownloadStatus is the closed set of outcomes for a Download row.
type DownloadStatus int

const (
	DownloadCompleted DownloadStatus = iota
	DownloadFailed
)

func (s DownloadStatus) String() string {
	if s == DownloadFailed {
		return "failed"
	}
	return "completed"
}

// Download is an append-only record of a download attempt.
type Download struct {
	ID                 int64
	BookID             string
	CredentialIdentity string // empty if unknown
	Filename           string
	FilePath           string
	SizeBytes          int64
	Status             DownloadStatus
	ErrorMessage       string
	DownloadedAt       time.Time
}

// SortOrder is the closed set of result orderings Search/Browse accept.
type SortOrder int

const (
	SortByTitle SortOrder = iota
	SortByYear
	SortByPopular
)

// SearchFilter carries the fixed filter set spec §4.2/§4.6 allows.
type SearchFilter struct {
	TitleContains  string
	Author         string
	Language       string
	Extension      string
	YearFrom       string // lexicographic comparison; zero-padded by caller
	YearTo         string
	Order          SortOrder
}

// SearchHistoryEntry is an append-only record of a search performed,
// whether or not it was persisted to the catalog (spec §3.2 SearchQuery).
type SearchHistoryEntry struct {
	ID       int64
	RawQuery string
	Filters  string // serialized filter record
	FoundAt  time.Time
}

// Stats summarizes the catalog for reporting (spec §4.7).
type Stats struct {
	TotalBooks       int
	DistinctLanguages int
	DistinctFormats  int
	TotalDownloads   int
	DBSizeBytes      int64
}
