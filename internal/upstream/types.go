// Package upstream defines the contract between the credential/session/
// orchestrator layers and the external book-search/download service. The
// core treats upstream as an opaque HTTPS API whose only guarantees are the
// probe semantics in spec §4.3; no concrete client is specified here beyond
// a context-aware, timeout-bounded HTTP implementation.
package upstream

import "time"

// Session is an authenticated handle returned by Client.Authenticate. Its
// contents are opaque to every caller except the Client implementation that
// produced it.
type Session struct {
	IdentityKey string
	Token       string
	obtained    time.Time
}

// ProbeOutcome is the closed set of results a validation probe can produce
// (spec §4.3 table).
type ProbeOutcome int

const (
	ProbeSuccess ProbeOutcome = iota
	ProbeAuthRejected
	ProbeQuotaExhausted
	ProbeTransportError
)

// ProbeResult carries a probe outcome and any quota figure the upstream
// service reported.
type ProbeResult struct {
	Outcome       ProbeOutcome
	DownloadsLeft int // -1 if the probe payload didn't report a figure
}

// SortOrder is the closed set of result orderings Search accepts (spec
// §4.2's filter record).
type SortOrder int

const (
	SortPopular SortOrder = iota
	SortYear
	SortTitle
)

// SearchFilter carries the recognized search options (spec §4.5).
type SearchFilter struct {
	YearFrom int
	YearTo   int
	Language string
	Ext      string
	Order    SortOrder
	Page     int
	Limit    int // clamped to [1,100] by the orchestrator
}

// BookResult is a single upstream search hit, prior to catalog ingestion.
// Author is the raw, unsplit author string exactly as upstream returned it;
// splitting into individual names is a catalog-service concern (spec §4.7).
type BookResult struct {
	ExternalID  string
	Hash        string
	Title       string
	Author      string
	Year        string
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
}

// DownloadPayload is the resolved file handle for a download (spec §4.5).
type DownloadPayload struct {
	Filename string
	Data     []byte
}
