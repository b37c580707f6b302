// Package orchestrator implements the Search/Download Orchestrator (C5):
// the only component that talks to the upstream service on the caller's
// behalf, composing the session pool and credential manager for retry and
// rotation policy and the catalog service for bookkeeping.
//
// Grounded on the teacher's Backend.Refresh loop shape (best-effort,
// continue-past-individual-failure, bounded by a count derived from the
// input) generalized from "refresh every book source" to "retry once then
// rotate credentials, up to one attempt per credential".
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/banux/zlibrary/internal/apperr"
	"github.com/banux/zlibrary/internal/catalog"
	"github.com/banux/zlibrary/internal/session"
	"github.com/banux/zlibrary/internal/upstream"
	"github.com/rs/zerolog"
)

// Orchestrator is C5.
type Orchestrator struct {
	pool    *session.Pool
	catalog *catalog.Service
	log     zerolog.Logger
}

// New constructs an Orchestrator over pool (C4) and svc (C7).
func New(pool *session.Pool, svc *catalog.Service, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{pool: pool, catalog: svc, log: log}
}

// maxRotationAttempts is a hard upper bound on the retry-then-rotate loop.
// The loop normally ends sooner: when rotation lands on a credential this
// call already tried, or when Rotate fails with AllCredentialsExhausted, so
// the orchestrator never needs to know the manager's internals.
const maxRotationAttempts = 32

// Search performs one page of upstream search, retrying the current
// credential once on a transient failure before rotating, up to one
// attempt per configured credential (spec §4.5).
func (o *Orchestrator) Search(ctx context.Context, query string, filter upstream.SearchFilter) ([]upstream.BookResult, error) {
	filter.Limit = clamp(filter.Limit, 1, 100)

	var lastErr error
	tried := make(map[string]bool)
	for attempt := 0; attempt < maxRotationAttempts; attempt++ {
		if ctx.Err() != nil {
			return nil, apperr.Cancelled("search cancelled")
		}

		sess, cred, err := o.pool.GetCurrent(ctx)
		if err != nil {
			return nil, err
		}
		if tried[cred.IdentityKey()] {
			break
		}
		tried[cred.IdentityKey()] = true

		client := o.pool.Client()
		books, err := client.Search(ctx, sess, query, filter)
		if err == nil {
			_ = o.catalog.RecordSearch(ctx, query, describeFilter(filter))
			return books, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, apperr.Cancelled("search cancelled")
		}

		// One same-credential retry already happened inside the HTTP
		// client; any error surfacing here means it's time to rotate.
		if !o.handleUpstreamFailure(ctx, cred.IdentityKey(), err) {
			return nil, err
		}
		if _, _, err := o.pool.Rotate(ctx); err != nil {
			return nil, err
		}
	}
	return nil, lastErr
}

// SearchAllPages iterates pages starting at 1 until the upstream returns
// fewer than filter.Limit results, rotating credentials between pages
// (spec §4.5 "All-pages variant").
func (o *Orchestrator) SearchAllPages(ctx context.Context, query string, filter upstream.SearchFilter) ([]upstream.BookResult, error) {
	filter.Limit = clamp(filter.Limit, 1, 100)
	filter.Page = 1

	var all []upstream.BookResult
	for {
		if ctx.Err() != nil {
			return all, apperr.Cancelled("search cancelled")
		}

		page, err := o.Search(ctx, query, filter)
		if err != nil {
			return all, err
		}
		all = append(all, page...)
		if len(page) < filter.Limit {
			return all, nil
		}

		if _, _, err := o.pool.Rotate(ctx); err != nil {
			return all, err
		}
		filter.Page++
	}
}

// Download resolves book's payload and writes it to destDir, recording a
// Download row whether it succeeds or fails (spec §4.5).
func (o *Orchestrator) Download(ctx context.Context, book upstream.BookResult, destDir string) (catalog.Download, error) {
	sess, cred, err := o.pool.GetCurrent(ctx)
	if err != nil {
		return catalog.Download{}, err
	}

	if cred.DownloadsLeft == 0 {
		if _, _, err := o.pool.Rotate(ctx); err != nil {
			return catalog.Download{}, err
		}
		sess, cred, err = o.pool.GetCurrent(ctx)
		if err != nil {
			return catalog.Download{}, err
		}
	}

	client := o.pool.Client()
	payload, err := client.Resolve(ctx, sess, book)
	if err != nil {
		return o.recordFailure(ctx, book, cred.IdentityKey(), "", fmt.Errorf("resolve download: %w", err))
	}

	path, err := writeWithCollisionSuffix(destDir, payload.Filename, payload.Data)
	if err != nil {
		return o.recordFailure(ctx, book, cred.IdentityKey(), "", fmt.Errorf("write download: %w", err))
	}

	d := catalog.Download{
		BookID:             book.ExternalID,
		CredentialIdentity: cred.IdentityKey(),
		Filename:           filepath.Base(path),
		FilePath:           path,
		SizeBytes:          int64(len(payload.Data)),
		Status:             catalog.DownloadCompleted,
		DownloadedAt:       time.Now(),
	}
	if err := o.catalog.RecordDownload(ctx, d); err != nil {
		o.log.Warn().Err(err).Str("book_id", book.ExternalID).Msg("download succeeded but recording failed")
	}

	if err := o.pool.RecordDownloadSuccess(cred.IdentityKey()); err != nil {
		o.log.Warn().Err(err).Str("identity", cred.IdentityKey()).Msg("quota decrement failed")
	}
	if _, _, err := o.pool.Rotate(ctx); err != nil {
		o.log.Debug().Err(err).Msg("rotate after download")
	}

	return d, nil
}

// DownloadAllPages downloads every book in books to destDir, continuing
// past individual failures and returning every Download row produced.
func (o *Orchestrator) DownloadAllPages(ctx context.Context, books []upstream.BookResult, destDir string) ([]catalog.Download, error) {
	out := make([]catalog.Download, 0, len(books))
	for _, b := range books {
		if ctx.Err() != nil {
			return out, apperr.Cancelled("download batch cancelled")
		}
		d, err := o.Download(ctx, b, destDir)
		if err != nil {
			return out, err
		}
		out = append(out, d)
	}
	return out, nil
}

func (o *Orchestrator) recordFailure(ctx context.Context, book upstream.BookResult, identity, path string, cause error) (catalog.Download, error) {
	d := catalog.Download{
		BookID:             book.ExternalID,
		CredentialIdentity: identity,
		FilePath:           path,
		Status:             catalog.DownloadFailed,
		ErrorMessage:       cause.Error(),
		DownloadedAt:       time.Now(),
	}
	if err := o.catalog.RecordDownload(ctx, d); err != nil {
		o.log.Warn().Err(err).Str("book_id", book.ExternalID).Msg("failed download could not be recorded")
	}
	if !o.handleUpstreamFailure(ctx, identity, cause) {
		return d, cause
	}
	if _, _, rerr := o.pool.Rotate(ctx); rerr != nil {
		return d, rerr
	}
	return d, cause
}

// handleUpstreamFailure applies spec §4.8's mid-operation failure table,
// reporting whether the caller should retry via rotation (true) or give up
// (false, e.g. on cancellation or a non-upstream error). An auth failure
// always attempts a session refresh first (best effort); whether or not
// that succeeds, the credential's per-attempt budget in the caller's loop
// is spent, so the caller still rotates to the next credential.
func (o *Orchestrator) handleUpstreamFailure(ctx context.Context, identity string, err error) bool {
	var ae *apperr.Error
	if !errors.As(err, &ae) {
		return false
	}
	switch ae.Code {
	case apperr.CodeUpstreamAuth:
		if _, rerr := o.pool.Refresh(ctx, identity); rerr != nil {
			_ = o.markInvalid(identity)
		}
		return true
	case apperr.CodeUpstreamQuota:
		_ = o.markExhausted(identity)
		return true
	case apperr.CodeUpstreamTransient:
		return true
	default:
		return false
	}
}

func (o *Orchestrator) markInvalid(identity string) error   { return o.pool.MarkInvalid(identity) }
func (o *Orchestrator) markExhausted(identity string) error { return o.pool.MarkExhausted(identity) }

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func describeFilter(f upstream.SearchFilter) string {
	return fmt.Sprintf("lang=%s ext=%s order=%d page=%d limit=%d yearFrom=%d yearTo=%d",
		f.Language, f.Ext, f.Order, f.Page, f.Limit, f.YearFrom, f.YearTo)
}

// writeWithCollisionSuffix writes data to destDir/filename, appending
// "-2", "-3", ... before the extension if filename already exists
// (spec §4.5 step iii).
func writeWithCollisionSuffix(destDir, filename string, data []byte) (string, error) {
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return "", fmt.Errorf("create download directory %q: %w", destDir, err)
	}
	if filename == "" {
		filename = "download.bin"
	}

	ext := filepath.Ext(filename)
	base := strings.TrimSuffix(filename, ext)
	path := filepath.Join(destDir, filename)

	for i := 2; ; i++ {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			break
		}
		path = filepath.Join(destDir, base+"-"+strconv.Itoa(i)+ext)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("write file %q: %w", path, err)
	}
	return path, nil
}
