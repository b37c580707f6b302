package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/banux/zlibrary/internal/apperr"
	"github.com/cenkalti/backoff/v4"
)

// CredentialAuth is the minimal view of a credential a Client needs to
// authenticate; it deliberately does not import internal/credential so that
// upstream has no dependency on the rotation core (the dependency runs the
// other way: session/manager depend on upstream).
type CredentialAuth struct {
	IdentityKey string
	Email       string
	Password    string
	UserID      string
	UserKey     string
}

// Client is the contract every upstream service implementation satisfies.
// Probe semantics are exactly spec §4.3's table; Search/Resolve power the
// orchestrator's search and download operations (spec §4.5).
type Client interface {
	// Authenticate exchanges a credential for a Session. A non-nil error
	// from Authenticate is always an *apperr.Error (Session or one of the
	// Upstream* kinds).
	Authenticate(ctx context.Context, cred CredentialAuth) (Session, error)

	// Probe issues a lightweight authenticated check against the upstream
	// service and classifies the result per spec §4.3.
	Probe(ctx context.Context, cred CredentialAuth) (ProbeResult, error)

	// Search returns one page of results for query/filter using sess.
	Search(ctx context.Context, sess Session, query string, filter SearchFilter) ([]BookResult, error)

	// Resolve fetches the downloadable payload for a book.
	Resolve(ctx context.Context, sess Session, book BookResult) (DownloadPayload, error)
}

// HTTPClient is a context-aware, timeout-bounded Client implementation
// backed by net/http. Search requests are retried once with an exponential
// backoff (github.com/cenkalti/backoff/v4) before the error is returned,
// matching the "at most one upstream retry per credential" policy the
// orchestrator itself relies on for its own, coarser-grained retry/rotate
// loop. Authenticate, Probe and Resolve issue each request once.
type HTTPClient struct {
	BaseURL string
	HTTP    *http.Client
}

// NewHTTPClient returns an HTTPClient whose requests are bounded by timeout.
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		BaseURL: baseURL,
		HTTP:    &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) Authenticate(ctx context.Context, cred CredentialAuth) (Session, error) {
	form := url.Values{}
	if cred.Email != "" {
		form.Set("email", cred.Email)
		form.Set("password", cred.Password)
	} else {
		form.Set("userid", cred.UserID)
		form.Set("userkey", cred.UserKey)
	}

	var resp struct {
		Token string `json:"token"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/eapi/user/login", form, &resp); err != nil {
		return Session{}, apperr.Session("authenticate", err)
	}
	return Session{IdentityKey: cred.IdentityKey, Token: resp.Token, obtained: nowFunc()}, nil
}

func (c *HTTPClient) Probe(ctx context.Context, cred CredentialAuth) (ProbeResult, error) {
	sess, err := c.Authenticate(ctx, cred)
	if err != nil {
		// Authenticate wraps the upstream error in apperr.Session; the
		// rejection code is on its cause.
		if isAuthRejection(err) || isAuthRejection(errors.Unwrap(err)) {
			return ProbeResult{Outcome: ProbeAuthRejected, DownloadsLeft: -1}, nil
		}
		return ProbeResult{Outcome: ProbeTransportError, DownloadsLeft: -1}, err
	}

	var resp struct {
		DownloadsLeft int `json:"downloads_left"`
	}
	form := url.Values{"token": {sess.Token}}
	if err := c.doJSON(ctx, http.MethodGet, "/eapi/user/profile", form, &resp); err != nil {
		return ProbeResult{Outcome: ProbeTransportError, DownloadsLeft: -1}, err
	}
	if resp.DownloadsLeft <= 0 {
		return ProbeResult{Outcome: ProbeQuotaExhausted, DownloadsLeft: 0}, nil
	}
	return ProbeResult{Outcome: ProbeSuccess, DownloadsLeft: resp.DownloadsLeft}, nil
}

func (c *HTTPClient) Search(ctx context.Context, sess Session, query string, filter SearchFilter) ([]BookResult, error) {
	form := url.Values{
		"token": {sess.Token},
		"q":     {query},
		"page":  {strconv.Itoa(filter.Page)},
		"limit": {strconv.Itoa(filter.Limit)},
	}
	if filter.Language != "" {
		form.Set("language", filter.Language)
	}
	if filter.Ext != "" {
		form.Set("extension", filter.Ext)
	}

	var resp struct {
		Books []BookResult `json:"books"`
	}

	err := c.retry(ctx, func() error {
		return c.doJSON(ctx, http.MethodGet, "/eapi/book/search", form, &resp)
	})
	if err != nil {
		return nil, err
	}
	return resp.Books, nil
}

func (c *HTTPClient) Resolve(ctx context.Context, sess Session, book BookResult) (DownloadPayload, error) {
	form := url.Values{"token": {sess.Token}, "id": {book.ExternalID}, "hash": {book.Hash}}

	req, err := c.newRequest(ctx, http.MethodGet, "/eapi/book/download", form)
	if err != nil {
		return DownloadPayload{}, apperr.UpstreamTransient("build download request", err)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return DownloadPayload{}, apperr.UpstreamTransient("download request", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return DownloadPayload{}, apperr.UpstreamAuth("download rejected", fmt.Errorf("status %d", resp.StatusCode))
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return DownloadPayload{}, apperr.UpstreamQuota("download quota exhausted")
	}
	if resp.StatusCode >= 500 {
		return DownloadPayload{}, apperr.UpstreamTransient("download failed", fmt.Errorf("status %d", resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		return DownloadPayload{}, apperr.UpstreamTransient("download failed", fmt.Errorf("status %d", resp.StatusCode))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return DownloadPayload{}, apperr.UpstreamTransient("read download body", err)
	}

	filename := book.ExternalID
	if cd := resp.Header.Get("Content-Disposition"); cd != "" {
		if _, params, err := mime.ParseMediaType(cd); err == nil && params["filename"] != "" {
			filename = params["filename"]
		}
	}

	return DownloadPayload{Filename: filename, Data: data}, nil
}

func (c *HTTPClient) retry(ctx context.Context, op func() error) error {
	bo := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 1)
	return backoff.Retry(func() error {
		err := op()
		if err == nil {
			return nil
		}
		if isAuthRejection(err) || isQuotaExhaustion(err) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(bo, ctx))
}

func (c *HTTPClient) newRequest(ctx context.Context, method, path string, form url.Values) (*http.Request, error) {
	full := c.BaseURL + path
	if method == http.MethodGet {
		full += "?" + form.Encode()
		return http.NewRequestWithContext(ctx, method, full, nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, full, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req, nil
}

func (c *HTTPClient) doJSON(ctx context.Context, method, path string, form url.Values, out any) error {
	req, err := c.newRequest(ctx, method, path, form)
	if err != nil {
		return apperr.UpstreamTransient("build request", err)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return apperr.Cancelled("request cancelled")
		}
		return apperr.UpstreamTransient("request failed", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return apperr.UpstreamAuth("authentication rejected", fmt.Errorf("status %d", resp.StatusCode))
	case resp.StatusCode == http.StatusTooManyRequests:
		return apperr.UpstreamQuota("quota exhausted")
	case resp.StatusCode >= 500:
		return apperr.UpstreamTransient("server error", fmt.Errorf("status %d", resp.StatusCode))
	case resp.StatusCode != http.StatusOK:
		return apperr.UpstreamTransient("unexpected status", fmt.Errorf("status %d", resp.StatusCode))
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func isAuthRejection(err error) bool {
	var ae *apperr.Error
	return asErr(err, &ae) && ae.Code == apperr.CodeUpstreamAuth
}

func isQuotaExhaustion(err error) bool {
	var ae *apperr.Error
	return asErr(err, &ae) && ae.Code == apperr.CodeUpstreamQuota
}

func asErr(err error, target **apperr.Error) bool {
	e, ok := err.(*apperr.Error)
	if ok {
		*target = e
	}
	return ok
}

// nowFunc is indirected for testability.
var nowFunc = time.Now
