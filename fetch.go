package fragments

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"path"
	"strings"

	"golang.org/x/net/html/charset"
)

var (
	// ErrCrossOrigin is wrapped in a TransportError when a source resolves
	// to a different origin than the fetcher's base URL and cross-origin
	// fetches haven't been allowed.
	ErrCrossOrigin = errors.New("source is not same-origin")
)

// Fetcher retrieves the raw markup of a fragment.
//
// Fetch should return a *TransportError when the source couldn't be reached,
// a *StatusError when it answered with a failure status, and a
// *BodyReadError when the response body couldn't be read as text.
type Fetcher interface {
	Fetch(ctx context.Context, source string) (string, error)
}

// FetcherFunc adapts a plain function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, source string) (string, error)

// Fetch calls f.
func (f FetcherFunc) Fetch(ctx context.Context, source string) (string, error) {
	return f(ctx, source)
}

// TransportError means the fragment source couldn't be reached at all.
type TransportError struct {
	Source string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("error fetching %q: %s", e.Source, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// StatusError means a response was received, but its status code indicates
// failure.
type StatusError struct {
	Source     string
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	status := e.Status
	if status == "" {
		status = fmt.Sprintf("%d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("error fetching %q: unexpected status %s", e.Source, status)
}

// BodyReadError means a successful response was received, but its body
// couldn't be read as text.
type BodyReadError struct {
	Source string
	Err    error
}

func (e *BodyReadError) Error() string {
	return fmt.Sprintf("error reading body of %q: %s", e.Source, e.Err)
}

func (e *BodyReadError) Unwrap() error {
	return e.Err
}

var _ Fetcher = &HTTPFetcher{}
var _ Fetcher = &FSFetcher{}

// HTTPFetcher fetches fragments with GET requests, resolving each source
// against BaseURL. An HTTPFetcher must be instantiated through
// NewHTTPFetcher.
type HTTPFetcher struct {
	baseURL *url.URL
	client  *http.Client

	// AllowCrossOrigin permits sources that resolve to a different
	// scheme or host than the base URL.
	AllowCrossOrigin bool
}

// NewHTTPFetcher returns an HTTPFetcher resolving sources against baseURL.
// If client is nil, http.DefaultClient is used.
func NewHTTPFetcher(baseURL string, client *http.Client) (*HTTPFetcher, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("error parsing base URL %q: %w", baseURL, err)
	}
	if !base.IsAbs() {
		return nil, fmt.Errorf("base URL %q must be absolute", baseURL)
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPFetcher{baseURL: base, client: client}, nil
}

// Fetch retrieves source and returns its body decoded to UTF-8 according to
// the charset of the response's Content-Type.
func (f *HTTPFetcher) Fetch(ctx context.Context, source string) (string, error) {
	target, err := f.resolve(source)
	if err != nil {
		return "", &TransportError{Source: source, Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return "", &TransportError{Source: source, Err: err}
	}
	req.Header.Set("Accept", "text/html")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", &TransportError{Source: source, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return "", &StatusError{Source: source, StatusCode: resp.StatusCode, Status: resp.Status}
	}

	body, err := charset.NewReader(resp.Body, resp.Header.Get("Content-Type"))
	if err != nil {
		return "", &BodyReadError{Source: source, Err: err}
	}
	markup, err := io.ReadAll(body)
	if err != nil {
		return "", &BodyReadError{Source: source, Err: err}
	}
	return string(markup), nil
}

func (f *HTTPFetcher) resolve(source string) (*url.URL, error) {
	ref, err := url.Parse(source)
	if err != nil {
		return nil, err
	}
	target := f.baseURL.ResolveReference(ref)
	if !f.AllowCrossOrigin && (target.Scheme != f.baseURL.Scheme || target.Host != f.baseURL.Host) {
		return nil, fmt.Errorf("%w: %s", ErrCrossOrigin, target.Redacted())
	}
	return target, nil
}

// FSFetcher serves fragments out of an fs.FS, such as an embed.FS or the
// directory a site is built into. Sources are treated like relative URL
// paths. A missing file is reported as a 404 StatusError, the way a static
// file server would answer.
type FSFetcher struct {
	fsys fs.FS
}

// NewFSFetcher returns an FSFetcher reading from fsys.
func NewFSFetcher(fsys fs.FS) *FSFetcher {
	return &FSFetcher{fsys: fsys}
}

// Fetch reads the file named by source.
func (f *FSFetcher) Fetch(_ context.Context, source string) (string, error) {
	name := source
	if u, err := url.Parse(source); err == nil {
		name = u.Path
	}
	name = strings.TrimPrefix(path.Clean("/"+name), "/")
	if name == "" {
		name = "."
	}

	file, err := f.fsys.Open(name)
	if errors.Is(err, fs.ErrNotExist) {
		return "", &StatusError{Source: source, StatusCode: http.StatusNotFound}
	}
	if err != nil {
		return "", &TransportError{Source: source, Err: err}
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return "", &TransportError{Source: source, Err: err}
	}
	if info.IsDir() {
		return "", &StatusError{Source: source, StatusCode: http.StatusNotFound}
	}
	contents, err := io.ReadAll(file)
	if err != nil {
		return "", &BodyReadError{Source: source, Err: err}
	}
	return string(contents), nil
}
