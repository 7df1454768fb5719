package fragments_test

import (
	"context"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"impractical.co/fragments"
)

const testPage = `<!doctype html>
<html>
	<head><title>Test</title></head>
	<body>
		<div id="header-container"></div>
		<main>content</main>
		<div id="footer-container"></div>
	</body>
</html>`

func testContext(t *testing.T) context.Context {
	t.Helper()
	return fragments.LoggingContext(context.Background(), slog.New(slog.NewTextHandler(testWriter{t}, &slog.HandlerOptions{Level: slog.LevelDebug})))
}

// testWriter sends log output to the test log, so it only shows up for
// failing tests.
type testWriter struct {
	t *testing.T
}

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(strings.TrimSuffix(string(p), "\n"))
	return len(p), nil
}

func parsePage(t *testing.T, page, location string) *fragments.Document {
	t.Helper()
	doc, err := fragments.ParseDocument(strings.NewReader(page), location)
	if err != nil {
		t.Fatalf("Error parsing page: %s", err)
	}
	return doc
}

func innerHTML(t *testing.T, doc *fragments.Document, id string) string {
	t.Helper()
	contents, ok := doc.InnerHTML(id)
	if !ok {
		t.Fatalf("Expected element %q to exist", id)
	}
	return contents
}

type response struct {
	status int
	body   string
}

// fragmentServer serves canned responses and counts the requests it gets
// for each path.
type fragmentServer struct {
	*httptest.Server

	mu        sync.Mutex
	responses map[string]response
	hits      map[string]int
}

func newFragmentServer(t *testing.T, responses map[string]response) *fragmentServer {
	t.Helper()
	srv := &fragmentServer{
		responses: responses,
		hits:      map[string]int{},
	}
	srv.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		srv.mu.Lock()
		srv.hits[r.URL.Path]++
		resp, ok := srv.responses[r.URL.Path]
		srv.mu.Unlock()
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(resp.status)
		_, _ = io.WriteString(w, resp.body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func (s *fragmentServer) Hits(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[path]
}

func (s *fragmentServer) fetcher(t *testing.T) *fragments.HTTPFetcher {
	t.Helper()
	fetcher, err := fragments.NewHTTPFetcher(s.URL+"/", s.Client())
	if err != nil {
		t.Fatalf("Error creating fetcher: %s", err)
	}
	return fetcher
}

// countingFetcher wraps a Fetcher, counting the calls for each source.
type countingFetcher struct {
	fragments.Fetcher

	mu    sync.Mutex
	calls map[string]int
}

func (c *countingFetcher) Fetch(ctx context.Context, source string) (string, error) {
	c.mu.Lock()
	if c.calls == nil {
		c.calls = map[string]int{}
	}
	c.calls[source]++
	c.mu.Unlock()
	return c.Fetcher.Fetch(ctx, source)
}

func (c *countingFetcher) Calls(source string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[source]
}

type staticFS map[string]string

// Open opens the named file. Missing files return a *fs.PathError wrapping
// fs.ErrNotExist, like os.DirFS.
func (s staticFS) Open(name string) (fs.File, error) {
	val, ok := s[name]
	if !ok {
		return nil, &fs.PathError{
			Op:   "open",
			Path: name,
			Err:  fs.ErrNotExist,
		}
	}
	return &staticFile{
		name:     name,
		contents: []byte(val),
	}, nil
}

type staticFile struct {
	name     string
	contents []byte
	offset   int
}

func (s *staticFile) Stat() (fs.FileInfo, error) {
	return s, nil
}

func (s *staticFile) Read(buf []byte) (int, error) {
	if s.offset >= len(s.contents) {
		return 0, io.EOF
	}
	n := copy(buf, s.contents[s.offset:])
	s.offset += n
	return n, nil
}

func (*staticFile) Close() error {
	return nil
}

func (s *staticFile) Name() string {
	return s.name
}

func (s *staticFile) Size() int64 {
	return int64(len(s.contents))
}

func (*staticFile) Mode() fs.FileMode {
	return 0400
}

func (*staticFile) ModTime() time.Time {
	return time.Now()
}

func (*staticFile) IsDir() bool {
	return false
}

func (*staticFile) Sys() any {
	return nil
}
