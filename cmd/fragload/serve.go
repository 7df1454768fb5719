package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	cli "github.com/urfave/cli/v3"

	"impractical.co/fragments"
)

// pageServer renders the pages of a directory, loading fragments into each
// on request. Fragments are cached between requests for the configured TTL.
type pageServer struct {
	pages   fs.FS
	fetcher fragments.Fetcher
	cache   *fragments.ExpiringCache
	options []fragments.Option
	static  http.Handler
}

func newPageServer(cfg *fragments.Config, pages fs.FS) (*pageServer, error) {
	fetcher, err := cfg.Fetcher(pages)
	if err != nil {
		return nil, err
	}
	cache := fragments.NewExpiringCache(cfg.Cache.TTL)
	return &pageServer{
		pages:   pages,
		fetcher: fetcher,
		cache:   cache,
		options: append(cfg.LoaderOptions(), fragments.WithCache(cache)),
		static:  http.FileServerFS(pages),
	}, nil
}

func (s *pageServer) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Get("/*", s.handlePage)
	return r
}

func (s *pageServer) handlePage(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, "/")
	if name == "" || strings.HasSuffix(name, "/") {
		name += fragments.DefaultDocument
	}
	if path.Ext(name) != ".html" {
		s.static.ServeHTTP(w, r)
		return
	}

	src, err := fs.ReadFile(s.pages, name)
	if errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrInvalid) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		envFromContext(r.Context()).log.Error("error reading page", "page", name, "error", err)
		http.Error(w, "Server error.", http.StatusInternalServerError)
		return
	}

	ctx := r.Context()
	doc, err := fragments.ParseDocument(bytes.NewReader(src), r.URL.EscapedPath())
	if err != nil {
		envFromContext(ctx).log.Error("error parsing page", "page", name, "error", err)
		http.Error(w, "Server error.", http.StatusInternalServerError)
		return
	}
	fragments.Bootstrap(ctx, doc, fragments.NewLoader(s.fetcher, s.options...))

	var out bytes.Buffer
	if err := doc.Render(&out); err != nil {
		envFromContext(ctx).log.Error("error rendering page", "page", name, "error", err)
		http.Error(w, "Server error.", http.StatusInternalServerError)
		return
	}
	// the tag covers the assembled page, fragments included
	etag := fmt.Sprintf(`"%016x"`, xxhash.Sum64(out.Bytes()))
	w.Header().Set("ETag", etag)
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(out.Bytes())
}

func runServe(ctx context.Context, cmd *cli.Command) error {
	e := envFromContext(ctx)
	if err := applyBaseURL(e.cfg, cmd.String("base-url")); err != nil {
		return err
	}
	srv, err := newPageServer(e.cfg, os.DirFS(cmd.String("pages")))
	if err != nil {
		return err
	}

	// the request context doesn't inherit from ctx, so hand the env and
	// logger down to handlers explicitly
	handler := srv.routes()
	server := &http.Server{
		Addr:              cmd.String("addr"),
		ReadHeaderTimeout: 10 * time.Second,
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rctx := context.WithValue(r.Context(), envKey{}, e)
			handler.ServeHTTP(w, r.WithContext(fragments.LoggingContext(rctx, e.log)))
		}),
	}

	errs := make(chan error, 1)
	go func() {
		e.log.Info("Serving pages", "addr", server.Addr, "pages", cmd.String("pages"))
		errs <- server.ListenAndServe()
	}()

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}
