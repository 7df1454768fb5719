package fragments

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/net/html"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

const instrumentationName = "impractical.co/fragments"

// Target pairs the ID of a container element with the source of the
// fragment that gets loaded into it.
type Target struct {
	Container string `yaml:"container"`
	Source    string `yaml:"source"`
}

// DefaultTargets are the fragments a Loader loads when it isn't given any:
// the shared header and footer.
var DefaultTargets = []Target{
	{Container: "header-container", Source: "header.html"},
	{Container: "footer-container", Source: "footer.html"},
}

// Loader loads fragments into the containers of a Document. Each fragment
// is taken from the cache if it has been fetched before, fetched otherwise,
// and replaced by static fallback markup if it can't be fetched.
//
// A Loader's default cache lives as long as the Loader does, so a Loader
// should be created per page view unless it's given a shared cache with
// WithCache. A Loader must be instantiated through NewLoader.
type Loader struct {
	fetcher  Fetcher
	cache    FragmentCacher
	targets  []Target
	runner   ScriptRunner
	links    ActiveLinks
	fallback Fallback
	now      func() time.Time
	tracer   trace.Tracer

	// inflight collapses concurrent fetches of the same source, so
	// callers that miss the cache at the same time share one request.
	inflight singleflight.Group
}

// Option configures a Loader.
type Option func(*Loader)

// WithCache makes the Loader use cache instead of its own MemoryCache.
func WithCache(cache FragmentCacher) Option {
	return func(l *Loader) {
		l.cache = cache
	}
}

// WithTargets sets the container/source pairs LoadAll loads.
func WithTargets(targets ...Target) Option {
	return func(l *Loader) {
		l.targets = append([]Target(nil), targets...)
	}
}

// WithScriptRunner sets the ScriptRunner that executes scripts found in
// inserted fragments. Without one, scripts are re-created in the Document
// but not executed.
func WithScriptRunner(runner ScriptRunner) Option {
	return func(l *Loader) {
		l.runner = runner
	}
}

// WithActiveLinks configures how navigation links are marked active.
func WithActiveLinks(links ActiveLinks) Option {
	return func(l *Loader) {
		l.links = links
	}
}

// WithFallback sets the content used for fallback markup.
func WithFallback(fallback Fallback) Option {
	return func(l *Loader) {
		l.fallback = fallback
	}
}

// WithClock sets the function used to get the current time when rendering
// fallbacks.
func WithClock(now func() time.Time) Option {
	return func(l *Loader) {
		l.now = now
	}
}

// WithTracerProvider sets the TracerProvider spans are recorded with. The
// global provider is used by default.
func WithTracerProvider(provider trace.TracerProvider) Option {
	return func(l *Loader) {
		l.tracer = provider.Tracer(instrumentationName)
	}
}

// NewLoader returns a Loader that retrieves fragments with fetcher.
func NewLoader(fetcher Fetcher, opts ...Option) *Loader {
	l := &Loader{
		fetcher: fetcher,
		targets: append([]Target(nil), DefaultTargets...),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.cache == nil {
		l.cache = NewMemoryCache()
	}
	if l.tracer == nil {
		l.tracer = otel.Tracer(instrumentationName)
	}
	return l
}

// Targets returns the container/source pairs LoadAll loads.
func (l *Loader) Targets() []Target {
	return append([]Target(nil), l.targets...)
}

// LoadAll loads every target concurrently and returns once each of them
// has either been inserted or fallen back. A target failing never stops the
// others.
func (l *Loader) LoadAll(ctx context.Context, doc *Document) {
	ctx, span := l.tracer.Start(ctx, "fragments.LoadAll",
		trace.WithAttributes(attribute.Int("fragments.targets", len(l.targets))))
	defer span.End()

	var group errgroup.Group
	for _, target := range l.targets {
		group.Go(func() error {
			l.LoadComponent(ctx, doc, target.Container, target.Source)
			return nil
		})
	}
	_ = group.Wait()
}

// LoadComponent loads the fragment at source into the container with the
// given ID. Cached markup is inserted straight away; otherwise the fragment
// is fetched, cached, and inserted. If fetching fails, nothing is cached and
// fallback markup is inserted instead. Failures are logged, never returned.
//
// Concurrent calls for the same source share one fetch, which isn't
// cancelled by any caller's context; a caller whose context is done stops
// waiting for it and falls back, while the others still get its result.
// Bound fetches with the Fetcher instead, e.g. an HTTP client timeout.
func (l *Loader) LoadComponent(ctx context.Context, doc *Document, container, source string) {
	ctx, span := l.tracer.Start(ctx, "fragments.LoadComponent", trace.WithAttributes(
		attribute.String("fragments.container", container),
		attribute.String("fragments.source", source),
	))
	defer span.End()
	log := fragmentLogger(ctx, container, source)

	if cached := l.cache.GetCachedFragment(ctx, source); cached != nil {
		span.SetAttributes(attribute.Bool("fragments.cache_hit", true))
		log.DebugContext(ctx, "using cached fragment")
		l.InsertComponent(ctx, doc, container, source, *cached)
		return
	}
	span.SetAttributes(attribute.Bool("fragments.cache_hit", false))

	markup, err := l.fetch(ctx, source)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "fragment fell back")
		log.WarnContext(ctx, "could not load fragment, using fallback", "error", err)
		l.GenerateFallback(ctx, doc, container, source)
		return
	}
	l.InsertComponent(ctx, doc, container, source, markup)
}

func (l *Loader) fetch(ctx context.Context, source string) (string, error) {
	// the shared fetch outlives any one caller giving up, so it mustn't be
	// cancelled along with the caller that started it
	flightCtx := context.WithoutCancel(ctx)
	results := l.inflight.DoChan(source, func() (any, error) {
		// another caller may have finished fetching source between
		// our cache miss and acquiring the flight
		if cached := l.cache.GetCachedFragment(flightCtx, source); cached != nil {
			return *cached, nil
		}
		markup, err := l.fetcher.Fetch(flightCtx, source)
		if err != nil {
			return "", err
		}
		l.cache.SetCachedFragment(flightCtx, source, markup)
		return markup, nil
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-results:
		if res.Shared {
			trace.SpanFromContext(ctx).SetAttributes(attribute.Bool("fragments.shared_fetch", true))
		}
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

// InsertComponent replaces the contents of the container with the given ID
// with markup, then runs the scripts it contains and updates the active
// navigation links. source is only used to label the scripts and logs. If
// the container doesn't exist, InsertComponent does nothing.
//
// Script elements parsed into a tree don't run by themselves, so each one is
// swapped for a fresh element with the same attributes and text, and the
// executable ones are handed to the Loader's ScriptRunner exactly once, in
// document order.
func (l *Loader) InsertComponent(ctx context.Context, doc *Document, container, source, markup string) {
	log := fragmentLogger(ctx, container, source)

	var scripts []Script
	err := doc.withContainer(container, func(node *html.Node) error {
		nodes, err := html.ParseFragment(strings.NewReader(markup), node)
		if err != nil {
			return err
		}
		replaceChildren(node, nodes)
		scripts = reactivateScripts(source, nodes)
		return nil
	})
	if errors.Is(err, ErrMissingContainer) {
		return
	}
	if err != nil {
		log.ErrorContext(ctx, "error parsing fragment", "error", err)
		return
	}

	l.runScripts(ctx, doc, log, scripts)
	l.UpdateActiveLinks(ctx, doc)
}

func (l *Loader) runScripts(ctx context.Context, doc *Document, log *slog.Logger, scripts []Script) {
	if len(scripts) == 0 {
		return
	}
	doc.scriptMu.Lock()
	defer doc.scriptMu.Unlock()
	for _, script := range scripts {
		if !script.Executable() {
			continue
		}
		if l.runner == nil {
			log.DebugContext(ctx, "no script runner configured, script left for the browser", "script", script.Index)
			continue
		}
		if err := l.runner.RunScript(ctx, script); err != nil {
			log.ErrorContext(ctx, "error running fragment script", "script", script.Index, "error", err)
		}
	}
}

// GenerateFallback replaces the contents of the container with the given ID
// with static markup suited to the role of source: a link home for
// navigation, a copyright line for footers. Sources of unknown role, and
// containers that don't exist, are left alone.
func (l *Loader) GenerateFallback(ctx context.Context, doc *Document, container, source string) {
	role := ClassifySource(source)
	markup, ok, err := l.fallback.Render(role, l.now())
	if err != nil {
		fragmentLogger(ctx, container, source).ErrorContext(ctx, "error generating fallback", "error", err)
		return
	}
	if !ok {
		return
	}
	err = doc.withContainer(container, func(node *html.Node) error {
		nodes, err := html.ParseFragment(strings.NewReader(markup), node)
		if err != nil {
			return err
		}
		replaceChildren(node, nodes)
		return nil
	})
	if err != nil && !errors.Is(err, ErrMissingContainer) {
		fragmentLogger(ctx, container, source).ErrorContext(ctx, "error inserting fallback", "error", err)
	}
}

// UpdateActiveLinks marks the navigation links of the whole Document that
// point at the page it's viewed at. See ActiveLinks.Update.
func (l *Loader) UpdateActiveLinks(_ context.Context, doc *Document) {
	l.links.Update(doc)
}

// Bootstrap loads every target of loader into doc, but only if at least one
// of the target containers exists. It reports whether loading happened.
func Bootstrap(ctx context.Context, doc *Document, loader *Loader) bool {
	for _, target := range loader.targets {
		if doc.HasElement(target.Container) {
			loader.LoadAll(ctx, doc)
			return true
		}
	}
	return false
}
