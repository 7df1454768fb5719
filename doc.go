// Package fragments loads shared pieces of markup, like a site's header and
// footer, into the HTML pages that use them.
//
// fragments is organized around Documents and Loaders. A Document is a parsed
// HTML page, along with the location it's viewed at. A Loader fills the
// container elements of a Document with fragments: each container is an
// element with a known ID, and each fragment is a piece of markup retrieved
// from a source, usually a path relative to the page. By default, the
// fragment at header.html is loaded into the element with the ID
// header-container, and the fragment at footer.html into footer-container.
//
// A Loader retrieves fragments through a Fetcher. HTTPFetcher requests them
// from a base URL; FSFetcher reads them from an fs.FS, such as the directory a
// site is built into. Every fragment that's fetched successfully is cached,
// keyed by its source, so each source is only fetched once per cache. A
// Loader creates its own MemoryCache by default, which makes a Loader a
// per-page-view object; processes serving many page views should share an
// ExpiringCache between their Loaders with WithCache.
//
// Fragments that can't be fetched aren't fatal. Failures are logged and the
// container is filled with static fallback markup instead: a link home for
// headers, a copyright line for footers. Which fallback is used is inferred
// from the source; see ClassifySource.
//
// Scripts in a fragment are parsed into the Document like any other element,
// which wouldn't run them, so the Loader re-creates each one and hands the
// executable ones to its ScriptRunner, if it has one, in document order.
//
// Once a fragment is in place, the links of the Document's navigation
// regions that point at the current page get marked active; see ActiveLinks.
//
// To load the default fragments into a page, parse it, create a Loader, and
// pass both to Bootstrap, which only does anything if the page has at least
// one of the Loader's containers:
//
//	doc, err := fragments.ParseDocument(page, "/about.html")
//	if err != nil {
//		return err
//	}
//	fragments.Bootstrap(ctx, doc, fragments.NewLoader(fragments.NewFSFetcher(site)))
//	return doc.Render(w)
//
// Loaders log with the *slog.Logger attached to the context by
// LoggingContext, and record OpenTelemetry spans with the global
// TracerProvider unless given another with WithTracerProvider.
package fragments
