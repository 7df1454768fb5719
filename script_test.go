package fragments_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/net/html"

	"impractical.co/fragments"
)

// window is a toy script runtime: it understands scripts made of
// `window.name=value` statements, which is enough to observe whether and how
// often a script ran.
type window struct {
	mu    sync.Mutex
	vars  map[string]string
	ran   []fragments.Script
	fails map[int]error
}

func newWindow() *window {
	return &window{vars: map[string]string{}}
}

func (w *window) RunScript(_ context.Context, script fragments.Script) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.ran = append(w.ran, script)
	if err := w.fails[script.Index]; err != nil {
		return err
	}
	for _, stmt := range strings.Split(script.Text, ";") {
		name, val, ok := strings.Cut(strings.TrimSpace(stmt), "=")
		if !ok {
			continue
		}
		if key, ok := strings.CutPrefix(strings.TrimSpace(name), "window."); ok {
			w.vars[key] = strings.TrimSpace(val)
		}
	}
	return nil
}

func TestInsertComponentRunsScriptsOnce(t *testing.T) {
	t.Parallel()

	ctx := testContext(t)
	win := newWindow()
	doc := parsePage(t, testPage, "/")
	loader := fragments.NewLoader(fragments.NewFSFetcher(staticFS{
		"header.html": `<div>x</div><script>window.__marker=42</script>`,
	}), fragments.WithScriptRunner(win))

	loader.LoadComponent(ctx, doc, "header-container", "header.html")

	if got := win.vars["__marker"]; got != "42" {
		t.Errorf("Expected window.__marker to be 42, got %q", got)
	}
	if len(win.ran) != 1 {
		t.Errorf("Expected the script to run exactly once, ran %d times", len(win.ran))
	}
	if diff := cmp.Diff(`<div>x</div><script>window.__marker=42</script>`, innerHTML(t, doc, "header-container")); diff != "" {
		t.Errorf("Unexpected container contents (-want +got):\n%s", diff)
	}

	// a cached load inserts and runs the script again, once
	loader.LoadComponent(ctx, doc, "header-container", "header.html")
	if len(win.ran) != 2 {
		t.Errorf("Expected the script to run once per insertion, ran %d times", len(win.ran))
	}
}

func TestInsertComponentScriptOrderAndAttributes(t *testing.T) {
	t.Parallel()

	ctx := testContext(t)
	win := newWindow()
	doc := parsePage(t, testPage, "/")
	loader := fragments.NewLoader(nil, fragments.WithScriptRunner(win))

	markup := `<script src="menu.js" defer></script>` +
		`<p><script type="application/json">{"a":1}</script></p>` +
		`<script type="module" data-x="1">window.order=3</script>` +
		`<script type="text/javascript; charset=utf-8">window.last=true</script>`
	loader.InsertComponent(ctx, doc, "header-container", "header.html", markup)

	type ran struct {
		Index  int
		Source string
		Src    string
		Defer  bool
		Module bool
	}
	var got []ran
	for _, script := range win.ran {
		got = append(got, ran{
			Index:  script.Index,
			Source: script.Source,
			Src:    script.Src(),
			Defer:  script.Defer(),
			Module: script.Module(),
		})
	}
	want := []ran{
		{Index: 0, Source: "header.html", Src: "menu.js", Defer: true},
		{Index: 2, Source: "header.html", Module: true},
		{Index: 3, Source: "header.html"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Unexpected scripts run (-want +got):\n%s", diff)
	}

	wantHTML := `<script src="menu.js" defer=""></script>` +
		`<p><script type="application/json">{"a":1}</script></p>` +
		`<script type="module" data-x="1">window.order=3</script>` +
		`<script type="text/javascript; charset=utf-8">window.last=true</script>`
	if diff := cmp.Diff(wantHTML, innerHTML(t, doc, "header-container")); diff != "" {
		t.Errorf("Unexpected container contents (-want +got):\n%s", diff)
	}
}

func TestInsertComponentSkipsTemplateScripts(t *testing.T) {
	t.Parallel()

	ctx := testContext(t)
	win := newWindow()
	doc := parsePage(t, testPage, "/")
	loader := fragments.NewLoader(nil, fragments.WithScriptRunner(win))

	markup := `<template><script>window.inert=1</script></template>` +
		`<div><template id="row"><p><script>window.nested=1</script></p></template></div>` +
		`<script>window.live=1</script>`
	loader.InsertComponent(ctx, doc, "header-container", "header.html", markup)

	var got []string
	for _, script := range win.ran {
		got = append(got, script.Text)
	}
	if diff := cmp.Diff([]string{"window.live=1"}, got); diff != "" {
		t.Errorf("Unexpected scripts run (-want +got):\n%s", diff)
	}
	if len(win.ran) == 1 && win.ran[0].Index != 0 {
		t.Errorf("Expected the live script to be the fragment's first script, got index %d", win.ran[0].Index)
	}
	if diff := cmp.Diff(markup, innerHTML(t, doc, "header-container")); diff != "" {
		t.Errorf("Expected template contents to be left alone (-want +got):\n%s", diff)
	}
}

func TestInsertComponentModuleNoModulePair(t *testing.T) {
	t.Parallel()

	ctx := testContext(t)
	win := newWindow()
	doc := parsePage(t, testPage, "/")
	loader := fragments.NewLoader(nil, fragments.WithScriptRunner(win))

	loader.InsertComponent(ctx, doc, "header-container", "header.html",
		`<script type="module">window.app="module"</script>`+
			`<script nomodule>window.app="legacy"</script>`)

	if len(win.ran) != 1 {
		t.Fatalf("Expected exactly one of the pair to run, ran %d", len(win.ran))
	}
	if got := win.vars["app"]; got != `"module"` {
		t.Errorf("Expected the module script to run, got window.app=%s", got)
	}
}

func TestInsertComponentScriptErrorsDoNotStopOthers(t *testing.T) {
	t.Parallel()

	ctx := testContext(t)
	win := newWindow()
	win.fails = map[int]error{0: errors.New("ReferenceError: foo is not defined")}
	doc := parsePage(t, testPage, "/")
	loader := fragments.NewLoader(nil, fragments.WithScriptRunner(win))

	loader.InsertComponent(ctx, doc, "header-container", "header.html",
		`<script>foo()</script><script>window.after=1</script>`)

	if got := win.vars["after"]; got != "1" {
		t.Errorf("Expected the second script to run after the first failed, got %q", got)
	}
}

func TestInsertComponentWithoutRunner(t *testing.T) {
	t.Parallel()

	ctx := testContext(t)
	doc := parsePage(t, testPage, "/")
	loader := fragments.NewLoader(nil)

	markup := `<script async src="a.js"></script><script>window.x=1</script>`
	loader.InsertComponent(ctx, doc, "header-container", "header.html", markup)

	want := `<script async="" src="a.js"></script><script>window.x=1</script>`
	if diff := cmp.Diff(want, innerHTML(t, doc, "header-container")); diff != "" {
		t.Errorf("Expected scripts to be left in the document (-want +got):\n%s", diff)
	}
}

func TestInsertComponentReplacesContents(t *testing.T) {
	t.Parallel()

	ctx := testContext(t)
	doc := parsePage(t, `<div id="slot"><p>old</p><span>older</span></div>`, "/")
	loader := fragments.NewLoader(nil)

	loader.InsertComponent(ctx, doc, "slot", "slot.html", `<p>new</p>`)
	if got := innerHTML(t, doc, "slot"); got != `<p>new</p>` {
		t.Errorf("Expected contents to be replaced, got %q", got)
	}

	// missing containers are ignored
	loader.InsertComponent(ctx, doc, "no-slot", "slot.html", `<p>new</p>`)
}

func TestScriptExecutable(t *testing.T) {
	t.Parallel()

	tests := map[string]bool{
		"":                        true,
		"text/javascript":         true,
		" Text/JavaScript ":       true,
		"module":                  true,
		"application/javascript":  true,
		"application/json":        false,
		"text/template":           false,
		"application/ld+json":     false,
		"text/x-handlebars":       false,
		"text/ecmascript":         true,
		"text/javascript;charset": true,
	}
	for typ, want := range tests {
		script := fragments.Script{Attrs: []html.Attribute{{Key: "type", Val: typ}}}
		if got := script.Executable(); got != want {
			t.Errorf("Expected Executable() for type %q to be %v, got %v", typ, want, got)
		}
	}

	if !(fragments.Script{}).Executable() {
		t.Errorf("Expected a script without a type to be executable")
	}

	nomodule := map[string]bool{
		"":                true,
		"text/javascript": true,
		"module":          false,
	}
	for typ, skipped := range nomodule {
		attrs := []html.Attribute{{Key: "nomodule"}}
		if typ != "" {
			attrs = append(attrs, html.Attribute{Key: "type", Val: typ})
		}
		script := fragments.Script{Attrs: attrs}
		if got := script.Executable(); got == skipped {
			t.Errorf("Expected Executable() for nomodule script of type %q to be %v, got %v", typ, !skipped, got)
		}
	}
}
