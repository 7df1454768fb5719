package fragments

import (
	"context"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Script is a script element re-created from a fragment's markup after it
// was inserted into a Document.
type Script struct {
	// Source is the fragment source the script was loaded from.
	Source string

	// Index is the position of the script among the scripts of its
	// fragment, in document order.
	Index int

	// Attrs holds every attribute of the original element, in order.
	Attrs []html.Attribute

	// Text is the inline content of the script.
	Text string
}

// Attr returns the value of the named attribute and whether it was set.
func (s Script) Attr(key string) (string, bool) {
	for _, a := range s.Attrs {
		if a.Namespace == "" && a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

// Src returns the URL of an external script, or an empty string for inline
// scripts.
func (s Script) Src() string {
	src, _ := s.Attr("src")
	return src
}

// Async reports whether the script carries the async marker.
func (s Script) Async() bool {
	_, ok := s.Attr("async")
	return ok
}

// Defer reports whether the script carries the defer marker.
func (s Script) Defer() bool {
	_, ok := s.Attr("defer")
	return ok
}

// Module reports whether the script is an ES module.
func (s Script) Module() bool {
	typ, _ := s.Attr("type")
	return strings.EqualFold(strings.TrimSpace(typ), "module")
}

// NoModule reports whether the script carries the nomodule marker.
func (s Script) NoModule() bool {
	_, ok := s.Attr("nomodule")
	return ok
}

// Executable reports whether a browser with module support would run the
// script: it has no type, a JavaScript MIME type, or is a module. Data
// blocks such as application/json or text/template are not executable, and
// neither are classic scripts marked nomodule.
func (s Script) Executable() bool {
	if s.Module() {
		return true
	}
	if s.NoModule() {
		return false
	}
	typ, ok := s.Attr("type")
	if !ok {
		return true
	}
	typ = strings.ToLower(strings.TrimSpace(typ))
	if typ == "" {
		return true
	}
	if mime, _, found := strings.Cut(typ, ";"); found {
		typ = strings.TrimSpace(mime)
	}
	_, ok = javaScriptTypes[typ]
	return ok
}

var javaScriptTypes = map[string]struct{}{
	"application/ecmascript":   {},
	"application/javascript":   {},
	"application/x-ecmascript": {},
	"application/x-javascript": {},
	"text/ecmascript":          {},
	"text/javascript":          {},
	"text/javascript1.0":       {},
	"text/javascript1.1":       {},
	"text/javascript1.2":       {},
	"text/javascript1.3":       {},
	"text/javascript1.4":       {},
	"text/javascript1.5":       {},
	"text/jscript":             {},
	"text/livescript":          {},
	"text/x-ecmascript":        {},
	"text/x-javascript":        {},
}

// ScriptRunner executes scripts that arrive inside fragments. Markup parsed
// into a tree doesn't run its scripts by itself, so the Loader hands every
// executable script to the ScriptRunner once, after the fragment has been
// inserted, in document order.
//
// Runners are never called with the Document locked, but must not assume
// anything about the order of scripts belonging to different fragments.
type ScriptRunner interface {
	RunScript(ctx context.Context, script Script) error
}

// ScriptRunnerFunc adapts a plain function to the ScriptRunner interface.
type ScriptRunnerFunc func(ctx context.Context, script Script) error

// RunScript calls f.
func (f ScriptRunnerFunc) RunScript(ctx context.Context, script Script) error {
	return f(ctx, script)
}

// reactivateScripts replaces every script element under nodes with a fresh
// copy carrying the same attributes and text, and returns the copies in
// document order.
func reactivateScripts(source string, nodes []*html.Node) []Script {
	var old []*html.Node
	var collect func(n *html.Node)
	collect = func(n *html.Node) {
		switch {
		case isElement(n, atom.Template):
			// template contents are inert
			return
		case isElement(n, atom.Script):
			old = append(old, n)
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			collect(c)
		}
	}
	for _, node := range nodes {
		collect(node)
	}

	scripts := make([]Script, 0, len(old))
	for i, script := range old {
		fresh := &html.Node{
			Type:      html.ElementNode,
			DataAtom:  script.DataAtom,
			Data:      script.Data,
			Namespace: script.Namespace,
			Attr:      append([]html.Attribute(nil), script.Attr...),
		}
		text := textContent(script)
		if text != "" {
			fresh.AppendChild(&html.Node{Type: html.TextNode, Data: text})
		}
		if parent := script.Parent; parent != nil {
			parent.InsertBefore(fresh, script)
			parent.RemoveChild(script)
		}
		scripts = append(scripts, Script{
			Source: source,
			Index:  i,
			Attrs:  append([]html.Attribute(nil), fresh.Attr...),
			Text:   text,
		})
	}
	return scripts
}

func textContent(n *html.Node) string {
	var b strings.Builder
	walk(n, func(c *html.Node) bool {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
		}
		return true
	})
	return b.String()
}
