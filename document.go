package fragments

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var (
	// ErrMissingContainer is returned internally when a container ID
	// can't be found in a Document. The Loader treats it as a silent
	// no-op; it is never logged and never triggers a fallback.
	ErrMissingContainer = errors.New("container not found")
)

// Document is an HTML document that fragments get loaded into, along with
// the location it is being viewed at. The location decides which navigation
// links are marked as active.
//
// A Document is safe for concurrent use; every read and mutation of the tree
// goes through its methods.
type Document struct {
	mu       sync.Mutex
	root     *html.Node
	location *url.URL

	// scriptMu serialises script execution so scripts from two fragments
	// inserted at the same time never interleave. It is held separately
	// from mu so runners never execute with the tree locked.
	scriptMu sync.Mutex
}

// ParseDocument parses the HTML read from r into a Document viewed at
// location.
func ParseDocument(r io.Reader, location string) (*Document, error) {
	loc, err := url.Parse(location)
	if err != nil {
		return nil, fmt.Errorf("error parsing document location %q: %w", location, err)
	}
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("error parsing document at %q: %w", location, err)
	}
	return NewDocument(root, loc), nil
}

// NewDocument wraps an already parsed tree. A nil location is treated as
// the site root.
func NewDocument(root *html.Node, location *url.URL) *Document {
	if location == nil {
		location = &url.URL{Path: "/"}
	}
	return &Document{root: root, location: location}
}

// Location returns a copy of the URL the Document is viewed at.
func (d *Document) Location() *url.URL {
	loc := *d.location
	return &loc
}

// Render writes the Document as HTML to w.
func (d *Document) Render(w io.Writer) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return html.Render(w, d.root)
}

// HasElement reports whether an element with the given ID exists.
func (d *Document) HasElement(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return elementByID(d.root, id) != nil
}

// InnerHTML returns the rendered children of the element with the given
// ID, and false if there is no such element.
func (d *Document) InnerHTML(id string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	el := elementByID(d.root, id)
	if el == nil {
		return "", false
	}
	var buf bytes.Buffer
	for c := el.FirstChild; c != nil; c = c.NextSibling {
		if err := html.Render(&buf, c); err != nil {
			return "", false
		}
	}
	return buf.String(), true
}

// withContainer runs fn with the tree locked and the element with the given
// ID resolved. It returns ErrMissingContainer, without calling fn, when
// there's no such element.
func (d *Document) withContainer(id string, fn func(container *html.Node) error) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	container := elementByID(d.root, id)
	if container == nil {
		return ErrMissingContainer
	}
	return fn(container)
}

// mutate runs fn with the tree locked.
func (d *Document) mutate(fn func(root *html.Node)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fn(d.root)
}

// replaceChildren swaps the children of container for nodes.
func replaceChildren(container *html.Node, nodes []*html.Node) {
	for container.FirstChild != nil {
		container.RemoveChild(container.FirstChild)
	}
	for _, node := range nodes {
		container.AppendChild(node)
	}
}

func elementByID(root *html.Node, id string) *html.Node {
	var found *html.Node
	walk(root, func(n *html.Node) bool {
		if n.Type == html.ElementNode && attr(n, "id") == id {
			found = n
			return false
		}
		return true
	})
	return found
}

// walk visits n and its descendants in document order until visit returns
// false.
func walk(n *html.Node, visit func(*html.Node) bool) bool {
	if !visit(n) {
		return false
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if !walk(c, visit) {
			return false
		}
	}
	return true
}

func attr(n *html.Node, key string) string {
	val, _ := lookupAttr(n, key)
	return val
}

func lookupAttr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

func isElement(n *html.Node, a atom.Atom) bool {
	return n.Type == html.ElementNode && n.DataAtom == a
}

func hasClass(n *html.Node, class string) bool {
	for _, token := range strings.Fields(attr(n, "class")) {
		if token == class {
			return true
		}
	}
	return false
}

// setClass adds or removes a class token. Removing a class from an element
// without a class attribute leaves it without one.
func setClass(n *html.Node, class string, on bool) {
	for i, a := range n.Attr {
		if a.Namespace != "" || a.Key != "class" {
			continue
		}
		tokens := strings.Fields(a.Val)
		kept := tokens[:0]
		present := false
		for _, token := range tokens {
			if token == class {
				if present || !on {
					continue
				}
				present = true
			}
			kept = append(kept, token)
		}
		if on && !present {
			kept = append(kept, class)
		}
		n.Attr[i].Val = strings.Join(kept, " ")
		return
	}
	if on {
		n.Attr = append(n.Attr, html.Attribute{Key: "class", Val: class})
	}
}
