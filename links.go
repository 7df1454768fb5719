package fragments

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

const (
	// DefaultDocument is the page assumed when a location's path has no
	// final segment, e.g. "/" or "/docs/".
	DefaultDocument = "index.html"

	// DefaultActiveClass marks the navigation link of the current page.
	DefaultActiveClass = "active"
)

// DefaultNavRegions are the classes of the elements whose links get marked
// active: the primary navigation and the footer navigation.
var DefaultNavRegions = []string{"nav-links", "footer-links"}

// ActiveLinks marks the navigation links that point at the page a Document
// is being viewed at. The zero value uses DefaultNavRegions,
// DefaultDocument, and DefaultActiveClass.
type ActiveLinks struct {
	// Regions are the classes of the elements whose descendant links are
	// considered navigation links.
	Regions []string `yaml:"regions"`

	// DefaultDocument stands in for the current page when the location's
	// path ends in a slash.
	DefaultDocument string `yaml:"default_document"`

	// Class is the class toggled on active links.
	Class string `yaml:"class"`
}

// CurrentPage returns the final segment of the Document's location path,
// still percent-encoded the way it appears in links, or the default
// document if that segment is empty.
func (a ActiveLinks) CurrentPage(doc *Document) string {
	p := doc.Location().EscapedPath()
	if i := strings.LastIndex(p, "/"); i >= 0 {
		p = p[i+1:]
	}
	if p == "" {
		return a.defaultDocument()
	}
	return p
}

// Update adds the active class to every navigation link whose href equals
// the current page, and removes it from all the others, so stale markers
// never survive. It is idempotent, and needs calling again whenever
// navigation markup is inserted.
func (a ActiveLinks) Update(doc *Document) {
	current := a.CurrentPage(doc)
	class := a.class()
	regions := a.regions()
	doc.mutate(func(root *html.Node) {
		for _, link := range navigationLinks(root, regions) {
			href, ok := lookupAttr(link, "href")
			setClass(link, class, ok && href == current)
		}
	})
}

// navigationLinks returns the links inside any region, each once, in
// document order.
func navigationLinks(root *html.Node, regions []string) []*html.Node {
	var links []*html.Node
	seen := map[*html.Node]struct{}{}
	walk(root, func(n *html.Node) bool {
		if n.Type != html.ElementNode || !inRegion(n, regions) {
			return true
		}
		walk(n, func(c *html.Node) bool {
			if c == n || !isElement(c, atom.A) {
				return true
			}
			if _, ok := seen[c]; !ok {
				seen[c] = struct{}{}
				links = append(links, c)
			}
			return true
		})
		return true
	})
	return links
}

func inRegion(n *html.Node, regions []string) bool {
	for _, region := range regions {
		if hasClass(n, region) {
			return true
		}
	}
	return false
}

func (a ActiveLinks) regions() []string {
	if len(a.Regions) == 0 {
		return DefaultNavRegions
	}
	return a.Regions
}

func (a ActiveLinks) defaultDocument() string {
	if a.DefaultDocument == "" {
		return DefaultDocument
	}
	return a.DefaultDocument
}

func (a ActiveLinks) class() string {
	if a.Class == "" {
		return DefaultActiveClass
	}
	return a.Class
}
