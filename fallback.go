package fragments

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
	"time"
)

// Role is what a fragment is for, inferred from its source. It only decides
// which fallback gets rendered when the fragment can't be loaded.
type Role int

const (
	// RoleUnknown fragments get no fallback; their container is left as
	// it was.
	RoleUnknown Role = iota

	// RoleNavigation fragments fall back to a link home.
	RoleNavigation

	// RoleFooter fragments fall back to a copyright line.
	RoleFooter
)

func (r Role) String() string {
	switch r {
	case RoleNavigation:
		return "navigation"
	case RoleFooter:
		return "footer"
	default:
		return "unknown"
	}
}

// ClassifySource infers the Role of a fragment from its source. The match is
// a case-sensitive substring match: "header" means navigation, "footer"
// means footer, and header wins if both appear.
func ClassifySource(source string) Role {
	switch {
	case strings.Contains(source, "header"):
		return RoleNavigation
	case strings.Contains(source, "footer"):
		return RoleFooter
	default:
		return RoleUnknown
	}
}

// Fallback holds the content used to synthesize replacement markup for
// fragments that failed to load. The markup is plain HTML: it needs no
// scripts to render.
type Fallback struct {
	// Home is the link target offered by the navigation fallback. It
	// defaults to DefaultDocument.
	Home string `yaml:"home"`

	// SiteName follows the year in the footer's copyright line.
	SiteName string `yaml:"site_name"`

	// Contact is an optional line rendered under the copyright line.
	Contact string `yaml:"contact"`
}

type fallbackData struct {
	Home     string
	SiteName string
	Contact  string
	Year     int
}

var fallbackTemplates = template.Must(template.New("").Parse(`
{{- define "navigation" -}}
<div class="fragment-fallback fragment-fallback-navigation" style="padding: 20px; text-align: center; background: #f5f5f5;">
	<p>Navigation could not be loaded. <a href="{{ .Home }}">Go to Home</a></p>
</div>
{{- end -}}
{{- define "footer" -}}
<footer class="fragment-fallback fragment-fallback-footer" style="background: #1a1a1a; color: white; padding: 20px; text-align: center;">
	<p>© {{ .Year }}{{ with .SiteName }} {{ . }}{{ end }}</p>
	{{- with .Contact }}
	<p>{{ . }}</p>
	{{- end }}
</footer>
{{- end -}}
`))

// Render returns the fallback markup for role, with the copyright year taken
// from now. It returns false for RoleUnknown, which has no fallback.
func (f Fallback) Render(role Role, now time.Time) (string, bool, error) {
	if role == RoleUnknown {
		return "", false, nil
	}
	data := fallbackData{
		Home:     f.Home,
		SiteName: f.SiteName,
		Contact:  f.Contact,
		Year:     now.Year(),
	}
	if data.Home == "" {
		data.Home = DefaultDocument
	}
	var buf bytes.Buffer
	if err := fallbackTemplates.ExecuteTemplate(&buf, role.String(), data); err != nil {
		return "", false, fmt.Errorf("error rendering %s fallback: %w", role, err)
	}
	return buf.String(), true, nil
}
