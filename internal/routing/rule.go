package routing

import (
	"net/url"
	"slices"
	"strings"
)

// Rules are the strategy-rule tables. They are immutable once handed to
// an Engine.
type Rules struct {
	NetworkOnly          []string `yaml:"network_only" json:"network_only"`
	NetworkFirst         []string `yaml:"network_first" json:"network_first"`
	StaleWhileRevalidate []string `yaml:"stale_while_revalidate" json:"stale_while_revalidate"`
	StaticExtensions     []string `yaml:"static_extensions" json:"static_extensions"`
	TrustedOrigins       []string `yaml:"trusted_origins" json:"trusted_origins"`
}

// DefaultRules returns the studio site's rule tables.
func DefaultRules() Rules {
	return Rules{
		NetworkOnly:  []string{"/analytics", "/live", "/admin"},
		NetworkFirst: []string{"/api/", "/instagram/", "/contact", "/newsletter"},
		StaleWhileRevalidate: []string{
			"/images/portfolio/",
			"/images/studio/",
			"/images/blog/",
		},
		StaticExtensions: []string{".css", ".js", ".mjs", ".woff", ".woff2", ".ttf", ".otf", ".eot"},
		TrustedOrigins: []string{
			"https://fonts.googleapis.com",
			"https://fonts.gstatic.com",
			"https://cdnjs.cloudflare.com",
			"https://unpkg.com",
			"https://api.instagram.com",
			"https://graph.instagram.com",
		},
	}
}

// Clone returns a deep copy.
func (r Rules) Clone() Rules {
	return Rules{
		NetworkOnly:          slices.Clone(r.NetworkOnly),
		NetworkFirst:         slices.Clone(r.NetworkFirst),
		StaleWhileRevalidate: slices.Clone(r.StaleWhileRevalidate),
		StaticExtensions:     slices.Clone(r.StaticExtensions),
		TrustedOrigins:       slices.Clone(r.TrustedOrigins),
	}
}

// Match records which table entry decided a classification.
type Match struct {
	Strategy Strategy `json:"strategy"`
	Table    string   `json:"table"`
	Marker   string   `json:"marker,omitempty"`
}

// Table names reported in Match.
const (
	TableNetworkOnly          = "network_only"
	TableNetworkFirst         = "network_first"
	TableStaleWhileRevalidate = "stale_while_revalidate"
	TableStaticExtensions     = "static_extensions"
	TableDocument             = "destination:document"
	TableImage                = "destination:image"
	TableDefault              = "default"
)

// firstMarker returns the first marker contained in s.
func firstMarker(s string, markers []string) (string, bool) {
	for _, m := range markers {
		if m != "" && strings.Contains(s, m) {
			return m, true
		}
	}
	return "", false
}

// normalizeOrigin reduces an origin string to scheme://host[:port].
func normalizeOrigin(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return strings.ToLower(strings.TrimSuffix(raw, "/"))
	}
	return originOf(u)
}

func originOf(u *url.URL) string {
	host := strings.ToLower(u.Hostname())
	port := u.Port()
	scheme := strings.ToLower(u.Scheme)
	if (scheme == "https" && port == "443") || (scheme == "http" && port == "80") {
		port = ""
	}
	if port != "" {
		host += ":" + port
	}
	return scheme + "://" + host
}
