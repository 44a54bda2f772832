package ytdlp

import (
	"net/url"
	"os"
	"strings"

	"go-media-download/internal/models"

	log "github.com/sirupsen/logrus"
)

// Hop is one step in the outer fallback chain. An empty Url means a direct
// connection.
type Hop struct {
	Name string
	Url  string
}

func (h Hop) Direct() bool { return h.Url == "" }

// BuildProxyChain returns the ordered fallback chain: configured proxies
// first, then the PROXY_URL environment variable if set, then always a
// direct hop as last resort. Values "none" and "disabled" are ignored.
func BuildProxyChain(configured []models.ProxyConfig) []Hop {
	var chain []Hop

	for _, p := range configured {
		u := strings.TrimSpace(p.Url)
		if u == "" || u == "none" || u == "disabled" {
			continue
		}
		name := p.Name
		if name == "" {
			name = "proxy"
		}
		log.Infof("Using proxy: %s (%s)", name, MaskProxyUrl(u))
		chain = append(chain, Hop{Name: name, Url: u})
	}

	if env := strings.TrimSpace(os.Getenv("PROXY_URL")); env != "" && env != "none" && env != "disabled" {
		if !chainContains(chain, env) {
			log.Infof("Using proxy from environment: %s", MaskProxyUrl(env))
			chain = append(chain, Hop{Name: "env proxy", Url: env})
		}
	}

	chain = append(chain, Hop{Name: "direct"})
	log.Infof("Proxy chain configured: %d hop(s)", len(chain))
	return chain
}

func chainContains(chain []Hop, rawURL string) bool {
	for _, h := range chain {
		if h.Url == rawURL {
			return true
		}
	}
	return false
}

// MaskProxyUrl strips credentials from a proxy URL for logging.
func MaskProxyUrl(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.User == nil {
		return rawURL
	}
	u.User = url.User(u.User.Username())
	return u.String()
}
