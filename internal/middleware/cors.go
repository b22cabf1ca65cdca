package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	corsAllowMethods = "GET, POST, PUT, OPTIONS"
	corsAllowHeaders = "Content-Type, Authorization, X-Request-ID"
)

// originMatcher holds exact origins and "https://*.example.com" style suffix patterns.
type originMatcher struct {
	any      bool
	exact    map[string]bool
	suffixes []struct{ scheme, suffix string }
}

func newOriginMatcher(origins []string) originMatcher {
	m := originMatcher{exact: make(map[string]bool)}
	for _, o := range origins {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		switch {
		case o == "":
		case o == "*":
			m.any = true
		case strings.Contains(o, "://*."):
			scheme, host, _ := strings.Cut(o, "://*")
			m.suffixes = append(m.suffixes, struct{ scheme, suffix string }{scheme + "://", host})
		default:
			m.exact[o] = true
		}
	}
	if len(m.exact) == 0 && len(m.suffixes) == 0 {
		m.any = true
	}
	return m
}

func (m originMatcher) allows(origin string) bool {
	if m.exact[origin] {
		return true
	}
	for _, s := range m.suffixes {
		if rest, ok := strings.CutPrefix(origin, s.scheme); ok && strings.HasSuffix(rest, s.suffix) && len(rest) > len(s.suffix) {
			return true
		}
	}
	return false
}

// CORS lets the booking frontends call the payment API. Origins are exact ("https://hallhub.sa"),
// a subdomain pattern ("https://*.hallhub.sa") or "*"; an empty list allows any origin.
// Provider webhooks are server-to-server and carry no Origin header, so they pass untouched.
func CORS(origins []string) gin.HandlerFunc {
	m := newOriginMatcher(origins)
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" {
			switch {
			case m.any:
				c.Header("Access-Control-Allow-Origin", "*")
			case m.allows(origin):
				c.Header("Access-Control-Allow-Origin", origin)
				c.Header("Vary", "Origin")
			default:
				origin = ""
			}
		}
		if origin != "" {
			c.Header("Access-Control-Allow-Methods", corsAllowMethods)
			c.Header("Access-Control-Allow-Headers", corsAllowHeaders)
			c.Header("Access-Control-Max-Age", "86400")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
