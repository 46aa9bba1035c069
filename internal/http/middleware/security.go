package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// SecurityOptions configures SecurityHeaders.
type SecurityOptions struct {
	// EnableHSTS sends Strict-Transport-Security on HTTPS requests only.
	// Turn it on only when traffic is HTTPS end-to-end.
	EnableHSTS bool
	// HSTSMaxAge defaults to 180 days when <= 0.
	HSTSMaxAge time.Duration
	// NoStore forbids caching of responses (Cache-Control: no-store plus the
	// legacy Pragma/Expires pair).
	NoStore bool
	// EnablePolicy adds Permissions-Policy and
	// X-Permitted-Cross-Domain-Policies.
	EnablePolicy bool
	// ExposeHeaders are listed in Access-Control-Expose-Headers together with
	// X-Request-ID so browser clients can read them.
	ExposeHeaders []string
}

// SecurityHeaders adds hardening headers suitable for a JSON API. The fixed
// part of the header set is computed once; only HSTS depends on the request.
func SecurityHeaders(opt SecurityOptions) gin.HandlerFunc {
	fixed := http.Header{}
	fixed.Set("X-Content-Type-Options", "nosniff")
	fixed.Set("X-Frame-Options", "DENY")
	fixed.Set("Referrer-Policy", "no-referrer")
	if opt.EnablePolicy {
		fixed.Set("Permissions-Policy", "geolocation=(), microphone=(), camera=(), payment=()")
		fixed.Set("X-Permitted-Cross-Domain-Policies", "none")
	}
	if opt.NoStore {
		fixed.Set("Cache-Control", "no-store")
		fixed.Set("Pragma", "no-cache")
		fixed.Set("Expires", "0")
	}

	expose := append([]string{HeaderRequestID}, opt.ExposeHeaders...)

	var hsts string
	if opt.EnableHSTS {
		maxAge := opt.HSTSMaxAge
		if maxAge <= 0 {
			maxAge = 180 * 24 * time.Hour
		}
		hsts = "max-age=" + strconv.FormatInt(int64(maxAge/time.Second), 10) + "; includeSubDomains; preload"
	}

	return func(c *gin.Context) {
		h := c.Writer.Header()
		for k, v := range fixed {
			h[k] = append([]string(nil), v...)
		}
		if hsts != "" && isHTTPS(c.Request) {
			h.Set("Strict-Transport-Security", hsts)
		}
		for _, name := range expose {
			exposeHeader(h, name)
		}
		c.Next()
	}
}

// exposeHeader appends name to Access-Control-Expose-Headers unless an entry
// with the same name (case-insensitive) is already there.
func exposeHeader(h http.Header, name string) {
	const hdr = "Access-Control-Expose-Headers"
	name = strings.TrimSpace(name)
	if name == "" {
		return
	}
	cur := h.Get(hdr)
	if cur == "" {
		h.Set(hdr, name)
		return
	}
	for _, p := range strings.Split(cur, ",") {
		if strings.EqualFold(strings.TrimSpace(p), name) {
			return
		}
	}
	h.Set(hdr, cur+", "+name)
}

// isHTTPS reports TLS on the connection or X-Forwarded-Proto: https from a
// proxy.
func isHTTPS(r *http.Request) bool {
	return r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}
