package middleware

import (
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// AccessLogOptions configures AccessLog.
type AccessLogOptions struct {
	// MaskHeaders are replaced by "[REDACTED]" in addition to Authorization,
	// Cookie and Set-Cookie. Matching is case-insensitive.
	MaskHeaders []string
	// SkipPaths are routes that get no access log line (probes, scrapes).
	// They still get a request-scoped logger.
	SkipPaths []string
	// MaxQuery caps the logged query string in bytes. 0 means 2048.
	MaxQuery int
}

// AccessLog writes one structured line per request and attaches a logger
// carrying request_id before the handler runs (see LoggerFrom).
//
// Bodies are never logged. Prompts and generated text only travel in bodies,
// so they stay out of the access log entirely. Query strings and header
// values are scrubbed of e-mail addresses, phone numbers and UUIDs.
//
// Level: error for 5xx or when handlers recorded c.Error, warn for 4xx,
// info otherwise.
func AccessLog(opts AccessLogOptions) gin.HandlerFunc {
	sc := newScrubber(opts.MaskHeaders)
	maxQuery := opts.MaxQuery
	if maxQuery <= 0 {
		maxQuery = 2048
	}
	skip := make(map[string]struct{}, len(opts.SkipPaths))
	for _, p := range opts.SkipPaths {
		skip[p] = struct{}{}
	}

	return func(c *gin.Context) {
		start := time.Now()

		scoped := log.With().Str("request_id", RequestIDFrom(c)).Logger()
		attachLogger(c, &scoped)

		c.Next()

		route := routeOf(c)
		if _, ok := skip[route]; ok {
			return
		}

		status := c.Writer.Status()
		var ev *zerolog.Event
		switch {
		case len(c.Errors) > 0 || status >= http.StatusInternalServerError:
			ev = scoped.Error()
			if len(c.Errors) > 0 {
				ev = ev.Str("errors", c.Errors.String())
			}
		case status >= http.StatusBadRequest:
			ev = scoped.Warn()
		default:
			ev = scoped.Info()
		}

		if uid := c.GetString(userIDKey); uid != "" {
			ev = ev.Str("user_id", uid)
		}
		if id := recordIDFrom(c); id != 0 {
			ev = ev.Uint("record_id", id)
		}
		if c.Writer.Header().Get(HeaderIdempotencyReplayed) == "true" {
			ev = ev.Bool("replayed", true)
		}

		ev.Str("method", c.Request.Method).
			Str("route", route).
			Str("query", truncate(sc.scrub(c.Request.URL.RawQuery), maxQuery)).
			Str("remote_ip", c.ClientIP()).
			Int("status", status).
			Int64("bytes_in", c.Request.ContentLength).
			Int("bytes_out", c.Writer.Size()).
			Dur("latency", time.Since(start)).
			Interface("headers", sc.headers(c.Request.Header)).
			Msg("http_request")
	}
}

// scrubber removes obvious personal data from loggable strings.
type scrubber struct {
	masked map[string]struct{}
}

// UUIDs go first: the phone pattern would otherwise eat their digit runs.
// The phone pattern is digits-only so hex segments never match.
var scrubRules = []struct {
	re   *regexp.Regexp
	repl string
}{
	{regexp.MustCompile(`(?i)\b[0-9a-f]{8}-[0-9a-f]{4}-[1-5][0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}\b`), "[REDACTED:id]"},
	{regexp.MustCompile(`(?i)\b[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}\b`), "[REDACTED:email]"},
	{regexp.MustCompile(`\b(?:\+?\d{1,3}[ .-]?)?(?:\(?\d{2,4}\)?[ .-]?)?\d{3,4}[ .-]?\d{4}\b`), "[REDACTED:phone]"},
}

func newScrubber(extra []string) *scrubber {
	s := &scrubber{masked: map[string]struct{}{
		"authorization": {},
		"cookie":        {},
		"set-cookie":    {},
	}}
	for _, h := range extra {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			s.masked[h] = struct{}{}
		}
	}
	return s
}

func (s *scrubber) scrub(v string) string {
	for _, r := range scrubRules {
		v = r.re.ReplaceAllString(v, r.repl)
	}
	return v
}

// headers flattens h for logging with masked and scrubbed values. The
// correlation id is kept verbatim since it is logged anyway.
func (s *scrubber) headers(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, vv := range h {
		switch _, masked := s.masked[strings.ToLower(k)]; {
		case masked:
			out[k] = "[REDACTED]"
		case http.CanonicalHeaderKey(k) == HeaderRequestID:
			out[k] = strings.Join(vv, ", ")
		default:
			out[k] = s.scrub(strings.Join(vv, ", "))
		}
	}
	return out
}

// truncate cuts s to max bytes and marks the cut.
func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max] + "…"
}
