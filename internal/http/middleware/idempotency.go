package middleware

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
)

// Idempotency headers. A client sends the key; a response served from a
// stored result carries Idempotency-Replayed: true.
const (
	HeaderIdempotencyKey      = "Idempotency-Key"
	HeaderIdempotencyReplayed = "Idempotency-Replayed"
)

const idemKeyKey = "idem.key"

var defaultIdemPattern = regexp.MustCompile(`^[A-Za-z0-9._~\-:]+$`)

// IdempotencyOptions configures IdempotencyValidator.
type IdempotencyOptions struct {
	// MaxLen caps the key length. Values <= 0 default to 200.
	MaxLen int
	// Pattern restricts allowed characters; nil means ^[A-Za-z0-9._~\-:]+$.
	Pattern *regexp.Regexp
}

// IdempotencyValidator checks an optional Idempotency-Key header and makes it
// available through GetIdempotencyKey. A malformed key is rejected with 400
// bad_idempotency_key before the handler runs. Anonymous requests pass
// through untouched so the handler answers 401 first. It must run after
// Authenticate. Lookup and replay belong to the request service; this
// middleware never touches storage.
func IdempotencyValidator(opts IdempotencyOptions) gin.HandlerFunc {
	maxLen := opts.MaxLen
	if maxLen <= 0 {
		maxLen = 200
	}
	pat := opts.Pattern
	if pat == nil {
		pat = defaultIdemPattern
	}

	return func(c *gin.Context) {
		if IdentityFrom(c) == nil {
			c.Next()
			return
		}
		key := strings.TrimSpace(c.GetHeader(HeaderIdempotencyKey))
		switch {
		case key == "":
		case len(key) > maxLen || !pat.MatchString(key):
			abortJSON(c, http.StatusBadRequest, "bad_idempotency_key", "invalid Idempotency-Key")
			return
		default:
			c.Set(idemKeyKey, key)
		}
		c.Next()
	}
}

// GetIdempotencyKey returns the key validated by IdempotencyValidator.
func GetIdempotencyKey(c *gin.Context) (string, bool) {
	key := c.GetString(idemKeyKey)
	return key, key != ""
}
