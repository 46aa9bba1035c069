package httpapi

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-genreq-backend/internal/http/middleware"
)

var (
	corsMethods = []string{"GET", "POST", "OPTIONS"}
	corsAllow   = []string{"Origin", "Content-Type", "Accept", "Authorization", "If-None-Match", middleware.HeaderIdempotencyKey}
	corsExpose  = []string{middleware.HeaderRequestID, "Content-Length", "ETag", middleware.HeaderIdempotencyReplayed}
)

// corsHandlers builds the CORS chain. Credentials are never allowed: the API
// authenticates with bearer tokens, not cookies.
//
// With no origins configured every origin is accepted and
// Access-Control-Allow-Origin is "*" even on requests without Origin, so
// plain probes see the same header as browsers. With an allowlist, a listed
// Origin is echoed back with Vary: Origin.
func corsHandlers(origins []string) []gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods:     corsMethods,
		AllowHeaders:     corsAllow,
		ExposeHeaders:    corsExpose,
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}

	if len(origins) == 0 {
		cfg.AllowAllOrigins = true
		return []gin.HandlerFunc{
			func(c *gin.Context) {
				c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
				c.Next()
			},
			cors.New(cfg),
		}
	}

	cfg.AllowOrigins = origins
	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		allowed[o] = struct{}{}
	}
	return []gin.HandlerFunc{
		func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					h := c.Writer.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
			}
			c.Next()
		},
		cors.New(cfg),
	}
}
