package security

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

type HeadersConfig struct {
	// DashboardOrigins may open websocket progress streams and call the API.
	DashboardOrigins []string
	IsDevelopment    bool
}

// HeadersMiddleware sets response headers for a JSON API that is never
// rendered as a page.
func HeadersMiddleware(cfg HeadersConfig) fiber.Handler {
	connectSrc := "'self'"
	if extra := buildConnectSrc(cfg.DashboardOrigins); extra != "" {
		connectSrc += " " + extra
	}
	csp := "default-src 'none'; " +
		"connect-src " + connectSrc + "; " +
		"frame-ancestors 'none'; " +
		"base-uri 'none'; " +
		"form-action 'none'"

	return func(c *fiber.Ctx) error {
		c.Set("X-Frame-Options", "DENY")
		c.Set("X-Content-Type-Options", "nosniff")
		c.Set("Referrer-Policy", "no-referrer")
		c.Set("Cache-Control", "no-store")

		if !cfg.IsDevelopment {
			c.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Set("Content-Security-Policy", csp)

		return c.Next()
	}
}

func buildConnectSrc(origins []string) string {
	var parts []string
	for _, origin := range origins {
		origin = strings.TrimSpace(origin)
		if origin == "" || origin == "*" {
			continue
		}
		parts = append(parts, origin)
		if strings.HasPrefix(origin, "https://") {
			parts = append(parts, "wss://"+strings.TrimPrefix(origin, "https://"))
		} else if strings.HasPrefix(origin, "http://") {
			parts = append(parts, "ws://"+strings.TrimPrefix(origin, "http://"))
		}
	}
	return strings.TrimSpace(strings.Join(parts, " "))
}
