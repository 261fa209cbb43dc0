// Package echo mounts the Stripe webhook processor on an Echo router.
package echo

import (
	"github.com/labstack/echo/v4"

	"github.com/mihaimyh/subhook/pkg/stripe"
)

// Handler adapts the processor's webhook handler to Echo.
func Handler(p *stripe.Processor) echo.HandlerFunc {
	if p == nil {
		panic("subhook/echo: processor is required")
	}
	return echo.WrapHandler(p.WebhookHandler())
}

// Register mounts the webhook on every method at path. Group middleware must
// leave the request body unread; signature verification needs the raw bytes.
func Register(e *echo.Group, path string, p *stripe.Processor) {
	e.Any(path, Handler(p))
}

// RegisterRoot is Register for the root router.
func RegisterRoot(e *echo.Echo, path string, p *stripe.Processor) {
	e.Any(path, Handler(p))
}
