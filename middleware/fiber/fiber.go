// Package fiber mounts the Stripe webhook processor on a Fiber app.
package fiber

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"

	"github.com/mihaimyh/subhook/pkg/stripe"
)

// Handler adapts the processor's webhook handler to Fiber through the
// net/http adaptor. Fiber's own BodyLimit applies before the processor's
// limit; keep it at or above the processor's MaxBodyBytes.
func Handler(p *stripe.Processor) fiber.Handler {
	if p == nil {
		panic("subhook/fiber: processor is required")
	}
	return adaptor.HTTPHandler(p.WebhookHandler())
}

// Register mounts the webhook on every method at path.
func Register(r fiber.Router, path string, p *stripe.Processor) {
	r.All(path, Handler(p))
}
