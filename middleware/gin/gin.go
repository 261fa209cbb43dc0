// Package gin mounts the Stripe webhook processor on a Gin router.
package gin

import (
	gongin "github.com/gin-gonic/gin"

	"github.com/mihaimyh/subhook/pkg/stripe"
)

// Handler adapts the processor's webhook handler to Gin.
// Gin does not consume the body, so the raw bytes reach signature
// verification untouched.
func Handler(p *stripe.Processor) gongin.HandlerFunc {
	if p == nil {
		panic("subhook/gin: processor is required")
	}
	return gongin.WrapH(p.WebhookHandler())
}

// Register mounts the webhook on every method at path so the processor
// answers preflight requests and rejects non-POST methods itself.
func Register(r gongin.IRoutes, path string, p *stripe.Processor) {
	r.Any(path, Handler(p))
}
