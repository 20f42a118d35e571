// Package routes declares the gateway's forwarding surface as explicit
// per-route records resolved once at startup. Auth requirements and
// rate-limit buckets live on the declaration, never inferred from path
// substrings at request time.
package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/shopcore/gateway/internal/config"
	"github.com/shopcore/gateway/internal/http/middleware"
	"github.com/shopcore/gateway/internal/identity"
	"github.com/shopcore/gateway/internal/proxy"
	"github.com/shopcore/gateway/internal/ratelimit"
)

// MethodAny registers a route for every HTTP method.
const MethodAny = "ANY"

// Route declares one forwarded route: verb, gin path pattern, target
// service, whether a principal is required, and an optional named
// rate-limit bucket. Routes without a bucket are classified by verb.
type Route struct {
	Method      string
	Path        string
	Service     string
	RequireAuth bool
	Bucket      string
}

// Table returns the static route declarations for the storefront and
// backoffice surface.
func Table() []Route {
	return []Route{
		// Auth service: pre-auth endpoints keyed by IP with dedicated
		// buckets, post-auth endpoints verb-classified.
		{Method: http.MethodPost, Path: "/api/auth/login", Service: proxy.ServiceAuth, Bucket: config.BucketAuthLogin},
		{Method: http.MethodPost, Path: "/api/auth/register", Service: proxy.ServiceAuth, Bucket: config.BucketAuthRegister},
		{Method: http.MethodPost, Path: "/api/auth/password-reset", Service: proxy.ServiceAuth, Bucket: config.BucketAuthPasswordReset},
		{Method: http.MethodPost, Path: "/api/auth/password-reset/confirm", Service: proxy.ServiceAuth, Bucket: config.BucketAuthPasswordReset},
		{Method: http.MethodGet, Path: "/api/auth/me", Service: proxy.ServiceAuth, RequireAuth: true},
		{Method: http.MethodPost, Path: "/api/auth/logout", Service: proxy.ServiceAuth, RequireAuth: true},

		// Catalog reads are public and lenient.
		{Method: http.MethodGet, Path: "/api/products", Service: proxy.ServiceProduct, Bucket: config.BucketAPIRead},
		{Method: http.MethodGet, Path: "/api/products/:id", Service: proxy.ServiceProduct, Bucket: config.BucketAPIRead},
		{Method: http.MethodGet, Path: "/api/categories", Service: proxy.ServiceProduct, Bucket: config.BucketAPIRead},
		{Method: http.MethodGet, Path: "/api/categories/:id", Service: proxy.ServiceProduct, Bucket: config.BucketAPIRead},

		// Cart and orders require a principal.
		{Method: http.MethodGet, Path: "/api/cart", Service: proxy.ServiceCart, RequireAuth: true},
		{Method: http.MethodPost, Path: "/api/cart/items", Service: proxy.ServiceCart, RequireAuth: true},
		{Method: http.MethodPut, Path: "/api/cart/items/:id", Service: proxy.ServiceCart, RequireAuth: true},
		{Method: http.MethodDelete, Path: "/api/cart/items/:id", Service: proxy.ServiceCart, RequireAuth: true},
		{Method: http.MethodGet, Path: "/api/orders", Service: proxy.ServiceOrder, RequireAuth: true},
		{Method: http.MethodGet, Path: "/api/orders/:id", Service: proxy.ServiceOrder, RequireAuth: true},
		{Method: http.MethodPost, Path: "/api/orders", Service: proxy.ServiceOrder, RequireAuth: true},

		{Method: http.MethodGet, Path: "/api/customers/me", Service: proxy.ServiceCustomer, RequireAuth: true},
		{Method: http.MethodPut, Path: "/api/customers/me", Service: proxy.ServiceCustomer, RequireAuth: true},

		// Payment attempts get their own strict bucket; the provider
		// webhook is verified downstream by the payment service.
		{Method: http.MethodPost, Path: "/api/payments/intent", Service: proxy.ServicePayment, RequireAuth: true, Bucket: config.BucketPayment},
		{Method: http.MethodPost, Path: "/api/payments/confirm", Service: proxy.ServicePayment, RequireAuth: true, Bucket: config.BucketPayment},
		{Method: http.MethodPost, Path: "/api/payments/webhook", Service: proxy.ServicePayment},

		// Backoffice subtrees, one wildcard per backing service.
		{Method: MethodAny, Path: "/api/admin/products/*path", Service: proxy.ServiceProduct, RequireAuth: true, Bucket: config.BucketAdmin},
		{Method: MethodAny, Path: "/api/admin/orders/*path", Service: proxy.ServiceOrder, RequireAuth: true, Bucket: config.BucketAdmin},
		{Method: MethodAny, Path: "/api/admin/credit-notes/*path", Service: proxy.ServiceOrder, RequireAuth: true, Bucket: config.BucketAdmin},
		{Method: MethodAny, Path: "/api/admin/customers/*path", Service: proxy.ServiceCustomer, RequireAuth: true, Bucket: config.BucketAdmin},
		{Method: MethodAny, Path: "/api/admin/users/*path", Service: proxy.ServiceAuth, RequireAuth: true, Bucket: config.BucketAdmin},
		{Method: MethodAny, Path: "/api/admin/emails/*path", Service: proxy.ServiceEmail, RequireAuth: true, Bucket: config.BucketAdmin},
		{Method: MethodAny, Path: "/api/admin/exports/*path", Service: proxy.ServicePDFExport, RequireAuth: true, Bucket: config.BucketAdmin},
	}
}

// Register wires the table into the gin engine. Per-route order: resolve
// the principal first (when required), then enforce the route bucket keyed
// by the now-known identity, then forward.
func Register(r *gin.Engine, table []Route, resolver *identity.Resolver, enforcer *ratelimit.Enforcer, forwarder *proxy.Forwarder) {
	for _, route := range table {
		handlers := make([]gin.HandlerFunc, 0, 3)
		if route.RequireAuth {
			handlers = append(handlers, middleware.RequireAuth(resolver))
		}
		handlers = append(handlers, middleware.RouteQuota(enforcer, route.Bucket))
		handlers = append(handlers, forwarder.Handler(route.Service))

		if route.Method == MethodAny {
			r.Any(route.Path, handlers...)
			continue
		}
		r.Handle(route.Method, route.Path, handlers...)
	}
}
