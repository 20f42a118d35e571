// Package proxy forwards requests verbatim to the backend microservices.
// The request-control layer (quota, identity) runs before any handler in
// this package; forwarding itself adds nothing beyond identity headers.
package proxy

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/shopcore/gateway/internal/config"
	"github.com/shopcore/gateway/internal/http/respond"
	"github.com/shopcore/gateway/internal/identity"
)

// Backend service names used by route declarations.
const (
	ServiceAuth      = "auth"
	ServiceProduct   = "product"
	ServiceOrder     = "order"
	ServiceCart      = "cart"
	ServiceCustomer  = "customer"
	ServicePayment   = "payment"
	ServiceEmail     = "email"
	ServicePDFExport = "pdf-export"
)

// Forwarder holds one reverse proxy per configured backend service.
type Forwarder struct {
	targets map[string]*httputil.ReverseProxy
}

// NewForwarder builds reverse proxies for every configured service URL.
// Unconfigured services are skipped; requests routed to them answer 502.
func NewForwarder(cfg config.ServicesConfig) (*Forwarder, error) {
	entries := map[string]string{
		ServiceAuth:      cfg.Auth,
		ServiceProduct:   cfg.Product,
		ServiceOrder:     cfg.Order,
		ServiceCart:      cfg.Cart,
		ServiceCustomer:  cfg.Customer,
		ServicePayment:   cfg.Payment,
		ServiceEmail:     cfg.Email,
		ServicePDFExport: cfg.PDFExport,
	}

	targets := make(map[string]*httputil.ReverseProxy, len(entries))
	for name, rawURL := range entries {
		rawURL = strings.TrimSpace(rawURL)
		if rawURL == "" {
			continue
		}
		base, errParse := url.Parse(rawURL)
		if errParse != nil {
			return nil, fmt.Errorf("parse %s service url: %w", name, errParse)
		}
		targets[name] = newServiceProxy(name, base)
	}
	return &Forwarder{targets: targets}, nil
}

func newServiceProxy(name string, base *url.URL) *httputil.ReverseProxy {
	rp := httputil.NewSingleHostReverseProxy(base)
	rp.ErrorHandler = func(w http.ResponseWriter, r *http.Request, errProxy error) {
		log.WithError(errProxy).WithFields(log.Fields{
			"service": name,
			"path":    r.URL.Path,
		}).Error("upstream request failed")
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusBadGateway)
		_ = json.NewEncoder(w).Encode(respond.ErrorBody{
			Error:   "bad gateway",
			Message: "upstream service is unavailable",
			Code:    "BAD_GATEWAY",
		})
	}
	return rp
}

// Handler returns the forwarding handler for a named service. When a
// principal was resolved, its id and email travel to the backend as
// x-user-id / x-user-email headers; client-supplied copies of those
// headers are dropped either way.
func (f *Forwarder) Handler(service string) gin.HandlerFunc {
	return func(c *gin.Context) {
		target, ok := f.targets[service]
		if !ok {
			respond.Error(c, http.StatusBadGateway, "BAD_GATEWAY", "bad gateway",
				fmt.Sprintf("service %q is not configured", service))
			return
		}
		// Identity headers are the gateway's trusted channel to the
		// backends; inbound values never pass through.
		c.Request.Header.Del("x-user-id")
		c.Request.Header.Del("x-user-email")
		if principal, okPrincipal := identity.PrincipalFrom(c); okPrincipal {
			c.Request.Header.Set("x-user-id", principal.ID)
			c.Request.Header.Set("x-user-email", principal.Email)
		}
		target.ServeHTTP(c.Writer, c.Request)
	}
}
