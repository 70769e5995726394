package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/md-rashed-zaman/slotdesk/libs/auth"
	"github.com/md-rashed-zaman/slotdesk/libs/httpx"
)

type RouterDeps struct {
	Booking *BookingHandler
	Admin   *AdminHandler
	Issuer  *auth.Issuer
	// PublicLimit guards the customer-facing routes; nil disables rate limiting.
	PublicLimit httpx.Middleware

	Health  http.Handler
	Ready   http.Handler
	Metrics http.Handler
}

// NewRouter mounts the public, admin and operational routes.
//
//	/api/v1/public/*  rate limited, anonymous
//	/api/v1/admin/*   bearer token with role admin, except /token
func NewRouter(deps RouterDeps) http.Handler {
	r := chi.NewRouter()

	if deps.Health != nil {
		r.Method(http.MethodGet, "/healthz", deps.Health)
	}
	if deps.Ready != nil {
		r.Method(http.MethodGet, "/readyz", deps.Ready)
	}
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	r.Route("/api/v1/public", func(r chi.Router) {
		if deps.PublicLimit != nil {
			r.Use(deps.PublicLimit)
		}
		r.Get("/availability", deps.Booking.Availability)
		r.Post("/bookings", deps.Booking.Create)
	})

	r.Route("/api/v1/admin", func(r chi.Router) {
		r.Post("/token", deps.Admin.Token)

		r.Group(func(r chi.Router) {
			r.Use(deps.Issuer.RequireRole(RoleAdmin))
			r.Get("/appointments", deps.Booking.List)
			r.Post("/appointments/{id}/status", deps.Booking.Transition)
			r.Post("/blocks", deps.Booking.Block)
			r.Get("/settings", deps.Admin.GetSettings)
			r.Put("/settings", deps.Admin.PutSettings)
		})
	})

	return r
}
