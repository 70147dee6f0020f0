/**
 * @description
 * This file sets up the HTTP router for the settlement service. It defines the API
 * endpoints, associates them with their corresponding handlers, and applies any
 * necessary middleware, such as for authentication.
 *
 * @dependencies
 * - net/http: Standard Go library for HTTP functionality.
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 * - github.com/go-chi/cors: CORS middleware for browser clients.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// SettlementRoutes creates and returns a new router for the settlement service.
func SettlementRoutes(h *SettlementHandlers, jwksURL string) http.Handler {
	r := chi.NewRouter()

	// Add standard middleware for logging, panic recovery, and timeouts.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300, // Maximum value not ignored by any major browsers
	}))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	// Group routes that require authentication.
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(jwksURL))

		// Settlement endpoints
		r.Post("/settlements", h.SettleHandler)
		r.Post("/settlements/validate", h.ValidateSplitHandler)

		// Funding source management endpoints
		r.Get("/funding-sources", h.ListFundingSourcesHandler)
		r.Post("/funding-sources", h.AttachFundingSourceHandler)
		r.Delete("/funding-sources/{sourceID}", h.RemoveFundingSourceHandler)
		r.Get("/funding-sources/eligibility", h.FundingSourceEligibilityHandler)

		// Virtual card endpoints
		r.Get("/cards/{cardID}", h.GetCardHandler)
		r.Post("/cards/{cardID}/freeze", h.FreezeCardHandler)
		r.Post("/cards/{cardID}/unfreeze", h.UnfreezeCardHandler)
	})

	return r
}
