package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func NewRouter(cartHandler *CartHandler, verifier TokenVerifier, requestTimeout time.Duration) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(RequestIDMiddleware)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/cart", func(r chi.Router) {
		r.Use(IdentityMiddleware(verifier))

		r.Get("/", cartHandler.GetCart)
		r.Post("/add", cartHandler.AddItem)
		r.Put("/update", cartHandler.UpdateQuantity)
		r.Delete("/remove/{productId}", cartHandler.RemoveItem)
		r.Delete("/clear", cartHandler.ClearCart)
		r.Post("/merge", cartHandler.MergeCart)
	})

	return r
}
