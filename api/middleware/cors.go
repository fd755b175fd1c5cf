package middleware

import (
	"net/http"

	"github.com/go-chi/cors"
)

// CORS applies the storefront origin policy. The list covers local dev, the
// production domains, and Vercel preview deploys.
func CORS() func(http.Handler) http.Handler {
	opts := cors.Options{
		AllowedOrigins: []string{
			"http://localhost:3000",
			"https://learnly.academy",
			"https://www.learnly.academy",
			"https://learnly-storefront.vercel.app",
		},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key", "X-Ops-Token", "X-Requested-With"},
		AllowCredentials: true,
		MaxAge:           300,
	}
	return cors.New(opts).Handler
}
