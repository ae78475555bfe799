package handlers

import (
	"net/http"

	"github.com/liamwears/reelstream/internal/auth"
	"github.com/liamwears/reelstream/internal/middleware"
)

// Router collects everything NewRouter mounts
type Router struct {
	Movies  *MovieHandler
	Admin   *AdminHandler
	Auth    *AuthHandler
	Health  *HealthHandler
	Metrics http.Handler

	AuthMiddleware *middleware.AuthMiddleware
	// RateLimiter applies to every /api route. Optional.
	RateLimiter *middleware.RateLimiter
}

// NewRouter builds the HTTP routes
func NewRouter(rt Router) *http.ServeMux {
	mux := http.NewServeMux()

	api := func(h http.HandlerFunc) http.Handler {
		if rt.RateLimiter == nil {
			return h
		}
		return rt.RateLimiter.Limit(h)
	}
	public := func(h http.HandlerFunc) http.Handler {
		return api(rt.AuthMiddleware.Resolve(h).ServeHTTP)
	}
	restricted := func(level auth.Level, h http.HandlerFunc) http.Handler {
		return api(rt.AuthMiddleware.RequireLevel(level)(h).ServeHTTP)
	}

	// Auth routes
	mux.Handle("POST /api/auth/register", api(rt.Auth.Register))
	mux.Handle("POST /api/auth/login", api(rt.Auth.Login))
	mux.Handle("POST /api/auth/logout", restricted(auth.LevelUser, rt.Auth.Logout))
	mux.Handle("GET /api/auth/me", restricted(auth.LevelUser, rt.Auth.Me))
	mux.Handle("GET /api/auth/{provider}/login", api(rt.Auth.OAuthLogin))
	mux.Handle("GET /api/auth/{provider}/callback", api(rt.Auth.OAuthCallback))

	// Public catalog routes
	mux.Handle("GET /api/movies", public(rt.Movies.List))
	mux.Handle("GET /api/movies/featured", public(rt.Movies.Featured))
	mux.Handle("GET /api/movies/search", public(rt.Movies.Search))
	mux.Handle("GET /api/movies/search/{text}", public(rt.Movies.Search))
	mux.Handle("GET /api/movies/{id}", public(rt.Movies.Get))
	mux.Handle("POST /api/movies/{id}/rate", restricted(auth.LevelUser, rt.Movies.Rate))

	// Admin catalog routes
	mux.Handle("GET /api/admin/movies", restricted(auth.LevelAdmin, rt.Admin.List))
	mux.Handle("POST /api/admin/movies", restricted(auth.LevelAdmin, rt.Admin.Create))
	mux.Handle("PUT /api/admin/movies/{id}", restricted(auth.LevelAdmin, rt.Admin.Update))
	mux.Handle("DELETE /api/admin/movies/{id}", restricted(auth.LevelAdmin, rt.Admin.Delete))

	if rt.Health != nil {
		mux.HandleFunc("GET /health", rt.Health.Check)
	}
	if rt.Metrics != nil {
		mux.Handle("GET /metrics", rt.Metrics)
	}

	return mux
}
