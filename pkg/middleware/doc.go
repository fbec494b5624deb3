// Package middleware provides HTTP middleware for authentication and rate limiting.
//
// AuthMiddleware: bearer token authentication
//
//	authn := middleware.NewAuthMiddleware(authService, false)
//	router.Handle("/api/auth/me", authn.Handler(meHandler))
//	// handlers read the caller with middleware.UserID(r)
//
// RateLimitMiddleware: per-key limiting over any Limiter
//
//	limiter := middleware.NewRateLimiter(&middleware.RateLimitConfig{RequestsPerWindow: 10, WindowDuration: time.Minute})
//	login := middleware.NewRateLimitMiddleware(limiter, "login", middleware.ByIP, logger, metrics)
//
// DistributedRateLimiter shares counters between instances through Redis and
// is used instead of the in-process RateLimiter when Redis is configured.
// Limiter errors fail open.
package middleware
