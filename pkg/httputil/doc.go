// Package httputil provides HTTP utilities for standardized request/response handling.
//
// Error bodies always have the shape {"detail": "..."}:
//
//	httputil.WriteBadRequest(w, "Threshold must be in (0, 1)")
//	httputil.WriteUnauthorized(w, "Invalid or expired token")
//
// Request parsing:
//
//	var req loginRequest
//	if !httputil.ParseJSONOrError(w, r, &req) {
//		return // Error response already written
//	}
//	limit, err := httputil.ParseQueryInt(r, "limit", 50)
//
// Middleware:
//
//	handler := httputil.Chain(
//		httputil.RequestIDMiddleware,
//		httputil.LoggingMiddleware(logger),
//		httputil.RecoveryMiddleware(logger),
//		httputil.MaxBytesMiddleware(10<<20),
//	)(router)
package httputil
