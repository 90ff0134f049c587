package httpserver

import (
	"context"
	"log"
	"net/http"

	"github.com/iago/content-router/internal/http/handlers"
	"github.com/iago/content-router/internal/http/middleware"
)

type RouterDependencies struct {
	API            *handlers.API
	Logger         *log.Logger
	AuthToken      string
	RateLimitRPS   float64
	RateLimitBurst int
}

// NewRouter wires the API behind request id, trace, rate limit and auth
// middleware. ctx bounds the rate limiter's background cleanup.
func NewRouter(ctx context.Context, deps RouterDependencies) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", deps.API.Health)
	mux.HandleFunc("/v1/route", deps.API.Route)
	mux.HandleFunc("/v1/route/batch", deps.API.RouteBatch)
	mux.HandleFunc("/v1/route/async", deps.API.RouteAsync)
	mux.HandleFunc("/v1/records/", deps.API.Record)
	mux.HandleFunc("/v1/reprocess", deps.API.Reprocess)
	mux.HandleFunc("/v1/stats", deps.API.Stats)

	handler := http.Handler(mux)
	handler = middleware.Auth(deps.AuthToken)(handler)
	handler = middleware.RateLimit(ctx, deps.RateLimitRPS, deps.RateLimitBurst)(handler)
	handler = middleware.Trace(deps.Logger)(handler)
	handler = middleware.RequestID(handler)

	return handler
}
