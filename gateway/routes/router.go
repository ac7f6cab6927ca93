package routes

import (
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"

	"rewardledger/gateway/idempotency"
	"rewardledger/gateway/middleware"
)

// Rate limit keys the router consults; configure matching entries under
// rateLimits in the gateway config.
const (
	RateLimitKeyQueries   = "queries"
	RateLimitKeyMutations = "mutations"
)

type Config struct {
	NodeTarget    *url.URL
	NodeToken     string
	NodeTimeout   time.Duration
	Authenticator *middleware.Authenticator
	RateLimiter   *middleware.RateLimiter
	Observability *middleware.Observability
	Idempotency   *idempotency.Store
	CORS          middleware.CORSConfig
}

func New(cfg Config) (http.Handler, error) {
	bridge, err := newRewardsRoutes(cfg.NodeTarget, cfg.NodeToken, cfg.NodeTimeout)
	if err != nil {
		return nil, fmt.Errorf("configure reward routes: %w", err)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.CORS(cfg.CORS))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/v1/rewards", func(sr chi.Router) {
		if cfg.Observability != nil {
			sr.Use(cfg.Observability.Middleware("rewards"))
		}
		sr.Group(func(read chi.Router) {
			if cfg.RateLimiter != nil {
				read.Use(cfg.RateLimiter.Middleware(RateLimitKeyQueries))
			}
			bridge.mountRead(read)
		})
		sr.Group(func(write chi.Router) {
			if cfg.RateLimiter != nil {
				write.Use(cfg.RateLimiter.Middleware(RateLimitKeyMutations))
			}
			if cfg.Authenticator != nil {
				write.Use(cfg.Authenticator.Middleware(middleware.ScopeWrite))
			}
			if cfg.Idempotency != nil {
				write.Use(cfg.Idempotency.Middleware)
			}
			bridge.mountWrite(write)
		})
	})

	// Raw JSON-RPC passthrough for callers that hold a ledger token.
	proxy := NewProxy(cfg.NodeTarget, "/rpc")
	r.Handle("/rpc", proxy)

	if cfg.Observability != nil {
		r.Handle("/metrics", cfg.Observability.MetricsHandler())
	}

	return r, nil
}
