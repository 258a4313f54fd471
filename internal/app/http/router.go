package transport

import (
	"fmt"
	stdhttp "net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"rikapay/apps/gateway/internal/observability"
)

const apiPrefix = "/api/v1"

var corsOptions = cors.Options{
	AllowedOrigins: []string{"*"},
	AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
	AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-API-Key", "X-Request-Id"},
	ExposedHeaders: []string{"X-Request-Id"},
	MaxAge:         300,
}

type SystemHandlers struct {
	Version stdhttp.HandlerFunc
	Healthz stdhttp.HandlerFunc
}

type Handlers struct {
	System SystemHandlers
	Agent  AgentHandlers
	Batch  BatchHandlers
}

// NewRouter mounts every route. Everything under /api/v1 requires apiKey when
// it is set; extra middleware runs before the API key check.
func NewRouter(apiKey string, handlers Handlers, extra ...func(stdhttp.Handler) stdhttp.Handler) stdhttp.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(observability.RequestID)
	r.Use(observability.Logging)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(corsOptions))
	for _, mw := range extra {
		if mw != nil {
			r.Use(mw)
		}
	}

	r.Get("/version", mustHandler("version", handlers.System.Version))
	r.Get("/healthz", mustHandler("healthz", handlers.System.Healthz))

	r.Route(apiPrefix, func(api chi.Router) {
		api.Use(observability.APIKey(apiKey))
		registerAgentRoutes(api, handlers.Agent)
		registerBatchRoutes(api, handlers.Batch)
	})
	return r
}

func mustHandler(name string, h stdhttp.HandlerFunc) stdhttp.HandlerFunc {
	if h == nil {
		panic(fmt.Sprintf("transport: handler %q is not configured", name))
	}
	return h
}
