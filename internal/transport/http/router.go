package http

import (
	"net/http"
	"time"

	"github.com/cwrk-planet/signal-service/pkg/httputil"

	"github.com/go-chi/chi/v5"
	middlewareChi "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

type RouterDeps struct {
	Handler        *Handler
	WS             http.HandlerFunc
	Metrics        http.Handler
	AllowedOrigins []string
}

func NewRouter(d RouterDeps) http.Handler {
	origins := d.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(httputil.MiddlewareRequestID)
	r.Use(middlewareChi.RealIP)
	r.Use(middlewareChi.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", httputil.HeaderRequestID},
		ExposedHeaders: []string{httputil.HeaderRequestID},
		MaxAge:         300,
	}))

	// WS endpoint: без logging-обёртки, ей нужен Hijacker
	if d.WS != nil {
		r.Get("/ws", d.WS)
	}

	r.Group(func(pr chi.Router) {
		pr.Use(httputil.MiddlewareLogging)
		pr.Use(middlewareChi.Timeout(30 * time.Second))

		pr.Get("/rooms/{id}/participants", d.Handler.GetParticipants)
	})

	// health
	r.Get("/healthz", d.Handler.Health)
	r.Get("/readyz", d.Handler.Ready)
	if d.Metrics != nil {
		r.Handle("/metrics", d.Metrics)
	}

	return r
}
