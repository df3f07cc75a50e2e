package http

import (
	"net/http"
	"time"

	"github.com/cwrk-planet/inquiry-service/internal/metrics"
	httpmw "github.com/cwrk-planet/inquiry-service/internal/transport/http/middleware"
	"github.com/cwrk-planet/inquiry-service/pkg/httputil"

	"github.com/go-chi/chi/v5"
	middlewareChi "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

type RouterOptions struct {
	AllowedOrigins []string
	// Ready: проверка готовности для /readyz; nil означает «всегда готов».
	Ready func() error
}

func NewRouter(h *Handler, verifier httpmw.TokenVerifier, ws http.Handler, opts RouterOptions) http.Handler {
	r := chi.NewRouter()
	r.Use(httputil.MiddlewareRequestID)
	r.Use(middlewareChi.RealIP)
	r.Use(middlewareChi.Recoverer)
	r.Use(metrics.PrometheusMiddleware)

	if len(opts.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   opts.AllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", httputil.HeaderRequestID},
			ExposedHeaders:   []string{httputil.HeaderRequestID},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	// health
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if opts.Ready != nil {
			if err := opts.Ready(); err != nil {
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(v1 chi.Router) {
		v1.Use(httputil.MiddlewareLogging)

		// WS endpoint: авторизация по access_token внутри хендлера
		if ws != nil {
			v1.Get("/ws/inquiries/{id}", ws.ServeHTTP)
		}

		// Все маршруты требуют access_token
		v1.Group(func(pr chi.Router) {
			pr.Use(httpmw.AuthMiddleware(verifier))
			pr.Use(middlewareChi.Timeout(30 * time.Second))

			pr.Route("/inquiries", func(rt chi.Router) {
				rt.Post("/", h.CreateInquiry)
				rt.Get("/", h.ListInquiries)

				rt.Route("/{id}", func(rr chi.Router) {
					rr.Get("/", h.GetInquiry)
					rr.Post("/respond", h.RespondToInquiry)
					rr.Get("/messages", h.ListMessages)
					rr.Post("/messages", h.SendMessage)
				})
			})
		})
	})

	return r
}
