package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/snoutos/switchboard/pkg/usecase"
	"github.com/snoutos/switchboard/pkg/utils/logging"
	"github.com/snoutos/switchboard/pkg/utils/safe"
)

type Server struct {
	router    *chi.Mux
	uc        *usecase.UseCases
	publicURL string
}

type Options func(*Server)

// WithPublicURL sets the externally visible base URL (scheme and host) the
// provider signs webhook requests against. Without it the URL is rebuilt
// from the request.
func WithPublicURL(publicURL string) Options {
	return func(s *Server) {
		s.publicURL = publicURL
	}
}

func New(uc *usecase.UseCases, opts ...Options) *Server {
	r := chi.NewRouter()

	s := &Server{
		router: r,
		uc:     uc,
	}
	for _, opt := range opts {
		opt(s)
	}

	r.Use(middleware.RequestID)
	r.Use(accessLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		safe.Write(r.Context(), w, []byte("ok"))
	})

	// Provider webhooks carry no actor; they are authenticated by signature.
	r.Route("/hooks/twilio", func(r chi.Router) {
		r.Use(twilioWebhookMiddleware(s.publicURL))
		r.Post("/inbound", s.handleInbound)
		r.Post("/status", s.handleStatus)
	})

	r.Route("/api/orgs/{orgID}", func(r chi.Router) {
		r.Use(actorMiddleware)

		r.Get("/routing/rules", s.listRoutingRules)

		r.Route("/threads/{threadID}", func(r chi.Router) {
			r.Get("/routing", s.simulateRouting)
			r.Post("/routing/evaluate", s.evaluateRouting)
			r.Get("/routing/history", s.routingHistory)
			r.Post("/messages", s.sendMessage)
			r.Get("/overrides", s.listOverrides)
			r.Post("/overrides", s.createOverride)
		})

		r.Delete("/overrides/{overrideID}", s.removeOverride)

		r.Post("/messages/{messageID}/retry", s.retryMessage)
		r.Post("/messages/{messageID}/ignore", s.ignoreMessage)

		r.Route("/windows", func(r chi.Router) {
			r.Get("/", s.listWindows)
			r.Post("/", s.createWindow)
			r.Get("/{windowID}", s.getWindow)
			r.Patch("/{windowID}", s.updateWindow)
			r.Delete("/{windowID}", s.deleteWindow)
		})

		r.Get("/conflicts", s.listConflicts)
		r.Post("/conflicts/{conflictID}/resolve", s.resolveConflict)

		r.Get("/alerts", s.listAlerts)
		r.Post("/alerts/{alertID}/resolve", s.resolveAlert)
		r.Post("/alerts/{alertID}/dismiss", s.dismissAlert)

		r.Get("/violations", s.listViolations)
		r.Post("/violations/{violationID}/resolve", s.resolveViolation)
		r.Post("/violations/{violationID}/dismiss", s.dismissViolation)
	})

	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// accessLogger is a middleware that logs HTTP requests
func accessLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			logging.Default().Info("access",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
				"remote", r.RemoteAddr,
			)
		}()

		next.ServeHTTP(ww, r)
	})
}
