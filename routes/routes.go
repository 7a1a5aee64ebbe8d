package routes

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/upb/chat-relay/app"
	"github.com/upb/chat-relay/handlers"
	"github.com/upb/chat-relay/middleware"
	"github.com/upb/chat-relay/utils"
)

// SetupRoutes configures all application routes and middleware
func SetupRoutes(deps *app.Dependencies) http.Handler {
	r := chi.NewRouter()

	// Core middleware. No global timeout: streamed turns can outlive any
	// fixed request deadline and are bounded by INFERENCE_TIMEOUT instead.
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(chimw.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: deps.Config.CORS.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))

	health := handlers.NewHealthHandler(deps.HealthChecker(), deps.Chunks, deps.Logger)
	r.Group(func(r chi.Router) {
		r.Use(chimw.Timeout(10 * time.Second))
		r.Get("/healthz", health.HandleHealth)
		r.Get("/readyz", health.HandleReadiness)
	})

	relay := handlers.NewRelayHandler(deps.Relay, deps.Logger)
	r.Post("/relay", relay.HandleRelay)
	r.Post("/echo", relay.HandleEcho)

	chat := handlers.NewChatHandler(deps.Sessions, deps.Driver, deps.Logger)
	r.Route("/api/v1/sessions", func(r chi.Router) {
		r.Post("/", chat.HandleCreateSession)

		r.Route("/{id}", func(r chi.Router) {
			r.Use(middleware.SessionID(deps.Logger))
			r.Get("/", chat.HandleGetSession)
			r.Delete("/", chat.HandleEndSession)
			r.Post("/messages", chat.HandleSendMessage)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteNotFound(w, "endpoint not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteError(w, http.StatusMethodNotAllowed, "method not allowed", nil)
	})

	return r
}
