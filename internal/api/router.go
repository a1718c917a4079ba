package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/episensor/app-template/internal/hub"
	"github.com/episensor/app-template/internal/repositories"
)

// RouterConfig holds all dependencies needed to build the HTTP router. It is
// populated in main.go after all components are initialized and passed to
// NewRouter as a single struct to keep the constructor signature manageable.
type RouterConfig struct {
	Hub      *hub.Hub
	Dispatch *hub.Dispatcher
	Settings repositories.SettingsRepository
	Logger   *zap.Logger

	// WS is the websocket upgrade handler, mounted at GET /ws.
	WS http.Handler

	// AllowedOrigins is the CORS allow-list for the REST surface. The
	// websocket endpoint has its own origin policy.
	AllowedOrigins []string
}

// NewRouter builds and returns the fully configured Chi router.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// --- Global middleware ---
	// RequestID generates a unique ID for each request, used in logs and
	// response headers for tracing.
	r.Use(middleware.RequestID)

	// RealIP extracts the real client IP from X-Forwarded-For or X-Real-IP
	// headers when the server runs behind a reverse proxy.
	r.Use(middleware.RealIP)

	// RequestLogger logs every request with method, path, status and latency.
	r.Use(RequestLogger(cfg.Logger))

	// Recover catches panics in handlers, logs them, and returns the 500
	// envelope instead of crashing the server.
	r.Use(Recover(cfg.Logger))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "Authorization"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// --- Initialize handlers ---
	controlHandler := NewControlHandler(cfg.Hub, cfg.Dispatch, cfg.Logger)
	settingsHandler := NewSettingsHandler(cfg.Settings, cfg.Logger)

	// Realtime clients connect here; everything below /api drives them.
	r.Method(http.MethodGet, "/ws", cfg.WS)

	r.Route("/api/ws", func(r chi.Router) {
		r.Get("/status", controlHandler.Status)
		r.Get("/clients", controlHandler.ListClients)
		r.Get("/rooms", controlHandler.ListRooms)
		r.Get("/rooms/{roomName}/clients", controlHandler.RoomClients)

		r.Post("/broadcast", controlHandler.Broadcast)
		r.Post("/publish", controlHandler.Publish)
		r.Post("/rooms/{roomName}/message", controlHandler.RoomMessage)
		r.Post("/clients/{clientId}/message", controlHandler.DirectMessage)
		r.Post("/clients/{clientId}/disconnect", controlHandler.DisconnectClient)
	})

	r.Route("/api/settings", func(r chi.Router) {
		r.Get("/", settingsHandler.List)
		r.Get("/{key}", settingsHandler.Get)
		r.Put("/{key}", settingsHandler.Put)
		r.Delete("/{key}", settingsHandler.Delete)
	})

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	return r
}
