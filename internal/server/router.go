// Package server assembles the relay's HTTP surface.
package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"go-relay/internal/metrics"
	myMiddleware "go-relay/internal/middleware"
	"go-relay/internal/relay"
)

type Deps struct {
	Hub     *relay.Hub
	Metrics *metrics.Metrics
	Logger  zerolog.Logger

	// Auth gates /ws when set.
	Auth *myMiddleware.AuthMiddleware

	// AllowedOrigins applies to the REST API. "*" allows every origin.
	AllowedOrigins []string
}

// NewRouter wires up all HTTP routes, middleware, and handlers.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(withLogger(d.Logger))
	r.Use(middleware.Recoverer)

	// Health / metrics
	r.Get("/healthz", health(d.Hub))
	if d.Metrics != nil {
		r.Handle("/metrics", d.Metrics.Handler())
	}

	// WebSocket (real-time)
	r.Group(func(r chi.Router) {
		if d.Auth != nil {
			r.Use(d.Auth.Handle)
		}
		r.Get("/ws", d.Hub.ServeWs)
	})

	// REST presence
	r.Route("/api", func(r chi.Router) {
		r.Use(withCORS(d.AllowedOrigins))
		r.Get("/rooms/{roomId}/members", members(d.Hub))
	})

	return r
}

func withCORS(origins []string) func(next http.Handler) http.Handler {
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	})
}

// withLogger attaches the logger to the request context and writes one
// access line per request.
func withLogger(logger zerolog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			l := logger.With().Str("request_id", middleware.GetReqID(r.Context())).Logger()
			r = r.WithContext(l.WithContext(r.Context()))

			defer func() {
				l.Debug().
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Int("status", ww.Status()).
					Dur("elapsed", time.Since(start)).
					Msg("http request")
			}()
			next.ServeHTTP(ww, r)
		})
	}
}

type healthResponse struct {
	Status      string `json:"status"`
	Connections int    `json:"connections"`
	Rooms       int    `json:"rooms"`
}

func health(hub *relay.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, r, http.StatusOK, healthResponse{
			Status:      "ok",
			Connections: hub.ConnectionCount(),
			Rooms:       hub.RoomCount(),
		})
	}
}

type membersResponse struct {
	RoomID  string             `json:"roomId"`
	Members []relay.MemberInfo `json:"members"`
}

func members(hub *relay.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roomID := strings.TrimSpace(chi.URLParam(r, "roomId"))
		if roomID == "" {
			http.Error(w, "roomId required", http.StatusBadRequest)
			return
		}
		writeJSON(w, r, http.StatusOK, membersResponse{RoomID: roomID, Members: hub.Members(roomID)})
	}
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zerolog.Ctx(r.Context()).Debug().Err(err).Msg("write response")
	}
}
