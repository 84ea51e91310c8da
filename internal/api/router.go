package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"chat-relay/internal/chat"
	"chat-relay/internal/middleware"
	"chat-relay/internal/upload"
)

type Deps struct {
	Relay          *chat.Relay
	Hub            *chat.Hub
	Sessions       *Sessions
	Files          *upload.DiskStore
	Origins        *middleware.OriginPolicy
	SendBuffer     int
	UploadMaxBytes int64
	PublicBaseURL  string
	TrustProxy     bool
	Log            zerolog.Logger
}

// NewRouter wires the HTTP surface: the chat socket, uploads and retrieval
// of uploaded files.
func NewRouter(d Deps) http.Handler {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     d.Origins.CheckOrigin,
	}

	if d.Sessions == nil {
		d.Sessions = NewSessions()
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(middleware.ForwardedHeaders(d.TrustProxy))
	r.Use(middleware.RequestLogger(d.Log))
	r.Use(chimw.Recoverer)
	r.Use(d.Origins.CORS())

	r.Get("/healthz", HealthHandler(d.Hub))
	r.Get("/ws", WebSocketHandler(d.Relay, d.Sessions, upgrader, d.SendBuffer, d.Log))
	r.Post("/upload", UploadHandler(d.Files, d.UploadMaxBytes, d.PublicBaseURL, d.Log))
	r.Get("/{name}", FileHandler(d.Files, d.Log))

	return r
}

func HealthHandler(hub *chat.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":      "ok",
			"connections": hub.Count(),
		})
	}
}

func WebSocketHandler(relay *chat.Relay, sessions *Sessions, upgrader websocket.Upgrader, buffer int, log zerolog.Logger) http.HandlerFunc {
	log = log.With().Str("component", "ws").Logger()

	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade has already replied to the client.
			log.Warn().Err(err).Str("remote", middleware.ClientIP(r)).Msg("upgrade failed")
			return
		}

		if !sessions.begin() {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(time.Second))
			conn.Close()
			return
		}
		defer sessions.done()

		chat.NewClient(conn, relay, middleware.ClientIP(r), buffer, log).Serve(r.Context())
	}
}
