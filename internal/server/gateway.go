package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zeusync/crowdsim/internal/core/observability/log"
)

const feedWriteTimeout = 10 * time.Second

// Gateway is the HTTP surface: the websocket notification feed plus the
// small operational endpoints.
type Gateway struct {
	log      log.Log
	hub      *Hub
	token    string
	stats    func() ServerStats
	enqueue  func(Command) error
	srv      *http.Server
	upgrader websocket.Upgrader
}

// NewGateway wires the mux. stats and enqueue come from the owning Server.
func NewGateway(addr, token string, hub *Hub, stats func() ServerStats, enqueue func(Command) error, lg log.Log) *Gateway {
	g := &Gateway{
		log:     lg.With(log.String("component", "gateway")),
		hub:     hub,
		token:   token,
		stats:   stats,
		enqueue: enqueue,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/feed", g.handleFeed)
	mux.HandleFunc("/healthz", g.handleHealthz)
	mux.HandleFunc("/stats", g.handleStats)
	mux.HandleFunc("/command", g.handleCommand)

	g.srv = &http.Server{Addr: addr, Handler: mux}
	return g
}

// Serve blocks until the listener closes.
func (g *Gateway) Serve() error {
	g.log.Info("gateway listening", log.String("addr", g.srv.Addr))
	err := g.srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (g *Gateway) Shutdown(ctx context.Context) error {
	return g.srv.Shutdown(ctx)
}

// handleFeed upgrades the connection and streams notification frames until
// the client disconnects or the hub closes.
func (g *Gateway) handleFeed(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.log.Warn("feed upgrade failed", log.Error(err))
		return
	}

	ch, cancel := g.hub.Subscribe()
	g.log.Info("feed subscriber connected",
		log.String("remote_addr", conn.RemoteAddr().String()),
		log.Int("subscribers", g.hub.Subscribers()),
	)

	// reader only watches for the client going away
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	for frame := range ch {
		_ = conn.SetWriteDeadline(time.Now().Add(feedWriteTimeout))
		if err = conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			break
		}
	}
	cancel()
	_ = conn.Close()
	g.log.Info("feed subscriber disconnected",
		log.String("remote_addr", conn.RemoteAddr().String()),
	)
}

func (g *Gateway) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	st := g.stats()
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"tick":   st.Sim.Tick,
		"agents": st.Sim.Agents,
	})
}

func (g *Gateway) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, g.stats())
}

func (g *Gateway) handleCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "POST only"})
		return
	}
	if err := g.authorize(r); err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": err.Error()})
		return
	}

	var cmd Command
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "malformed command: " + err.Error()})
		return
	}
	if err := cmd.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}

	if err := g.enqueue(cmd); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, ErrInboxFull) {
			status = http.StatusTooManyRequests
		}
		writeJSON(w, status, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "queued", "op": cmd.Op})
}

// authorize checks the command token from header or query. An empty
// configured token leaves the endpoint open for local development.
func (g *Gateway) authorize(r *http.Request) error {
	if g.token == "" {
		return nil
	}
	token := r.Header.Get("X-Command-Token")
	if token == "" {
		token = r.URL.Query().Get("token")
	}
	if token != g.token {
		return ErrUnauthorized
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
