package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"

	"github.com/coder/websocket"
)

// RegisterRoutes wires the HTTP surface: one websocket endpoint plus the
// operational read-only endpoints.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/", s.rootHandler)
	mux.HandleFunc("/health", s.healthHandler)
	mux.HandleFunc("/stats", s.statsHandler)
	mux.HandleFunc("/matches", s.matchesHandler)
	mux.Handle("/metrics", s.metrics.Handler())
	mux.HandleFunc("/websocket", s.websocketHandler)
}

// Handler returns the full HTTP handler with CORS applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) rootHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"service":   "tienlen-server",
		"websocket": "/websocket",
	})
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	snap := s.Health(r.Context())
	status := http.StatusOK
	if snap.ArchiveEnabled && !snap.ArchiveHealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, snap)
}

func (s *Server) statsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Stats())
}

// matchesHandler serves a room's archived match history, newest first.
// Available only when the archive is configured.
func (s *Server) matchesHandler(w http.ResponseWriter, r *http.Request) {
	if s.archive == nil {
		http.Error(w, "match archive disabled", http.StatusNotFound)
		return
	}

	code := NormalizeRoomCode(r.URL.Query().Get("room"))
	if err := ValidateRoomCode(code); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 100 {
			http.Error(w, "limit must be between 1 and 100", http.StatusBadRequest)
			return
		}
		limit = n
	}

	records, err := s.archive.RecentMatches(r.Context(), code, limit)
	if err != nil {
		log.Printf("Match history query for %s failed: %v", code, err)
		http.Error(w, "archive query failed", http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []MatchRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Failed to encode response: %v", err)
	}
}

// websocketHandler upgrades the connection, registers a bare session and runs
// the read loop. The deferred disconnect resolves whatever session owns the
// connection at exit, so a superseded connection unwinds as a no-op.
func (s *Server) websocketHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // origin policy is delegated to the deployment proxy
	})
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	sess := s.addConnection(conn)
	connectionID := sess.ConnectionID
	log.Printf("Connection established: %s", connectionID)

	defer s.disconnectByConnectionID(connectionID)

	ctx := context.Background()
	for {
		msgType, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		if msgType != websocket.MessageText {
			continue
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			// Undecodable envelopes are dropped; there is nothing coherent
			// to answer.
			log.Printf("Dropping undecodable frame from %s: %v", connectionID, err)
			continue
		}
		s.dispatch(connectionID, msg)
	}
}
