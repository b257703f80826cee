// Package admin hosts mock peers over HTTP: scripts are attached to
// sessions, offers are answered, and the one-way event feed plus the
// dispatch-channel transport are exposed to clients.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/arunbanswal/mockrtc/internal/conn"
	"github.com/arunbanswal/mockrtc/internal/dispatch"
	"github.com/arunbanswal/mockrtc/internal/events"
	"github.com/arunbanswal/mockrtc/internal/session"
	"github.com/arunbanswal/mockrtc/internal/step"
	"github.com/arunbanswal/mockrtc/internal/webrtc"
)

// pollWindow bounds one dispatch long-poll request.
const pollWindow = 25 * time.Second

// Config assembles a Server's collaborators.
type Config struct {
	// Feed receives and fans out session events. Required.
	Feed *events.Feed

	// Broker routes dispatch-channel calls. Required.
	Broker *dispatch.Broker

	// Factory creates external connections for proxy steps.
	Factory conn.ExternalFactory

	// Gatherer serves /metrics when set.
	Gatherer prometheus.Gatherer

	// ICEServers configures hosted mock peers.
	ICEServers []string
}

// Server is the administration HTTP server.
type Server struct {
	cfg    Config
	router chi.Router

	mu       sync.Mutex
	sessions map[string]*hostedSession
}

type hostedSession struct {
	id        string
	defs      []step.Definition
	peer      *webrtc.Peer
	cancel    context.CancelFunc
	connected bool
}

// NewServer creates a Server with all routes registered.
func NewServer(cfg Config) *Server {
	s := &Server{
		cfg:      cfg,
		sessions: make(map[string]*hostedSession),
	}
	r := chi.NewRouter()
	r.Post("/sessions", s.handleCreateSession)
	r.Post("/sessions/{sessionID}/connect", s.handleConnect)
	r.Delete("/sessions/{sessionID}", s.handleDeleteSession)
	r.Get("/events", s.handleEvents)
	r.Get("/dispatch/{endpoint}", s.handleDispatchPoll)
	r.Post("/dispatch/{endpoint}", s.handleDispatchRespond)
	if cfg.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}
	s.router = r
	return s
}

// Handler returns the http.Handler for the server.
func (s *Server) Handler() http.Handler { return s.router }

// AddSession registers a pre-resolved script, as loaded from a YAML file at
// startup, and returns the new session's id.
func (s *Server) AddSession(defs []step.Definition) string {
	sess := &hostedSession{id: uuid.NewString(), defs: defs}
	s.mu.Lock()
	s.sessions[sess.id] = sess
	s.mu.Unlock()
	return sess.id
}

// Close tears down every hosted session.
func (s *Server) Close() {
	s.mu.Lock()
	sessions := make([]*hostedSession, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.sessions = make(map[string]*hostedSession)
	s.mu.Unlock()

	for _, sess := range sessions {
		sess.teardown()
	}
}

func (h *hostedSession) teardown() {
	if h.cancel != nil {
		h.cancel()
	}
	if h.peer != nil {
		if err := h.peer.Close(); err != nil {
			log.Printf("closing session %s: %v", h.id, err)
		}
	}
}

type createSessionRequest struct {
	Steps json.RawMessage `json:"steps"`
}

type createSessionResponse struct {
	SessionID string `json:"sessionId"`
}

// handleCreateSession attaches a wire-form script to a new session.
// Unknown step types are rejected here, before any connection exists.
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}
	defs, err := step.DecodeScript(req.Steps)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusCreated, createSessionResponse{SessionID: s.AddSession(defs)})
}

type connectRequest struct {
	Offer string `json:"offer"`
}

type connectResponse struct {
	Answer string `json:"answer"`
}

// handleConnect answers the client's offer and starts the session runner
// against the freshly negotiated connection. A session holds at most one
// connection; the slot is claimed up front and released if negotiation
// fails.
func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	if ok && sess.connected {
		s.mu.Unlock()
		http.Error(w, "session already connected", http.StatusConflict)
		return
	}
	if ok {
		sess.connected = true
	}
	s.mu.Unlock()
	if !ok {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}
	release := func() {
		s.mu.Lock()
		sess.connected = false
		s.mu.Unlock()
	}

	var req connectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		release()
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	peer, err := webrtc.NewPeer(webrtc.PeerConfig{
		ID:         sessionID,
		ICEServers: s.cfg.ICEServers,
		Reporter:   s.cfg.Feed,
	})
	if err != nil {
		release()
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	answer, err := peer.CreateAnswer(r.Context(), req.Offer)
	if err != nil {
		peer.Close()
		release()
		http.Error(w, fmt.Sprintf("negotiation failed: %v", err), http.StatusBadRequest)
		return
	}

	steps, err := step.BuildAll(sess.defs, step.Env{
		External: s.cfg.Factory,
		Dispatch: s.cfg.Broker,
		Reporter: s.cfg.Feed,
	})
	if err != nil {
		peer.Close()
		release()
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	sess.peer = peer
	sess.cancel = cancel
	s.mu.Unlock()

	runner := session.NewRunner(sessionID, peer.Conn(), steps, s.cfg.Feed)
	go func() {
		if err := runner.Run(ctx); err != nil {
			log.Printf("session %s: %v", sessionID, err)
		}
	}()

	writeJSON(w, http.StatusOK, connectResponse{Answer: answer})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	delete(s.sessions, sessionID)
	s.mu.Unlock()
	if !ok {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}
	sess.teardown()
	w.WriteHeader(http.StatusNoContent)
}

// handleEvents streams the event feed as server-sent events.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sub, cancel := s.cfg.Feed.Subscribe()
	defer cancel()

	for {
		select {
		case event, open := <-sub:
			if !open {
				return
			}
			data, err := json.Marshal(event)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

// handleDispatchPoll blocks until a negotiation call arrives for the
// endpoint, or answers 204 when the poll window expires.
func (s *Server) handleDispatchPoll(w http.ResponseWriter, r *http.Request) {
	endpoint := chi.URLParam(r, "endpoint")
	ctx, cancel := context.WithTimeout(r.Context(), pollWindow)
	defer cancel()

	id, offer, err := s.cfg.Broker.Poll(ctx, endpoint)
	if err != nil {
		if errors.Is(err, dispatch.ErrNoPending) {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, dispatch.PollResponse{ID: id, Offer: offer})
}

func (s *Server) handleDispatchRespond(w http.ResponseWriter, r *http.Request) {
	var req dispatch.RespondRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}
	if err := s.cfg.Broker.Respond(req.ID, req.Answer, req.Error); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("writing response: %v", err)
	}
}
