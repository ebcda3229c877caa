// Package adminapi exposes a small operator-facing HTTP/WS surface for
// inspecting gateway state: session health and a live feed of session
// lifecycle events. It never drives container lifecycle itself — that
// stays exclusively in control commands issued over SSH.
package adminapi

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/theykk/agentman-gateway/internal/orchestrator"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// SessionEvent describes one session lifecycle transition, broadcast to
// every /sessions/stream subscriber.
type SessionEvent struct {
	ID       string    `json:"id"`
	Time     time.Time `json:"time"`
	Identity string    `json:"identity"`
	Project  string    `json:"project"`
	Kind     string    `json:"kind"` // "connected" or "disconnected"
}

// Broadcaster fans SessionEvents out to any number of live WebSocket
// subscribers, dropping events for a subscriber that can't keep up rather
// than blocking the publisher.
type Broadcaster struct {
	mu   sync.Mutex
	subs map[chan SessionEvent]struct{}
}

// NewBroadcaster returns an empty Broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[chan SessionEvent]struct{})}
}

// Publish delivers event to every current subscriber, stamping it with a
// fresh id if the caller left one unset.
func (b *Broadcaster) Publish(event SessionEvent) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- event:
		default:
		}
	}
}

// Emit is a convenience wrapper over Publish for callers that only have
// the (identity, project, kind) triple in hand, such as session.FSM.
func (b *Broadcaster) Emit(identity, project, kind string) {
	b.Publish(SessionEvent{Time: time.Now(), Identity: identity, Project: project, Kind: kind})
}

func (b *Broadcaster) subscribe() chan SessionEvent {
	ch := make(chan SessionEvent, 16)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *Broadcaster) unsubscribe(ch chan SessionEvent) {
	b.mu.Lock()
	delete(b.subs, ch)
	b.mu.Unlock()
	close(ch)
}

// Server is the admin API's chi-routed HTTP server.
type Server struct {
	orch    orchestrator.ContainerOrchestrator
	events  *Broadcaster
	handler http.Handler
}

// New builds a Server reporting on orch's state and streaming events
// published via events.
func New(orch orchestrator.ContainerOrchestrator, events *Broadcaster) *Server {
	s := &Server{orch: orch, events: events}

	r := chi.NewRouter()
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", s.handleHealthz)
	r.Get("/sessions", s.handleSessions)
	r.Get("/sessions/stream", s.handleSessionsStream)

	s.handler = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.handler.ServeHTTP(w, r) }

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	orchStatus := "disconnected"
	orchBackend := "none"
	if s.orch != nil && s.orch.IsAvailable(r.Context()) {
		orchStatus = "connected"
		orchBackend = s.orch.BackendName()
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":               "healthy",
		"orchestrator":         orchStatus,
		"orchestrator_backend": orchBackend,
	})
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if s.orch == nil {
		writeJSON(w, http.StatusOK, []orchestrator.ManagedContainer{})
		return
	}
	managed, err := s.orch.ListManaged(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, managed)
}

func (s *Server) handleSessionsStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		return
	}
	defer conn.CloseNow()

	ch := s.events.subscribe()
	defer s.events.unsubscribe(ch)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			if err := wsjson.Write(ctx, conn, event); err != nil {
				return
			}
		}
	}
}

// ListenAndServe binds addr and serves the admin API until ctx is done.
func ListenAndServe(ctx context.Context, addr string, srv *Server) error {
	httpSrv := &http.Server{Addr: addr, Handler: srv}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		httpSrv.Shutdown(shutdownCtx)
	}()

	err := httpSrv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}
