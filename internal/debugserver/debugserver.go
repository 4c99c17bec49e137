// Package debugserver is the optional introspection HTTP server
// : a *separate* server from pkg/serve's
// script-dispatched HTTP Serve surface, keeping a comparable
// gorilla/mux + gorilla/websocket stack doing what it always did —
// serving an admin UI — now repointed at live runtime diagnostics
// (resource table census by kind, connection and pending-promise
// counts, streamed log tail
// over a websocket) instead of NoiseFS block statistics.
//
// Generalized from a comparable cmd/webui/main.go route setup.
package debugserver

import (
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/andromeda-rt/andromeda/internal/obslog"
	"github.com/andromeda-rt/andromeda/pkg/broadcast"
	"github.com/andromeda-rt/andromeda/pkg/resource"
)

// RuntimeCensus is a snapshot of live runtime state the /debug/status
// route reports.
type RuntimeCensus struct {
	ResourceCount int `json:"resource_count"`
	ResourcesByKind map[string]int `json:"resources_by_kind"`
	ConnectionCount int64 `json:"connection_count"`
	PendingPromises int `json:"pending_promises"`
	Timestamp time.Time `json:"timestamp"`
}

// CensusProvider is implemented by the runtime wiring (pkg/host) to
// supply a fresh RuntimeCensus on demand.
type CensusProvider interface {
	Census() RuntimeCensus
}

// Server is the debug/introspection HTTP server.
type Server struct {
	router *mux.Router
	log *obslog.Logger
	provider CensusProvider
	upgrader websocket.Upgrader

	mu sync.Mutex
	tailSubs map[*websocket.Conn]struct{}
}

// New constructs the debug server's route table.
func New(provider CensusProvider, log *obslog.Logger) *Server {
	s := &Server{
		router: mux.NewRouter(),
		log: log.WithComponent("debugserver"),
		provider: provider,
		tailSubs: make(map[*websocket.Conn]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	s.router.HandleFunc("/debug/status", s.handleStatus).Methods(http.MethodGet)
	s.router.HandleFunc("/debug/resources", s.handleResources).Methods(http.MethodGet)
	s.router.HandleFunc("/debug/logs/tail", s.handleLogTail)
	return s
}

// ServeHTTP makes Server an http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe starts the debug server on addr. It is optional and off
// by default: the runtime never starts it on its own, so it runs only
// when a caller invokes this method.
func (s *Server) ListenAndServe(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.log.Infof("debug server listening on %s", listener.Addr())
	return http.Serve(listener, s)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	census := s.provider.Census()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(census)
}

func (s *Server) handleResources(w http.ResponseWriter, r *http.Request) {
	census := s.provider.Census()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(census.ResourcesByKind)
}

// handleLogTail upgrades to a websocket and streams subsequent log lines
// pushed via BroadcastLine.
func (s *Server) handleLogTail(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debugf("websocket upgrade failed: %v", err)
		return
	}
	s.mu.Lock()
	s.tailSubs[conn] = struct{}{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.tailSubs, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	// Drain reads so the connection's control frames (ping/close) are
	// processed; the client never sends application data.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// BroadcastLine pushes line to every connected log-tail websocket
// client.
func (s *Server) BroadcastLine(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.tailSubs {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(line)); err != nil {
			conn.Close()
			delete(s.tailSubs, conn)
		}
	}
}

// CensusFromResourceTable builds a RuntimeCensus from a live resource
// table, the piece pkg/host's CensusProvider implementation delegates
// to.
func CensusFromResourceTable(rt *resource.Table, connCount int64, pendingPromises int) RuntimeCensus {
	byKind := make(map[string]int)
	for k := resource.Kind(0); k < resource.KindCount; k++ {
		if n := rt.CountByKind(k); n > 0 {
			byKind[k.String()] = n
		}
	}
	return RuntimeCensus{
		ResourceCount: rt.Len(),
		ResourcesByKind: byKind,
		ConnectionCount: connCount,
		PendingPromises: pendingPromises,
		Timestamp: time.Now(),
	}
}

// WebsocketBroadcastTransport adapts this server's websocket hub as a
// broadcast.CrossProcessTransport, so BroadcastChannel's cross-process
// fan-out has a concrete transport.
type WebsocketBroadcastTransport struct {
	srv *Server
}

// NewWebsocketBroadcastTransport wraps srv as a CrossProcessTransport.
func NewWebsocketBroadcastTransport(srv *Server) *WebsocketBroadcastTransport {
	return &WebsocketBroadcastTransport{srv: srv}
}

func (t *WebsocketBroadcastTransport) Publish(subscriptionID, channelName string, payload []byte) error {
	t.srv.BroadcastLine(subscriptionID + "|" + channelName + "|" + string(payload))
	return nil
}

func (t *WebsocketBroadcastTransport) Subscribe(subscriptionID string, onMessage func(channelName string, payload []byte)) (func(), error) {
	// The debug server's websocket hub is a fan-out sink, not a
	// multi-process bus; a single-process deployment has no peers to
	// receive from, so Subscribe registers no listener and returns a
	// no-op unsubscribe. Multi-process deployments provide their own
	// CrossProcessTransport (e.g. a real pub/sub broker).
	return func() {}, nil
}

var _ broadcast.CrossProcessTransport = (*WebsocketBroadcastTransport)(nil)
