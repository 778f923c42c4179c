// Package observer streams path and grid events to WebSocket clients.
package observer

import (
	"encoding/json"
	"io"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"gridweaver/internal/core"
	"gridweaver/internal/grid"
	"gridweaver/internal/pathfinding"
	"gridweaver/internal/request"
)

const Version = "1"

const (
	TypeHello    = "HELLO"
	TypeStart    = "PATH_START"
	TypePath     = "PATH"
	TypeGrid     = "GRID"
	TypeObstacle = "OBSTACLE"
)

const (
	sendBuffer   = 256
	writeTimeout = 5 * time.Second
	readTimeout  = 60 * time.Second
)

// Event is one message on the stream. Only the fields of its type are set.
type Event struct {
	Type    string `json:"type"`
	Version string `json:"protocol_version,omitempty"`
	Tick    uint64 `json:"tick,omitempty"`

	Path     *PathEvent     `json:"path,omitempty"`
	Grid     *grid.Stats    `json:"grid,omitempty"`
	Obstacle *ObstacleEvent `json:"obstacle,omitempty"`
}

// PathEvent describes a finished search.
type PathEvent struct {
	Seq       uint64          `json:"seq"`
	Requester core.AgentID    `json:"requester"`
	Target    core.AgentID    `json:"target"`
	Start     core.Vector3D   `json:"start"`
	End       core.Vector3D   `json:"end"`
	OK        bool            `json:"ok"`
	Waypoints []core.Vector3D `json:"waypoints,omitempty"`
	Expanded  int             `json:"expanded,omitempty"`
	ElapsedUS int64           `json:"elapsed_us,omitempty"`
}

// ObstacleEvent reports a placed or removed obstacle.
type ObstacleEvent struct {
	ID      uint64    `json:"id"`
	Bounds  core.AABB `json:"bounds"`
	Removed bool      `json:"removed,omitempty"`
}

// Server broadcasts engine events to websocket clients and serves a JSON
// status page. Slow clients drop events rather than block the engine.
type Server struct {
	log    *log.Logger
	status func() any

	upgrader websocket.Upgrader
	nextID   atomic.Uint64
	dropped  atomic.Uint64

	mu      sync.Mutex
	clients map[uint64]chan []byte
}

// NewServer returns an observer hub. status, when set, backs the status
// endpoint.
func NewServer(status func() any, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Server{
		log:     logger,
		status:  status,
		clients: make(map[uint64]chan []byte),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Handler serves the stream on /ws and the status document on /status.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.WSHandler())
	mux.HandleFunc("/status", s.StatusHandler())
	return mux
}

func (s *Server) StatusHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		var body any = struct {
			Version string `json:"protocol_version"`
			Clients int    `json:"clients"`
		}{Version, s.Clients()}
		if s.status != nil {
			body = s.status()
		}
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(body)
	}
}

func (s *Server) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		id := s.nextID.Add(1)
		out := make(chan []byte, sendBuffer)
		hello, _ := json.Marshal(Event{Type: TypeHello, Version: Version})
		out <- hello
		s.register(id, out)
		defer s.unregister(id)
		s.log.Printf("observer O%d connected from %s", id, r.RemoteAddr)

		writeErr := make(chan error, 1)
		go func() {
			for b := range out {
				_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
				if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
					writeErr <- err
					return
				}
			}
			writeErr <- nil
		}()

		// Clients only talk to keep the connection alive; any read error ends it.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}

		s.unregister(id)
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))
		select {
		case <-writeErr:
		case <-time.After(500 * time.Millisecond):
		}
		s.log.Printf("observer O%d disconnected", id)
	}
}

// Broadcast sends ev to every client. A client whose buffer is full misses
// the event.
func (s *Server) Broadcast(ev Event) {
	b, err := json.Marshal(ev)
	if err != nil {
		s.log.Printf("observer: marshal %s: %v", ev.Type, err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, out := range s.clients {
		select {
		case out <- b:
		default:
			s.dropped.Add(1)
		}
	}
}

// OnStart implements request.Listener.
func (s *Server) OnStart(req request.Request) {
	s.Broadcast(Event{Type: TypeStart, Path: &PathEvent{
		Seq:       req.Seq,
		Requester: req.Requester,
		Target:    req.Target,
		Start:     req.Start,
		End:       req.End,
	}})
}

// OnComplete implements request.Listener.
func (s *Server) OnComplete(req request.Request, result pathfinding.Result) {
	s.Broadcast(Event{Type: TypePath, Path: &PathEvent{
		Seq:       req.Seq,
		Requester: req.Requester,
		Target:    req.Target,
		Start:     req.Start,
		End:       req.End,
		OK:        result.OK,
		Waypoints: result.Waypoints,
		Expanded:  result.Expanded,
		ElapsedUS: result.Elapsed.Microseconds(),
	}})
}

// PublishGrid broadcasts grid counters for tick.
func (s *Server) PublishGrid(tick uint64, stats grid.Stats) {
	s.Broadcast(Event{Type: TypeGrid, Tick: tick, Grid: &stats})
}

// PublishObstacle broadcasts a placement, or a removal when removed is set.
func (s *Server) PublishObstacle(obstacle core.Obstacle, removed bool) {
	s.Broadcast(Event{Type: TypeObstacle, Obstacle: &ObstacleEvent{
		ID:      obstacle.ID,
		Bounds:  obstacle.Bounds,
		Removed: removed,
	}})
}

// Clients is the number of connected websocket clients.
func (s *Server) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Dropped counts events lost to slow clients.
func (s *Server) Dropped() uint64 { return s.dropped.Load() }

func (s *Server) register(id uint64, out chan []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[id] = out
}

func (s *Server) unregister(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if out, ok := s.clients[id]; ok {
		delete(s.clients, id)
		close(out)
	}
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
