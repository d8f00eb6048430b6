// Package server exposes the engine over HTTP: health, status and
// identification endpoints plus a websocket stream of live telemetry
// values and flash progress events.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ptcan/msdflash/pkg/ebus"
	"github.com/ptcan/msdflash/pkg/ecu"
	"github.com/ptcan/msdflash/pkg/flasher"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultListen = ":8723"

	wsSendBuffer = 64
	pingInterval = 30 * time.Second
)

type Config struct {
	Listen  string
	Profile string
	// Status supplies the session part of the /api/status snapshot.
	Status func() Status
	// Info reads the ECU identification block for /api/ecu/info. Nil
	// when no link is up.
	Info      func(context.Context) (ecu.Info, error)
	OnMessage func(string)
}

// Server fans live values out to websocket clients and answers the
// status API. Values arrive through the bus, progress through
// PublishProgress.
type Server struct {
	cfg      Config
	upgrader websocket.Upgrader

	mu       sync.Mutex
	clients  map[*websocket.Conn]chan Event
	latest   map[string]ebus.Message
	progress *Event
}

func New(cfg Config) *Server {
	if cfg.Listen == "" {
		cfg.Listen = DefaultListen
	}
	return &Server{
		cfg:      cfg,
		upgrader: websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024},
		clients:  make(map[*websocket.Conn]chan Event),
		latest:   make(map[string]ebus.Message),
	}
}

func (s *Server) message(str string) {
	if s.cfg.OnMessage != nil {
		s.cfg.OnMessage(str)
		return
	}
	log.Println(str)
}

// Run serves until ctx is cancelled. The bus subscription lives for the
// whole run, so every published value reaches connected clients.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Listen, err)
	}
	unsubscribe := ebus.SubscribeAllFunc(s.onValue)
	defer unsubscribe()
	srv := &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 5 * time.Second}
	s.message(fmt.Sprintf("Status server listening on %s", ln.Addr()))
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.closeClients()
		return srv.Shutdown(shutCtx)
	})
	return g.Wait()
}

// Handler returns the route table. Split out so tests can drive the API
// without a listener.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/ecu/info", s.handleInfo)
	mux.HandleFunc("/api/signals", s.handleSignals)
	mux.HandleFunc("/ws", s.handleWS)
	return mux
}

// PublishProgress feeds one flash progress tick into the stream and the
// status snapshot.
func (s *Server) PublishProgress(p flasher.Progress) {
	ev := Event{
		Type:  EventProgress,
		Name:  p.Region,
		Time:  time.Now(),
		Stage: p.Stage.String(),
		Addr:  p.Addr,
		Done:  p.Done,
		Total: p.Total,
	}
	s.mu.Lock()
	s.progress = &ev
	s.mu.Unlock()
	s.broadcast(ev)
}

func (s *Server) onValue(msg *ebus.Message) {
	s.mu.Lock()
	s.latest[msg.Topic] = *msg
	s.mu.Unlock()
	s.broadcast(Event{Type: EventValue, Name: msg.Topic, Value: msg.Value, Time: msg.Time})
}

func (s *Server) broadcast(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.clients {
		select {
		case ch <- ev:
		default:
			// Slow consumer. The stream is lossy, the status API
			// always has the current snapshot.
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Println("write response:", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	var st Status
	if s.cfg.Status != nil {
		st = s.cfg.Status()
	}
	if st.Profile == "" {
		st.Profile = s.cfg.Profile
	}
	s.mu.Lock()
	resp := statusResponse{Status: st, Progress: s.progress}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Info == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "no ECU link"})
		return
	}
	info, err := s.cfg.Info(r.Context())
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, infoResponse{
		VIN:        info.VIN,
		Hardware:   info.Hardware,
		Software:   info.Software,
		PartNumber: info.PartNumber,
	})
}

func (s *Server) handleSignals(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	out := make([]signalResponse, 0, len(s.latest))
	for _, msg := range s.latest {
		out = append(out, signalResponse{Name: msg.Topic, Value: msg.Value, Time: msg.Time})
	}
	s.mu.Unlock()
	sort.Slice(out, func(a, b int) bool { return out[a].Name < out[b].Name })
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.message(fmt.Sprintf("Websocket upgrade: %v", err))
		return
	}
	ch := make(chan Event, wsSendBuffer)
	s.mu.Lock()
	s.clients[conn] = ch
	// Prime the stream so a fresh dashboard paints without waiting for
	// the next poll cycle.
	for _, msg := range s.latest {
		select {
		case ch <- Event{Type: EventValue, Name: msg.Topic, Value: msg.Value, Time: msg.Time}:
		default:
		}
	}
	s.mu.Unlock()
	s.message(fmt.Sprintf("Websocket client connected from %s", conn.RemoteAddr()))
	go s.writeClient(conn, ch)
	go s.readClient(conn)
}

func (s *Server) writeClient(conn *websocket.Conn, ch chan Event) {
	ping := time.NewTicker(pingInterval)
	defer ping.Stop()
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				s.drop(conn)
				return
			}
		case <-ping.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.drop(conn)
				return
			}
		}
	}
}

func (s *Server) readClient(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			s.drop(conn)
			return
		}
	}
}

func (s *Server) drop(conn *websocket.Conn) {
	s.mu.Lock()
	ch, ok := s.clients[conn]
	if ok {
		delete(s.clients, conn)
		close(ch)
	}
	s.mu.Unlock()
	conn.Close()
	if ok {
		s.message("Websocket client disconnected")
	}
}

func (s *Server) closeClients() {
	s.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(s.clients))
	for conn := range s.clients {
		conns = append(conns, conn)
	}
	s.mu.Unlock()
	for _, conn := range conns {
		conn.Close()
	}
}
