package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/msolberg/weather-station/internal/subscriber"
)

const (
	streamBuffer     = 8
	streamWriteWait  = 10 * time.Second
	streamPongWait   = 60 * time.Second
	streamPingPeriod = streamPongWait * 9 / 10
)

// GaugeUpdate is one message on the live gauge stream.
type GaugeUpdate struct {
	Time   time.Time                    `json:"time"`
	Gauges map[subscriber.Gauge]float64 `json:"gauges"`
}

// Stream fans gauge snapshots out to websocket clients. A client that
// falls behind misses updates rather than slowing the subscriber.
type Stream struct {
	logger   *slog.Logger
	upgrader websocket.Upgrader
	now      func() time.Time

	mu      sync.Mutex
	clients map[chan []byte]struct{}
	last    []byte
	closed  bool
}

func NewStream(logger *slog.Logger) *Stream {
	return &Stream{
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
		now:     time.Now,
		clients: make(map[chan []byte]struct{}),
	}
}

// Publish sends snapshot to every connected client. It never blocks.
func (s *Stream) Publish(snapshot map[subscriber.Gauge]float64) {
	msg, err := json.Marshal(GaugeUpdate{Time: s.now().UTC(), Gauges: snapshot})
	if err != nil {
		s.logger.Error("failed to encode gauge update", "error", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.last = msg
	for ch := range s.clients {
		select {
		case ch <- msg:
		default:
			s.logger.Debug("stream client lagging, update dropped")
		}
	}
}

// Close disconnects every client and rejects new ones.
func (s *Stream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for ch := range s.clients {
		close(ch)
		delete(s.clients, ch)
	}
}

func (s *Stream) register() (chan []byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, false
	}
	ch := make(chan []byte, streamBuffer)
	if s.last != nil {
		ch <- s.last
	}
	s.clients[ch] = struct{}{}
	return ch, true
}

func (s *Stream) unregister(ch chan []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[ch]; ok {
		delete(s.clients, ch)
		close(ch)
	}
}

func (s *Stream) handler(out responder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.serve(w, r, out)
	}
}

func (s *Stream) serve(w http.ResponseWriter, r *http.Request, out responder) {
	// registered before the upgrade
	ch, ok := s.register()
	if !ok {
		out.error(w, http.StatusServiceUnavailable, "stream is shutting down")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.unregister(ch)
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer func() { _ = conn.Close() }()
	defer s.unregister(ch)

	s.logger.Debug("stream client connected", "remote", r.RemoteAddr)

	done := make(chan struct{})
	go s.readPump(conn, done)

	ticker := time.NewTicker(streamPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case msg, ok := <-ch:
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				s.logger.Debug("stream write failed", "error", err)
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump discards client frames and closes done when the peer goes away.
func (s *Stream) readPump(conn *websocket.Conn, done chan struct{}) {
	defer close(done)

	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(streamPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(streamPongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
