package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"erasure-cloud/internal/license"
	"erasure-cloud/internal/logging"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Watchers are desktop clients, not browsers.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// watcher is one connection following a single license key.
type watcher struct {
	conn      *websocket.Conn
	send      chan []byte
	hub       *LicenseHub
	key       string
	closeChan chan struct{}
}

type envelope struct {
	key  string
	data []byte
}

// LicenseHub pushes license revision events to clients watching the key.
type LicenseHub struct {
	watchers   map[string]map[*watcher]bool
	publish    chan envelope
	register   chan *watcher
	unregister chan *watcher
	done       chan struct{}
	closeOnce  sync.Once
	mu         sync.RWMutex
	logger     zerolog.Logger
}

// NewLicenseHub creates a hub. Call Run before serving watchers.
func NewLicenseHub(logger zerolog.Logger) *LicenseHub {
	return &LicenseHub{
		watchers:   make(map[string]map[*watcher]bool),
		publish:    make(chan envelope, 1024),
		register:   make(chan *watcher),
		unregister: make(chan *watcher),
		done:       make(chan struct{}),
		logger:     logging.WithComponent(logger, "license_hub"),
	}
}

// Run dispatches events until Close.
func (h *LicenseHub) Run() {
	for {
		select {
		case <-h.done:
			h.mu.Lock()
			for key, set := range h.watchers {
				for w := range set {
					close(w.send)
				}
				delete(h.watchers, key)
			}
			h.mu.Unlock()
			return

		case w := <-h.register:
			h.mu.Lock()
			if h.watchers[w.key] == nil {
				h.watchers[w.key] = make(map[*watcher]bool)
			}
			h.watchers[w.key][w] = true
			h.mu.Unlock()

		case w := <-h.unregister:
			h.drop(w)

		case msg := <-h.publish:
			h.mu.RLock()
			var slow []*watcher
			for w := range h.watchers[msg.key] {
				select {
				case w.send <- msg.data:
				default:
					slow = append(slow, w)
				}
			}
			h.mu.RUnlock()
			for _, w := range slow {
				h.drop(w)
			}
		}
	}
}

func (h *LicenseHub) drop(w *watcher) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.watchers[w.key]
	if !set[w] {
		return
	}
	delete(set, w)
	close(w.send)
	if len(set) == 0 {
		delete(h.watchers, w.key)
	}
}

// Notify implements license.Notifier. Events are dropped when the hub is
// saturated or closed.
func (h *LicenseHub) Notify(ev license.Event) {
	data, err := json.Marshal(gin.H{"type": "LICENSE_UPDATED", "event": ev})
	if err != nil {
		h.logger.Error().Err(err).Str("key", ev.Key).Msg("Failed to marshal license event")
		return
	}
	select {
	case <-h.done:
	case h.publish <- envelope{key: ev.Key, data: data}:
	default:
		h.logger.Warn().Str("key", ev.Key).Msg("License event channel full, dropping event")
	}
}

// Watchers returns the number of connections following key.
func (h *LicenseHub) Watchers(key string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.watchers[key])
}

// Close disconnects every watcher and stops Run.
func (h *LicenseHub) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}

func (h *LicenseHub) join(w *watcher) bool {
	select {
	case h.register <- w:
		return true
	case <-h.done:
		return false
	}
}

func (h *LicenseHub) leave(w *watcher) {
	select {
	case h.unregister <- w:
	case <-h.done:
	}
}

func (w *watcher) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		w.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-w.send:
			w.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				w.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := w.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			w.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := w.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-w.closeChan:
			return
		}
	}
}

func (w *watcher) readPump() {
	defer func() {
		w.hub.leave(w)
		w.conn.Close()
		close(w.closeChan)
	}()

	w.conn.SetReadDeadline(time.Now().Add(pongWait))
	w.conn.SetPongHandler(func(string) error {
		w.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		// Clients only send control frames.
		if _, _, err := w.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				w.hub.logger.Debug().Err(err).Str("key", w.key).Msg("Watcher read error")
			}
			return
		}
	}
}

// GET /api/license/watch/:key
func (s *Server) handleLicenseWatch(c *gin.Context) {
	if s.deps.Hub == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "UNAVAILABLE", "message": "license events are not enabled"})
		return
	}
	view, err := s.deps.Licenses.Get(c.Request.Context(), c.Param("key"))
	if err != nil {
		respondError(c, err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.FromGin(c).Warn().Err(err).Msg("Failed to upgrade license watch")
		return
	}

	w := &watcher{
		conn:      conn,
		send:      make(chan []byte, 16),
		hub:       s.deps.Hub,
		key:       view.Key,
		closeChan: make(chan struct{}),
	}
	// Queued before registration so it is always the first frame.
	if data, err := json.Marshal(gin.H{"type": "CONNECTED", "key": view.Key, "server_revision": view.ServerRevision}); err == nil {
		w.send <- data
	}
	if !s.deps.Hub.join(w) {
		conn.Close()
		return
	}

	go w.writePump()
	go w.readPump()
}
