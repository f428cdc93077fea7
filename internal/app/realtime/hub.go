// Package realtime pushes calendar changes to connected owners over
// websockets.
package realtime

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/studiodesk/studiodesk/internal/app/metrics"
	"github.com/studiodesk/studiodesk/internal/app/system"
	"github.com/studiodesk/studiodesk/internal/middleware"
	"github.com/studiodesk/studiodesk/pkg/logger"
)

// Event types published on appointment mutations.
const (
	EventCreated       = "appointment.created"
	EventUpdated       = "appointment.updated"
	EventDeleted       = "appointment.deleted"
	EventStatusChanged = "appointment.status"
)

const (
	subscriberBuffer = 16
	pingInterval     = 30 * time.Second
	writeWait        = 10 * time.Second
	pongWait         = pingInterval * 2
)

// Event is one calendar change.
type Event struct {
	Type          string    `json:"type"`
	AppointmentID string    `json:"appointment_id"`
	Date          string    `json:"date,omitempty"`
	Status        string    `json:"status,omitempty"`
	At            time.Time `json:"at"`
}

type subscriber struct {
	ownerID string
	events  chan Event
	once    sync.Once
}

func (s *subscriber) close() {
	s.once.Do(func() { close(s.events) })
}

// Hub fans events out to every subscriber of an owner.
type Hub struct {
	mu       sync.RWMutex
	subs     map[string]map[*subscriber]struct{}
	upgrader websocket.Upgrader
	log      *logger.Logger
}

var _ system.Service = (*Hub)(nil)

// NewHub creates an empty hub. allowedOrigins restricts websocket origins
// with the same rules the CORS middleware applies.
func NewHub(allowedOrigins []string, log *logger.Logger) *Hub {
	if log == nil {
		log = logger.NewDefault("realtime")
	}
	h := &Hub{
		subs: make(map[string]map[*subscriber]struct{}),
		log:  log,
	}
	origins := middleware.NewCORSMiddleware(allowedOrigins)
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || origins.Allowed(origin)
		},
	}
	return h
}

func (h *Hub) Name() string { return "realtime-hub" }

func (h *Hub) Start(ctx context.Context) error { return nil }

// Stop disconnects every subscriber.
func (h *Hub) Stop(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for owner, set := range h.subs {
		for sub := range set {
			sub.close()
			metrics.SubscriberDisconnected()
		}
		delete(h.subs, owner)
	}
	return nil
}

// Publish delivers ev to the owner's subscribers. A subscriber whose buffer
// is full is dropped.
func (h *Hub) Publish(ownerID string, ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	h.mu.RLock()
	var slow []*subscriber
	for sub := range h.subs[ownerID] {
		select {
		case sub.events <- ev:
		default:
			slow = append(slow, sub)
		}
	}
	h.mu.RUnlock()

	for _, sub := range slow {
		h.log.WithField("owner_id", ownerID).Warn("dropping slow calendar subscriber")
		h.unsubscribe(sub)
	}
}

// Subscribers returns the number of live subscribers for an owner.
func (h *Hub) Subscribers(ownerID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[ownerID])
}

// Subscribe registers a channel-based subscriber. The returned cancel func
// must be called when the consumer goes away.
func (h *Hub) Subscribe(ownerID string) (<-chan Event, func()) {
	sub := &subscriber{ownerID: ownerID, events: make(chan Event, subscriberBuffer)}
	h.mu.Lock()
	set, ok := h.subs[ownerID]
	if !ok {
		set = make(map[*subscriber]struct{})
		h.subs[ownerID] = set
	}
	set[sub] = struct{}{}
	h.mu.Unlock()
	metrics.SubscriberConnected()
	return sub.events, func() { h.unsubscribe(sub) }
}

func (h *Hub) unsubscribe(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.subs[sub.ownerID]
	if !ok {
		return
	}
	if _, ok := set[sub]; !ok {
		return
	}
	delete(set, sub)
	if len(set) == 0 {
		delete(h.subs, sub.ownerID)
	}
	sub.close()
	metrics.SubscriberDisconnected()
}

// ServeWS upgrades the request and streams the owner's events until either
// side closes the connection.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, ownerID string) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Debug("websocket upgrade failed")
		return
	}
	events, cancel := h.Subscribe(ownerID)
	defer cancel()

	done := make(chan struct{})
	go h.readPump(conn, done)
	h.writePump(conn, events, done)
}

// readPump discards client messages and keeps the read deadline fresh.
func (h *Hub) readPump(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(conn *websocket.Conn, events <-chan Event, done <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()
	for {
		select {
		case ev, ok := <-events:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
