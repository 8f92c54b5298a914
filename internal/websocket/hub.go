package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"

	"github.com/bazaar-it/bazaar-sub000/internal/model"
)

var (
	ErrUnknownSession    = errors.New("unknown session stream")
	ErrAlreadySubscribed = errors.New("session stream already has a subscriber")
	ErrStreamClosed      = errors.New("session stream is closed")
)

// sessionStream buffers one session's events until its single subscriber
// takes them.
type sessionStream struct {
	id        string
	mu        sync.Mutex
	pending   []model.StreamEvent
	notify    chan struct{}
	attached  bool
	finalized bool
	openedAt  time.Time
}

func (s *sessionStream) signal() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Hub keeps one ordered stream per generation session. Events published
// before the subscriber attaches are replayed on attach.
type Hub struct {
	mu        sync.Mutex
	streams   map[string]*sessionStream
	retention time.Duration
	logger    *slog.Logger
}

// NewHub creates a new Hub. Streams nobody subscribed to are dropped after
// retention.
func NewHub(logger *slog.Logger, retention time.Duration) *Hub {
	if retention <= 0 {
		retention = 10 * time.Minute
	}
	return &Hub{
		streams:   make(map[string]*sessionStream),
		retention: retention,
		logger:    logger,
	}
}

// Run evicts abandoned streams until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.retention / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			h.evict(now)
		}
	}
}

func (h *Hub) evict(now time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, st := range h.streams {
		st.mu.Lock()
		stale := !st.attached && now.Sub(st.openedAt) > h.retention
		st.mu.Unlock()
		if stale {
			delete(h.streams, id)
			h.logger.Info("evicted unclaimed session stream", "session_id", id)
		}
	}
}

// Open creates the stream for a session. It must be called before the
// session publishes its first event.
func (h *Hub) Open(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.streams[sessionID]; ok {
		return
	}
	h.streams[sessionID] = &sessionStream{
		id:       sessionID,
		notify:   make(chan struct{}, 1),
		openedAt: time.Now(),
	}
}

// Has reports whether a stream is open for the session.
func (h *Hub) Has(sessionID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.streams[sessionID]
	return ok
}

func (h *Hub) get(sessionID string) (*sessionStream, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	st, ok := h.streams[sessionID]
	return st, ok
}

func (h *Hub) remove(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.streams, sessionID)
}

// Publish implements stream.Sink. The event is routed by its session id.
func (h *Hub) Publish(event model.StreamEvent) error {
	st, ok := h.get(event.SessionID)
	if !ok {
		return ErrUnknownSession
	}
	st.mu.Lock()
	if st.finalized {
		st.mu.Unlock()
		return ErrStreamClosed
	}
	st.pending = append(st.pending, event)
	if event.Type == model.EventFinalized {
		st.finalized = true
	}
	st.mu.Unlock()
	st.signal()
	return nil
}

// Subscription delivers a session's events in order. C is closed after the
// finalized event or when the subscription is closed.
type Subscription struct {
	C    <-chan model.StreamEvent
	done chan struct{}
	once sync.Once
}

// Close detaches the subscriber. Undelivered events stay buffered for the
// next subscriber.
func (s *Subscription) Close() {
	s.once.Do(func() { close(s.done) })
}

// Subscribe attaches the single subscriber of a session stream.
func (h *Hub) Subscribe(sessionID string) (*Subscription, error) {
	st, ok := h.get(sessionID)
	if !ok {
		return nil, ErrUnknownSession
	}
	st.mu.Lock()
	if st.attached {
		st.mu.Unlock()
		return nil, ErrAlreadySubscribed
	}
	st.attached = true
	st.mu.Unlock()

	out := make(chan model.StreamEvent)
	sub := &Subscription{C: out, done: make(chan struct{})}
	go h.pump(st, out, sub.done)
	return sub, nil
}

func (h *Hub) pump(st *sessionStream, out chan<- model.StreamEvent, done <-chan struct{}) {
	defer close(out)
	detach := func(undelivered []model.StreamEvent) {
		st.mu.Lock()
		st.pending = append(undelivered, st.pending...)
		st.attached = false
		st.mu.Unlock()
	}

	for {
		st.mu.Lock()
		batch := st.pending
		st.pending = nil
		st.mu.Unlock()

		for i, ev := range batch {
			select {
			case out <- ev:
				if ev.Type == model.EventFinalized {
					h.remove(st.id)
					return
				}
			case <-done:
				detach(batch[i:])
				return
			}
		}

		select {
		case <-st.notify:
		case <-done:
			detach(nil)
			return
		}
	}
}

// HandleConnection streams a session's events over a WebSocket connection
// until the session is finalized or the client goes away.
func (h *Hub) HandleConnection(c *websocket.Conn, sessionID string) {
	sub, err := h.Subscribe(sessionID)
	if err != nil {
		code := "SESSION_NOT_FOUND"
		if errors.Is(err, ErrAlreadySubscribed) {
			code = "ALREADY_SUBSCRIBED"
		}
		data, _ := json.Marshal(model.WSErrorMessage{
			Type:      model.WSMessageTypeError,
			SessionID: sessionID,
			Error:     model.WSError{Code: code, Message: err.Error()},
		})
		_ = c.WriteMessage(websocket.TextMessage, data)
		_ = c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, code))
		return
	}
	defer sub.Close()
	h.logger.Info("subscriber attached", "session_id", sessionID)

	// Reader loop; the connection has a single writer below.
	control := make(chan []byte, 8)
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			_, message, err := c.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					h.logger.Warn("websocket read error", "session_id", sessionID, "error", err)
				}
				return
			}
			var msg model.WSMessage
			if err := json.Unmarshal(message, &msg); err != nil {
				continue
			}
			if msg.Type == model.WSMessageTypePing {
				pong, _ := json.Marshal(model.WSMessage{Type: model.WSMessageTypePong})
				select {
				case control <- pong:
				default:
				}
			}
		}
	}()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case event, ok := <-sub.C:
			if !ok {
				_ = c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "finalized"))
				return
			}
			data, err := json.Marshal(event)
			if err != nil {
				h.logger.Error("failed to marshal stream event", "session_id", sessionID, "error", err)
				continue
			}
			if err := c.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case pong := <-control:
			if err := c.WriteMessage(websocket.TextMessage, pong); err != nil {
				return
			}

		case <-ticker.C:
			// Send ping for keep-alive
			if err := c.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-closed:
			h.logger.Info("subscriber detached", "session_id", sessionID)
			return
		}
	}
}
