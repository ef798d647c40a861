package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/guildhall-project/guildhall/internal/events"
)

const (
	feedSendBuffer   = 64
	feedWriteTimeout = 5 * time.Second
	feedPingInterval = 30 * time.Second
)

// FeedMessage is one event as delivered to websocket subscribers.
type FeedMessage struct {
	Type      events.EventType `json:"type"`
	Source    string           `json:"source"`
	Payload   interface{}      `json:"payload"`
	Timestamp time.Time        `json:"timestamp"`
}

type feedClient struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (fc *feedClient) close() {
	fc.once.Do(func() {
		close(fc.send)
	})
}

// Feed mirrors UI hook events to websocket subscribers.
type Feed struct {
	eventBus *events.EventBus
	upgrader websocket.Upgrader
	logger   zerolog.Logger

	mu      sync.Mutex
	clients map[string]*feedClient
	started bool
}

// NewFeed creates a feed. Origins follow the API's CORS list; "*" or an
// empty list accepts any origin.
func NewFeed(eventBus *events.EventBus, allowedOrigins []string) *Feed {
	allowAll := len(allowedOrigins) == 0
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		if o == "*" {
			allowAll = true
		}
		allowed[o] = true
	}

	return &Feed{
		eventBus: eventBus,
		logger:   log.With().Str("component", "feed").Logger(),
		clients:  make(map[string]*feedClient),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return allowAll || origin == "" || allowed[origin]
			},
		},
	}
}

func (f *Feed) eventTypes() []events.EventType {
	return append(append([]events.EventType(nil), events.UIEventTypes...), events.EventHealthWarning)
}

// Start subscribes to the event bus. Subscribers are disconnected when ctx
// is canceled.
func (f *Feed) Start(ctx context.Context) {
	f.mu.Lock()
	if f.started {
		f.mu.Unlock()
		return
	}
	f.started = true
	f.mu.Unlock()

	for _, t := range f.eventTypes() {
		f.eventBus.Subscribe(t, "feed", f.onEvent)
	}

	go func() {
		<-ctx.Done()
		for _, t := range f.eventTypes() {
			f.eventBus.Unsubscribe(t, "feed")
		}
		f.mu.Lock()
		for id, fc := range f.clients {
			fc.close()
			delete(f.clients, id)
		}
		f.mu.Unlock()
	}()
}

// Clients returns the number of connected subscribers.
func (f *Feed) Clients() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.clients)
}

func (f *Feed) onEvent(_ context.Context, event events.Event) error {
	data, err := json.Marshal(FeedMessage{
		Type:      event.Type,
		Source:    event.Source,
		Payload:   event.Payload,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	f.Broadcast(data)
	return nil
}

// Broadcast queues data for every subscriber. A subscriber whose buffer is
// full misses the message.
func (f *Feed) Broadcast(data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, fc := range f.clients {
		select {
		case fc.send <- data:
		default:
			f.logger.Warn().Str("client", fc.id).Msg("feed subscriber too slow, message dropped")
		}
	}
}

// Handle upgrades the request and streams events until the peer goes away.
func (f *Feed) Handle(c *gin.Context) {
	conn, err := f.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		f.logger.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	fc := &feedClient{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, feedSendBuffer),
	}
	f.mu.Lock()
	f.clients[fc.id] = fc
	f.mu.Unlock()
	f.logger.Info().Str("client", fc.id).Str("remote", c.ClientIP()).Msg("feed subscriber connected")

	go f.writePump(fc)
	f.readPump(fc)

	f.mu.Lock()
	if _, ok := f.clients[fc.id]; ok {
		delete(f.clients, fc.id)
		fc.close()
	}
	f.mu.Unlock()
	f.logger.Info().Str("client", fc.id).Msg("feed subscriber disconnected")
}

func (f *Feed) writePump(fc *feedClient) {
	ticker := time.NewTicker(feedPingInterval)
	defer func() {
		ticker.Stop()
		_ = fc.conn.Close()
	}()

	for {
		select {
		case data, ok := <-fc.send:
			_ = fc.conn.SetWriteDeadline(time.Now().Add(feedWriteTimeout))
			if !ok {
				_ = fc.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := fc.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				f.logger.Debug().Err(err).Str("client", fc.id).Msg("feed write failed")
				return
			}
		case <-ticker.C:
			_ = fc.conn.SetWriteDeadline(time.Now().Add(feedWriteTimeout))
			if err := fc.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump discards client messages; it exists to notice disconnects and
// answer control frames.
func (f *Feed) readPump(fc *feedClient) {
	for {
		if _, _, err := fc.conn.ReadMessage(); err != nil {
			return
		}
	}
}
