package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/symptom-biomarker-engine/internal/domain"
)

const (
	feedWriteTimeout = 10 * time.Second
	feedPingInterval = 30 * time.Second
	// feedBufferSize is the per-client send queue; a client that cannot
	// drain it gets disconnected rather than blocking the broadcast.
	feedBufferSize = 64
)

// flagEvent is the wire format pushed to feed subscribers.
type flagEvent struct {
	Type      string                 `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Flags     []domain.BiomarkerFlag `json:"flags"`
}

// FlagFeed broadcasts newly created flags to websocket subscribers, giving
// the clinical review console a live queue. It implements the engine's
// FlagNotifier.
type FlagFeed struct {
	log      *logrus.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*feedClient]struct{}
}

type feedClient struct {
	conn *websocket.Conn
	send chan flagEvent
}

// NewFlagFeed creates the broadcast hub.
func NewFlagFeed(logger *logrus.Logger) *FlagFeed {
	return &FlagFeed{
		log: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients: make(map[*feedClient]struct{}),
	}
}

// FlagsCreated pushes a batch of new flags to every subscriber. Slow
// subscribers are dropped; delivery is best effort.
func (f *FlagFeed) FlagsCreated(flags []domain.BiomarkerFlag) {
	if len(flags) == 0 {
		return
	}
	event := flagEvent{
		Type:      "flags_created",
		Timestamp: time.Now().UTC(),
		Flags:     flags,
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	for client := range f.clients {
		select {
		case client.send <- event:
		default:
			f.log.Warn("Dropping slow flag feed subscriber")
			delete(f.clients, client)
			close(client.send)
		}
	}
}

// HandleConnection upgrades the request and serves the feed until the client
// disconnects.
func (f *FlagFeed) HandleConnection(c *gin.Context) {
	conn, err := f.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		f.log.WithError(err).Warn("Websocket upgrade failed")
		return
	}

	client := &feedClient{
		conn: conn,
		send: make(chan flagEvent, feedBufferSize),
	}

	f.mu.Lock()
	f.clients[client] = struct{}{}
	f.mu.Unlock()

	go f.writeLoop(client)
	f.readLoop(client)
}

// SubscriberCount returns the number of connected feed clients.
func (f *FlagFeed) SubscriberCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.clients)
}

func (f *FlagFeed) writeLoop(client *feedClient) {
	ticker := time.NewTicker(feedPingInterval)
	defer func() {
		ticker.Stop()
		client.conn.Close()
	}()

	for {
		select {
		case event, ok := <-client.send:
			client.conn.SetWriteDeadline(time.Now().Add(feedWriteTimeout))
			if !ok {
				client.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.conn.WriteJSON(event); err != nil {
				f.remove(client)
				return
			}
		case <-ticker.C:
			client.conn.SetWriteDeadline(time.Now().Add(feedWriteTimeout))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				f.remove(client)
				return
			}
		}
	}
}

// readLoop drains client messages so pong frames are processed; the feed is
// one-directional and any payload from the client is ignored.
func (f *FlagFeed) readLoop(client *feedClient) {
	defer f.remove(client)
	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (f *FlagFeed) remove(client *feedClient) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.clients[client]; ok {
		delete(f.clients, client)
		close(client.send)
	}
	client.conn.Close()
}
