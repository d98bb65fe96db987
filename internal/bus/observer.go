package bus

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	// WriteWait is the timeout for writing to a WebSocket.
	WriteWait = 10 * time.Second

	// PongWait is the timeout for pong responses.
	PongWait = 60 * time.Second

	// PingPeriod is how often to send ping frames.
	PingPeriod = (PongWait * 9) / 10

	// MaxMessageSize is the maximum message size accepted from a monitor.
	MaxMessageSize = 512

	clientBuffer = 256
)

// ObserverConfig configures the WebSocket observer.
type ObserverConfig struct {
	// ReplayHistory sends retained events to a client when it connects.
	ReplayHistory bool
	// HistoryCount is how many events are replayed by default.
	HistoryCount int
	// AllowedOrigins restricts browser origins; empty allows any.
	AllowedOrigins []string
}

// DefaultObserverConfig returns the default observer configuration.
func DefaultObserverConfig() ObserverConfig {
	return ObserverConfig{
		ReplayHistory: true,
		HistoryCount:  100,
	}
}

// Observer streams bus events to WebSocket monitors. It is an http.Handler;
// clients may pass ?types=routed,tool_executed to filter, ?replay=false to
// skip history and ?count=N to size the replay.
type Observer struct {
	bus      *Bus
	config   ObserverConfig
	upgrader websocket.Upgrader
	subID    SubscriptionID

	clients   map[*observerClient]struct{}
	clientsMu sync.RWMutex
	wg        sync.WaitGroup
}

type observerClient struct {
	conn  *websocket.Conn
	send  chan []byte
	types []EventType
	once  sync.Once
}

func (c *observerClient) close() {
	c.once.Do(func() { close(c.send) })
}

// NewObserver creates an observer attached to b.
func NewObserver(b *Bus, config ObserverConfig) *Observer {
	if config.HistoryCount <= 0 {
		config.HistoryCount = DefaultObserverConfig().HistoryCount
	}
	o := &Observer{
		bus:     b,
		config:  config,
		clients: make(map[*observerClient]struct{}),
	}
	o.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     o.checkOrigin,
	}
	o.subID = b.SubscribeAll(o.handleBusEvent)
	return o
}

func (o *Observer) checkOrigin(r *http.Request) bool {
	if len(o.config.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range o.config.AllowedOrigins {
		if strings.EqualFold(origin, allowed) {
			return true
		}
	}
	return false
}

// ClientCount returns the number of connected WebSocket clients.
func (o *Observer) ClientCount() int {
	o.clientsMu.RLock()
	defer o.clientsMu.RUnlock()
	return len(o.clients)
}

// ServeHTTP upgrades the connection and starts streaming events.
func (o *Observer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	replay := o.config.ReplayHistory
	if v := q.Get("replay"); v != "" {
		replay = v != "false"
	}
	count := o.config.HistoryCount
	if n, err := strconv.Atoi(q.Get("count")); err == nil && n > 0 {
		count = n
	}
	var types []EventType
	for _, t := range strings.Split(q.Get("types"), ",") {
		if t = strings.TrimSpace(t); t != "" {
			types = append(types, EventType(t))
		}
	}

	conn, err := o.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("event monitor upgrade failed")
		return
	}

	client := &observerClient{
		conn:  conn,
		send:  make(chan []byte, clientBuffer),
		types: types,
	}

	if replay {
		for _, event := range o.bus.History(count, types...) {
			data, err := json.Marshal(event)
			if err != nil {
				continue
			}
			select {
			case client.send <- data:
			default:
			}
		}
	}

	o.clientsMu.Lock()
	o.clients[client] = struct{}{}
	total := len(o.clients)
	o.clientsMu.Unlock()
	log.Debug().Int("clients", total).Msg("event monitor connected")

	o.wg.Add(2)
	go o.writePump(client)
	go o.readPump(client)
}

func (o *Observer) remove(client *observerClient) {
	o.clientsMu.Lock()
	if _, ok := o.clients[client]; ok {
		delete(o.clients, client)
		client.close()
	}
	o.clientsMu.Unlock()
}

// writePump handles sending messages to the WebSocket client.
func (o *Observer) writePump(client *observerClient) {
	defer o.wg.Done()
	defer client.conn.Close()

	ticker := time.NewTicker(PingPeriod)
	defer ticker.Stop()

	for {
		select {
		case message, ok := <-client.send:
			client.conn.SetWriteDeadline(time.Now().Add(WriteWait))
			if !ok {
				client.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				o.remove(client)
				return
			}

		case <-ticker.C:
			client.conn.SetWriteDeadline(time.Now().Add(WriteWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				o.remove(client)
				return
			}
		}
	}
}

// readPump drains control frames until the client goes away.
func (o *Observer) readPump(client *observerClient) {
	defer o.wg.Done()
	defer o.remove(client)

	client.conn.SetReadLimit(MaxMessageSize)
	client.conn.SetReadDeadline(time.Now().Add(PongWait))
	client.conn.SetPongHandler(func(string) error {
		client.conn.SetReadDeadline(time.Now().Add(PongWait))
		return nil
	})

	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Msg("event monitor read error")
			}
			return
		}
	}
}

// handleBusEvent is called for every event published to the bus.
func (o *Observer) handleBusEvent(event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Warn().Err(err).Str("event", string(event.Type)).Msg("failed to marshal event")
		return
	}

	o.clientsMu.RLock()
	var slow []*observerClient
	for client := range o.clients {
		if !event.Matches(client.types) {
			continue
		}
		select {
		case client.send <- data:
		default:
			slow = append(slow, client)
		}
	}
	o.clientsMu.RUnlock()

	// A monitor that cannot keep up is disconnected.
	for _, client := range slow {
		o.remove(client)
	}
}

// Close disconnects every client and detaches from the bus.
func (o *Observer) Close() error {
	_ = o.bus.Unsubscribe(o.subID)

	o.clientsMu.Lock()
	for client := range o.clients {
		delete(o.clients, client)
		client.close()
	}
	o.clientsMu.Unlock()

	o.wg.Wait()
	return nil
}
