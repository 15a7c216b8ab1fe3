package websocket

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"featurerecall/internal/logger"
)

// Event is a progress notification pushed to every connected client.
type Event struct {
	Job       string    `json:"job"`
	Type      string    `json:"type"` // "progress", "done" or "error"
	Media     string    `json:"media"`
	Model     string    `json:"model,omitempty"`
	Frame     int       `json:"frame,omitempty"`
	Frames    int       `json:"frames,omitempty"`
	Records   int       `json:"records"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	EventProgress = "progress"
	EventDone     = "done"
	EventError    = "error"
)

const (
	// PongWait is how long a client may stay silent before its read deadline expires.
	PongWait = 60 * time.Second
	// PingPeriod must stay below PongWait so pongs keep extending the deadline.
	PingPeriod = PongWait * 9 / 10
	writeWait  = 10 * time.Second
)

type HubService struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan []byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	done       chan struct{}
	pingPeriod time.Duration
	mutex      sync.RWMutex
	logger     *logger.Logger
}

func NewHubService(logger *logger.Logger) *HubService {
	return &HubService{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		done:       make(chan struct{}),
		pingPeriod: PingPeriod,
		logger:     logger,
	}
}

// Run dispatches registrations and broadcasts until Stop is called.
func (h *HubService) Run() {
	for {
		select {
		case <-h.done:
			h.mutex.Lock()
			for client := range h.clients {
				client.Close()
				delete(h.clients, client)
			}
			h.mutex.Unlock()
			return

		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mutex.Unlock()
			h.logger.Info("Progress client connected. Total: %d", total)

		case client := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.Close()
			}
			total := len(h.clients)
			h.mutex.Unlock()
			h.logger.Info("Progress client disconnected. Total: %d", total)

		case message := <-h.broadcast:
			h.mutex.Lock()
			for client := range h.clients {
				if err := client.WriteMessage(websocket.TextMessage, message); err != nil {
					h.logger.Error("Error sending message: %v", err)
					delete(h.clients, client)
					client.Close()
				}
			}
			h.mutex.Unlock()
		}
	}
}

// Stop ends Run and closes every client.
func (h *HubService) Stop() {
	close(h.done)
}

func (h *HubService) Register(client *websocket.Conn) {
	select {
	case h.register <- client:
	case <-h.done:
		client.Close()
	}
}

func (h *HubService) Unregister(client *websocket.Conn) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// KeepAlive pings client until stop is closed, the hub stops or a ping fails.
// WriteControl may run concurrently with the hub's message writes.
func (h *HubService) KeepAlive(client *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(h.pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-h.done:
			return
		case <-ticker.C:
			if err := client.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				h.logger.Debug("Ping failed: %v", err)
				return
			}
		}
	}
}

// Broadcast queues a raw message; it never blocks the pipeline.
func (h *HubService) Broadcast(message []byte) {
	select {
	case h.broadcast <- message:
	default:
		h.logger.Warning("Progress queue full - dropping message")
	}
}

// Publish stamps and broadcasts a progress event.
func (h *HubService) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	msg, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("Failed to encode progress event: %v", err)
		return
	}
	h.Broadcast(msg)
}

func (h *HubService) GetClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}
