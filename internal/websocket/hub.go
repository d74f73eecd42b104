package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"go.uber.org/zap"

	"github.com/elecmate/api/internal/model"
	"github.com/elecmate/api/internal/monitor"
)

// Error codes sent in WSErrorMessage
const (
	CodeFetchFailed     = "FETCH_FAILED"
	CodeBudgetExhausted = "WATCH_EXPIRED"
)

const pingPeriod = 30 * time.Second

// Client represents a WebSocket client
type Client struct {
	JobID string
	Conn  *websocket.Conn
	Send  chan []byte

	pong chan struct{}
}

func NewClient(jobID string, conn *websocket.Conn) *Client {
	return &Client{
		JobID: jobID,
		Conn:  conn,
		Send:  make(chan []byte, 256),
		pong:  make(chan struct{}, 1),
	}
}

// jobWatch is the monitor session shared by every subscriber of one job
type jobWatch struct {
	session *monitor.Session
	clients map[*Client]bool
	last    []byte
}

// Hub maintains active WebSocket connections
type Hub struct {
	monitor *monitor.Monitor
	logger  *zap.Logger

	// Watches grouped by job ID
	watches map[string]*jobWatch

	// Register requests
	register chan *Client

	// Unregister requests
	unregister chan *Client

	// Broadcast messages to job subscribers
	broadcast chan *BroadcastMessage

	done     chan struct{}
	mu       sync.RWMutex
	forwards sync.WaitGroup
}

// BroadcastMessage represents a message to broadcast
type BroadcastMessage struct {
	JobID   string
	Session *monitor.Session
	Message []byte
}

// NewHub creates a new Hub
func NewHub(mon *monitor.Monitor, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		monitor:    mon,
		logger:     logger,
		watches:    make(map[string]*jobWatch),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *BroadcastMessage, 256),
		done:       make(chan struct{}),
	}
}

// Run starts the hub's main loop. When ctx is done every session is
// stopped and every client's Send channel is closed.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return

		case client := <-h.register:
			h.addClient(ctx, client)

		case client := <-h.unregister:
			h.mu.Lock()
			if w, ok := h.watches[client.JobID]; ok && w.clients[client] {
				h.removeClient(w, client)
			}
			h.mu.Unlock()
			h.logger.Debug("Client unregistered", zap.String("jobId", client.JobID))

		case msg := <-h.broadcast:
			h.mu.Lock()
			if w, ok := h.watches[msg.JobID]; ok && w.session == msg.Session {
				w.last = msg.Message
				for client := range w.clients {
					select {
					case client.Send <- msg.Message:
					default:
						h.logger.Warn("Dropping slow client", zap.String("jobId", msg.JobID))
						h.removeClient(w, client)
					}
				}
			}
			h.mu.Unlock()
		}
	}
}

// Register adds a new client. It returns false once the hub has stopped.
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

// Unregister removes a client
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// ActiveWatches returns the number of jobs with a running or finished
// session that still has subscribers
func (h *Hub) ActiveWatches() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.watches)
}

func (h *Hub) addClient(ctx context.Context, client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	w, ok := h.watches[client.JobID]
	if ok && sessionEnded(w.session) && w.session.Snapshot().StopReason != monitor.StopReasonTerminal {
		// Previous session gave up; the new subscriber gets a fresh one.
		w.session = h.startSession(ctx, client.JobID)
		w.last = nil
	}
	if !ok {
		w = &jobWatch{
			session: h.startSession(ctx, client.JobID),
			clients: make(map[*Client]bool),
		}
		h.watches[client.JobID] = w
	}

	w.clients[client] = true
	if w.last != nil {
		select {
		case client.Send <- w.last:
		default:
		}
	}

	h.logger.Debug("Client registered",
		zap.String("jobId", client.JobID),
		zap.Int("subscribers", len(w.clients)))
}

// removeClient must be called with h.mu held
func (h *Hub) removeClient(w *jobWatch, client *Client) {
	delete(w.clients, client)
	close(client.Send)

	if len(w.clients) == 0 {
		delete(h.watches, client.JobID)
		// Stop blocks until the session goroutine exits; the forwarder may
		// be waiting on this loop, so do not block here.
		go w.session.Stop()
	}
}

func (h *Hub) shutdown() {
	h.mu.Lock()
	sessions := make([]*monitor.Session, 0, len(h.watches))
	for jobID, w := range h.watches {
		for client := range w.clients {
			close(client.Send)
		}
		sessions = append(sessions, w.session)
		delete(h.watches, jobID)
	}
	h.mu.Unlock()

	for _, s := range sessions {
		s.Stop()
	}
	h.forwards.Wait()
	h.logger.Info("WebSocket hub stopped")
}

func (h *Hub) startSession(ctx context.Context, jobID string) *monitor.Session {
	sess := h.monitor.Watch(ctx, jobID)

	h.forwards.Add(1)
	go h.forward(ctx, sess)

	return sess
}

// forward turns session snapshots into broadcast messages
func (h *Hub) forward(ctx context.Context, sess *monitor.Session) {
	defer h.forwards.Done()

	for snap := range sess.Updates() {
		data, ok := h.messageFor(snap)
		if !ok {
			continue
		}
		select {
		case h.broadcast <- &BroadcastMessage{JobID: snap.JobID, Session: sess, Message: data}:
		case <-ctx.Done():
		}
	}
}

func (h *Hub) messageFor(snap monitor.Snapshot) ([]byte, bool) {
	var msg any

	switch {
	case snap.Stopped && snap.StopReason == monitor.StopReasonFetchFailed:
		msg = model.WSErrorMessage{
			Type:  model.WSMessageTypeError,
			JobID: snap.JobID,
			Error: model.WSError{Code: CodeFetchFailed, Message: snap.Error},
		}
	case snap.Stopped && snap.StopReason == monitor.StopReasonBudgetExhausted:
		msg = model.WSErrorMessage{
			Type:  model.WSMessageTypeError,
			JobID: snap.JobID,
			Error: model.WSError{Code: CodeBudgetExhausted, Message: "Stopped watching job before it finished"},
		}
	case snap.Stopped && snap.StopReason == monitor.StopReasonTerminal && snap.Job != nil:
		msg = model.WSCompleteMessage{
			Type:       model.WSMessageTypeComplete,
			JobID:      snap.JobID,
			Job:        snap.Job,
			Projection: snap.Projection(),
		}
	case snap.Job != nil && !snap.Stopped:
		msg = model.WSProgressMessage{
			Type:               model.WSMessageTypeProgress,
			JobID:              snap.JobID,
			Status:             snap.Job.Status,
			ProgressPercentage: snap.Job.ProgressPercentage,
			CurrentBatch:       snap.Job.CurrentBatch,
			CompletedBatches:   snap.Job.CompletedBatches,
			FailedBatches:      snap.Job.FailedBatches,
			TotalBatches:       snap.Job.TotalBatches,
			Batches:            snap.Batches,
			Projection:         snap.Projection(),
		}
	default:
		return nil, false
	}

	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("Failed to marshal message", zap.String("jobId", snap.JobID), zap.Error(err))
		return nil, false
	}
	return data, true
}

// HandleConnection handles a WebSocket connection
func (h *Hub) HandleConnection(c *websocket.Conn, jobID string) {
	client := NewClient(jobID, c)

	if !h.Register(client) {
		_ = c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
		return
	}
	defer h.Unregister(client)

	// Start writer goroutine
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()

		pong, _ := json.Marshal(model.WSMessage{Type: model.WSMessageTypePong})

		for {
			select {
			case message, ok := <-client.Send:
				if !ok {
					_ = c.WriteMessage(websocket.CloseMessage, []byte{})
					return
				}
				if err := c.WriteMessage(websocket.TextMessage, message); err != nil {
					return
				}

			case <-client.pong:
				if err := c.WriteMessage(websocket.TextMessage, pong); err != nil {
					return
				}

			case <-ticker.C:
				// Send ping for keep-alive
				if err := c.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	// Reader loop
	for {
		_, message, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn("WebSocket error", zap.String("jobId", jobID), zap.Error(err))
			}
			break
		}

		// Handle client messages (ping/pong)
		var msg model.WSMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}

		if msg.Type == model.WSMessageTypePing {
			select {
			case client.pong <- struct{}{}:
			default:
			}
		}
	}
}

func sessionEnded(s *monitor.Session) bool {
	select {
	case <-s.Done():
		return true
	default:
		return false
	}
}
