package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/codefionn/go-bluetooth-bridge/internal/logger"
	"github.com/codefionn/go-bluetooth-bridge/internal/models"
)

const (
	// WebSocket configuration
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow connections from any origin
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Handler manages WebSocket connections and message routing
type Handler struct {
	server        Server
	logger        *logger.Logger
	connections   map[string]*Connection
	connectionsMu sync.RWMutex
}

// Server interface defines the methods the WebSocket handler needs
type Server interface {
	HandleCall(ctx context.Context, call models.MethodCall) models.Result
	Subscribe(callback models.EventCallback) func()
	BridgeInfo() models.BridgeInfoMessage
}

// Connection represents a WebSocket client connection
type Connection struct {
	id          string
	conn        *websocket.Conn
	handler     *Handler
	send        chan []byte
	ctx         context.Context
	cancel      context.CancelFunc
	logger      *logger.Logger
	unsubscribe func()
	closeOnce   sync.Once
}

// NewHandler creates a new WebSocket handler
func NewHandler(server Server, log *logger.Logger) *Handler {
	return &Handler{
		server:      server,
		logger:      log,
		connections: make(map[string]*Connection),
	}
}

// HandleWebSocket handles WebSocket upgrade requests
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade WebSocket connection", logger.ErrorField(err))
		return
	}

	connID := models.GenerateMessageID()
	// The request context ends when this handler returns, so the
	// connection gets its own.
	ctx, cancel := context.WithCancel(context.Background())

	client := &Connection{
		id:      connID,
		conn:    conn,
		handler: h,
		send:    make(chan []byte, 256),
		ctx:     ctx,
		cancel:  cancel,
		logger: h.logger.With(
			logger.String("connection", connID),
			logger.String("remote", r.RemoteAddr),
		),
	}

	// Bridge info goes out before the client can see any event.
	info, err := json.Marshal(h.server.BridgeInfo())
	if err != nil {
		client.logger.Error("Failed to marshal bridge info", logger.ErrorField(err))
		cancel()
		conn.Close()
		return
	}

	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, info); err != nil {
		client.logger.Error("Failed to send bridge info", logger.ErrorField(err))
		cancel()
		conn.Close()
		return
	}

	client.unsubscribe = h.server.Subscribe(client.handleEvent)

	h.connectionsMu.Lock()
	h.connections[connID] = client
	h.connectionsMu.Unlock()

	client.logger.Info("WebSocket connection established")

	go client.writePump()
	go client.readPump()
}

// GetConnectionCount returns the number of active connections
func (h *Handler) GetConnectionCount() int {
	h.connectionsMu.RLock()
	defer h.connectionsMu.RUnlock()
	return len(h.connections)
}

// Shutdown closes all connections
func (h *Handler) Shutdown() {
	h.connectionsMu.RLock()
	conns := make([]*Connection, 0, len(h.connections))
	for _, conn := range h.connections {
		conns = append(conns, conn)
	}
	h.connectionsMu.RUnlock()

	for _, conn := range conns {
		conn.close()
	}

	h.logger.Info("WebSocket handler shutdown", logger.Int("closed", len(conns)))
}

// Connection methods

func (c *Connection) readPump() {
	defer c.close()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.Error("WebSocket read error", logger.ErrorField(err))
			}
			return
		}

		msg, err := decodeCall(message)
		if err != nil {
			c.logger.Warn("Failed to decode call", logger.ErrorField(err))
			c.sendError(msg.MessageID, 400, "Invalid message format")
			continue
		}

		go c.handleCall(msg)
	}
}

// decodeCall parses a request frame. On failure the returned message still
// carries the best message ID available, so the error can be correlated.
func decodeCall(data []byte) (models.CallMessage, error) {
	var msg models.CallMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		var envelope struct {
			MessageID string `json:"message_id"`
		}
		if json.Unmarshal(data, &envelope) == nil && envelope.MessageID != "" {
			return models.CallMessage{MessageID: envelope.MessageID}, err
		}
		return models.CallMessage{MessageID: models.GenerateMessageID()}, err
	}
	if msg.MessageID == "" {
		msg.MessageID = models.GenerateMessageID()
	}
	return msg, nil
}

func (c *Connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.ctx.Done():
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.flush()
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.Debug("WebSocket write failed", logger.ErrorField(err))
				c.close()
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		}
	}
}

// flush writes whatever is still queued, so a final event such as
// server_shutdown reaches the client before the close frame.
func (c *Connection) flush() {
	for {
		select {
		case message := <-c.send:
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *Connection) handleCall(msg models.CallMessage) {
	c.logger.Debug("Handling call",
		logger.String("method", msg.Method),
		logger.String("message_id", msg.MessageID),
	)

	result := c.handler.server.HandleCall(c.ctx, msg.Call())
	c.logger.Trace("Call result",
		logger.String("message_id", msg.MessageID),
		logger.Any("result", result.Value),
		logger.Bool("not_implemented", result.NotImplemented),
	)

	if err := c.sendMessage(models.ResponseFor(msg.MessageID, result)); err != nil {
		c.logger.Error("Failed to send call response",
			logger.String("message_id", msg.MessageID),
			logger.ErrorField(err),
		)
	}
}

func (c *Connection) handleEvent(eventType models.EventType, data interface{}) {
	event := models.EventMessage{
		Event: eventType,
		Data:  data,
	}

	if err := c.sendMessage(event); err != nil {
		c.logger.Debug("Failed to send event",
			logger.String("event", string(eventType)),
			logger.ErrorField(err),
		)
	}
}

func (c *Connection) sendMessage(msg interface{}) error {
	select {
	case <-c.ctx.Done():
		return fmt.Errorf("connection closed")
	default:
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	timer := time.NewTimer(time.Second)
	defer timer.Stop()

	select {
	case c.send <- data:
		return nil
	case <-c.ctx.Done():
		return fmt.Errorf("connection closed")
	case <-timer.C:
		return fmt.Errorf("send timeout")
	}
}

func (c *Connection) sendError(messageID string, code int, details string) {
	errorMsg := models.ErrorResultMessage{
		ResultMessageBase: models.ResultMessageBase{
			MessageID: messageID,
		},
		ErrorCode: code,
		Details:   &details,
	}

	if err := c.sendMessage(errorMsg); err != nil {
		c.logger.Error("Failed to send error message", logger.ErrorField(err))
	}
}

// close tears the connection down once. The write pump owns the socket
// and closes it after sending a close frame.
func (c *Connection) close() {
	c.closeOnce.Do(func() {
		if c.unsubscribe != nil {
			c.unsubscribe()
		}

		c.cancel()

		c.handler.connectionsMu.Lock()
		delete(c.handler.connections, c.id)
		c.handler.connectionsMu.Unlock()

		c.logger.Info("WebSocket connection closed")
	})
}
