package services

import (
	"net/http"
	"sync"
	"time"

	"deskflow/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// StreamMessage 推送给前端的执行事件
type StreamMessage struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
}

type streamClient struct {
	ID   string
	Conn *websocket.Conn
	Send chan StreamMessage
	Hub  *ExecutionStreamHub
}

// ExecutionStreamHub broadcasts workflow execution log entries to connected
// dashboard clients as they are recorded.
type ExecutionStreamHub struct {
	clients    map[string]*streamClient
	broadcast  chan StreamMessage
	register   chan *streamClient
	unregister chan *streamClient
	mutex      sync.RWMutex
	logger     *logrus.Logger
}

var streamUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // 生产环境需要验证源
	},
}

func NewExecutionStreamHub(logger *logrus.Logger) *ExecutionStreamHub {
	if logger == nil {
		logger = logrus.New()
	}
	return &ExecutionStreamHub{
		clients:    make(map[string]*streamClient),
		broadcast:  make(chan StreamMessage, 64),
		register:   make(chan *streamClient),
		unregister: make(chan *streamClient),
		logger:     logger,
	}
}

func (h *ExecutionStreamHub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client.ID] = client
			h.mutex.Unlock()
			h.logger.Infof("stream: client %s connected", client.ID)

		case client := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client.ID]; ok {
				delete(h.clients, client.ID)
				close(client.Send)
				h.logger.Infof("stream: client %s disconnected", client.ID)
			}
			h.mutex.Unlock()

		case message := <-h.broadcast:
			h.mutex.Lock()
			for id, client := range h.clients {
				select {
				case client.Send <- message:
				default:
					close(client.Send)
					delete(h.clients, id)
				}
			}
			h.mutex.Unlock()
		}
	}
}

// PublishExecution queues one execution log entry for broadcast. Non-blocking:
// when the hub is saturated the entry is dropped, the DB record is the source
// of truth.
func (h *ExecutionStreamHub) PublishExecution(entry models.WorkflowExecutionLog) {
	msg := StreamMessage{
		Type:      "workflow_execution",
		Data:      entry,
		Timestamp: time.Now(),
	}
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Debug("stream: broadcast buffer full, dropping entry")
	}
}

// ClientCount 当前连接数
func (h *ExecutionStreamHub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// HandleWebSocket upgrades the request and attaches the client to the hub.
func (h *ExecutionStreamHub) HandleWebSocket(c *gin.Context) {
	conn, err := streamUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warnf("stream: upgrade failed: %v", err)
		return
	}

	client := &streamClient{
		ID:   uuid.NewString(),
		Conn: conn,
		Send: make(chan StreamMessage, 16),
		Hub:  h,
	}
	h.register <- client

	go client.writePump()
	go client.readPump()
}

func (c *streamClient) writePump() {
	defer c.Conn.Close()
	for msg := range c.Send {
		if err := c.Conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

// readPump discards inbound frames; it exists to detect disconnects.
func (c *streamClient) readPump() {
	defer func() {
		c.Hub.unregister <- c
		c.Conn.Close()
	}()
	for {
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			return
		}
	}
}
