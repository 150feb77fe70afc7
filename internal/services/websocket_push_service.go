package services

import (
	"encoding/json"
	"sync"
	"time"

	"botmarket-backend/internal/metrics"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	sendBufferSize = 64
)

// Connection one websocket subscriber
type Connection struct {
	ID   string
	Conn *websocket.Conn
	Send chan []byte
}

// PushMessage envelope delivered to websocket subscribers
type PushMessage struct {
	Type      string      `json:"type"`
	MessageID string      `json:"message_id"`
	Timestamp string      `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// WebSocketPushService fans settlement events out to connected websocket
// clients. Registration and broadcast run through one hub goroutine.
type WebSocketPushService struct {
	connections map[string]*Connection
	broadcast   chan []byte
	register    chan *Connection
	unregister  chan *Connection
	logger      *logrus.Logger
	mutex       sync.RWMutex
}

// NewWebSocketPushService creates a new WebSocketPushService instance
func NewWebSocketPushService(logger *logrus.Logger) *WebSocketPushService {
	return &WebSocketPushService{
		connections: make(map[string]*Connection),
		broadcast:   make(chan []byte, sendBufferSize),
		register:    make(chan *Connection),
		unregister:  make(chan *Connection),
		logger:      logger,
	}
}

// Run processes hub events; call in its own goroutine
func (s *WebSocketPushService) Run() {
	for {
		select {
		case conn := <-s.register:
			s.mutex.Lock()
			s.connections[conn.ID] = conn
			count := len(s.connections)
			s.mutex.Unlock()
			metrics.WebSocketClients.Set(float64(count))
			s.logger.WithFields(logrus.Fields{
				"connection_id": conn.ID,
				"clients":       count,
			}).Info("WebSocket client connected")

		case conn := <-s.unregister:
			s.mutex.Lock()
			if _, ok := s.connections[conn.ID]; ok {
				delete(s.connections, conn.ID)
				close(conn.Send)
			}
			count := len(s.connections)
			s.mutex.Unlock()
			metrics.WebSocketClients.Set(float64(count))
			s.logger.WithFields(logrus.Fields{
				"connection_id": conn.ID,
				"clients":       count,
			}).Info("WebSocket client disconnected")

		case message := <-s.broadcast:
			s.mutex.RLock()
			for _, conn := range s.connections {
				select {
				case conn.Send <- message:
				default:
					// Slow consumer, drop the message rather than block the hub
					s.logger.WithField("connection_id", conn.ID).
						Warn("WebSocket send buffer full, dropping message")
				}
			}
			s.mutex.RUnlock()
		}
	}
}

// Broadcast pushes an event to every connected client. Best effort: a
// marshal failure is logged and swallowed.
func (s *WebSocketPushService) Broadcast(eventType string, data interface{}) {
	message := PushMessage{
		Type:      eventType,
		MessageID: uuid.NewString(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Data:      data,
	}
	payload, err := json.Marshal(message)
	if err != nil {
		s.logger.WithError(err).Warn("Failed to marshal websocket push message")
		return
	}
	select {
	case s.broadcast <- payload:
	default:
		s.logger.Warn("WebSocket broadcast buffer full, dropping message")
	}
}

// HandleConnection registers an upgraded websocket connection and pumps
// messages until the peer goes away
func (s *WebSocketPushService) HandleConnection(wsConn *websocket.Conn) {
	conn := &Connection{
		ID:   uuid.NewString(),
		Conn: wsConn,
		Send: make(chan []byte, sendBufferSize),
	}
	s.register <- conn

	go s.writePump(conn)
	s.readPump(conn)
}

// readPump discards inbound messages (the feed is one-way) and detects
// disconnects via the pong deadline
func (s *WebSocketPushService) readPump(conn *Connection) {
	defer func() {
		s.unregister <- conn
		conn.Conn.Close()
	}()
	conn.Conn.SetReadLimit(1024)
	_ = conn.Conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.Conn.SetPongHandler(func(string) error {
		return conn.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.Conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *WebSocketPushService) writePump(conn *Connection) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Conn.Close()
	}()
	for {
		select {
		case message, ok := <-conn.Send:
			_ = conn.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
