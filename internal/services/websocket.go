package services

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"hndld/internal/models"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// NotificationSender delivers an alert to one household member.
type NotificationSender interface {
	Send(ctx context.Context, tenantID, userID, title, body string) error
}

// NotificationMessage is the frame pushed to connected clients.
type NotificationMessage struct {
	Type      string              `json:"type"`
	Data      models.Notification `json:"data"`
	Timestamp time.Time           `json:"timestamp"`
}

type notificationClient struct {
	id       string
	tenantID string
	userID   string
	conn     *websocket.Conn
	send     chan NotificationMessage
	hub      *NotificationHub
}

// NotificationHub stores notifications and pushes them to the member's open sockets.
// Members without a live socket read them later from the notifications table.
type NotificationHub struct {
	db      *gorm.DB
	logger  *logrus.Logger
	mutex   sync.RWMutex
	clients map[string]*notificationClient
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // 生产环境需要验证源
	},
}

func NewNotificationHub(db *gorm.DB, logger *logrus.Logger) *NotificationHub {
	return &NotificationHub{
		db:      db,
		logger:  defaultLogger(logger),
		clients: make(map[string]*notificationClient),
	}
}

// Send persists the notification and fans it out to the member's live connections.
func (h *NotificationHub) Send(ctx context.Context, tenantID, userID, title, body string) error {
	if userID == "" {
		return fmt.Errorf("notification target user required")
	}
	n := models.Notification{
		TenantID:  tenantID,
		UserID:    userID,
		Title:     title,
		Body:      body,
		CreatedAt: time.Now(),
	}
	if h.db != nil {
		if err := h.db.WithContext(ctx).Create(&n).Error; err != nil {
			return fmt.Errorf("store notification: %w", err)
		}
	}

	msg := NotificationMessage{Type: "notification", Data: n, Timestamp: n.CreatedAt}
	delivered := 0
	h.mutex.RLock()
	for _, c := range h.clients {
		if c.tenantID != tenantID || c.userID != userID {
			continue
		}
		select {
		case c.send <- msg:
			delivered++
		default:
			h.logger.Warnf("notification client %s is slow, dropping message", c.id)
		}
	}
	h.mutex.RUnlock()

	h.logger.WithFields(logrus.Fields{
		"tenant_id": tenantID,
		"user_id":   userID,
		"sockets":   delivered,
	}).Debug("notification sent")
	return nil
}

// Serve upgrades the request and streams notifications for (tenantID, userID).
func (h *NotificationHub) Serve(w http.ResponseWriter, r *http.Request, tenantID, userID string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Errorf("WebSocket upgrade failed: %v", err)
		return
	}
	client := &notificationClient{
		id:       uuid.NewString(),
		tenantID: tenantID,
		userID:   userID,
		conn:     conn,
		send:     make(chan NotificationMessage, 64),
		hub:      h,
	}
	h.register(client)

	go client.writePump()
	go client.readPump()
}

func (h *NotificationHub) register(c *notificationClient) {
	h.mutex.Lock()
	h.clients[c.id] = c
	h.mutex.Unlock()
	h.logger.Infof("notification client %s connected (user %s)", c.id, c.userID)
}

func (h *NotificationHub) unregister(c *notificationClient) {
	h.mutex.Lock()
	if _, ok := h.clients[c.id]; ok {
		delete(h.clients, c.id)
		close(c.send)
	}
	h.mutex.Unlock()
}

func (h *NotificationHub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// readPump only services control frames; clients never send data.
func (c *notificationClient) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Errorf("WebSocket error: %v", err)
			}
			return
		}
	}
}

func (c *notificationClient) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				c.hub.logger.Errorf("WebSocket write error: %v", err)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
