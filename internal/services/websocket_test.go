package services

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"hndld/internal/models"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotificationHub_SendPersists(t *testing.T) {
	db := newAutomationTestDB(t)
	hub := NewNotificationHub(db, quietLogger())

	require.NoError(t, hub.Send(context.Background(), "t1", "u1", "Title", "Body"))

	var stored []models.Notification
	require.NoError(t, db.Find(&stored).Error)
	require.Len(t, stored, 1)
	assert.Equal(t, "t1", stored[0].TenantID)
	assert.Equal(t, "u1", stored[0].UserID)
	assert.Equal(t, "Title", stored[0].Title)
	assert.Nil(t, stored[0].ReadAt)

	assert.Error(t, hub.Send(context.Background(), "t1", "", "x", "y"))
}

func TestNotificationHub_ClientManagement(t *testing.T) {
	hub := NewNotificationHub(nil, quietLogger())

	c1 := &notificationClient{id: "c1", tenantID: "t1", userID: "u1", send: make(chan NotificationMessage, 4), hub: hub}
	c2 := &notificationClient{id: "c2", tenantID: "t1", userID: "u2", send: make(chan NotificationMessage, 4), hub: hub}
	c3 := &notificationClient{id: "c3", tenantID: "t2", userID: "u1", send: make(chan NotificationMessage, 4), hub: hub}
	hub.register(c1)
	hub.register(c2)
	hub.register(c3)
	assert.Equal(t, 3, hub.ClientCount())

	require.NoError(t, hub.Send(context.Background(), "t1", "u1", "hello", "world"))
	require.Len(t, c1.send, 1)
	assert.Len(t, c2.send, 0)
	assert.Len(t, c3.send, 0)
	msg := <-c1.send
	assert.Equal(t, "notification", msg.Type)
	assert.Equal(t, "hello", msg.Data.Title)

	hub.unregister(c1)
	hub.unregister(c1)
	assert.Equal(t, 2, hub.ClientCount())
}

func TestNotificationHub_SlowClientDoesNotBlock(t *testing.T) {
	hub := NewNotificationHub(nil, quietLogger())
	c := &notificationClient{id: "c", tenantID: "t1", userID: "u1", send: make(chan NotificationMessage), hub: hub}
	hub.register(c)

	done := make(chan error, 1)
	go func() { done <- hub.Send(context.Background(), "t1", "u1", "x", "y") }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("send blocked on a slow client")
	}
}

func TestNotificationHub_Serve(t *testing.T) {
	hub := NewNotificationHub(nil, quietLogger())
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.Serve(w, r, "t1", r.URL.Query().Get("user_id"))
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "?user_id=u1"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, hub.Send(context.Background(), "t1", "u1", "Door", "unlocked"))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg NotificationMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "Door", msg.Data.Title)
	assert.Equal(t, "unlocked", msg.Data.Body)

	conn.Close()
	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, time.Second, 10*time.Millisecond)
}
