package ws

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"storefront/config"
	"storefront/internal/auth"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHub_SendToUser(t *testing.T) {
	h := NewHub()
	a1 := &Client{UserID: "a", Send: make(chan []byte, 1)}
	a2 := &Client{UserID: "a", Send: make(chan []byte, 1)}
	b := &Client{UserID: "b", Send: make(chan []byte, 1)}
	h.Register(a1)
	h.Register(a2)
	h.Register(b)
	assert.Equal(t, 3, h.ClientCount())

	assert.Equal(t, 2, h.SendToUser("a", map[string]string{"type": "payment"}))
	assert.JSONEq(t, `{"type":"payment"}`, string(<-a1.Send))
	assert.Len(t, b.Send, 0)

	// full buffer drops instead of blocking
	h.SendToUser("b", "one")
	assert.Equal(t, 0, h.SendToUser("b", "two"))

	a1.Close()
	a1.Close()
	assert.Equal(t, 2, h.ClientCount())
	assert.Equal(t, 0, h.SendToUser("nobody", "x"))
}

func TestUpgradePaymentsWS(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg := &config.JWTConfig{AccessSecret: "ws-secret", AccessExpiry: time.Minute}
	hub := NewHub()
	r := gin.New()
	r.GET("/ws/payments", UpgradePaymentsWS(cfg, hub))
	srv := httptest.NewServer(r)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/ws/payments?token=bad")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	tok, err := auth.GenerateAccessToken(cfg, "buyer-9", "", "CUSTOMER")
	require.NoError(t, err)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/payments?token=" + tok
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)
	hub.SendToUser("buyer-9", map[string]string{"status": "PAID"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	var got map[string]string
	require.NoError(t, json.Unmarshal(msg, &got))
	assert.Equal(t, "PAID", got["status"])
}
