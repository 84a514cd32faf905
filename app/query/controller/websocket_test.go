package controller

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/canopy-network/balanceblocks/app/query/types"
	"github.com/canopy-network/balanceblocks/pkg/redis"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestCalculateNextBackoff(t *testing.T) {
	tests := []struct {
		name         string
		current      time.Duration
		max          time.Duration
		factor       float64
		jitterFactor float64
		expectMin    time.Duration
		expectMax    time.Duration
	}{
		{"initial backoff doubles", time.Second, 30 * time.Second, 2.0, 0.1, 1800 * time.Millisecond, 2200 * time.Millisecond},
		{"respects maximum", 20 * time.Second, 30 * time.Second, 2.0, 0.1, 27 * time.Second, 30 * time.Second},
		{"no jitter produces exact value", 5 * time.Second, 30 * time.Second, 2.0, 0, 10 * time.Second, 10 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for i := 0; i < 10; i++ {
				result := calculateNextBackoff(tt.current, tt.max, tt.factor, tt.jitterFactor)
				assert.GreaterOrEqual(t, result, tt.expectMin)
				assert.LessOrEqual(t, result, tt.expectMax)
			}
		})
	}
}

func TestClientSubscriptions_Filter(t *testing.T) {
	event := redis.BalancesSynced{ChainID: 1, FromHeight: 5, ToHeight: 9, Addresses: []string{"aa", "bb", "cc"}}

	t.Run("no subscriptions", func(t *testing.T) {
		_, ok := newClientSubscriptions().Filter(event)
		assert.False(t, ok)
	})

	t.Run("narrows to subscribed addresses", func(t *testing.T) {
		subs := newClientSubscriptions()
		subs.Subscribe("cc")
		subs.Subscribe("aa")
		subs.Subscribe("zz")

		got, ok := subs.Filter(event)
		require.True(t, ok)
		assert.Equal(t, []string{"aa", "cc"}, got.Addresses)
		assert.Equal(t, uint64(9), got.ToHeight)
		// The original event is untouched.
		assert.Len(t, event.Addresses, 3)
	})

	t.Run("wildcard passes everything", func(t *testing.T) {
		subs := newClientSubscriptions()
		subs.Subscribe(wildcard)
		got, ok := subs.Filter(event)
		require.True(t, ok)
		assert.Equal(t, event, got)
	})

	t.Run("unsubscribe", func(t *testing.T) {
		subs := newClientSubscriptions()
		subs.Subscribe("aa")
		subs.Unsubscribe("aa")
		_, ok := subs.Filter(event)
		assert.False(t, ok)
	})

	t.Run("concurrent access", func(t *testing.T) {
		subs := newClientSubscriptions()
		done := make(chan bool)
		go func() {
			for i := 0; i < 100; i++ {
				subs.Subscribe("aa")
			}
			done <- true
		}()
		go func() {
			for i := 0; i < 100; i++ {
				subs.Unsubscribe("aa")
			}
			done <- true
		}()
		go func() {
			for i := 0; i < 100; i++ {
				_, _ = subs.Filter(event)
			}
			done <- true
		}()
		<-done
		<-done
		<-done
	})
}

func TestHandleWebSocket_RedisDisabled(t *testing.T) {
	c := &Controller{App: &types.App{Logger: zaptest.NewLogger(t)}}

	rec := httptest.NewRecorder()
	c.HandleWebSocket(rec, httptest.NewRequest(http.MethodGet, "/ws", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

// TestReadClientMessages drives the subscription protocol over a real WebSocket connection.
func TestReadClientMessages(t *testing.T) {
	c := &Controller{App: &types.App{Logger: zaptest.NewLogger(t)}}
	subs := newClientSubscriptions()
	send := make(chan ServerMessage, 16)
	done := make(chan struct{})

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		c.readClientMessages(ctx, conn, cancel, subs, send)
		close(done)
	}))
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	require.NoError(t, conn.WriteJSON(ClientMessage{Action: "subscribe", Address: "0xAB"}))
	msg := <-send
	assert.Equal(t, "subscribed", msg.Type)
	assert.Equal(t, map[string]string{"address": "ab"}, msg.Payload)

	require.NoError(t, conn.WriteJSON(ClientMessage{Action: "subscribe"}))
	assert.Equal(t, "error", (<-send).Type)

	require.NoError(t, conn.WriteJSON(ClientMessage{Action: "dance", Address: "ab"}))
	assert.Equal(t, "error", (<-send).Type)

	require.NoError(t, conn.WriteJSON(ClientMessage{Action: "unsubscribe", Address: "ab"}))
	assert.Equal(t, "unsubscribed", (<-send).Type)

	_, ok := subs.Filter(redis.BalancesSynced{Addresses: []string{"ab"}})
	assert.False(t, ok)

	require.NoError(t, conn.Close())
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("reader did not stop after the client closed")
	}
}

func TestServerMessageSerialization(t *testing.T) {
	data, err := json.Marshal(ServerMessage{
		Type:    redis.EventBalancesSynced,
		Payload: redis.BalancesSynced{ChainID: 1, FromHeight: 2, ToHeight: 3, Addresses: []string{"aa"}},
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"balances.synced","payload":{"chainId":1,"fromHeight":2,"toHeight":3,"addresses":["aa"]}}`, string(data))
}
