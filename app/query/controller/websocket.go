package controller

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"github.com/canopy-network/balanceblocks/pkg/redis"
	"github.com/canopy-network/balanceblocks/pkg/utils"
	"github.com/gorilla/websocket"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// wildcard subscribes to every address.
const wildcard = "*"

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// ClientMessage represents messages sent by WebSocket clients.
type ClientMessage struct {
	Action  string `json:"action"`  // "subscribe" or "unsubscribe"
	Address string `json:"address"` // account address, or "*" for every account
}

// ServerMessage represents messages sent to WebSocket clients.
type ServerMessage struct {
	Type    string      `json:"type"` // "balances.synced", "subscribed", "unsubscribed", "error", "info"
	Payload interface{} `json:"payload"`
}

// clientSubscriptions tracks the addresses a client follows.
type clientSubscriptions struct {
	mu        sync.RWMutex
	addresses map[string]bool
}

func newClientSubscriptions() *clientSubscriptions {
	return &clientSubscriptions{addresses: make(map[string]bool)}
}

func (cs *clientSubscriptions) Subscribe(address string) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.addresses[address] = true
}

func (cs *clientSubscriptions) Unsubscribe(address string) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	delete(cs.addresses, address)
}

// Filter narrows a sync event to the subscribed addresses. ok is false when nothing matches.
func (cs *clientSubscriptions) Filter(event redis.BalancesSynced) (redis.BalancesSynced, bool) {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	if cs.addresses[wildcard] {
		return event, true
	}
	matched := make([]string, 0)
	for _, a := range event.Addresses {
		if cs.addresses[a] {
			matched = append(matched, a)
		}
	}
	if len(matched) == 0 {
		return event, false
	}
	event.Addresses = matched
	return event, true
}

// HandleWebSocket upgrades the connection and streams balances.synced events for subscribed addresses.
//
// Protocol:
// Client sends: {"action": "subscribe", "address": "abc123..."}
// Client sends: {"action": "subscribe", "address": "*"}
// Client sends: {"action": "unsubscribe", "address": "abc123..."}
//
// Server sends:
// - {"type": "balances.synced", "payload": {"chainId": 1, "fromHeight": 10, "toHeight": 12, "addresses": [...]}}
// - {"type": "subscribed", "payload": {"address": "abc123..."}}
// - {"type": "unsubscribed", "payload": {"address": "abc123..."}}
// - {"type": "error", "payload": {"message": "..."}}
func (c *Controller) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if c.App.RedisClient == nil {
		http.Error(w, "Real-time events not available (Redis disabled)", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		c.App.Logger.Error("Failed to upgrade WebSocket connection", zap.Error(err))
		return
	}
	defer func(conn *websocket.Conn) {
		if err := conn.Close(); err != nil {
			c.App.Logger.Debug("Failed to close WebSocket connection", zap.Error(err))
		}
	}(conn)

	c.App.Logger.Info("WebSocket client connected", zap.String("remote_addr", r.RemoteAddr))

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Unblocks the reader when a writer or the server gives up on the connection.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	subs := newClientSubscriptions()
	send := make(chan ServerMessage, 256)

	var wg sync.WaitGroup
	run := func(name string, fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				if rec := recover(); rec != nil {
					c.App.Logger.Error("Panic in WebSocket goroutine",
						zap.String("goroutine", name),
						zap.Any("panic", rec),
						zap.String("stack", string(debug.Stack())),
						zap.String("remote_addr", r.RemoteAddr))
					cancel()
				}
			}()
			fn()
		}()
	}

	run("redis", func() { c.subscribeToRedis(ctx, send, subs) })
	run("ping", func() { c.sendPings(ctx, conn) })
	run("writer", func() { c.writeMessages(ctx, cancel, conn, send) })

	// Blocks until the connection closes.
	c.readClientMessages(ctx, conn, cancel, subs, send)

	// Every goroutine selects on ctx, so send never needs closing.
	cancel()
	wg.Wait()

	c.App.Logger.Info("WebSocket client disconnected", zap.String("remote_addr", r.RemoteAddr))
}

// subscribeToRedis forwards sync events of this chain to the client, reconnecting with exponential
// backoff whenever the subscription drops.
func (c *Controller) subscribeToRedis(ctx context.Context, send chan<- ServerMessage, subs *clientSubscriptions) {
	channel := redis.Channel(c.App.ChainID, redis.EventBalancesSynced)

	const (
		initialBackoff = 1 * time.Second
		maxBackoff     = 30 * time.Second
		backoffFactor  = 2.0
		jitterFactor   = 0.1
	)

	backoff := initialBackoff
	for attempt := 1; ; attempt++ {
		err := c.attemptRedisSubscription(ctx, channel, send, subs)
		if ctx.Err() != nil {
			return
		}

		c.App.Logger.Warn("Redis subscription ended, will retry",
			zap.Error(err),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff))

		select {
		case send <- ServerMessage{Type: "error", Payload: map[string]interface{}{
			"message":     "Redis connection lost, attempting to reconnect...",
			"retryIn":     backoff.Seconds(),
			"attempt":     attempt,
			"recoverable": true,
		}}:
		case <-ctx.Done():
			return
		}

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return
		}
		backoff = calculateNextBackoff(backoff, maxBackoff, backoffFactor, jitterFactor)
	}
}

// attemptRedisSubscription runs one subscription until it fails or ctx ends.
func (c *Controller) attemptRedisSubscription(ctx context.Context, channel string, send chan<- ServerMessage, subs *clientSubscriptions) error {
	pubsub := c.App.RedisClient.PSubscribe(ctx, channel)
	defer func() { _ = pubsub.Close() }()

	receiveCtx, receiveCancel := context.WithTimeout(ctx, 5*time.Second)
	defer receiveCancel()
	if _, err := pubsub.Receive(receiveCtx); err != nil {
		return fmt.Errorf("failed to confirm Redis subscription: %w", err)
	}

	return c.processRedisMessages(ctx, pubsub, send, subs)
}

func (c *Controller) processRedisMessages(ctx context.Context, pubsub *goredis.PubSub, send chan<- ServerMessage, subs *clientSubscriptions) error {
	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			if redis.EventFromChannel(msg.Channel) != redis.EventBalancesSynced {
				continue
			}

			var event redis.BalancesSynced
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				c.App.Logger.Error("Failed to parse Redis message", zap.Error(err), zap.String("channel", msg.Channel))
				continue
			}
			filtered, ok := subs.Filter(event)
			if !ok {
				continue
			}

			select {
			case send <- ServerMessage{Type: redis.EventBalancesSynced, Payload: filtered}:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// calculateNextBackoff grows current by factor, capped at max, with +/- jitterFactor of noise.
func calculateNextBackoff(current, max time.Duration, factor, jitterFactor float64) time.Duration {
	next := time.Duration(float64(current) * factor)
	if next > max {
		next = max
	}

	jitter := float64(next) * jitterFactor * (2*rand.Float64() - 1)
	next = time.Duration(float64(next) + jitter)

	if next < current {
		next = current
	}
	if next > max {
		next = max
	}
	return next
}

// sendPings keeps the connection alive. Pongs reset the read deadline.
func (c *Controller) sendPings(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(10*time.Second)); err != nil {
				c.App.Logger.Debug("Failed to send ping", zap.Error(err))
				return
			}
		}
	}
}

func (c *Controller) writeMessages(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, send <-chan ServerMessage) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-send:
			if err := conn.WriteJSON(msg); err != nil {
				c.App.Logger.Debug("Failed to write WebSocket message", zap.Error(err))
				cancel()
				return
			}
		}
	}
}

// reply queues a message unless the connection is going away.
func reply(ctx context.Context, send chan<- ServerMessage, msg ServerMessage) {
	select {
	case send <- msg:
	case <-ctx.Done():
	}
}

func (c *Controller) readClientMessages(ctx context.Context, conn *websocket.Conn, cancel context.CancelFunc, subs *clientSubscriptions, send chan<- ServerMessage) {
	const readTimeout = 60 * time.Second

	if err := conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
		c.App.Logger.Error("Failed to set read deadline", zap.Error(err))
		return
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	for {
		if ctx.Err() != nil {
			return
		}

		var msg ClientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.App.Logger.Warn("WebSocket read error", zap.Error(err))
			}
			cancel()
			return
		}
		if err := conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
			cancel()
			return
		}

		address := msg.Address
		if address != wildcard {
			address = utils.NormalizeAddress(address)
		}

		switch msg.Action {
		case "subscribe", "unsubscribe":
			if address == "" {
				reply(ctx, send, ServerMessage{Type: "error", Payload: map[string]string{"message": "address is required"}})
				continue
			}
			if msg.Action == "subscribe" {
				subs.Subscribe(address)
				reply(ctx, send, ServerMessage{Type: "subscribed", Payload: map[string]string{"address": address}})
			} else {
				subs.Unsubscribe(address)
				reply(ctx, send, ServerMessage{Type: "unsubscribed", Payload: map[string]string{"address": address}})
			}
		default:
			reply(ctx, send, ServerMessage{Type: "error", Payload: map[string]string{"message": "unknown action: " + msg.Action}})
		}
	}
}
