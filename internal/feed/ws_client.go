package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"trade_desk/internal/domain"
	"trade_desk/internal/infra"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
)

const (
	maxRetries   = 10
	pingInterval = 30 * time.Second
	readTimeout  = 60 * time.Second
)

// WSClient reads {pair: price} snapshots from an external websocket feed
// and reconnects with exponential backoff.
type WSClient struct {
	url     string
	out     chan<- domain.PriceTick
	metrics *infra.Metrics
	backoff func(retry int) time.Duration

	conn      *websocket.Conn
	mu        sync.RWMutex
	connected bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewWSClient creates a feed client. metrics may be nil.
func NewWSClient(url string, out chan<- domain.PriceTick, metrics *infra.Metrics) *WSClient {
	return &WSClient{
		url:     url,
		out:     out,
		metrics: metrics,
		backoff: infra.CalculateBackoff,
	}
}

// Connect starts the connection loop in the background.
func (c *WSClient) Connect(ctx context.Context) error {
	ctx, c.cancel = context.WithCancel(ctx)
	c.wg.Add(1)
	go c.connectionLoop(ctx)
	return nil
}

func (c *WSClient) connectionLoop(ctx context.Context) {
	defer c.wg.Done()
	retryCount := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := c.connect(ctx); err != nil {
			slog.Warn("Price feed connection failed", slog.Any("error", err), slog.Int("retry", retryCount))
			delay := c.backoff(retryCount)
			retryCount++
			if retryCount > maxRetries {
				retryCount = 0
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
				continue
			}
		} else {
			retryCount = 0
			c.readLoop(ctx)
		}
	}
}

func (c *WSClient) connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	header := make(http.Header)
	header.Add("User-Agent", infra.DefaultUserAgent)

	conn, _, err := dialer.DialContext(ctx, c.url, header)
	if err != nil {
		return fmt.Errorf("dial failed: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()
	c.setFeedConnected(true)

	slog.Info("Price feed connected", slog.String("url", c.url))
	return nil
}

func (c *WSClient) readLoop(ctx context.Context) {
	stopPing := make(chan struct{})
	defer close(stopPing)
	go c.pingLoop(stopPing)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		c.mu.RLock()
		conn := c.conn
		c.mu.RUnlock()
		if conn == nil {
			return
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))

		_, msg, err := conn.ReadMessage()
		if err != nil {
			c.closeConnection()
			return
		}
		c.handleMessage(msg)
	}
}

func (c *WSClient) pingLoop(stop <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.mu.RLock()
			conn := c.conn
			c.mu.RUnlock()
			if conn == nil {
				return
			}
			conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
		}
	}
}

// handleMessage keeps only supported pairs with a positive price.
func (c *WSClient) handleMessage(msg []byte) {
	var raw map[string]decimal.Decimal
	if err := json.Unmarshal(msg, &raw); err != nil {
		slog.Debug("Ignoring malformed feed frame", slog.Any("error", err))
		return
	}

	prices := make(domain.PriceSnapshot, len(raw))
	for key, price := range raw {
		pair, err := domain.ParsePair(key)
		if err != nil || !price.IsPositive() {
			continue
		}
		prices[pair.String()] = price
	}
	if len(prices) == 0 {
		return
	}

	select {
	case c.out <- domain.PriceTick{Prices: prices, Source: "ws", At: time.Now().UTC()}:
	default: // DROP
	}
}

// Connected reports whether the feed socket is currently open.
func (c *WSClient) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

func (c *WSClient) setFeedConnected(v bool) {
	if c.metrics != nil {
		c.metrics.SetFeedConnected(v)
	}
}

func (c *WSClient) closeConnection() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.connected = false
	c.setFeedConnected(false)
}

// Disconnect stops the loop and waits for it to exit.
func (c *WSClient) Disconnect() {
	if c.cancel != nil {
		c.cancel()
	}
	c.closeConnection()
	c.wg.Wait()
}
