// Package feed provides a Go client for the crowdsim notification feed and
// command endpoint.
package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zeusync/crowdsim/internal/core/crowd"
	"github.com/zeusync/crowdsim/internal/core/observability/log"
	"github.com/zeusync/crowdsim/internal/server"
)

// KindAny subscribes a handler to every notification kind.
const KindAny = "*"

// Handler is invoked per received notification. Handlers run on the read
// goroutine in arrival order; a slow handler delays the feed, not the server.
type Handler func(n crowd.Notification) error

// Config holds configuration for the feed client.
type Config struct {
	// ServerURL is the gateway base, e.g. "http://127.0.0.1:8080".
	ServerURL string
	// Token authorizes POST /command when the server requires one.
	Token string

	ConnectTimeout    time.Duration
	RequestTimeout    time.Duration
	ReconnectInterval time.Duration
	// MaxReconnectAttempts bounds automatic redials after a dropped feed.
	// Zero disables reconnection.
	MaxReconnectAttempts int

	LogLevel log.Level
}

// DefaultConfig returns a config suitable for a local server.
func DefaultConfig() Config {
	return Config{
		ServerURL:            "http://127.0.0.1:8080",
		ConnectTimeout:       10 * time.Second,
		RequestTimeout:       10 * time.Second,
		ReconnectInterval:    2 * time.Second,
		MaxReconnectAttempts: 5,
		LogLevel:             log.LevelInfo,
	}
}

// Client consumes the websocket notification feed and posts commands.
type Client struct {
	cfg  Config
	log  log.Log
	http *http.Client

	connMu sync.Mutex
	conn   *websocket.Conn

	handlerMu sync.RWMutex
	handlers  map[string][]Handler

	onDisconnect func(error)

	connected atomic.Bool
	closed    atomic.Bool
	done      chan struct{}
	wg        sync.WaitGroup
}

// New creates a feed client. Call Connect to start receiving.
func New(cfg Config) *Client {
	d := DefaultConfig()
	if cfg.ServerURL == "" {
		cfg.ServerURL = d.ServerURL
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = d.ConnectTimeout
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = d.RequestTimeout
	}
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = d.ReconnectInterval
	}

	return &Client{
		cfg:      cfg,
		log:      log.New(cfg.LogLevel).With(log.String("component", "feed-client")),
		http:     &http.Client{Timeout: cfg.RequestTimeout},
		handlers: make(map[string][]Handler),
		done:     make(chan struct{}),
	}
}

// OnNotification registers a handler for one notification kind, or every
// kind with KindAny. Register before Connect to avoid missing frames.
func (c *Client) OnNotification(kind string, h Handler) {
	c.handlerMu.Lock()
	c.handlers[kind] = append(c.handlers[kind], h)
	c.handlerMu.Unlock()
}

// OnDisconnect installs a callback fired when the feed drops for good,
// after reconnection attempts are exhausted.
func (c *Client) OnDisconnect(fn func(error)) {
	c.onDisconnect = fn
}

// Connect dials the feed and starts the read loop.
func (c *Client) Connect(ctx context.Context) error {
	if c.closed.Load() {
		return ErrClientClosed
	}
	if !c.connected.CompareAndSwap(false, true) {
		return ErrAlreadyConnected
	}

	conn, err := c.dial(ctx)
	if err != nil {
		c.connected.Store(false)
		return err
	}
	c.setConn(conn)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.readLoop()
	}()

	c.log.Info("feed connected", log.String("server", c.cfg.ServerURL))
	return nil
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	wsURL, err := feedURL(c.cfg.ServerURL)
	if err != nil {
		return nil, err
	}

	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()

	conn, resp, err := websocket.DefaultDialer.DialContext(dialCtx, wsURL, nil)
	if resp != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial feed %s: %w", wsURL, err)
	}
	return conn, nil
}

func feedURL(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = "/feed"
	return u.String(), nil
}

func (c *Client) setConn(conn *websocket.Conn) {
	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()
}

func (c *Client) currentConn() *websocket.Conn {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	return c.conn
}

// readLoop pumps frames into handlers, redialing on failure until the
// attempt budget runs out or the client closes.
func (c *Client) readLoop() {
	for {
		conn := c.currentConn()
		if conn == nil {
			return
		}

		_, frame, err := conn.ReadMessage()
		if err == nil {
			c.dispatch(frame)
			continue
		}
		if c.closed.Load() {
			return
		}

		c.log.Warn("feed read failed", log.Error(err))
		if !c.reconnect() {
			c.connected.Store(false)
			if c.onDisconnect != nil {
				c.onDisconnect(err)
			}
			return
		}
	}
}

func (c *Client) reconnect() bool {
	for attempt := 1; attempt <= c.cfg.MaxReconnectAttempts; attempt++ {
		select {
		case <-c.done:
			return false
		case <-time.After(c.cfg.ReconnectInterval):
		}

		c.log.Info("reconnecting to feed", log.Int("attempt", attempt))
		conn, err := c.dial(context.Background())
		if err == nil {
			c.setConn(conn)
			c.log.Info("feed reconnected")
			return true
		}
		c.log.Warn("reconnect failed", log.Int("attempt", attempt), log.Error(err))
	}
	return false
}

func (c *Client) dispatch(frame []byte) {
	var n crowd.Notification
	if err := json.Unmarshal(frame, &n); err != nil {
		c.log.Warn("undecodable feed frame", log.Error(err))
		return
	}

	c.handlerMu.RLock()
	handlers := append([]Handler(nil), c.handlers[n.EventKind]...)
	handlers = append(handlers, c.handlers[KindAny]...)
	c.handlerMu.RUnlock()

	for _, h := range handlers {
		if err := h(n); err != nil {
			c.log.Warn("notification handler error",
				log.String("kind", n.EventKind),
				log.Error(err),
			)
		}
	}
}

// Send posts one command to the server.
func (c *Client) Send(ctx context.Context, cmd server.Command) error {
	if c.closed.Load() {
		return ErrClientClosed
	}
	if err := cmd.Validate(); err != nil {
		return err
	}

	body, err := json.Marshal(cmd)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.ServerURL+"/command", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.Token != "" {
		req.Header.Set("X-Command-Token", c.cfg.Token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: %s: %s", ErrCommandRejected, resp.Status, msg)
	}
	return nil
}

// Stats fetches the server's latest snapshot.
func (c *Client) Stats(ctx context.Context) (server.ServerStats, error) {
	var st server.ServerStats
	if c.closed.Load() {
		return st, ErrClientClosed
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.ServerURL+"/stats", nil)
	if err != nil {
		return st, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return st, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return st, fmt.Errorf("stats: %s", resp.Status)
	}
	err = json.NewDecoder(resp.Body).Decode(&st)
	return st, err
}

// Close drops the connection and stops the read loop. Safe to call twice.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(c.done)

	if conn := c.currentConn(); conn != nil {
		_ = conn.Close()
	}
	c.wg.Wait()
	c.connected.Store(false)

	c.log.Info("feed client closed")
	return nil
}

// IsConnected reports whether the feed is currently attached.
func (c *Client) IsConnected() bool {
	return c.connected.Load() && !c.closed.Load()
}
