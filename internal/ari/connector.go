package ari

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/sweeney/ari-calllog/internal/backoff"
	"github.com/sweeney/ari-calllog/internal/metrics"
)

// Conn is one open event feed connection.
type Conn interface {
	ReadMessage() (messageType int, data []byte, err error)
	Close() error
}

// Dialer opens event feed connections.
type Dialer interface {
	Dial(ctx context.Context, url string, header http.Header) (Conn, error)
}

// WebsocketDialer dials the feed with gorilla/websocket.
type WebsocketDialer struct {
	Dialer *websocket.Dialer
}

func (d WebsocketDialer) Dial(ctx context.Context, u string, header http.Header) (Conn, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		}
	}
	conn, resp, err := dialer.DialContext(ctx, u, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket handshake: %s: %w", resp.Status, err)
		}
		return nil, fmt.Errorf("websocket dial: %w", err)
	}
	return conn, nil
}

// SubscriptionURL builds the event feed URL subscribing app. http and https
// URLs are converted to ws and wss.
func SubscriptionURL(eventsURL, app string) (string, error) {
	u, err := url.Parse(eventsURL)
	if err != nil {
		return "", fmt.Errorf("parsing events url: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("events url scheme must be ws or wss, got %q", u.Scheme)
	}
	if u.Host == "" {
		return "", errors.New("events url has no host")
	}
	q := u.Query()
	q.Set("app", app)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// RESTURL derives the REST base URL from the events URL by switching the
// scheme to http(s) and dropping the trailing /events segment.
func RESTURL(eventsURL string) (string, error) {
	u, err := url.Parse(eventsURL)
	if err != nil {
		return "", fmt.Errorf("parsing events url: %w", err)
	}
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	}
	u.Path = strings.TrimSuffix(strings.TrimSuffix(u.Path, "/"), "/events")
	u.RawQuery = ""
	return u.String(), nil
}

// BasicAuth returns the handshake header carrying the credentials.
func BasicAuth(username, password string) http.Header {
	token := base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
	h := http.Header{}
	h.Set("Authorization", "Basic "+token)
	return h
}

// Connector holds one subscription to the event feed at a time and
// reconnects with backoff whenever it drops.
type Connector struct {
	url    string
	header http.Header
	dialer Dialer
	policy backoff.Policy
	sleep  backoff.Sleeper
	log    *zap.Logger
	stats  *metrics.Metrics
}

// ConnectorOption configures a Connector.
type ConnectorOption func(*Connector)

// WithDialer replaces the websocket dialer.
func WithDialer(d Dialer) ConnectorOption {
	return func(c *Connector) { c.dialer = d }
}

// WithBackoff sets the reconnect schedule.
func WithBackoff(p backoff.Policy) ConnectorOption {
	return func(c *Connector) { c.policy = p }
}

// WithSleeper replaces the wait between reconnects. Tests use it to avoid
// real sleeps.
func WithSleeper(s backoff.Sleeper) ConnectorOption {
	return func(c *Connector) { c.sleep = s }
}

// WithLogger sets the connector's logger.
func WithLogger(l *zap.Logger) ConnectorOption {
	return func(c *Connector) { c.log = l }
}

// WithMetrics sets the collectors the connector reports to.
func WithMetrics(m *metrics.Metrics) ConnectorOption {
	return func(c *Connector) { c.stats = m }
}

// NewConnector creates a connector for the given subscription URL (see
// SubscriptionURL) and handshake header.
func NewConnector(subscriptionURL string, header http.Header, opts ...ConnectorOption) *Connector {
	c := &Connector{
		url:    subscriptionURL,
		header: header,
		dialer: WebsocketDialer{},
		policy: backoff.Default,
		sleep:  backoff.Sleep,
		log:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run connects and delivers every decoded event to handle, in the order
// received, from the calling goroutine. It reconnects indefinitely and
// returns only once ctx is cancelled.
func (c *Connector) Run(ctx context.Context, handle func(Event)) error {
	attempt := 0
	for {
		connected, err := c.session(ctx, handle)
		if ctx.Err() != nil {
			return nil
		}
		if connected {
			attempt = 0
		}

		delay := c.policy.Delay(attempt)
		attempt++
		c.log.Warn("event feed disconnected, reconnecting",
			zap.Error(err),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay))

		if !c.sleep(ctx, delay) {
			return nil
		}
		c.stats.Reconnected()
	}
}

// session runs one connection until it fails. connected reports whether the
// handshake succeeded.
func (c *Connector) session(ctx context.Context, handle func(Event)) (connected bool, err error) {
	c.log.Info("connecting to event feed", zap.String("url", redact(c.url)))

	conn, err := c.dialer.Dial(ctx, c.url, c.header)
	if err != nil {
		return false, err
	}
	defer conn.Close()

	// Unblock ReadMessage when the process shuts down.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	c.log.Info("subscribed to event feed")

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return true, fmt.Errorf("reading event feed: %w", err)
		}

		evt, err := Decode(data)
		if err != nil {
			c.log.Warn("skipping malformed frame", zap.Error(err), zap.Int("bytes", len(data)))
			c.stats.Dropped(metrics.ReasonMalformed)
			continue
		}
		handle(evt)
	}
}

// redact strips credentials from a URL before logging it.
func redact(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	if q.Has("api_key") {
		q.Set("api_key", "REDACTED")
		u.RawQuery = q.Encode()
	}
	u.User = nil
	return u.String()
}
