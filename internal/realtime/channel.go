// Package realtime keeps the platform's notification socket open for the
// duration of an authenticated session and fans decoded frames out to
// registered handlers and the alert toast surface.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/deskwatch/deskwatch/internal/metrics"
)

// DefaultReconnectDelay is the fixed wait between a dropped socket and the next attempt.
const DefaultReconnectDelay = 3 * time.Second

const closeWait = time.Second

// Session reports whether the owning session is still authenticated and
// which token to present when dialling.
type Session interface {
	Authenticated() bool
	AccessToken() string
}

// AlertSink is the toast surface that receives every decoded alert.
type AlertSink interface {
	ShowAlert(Alert)
}

// Options configures a Channel.
type Options struct {
	URL              string
	ReconnectDelay   time.Duration
	HandshakeTimeout time.Duration
	// TokenQueryParam, when set, also sends the access token as a query parameter.
	TokenQueryParam string
	Logger          zerolog.Logger
}

// stopper is the part of *time.Timer the channel needs.
type stopper interface {
	Stop() bool
}

// afterFunc schedules reconnect attempts; tests replace it to observe scheduling.
var afterFunc = func(d time.Duration, f func()) stopper { return time.AfterFunc(d, f) }

// Channel owns the single socket of a session.
type Channel struct {
	opts     Options
	session  Session
	sink     AlertSink
	registry *Registry
	dialer   *websocket.Dialer
	log      zerolog.Logger

	mu sync.Mutex
	// epoch changes on every teardown; events from an older epoch are ignored
	epoch      uint64
	conn       *websocket.Conn
	dialing    bool
	cancelDial context.CancelFunc
	retry      stopper

	connected atomic.Bool
	newAlerts atomic.Bool
}

// New builds a Channel. sink may be nil.
func New(opts Options, session Session, sink AlertSink) *Channel {
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = DefaultReconnectDelay
	}
	return &Channel{
		opts:     opts,
		session:  session,
		sink:     sink,
		registry: NewRegistry(opts.Logger),
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: opts.HandshakeTimeout,
		},
		log: opts.Logger,
	}
}

// RegisterHandler adds h for msgType and returns its unregister func.
func (c *Channel) RegisterHandler(msgType string, h Handler) func() {
	return c.registry.RegisterHandler(msgType, h)
}

// Connected reports whether a socket is currently open.
func (c *Channel) Connected() bool { return c.connected.Load() }

// HasNewAlerts reports whether an alert arrived since the last acknowledgement.
func (c *Channel) HasNewAlerts() bool { return c.newAlerts.Load() }

// SetHasNewAlerts overrides the new-alerts flag, e.g. from persisted state.
func (c *Channel) SetHasNewAlerts(v bool) {
	c.newAlerts.Store(v)
	metrics.SetNewAlerts(v)
}

// AcknowledgeAlerts clears the new-alerts flag.
func (c *Channel) AcknowledgeAlerts() { c.SetHasNewAlerts(false) }

// SessionStarted connects the channel; it satisfies session.Observer.
func (c *Channel) SessionStarted(ctx context.Context) { c.Connect(ctx) }

// SessionEnded tears the channel down; it satisfies session.Observer.
func (c *Channel) SessionEnded() { c.Teardown() }

// Connect opens the socket unless the session is unauthenticated or a socket
// is already open or being dialled. Dial errors are not returned: they mark
// the channel disconnected and schedule a retry.
func (c *Channel) Connect(ctx context.Context) {
	c.mu.Lock()
	epoch := c.epoch
	c.mu.Unlock()
	c.dial(ctx, epoch)
}

func (c *Channel) dial(parent context.Context, epoch uint64) {
	c.mu.Lock()
	if epoch != c.epoch || c.conn != nil || c.dialing {
		c.mu.Unlock()
		return
	}
	if !c.session.Authenticated() {
		c.mu.Unlock()
		c.log.Debug().Msg("no authenticated session; not connecting")
		return
	}
	ctx, cancel := context.WithCancel(parent)
	c.dialing = true
	c.cancelDial = cancel
	c.mu.Unlock()

	target, err := c.socketURL()
	var conn *websocket.Conn
	if err == nil {
		conn, _, err = c.dialer.DialContext(ctx, target, c.header())
	}
	cancel()

	c.mu.Lock()
	if epoch != c.epoch {
		c.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	c.dialing = false
	c.cancelDial = nil
	if err != nil {
		c.mu.Unlock()
		c.log.Warn().Err(err).Str("url", c.opts.URL).Msg("realtime channel dial failed")
		c.dropped(epoch, nil)
		return
	}
	c.conn = conn
	c.setConnected(true)
	c.mu.Unlock()

	metrics.IncConnectionOpened()
	c.log.Info().Str("url", c.opts.URL).Msg("realtime channel connected")
	go c.readLoop(epoch, conn)
}

func (c *Channel) readLoop(epoch uint64, conn *websocket.Conn) {
	for {
		kind, frame, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Warn().Err(err).Msg("realtime channel closed unexpectedly")
			} else {
				c.log.Info().Err(err).Msg("realtime channel closed")
			}
			c.dropped(epoch, conn)
			return
		}
		if kind != websocket.TextMessage {
			metrics.IncFrameReceived()
			metrics.IncFrameDropped()
			c.log.Debug().Int("kind", kind).Msg("dropping non-text frame")
			continue
		}
		c.receive(frame)
	}
}

// dropped handles a terminal close or dial failure for the given epoch.
func (c *Channel) dropped(epoch uint64, conn *websocket.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if epoch != c.epoch {
		return
	}
	if conn != nil && c.conn == conn {
		c.conn = nil
		_ = conn.Close()
	}
	c.setConnected(false)
	if !c.session.Authenticated() {
		c.log.Info().Msg("session ended; realtime channel will not reconnect")
		return
	}
	if c.retry != nil {
		return
	}
	metrics.IncReconnectScheduled()
	c.log.Info().Dur("delay", c.opts.ReconnectDelay).Msg("scheduling realtime reconnect")
	c.retry = afterFunc(c.opts.ReconnectDelay, func() {
		c.mu.Lock()
		if epoch != c.epoch {
			c.mu.Unlock()
			return
		}
		c.retry = nil
		c.mu.Unlock()
		c.dial(context.Background(), epoch)
	})
}

// Teardown closes the socket, cancels any dial in flight and any pending
// reconnect. The channel can be connected again afterwards.
func (c *Channel) Teardown() {
	c.mu.Lock()
	c.epoch++
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
	if c.cancelDial != nil {
		c.cancelDial()
		c.cancelDial = nil
	}
	c.dialing = false
	conn := c.conn
	c.conn = nil
	c.setConnected(false)
	c.mu.Unlock()

	if conn != nil {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session ended")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWait))
		_ = conn.Close()
		c.log.Info().Msg("realtime channel torn down")
	}
}

// receive decodes one frame and delivers it.
func (c *Channel) receive(frame []byte) {
	metrics.IncFrameReceived()
	msg, err := decodeFrame(frame)
	if err != nil {
		metrics.IncFrameDropped()
		c.log.Debug().Err(err).Int("bytes", len(frame)).Msg("dropping malformed frame")
		return
	}
	if msg.Type == AlertMessage {
		c.handleAlert(msg.Data)
	}
	c.registry.Dispatch(msg.Type, msg.Data)
}

func (c *Channel) handleAlert(data json.RawMessage) {
	metrics.IncAlert()
	c.SetHasNewAlerts(true)
	alert, err := decodeAlert(data)
	if err != nil {
		c.log.Debug().Err(err).Msg("alert payload not understood; skipping toast")
		return
	}
	if c.sink == nil {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			c.log.Error().Interface("panic", rec).Msg("alert sink panicked")
		}
	}()
	c.sink.ShowAlert(alert)
}

func (c *Channel) setConnected(v bool) {
	c.connected.Store(v)
	metrics.SetConnected(v)
}

func (c *Channel) socketURL() (string, error) {
	if c.opts.TokenQueryParam == "" {
		return c.opts.URL, nil
	}
	u, err := url.Parse(c.opts.URL)
	if err != nil {
		return "", fmt.Errorf("parse socket url: %w", err)
	}
	q := u.Query()
	q.Set(c.opts.TokenQueryParam, c.session.AccessToken())
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *Channel) header() http.Header {
	h := http.Header{}
	if tok := c.session.AccessToken(); tok != "" {
		h.Set("Authorization", "Bearer "+tok)
	}
	return h
}
