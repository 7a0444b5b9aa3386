package realtime

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const defaultDialTimeout = 15 * time.Second

// Transport is one logical session against the realtime speech API.
// Send may be called from any goroutine; inbound events are delivered on
// the Events channel until the connection ends, after which Err reports
// the terminal failure, if any.
type Transport interface {
	Send(ev ClientEvent) error
	Events() <-chan ServerEvent
	Err() error
	Close() error
}

// OutputDeviceSelector is implemented by transports that support routing
// output audio to a specific device. Selection is best-effort; transports
// without the capability simply do not implement it.
type OutputDeviceSelector interface {
	SetOutputDevice(deviceID string) error
}

// DialOptions configures Dial.
type DialOptions struct {
	// APIKey, when set, is sent as a bearer token.
	APIKey string

	// Logger receives transport-level diagnostics. Defaults to a
	// disabled logger.
	Logger zerolog.Logger
}

// WebSocketTransport is the socket implementation of Transport.
type WebSocketTransport struct {
	conn   *websocket.Conn
	logger zerolog.Logger

	events chan ServerEvent
	done   chan struct{}

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    atomic.Bool

	errMu sync.Mutex
	err   error
}

// Dial opens a websocket session against the given endpoint. http(s)
// schemes are rewritten to ws(s).
func Dial(ctx context.Context, endpoint string, opts DialOptions) (*WebSocketTransport, error) {
	wsURL, err := websocketURL(endpoint)
	if err != nil {
		return nil, err
	}

	headers := make(http.Header)
	if opts.APIKey != "" {
		headers.Set("Authorization", "Bearer "+opts.APIKey)
	}

	dialCtx := ctx
	var cancel context.CancelFunc
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		dialCtx, cancel = context.WithTimeout(ctx, defaultDialTimeout)
		defer cancel()
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(dialCtx, wsURL, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket dial %s (status %d): %w", wsURL, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket dial %s: %w", wsURL, err)
	}

	t := &WebSocketTransport{
		conn:   conn,
		logger: opts.Logger,
		events: make(chan ServerEvent, 256),
		done:   make(chan struct{}),
	}
	go t.readLoop()
	return t, nil
}

func websocketURL(endpoint string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid endpoint %q: %w", endpoint, err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("endpoint must use http(s) or ws(s), got %q", u.Scheme)
	}
	return u.String(), nil
}

// Send encodes and writes one outbound event. It is fire-and-forget for
// callers: write errors surface through Err after the read loop exits.
func (t *WebSocketTransport) Send(ev ClientEvent) error {
	if t.closed.Load() {
		return fmt.Errorf("transport is closed")
	}
	data, err := EncodeClientEvent(ev)
	if err != nil {
		return err
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

// Events yields decoded inbound events. The channel closes when the
// connection ends.
func (t *WebSocketTransport) Events() <-chan ServerEvent {
	return t.events
}

// Err returns the terminal transport error, if any. It blocks until the
// read loop has exited.
func (t *WebSocketTransport) Err() error {
	<-t.done
	t.errMu.Lock()
	defer t.errMu.Unlock()
	return t.err
}

// Close shuts the connection down and waits for the read loop to exit.
func (t *WebSocketTransport) Close() error {
	t.closeOnce.Do(func() {
		t.closed.Store(true)
		t.writeMu.Lock()
		_ = t.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(2*time.Second))
		t.writeMu.Unlock()
		_ = t.conn.Close()
	})
	<-t.done
	return nil
}

func (t *WebSocketTransport) setErr(err error) {
	if err == nil {
		return
	}
	t.errMu.Lock()
	defer t.errMu.Unlock()
	if t.err == nil {
		t.err = err
	}
}

func (t *WebSocketTransport) readLoop() {
	defer close(t.done)
	defer close(t.events)

	for {
		messageType, data, err := t.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) || t.closed.Load() {
				return
			}
			t.setErr(err)
			return
		}
		if messageType != websocket.TextMessage {
			t.logger.Debug().Int("message_type", messageType).Msg("ignoring non-text frame")
			continue
		}

		ev, err := DecodeServerEvent(data)
		if err != nil {
			t.setErr(err)
			return
		}
		select {
		case t.events <- ev:
		case <-time.After(5 * time.Second):
			// A stalled consumer is unrecoverable for an ordered stream.
			t.setErr(fmt.Errorf("inbound event consumer stalled"))
			return
		}
	}
}
