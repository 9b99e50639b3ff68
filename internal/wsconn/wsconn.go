// Package wsconn implements the persistent, bidirectional connection to
// the remote key-value service over a WebSocket, multiplexing request/
// response pairs by id and delivering out-of-band notifications on a
// separate channel. It satisfies remotestore.Transport.
package wsconn

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/hpkv-io/multiplayer-go/internal/idgen"
	"github.com/hpkv-io/multiplayer-go/internal/metrics"
	"github.com/hpkv-io/multiplayer-go/internal/remotestore"
	"github.com/hpkv-io/multiplayer-go/internal/util/timefmt"
)

// frameType discriminates the small JSON protocol spoken on the socket.
type frameType string

const (
	frameGet       frameType = "get"
	frameSet       frameType = "set"
	frameDelete    frameType = "delete"
	frameRange     frameType = "range"
	frameOK        frameType = "ok"
	frameError     frameType = "error"
	frameNotify    frameType = "notify"
	frameHeartbeat frameType = "heartbeat"
)

// frame is the wire envelope for every message exchanged over the
// socket: requests carry a RequestID that the matching response or
// error echoes back; notify/heartbeat frames have none.
type frame struct {
	Type      frameType         `json:"type"`
	RequestID string            `json:"requestId,omitempty"`
	Key       string            `json:"key,omitempty"`
	Value     json.RawMessage   `json:"value,omitempty"`
	Start     string            `json:"start,omitempty"`
	End       string            `json:"end,omitempty"`
	Limit     int               `json:"limit,omitempty"`
	Items     map[string]string `json:"items,omitempty"` // base64-free: values are raw JSON text
	Error     string            `json:"error,omitempty"`
	Timestamp string            `json:"timestamp,omitempty"`
}

const heartbeatIdleTimeout = 5 * time.Second

// Conn is a remotestore.Transport bound to one namespace's token. It is
// reusable across reconnects: Connect may be called again after
// Disconnect or after the link drops.
type Conn struct {
	url       string
	authToken string

	mu           sync.Mutex
	ws           *websocket.Conn
	pending      map[string]chan frame
	lastSendTime time.Time

	notifications chan remotestore.Notification
	linkChange    func(bool)

	readLoopDone chan struct{}
}

// New returns a Conn that will dial url with authToken as a bearer
// token on connect.
func New(url, authToken string) *Conn {
	return &Conn{
		url:           url,
		authToken:     authToken,
		pending:       make(map[string]chan frame),
		notifications: make(chan remotestore.Notification, 64),
	}
}

// Connect dials the socket once (no internal retry; RemoteStore owns
// retry/backoff) and starts the read and heartbeat loops.
func (c *Conn) Connect(ctx context.Context) error {
	ws, _, err := websocket.Dial(ctx, c.url, &websocket.DialOptions{
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
		HTTPHeader: http.Header{"Authorization": {"Bearer " + c.authToken}},
	})
	if err != nil {
		return fmt.Errorf("wsconn: dial: %w", err)
	}

	c.mu.Lock()
	c.ws = ws
	c.pending = make(map[string]chan frame)
	c.readLoopDone = make(chan struct{})
	c.mu.Unlock()

	go c.readLoop(c.readLoopDone)
	go c.heartbeatLoop(c.readLoopDone)
	return nil
}

// Disconnect closes the socket cleanly. Safe to call when not connected.
func (c *Conn) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	ws := c.ws
	c.ws = nil
	c.mu.Unlock()
	if ws == nil {
		return nil
	}
	return ws.Close(websocket.StatusNormalClosure, "disconnect")
}

// OnConnectionChange registers the callback RemoteStore uses to learn
// about link drops that happen outside an explicit Disconnect call.
func (c *Conn) OnConnectionChange(f func(linkUp bool)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.linkChange = f
}

func (c *Conn) send(ctx context.Context, f frame) error {
	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()
	if ws == nil {
		return fmt.Errorf("wsconn: not connected")
	}

	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("wsconn: marshal frame: %w", err)
	}

	// Hold the mutex for the whole write: concurrent writers would
	// otherwise interleave and corrupt the frame boundary.
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ws == nil {
		return fmt.Errorf("wsconn: not connected")
	}
	if err := c.ws.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("wsconn: write: %w", err)
	}
	c.lastSendTime = time.Now()
	metrics.WSMessagesSentTotal.Inc()
	return nil
}

// request sends f and waits for the matching response frame.
func (c *Conn) request(ctx context.Context, f frame) (frame, error) {
	f.RequestID = idgen.NewMutationID()
	reply := make(chan frame, 1)

	c.mu.Lock()
	c.pending[f.RequestID] = reply
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, f.RequestID)
		c.mu.Unlock()
	}()

	if err := c.send(ctx, f); err != nil {
		return frame{}, err
	}

	select {
	case <-ctx.Done():
		return frame{}, ctx.Err()
	case resp := <-reply:
		if resp.Type == frameError {
			return frame{}, fmt.Errorf("wsconn: remote error: %s", resp.Error)
		}
		return resp, nil
	}
}

// Get fetches the raw stored value for key, or nil if absent.
func (c *Conn) Get(ctx context.Context, key string) ([]byte, error) {
	resp, err := c.request(ctx, frame{Type: frameGet, Key: key})
	if err != nil {
		return nil, err
	}
	if len(resp.Value) == 0 {
		return nil, nil
	}
	return []byte(resp.Value), nil
}

// Set stores value (already envelope-wrapped) at key.
func (c *Conn) Set(ctx context.Context, key string, value []byte) error {
	_, err := c.request(ctx, frame{Type: frameSet, Key: key, Value: json.RawMessage(value)})
	return err
}

// Delete removes key.
func (c *Conn) Delete(ctx context.Context, key string) error {
	_, err := c.request(ctx, frame{Type: frameDelete, Key: key})
	return err
}

// Range scans [start, end) up to limit entries.
func (c *Conn) Range(ctx context.Context, start, end string, limit int) (map[string][]byte, error) {
	resp, err := c.request(ctx, frame{Type: frameRange, Start: start, End: end, Limit: limit})
	if err != nil {
		return nil, err
	}
	out := make(map[string][]byte, len(resp.Items))
	for k, v := range resp.Items {
		out[k] = []byte(v)
	}
	return out, nil
}

// Notifications returns the channel remote change notifications are
// delivered on.
func (c *Conn) Notifications() <-chan remotestore.Notification {
	return c.notifications
}

func (c *Conn) readLoop(done chan struct{}) {
	defer func() {
		c.mu.Lock()
		wasConnected := c.ws != nil
		c.ws = nil
		linkChange := c.linkChange
		c.mu.Unlock()
		if wasConnected && linkChange != nil {
			linkChange(false)
		}
	}()

	for {
		c.mu.Lock()
		ws := c.ws
		c.mu.Unlock()
		if ws == nil {
			return
		}

		_, data, err := ws.Read(context.Background())
		if err != nil {
			return
		}
		metrics.WSMessagesReceivedTotal.Inc()

		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			continue
		}

		switch f.Type {
		case frameNotify:
			ts, _ := time.Parse(timefmt.ISO8601, f.Timestamp)
			var value []byte
			if len(f.Value) > 0 {
				value = []byte(f.Value)
			}
			select {
			case c.notifications <- remotestore.Notification{Key: f.Key, Value: value, Timestamp: ts}:
			case <-done:
				return
			}
		case frameHeartbeat:
			// No response needed; receipt alone keeps the idle timer honest.
		default:
			if f.RequestID == "" {
				continue
			}
			c.mu.Lock()
			reply, ok := c.pending[f.RequestID]
			c.mu.Unlock()
			if ok {
				select {
				case reply <- f:
				default:
				}
			}
		}
	}
}

func (c *Conn) heartbeatLoop(done chan struct{}) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			c.mu.Lock()
			idle := time.Since(c.lastSendTime)
			c.mu.Unlock()
			if idle < heartbeatIdleTimeout {
				continue
			}
			if err := c.send(context.Background(), frame{Type: frameHeartbeat}); err != nil {
				return
			}
		}
	}
}
