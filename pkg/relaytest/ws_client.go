package relaytest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/relaykit/relay/pkg/events"
	"github.com/relaykit/relay/pkg/models"
)

// WSClient is a raw protocol client for session tests: it performs the
// handshake itself and collects every event frame for polling assertions.
type WSClient struct {
	conn    *websocket.Conn
	HelloOK events.HelloOKFrame

	mu     sync.Mutex
	frames []models.Envelope

	ctx       context.Context
	cancel    context.CancelFunc
	doneCh    chan struct{}
	closeCode websocket.StatusCode
}

// WSConnect dials the endpoint, sends hello, and waits for hello_ok. The
// background reader collects event frames until the connection closes.
func WSConnect(ctx context.Context, wsURL string, afterEventID int64, subs *events.Subscription) (*WSClient, error) {
	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{})
	if err != nil {
		return nil, fmt.Errorf("WebSocket dial: %w", err)
	}

	hello, _ := json.Marshal(events.HelloFrame{
		Type:          events.FrameHello,
		AfterEventID:  afterEventID,
		Subscriptions: subs,
	})
	if err := conn.Write(ctx, websocket.MessageText, hello); err != nil {
		conn.CloseNow()
		return nil, fmt.Errorf("write hello: %w", err)
	}

	_, ack, err := conn.Read(ctx)
	if err != nil {
		conn.CloseNow()
		return nil, fmt.Errorf("read hello_ok: %w", err)
	}
	var helloOK events.HelloOKFrame
	if err := json.Unmarshal(ack, &helloOK); err != nil {
		conn.CloseNow()
		return nil, fmt.Errorf("decode hello_ok: %w", err)
	}
	if helloOK.Type != events.FrameHelloOK {
		conn.CloseNow()
		return nil, fmt.Errorf("unexpected handshake frame %q", helloOK.Type)
	}

	clientCtx, cancel := context.WithCancel(ctx)
	c := &WSClient{
		conn:    conn,
		HelloOK: helloOK,
		ctx:     clientCtx,
		cancel:  cancel,
		doneCh:  make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Events returns a snapshot of all collected envelopes.
func (c *WSClient) Events() []models.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.Envelope, len(c.frames))
	copy(out, c.frames)
	return out
}

// EventIDs returns the collected ids in arrival order.
func (c *WSClient) EventIDs() []int64 {
	envs := c.Events()
	ids := make([]int64, len(envs))
	for i, e := range envs {
		ids[i] = e.EventID
	}
	return ids
}

// WaitForEvent polls until an envelope matching the predicate arrives.
func (c *WSClient) WaitForEvent(predicate func(models.Envelope) bool, timeout time.Duration) (*models.Envelope, error) {
	deadline := time.After(timeout)
	tick := time.NewTicker(10 * time.Millisecond)
	defer tick.Stop()

	for {
		select {
		case <-deadline:
			return nil, fmt.Errorf("timeout waiting for event (collected %d events)", len(c.Events()))
		case <-tick.C:
			c.mu.Lock()
			for i := range c.frames {
				if predicate(c.frames[i]) {
					env := c.frames[i]
					c.mu.Unlock()
					return &env, nil
				}
			}
			c.mu.Unlock()
		}
	}
}

// WaitForEventName waits for an envelope with the given event name.
func (c *WSClient) WaitForEventName(name string, timeout time.Duration) (*models.Envelope, error) {
	return c.WaitForEvent(func(e models.Envelope) bool { return e.Name == name }, timeout)
}

// WaitForEventID waits until the envelope with the given id has arrived.
func (c *WSClient) WaitForEventID(id int64, timeout time.Duration) (*models.Envelope, error) {
	return c.WaitForEvent(func(e models.Envelope) bool { return e.EventID == id }, timeout)
}

// CloseCode reports the close status observed by the reader, valid after the
// connection ends.
func (c *WSClient) CloseCode() websocket.StatusCode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCode
}

// Done is closed when the reader has exited.
func (c *WSClient) Done() <-chan struct{} { return c.doneCh }

// Close tears the connection down and waits for the reader.
func (c *WSClient) Close() error {
	c.cancel()
	_ = c.conn.CloseNow()
	<-c.doneCh
	return nil
}

func (c *WSClient) readLoop() {
	defer close(c.doneCh)
	for {
		_, data, err := c.conn.Read(c.ctx)
		if err != nil {
			c.mu.Lock()
			c.closeCode = websocket.CloseStatus(err)
			c.mu.Unlock()
			return
		}

		var env models.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		if env.Type != events.FrameEvent {
			continue
		}

		c.mu.Lock()
		c.frames = append(c.frames, env)
		c.mu.Unlock()
	}
}
