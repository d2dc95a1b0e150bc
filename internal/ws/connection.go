package ws

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/escra-platform/portal/internal/model"
	"github.com/gorilla/websocket"
)

// ReadyState is the lifecycle state of a Connection.
type ReadyState int

const (
	StateConnecting ReadyState = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s ReadyState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Frame is an inbound message. Seq starts at 1 and grows by one per frame
// of a Connection.
type Frame struct {
	Seq        uint64
	Data       []byte
	ReceivedAt time.Time
}

// Recorder receives a copy of every frame. logger.FrameRecorder implements it.
type Recorder interface {
	RecordInbound(data []byte) error
	RecordOutbound(data []byte) error
}

// ConnectionOptions configures a Connection.
type ConnectionOptions struct {
	Dialer    *websocket.Dialer
	Header    http.Header
	OnMessage func(Frame)
	Recorder  Recorder
}

// Connection owns at most one live websocket. It keeps only the most
// recent inbound frame and never reconnects on its own.
type Connection struct {
	opts ConnectionOptions

	mu       sync.Mutex
	url      string
	state    ReadyState
	conn     *websocket.Conn
	gen      uint64
	lastErr  error
	last     *Frame
	seq      uint64
	done     chan struct{}
	finished bool

	writeMu sync.Mutex
}

// NewConnection creates a Connection in the Closed state.
func NewConnection(opts ConnectionOptions) *Connection {
	if opts.Dialer == nil {
		opts.Dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		}
	}
	done := make(chan struct{})
	close(done)
	return &Connection{
		opts:     opts,
		state:    StateClosed,
		done:     done,
		finished: true,
	}
}

// Connect opens a connection to url. Connecting to the URL already in use
// is a no-op; connecting to a different URL closes the current connection
// first. A failed dial is recorded as LastError and leaves the Connection
// Closed.
func (c *Connection) Connect(ctx context.Context, url string) error {
	c.mu.Lock()
	if c.url == url && (c.state == StateConnecting || c.state == StateOpen) {
		c.mu.Unlock()
		return nil
	}
	prev := c.detachLocked()

	c.gen++
	gen := c.gen
	c.url = url
	c.state = StateConnecting
	c.lastErr = nil
	c.last = nil
	c.seq = 0
	c.done = make(chan struct{})
	c.finished = false
	c.mu.Unlock()

	c.closeConn(prev)

	conn, resp, err := c.opts.Dialer.DialContext(ctx, url, c.opts.Header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	c.mu.Lock()
	if gen != c.gen {
		// Closed or re-targeted while dialing.
		c.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return model.ErrInactive
	}
	if err != nil {
		c.lastErr = model.NewConnectionError(model.ConnOpenFailed, err)
		c.state = StateClosed
		c.finishLocked()
		lastErr := c.lastErr
		c.mu.Unlock()
		return lastErr
	}
	c.conn = conn
	c.state = StateOpen
	c.mu.Unlock()

	go c.readLoop(conn, gen)
	return nil
}

func (c *Connection) readLoop(conn *websocket.Conn, gen uint64) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.dropped(conn, gen, err)
			return
		}
		if !c.deliver(gen, data) {
			return
		}
	}
}

func (c *Connection) deliver(gen uint64, data []byte) bool {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return false
	}
	c.seq++
	frame := Frame{Seq: c.seq, Data: data, ReceivedAt: time.Now()}
	c.last = &frame
	onMessage := c.opts.OnMessage
	c.mu.Unlock()

	if c.opts.Recorder != nil {
		if err := c.opts.Recorder.RecordInbound(data); err != nil {
			log.Printf("Failed to record inbound frame: %v", err)
		}
	}
	if onMessage != nil {
		onMessage(frame)
	}
	return true
}

func (c *Connection) dropped(conn *websocket.Conn, gen uint64, err error) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		c.lastErr = model.NewConnectionError(model.ConnUnexpectedClose, err)
	}
	c.conn = nil
	c.state = StateClosed
	c.finishLocked()
	c.mu.Unlock()

	conn.Close()
}

// Send writes one text frame. It fails with ErrNotConnected unless the
// Connection is Open. Nothing is queued.
func (c *Connection) Send(data []byte) error {
	c.mu.Lock()
	if c.state != StateOpen || c.conn == nil {
		c.mu.Unlock()
		return model.ErrNotConnected
	}
	conn := c.conn
	c.mu.Unlock()

	c.writeMu.Lock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	err := conn.WriteMessage(websocket.TextMessage, data)
	c.writeMu.Unlock()
	if err != nil {
		return model.NewConnectionError(model.ConnNotConnected, err)
	}

	if c.opts.Recorder != nil {
		if err := c.opts.Recorder.RecordOutbound(data); err != nil {
			log.Printf("Failed to record outbound frame: %v", err)
		}
	}
	return nil
}

// SendJSON marshals v and sends it as one frame.
func (c *Connection) SendJSON(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.Send(data)
}

// Close closes the connection once. Later calls are no-ops. A dial or read
// still in flight is abandoned.
func (c *Connection) Close() error {
	c.mu.Lock()
	if c.state == StateClosed || c.state == StateClosing {
		c.mu.Unlock()
		return nil
	}
	c.gen++
	conn := c.conn
	c.conn = nil
	c.state = StateClosing
	c.mu.Unlock()

	c.closeConn(conn)

	c.mu.Lock()
	c.state = StateClosed
	c.finishLocked()
	c.mu.Unlock()
	return nil
}

// detachLocked abandons the current activation and returns its socket.
func (c *Connection) detachLocked() *websocket.Conn {
	conn := c.conn
	c.conn = nil
	if c.state != StateClosed {
		c.gen++
		c.state = StateClosed
		c.finishLocked()
	}
	return conn
}

func (c *Connection) closeConn(conn *websocket.Conn) {
	if conn == nil {
		return
	}
	c.writeMu.Lock()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	// The peer may already be gone.
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	c.writeMu.Unlock()
	conn.Close()
}

func (c *Connection) finishLocked() {
	if !c.finished {
		c.finished = true
		close(c.done)
	}
}

// State returns the current ready state.
func (c *Connection) State() ReadyState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// URL returns the URL of the current or last activation.
func (c *Connection) URL() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.url
}

// LastError returns the error that ended the last activation, if any.
func (c *Connection) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// LastMessage returns the most recent inbound frame.
func (c *Connection) LastMessage() (Frame, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.last == nil {
		return Frame{}, false
	}
	return *c.last, true
}

// Done is closed when the current activation ends.
func (c *Connection) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}
