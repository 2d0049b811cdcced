package transport

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/callrelay/internal/protocol"
)

var ErrClosed = errors.New("connection closed")

// Conn is an outbound-capable connection to one leg of a call.
type Conn interface {
	Send(v any) error
	Open() bool
	Close() error
}

// Stream is a Conn that also delivers inbound text frames. Frames is closed
// once the peer goes away.
type Stream interface {
	Conn
	Frames() <-chan []byte
}

// Send writes v to c when c is present and open. Sending to a missing or
// closed connection is a silent no-op.
func Send(c Conn, v any) error {
	if c == nil || !c.Open() {
		return nil
	}
	err := c.Send(v)
	if errors.Is(err, ErrClosed) {
		return nil
	}
	return err
}

type SocketOptions struct {
	WriteTimeout time.Duration
	ReadLimit    int64
	FrameBuffer  int
}

func (o SocketOptions) withDefaults() SocketOptions {
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.ReadLimit <= 0 {
		o.ReadLimit = 2 << 20
	}
	if o.FrameBuffer <= 0 {
		o.FrameBuffer = 256
	}
	return o
}

// Socket adapts a gorilla websocket to Stream. Writes are serialized; reads
// are pumped by a single goroutine into the frames channel.
type Socket struct {
	conn   *websocket.Conn
	opts   SocketOptions
	frames chan []byte
	done   chan struct{}

	writeMu   sync.Mutex
	closed    atomic.Bool
	closeOnce sync.Once
}

// NewSocket wraps conn and starts its read pump.
func NewSocket(conn *websocket.Conn, opts SocketOptions) *Socket {
	opts = opts.withDefaults()
	conn.SetReadLimit(opts.ReadLimit)
	s := &Socket{conn: conn, opts: opts, frames: make(chan []byte, opts.FrameBuffer), done: make(chan struct{})}
	go s.readLoop()
	return s
}

func (s *Socket) Frames() <-chan []byte {
	return s.frames
}

func (s *Socket) Open() bool {
	return s != nil && !s.closed.Load()
}

func (s *Socket) Send(v any) error {
	if !s.Open() {
		return ErrClosed
	}
	data, err := protocol.Encode(v)
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.closed.Load() {
		return ErrClosed
	}
	_ = s.conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		go s.Close()
		return err
	}
	return nil
}

func (s *Socket) Close() error {
	if s == nil {
		return nil
	}
	var retErr error
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		close(s.done)
		s.writeMu.Lock()
		deadline := time.Now().Add(time.Second)
		_ = s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		s.writeMu.Unlock()
		retErr = s.conn.Close()
	})
	return retErr
}

func (s *Socket) readLoop() {
	defer close(s.frames)
	defer s.closed.Store(true)
	for {
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		select {
		case s.frames <- data:
		case <-s.done:
			return
		}
	}
}
