// Package msgsock is a message-oriented TCP framework. Payloads travel
// behind a fixed 8-byte binary header (id + length, little-endian),
// decoded messages are dispatched to handlers registered by id, and
// each accepted connection runs its own read-dispatch-write loop.
package msgsock

import (
	"bufio"
	"context"
	"io"
	"math"
	"net"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// Errors returned by connection operations.
var (
	// ErrInvalidHandler is returned by Run when no handler is installed.
	ErrInvalidHandler = errors.New("invalid handler")
	// ErrMessageTooLarge is returned when a message exceeds the maximum allowed size.
	ErrMessageTooLarge = errors.New("message too large")
)

// ErrConnectionClosed is returned when the remote peer has ended the
// stream, or when operating on a connection that is already closed.
// It is an expected terminal condition, distinct from transport faults.
var ErrConnectionClosed = errors.New("connection closed")

// limitedReader wraps a reader and returns ErrMessageTooLarge once the
// limit is exceeded. It backstops custom codecs that do not bound their
// own reads; FrameCodec additionally rejects oversized frames from the
// declared header length before allocating.
type limitedReader struct {
	r         io.Reader
	remaining int64
}

func newLimitedReader(r io.Reader, limit int64) *limitedReader {
	return &limitedReader{r: r, remaining: limit}
}

func (l *limitedReader) Read(p []byte) (n int, err error) {
	if l.remaining <= 0 {
		return 0, ErrMessageTooLarge
	}
	if int64(len(p)) > l.remaining {
		p = p[:l.remaining]
	}
	n, err = l.r.Read(p)
	l.remaining -= int64(n)
	return
}

// reset resets the limit counter for the next message. Only remaining
// is reset because the underlying bufio.Reader keeps its own buffer
// state and continues from where it left off.
func (l *limitedReader) reset(limit int64) {
	l.remaining = limit
}

// Conn owns exactly one TCP stream and converts it into a sequence of
// complete Messages and back. Partial reads, reads spanning message
// boundaries and short writes are handled here; callers only ever see
// whole messages.
//
// A Conn is owned by the goroutines Run spawns (or, for client use, by
// the single goroutine calling ReadMessage/WriteMessage). It is never
// shared between connection loops.
type Conn struct {
	rawConn       *net.TCPConn
	reader        *bufio.Reader
	limitedReader *limitedReader
	logger        Logger

	opts options

	sendMsg chan []byte
	closed  atomic.Bool
	cancel  context.CancelFunc
}

// Default configuration values.
const (
	// defaultBufferSize is the default size of the send channel buffer.
	defaultBufferSize = 1
	// defaultMaxMessageSize is the default maximum payload size of a single message (1MB).
	defaultMaxMessageSize = 1024 * 1024
	// defaultReadBufferSize is the size of the stream read buffer.
	defaultReadBufferSize = 4096
)

// NewConn creates a connection wrapper around the given TCP connection.
// It applies the provided options and fills in defaults: FrameCodec
// framing, a 1MB message limit and no idle timeout.
func NewConn(conn *net.TCPConn, opt ...Option) (*Conn, error) {
	var opts options
	for _, o := range opt {
		o(&opts)
	}

	err := checkOptions(&opts)
	if err != nil {
		return nil, err
	}

	return newConnWithOptions(conn, opts), nil
}

// Dial connects to a msgsock server and returns a Conn ready for
// synchronous ReadMessage/WriteMessage use, or for Run with a handler
// when the peer may initiate messages.
func Dial(addr string, opt ...Option) (*Conn, error) {
	tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return nil, errors.Wrap(err, "resolve address")
	}

	raw, err := net.DialTCP("tcp", nil, tcpAddr)
	if err != nil {
		return nil, errors.Wrap(err, "dial")
	}

	conn, err := NewConn(raw, opt...)
	if err != nil {
		raw.Close()
		return nil, err
	}

	return conn, nil
}

// checkOptions validates and sets default values for connection options.
func checkOptions(opts *options) error {
	if opts.bufferSize <= 0 {
		opts.bufferSize = defaultBufferSize
	}

	if opts.maxMessageSize <= 0 {
		opts.maxMessageSize = defaultMaxMessageSize
	}

	if opts.codec == nil {
		// The wire length field is 32 bits; clamp a larger configured
		// limit rather than letting the conversion truncate it.
		maxPayload := uint64(opts.maxMessageSize)
		if maxPayload > math.MaxUint32 {
			maxPayload = math.MaxUint32
		}
		opts.codec = FrameCodec{MaxPayload: uint32(maxPayload)}
	}

	if opts.onError == nil {
		opts.onError = func(err error) ErrorAction { return Disconnect }
	}

	if opts.logger == nil {
		opts.logger = defaultLogger()
	}

	return nil
}

// newConnWithOptions creates a new Conn with the given options.
func newConnWithOptions(c *net.TCPConn, opts options) *Conn {
	reader := bufio.NewReaderSize(c, defaultReadBufferSize)
	limit := int64(HeaderSize + opts.maxMessageSize)
	cc := &Conn{
		rawConn:       c,
		reader:        reader,
		limitedReader: newLimitedReader(reader, limit),
		logger:        opts.logger,
		opts:          opts,
		sendMsg:       make(chan []byte, opts.bufferSize),
	}

	return cc
}

// Run starts the connection's read and write loops. Each decoded
// message is dispatched to the configured handler and the handler's
// response is queued for the write loop, so messages on one connection
// are processed strictly in arrival order. Run blocks until a loop
// fails or the context is canceled, then closes the connection.
//
// A handler must be installed via HandlerOption; the Server does this
// with its routing table.
func (c *Conn) Run(ctx context.Context) error {
	if c.opts.handler == nil {
		return ErrInvalidHandler
	}

	c.logger.Info("connection established", "addr", c.Addr())
	c.logger.Debug("connection options", "addr", c.Addr(),
		"buffer_size", c.opts.bufferSize,
		"max_message_size", c.opts.maxMessageSize,
		"idle_timeout", c.opts.idleTimeout)

	ctx, c.cancel = context.WithCancel(ctx)
	group, child := errgroup.WithContext(ctx)

	group.Go(func() error {
		return c.readLoop(child)
	})

	group.Go(func() error {
		return c.writeLoop(child)
	})

	err := group.Wait()
	c.closeConn()

	switch {
	case err == nil, errors.Is(err, context.Canceled), errors.Is(err, ErrConnectionClosed):
		c.logger.Info("connection closed", "addr", c.Addr())
	default:
		c.logger.Info("connection closed with error", "addr", c.Addr(), "error", err)
	}

	return err
}

// Close gracefully closes the connection.
// It cancels the loop context and closes the underlying TCP connection.
// Safe to call multiple times.
func (c *Conn) Close() error {
	if c.closed.Swap(true) {
		return nil // already closed
	}
	if c.cancel != nil {
		c.cancel()
	}
	return c.rawConn.Close()
}

// IsClosed returns true if the connection has been closed.
func (c *Conn) IsClosed() bool {
	return c.closed.Load()
}

// ErrBufferFull is returned when the send buffer is full and cannot
// accept more messages. This signals backpressure: the write loop is
// not draining fast enough. Either drop the message, or use
// WriteBlocking/WriteTimeout to wait for buffer space.
var ErrBufferFull = errors.New("send buffer full")

// ReadMessage reads the next complete message from the stream, blocking
// until the full frame (header plus declared payload) has arrived.
// Bytes belonging to a following message stay buffered for the next
// call; nothing is lost or duplicated across calls.
//
// It returns ErrConnectionClosed when the remote ends the stream,
// ErrMessageTooLarge when the frame exceeds the configured limit, and
// a wrapped transport error otherwise.
func (c *Conn) ReadMessage() (Message, error) {
	if c.closed.Load() {
		return Message{}, ErrConnectionClosed
	}

	c.setReadDeadline()
	c.limitedReader.reset(int64(HeaderSize + c.opts.maxMessageSize))

	msg, err := c.opts.codec.Decode(c.limitedReader)
	if err != nil {
		return Message{}, translateReadError(err)
	}

	return msg, nil
}

// WriteMessage encodes the message and writes the full byte sequence to
// the transport, bypassing the send queue. The write either covers the
// whole frame or fails; callers never see a short write. Intended for
// client-style synchronous use; concurrent callers must coordinate
// externally or use Write/WriteBlocking instead.
func (c *Conn) WriteMessage(msg Message) error {
	if c.closed.Load() {
		return ErrConnectionClosed
	}

	data, err := c.opts.codec.Encode(msg)
	if err != nil {
		return err
	}

	c.setWriteDeadline()
	if _, err = c.rawConn.Write(data); err != nil {
		return errors.Wrap(err, "write message")
	}

	return nil
}

// Write queues a message for sending without blocking (fire-and-forget).
//
// Returns:
//   - nil: message was successfully queued (not yet sent)
//   - ErrBufferFull: send buffer is full, message was NOT queued
//   - ErrConnectionClosed: connection is closed
//   - encoding error: if codec.Encode fails
//
// For guaranteed delivery, use WriteBlocking or WriteTimeout instead.
func (c *Conn) Write(message Message) error {
	if c.closed.Load() {
		return ErrConnectionClosed
	}

	bytes, err := c.opts.codec.Encode(message)
	if err != nil {
		return err
	}

	select {
	case c.sendMsg <- bytes:
		return nil
	default:
		return ErrBufferFull
	}
}

// WriteBlocking queues a message for sending, blocking until the
// message is queued or the context is canceled. This is the safest
// write method for guaranteed delivery.
func (c *Conn) WriteBlocking(ctx context.Context, message Message) error {
	if c.closed.Load() {
		return ErrConnectionClosed
	}

	bytes, err := c.opts.codec.Encode(message)
	if err != nil {
		return err
	}

	select {
	case c.sendMsg <- bytes:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WriteTimeout queues a message for sending with a timeout, a middle
// ground between Write (non-blocking) and WriteBlocking. Returns
// ErrBufferFull if the timeout expires before the message is queued.
func (c *Conn) WriteTimeout(message Message, timeout time.Duration) error {
	if c.closed.Load() {
		return ErrConnectionClosed
	}

	bytes, err := c.opts.codec.Encode(message)
	if err != nil {
		return err
	}

	select {
	case c.sendMsg <- bytes:
		return nil
	case <-time.After(timeout):
		return ErrBufferFull
	}
}

// Addr returns the remote address of the connection.
func (c *Conn) Addr() net.Addr {
	return c.rawConn.RemoteAddr()
}

// translateReadError maps the stream-level failure modes onto the
// connection error taxonomy. EOF at any point of a frame means the
// remote ended the stream; codec taxonomy errors pass through
// unchanged; everything else is a transport fault carrying context.
func translateReadError(err error) error {
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return ErrConnectionClosed
	case errors.Is(err, ErrMessageTooLarge), errors.Is(err, ErrMalformedHeader):
		return err
	default:
		return errors.Wrap(err, "read message")
	}
}

// readLoop reads messages, dispatches each to the handler and queues
// the response for the write loop. Returns when the context is canceled
// or reading becomes impossible. ErrConnectionClosed is always
// terminal; other read errors consult the onError callback.
func (c *Conn) readLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			message, err := c.ReadMessage()
			if err != nil {
				if errors.Is(err, ErrConnectionClosed) {
					return err
				}
				c.logger.Debug("read error", "addr", c.Addr(), "error", err)
				if c.opts.onError(err) == Disconnect {
					return err
				}
				continue
			}

			response, err := c.dispatch(message)
			if err != nil {
				c.logger.Error("handler failed", "addr", c.Addr(), "id", message.ID(), "error", err)
				return err
			}
			if err = c.WriteBlocking(ctx, response); err != nil {
				return err
			}
		}
	}
}

// dispatch invokes the handler, converting a handler panic into a
// terminal error for this connection only. Without the recover a buggy
// handler would crash the process, taking the listener and every other
// connection with it.
func (c *Conn) dispatch(msg Message) (resp Message, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("handler panic on id %d: %v", msg.ID(), r)
		}
	}()
	return c.opts.handler.Handle(msg), nil
}

// writeLoop continuously sends queued messages to the connection.
// Returns when the context is canceled or an unrecoverable error occurs.
func (c *Conn) writeLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case data := <-c.sendMsg:
			if err := c.write(data); err != nil {
				return err
			}
		}
	}
}

// write sends raw bytes to the connection with a deadline.
// If an error occurs and onError returns Disconnect, the error is
// propagated. Otherwise it is suppressed and writing continues.
func (c *Conn) write(data []byte) error {
	c.setWriteDeadline()

	_, err := c.rawConn.Write(data)

	if err != nil {
		c.logger.Debug("write error", "addr", c.Addr(), "error", err)
		if c.opts.onError(err) == Disconnect {
			return errors.Wrap(err, "write message")
		}
	}

	return nil
}

// setReadDeadline arms the read deadline when an idle timeout is
// configured. The default is no deadline: a silent peer occupies its
// connection indefinitely unless IdleTimeoutOption is set.
func (c *Conn) setReadDeadline() {
	if c.opts.idleTimeout > 0 {
		_ = c.rawConn.SetReadDeadline(time.Now().Add(c.opts.idleTimeout))
	}
}

func (c *Conn) setWriteDeadline() {
	if c.opts.idleTimeout > 0 {
		_ = c.rawConn.SetWriteDeadline(time.Now().Add(c.opts.idleTimeout))
	}
}

// closeConn marks the connection as closed and closes the underlying TCP connection.
func (c *Conn) closeConn() {
	c.closed.Store(true)
	c.rawConn.Close()
}
