package msgsock

import (
	"time"
)

// ErrorAction defines the action to take when a read or write error occurs.
type ErrorAction int

const (
	// Disconnect closes the connection when an error occurs.
	Disconnect ErrorAction = iota
	// Continue suppresses the error and continues processing.
	Continue
)

// options holds the configuration for a connection.
type options struct {
	codec   Codec
	logger  Logger
	handler Handler

	// onError is called when a recoverable read/write error occurs.
	// Returns Disconnect to close the connection, Continue to suppress.
	onError func(error) ErrorAction

	bufferSize     int           // size of the send channel buffer
	maxMessageSize int           // maximum payload size of a single message
	idleTimeout    time.Duration // read/write deadline, 0 disables deadlines
}

// Option is a function that configures connection options.
type Option func(*options)

// CustomCodecOption returns an Option that replaces the default
// FrameCodec with an application-supplied codec.
func CustomCodecOption(codec Codec) Option {
	return func(o *options) {
		o.codec = codec
	}
}

// HandlerOption returns an Option that sets the handler messages are
// dispatched to by Run. The Server installs its routing table here;
// required for Run, unused for synchronous ReadMessage/WriteMessage.
func HandlerOption(h Handler) Option {
	return func(o *options) {
		o.handler = h
	}
}

// BufferSizeOption returns an Option that sets the size of the send
// channel buffer. A larger buffer allows more responses to be queued
// before the read loop blocks.
func BufferSizeOption(size int) Option {
	return func(o *options) {
		o.bufferSize = size
	}
}

// IdleTimeoutOption returns an Option that sets the read/write deadline
// applied per operation. Zero, the default, disables deadlines
// entirely; set one to evict slow or silent peers.
func IdleTimeoutOption(timeout time.Duration) Option {
	return func(o *options) {
		o.idleTimeout = timeout
	}
}

// MessageMaxSize returns an Option that sets the maximum payload size
// of a single message. Frames declaring a larger payload are rejected
// with ErrMessageTooLarge before the body is read.
func MessageMaxSize(size int) Option {
	return func(o *options) {
		o.maxMessageSize = size
	}
}

// OnErrorOption returns an Option that sets the error callback.
// The callback is invoked when a recoverable read/write error occurs.
// Return Disconnect to close the connection, or Continue to suppress
// the error. A closed remote always terminates the connection
// regardless of this callback.
func OnErrorOption(cb func(error) ErrorAction) Option {
	return func(o *options) {
		o.onError = cb
	}
}

// LoggerOption returns an Option that sets the logger.
// If not set, the default slog logger will be used.
func LoggerOption(logger Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}
