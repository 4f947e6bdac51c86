// Package transport provides the byte-stream sessions the completion engine
// drives: an interactive shell over SSH with a PTY, and a local PTY used for
// development and tests. A session owns a background reader that forwards
// every received chunk to a callback; it never interprets the bytes.
package transport

import (
	"context"
	"errors"
	"time"
)

// ErrNotConnected is returned by write operations on a disconnected session.
var ErrNotConnected = errors.New("transport: not connected")

// ErrClosed is returned when the session has been closed.
var ErrClosed = errors.New("transport: session closed")

// ConnState is the connection state of a session.
type ConnState string

const (
	StateDisconnected ConnState = "disconnected"
	StateConnecting   ConnState = "connecting"
	StateConnected    ConnState = "connected"
	StateReconnecting ConnState = "reconnecting"
	StateClosed       ConnState = "closed"
)

// DataFunc receives raw output chunks from the session's reader.
// It is called from the reader goroutine; implementations must not block.
type DataFunc func(chunk []byte)

// commandSettle is the pause between a command body and its newline. Slow
// PTYs drop trailing newlines written in the same burst as a long command.
const commandSettle = 50 * time.Millisecond

// Session is an interactive shell stream.
type Session interface {
	// Connect establishes the stream and starts the background reader.
	Connect(ctx context.Context) error
	// Send writes raw bytes to the shell's stdin.
	Send(data []byte) error
	// SendLine writes s followed by a newline.
	SendLine(s string) error
	// SendCommand writes the command body, pauses briefly, then writes the
	// newline, so the terminal finishes echoing before execution starts.
	SendCommand(cmd string) error
	// SendInterrupt sends ETX (Ctrl+C).
	SendInterrupt() error
	// Resize changes the PTY dimensions.
	Resize(rows, cols int) error
	// State returns the current connection state.
	State() ConnState
	// User returns the username the session runs as.
	User() string
	// Host returns the host the session targets.
	Host() string
	// Close tears the stream down. Idempotent.
	Close() error
}
