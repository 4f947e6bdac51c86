// Package faketransport provides a scripted transport.Session for testing
// the engine without a network or PTY.
package faketransport

import (
	"bytes"
	"context"
	"strings"
	"sync"

	"github.com/acolita/remote-shell-mcp/internal/transport"
)

// Session is a fake shell stream. Tests feed output with Emit and inspect
// what the engine wrote with Written. Optional reactions map sent input to
// emitted output, so scripted exchanges (command echo, password prompt)
// play out without goroutine choreography.
type Session struct {
	mu          sync.Mutex
	state       transport.ConnState
	written     bytes.Buffer
	interrupts  int
	onData      transport.DataFunc
	reactions   []reaction
	user, host  string
	failConnect error
}

type reaction struct {
	onInput string // substring of sent data that triggers the reaction
	emit    string
	used    bool
}

// New creates a fake session delivering output to onData.
func New(user, host string, onData transport.DataFunc) *Session {
	return &Session{
		state:  transport.StateDisconnected,
		onData: onData,
		user:   user,
		host:   host,
	}
}

// FailConnect makes Connect return err.
func (s *Session) FailConnect(err error) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failConnect = err
	return s
}

// React registers a one-shot reaction: when sent data contains onInput,
// emit is delivered through the data callback.
func (s *Session) React(onInput, emit string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reactions = append(s.reactions, reaction{onInput: onInput, emit: emit})
	return s
}

// Emit delivers output to the engine as if the shell printed it.
func (s *Session) Emit(data string) {
	if s.onData != nil {
		s.onData([]byte(data))
	}
}

// Connect marks the session connected.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failConnect != nil {
		return s.failConnect
	}
	s.state = transport.StateConnected
	return nil
}

// Send records the data and fires any matching reaction.
func (s *Session) Send(data []byte) error {
	s.mu.Lock()
	if s.state != transport.StateConnected {
		s.mu.Unlock()
		return transport.ErrNotConnected
	}
	s.written.Write(data)
	var emits []string
	for i := range s.reactions {
		r := &s.reactions[i]
		if !r.used && strings.Contains(string(data), r.onInput) {
			r.used = true
			emits = append(emits, r.emit)
		}
	}
	s.mu.Unlock()

	for _, e := range emits {
		s.Emit(e)
	}
	return nil
}

// SendLine sends data plus a newline.
func (s *Session) SendLine(line string) error {
	return s.Send([]byte(line + "\n"))
}

// SendCommand sends the command and a newline with no settle delay.
func (s *Session) SendCommand(cmd string) error {
	if err := s.Send([]byte(cmd)); err != nil {
		return err
	}
	return s.Send([]byte("\n"))
}

// SendInterrupt records the interrupt and sends ETX.
func (s *Session) SendInterrupt() error {
	s.mu.Lock()
	s.interrupts++
	s.mu.Unlock()
	return s.Send([]byte{0x03})
}

// Resize is a no-op.
func (s *Session) Resize(rows, cols int) error { return nil }

// State returns the connection state.
func (s *Session) State() transport.ConnState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SetState overrides the connection state, for reconnect scenarios.
func (s *Session) SetState(st transport.ConnState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = st
}

// User returns the configured user.
func (s *Session) User() string { return s.user }

// Host returns the configured host.
func (s *Session) Host() string { return s.host }

// Close marks the session closed.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = transport.StateClosed
	return nil
}

// Written returns everything the engine sent.
func (s *Session) Written() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.written.String()
}

// Interrupts returns how many times SendInterrupt was called.
func (s *Session) Interrupts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interrupts
}

var _ transport.Session = (*Session)(nil)
