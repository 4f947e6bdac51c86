// Package command tracks the lifecycle of every command issued through a
// session: its status transitions, its window into the output buffer, and
// the registry that keeps recent commands addressable by ID.
package command

import (
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"
)

// Status is the lifecycle state of a command.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	// StatusTimeoutStillRunning means the caller's timeout elapsed but the
	// command keeps running and keeps being monitored. Not terminal.
	StatusTimeoutStillRunning Status = "timeout_still_running"
	StatusBackgrounded        Status = "backgrounded"
	// StatusMaxTimeout means the hard ceiling elapsed and monitoring
	// stopped. The command may still be running on the remote host.
	StatusMaxTimeout Status = "max_timeout"
)

// Terminal reports whether the status ends monitoring.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusBackgrounded, StatusMaxTimeout:
		return true
	}
	return false
}

// State is the mutable record of one issued command. All methods are safe
// for concurrent use; the monitor goroutine and MCP handlers both touch it.
type State struct {
	mu sync.Mutex

	id       string
	command  string
	issuedAt time.Time
	timeout  time.Duration

	// expectedPrompt is the pattern whose clean match signals completion.
	// A prompt-changing command swaps it mid-flight.
	expectedPrompt string
	// newPromptPattern is non-empty when this command is expected to change
	// the session prompt for subsequent commands.
	newPromptPattern string

	// bufferStart is the line index of the echoed command; output scanning
	// begins at bufferStart+1.
	bufferStart int
	// bufferEnd is the line index where output ended, valid once terminal.
	bufferEnd int

	status Status
	done   chan struct{}
}

// NewState creates a running command record with a fresh ID.
func NewState(cmd string, issuedAt time.Time, timeout time.Duration, expectedPrompt string, bufferStart int) *State {
	return &State{
		id:             generateCommandID(),
		command:        cmd,
		issuedAt:       issuedAt,
		timeout:        timeout,
		expectedPrompt: expectedPrompt,
		bufferStart:    bufferStart,
		bufferEnd:      -1,
		status:         StatusRunning,
		done:           make(chan struct{}),
	}
}

func (s *State) ID() string             { return s.id }
func (s *State) Command() string        { return s.command }
func (s *State) IssuedAt() time.Time    { return s.issuedAt }
func (s *State) Timeout() time.Duration { return s.timeout }
func (s *State) BufferStart() int       { return s.bufferStart }

// Status returns the current lifecycle status.
func (s *State) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// IsRunning reports whether the command still occupies the session. A
// command past its timeout but not finished still blocks new commands.
func (s *State) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status == StatusRunning || s.status == StatusTimeoutStillRunning
}

// BufferEnd returns the final output line index, or -1 while running.
func (s *State) BufferEnd() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bufferEnd
}

// ExpectedPrompt returns the pattern currently treated as this command's
// completion signal.
func (s *State) ExpectedPrompt() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expectedPrompt
}

// SetNewPrompt records that the command changes the session prompt and
// switches completion detection to the new pattern.
func (s *State) SetNewPrompt(pattern string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.newPromptPattern = pattern
	s.expectedPrompt = pattern
}

// NewPrompt returns the replacement prompt pattern, if any.
func (s *State) NewPrompt() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.newPromptPattern
}

// MarkTimeoutStillRunning records that the caller's timeout elapsed.
// Only valid from running; a command already terminal is left alone.
func (s *State) MarkTimeoutStillRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusRunning {
		return false
	}
	s.status = StatusTimeoutStillRunning
	return true
}

// TransitionTerminal moves the command to a terminal status, recording
// where its output ends. The first terminal transition wins; later calls
// are no-ops returning false, which resolves the race between the monitor
// finding the prompt and a concurrent cancel.
func (s *State) TransitionTerminal(status Status, bufferEnd int) bool {
	if !status.Terminal() {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status.Terminal() {
		return false
	}
	s.status = status
	s.bufferEnd = bufferEnd
	close(s.done)
	return true
}

// Done is closed when the command reaches a terminal status.
func (s *State) Done() <-chan struct{} {
	return s.done
}

// Snapshot is a point-in-time copy safe to serialize.
type Snapshot struct {
	ID          string        `json:"id"`
	Command     string        `json:"command"`
	Status      Status        `json:"status"`
	IssuedAt    time.Time     `json:"issued_at"`
	Timeout     time.Duration `json:"timeout"`
	BufferStart int           `json:"buffer_start"`
	BufferEnd   int           `json:"buffer_end"`
}

// Snapshot returns a copy of the command's current state.
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		ID:          s.id,
		Command:     s.command,
		Status:      s.status,
		IssuedAt:    s.issuedAt,
		Timeout:     s.timeout,
		BufferStart: s.bufferStart,
		BufferEnd:   s.bufferEnd,
	}
}

// generateCommandID generates a unique command ID.
func generateCommandID() string {
	b := make([]byte, 8)
	rand.Read(b)
	return "cmd_" + hex.EncodeToString(b)
}
