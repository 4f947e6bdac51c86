package transport

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"os/user"
	"sync"

	"github.com/creack/pty"

	"github.com/acolita/remote-shell-mcp/internal/adapters/realclock"
	"github.com/acolita/remote-shell-mcp/internal/ports"
)

// LocalOptions configures a local PTY session.
type LocalOptions struct {
	Shell      string // defaults to $SHELL, then /bin/bash
	TermWidth  int
	TermHeight int
	OnData     DataFunc
	Clock      ports.Clock
}

// LocalSession runs an interactive shell on a local PTY. It exposes the same
// surface as SSHSession so the engine can drive either; mostly useful for
// development and manual testing against localhost.
type LocalSession struct {
	opts LocalOptions

	mu    sync.Mutex
	cmd   *exec.Cmd
	ptmx  *os.File
	state ConnState

	stopReader chan struct{}

	clock ports.Clock
	log   *slog.Logger
}

// NewLocalSession creates a local PTY session. It does not start the shell.
func NewLocalSession(opts LocalOptions) *LocalSession {
	if opts.Shell == "" {
		opts.Shell = os.Getenv("SHELL")
	}
	if opts.Shell == "" {
		opts.Shell = "/bin/bash"
	}
	if opts.TermWidth == 0 {
		opts.TermWidth = 120
	}
	if opts.TermHeight == 0 {
		opts.TermHeight = 40
	}
	clk := opts.Clock
	if clk == nil {
		clk = realclock.New()
	}
	return &LocalSession{
		opts:  opts,
		state: StateDisconnected,
		clock: clk,
		log:   slog.With(slog.String("component", "transport"), slog.String("kind", "local")),
	}
}

// Connect starts the shell on a PTY and begins reading output.
func (s *LocalSession) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateConnected:
		return nil
	case StateClosed:
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	cmd := exec.Command(s.opts.Shell, "-i")
	cmd.Env = append(os.Environ(), "TERM=xterm-256color")

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{
		Rows: uint16(s.opts.TermHeight),
		Cols: uint16(s.opts.TermWidth),
	})
	if err != nil {
		return fmt.Errorf("start pty: %w", err)
	}

	s.cmd = cmd
	s.ptmx = ptmx
	s.state = StateConnected
	s.stopReader = make(chan struct{})
	go s.readLoop(ptmx, s.stopReader)

	s.log.Info("local shell started", slog.String("shell", s.opts.Shell))
	return nil
}

func (s *LocalSession) readLoop(ptmx *os.File, stop <-chan struct{}) {
	buf := make([]byte, 4096)
	for {
		n, err := ptmx.Read(buf)
		if n > 0 && s.opts.OnData != nil {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			s.opts.OnData(chunk)
		}
		if err != nil {
			select {
			case <-stop:
			default:
				// The shell exited; no reconnect story for a local PTY.
				s.mu.Lock()
				s.state = StateDisconnected
				s.mu.Unlock()
				s.log.Warn("local shell exited", slog.String("error", err.Error()))
			}
			return
		}
	}
}

// Send writes raw bytes to the shell.
func (s *LocalSession) Send(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateConnected || s.ptmx == nil {
		return ErrNotConnected
	}
	_, err := s.ptmx.Write(data)
	if err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

// SendLine writes s followed by a newline.
func (s *LocalSession) SendLine(line string) error {
	return s.Send([]byte(line + "\n"))
}

// SendCommand writes the command body, settles, then the newline.
func (s *LocalSession) SendCommand(cmd string) error {
	if err := s.Send([]byte(cmd)); err != nil {
		return err
	}
	s.clock.Sleep(commandSettle)
	return s.Send([]byte("\n"))
}

// SendInterrupt sends ETX (Ctrl+C).
func (s *LocalSession) SendInterrupt() error {
	return s.Send([]byte{0x03})
}

// Resize changes the PTY dimensions.
func (s *LocalSession) Resize(rows, cols int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ptmx == nil {
		return ErrNotConnected
	}
	return pty.Setsize(s.ptmx, &pty.Winsize{Rows: uint16(rows), Cols: uint16(cols)})
}

// State returns the current connection state.
func (s *LocalSession) State() ConnState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// User returns the current OS user.
func (s *LocalSession) User() string {
	if u, err := user.Current(); err == nil {
		return u.Username
	}
	return os.Getenv("USER")
}

// Host returns "localhost".
func (s *LocalSession) Host() string { return "localhost" }

// Close stops the reader and terminates the shell.
func (s *LocalSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		return nil
	}
	s.state = StateClosed

	if s.stopReader != nil {
		close(s.stopReader)
		s.stopReader = nil
	}
	var err error
	if s.ptmx != nil {
		err = s.ptmx.Close()
		s.ptmx = nil
	}
	if s.cmd != nil && s.cmd.Process != nil {
		s.cmd.Process.Kill()
		go s.cmd.Wait()
		s.cmd = nil
	}
	return err
}

var _ Session = (*LocalSession)(nil)
