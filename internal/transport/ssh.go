package transport

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/acolita/remote-shell-mcp/internal/adapters/realclock"
	"github.com/acolita/remote-shell-mcp/internal/adapters/realsshdialer"
	"github.com/acolita/remote-shell-mcp/internal/ports"
)

// SSHOptions configures an SSH shell session.
type SSHOptions struct {
	Host string
	Port int
	User string

	Auth     AuthConfig
	Insecure bool // skip host key verification

	ConnectTimeout    time.Duration
	KeepaliveInterval time.Duration
	ReconnectAttempts int
	// ReadTimeout bounds how long the reader waits for output before
	// re-checking the stop signal.
	ReadTimeout time.Duration

	TermWidth  int
	TermHeight int

	OnData DataFunc

	Clock  ports.Clock
	Dialer ports.SSHDialer
}

// SSHSession is an interactive shell over an SSH PTY. A background reader
// forwards output to OnData and transparently reconnects on stream errors.
type SSHSession struct {
	opts   SSHOptions
	config *ssh.ClientConfig
	addr   string

	mu      sync.Mutex
	conn    *ssh.Client
	session *ssh.Session
	stdin   io.WriteCloser
	stdout  io.Reader
	state   ConnState

	stopReader    chan struct{}
	stopKeepalive chan struct{}

	clock  ports.Clock
	dialer ports.SSHDialer
	log    *slog.Logger
}

// NewSSHSession creates an SSH session. It does not connect.
func NewSSHSession(opts SSHOptions) (*SSHSession, error) {
	if opts.Host == "" {
		return nil, fmt.Errorf("host is required")
	}
	if opts.User == "" {
		return nil, fmt.Errorf("user is required")
	}
	if opts.Port == 0 {
		opts.Port = 22
	}
	if opts.ConnectTimeout == 0 {
		opts.ConnectTimeout = 10 * time.Second
	}
	if opts.KeepaliveInterval == 0 {
		opts.KeepaliveInterval = 30 * time.Second
	}
	if opts.ReconnectAttempts == 0 {
		opts.ReconnectAttempts = 3
	}
	if opts.ReadTimeout == 0 {
		opts.ReadTimeout = 500 * time.Millisecond
	}
	if opts.TermWidth == 0 {
		opts.TermWidth = 120
	}
	if opts.TermHeight == 0 {
		opts.TermHeight = 40
	}

	methods, err := BuildAuthMethods(opts.Auth)
	if err != nil {
		return nil, fmt.Errorf("build auth methods: %w", err)
	}

	var hostKey ssh.HostKeyCallback
	if opts.Insecure {
		hostKey = ssh.InsecureIgnoreHostKey()
	} else {
		hostKey, err = BuildHostKeyCallback("")
		if err != nil {
			return nil, fmt.Errorf("host key callback: %w", err)
		}
	}

	clk := opts.Clock
	if clk == nil {
		clk = realclock.New()
	}
	dial := opts.Dialer
	if dial == nil {
		dial = realsshdialer.New()
	}

	return &SSHSession{
		opts: opts,
		config: &ssh.ClientConfig{
			User:            opts.User,
			Auth:            methods,
			HostKeyCallback: hostKey,
			Timeout:         opts.ConnectTimeout,
		},
		addr:   fmt.Sprintf("%s:%d", opts.Host, opts.Port),
		state:  StateDisconnected,
		clock:  clk,
		dialer: dial,
		log: slog.With(
			slog.String("component", "transport"),
			slog.String("host", opts.Host),
		),
	}, nil
}

// Connect dials the host, allocates a PTY shell, and starts the reader and
// keepalive goroutines.
func (s *SSHSession) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateConnected:
		return nil
	case StateClosed:
		return ErrClosed
	}
	s.state = StateConnecting

	if err := s.dialAndOpenShellLocked(ctx); err != nil {
		s.state = StateDisconnected
		return err
	}
	s.state = StateConnected

	s.stopReader = make(chan struct{})
	s.stopKeepalive = make(chan struct{})
	go s.readLoop(s.stopReader)
	go s.keepalive(s.stopKeepalive)

	s.log.Info("session connected", slog.String("user", s.opts.User))
	return nil
}

// dialAndOpenShellLocked establishes the TCP+SSH connection and opens an
// interactive shell with a PTY. Caller holds s.mu.
func (s *SSHSession) dialAndOpenShellLocked(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	conn, err := s.dialer.Dial("tcp", s.addr, s.config)
	if err != nil {
		return fmt.Errorf("ssh dial %s: %w", s.addr, err)
	}

	session, err := conn.NewSession()
	if err != nil {
		conn.Close()
		return fmt.Errorf("new session: %w", err)
	}

	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	if err := session.RequestPty("xterm-256color", s.opts.TermHeight, s.opts.TermWidth, modes); err != nil {
		session.Close()
		conn.Close()
		return fmt.Errorf("request pty: %w", err)
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		conn.Close()
		return fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		conn.Close()
		return fmt.Errorf("stdout pipe: %w", err)
	}
	// Merge stderr into the same stream; an interactive shell interleaves
	// them anyway.
	session.Stderr = writerFunc(func(p []byte) (int, error) {
		if s.opts.OnData != nil {
			chunk := make([]byte, len(p))
			copy(chunk, p)
			s.opts.OnData(chunk)
		}
		return len(p), nil
	})

	if err := session.Shell(); err != nil {
		session.Close()
		conn.Close()
		return fmt.Errorf("start shell: %w", err)
	}

	s.conn = conn
	s.session = session
	s.stdin = stdin
	s.stdout = stdout
	return nil
}

// readResult carries one read off the pump goroutine.
type readResult struct {
	data []byte
	err  error
}

// pumpReads reads the stream on its own goroutine so the consumer can keep
// observing the stop signal while a read blocks. The goroutine exits on the
// first stream error (which closing the session forces) or when stop fires
// while a result is pending.
func pumpReads(r io.Reader, stop <-chan struct{}) <-chan readResult {
	out := make(chan readResult)
	go func() {
		defer close(out)
		buf := make([]byte, 4096)
		for {
			n, err := r.Read(buf)
			var chunk []byte
			if n > 0 {
				chunk = make([]byte, n)
				copy(chunk, buf[:n])
			}
			select {
			case out <- readResult{data: chunk, err: err}:
			case <-stop:
				return
			}
			if err != nil {
				return
			}
		}
	}()
	return out
}

// readLoop forwards output chunks to OnData, waking at least every
// ReadTimeout to check the stop signal. On a stream error it attempts
// reconnection; the loop exits when the session is closed or reconnection
// is exhausted.
func (s *SSHSession) readLoop(stop <-chan struct{}) {
	for {
		s.mu.Lock()
		stdout := s.stdout
		s.mu.Unlock()
		if stdout == nil {
			return
		}

		reads := pumpReads(stdout, stop)
	drain:
		for {
			select {
			case <-stop:
				return
			case <-s.clock.After(s.opts.ReadTimeout):
				// Quiet interval; loop to re-check the stop signal.
			case res, ok := <-reads:
				if !ok {
					// Pump observed stop while a result was pending.
					return
				}
				if len(res.data) > 0 && s.opts.OnData != nil {
					s.opts.OnData(res.data)
				}
				if res.err != nil {
					select {
					case <-stop:
						return
					default:
					}
					s.log.Warn("read error, attempting reconnect", slog.String("error", res.err.Error()))
					if !s.reconnect(stop) {
						return
					}
					break drain
				}
			}
		}
	}
}

// reconnect retries the connection with exponential backoff (1s, 2s, 4s...).
// Returns false when all attempts fail or the session is stopped.
func (s *SSHSession) reconnect(stop <-chan struct{}) bool {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return false
	}
	s.state = StateReconnecting
	s.closeStreamLocked()
	attempts := s.opts.ReconnectAttempts
	s.mu.Unlock()

	for attempt := 0; attempt < attempts; attempt++ {
		s.clock.Sleep(time.Duration(1<<attempt) * time.Second)
		select {
		case <-stop:
			return false
		default:
		}

		s.mu.Lock()
		if s.state == StateClosed {
			s.mu.Unlock()
			return false
		}
		err := s.dialAndOpenShellLocked(context.Background())
		if err == nil {
			s.state = StateConnected
			s.mu.Unlock()
			s.log.Info("session reconnected", slog.Int("attempt", attempt+1))
			return true
		}
		s.mu.Unlock()
		s.log.Warn("reconnect attempt failed",
			slog.Int("attempt", attempt+1),
			slog.String("error", err.Error()),
		)
	}

	s.mu.Lock()
	s.state = StateDisconnected
	s.mu.Unlock()
	s.log.Error("reconnect exhausted, session disconnected")
	return false
}

// keepalive sends periodic keepalive requests so idle sessions survive NAT
// and firewall timeouts.
func (s *SSHSession) keepalive(stop <-chan struct{}) {
	ticker := s.clock.NewTicker(s.opts.KeepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C():
			s.mu.Lock()
			if s.conn != nil {
				// A failed keepalive is left for the reader to detect.
				s.conn.SendRequest("keepalive@openssh.com", true, nil)
			}
			s.mu.Unlock()
		}
	}
}

// Send writes raw bytes to the shell.
func (s *SSHSession) Send(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateConnected || s.stdin == nil {
		return ErrNotConnected
	}
	_, err := s.stdin.Write(data)
	if err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

// SendLine writes s followed by a newline.
func (s *SSHSession) SendLine(line string) error {
	return s.Send([]byte(line + "\n"))
}

// SendCommand writes the command in two phases: body, a short settle, then
// the newline.
func (s *SSHSession) SendCommand(cmd string) error {
	if err := s.Send([]byte(cmd)); err != nil {
		return err
	}
	s.clock.Sleep(commandSettle)
	return s.Send([]byte("\n"))
}

// SendInterrupt sends ETX (Ctrl+C) to the foreground process.
func (s *SSHSession) SendInterrupt() error {
	return s.Send([]byte{0x03})
}

// Resize changes the remote PTY dimensions.
func (s *SSHSession) Resize(rows, cols int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return ErrNotConnected
	}
	if err := s.session.WindowChange(rows, cols); err != nil {
		return fmt.Errorf("window change: %w", err)
	}
	return nil
}

// State returns the current connection state.
func (s *SSHSession) State() ConnState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// User returns the configured username.
func (s *SSHSession) User() string { return s.opts.User }

// Host returns the configured host.
func (s *SSHSession) Host() string { return s.opts.Host }

// Close stops the reader and keepalive and tears down the connection.
func (s *SSHSession) Close() error {
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
	if s.stopKeepalive != nil {
		close(s.stopKeepalive)
		s.stopKeepalive = nil
	}
	s.closeStreamLocked()
	s.log.Info("session closed")
	return nil
}

// closeStreamLocked closes the shell and connection. Caller holds s.mu.
func (s *SSHSession) closeStreamLocked() {
	if s.session != nil {
		s.session.Close()
		s.session = nil
	}
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	s.stdin = nil
	s.stdout = nil
}

var _ Session = (*SSHSession)(nil)

type writerFunc func(p []byte) (int, error)

func (f writerFunc) Write(p []byte) (int, error) { return f(p) }
