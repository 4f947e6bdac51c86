// Package engine coordinates command execution over an interactive shell:
// it submits commands, watches the output buffer for the prompt's return,
// answers pagers and password prompts along the way, and reports status
// through a bounded command registry.
//
// There is no protocol-level completion signal on a PTY. Completion is a
// judgment call made from the output alone, which is why every prompt match
// is classified and, when in doubt, actively verified.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/acolita/remote-shell-mcp/internal/adapters/realclock"
	"github.com/acolita/remote-shell-mcp/internal/command"
	"github.com/acolita/remote-shell-mcp/internal/config"
	"github.com/acolita/remote-shell-mcp/internal/ports"
	"github.com/acolita/remote-shell-mcp/internal/prompt"
	"github.com/acolita/remote-shell-mcp/internal/security"
	"github.com/acolita/remote-shell-mcp/internal/termbuf"
	"github.com/acolita/remote-shell-mcp/internal/transport"
)

var (
	// ErrNotConnected is returned when no session is established.
	ErrNotConnected = errors.New("engine: not connected")
	// ErrBusy is returned when a command is already occupying the session.
	ErrBusy = errors.New("engine: a command is already running")
	// ErrUnknownCommand is returned for an ID the registry does not hold.
	ErrUnknownCommand = errors.New("engine: unknown command id")
)

// Result reports the outcome of an execution or status check.
type Result struct {
	CommandID string         `json:"command_id"`
	Command   string         `json:"command"`
	Status    command.Status `json:"status"`
	Output    string         `json:"output"`
	Duration  time.Duration  `json:"duration"`
}

// ConnectOptions selects the target of a session.
type ConnectOptions struct {
	Host     string
	Port     int
	User     string
	KeyPath  string
	UseAgent bool
	Insecure bool
	// Local runs a local shell on a PTY instead of dialing SSH.
	Local bool
}

// SessionFactory builds a transport session for ConnectOptions. Tests
// substitute a fake.
type SessionFactory func(opts ConnectOptions, onData transport.DataFunc) (transport.Session, error)

// Engine drives one shell session at a time.
type Engine struct {
	cfg     *config.Config
	clock   ports.Clock
	creds   *security.Resolver
	factory SessionFactory
	log     *slog.Logger

	mu             sync.Mutex
	session        transport.Session
	buf            *termbuf.Buffer
	prompts        *prompt.Engine
	registry       *command.Registry
	current        *command.State
	promptOverride string // set after a prompt-changing command completes
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the clock, used by tests.
func WithClock(clock ports.Clock) Option {
	return func(e *Engine) { e.clock = clock }
}

// WithSessionFactory overrides how transport sessions are created.
func WithSessionFactory(f SessionFactory) Option {
	return func(e *Engine) { e.factory = f }
}

// WithCredentials sets the credential resolver.
func WithCredentials(r *security.Resolver) Option {
	return func(e *Engine) { e.creds = r }
}

// New creates an engine over the given configuration.
func New(cfg *config.Config, opts ...Option) *Engine {
	e := &Engine{
		cfg:      cfg,
		clock:    realclock.New(),
		registry: command.NewRegistry(cfg.Registry.MaxCommands),
		log:      slog.With(slog.String("component", "engine")),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.creds == nil {
		e.creds = security.NewResolver(cfg, e.clock)
	}
	if e.factory == nil {
		e.factory = e.defaultFactory
	}
	return e
}

func (e *Engine) defaultFactory(opts ConnectOptions, onData transport.DataFunc) (transport.Session, error) {
	if opts.Local {
		return transport.NewLocalSession(transport.LocalOptions{
			TermWidth:  e.cfg.Connection.TermWidth,
			TermHeight: e.cfg.Connection.TermHeight,
			OnData:     onData,
			Clock:      e.clock,
		}), nil
	}

	auth := transport.AuthConfig{
		KeyPath:  opts.KeyPath,
		UseAgent: opts.UseAgent,
	}
	if pw := e.creds.LoginPassword(opts.Host, opts.User); pw != nil {
		auth.Password = string(pw)
		security.WipeBytes(pw)
	}

	return transport.NewSSHSession(transport.SSHOptions{
		Host:              opts.Host,
		Port:              opts.Port,
		User:              opts.User,
		Auth:              auth,
		Insecure:          opts.Insecure,
		ConnectTimeout:    e.cfg.Connection.ConnectTimeout,
		KeepaliveInterval: e.cfg.Connection.KeepaliveInterval,
		ReconnectAttempts: e.cfg.Connection.ReconnectAttempts,
		ReadTimeout:       e.cfg.Connection.ReadTimeout,
		TermWidth:         e.cfg.Connection.TermWidth,
		TermHeight:        e.cfg.Connection.TermHeight,
		OnData:            onData,
		Clock:             e.clock,
	})
}

// Connect establishes the session and waits for the initial prompt, so the
// first Execute starts from a known-quiet shell.
func (e *Engine) Connect(ctx context.Context, opts ConnectOptions) error {
	e.mu.Lock()
	if e.session != nil {
		e.mu.Unlock()
		return fmt.Errorf("engine: already connected to %s", e.session.Host())
	}

	buf := termbuf.New(e.cfg.Buffer.MaxLines)
	prompts := prompt.NewEngine(e.cfg.PromptDetection.Patterns, changingTable(e.cfg), e.cfg.PromptDetection.BackgroundPattern)

	sess, err := e.factory(opts, func(chunk []byte) {
		buf.Add(string(chunk))
	})
	if err != nil {
		e.mu.Unlock()
		return fmt.Errorf("create session: %w", err)
	}

	e.session = sess
	e.buf = buf
	e.prompts = prompts
	e.promptOverride = ""
	e.mu.Unlock()

	if err := sess.Connect(ctx); err != nil {
		e.dropSession()
		return fmt.Errorf("connect: %w", err)
	}
	prompts.SetIdentity(sess.User(), sess.Host())

	if err := e.waitForPrompt(ctx); err != nil {
		sess.Close()
		e.dropSession()
		return err
	}

	e.log.Info("connected",
		slog.String("host", sess.Host()),
		slog.String("user", sess.User()),
	)
	return nil
}

// waitForPrompt polls until the shell prints a clean prompt or the connect
// timeout elapses.
func (e *Engine) waitForPrompt(ctx context.Context) error {
	cfg := e.config()
	deadline := e.clock.Now().Add(cfg.Connection.ConnectTimeout)
	for {
		if e.sawCleanPrompt() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if e.clock.Now().After(deadline) {
			return fmt.Errorf("engine: no shell prompt within %s", cfg.Connection.ConnectTimeout)
		}
		e.clock.Sleep(cfg.Execution.CheckInterval)
	}
}

func (e *Engine) sawCleanPrompt() bool {
	pattern := e.currentPrompt()
	if e.prompts.Classify(e.buf.Partial(), pattern) == prompt.Clean {
		return true
	}
	if last, ok := e.buf.LastLine(); ok {
		return e.prompts.Classify(last, pattern) == prompt.Clean
	}
	return false
}

func changingTable(cfg *config.Config) []prompt.ChangingCommand {
	out := make([]prompt.ChangingCommand, 0, len(cfg.PromptDetection.PromptChangingCommands))
	for _, pc := range cfg.PromptDetection.PromptChangingCommands {
		out = append(out, prompt.ChangingCommand{Prefix: pc.Command, NewPattern: pc.NewPattern})
	}
	return out
}

// config returns the live configuration. Hot reload swaps the pointer, so
// callers hold a consistent snapshot for the duration of one operation.
func (e *Engine) config() *config.Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg
}

// UpdateConfig applies a hot-reloaded configuration. Prompt templates and
// detection settings take effect on the next monitor cycle; connection
// settings only affect future sessions.
func (e *Engine) UpdateConfig(cfg *config.Config) {
	e.mu.Lock()
	e.cfg = cfg
	prompts := e.prompts
	e.mu.Unlock()

	if prompts != nil {
		prompts.UpdateTemplates(cfg.PromptDetection.Patterns, changingTable(cfg))
	}
	e.log.Info("configuration updated")
}

// currentPrompt returns the pattern a fresh command should expect.
func (e *Engine) currentPrompt() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.promptOverride != "" {
		return e.promptOverride
	}
	return e.prompts.Current()
}

func (e *Engine) setPromptOverride(pattern string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.promptOverride = pattern
}

// Execute submits a command and waits up to timeout for completion. A zero
// timeout uses the configured default; timeouts are clamped to the ceiling.
// promptOverride, when non-empty, replaces the expected prompt pattern for
// this command only. When the timeout elapses with the command still
// running, the returned result has status timeout_still_running and
// monitoring continues.
func (e *Engine) Execute(ctx context.Context, cmdText string, timeout time.Duration, promptOverride string) (*Result, error) {
	cfg := e.config()
	if timeout <= 0 {
		timeout = cfg.Execution.DefaultTimeout
	}
	if timeout > cfg.Execution.MaxTimeout {
		timeout = cfg.Execution.MaxTimeout
	}

	e.mu.Lock()
	if e.session == nil || e.session.State() != transport.StateConnected {
		e.mu.Unlock()
		return nil, ErrNotConnected
	}
	if e.current != nil && e.current.IsRunning() {
		id := e.current.ID()
		e.mu.Unlock()
		return nil, fmt.Errorf("%w (command %s)", ErrBusy, id)
	}

	expected := e.prompts.Current()
	if e.promptOverride != "" {
		expected = e.promptOverride
	}
	if promptOverride != "" {
		expected = promptOverride
	}
	mark := e.buf.Mark()
	st := command.NewState(cmdText, e.clock.Now(), timeout, expected, mark)
	if np, ok := e.prompts.DetectChanging(cmdText); ok {
		st.SetNewPrompt(np)
	}
	background := e.prompts.IsBackground(cmdText)
	e.registry.Add(st)
	e.current = st
	sess := e.session
	buf := e.buf
	e.mu.Unlock()

	e.log.Info("executing command",
		slog.String("command_id", st.ID()),
		slog.String("command", cmdText),
		slog.Duration("timeout", timeout),
	)

	if err := sess.SendCommand(cmdText); err != nil {
		st.TransitionTerminal(command.StatusCancelled, buf.LineCount())
		return nil, fmt.Errorf("send command: %w", err)
	}

	go e.monitor(st, background)

	// A background job owns the shell only through a short grace window; it
	// hands control back even when its output keeps a prompt from appearing.
	var bgElapsed <-chan time.Time
	if background {
		bgElapsed = e.clock.After(cfg.Execution.BackgroundGrace)
	}

	select {
	case <-st.Done():
	case <-bgElapsed:
		st.TransitionTerminal(command.StatusBackgrounded, buf.LineCount())
	case <-e.clock.After(timeout):
		if st.MarkTimeoutStillRunning() {
			e.log.Warn("command timeout, still running",
				slog.String("command_id", st.ID()),
			)
		}
	case <-ctx.Done():
		// Caller gave up; the monitor keeps going.
	}

	return e.resultFor(st), nil
}

// CheckStatus reports the current status and output of a command.
func (e *Engine) CheckStatus(id string) (*Result, error) {
	st, ok := e.registry.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCommand, id)
	}
	return e.resultFor(st), nil
}

// Cancel interrupts a running command with Ctrl+C, waits for the interrupt
// to settle, and forces the cancelled state at the current buffer position.
// The last few lines are checked for a prompt to tell whether the process
// actually died or ignored the signal.
func (e *Engine) Cancel(id string) (*Result, error) {
	st, ok := e.registry.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCommand, id)
	}
	if !st.IsRunning() {
		return e.resultFor(st), nil
	}

	e.mu.Lock()
	sess := e.session
	e.mu.Unlock()
	if sess == nil {
		st.TransitionTerminal(command.StatusCancelled, e.buf.LineCount())
		return e.resultFor(st), nil
	}

	if err := sess.SendInterrupt(); err != nil {
		return nil, fmt.Errorf("send interrupt: %w", err)
	}
	e.clock.Sleep(e.config().Execution.InterruptSettle)

	pattern := st.ExpectedPrompt()
	returned := false
	for _, line := range e.buf.LastLines(5) {
		if e.prompts.Classify(line, pattern) != prompt.NoMatch {
			returned = true
			break
		}
	}
	if !returned && e.prompts.Classify(e.buf.Partial(), pattern) != prompt.NoMatch {
		returned = true
	}

	st.TransitionTerminal(command.StatusCancelled, e.buf.LineCount())
	e.log.Info("command cancelled",
		slog.String("command_id", st.ID()),
		slog.Bool("prompt_returned", returned),
	)
	if !returned {
		e.log.Warn("no prompt after interrupt, process may have ignored it",
			slog.String("command_id", st.ID()),
		)
	}
	return e.resultFor(st), nil
}

// RawOutputFor returns everything the session printed for one command,
// including the echoed command line. For a still-running command the slice
// extends through the current end of the buffer.
func (e *Engine) RawOutputFor(id string) (string, error) {
	st, ok := e.registry.Get(id)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownCommand, id)
	}
	snap := st.Snapshot()
	end := snap.BufferEnd
	if !snap.Status.Terminal() {
		end = -1
	}

	e.mu.Lock()
	buf := e.buf
	e.mu.Unlock()
	if buf == nil {
		return "", ErrNotConnected
	}
	return buf.Output(snap.BufferStart, end), nil
}

// RawOutput returns buffered output lines in [start, end). end < 0 means
// through the end of the buffer including the partial line.
func (e *Engine) RawOutput(start, end int) (string, error) {
	e.mu.Lock()
	buf := e.buf
	e.mu.Unlock()
	if buf == nil {
		return "", ErrNotConnected
	}
	return buf.Output(start, end), nil
}

// ListCommands returns snapshots of all tracked commands, oldest first.
func (e *Engine) ListCommands() []command.Snapshot {
	return e.registry.List()
}

// Connected reports whether a live session exists.
func (e *Engine) Connected() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session != nil && e.session.State() == transport.StateConnected
}

// Host returns the connected host, empty when disconnected.
func (e *Engine) Host() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return ""
	}
	return e.session.Host()
}

// Disconnect closes the session. A running command is marked cancelled.
func (e *Engine) Disconnect() error {
	e.mu.Lock()
	sess := e.session
	cur := e.current
	buf := e.buf
	e.mu.Unlock()

	if cur != nil && cur.IsRunning() && buf != nil {
		cur.TransitionTerminal(command.StatusCancelled, buf.LineCount())
	}
	if sess == nil {
		return nil
	}
	err := sess.Close()
	e.dropSession()
	e.creds.Shutdown()
	return err
}

func (e *Engine) dropSession() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.session = nil
	e.current = nil
	e.promptOverride = ""
}

func (e *Engine) resultFor(st *command.State) *Result {
	snap := st.Snapshot()

	end := snap.BufferEnd
	if !snap.Status.Terminal() {
		end = -1
	}
	output := ""
	e.mu.Lock()
	buf := e.buf
	e.mu.Unlock()
	if buf != nil {
		output = buf.Output(snap.BufferStart+1, end)
	}

	return &Result{
		CommandID: snap.ID,
		Command:   snap.Command,
		Status:    snap.Status,
		Output:    output,
		Duration:  e.clock.Now().Sub(snap.IssuedAt),
	}
}
