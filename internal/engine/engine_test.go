package engine

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/acolita/remote-shell-mcp/internal/command"
	"github.com/acolita/remote-shell-mcp/internal/config"
	"github.com/acolita/remote-shell-mcp/internal/transport"

	"github.com/acolita/remote-shell-mcp/internal/testing/fakes/fakeclock"
	"github.com/acolita/remote-shell-mcp/internal/testing/fakes/faketransport"
)

const (
	testUser   = "alice"
	testHost   = "web01.example.com"
	testPrompt = "alice@web01:~$ "
)

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Security.UseKeyring = false
	// The fake clock advances on every monitor cycle, so a background
	// monitor can burn through hours of fake time in real milliseconds.
	// Keep the ceiling far away unless a test wants to hit it.
	cfg.Execution.MaxTimeout = 10000 * time.Hour
	cfg.Servers = []config.ServerConfig{
		{Name: "web", Host: testHost, User: testUser, PasswordEnv: "TEST_SSH_PW", SudoPasswordEnv: "TEST_SUDO_PW"},
	}
	return cfg
}

// newConnectedEngine builds an engine over a scripted fake session and
// connects it. script runs before the initial prompt is emitted, so
// reactions are in place before the first command.
func newConnectedEngine(t *testing.T, cfg *config.Config, script func(s *faketransport.Session)) (*Engine, *faketransport.Session) {
	t.Helper()

	clock := fakeclock.New(time.Now())
	var sess *faketransport.Session
	eng := New(cfg,
		WithClock(clock),
		WithSessionFactory(func(opts ConnectOptions, onData transport.DataFunc) (transport.Session, error) {
			sess = faketransport.New(opts.User, opts.Host, onData)
			if script != nil {
				script(sess)
			}
			sess.Emit("Last login: Mon Jan 1\r\n" + testPrompt)
			return sess, nil
		}),
	)

	if err := eng.Connect(context.Background(), ConnectOptions{Host: testHost, User: testUser}); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	return eng, sess
}

// waitForStatus polls CheckStatus until the command reaches want or the
// real-time deadline expires. The monitor goroutine advances the fake clock
// on its own, so a short real wait covers a long fake one.
func waitForStatus(t *testing.T, eng *Engine, id string, want command.Status) *Result {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		res, err := eng.CheckStatus(id)
		if err != nil {
			t.Fatalf("CheckStatus: %v", err)
		}
		if res.Status == want {
			return res
		}
		time.Sleep(time.Millisecond)
	}
	res, _ := eng.CheckStatus(id)
	t.Fatalf("command %s never reached %s, last status %s", id, want, res.Status)
	return nil
}

func TestEngine_ConnectWaitsForPrompt(t *testing.T) {
	eng, sess := newConnectedEngine(t, testConfig(), nil)
	defer eng.Disconnect()

	if !eng.Connected() {
		t.Error("Connected() = false after Connect")
	}
	if eng.Host() != testHost {
		t.Errorf("Host() = %q, want %q", eng.Host(), testHost)
	}
	if sess.State() != transport.StateConnected {
		t.Errorf("session state = %v, want connected", sess.State())
	}
}

func TestEngine_ConnectTimesOutWithoutPrompt(t *testing.T) {
	cfg := testConfig()
	clock := fakeclock.New(time.Now())
	eng := New(cfg,
		WithClock(clock),
		WithSessionFactory(func(opts ConnectOptions, onData transport.DataFunc) (transport.Session, error) {
			// Session that never prints a prompt.
			return faketransport.New(opts.User, opts.Host, onData), nil
		}),
	)

	err := eng.Connect(context.Background(), ConnectOptions{Host: testHost, User: testUser})
	if err == nil {
		t.Fatal("Connect succeeded without a prompt, want error")
	}
	if !strings.Contains(err.Error(), "no shell prompt") {
		t.Errorf("error = %v, want prompt timeout", err)
	}
	if eng.Connected() {
		t.Error("Connected() = true after failed connect")
	}
}

func TestEngine_ConnectFailure(t *testing.T) {
	dialErr := errors.New("connection refused")
	eng := New(testConfig(),
		WithClock(fakeclock.New(time.Now())),
		WithSessionFactory(func(opts ConnectOptions, onData transport.DataFunc) (transport.Session, error) {
			return faketransport.New(opts.User, opts.Host, onData).FailConnect(dialErr), nil
		}),
	)

	err := eng.Connect(context.Background(), ConnectOptions{Host: testHost, User: testUser})
	if !errors.Is(err, dialErr) {
		t.Errorf("Connect error = %v, want wrapped %v", err, dialErr)
	}
}

func TestEngine_ExecuteNotConnected(t *testing.T) {
	eng := New(testConfig(), WithClock(fakeclock.New(time.Now())))

	if _, err := eng.Execute(context.Background(), "ls", 0, ""); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Execute error = %v, want ErrNotConnected", err)
	}
	if _, err := eng.RawOutput(0, -1); !errors.Is(err, ErrNotConnected) {
		t.Errorf("RawOutput error = %v, want ErrNotConnected", err)
	}
}

func TestEngine_ExecuteCompletes(t *testing.T) {
	eng, _ := newConnectedEngine(t, testConfig(), func(s *faketransport.Session) {
		s.React("ls -la", "ls -la\r\nfile1\r\nfile2\r\n"+testPrompt)
	})
	defer eng.Disconnect()

	res, err := eng.Execute(context.Background(), "ls -la", 0, "")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Status != command.StatusCompleted {
		t.Errorf("Status = %s, want %s", res.Status, command.StatusCompleted)
	}
	if res.Output != "file1\nfile2" {
		t.Errorf("Output = %q, want %q", res.Output, "file1\nfile2")
	}
	if res.Command != "ls -la" {
		t.Errorf("Command = %q, want %q", res.Command, "ls -la")
	}
}

func TestEngine_SuspiciousPromptVerified(t *testing.T) {
	eng, sess := newConnectedEngine(t, testConfig(), func(s *faketransport.Session) {
		// Output ends with prompt-shaped text preceded by other content,
		// which must trigger verification rather than instant completion.
		s.React("make deploy", "make deploy\r\nbuilding...\r\nDone. "+testPrompt)
		// The command's own newline consumes this one.
		s.React("\n", "")
		// The verification newline gets a fresh clean prompt.
		s.React("\n", "\r\n"+testPrompt)
	})
	defer eng.Disconnect()

	res, err := eng.Execute(context.Background(), "make deploy", 0, "")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Status != command.StatusCompleted {
		t.Errorf("Status = %s, want %s", res.Status, command.StatusCompleted)
	}
	if !strings.Contains(res.Output, "building...") {
		t.Errorf("Output = %q, want it to contain command output", res.Output)
	}
	// Exactly one extra newline beyond the command's own: the verification
	// round trip.
	if got := strings.Count(sess.Written(), "\n"); got != 2 {
		t.Errorf("session saw %d newlines, want 2 (command + verification)", got)
	}
}

func TestEngine_TimeoutStillRunningThenCompletes(t *testing.T) {
	eng, sess := newConnectedEngine(t, testConfig(), func(s *faketransport.Session) {
		s.React("sleep 999", "sleep 999\r\n")
	})
	defer eng.Disconnect()

	res, err := eng.Execute(context.Background(), "sleep 999", 2*time.Second, "")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Status != command.StatusTimeoutStillRunning {
		t.Fatalf("Status = %s, want %s", res.Status, command.StatusTimeoutStillRunning)
	}

	// The command finally prints its prompt; the monitor is still watching.
	sess.Emit("done\r\n" + testPrompt)
	final := waitForStatus(t, eng, res.CommandID, command.StatusCompleted)
	if !strings.Contains(final.Output, "done") {
		t.Errorf("Output = %q, want trailing output captured", final.Output)
	}
}

func TestEngine_MaxTimeoutCeiling(t *testing.T) {
	cfg := testConfig()
	cfg.Execution.DefaultTimeout = 5 * time.Second
	cfg.Execution.MaxTimeout = 30 * time.Second

	eng, _ := newConnectedEngine(t, cfg, func(s *faketransport.Session) {
		s.React("while true", "while true; do :; done\r\n")
	})
	defer eng.Disconnect()

	res, err := eng.Execute(context.Background(), "while true; do :; done", 5*time.Second, "")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	// The monitor may already have crossed the ceiling by the time Execute
	// returns, so either the soft timeout or the ceiling is acceptable here.
	if res.Status != command.StatusTimeoutStillRunning && res.Status != command.StatusMaxTimeout {
		t.Fatalf("Status = %s, want timeout_still_running or max_timeout", res.Status)
	}

	final := waitForStatus(t, eng, res.CommandID, command.StatusMaxTimeout)
	if !final.Status.Terminal() {
		t.Error("max_timeout should be terminal")
	}
}

func TestEngine_SudoAutoAnswerOnce(t *testing.T) {
	t.Setenv("TEST_SUDO_PW", "s3cret")

	eng, sess := newConnectedEngine(t, testConfig(), func(s *faketransport.Session) {
		s.React("sudo apt update", "sudo apt update\r\n[sudo] password for alice: ")
	})
	defer eng.Disconnect()

	// The shell never reacts to the password, so the prompt stays on
	// screen. The monitor must answer once and then hold until the buffer
	// grows.
	res, err := eng.Execute(context.Background(), "sudo apt update", 2*time.Second, "")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Status != command.StatusTimeoutStillRunning {
		t.Fatalf("Status = %s, want %s", res.Status, command.StatusTimeoutStillRunning)
	}
	if got := strings.Count(sess.Written(), "s3cret"); got != 1 {
		t.Errorf("password sent %d times, want exactly 1", got)
	}

	sess.Emit("\r\nFetched 42 kB\r\n" + testPrompt)
	final := waitForStatus(t, eng, res.CommandID, command.StatusCompleted)
	if !strings.Contains(final.Output, "Fetched 42 kB") {
		t.Errorf("Output = %q, want post-sudo output", final.Output)
	}
}

func TestEngine_PagerAnswered(t *testing.T) {
	eng, sess := newConnectedEngine(t, testConfig(), func(s *faketransport.Session) {
		s.React("git log", "git log\r\ncommit abc123\r\n(END)")
		// Quitting the pager brings the prompt back.
		s.React("q", "\r\n"+testPrompt)
	})
	defer eng.Disconnect()

	res, err := eng.Execute(context.Background(), "git log", 0, "")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Status != command.StatusCompleted {
		t.Errorf("Status = %s, want %s", res.Status, command.StatusCompleted)
	}
	if !strings.Contains(sess.Written(), "q") {
		t.Error("pager quit key was never sent")
	}
}

func TestEngine_Busy(t *testing.T) {
	eng, _ := newConnectedEngine(t, testConfig(), func(s *faketransport.Session) {
		s.React("sleep 999", "sleep 999\r\n")
	})
	defer eng.Disconnect()

	res, err := eng.Execute(context.Background(), "sleep 999", time.Second, "")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Status != command.StatusTimeoutStillRunning {
		t.Fatalf("Status = %s, want %s", res.Status, command.StatusTimeoutStillRunning)
	}

	if _, err := eng.Execute(context.Background(), "ls", time.Second, ""); !errors.Is(err, ErrBusy) {
		t.Errorf("second Execute error = %v, want ErrBusy", err)
	}
}

func TestEngine_Cancel(t *testing.T) {
	eng, sess := newConnectedEngine(t, testConfig(), func(s *faketransport.Session) {
		s.React("tail -f log", "tail -f log\r\nline one\r\n")
		// The interrupted process acknowledges the signal but the prompt
		// does not come back.
		s.React("\x03", "^C\r\n")
		s.React("echo after", "echo after\r\nafter\r\n"+testPrompt)
	})
	defer eng.Disconnect()

	res, err := eng.Execute(context.Background(), "tail -f log", time.Second, "")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Status != command.StatusTimeoutStillRunning {
		t.Fatalf("Status = %s, want %s", res.Status, command.StatusTimeoutStillRunning)
	}

	cancelled, err := eng.Cancel(res.CommandID)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if cancelled.Status != command.StatusCancelled {
		t.Errorf("Status = %s, want %s", cancelled.Status, command.StatusCancelled)
	}
	if sess.Interrupts() != 1 {
		t.Errorf("Interrupts() = %d, want 1", sess.Interrupts())
	}

	// The session is free again.
	next, err := eng.Execute(context.Background(), "echo after", 0, "")
	if err != nil {
		t.Fatalf("Execute after cancel: %v", err)
	}
	if next.Status != command.StatusCompleted {
		t.Errorf("Status = %s, want %s", next.Status, command.StatusCompleted)
	}
	if !strings.Contains(next.Output, "after") {
		t.Errorf("Output = %q, want %q in it", next.Output, "after")
	}
}

func TestEngine_CancelTerminalIsNoop(t *testing.T) {
	eng, sess := newConnectedEngine(t, testConfig(), func(s *faketransport.Session) {
		s.React("true", "true\r\n"+testPrompt)
	})
	defer eng.Disconnect()

	res, err := eng.Execute(context.Background(), "true", 0, "")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Status != command.StatusCompleted {
		t.Fatalf("Status = %s, want completed", res.Status)
	}

	again, err := eng.Cancel(res.CommandID)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if again.Status != command.StatusCompleted {
		t.Errorf("Cancel changed status to %s", again.Status)
	}
	if sess.Interrupts() != 0 {
		t.Errorf("Interrupts() = %d on a finished command, want 0", sess.Interrupts())
	}
}

func TestEngine_CancelUnknown(t *testing.T) {
	eng, _ := newConnectedEngine(t, testConfig(), nil)
	defer eng.Disconnect()

	if _, err := eng.Cancel("cmd_ffffffffffffffff"); !errors.Is(err, ErrUnknownCommand) {
		t.Errorf("Cancel error = %v, want ErrUnknownCommand", err)
	}
	if _, err := eng.CheckStatus("cmd_ffffffffffffffff"); !errors.Is(err, ErrUnknownCommand) {
		t.Errorf("CheckStatus error = %v, want ErrUnknownCommand", err)
	}
}

func TestEngine_BackgroundCommand(t *testing.T) {
	eng, _ := newConnectedEngine(t, testConfig(), func(s *faketransport.Session) {
		s.React("sleep 100 &", "sleep 100 &\r\n[1] 12345\r\n"+testPrompt)
	})
	defer eng.Disconnect()

	res, err := eng.Execute(context.Background(), "sleep 100 &", 0, "")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Status != command.StatusBackgrounded {
		t.Errorf("Status = %s, want %s", res.Status, command.StatusBackgrounded)
	}
	if !strings.Contains(res.Output, "[1] 12345") {
		t.Errorf("Output = %q, want job number", res.Output)
	}
}

func TestEngine_PromptChangingCommand(t *testing.T) {
	eng, _ := newConnectedEngine(t, testConfig(), func(s *faketransport.Session) {
		s.React("sudo su -", "sudo su -\r\nroot@web01:~# ")
		s.React("whoami", "whoami\r\nroot\r\nroot@web01:~# ")
	})
	defer eng.Disconnect()

	res, err := eng.Execute(context.Background(), "sudo su -", 0, "")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Status != command.StatusCompleted {
		t.Fatalf("Status = %s, want completed against the new root prompt", res.Status)
	}

	// Follow-up commands complete against the root prompt, not the
	// original user prompt.
	next, err := eng.Execute(context.Background(), "whoami", 0, "")
	if err != nil {
		t.Fatalf("Execute after su: %v", err)
	}
	if next.Status != command.StatusCompleted {
		t.Errorf("Status = %s, want completed", next.Status)
	}
	if !strings.Contains(next.Output, "root") {
		t.Errorf("Output = %q, want %q", next.Output, "root")
	}
}

func TestEngine_RawOutputAndList(t *testing.T) {
	eng, _ := newConnectedEngine(t, testConfig(), func(s *faketransport.Session) {
		s.React("echo one", "echo one\r\none\r\n"+testPrompt)
		s.React("echo two", "echo two\r\ntwo\r\n"+testPrompt)
	})
	defer eng.Disconnect()

	if _, err := eng.Execute(context.Background(), "echo one", 0, ""); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if _, err := eng.Execute(context.Background(), "echo two", 0, ""); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	raw, err := eng.RawOutput(0, -1)
	if err != nil {
		t.Fatalf("RawOutput: %v", err)
	}
	for _, want := range []string{"one", "two", "echo one"} {
		if !strings.Contains(raw, want) {
			t.Errorf("RawOutput missing %q", want)
		}
	}

	list := eng.ListCommands()
	if len(list) != 2 {
		t.Fatalf("ListCommands() len = %d, want 2", len(list))
	}
	if list[0].Command != "echo one" || list[1].Command != "echo two" {
		t.Errorf("ListCommands order = %q, %q", list[0].Command, list[1].Command)
	}
}

func TestEngine_DisconnectCancelsRunning(t *testing.T) {
	eng, sess := newConnectedEngine(t, testConfig(), func(s *faketransport.Session) {
		s.React("sleep 999", "sleep 999\r\n")
	})

	res, err := eng.Execute(context.Background(), "sleep 999", time.Second, "")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if err := eng.Disconnect(); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if sess.State() != transport.StateClosed {
		t.Errorf("session state = %v, want closed", sess.State())
	}
	if eng.Connected() {
		t.Error("Connected() = true after Disconnect")
	}

	final, err := eng.CheckStatus(res.CommandID)
	if err != nil {
		t.Fatalf("CheckStatus: %v", err)
	}
	if final.Status != command.StatusCancelled {
		t.Errorf("Status = %s, want %s", final.Status, command.StatusCancelled)
	}
}

func TestEngine_InterruptEchoYieldsCancelled(t *testing.T) {
	eng, sess := newConnectedEngine(t, testConfig(), func(s *faketransport.Session) {
		s.React("sleep 30", "sleep 30\r\n")
	})
	defer eng.Disconnect()

	res, err := eng.Execute(context.Background(), "sleep 30", time.Second, "")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Status != command.StatusTimeoutStillRunning {
		t.Fatalf("Status = %s, want %s", res.Status, command.StatusTimeoutStillRunning)
	}

	// The process dies to a Ctrl+C typed outside our control; the prompt
	// match alone would read as completed, but the interrupt echo must win.
	sess.Emit("^C\r\n" + testPrompt)
	final := waitForStatus(t, eng, res.CommandID, command.StatusCancelled)
	if final.Status != command.StatusCancelled {
		t.Errorf("Status = %s, want %s", final.Status, command.StatusCancelled)
	}
}

func TestEngine_PromptOverridePerCommand(t *testing.T) {
	eng, _ := newConnectedEngine(t, testConfig(), func(s *faketransport.Session) {
		s.React("run-console", "run-console\r\nok\r\napp> ")
		s.React("echo back", "echo back\r\nback\r\n"+testPrompt)
	})
	defer eng.Disconnect()

	res, err := eng.Execute(context.Background(), "run-console", 0, `app>`)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Status != command.StatusCompleted {
		t.Errorf("Status = %s, want completed against the override pattern", res.Status)
	}
	if !strings.Contains(res.Output, "ok") {
		t.Errorf("Output = %q, want %q in it", res.Output, "ok")
	}

	// The override applies to that command only; the next command is matched
	// against the regular prompt again.
	next, err := eng.Execute(context.Background(), "echo back", 0, "")
	if err != nil {
		t.Fatalf("Execute after override: %v", err)
	}
	if next.Status != command.StatusCompleted {
		t.Errorf("Status = %s, want completed", next.Status)
	}
}

func TestEngine_RawOutputFor(t *testing.T) {
	eng, _ := newConnectedEngine(t, testConfig(), func(s *faketransport.Session) {
		s.React("ls -la", "ls -la\r\nfile1\r\nfile2\r\n"+testPrompt)
	})
	defer eng.Disconnect()

	res, err := eng.Execute(context.Background(), "ls -la", 0, "")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	raw, err := eng.RawOutputFor(res.CommandID)
	if err != nil {
		t.Fatalf("RawOutputFor: %v", err)
	}
	// Unlike the result's output slice, the raw view keeps the echoed
	// command line.
	if !strings.Contains(raw, "ls -la") {
		t.Errorf("raw output missing echoed command: %q", raw)
	}
	if !strings.Contains(raw, "file1") {
		t.Errorf("raw output missing command output: %q", raw)
	}

	if _, err := eng.RawOutputFor("cmd_ffffffffffffffff"); !errors.Is(err, ErrUnknownCommand) {
		t.Errorf("RawOutputFor(unknown) error = %v, want ErrUnknownCommand", err)
	}
}

func TestEngine_BackgroundWithoutPromptReturnsBackgrounded(t *testing.T) {
	eng, _ := newConnectedEngine(t, testConfig(), func(s *faketransport.Session) {
		// Job output keeps the tail busy and no prompt ever shows.
		s.React("ping host &", "ping host &\r\n[1] 4242\r\n64 bytes from host\r\n")
	})
	defer eng.Disconnect()

	res, err := eng.Execute(context.Background(), "ping host &", time.Hour, "")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Status != command.StatusBackgrounded {
		t.Errorf("Status = %s, want %s", res.Status, command.StatusBackgrounded)
	}
	if !strings.Contains(res.Output, "[1] 4242") {
		t.Errorf("Output = %q, want job id in it", res.Output)
	}
}

func TestEngine_UpdateConfigAppliesPromptPatterns(t *testing.T) {
	eng, _ := newConnectedEngine(t, testConfig(), func(s *faketransport.Session) {
		s.React("switch-shell", "switch-shell\r\nready\r\nnewsh$ ")
	})
	defer eng.Disconnect()

	cfg := testConfig()
	cfg.PromptDetection.Patterns = []string{`newsh\$\s*$`}
	eng.UpdateConfig(cfg)

	res, err := eng.Execute(context.Background(), "switch-shell", 0, "")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Status != command.StatusCompleted {
		t.Errorf("Status = %s, want completed against the reloaded pattern", res.Status)
	}
	if !strings.Contains(res.Output, "ready") {
		t.Errorf("Output = %q, want %q in it", res.Output, "ready")
	}
}
