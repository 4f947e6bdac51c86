package engine

import (
	"log/slog"
	"strings"

	"github.com/acolita/remote-shell-mcp/internal/command"
	"github.com/acolita/remote-shell-mcp/internal/pager"
	"github.com/acolita/remote-shell-mcp/internal/prompt"
	"github.com/acolita/remote-shell-mcp/internal/security"
	"github.com/acolita/remote-shell-mcp/internal/termbuf"
	"github.com/acolita/remote-shell-mcp/internal/transport"
)

// bufferPos is a point in the output stream: completed line count plus the
// partial line length. Comparing two positions tells whether the shell
// produced anything in between.
type bufferPos struct {
	lines   int
	partial int
}

func (p bufferPos) after(q bufferPos) bool {
	return p.lines > q.lines || (p.lines == q.lines && p.partial > q.partial)
}

// monitorState is the per-command bookkeeping the monitor carries between
// cycles.
type monitorState struct {
	// lastAnswer is the buffer position when a credential was last
	// auto-answered. Answering again before the buffer has grown would loop
	// forever on a rejected password.
	lastAnswer  bufferPos
	answered    bool
	warnedNoPwd bool
}

// monitor watches one command until it reaches a terminal state. It runs in
// its own goroutine; each cycle is recover-guarded so a panic degrades one
// check, not the session.
func (e *Engine) monitor(st *command.State, background bool) {
	ms := &monitorState{}
	for st.IsRunning() {
		e.clock.Sleep(e.config().Execution.CheckInterval)
		e.monitorCycle(st, background, ms)
	}
}

func (e *Engine) monitorCycle(st *command.State, background bool, ms *monitorState) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("monitor cycle panic",
				slog.String("command_id", st.ID()),
				slog.Any("panic", r),
			)
		}
	}()

	e.mu.Lock()
	sess := e.session
	buf := e.buf
	cfg := e.cfg
	e.mu.Unlock()
	if sess == nil || buf == nil {
		st.TransitionTerminal(command.StatusCancelled, 0)
		return
	}

	// Hard ceiling: stop monitoring no matter what the shell is doing.
	if e.clock.Now().Sub(st.IssuedAt()) >= cfg.Execution.MaxTimeout {
		st.TransitionTerminal(command.StatusMaxTimeout, buf.LineCount())
		e.log.Warn("command hit monitoring ceiling",
			slog.String("command_id", st.ID()),
		)
		return
	}

	// While the transport reconnects there is nothing trustworthy to read.
	if sess.State() != transport.StateConnected {
		return
	}

	lastLine, _ := buf.LastLine()
	if act, ok := pager.Detect(buf.Partial(), lastLine); ok {
		e.handlePagerAction(st, sess, buf, act, ms)
		return
	}

	e.checkCompletion(st, background, sess, buf)
}

func (e *Engine) handlePagerAction(st *command.State, sess transport.Session, buf *termbuf.Buffer, act pager.Action, ms *monitorState) {
	switch act.Kind {
	case pager.KindCredential:
		pos := bufferPos{lines: buf.LineCount(), partial: len(buf.Partial())}
		if ms.answered && !pos.after(ms.lastAnswer) {
			// Prompt is still the one we already answered. A wrong
			// password replayed forever would lock the account.
			return
		}
		pw := e.creds.SudoPassword(sess.Host(), sess.User())
		if pw == nil {
			if !ms.warnedNoPwd {
				e.log.Warn("password prompt detected but no credential configured",
					slog.String("command_id", st.ID()),
				)
				ms.warnedNoPwd = true
			}
			return
		}
		e.log.Info("auto-answering password prompt",
			slog.String("command_id", st.ID()),
		)
		sess.Send(append(pw, '\n'))
		security.WipeBytes(pw)
		ms.answered = true
		ms.lastAnswer = pos

	case pager.KindQuit, pager.KindContinue:
		e.log.Debug("answering pager",
			slog.String("command_id", st.ID()),
			slog.String("rule", act.Rule),
		)
		sess.Send([]byte(act.Keys))
	}
}

// checkCompletion looks for the expected prompt in the live tail of the
// buffer. Clean matches complete immediately; suspicious matches go through
// verification.
func (e *Engine) checkCompletion(st *command.State, background bool, sess transport.Session, buf *termbuf.Buffer) {
	pattern := st.ExpectedPrompt()
	floor := st.BufferStart() + 1

	line, idx, class := e.matchTail(buf, pattern, floor)
	if class == prompt.NoMatch {
		return
	}

	if class == prompt.Clean {
		e.finish(st, background, buf)
		return
	}

	if !e.config().PromptDetection.VerificationOn() {
		e.finish(st, background, buf)
		return
	}

	e.log.Debug("suspicious prompt match, verifying",
		slog.String("command_id", st.ID()),
		slog.String("class", class.String()),
		slog.Int("line", idx),
		slog.String("text", line),
	)
	if e.verifyPrompt(sess, buf, pattern) {
		e.finish(st, background, buf)
	}
}

// matchTail classifies the partial line, then the last completed line, and
// returns the first match at or past floor. The echoed command line itself
// sits below floor and is never considered. Older lines are not scanned: a
// prompt with output after it was scrolled past and cannot be the shell
// waiting for input.
func (e *Engine) matchTail(buf *termbuf.Buffer, pattern string, floor int) (string, int, prompt.Class) {
	n := buf.LineCount()

	if n >= floor {
		partial := buf.Partial()
		if c := e.prompts.Classify(partial, pattern); c != prompt.NoMatch {
			return partial, n, c
		}
	}
	if n-1 >= floor {
		if last, ok := buf.LastLine(); ok {
			if c := e.prompts.Classify(last, pattern); c != prompt.NoMatch {
				return last, n - 1, c
			}
		}
	}
	return "", 0, prompt.NoMatch
}

// verifyPrompt sends a bare newline and requires a clean prompt printed
// after it. A real idle shell always answers a newline with a fresh prompt;
// prompt-shaped output does not.
func (e *Engine) verifyPrompt(sess transport.Session, buf *termbuf.Buffer, pattern string) bool {
	before := buf.LineCount()
	if err := sess.Send([]byte("\n")); err != nil {
		return false
	}
	e.clock.Sleep(e.config().PromptDetection.VerificationDelay)

	if buf.LineCount() > before {
		if e.prompts.Classify(buf.Partial(), pattern) == prompt.Clean {
			return true
		}
		for _, l := range buf.Lines(before, -1) {
			if e.prompts.Classify(l.Text, pattern) == prompt.Clean {
				return true
			}
		}
	}
	return false
}

// finish waits the grace period for trailing output, then records the
// terminal state. Background commands get the longer background grace so
// the job's early output lands inside the captured window.
func (e *Engine) finish(st *command.State, background bool, buf *termbuf.Buffer) {
	cfg := e.config()
	status := command.StatusCompleted
	grace := cfg.Execution.GracePeriod
	if background {
		status = command.StatusBackgrounded
		if cfg.Execution.BackgroundGrace > grace {
			grace = cfg.Execution.BackgroundGrace
		}
	}
	e.clock.Sleep(grace)

	// The prompt also comes back after Ctrl+C. An interrupt echo in the
	// trailing window means the process was killed, not that it finished.
	if status == command.StatusCompleted && e.sawInterrupt(st, buf) {
		status = command.StatusCancelled
	}

	if !st.TransitionTerminal(status, buf.LineCount()) {
		return
	}
	if np := st.NewPrompt(); np != "" {
		e.setPromptOverride(np)
	}
	e.log.Info("command finished",
		slog.String("command_id", st.ID()),
		slog.String("status", string(status)),
	)
}

// sawInterrupt scans the trailing window (last 5 completed lines plus the
// partial line) for the interrupt echo, never reaching past the command's
// own output.
func (e *Engine) sawInterrupt(st *command.State, buf *termbuf.Buffer) bool {
	floor := st.BufferStart() + 1
	start := buf.LineCount() - 5
	if start < floor {
		start = floor
	}
	for _, l := range buf.Lines(start, -1) {
		if strings.Contains(l.Text, "^C") {
			return true
		}
	}
	return strings.Contains(buf.Partial(), "^C")
}
