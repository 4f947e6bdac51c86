// Package prompt implements shell prompt pattern matching and the
// classification rules used to decide whether a command has finished.
//
// A prompt match is only trusted outright when the matched text is the whole
// line ("clean"). Any other printable content on the line makes the match
// suspicious: a file listing can contain prompt-shaped strings, and a stale
// echo can trail one. Suspicious matches are confirmed by active
// verification (see engine.Monitor), never accepted on sight.
package prompt

import (
	"log/slog"
	"regexp"
	"strings"
	"sync"
)

// hostWildcard matches a hostname or an IPv4 address, so one template covers
// both "web01.prod" and "10.0.0.12".
const hostWildcard = `[a-zA-Z0-9\-\.]+`

// Class is the result of classifying one line against a prompt pattern.
type Class int

const (
	// NoMatch: the pattern does not appear in the line.
	NoMatch Class = iota
	// Clean: the match spans the entire trimmed line. Trusted outright.
	Clean
	// SuspiciousBefore: non-whitespace precedes the match. Classic false
	// positive (prompt-shaped text inside output). Requires verification.
	SuspiciousBefore
	// SuspiciousAfter: non-whitespace follows the match. Likely a stale
	// command echo. Requires verification.
	SuspiciousAfter
)

// String returns the classification name.
func (c Class) String() string {
	switch c {
	case Clean:
		return "clean"
	case SuspiciousBefore:
		return "suspicious_before"
	case SuspiciousAfter:
		return "suspicious_after"
	default:
		return "no_match"
	}
}

// Suspicious reports whether the classification requires verification.
func (c Class) Suspicious() bool {
	return c == SuspiciousBefore || c == SuspiciousAfter
}

// Substitute renders a prompt template for a concrete user. {user} becomes
// the literal username; {host} becomes a wildcard class rather than the
// literal host, so the same pattern matches DNS names and addresses.
func Substitute(template, user, host string) string {
	out := strings.ReplaceAll(template, "{user}", user)
	out = strings.ReplaceAll(out, "{host}", hostWildcard)
	return out
}

// ChangingCommand maps a command prefix to the prompt pattern expected once
// that command runs.
type ChangingCommand struct {
	Prefix     string
	NewPattern string
}

// Engine compiles and matches prompt patterns for one session identity.
type Engine struct {
	mu        sync.RWMutex
	templates []string
	changing  []ChangingCommand
	bgRe      *regexp.Regexp
	user      string
	host      string

	compiled map[string]*regexp.Regexp
	rejected map[string]bool // malformed patterns already logged
}

// NewEngine creates an engine from prompt templates and the prompt-changing
// command table. backgroundPattern detects a trailing '&' control operator.
func NewEngine(templates []string, changing []ChangingCommand, backgroundPattern string) *Engine {
	if backgroundPattern == "" {
		backgroundPattern = `&\s*$`
	}
	bgRe, err := regexp.Compile(backgroundPattern)
	if err != nil {
		slog.Warn("invalid background pattern, using default",
			slog.String("pattern", backgroundPattern),
			slog.String("error", err.Error()),
		)
		bgRe = regexp.MustCompile(`&\s*$`)
	}

	return &Engine{
		templates: templates,
		changing:  changing,
		bgRe:      bgRe,
		compiled:  make(map[string]*regexp.Regexp),
		rejected:  make(map[string]bool),
	}
}

// SetIdentity sets the user and host used for template substitution.
func (e *Engine) SetIdentity(user, host string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.user = user
	e.host = host
}

// UpdateTemplates replaces the template and prompt-changing tables, used by
// config hot-reload.
func (e *Engine) UpdateTemplates(templates []string, changing []ChangingCommand) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates = templates
	e.changing = changing
}

// Current returns the substituted pattern for the session's expected prompt.
// Falls back to a generic user@host pattern when no identity or templates
// are available.
func (e *Engine) Current() string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if len(e.templates) > 0 && e.user != "" {
		return Substitute(e.templates[0], e.user, e.host)
	}
	return `[a-zA-Z0-9_]+@` + hostWildcard + `:.*[$#]\s*$`
}

// Classify checks one line against a pattern. Malformed patterns are logged
// once and classify as NoMatch so a single bad config entry cannot wedge the
// engine. Classification is pure: the same (line, pattern) always yields the
// same class.
func (e *Engine) Classify(line, pattern string) Class {
	re := e.compile(pattern)
	if re == nil {
		return NoMatch
	}

	loc := re.FindStringIndex(line)
	if loc == nil {
		return NoMatch
	}

	before := strings.TrimSpace(line[:loc[0]])
	after := strings.TrimSpace(line[loc[1]:])

	switch {
	case before == "" && after == "":
		return Clean
	case before != "":
		// Any non-whitespace before the match requires verification.
		return SuspiciousBefore
	default:
		return SuspiciousAfter
	}
}

// ClassifyAny classifies a line against each pattern in order and returns
// the first non-NoMatch result along with the pattern that produced it.
func (e *Engine) ClassifyAny(line string, patterns []string) (Class, string) {
	for _, p := range patterns {
		if c := e.Classify(line, p); c != NoMatch {
			return c, p
		}
	}
	return NoMatch, ""
}

// DetectChanging reports whether the command matches a prompt-changing
// prefix, returning the substituted replacement pattern.
func (e *Engine) DetectChanging(command string) (string, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	trimmed := strings.TrimSpace(command)
	for _, cc := range e.changing {
		if strings.HasPrefix(trimmed, cc.Prefix) {
			if e.user != "" {
				return Substitute(cc.NewPattern, e.user, e.host), true
			}
			return cc.NewPattern, true
		}
	}
	return "", false
}

// IsBackground reports whether the command requests background execution.
func (e *Engine) IsBackground(command string) bool {
	return e.bgRe.MatchString(strings.TrimSpace(command))
}

// compile returns the compiled pattern, or nil if it is malformed.
func (e *Engine) compile(pattern string) *regexp.Regexp {
	e.mu.RLock()
	re, ok := e.compiled[pattern]
	bad := e.rejected[pattern]
	e.mu.RUnlock()
	if ok {
		return re
	}
	if bad {
		return nil
	}

	re, err := regexp.Compile(pattern)

	e.mu.Lock()
	defer e.mu.Unlock()
	if err != nil {
		if !e.rejected[pattern] {
			slog.Error("invalid prompt pattern, treating as no-match",
				slog.String("pattern", pattern),
				slog.String("error", err.Error()),
			)
			e.rejected[pattern] = true
		}
		return nil
	}
	e.compiled[pattern] = re
	return re
}
