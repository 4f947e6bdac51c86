// Package pager detects interactive prompts that stall a command without
// producing a shell prompt: password requests and terminal pagers (less,
// more, systemctl's paging, git log). Detection runs over the live tail of
// the output buffer only, since pager status lines are repainted in place
// and almost always live in the partial line.
package pager

import (
	"regexp"
	"strings"
)

// Kind classifies the response a detected prompt requires.
type Kind int

const (
	// KindCredential: a password is being requested. The caller decides
	// whether a credential is available and how to supply it.
	KindCredential Kind = iota
	// KindQuit: a pager reached its end; quitting returns to the shell.
	KindQuit
	// KindContinue: a pager has more content; advance it.
	KindContinue
)

// Action describes what to send in response to a detected prompt.
type Action struct {
	Kind Kind
	// Keys is the keystroke sequence to send for KindQuit and KindContinue.
	// Empty for KindCredential.
	Keys string
	// Rule names the matching rule, for logging.
	Rule string
}

type rule struct {
	name   string
	match  func(line string) bool
	action Action
}

var (
	passwordRe = regexp.MustCompile(`(?i)password[^:]*:\s*$`)
	linesRe    = regexp.MustCompile(`lines \d+-\d+`)
	colonRe    = regexp.MustCompile(`^:\s*$`)
)

// pagerTable is evaluated in order; the first matching rule wins. Password
// detection runs before this table and excluded candidates never reach it.
var pagerTable = []rule{
	{
		name: "pager-end",
		match: func(line string) bool {
			return strings.Contains(line, "(END)")
		},
		action: Action{Kind: KindQuit, Keys: "q", Rule: "pager-end"},
	},
	{
		name: "pager-lines",
		match: func(line string) bool {
			return linesRe.MatchString(line)
		},
		action: Action{Kind: KindContinue, Keys: " ", Rule: "pager-lines"},
	},
	{
		name: "pager-more",
		match: func(line string) bool {
			return strings.Contains(line, "--More--")
		},
		action: Action{Kind: KindContinue, Keys: " ", Rule: "pager-more"},
	},
	{
		name: "pager-colon",
		match: func(line string) bool {
			return colonRe.MatchString(strings.TrimSpace(line))
		},
		action: Action{Kind: KindContinue, Keys: " ", Rule: "pager-colon"},
	},
}

// DetectLine classifies a single line. A password cue wins outright: sudo
// and remote-login prompts ("user@host's password:") must be answered no
// matter what else the line resembles. Lines carrying a password cue or an
// '@' are then barred from pager classification, so login banners and
// echoed ssh command lines are never mistaken for pager chrome.
func DetectLine(line string) (Action, bool) {
	trimmed := strings.TrimRight(line, " \t")
	if trimmed == "" {
		return Action{}, false
	}
	if passwordRe.MatchString(trimmed) {
		return Action{Kind: KindCredential, Rule: "password"}, true
	}
	if strings.Contains(trimmed, "@") || strings.Contains(strings.ToLower(trimmed), "password") {
		return Action{}, false
	}
	for _, r := range pagerTable {
		if r.match(trimmed) {
			return r.action, true
		}
	}
	return Action{}, false
}

// Detect classifies the live tail of the output. A prompt that is waiting
// for input sits on the partial line, so when the partial line holds any
// text only it is considered; the last completed line is a fallback for the
// rare pager that emits a trailing newline. Without that restriction a
// pager banner that scrolled into a completed line would be answered
// forever while the shell prompt sits unread on the partial line.
func Detect(partial, lastLine string) (Action, bool) {
	if strings.TrimRight(partial, " \t") != "" {
		return DetectLine(partial)
	}
	return DetectLine(lastLine)
}
