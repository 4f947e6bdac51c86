// Package termbuf maintains the line-oriented output buffer for a shell session.
//
// The buffer holds an append-only sequence of completed lines plus a single
// mutable partial line (the not-yet-newline-terminated tail, which is where a
// freshly printed prompt lives). Line indices are absolute and strictly
// increasing; eviction drops the oldest lines but never renumbers.
package termbuf

import (
	"regexp"
	"strings"
	"sync"
)

// ansiRegex matches ANSI escape sequences: CSI sequences, OSC sequences, and
// charset selection. Newlines and tabs are untouched.
var ansiRegex = regexp.MustCompile(`\x1b\[[0-9;?]*[a-zA-Z]|\x1b\][^\x07]*\x07|\x1b[()][0-9A-Za-z]`)

// Line is one completed output line.
type Line struct {
	Index int    // absolute index, survives eviction
	Text  string // ANSI-stripped
}

// Buffer is the output buffer for one session. Exactly one writer (the
// transport reader) calls Add; everything else reads.
type Buffer struct {
	mu       sync.RWMutex
	lines    []Line
	partial  string
	next     int // absolute index assigned to the next completed line
	maxLines int
}

// New creates a buffer bounded to maxLines completed lines.
func New(maxLines int) *Buffer {
	if maxLines <= 0 {
		maxLines = 10000
	}
	return &Buffer{maxLines: maxLines}
}

// Add ingests a raw chunk from the transport: strips escape sequences,
// freezes newline-terminated segments into lines, and leaves any remainder
// as the partial line.
func (b *Buffer) Add(chunk string) {
	clean := StripANSI(chunk)
	clean = strings.ReplaceAll(clean, "\r\n", "\n")
	clean = strings.ReplaceAll(clean, "\r", "")

	b.mu.Lock()
	defer b.mu.Unlock()

	segments := strings.Split(b.partial+clean, "\n")
	for _, seg := range segments[:len(segments)-1] {
		b.lines = append(b.lines, Line{Index: b.next, Text: seg})
		b.next++
	}
	b.partial = segments[len(segments)-1]

	if over := len(b.lines) - b.maxLines; over > 0 {
		b.lines = b.lines[over:]
	}
}

// LineCount returns the absolute count of completed lines ever frozen.
// Evicted lines still count; this is the index the next line will get.
func (b *Buffer) LineCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.next
}

// Partial returns the current partial line.
func (b *Buffer) Partial() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.partial
}

// LastLine returns the most recent completed line, if any.
func (b *Buffer) LastLine() (string, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.lines) == 0 {
		return "", false
	}
	return b.lines[len(b.lines)-1].Text, true
}

// LastLines returns up to n most recent completed lines, oldest first.
func (b *Buffer) LastLines(n int) []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if n > len(b.lines) {
		n = len(b.lines)
	}
	out := make([]string, 0, n)
	for _, l := range b.lines[len(b.lines)-n:] {
		out = append(out, l.Text)
	}
	return out
}

// Lines returns the completed lines with absolute index in [start, end).
// Indices outside the retained window are clamped. end < 0 means "through
// the newest completed line".
func (b *Buffer) Lines(start, end int) []Line {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if len(b.lines) == 0 {
		return nil
	}

	base := b.lines[0].Index
	if end < 0 || end > b.next {
		end = b.next
	}
	if start < base {
		start = base
	}
	if start >= end {
		return nil
	}

	out := make([]Line, end-start)
	copy(out, b.lines[start-base:end-base])
	return out
}

// Output concatenates the lines in [start, end). When end < 0 the range is
// open-ended and the partial line is appended.
func (b *Buffer) Output(start, end int) string {
	openEnded := end < 0
	lines := b.Lines(start, end)

	var sb strings.Builder
	for _, l := range lines {
		sb.WriteString(l.Text)
		sb.WriteByte('\n')
	}

	if openEnded {
		b.mu.RLock()
		sb.WriteString(b.partial)
		b.mu.RUnlock()
	}

	return sb.String()
}

// Mark bookmarks the buffer position for a command about to be submitted
// and returns that position. The echoed command itself lands on the
// bookmarked line, so completion scanning must begin at bookmark+1.
func (b *Buffer) Mark() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.next
}

// StripANSI removes terminal escape sequences, preserving newlines and tabs.
func StripANSI(s string) string {
	return ansiRegex.ReplaceAllString(s, "")
}
