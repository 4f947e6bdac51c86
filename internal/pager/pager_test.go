package pager

import "testing"

func TestDetectLine(t *testing.T) {
	tests := []struct {
		name     string
		line     string
		wantKind Kind
		wantKeys string
		wantOK   bool
	}{
		{"sudo password", "[sudo] password for alice:", KindCredential, "", true},
		{"ssh password", "alice's password: ", KindCredential, "", true},
		{"ssh remote password", "alice@10.0.0.5's password: ", KindCredential, "", true},
		{"password mid-sentence", "password rules are strict", KindCredential, "", false},
		{"less at end", "(END)", KindQuit, "q", true},
		{"less percent", "lines 1-24", KindContinue, " ", true},
		{"more", "--More--", KindContinue, " ", true},
		{"bare colon", ":", KindContinue, " ", true},
		{"colon with spaces", ":   ", KindContinue, " ", true},
		{"plain output", "total 48", 0, "", false},
		{"empty", "", 0, "", false},
		{"colon in text", "note: remember this", 0, "", false},
		{"banner with at-sign never a pager", "motd from admin@corp --More--", 0, "", false},
		{"password mention never a pager", "see PASSWORD handling --More--", 0, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			act, ok := DetectLine(tt.line)
			if ok != tt.wantOK {
				t.Fatalf("DetectLine(%q) ok = %v, want %v", tt.line, ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if act.Kind != tt.wantKind {
				t.Errorf("kind = %v, want %v", act.Kind, tt.wantKind)
			}
			if act.Keys != tt.wantKeys {
				t.Errorf("keys = %q, want %q", act.Keys, tt.wantKeys)
			}
		})
	}
}

func TestDetectLine_PasswordBeforePager(t *testing.T) {
	// A line that could read as both must resolve as credential; sending a
	// space into a password prompt corrupts the input.
	act, ok := DetectLine("lines 1-10 password:")
	if !ok || act.Kind != KindCredential {
		t.Errorf("got %+v ok=%v, want credential", act, ok)
	}
}

func TestDetect_PartialFirst(t *testing.T) {
	// The partial line wins over the last completed line.
	act, ok := Detect("(END)", "--More--")
	if !ok || act.Keys != "q" {
		t.Errorf("got %+v ok=%v, want quit from partial", act, ok)
	}

	// Falls back to the last completed line when the partial is quiet.
	act, ok = Detect("", "--More--")
	if !ok || act.Keys != " " {
		t.Errorf("got %+v ok=%v, want continue from last line", act, ok)
	}

	if _, ok := Detect("", ""); ok {
		t.Error("Detect on empty tail should not match")
	}

	// A busy partial line suppresses the fallback: once the pager banner
	// scrolled into a completed line, whatever sits on the partial line is
	// what the terminal is waiting on.
	if _, ok := Detect("alice@web01:~$ ", "(END)"); ok {
		t.Error("Detect matched a stale pager line behind a busy partial")
	}
}
