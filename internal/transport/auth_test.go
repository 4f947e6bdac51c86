package transport

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestBuildAuthMethods_PasswordOnly(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	methods, err := BuildAuthMethods(AuthConfig{Password: "hunter2"})
	if err != nil {
		t.Fatalf("BuildAuthMethods: %v", err)
	}
	// Password plus keyboard-interactive, for servers that only offer the
	// latter.
	if len(methods) != 2 {
		t.Errorf("len(methods) = %d, want 2", len(methods))
	}
}

func TestBuildAuthMethods_NoneAvailable(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("SSH_AUTH_SOCK", "")

	if _, err := BuildAuthMethods(AuthConfig{}); err == nil {
		t.Fatal("BuildAuthMethods with no material succeeded, want error")
	}
}

func TestBuildAuthMethods_MissingKeyFile(t *testing.T) {
	_, err := BuildAuthMethods(AuthConfig{KeyPath: "/nonexistent/id_ed25519"})
	if err == nil {
		t.Fatal("BuildAuthMethods with missing key succeeded, want error")
	}
	if !strings.Contains(err.Error(), "private key auth") {
		t.Errorf("error = %v, want private key context", err)
	}
}

func TestBuildHostKeyCallback_MissingFileAcceptsAny(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cb, err := BuildHostKeyCallback("")
	if err != nil {
		t.Fatalf("BuildHostKeyCallback: %v", err)
	}
	if err := cb("web01:22", nil, nil); err != nil {
		t.Errorf("first-use callback rejected host: %v", err)
	}
}

func TestExpandPath(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	if got := expandPath("~/.ssh/id_rsa"); got != filepath.Join(home, ".ssh/id_rsa") {
		t.Errorf("expandPath(~/...) = %q", got)
	}
	if got := expandPath("/etc/ssh/key"); got != "/etc/ssh/key" {
		t.Errorf("expandPath(absolute) = %q, want unchanged", got)
	}
}
