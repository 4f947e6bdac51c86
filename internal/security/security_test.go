package security

import (
	"bytes"
	"testing"
	"time"

	"github.com/acolita/remote-shell-mcp/internal/config"
	"github.com/acolita/remote-shell-mcp/internal/testing/fakes/fakeclock"
)

func TestWipeBytes(t *testing.T) {
	data := []byte("s3cret")
	WipeBytes(data)
	for i, b := range data {
		if b != 0 {
			t.Fatalf("byte %d = %#x after wipe, want 0", i, b)
		}
	}
	// Must not panic on empty or nil.
	WipeBytes(nil)
	WipeBytes([]byte{})
}

func TestSudoCache_SetGet(t *testing.T) {
	clock := fakeclock.New(time.Now())
	c := NewSudoCache(5*time.Minute, WithSudoCacheClock(clock))

	c.Set("web01", "alice", []byte("hunter2"))

	got := c.Get("web01", "alice")
	if !bytes.Equal(got, []byte("hunter2")) {
		t.Errorf("Get() = %q, want %q", got, "hunter2")
	}
	if c.Get("web01", "bob") != nil {
		t.Error("Get() for other user returned a password")
	}
	if c.Get("web02", "alice") != nil {
		t.Error("Get() for other host returned a password")
	}
}

func TestSudoCache_ReturnsCopy(t *testing.T) {
	clock := fakeclock.New(time.Now())
	c := NewSudoCache(5*time.Minute, WithSudoCacheClock(clock))

	c.Set("web01", "alice", []byte("hunter2"))
	first := c.Get("web01", "alice")
	WipeBytes(first)

	second := c.Get("web01", "alice")
	if !bytes.Equal(second, []byte("hunter2")) {
		t.Errorf("Get() after wiping a returned copy = %q, want %q", second, "hunter2")
	}
}

func TestSudoCache_Expiry(t *testing.T) {
	clock := fakeclock.New(time.Now())
	c := NewSudoCache(5*time.Minute, WithSudoCacheClock(clock))

	c.Set("web01", "alice", []byte("hunter2"))
	clock.Advance(4 * time.Minute)
	if c.Get("web01", "alice") == nil {
		t.Fatal("entry expired before TTL")
	}

	clock.Advance(2 * time.Minute)
	if got := c.Get("web01", "alice"); got != nil {
		t.Errorf("Get() after TTL = %q, want nil", got)
	}
}

func TestSudoCache_Clear(t *testing.T) {
	clock := fakeclock.New(time.Now())
	c := NewSudoCache(5*time.Minute, WithSudoCacheClock(clock))

	c.Set("web01", "alice", []byte("a"))
	c.Set("db01", "alice", []byte("b"))

	c.Clear("web01", "alice")
	if c.Get("web01", "alice") != nil {
		t.Error("cleared entry still present")
	}
	if c.Get("db01", "alice") == nil {
		t.Error("Clear removed an unrelated entry")
	}

	c.ClearAll()
	if c.Get("db01", "alice") != nil {
		t.Error("entry survived ClearAll")
	}
}

func newTestResolver(t *testing.T) *Resolver {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Security.UseKeyring = false
	cfg.Servers = []config.ServerConfig{
		{
			Name:            "web",
			Host:            "web01.example.com",
			User:            "alice",
			PasswordEnv:     "TEST_SSH_PW",
			SudoPasswordEnv: "TEST_SUDO_PW",
		},
		{Name: "db", Host: "db01.example.com", User: "alice", PasswordEnv: "TEST_SSH_PW"},
	}
	return NewResolver(cfg, fakeclock.New(time.Now()))
}

func TestResolver_LoginPasswordFromEnv(t *testing.T) {
	r := newTestResolver(t)
	t.Setenv("TEST_SSH_PW", "login-pw")

	got := r.LoginPassword("web01.example.com", "alice")
	if !bytes.Equal(got, []byte("login-pw")) {
		t.Errorf("LoginPassword() = %q, want %q", got, "login-pw")
	}
	if r.LoginPassword("unknown.host", "alice") != nil {
		t.Error("LoginPassword() for unconfigured host returned a password")
	}
}

func TestResolver_SudoPasswordDedicatedEnv(t *testing.T) {
	r := newTestResolver(t)
	t.Setenv("TEST_SSH_PW", "login-pw")
	t.Setenv("TEST_SUDO_PW", "sudo-pw")

	got := r.SudoPassword("web01.example.com", "alice")
	if !bytes.Equal(got, []byte("sudo-pw")) {
		t.Errorf("SudoPassword() = %q, want %q", got, "sudo-pw")
	}
}

func TestResolver_SudoPasswordFallsBackToLoginEnv(t *testing.T) {
	r := newTestResolver(t)
	t.Setenv("TEST_SSH_PW", "login-pw")

	got := r.SudoPassword("db01.example.com", "alice")
	if !bytes.Equal(got, []byte("login-pw")) {
		t.Errorf("SudoPassword() = %q, want %q", got, "login-pw")
	}
}

func TestResolver_SudoPasswordCached(t *testing.T) {
	r := newTestResolver(t)
	t.Setenv("TEST_SUDO_PW", "sudo-pw")

	if got := r.SudoPassword("web01.example.com", "alice"); got == nil {
		t.Fatal("initial lookup failed")
	}

	// A cache hit must not depend on the environment anymore.
	t.Setenv("TEST_SUDO_PW", "")
	got := r.SudoPassword("web01.example.com", "alice")
	if !bytes.Equal(got, []byte("sudo-pw")) {
		t.Errorf("cached SudoPassword() = %q, want %q", got, "sudo-pw")
	}

	r.ForgetSudo("web01.example.com", "alice")
	if r.SudoPassword("web01.example.com", "alice") != nil {
		t.Error("SudoPassword() after ForgetSudo with empty env returned a password")
	}
}

func TestResolver_Shutdown(t *testing.T) {
	r := newTestResolver(t)
	t.Setenv("TEST_SUDO_PW", "sudo-pw")

	r.SudoPassword("web01.example.com", "alice")
	r.Shutdown()

	t.Setenv("TEST_SUDO_PW", "")
	if r.SudoPassword("web01.example.com", "alice") != nil {
		t.Error("sudo cache survived Shutdown")
	}
}

func TestKeyringStore_DisabledIsInert(t *testing.T) {
	ks := &KeyringStore{}
	if ks.IsEnabled() {
		t.Fatal("zero-value store reports enabled")
	}
	if err := ks.StoreSudoPassword("h", "u", []byte("x")); err == nil {
		t.Error("StoreSudoPassword on disabled store succeeded, want error")
	}
	pw, err := ks.GetSudoPassword("h", "u")
	if pw != nil || err != nil {
		t.Errorf("GetSudoPassword on disabled store = %q, %v; want nil, nil", pw, err)
	}
}
