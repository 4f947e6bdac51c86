package security

import (
	"log/slog"
	"os"

	"github.com/acolita/remote-shell-mcp/internal/config"
	"github.com/acolita/remote-shell-mcp/internal/ports"
)

// Resolver answers "what password do I type right now" for login and sudo
// prompts. Lookup order: in-memory sudo cache, OS keyring, then the
// environment variable named in the matching server config entry.
type Resolver struct {
	cfg     *config.Config
	keyring *KeyringStore
	sudo    *SudoCache
}

// NewResolver creates a resolver over the given config.
func NewResolver(cfg *config.Config, clock ports.Clock) *Resolver {
	var ks *KeyringStore
	if cfg.Security.UseKeyring {
		ks = NewKeyringStore()
	} else {
		ks = &KeyringStore{}
	}
	return &Resolver{
		cfg:     cfg,
		keyring: ks,
		sudo:    NewSudoCache(cfg.Security.SudoCacheTTL, WithSudoCacheClock(clock)),
	}
}

// Keyring exposes the underlying keyring store.
func (r *Resolver) Keyring() *KeyringStore { return r.keyring }

// LoginPassword returns the SSH login password for host+user, or nil when
// none is configured anywhere.
func (r *Resolver) LoginPassword(host, user string) []byte {
	if pw, err := r.keyring.GetLoginPassword(host, user); err != nil {
		slog.Warn("keyring lookup failed", slog.String("error", err.Error()))
	} else if pw != nil {
		return pw
	}

	if srv, ok := r.cfg.ServerFor(host); ok && srv.PasswordEnv != "" {
		if v := os.Getenv(srv.PasswordEnv); v != "" {
			return []byte(v)
		}
	}
	return nil
}

// SudoPassword returns the sudo password for host+user, or nil when none is
// configured. Successful lookups populate the TTL cache so repeated sudo
// prompts inside one command do not hit the keyring each time.
func (r *Resolver) SudoPassword(host, user string) []byte {
	if pw := r.sudo.Get(host, user); pw != nil {
		return pw
	}

	if pw, err := r.keyring.GetSudoPassword(host, user); err != nil {
		slog.Warn("keyring lookup failed", slog.String("error", err.Error()))
	} else if pw != nil {
		r.sudo.Set(host, user, pw)
		return pw
	}

	if srv, ok := r.cfg.ServerFor(host); ok {
		env := srv.SudoPasswordEnv
		if env == "" {
			// Most setups reuse the login password for sudo.
			env = srv.PasswordEnv
		}
		if env != "" {
			if v := os.Getenv(env); v != "" {
				pw := []byte(v)
				r.sudo.Set(host, user, pw)
				return pw
			}
		}
	}
	return nil
}

// ForgetSudo wipes the cached sudo password for host+user, used when an
// auto-answered password is rejected.
func (r *Resolver) ForgetSudo(host, user string) {
	r.sudo.Clear(host, user)
}

// Shutdown wipes all cached credentials.
func (r *Resolver) Shutdown() {
	r.sudo.ClearAll()
}
