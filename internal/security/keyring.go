// Package security resolves and caches the credentials the completion
// engine needs mid-command: SSH login passwords and sudo passwords. The OS
// keyring is preferred; environment variables named in the server config are
// the fallback for headless machines.
package security

import (
	"encoding/base64"
	"fmt"
	"log/slog"
	"sync"

	"github.com/zalando/go-keyring"
)

// KeyringService is the service name used for keyring entries.
const KeyringService = "remote-shell-mcp"

// credential kinds used as keyring key prefixes.
const (
	kindLogin = "login"
	kindSudo  = "sudo"
)

// KeyringStore reads and writes credentials in the system keyring (macOS
// Keychain, Linux Secret Service, Windows Credential Manager). When no
// keyring backend is available every operation reports not-available and
// callers fall through to environment variables.
type KeyringStore struct {
	mu      sync.RWMutex
	enabled bool
}

// NewKeyringStore probes the system keyring and returns a store that is
// disabled when no backend responds.
func NewKeyringStore() *KeyringStore {
	ks := &KeyringStore{enabled: true}

	probe := "__remote_shell_mcp_probe__"
	if err := keyring.Set(KeyringService, probe, "probe"); err != nil {
		slog.Debug("keyring not available, falling back to environment",
			slog.String("error", err.Error()),
		)
		ks.enabled = false
		return ks
	}
	_ = keyring.Delete(KeyringService, probe)

	slog.Debug("keyring storage enabled")
	return ks
}

// IsEnabled reports whether a keyring backend is available.
func (ks *KeyringStore) IsEnabled() bool {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	return ks.enabled
}

// SetEnabled toggles keyring use, honoring the security.use_keyring config.
func (ks *KeyringStore) SetEnabled(enabled bool) {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	ks.enabled = enabled
}

func entryKey(kind, host, user string) string {
	return fmt.Sprintf("%s:%s@%s", kind, user, host)
}

func (ks *KeyringStore) set(kind, host, user string, secret []byte) error {
	if !ks.IsEnabled() {
		return fmt.Errorf("keyring not available")
	}
	encoded := base64.StdEncoding.EncodeToString(secret)
	if err := keyring.Set(KeyringService, entryKey(kind, host, user), encoded); err != nil {
		return fmt.Errorf("store %s credential: %w", kind, err)
	}
	return nil
}

func (ks *KeyringStore) get(kind, host, user string) ([]byte, error) {
	if !ks.IsEnabled() {
		return nil, nil
	}
	encoded, err := keyring.Get(KeyringService, entryKey(kind, host, user))
	if err != nil {
		if err == keyring.ErrNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("get %s credential: %w", kind, err)
	}
	secret, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode %s credential: %w", kind, err)
	}
	return secret, nil
}

func (ks *KeyringStore) delete(kind, host, user string) error {
	if !ks.IsEnabled() {
		return nil
	}
	if err := keyring.Delete(KeyringService, entryKey(kind, host, user)); err != nil && err != keyring.ErrNotFound {
		return fmt.Errorf("delete %s credential: %w", kind, err)
	}
	return nil
}

// StoreLoginPassword stores an SSH login password.
func (ks *KeyringStore) StoreLoginPassword(host, user string, password []byte) error {
	return ks.set(kindLogin, host, user, password)
}

// GetLoginPassword retrieves an SSH login password, nil when absent.
func (ks *KeyringStore) GetLoginPassword(host, user string) ([]byte, error) {
	return ks.get(kindLogin, host, user)
}

// DeleteLoginPassword removes an SSH login password.
func (ks *KeyringStore) DeleteLoginPassword(host, user string) error {
	return ks.delete(kindLogin, host, user)
}

// StoreSudoPassword stores a sudo password.
func (ks *KeyringStore) StoreSudoPassword(host, user string, password []byte) error {
	return ks.set(kindSudo, host, user, password)
}

// GetSudoPassword retrieves a sudo password, nil when absent.
func (ks *KeyringStore) GetSudoPassword(host, user string) ([]byte, error) {
	return ks.get(kindSudo, host, user)
}

// DeleteSudoPassword removes a sudo password.
func (ks *KeyringStore) DeleteSudoPassword(host, user string) error {
	return ks.delete(kindSudo, host, user)
}
