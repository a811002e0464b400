package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/suhailma1ik/clipify/internal/config"
	"github.com/suhailma1ik/clipify/internal/logger"
	"github.com/zalando/go-keyring"
	"go.uber.org/zap"
)

// ErrNotFound is returned by Vault.Get for absent keys.
var ErrNotFound = errors.New("vault: key not found")

// Vault is the at-rest persistence capability behind the token store.
// Deleting an absent key is not an error.
type Vault interface {
	Set(key, value string) error
	Get(key string) (string, error)
	Delete(key string) error
}

// BatchVault is implemented by vaults that can replace several keys in one
// atomic write. A nil map value deletes the key.
type BatchVault interface {
	Vault
	SetAll(entries map[string]*string) error
}

// NewVault probes the platform keyring with a write/read/delete round trip
// and falls back to a file vault when the keyring is unavailable. Callers
// must not assume anything about how values are stored.
func NewVault(cfg *config.StorageConfig) (Vault, error) {
	if !cfg.DisableKeyring && probeKeyring(cfg.ServiceName) {
		logger.Debug("Using system keyring for credential storage", zap.String("service", cfg.ServiceName))
		return &keyringVault{service: cfg.ServiceName}, nil
	}

	dir := cfg.Dir
	if dir == "" {
		base, err := os.UserConfigDir()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve config dir for credential storage: %w", err)
		}
		dir = filepath.Join(base, "clipify")
	}

	logger.Warn("System keyring unavailable, storing credentials in a local file",
		zap.String("dir", dir))
	return newFileVault(filepath.Join(dir, "credentials.json"))
}

func probeKeyring(service string) bool {
	probe := "probe_" + uuid.NewString()
	if err := keyring.Set(service, probe, "ok"); err != nil {
		return false
	}
	_ = keyring.Delete(service, probe)
	return true
}

// keyringVault stores each value as its own keyring entry. Multi-key writes
// are not atomic here; the store documents that window.
type keyringVault struct {
	service string
}

func (v *keyringVault) Set(key, value string) error {
	return keyring.Set(v.service, key, value)
}

func (v *keyringVault) Get(key string) (string, error) {
	value, err := keyring.Get(v.service, key)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

func (v *keyringVault) Delete(key string) error {
	err := keyring.Delete(v.service, key)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil
	}
	return err
}

// fileVault keeps all keys in one JSON document, replaced atomically via a
// temp file and rename. It relies on 0600 permissions; values are only as
// protected as the underlying filesystem.
type fileVault struct {
	mu      sync.Mutex
	path    string
	entries map[string]string
}

func newFileVault(path string) (*fileVault, error) {
	v := &fileVault{path: path, entries: make(map[string]string)}

	raw, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// first run
	case err != nil:
		return nil, fmt.Errorf("failed to read credential file: %w", err)
	default:
		if err := json.Unmarshal(raw, &v.entries); err != nil {
			// Corrupt file: start over rather than wedging every auth call.
			logger.Warn("Credential file is corrupt, resetting", zap.String("path", path), zap.Error(err))
			v.entries = make(map[string]string)
		}
	}
	return v, nil
}

func (v *fileVault) Set(key, value string) error {
	return v.SetAll(map[string]*string{key: &value})
}

func (v *fileVault) Get(key string) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	value, ok := v.entries[key]
	if !ok {
		return "", ErrNotFound
	}
	return value, nil
}

func (v *fileVault) Delete(key string) error {
	return v.SetAll(map[string]*string{key: nil})
}

func (v *fileVault) SetAll(entries map[string]*string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	for key, value := range entries {
		if value == nil {
			delete(v.entries, key)
		} else {
			v.entries[key] = *value
		}
	}
	return v.flushLocked()
}

func (v *fileVault) flushLocked() error {
	raw, err := json.MarshalIndent(v.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal credential file: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(v.path), 0o700); err != nil {
		return fmt.Errorf("failed to create credential dir: %w", err)
	}

	tmp := v.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("failed to write credential file: %w", err)
	}
	if err := os.Rename(tmp, v.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to replace credential file: %w", err)
	}
	return nil
}
