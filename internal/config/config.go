// Package config persists the bridge settings as a JSON file under the
// user's config directory. Credential fields are encrypted at rest through
// the secret store; everything else is stored as written.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/clawdesk/clawdesk/internal/secret"
)

const (
	settingsFile = "gateway.json"
	keyFile      = ".gateway_key"
)

// Settings is everything the bridge persists between runs. Credential
// fields hold plaintext in memory; they are encrypted only on their way to
// disk.
type Settings struct {
	GatewayWSURL    string `json:"gateway_ws_url"`
	GatewayToken    string `json:"gateway_token,omitempty"`
	GatewayPassword string `json:"gateway_password,omitempty"`
	AutoLogin       bool   `json:"auto_login"`

	SSHEnabled  bool   `json:"ssh_enabled"`
	SSHUsername string `json:"ssh_username,omitempty"`
	SSHServer   string `json:"ssh_server,omitempty"`
	SSHPassword string `json:"ssh_password,omitempty"`

	CurrentSession   string `json:"current_session,omitempty"`
	ChatShowThinking bool   `json:"chat_show_thinking"`
}

// Store reads and writes the settings file. All access goes through the
// store so concurrent updates from API handlers serialize on one lock.
type Store struct {
	baseDir string
	secrets *secret.Store
	logger  *zap.Logger

	mu sync.Mutex
}

// DefaultBaseDir is the per-user config directory.
func DefaultBaseDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".clawdesk"
	}
	return filepath.Join(home, ".clawdesk")
}

func NewStore(baseDir string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(baseDir, 0o700); err != nil {
		return nil, fmt.Errorf("create config directory: %w", err)
	}
	if info, err := os.Stat(baseDir); err == nil && info.Mode().Perm()&0o077 != 0 {
		_ = os.Chmod(baseDir, 0o700)
	}
	return &Store{
		baseDir: baseDir,
		secrets: secret.NewStore(filepath.Join(baseDir, keyFile)),
		logger:  logger,
	}, nil
}

// Secrets exposes the credential store backing this config directory.
func (s *Store) Secrets() *secret.Store {
	return s.secrets
}

func (s *Store) settingsPath() string {
	return filepath.Join(s.baseDir, settingsFile)
}

// Load reads the settings file and decrypts credential fields. A missing
// file yields zero-value settings. A credential that cannot be decrypted is
// blanked and logged rather than failing the whole load; the user re-enters
// it.
func (s *Store) Load() (Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

func (s *Store) loadLocked() (Settings, error) {
	data, err := os.ReadFile(s.settingsPath())
	if errors.Is(err, fs.ErrNotExist) {
		return Settings{}, nil
	}
	if err != nil {
		return Settings{}, fmt.Errorf("read settings: %w", err)
	}

	var settings Settings
	if err := json.Unmarshal(data, &settings); err != nil {
		return Settings{}, fmt.Errorf("parse settings: %w", err)
	}

	settings.GatewayToken = s.reveal("gateway_token", settings.GatewayToken)
	settings.GatewayPassword = s.reveal("gateway_password", settings.GatewayPassword)
	settings.SSHPassword = s.reveal("ssh_password", settings.SSHPassword)
	return settings, nil
}

// reveal decrypts one credential field. Field names are logged; values
// never are.
func (s *Store) reveal(field, value string) string {
	if value == "" {
		return ""
	}
	if !secret.IsEncrypted(value) {
		s.logger.Warn("credential stored in plaintext, will be encrypted on next save",
			zap.String("field", field))
		return value
	}
	plain, err := s.secrets.Decrypt(value)
	if err != nil {
		s.logger.Warn("credential could not be decrypted",
			zap.String("field", field),
			zap.Error(err))
		return ""
	}
	return plain
}

// Save encrypts credential fields and writes the settings file with 0600
// permissions. If encryption fails the value is written as-is so the user
// does not silently lose a working credential; the degraded state is
// logged.
func (s *Store) Save(settings Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(settings)
}

func (s *Store) saveLocked(settings Settings) error {
	onDisk := settings
	onDisk.GatewayToken = s.conceal("gateway_token", settings.GatewayToken)
	onDisk.GatewayPassword = s.conceal("gateway_password", settings.GatewayPassword)
	onDisk.SSHPassword = s.conceal("ssh_password", settings.SSHPassword)

	data, err := json.MarshalIndent(onDisk, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	tmp := s.settingsPath() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	if err := os.Rename(tmp, s.settingsPath()); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("write settings: %w", err)
	}
	return nil
}

func (s *Store) conceal(field, value string) string {
	if value == "" {
		return ""
	}
	enc, err := s.secrets.Encrypt(value)
	if err != nil {
		s.logger.Warn("credential encryption failed, storing plaintext",
			zap.String("field", field),
			zap.Error(err))
		return value
	}
	return enc
}

// Update loads, applies mutate, and saves in one critical section.
func (s *Store) Update(mutate func(*Settings)) (Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	settings, err := s.loadLocked()
	if err != nil {
		return Settings{}, err
	}
	mutate(&settings)
	if err := s.saveLocked(settings); err != nil {
		return Settings{}, err
	}
	return settings, nil
}
