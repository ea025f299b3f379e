// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrLockTimeout is returned when file lock acquisition times out.
var ErrLockTimeout = errors.New("config: settings file locked by another process")

const lockTimeout = 5 * time.Second

// OperatorSettings is the on-disk record of an operator's registered
// hashed API keys (bcrypt digest only — never the plaintext key).
type OperatorSettings struct {
	Version int                 `yaml:"version,omitempty"`
	APIKeys []OperatorAPIKeyRef `yaml:"api_keys,omitempty"`
}

// OperatorAPIKeyRef records metadata about a registered API key.
type OperatorAPIKeyRef struct {
	Label      string   `yaml:"label"`
	HashedKey  string   `yaml:"hashed_key"`
	Scopes     []string `yaml:"scopes,omitempty"`
	CreatedAt  string   `yaml:"created_at,omitempty"`
}

// SettingsFile manages settings.yaml with flock-based mutual exclusion so
// concurrent forgectl invocations cannot corrupt it.
type SettingsFile struct {
	path     string
	lockFile *os.File
}

// SettingsPath returns the full path to settings.yaml.
func SettingsPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "settings.yaml"), nil
}

// NewSettingsFile opens a SettingsFile at path, or the default location if
// path is empty.
func NewSettingsFile(path string) (*SettingsFile, error) {
	if path == "" {
		var err error
		path, err = SettingsPath()
		if err != nil {
			return nil, fmt.Errorf("resolve settings path: %w", err)
		}
	}
	return &SettingsFile{path: path}, nil
}

// Lock acquires an exclusive lock, polling every 100ms up to lockTimeout.
func (s *SettingsFile) Lock() error {
	lockPath := s.path + ".lock"
	if err := os.MkdirAll(filepath.Dir(lockPath), 0700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	lockFile, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}

	deadline := time.Now().Add(lockTimeout)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		if err := syscall.Flock(int(lockFile.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err == nil {
			s.lockFile = lockFile
			return nil
		}
		if time.Now().After(deadline) {
			lockFile.Close()
			return ErrLockTimeout
		}
		<-ticker.C
	}
}

// Unlock releases the file lock.
func (s *SettingsFile) Unlock() error {
	if s.lockFile == nil {
		return nil
	}
	if err := syscall.Flock(int(s.lockFile.Fd()), syscall.LOCK_UN); err != nil {
		s.lockFile.Close()
		s.lockFile = nil
		return fmt.Errorf("unlock settings file: %w", err)
	}
	err := s.lockFile.Close()
	s.lockFile = nil
	return err
}

// Load reads the settings file. The caller must hold the lock.
func (s *SettingsFile) Load() (*OperatorSettings, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return &OperatorSettings{Version: 1}, nil
		}
		return nil, fmt.Errorf("read settings file: %w", err)
	}
	var settings OperatorSettings
	if err := yaml.Unmarshal(data, &settings); err != nil {
		return nil, fmt.Errorf("parse settings YAML: %w", err)
	}
	return &settings, nil
}

// Save atomically writes settings via a temp-file-then-rename, so a crash
// mid-write never leaves a truncated settings.yaml. The caller must hold
// the lock.
func (s *SettingsFile) Save(settings *OperatorSettings) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	tempPath := s.path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		return fmt.Errorf("write temp settings file: %w", err)
	}
	if err := os.Rename(tempPath, s.path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("rename temp settings file: %w", err)
	}
	return nil
}

// WithLock runs fn while holding the exclusive lock.
func (s *SettingsFile) WithLock(fn func() error) error {
	if err := s.Lock(); err != nil {
		return err
	}
	defer s.Unlock()
	return fn()
}

// LoadSettings loads settings.yaml with automatic locking.
func LoadSettings(path string) (*OperatorSettings, error) {
	sf, err := NewSettingsFile(path)
	if err != nil {
		return nil, err
	}
	var settings *OperatorSettings
	err = sf.WithLock(func() error {
		var loadErr error
		settings, loadErr = sf.Load()
		return loadErr
	})
	if err != nil {
		return nil, err
	}
	return settings, nil
}

// SaveSettings saves settings.yaml with automatic locking.
func SaveSettings(path string, settings *OperatorSettings) error {
	sf, err := NewSettingsFile(path)
	if err != nil {
		return err
	}
	return sf.WithLock(func() error {
		return sf.Save(settings)
	})
}
