// Package config parses the provider's configuration document: the set of
// slots to expose, each bound to one KMS key ring, plus the ambient
// metrics/logging knobs. Parsing uses gopkg.in/yaml.v3, the same library the
// teacher carries for its own backend configuration; hot-reload watches the
// file with fsnotify and re-parses on change.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// SlotConfig describes one token slot: the KMS key ring it exposes and how
// it refreshes.
type SlotConfig struct {
	// Label is the slot's human-readable token label (CKA_LABEL-shaped).
	Label string `yaml:"label"`
	// KeyRing is the full KMS key-ring resource name this slot enumerates.
	KeyRing string `yaml:"keyRing"`
	// RefreshOnOpen forces an ObjectSet refresh whenever a new session is
	// opened. Without it the slot's objects change only on Initialize or an
	// explicit Provider.Refresh; the hot-reload watcher does not refresh slots.
	RefreshOnOpen bool `yaml:"refreshOnOpen"`
	// Certificates lists extra PEM certificate paths for the slot. The
	// provider does not read them: a slot exposes only the key-pair objects
	// KMS provides, and no certificate objects.
	Certificates []string `yaml:"certificates,omitempty"`
}

// MetricsConfig configures the optional metrics HTTP endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// LogConfig configures the provider's logrus output.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "text" or "json"
}

// AuditSinkConfig configures where audit events go.
type AuditSinkConfig struct {
	Type          string            `yaml:"type"` // "stdout" (default), "file", "http"
	Endpoint      string            `yaml:"endpoint,omitempty"`
	Headers       map[string]string `yaml:"headers,omitempty"`
	FilePath      string            `yaml:"filePath,omitempty"`
	BatchSize     int               `yaml:"batchSize,omitempty"`
	FlushInterval time.Duration     `yaml:"flushInterval,omitempty"`
	RetryCount    int               `yaml:"retryCount,omitempty"`
	RetryBackoff  time.Duration     `yaml:"retryBackoff,omitempty"`
}

// AuditConfig configures the provider's audit trail of session lifecycle
// and completed cryptographic operations.
type AuditConfig struct {
	Enabled             bool            `yaml:"enabled"`
	MaxEvents           int             `yaml:"maxEvents"`
	RedactMetadataKeys  []string        `yaml:"redactMetadataKeys,omitempty"`
	Sink                AuditSinkConfig `yaml:"sink"`
}

// ProviderConfig is the top-level configuration document.
type ProviderConfig struct {
	Slots   []SlotConfig  `yaml:"slots"`
	Metrics MetricsConfig `yaml:"metrics"`
	Log     LogConfig     `yaml:"log"`
	Audit   AuditConfig   `yaml:"audit"`
}

// Load reads and parses the configuration document at path.
func Load(path string) (*ProviderConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	var cfg ProviderConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse %s: %w", path, err)
	}
	if len(cfg.Slots) == 0 {
		return nil, fmt.Errorf("config.Load: %s declares no slots", path)
	}
	for i, s := range cfg.Slots {
		if s.KeyRing == "" {
			return nil, fmt.Errorf("config.Load: slot %d (%q) has no keyRing", i, s.Label)
		}
	}
	return &cfg, nil
}

// Watch watches path for writes and re-parses it on every change, invoking
// onChange with the newly parsed document. Parse failures are logged and
// otherwise ignored — the caller keeps running on its last-known-good
// configuration rather than tearing down on a transient editor write.
// Watch blocks until ctx-independent stop is closed; callers run it in its
// own goroutine.
func Watch(path string, logger *logrus.Logger, stop <-chan struct{}, onChange func(*ProviderConfig)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config.Watch: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(path); err != nil {
		return fmt.Errorf("config.Watch: %w", err)
	}

	for {
		select {
		case <-stop:
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := Load(path)
			if err != nil {
				logger.WithError(err).WithField("path", path).Warn("config reload failed, keeping previous configuration")
				continue
			}
			onChange(cfg)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.WithError(err).Warn("config watcher error")
		}
	}
}
