package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "provider.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_ValidDocument(t *testing.T) {
	path := writeConfig(t, t.TempDir(), `
slots:
  - label: "token-0"
    keyRing: "projects/p/locations/l/keyRings/kr"
    refreshOnOpen: true
metrics:
  enabled: true
  addr: ":9090"
log:
  level: "info"
  format: "json"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Len(t, cfg.Slots, 1)
	require.Equal(t, "token-0", cfg.Slots[0].Label)
	require.True(t, cfg.Slots[0].RefreshOnOpen)
	require.True(t, cfg.Metrics.Enabled)
}

func TestLoad_RejectsNoSlots(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "slots: []\n")
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoad_RejectsMissingKeyRing(t *testing.T) {
	path := writeConfig(t, t.TempDir(), `
slots:
  - label: "token-0"
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestWatch_ReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `
slots:
  - label: "token-0"
    keyRing: "projects/p/locations/l/keyRings/kr1"
`)

	logger := logrus.New()
	logger.SetOutput(testDiscard{})
	stop := make(chan struct{})
	changed := make(chan *ProviderConfig, 1)

	done := make(chan error, 1)
	go func() {
		done <- Watch(path, logger, stop, func(cfg *ProviderConfig) {
			changed <- cfg
		})
	}()

	// Give the watcher time to register before the write fires.
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte(`
slots:
  - label: "token-0"
    keyRing: "projects/p/locations/l/keyRings/kr2"
`), 0o644))

	select {
	case cfg := <-changed:
		require.Equal(t, "projects/p/locations/l/keyRings/kr2", cfg.Slots[0].KeyRing)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for config reload")
	}

	close(stop)
	require.NoError(t, <-done)
}

type testDiscard struct{}

func (testDiscard) Write(p []byte) (int, error) { return len(p), nil }
