package test

import (
	"bufio"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kenneth/kms-token-provider/internal/fakekms"
)

// FakeKMSServer is a running fake KMS subprocess.
type FakeKMSServer struct {
	Addr   string
	Client *fakekms.Client
	cmd    *exec.Cmd
	once   sync.Once
}

var (
	fakeKMSServer *FakeKMSServer
	fakeKMSOnce   sync.Once
	fakeKMSError  error
)

// StartFakeKMS starts (once per test binary) a fakekms subprocess and
// returns the shared instance. Unlike StartGarageServer it never skips the
// test: the fake KMS is pure in-memory and ships with this module, so it has
// no "binary not found" failure mode to degrade to.
func StartFakeKMS(t *testing.T) *FakeKMSServer {
	t.Helper()

	fakeKMSOnce.Do(func() {
		exec.Command("pkill", "-f", "cmd/fakekms").Run()

		cmd := exec.Command("go", "run", "github.com/kenneth/kms-token-provider/cmd/fakekms")
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			fakeKMSError = fmt.Errorf("fakekms: stdout pipe: %w", err)
			return
		}
		cmd.Stderr = nil

		if err := cmd.Start(); err != nil {
			fakeKMSError = fmt.Errorf("fakekms: start: %w", err)
			return
		}

		banner := make(chan string, 1)
		scanErr := make(chan error, 1)
		go func() {
			scanner := bufio.NewScanner(stdout)
			if scanner.Scan() {
				banner <- strings.TrimSpace(scanner.Text())
				return
			}
			scanErr <- scanner.Err()
		}()

		var addr string
		select {
		case addr = <-banner:
		case err := <-scanErr:
			cmd.Process.Kill()
			fakeKMSError = fmt.Errorf("fakekms: read banner: %w", err)
			return
		case <-time.After(30 * time.Second):
			cmd.Process.Kill()
			fakeKMSError = fmt.Errorf("fakekms: timed out waiting for banner")
			return
		}

		fakeKMSServer = &FakeKMSServer{
			Addr:   addr,
			Client: fakekms.NewClient("http://" + addr),
			cmd:    cmd,
		}
	})

	if fakeKMSError != nil {
		t.Fatalf("fake KMS setup failed: %v", fakeKMSError)
		return nil
	}

	return fakeKMSServer
}

// Stop forcibly terminates the fake KMS subprocess. Safe to call multiple
// times; only the first call has effect.
func (s *FakeKMSServer) Stop() {
	s.once.Do(func() {
		if s.cmd != nil && s.cmd.Process != nil {
			s.cmd.Process.Kill()
		}
	})
}
