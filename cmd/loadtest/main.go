// Command loadtest drives the token core the way a busy host process would:
// many goroutines (standing in for host threads) opening sessions and
// hammering Sign/Verify/Encrypt/Decrypt concurrently against a slot, for
// spec.md 4.2's thread-safety requirement to mean something more than a
// unit test. It reports throughput and latency percentiles and can compare
// a run against a saved baseline to catch performance regressions.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kenneth/kms-token-provider/internal/adminhttp"
	"github.com/kenneth/kms-token-provider/internal/attrs"
	"github.com/kenneth/kms-token-provider/internal/config"
	"github.com/kenneth/kms-token-provider/internal/fakekms"
	"github.com/kenneth/kms-token-provider/internal/handle"
	"github.com/kenneth/kms-token-provider/internal/mech"
	"github.com/kenneth/kms-token-provider/internal/metrics"
	"github.com/kenneth/kms-token-provider/internal/provider"
	"github.com/kenneth/kms-token-provider/internal/registry"
	"github.com/kenneth/kms-token-provider/internal/session"
)

func main() {
	var (
		kmsAddr        = flag.String("kms-addr", "", "address of a running fake-KMS instance (spawns one of its own when empty)")
		keyRing        = flag.String("key-ring", "projects/p/locations/l/keyRings/r", "KMS key ring the load test's slot enumerates")
		slotLabel      = flag.String("slot-label", "loadtest", "label given to the provider slot under test")
		operation      = flag.String("operation", "mixed", "operation to hammer: sign, verify, encrypt, decrypt, or mixed")
		duration       = flag.Duration("duration", 30*time.Second, "test duration")
		workers        = flag.Int("workers", 8, "number of goroutines issuing requests concurrently")
		qps            = flag.Int("qps", 50, "requests per second per worker")
		baselineDir    = flag.String("baseline-dir", "testdata/baselines", "directory for baseline result files")
		threshold      = flag.Float64("threshold", 10.0, "p99 latency regression threshold, percent")
		updateBaseline = flag.Bool("update-baseline", false, "write this run's results as the new baseline instead of comparing")
		verbose        = flag.Bool("verbose", false, "enable debug logging")
		adminListen    = flag.String("admin-listen", "", "address for the optional admin HTTP surface (/health, /ready, /live, /metrics); disabled when empty")
	)
	flag.Parse()

	logger := logrus.New()
	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
	} else {
		logger.SetLevel(logrus.InfoLevel)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	addr := *kmsAddr
	var spawned *spawnedFakeKMS
	if addr == "" {
		s, err := startFakeKMS(logger)
		if err != nil {
			log.Fatalf("failed to start fake KMS: %v", err)
		}
		spawned = s
		addr = s.addr
		defer spawned.stop()
	}

	go func() {
		<-sigCh
		logger.Info("received interrupt, shutting down")
		if spawned != nil {
			spawned.stop()
		}
		os.Exit(1)
	}()

	if err := os.MkdirAll(*baselineDir, 0755); err != nil {
		log.Fatalf("failed to create baseline directory: %v", err)
	}

	client := fakekms.NewClient("http://" + addr)

	fmt.Println("=== Token Provider Load Test Runner ===")
	fmt.Printf("KMS address: %s\n", addr)
	fmt.Printf("Operation: %s\n", *operation)
	fmt.Printf("Duration: %v\n", *duration)
	fmt.Printf("Workers: %d\n", *workers)
	fmt.Printf("QPS per worker: %d\n", *qps)
	if *adminListen != "" {
		fmt.Printf("Admin HTTP: %s\n", *adminListen)
	}
	fmt.Println()

	cfg := &config.ProviderConfig{
		Slots: []config.SlotConfig{
			{Label: *slotLabel, KeyRing: *keyRing},
		},
	}
	m := metrics.NewMetrics()
	p := provider.New(cfg, client, m, logger)
	ctx := context.Background()
	if err := p.Initialize(ctx); err != nil {
		log.Fatalf("provider initialize failed: %v", err)
	}
	defer p.Finalize()

	if *adminListen != "" {
		admin := adminhttp.New(*adminListen, m, p, logger)
		go func() {
			if err := admin.Start(); err != nil {
				logger.WithError(err).Error("admin HTTP server stopped")
			}
		}()
		defer admin.Stop()
	}

	results, err := run(ctx, p, *operation, *workers, *qps, *duration)
	if err != nil {
		log.Fatalf("load test failed: %v", err)
	}

	results.Print()

	baselineFile := filepath.Join(*baselineDir, fmt.Sprintf("%s_load_test_baseline.json", *operation))
	if *updateBaseline {
		if err := results.saveBaseline(baselineFile); err != nil {
			log.Fatalf("failed to write baseline: %v", err)
		}
		fmt.Println("✅ baseline updated")
		return
	}

	regression, err := compareToBaseline(results, baselineFile, *threshold)
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Println("ℹ️  no baseline found - run with -update-baseline to create one")
			return
		}
		log.Fatalf("regression analysis failed: %v", err)
	}
	regression.Print()

	if regression.Significant {
		fmt.Println("❌ significant regression detected")
		os.Exit(1)
	}
	fmt.Println("✅ load test passed")
}

// spawnedFakeKMS is a fake-KMS subprocess this process owns end to end,
// mirroring test.FakeKMSServer's banner-on-stdout protocol without pulling
// in the testing package.
type spawnedFakeKMS struct {
	addr string
	cmd  *exec.Cmd
	once sync.Once
}

func startFakeKMS(logger *logrus.Logger) (*spawnedFakeKMS, error) {
	cmd := exec.Command("go", "run", "github.com/kenneth/kms-token-provider/cmd/fakekms")
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start: %w", err)
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

	select {
	case addr := <-banner:
		logger.WithField("addr", addr).Info("fake KMS ready")
		return &spawnedFakeKMS{addr: addr, cmd: cmd}, nil
	case err := <-scanErr:
		cmd.Process.Kill()
		return nil, fmt.Errorf("read banner: %w", err)
	case <-time.After(30 * time.Second):
		cmd.Process.Kill()
		return nil, fmt.Errorf("timed out waiting for banner")
	}
}

func (s *spawnedFakeKMS) stop() {
	s.once.Do(func() {
		if s.cmd != nil && s.cmd.Process != nil {
			s.cmd.Process.Kill()
		}
	})
}

// --- worker pool -----------------------------------------------------------

// sample is one completed request's outcome.
type sample struct {
	latency time.Duration
	err     error
}

// Results aggregates every sample collected during one run.
type Results struct {
	Operation string        `json:"operation"`
	Duration  time.Duration `json:"duration_ns"`
	Total     int           `json:"total"`
	Failures  int           `json:"failures"`
	Latencies []time.Duration `json:"-"`
	P50       time.Duration `json:"p50_ns"`
	P95       time.Duration `json:"p95_ns"`
	P99       time.Duration `json:"p99_ns"`
	Max       time.Duration `json:"max_ns"`
	Throughput float64      `json:"throughput_rps"`
}

func run(ctx context.Context, p *provider.Provider, operation string, workers, qps int, duration time.Duration) (*Results, error) {
	sess, err := p.OpenSession(ctx, 0, session.FlagSerial|session.FlagReadWrite)
	if err != nil {
		return nil, fmt.Errorf("open discovery session: %w", err)
	}
	priv, pub, err := findKeyPair(p, sess)
	if err != nil {
		return nil, err
	}
	ciphertext, err := prepareCiphertext(p, sess, pub)
	if err != nil {
		return nil, fmt.Errorf("prepare decrypt fixture: %w", err)
	}
	if err := p.CloseSession(sess); err != nil {
		return nil, fmt.Errorf("close discovery session: %w", err)
	}

	var wg sync.WaitGroup
	samples := make(chan sample, workers*qps*2)
	stop := time.After(duration)
	var total, failures int64

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			runWorker(ctx, p, operation, priv, pub, ciphertext, qps, stop, samples, &total, &failures)
		}(i)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	results := &Results{Operation: operation, Duration: duration}
collect:
	for {
		select {
		case s := <-samples:
			results.Latencies = append(results.Latencies, s.latency)
		case <-done:
			for {
				select {
				case s := <-samples:
					results.Latencies = append(results.Latencies, s.latency)
				default:
					break collect
				}
			}
		}
	}

	results.Total = int(atomic.LoadInt64(&total))
	results.Failures = int(atomic.LoadInt64(&failures))
	results.summarize()
	return results, nil
}

// runWorker issues requests at qps until stop fires, choosing one operation
// per iteration for "mixed" the way a real host process would interleave
// callers rather than running one operation type to exhaustion.
func runWorker(ctx context.Context, p *provider.Provider, operation string, priv, pub handle.Handle, ciphertext []byte, qps int, stop <-chan time.Time, samples chan<- sample, total, failures *int64) {
	sess, err := p.OpenSession(ctx, 0, session.FlagSerial|session.FlagReadWrite)
	if err != nil {
		atomic.AddInt64(failures, 1)
		return
	}
	defer p.CloseSession(sess)

	if qps <= 0 {
		qps = 1
	}
	interval := time.Second / time.Duration(qps)
	if interval <= 0 {
		interval = time.Nanosecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	ops := []string{"sign", "verify", "encrypt", "decrypt"}
	i := 0
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			op := operation
			if op == "mixed" {
				op = ops[i%len(ops)]
				i++
			}
			start := time.Now()
			err := issue(ctx, p, sess, priv, pub, ciphertext, op)
			samples <- sample{latency: time.Since(start), err: err}
			atomic.AddInt64(total, 1)
			if err != nil {
				atomic.AddInt64(failures, 1)
			}
		}
	}
}

var payload = []byte("the quick brown fox jumps over the lazy dog, repeated for load")

func issue(ctx context.Context, p *provider.Provider, sess, priv, pub handle.Handle, ciphertext []byte, op string) error {
	params := mech.Params{PSS: &mech.PSSParams{Digest: registry.DigestSHA256, MGFDigest: registry.DigestSHA256, SaltLen: 32}}
	switch op {
	case "sign":
		if err := p.SignInit(sess, priv, registry.SHA256RSAPKCSPSS, params); err != nil {
			return err
		}
		// The null-buffer call only predicts the length; the op stays active,
		// so the real call below reuses it rather than re-initing.
		sigLen, err := p.Sign(ctx, sess, payload, nil)
		if err != nil {
			return err
		}
		_, err = p.Sign(ctx, sess, payload, make([]byte, sigLen))
		return err
	case "verify":
		if err := p.SignInit(sess, priv, registry.SHA256RSAPKCSPSS, params); err != nil {
			return err
		}
		sigLen, err := p.Sign(ctx, sess, payload, nil)
		if err != nil {
			return err
		}
		sig := make([]byte, sigLen)
		if _, err := p.Sign(ctx, sess, payload, sig); err != nil {
			return err
		}
		if err := p.VerifyInit(sess, pub, registry.SHA256RSAPKCSPSS, params, true); err != nil {
			return err
		}
		return p.Verify(sess, payload, sig)
	case "encrypt":
		return issueEncryptDecrypt(ctx, p, sess, pub, nil, "encrypt")
	case "decrypt":
		return issueEncryptDecrypt(ctx, p, sess, priv, ciphertext, "decrypt")
	default:
		return fmt.Errorf("unknown operation %q", op)
	}
}

var oaepParams = mech.Params{OAEP: &mech.OAEPParams{Digest: registry.DigestSHA256, MGFDigest: registry.DigestSHA256}}

func issueEncryptDecrypt(ctx context.Context, p *provider.Provider, sess, keyHandle handle.Handle, ciphertext []byte, op string) error {
	switch op {
	case "encrypt":
		if err := p.EncryptInit(sess, keyHandle, registry.RSAPKCSOAEP, oaepParams); err != nil {
			return err
		}
		// The null-buffer call only predicts the length; the op stays active,
		// so the real call below reuses it rather than re-initing.
		n, err := p.Encrypt(sess, payload[:32], nil)
		if err != nil {
			return err
		}
		_, err = p.Encrypt(sess, payload[:32], make([]byte, n))
		return err
	case "decrypt":
		if err := p.DecryptInit(sess, keyHandle, registry.RSAPKCSOAEP, oaepParams); err != nil {
			return err
		}
		n, err := p.Decrypt(ctx, sess, ciphertext, nil)
		if err != nil {
			return err
		}
		_, err = p.Decrypt(ctx, sess, ciphertext, make([]byte, n))
		return err
	}
	return nil
}

// prepareCiphertext builds the one fixed ciphertext every decrypt sample
// decrypts, through the provider's own EncryptInit/Encrypt path so the
// fixture never depends on reaching into object internals. It runs once,
// outside the timed loop.
func prepareCiphertext(p *provider.Provider, sess, pub handle.Handle) ([]byte, error) {
	if err := p.EncryptInit(sess, pub, registry.RSAPKCSOAEP, oaepParams); err != nil {
		return nil, err
	}
	n, err := p.Encrypt(sess, payload[:32], nil)
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	if _, err := p.Encrypt(sess, payload[:32], out); err != nil {
		return nil, err
	}
	return out, nil
}

func findKeyPair(p *provider.Provider, sess handle.Handle) (priv, pub handle.Handle, err error) {
	if err := p.FindObjectsInit(sess, map[attrs.Code]attrs.Value{
		attrs.Class: attrs.UlongValue(uint64(attrs.ClassPrivateKey)),
	}); err != nil {
		return 0, 0, err
	}
	hs, err := p.FindObjects(sess, 1)
	if err != nil {
		return 0, 0, err
	}
	if len(hs) == 0 {
		return 0, 0, fmt.Errorf("no private key objects found on slot 0; seed the fake KMS first")
	}
	if err := p.FindObjectsFinal(sess); err != nil {
		return 0, 0, err
	}
	priv = hs[0]

	if err := p.FindObjectsInit(sess, map[attrs.Code]attrs.Value{
		attrs.Class: attrs.UlongValue(uint64(attrs.ClassPublicKey)),
	}); err != nil {
		return 0, 0, err
	}
	hs, err = p.FindObjects(sess, 1)
	if err != nil {
		return 0, 0, err
	}
	if len(hs) == 0 {
		return 0, 0, fmt.Errorf("no public key objects found on slot 0")
	}
	if err := p.FindObjectsFinal(sess); err != nil {
		return 0, 0, err
	}
	pub = hs[0]
	return priv, pub, nil
}

// --- reporting and regression analysis -------------------------------------

func (r *Results) summarize() {
	if len(r.Latencies) == 0 {
		return
	}
	sort.Slice(r.Latencies, func(i, j int) bool { return r.Latencies[i] < r.Latencies[j] })
	r.P50 = percentile(r.Latencies, 0.50)
	r.P95 = percentile(r.Latencies, 0.95)
	r.P99 = percentile(r.Latencies, 0.99)
	r.Max = r.Latencies[len(r.Latencies)-1]
	if r.Duration > 0 {
		r.Throughput = float64(r.Total) / r.Duration.Seconds()
	}
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// Print writes a human-readable summary to stdout.
func (r *Results) Print() {
	fmt.Println("--- Results ---")
	fmt.Printf("Total requests: %d (failures: %d)\n", r.Total, r.Failures)
	fmt.Printf("Throughput: %.1f req/s\n", r.Throughput)
	fmt.Printf("Latency p50/p95/p99/max: %v / %v / %v / %v\n", r.P50, r.P95, r.P99, r.Max)
	fmt.Println()
}

func (r *Results) saveBaseline(path string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Regression compares a run against a saved baseline on p99 latency, the
// metric most sensitive to lock contention regressions in the session and
// handle-allocator layers.
type Regression struct {
	BaselineP99   time.Duration
	CurrentP99    time.Duration
	DeltaPercent  float64
	Threshold     float64
	Significant   bool
}

func compareToBaseline(current *Results, baselineFile string, thresholdPercent float64) (*Regression, error) {
	data, err := os.ReadFile(baselineFile)
	if err != nil {
		return nil, err
	}
	var baseline Results
	if err := json.Unmarshal(data, &baseline); err != nil {
		return nil, fmt.Errorf("parse baseline %s: %w", baselineFile, err)
	}

	delta := 0.0
	if baseline.P99 > 0 {
		delta = (float64(current.P99) - float64(baseline.P99)) / float64(baseline.P99) * 100
	}

	return &Regression{
		BaselineP99:  baseline.P99,
		CurrentP99:   current.P99,
		DeltaPercent: delta,
		Threshold:    thresholdPercent,
		Significant:  delta > thresholdPercent,
	}, nil
}

// Print writes a human-readable regression summary to stdout.
func (r *Regression) Print() {
	fmt.Println("--- Regression Analysis ---")
	fmt.Printf("Baseline p99: %v\n", r.BaselineP99)
	fmt.Printf("Current p99:  %v\n", r.CurrentP99)
	fmt.Printf("Delta: %+.1f%% (threshold %.1f%%)\n", r.DeltaPercent, r.Threshold)
	fmt.Println()
}
