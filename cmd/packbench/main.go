package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"math/rand" //nolint:gosec // intentional use for reproducible benchmarks
	"net/http"
	_ "net/http/pprof" //nolint:gosec // intentional profiling endpoint
	"os"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"runtime/trace"
	"time"

	"github.com/felixge/fgprof"
	"github.com/klauspost/compress/zstd"

	"github.com/meigma/packstore"
	"github.com/meigma/packstore/packfs"
)

type config struct {
	mode        string
	keys        int
	valueSize   int
	scopes      int
	churn       float64
	pattern     string
	compression string
	backend     string
	bucketSize  int
	packSize    int
	fgProfile   string
	duration    time.Duration
	iterations  int
	pprofAddr   string
	cpuProfile  string
	memProfile  string
	traceFile   string
	tempDir     string
	keepTemp    bool
	verbose     bool
	randomSeed  int64
}

// sinkCount keeps read results live so the compiler cannot drop them.
var sinkCount int

//nolint:gocognit,gocyclo // main function complexity is acceptable for CLI tool
func main() {
	cfg := parseFlags()

	if cfg.pprofAddr != "" {
		go func() {
			log.Printf("pprof listening on %s", cfg.pprofAddr)
			//nolint:gosec // intentional pprof server without timeouts for profiling
			if err := http.ListenAndServe(cfg.pprofAddr, nil); err != nil {
				log.Printf("pprof server error: %v", err)
			}
		}()
	}

	dir, cleanup, err := setupTempDir(cfg)
	if err != nil {
		log.Fatal(err)
	}
	if cleanup != nil {
		defer cleanup() //nolint:errcheck // cleanup errors are non-fatal in profiler
	}

	data := makeDataset(cfg)

	var stopFG func() error
	if cfg.fgProfile != "" {
		fgFile, fgErr := os.Create(cfg.fgProfile)
		if fgErr != nil {
			log.Fatal(fgErr) //nolint:gocritic // exitAfterDefer is intentional - cleanup is best-effort
		}
		stopFG = fgprof.Start(fgFile, fgprof.FormatPprof)
		defer func() {
			if err := stopFG(); err != nil {
				log.Printf("fgprof stop error: %v", err)
			}
			_ = fgFile.Close()
		}()
	}

	if cfg.cpuProfile != "" {
		cpuFile, cpuErr := os.Create(cfg.cpuProfile)
		if cpuErr != nil {
			log.Fatal(cpuErr)
		}
		if cpuErr = pprof.StartCPUProfile(cpuFile); cpuErr != nil {
			log.Fatal(cpuErr)
		}
		defer func() {
			pprof.StopCPUProfile()
			_ = cpuFile.Close()
		}()
	}

	if cfg.traceFile != "" {
		traceFile, traceErr := os.Create(cfg.traceFile)
		if traceErr != nil {
			log.Fatal(traceErr)
		}
		if traceErr = trace.Start(traceFile); traceErr != nil {
			log.Fatal(traceErr)
		}
		defer func() {
			trace.Stop()
			_ = traceFile.Close()
		}()
	}

	stats, err := runProfile(context.Background(), cfg, data, dir)
	if err != nil {
		log.Fatal(err)
	}

	if cfg.memProfile != "" {
		runtime.GC()
		f, err := os.Create(cfg.memProfile)
		if err != nil {
			log.Fatal(err)
		}
		if err := pprof.WriteHeapProfile(f); err != nil {
			log.Fatal(err)
		}
		_ = f.Close()
	}

	fmt.Printf("mode=%s ops=%d bytes=%d elapsed=%s throughput=%.2f MB/s\n",
		cfg.mode,
		stats.ops,
		stats.bytes,
		stats.elapsed,
		float64(stats.bytes)/(1024*1024)/stats.elapsed.Seconds(),
	)
}

type profileStats struct {
	ops     int
	bytes   int64
	elapsed time.Duration
}

type dataset struct {
	scopes []string
	keys   [][]byte
	values [][]byte
}

func (d dataset) bytes() int64 {
	var n int64
	for i := range d.keys {
		n += int64(len(d.keys[i]) + len(d.values[i]))
	}
	return n * int64(len(d.scopes))
}

//nolint:gocognit,gocritic // complexity is inherent to multi-mode profiler dispatch; hugeParam acceptable for profiler
func runProfile(ctx context.Context, cfg config, data dataset, dir string) (profileStats, error) {
	root := filepath.Join(dir, "store")
	open := func() (*packstore.PackStorage, error) {
		return newStorage(cfg, root)
	}

	s, err := open()
	if err != nil {
		return profileStats{}, err
	}
	defer s.Close()

	// Every mode except set-idle reads a populated store.
	if cfg.mode != "set-idle" {
		if err := fill(ctx, s, data); err != nil {
			return profileStats{}, err
		}
	}

	start := time.Now()
	ops := 0
	var byteCount int64
	shouldContinue := func() bool {
		if cfg.iterations > 0 {
			return ops < cfg.iterations
		}
		return time.Since(start) < cfg.duration
	}

	rng := rand.New(rand.NewSource(cfg.randomSeed)) //nolint:gosec // intentional for reproducible benchmarks
	switch cfg.mode {
	case "set-idle":
		for shouldContinue() {
			if err := fill(ctx, s, data); err != nil {
				return profileStats{}, err
			}
			ops++
			byteCount += data.bytes()
		}
	case "get-all":
		for shouldContinue() {
			// A fresh storage has nothing in memory, so every pass reads disk.
			cold, err := open()
			if err != nil {
				return profileStats{}, err
			}
			for _, scope := range data.scopes {
				items, err := cold.GetAll(ctx, scope)
				if err != nil {
					_ = cold.Close()
					return profileStats{}, err
				}
				sinkCount += len(items)
			}
			_ = cold.Close()
			ops++
			byteCount += data.bytes()
		}
	case "update":
		n := max(1, int(float64(len(data.keys))*cfg.churn))
		for shouldContinue() {
			for _, scope := range data.scopes {
				for range n {
					i := rng.Intn(len(data.keys))
					value := make([]byte, len(data.values[i]))
					fillValue(value, cfg.pattern, rng, ops)
					s.Set(scope, data.keys[i], value)
					byteCount += int64(len(data.keys[i]) + len(value))
				}
			}
			if err := <-s.Idle(ctx); err != nil {
				return profileStats{}, err
			}
			ops++
		}
	case "prune":
		for shouldContinue() {
			res, err := s.Prune(ctx)
			if err != nil {
				return profileStats{}, err
			}
			sinkCount += len(res.RemovedFiles)
			ops++
		}
	default:
		return profileStats{}, fmt.Errorf("unknown mode: %s", cfg.mode)
	}

	return profileStats{
		ops:     ops,
		bytes:   byteCount,
		elapsed: time.Since(start),
	}, nil
}

func fill(ctx context.Context, s *packstore.PackStorage, data dataset) error {
	for _, scope := range data.scopes {
		for i := range data.keys {
			s.Set(scope, data.keys[i], data.values[i])
		}
	}
	return <-s.Idle(ctx)
}

//nolint:gocritic // hugeParam acceptable for config struct in CLI tool
func newStorage(cfg config, root string) (*packstore.PackStorage, error) {
	opts := []packstore.Option{
		packstore.WithBucketSize(cfg.bucketSize),
		packstore.WithPackSize(cfg.packSize),
	}
	if cfg.verbose {
		opts = append(opts, packstore.WithLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))))
	}
	switch cfg.backend {
	case "native":
	case "memory":
		opts = append(opts, packstore.WithFS(sharedMemory))
	default:
		return nil, fmt.Errorf("unknown backend: %s", cfg.backend)
	}
	switch cfg.compression {
	case "none":
	case "zstd":
		opts = append(opts, packstore.WithCompression(zstd.SpeedDefault))
	default:
		return nil, fmt.Errorf("unknown compression: %s", cfg.compression)
	}
	return packstore.New(root, opts...)
}

// sharedMemory backs every storage opened with -backend=memory, so cold
// get-all passes see the data written by fill.
var sharedMemory = packfs.NewMemory()

func parseFlags() config {
	var cfg config
	flag.StringVar(&cfg.mode, "mode", "set-idle", "mode: set-idle, get-all, update, prune")
	flag.IntVar(&cfg.keys, "keys", 10000, "number of keys per scope")
	flag.IntVar(&cfg.valueSize, "value-size", 1<<10, "value size in bytes")
	flag.IntVar(&cfg.scopes, "scopes", 4, "number of scopes")
	flag.Float64Var(&cfg.churn, "churn", 0.05, "fraction of keys rewritten per update pass")
	flag.StringVar(&cfg.pattern, "pattern", "compressible", "pattern: compressible or random")
	flag.StringVar(&cfg.compression, "compression", "none", "compression: none or zstd")
	flag.StringVar(&cfg.backend, "backend", "native", "backend: native or memory")
	flag.IntVar(&cfg.bucketSize, "bucket-size", packstore.DefaultBucketSize, "buckets per scope")
	flag.IntVar(&cfg.packSize, "pack-size", packstore.DefaultPackSize, "target pack size in bytes")
	flag.StringVar(&cfg.fgProfile, "fgprofile", "", "write fgprof (wall clock) profile to file")
	flag.DurationVar(&cfg.duration, "duration", 10*time.Second, "duration to run (ignored if iterations > 0)")
	flag.IntVar(&cfg.iterations, "iterations", 0, "number of iterations to run")
	flag.StringVar(&cfg.pprofAddr, "pprof-addr", "", "pprof listen address (e.g. :6060)")
	flag.StringVar(&cfg.cpuProfile, "cpuprofile", "", "write CPU profile to file")
	flag.StringVar(&cfg.memProfile, "memprofile", "", "write heap profile to file")
	flag.StringVar(&cfg.traceFile, "trace", "", "write trace to file")
	flag.StringVar(&cfg.tempDir, "temp-dir", "", "directory to use for the store")
	flag.BoolVar(&cfg.keepTemp, "keep-temp", false, "keep temp dir after run")
	flag.BoolVar(&cfg.verbose, "v", false, "log storage events to stderr")
	flag.Int64Var(&cfg.randomSeed, "seed", 1, "random seed")
	flag.Parse()
	if cfg.keys <= 0 || cfg.scopes <= 0 || cfg.valueSize < 0 {
		log.Fatal("keys and scopes must be positive, value-size must not be negative")
	}
	return cfg
}

//nolint:gocritic // hugeParam acceptable for config struct in CLI tool
func setupTempDir(cfg config) (string, func() error, error) {
	if cfg.tempDir != "" {
		return cfg.tempDir, nil, os.MkdirAll(cfg.tempDir, 0o755) //nolint:gosec // 0o755 is intentional for profiler temp dirs
	}
	dir, err := os.MkdirTemp("", "packstore-bench-*")
	if err != nil {
		return "", nil, err
	}
	cleanup := func() error {
		if cfg.keepTemp {
			return nil
		}
		return os.RemoveAll(dir)
	}
	return dir, cleanup, nil
}

//nolint:gocritic // hugeParam acceptable for config struct in CLI tool
func makeDataset(cfg config) dataset {
	rng := rand.New(rand.NewSource(cfg.randomSeed)) //nolint:gosec // intentional use for reproducible benchmarks
	d := dataset{
		scopes: make([]string, cfg.scopes),
		keys:   make([][]byte, cfg.keys),
		values: make([][]byte, cfg.keys),
	}
	for i := range cfg.scopes {
		d.scopes[i] = fmt.Sprintf("scope%02d", i)
	}
	for i := range cfg.keys {
		d.keys[i] = fmt.Appendf(nil, "module/%05d/%08x", i%97, i)
		d.values[i] = make([]byte, cfg.valueSize)
		fillValue(d.values[i], cfg.pattern, rng, i)
	}
	return d
}

func fillValue(content []byte, pattern string, rng *rand.Rand, i int) {
	switch pattern {
	case "random":
		_, _ = rng.Read(content)
	default:
		fillByte := byte('a' + (i % 26))
		for j := range content {
			content[j] = fillByte
		}
		if len(content) > 0 {
			content[0] = byte(i)
		}
	}
}
