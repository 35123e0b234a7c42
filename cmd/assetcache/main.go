// Command assetcache inspects and maintains asset cache namespaces.
//
//	assetcache [flags] <command> [args]
//
// Commands:
//
//	put <key> [file]        store file (or stdin) under key
//	get <key>               write the blob for key to stdout
//	rm <key>                delete key
//	clear                   delete every entry in the namespace
//	ls                      list entry sizes (keys are not recoverable)
//	usage                   show disk usage
//	evict                   run an eviction scan
//	record <title> <path>   bookmark downloaded media under title
//	locate <title>          print the media path bookmarked for title
//	forget <title>          delete bookmarked media and its bookmark
//	library-size            total size of bookmarked media fragments
//	serve                   run janitors and serve metrics until interrupted
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	units "github.com/docker/go-units"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/meigma/assetcache"
	"github.com/meigma/assetcache/config"
	"github.com/meigma/assetcache/library"
	"github.com/meigma/assetcache/metrics"
)

type cli struct {
	configPath string
	namespace  string
	root       string

	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := &cli{stdin: os.Stdin, stdout: os.Stdout, stderr: os.Stderr}
	if err := c.run(ctx, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "assetcache:", err)
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func (c *cli) run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("assetcache", flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	fs.StringVar(&c.configPath, "config", "", "YAML config file")
	fs.StringVar(&c.namespace, "namespace", assetcache.DefaultNamespace, "cache namespace")
	fs.StringVar(&c.root, "root", "", "cache root directory (overrides config)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return flag.ErrHelp
	}

	cfg, err := c.loadConfig()
	if err != nil {
		return err
	}
	level, err := cfg.Level()
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(c.stderr, &slog.HandlerOptions{Level: level}))

	collector := metrics.New("")
	reg, err := openRegistry(cfg, logger, collector)
	if err != nil {
		return err
	}
	defer reg.Close()

	cache, err := reg.Namespace(c.namespace, cfg.NamespaceOptions(c.namespace)...)
	if err != nil {
		return err
	}

	cmd, rest := fs.Arg(0), fs.Args()[1:]
	switch cmd {
	case "put":
		return c.put(cache, rest)
	case "get":
		return c.get(cache, rest)
	case "rm":
		if len(rest) != 1 {
			return errors.New("usage: rm <key>")
		}
		cache.Delete(rest[0])
	case "clear":
		cache.DeleteAll()
	case "ls":
		c.list(cache)
	case "usage":
		c.usage(cache)
	case "evict":
		before := cache.DiskUsageBytes()
		<-cache.TriggerEvictionScan()
		after := cache.DiskUsageBytes()
		fmt.Fprintf(c.stdout, "freed %s, %s remaining\n",
			units.HumanSize(float64(max(before-after, 0))), units.HumanSize(float64(after)))
	case "record", "locate", "forget", "library-size":
		return c.library(cache, logger, cmd, rest)
	case "serve":
		return c.serve(ctx, cfg, reg, cache, collector, logger)
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
	return nil
}

func (c *cli) loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if c.configPath != "" {
		loaded, err := config.Load(c.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if c.root != "" {
		cfg.Root = c.root
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func openRegistry(cfg *config.Config, logger *slog.Logger, obs assetcache.Observer) (*assetcache.Registry, error) {
	root, err := cfg.RootDir()
	if err != nil {
		return nil, err
	}
	opts, err := cfg.RegistryOptions()
	if err != nil {
		return nil, err
	}
	opts = append(opts, assetcache.WithLogger(logger), assetcache.WithObserver(obs))
	return assetcache.NewRegistry(root, opts...)
}

func (c *cli) put(cache *assetcache.Cache, args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return errors.New("usage: put <key> [file]")
	}
	var r io.Reader = c.stdin
	if len(args) == 2 && args[1] != "-" {
		f, err := os.Open(args[1])
		if err != nil {
			return err
		}
		defer f.Close()
		r = f
	}
	blob, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("read blob: %w", err)
	}
	cache.Write(args[0], blob)
	return nil
}

func (c *cli) get(cache *assetcache.Cache, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: get <key>")
	}
	blob, ok := cache.Read(args[0])
	if !ok {
		return fmt.Errorf("%q: not cached", args[0])
	}
	_, err := c.stdout.Write(blob)
	return err
}

func (c *cli) list(cache *assetcache.Cache) {
	blobs := cache.ListAllBlobs()
	var total int
	for i, b := range blobs {
		total += len(b)
		fmt.Fprintf(c.stdout, "%d\t%s\n", i, units.HumanSize(float64(len(b))))
	}
	fmt.Fprintf(c.stdout, "%d entries, %s\n", len(blobs), units.HumanSize(float64(total)))
}

func (c *cli) usage(cache *assetcache.Cache) {
	dirSize, ok := cache.CurrentDiskUsage()
	if !ok {
		dirSize = "-"
	}
	fmt.Fprintf(c.stdout, "namespace: %s\ndir: %s\ndirectory entry: %s\nentries: %s\nmax period: %s\nmax size: %s\n",
		cache.Name(), cache.Dir(), dirSize,
		units.HumanSize(float64(cache.DiskUsageBytes())),
		config.Duration(cache.MaxCachePeriod()),
		sizeLimit(cache.MaxDiskCacheSize()))
}

func sizeLimit(n int64) string {
	if n == 0 {
		return "unlimited"
	}
	return units.HumanSize(float64(n))
}

func (c *cli) library(cache *assetcache.Cache, logger *slog.Logger, cmd string, args []string) error {
	lib, err := library.New(cache, library.WithLogger(logger))
	if err != nil {
		return err
	}
	switch cmd {
	case "record":
		if len(args) != 2 {
			return errors.New("usage: record <title> <path>")
		}
		return lib.Record(args[0], args[1])
	case "locate":
		if len(args) != 1 {
			return errors.New("usage: locate <title>")
		}
		loc, ok := lib.Locate(args[0])
		if !ok {
			return fmt.Errorf("%w: %s", library.ErrNotFound, args[0])
		}
		fmt.Fprintln(c.stdout, loc)
	case "forget":
		if len(args) != 1 {
			return errors.New("usage: forget <title>")
		}
		return lib.Delete(args[0])
	case "library-size":
		fmt.Fprintln(c.stdout, lib.SizeString())
	}
	return nil
}

func (c *cli) serve(ctx context.Context, cfg *config.Config, reg *assetcache.Registry, cache *assetcache.Cache, collector *metrics.Collector, logger *slog.Logger) error {
	names := []string{cache.Name()}
	for name := range cfg.Namespaces {
		if name != cache.Name() {
			names = append(names, name)
		}
	}
	var stopped []<-chan struct{}
	for _, name := range names {
		ns, err := reg.Namespace(name, cfg.NamespaceOptions(name)...)
		if err != nil {
			return err
		}
		interval := cfg.JanitorInterval(name)
		if interval == 0 {
			interval = time.Hour
		}
		logger.Info("janitor started", slog.String("namespace", name), slog.Duration("interval", interval))
		stopped = append(stopped, ns.StartJanitor(ctx, interval))
	}

	if cfg.MetricsAddr != "" {
		promReg := prometheus.NewRegistry()
		if err := promReg.Register(collector); err != nil {
			return fmt.Errorf("register metrics: %w", err)
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler(promReg))
		srv := &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			logger.Info("serving metrics", slog.String("addr", cfg.MetricsAddr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", slog.Any("error", err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx) //nolint:contextcheck // parent is already cancelled
		}()
	}

	<-ctx.Done()
	for _, ch := range stopped {
		<-ch
	}
	// One last pass, as a host would on termination.
	<-reg.TriggerAll()
	return nil
}
