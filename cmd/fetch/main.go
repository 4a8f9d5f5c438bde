// Command fetch downloads a single file over HTTP, resuming an earlier
// partial download when the server allows it.
//
// Usage:
//
//	fetch -u https://example.com/file.iso -o file.iso [OPTIONS]
//
// Exit codes: 0 success, 1 download failure, 2 usage error, 3 cancelled.
package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jessevdk/go-flags"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/adamwoolhether/fetch/client"
	"github.com/adamwoolhether/fetch/client/download"
	"github.com/adamwoolhether/fetch/client/metrics"
	"github.com/adamwoolhether/fetch/internal/config"
)

const (
	exitOK = iota
	exitFailure
	exitUsage
	exitCancelled
)

type cmdOptions struct {
	Download          string        `short:"u" long:"download" description:"URI of the file to download" required:"true"`
	OutputFile        string        `short:"o" long:"output-file" description:"Path of the resulting file" required:"true"`
	TemporaryFile     string        `short:"t" long:"temporary-file" description:"Path holding partial data (default: <output-file>.part)"`
	UserAgent         string        `long:"user-agent" description:"User-Agent header"`
	ReadBufferSize    int           `long:"read-buffer-size" description:"Read buffer size in bytes"`
	WriteBufferSize   int           `long:"write-buffer-size" description:"Write buffer size in bytes"`
	ChecksumAlgorithm string        `long:"checksum-algorithm" description:"Checksum algorithm, e.g. sha256"`
	Checksum          string        `long:"checksum" description:"Expected hex digest of the file"`
	ChecksumURI       string        `long:"checksum-uri" description:"URI of a file holding the hex digest"`
	ChecksumFile      string        `long:"checksum-file" description:"Where to store the fetched digest (default: <output-file>.<algorithm>)"`
	RateLimit         string        `long:"rate-limit" description:"Maximum transfer rate, e.g. 512KiB"`
	Timeout           time.Duration `long:"timeout" description:"Overall timeout per HTTP request, 0 for none"`
	ReportInterval    time.Duration `long:"report-interval" description:"How often progress is printed"`
	Window            int           `long:"window" description:"Seconds averaged for the transfer rate"`
	MetricsAddr       string        `long:"metrics-addr" description:"Serve Prometheus metrics on this address while downloading"`
	Config            string        `short:"c" long:"config" description:"Configuration file (default: $XDG_CONFIG_HOME/fetch/config.yaml)"`
	Verbose           bool          `short:"v" long:"verbose" description:"Log pipeline details"`
	Version           bool          `long:"version" description:"Print the version and exit"`
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

// run executes the command. Cancelling ctx asks the download to stop
// between reads; the partial data is kept for the next run.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	var opts cmdOptions
	parser := flags.NewParser(&opts, flags.HelpFlag|flags.PassDoubleDash)
	parser.Name = "fetch"
	parser.Usage = "-u URI -o FILE [OPTIONS]"

	if _, err := parser.ParseArgs(args); err != nil {
		var flagsErr *flags.Error
		switch {
		case errors.As(err, &flagsErr) && errors.Is(flagsErr.Type, flags.ErrHelp):
			fmt.Fprintln(stdout, err)
			return exitOK
		case opts.Version:
			fmt.Fprintln(stdout, "fetch", download.Version)
			return exitOK
		}
		return usage(parser, stderr, err)
	}
	if opts.Version {
		fmt.Fprintln(stdout, "fetch", download.Version)
		return exitOK
	}

	cfg, err := resolveConfig(opts)
	if err != nil {
		return usage(parser, stderr, err)
	}

	level := slog.LevelWarn
	if cfg.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	meter := download.NewMeter(cfg.Window)

	reqOpts, err := requestOptions(opts, cfg, meter)
	if err != nil {
		return usage(parser, stderr, err)
	}

	req, err := download.NewRequest(opts.Download, opts.OutputFile, reqOpts...)
	if err != nil {
		return usage(parser, stderr, err)
	}

	clientOpts := []client.Option{client.WithLogger(logger)}
	if cfg.Timeout > 0 {
		clientOpts = append(clientOpts, client.WithTimeout(cfg.Timeout))
	}
	if cfg.RateLimit > 0 {
		clientOpts = append(clientOpts, client.WithRateLimit(int(cfg.RateLimit), 0))
	}

	var (
		reg *prometheus.Registry
		ln  net.Listener
	)
	if cfg.MetricsAddr != "" {
		reg = prometheus.NewRegistry()
		m, err := metrics.New("fetch", reg)
		if err != nil {
			fmt.Fprintf(stderr, "fetch: %v\n", err)
			return exitFailure
		}
		clientOpts = append(clientOpts, client.WithMetrics(m))

		if ln, err = net.Listen("tcp", cfg.MetricsAddr); err != nil {
			fmt.Fprintf(stderr, "fetch: serving metrics: %v\n", err)
			return exitFailure
		}
	}

	c, err := client.Build(clientOpts...)
	if err != nil {
		if ln != nil {
			ln.Close()
		}
		return usage(parser, stderr, err)
	}

	return execute(ctx, c, req, meter, cfg.ReportInterval, reg, ln, stdout, stderr)
}

// execute runs req next to the report loop and, when ln is set, the
// metrics endpoint.
func execute(ctx context.Context, c *client.Client, req *download.Request, meter *download.Meter, interval time.Duration, reg *prometheus.Registry, ln net.Listener, stdout, stderr io.Writer) int {
	start := time.Now()

	// The download itself is stopped cooperatively, never through ctx.
	task, err := c.DownloadAsync(context.WithoutCancel(ctx), req)
	if err != nil {
		fmt.Fprintf(stderr, "fetch: %v\n", err)
		return exitFailure
	}

	g := new(errgroup.Group)

	g.Go(func() error {
		select {
		case <-ctx.Done():
			task.Cancel()
		case <-task.Done():
		}
		return nil
	})

	g.Go(func() error {
		report(stdout, task, meter, interval)
		return nil
	})

	if ln != nil {
		srv := &http.Server{
			Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}

		g.Go(func() error {
			if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("serving metrics: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-task.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if err := g.Wait(); err != nil {
		fmt.Fprintf(stderr, "fetch: %v\n", err)
	}

	res, err := task.Wait()
	switch {
	case errors.Is(err, download.ErrCancelled):
		fmt.Fprintf(stderr, "fetch: download cancelled, %s kept in %s\n", humanize.Bytes(uint64(task.BytesReceived())), req.TempPath())
		return exitCancelled
	case err != nil:
		fmt.Fprintf(stderr, "fetch: download failed: %v\n", err)
		return exitFailure
	}

	fmt.Fprintf(stdout, "downloaded %d bytes in %s\n", res.Bytes, clock(time.Since(start)))
	if res.ChecksumPath != "" {
		fmt.Fprintf(stdout, "checksum stored in %s\n", res.ChecksumPath)
	}

	return exitOK
}

// report prints progress every interval until the task ends.
func report(w io.Writer, task *download.Task, meter *download.Meter, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-task.Done():
			return
		case <-ticker.C:
			if task.Started() {
				fmt.Fprintln(w, progressLine(meter))
			}
		}
	}
}

func progressLine(m *download.Meter) string {
	expected := "?"
	if e := m.Expected(); e >= 0 {
		expected = humanize.Bytes(uint64(e))
	}

	remaining := "Download will never complete"
	if eta, ok := m.ETA(); ok {
		remaining = "Estimated time remaining: " + clock(eta)
	}

	return fmt.Sprintf("progress: %s/%s (%s/s) (%s)",
		humanize.Bytes(uint64(m.Received())),
		expected,
		humanize.Bytes(uint64(m.BytesPerSecond())),
		remaining)
}

// clock formats d as HH:MM:SS, truncated to whole seconds.
func clock(d time.Duration) string {
	s := int64(d / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", s/3600, s/60%60, s%60)
}

// checksumSuffix turns an algorithm name into a file name extension,
// so "SHA-512/256" does not introduce a directory.
func checksumSuffix(alg string) string {
	return strings.NewReplacer("/", "-", " ", "").Replace(strings.ToLower(strings.TrimSpace(alg)))
}

func usage(parser *flags.Parser, w io.Writer, err error) int {
	fmt.Fprintf(w, "fetch: %v\n\n", err)
	parser.WriteHelp(w)
	return exitUsage
}

// resolveConfig layers the configuration file, the environment and the
// command line.
func resolveConfig(opts cmdOptions) (config.Config, error) {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return config.Config{}, err
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return config.Config{}, err
	}

	if opts.UserAgent != "" {
		cfg.UserAgent = opts.UserAgent
	}
	if opts.ReadBufferSize != 0 {
		cfg.ReadBufferSize = opts.ReadBufferSize
	}
	if opts.WriteBufferSize != 0 {
		cfg.WriteBufferSize = opts.WriteBufferSize
	}
	if opts.ChecksumAlgorithm != "" {
		cfg.ChecksumAlgorithm = opts.ChecksumAlgorithm
	}
	if opts.RateLimit != "" {
		n, err := config.ParseRate(opts.RateLimit)
		if err != nil {
			return config.Config{}, fmt.Errorf("parse --rate-limit: %w", err)
		}
		cfg.RateLimit = n
	}
	if opts.Timeout != 0 {
		cfg.Timeout = opts.Timeout
	}
	if opts.ReportInterval != 0 {
		cfg.ReportInterval = opts.ReportInterval
	}
	if opts.Window != 0 {
		cfg.Window = opts.Window
	}
	if opts.MetricsAddr != "" {
		cfg.MetricsAddr = opts.MetricsAddr
	}
	cfg.Verbose = cfg.Verbose || opts.Verbose

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}

	return cfg, nil
}

func requestOptions(opts cmdOptions, cfg config.Config, meter *download.Meter) ([]download.RequestOption, error) {
	reqOpts := []download.RequestOption{
		download.WithUserAgent(cfg.UserAgent),
		download.WithReadBufferSize(cfg.ReadBufferSize),
		download.WithWriteBufferSize(cfg.WriteBufferSize),
		download.WithProgress(meter),
	}
	if opts.TemporaryFile != "" {
		reqOpts = append(reqOpts, download.WithTempPath(opts.TemporaryFile))
	}

	switch {
	case opts.Checksum != "" && opts.ChecksumURI != "":
		return nil, errors.New("--checksum and --checksum-uri are mutually exclusive")

	case opts.Checksum != "":
		if cfg.ChecksumAlgorithm == "" {
			return nil, errors.New("--checksum requires --checksum-algorithm")
		}
		digest, err := hex.DecodeString(opts.Checksum)
		if err != nil {
			return nil, fmt.Errorf("parse --checksum: %w", err)
		}
		reqOpts = append(reqOpts, download.WithChecksum(download.StaticChecksum{
			Algorithm: cfg.ChecksumAlgorithm,
			Digest:    digest,
		}))

	case opts.ChecksumURI != "":
		if cfg.ChecksumAlgorithm == "" {
			return nil, errors.New("--checksum-uri requires --checksum-algorithm")
		}
		path := opts.ChecksumFile
		if path == "" {
			path = opts.OutputFile + "." + checksumSuffix(cfg.ChecksumAlgorithm)
		}
		reqOpts = append(reqOpts, download.WithChecksum(download.RemoteChecksum{
			Algorithm:  cfg.ChecksumAlgorithm,
			URI:        opts.ChecksumURI,
			OutputPath: path,
		}))

	case opts.ChecksumFile != "":
		return nil, errors.New("--checksum-file requires --checksum-uri")
	}

	return reqOpts, nil
}
