package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jaa/ariadl/internal/auth"
	"github.com/jaa/ariadl/internal/batch"
	"github.com/jaa/ariadl/internal/config"
	"github.com/jaa/ariadl/internal/engine"
	"github.com/jaa/ariadl/internal/exitcode"
	"github.com/jaa/ariadl/internal/output"
	"github.com/jaa/ariadl/internal/progress"
	"github.com/jaa/ariadl/internal/rpc"
)

const daemonStopGrace = 5 * time.Second

var resolveRPCSecret = auth.ResolveRPCSecret

type downloadFlags struct {
	inputPath  string
	dir        string
	maxRetries int
	spawn      bool
	progress   string
	eventsFile string
}

func newDownloadCommand(app *AppContext) *cobra.Command {
	flags := downloadFlags{}

	cmd := &cobra.Command{
		Use:   "download [url...]",
		Short: "Submit URLs as one batch and wait for every download to finish",
		RunE: func(cmd *cobra.Command, args []string) error {
			progressMode, err := parseProgressMode(flags.progress)
			if err != nil {
				return withExitCode(exitcode.InvalidUsage, err)
			}

			urls, err := collectURLs(args, flags.inputPath, app.IO.In)
			if err != nil {
				return withExitCode(exitcode.InvalidUsage, err)
			}
			if len(urls) == 0 {
				return withExitCode(exitcode.InvalidUsage, errors.New("no URLs given (pass them as arguments or with --input)"))
			}

			cfg, err := loadConfig(app)
			if err != nil {
				return withExitCode(exitcode.InvalidConfig, err)
			}
			if cmd.Flags().Changed("dir") {
				cfg.Download.Dir = flags.dir
			}
			if cmd.Flags().Changed("max-retries") {
				cfg.Download.MaxRetries = flags.maxRetries
			}
			if cmd.Flags().Changed("spawn") {
				cfg.Daemon.Spawn = flags.spawn
			}
			if err := config.Validate(cfg); err != nil {
				return withExitCode(exitcode.InvalidConfig, err)
			}

			wd, err := os.Getwd()
			if err != nil {
				return withExitCode(exitcode.RuntimeFailure, fmt.Errorf("resolve working directory: %w", err))
			}
			dir, err := config.ResolveDir(cfg.Download.Dir, wd)
			if err != nil {
				return withExitCode(exitcode.InvalidConfig, err)
			}

			var extra []output.EventEmitter
			if path := strings.TrimSpace(flags.eventsFile); path != "" {
				file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
				if err != nil {
					return withExitCode(exitcode.RuntimeFailure, fmt.Errorf("open events file: %w", err))
				}
				defer file.Close()
				extra = append(extra, output.NewJSONEmitter(file))
			}
			logger := newLogger(app, extra...)

			if app.Opts.DryRun {
				printPlan(logger, cfg, urls, dir)
				return nil
			}

			secret, err := resolveRPCSecret()
			if err != nil && !errors.Is(err, auth.ErrRPCSecretNotFound) {
				return withExitCode(exitcode.RuntimeFailure, err)
			}

			ctx, stop := signal.NotifyContext(context.Background(), interruptSignals()...)
			defer stop()

			var daemonOut io.Writer
			if app.Opts.Verbose && !app.Opts.JSON {
				daemonOut = app.IO.ErrOut
			}

			summary, err := runBatch(ctx, batchRun{
				cfg:         cfg,
				urls:        urls,
				dir:         dir,
				secret:      secret,
				logger:      logger,
				dial:        rpc.WebSocketDialer(cfg.Daemon.Endpoint()),
				newProgress: progressFactory(app, logger, progressMode),
				daemonOut:   daemonOut,
			})
			if err != nil {
				return err
			}
			if summary.Failed > 0 {
				return withExitCode(exitcode.PartialSuccess,
					fmt.Errorf("batch finished with %d failed download(s) out of %d", summary.Failed, summary.Submitted))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&flags.inputPath, "input", "i", "", "Read URLs from a file, one per line (\"-\" for stdin)")
	cmd.Flags().StringVarP(&flags.dir, "dir", "d", "", "Download directory (overrides download.dir)")
	cmd.Flags().IntVar(&flags.maxRetries, "max-retries", config.DefaultMaxRetries, "Resubmissions per URL after a daemon-reported error (0 disables)")
	cmd.Flags().BoolVar(&flags.spawn, "spawn", false, "Start aria2c for this run and stop it afterwards")
	cmd.Flags().StringVar(&flags.progress, "progress", "auto", "Progress rendering mode: auto, always, or never")
	cmd.Flags().StringVar(&flags.eventsFile, "events-file", "", "Append NDJSON events to this file")
	return cmd
}

type batchRun struct {
	cfg         config.Config
	urls        []string
	dir         string
	secret      string
	logger      *output.Logger
	dial        rpc.Dialer
	interval    time.Duration
	newProgress func(batchID string) progress.Aggregator
	daemonOut   io.Writer
}

// runBatch drives one batch end to end: optional daemon start, connect,
// submit, wait, shutdown. Returned errors already carry their exit code.
func runBatch(ctx context.Context, run batchRun) (batch.Summary, error) {
	if run.cfg.Daemon.Spawn {
		daemon, err := engine.DaemonLauncher{
			Stdout: run.daemonOut,
			Stderr: run.daemonOut,
			Logger: run.logger,
		}.Start(ctx, engine.DaemonSpec{
			Bin:       run.cfg.Daemon.Binary,
			Port:      run.cfg.Daemon.Port,
			Secret:    run.secret,
			ExtraArgs: run.cfg.Daemon.ExtraArgs,
		})
		if err != nil {
			if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
				return batch.Summary{}, withExitCode(exitcode.MissingDependency, err)
			}
			return batch.Summary{}, withExitCode(exitcode.RuntimeFailure, err)
		}
		defer func() {
			if err := daemon.Stop(daemonStopGrace); err != nil {
				run.logger.Warn("%v\n%s", err, strings.TrimSpace(daemon.Tail()))
			}
		}()
	}

	client := rpc.NewClient(run.dial, rpc.ClientOptions{
		Attempts: run.cfg.Daemon.ConnectAttempts,
		Interval: run.interval,
		Secret:   run.secret,
		Logger:   run.logger,
	})
	if err := client.Connect(ctx, rpc.Options(run.cfg.GlobalOptions)); err != nil {
		client.Close()
		switch {
		case errors.Is(err, rpc.ErrConnectionTimeout):
			return batch.Summary{}, withExitCode(exitcode.DaemonUnreachable,
				fmt.Errorf("%w at %s", err, run.cfg.Daemon.Endpoint()))
		case ctx.Err() != nil:
			return batch.Summary{}, withExitCode(exitcode.Interrupted, err)
		default:
			return batch.Summary{}, withExitCode(exitcode.RuntimeFailure, err)
		}
	}

	var agg progress.Aggregator = progress.Nop{}
	downloader := batch.NewDownloader(client, batch.Options{
		MaxRetries: run.cfg.Download.MaxRetries,
		Logger:     run.logger,
		NewProgress: func(batchID string) progress.Aggregator {
			if run.newProgress != nil {
				agg = run.newProgress(batchID)
			}
			return agg
		},
	})
	summary, runErr := downloader.DownloadURLs(ctx, run.urls, run.dir)
	if err := progress.Finish(agg); err != nil {
		run.logger.Debug("finish progress output: %v", err)
	}

	if ctx.Err() != nil {
		client.Close()
		return summary, withExitCode(exitcode.Interrupted, fmt.Errorf("download interrupted: %w", ctx.Err()))
	}

	shutdownErr := client.Shutdown(context.Background())
	if runErr != nil {
		if shutdownErr != nil {
			run.logger.Warn("daemon shutdown: %v", shutdownErr)
			client.Close()
		}
		return summary, withExitCode(exitcode.RuntimeFailure, fmt.Errorf("batch %s: %w", summary.BatchID, runErr))
	}
	if shutdownErr != nil {
		client.Close()
		return summary, withExitCode(exitcode.RuntimeFailure, shutdownErr)
	}
	return summary, nil
}

func progressFactory(app *AppContext, logger *output.Logger, mode string) func(string) progress.Aggregator {
	return func(batchID string) progress.Aggregator {
		switch {
		case app.Opts.JSON:
			return progress.NewEvents(logger.WithBatch(batchID))
		case app.Opts.Quiet:
			return progress.Nop{}
		}
		interactive := interactiveProgress(logger, mode,
			progress.SupportsInPlaceUpdates(app.IO.Out), progress.IsCygwinTerminal(app.IO.Out))
		return progress.NewBar(app.IO.Out, progress.BarOptions{Interactive: interactive})
	}
}

// interactiveProgress decides whether the bar redraws in place. A Cygwin or
// MSYS pty has no usable column width, so auto mode prints lines there.
func interactiveProgress(logger *output.Logger, mode string, terminal, cygwin bool) bool {
	switch mode {
	case "always":
		return true
	case "never":
		return false
	}
	if cygwin {
		logger.Warn("cygwin/msys terminal detected, printing progress line by line (use --progress=always to redraw in place)")
		return false
	}
	return terminal
}

func printPlan(logger *output.Logger, cfg config.Config, urls []string, dir string) {
	logger.Info("dry run: %d url(s) would be submitted to %s", len(urls), cfg.Daemon.Endpoint())
	for i, u := range urls {
		logger.Info("  %s <- %s", filepath.Join(dir, batch.OutputName(i+1)), u)
	}
}

// collectURLs merges positional URLs with those read from inputPath. Blank
// lines and lines starting with # are skipped.
func collectURLs(args []string, inputPath string, stdin io.Reader) ([]string, error) {
	urls := []string{}
	for _, arg := range args {
		if trimmed := strings.TrimSpace(arg); trimmed != "" {
			urls = append(urls, trimmed)
		}
	}

	if path := strings.TrimSpace(inputPath); path != "" {
		var reader io.Reader
		if path == "-" {
			reader = stdin
		} else {
			file, err := os.Open(path)
			if err != nil {
				return nil, fmt.Errorf("open input file: %w", err)
			}
			defer file.Close()
			reader = file
		}

		scanner := bufio.NewScanner(reader)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			urls = append(urls, line)
		}
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("read input file: %w", err)
		}
	}

	for _, raw := range urls {
		parsed, err := url.Parse(raw)
		if err != nil || parsed.Scheme == "" {
			return nil, fmt.Errorf("invalid URL %q", raw)
		}
	}
	return urls, nil
}

func parseProgressMode(raw string) (string, error) {
	mode := strings.TrimSpace(strings.ToLower(raw))
	switch mode {
	case "", "auto", "always", "never":
		if mode == "" {
			return "auto", nil
		}
		return mode, nil
	default:
		return "", fmt.Errorf("invalid --progress mode %q (expected: auto, always, never)", raw)
	}
}
