package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"

	"github.com/satindergrewal/stemprep/internal/config"
	"github.com/satindergrewal/stemprep/internal/metrics"
)

const usage = `usage: stemprep <command> [arguments]

commands:
  auth                                  authorize Drive access and cache the token
  search NAME                           find the largest Drive file named NAME
  download NAME [-dest DIR]             search and download NAME
  duration FILE...                      print the length of WAV files
  mix -mix F -inst F -out-inst F -out-mix F
                                        align an instrument to a mix and overlay them
  visualize FILE [-out PNG] [-show]     draw waveform and spectrogram
  preview FILE [-out F.ogg]             export an Opus preview
  play FILE                             play a WAV file on the default output device

configuration comes from STEMPREP_* environment variables or the YAML file
named by STEMPREP_CONFIG.
`

var errUsage = errors.New("invalid usage")

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	slog.SetDefault(initLogger(cfg))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, os.Args[1:], os.Stdout); err != nil {
		reportError(os.Stderr, err)
		cancel()
		os.Exit(1)
	}
}

// reportError prints a failed run to w. A bare errUsage has already printed
// the usage text; wrapped usage errors get a plain hint instead of the red
// error line.
func reportError(w io.Writer, err error) {
	switch {
	case err == errUsage:
	case errors.Is(err, errUsage):
		fmt.Fprintf(w, "%v\nrun \"stemprep help\" for usage\n", err)
	default:
		color.New(color.FgRed).Fprintln(w, "error:", err)
	}
}

// run executes one command. The metrics textfile, if configured, is written
// whether or not the command succeeds.
func run(ctx context.Context, cfg config.Config, args []string, out io.Writer) error {
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, usage)
		return errUsage
	}

	a := &app{cfg: cfg, out: out, logger: slog.Default(), metrics: metrics.NewMetrics()}
	err := a.dispatch(ctx, args[0], args[1:])

	if cfg.MetricsFile != "" {
		if werr := a.metrics.WriteTextfile(cfg.MetricsFile); werr != nil {
			a.logger.Warn("Failed to write metrics", slog.String("path", cfg.MetricsFile), slog.String("error", werr.Error()))
		}
	}
	return err
}

func (a *app) dispatch(ctx context.Context, name string, args []string) error {
	switch name {
	case "auth":
		return a.auth(ctx, args)
	case "search":
		return a.search(ctx, args)
	case "download":
		return a.download(ctx, args)
	case "duration":
		return a.duration(args)
	case "mix":
		return a.mix(args)
	case "visualize":
		return a.visualize(args)
	case "preview":
		return a.preview(args)
	case "play":
		return a.play(ctx, args)
	case "help", "-h", "-help", "--help":
		fmt.Fprint(a.out, usage)
		return nil
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", name, usage)
		return errUsage
	}
}

// parseInterspersed lets flags follow positional arguments, so that
// "download NAME -dest DIR" works as well as "download -dest DIR NAME".
func parseInterspersed(fs *flag.FlagSet, args []string) ([]string, error) {
	var positional []string
	for {
		if err := fs.Parse(args); err != nil {
			return nil, errUsage
		}
		args = fs.Args()
		if len(args) == 0 {
			return positional, nil
		}
		positional = append(positional, args[0])
		args = args[1:]
	}
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// initLogger initializes the structured logger based on configuration
func initLogger(cfg config.Config) *slog.Logger {
	level := parseLevel(cfg.LogLevel)
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var output *os.File
	switch cfg.LogOutput {
	case "stderr", "":
		output = os.Stderr
	case "stdout":
		output = os.Stdout
	default:
		file, err := os.OpenFile(cfg.LogOutput, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stderr\n", cfg.LogOutput, err)
			output = os.Stderr
		} else {
			output = file
		}
	}

	var handler slog.Handler
	switch cfg.LogFormat {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}
	return slog.New(handler)
}
