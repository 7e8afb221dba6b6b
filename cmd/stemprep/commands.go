package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fatih/color"
	"golang.org/x/oauth2/google"

	"github.com/satindergrewal/stemprep/internal/audio"
	"github.com/satindergrewal/stemprep/internal/config"
	"github.com/satindergrewal/stemprep/internal/drive"
	"github.com/satindergrewal/stemprep/internal/metrics"
	"github.com/satindergrewal/stemprep/internal/playback"
	"github.com/satindergrewal/stemprep/internal/visualize"
)

var (
	yellow = color.New(color.FgYellow)
	green  = color.New(color.FgGreen)
	cyan   = color.New(color.FgCyan)
)

type app struct {
	cfg     config.Config
	out     io.Writer
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// tokenStore opens the configured token cache. The returned close func is
// never nil.
func (a *app) tokenStore() (drive.TokenStore, func(), error) {
	switch a.cfg.TokenStore {
	case "sqlite":
		s, err := drive.NewSQLiteTokenStore(a.cfg.TokenPath, tokenKey(a.cfg.CredentialsPath))
		if err != nil {
			return nil, nil, err
		}
		return s, func() { s.Close() }, nil
	default:
		return drive.NewFileTokenStore(a.cfg.TokenPath), func() {}, nil
	}
}

// tokenKey names the token row after the OAuth client so several clients can
// share one database.
func tokenKey(credentialsPath string) string {
	data, err := os.ReadFile(credentialsPath)
	if err != nil {
		return "default"
	}
	conf, err := google.ConfigFromJSON(data)
	if err != nil || conf.ClientID == "" {
		return "default"
	}
	return conf.ClientID
}

func (a *app) authorizer(store drive.TokenStore) *drive.Authorizer {
	return drive.NewAuthorizer(drive.AuthConfig{
		AuthHostName:          a.cfg.AuthHostName,
		AuthHostPorts:         a.cfg.AuthHostPorts,
		LocalWebserverEnabled: a.cfg.LocalWebserverEnabled,
		LogLevel:              parseLevel(a.cfg.LogLevel),
	}, store, a.logger)
}

func (a *app) driveClient(ctx context.Context) (*drive.Client, func(), error) {
	store, closeStore, err := a.tokenStore()
	if err != nil {
		return nil, nil, err
	}
	httpClient, err := a.authorizer(store).HTTPClient(ctx, a.cfg.CredentialsPath)
	if err != nil {
		closeStore()
		return nil, nil, err
	}
	c, err := drive.NewClient(ctx, httpClient, a.cfg.DriveEndpoint)
	if err != nil {
		closeStore()
		return nil, nil, err
	}
	c.SetLogger(a.logger)
	c.SetMetrics(a.metrics)
	c.SetChunkSize(a.cfg.ChunkSize)
	return c, closeStore, nil
}

func (a *app) auth(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("auth", flag.ContinueOnError)
	if _, err := parseInterspersed(fs, args); err != nil {
		return err
	}

	store, closeStore, err := a.tokenStore()
	if err != nil {
		return err
	}
	defer closeStore()

	tok, err := a.authorizer(store).ObtainToken(ctx, a.cfg.CredentialsPath)
	if err != nil {
		return err
	}
	green.Fprintf(a.out, "Authorized")
	fmt.Fprintf(a.out, " (token cached in %s, expires %s)\n", a.cfg.TokenPath, tok.Expiry.Format(time.RFC3339))
	return nil
}

func (a *app) search(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("search", flag.ContinueOnError)
	names, err := parseInterspersed(fs, args)
	if err != nil {
		return err
	}
	if len(names) != 1 {
		return fmt.Errorf("%w: search takes exactly one NAME", errUsage)
	}

	c, closeStore, err := a.driveClient(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	d, err := c.SearchFileByName(ctx, names[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "%s\t%s\t%d\n", d.ID, d.Name, d.Size)
	return nil
}

func (a *app) download(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("download", flag.ContinueOnError)
	dest := fs.String("dest", a.cfg.DownloadDir, "destination directory")
	names, err := parseInterspersed(fs, args)
	if err != nil {
		return err
	}
	if len(names) != 1 {
		return fmt.Errorf("%w: download takes exactly one NAME", errUsage)
	}

	c, closeStore, err := a.driveClient(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	_, res, err := c.Fetch(ctx, names[0], *dest)
	if err != nil {
		return err
	}
	if res.Skipped {
		yellow.Fprintf(a.out, "Skipped %s (already exists)\n", res.Path)
		return nil
	}
	green.Fprintf(a.out, "Downloaded %s (%d bytes)\n", res.Path, res.Bytes)
	return nil
}

func (a *app) duration(args []string) error {
	fs := flag.NewFlagSet("duration", flag.ContinueOnError)
	files, err := parseInterspersed(fs, args)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("%w: duration needs at least one FILE", errUsage)
	}

	for _, f := range files {
		start := time.Now()
		secs, err := audio.GetDuration(f)
		a.metrics.ObserveAudio("duration", start, err)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out, "%s\t%.3fs\n", f, secs)
	}
	return nil
}

func (a *app) mix(args []string) error {
	fs := flag.NewFlagSet("mix", flag.ContinueOnError)
	mixPath := fs.String("mix", "", "mix WAV file")
	instPath := fs.String("inst", "", "instrument WAV file")
	instDest := fs.String("out-inst", "", "where to write the aligned instrument")
	mixDest := fs.String("out-mix", "", "where to write the overlay")
	if _, err := parseInterspersed(fs, args); err != nil {
		return err
	}
	for flagName, v := range map[string]string{"mix": *mixPath, "inst": *instPath, "out-inst": *instDest, "out-mix": *mixDest} {
		if v == "" {
			return fmt.Errorf("%w: mix requires -%s", errUsage, flagName)
		}
	}

	start := time.Now()
	err := audio.MergeMixFiles(*mixPath, *instPath, *instDest, *mixDest)
	a.metrics.ObserveAudio("mix", start, err)
	if err != nil {
		return err
	}
	a.logger.Info("Mix written", slog.String("instrument", *instDest), slog.String("mix", *mixDest))
	green.Fprintf(a.out, "Wrote %s and %s\n", *instDest, *mixDest)
	return nil
}

func (a *app) visualize(args []string) error {
	fs := flag.NewFlagSet("visualize", flag.ContinueOnError)
	out := fs.String("out", "", "PNG output (default: FILE with .png)")
	show := fs.Bool("show", false, "open the figure in a window")
	files, err := parseInterspersed(fs, args)
	if err != nil {
		return err
	}
	if len(files) != 1 {
		return fmt.Errorf("%w: visualize takes exactly one FILE", errUsage)
	}
	if *out == "" {
		*out = replaceExt(files[0], ".png")
	}

	opts := visualize.DefaultOptions()
	opts.WidthIn, opts.HeightIn = a.cfg.PlotWidthIn, a.cfg.PlotHeightIn

	start := time.Now()
	err = visualize.RenderFile(files[0], *out, opts)
	a.metrics.ObserveAudio("visualize", start, err)
	if err != nil {
		return err
	}
	cyan.Fprintf(a.out, "Wrote %s\n", *out)

	if *show {
		return visualize.Show(*out)
	}
	return nil
}

func (a *app) preview(args []string) error {
	fs := flag.NewFlagSet("preview", flag.ContinueOnError)
	out := fs.String("out", "", "Ogg Opus output (default: FILE with .ogg)")
	files, err := parseInterspersed(fs, args)
	if err != nil {
		return err
	}
	if len(files) != 1 {
		return fmt.Errorf("%w: preview takes exactly one FILE", errUsage)
	}
	if *out == "" {
		*out = replaceExt(files[0], ".ogg")
	}

	start := time.Now()
	buf, err := audio.ReadFile(files[0])
	if err == nil {
		err = audio.ExportOpus(buf, *out, a.cfg.OpusBitrate)
	}
	a.metrics.ObserveAudio("preview", start, err)
	if err != nil {
		return err
	}
	cyan.Fprintf(a.out, "Wrote %s\n", *out)
	return nil
}

func (a *app) play(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("play", flag.ContinueOnError)
	files, err := parseInterspersed(fs, args)
	if err != nil {
		return err
	}
	if len(files) != 1 {
		return fmt.Errorf("%w: play takes exactly one FILE", errUsage)
	}

	buf, err := audio.ReadFile(files[0])
	if err != nil {
		return err
	}
	cyan.Fprintf(a.out, "Playing %s (%.1fs)\n", files[0], buf.Seconds())
	return playback.Play(ctx, buf)
}

func replaceExt(path, ext string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + ext
}
