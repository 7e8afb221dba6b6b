package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"golang.org/x/oauth2"

	"github.com/satindergrewal/stemprep/internal/audio"
	"github.com/satindergrewal/stemprep/internal/config"
	"github.com/satindergrewal/stemprep/internal/drive"
)

func writeTone(t *testing.T, dir, name string, rate, channels int, seconds float64) string {
	t.Helper()
	frames := int(float64(rate) * seconds)
	b := &audio.Buffer{SampleRate: rate, Channels: channels, BitDepth: 16, Data: make([]int, frames*channels)}
	for i := range b.Data {
		b.Data[i] = int(8000 * math.Sin(2*math.Pi*440*float64(i/channels)/float64(rate)))
	}
	path := filepath.Join(dir, name)
	if err := audio.WriteFile(path, b); err != nil {
		t.Fatal(err)
	}
	return path
}

func testConfig(t *testing.T) config.Config {
	cfg := config.Default()
	cfg.TokenPath = filepath.Join(t.TempDir(), "token.json")
	cfg.PlotWidthIn, cfg.PlotHeightIn = 4, 3
	return cfg
}

func TestRunNoArgs(t *testing.T) {
	if err := run(context.Background(), testConfig(t), nil, &bytes.Buffer{}); err != errUsage {
		t.Errorf("error = %v, want errUsage", err)
	}
}

func TestRunUnknownCommand(t *testing.T) {
	if err := run(context.Background(), testConfig(t), []string{"transmogrify"}, &bytes.Buffer{}); err != errUsage {
		t.Errorf("error = %v, want errUsage", err)
	}
}

func TestReportError(t *testing.T) {
	noColor := color.NoColor
	color.NoColor = true
	defer func() { color.NoColor = noColor }()

	tests := []struct {
		name string
		err  error
		want string
	}{
		{"bare usage", errUsage, ""},
		{"wrapped usage", fmt.Errorf("%w: search takes exactly one NAME", errUsage),
			"invalid usage: search takes exactly one NAME\nrun \"stemprep help\" for usage\n"},
		{"failure", errors.New("boom"), "error: boom\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			reportError(&out, tt.err)
			if out.String() != tt.want {
				t.Errorf("output = %q, want %q", out.String(), tt.want)
			}
		})
	}
}

func TestRunWrappedUsageError(t *testing.T) {
	err := run(context.Background(), testConfig(t), []string{"search"}, &bytes.Buffer{})
	if !errors.Is(err, errUsage) || err == errUsage {
		t.Fatalf("error = %v, want wrapped errUsage", err)
	}
	var out bytes.Buffer
	reportError(&out, err)
	if strings.HasPrefix(out.String(), "error:") {
		t.Errorf("usage error reported as failure: %q", out.String())
	}
}

func TestDurationCommand(t *testing.T) {
	dir := t.TempDir()
	a := writeTone(t, dir, "a.wav", 8000, 1, 1)
	b := writeTone(t, dir, "b.wav", 8000, 2, 2.5)

	var out bytes.Buffer
	if err := run(context.Background(), testConfig(t), []string{"duration", a, b}, &out); err != nil {
		t.Fatalf("run: %v", err)
	}
	got := out.String()
	if !strings.Contains(got, a+"\t1.000s") || !strings.Contains(got, b+"\t2.500s") {
		t.Errorf("output = %q", got)
	}
}

func TestDurationCommandErrors(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.wav")
	os.WriteFile(bad, []byte("nope"), 0o644)

	err := run(context.Background(), testConfig(t), []string{"duration", bad}, &bytes.Buffer{})
	if !errors.Is(err, audio.ErrFormat) {
		t.Errorf("error = %v, want ErrFormat", err)
	}
	if err := run(context.Background(), testConfig(t), []string{"duration"}, &bytes.Buffer{}); !errors.Is(err, errUsage) {
		t.Errorf("error = %v, want errUsage", err)
	}
}

func TestMixCommand(t *testing.T) {
	dir := t.TempDir()
	mix := writeTone(t, dir, "mix.wav", 8000, 2, 2)
	inst := writeTone(t, dir, "inst.wav", 8000, 2, 0.5)
	outInst := filepath.Join(dir, "out", "inst.wav")
	outMix := filepath.Join(dir, "out", "mix.wav")
	os.MkdirAll(filepath.Join(dir, "out"), 0o755)

	cfg := testConfig(t)
	cfg.MetricsFile = filepath.Join(dir, "stemprep.prom")

	args := []string{"mix", "-mix", mix, "-inst", inst, "-out-inst", outInst, "-out-mix", outMix}
	if err := run(context.Background(), cfg, args, &bytes.Buffer{}); err != nil {
		t.Fatalf("run: %v", err)
	}
	for _, p := range []string{outInst, outMix} {
		secs, err := audio.GetDuration(p)
		if err != nil {
			t.Fatalf("%s: %v", p, err)
		}
		if math.Abs(secs-2) > 1e-9 {
			t.Errorf("%s duration = %v, want 2", p, secs)
		}
	}

	prom, err := os.ReadFile(cfg.MetricsFile)
	if err != nil {
		t.Fatalf("metrics file: %v", err)
	}
	if !strings.Contains(string(prom), `stemprep_audio_operations_total{op="mix",result="ok"} 1`) {
		t.Errorf("metrics file missing mix counter:\n%s", prom)
	}
}

func TestMixCommandMissingFlag(t *testing.T) {
	err := run(context.Background(), testConfig(t), []string{"mix", "-mix", "a.wav"}, &bytes.Buffer{})
	if !errors.Is(err, errUsage) {
		t.Errorf("error = %v, want errUsage", err)
	}
}

func TestVisualizeCommand(t *testing.T) {
	dir := t.TempDir()
	wav := writeTone(t, dir, "song.wav", 8000, 1, 0.5)

	var out bytes.Buffer
	if err := run(context.Background(), testConfig(t), []string{"visualize", wav}, &out); err != nil {
		t.Fatalf("run: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "song.png")); err != nil {
		t.Errorf("default PNG not written: %v", err)
	}
}

func TestPreviewCommand(t *testing.T) {
	dir := t.TempDir()
	wav := writeTone(t, dir, "song.wav", 8000, 2, 0.5)
	ogg := filepath.Join(dir, "preview.ogg")

	if err := run(context.Background(), testConfig(t), []string{"preview", wav, "-out", ogg}, &bytes.Buffer{}); err != nil {
		t.Fatalf("run: %v", err)
	}
	data, err := os.ReadFile(ogg)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(data, []byte("OggS")) {
		t.Error("preview is not an Ogg file")
	}
}

// driveFixture serves a single file through a fake Drive API and prepares
// credentials plus a cached token so no interactive flow runs.
func driveFixture(t *testing.T) config.Config {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/drive/v3/files":
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"files":[{"id":"f1","name":"stem.wav","size":"5"}]}`))
		case "/drive/v3/files/f1":
			w.Write([]byte("hello"))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	creds, _ := json.Marshal(map[string]any{"installed": map[string]any{
		"client_id":     "cid",
		"client_secret": "secret",
		"auth_uri":      srv.URL + "/auth",
		"token_uri":     srv.URL + "/token",
		"redirect_uris": []string{"http://localhost"},
	}})
	credPath := filepath.Join(dir, "credentials.json")
	os.WriteFile(credPath, creds, 0o600)

	cfg := testConfig(t)
	cfg.CredentialsPath = credPath
	cfg.DriveEndpoint = srv.URL + "/drive/v3/"
	cfg.DownloadDir = filepath.Join(dir, "downloads")

	store := drive.NewFileTokenStore(cfg.TokenPath)
	if err := store.Save(&oauth2.Token{AccessToken: "cached", Expiry: time.Now().Add(time.Hour)}); err != nil {
		t.Fatal(err)
	}
	return cfg
}

func TestSearchCommand(t *testing.T) {
	cfg := driveFixture(t)
	var out bytes.Buffer
	if err := run(context.Background(), cfg, []string{"search", "stem.wav"}, &out); err != nil {
		t.Fatalf("run: %v", err)
	}
	if out.String() != "f1\tstem.wav\t5\n" {
		t.Errorf("output = %q", out.String())
	}
}

func TestDownloadCommand(t *testing.T) {
	cfg := driveFixture(t)

	var out bytes.Buffer
	if err := run(context.Background(), cfg, []string{"download", "stem.wav"}, &out); err != nil {
		t.Fatalf("run: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(cfg.DownloadDir, "stem.wav"))
	if err != nil || string(data) != "hello" {
		t.Fatalf("downloaded = %q, %v", data, err)
	}

	out.Reset()
	if err := run(context.Background(), cfg, []string{"download", "stem.wav", "-dest", cfg.DownloadDir}, &out); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if !strings.Contains(out.String(), "Skipped") {
		t.Errorf("second download output = %q, want skip", out.String())
	}
}

func TestAuthCommandCached(t *testing.T) {
	cfg := driveFixture(t)
	var out bytes.Buffer
	if err := run(context.Background(), cfg, []string{"auth"}, &out); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(out.String(), "Authorized") {
		t.Errorf("output = %q", out.String())
	}
}

func TestParseInterspersed(t *testing.T) {
	fs := flag.NewFlagSet("download", flag.ContinueOnError)
	dest := fs.String("dest", "", "")

	pos, err := parseInterspersed(fs, []string{"NAME", "-dest", "/tmp/x", "OTHER"})
	if err != nil {
		t.Fatal(err)
	}
	if *dest != "/tmp/x" || len(pos) != 2 || pos[0] != "NAME" || pos[1] != "OTHER" {
		t.Errorf("dest = %q positional = %v", *dest, pos)
	}
}

func TestTokenKey(t *testing.T) {
	cfg := driveFixture(t)
	if got := tokenKey(cfg.CredentialsPath); got != "cid" {
		t.Errorf("tokenKey = %q, want cid", got)
	}
	if got := tokenKey(filepath.Join(t.TempDir(), "missing.json")); got != "default" {
		t.Errorf("tokenKey missing = %q, want default", got)
	}
}

func TestSQLiteTokenStoreSelected(t *testing.T) {
	cfg := testConfig(t)
	cfg.TokenStore = "sqlite"
	cfg.TokenPath = filepath.Join(t.TempDir(), "tokens.db")

	a := &app{cfg: cfg}
	store, closeStore, err := a.tokenStore()
	if err != nil {
		t.Fatal(err)
	}
	defer closeStore()
	if _, ok := store.(*drive.SQLiteTokenStore); !ok {
		t.Errorf("store = %T, want *drive.SQLiteTokenStore", store)
	}
}
