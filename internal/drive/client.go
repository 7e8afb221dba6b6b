package drive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	drivev3 "google.golang.org/api/drive/v3"
	"google.golang.org/api/option"

	"github.com/satindergrewal/stemprep/internal/metrics"
)

// DefaultChunkSize is how much of a download is read per step.
const DefaultChunkSize = 4 << 20

const searchFields = "nextPageToken, files(id, name, size)"

// Descriptor identifies a remote file.
type Descriptor struct {
	ID   string
	Name string
	Size int64
}

// DownloadResult reports what a download did.
type DownloadResult struct {
	Path    string
	Bytes   int64
	Skipped bool // destination already existed
}

// ProgressFunc receives download progress. total is -1 when unknown.
type ProgressFunc func(name string, read, total int64)

// Client searches and downloads files through the Drive v3 API.
type Client struct {
	svc       *drivev3.Service
	logger    *slog.Logger
	metrics   *metrics.Metrics
	chunkSize int
	progress  ProgressFunc
}

// NewClient creates a Drive client on top of an authorized HTTP client.
// An empty endpoint uses Google's.
func NewClient(ctx context.Context, httpClient *http.Client, endpoint string) (*Client, error) {
	opts := []option.ClientOption{option.WithHTTPClient(httpClient)}
	if endpoint != "" {
		opts = append(opts, option.WithEndpoint(endpoint))
	}
	svc, err := drivev3.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: create drive service: %w", ErrAPI, err)
	}
	return &Client{
		svc:       svc,
		logger:    slog.Default(),
		chunkSize: DefaultChunkSize,
	}, nil
}

// SetLogger replaces the logger.
func (c *Client) SetLogger(l *slog.Logger) {
	c.logger = l
}

// SetMetrics enables metric collection.
func (c *Client) SetMetrics(m *metrics.Metrics) {
	c.metrics = m
}

// SetChunkSize sets the download read size. Non-positive values reset it.
func (c *Client) SetChunkSize(n int) {
	if n <= 0 {
		n = DefaultChunkSize
	}
	c.chunkSize = n
}

// SetProgressFunc sets the callback for download progress.
func (c *Client) SetProgressFunc(fn ProgressFunc) {
	c.progress = fn
}

// SearchFileByName finds files named exactly name across every result page.
// With duplicates the largest file wins.
func (c *Client) SearchFileByName(ctx context.Context, name string) (Descriptor, error) {
	q := fmt.Sprintf("name = '%s'", escapeQuery(name))

	var (
		best      Descriptor
		found     int
		pageToken string
	)
	for {
		call := c.svc.Files.List().
			Context(ctx).
			Q(q).
			Spaces("drive").
			Fields(searchFields)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}

		resp, err := call.Do()
		if err != nil {
			c.logger.Error("Drive search failed", slog.String("name", name), slog.String("error", err.Error()))
			c.metrics.ObserveSearch(metrics.ResultError)
			return Descriptor{}, fmt.Errorf("%w: list files named %q: %w", ErrAPI, name, err)
		}

		for _, f := range resp.Files {
			c.logger.Debug("Found file", slog.String("name", f.Name), slog.String("id", f.Id), slog.Int64("size", f.Size))
			if found == 0 || f.Size > best.Size {
				best = Descriptor{ID: f.Id, Name: f.Name, Size: f.Size}
			}
			found++
		}

		pageToken = resp.NextPageToken
		if pageToken == "" {
			break
		}
	}

	if found == 0 {
		c.metrics.ObserveSearch(metrics.ResultNotFound)
		return Descriptor{}, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	c.metrics.ObserveSearch(metrics.ResultOK)
	if found > 1 {
		c.logger.Info("Multiple files share the name, using the largest",
			slog.String("name", name), slog.Int("matches", found), slog.String("id", best.ID))
	}
	return best, nil
}

// DownloadFile saves the content of file id as destDir/name, with path
// separators in name replaced by "_". An existing destination is left alone
// and reported as skipped. The destination only appears once the whole file
// has been received.
func (c *Client) DownloadFile(ctx context.Context, id, name, destDir string) (DownloadResult, error) {
	local, err := localName(name)
	if err != nil {
		return DownloadResult{}, err
	}
	dest := filepath.Join(destDir, local)

	if _, err := os.Stat(dest); err == nil {
		c.logger.Info("File already exists; skipping the download", slog.String("path", dest))
		c.metrics.ObserveDownload(metrics.ResultSkipped, 0)
		return DownloadResult{Path: dest, Skipped: true}, nil
	}

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return DownloadResult{}, fmt.Errorf("create %s: %w", destDir, err)
	}

	c.logger.Info("Downloading", slog.String("id", id), slog.String("name", name))
	data, err := c.fetchMedia(ctx, id, name)
	if err != nil {
		c.logger.Error("Download failed", slog.String("id", id), slog.String("error", err.Error()))
		c.metrics.ObserveDownload(metrics.ResultError, 0)
		return DownloadResult{}, err
	}

	if err := writeAtomic(dest, data); err != nil {
		c.metrics.ObserveDownload(metrics.ResultError, 0)
		return DownloadResult{}, err
	}

	c.logger.Info("Done downloading", slog.String("path", dest), slog.Int("bytes", len(data)))
	c.metrics.ObserveDownload(metrics.ResultOK, int64(len(data)))
	return DownloadResult{Path: dest, Bytes: int64(len(data))}, nil
}

// Fetch searches for name and downloads the best match into destDir.
func (c *Client) Fetch(ctx context.Context, name, destDir string) (Descriptor, DownloadResult, error) {
	d, err := c.SearchFileByName(ctx, name)
	if err != nil {
		return Descriptor{}, DownloadResult{}, err
	}
	res, err := c.DownloadFile(ctx, d.ID, d.Name, destDir)
	return d, res, err
}

// fetchMedia reads the file content into memory chunk by chunk.
func (c *Client) fetchMedia(ctx context.Context, id, name string) ([]byte, error) {
	resp, err := c.svc.Files.Get(id).Context(ctx).Download()
	if err != nil {
		return nil, fmt.Errorf("%w: download %s: %w", ErrAPI, id, err)
	}
	defer resp.Body.Close()

	total := resp.ContentLength
	var buf bytes.Buffer
	if total > 0 {
		buf.Grow(int(total))
	}

	var read int64
	lastPercent := -1
	for {
		n, err := io.CopyN(&buf, resp.Body, int64(c.chunkSize))
		read += n
		if c.progress != nil {
			c.progress(name, read, total)
		}
		if total > 0 {
			if pct := int(read * 100 / total); pct != lastPercent {
				lastPercent = pct
				c.logger.Debug("Download progress", slog.String("name", name), slog.Int("percent", pct))
			}
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: read %s: %w", ErrAPI, id, err)
		}
	}

	if total > 0 && read != total {
		return nil, fmt.Errorf("%w: %s: got %d of %d bytes", ErrAPI, id, read, total)
	}
	return buf.Bytes(), nil
}

func writeAtomic(dest string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(dest), "."+filepath.Base(dest)+".*.part")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write %s: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close %s: %w", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("rename to %s: %w", dest, err)
	}
	return nil
}

// escapeQuery escapes a value for a single-quoted Drive query string.
func escapeQuery(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `'`, `\'`)
}

var separatorReplacer = strings.NewReplacer("/", "_", `\`, "_")

// localName maps a Drive file name, which may contain separators, to a single
// path element.
func localName(name string) (string, error) {
	local := separatorReplacer.Replace(name)
	if local == "" || local == "." || local == ".." {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return local, nil
}
