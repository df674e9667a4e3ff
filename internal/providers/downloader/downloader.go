// Package downloader fetches source videos. Instagram and YouTube links are
// resolved to a direct media URL through a resolver API, LinkedIn links
// through yt-dlp; the media is then streamed to disk.
package downloader

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jimdaga/reelpipe/internal/models"
	"github.com/jimdaga/reelpipe/internal/pipeline"
	"github.com/jimdaga/reelpipe/internal/providers/command"
	"golang.org/x/time/rate"
)

// Progress checkpoints reported while a download runs
const (
	progressResolved = 10
	progressFetchMin = 15
)

// ErrUnsupportedPlatform is returned for links no resolver handles
var ErrUnsupportedPlatform = errors.New("unsupported platform")

// Options configures a Client
type Options struct {
	ResolverURL string
	ResolverKey string
	YtDlpPath   string
	// RatePerSec limits outgoing requests; zero means unlimited
	RatePerSec float64
	// ResolveTimeout bounds the resolver call and yt-dlp
	ResolveTimeout time.Duration
}

// Client implements pipeline.Downloader
type Client struct {
	httpClient     *http.Client
	resolverURL    string
	resolverKey    string
	ytdlp          string
	resolveTimeout time.Duration
	runner         command.Runner
	limiter        *rate.Limiter
	logger         *slog.Logger
}

var _ pipeline.Downloader = (*Client)(nil)

// NewClient builds a downloader. The fetch itself is bounded by the task's
// context, not by an HTTP client timeout, since videos can be large.
func NewClient(opts Options, runner command.Runner, logger *slog.Logger) *Client {
	c := &Client{
		httpClient:     &http.Client{},
		resolverURL:    opts.ResolverURL,
		resolverKey:    opts.ResolverKey,
		ytdlp:          opts.YtDlpPath,
		resolveTimeout: opts.ResolveTimeout,
		runner:         runner,
		limiter:        rate.NewLimiter(rate.Inf, 1),
		logger:         logger,
	}
	if c.ytdlp == "" {
		c.ytdlp = "yt-dlp"
	}
	if c.resolveTimeout <= 0 {
		c.resolveTimeout = 60 * time.Second
	}
	if opts.RatePerSec > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(opts.RatePerSec), 1)
	}
	return c
}

// Download resolves req.SourceURL and streams the media to req.DestPath
func (c *Client) Download(ctx context.Context, req pipeline.DownloadRequest, progress pipeline.ProgressFunc) (pipeline.DownloadResult, error) {
	platform := req.Platform
	if platform == "" || platform == models.PlatformOther {
		_, platform = models.DetectContentInfo(req.SourceURL)
	}

	mediaURL, err := c.resolve(ctx, req.SourceURL, platform)
	if err != nil {
		return pipeline.DownloadResult{}, err
	}
	c.logger.Info("Resolved media URL", "platform", platform, "source_url", req.SourceURL)
	report(progress, progressResolved)

	size, err := c.fetch(ctx, mediaURL, req.DestPath, progress)
	if err != nil {
		return pipeline.DownloadResult{}, err
	}
	report(progress, 100)

	return pipeline.DownloadResult{
		LocalPath:   req.DestPath,
		SizeBytes:   size,
		DownloadURL: mediaURL,
	}, nil
}

func (c *Client) resolve(ctx context.Context, sourceURL, platform string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.resolveTimeout)
	defer cancel()

	switch platform {
	case models.PlatformInstagram, models.PlatformYouTube:
		return c.resolveAPI(ctx, sourceURL, platform)
	case models.PlatformLinkedIn:
		return c.resolveYtDlp(ctx, sourceURL)
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupportedPlatform, sourceURL)
}

type resolveRequest struct {
	VideoURL string `json:"video_url"`
	Type     string `json:"type"`
}

// resolveResponse covers both reply shapes: a top-level url (youtube) or a
// data array (instagram carousels, first item wins)
type resolveResponse struct {
	Success json.RawMessage `json:"success"`
	URL     string          `json:"url"`
	Data    []struct {
		URL string `json:"url"`
	} `json:"data"`
	Message string `json:"message"`
}

func (r resolveResponse) ok() bool {
	switch strings.TrimSpace(string(r.Success)) {
	case "true", "1":
		return true
	}
	return false
}

func (c *Client) resolveAPI(ctx context.Context, sourceURL, platform string) (string, error) {
	if c.resolverURL == "" {
		return "", errors.New("DOWNLOADER_API_URL is not configured")
	}

	body, err := json.Marshal(resolveRequest{VideoURL: sourceURL, Type: platform})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.resolverURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.resolverKey != "" {
		req.Header.Set("X-API-Key", c.resolverKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("resolver request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("failed to read resolver response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("resolver returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var out resolveResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("failed to parse resolver response: %w", err)
	}
	if !out.ok() {
		return "", fmt.Errorf("resolver rejected %s: %s", sourceURL, out.Message)
	}

	mediaURL := out.URL
	if platform == models.PlatformInstagram || mediaURL == "" {
		mediaURL = ""
		if len(out.Data) > 0 {
			mediaURL = out.Data[0].URL
		}
	}
	if mediaURL == "" {
		return "", errors.New("no download URL found in resolver response")
	}
	return mediaURL, nil
}

func (c *Client) resolveYtDlp(ctx context.Context, sourceURL string) (string, error) {
	res, err := c.runner.Run(ctx, command.Command{
		Name: c.ytdlp,
		Args: []string{"--no-playlist", "--get-url", "-f", "best[ext=mp4]/best", sourceURL},
	})
	if err != nil {
		return "", fmt.Errorf("yt-dlp: %w", err)
	}
	for _, line := range strings.Split(res.Stdout, "\n") {
		if line = strings.TrimSpace(line); strings.HasPrefix(line, "http") {
			return line, nil
		}
	}
	return "", errors.New("failed to extract video URL from yt-dlp")
}

// fetch streams mediaURL into dest through a temp file, so a half written
// file never sits at the final path
func (c *Client) fetch(ctx context.Context, mediaURL, dest string, progress pipeline.ProgressFunc) (int64, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, mediaURL, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("media request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("media server returned status %d", resp.StatusCode)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return 0, err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dest), filepath.Base(dest)+".part-*")
	if err != nil {
		return 0, err
	}
	defer os.Remove(tmp.Name())

	w := &progressWriter{total: resp.ContentLength, report: progress}
	n, err := io.Copy(io.MultiWriter(tmp, w), resp.Body)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return 0, fmt.Errorf("failed to write %s: %w", dest, err)
	}
	if resp.ContentLength > 0 && n != resp.ContentLength {
		return 0, fmt.Errorf("short download: got %d of %d bytes", n, resp.ContentLength)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return 0, err
	}

	c.logger.Info("Downloaded media", "path", dest, "bytes", n)
	return n, nil
}

// progressWriter maps bytes written onto progressFetchMin..99
type progressWriter struct {
	total   int64
	written int64
	report  pipeline.ProgressFunc
}

func (w *progressWriter) Write(p []byte) (int, error) {
	w.written += int64(len(p))
	if w.total > 0 {
		pct := progressFetchMin + int(w.written*int64(99-progressFetchMin)/w.total)
		report(w.report, pct)
	}
	return len(p), nil
}

func report(progress pipeline.ProgressFunc, pct int) {
	if progress != nil {
		progress(pct)
	}
}
