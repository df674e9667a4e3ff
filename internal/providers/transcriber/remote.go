package transcriber

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/jimdaga/reelpipe/internal/pipeline"
	"github.com/jimdaga/reelpipe/internal/srt"
)

// SecretHeader carries the shared secret on remote transcription requests
const SecretHeader = "X-Transcribe-Secret"

// Remote asks an HTTP transcription service to transcribe a media URL. It
// is used for platforms the service can fetch itself (YouTube).
type Remote struct {
	baseURL    string
	secret     string
	httpClient *http.Client
}

// NewRemote creates a client for the service at baseURL
func NewRemote(baseURL, secret string, timeout time.Duration) *Remote {
	return &Remote{
		baseURL:    baseURL,
		secret:     secret,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type remoteRequest struct {
	URL      string `json:"url"`
	Platform string `json:"platform"`
	Format   string `json:"format"`
}

type remoteResponse struct {
	Subtitle string `json:"subtitle"`
}

// Transcribe posts media.URL to the service and returns its SRT reply
func (r *Remote) Transcribe(ctx context.Context, media pipeline.MediaRef) (string, error) {
	if media.URL == "" {
		return "", errors.New("remote transcription needs a media URL")
	}

	body, err := json.Marshal(remoteRequest{URL: media.URL, Platform: media.Platform, Format: "srt"})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/transcribe", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set(SecretHeader, r.secret)
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("transcription service returned status %d: %s", resp.StatusCode, string(msg))
	}

	var out remoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	return srt.Normalize(out.Subtitle)
}
