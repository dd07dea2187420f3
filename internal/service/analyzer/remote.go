package analyzer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"printcalc/internal/domain"
)

const (
	// AnalyzePath is the remote analysis endpoint
	AnalyzePath = "/analyze-document"
	// HealthPath is probed by the health monitor
	HealthPath = "/health"

	maxResponseBytes = 1 << 20
	probeTimeout     = 5 * time.Second
)

// RemoteBackend calls the analyzer web service
type RemoteBackend struct {
	baseURL string
	timeout time.Duration
	client  *http.Client
}

// NewRemoteBackend creates a remote backend. A nil client uses a fresh
// http.Client; timeout bounds each Analyze call.
func NewRemoteBackend(baseURL string, timeout time.Duration, client *http.Client) *RemoteBackend {
	if client == nil {
		client = &http.Client{}
	}
	return &RemoteBackend{
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: timeout,
		client:  client,
	}
}

// Mode returns domain.ModeRemote
func (b *RemoteBackend) Mode() domain.BackendMode {
	return domain.ModeRemote
}

// Analyze uploads the document as multipart/form-data. Thresholds go both
// in the query string and as form fields so either server variant reads them.
func (b *RemoteBackend) Analyze(ctx context.Context, req domain.AnalysisRequest) (domain.PageBreakdown, error) {
	body, contentType, err := buildMultipart(req)
	if err != nil {
		return domain.PageBreakdown{}, fmt.Errorf("failed to build analysis request: %w", err)
	}

	params := url.Values{}
	params.Set("color_threshold", formatThreshold(req.Thresholds.Color))
	params.Set("photo_threshold", formatThreshold(req.Thresholds.Photo))
	endpoint := b.baseURL + AnalyzePath + "?" + params.Encode()

	callCtx := ctx
	if b.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	httpReq, err := http.NewRequestWithContext(callCtx, http.MethodPost, endpoint, body)
	if err != nil {
		return domain.PageBreakdown{}, newError(domain.ModeRemote, KindNetwork, "invalid analyzer url: %w", err)
	}
	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Accept", "application/json")

	resp, err := b.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return domain.PageBreakdown{}, fmt.Errorf("remote analysis aborted: %w", ctx.Err())
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return domain.PageBreakdown{}, newError(domain.ModeRemote, KindNetwork, "no response within %s: %w", b.timeout, err)
		}
		return domain.PageBreakdown{}, newError(domain.ModeRemote, KindNetwork, "request failed: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return domain.PageBreakdown{}, newError(domain.ModeRemote, KindNetwork, "failed to read response: %w", err)
	}

	switch {
	case resp.StatusCode >= 500:
		return domain.PageBreakdown{}, newError(domain.ModeRemote, KindNetwork, "server returned %d: %s", resp.StatusCode, snippet(payload))
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return domain.PageBreakdown{}, newError(domain.ModeRemote, KindBadResponse, "server returned %d: %s", resp.StatusCode, snippet(payload))
	}

	return decodeBreakdown(domain.ModeRemote, payload, KindBadResponse)
}

// Probe issues GET {base}/health
func (b *RemoteBackend) Probe(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+HealthPath, nil)
	if err != nil {
		return fmt.Errorf("invalid analyzer url: %w", err)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("analyzer service unreachable: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("analyzer health returned %d", resp.StatusCode)
	}
	return nil
}

func buildMultipart(req domain.AnalysisRequest) (io.Reader, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	name := filepath.Base(req.FileName)
	if name == "." || name == string(filepath.Separator) {
		name = "document"
	}
	part, err := mw.CreateFormFile("file", name)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(req.Data); err != nil {
		return nil, "", err
	}
	if err := mw.WriteField("color_threshold", formatThreshold(req.Thresholds.Color)); err != nil {
		return nil, "", err
	}
	if err := mw.WriteField("photo_threshold", formatThreshold(req.Thresholds.Photo)); err != nil {
		return nil, "", err
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return &buf, mw.FormDataContentType(), nil
}

func formatThreshold(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func snippet(b []byte) string {
	const max = 200
	s := strings.TrimSpace(string(b))
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
