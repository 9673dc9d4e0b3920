package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/dustin/go-humanize"
)

const (
	// Upload timeout per attempt, generous for long-form videos
	uploadTimeout = 300 * time.Second

	// Download timeout per attempt
	downloadTimeout = 120 * time.Second

	// Retry configuration
	maxRetries     = 4
	baseRetryDelay = 1 * time.Second
	maxRetryDelay  = 30 * time.Second
)

// Supabase publishes finished videos to a Supabase Storage bucket.
type Supabase struct {
	url        string
	serviceKey string
	Bucket     string
	client     *http.Client
	retryDelay time.Duration
}

func NewSupabase(url, serviceKey, bucket string) *Supabase {
	return &Supabase{
		url:        strings.TrimRight(url, "/"),
		serviceKey: serviceKey,
		Bucket:     bucket,
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		retryDelay: baseRetryDelay,
	}
}

// retryOptions is the shared backoff policy: exponential with jitter, capped,
// non-retryable failures wrapped in retry.Unrecoverable stop immediately.
func retryOptions(ctx context.Context, what string, delay time.Duration) []retry.Option {
	jitter := delay / 4
	if jitter <= 0 {
		jitter = time.Millisecond
	}
	return []retry.Option{
		retry.Context(ctx),
		retry.Attempts(maxRetries + 1),
		retry.Delay(delay),
		retry.MaxDelay(maxRetryDelay),
		retry.DelayType(retry.CombineDelay(retry.BackOffDelay, retry.RandomDelay)),
		retry.MaxJitter(jitter),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			log.Printf("[Storage] %s attempt %d failed (retrying): %v", what, n+1, err)
		}),
	}
}

// Upload uploads data to the bucket with retries and exponential backoff.
// Uses PUT with x-upsert so re-running a job overwrites its output.
func (s *Supabase) Upload(ctx context.Context, path string, data []byte, contentType string) error {
	url := fmt.Sprintf("%s/storage/v1/object/%s/%s", s.url, s.Bucket, path)

	err := retry.Do(func() error {
		// Each attempt gets its own timeout
		uploadCtx, cancel := context.WithTimeout(ctx, uploadTimeout)
		defer cancel()

		req, err := http.NewRequestWithContext(uploadCtx, "PUT", url, bytes.NewReader(data))
		if err != nil {
			return retry.Unrecoverable(fmt.Errorf("failed to create request: %w", err))
		}

		req.Header.Set("Authorization", "Bearer "+s.serviceKey)
		req.Header.Set("Content-Type", contentType)
		req.Header.Set("x-upsert", "true")
		req.ContentLength = int64(len(data))

		resp, err := s.client.Do(req)
		if err != nil {
			return classifyNetworkError(fmt.Errorf("failed to upload: %w", err))
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated {
			return nil
		}

		body, _ := io.ReadAll(resp.Body)
		return classifyStatus(resp.StatusCode, fmt.Errorf("upload failed with status %d: %s", resp.StatusCode, truncate(string(body), 200)))
	}, retryOptions(ctx, "Upload "+path, s.retryDelay)...)
	if err != nil {
		return err
	}

	log.Printf("[Storage] Uploaded %s (%s) to bucket %s", path, humanize.Bytes(uint64(len(data))), s.Bucket)
	return nil
}

// GetPublicURL returns the public URL for an object
func (s *Supabase) GetPublicURL(path string) string {
	return fmt.Sprintf("%s/storage/v1/object/public/%s/%s", s.url, s.Bucket, path)
}

// download fetches a URL with retries. Supabase object URLs get the service key.
func download(ctx context.Context, client *http.Client, url, bearer string, delay time.Duration) ([]byte, error) {
	return retry.DoWithData(func() ([]byte, error) {
		dlCtx, cancel := context.WithTimeout(ctx, downloadTimeout)
		defer cancel()

		req, err := http.NewRequestWithContext(dlCtx, "GET", url, nil)
		if err != nil {
			return nil, retry.Unrecoverable(fmt.Errorf("failed to create request: %w", err))
		}
		if bearer != "" {
			req.Header.Set("Authorization", "Bearer "+bearer)
		}

		resp, err := client.Do(req)
		if err != nil {
			return nil, classifyNetworkError(fmt.Errorf("failed to download: %w", err))
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(resp.Body)
			return nil, classifyStatus(resp.StatusCode, fmt.Errorf("download failed with status %d: %s", resp.StatusCode, truncate(string(body), 200)))
		}

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to read download body: %w", err)
		}
		return data, nil
	}, retryOptions(ctx, "Download "+url, delay)...)
}

// classifyNetworkError marks network errors that are not worth retrying as unrecoverable.
func classifyNetworkError(err error) error {
	if isRetryableError(err) {
		return err
	}
	return retry.Unrecoverable(err)
}

func classifyStatus(status int, err error) error {
	if isRetryableStatus(status) {
		return err
	}
	// Non-retryable status (400, 401, 403, 404, 413, etc.)
	return retry.Unrecoverable(err)
}

// isRetryableError checks if a network-level error is worth retrying
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "EOF") ||
		strings.Contains(errStr, "broken pipe")
}

// isRetryableStatus checks if an HTTP status code is worth retrying
func isRetryableStatus(status int) bool {
	return status == http.StatusTooManyRequests || // 429
		status == http.StatusRequestTimeout || // 408
		status == http.StatusBadGateway || // 502
		status == http.StatusServiceUnavailable || // 503
		status == http.StatusGatewayTimeout // 504
}

// truncate limits a string to maxLen characters for log output
func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen]) + "..."
}
