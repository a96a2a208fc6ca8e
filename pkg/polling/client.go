// Package polling implements the consumer-side loop that watches a
// generation until it reaches a terminal state. The presentation layer uses
// it to surface progress and the final asset to the user.
package polling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"server/internal/domain"
)

// Record is the wire shape returned by the generation status endpoint.
type Record struct {
	GenerationID string               `json:"generationId"`
	VersionID    string               `json:"requestedVersionId"`
	Status       domain.VersionStatus `json:"status"`
	Progress     int                  `json:"progress"`
	ImageURL     string               `json:"imageUrl,omitempty"`
	ThumbnailURL string               `json:"thumbnailUrl,omitempty"`
	Error        *RecordError         `json:"error,omitempty"`
	CreatedAt    time.Time            `json:"createdAt"`
	CompletedAt  *time.Time           `json:"completedAt,omitempty"`
}

// RecordError carries the stable failure code plus a human-readable message.
type RecordError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Fetcher retrieves the current record for a generation. Implementations
// must be read-only; polling repeatedly must never mutate server state.
type Fetcher interface {
	Fetch(ctx context.Context, generationID string) (*Record, error)
}

// ErrTimeout reports that the attempt budget ran out before a terminal state
// was observed. The job may well still be running server-side.
var ErrTimeout = errors.New("polling: generation did not reach a terminal state")

// FailedError is returned when a poll observes a failed generation.
type FailedError struct {
	Record *Record
}

func (e *FailedError) Error() string {
	if e.Record != nil && e.Record.Error != nil {
		return fmt.Sprintf("generation failed: %s: %s", e.Record.Error.Code, e.Record.Error.Message)
	}
	return "generation failed"
}

// Client polls a single generation at a fixed interval. Polls never overlap:
// the next fetch starts only after the previous one resolved and the
// interval elapsed.
type Client struct {
	fetcher     Fetcher
	interval    time.Duration
	maxAttempts int
}

func NewClient(fetcher Fetcher, interval time.Duration, maxAttempts int) *Client {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	return &Client{fetcher: fetcher, interval: interval, maxAttempts: maxAttempts}
}

// PollUntilTerminal fetches the record until it is complete (returned),
// failed (*FailedError) or the attempt budget is exhausted (ErrTimeout).
// onProgress is invoked once per poll with the latest record.
func (c *Client) PollUntilTerminal(ctx context.Context, generationID string, onProgress func(*Record)) (*Record, error) {
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		rec, err := c.fetcher.Fetch(ctx, generationID)
		if err != nil {
			return nil, fmt.Errorf("poll %d: %w", attempt, err)
		}
		if onProgress != nil {
			onProgress(rec)
		}
		switch rec.Status {
		case domain.StatusComplete:
			return rec, nil
		case domain.StatusFailed:
			return nil, &FailedError{Record: rec}
		}
		if attempt == c.maxAttempts {
			break
		}
		timer := time.NewTimer(c.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	return nil, fmt.Errorf("%w after %d attempts", ErrTimeout, c.maxAttempts)
}

// HTTPFetcher reads records from the service's status endpoint.
type HTTPFetcher struct {
	baseURL    string
	httpClient *http.Client
}

func NewHTTPFetcher(baseURL string, httpClient *http.Client) *HTTPFetcher {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &HTTPFetcher{baseURL: baseURL, httpClient: httpClient}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, generationID string) (*Record, error) {
	endpoint := fmt.Sprintf("%s/v1/generations/%s", f.baseURL, url.PathEscape(generationID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch status: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, domain.ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("fetch status: status %d: %s", resp.StatusCode, body)
	}
	var rec Record
	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		return nil, fmt.Errorf("decode status: %w", err)
	}
	return &rec, nil
}
