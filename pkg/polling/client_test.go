package polling

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"server/internal/domain"
)

type scriptedFetcher struct {
	records []Record
	calls   int
}

func (f *scriptedFetcher) Fetch(_ context.Context, _ string) (*Record, error) {
	if f.calls >= len(f.records) {
		rec := f.records[len(f.records)-1]
		f.calls++
		return &rec, nil
	}
	rec := f.records[f.calls]
	f.calls++
	return &rec, nil
}

func record(status domain.VersionStatus) Record {
	return Record{GenerationID: "g1", VersionID: "v1", Status: status}
}

func TestPollUntilComplete(t *testing.T) {
	fetcher := &scriptedFetcher{records: []Record{
		record(domain.StatusPreparing),
		record(domain.StatusGenerating),
		record(domain.StatusGenerating),
		record(domain.StatusComplete),
	}}
	client := NewClient(fetcher, time.Millisecond, 10)

	var seen []domain.VersionStatus
	rec, err := client.PollUntilTerminal(context.Background(), "g1", func(r *Record) {
		seen = append(seen, r.Status)
	})
	require.NoError(t, err)
	require.Equal(t, domain.StatusComplete, rec.Status)
	require.Equal(t, 4, fetcher.calls)
	require.Len(t, seen, 4)
}

func TestPollTimeoutAfterExactlyMaxAttempts(t *testing.T) {
	fetcher := &scriptedFetcher{records: []Record{record(domain.StatusGenerating)}}
	client := NewClient(fetcher, time.Millisecond, 3)

	progress := 0
	_, err := client.PollUntilTerminal(context.Background(), "g1", func(*Record) { progress++ })
	require.ErrorIs(t, err, ErrTimeout)
	require.Equal(t, 3, fetcher.calls)
	require.Equal(t, 3, progress)
}

func TestPollSurfacesFailure(t *testing.T) {
	failed := record(domain.StatusFailed)
	failed.Error = &RecordError{Code: "provider_error", Message: "upstream 503"}
	fetcher := &scriptedFetcher{records: []Record{record(domain.StatusGenerating), failed}}
	client := NewClient(fetcher, time.Millisecond, 5)

	_, err := client.PollUntilTerminal(context.Background(), "g1", nil)
	var fe *FailedError
	require.ErrorAs(t, err, &fe)
	require.Equal(t, "provider_error", fe.Record.Error.Code)
	require.Equal(t, 2, fetcher.calls)
}

func TestPollRespectsContextCancellation(t *testing.T) {
	fetcher := &scriptedFetcher{records: []Record{record(domain.StatusGenerating)}}
	client := NewClient(fetcher, time.Hour, 5)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err := client.PollUntilTerminal(ctx, "g1", nil)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, fetcher.calls)
}

func TestHTTPFetcher(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		require.Equal(t, "/v1/generations/g1", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"generationId":"g1","requestedVersionId":"v2","status":"complete","progress":100,"imageUrl":"http://x/static/generated/g1/v2/image.png"}`))
	}))
	defer srv.Close()

	rec, err := NewHTTPFetcher(srv.URL, srv.Client()).Fetch(context.Background(), "g1")
	require.NoError(t, err)
	require.Equal(t, domain.StatusComplete, rec.Status)
	require.Equal(t, "v2", rec.VersionID)
}

func TestHTTPFetcherNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewHTTPFetcher(srv.URL, srv.Client()).Fetch(context.Background(), "missing")
	require.True(t, errors.Is(err, domain.ErrNotFound))
}
