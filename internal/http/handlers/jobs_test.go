package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"server/internal/domain"
)

func seedGeneration(t *testing.T, env *testEnv) (generationID, versionID string) {
	t.Helper()
	env.assets.files["selfies/u1.jpg"] = []byte("selfie-bytes")
	gen := &domain.Generation{
		ID:        "gen-1",
		UserID:    "user-1",
		Prompt:    "renaissance portrait",
		SelfieKey: "selfies/u1.jpg",
	}
	require.NoError(t, env.genRepo.CreateGeneration(context.Background(), gen))
	version := &domain.GenerationVersion{
		GenerationID: gen.ID,
		VersionID:    "ver-1",
		JobType:      domain.JobTypeGenerate,
	}
	require.NoError(t, env.genRepo.CreateVersion(context.Background(), version))
	return gen.ID, version.VersionID
}

func runJob(t *testing.T, env *testEnv, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/internal/jobs/run", strings.NewReader(body))
	rec := httptest.NewRecorder()
	env.app.JobsRun(rec, req)
	return rec
}

func TestJobsRunHappyPath(t *testing.T) {
	env := newTestEnv()
	genID, verID := seedGeneration(t, env)

	body := fmt.Sprintf(`{"generationId":%q,"requestedVersionId":%q,"type":"generate","requestId":"req-1"}`, genID, verID)
	rec := runJob(t, env, body)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp jobRunResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.True(t, resp.Success)
	require.False(t, resp.Skipped)
	require.Equal(t, "ok", resp.Reason)

	version, err := env.genRepo.GetVersion(context.Background(), genID, verID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusComplete, version.Status)
	require.NotNil(t, version.CompletedAt)
}

func TestJobsRunMalformedBody(t *testing.T) {
	env := newTestEnv()

	for _, body := range []string{
		"{not-json",
		`{"generationId":"g","type":"generate"}`,
		`{"generationId":"g","requestedVersionId":"v","type":"upscale"}`,
	} {
		rec := runJob(t, env, body)
		require.Equal(t, http.StatusBadRequest, rec.Code, "body: %s", body)
		var resp errorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.Equal(t, domain.CodeInvalidRequest, resp.Error.Code)
	}
}

func TestJobsRunAcknowledgesProviderFailure(t *testing.T) {
	env := newTestEnv()
	genID, verID := seedGeneration(t, env)
	env.provider.err = errors.New("model overloaded")

	body := fmt.Sprintf(`{"generationId":%q,"requestedVersionId":%q,"type":"generate"}`, genID, verID)
	rec := runJob(t, env, body)

	// The dispatch substrate retries anything non-2xx; an executor failure is
	// durably recorded on the version and must still be acknowledged.
	require.Equal(t, http.StatusOK, rec.Code)
	var resp jobRunResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.False(t, resp.Success)
	require.Equal(t, domain.CodeProviderError, resp.Reason)

	version, err := env.genRepo.GetVersion(context.Background(), genID, verID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusFailed, version.Status)
}

func TestJobsRunDuplicateDispatchSkips(t *testing.T) {
	env := newTestEnv()
	genID, verID := seedGeneration(t, env)
	body := fmt.Sprintf(`{"generationId":%q,"requestedVersionId":%q,"type":"generate","requestId":"req-1"}`, genID, verID)

	first := runJob(t, env, body)
	require.Equal(t, http.StatusOK, first.Code)

	second := runJob(t, env, body)
	require.Equal(t, http.StatusOK, second.Code)
	var resp jobRunResponse
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &resp))
	require.True(t, resp.Success)
	require.True(t, resp.Skipped)
	require.Equal(t, "already_terminal", resp.Reason)
}

func TestJobsRunUnknownVersion(t *testing.T) {
	env := newTestEnv()

	rec := runJob(t, env, `{"generationId":"missing","requestedVersionId":"missing","type":"generate"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp jobRunResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.False(t, resp.Success)
	require.Equal(t, "not_found", resp.Reason)
}
