package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mxngoc2104/thumbd/pkg/jobstore"
	"github.com/mxngoc2104/thumbd/pkg/messaging"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func serve(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealth(t *testing.T) {
	healthy := true
	states := func() map[string]int { return map[string]int{"waiting": 2, "processing": 0, "replying": 1} }
	s := NewServer(jobstore.NewInMemoryStore(), func() bool { return healthy }, states, testLogger)

	rec := serve(t, s, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Status  string         `json:"status"`
		Workers map[string]int `json:"workers"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, 1, body.Workers["replying"])

	healthy = false
	assert.Equal(t, http.StatusServiceUnavailable, serve(t, s, "/healthz").Code)
}

func TestJobStatus(t *testing.T) {
	store := jobstore.NewInMemoryStore()
	require.NoError(t, store.Publish(context.Background(), messaging.Event{
		JobID: "job-1", Source: "/data/a.png", ReplyTo: "D", Worker: 5,
		Stage: messaging.StageReplying, Replies: 1, HappenedAt: time.Now(),
	}))
	s := NewServer(store, func() bool { return true }, nil, testLogger)

	rec := serve(t, s, "/api/jobs/job-1")
	require.Equal(t, http.StatusOK, rec.Code)
	var got jobstore.Record
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "job-1", got.JobID)
	assert.Equal(t, messaging.StageReplying, got.Stage)
	assert.Equal(t, 5, got.Worker)

	assert.Equal(t, http.StatusNotFound, serve(t, s, "/api/jobs/nope").Code)
}

type brokenStore struct{ jobstore.Store }

func (brokenStore) Get(context.Context, string) (jobstore.Record, bool, error) {
	return jobstore.Record{}, false, errors.New("redis down")
}

func TestJobStatusStoreError(t *testing.T) {
	s := NewServer(brokenStore{}, func() bool { return true }, nil, testLogger)
	assert.Equal(t, http.StatusInternalServerError, serve(t, s, "/api/jobs/x").Code)
}
