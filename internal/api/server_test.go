package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lexharvest/lexharvest/internal/pipeline"
)

// fakeCoordinator returns scripted replies keyed by message type.
type fakeCoordinator struct {
	status pipeline.StatusReply
	stats  pipeline.StatisticsReply
	saved  pipeline.CheckpointSaved
	errs   map[string]error
	asked  []pipeline.Message
}

func (f *fakeCoordinator) Ask(msg pipeline.Message, _ time.Duration) (pipeline.Message, error) {
	f.asked = append(f.asked, msg)
	switch msg.(type) {
	case pipeline.GetStatus:
		if err := f.errs["status"]; err != nil {
			return nil, err
		}
		return f.status, nil
	case pipeline.GetStatistics:
		if err := f.errs["statistics"]; err != nil {
			return nil, err
		}
		return f.stats, nil
	case pipeline.PausePipeline:
		if err := f.errs["pause"]; err != nil {
			return nil, err
		}
		return f.saved, nil
	case pipeline.ResumePipeline:
		if err := f.errs["resume"]; err != nil {
			return nil, err
		}
		return pipeline.Ack{}, nil
	case pipeline.StopPipeline:
		if err := f.errs["stop"]; err != nil {
			return nil, err
		}
		if msg.(pipeline.StopPipeline).SaveProgress {
			return f.saved, nil
		}
		return pipeline.Ack{}, nil
	}
	return nil, pipeline.NewError(pipeline.KindContent, "unexpected message")
}

func newTestServer(coord *fakeCoordinator) *httptest.Server {
	srv := NewServer(coord, Config{}, zap.NewNop())
	return httptest.NewServer(srv.Handler())
}

func TestServer_Healthz(t *testing.T) {
	t.Parallel()

	ts := newTestServer(&fakeCoordinator{})
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}

func TestServer_StatusReportsStateAndCounters(t *testing.T) {
	t.Parallel()

	coord := &fakeCoordinator{
		status: pipeline.StatusReply{
			State:      pipeline.StateScraping,
			Paused:     true,
			Breakers:   map[string]string{"awards": "closed"},
			Statistics: pipeline.Statistics{Discovered: 7, Processed: 3},
		},
	}
	ts := newTestServer(coord)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/pipeline/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body statusResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, pipeline.StateScraping, body.State)
	require.True(t, body.Paused)
	require.Equal(t, "closed", body.Breakers["awards"])
	require.Equal(t, 7, body.Statistics.Discovered)
}

func TestServer_Statistics(t *testing.T) {
	t.Parallel()

	coord := &fakeCoordinator{
		stats: pipeline.StatisticsReply{Statistics: pipeline.Statistics{Processed: 12, Errors: 2}},
	}
	ts := newTestServer(coord)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/pipeline/statistics")
	require.NoError(t, err)
	defer resp.Body.Close()

	var stats pipeline.Statistics
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	require.Equal(t, 12, stats.Processed)
	require.Equal(t, 2, stats.Errors)
}

func TestServer_PauseReturnsCheckpoint(t *testing.T) {
	t.Parallel()

	cpID := uuid.New()
	coord := &fakeCoordinator{
		saved: pipeline.CheckpointSaved{Checkpoint: pipeline.Checkpoint{
			ID:             cpID,
			SessionID:      uuid.New(),
			PendingIDs:     []string{"exp-1", "exp-2"},
			TotalProcessed: 9,
		}},
	}
	ts := newTestServer(coord)
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/v1/pipeline/pause", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body checkpointResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, cpID.String(), body.CheckpointID)
	require.Equal(t, 2, body.Pending)
	require.Equal(t, 9, body.Processed)
}

func TestServer_IllegalTransitionIsConflict(t *testing.T) {
	t.Parallel()

	coord := &fakeCoordinator{errs: map[string]error{
		"pause": pipeline.NewError(pipeline.KindIllegalTransition, "cannot pause pipeline in state completed"),
	}}
	ts := newTestServer(coord)
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/v1/pipeline/pause", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestServer_AskTimeoutIsGatewayTimeout(t *testing.T) {
	t.Parallel()

	coord := &fakeCoordinator{errs: map[string]error{
		"status": pipeline.NewError(pipeline.KindTimeout, "ask timed out"),
	}}
	ts := newTestServer(coord)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/pipeline/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusGatewayTimeout, resp.StatusCode)
}

func TestServer_StopForwardsSaveProgress(t *testing.T) {
	t.Parallel()

	coord := &fakeCoordinator{
		saved: pipeline.CheckpointSaved{Checkpoint: pipeline.Checkpoint{ID: uuid.New()}},
	}
	ts := newTestServer(coord)
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/v1/pipeline/stop", "application/json",
		strings.NewReader(`{"save_progress":true}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var stop pipeline.StopPipeline
	found := false
	for _, msg := range coord.asked {
		if m, ok := msg.(pipeline.StopPipeline); ok {
			stop = m
			found = true
		}
	}
	require.True(t, found)
	require.True(t, stop.SaveProgress)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Contains(t, body, "checkpoint_id")
}

func TestServer_StopRejectsMalformedBody(t *testing.T) {
	t.Parallel()

	ts := newTestServer(&fakeCoordinator{})
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/v1/pipeline/stop", "application/json",
		strings.NewReader(`{save_progress}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
