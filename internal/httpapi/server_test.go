package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"prodsync/internal/consistency"
	"prodsync/internal/feishu"
	"prodsync/internal/store"
	"prodsync/internal/syncer"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeEngine struct {
	startInfo  *syncer.StartInfo
	startErr   error
	gotOpts    syncer.Options
	current    *syncer.RunStatus
	last       *store.SyncLog
	statusErr  error
	controlErr error
	gotAction  string
	gotSyncID  string
	events     *syncer.Broadcaster
}

func (f *fakeEngine) StartAsync(_ context.Context, opts syncer.Options) (*syncer.StartInfo, error) {
	f.gotOpts = opts

	if f.startErr != nil {
		return nil, f.startErr
	}

	return f.startInfo, nil
}

func (f *fakeEngine) Status(_ context.Context) (*syncer.RunStatus, *store.SyncLog, error) {
	return f.current, f.last, f.statusErr
}

func (f *fakeEngine) Control(_ context.Context, action, syncID string) error {
	f.gotAction, f.gotSyncID = action, syncID

	return f.controlErr
}

func (f *fakeEngine) Broadcaster() *syncer.Broadcaster {
	return f.events
}

type fakeHistory struct {
	gotFilter  store.SyncLogFilter
	records    []*store.SyncLog
	pagination store.Pagination
	err        error
}

func (f *fakeHistory) FindFilteredSyncLogs(_ context.Context, filter store.SyncLogFilter) ([]*store.SyncLog, store.Pagination, error) {
	f.gotFilter = filter

	return f.records, f.pagination, f.err
}

type fakeChecker struct {
	validation  *consistency.ValidationReport
	validateErr error
	repair      *consistency.RepairReport
	repairErr   error
}

func (f *fakeChecker) Validate(_ context.Context, _ consistency.ValidateRequest) (*consistency.ValidationReport, error) {
	return f.validation, f.validateErr
}

func (f *fakeChecker) Repair(_ context.Context, _ consistency.RepairRequest) (*consistency.RepairReport, error) {
	return f.repair, f.repairErr
}

type fakePinger struct{ err error }

func (f *fakePinger) Ping(_ context.Context) error { return f.err }

type fakeUpstream struct{ err error }

func (f *fakeUpstream) VerifyCredentials(_ context.Context) ([]feishu.Field, error) {
	if f.err != nil {
		return nil, f.err
	}

	return []feishu.Field{{Name: "产品名称", IsPrimary: true}}, nil
}

type apiFixture struct {
	server   *Server
	engine   *fakeEngine
	history  *fakeHistory
	checker  *fakeChecker
	database *fakePinger
	objects  *fakePinger
	upstream *fakeUpstream
}

func newAPIFixture() *apiFixture {
	fx := &apiFixture{
		engine: &fakeEngine{
			startInfo: &syncer.StartInfo{
				SyncID:            "sync-123",
				StartTime:         time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC),
				EstimatedDuration: 90 * time.Second,
			},
			events: syncer.NewBroadcaster(),
		},
		history:  &fakeHistory{},
		checker:  &fakeChecker{},
		database: &fakePinger{},
		objects:  &fakePinger{},
		upstream: &fakeUpstream{},
	}

	fx.server = New(
		fx.engine, fx.history, fx.checker,
		fx.database, fx.objects, fx.upstream,
		Config{}, discardLogger(),
	)

	return fx
}

type testEnvelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
	RequestID string `json:"requestId"`
}

func doRequest(t *testing.T, s *Server, method, path string, body any) (*httptest.ResponseRecorder, testEnvelope) {
	t.Helper()

	var reader io.Reader

	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)

		reader = bytes.NewReader(encoded)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	var env testEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), "body: %s", rec.Body.String())

	return rec, env
}

func TestStartSync_Accepted(t *testing.T) {
	fx := newAPIFixture()

	rec, env := doRequest(t, fx.server, http.MethodPost, "/sync/feishu", jsonBody{
		"mode": "full",
		"options": jsonBody{
			"dryRun":    true,
			"batchSize": 10,
		},
	})

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.True(t, env.Success)

	var data map[string]any
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, "sync-123", data["syncId"])
	assert.Equal(t, "started", data["status"])
	assert.Equal(t, "1m30s", data["estimatedDuration"])
	assert.Equal(t, "/sync/progress/ws", data["progressChannelUrl"])

	assert.Equal(t, "full", fx.engine.gotOpts.Mode)
	assert.True(t, fx.engine.gotOpts.DryRun)
	assert.Equal(t, 10, fx.engine.gotOpts.BatchSize)
	assert.True(t, fx.engine.gotOpts.DownloadImages, "unset options keep their defaults")
	assert.Equal(t, 5, fx.engine.gotOpts.ConcurrentImages)
}

// jsonBody avoids importing gin in tests just for a map literal.
type jsonBody = map[string]any

func TestStartSync_ErrorMapping(t *testing.T) {
	cases := []struct {
		name     string
		err      error
		wantCode int
		wantAPI  string
	}{
		{"conflict", syncer.ErrSyncConflict, http.StatusConflict, CodeConflict},
		{"missing ids", syncer.ErrMissingProductIDs, http.StatusBadRequest, CodeMissingProductIDs},
		{"bad mode", syncer.ErrInvalidMode, http.StatusBadRequest, CodeInvalidParams},
		{"internal", errors.New("database on fire"), http.StatusInternalServerError, CodeInternalError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fx := newAPIFixture()
			fx.engine.startErr = tc.err

			rec, env := doRequest(t, fx.server, http.MethodPost, "/sync/feishu", jsonBody{"mode": "full"})

			assert.Equal(t, tc.wantCode, rec.Code)
			assert.False(t, env.Success)
			require.NotNil(t, env.Error)
			assert.Equal(t, tc.wantAPI, env.Error.Code)
		})
	}
}

func TestStartSync_MalformedBody(t *testing.T) {
	fx := newAPIFixture()

	req := httptest.NewRequest(http.MethodPost, "/sync/feishu", bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()
	fx.server.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatus_ReportsCurrentAndLast(t *testing.T) {
	fx := newAPIFixture()
	fx.engine.current = &syncer.RunStatus{
		SyncID: "sync-123", Mode: "full", Status: store.SyncStatusRunning,
		Progress: store.Progress{Stage: "processing_records", Percentage: 40},
	}
	fx.engine.last = &store.SyncLog{LogID: "sync-100", Status: store.SyncStatusCompleted}

	rec, env := doRequest(t, fx.server, http.MethodGet, "/sync/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var data struct {
		CurrentSync *syncer.RunStatus `json:"currentSync"`
		LastSync    *store.SyncLog    `json:"lastSync"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))

	require.NotNil(t, data.CurrentSync)
	assert.Equal(t, "sync-123", data.CurrentSync.SyncID)
	assert.Equal(t, 40, data.CurrentSync.Progress.Percentage)
	require.NotNil(t, data.LastSync)
	assert.Equal(t, "sync-100", data.LastSync.LogID)
}

func TestControl_Mapping(t *testing.T) {
	fx := newAPIFixture()

	rec, env := doRequest(t, fx.server, http.MethodPost, "/sync/control", jsonBody{
		"action": "pause", "syncId": "sync-123",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, env.Success)
	assert.Equal(t, "pause", fx.engine.gotAction)
	assert.Equal(t, "sync-123", fx.engine.gotSyncID)

	fx.engine.controlErr = syncer.ErrNoActiveSync
	rec, env = doRequest(t, fx.server, http.MethodPost, "/sync/control", jsonBody{"action": "cancel"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, CodeNotFound, env.Error.Code)

	fx.engine.controlErr = syncer.ErrInvalidAction
	rec, env = doRequest(t, fx.server, http.MethodPost, "/sync/control", jsonBody{"action": "explode"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, CodeInvalidParams, env.Error.Code)
}

func TestHistory_QueryParsing(t *testing.T) {
	fx := newAPIFixture()
	fx.history.records = []*store.SyncLog{{LogID: "run-1"}}
	fx.history.pagination = store.Pagination{Page: 2, Limit: 5, Total: 11, TotalPages: 3}

	rec, env := doRequest(t, fx.server, http.MethodGet,
		"/sync/history?status=completed&mode=full&page=2&limit=5&startDate=2025-03-01T00:00:00Z", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, "completed", fx.history.gotFilter.Status)
	assert.Equal(t, "full", fx.history.gotFilter.SyncType)
	assert.Equal(t, 2, fx.history.gotFilter.Page)
	assert.Equal(t, 5, fx.history.gotFilter.Limit)
	assert.Equal(t, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), fx.history.gotFilter.StartDate)

	var data struct {
		Records    []*store.SyncLog `json:"records"`
		Pagination store.Pagination `json:"pagination"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	require.Len(t, data.Records, 1)
	assert.Equal(t, 3, data.Pagination.TotalPages)
}

func TestHistory_Defaults(t *testing.T) {
	fx := newAPIFixture()

	rec, _ := doRequest(t, fx.server, http.MethodGet, "/sync/history", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, 1, fx.history.gotFilter.Page)
	assert.Equal(t, 20, fx.history.gotFilter.Limit)
}

func TestHistory_BadParams(t *testing.T) {
	fx := newAPIFixture()

	for _, path := range []string{
		"/sync/history?page=zero",
		"/sync/history?limit=-1",
		"/sync/history?startDate=yesterday",
	} {
		rec, env := doRequest(t, fx.server, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, path)
		require.NotNil(t, env.Error, path)
		assert.Equal(t, CodeInvalidParams, env.Error.Code, path)
	}
}

func TestValidate_Endpoint(t *testing.T) {
	fx := newAPIFixture()
	fx.checker.validation = &consistency.ValidationReport{
		ValidationID: "val-1",
		Summary:      consistency.ValidationSummary{TotalChecked: 3, IssuesFound: 1, Warnings: 1},
		Issues:       []consistency.Issue{{Type: "field_validation", Severity: "warning", ProductID: "rec1"}},
	}

	rec, env := doRequest(t, fx.server, http.MethodPost, "/sync/validate", jsonBody{"scope": "all"})
	require.Equal(t, http.StatusOK, rec.Code)

	var report consistency.ValidationReport
	require.NoError(t, json.Unmarshal(env.Data, &report))
	assert.Equal(t, "val-1", report.ValidationID)
	assert.Equal(t, 3, report.Summary.TotalChecked)

	fx.checker.validateErr = consistency.ErrMissingProductIDs
	rec, env = doRequest(t, fx.server, http.MethodPost, "/sync/validate", jsonBody{"scope": "selective"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, CodeMissingProductIDs, env.Error.Code)
}

func TestRepair_Endpoint(t *testing.T) {
	fx := newAPIFixture()
	fx.checker.repair = &consistency.RepairReport{
		RepairID: "rep-1",
		Summary:  consistency.RepairSummary{TotalIssues: 2, RepairedIssues: 2},
	}

	rec, env := doRequest(t, fx.server, http.MethodPost, "/sync/repair", jsonBody{
		"issueTypes": []string{"missing_image"}, "dryRun": false,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var report consistency.RepairReport
	require.NoError(t, json.Unmarshal(env.Data, &report))
	assert.Equal(t, 2, report.Summary.RepairedIssues)

	fx.checker.repairErr = consistency.ErrInvalidIssueType
	rec, env = doRequest(t, fx.server, http.MethodPost, "/sync/repair", jsonBody{"issueTypes": []string{"x"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, CodeInvalidParams, env.Error.Code)
}

func TestHealth_States(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		fx := newAPIFixture()

		rec, env := doRequest(t, fx.server, http.MethodGet, "/health", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var health healthResponse
		require.NoError(t, json.Unmarshal(env.Data, &health))
		assert.Equal(t, healthHealthy, health.Status)
		assert.Equal(t, serviceUp, health.Services["database"])
		assert.Equal(t, serviceUp, health.Services["objectStore"])
		assert.Equal(t, serviceUp, health.Services["upstream"])
		assert.NotEmpty(t, health.Metrics.Uptime)
	})

	t.Run("database down is unhealthy", func(t *testing.T) {
		fx := newAPIFixture()
		fx.database.err = errors.New("locked")

		rec, env := doRequest(t, fx.server, http.MethodGet, "/health", nil)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

		var health healthResponse
		require.NoError(t, json.Unmarshal(env.Data, &health))
		assert.Equal(t, healthUnhealthy, health.Status)
		assert.Equal(t, serviceDown, health.Services["database"])
	})

	t.Run("object store down is degraded", func(t *testing.T) {
		fx := newAPIFixture()
		fx.objects.err = errors.New("connection refused")

		rec, env := doRequest(t, fx.server, http.MethodGet, "/health", nil)
		assert.Equal(t, http.StatusOK, rec.Code)

		var health healthResponse
		require.NoError(t, json.Unmarshal(env.Data, &health))
		assert.Equal(t, healthDegraded, health.Status)
	})

	t.Run("upstream down is degraded", func(t *testing.T) {
		fx := newAPIFixture()
		fx.upstream.err = errors.New("invalid credentials")

		rec, env := doRequest(t, fx.server, http.MethodGet, "/health", nil)
		assert.Equal(t, http.StatusOK, rec.Code)

		var health healthResponse
		require.NoError(t, json.Unmarshal(env.Data, &health))
		assert.Equal(t, healthDegraded, health.Status)
	})
}

func TestRequestID_Echoed(t *testing.T) {
	fx := newAPIFixture()

	req := httptest.NewRequest(http.MethodGet, "/sync/status", nil)
	req.Header.Set("X-Request-ID", "trace-me-42")

	rec := httptest.NewRecorder()
	fx.server.Handler().ServeHTTP(rec, req)

	assert.Equal(t, "trace-me-42", rec.Header().Get("X-Request-ID"))

	var env testEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.Equal(t, "trace-me-42", env.RequestID)
}

func TestUnknownRoute(t *testing.T) {
	fx := newAPIFixture()

	rec, env := doRequest(t, fx.server, http.MethodGet, "/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, CodeNotFound, env.Error.Code)
}

func TestProgressWS_StreamsEvents(t *testing.T) {
	fx := newAPIFixture()

	ts := httptest.NewServer(fx.server.Handler())
	defer ts.Close()

	fx.engine.events.Publish(syncer.Event{
		SyncID: "sync-123", Status: store.SyncStatusRunning,
		Stage: "fetching_data", Percentage: 10,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+ts.URL[len("http"):]+"/sync/progress/ws", nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "") //nolint:errcheck

	// The subscriber is primed with the last event.
	var ev syncer.Event
	require.NoError(t, wsjson.Read(ctx, conn, &ev))
	assert.Equal(t, "sync-123", ev.SyncID)
	assert.Equal(t, "fetching_data", ev.Stage)

	fx.engine.events.Publish(syncer.Event{
		SyncID: "sync-123", Status: store.SyncStatusRunning,
		Stage: "processing_records", Percentage: 50,
	})

	require.NoError(t, wsjson.Read(ctx, conn, &ev))
	assert.Equal(t, "processing_records", ev.Stage)
	assert.Equal(t, 50, ev.Percentage)
}
