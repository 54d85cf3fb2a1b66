package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/storyprogress/internal/carousel"
	"github.com/JakeFAU/storyprogress/internal/config"
	"github.com/JakeFAU/storyprogress/internal/loop"
	"github.com/JakeFAU/storyprogress/internal/policy/ratelimit"
	"github.com/JakeFAU/storyprogress/internal/story"
	"github.com/JakeFAU/storyprogress/internal/story/storytest"
)

type testEnv struct {
	server *Server
	sched  *storytest.Scheduler
	mgr    *carousel.Manager
}

func newTestEnv(t *testing.T, mutate func(*config.Config), limiter *ratelimit.Limiter) *testEnv {
	t.Helper()
	cfg := config.Config{Storage: config.StorageConfig{Prefix: "stories"}}
	if mutate != nil {
		mutate(&cfg)
	}
	sched := storytest.New(time.Time{})
	mgr := carousel.NewManager(sched, carousel.Config{AutoDismiss: true, Clock: sched})
	return &testEnv{
		server: NewServer(mgr, limiter, nil, nil, cfg, zap.NewNop()),
		sched:  sched,
		mgr:    mgr,
	}
}

func (e *testEnv) do(t *testing.T, method, path, body string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader([]byte(body)))
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeView(t *testing.T, rec *httptest.ResponseRecorder) carousel.View {
	t.Helper()
	var view carousel.View
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view), rec.Body.String())
	return view
}

func (e *testEnv) create(t *testing.T, segments int) carousel.View {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/v1/stories", `{"segments":`+strconv.Itoa(segments)+`}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeView(t, rec)
}

func TestHealthAndReady(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil, nil)
	rec := env.do(t, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	env.create(t, 2)
	rec = env.do(t, http.MethodGet, "/readyz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ready","sessions":1}`, rec.Body.String())
}

func TestRequestIDIsEchoed(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil, nil)
	rec := env.do(t, http.MethodGet, "/healthz", "", "X-Request-ID", "req-42")
	require.Equal(t, "req-42", rec.Header().Get("X-Request-ID"))
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil, nil)
	view := env.create(t, 2)
	env.do(t, http.MethodPost, "/v1/stories/"+view.ID.String()+"/next", "")

	rec := env.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "story_commands_total")
}

func TestCreateAndGetStory(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil, nil)
	view := env.create(t, 3)
	require.NotEqual(t, uuid.Nil, view.ID)
	require.Equal(t, story.PhaseAnimating, view.State.Phase)
	require.Equal(t, 3, view.State.SegmentCount)

	rec := env.do(t, http.MethodGet, "/v1/stories/"+view.ID.String(), "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, view.ID, decodeView(t, rec).ID)

	rec = env.do(t, http.MethodGet, "/v1/stories", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Stories []carousel.View `json:"stories"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Stories, 1)
}

func TestCreateStoryInvalidJSON(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil, nil)
	rec := env.do(t, http.MethodPost, "/v1/stories", "{")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStoryIDValidation(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil, nil)
	rec := env.do(t, http.MethodGet, "/v1/stories/not-a-uuid", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/v1/stories/"+uuid.NewString(), "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCommands(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil, nil)
	view := env.create(t, 3)
	base := "/v1/stories/" + view.ID.String()

	rec := env.do(t, http.MethodPost, base+"/next", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 1, decodeView(t, rec).State.CurrentSegment)

	rec = env.do(t, http.MethodPost, base+"/pause", "")
	require.Equal(t, story.PhasePaused, decodeView(t, rec).State.Phase)

	rec = env.do(t, http.MethodPost, base+"/resume", "")
	require.Equal(t, story.PhaseAnimating, decodeView(t, rec).State.Phase)

	rec = env.do(t, http.MethodPost, base+"/rewind", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSeek(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil, nil)
	view := env.create(t, 3)
	base := "/v1/stories/" + view.ID.String()

	rec := env.do(t, http.MethodPost, base+"/seek", `{}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, base+"/seek", `{"index":2}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 2, decodeView(t, rec).State.CurrentSegment)

	rec = env.do(t, http.MethodPost, base+"/seek", `{"index":7}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 2, decodeView(t, rec).State.CurrentSegment)
}

func TestGesturesAndRateLimit(t *testing.T) {
	t.Parallel()

	limiter := ratelimit.New(ratelimit.Config{DefaultRPS: 0.001, DefaultBurst: 2})
	env := newTestEnv(t, nil, limiter)
	view := env.create(t, 3)
	base := "/v1/stories/" + view.ID.String()

	rec := env.do(t, http.MethodPost, base+"/gestures", `{}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, base+"/gestures", `{"type":"tap_next"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 1, decodeView(t, rec).State.CurrentSegment)

	rec = env.do(t, http.MethodPost, base+"/gestures", `{"type":"tap_next"}`)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Equal(t, "1", rec.Header().Get("Retry-After"))
}

func TestLifecycleAndDismiss(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil, nil)
	view := env.create(t, 2)
	base := "/v1/stories/" + view.ID.String()

	rec := env.do(t, http.MethodPost, base+"/lifecycle", `{"event":"background"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, story.PhasePaused, decodeView(t, rec).State.Phase)
	require.Zero(t, env.sched.Live())

	rec = env.do(t, http.MethodPost, base+"/lifecycle", `{"event":"foreground"}`)
	require.Equal(t, story.PhaseAnimating, decodeView(t, rec).State.Phase)

	rec = env.do(t, http.MethodPost, base+"/lifecycle", `{}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodDelete, base, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Zero(t, env.sched.Live())

	rec = env.do(t, http.MethodGet, base, "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPIKeyRequired(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, func(c *config.Config) {
		c.Auth = config.AuthConfig{Enabled: true, APIKey: "secret"}
	}, nil)

	rec := env.do(t, http.MethodPost, "/v1/stories", `{"segments":2}`)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodPost, "/v1/stories", `{"segments":2}`, "X-API-Key", "secret")
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = env.do(t, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
}

type stubSessions struct {
	Sessions
	err     error
	panicky bool
}

func (s stubSessions) Create(context.Context, int) (carousel.View, error) {
	if s.panicky {
		panic("boom")
	}
	return carousel.View{}, s.err
}

func (s stubSessions) Len(context.Context) (int, error) { return 0, s.err }

func TestSessionErrorMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "closed loop", err: loop.ErrClosed, want: http.StatusServiceUnavailable},
		{name: "too many", err: carousel.ErrTooManySessions, want: http.StatusServiceUnavailable},
		{name: "deadline", err: context.DeadlineExceeded, want: http.StatusRequestTimeout},
		{name: "unexpected", err: assertErr("disk on fire"), want: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			server := NewServer(stubSessions{err: tt.err}, nil, nil, nil, config.Config{}, zap.NewNop())
			req := httptest.NewRequest(http.MethodPost, "/v1/stories", bytes.NewReader([]byte(`{"segments":1}`)))
			rec := httptest.NewRecorder()
			server.Handler().ServeHTTP(rec, req)
			require.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestReadyzUnavailable(t *testing.T) {
	t.Parallel()

	server := NewServer(stubSessions{err: loop.ErrClosed}, nil, nil, nil, config.Config{}, zap.NewNop())
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	server := NewServer(stubSessions{panicky: true}, nil, nil, nil, config.Config{}, zap.NewNop())
	req := httptest.NewRequest(http.MethodPost, "/v1/stories", bytes.NewReader([]byte(`{"segments":1}`)))
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

type assertErr string

func (e assertErr) Error() string { return string(e) }
