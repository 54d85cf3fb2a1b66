package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/JakeFAU/storyprogress/internal/carousel"
	"github.com/JakeFAU/storyprogress/internal/config"
	"github.com/JakeFAU/storyprogress/internal/store"
)

// TestBuildServesStoriesEndToEnd builds the in-memory stack, plays a short
// story to completion and checks the view store saw it. It registers the
// Prometheus sink on the default registry, so it must stay the only Build in
// this package.
func TestBuildServesStoriesEndToEnd(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Story.SegmentDuration = 40 * time.Millisecond
	cfg.Story.TicksPerSecond = 200
	cfg.Progress.Batch.MaxWaitMs = 10

	ctx := context.Background()
	app, err := BuildWithLogger(ctx, &cfg, zaptest.NewLogger(t))
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/v1/stories", bytes.NewReader([]byte(`{"segments":2}`)))
	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var view carousel.View
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))

	require.Eventually(t, func() bool {
		run, err := app.viewRepo.GetStory(ctx, view.ID)
		return err == nil && run.Status == store.StoryCompleted
	}, 5*time.Second, 10*time.Millisecond)

	n, err := app.Sessions().Len(ctx)
	require.NoError(t, err)
	require.Zero(t, n)

	closeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, app.Close(closeCtx))

	rec = httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
