package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfall/barfeed-go/internal/config"
)

type stubCleanup struct {
	stats    map[string]int64
	statsErr error
	runErr   error
	lastCfg  config.CleanupConfig
	runs     int
}

func (s *stubCleanup) GetDataStats(ctx context.Context) (map[string]int64, error) {
	return s.stats, s.statsErr
}

func (s *stubCleanup) RunCleanup(cfg config.CleanupConfig) error {
	s.runs++
	s.lastCfg = cfg
	return s.runErr
}

func cleanupRouter(h *CleanupHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/api/v1/admin/archive/stats", h.GetDataStats)
	router.POST("/api/v1/admin/cleanup", h.TriggerCleanup)
	return router
}

func TestGetDataStats(t *testing.T) {
	svc := &stubCleanup{stats: map[string]int64{
		"bars_count":             1200,
		"oldest_bar_age_seconds": 86400,
	}}
	router := cleanupRouter(NewCleanupHandler(svc, config.CleanupConfig{RetentionHours: 72}))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/admin/archive/stats", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"bars_count":1200`)
	assert.Contains(t, w.Body.String(), `"oldest_bar_age_seconds":86400`)
}

func TestGetDataStatsError(t *testing.T) {
	svc := &stubCleanup{statsErr: errors.New("db down")}
	router := cleanupRouter(NewCleanupHandler(svc, config.CleanupConfig{}))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/admin/archive/stats", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestTriggerCleanupUsesDefaults(t *testing.T) {
	svc := &stubCleanup{stats: map[string]int64{"bars_count": 10}}
	router := cleanupRouter(NewCleanupHandler(svc, config.CleanupConfig{RetentionHours: 72}))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/admin/cleanup", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, svc.runs)
	assert.Equal(t, 72, svc.lastCfg.RetentionHours)
}

func TestTriggerCleanupOverridesRetention(t *testing.T) {
	svc := &stubCleanup{stats: map[string]int64{}}
	router := cleanupRouter(NewCleanupHandler(svc, config.CleanupConfig{RetentionHours: 72}))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/admin/cleanup?retention_hours=24", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 24, svc.lastCfg.RetentionHours)
}

func TestTriggerCleanupRejectsBadRetention(t *testing.T) {
	svc := &stubCleanup{}
	router := cleanupRouter(NewCleanupHandler(svc, config.CleanupConfig{RetentionHours: 72}))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/admin/cleanup?retention_hours=-1", nil))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Zero(t, svc.runs)
}

func TestTriggerCleanupRunError(t *testing.T) {
	svc := &stubCleanup{runErr: errors.New("delete failed")}
	router := cleanupRouter(NewCleanupHandler(svc, config.CleanupConfig{RetentionHours: 72}))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/admin/cleanup", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
