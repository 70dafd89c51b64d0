package handler

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"serial-service/internal/config"
	"serial-service/internal/connection"
	"serial-service/internal/sequence"
)

type fakeDB struct {
	err error
}

func (f *fakeDB) HealthCheck() error    { return f.err }
func (f *fakeDB) GetStats() sql.DBStats { return sql.DBStats{OpenConnections: 1, Idle: 1} }

func newHealthRouter(t *testing.T, db Pinger, serial ConnectionStatus) *gin.Engine {
	cfg := &config.Config{App: config.AppConfig{Name: "serial-service", Version: "test"}}
	h := NewHealthHandler(db, serial, cfg, zaptest.NewLogger(t))
	router := gin.New()
	h.RegisterRoutes(router)
	return router
}

func get(router *gin.Engine, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestHealthCheck_WithoutDatabase(t *testing.T) {
	router := newHealthRouter(t, nil, &fakeManager{})

	w := get(router, "/health")
	require.Equal(t, http.StatusOK, w.Code)

	var health HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &health))
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "serial-service", health.Service)
	assert.Equal(t, "idle", health.Checks["serial"].Status)
	assert.NotContains(t, health.Checks, "database")

	assert.Equal(t, http.StatusNotFound, get(router, "/health/db").Code)
	assert.Equal(t, http.StatusOK, get(router, "/ready").Code)
	assert.Equal(t, http.StatusOK, get(router, "/live").Code)
}

func TestHealthCheck_DatabaseDown(t *testing.T) {
	serial := &fakeManager{connected: true}
	router := newHealthRouter(t, &fakeDB{err: errors.New("connection refused")}, serial)

	w := get(router, "/health")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var health HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &health))
	assert.Equal(t, "unhealthy", health.Status)
	assert.Equal(t, "healthy", health.Checks["serial"].Status)
	assert.Equal(t, "connection refused", health.Checks["database"].Message)

	assert.Equal(t, http.StatusServiceUnavailable, get(router, "/health/db").Code)
	assert.Equal(t, http.StatusServiceUnavailable, get(router, "/ready").Code)
	assert.Equal(t, http.StatusOK, get(router, "/live").Code)
}

func TestHealthCheck_DatabaseUp(t *testing.T) {
	router := newHealthRouter(t, &fakeDB{}, &fakeManager{})

	w := get(router, "/health/db")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"open_connections":1`)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, statusFor(sequence.ErrUnknownSequence))
	assert.Equal(t, http.StatusConflict, statusFor(sequence.ErrAlreadyRunning))
	assert.Equal(t, http.StatusBadRequest, statusFor(sequence.ErrRecursion))
	assert.Equal(t, http.StatusServiceUnavailable, statusFor(fmt.Errorf("%w on COM3", connection.ErrWriteInProgress)))
	assert.Equal(t, http.StatusInternalServerError, statusFor(errors.New("disk full")))
}
