package routes

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	_ "serial-service/docs"
	"serial-service/internal/config"
	"serial-service/internal/handler"
)

func newTestRouter(t *testing.T) *gin.Engine {
	logger := zaptest.NewLogger(t)
	cfg := &config.Config{
		App: config.AppConfig{Name: "serial-service", Version: "test", Environment: "test"},
	}
	r := NewRouter(cfg, logger,
		handler.NewHealthHandler(nil, nil, cfg, logger),
		handler.NewSerialHandler(nil, nil, nil, nil, logger),
		handler.NewWebSocketHandler(nil, nil, nil, logger),
	)
	return r.SetupRouter()
}

func TestDocsRedirectsToSwaggerUI(t *testing.T) {
	router := newTestRouter(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/docs", nil))

	assert.Equal(t, http.StatusMovedPermanently, w.Code)
	assert.Equal(t, "/swagger/index.html", w.Header().Get("Location"))
}

func TestSwaggerServesSerialRoutes(t *testing.T) {
	router := newTestRouter(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/swagger/doc.json", nil))

	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	for _, path := range []string{
		"/api/v1/serial/connect",
		"/api/v1/serial/commands/wait",
		"/api/v1/serial/journal",
		"/health",
	} {
		assert.Contains(t, body, path)
	}
	assert.Contains(t, body, `"title": "Serial Service API"`)
}

func TestSerialRoutesMountedUnderAPIPrefix(t *testing.T) {
	router := newTestRouter(t)

	registered := make(map[string]bool)
	for _, route := range router.Routes() {
		registered[route.Method+" "+route.Path] = true
	}

	assert.True(t, registered["POST /api/v1/serial/connect"])
	assert.True(t, registered["POST /api/v1/serial/sequences/:name/run"])
	assert.True(t, registered["GET /health"])
	assert.True(t, registered["GET /swagger/*any"])
}
