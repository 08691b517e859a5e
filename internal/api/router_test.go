package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/crypto/bcrypt"

	"github.com/orrn/thermal-spool/internal/api/handlers"
	"github.com/orrn/thermal-spool/internal/api/middleware"
	"github.com/orrn/thermal-spool/internal/core"
)

func newRouterForTest(t *testing.T, auth *middleware.AuthMiddleware) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	pool := core.NewPrinterManager(nil, nil, nil, core.PrinterManagerOptions{}, nil)
	queue := core.NewQueue(pool, core.NewESCPOSGenerator(core.EncoderOptions{}, nil), nil,
		core.QueueOptions{SettleDelay: -1, ListSettleDelay: -1}, nil)

	return NewRouter(RouterConfig{
		Logger:   zaptest.NewLogger(t),
		Auth:     auth,
		Jobs:     handlers.NewJobHandler(core.NewJobManager(queue, pool, 0, nil), queue, nil, nil),
		Printers: handlers.NewPrinterHandler(pool),
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("# metrics\n"))
		}),
	})
}

func get(r http.Handler, path string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestOpenRouter(t *testing.T) {
	r := newRouterForTest(t, nil)

	w := get(r, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())

	w = get(r, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "# metrics")

	assert.Equal(t, http.StatusOK, get(r, "/api/v1/queue", nil).Code)
	assert.Equal(t, http.StatusOK, get(r, "/api/v1/printers", nil).Code)
}

func TestProtectedRouter(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("k3y"), bcrypt.MinCost)
	require.NoError(t, err)
	auth, err := middleware.NewAuthMiddleware(middleware.AuthConfig{APIKeyHash: string(hash)})
	require.NoError(t, err)
	r := newRouterForTest(t, auth)

	assert.Equal(t, http.StatusOK, get(r, "/healthz", nil).Code)
	assert.Equal(t, http.StatusOK, get(r, "/api/v1/auth/status", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, get(r, "/api/v1/queue", nil).Code)
	assert.Equal(t, http.StatusOK, get(r, "/api/v1/queue", map[string]string{"X-API-Key": "k3y"}).Code)
}
