package api_test

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/sandkit/sandboxd/internal/api"
	lifecyclemocks "github.com/sandkit/sandboxd/internal/lifecycle/mocks"
	"github.com/sandkit/sandboxd/internal/project"
	runtimemocks "github.com/sandkit/sandboxd/internal/runtime/mocks"
	"github.com/sandkit/sandboxd/internal/status"
)

func newTestServer(t *testing.T) (*runtimemocks.MockClient, http.Handler) {
	t.Helper()
	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)

	rt := runtimemocks.NewMockClient(ctrl)
	orch := lifecyclemocks.NewMockOrchestrator(ctrl)
	server := api.NewServer(project.NewInMemoryProvider(), orch, rt, status.NewInMemoryStore())
	return rt, server
}

func TestHealthEndpoint(t *testing.T) {
	t.Parallel()

	// Health does not touch the runtime or the store
	_, server := newTestServer(t)

	req, err := http.NewRequest("GET", "/health", nil)
	require.NoError(t, err)

	rr := httptest.NewRecorder()
	server.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	var response map[string]string
	err = json.Unmarshal(rr.Body.Bytes(), &response)
	require.NoError(t, err)
	assert.Equal(t, "healthy", response["status"])
}

func TestReadinessEndpoint(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		setupMock      func(rt *runtimemocks.MockClient)
		expectedStatus int
	}{
		{
			name: "ready",
			setupMock: func(rt *runtimemocks.MockClient) {
				rt.EXPECT().Ping(gomock.Any()).Return(nil)
			},
			expectedStatus: http.StatusOK,
		},
		{
			name: "engine unreachable",
			setupMock: func(rt *runtimemocks.MockClient) {
				rt.EXPECT().Ping(gomock.Any()).Return(fmt.Errorf("connection refused"))
			},
			expectedStatus: http.StatusServiceUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rt, server := newTestServer(t)
			tt.setupMock(rt)

			req, err := http.NewRequest("GET", "/readiness", nil)
			require.NoError(t, err)

			rr := httptest.NewRecorder()
			server.ServeHTTP(rr, req)

			assert.Equal(t, tt.expectedStatus, rr.Code)
			assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

			var response map[string]string
			err = json.Unmarshal(rr.Body.Bytes(), &response)
			require.NoError(t, err)

			if tt.expectedStatus == http.StatusOK {
				assert.Equal(t, "ready", response["status"])
			} else {
				assert.Contains(t, response, "error")
			}
		})
	}
}

func TestVersionEndpoint(t *testing.T) {
	t.Parallel()
	_, server := newTestServer(t)

	req, err := http.NewRequest("GET", "/version", nil)
	require.NoError(t, err)

	rr := httptest.NewRecorder()
	server.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	var response map[string]string
	err = json.Unmarshal(rr.Body.Bytes(), &response)
	require.NoError(t, err)

	assert.Contains(t, response, "version")
	assert.Contains(t, response, "commit")
	assert.Contains(t, response, "build_date")
	assert.Contains(t, response, "go_version")
	assert.Contains(t, response, "platform")
}

func TestMiddlewareOption(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)

	var seen bool
	mw := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen = true
			next.ServeHTTP(w, r)
		})
	}

	server := api.NewServer(
		project.NewInMemoryProvider(),
		lifecyclemocks.NewMockOrchestrator(ctrl),
		runtimemocks.NewMockClient(ctrl),
		status.NewInMemoryStore(),
		api.WithMiddlewares(mw),
	)

	req, err := http.NewRequest("GET", "/health", nil)
	require.NoError(t, err)

	rr := httptest.NewRecorder()
	server.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, seen, "middleware passed via option must run")
}
