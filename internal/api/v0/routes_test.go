package v0_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	v0 "github.com/sandkit/sandboxd/internal/api/v0"
	"github.com/sandkit/sandboxd/internal/lifecycle"
	lifecyclemocks "github.com/sandkit/sandboxd/internal/lifecycle/mocks"
	"github.com/sandkit/sandboxd/internal/project"
	"github.com/sandkit/sandboxd/internal/runtime"
	runtimemocks "github.com/sandkit/sandboxd/internal/runtime/mocks"
	"github.com/sandkit/sandboxd/internal/status"
)

func intPtr(v int) *int { return &v }

type routesFixture struct {
	orch     *lifecyclemocks.MockOrchestrator
	rt       *runtimemocks.MockClient
	provider *project.InMemoryProvider
	handler  http.Handler
}

func newRoutesFixture(t *testing.T) *routesFixture {
	t.Helper()
	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)

	f := &routesFixture{
		orch:     lifecyclemocks.NewMockOrchestrator(ctrl),
		rt:       runtimemocks.NewMockClient(ctrl),
		provider: project.NewInMemoryProvider(),
	}
	f.handler = v0.Router(f.provider, f.orch, f.rt)

	require.NoError(t, f.provider.AddProject(&project.Project{
		ID:            "p1",
		Name:          "demo",
		Image:         "img:v1",
		ContainerName: "sandbox-p1",
		HostPort:      intPtr(20001),
		ContainerPort: intPtr(8080),
	}))
	return f
}

func (f *routesFixture) do(t *testing.T, method, path string, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	var err error
	if body != nil {
		req, err = http.NewRequest(method, path, body)
	} else {
		req, err = http.NewRequest(method, path, nil)
	}
	require.NoError(t, err)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)
	return rr
}

func decodeJSON(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	return body
}

func TestStartProject(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		path       string
		setupMock  func(f *routesFixture)
		wantStatus int
		wantBody   string
	}{
		{
			name: "accepted",
			path: "/projects/p1/start",
			setupMock: func(f *routesFixture) {
				f.orch.EXPECT().Start(gomock.Any(), gomock.Any()).
					Return(status.LifecycleStarting, nil)
			},
			wantStatus: http.StatusAccepted,
			wantBody:   "starting",
		},
		{
			name:       "unknown project",
			path:       "/projects/nope/start",
			setupMock:  func(*routesFixture) {},
			wantStatus: http.StatusNotFound,
		},
		{
			name: "ports not configured",
			path: "/projects/p1/start",
			setupMock: func(f *routesFixture) {
				f.orch.EXPECT().Start(gomock.Any(), gomock.Any()).
					Return(status.Lifecycle(""), fmt.Errorf("project p1: %w", lifecycle.ErrPortsNotConfigured))
			},
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "conflicting operation",
			path: "/projects/p1/start",
			setupMock: func(f *routesFixture) {
				f.orch.EXPECT().Start(gomock.Any(), gomock.Any()).
					Return(status.Lifecycle(""), fmt.Errorf("project p1: stop in progress: %w", lifecycle.ErrOperationInFlight))
			},
			wantStatus: http.StatusConflict,
		},
		{
			name: "internal failure",
			path: "/projects/p1/start",
			setupMock: func(f *routesFixture) {
				f.orch.EXPECT().Start(gomock.Any(), gomock.Any()).
					Return(status.Lifecycle(""), errors.New("store down"))
			},
			wantStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newRoutesFixture(t)
			tt.setupMock(f)

			rr := f.do(t, http.MethodPost, tt.path, nil, "")

			assert.Equal(t, tt.wantStatus, rr.Code)
			if tt.wantBody != "" {
				body := decodeJSON(t, rr)
				assert.Equal(t, tt.wantBody, body["status"])
			}
		})
	}
}

func TestStopProject(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		setupMock  func(f *routesFixture)
		wantStatus int
		wantBody   string
	}{
		{
			name: "stopped",
			setupMock: func(f *routesFixture) {
				f.orch.EXPECT().Stop(gomock.Any(), gomock.Any()).
					Return(status.LifecycleStopped, nil)
			},
			wantStatus: http.StatusOK,
			wantBody:   "stopped",
		},
		{
			name: "no container",
			setupMock: func(f *routesFixture) {
				f.orch.EXPECT().Stop(gomock.Any(), gomock.Any()).
					Return(status.Lifecycle(""), fmt.Errorf("project p1: %w", lifecycle.ErrContainerNotFound))
			},
			wantStatus: http.StatusNotFound,
		},
		{
			name: "conflicting operation",
			setupMock: func(f *routesFixture) {
				f.orch.EXPECT().Stop(gomock.Any(), gomock.Any()).
					Return(status.Lifecycle(""), fmt.Errorf("project p1: start in progress: %w", lifecycle.ErrOperationInFlight))
			},
			wantStatus: http.StatusConflict,
		},
		{
			name: "engine unreachable",
			setupMock: func(f *routesFixture) {
				f.orch.EXPECT().Stop(gomock.Any(), gomock.Any()).
					Return(status.Lifecycle(""), fmt.Errorf("ping: %w", runtime.ErrUnavailable))
			},
			wantStatus: http.StatusServiceUnavailable,
		},
		{
			name: "runtime failure",
			setupMock: func(f *routesFixture) {
				f.orch.EXPECT().Stop(gomock.Any(), gomock.Any()).
					Return(status.Lifecycle(""), errors.New("engine exploded"))
			},
			wantStatus: http.StatusBadGateway,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newRoutesFixture(t)
			tt.setupMock(f)

			rr := f.do(t, http.MethodPost, "/projects/p1/stop", nil, "")

			assert.Equal(t, tt.wantStatus, rr.Code)
			if tt.wantBody != "" {
				body := decodeJSON(t, rr)
				assert.Equal(t, tt.wantBody, body["status"])
			}
		})
	}
}

func TestRemoveProject(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		setupMock  func(f *routesFixture)
		wantStatus int
	}{
		{
			name: "removed",
			setupMock: func(f *routesFixture) {
				f.orch.EXPECT().Remove(gomock.Any(), gomock.Any()).
					Return(status.LifecycleStopped, nil)
			},
			wantStatus: http.StatusOK,
		},
		{
			name: "no container",
			setupMock: func(f *routesFixture) {
				f.orch.EXPECT().Remove(gomock.Any(), gomock.Any()).
					Return(status.Lifecycle(""), fmt.Errorf("project p1: %w", lifecycle.ErrContainerNotFound))
			},
			wantStatus: http.StatusNotFound,
		},
		{
			name: "runtime failure",
			setupMock: func(f *routesFixture) {
				f.orch.EXPECT().Remove(gomock.Any(), gomock.Any()).
					Return(status.Lifecycle(""), errors.New("engine exploded"))
			},
			wantStatus: http.StatusBadGateway,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newRoutesFixture(t)
			tt.setupMock(f)

			rr := f.do(t, http.MethodPost, "/projects/p1/remove", nil, "")
			assert.Equal(t, tt.wantStatus, rr.Code)
		})
	}
}

func TestProjectStatus(t *testing.T) {
	t.Parallel()
	f := newRoutesFixture(t)

	f.orch.EXPECT().Status(gomock.Any(), gomock.Any()).
		Return(status.LifecycleRunning, nil)

	rr := f.do(t, http.MethodGet, "/projects/p1/status", nil, "")

	assert.Equal(t, http.StatusOK, rr.Code)
	body := decodeJSON(t, rr)
	assert.Equal(t, "running", body["status"])
}

func TestListProjects(t *testing.T) {
	t.Parallel()
	f := newRoutesFixture(t)

	f.orch.EXPECT().Status(gomock.Any(), gomock.Any()).
		Return(status.LifecycleStopped, nil)

	rr := f.do(t, http.MethodGet, "/projects", nil, "")

	assert.Equal(t, http.StatusOK, rr.Code)

	var resp v0.ProjectListResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Len(t, resp.Projects, 1)
	assert.Equal(t, "p1", resp.Projects[0].ID)
	assert.Equal(t, status.LifecycleStopped, resp.Projects[0].Status)
}

func TestListImages(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		setupMock  func(f *routesFixture)
		wantStatus int
	}{
		{
			name: "ok",
			setupMock: func(f *routesFixture) {
				f.rt.EXPECT().ListImages(gomock.Any()).Return([]runtime.ImageSummary{
					{ID: "sha256:abc", Name: "img:v1", Tags: []string{"img:v1"}},
				}, nil)
			},
			wantStatus: http.StatusOK,
		},
		{
			name: "engine unreachable",
			setupMock: func(f *routesFixture) {
				f.rt.EXPECT().ListImages(gomock.Any()).
					Return(nil, fmt.Errorf("list images: %w", runtime.ErrUnavailable))
			},
			wantStatus: http.StatusServiceUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newRoutesFixture(t)
			tt.setupMock(f)

			rr := f.do(t, http.MethodGet, "/images", nil, "")
			assert.Equal(t, tt.wantStatus, rr.Code)

			if tt.wantStatus == http.StatusOK {
				var resp v0.ImageListResponse
				require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
				require.Len(t, resp.Images, 1)
				assert.Equal(t, "img:v1", resp.Images[0].Name)
			}
		})
	}
}

func multipartBody(t *testing.T, destPath, filename, content string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if destPath != "" {
		require.NoError(t, mw.WriteField("path", destPath))
	}
	if filename != "" {
		fw, err := mw.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = fw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestUploadFile(t *testing.T) {
	t.Parallel()

	t.Run("ok", func(t *testing.T) {
		t.Parallel()
		f := newRoutesFixture(t)

		f.rt.EXPECT().
			CopyToContainer(gomock.Any(), "sandbox-p1", "/workspace", "main.py", []byte("print('hi')")).
			Return(nil)

		body, contentType := multipartBody(t, "/workspace", "main.py", "print('hi')")
		rr := f.do(t, http.MethodPost, "/projects/p1/files", body, contentType)

		assert.Equal(t, http.StatusOK, rr.Code)
		resp := decodeJSON(t, rr)
		assert.Equal(t, "main.py", resp["filename"])
		assert.Equal(t, "/workspace", resp["path"])
	})

	t.Run("missing path", func(t *testing.T) {
		t.Parallel()
		f := newRoutesFixture(t)

		body, contentType := multipartBody(t, "", "main.py", "print('hi')")
		rr := f.do(t, http.MethodPost, "/projects/p1/files", body, contentType)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("missing file", func(t *testing.T) {
		t.Parallel()
		f := newRoutesFixture(t)

		body, contentType := multipartBody(t, "/workspace", "", "")
		rr := f.do(t, http.MethodPost, "/projects/p1/files", body, contentType)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("container missing", func(t *testing.T) {
		t.Parallel()
		f := newRoutesFixture(t)

		f.rt.EXPECT().
			CopyToContainer(gomock.Any(), "sandbox-p1", "/workspace", "main.py", gomock.Any()).
			Return(fmt.Errorf("copy: %w", runtime.ErrNotFound))

		body, contentType := multipartBody(t, "/workspace", "main.py", "print('hi')")
		rr := f.do(t, http.MethodPost, "/projects/p1/files", body, contentType)

		assert.Equal(t, http.StatusNotFound, rr.Code)
	})
}
