// Package common provides shared HTTP utility functions for API handlers.
package common

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetAndValidateURLParam(t *testing.T) {
	t.Parallel()

	routerTests := []struct {
		name       string
		paramName  string
		paramValue string
		wantValue  string
		wantErr    bool
		wantErrMsg string
	}{
		{
			name:       "valid plain string",
			paramName:  "projectID",
			paramValue: "proj-123",
			wantValue:  "proj-123",
		},
		{
			name:       "valid uuid",
			paramName:  "projectID",
			paramValue: "b2fa2a54-9d6d-4a44-b3f5-7a9e27b2f0a1",
			wantValue:  "b2fa2a54-9d6d-4a44-b3f5-7a9e27b2f0a1",
		},
		{
			name:       "valid with underscores and dots",
			paramName:  "projectID",
			paramValue: "demo_project.v1",
			wantValue:  "demo_project.v1",
		},
		{
			name:       "url-encoded slash decodes",
			paramName:  "projectID",
			paramValue: "team%2Fproj",
			wantValue:  "team/proj",
		},
		{
			name:       "empty string",
			paramName:  "projectID",
			paramValue: "",
			wantErr:    true,
			wantErrMsg: "projectID cannot be empty",
		},
		{
			name:       "url-encoded space only",
			paramName:  "projectID",
			paramValue: "%20",
			wantErr:    true,
			wantErrMsg: "projectID cannot be empty",
		},
		{
			name:       "space in middle",
			paramName:  "projectID",
			paramValue: "proj%20123",
			wantErr:    true,
			wantErrMsg: "projectID cannot contain whitespace",
		},
		{
			name:       "newline in middle",
			paramName:  "projectID",
			paramValue: "proj%0A123",
			wantErr:    true,
			wantErrMsg: "projectID cannot contain whitespace",
		},
	}

	for _, tt := range routerTests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			router := chi.NewRouter()
			router.Get("/{"+tt.paramName+"}", func(_ http.ResponseWriter, r *http.Request) {
				value, err := GetAndValidateURLParam(r, tt.paramName)

				if tt.wantErr {
					require.Error(t, err)
					assert.Equal(t, tt.wantErrMsg, err.Error())
				} else {
					require.NoError(t, err)
					assert.Equal(t, tt.wantValue, value)
				}
			})

			req, err := http.NewRequest("GET", "/"+tt.paramValue, nil)
			require.NoError(t, err)

			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)
		})
	}

	// Invalid URL encoding cannot travel through the chi router, so these
	// exercise the helper directly with a hand-built route context
	directTests := []struct {
		name       string
		paramValue string
	}{
		{name: "incomplete escape", paramValue: "proj%2"},
		{name: "invalid hex", paramValue: "proj%ZZ"},
	}

	for _, tt := range directTests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			req := httptest.NewRequest("GET", "/test", nil)
			rctx := chi.NewRouteContext()
			rctx.URLParams.Add("projectID", tt.paramValue)
			req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))

			_, err := GetAndValidateURLParam(req, "projectID")
			require.Error(t, err)
			assert.Equal(t, "invalid URL encoding in projectID", err.Error())
		})
	}
}
