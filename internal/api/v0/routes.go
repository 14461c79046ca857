// Package v0 provides the REST API handlers for sandbox lifecycle control.
package v0

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sandkit/sandboxd/internal/api/common"
	"github.com/sandkit/sandboxd/internal/lifecycle"
	"github.com/sandkit/sandboxd/internal/project"
	"github.com/sandkit/sandboxd/internal/runtime"
	"github.com/sandkit/sandboxd/internal/status"
	"github.com/sandkit/sandboxd/internal/versions"
)

// maxUploadBytes bounds a single file upload into a sandbox container
const maxUploadBytes = 32 << 20

// StatusResponse reports the lifecycle status of one project
type StatusResponse struct {
	Status status.Lifecycle `json:"status"`
}

// ProjectResponse is one entry of the project listing
type ProjectResponse struct {
	ID            string           `json:"id"`
	Name          string           `json:"name"`
	Image         string           `json:"image"`
	ContainerName string           `json:"containerName"`
	HostPort      *int             `json:"hostPort,omitempty"`
	ContainerPort *int             `json:"containerPort,omitempty"`
	Status        status.Lifecycle `json:"status"`
}

// ProjectListResponse is the project listing response
type ProjectListResponse struct {
	Projects []ProjectResponse `json:"projects"`
}

// ImageListResponse is the local image listing response
type ImageListResponse struct {
	Images []runtime.ImageSummary `json:"images"`
}

// UploadResponse confirms a file upload into a sandbox container
type UploadResponse struct {
	Filename string `json:"filename"`
	Path     string `json:"path"`
}

// Routes defines the routes for the lifecycle API with dependency injection
type Routes struct {
	projects project.Provider
	orch     lifecycle.Orchestrator
	rt       runtime.Client
}

// NewRoutes creates a new Routes instance with the provided dependencies
func NewRoutes(projects project.Provider, orch lifecycle.Orchestrator, rt runtime.Client) *Routes {
	return &Routes{
		projects: projects,
		orch:     orch,
		rt:       rt,
	}
}

// Router creates a new router for the lifecycle API
func Router(projects project.Provider, orch lifecycle.Orchestrator, rt runtime.Client) http.Handler {
	routes := NewRoutes(projects, orch, rt)

	r := chi.NewRouter()

	r.Get("/projects", routes.listProjects)
	r.Post("/projects/{projectID}/start", routes.startProject)
	r.Post("/projects/{projectID}/stop", routes.stopProject)
	r.Post("/projects/{projectID}/remove", routes.removeProject)
	r.Get("/projects/{projectID}/status", routes.projectStatus)
	r.Post("/projects/{projectID}/files", routes.uploadFile)

	r.Get("/images", routes.listImages)

	return r
}

// lookupProject resolves the projectID URL parameter to a project record,
// writing the error response itself when resolution fails
func (rr *Routes) lookupProject(w http.ResponseWriter, r *http.Request) (*project.Project, bool) {
	id, err := common.GetAndValidateURLParam(r, "projectID")
	if err != nil {
		common.WriteErrorResponse(w, err.Error(), http.StatusBadRequest)
		return nil, false
	}

	proj, err := rr.projects.GetProject(r.Context(), id)
	if err != nil {
		if errors.Is(err, project.ErrProjectNotFound) {
			common.WriteErrorResponse(w, "Project not found", http.StatusNotFound)
		} else {
			common.WriteErrorResponse(w, "Failed to look up project", http.StatusInternalServerError)
		}
		return nil, false
	}
	return proj, true
}

// startProject handles POST /api/v0/projects/{projectID}/start
//
// @Summary		Start a sandbox
// @Description	Request the project's sandbox container to be started. The
// @Description	build/run sequence executes asynchronously; poll the status
// @Description	endpoint to observe the outcome.
// @Tags		lifecycle
// @Produce		json
// @Param		projectID	path		string	true	"Project ID"
// @Success		202			{object}	StatusResponse
// @Failure		400			{object}	map[string]string	"Ports not configured"
// @Failure		404			{object}	map[string]string	"Unknown project"
// @Failure		409			{object}	map[string]string	"Conflicting operation in flight"
// @Router		/api/v0/projects/{projectID}/start [post]
func (rr *Routes) startProject(w http.ResponseWriter, r *http.Request) {
	proj, ok := rr.lookupProject(w, r)
	if !ok {
		return
	}

	st, err := rr.orch.Start(r.Context(), proj)
	if err != nil {
		switch {
		case errors.Is(err, lifecycle.ErrPortsNotConfigured):
			common.WriteErrorResponse(w, "Project ports are not configured", http.StatusBadRequest)
		case errors.Is(err, lifecycle.ErrOperationInFlight):
			common.WriteErrorResponse(w, err.Error(), http.StatusConflict)
		default:
			common.WriteErrorResponse(w, "Failed to start sandbox", http.StatusInternalServerError)
		}
		return
	}

	common.WriteJSONResponse(w, StatusResponse{Status: st}, http.StatusAccepted)
}

// stopProject handles POST /api/v0/projects/{projectID}/stop
//
// @Summary		Stop a sandbox
// @Description	Stop the project's running container
// @Tags		lifecycle
// @Produce		json
// @Param		projectID	path		string	true	"Project ID"
// @Success		200			{object}	StatusResponse
// @Failure		404			{object}	map[string]string	"Unknown project or no container"
// @Failure		409			{object}	map[string]string	"Conflicting operation in flight"
// @Failure		502			{object}	map[string]string	"Runtime failure"
// @Router		/api/v0/projects/{projectID}/stop [post]
func (rr *Routes) stopProject(w http.ResponseWriter, r *http.Request) {
	proj, ok := rr.lookupProject(w, r)
	if !ok {
		return
	}

	st, err := rr.orch.Stop(r.Context(), proj)
	if err != nil {
		rr.writeLifecycleError(w, err, "Failed to stop sandbox")
		return
	}

	common.WriteJSONResponse(w, StatusResponse{Status: st}, http.StatusOK)
}

// removeProject handles POST /api/v0/projects/{projectID}/remove
//
// @Summary		Remove a sandbox
// @Description	Forcibly remove the project's container and clear its status
// @Tags		lifecycle
// @Produce		json
// @Param		projectID	path		string	true	"Project ID"
// @Success		200			{object}	StatusResponse
// @Failure		404			{object}	map[string]string	"Unknown project or no container"
// @Failure		409			{object}	map[string]string	"Conflicting operation in flight"
// @Failure		502			{object}	map[string]string	"Runtime failure"
// @Router		/api/v0/projects/{projectID}/remove [post]
func (rr *Routes) removeProject(w http.ResponseWriter, r *http.Request) {
	proj, ok := rr.lookupProject(w, r)
	if !ok {
		return
	}

	st, err := rr.orch.Remove(r.Context(), proj)
	if err != nil {
		rr.writeLifecycleError(w, err, "Failed to remove sandbox")
		return
	}

	common.WriteJSONResponse(w, StatusResponse{Status: st}, http.StatusOK)
}

// projectStatus handles GET /api/v0/projects/{projectID}/status
//
// @Summary		Sandbox status
// @Description	Get the project's lifecycle status, reconciled against the
// @Description	runtime when no tracked state exists
// @Tags		lifecycle
// @Produce		json
// @Param		projectID	path		string	true	"Project ID"
// @Success		200			{object}	StatusResponse
// @Failure		404			{object}	map[string]string	"Unknown project"
// @Failure		502			{object}	map[string]string	"Runtime failure"
// @Router		/api/v0/projects/{projectID}/status [get]
func (rr *Routes) projectStatus(w http.ResponseWriter, r *http.Request) {
	proj, ok := rr.lookupProject(w, r)
	if !ok {
		return
	}

	st, err := rr.orch.Status(r.Context(), proj)
	if err != nil {
		rr.writeRuntimeError(w, err, "Failed to get sandbox status")
		return
	}

	common.WriteJSONResponse(w, StatusResponse{Status: st}, http.StatusOK)
}

// listProjects handles GET /api/v0/projects
//
// @Summary		List projects
// @Description	List all known projects with their lifecycle status
// @Tags		lifecycle
// @Produce		json
// @Success		200	{object}	ProjectListResponse
// @Failure		502	{object}	map[string]string	"Runtime failure"
// @Router		/api/v0/projects [get]
func (rr *Routes) listProjects(w http.ResponseWriter, r *http.Request) {
	projs, err := rr.projects.ListProjects(r.Context())
	if err != nil {
		common.WriteErrorResponse(w, "Failed to list projects", http.StatusInternalServerError)
		return
	}

	resp := ProjectListResponse{Projects: make([]ProjectResponse, 0, len(projs))}
	for _, proj := range projs {
		st, err := rr.orch.Status(r.Context(), proj)
		if err != nil {
			rr.writeRuntimeError(w, err, "Failed to get sandbox status")
			return
		}
		resp.Projects = append(resp.Projects, ProjectResponse{
			ID:            proj.ID,
			Name:          proj.Name,
			Image:         proj.Image,
			ContainerName: proj.ContainerName,
			HostPort:      proj.HostPort,
			ContainerPort: proj.ContainerPort,
			Status:        st,
		})
	}

	common.WriteJSONResponse(w, resp, http.StatusOK)
}

// listImages handles GET /api/v0/images
//
// @Summary		List images
// @Description	List the container images present on the local engine
// @Tags		images
// @Produce		json
// @Success		200	{object}	ImageListResponse
// @Failure		502	{object}	map[string]string	"Runtime failure"
// @Failure		503	{object}	map[string]string	"Engine unreachable"
// @Router		/api/v0/images [get]
func (rr *Routes) listImages(w http.ResponseWriter, r *http.Request) {
	images, err := rr.rt.ListImages(r.Context())
	if err != nil {
		rr.writeRuntimeError(w, err, "Failed to list images")
		return
	}

	common.WriteJSONResponse(w, ImageListResponse{Images: images}, http.StatusOK)
}

// uploadFile handles POST /api/v0/projects/{projectID}/files
//
// @Summary		Upload a file into a sandbox
// @Description	Upload a single file (multipart field "file") into the given
// @Description	directory (form field "path") of the project's container
// @Tags		lifecycle
// @Accept		multipart/form-data
// @Produce		json
// @Param		projectID	path		string	true	"Project ID"
// @Param		file		formData	file	true	"File to upload"
// @Param		path		formData	string	true	"Destination directory inside the container"
// @Success		200			{object}	UploadResponse
// @Failure		400			{object}	map[string]string	"Missing file or path"
// @Failure		404			{object}	map[string]string	"Unknown project or no container"
// @Failure		502			{object}	map[string]string	"Runtime failure"
// @Router		/api/v0/projects/{projectID}/files [post]
func (rr *Routes) uploadFile(w http.ResponseWriter, r *http.Request) {
	proj, ok := rr.lookupProject(w, r)
	if !ok {
		return
	}

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		common.WriteErrorResponse(w, "Invalid multipart request", http.StatusBadRequest)
		return
	}

	destDir := r.FormValue("path")
	if destDir == "" {
		common.WriteErrorResponse(w, "Destination path is required", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		common.WriteErrorResponse(w, "File is required", http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxUploadBytes))
	if err != nil {
		common.WriteErrorResponse(w, "Failed to read uploaded file", http.StatusBadRequest)
		return
	}

	if err := rr.rt.CopyToContainer(r.Context(), proj.ContainerName, destDir, header.Filename, data); err != nil {
		if runtime.IsNotFound(err) {
			common.WriteErrorResponse(w, "Container not found", http.StatusNotFound)
			return
		}
		rr.writeRuntimeError(w, err, "Failed to upload file")
		return
	}

	common.WriteJSONResponse(w, UploadResponse{
		Filename: header.Filename,
		Path:     destDir,
	}, http.StatusOK)
}

// writeLifecycleError maps stop/remove orchestrator errors to HTTP statuses
func (*Routes) writeLifecycleError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, lifecycle.ErrContainerNotFound):
		common.WriteErrorResponse(w, "Container not found", http.StatusNotFound)
	case errors.Is(err, lifecycle.ErrOperationInFlight):
		common.WriteErrorResponse(w, err.Error(), http.StatusConflict)
	case runtime.IsUnavailable(err):
		common.WriteErrorResponse(w, "Container engine unavailable", http.StatusServiceUnavailable)
	default:
		common.WriteErrorResponse(w, fallback, http.StatusBadGateway)
	}
}

// writeRuntimeError maps runtime errors to HTTP statuses
func (*Routes) writeRuntimeError(w http.ResponseWriter, err error, fallback string) {
	if runtime.IsUnavailable(err) {
		common.WriteErrorResponse(w, "Container engine unavailable", http.StatusServiceUnavailable)
		return
	}
	common.WriteErrorResponse(w, fallback, http.StatusBadGateway)
}

// HealthRouter creates a router for health check endpoints
func HealthRouter(rt runtime.Client, store status.Store) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", healthHandler)
	r.Get("/readiness", readinessHandler(rt, store))
	r.Get("/version", versionHandler)

	return r
}

// healthHandler handles health check requests
//
// @Summary		Health check
// @Description	Check if the lifecycle API is healthy
// @Tags		system
// @Produce		json
// @Success		200	{object}	map[string]string
// @Router		/health [get]
func healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"healthy"}`))
}

// readinessHandler handles readiness check requests. Readiness requires both
// the container engine and the status store to be reachable.
//
// @Summary		Readiness check
// @Description	Check if the lifecycle API is ready to serve requests
// @Tags		system
// @Produce		json
// @Success		200	{object}	map[string]string
// @Failure		503	{object}	map[string]string
// @Router		/readiness [get]
func readinessHandler(rt runtime.Client, store status.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := rt.Ping(r.Context()); err != nil {
			common.WriteErrorResponse(w, "Container engine not ready: "+err.Error(), http.StatusServiceUnavailable)
			return
		}
		if _, _, err := store.Get(r.Context(), "readiness-probe"); err != nil {
			common.WriteErrorResponse(w, "Status store not ready: "+err.Error(), http.StatusServiceUnavailable)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ready"}`))
	}
}

// versionHandler handles version information requests
//
// @Summary		Version information
// @Description	Get version information about the lifecycle API
// @Tags		system
// @Produce		json
// @Success		200	{object}	map[string]string
// @Router		/version [get]
func versionHandler(w http.ResponseWriter, _ *http.Request) {
	info := versions.GetVersionInfo()

	common.WriteJSONResponse(w, map[string]string{
		"version":    info.Version,
		"commit":     info.Commit,
		"build_date": info.BuildDate,
		"go_version": info.GoVersion,
		"platform":   info.Platform,
	}, http.StatusOK)
}
