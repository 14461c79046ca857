package project

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sandkit/sandboxd/internal/config"
)

func intPtr(v int) *int { return &v }

func TestNewProject(t *testing.T) {
	t.Parallel()

	proj := NewProject("demo", "img:v1")
	require.NoError(t, proj.Validate())

	assert.NotEmpty(t, proj.ID)
	assert.Equal(t, "demo", proj.Name)
	assert.Equal(t, "img:v1", proj.Image)
	assert.Equal(t, "sandbox-"+proj.ID, proj.ContainerName)
	assert.False(t, proj.PortsConfigured())

	// Identifiers are unique per record
	other := NewProject("demo", "img:v1")
	assert.NotEqual(t, proj.ID, other.ID)
}

func TestProjectPortsConfigured(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		project Project
		want    bool
	}{
		{
			name:    "both ports set",
			project: Project{HostPort: intPtr(20001), ContainerPort: intPtr(8080)},
			want:    true,
		},
		{
			name:    "missing host port",
			project: Project{ContainerPort: intPtr(8080)},
			want:    false,
		},
		{
			name:    "missing container port",
			project: Project{HostPort: intPtr(20001)},
			want:    false,
		},
		{
			name:    "zero host port",
			project: Project{HostPort: intPtr(0), ContainerPort: intPtr(8080)},
			want:    false,
		},
		{
			name:    "no ports",
			project: Project{},
			want:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.project.PortsConfigured())
		})
	}
}

func TestProjectValidate(t *testing.T) {
	t.Parallel()
	valid := Project{ID: "p1", Image: "sandbox:v1", ContainerName: "sandbox-p1"}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name    string
		project Project
	}{
		{name: "missing id", project: Project{Image: "img", ContainerName: "c"}},
		{name: "missing image", project: Project{ID: "p1", ContainerName: "c"}},
		{name: "missing container name", project: Project{ID: "p1", Image: "img"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Error(t, tt.project.Validate())
		})
	}
}

func TestInMemoryProvider(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	provider := NewInMemoryProvider()

	_, err := provider.GetProject(ctx, "missing")
	require.ErrorIs(t, err, ErrProjectNotFound)

	proj := &Project{
		ID:            "p1",
		Name:          "demo",
		Image:         "sandbox:v1",
		ContainerName: "sandbox-p1",
		HostPort:      intPtr(20001),
		ContainerPort: intPtr(8080),
	}
	require.NoError(t, provider.AddProject(proj))

	got, err := provider.GetProject(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, proj, got)

	all, err := provider.ListProjects(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	// Invalid records are rejected
	assert.Error(t, provider.AddProject(&Project{ID: "p2"}))
}

func TestFileProvider(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	content := `projects:
  - id: p1
    name: demo
    image: sandbox:v1
    containerName: sandbox-p1
    hostPort: 20001
    containerPort: 8080
  - id: p2
    name: no-ports
    image: sandbox:v2
    containerName: sandbox-p2
`
	path := filepath.Join(t.TempDir(), "projects.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	provider, err := NewFileProvider(path)
	require.NoError(t, err)

	proj, err := provider.GetProject(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "sandbox:v1", proj.Image)
	assert.Equal(t, "sandbox-p1", proj.ContainerName)
	require.NotNil(t, proj.HostPort)
	assert.Equal(t, 20001, *proj.HostPort)
	assert.True(t, proj.PortsConfigured())

	proj, err = provider.GetProject(ctx, "p2")
	require.NoError(t, err)
	assert.False(t, proj.PortsConfigured())

	_, err = provider.GetProject(ctx, "p3")
	require.ErrorIs(t, err, ErrProjectNotFound)

	all, err := provider.ListProjects(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestFileProviderErrors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		content string
	}{
		{
			name: "duplicate ids",
			content: `projects:
  - {id: p1, image: a, containerName: c1}
  - {id: p1, image: b, containerName: c2}`,
		},
		{
			name: "invalid record",
			content: `projects:
  - {id: p1}`,
		},
		{
			name:    "malformed yaml",
			content: `projects: [`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			path := filepath.Join(t.TempDir(), "projects.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0600))
			_, err := NewFileProvider(path)
			require.Error(t, err)
		})
	}

	t.Run("missing file", func(t *testing.T) {
		t.Parallel()
		_, err := NewFileProvider(filepath.Join(t.TempDir(), "missing.yaml"))
		require.Error(t, err)
	})
}

func TestProviderFactory(t *testing.T) {
	t.Parallel()

	factory := NewProviderFactory()

	t.Run("nil config", func(t *testing.T) {
		t.Parallel()
		_, err := factory.CreateProvider(nil)
		require.Error(t, err)
	})

	t.Run("memory provider", func(t *testing.T) {
		t.Parallel()
		cfg := config.Default()
		provider, err := factory.CreateProvider(cfg)
		require.NoError(t, err)
		assert.IsType(t, &InMemoryProvider{}, provider)
	})

	t.Run("file provider", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(t.TempDir(), "projects.yaml")
		require.NoError(t, os.WriteFile(path, []byte("projects: []\n"), 0600))

		cfg := config.Default()
		cfg.Projects.Type = config.ProjectsTypeFile
		cfg.Projects.File = &config.FileProjectsConfig{Path: path}

		provider, err := factory.CreateProvider(cfg)
		require.NoError(t, err)
		assert.IsType(t, &FileProvider{}, provider)
	})

	t.Run("unsupported type", func(t *testing.T) {
		t.Parallel()
		cfg := config.Default()
		cfg.Projects.Type = "database"
		_, err := factory.CreateProvider(cfg)
		require.Error(t, err)
	})
}
