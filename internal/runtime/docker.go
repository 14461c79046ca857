package runtime

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/build"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/archive"
	"github.com/docker/docker/pkg/jsonmessage"
	"github.com/docker/go-connections/nat"
	units "github.com/docker/go-units"
)

// dockerClient implements Client against a Docker daemon via the official SDK
type dockerClient struct {
	api *client.Client
}

// NewDockerClient creates a Client connected to the Docker daemon configured
// through the standard environment (DOCKER_HOST etc.)
func NewDockerClient() (Client, error) {
	api, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &dockerClient{api: api}, nil
}

// mapError translates Docker SDK errors into the package's failure taxonomy
func mapError(err error, op string, name string) error {
	if err == nil {
		return nil
	}
	if errdefs.IsNotFound(err) {
		return fmt.Errorf("%s %s: %w", op, name, ErrNotFound)
	}
	if client.IsErrConnectionFailed(err) {
		return fmt.Errorf("%s %s: %w: %v", op, name, ErrUnavailable, err)
	}
	return fmt.Errorf("failed to %s %s: %w", op, name, err)
}

func (d *dockerClient) Ping(ctx context.Context) error {
	if _, err := d.api.Ping(ctx); err != nil {
		return mapError(err, "ping", "docker daemon")
	}
	return nil
}

func (d *dockerClient) ImageExists(ctx context.Context, ref string) (bool, error) {
	_, err := d.api.ImageInspect(ctx, ref)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return false, nil
		}
		return false, mapError(err, "inspect image", ref)
	}
	return true, nil
}

func (d *dockerClient) BuildImage(ctx context.Context, ref string, contextDir string) error {
	buildCtx, err := archive.TarWithOptions(contextDir, &archive.TarOptions{})
	if err != nil {
		return fmt.Errorf("failed to prepare build context %s: %w", contextDir, err)
	}
	defer buildCtx.Close()

	resp, err := d.api.ImageBuild(ctx, buildCtx, build.ImageBuildOptions{
		Tags:   []string{ref},
		Remove: true, // drop intermediate containers
	})
	if err != nil {
		return mapError(err, "build image", ref)
	}
	defer resp.Body.Close()

	// Build failures surface as error messages inside the response stream,
	// not as an error from ImageBuild itself.
	if err := jsonmessage.DisplayJSONMessagesStream(resp.Body, io.Discard, 0, false, nil); err != nil {
		return fmt.Errorf("failed to build image %s: %w", ref, err)
	}

	slog.Info("Image built", "image", ref, "context", contextDir)
	return nil
}

func (d *dockerClient) ListImages(ctx context.Context) ([]ImageSummary, error) {
	images, err := d.api.ImageList(ctx, image.ListOptions{})
	if err != nil {
		return nil, mapError(err, "list", "images")
	}

	result := make([]ImageSummary, 0, len(images))
	for _, img := range images {
		name := "<none>"
		if len(img.RepoTags) > 0 {
			name = img.RepoTags[0]
		}
		result = append(result, ImageSummary{
			ID:      img.ID,
			Name:    name,
			Tags:    img.RepoTags,
			SizeMB:  float64(img.Size) / (1024 * 1024),
			Created: img.Created,
		})
	}
	return result, nil
}

func (d *dockerClient) ContainerExists(ctx context.Context, name string) (bool, error) {
	_, err := d.api.ContainerInspect(ctx, name)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return false, nil
		}
		return false, mapError(err, "inspect container", name)
	}
	return true, nil
}

func (d *dockerClient) ContainerState(ctx context.Context, name string) (State, error) {
	info, err := d.api.ContainerInspect(ctx, name)
	if err != nil {
		return "", mapError(err, "inspect container", name)
	}
	if info.State == nil {
		return StateDead, nil
	}
	return State(info.State.Status), nil
}

func (d *dockerClient) RunContainer(ctx context.Context, spec RunSpec) (string, error) {
	port, err := nat.NewPort("tcp", strconv.Itoa(spec.ContainerPort))
	if err != nil {
		return "", fmt.Errorf("invalid container port %d: %w", spec.ContainerPort, err)
	}

	memLimit, err := units.RAMInBytes(spec.Limits.MemLimit)
	if err != nil {
		return "", fmt.Errorf("invalid memory limit %q: %w", spec.Limits.MemLimit, err)
	}
	memswapLimit, err := units.RAMInBytes(spec.Limits.MemswapLimit)
	if err != nil {
		return "", fmt.Errorf("invalid memory+swap limit %q: %w", spec.Limits.MemswapLimit, err)
	}

	pidsLimit := spec.Limits.PidsLimit
	config := &container.Config{
		Image:     spec.Image,
		Tty:       true,
		OpenStdin: true,
		ExposedPorts: nat.PortSet{
			port: struct{}{},
		},
	}
	hostConfig := &container.HostConfig{
		PortBindings: nat.PortMap{
			port: []nat.PortBinding{
				{HostIP: "0.0.0.0", HostPort: strconv.Itoa(spec.HostPort)},
			},
		},
		Resources: container.Resources{
			NanoCPUs:   spec.Limits.CPUCount * 1e9,
			Memory:     memLimit,
			MemorySwap: memswapLimit,
			PidsLimit:  &pidsLimit,
		},
	}

	created, err := d.api.ContainerCreate(ctx, config, hostConfig, nil, nil, spec.Name)
	if err != nil {
		return "", mapError(err, "create container", spec.Name)
	}

	if err := d.api.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		return "", mapError(err, "start container", spec.Name)
	}

	slog.Info("Container created and started",
		"container", spec.Name,
		"id", created.ID,
		"host_port", spec.HostPort,
		"container_port", spec.ContainerPort)
	return created.ID, nil
}

func (d *dockerClient) StartContainer(ctx context.Context, name string) error {
	if err := d.api.ContainerStart(ctx, name, container.StartOptions{}); err != nil {
		return mapError(err, "start container", name)
	}
	return nil
}

func (d *dockerClient) StopContainer(ctx context.Context, name string) error {
	if err := d.api.ContainerStop(ctx, name, container.StopOptions{}); err != nil {
		return mapError(err, "stop container", name)
	}
	return nil
}

func (d *dockerClient) RemoveContainer(ctx context.Context, name string) error {
	if err := d.api.ContainerRemove(ctx, name, container.RemoveOptions{Force: true}); err != nil {
		return mapError(err, "remove container", name)
	}
	return nil
}

func (d *dockerClient) CopyToContainer(ctx context.Context, name string, destDir string, filename string, data []byte) error {
	archiveData, err := tarSingleFile(filename, data)
	if err != nil {
		return fmt.Errorf("failed to archive %s: %w", filename, err)
	}

	// Make sure the destination directory exists before extracting into it
	exec, err := d.api.ContainerExecCreate(ctx, name, container.ExecOptions{
		User: "root",
		Cmd:  []string{"mkdir", "-p", destDir},
	})
	if err != nil {
		return mapError(err, "exec in container", name)
	}
	if err := d.api.ContainerExecStart(ctx, exec.ID, container.ExecStartOptions{}); err != nil {
		return mapError(err, "exec in container", name)
	}

	err = d.api.CopyToContainer(ctx, name, destDir, bytes.NewReader(archiveData), container.CopyToContainerOptions{})
	if err != nil {
		return mapError(err, "copy to container", name)
	}

	slog.Info("File uploaded to container", "container", name, "dest", destDir, "file", filename)
	return nil
}

// tarSingleFile builds an in-memory tar archive holding one regular file
func tarSingleFile(filename string, data []byte) ([]byte, error) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)

	hdr := &tar.Header{
		Name: filename,
		Mode: 0644,
		Size: int64(len(data)),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return nil, err
	}
	if _, err := tw.Write(data); err != nil {
		return nil, err
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
