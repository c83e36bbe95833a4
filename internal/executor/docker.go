package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/gosuda/chatgate/internal/domain"
)

// DockerAPI is the subset of the Docker client used by DockerExecutor.
type DockerAPI interface {
	ContainerExecCreate(ctx context.Context, containerID string, options container.ExecOptions) (container.ExecCreateResponse, error)
	ContainerExecAttach(ctx context.Context, execID string, config container.ExecAttachOptions) (types.HijackedResponse, error)
	ContainerExecInspect(ctx context.Context, execID string) (container.ExecInspect, error)
}

// DockerExecutor runs commands inside the container named by the session's
// asset reference.
type DockerExecutor struct {
	api   DockerAPI
	shell string
	user  string
}

// NewDockerClient connects to the Docker daemon at host.
func NewDockerClient(host string) (*client.Client, error) {
	c, err := client.NewClientWithOpts(
		client.WithHost(host),
		client.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, fmt.Errorf("executor.NewDockerClient: %w", err)
	}
	return c, nil
}

// NewDockerExecutor creates an executor running commands through shell as user.
// An empty user keeps the container default.
func NewDockerExecutor(api DockerAPI, shell, user string) *DockerExecutor {
	if shell == "" {
		shell = "/bin/sh"
	}
	return &DockerExecutor{api: api, shell: shell, user: user}
}

func (d *DockerExecutor) Execute(ctx context.Context, s *domain.Session, command string) (string, error) {
	if s.AssetRef == "" {
		return "", errors.New("executor.DockerExecutor.Execute: session has no asset")
	}

	resp, err := d.api.ContainerExecCreate(ctx, s.AssetRef, container.ExecOptions{
		Cmd:          []string{d.shell, "-c", command},
		User:         d.user,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return "", fmt.Errorf("executor.DockerExecutor.Execute: create: %w", err)
	}

	attachResp, err := d.api.ContainerExecAttach(ctx, resp.ID, container.ExecAttachOptions{})
	if err != nil {
		return "", fmt.Errorf("executor.DockerExecutor.Execute: attach: %w", err)
	}
	defer attachResp.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, attachResp.Reader); err != nil {
		return "", fmt.Errorf("executor.DockerExecutor.Execute: read output: %w", err)
	}

	inspect, err := d.api.ContainerExecInspect(ctx, resp.ID)
	if err != nil {
		return "", fmt.Errorf("executor.DockerExecutor.Execute: inspect: %w", err)
	}

	output := stdout.String() + stderr.String()
	if inspect.ExitCode != 0 {
		return "", fmt.Errorf("executor.DockerExecutor.Execute: exit status %d: %s", inspect.ExitCode, strings.TrimSpace(output))
	}

	return output, nil
}
