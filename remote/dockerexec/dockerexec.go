// Package dockerexec implements a remote.Executor that backs every host
// with a Docker container on the local daemon. Commands run through the
// exec API and transfers go through the container copy API, so no agent
// needs to be installed in the containers. The underlying host must have a
// Docker daemon running; standard environment variables for configuring the
// Docker client (DOCKER_HOST etc.) are supported.
package dockerexec

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/gridexp/hadoopctl/remote"
	"go.uber.org/zap"
)

const chars = "abcefghijklmnopqrstuvwxyz0123456789"

func init() {
	rand.Seed(time.Now().UnixNano())
}

func randString(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = chars[rand.Intn(len(chars))]
	}
	return string(b)
}

// Executor runs each host as a Docker container. Containers are created
// lazily the first time a host is addressed and torn down by Cleanup.
type Executor struct {
	Log             *zap.SugaredLogger
	BaseImage       string
	ContainerPrefix string
	DockerClient    *client.Client

	mut         sync.Mutex
	containers  map[string]string // host -> container ID
	imagePulled bool
}

func (e *Executor) WithLogger(l *zap.SugaredLogger) *Executor {
	e.Log = l.Named("docker_executor")
	return e
}

func (e *Executor) WithBaseImage(img string) *Executor {
	e.BaseImage = img
	return e
}

// New creates a Docker-backed executor.
func New() (*Executor, error) {
	log, err := zap.NewProduction()
	if err != nil {
		return nil, fmt.Errorf("instantiating default logger: %w", err)
	}
	dockerClient, err := client.NewClientWithOpts(client.FromEnv)
	if err != nil {
		return nil, fmt.Errorf("building Docker client: %w", err)
	}
	e := &Executor{
		BaseImage:       "fedora",
		DockerClient:    dockerClient,
		ContainerPrefix: randString(6),
		containers:      map[string]string{},
	}
	return e.WithLogger(log.Sugar()), nil
}

// ensureImagePulled pulls the base image once. Callers arrive concurrently
// through Fanout, so the flag is only touched under the lock.
func (e *Executor) ensureImagePulled(ctx context.Context) error {
	e.mut.Lock()
	defer e.mut.Unlock()
	if e.imagePulled {
		return nil
	}
	out, err := e.DockerClient.ImagePull(ctx, e.BaseImage, types.ImagePullOptions{})
	if err != nil {
		if out != nil {
			out.Close()
		}
		return err
	}
	defer out.Close()
	if _, err := io.Copy(io.Discard, out); err != nil {
		return fmt.Errorf("reading Docker pull response: %w", err)
	}
	e.imagePulled = true
	return nil
}

// containerFor returns the container backing host, creating it on first use.
// Creation is serialized under the lock so that two concurrent callers for
// one host cannot both create a container and leak one of them.
func (e *Executor) containerFor(ctx context.Context, host string) (string, error) {
	if err := e.ensureImagePulled(ctx); err != nil {
		return "", fmt.Errorf("pulling image: %w", err)
	}

	e.mut.Lock()
	defer e.mut.Unlock()
	if id, ok := e.containers[host]; ok {
		return id, nil
	}

	containerName := fmt.Sprintf("hadoopctl-%s-%s", e.ContainerPrefix, sanitize(host))
	createResp, err := e.DockerClient.ContainerCreate(
		ctx,
		&container.Config{
			Image:    e.BaseImage,
			Cmd:      []string{"sleep", "infinity"},
			Hostname: sanitize(host),
		},
		&container.HostConfig{},
		nil,
		nil,
		containerName,
	)
	if err != nil {
		return "", fmt.Errorf("creating Docker container: %w", err)
	}
	if err := e.DockerClient.ContainerStart(ctx, createResp.ID, types.ContainerStartOptions{}); err != nil {
		return "", fmt.Errorf("starting container %q: %w", createResp.ID, err)
	}

	e.containers[host] = createResp.ID
	return createResp.ID, nil
}

func sanitize(host string) string {
	return strings.NewReplacer(".", "-", ":", "-").Replace(host)
}

func (e *Executor) Run(ctx context.Context, host, command string) (*remote.Result, error) {
	containerID, err := e.containerFor(ctx, host)
	if err != nil {
		return nil, err
	}

	execResp, err := e.DockerClient.ContainerExecCreate(ctx, containerID, types.ExecConfig{
		Cmd:          []string{"sh", "-c", command},
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return nil, fmt.Errorf("creating exec: %w", err)
	}

	attach, err := e.DockerClient.ContainerExecAttach(ctx, execResp.ID, types.ExecStartCheck{})
	if err != nil {
		return nil, fmt.Errorf("attaching to exec: %w", err)
	}
	defer attach.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, attach.Reader); err != nil {
		return nil, fmt.Errorf("reading exec output: %w", err)
	}

	inspect, err := e.DockerClient.ContainerExecInspect(ctx, execResp.ID)
	if err != nil {
		return nil, fmt.Errorf("inspecting exec: %w", err)
	}
	return &remote.Result{
		Host:     host,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: inspect.ExitCode,
	}, nil
}

func (e *Executor) RunParallel(ctx context.Context, hosts []string, command string) ([]*remote.Result, error) {
	results := make([]*remote.Result, len(hosts))
	idx := make(map[string]int, len(hosts))
	for i, h := range hosts {
		idx[h] = i
	}
	err := remote.Fanout(ctx, hosts, func(ctx context.Context, host string) error {
		res, err := e.Run(ctx, host, command)
		if err != nil {
			return err
		}
		results[idx[host]] = res
		return nil
	})
	return results, err
}

func (e *Executor) CopyTo(ctx context.Context, hosts []string, localPaths []string, remoteDir string) error {
	archive, err := tarFiles(localPaths)
	if err != nil {
		return err
	}
	return remote.Fanout(ctx, hosts, func(ctx context.Context, host string) error {
		containerID, err := e.containerFor(ctx, host)
		if err != nil {
			return err
		}
		res, err := e.Run(ctx, host, "mkdir -p "+remoteDir)
		if err != nil {
			return err
		}
		if !res.Ok() {
			return fmt.Errorf("creating %q: %s", remoteDir, res.Stderr)
		}
		return e.DockerClient.CopyToContainer(ctx, containerID, remoteDir,
			bytes.NewReader(archive), types.CopyToContainerOptions{})
	})
}

func (e *Executor) CopyFrom(ctx context.Context, host string, remotePaths []string, localDir string) error {
	containerID, err := e.containerFor(ctx, host)
	if err != nil {
		return err
	}
	for _, p := range remotePaths {
		rc, _, err := e.DockerClient.CopyFromContainer(ctx, containerID, p)
		if err != nil {
			return fmt.Errorf("copying %q from %s: %w", p, host, err)
		}
		err = untarTo(rc, localDir)
		rc.Close()
		if err != nil {
			return fmt.Errorf("unpacking %q from %s: %w", p, host, err)
		}
	}
	return nil
}

// Cleanup force-removes every container created by this executor.
func (e *Executor) Cleanup(ctx context.Context) error {
	e.mut.Lock()
	containers := e.containers
	e.containers = map[string]string{}
	e.mut.Unlock()

	for host, id := range containers {
		err := e.DockerClient.ContainerRemove(ctx, id, types.ContainerRemoveOptions{
			RemoveVolumes: true,
			Force:         true,
		})
		if err != nil {
			return fmt.Errorf("removing container for host %s: %w", host, err)
		}
	}
	return nil
}

func tarFiles(paths []string) ([]byte, error) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for _, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			return nil, fmt.Errorf("opening %q: %w", p, err)
		}
		info, err := f.Stat()
		if err != nil {
			f.Close()
			return nil, err
		}
		hdr := &tar.Header{
			Name: filepath.Base(p),
			Mode: 0o644,
			Size: info.Size(),
		}
		if err := tw.WriteHeader(hdr); err != nil {
			f.Close()
			return nil, err
		}
		if _, err := io.Copy(tw, f); err != nil {
			f.Close()
			return nil, err
		}
		f.Close()
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func untarTo(r io.Reader, dir string) error {
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		dst := filepath.Join(dir, filepath.Base(hdr.Name))
		f, err := os.Create(dst)
		if err != nil {
			return err
		}
		if _, err := io.Copy(f, tr); err != nil {
			f.Close()
			return err
		}
		f.Close()
	}
}
