// Package local implements a remote.Executor that runs every host as a
// sandbox directory on the local machine. Commands are not isolated from
// each other or from the host, so code that assumes real separate machines
// may not be portable with this. The benefit is speed: there are no
// containers or connections to set up, which makes this suitable for
// fast-feedback unit tests.
package local

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/gridexp/hadoopctl/remote"
)

type Executor struct {
	dir string
}

// New creates an executor whose hosts live under a fresh temp directory.
func New() (*Executor, error) {
	dir, err := os.MkdirTemp("", "hadoopctl-local-")
	if err != nil {
		return nil, fmt.Errorf("creating sandbox root: %w", err)
	}
	return &Executor{dir: dir}, nil
}

// HostDir returns the sandbox directory backing the given host, creating it
// if needed. Remote absolute paths are resolved inside this directory.
func (e *Executor) HostDir(host string) (string, error) {
	dir := filepath.Join(e.dir, host)
	if err := os.MkdirAll(dir, 0o777); err != nil {
		return "", fmt.Errorf("creating sandbox for host %s: %w", host, err)
	}
	return dir, nil
}

func (e *Executor) hostPath(host, remotePath string) (string, error) {
	dir, err := e.HostDir(host)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, strings.TrimPrefix(remotePath, "/")), nil
}

func (e *Executor) Run(ctx context.Context, host, command string) (*remote.Result, error) {
	dir, err := e.HostDir(host)
	if err != nil {
		return nil, err
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = dir
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.Env = append(os.Environ(), "HADOOPCTL_HOST="+host)

	err = cmd.Run()
	exitCode := 0
	if err != nil {
		exitErr, ok := err.(*exec.ExitError)
		if !ok {
			return nil, fmt.Errorf("running command: %w", err)
		}
		exitCode = exitErr.ExitCode()
	}
	return &remote.Result{
		Host:     host,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: exitCode,
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
	return remote.Fanout(ctx, hosts, func(ctx context.Context, host string) error {
		for _, p := range localPaths {
			dst, err := e.hostPath(host, filepath.Join(remoteDir, filepath.Base(p)))
			if err != nil {
				return err
			}
			if err := copyFile(p, dst); err != nil {
				return err
			}
		}
		return nil
	})
}

func (e *Executor) CopyFrom(ctx context.Context, host string, remotePaths []string, localDir string) error {
	for _, p := range remotePaths {
		src, err := e.hostPath(host, p)
		if err != nil {
			return err
		}
		if err := copyFile(src, filepath.Join(localDir, filepath.Base(p))); err != nil {
			return err
		}
	}
	return nil
}

// Cleanup removes every host sandbox.
func (e *Executor) Cleanup() error {
	return os.RemoveAll(e.dir)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening %q: %w", src, err)
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o777); err != nil {
		return fmt.Errorf("making intermediate dirs: %w", err)
	}
	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("creating %q: %w", dst, err)
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}
