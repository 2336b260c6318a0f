// Package remote defines the primitives for driving commands and file
// transfers on cluster hosts. Controllers are written against the Executor
// interface; the implementation defines how to reach the hosts.
package remote

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/multierr"
)

// Result is the outcome of one command on one host.
type Result struct {
	Host     string
	Stdout   string
	Stderr   string
	ExitCode int
}

func (r *Result) Ok() bool {
	return r.ExitCode == 0
}

func (r *Result) String() string {
	return fmt.Sprintf("host=%s exit=%d", r.Host, r.ExitCode)
}

// Executor runs commands and moves files on cluster hosts.
// None of these calls are atomic across hosts: any of them may report
// partial success over a host list, and callers must treat per-host
// results independently.
type Executor interface {
	// Run executes a shell command on a single host and blocks until it
	// exits. A non-zero exit code is reported in the Result, not as an
	// error; the error is reserved for failures to reach the host or to
	// launch the command at all.
	Run(ctx context.Context, host, command string) (*Result, error)

	// RunParallel executes the same command on every host concurrently and
	// returns one Result per host, in host order. Transport errors are
	// aggregated across hosts; results for hosts that failed at the
	// transport level are nil.
	RunParallel(ctx context.Context, hosts []string, command string) ([]*Result, error)

	// CopyTo places the given local files into remoteDir on every host.
	CopyTo(ctx context.Context, hosts []string, localPaths []string, remoteDir string) error

	// CopyFrom retrieves the given remote files from one host into localDir.
	CopyFrom(ctx context.Context, host string, remotePaths []string, localDir string) error
}

// AllOk reports whether every result is present and exited zero.
func AllOk(results []*Result) bool {
	for _, r := range results {
		if r == nil || !r.Ok() {
			return false
		}
	}
	return true
}

// FirstFailure returns the first non-ok result, or nil if all succeeded.
func FirstFailure(results []*Result) *Result {
	for _, r := range results {
		if r != nil && !r.Ok() {
			return r
		}
	}
	return nil
}

// An Action is one step of a remote procedure.
type Action func(ctx context.Context) error

// Sequential runs actions strictly in order, stopping at the first failure.
func Sequential(ctx context.Context, actions ...Action) error {
	for _, a := range actions {
		if err := a(ctx); err != nil {
			return err
		}
	}
	return nil
}

// RunAll returns an Action that runs command on every host and fails if any
// host reports a non-zero exit.
func RunAll(e Executor, hosts []string, command string) Action {
	return func(ctx context.Context) error {
		results, err := e.RunParallel(ctx, hosts, command)
		if err != nil {
			return err
		}
		if f := FirstFailure(results); f != nil {
			return fmt.Errorf("command %q failed on %s: %s", command, f.Host, f.Stderr)
		}
		return nil
	}
}

// Push returns an Action that copies local files to remoteDir on every host.
func Push(e Executor, hosts []string, localPaths []string, remoteDir string) Action {
	return func(ctx context.Context) error {
		return e.CopyTo(ctx, hosts, localPaths, remoteDir)
	}
}

// Fanout runs f once per host concurrently and combines the per-host errors.
// It is the building block for RunParallel implementations.
func Fanout(ctx context.Context, hosts []string, f func(ctx context.Context, host string) error) error {
	var (
		mut  sync.Mutex
		errs error
		wg   sync.WaitGroup
	)
	for _, h := range hosts {
		h := h
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := f(ctx, h); err != nil {
				mut.Lock()
				errs = multierr.Append(errs, fmt.Errorf("host %s: %w", h, err))
				mut.Unlock()
			}
		}()
	}
	wg.Wait()
	return errs
}
