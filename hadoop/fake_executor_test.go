package hadoop

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/gridexp/hadoopctl/remote"
)

// fakeExecutor is an in-memory remote.Executor. It records every command,
// keeps a per-host file tree fed by CopyTo, and answers commands through
// substring-matched handlers. Unhandled commands succeed with empty output,
// except "ls" and "test -f" which are answered from the file tree.
type fakeExecutor struct {
	mu       sync.Mutex
	commands []fakeCommand
	files    map[string]map[string][]byte // host -> path -> content
	handlers []fakeHandler
}

type fakeCommand struct {
	Host    string
	Command string
}

type fakeHandler struct {
	substr string
	fn     func(host, command string) (*remote.Result, error)
}

func newFakeExecutor() *fakeExecutor {
	return &fakeExecutor{files: map[string]map[string][]byte{}}
}

// handle makes commands containing substr return the given exit code and
// stdout on every host.
func (f *fakeExecutor) handle(substr string, exitCode int, stdout string) {
	f.handleFunc(substr, func(host, command string) (*remote.Result, error) {
		return &remote.Result{Host: host, Stdout: stdout, ExitCode: exitCode}, nil
	})
}

// handleOn is handle for a single host; other hosts fall through.
func (f *fakeExecutor) handleOn(onHost, substr string, exitCode int, stdout string) {
	f.handleFunc(substr, func(host, command string) (*remote.Result, error) {
		if host != onHost {
			return &remote.Result{Host: host}, nil
		}
		return &remote.Result{Host: host, Stdout: stdout, ExitCode: exitCode}, nil
	})
}

func (f *fakeExecutor) handleFunc(substr string, fn func(host, command string) (*remote.Result, error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers = append(f.handlers, fakeHandler{substr: substr, fn: fn})
}

// seed places a file on a host as if it had been put there out of band.
func (f *fakeExecutor) seed(host, path string, content []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.files[host] == nil {
		f.files[host] = map[string][]byte{}
	}
	f.files[host][path] = content
}

func (f *fakeExecutor) fileOn(host, path string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.files[host][path]
	return b, ok
}

func (f *fakeExecutor) Run(ctx context.Context, host, command string) (*remote.Result, error) {
	f.mu.Lock()
	f.commands = append(f.commands, fakeCommand{Host: host, Command: command})
	handlers := append([]fakeHandler(nil), f.handlers...)
	f.mu.Unlock()

	for _, h := range handlers {
		if strings.Contains(command, h.substr) {
			return h.fn(host, command)
		}
	}

	if arg, ok := strings.CutPrefix(command, "ls "); ok {
		return f.runLs(host, strings.TrimSpace(arg)), nil
	}
	if arg, ok := strings.CutPrefix(command, "test -f "); ok {
		if _, exists := f.fileOn(host, strings.TrimSpace(arg)); exists {
			return &remote.Result{Host: host}, nil
		}
		return &remote.Result{Host: host, ExitCode: 1}, nil
	}
	return &remote.Result{Host: host}, nil
}

func (f *fakeExecutor) runLs(host, pattern string) *remote.Result {
	dir := filepath.Dir(pattern)
	suffix := strings.TrimPrefix(filepath.Base(pattern), "*")

	f.mu.Lock()
	defer f.mu.Unlock()
	var matches []string
	for path := range f.files[host] {
		if filepath.Dir(path) == dir && strings.HasSuffix(path, suffix) {
			matches = append(matches, path)
		}
	}
	if len(matches) == 0 {
		return &remote.Result{Host: host, ExitCode: 2, Stderr: "ls: no match"}
	}
	sort.Strings(matches)
	return &remote.Result{Host: host, Stdout: strings.Join(matches, "\n") + "\n"}
}

func (f *fakeExecutor) RunParallel(ctx context.Context, hosts []string, command string) ([]*remote.Result, error) {
	results := make([]*remote.Result, len(hosts))
	for i, h := range hosts {
		res, err := f.Run(ctx, h, command)
		if err != nil {
			return results, err
		}
		results[i] = res
	}
	return results, nil
}

func (f *fakeExecutor) CopyTo(ctx context.Context, hosts []string, localPaths []string, remoteDir string) error {
	for _, p := range localPaths {
		content, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		for _, h := range hosts {
			f.seed(h, filepath.Join(remoteDir, filepath.Base(p)), content)
		}
	}
	return nil
}

func (f *fakeExecutor) CopyFrom(ctx context.Context, host string, remotePaths []string, localDir string) error {
	for _, p := range remotePaths {
		content, ok := f.fileOn(host, p)
		if !ok {
			return fmt.Errorf("host %s has no file %q", host, p)
		}
		if err := os.WriteFile(filepath.Join(localDir, filepath.Base(p)), content, 0o644); err != nil {
			return err
		}
	}
	return nil
}

// commandIndex returns the position of the first recorded command on host
// (any host when host is empty) containing substr, or -1.
func (f *fakeExecutor) commandIndex(host, substr string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, c := range f.commands {
		if (host == "" || c.Host == host) && strings.Contains(c.Command, substr) {
			return i
		}
	}
	return -1
}

func (f *fakeExecutor) ranCommand(host, substr string) bool {
	return f.commandIndex(host, substr) >= 0
}
