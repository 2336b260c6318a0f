package local

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newExecutor(t *testing.T) *Executor {
	t.Helper()
	e, err := New()
	require.NoError(t, err)
	t.Cleanup(func() { e.Cleanup() })
	return e
}

func TestRunCapturesOutputAndExitCode(t *testing.T) {
	e := newExecutor(t)
	ctx := context.Background()

	res, err := e.Run(ctx, "h1", "echo hello; echo oops >&2")
	require.NoError(t, err)
	assert.Equal(t, "hello\n", res.Stdout)
	assert.Equal(t, "oops\n", res.Stderr)
	assert.True(t, res.Ok())

	res, err = e.Run(ctx, "h1", "exit 3")
	require.NoError(t, err, "a non-zero exit is not a transport error")
	assert.Equal(t, 3, res.ExitCode)
	assert.False(t, res.Ok())
}

func TestHostsAreSeparateSandboxes(t *testing.T) {
	e := newExecutor(t)
	ctx := context.Background()

	_, err := e.Run(ctx, "h1", "echo data > state.txt")
	require.NoError(t, err)

	res, err := e.Run(ctx, "h2", "test -f state.txt")
	require.NoError(t, err)
	assert.False(t, res.Ok(), "files on one host are invisible on another")

	res, err = e.Run(ctx, "h1", "cat state.txt")
	require.NoError(t, err)
	assert.Equal(t, "data\n", res.Stdout)
}

func TestRunParallelKeepsHostOrder(t *testing.T) {
	e := newExecutor(t)
	hosts := []string{"h3", "h1", "h2"}

	results, err := e.RunParallel(context.Background(), hosts, "echo $HADOOPCTL_HOST")
	require.NoError(t, err)
	require.Len(t, results, len(hosts))
	for i, h := range hosts {
		assert.Equal(t, h, results[i].Host)
		assert.Equal(t, h+"\n", results[i].Stdout)
	}
}

func TestCopyToAndFromRoundTrip(t *testing.T) {
	e := newExecutor(t)
	ctx := context.Background()

	src := filepath.Join(t.TempDir(), "payload.txt")
	require.NoError(t, os.WriteFile(src, []byte("payload"), 0o644))

	require.NoError(t, e.CopyTo(ctx, []string{"h1", "h2"}, []string{src}, "/opt/app"))

	res, err := e.Run(ctx, "h2", "cat opt/app/payload.txt")
	require.NoError(t, err)
	assert.Equal(t, "payload", res.Stdout)

	dest := t.TempDir()
	require.NoError(t, e.CopyFrom(ctx, "h1", []string{"/opt/app/payload.txt"}, dest))
	b, err := os.ReadFile(filepath.Join(dest, "payload.txt"))
	require.NoError(t, err)
	assert.Equal(t, "payload", string(b))
}
