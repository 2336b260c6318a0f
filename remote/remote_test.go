package remote

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
)

func TestAllOk(t *testing.T) {
	ok := &Result{Host: "h1"}
	failed := &Result{Host: "h2", ExitCode: 1}

	assert.True(t, AllOk([]*Result{ok, ok}))
	assert.True(t, AllOk(nil))
	assert.False(t, AllOk([]*Result{ok, failed}))
	assert.False(t, AllOk([]*Result{ok, nil}), "a missing result is not a success")
}

func TestFirstFailure(t *testing.T) {
	ok := &Result{Host: "h1"}
	f1 := &Result{Host: "h2", ExitCode: 2}
	f2 := &Result{Host: "h3", ExitCode: 1}

	assert.Nil(t, FirstFailure([]*Result{ok}))
	assert.Equal(t, f1, FirstFailure([]*Result{ok, nil, f1, f2}))
}

func TestSequentialStopsAtFirstFailure(t *testing.T) {
	var ran []string
	step := func(name string, err error) Action {
		return func(ctx context.Context) error {
			ran = append(ran, name)
			return err
		}
	}
	boom := errors.New("boom")

	err := Sequential(context.Background(),
		step("one", nil),
		step("two", boom),
		step("three", nil))

	require.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"one", "two"}, ran)
}

func TestFanoutAggregatesPerHostErrors(t *testing.T) {
	hosts := []string{"h1", "h2", "h3"}

	err := Fanout(context.Background(), hosts, func(ctx context.Context, host string) error {
		if host == "h2" {
			return nil
		}
		return errors.New(host + " unreachable")
	})

	require.Error(t, err)
	assert.Len(t, multierr.Errors(err), 2)
	assert.Contains(t, err.Error(), "host h1")
	assert.Contains(t, err.Error(), "host h3")
}

func TestFanoutNilOnSuccess(t *testing.T) {
	err := Fanout(context.Background(), []string{"h1", "h2"},
		func(ctx context.Context, host string) error { return nil })
	assert.NoError(t, err)
}
