package main

import (
	"errors"
	"testing"

	"github.com/golang-migrate/migrate/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		args    []string
		want    command
		wantErr bool
	}{
		{args: nil, want: command{name: "up"}},
		{args: []string{"up"}, want: command{name: "up"}},
		{args: []string{"down"}, want: command{name: "down"}},
		{args: []string{"force", "3"}, want: command{name: "force", version: 3}},
		{args: []string{"force"}, wantErr: true},
		{args: []string{"force", "x"}, wantErr: true},
		{args: []string{"force", "-1"}, wantErr: true},
		{args: []string{"down", "2"}, wantErr: true},
		{args: []string{"sideways"}, wantErr: true},
	}
	for _, tt := range tests {
		got, err := parseCommand(tt.args)
		if tt.wantErr {
			assert.Error(t, err, "%v", tt.args)
			continue
		}
		require.NoError(t, err, "%v", tt.args)
		assert.Equal(t, tt.want, got)
	}
}

type fakeMigrator struct {
	calls []string
	err   error
}

func (f *fakeMigrator) Up() error {
	f.calls = append(f.calls, "up")
	return f.err
}

func (f *fakeMigrator) Steps(n int) error {
	f.calls = append(f.calls, "steps")
	return f.err
}

func (f *fakeMigrator) Force(version int) error {
	f.calls = append(f.calls, "force")
	return f.err
}

func TestApplyDispatchesAndToleratesNoChange(t *testing.T) {
	m := &fakeMigrator{err: migrate.ErrNoChange}
	require.NoError(t, apply(m, command{name: "up"}))
	require.NoError(t, apply(m, command{name: "down"}))
	require.NoError(t, apply(m, command{name: "force", version: 1}))
	assert.Equal(t, []string{"up", "steps", "force"}, m.calls)
}

func TestApplySurfacesFailures(t *testing.T) {
	err := apply(&fakeMigrator{err: errors.New("dirty database")}, command{name: "up"})
	assert.ErrorContains(t, err, "dirty database")
}
