package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHandlerCreatesDefault(t *testing.T) {
	require := require.New(t)

	p := filepath.Join(t.TempDir(), "conf", "config.yaml")
	h := NewHandler(p)

	conf, err := h.Get()
	require.NoError(err)
	require.FileExists(p)

	require.Equal(4444, conf.HTTPGlobal.Port)
	require.Equal(1000, conf.Session.AlertIntervalMs)
	require.Equal(2, conf.Watch.DebounceSec)
	require.True(conf.Hibernation.PreventSleep)
	require.Equal("name", conf.View.Mode)
}

func TestHandlerSaveRoundTrip(t *testing.T) {
	require := require.New(t)

	h := NewHandler(filepath.Join(t.TempDir(), "config.yaml"))
	conf, err := h.Get()
	require.NoError(err)

	conf.Watch.Enabled = true
	conf.Watch.Path = "/tmp/watch"
	conf.View.Mode = "progress"
	conf.View.Reversed = true
	require.NoError(h.Save(conf))

	got, err := h.Get()
	require.NoError(err)
	require.True(got.Watch.Enabled)
	require.Equal("/tmp/watch", got.Watch.Path)
	require.Equal("progress", got.View.Mode)
	require.True(got.View.Reversed)
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	_, err := Parse([]byte("session:\n  not_a_key: 1\n"))
	require.Error(t, err)
}

func TestHandlerBrokenFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(p, []byte("http: [\n"), 0644))

	_, err := NewHandler(p).Get()
	require.Error(t, err)
}
