package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumafield/fio-dashboard/fioapi"
)

func TestRelevantEvents(t *testing.T) {
	target := "/data/runs.json"
	assert.True(t, relevant(fsnotify.Event{Name: target, Op: fsnotify.Write}, target, false))
	assert.False(t, relevant(fsnotify.Event{Name: "/data/other.json", Op: fsnotify.Write}, target, false))
	assert.False(t, relevant(fsnotify.Event{Name: target, Op: fsnotify.Chmod}, target, false))

	dir := "/data/fio"
	assert.True(t, relevant(fsnotify.Event{Name: "/data/fio/nvme.json", Op: fsnotify.Create}, dir, true))
	assert.True(t, relevant(fsnotify.Event{Name: "/data/fio/nvme.JSON", Op: fsnotify.Remove}, dir, true))
	assert.False(t, relevant(fsnotify.Event{Name: "/data/fio/nvme.json.swp", Op: fsnotify.Write}, dir, true))
}

func TestNewClient(t *testing.T) {
	dir := t.TempDir()
	c, err := newClient(dir, false, time.Second, 0)
	require.NoError(t, err)
	assert.IsType(t, &fioapi.FileClient{}, c, "folders of FIO outputs are file sources")

	file := filepath.Join(dir, "runs.json")
	require.NoError(t, os.WriteFile(file, []byte("[]"), 0o644))
	c, err = newClient(file, false, time.Second, 0)
	require.NoError(t, err)
	assert.IsType(t, &fioapi.FileClient{}, c)

	c, err = newClient("http://localhost:8000", false, time.Second, 0)
	require.NoError(t, err)
	assert.IsType(t, &fioapi.HTTPClient{}, c)

	_, err = newClient(filepath.Join(dir, "missing.json"), false, time.Second, 0)
	assert.Error(t, err)
}
