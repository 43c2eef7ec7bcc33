package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/parMaster/meetsync/storage/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_LoadConfig(t *testing.T) {
	conf, err := NewConfig("config_example.yml")
	require.NoError(t, err)

	assert.Equal(t, Server{Listen: ":8099", UserId: "user1", ResumePending: true}, conf.Server)
	assert.Equal(t, "https://api.example.com/v1", conf.Gateway.BaseURL)
	assert.Equal(t, 30*time.Second, conf.Gateway.Timeout)
	assert.Equal(t, "file:data.db?mode=rwc&_journal_mode=WAL", conf.Storage.Path)
	assert.Equal(t, model.FileSize(1024*1024*1024), conf.Storage.KeepFree)
	assert.Equal(t, model.FileSize(50*1024*1024), conf.Upload.LargeSize)
	assert.Equal(t, 2*time.Minute, conf.Submit.MaxDelay)

	// not in the file, defaults applied
	assert.Equal(t, "audio/mp4", conf.Upload.ContentType)
	assert.Equal(t, 2.0, conf.Submit.OverloadFactor)
	assert.Equal(t, 1.5, conf.Submit.Factor)
	assert.Equal(t, 10, conf.Poll.MaxErrorsLarge)
	assert.Equal(t, 3, conf.Poll.NotifyEvery)
}

func Test_Defaults(t *testing.T) {
	p := Default()
	assert.Equal(t, 10, p.Submit.MaxAttempts)
	assert.Equal(t, 10*time.Second, p.Submit.BaseDelay)
	assert.Equal(t, 120*time.Second, p.Submit.MaxDelay)
	assert.Equal(t, 60, p.Poll.MaxAttempts)
	assert.Equal(t, 15*time.Second, p.Poll.Interval)
	assert.Equal(t, 5, p.Poll.MaxErrors)
	assert.Equal(t, 1000, p.Sync.PageSize)
	assert.Equal(t, model.FileSize(100*1024*1024), p.Upload.VeryLargeSize)
}

func Test_BadConfig(t *testing.T) {
	_, err := NewConfig("no_such_file.yml")
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yml")
	require.NoError(t, os.WriteFile(path, []byte("upload:\n  large_size: 12 parsecs\n"), 0o600))
	_, err = NewConfig(path)
	assert.Error(t, err)
}
