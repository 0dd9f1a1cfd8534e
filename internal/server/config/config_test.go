package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func missingEnvFile(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "missing.env")
}

func TestLoadFile(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg, err := LoadFile(missingEnvFile(t))
		require.NoError(t, err)

		assert.Equal(t, "8080", cfg.Port)
		assert.Equal(t, BackendFilesystem, cfg.StorageBackend)
		assert.Equal(t, "uploads", cfg.StoragePath)
		assert.Equal(t, int64(100*1024*1024), cfg.MaxFileSize)
		assert.Equal(t, 5*time.Minute, cfg.ListCacheTTL)
		assert.Equal(t, int64(8), cfg.MaxConcurrentUploads)
		assert.Equal(t, "filedrop/", cfg.S3Prefix)
		assert.Equal(t, time.Hour, cfg.SweepInterval)
	})

	t.Run("environment overrides defaults", func(t *testing.T) {
		t.Setenv("UPLOAD_PASSWORD", "hunter2")
		t.Setenv("MAX_FILE_SIZE", "1024")
		t.Setenv("LIST_CACHE_TTL", "30s")

		cfg, err := LoadFile(missingEnvFile(t))
		require.NoError(t, err)

		assert.Equal(t, "hunter2", cfg.UploadPassword)
		assert.Equal(t, int64(1024), cfg.MaxFileSize)
		assert.Equal(t, 30*time.Second, cfg.ListCacheTTL)
	})

	t.Run("reads env file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "test.env")
		require.NoError(t, os.WriteFile(path, []byte("STORAGE_PATH=/srv/blobs\nPORT=9090\n"), 0644))
		t.Setenv("STORAGE_PATH", "")
		t.Setenv("PORT", "")

		cfg, err := LoadFile(path)
		require.NoError(t, err)

		assert.Equal(t, "/srv/blobs", cfg.StoragePath)
		assert.Equal(t, "9090", cfg.Port)
	})

	t.Run("rejects unknown backend", func(t *testing.T) {
		t.Setenv("STORAGE_BACKEND", "tape")

		_, err := LoadFile(missingEnvFile(t))
		assert.Error(t, err)
	})

	t.Run("rejects non-positive size ceiling", func(t *testing.T) {
		t.Setenv("MAX_FILE_SIZE", "0")

		_, err := LoadFile(missingEnvFile(t))
		assert.Error(t, err)
	})

	t.Run("rejects non-positive sweep interval", func(t *testing.T) {
		for _, v := range []string{"0", "0s", "-5m"} {
			t.Setenv("SWEEP_INTERVAL", v)

			_, err := LoadFile(missingEnvFile(t))
			assert.ErrorContains(t, err, "SWEEP_INTERVAL", v)
		}
	})

	t.Run("rejects negative grace period", func(t *testing.T) {
		t.Setenv("ORPHAN_GRACE_PERIOD", "-1m")

		_, err := LoadFile(missingEnvFile(t))
		assert.ErrorContains(t, err, "ORPHAN_GRACE_PERIOD")
	})

	t.Run("zero grace period is allowed", func(t *testing.T) {
		t.Setenv("ORPHAN_GRACE_PERIOD", "0s")

		cfg, err := LoadFile(missingEnvFile(t))
		require.NoError(t, err)
		assert.Zero(t, cfg.OrphanGracePeriod)
	})
}
