package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	t.Setenv("XDG_STATE_HOME", t.TempDir())
	t.Setenv(EnvServer, "")
	t.Setenv(EnvStateDir, "")
	t.Setenv(EnvLogLevel, "")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	require.Equal(t, DefaultServerURL, cfg.ServerURL)
	require.Equal(t, time.Second, cfg.PollInterval)
	require.Equal(t, DefaultRetryMax, cfg.RetryMax)
	require.Equal(t, DefaultNamespace, cfg.Namespace)
	require.Equal(t, "info", cfg.LogLevel)
	require.Equal(t, filepath.Join(cfg.StateDir, "dashboard.log"), cfg.LogFile)
}

func TestLoadFileAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := "server_url: http://10.0.0.5:5000/\npoll_interval: 250ms\nretry_max: 4\nstate_dir: " + dir + "\nlog_level: DEBUG\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	t.Setenv(EnvServer, "")
	t.Setenv(EnvStateDir, "")
	t.Setenv(EnvLogLevel, "")
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "http://10.0.0.5:5000", cfg.ServerURL)
	require.Equal(t, 250*time.Millisecond, cfg.PollInterval)
	require.Equal(t, 4, cfg.RetryMax)
	require.Equal(t, dir, cfg.StateDir)
	require.Equal(t, "debug", cfg.LogLevel)

	t.Setenv(EnvServer, "https://jobs.internal")
	t.Setenv(EnvLogLevel, "warning")
	cfg, err = Load(path)
	require.NoError(t, err)
	require.Equal(t, "https://jobs.internal", cfg.ServerURL)
	require.Equal(t, "warn", cfg.LogLevel)
}

func TestNormalizeResetsInvalidValues(t *testing.T) {
	cfg := Normalize(Config{
		ServerURL:    "ftp://nope",
		PollInterval: -time.Second,
		RetryMax:     99,
		StateDir:     "/tmp/pd",
		LogLevel:     "loud",
	})
	require.Equal(t, DefaultServerURL, cfg.ServerURL)
	require.Equal(t, DefaultPollInterval, cfg.PollInterval)
	require.Equal(t, DefaultRetryMax, cfg.RetryMax)
	require.Equal(t, DefaultLogLevel, cfg.LogLevel)
	require.Equal(t, "/tmp/pd/dashboard.log", cfg.LogFile)
}

func TestLoadRejectsMalformedServerEnv(t *testing.T) {
	t.Setenv(EnvStateDir, "")
	t.Setenv(EnvLogLevel, "")
	path := filepath.Join(t.TempDir(), "missing.yaml")

	t.Setenv(EnvServer, "127.0.0.1:5000")
	_, err := Load(path)
	require.ErrorContains(t, err, EnvServer)

	t.Setenv(EnvServer, "http://127.0.0.1:5001/")
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "http://127.0.0.1:5001", cfg.ServerURL)
}

func TestCheckServerURL(t *testing.T) {
	require.NoError(t, CheckServerURL("--server", " https://jobs.internal/ "))
	require.ErrorContains(t, CheckServerURL("--server", "ftp://jobs"), "--server must be")
	require.Error(t, CheckServerURL("--server", "http://"))
	require.Error(t, CheckServerURL("--server", ""))
}

func TestLoadRejectsBrokenYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server_url: [unterminated"), 0o644))
	_, err := Load(path)
	require.Error(t, err)
}

func TestSaveRoundTripsInterval(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "config.yaml")
	want := Normalize(Config{PollInterval: 2 * time.Second, StateDir: dir})
	require.NoError(t, Save(want, path))

	got, err := LoadFile(path)
	require.NoError(t, err)
	require.Equal(t, want, Normalize(got))
}

func TestExplicitZeroRetriesKept(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("retry_max: 0\n"), 0o644))
	cfg, err := LoadFile(path)
	require.NoError(t, err)
	require.Zero(t, Normalize(cfg).RetryMax)
}
