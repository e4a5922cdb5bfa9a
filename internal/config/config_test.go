package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "none.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 60*time.Second, cfg.Pipeline.StageTimeout)
	assert.Equal(t, filepath.Join(os.TempDir(), "pbs-handler"), cfg.Output.Dir)
	assert.Equal(t, 5, cfg.Report.WarningSamples)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
pipeline:
  stage_timeout: 90s
  stage_binary: /opt/outlierscan/bin/outlierscan
logging:
  level: debug
  format: json
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 90*time.Second, cfg.Pipeline.StageTimeout)
	assert.Equal(t, "/opt/outlierscan/bin/outlierscan", cfg.Pipeline.StageBinary)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, ".outlierscan", cfg.State.Dir, "keys absent from the file keep their defaults")
}

func TestLoad_RejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("pipeline: [unterminated"), 0o644))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("OUTLIERSCAN_STAGE_BIN", "/usr/local/bin/outlierscan")
	t.Setenv("OUTLIERSCAN_STAGE_TIMEOUT", "2m")
	t.Setenv("OUTLIERSCAN_OUTPUT_DIR", "/data/out")
	t.Setenv("OUTLIERSCAN_STATE_DIR", "/data/state")
	t.Setenv("OUTLIERSCAN_LOG_LEVEL", "warn")

	cfg, err := Load(filepath.Join(t.TempDir(), "none.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "/usr/local/bin/outlierscan", cfg.Pipeline.StageBinary)
	assert.Equal(t, 2*time.Minute, cfg.Pipeline.StageTimeout)
	assert.Equal(t, "/data/out", cfg.Output.Dir)
	assert.Equal(t, "/data/state", cfg.State.Dir)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestEnvOverrides_BadTimeout(t *testing.T) {
	t.Setenv("OUTLIERSCAN_STAGE_TIMEOUT", "soon")
	_, err := Load(filepath.Join(t.TempDir(), "none.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	mutations := map[string]func(*Config){
		"zero timeout":     func(c *Config) { c.Pipeline.StageTimeout = 0 },
		"negative timeout": func(c *Config) { c.Pipeline.StageTimeout = -time.Second },
		"unknown level":    func(c *Config) { c.Logging.Level = "chatty" },
		"unknown format":   func(c *Config) { c.Logging.Format = "xml" },
		"no output dir":    func(c *Config) { c.Output.Dir = "" },
		"no state dir":     func(c *Config) { c.State.Dir = "" },
		"negative samples": func(c *Config) { c.Report.WarningSamples = -1 },
	}
	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestSave_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := DefaultConfig()
	cfg.Pipeline.StageTimeout = 45 * time.Second
	cfg.Report.WarningSamples = 10
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestStageBinary_DefaultsToSelf(t *testing.T) {
	cfg := DefaultConfig()
	bin, err := cfg.StageBinary()
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(bin))

	cfg.Pipeline.StageBinary = "/opt/stage"
	bin, err = cfg.StageBinary()
	require.NoError(t, err)
	assert.Equal(t, "/opt/stage", bin)
}
