package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/motifcore/internal/store"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 25.0, cfg.STMMHalfLife)
	assert.Equal(t, 10000.0, cfg.LTMMHalfLife)
	assert.Equal(t, 0.90, cfg.PromotionThreshold)
	assert.Equal(t, 0.05, cfg.DemotionDelta)
	assert.Equal(t, 128, cfg.TickBufferSize)
	assert.Equal(t, 8, cfg.MaxParallel)
	assert.Equal(t, 0.05, cfg.LatencyBudget)
	assert.Empty(t, cfg.HMACSecret)
	assert.Equal(t, 10000, cfg.DyadCacheSize)
	assert.Equal(t, 10000, cfg.LedgerRowCap)
	assert.Equal(t, store.DriverCGO, cfg.DBDriver)
	assert.Nil(t, cfg.Secret())
}

func TestParse_OverlaysDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
stmm_half_life: 10
max_parallel: 2
hmac_secret: s3cr3t
archive_path: /var/lib/motifcore/reef.idx
archive_retry_delay: 75ms
db_driver: sqlite
cycle_interval: 2s
`))
	require.NoError(t, err)

	assert.Equal(t, 10.0, cfg.STMMHalfLife)
	assert.Equal(t, 2, cfg.MaxParallel)
	assert.Equal(t, []byte("s3cr3t"), cfg.Secret())
	assert.Equal(t, 75*time.Millisecond, cfg.ArchiveRetryDelay)
	assert.Equal(t, store.DriverPureGo, cfg.DBDriver)
	assert.Equal(t, 2*time.Second, cfg.CycleInterval)

	// Untouched keys keep their defaults.
	assert.Equal(t, 10000.0, cfg.LTMMHalfLife)
	assert.True(t, cfg.ArchiveReload)
}

func TestParse_EmptyDocument(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestParse_RejectsUnknownKeys(t *testing.T) {
	_, err := Parse([]byte("stmm_halflife: 10\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stmm_halflife")
}

func TestParse_RejectsInvalidValues(t *testing.T) {
	_, err := Parse([]byte(`
demotion_delta: 0
max_parallel: 0
db_driver: postgres
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "demotion delta")
	assert.Contains(t, err.Error(), "max_parallel")
	assert.Contains(t, err.Error(), "db_driver")
}

func TestLoad_EnvOverridesSecret(t *testing.T) {
	path := filepath.Join(t.TempDir(), "motifcore.yaml")
	require.NoError(t, os.WriteFile(path, []byte("hmac_secret: from-file\n"), 0o644))
	t.Setenv(EnvSecret, "from-env")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.HMACSecret)
}

func TestLoad_EmptyPathUsesDefaults(t *testing.T) {
	t.Setenv(EnvSecret, "")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Nil(t, cfg.Secret(), "an empty secret means unauthenticated mode")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestComponentConfigs(t *testing.T) {
	cfg := Default()
	cfg.LatencyBudget = 0.02
	cfg.HMACSecret = "k"

	assert.Equal(t, 20*time.Millisecond, cfg.Feedback().LatencyBudget)
	assert.Equal(t, cfg.TickBufferSize, cfg.Ledger().BufferSize)
	assert.Equal(t, cfg.LedgerRowCap, cfg.Ledger().RowCap)
	assert.Equal(t, cfg.STMMHalfLife, cfg.Memory().ShortHalfLife)
	assert.Equal(t, []byte("k"), cfg.Engine().Secret)
	assert.Equal(t, cfg.AdmitTimeout, cfg.Engine().AdmitTimeout)
}
