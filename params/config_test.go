package params

import (
	"testing"
	"time"

	"github.com/zkmpc/ceremonyd/testing/assert"
	"github.com/zkmpc/ceremonyd/testing/require"
)

func TestOverrideCoordinatorConfig(t *testing.T) {
	SetupTestConfigCleanup(t)

	cfg := CoordinatorConfig().Copy()
	cfg.EmailDomain = "ceremony.example.org"
	cfg.VerificationDeadline = 10 * time.Minute
	OverrideCoordinatorConfig(cfg)

	assert.Equal(t, "ceremony.example.org", CoordinatorConfig().EmailDomain)
	assert.Equal(t, 10*time.Minute, CoordinatorConfig().VerificationDeadline)
}

func TestConfigCopyIsDetached(t *testing.T) {
	original := DefaultConfig()
	cp := original.Copy()
	cp.BucketPostfix = "-other"
	require.NotEqual(t, original.BucketPostfix, cp.BucketPostfix)
}

func TestDefaultsMatchOperationalContract(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "ZKey Ok!", cfg.TranscriptSentinel)
	assert.Equal(t, 59*time.Minute, cfg.VerificationDeadline)
	assert.Equal(t, time.Minute, cfg.SweepInterval)
	assert.Equal(t, 30*time.Minute, cfg.LifecycleInterval)
	assert.Equal(t, 5, cfg.VMStartupAttempts)
	assert.Equal(t, 5, cfg.VMCommandAttempts)
}
