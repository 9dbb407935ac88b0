// Package params defines the coordinator runtime configuration. A single
// process-global config is read throughout the codebase and can be overridden
// at startup from flags or in tests via OverrideCoordinatorConfig.
package params

import "time"

// Config holds every tunable of the ceremony coordinator.
type Config struct {
	// Identity.
	EmailDomain string // Verified emails under this domain carry coordinator rights.

	// Object storage.
	BucketPostfix     string        // Appended to a ceremony prefix to form its bucket name.
	PresignExpiration time.Duration // Lifetime of presigned storage URLs.
	AWSRegion         string
	AWSEndpoint       string // Optional override for S3-compatible endpoints.

	// Contribution verification.
	TranscriptSentinel   string        // Transcript line that marks a contribution as valid.
	VMStartupAttempts    int           // Polls while waiting for a verifier instance to run.
	VMStartupInterval    time.Duration // Delay between instance status polls.
	VMCommandAttempts    int           // Polls while waiting for a verify command to finish.
	VMCommandInterval    time.Duration // Delay between command status polls.
	VerificationDeadline time.Duration // Verification overrun after which the sweeper evicts.

	// Background services.
	SweepInterval     time.Duration // Cadence of the contribution timeout sweep.
	LifecycleInterval time.Duration // Cadence of ceremony open/close checks.
	SnapshotInterval  time.Duration // Cadence of database snapshots.
	SchedulerRetries  int           // Attempts to reapply a queue update after a write conflict.
}

// DefaultConfig returns the coordinator defaults.
func DefaultConfig() *Config {
	return &Config{
		EmailDomain:          "",
		BucketPostfix:        "-ph2-ceremony",
		PresignExpiration:    15 * time.Minute,
		AWSRegion:            "us-east-1",
		TranscriptSentinel:   "ZKey Ok!",
		VMStartupAttempts:    5,
		VMStartupInterval:    time.Minute,
		VMCommandAttempts:    5,
		VMCommandInterval:    time.Minute,
		VerificationDeadline: 59 * time.Minute,
		SweepInterval:        time.Minute,
		LifecycleInterval:    30 * time.Minute,
		SnapshotInterval:     24 * time.Hour,
		SchedulerRetries:     5,
	}
}

var coordinatorConfig = DefaultConfig()

// CoordinatorConfig retrieves the coordinator config.
func CoordinatorConfig() *Config {
	return coordinatorConfig
}

// OverrideCoordinatorConfig by replacing the config. The preferred pattern is
// to call CoordinatorConfig(), change the specific parameters, and then call
// OverrideCoordinatorConfig(c). Any subsequent calls to params.CoordinatorConfig()
// will return this new configuration.
func OverrideCoordinatorConfig(c *Config) {
	coordinatorConfig = c
}

// Copy returns a deep copy of the config.
func (c *Config) Copy() *Config {
	config := *c
	return &config
}
