package params

import "testing"

// SetupTestConfigCleanup preserves the global config and registers a cleanup
// to restore it once the test and its subtests complete.
func SetupTestConfigCleanup(t testing.TB) {
	prev := coordinatorConfig
	t.Cleanup(func() {
		coordinatorConfig = prev
	})
}
