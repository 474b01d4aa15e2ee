package cli

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBenchCommand(t *testing.T) {
	t.Run("should fail when the benchmark CSV is missing", func(t *testing.T) {
		configPath, dir := writeTestConfig(t)

		_, _, err := execCLI(t, "bench", "--config", configPath,
			"--output-dir", filepath.Join(dir, "results"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to open benchmark CSV")
	})

	t.Run("should reject an invalid cron schedule", func(t *testing.T) {
		configPath, _ := writeTestConfig(t)

		_, _, err := execCLI(t, "bench", "--config", configPath, "--schedule", "not a cron")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid cron expression")
	})

	t.Run("should reject an unknown model profile", func(t *testing.T) {
		configPath, _ := writeTestConfig(t)

		_, _, err := execCLI(t, "bench", "--config", configPath, "-m", "nonexistent")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "nonexistent")
	})
}
