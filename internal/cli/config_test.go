package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigCommand(t *testing.T) {
	t.Run("should write a default config file", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "agent.yaml")

		stdout, _, err := execCLI(t, "config", "init", "--config", configPath)
		require.NoError(t, err)

		assert.Contains(t, stdout, "Configuration saved to: "+configPath)
		assert.Contains(t, stdout, "Set API keys")

		data, err := os.ReadFile(configPath)
		require.NoError(t, err)
		assert.Contains(t, string(data), "models")
	})

	t.Run("should refuse to overwrite an existing config file", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "agent.yaml")

		_, _, err := execCLI(t, "config", "init", "--config", configPath)
		require.NoError(t, err)

		_, _, err = execCLI(t, "config", "init", "--config", configPath)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "config file already exists")
	})

	t.Run("should print the effective configuration", func(t *testing.T) {
		configPath, _ := writeTestConfig(t)

		stdout, _, err := execCLI(t, "config", "show", "--config", configPath)
		require.NoError(t, err)

		assert.Contains(t, stdout, `"models"`)
		assert.Contains(t, stdout, `"search"`)
		assert.Contains(t, stdout, `"logging"`)
	})
}
