package agentenv

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	t.Run("should read session identity from environment", func(t *testing.T) {
		t.Setenv(SessionIDVar, "session_20250101_120000_deadbeef")
		t.Setenv(SessionDirVar, "/tmp/sessions")

		e, err := Parse()
		require.NoError(t, err)
		assert.Equal(t, "session_20250101_120000_deadbeef", e.SessionID)
		assert.Equal(t, "/tmp/sessions", e.SessionDir)
	})

	t.Run("should tolerate missing variables", func(t *testing.T) {
		t.Setenv(SessionIDVar, "")
		t.Setenv(SessionDirVar, "")

		e, err := Parse()
		require.NoError(t, err)
		assert.Empty(t, e.SessionID)
	})
}

func TestMustSession(t *testing.T) {
	t.Run("should succeed when both variables set", func(t *testing.T) {
		t.Setenv(SessionIDVar, "session_20250101_120000_deadbeef")
		t.Setenv(SessionDirVar, "/tmp/sessions")

		e, err := MustSession()
		require.NoError(t, err)
		assert.NotEmpty(t, e.SessionID)
	})

	t.Run("should error when session id missing", func(t *testing.T) {
		t.Setenv(SessionIDVar, "")
		t.Setenv(SessionDirVar, "/tmp/sessions")

		_, err := MustSession()
		require.Error(t, err)
		assert.Contains(t, err.Error(), SessionIDVar)
	})

	t.Run("should error when session dir missing", func(t *testing.T) {
		t.Setenv(SessionIDVar, "session_20250101_120000_deadbeef")
		t.Setenv(SessionDirVar, "")

		_, err := MustSession()
		require.Error(t, err)
		assert.Contains(t, err.Error(), SessionDirVar)
	})
}

func TestVars(t *testing.T) {
	e := Env{
		SessionID:  "session_20250101_120000_deadbeef",
		SessionDir: "/tmp/sessions",
	}

	vars := e.Vars()
	assert.Contains(t, vars, "AGENT_SESSION_ID=session_20250101_120000_deadbeef")
	assert.Contains(t, vars, "AGENT_SESSION_DIR=/tmp/sessions")
}
