// Package agentenv defines the environment contract between the agent
// runtime and the skill scripts it shells out to. The runtime exports the
// variables on every bash tool call; scripts parse them back to find the
// session they belong to.
package agentenv

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// SessionIDVar and SessionDirVar are the variable names exported to every
// bash tool invocation.
const (
	SessionIDVar  = "AGENT_SESSION_ID"
	SessionDirVar = "AGENT_SESSION_DIR"
)

// Env carries the session identity handed to skill scripts
type Env struct {
	SessionID  string `env:"AGENT_SESSION_ID"`
	SessionDir string `env:"AGENT_SESSION_DIR"`
}

// Parse reads the agent environment from the process environment
func Parse() (Env, error) {
	var e Env
	if err := env.Parse(&e); err != nil {
		return Env{}, fmt.Errorf("failed to parse agent environment: %w", err)
	}
	return e, nil
}

// MustSession parses the environment and requires a session to be present.
// Skill scripts call this first: they are only meaningful when launched by
// a running agent.
func MustSession() (Env, error) {
	e, err := Parse()
	if err != nil {
		return Env{}, err
	}
	if e.SessionID == "" {
		return Env{}, fmt.Errorf("%s not set: this command must be called by the agent", SessionIDVar)
	}
	if e.SessionDir == "" {
		return Env{}, fmt.Errorf("%s not set: this command must be called by the agent", SessionDirVar)
	}
	return e, nil
}

// Vars renders the environment as KEY=value strings for exec.Cmd.Env
func (e Env) Vars() []string {
	return []string{
		fmt.Sprintf("%s=%s", SessionIDVar, e.SessionID),
		fmt.Sprintf("%s=%s", SessionDirVar, e.SessionDir),
	}
}
