// Package session manages durable shared state for one logical task thread.
//
// A session is a multi-run context: several agent runs happen within one
// session, the agent stores notes that persist across runs, and every
// session lives as a single JSON file in one directory.
//
// Invariants:
//   - Session ids are validated and path-safe.
//   - The note list is append-only; no update or delete primitive exists.
//   - Every disk read holds a shared flock, every write an exclusive flock,
//     both scoped to a single open-close cycle, so a parent agent and a
//     shell-invoked helper script in another process can share a session id
//     without corrupting state.
//
// Usage:
//
//	store, _ := session.NewStore("/tmp/caseagent/sessions")
//	sess, _ := store.Create("diagnose case 1000")
//	_ = sess.AppendNote(map[string]interface{}{"type": "plan", "steps": []string{"search"}})
//	prompt := sess.ContextPrompt()
//	_ = prompt
package session
