package agent

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/radresearch/caseagent/internal/agentenv"
	"github.com/radresearch/caseagent/internal/config"
	"github.com/radresearch/caseagent/internal/metrics"
	"github.com/radresearch/caseagent/pkg/session"
	"github.com/radresearch/caseagent/pkg/skills"
	"github.com/radresearch/caseagent/pkg/tools"
	"github.com/rs/zerolog"
)

const (
	// DefaultMaxTurns bounds a run when no turn budget is configured
	DefaultMaxTurns = 15

	timestampLayout = "2006-01-02T15:04:05.000000"

	maxTurnsFallback = "Reached maximum reasoning steps."

	synthesisInstruction = "You have reached the maximum number of reasoning turns. " +
		"Synthesize everything you have gathered so far into your best final answer now. " +
		"Do not request any more tool calls."
)

// runState tracks where the run loop is between model calls
type runState int

const (
	stateAwaitingModel runState = iota
	stateHandlingToolCalls
	stateSynthesizing
	stateTerminated
)

func (s runState) String() string {
	switch s {
	case stateAwaitingModel:
		return "AWAITING_MODEL"
	case stateHandlingToolCalls:
		return "HANDLING_TOOL_CALLS"
	case stateSynthesizing:
		return "SYNTHESIZING"
	case stateTerminated:
		return "TERMINATED"
	default:
		return "UNKNOWN"
	}
}

// Agent drives one conversation loop against a model: call, dispatch tool
// calls, repeat until the model finishes, a tool submits a final result, or
// the turn budget runs out. An Agent serves one Run at a time; concurrent
// runs need separate instances.
type Agent struct {
	name     string
	provider LLMProvider
	profile  config.ModelProfile
	registry *tools.Registry
	loader   *skills.Loader
	loaded   []*skills.Skill
	session  *session.Session
	images   CaseImageSource
	metrics  *metrics.Metrics
	logger   zerolog.Logger

	maxTurns           int
	temperature        float64
	maxTokens          int
	customInstructions string
	projectRoot        string
	logDir             string
	bashTimeout        time.Duration

	systemPrompt    string
	hasSkillRouting bool
	state           runState
	lastRun         *Trajectory
}

// Options holds agent configuration
type Options struct {
	Name     string
	Profile  config.ModelProfile
	Provider LLMProvider // built from Profile when nil
	Session  *session.Session
	Registry *tools.Registry // built-ins registered when nil
	Skills   *skills.Loader
	Images   CaseImageSource
	Metrics  *metrics.Metrics
	Logger   zerolog.Logger

	// SkillNames selects which skills to load; names the loader cannot
	// find are skipped with a warning.
	SkillNames []string

	MaxTurns           int
	Temperature        float64
	MaxTokens          int
	CustomInstructions string
	ProjectRoot        string
	LogDir             string
	BashTimeout        time.Duration
}

// New creates an agent bound to a session
func New(opts Options) (*Agent, error) {
	if opts.Session == nil {
		return nil, fmt.Errorf("session is required")
	}

	provider := opts.Provider
	if provider == nil {
		var err error
		provider, err = NewProvider(opts.Profile)
		if err != nil {
			return nil, err
		}
	}

	registry := opts.Registry
	if registry == nil {
		registry = tools.NewRegistry()
		tools.RegisterBuiltins(registry, tools.BuiltinOptions{
			Bash: tools.BashOptions{Dir: opts.ProjectRoot},
		})
	}
	if opts.Metrics != nil {
		registry.SetMetrics(opts.Metrics)
	}
	if opts.Skills != nil {
		for _, def := range tools.SkillTools(opts.Skills) {
			if err := registry.Register(def); err != nil {
				return nil, fmt.Errorf("failed to register skill tool: %w", err)
			}
		}
	}

	name := opts.Name
	if name == "" {
		name = "agent"
	}
	maxTurns := opts.MaxTurns
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}

	a := &Agent{
		name:               name,
		provider:           provider,
		profile:            opts.Profile,
		registry:           registry,
		loader:             opts.Skills,
		session:            opts.Session,
		images:             opts.Images,
		metrics:            opts.Metrics,
		logger:             opts.Logger.With().Str("agent", name).Logger(),
		maxTurns:           maxTurns,
		temperature:        opts.Temperature,
		maxTokens:          opts.MaxTokens,
		customInstructions: opts.CustomInstructions,
		projectRoot:        opts.ProjectRoot,
		logDir:             opts.LogDir,
		bashTimeout:        opts.BashTimeout,
		state:              stateAwaitingModel,
	}

	if opts.Skills != nil {
		for _, skillName := range opts.SkillNames {
			skill, ok := opts.Skills.Load(skillName)
			if !ok {
				a.logger.Warn().Str("skill", skillName).Msg("Skill not found, skipping")
				continue
			}
			a.loaded = append(a.loaded, skill)
		}
	}

	a.buildSystemPrompt()

	return a, nil
}

// Session returns the session this agent is bound to
func (a *Agent) Session() *session.Session {
	return a.session
}

// SystemPrompt returns the prompt built for the most recent run
func (a *Agent) SystemPrompt() string {
	return a.systemPrompt
}

// LastTrajectory returns the trajectory of the most recent run, nil before
// the first run completes.
func (a *Agent) LastTrajectory() *Trajectory {
	return a.lastRun
}

func (a *Agent) supportsVision() bool {
	return a.profile.SupportsVision
}

// buildSystemPrompt layers the base prompt, skill content, custom
// instructions, and the current session digest. Rebuilt at the start of
// every run so state written by prior runs or concurrent scripts shows up.
func (a *Agent) buildSystemPrompt() {
	skillPrompt := ""
	a.hasSkillRouting = false

	switch {
	case len(a.loaded) == 1:
		skillPrompt = skills.SingleSkillPrompt(a.loaded[0])
	case len(a.loaded) > 1:
		skillPrompt = skills.RoutingPrompt(a.loaded)
		a.hasSkillRouting = true
	}

	a.systemPrompt = BuildSystemPrompt(skillPrompt, a.session.ContextPrompt(), a.hasSkillRouting, a.customInstructions)
}

// exposedTools returns the schemas offered to the model this run: shell
// execution always, skill routing tools only when more than one skill is
// loaded. Everything else in the registry stays callable but unadvertised.
func (a *Agent) exposedTools() []tools.Schema {
	names := []string{"bash"}
	if a.hasSkillRouting {
		names = append(names, "get_skill", "get_skill_reference")
	}
	return a.registry.Schemas(names...)
}

// RunInput carries the inputs to one agent run
type RunInput struct {
	Input  string
	Image  string // optional path to a local image file
	CaseID string // optional case whose images to attach up front
	RunID  string // generated when empty
}

// Run executes the agent loop on one input and always returns a response
// string: model text, serialized final-result payload, or a textual error.
// The termination reason lands in the trajectory, not the return value.
func (a *Agent) Run(ctx context.Context, in RunInput) string {
	runID := in.RunID
	if runID == "" {
		runID = NewRunID()
	}
	logger := a.logger.With().Str("run_id", runID).Str("session_id", a.session.ID).Logger()
	start := time.Now()

	a.buildSystemPrompt()

	userMsg := UserMessage(in.Input)
	if in.Image != "" {
		if a.supportsVision() {
			url, err := EncodeImageFile(in.Image)
			if err != nil {
				logger.Warn().Err(err).Str("image", in.Image).Msg("Failed to encode input image")
			} else {
				userMsg.AppendBlocks(ImageBlock(url))
			}
		} else {
			logger.Warn().Str("image", in.Image).Msg("Model has no vision support, ignoring input image")
		}
	}
	if in.CaseID != "" && a.images != nil {
		if a.attachCaseImages(ctx, &userMsg, in.CaseID) {
			a.countImageInjection()
		}
	}
	messages := []Message{userMsg}

	traj := &Trajectory{
		RunID:          runID,
		SessionID:      a.session.ID,
		Model:          a.profile.ModelID,
		Input:          in.Input,
		Image:          in.Image,
		CaseID:         in.CaseID,
		SupportsVision: a.supportsVision(),
		Turns:          []TurnRecord{},
		StartedAt:      time.Now().Format(timestampLayout),
	}

	logger.Info().
		Str("model", a.profile.ModelID).
		Int("max_turns", a.maxTurns).
		Int("skills", len(a.loaded)).
		Msg("Starting agent run")

	exposed := a.exposedTools()
	turn := 0
	output := ""
	var finalData map[string]interface{}

	for turn < a.maxTurns {
		turn++
		a.setState(logger, stateAwaitingModel)

		resp, err := a.provider.Call(ctx, LLMRequest{
			Model:        a.profile.ModelID,
			SystemPrompt: a.systemPrompt,
			Messages:     messages,
			Tools:        exposed,
			Temperature:  a.temperature,
			MaxTokens:    a.maxTokens,
		})
		if err != nil {
			logger.Error().Err(err).Int("turn", turn).Msg("Model call failed")
			a.countModelCall("error")
			output = fmt.Sprintf("Error calling LLM: %v", err)
			traj.TerminationReason = TerminationLLMError
			break
		}
		a.countModelCall("ok")
		traj.Tokens.Add(resp.Usage)

		rec := TurnRecord{Turn: turn, Content: resp.Content, ToolCalls: []TrajectoryToolCall{}}

		if len(resp.ToolCalls) == 0 {
			output = resp.Content
			rec.Final = true
			traj.Turns = append(traj.Turns, rec)
			traj.TerminationReason = TerminationLLMComplete
			break
		}

		a.setState(logger, stateHandlingToolCalls)
		messages = append(messages, Message{Role: "assistant", Content: resp.Content, ToolCalls: resp.ToolCalls})

		navCase := ""
		gotFinal := false
		for _, tc := range resp.ToolCalls {
			args := parseArguments(tc.Arguments)
			logger.Debug().Str("tool", tc.Name).Int("turn", turn).Msg("Dispatching tool call")

			result, final := a.executeTool(ctx, tc.Name, args)

			rec.ToolCalls = append(rec.ToolCalls, TrajectoryToolCall{
				Name:    tc.Name,
				Args:    args,
				Result:  clip(result, 2000),
				IsFinal: final.Found(),
			})
			messages = append(messages, ToolMessage(tc.ID, result))

			if tc.Name == "bash" {
				if id := NavigateCaseID(argString(args, "command")); id != "" {
					navCase = id
				}
			}

			if final.Found() {
				finalData = final.Data
				output = finalOutput(final, result)
				rec.Final = true
				traj.TerminationReason = TerminationFinalResult
				gotFinal = true
				logger.Info().Str("outcome", final.Outcome.String()).Msg("Final result submitted")
				break
			}
		}
		traj.Turns = append(traj.Turns, rec)

		if gotFinal {
			break
		}

		if navCase != "" {
			traj.CaseID = navCase
			if a.images != nil && a.injectCaseImages(ctx, &messages, navCase) {
				a.countImageInjection()
				logger.Info().Str("case_id", navCase).Msg("Injected case images")
			}
		}

		if remaining := a.maxTurns - turn; remaining > 0 {
			messages[len(messages)-1].AppendText(turnReminder(turn, a.maxTurns))
		}
	}

	if traj.TerminationReason == "" {
		output = a.synthesize(ctx, logger, messages, turn, traj)
	}

	a.setState(logger, stateTerminated)

	traj.FinishedAt = time.Now().Format(timestampLayout)
	traj.Output = output
	traj.FinalResultData = finalData
	traj.TotalTurns = turn
	if a.logDir != "" {
		if err := traj.Save(a.logDir); err != nil {
			logger.Warn().Err(err).Msg("Failed to save trajectory")
		}
	}
	a.lastRun = traj

	// Pick up anything the final tool call wrote before recording the run
	if err := a.session.Reload(); err != nil {
		logger.Warn().Err(err).Msg("Failed to reload session")
	}
	if err := a.session.AddRun(session.RunRecord{
		RunID:         runID,
		Input:         in.Input,
		OutputSummary: clip(output, 500),
		Output:        output,
		FinalResult:   finalData,
		Turns:         turn,
		Tokens:        session.TokenUsage{Input: traj.Tokens.InputTokens, Output: traj.Tokens.OutputTokens},
	}); err != nil {
		logger.Warn().Err(err).Msg("Failed to record run in session")
	}

	a.countRun(traj.TerminationReason, turn, traj.Tokens, time.Since(start))
	logger.Info().
		Str("termination_reason", traj.TerminationReason).
		Int("turns", turn).
		Int("input_tokens", traj.Tokens.InputTokens).
		Int("output_tokens", traj.Tokens.OutputTokens).
		Msg("Run finished")

	return output
}

// synthesize makes one last model call without tools after the turn budget
// is exhausted, asking for a best-effort answer from what was gathered.
func (a *Agent) synthesize(ctx context.Context, logger zerolog.Logger, messages []Message, turn int, traj *Trajectory) string {
	a.setState(logger, stateSynthesizing)
	logger.Info().Int("turns", turn).Msg("Turn budget exhausted, synthesizing")

	messages = append(messages, UserMessage(synthesisInstruction))
	resp, err := a.provider.Call(ctx, LLMRequest{
		Model:        a.profile.ModelID,
		SystemPrompt: a.systemPrompt,
		Messages:     messages,
		Temperature:  a.temperature,
		MaxTokens:    a.maxTokens,
	})
	if err != nil {
		logger.Warn().Err(err).Msg("Synthesis call failed")
		a.countModelCall("error")
		traj.TerminationReason = TerminationMaxTurnsSynthesisFailed
		return maxTurnsFallback
	}
	a.countModelCall("ok")
	traj.Tokens.Add(resp.Usage)

	if strings.TrimSpace(resp.Content) == "" {
		traj.TerminationReason = TerminationMaxTurns
		return maxTurnsFallback
	}

	traj.Turns = append(traj.Turns, TurnRecord{Turn: turn + 1, Content: resp.Content, Final: true})
	traj.TerminationReason = TerminationMaxTurnsSynthesized
	return resp.Content
}

// executeTool runs one tool call and scans shell output for the
// final-result markers. Skill introspection goes straight to the loader and
// shell execution carries the session identity in its environment; anything
// else dispatches through the registry.
func (a *Agent) executeTool(ctx context.Context, name string, args map[string]interface{}) (string, FinalResult) {
	start := time.Now()

	switch name {
	case "get_skill":
		if a.loader != nil {
			result := a.loader.GetSkillContent(argString(args, "skill_name"))
			a.countToolCall(name, start, result)
			return result, FinalResult{}
		}

	case "get_skill_reference":
		if a.loader != nil {
			result := a.loader.GetReference(argString(args, "skill_name"), argString(args, "ref_name"))
			a.countToolCall(name, start, result)
			return result, FinalResult{}
		}

	case "bash":
		opts := tools.BashOptions{
			Dir: a.projectRoot,
			Env: agentenv.Env{
				SessionID:  a.session.ID,
				SessionDir: filepath.Dir(a.session.Path()),
			}.Vars(),
			Timeout: a.bashTimeout,
		}
		if t := tools.TimeoutFromArgs(args); t > 0 {
			opts.Timeout = t
		}
		result := tools.RunBash(ctx, argString(args, "command"), opts)
		a.countToolCall(name, start, result)

		// Scripts mutate the session behind our back; pick that up before
		// the next model call.
		if err := a.session.Reload(); err != nil {
			a.logger.Warn().Err(err).Msg("Failed to reload session after bash")
		}
		return result, ParseFinalResult(result)
	}

	return a.registry.Dispatch(ctx, name, args), FinalResult{}
}

func (a *Agent) setState(logger zerolog.Logger, s runState) {
	if a.state == s {
		return
	}
	logger.Debug().Str("from", a.state.String()).Str("to", s.String()).Msg("Run state transition")
	a.state = s
}

func (a *Agent) countModelCall(status string) {
	if a.metrics != nil {
		a.metrics.ModelCallsTotal.WithLabelValues(a.profile.ModelID, status).Inc()
	}
}

func (a *Agent) countToolCall(name string, start time.Time, result string) {
	if a.metrics == nil {
		return
	}
	status := "ok"
	if strings.HasPrefix(result, "Error") {
		status = "error"
		a.metrics.ToolErrorsTotal.WithLabelValues(name).Inc()
	}
	a.metrics.ToolCallsTotal.WithLabelValues(name, status).Inc()
	a.metrics.ToolCallDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
}

func (a *Agent) countImageInjection() {
	if a.metrics != nil {
		a.metrics.ImagesInjected.Inc()
	}
}

func (a *Agent) countRun(reason string, turns int, tokens TokenUsage, elapsed time.Duration) {
	if a.metrics == nil {
		return
	}
	a.metrics.RunsTotal.WithLabelValues(a.name, reason).Inc()
	a.metrics.RunDuration.WithLabelValues(a.name).Observe(elapsed.Seconds())
	a.metrics.RunTurns.WithLabelValues(a.name).Observe(float64(turns))
	a.metrics.TokensTotal.WithLabelValues(a.name, "input").Add(float64(tokens.InputTokens))
	a.metrics.TokensTotal.WithLabelValues(a.name, "output").Add(float64(tokens.OutputTokens))
}

// NewRunID generates a run identifier like run_20250114_153042_a1b2c3
func NewRunID() string {
	id := uuid.New()
	return fmt.Sprintf("run_%s_%s", time.Now().Format("20060102_150405"), hex.EncodeToString(id[:])[:6])
}

// turnReminder renders the budget note appended to the newest message at
// the end of each tool turn, escalating as the budget runs down.
func turnReminder(turn, maxTurns int) string {
	remaining := maxTurns - turn
	switch {
	case remaining == 1:
		return fmt.Sprintf("\n\n[Turn %d/%d - FINAL TURN NEXT: deliver your answer or submit your final result now]", turn, maxTurns)
	case remaining <= 3:
		return fmt.Sprintf("\n\n[Turn %d/%d - %d turns remaining, wrap up soon]", turn, maxTurns, remaining)
	default:
		return fmt.Sprintf("\n\n[Turn %d/%d]", turn, maxTurns)
	}
}

// finalOutput picks the user-visible output for a final-result termination:
// the serialized payload when one parsed, otherwise the raw tool text.
func finalOutput(final FinalResult, raw string) string {
	if len(final.Data) > 0 {
		if b, err := json.Marshal(final.Data); err == nil {
			return string(b)
		}
	}
	return raw
}

func argString(args map[string]interface{}, key string) string {
	s, _ := args[key].(string)
	return s
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
