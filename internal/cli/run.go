package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/radresearch/caseagent/internal/config"
	"github.com/radresearch/caseagent/internal/metrics"
	"github.com/radresearch/caseagent/pkg/agent"
	"github.com/radresearch/caseagent/pkg/caseimage"
	"github.com/radresearch/caseagent/pkg/session"
	"github.com/radresearch/caseagent/pkg/skills"
)

var (
	runSessionID    string
	runModelType    string
	runSkills       []string
	runImage        string
	runCaseID       string
	runMaxTurns     int
	runTemperature  float64
	runInstructions string
	runInteractive  bool
	runVerbose      bool
)

var runCmd = &cobra.Command{
	Use:   "run [input]",
	Short: "Run the agent on a question",
	Long: `Run the agent on a single question, or interactively with --interactive.
A new session is created unless --session names an existing one to resume.
Loaded skills decide which research tools the agent is instructed to use.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runSessionID, "session", "s", "", "session ID to resume (default creates a new one)")
	runCmd.Flags().StringVarP(&runModelType, "model-type", "m", "", "model profile to use (vision, text)")
	runCmd.Flags().StringArrayVar(&runSkills, "skill", nil, "skill to load (repeatable)")
	runCmd.Flags().StringVarP(&runImage, "image", "i", "", "path to an image file to attach")
	runCmd.Flags().StringVar(&runCaseID, "case-id", "", "case whose images to attach up front")
	runCmd.Flags().IntVar(&runMaxTurns, "max-turns", 0, "maximum reasoning turns (default from config)")
	runCmd.Flags().Float64VarP(&runTemperature, "temperature", "t", -1, "sampling temperature (default from config)")
	runCmd.Flags().StringVar(&runInstructions, "instructions", "", "extra system prompt instructions")
	runCmd.Flags().BoolVarP(&runInteractive, "interactive", "I", false, "read inputs from stdin until quit")
	runCmd.Flags().BoolVarP(&runVerbose, "verbose", "v", false, "print session details around the response")
}

// buildImageSource assembles the case image loader, or nil when the image
// catalogue is not available. The returned closer shuts the browser down.
func buildImageSource(cfg *config.Config, logger zerolog.Logger) (agent.CaseImageSource, func()) {
	index, err := caseimage.LoadIndex(cfg.Images.CSVPath)
	if err != nil {
		logger.Debug().Err(err).Str("csv", cfg.Images.CSVPath).Msg("Case image catalogue unavailable")
		return nil, func() {}
	}

	fetcher := caseimage.NewBrowserFetcher(cfg.Images.Headless, logger)
	loader := caseimage.NewLoader(index, caseimage.LoaderOptions{
		CacheDir: cfg.Images.CacheDir,
		Fetcher:  fetcher,
		Logger:   logger,
	})
	return loader, func() { fetcher.Close() }
}

func runRun(cmd *cobra.Command, args []string) error {
	if !runInteractive && len(args) == 0 {
		return fmt.Errorf("input is required unless --interactive is set")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if runVerbose && logLevel == "" {
		cfg.Logging.Level = "debug"
	}

	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Close()

	profile, err := cfg.GetModelProfile(runModelType)
	if err != nil {
		return err
	}

	store, err := session.NewStore(cfg.Dirs.Sessions)
	if err != nil {
		return err
	}
	sess, err := store.Open(runSessionID, "")
	if err != nil {
		return err
	}

	m := metrics.NewMetrics()
	if cfg.Metrics.Enabled {
		go serveMetrics(cfg.Metrics.Listen, m, log.GetZerolog())
	}

	images, closeImages := buildImageSource(cfg, log.GetZerolog())
	defer closeImages()

	maxTurns := runMaxTurns
	if maxTurns <= 0 {
		maxTurns = cfg.Agent.MaxTurns
	}
	temperature := runTemperature
	if temperature < 0 {
		temperature = cfg.Agent.Temperature
	}

	a, err := agent.New(agent.Options{
		Name:               "caseagent",
		Profile:            profile,
		Session:            sess,
		Skills:             skills.NewLoader(cfg.Dirs.Skills),
		SkillNames:         runSkills,
		Images:             images,
		Metrics:            m,
		Logger:             log.GetZerolog(),
		MaxTurns:           maxTurns,
		Temperature:        temperature,
		MaxTokens:          cfg.Agent.MaxTokens,
		CustomInstructions: runInstructions,
		LogDir:             cfg.Dirs.Logs,
		BashTimeout:        time.Duration(cfg.Agent.BashTimeout) * time.Second,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if runInteractive {
		return runInteractiveLoop(ctx, cmd, a, profile)
	}

	out := cmd.OutOrStdout()
	if runVerbose {
		fmt.Fprintf(out, "Session: %s\n", sess.ID)
		fmt.Fprintf(out, "Model: %s\n", profile.ModelID)
		fmt.Fprintln(out, strings.Repeat("-", 40))
	}

	result := a.Run(ctx, agent.RunInput{Input: args[0], Image: runImage, CaseID: runCaseID})
	fmt.Fprintln(out, result)

	if runVerbose {
		fmt.Fprintln(out, strings.Repeat("-", 40))
		fmt.Fprintf(out, "Session: %s\n", sess.ID)
	}
	return nil
}

func runInteractiveLoop(ctx context.Context, cmd *cobra.Command, a *agent.Agent, profile config.ModelProfile) error {
	out := cmd.OutOrStdout()
	sess := a.Session()

	fmt.Fprintf(out, "Agent ready. Session: %s\n", sess.ID)
	fmt.Fprintf(out, "Model: %s\n", profile.ModelID)
	if len(runSkills) > 0 {
		fmt.Fprintf(out, "Skills: %s\n", strings.Join(runSkills, ", "))
	}
	fmt.Fprintln(out, strings.Repeat("-", 40))
	fmt.Fprintln(out, "Type your input (or 'quit'/'exit' to stop, 'session' to show session info)")
	fmt.Fprintln(out)

	scanner := bufio.NewScanner(cmd.InOrStdin())
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out, "\nGoodbye!")
			return scanner.Err()
		}

		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}

		switch strings.ToLower(input) {
		case "quit", "exit", "q":
			fmt.Fprintln(out, "Goodbye!")
			return nil
		case "session":
			printSessionInfo(out, sess)
			continue
		}

		image := ""
		if strings.HasPrefix(input, "image:") {
			parts := strings.SplitN(input, " ", 2)
			if len(parts) < 2 {
				fmt.Fprintln(out, "Usage: image:/path/to/file.png Your question here")
				continue
			}
			image = strings.TrimPrefix(parts[0], "image:")
			input = parts[1]
		}

		fmt.Fprintln(out)
		fmt.Fprintln(out, a.Run(ctx, agent.RunInput{Input: input, Image: image}))
		fmt.Fprintln(out)

		if ctx.Err() != nil {
			return nil
		}
	}
}

func printSessionInfo(out io.Writer, sess *session.Session) {
	fmt.Fprintf(out, "Session ID: %s\n", sess.ID)
	fmt.Fprintf(out, "Store items: %d\n", len(sess.Notes))
	fmt.Fprintf(out, "Runs: %d\n", len(sess.History))

	if len(sess.Notes) == 0 {
		return
	}
	fmt.Fprintln(out, "Recent stored data:")
	notes := sess.Notes
	if len(notes) > 3 {
		notes = notes[len(notes)-3:]
	}
	for _, note := range notes {
		data, _ := json.Marshal(note.Data)
		fmt.Fprintf(out, "  [%s] %s\n", note.Timestamp, data)
	}
}
