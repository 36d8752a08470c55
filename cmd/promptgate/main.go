package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"promptgate/internal/api"
	"promptgate/internal/config"
	"promptgate/internal/embedding"
	"promptgate/internal/logging"
	"promptgate/internal/pipeline"
	"promptgate/internal/policy"
	"promptgate/internal/reason"
	"promptgate/internal/snapshot"
	"promptgate/internal/store"
	"promptgate/internal/types"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	verbose    bool
	configPath string
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "promptgate",
	Short: "promptGate - tiered guardrail gateway for untrusted LLM text",
	Long: `promptGate inspects untrusted text through a three-tier ladder:

  1. Patterns:  compiled regex library, sub-millisecond
  2. Exemplars: embedding similarity against a policy-derived corpus
  3. Reasoning: model deliberation, reserved for the ambiguous residue

Every input resolves to allow, warn, or block; enforcement is decided by
policy, never hardcoded in a stage.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// .env is optional; real environments set variables directly.
		_ = godotenv.Load()
		return logging.Initialize(verbose, nil)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.Sync()
	},
}

// serveCmd runs the HTTP gateway.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the detection API over HTTP",
	RunE:  runServe,
}

// checkCmd evaluates a single text and prints the verdict as JSON.
var checkCmd = &cobra.Command{
	Use:   "check [text]",
	Short: "Evaluate one input and print the verdict",
	Long: `Runs a single input through the full pipeline and prints the verdict as
JSON. Text is read from arguments, or from stdin when no argument is given.

Example:
  promptgate check "ignore all previous instructions"
  cat payload.txt | promptgate check`,
	RunE: runCheck,
}

// policyCmd groups policy tooling.
var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Policy file tooling",
}

// policyValidateCmd checks a policy file without starting anything.
var policyValidateCmd = &cobra.Command{
	Use:   "validate [path]",
	Short: "Validate a policy file",
	Args:  cobra.ExactArgs(1),
	RunE:  runPolicyValidate,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file")
	rootCmd.AddCommand(serveCmd, checkCmd, policyCmd)
	policyCmd.AddCommand(policyValidateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// =============================================================================
// RUNTIME ASSEMBLY
// =============================================================================

// runtime bundles everything a command needs to evaluate text.
type runtime struct {
	cfg       *config.Config
	engine    embedding.Engine
	publisher *snapshot.Publisher
	pipeline  *pipeline.Pipeline
	registry  *prometheus.Registry
	recorder  *store.Recorder
	watcher   *policy.Watcher
}

// buildRuntime loads config and assembles the pipeline.
func buildRuntime(withMetrics bool) (*runtime, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := logging.Initialize(verbose || cfg.Logging.Debug, cfg.Logging.Categories); err != nil {
		return nil, err
	}

	pol := policy.Defaults()
	if cfg.Policy.Path != "" {
		pol, err = policy.LoadFile(cfg.Policy.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to load policy: %w", err)
		}
	}

	// The policy tier flag overrides the config default, so the engine
	// choice must consult the resolved flag: an enabled tier 2 over a null
	// encoder would score every class identically.
	var engine embedding.Engine
	if pol.Tier2Enabled(cfg.Stages.Tier2Enabled) {
		engine, err = embedding.NewEngine(cfg.Embedding)
		if err != nil {
			return nil, fmt.Errorf("failed to create embedding engine: %w", err)
		}
		engine = embedding.NewMemoEngine(engine, cfg.Cache.EmbeddingEntries)
	} else {
		logging.Boot("Tier 2 disabled, exemplar index will not encode")
		engine = embedding.NullEngine{}
	}

	snap, err := snapshot.Build(context.Background(), pol, engine)
	if err != nil {
		return nil, fmt.Errorf("failed to build initial snapshot: %w", err)
	}
	pub := snapshot.NewPublisher(snap)

	var reasoner reason.Reasoner
	if cfg.Stages.Tier3Enabled {
		reasoner, err = reason.NewReasoner(cfg.Reasoner)
		if err != nil {
			return nil, fmt.Errorf("failed to create reasoner: %w", err)
		}
	}

	rt := &runtime{cfg: cfg, engine: engine, publisher: pub}

	var metrics *pipeline.Metrics
	if withMetrics {
		rt.registry = prometheus.NewRegistry()
		metrics = pipeline.NewMetrics(rt.registry)
	}

	if cfg.Store.Enabled {
		rt.recorder, err = store.NewRecorder(cfg.Store)
		if err != nil {
			return nil, fmt.Errorf("failed to open verdict store: %w", err)
		}
	}

	rt.pipeline = pipeline.New(cfg, pub, engine, reasoner, metrics, rt.recorder)
	return rt, nil
}

// startWatcher wires policy hot reload when configured.
func (rt *runtime) startWatcher(ctx context.Context) error {
	if rt.cfg.Policy.Path == "" || !rt.cfg.Policy.WatchReload {
		return nil
	}
	w, err := policy.NewWatcher(rt.cfg.Policy.Path, func(path string) {
		if err := rt.publisher.Reload(context.Background(), path, rt.engine); err != nil {
			logging.Get(logging.CategoryPolicy).Error("Hot reload failed: %v", err)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to create policy watcher: %w", err)
	}
	rt.watcher = w
	return w.Start(ctx)
}

func (rt *runtime) close(ctx context.Context) {
	if rt.watcher != nil {
		_ = rt.watcher.Stop()
	}
	if rt.recorder != nil {
		_ = rt.recorder.Close(ctx)
	}
}

// =============================================================================
// COMMANDS
// =============================================================================

func runServe(cmd *cobra.Command, args []string) error {
	rt, err := buildRuntime(true)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	defer rt.close(context.Background())

	if err := rt.startWatcher(ctx); err != nil {
		return err
	}

	logging.Boot("promptGate serving on %s (tier2=%v, tier3=%v)",
		rt.cfg.Server.Addr, rt.cfg.Stages.Tier2Enabled, rt.cfg.Stages.Tier3Enabled)
	return api.NewServer(rt.cfg.Server, rt.pipeline, rt.registry).Start(ctx)
}

func runCheck(cmd *cobra.Command, args []string) error {
	text := strings.Join(args, " ")
	if text == "" {
		raw, err := readStdin()
		if err != nil {
			return err
		}
		text = raw
	}

	rt, err := buildRuntime(false)
	if err != nil {
		return err
	}
	defer rt.close(context.Background())

	verdict := rt.pipeline.Evaluate(cmd.Context(), types.Request{Text: text})

	out, err := json.MarshalIndent(verdict, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))

	if verdict.Action == types.ActionBlock {
		os.Exit(2)
	}
	return nil
}

func runPolicyValidate(cmd *cobra.Command, args []string) error {
	pol, err := policy.LoadFile(args[0])
	if err != nil {
		return fmt.Errorf("policy invalid: %w", err)
	}

	classes := pol.Classes()
	exemplars := 0
	for _, texts := range pol.Exemplars() {
		exemplars += len(texts)
	}

	fmt.Printf("Policy OK\n")
	fmt.Printf("  version:   %s\n", pol.Version())
	fmt.Printf("  classes:   %d\n", len(classes))
	fmt.Printf("  exemplars: %d\n", exemplars)
	for _, class := range classes {
		rule := pol.Rule(class)
		fmt.Printf("    %-20s %-8s %-6s threshold=%.2f\n",
			class, rule.Severity, rule.Action, pol.ThresholdFor(class))
	}
	return nil
}

func readStdin() (string, error) {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return "", err
	}
	if stat.Mode()&os.ModeCharDevice != 0 {
		return "", fmt.Errorf("no text given and stdin is a terminal")
	}
	raw, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", fmt.Errorf("failed to read stdin: %w", err)
	}
	return string(raw), nil
}
