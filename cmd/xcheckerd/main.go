// Package main implements xcheckerd, the command-line host for the spec
// generation pipeline: it wires the phase registry, the orchestrator, the
// provider adapter, the lock manager, and the redactor together behind two
// subcommands, "run" and "status".
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"xchecker/internal/config"
	"xchecker/internal/design"
	"xchecker/internal/final"
	"xchecker/internal/fixup"
	"xchecker/internal/llmadapter"
	"xchecker/internal/lock"
	"xchecker/internal/orchestrator"
	"xchecker/internal/phase"
	"xchecker/internal/receipt"
	"xchecker/internal/reqs"
	"xchecker/internal/review"
	"xchecker/internal/tasks"
	"xchecker/pkg/specid"
)

var (
	verbose    bool
	home       string
	configPath string
	providerID string
	model      string
	timeout     time.Duration
	breakStale  bool
	strictDrift bool

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "xcheckerd",
	Short: "Phase-orchestrated spec generation pipeline",
	Long: `xcheckerd drives a fixed six-phase pipeline — Requirements, Design,
Tasks, Review, Fixup, Final — invoking an external LLM provider per phase and
recording append-only canonical receipts for every run.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zapCfg := zap.NewProductionConfig()
		if verbose {
			zapCfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zapCfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVar(&home, "home", "", "State directory root (default: $XCHECKER_HOME or ./.xchecker)")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a YAML config file (default: <home>/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&providerID, "provider", "claude", "Provider CLI executable to invoke")
	rootCmd.PersistentFlags().StringVar(&model, "model", "", "Model name passed to the provider")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 600*time.Second, "Per-phase provider timeout")
	rootCmd.PersistentFlags().BoolVar(&breakStale, "break-stale-lock", false, "Break a stale advisory lock before running")
	rootCmd.PersistentFlags().BoolVar(&strictDrift, "strict-drift", false, "Fail the run if provider/model has drifted from the spec's reproducibility lockfile")

	runCmd.Flags().String("phase", "", "Run a single phase instead of the full workflow (requirements|design|tasks|review|fixup|final)")
	rootCmd.AddCommand(runCmd, statusCmd)
}

var runCmd = &cobra.Command{
	Use:   "run <spec-id>",
	Short: "Run the pipeline (or a single phase) for a spec",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		specID := specid.SpecId(args[0])
		if err := specID.Validate(); err != nil {
			return err
		}

		o, err := buildOrchestrator(cmd)
		if err != nil {
			return err
		}

		phaseFlag, _ := cmd.Flags().GetString("phase")
		ctx := context.Background()

		if phaseFlag != "" {
			target := specid.PhaseId(phaseFlag)
			if !target.Valid() {
				return fmt.Errorf("unknown phase %q", phaseFlag)
			}
			r, err := o.RunPhase(ctx, specID, target)
			if err != nil {
				return err
			}
			printReceiptSummary(r)
			if r.ExitCode != 0 {
				os.Exit(r.ExitCode)
			}
			return nil
		}

		current, found, err := o.CurrentPhase(specID)
		from := specid.Requirements
		if found {
			if next, ok := current.Next(); ok {
				from = next
			} else {
				fmt.Println("spec already completed through final")
				return nil
			}
		}

		result, err := o.RunWorkflow(ctx, specID, from)
		for _, r := range result.Receipts {
			printReceiptSummary(r)
		}
		if err != nil {
			return err
		}
		if len(result.Receipts) > 0 {
			last := result.Receipts[len(result.Receipts)-1]
			if last.ExitCode != 0 {
				os.Exit(last.ExitCode)
			}
		}
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status <spec-id>",
	Short: "Show the current phase for a spec",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		specID := specid.SpecId(args[0])
		if err := specID.Validate(); err != nil {
			return err
		}
		o, err := buildOrchestrator(cmd)
		if err != nil {
			return err
		}
		current, found, err := o.CurrentPhase(specID)
		if err != nil {
			return err
		}
		if !found {
			fmt.Println("no completed phase")
			return nil
		}
		fmt.Printf("current phase: %s\n", current)
		return nil
	},
}

func resolveHome() string {
	if home != "" {
		return home
	}
	if env := os.Getenv("XCHECKER_HOME"); env != "" {
		return env
	}
	wd, _ := os.Getwd()
	return filepath.Join(wd, ".xchecker")
}

// buildOrchestrator loads, overrides from explicitly-set flags, and
// validates an internal/config.Config, then derives the orchestrator's
// Config from it (SPEC_FULL.md's Configuration section: "the core package
// accepts an already-validated *config.Config struct"). CLI flags take
// precedence over the config file only when the user actually passed them;
// cobra's Changed() distinguishes an explicit flag from its zero-value
// default.
func buildOrchestrator(cmd *cobra.Command) (*orchestrator.Orchestrator, error) {
	resolvedHome := resolveHome()
	specsDir := filepath.Join(resolvedHome, "specs")
	if err := os.MkdirAll(specsDir, 0o755); err != nil {
		return nil, fmt.Errorf("prepare state directory: %w", err)
	}

	cfgPath := configPath
	if cfgPath == "" {
		cfgPath = filepath.Join(resolvedHome, "config.yaml")
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	cfg.Home = resolvedHome

	if cmd.Flags().Changed("provider") {
		cfg.Provider.Executable = providerID
	}
	if cmd.Flags().Changed("model") {
		cfg.Provider.Model = model
	}
	if cmd.Flags().Changed("timeout") {
		cfg.Provider.Timeout = timeout.String()
		cfg.Runner.TimeoutSeconds = int(timeout.Seconds())
	}
	if cmd.Flags().Changed("strict-drift") {
		cfg.StrictDrift = strictDrift
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	registry, err := phase.NewRegistry(reqs.Phase{}, design.Phase{}, tasks.Phase{}, review.Phase{}, fixup.Phase{}, final.Phase{})
	if err != nil {
		return nil, fmt.Errorf("build phase registry: %w", err)
	}

	locks, err := lock.NewManager(specsDir, lock.Options{TTL: cfg.LockTTL()})
	if err != nil {
		return nil, fmt.Errorf("build lock manager: %w", err)
	}

	redactor, err := cfg.Redact.BuildRedactor()
	if err != nil {
		return nil, fmt.Errorf("build redactor: %w", err)
	}

	provider := llmadapter.NewCLIAdapter(llmadapter.CLIConfig{
		Executable:        cfg.Provider.Executable,
		Timeout:           cfg.RunnerTimeout(),
		StdoutBufferBytes: cfg.Runner.StdoutBufferBytes,
		StderrBufferBytes: cfg.Runner.StderrBufferBytes,
	})

	orchCfg := orchestrator.Config{
		PacketMaxBytes:   cfg.Packet.MaxBytes,
		PacketMaxLines:   cfg.Packet.MaxLines,
		RunnerTimeout:    cfg.RunnerTimeout(),
		Model:            cfg.Provider.Model,
		ProviderName:     cfg.Provider.Executable,
		StrictValidation: cfg.StrictValidation,
		StrictDrift:      cfg.StrictDrift,
		BreakStaleLock:   breakStale,
		Runner:           runnerKind(),
		DebugMode:        cfg.Logging.DebugMode,
	}

	return orchestrator.New(specsDir, registry, provider, locks, redactor, logger, orchCfg), nil
}

// runnerKind reports "wsl" when running under Windows Subsystem for Linux
// (WSL sets WSL_DISTRO_NAME), else "native" (spec.md §6's runner field).
func runnerKind() string {
	if os.Getenv("WSL_DISTRO_NAME") != "" {
		return "wsl"
	}
	return "native"
}

func printReceiptSummary(r receipt.Receipt) {
	status := "ok"
	if r.ExitCode != 0 {
		status = string(r.ErrorKind)
	}
	fmt.Printf("%-14s exit=%-3d %s\n", r.Phase, r.ExitCode, status)
	if r.ErrorReason != "" {
		fmt.Printf("  %s\n", r.ErrorReason)
	}
	for _, w := range r.Warnings {
		fmt.Printf("  warning: %s\n", w)
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
