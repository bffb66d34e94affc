package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"svpatch/internal/app"
	"svpatch/internal/config"

	"github.com/spf13/cobra"
)

// errRunFailed makes the process exit non-zero after a failed run. The
// report already describes what went wrong, so nothing more is printed.
var errRunFailed = errors.New("run failed")

func main() {
	// An interrupt before the first disk write cancels the run cleanly.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		if !errors.Is(err, errRunFailed) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(1)
	}
}

// loadConfig reads the config file, falling back to defaults when it is missing.
func loadConfig() (*config.Config, map[string]string, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, nil, fmt.Errorf("getting defaults: %w", err)
	}
	cfg, err := config.ReadFromFile(defaults["config_path"], defaults["base_dir"])
	if err != nil {
		return nil, nil, fmt.Errorf("reading config: %w", err)
	}
	return cfg, defaults, nil
}

// newApp reads the config and creates an app for the --root project.
// The caller must defer a.Close().
func newApp(cmd *cobra.Command) (*app.SVPatchApp, error) {
	cfg, _, err := loadConfig()
	if err != nil {
		return nil, err
	}
	root, _ := cmd.Flags().GetString("root")
	verbose, _ := cmd.Flags().GetBool("verbose")

	a, err := app.NewSVPatchApp(cfg, root, verbose)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

var rootCmd = &cobra.Command{
	Use:           "svpatch",
	Short:         "Transactional patch engine for project trees",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// plan and apply
var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Simulate a pipeline and report what would change",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPipeline(cmd, true)
	},
}

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Run a pipeline and commit its changes",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPipeline(cmd, false)
	},
}

func runPipeline(cmd *cobra.Command, planOnly bool) error {
	opts, err := runOptions(cmd, planOnly)
	if err != nil {
		return err
	}

	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	rep, err := a.Run(cmd.Context(), opts)
	if err != nil {
		return err
	}

	fmt.Printf("Report: %s\n", opts.ReportPath)
	fmt.Printf("Status: %s  changes: %d  errors: %d\n", rep.Status, len(rep.Changes), len(rep.Errors))
	for _, e := range rep.Errors {
		fmt.Fprintf(os.Stderr, "  %s\n", e.Error())
	}
	if rep.History.Enabled {
		fmt.Printf("Run: %s  change: %s\n", rep.History.RunID, rep.History.ChangeID)
	}
	if rep.PartiallyApplied() {
		fmt.Fprintln(os.Stderr, "WARNING: apply failed without a complete rollback; the tree may be partially modified")
	}
	if rep.Failed() {
		return errRunFailed
	}
	return nil
}

// runOptions collects plan/apply flags. Flags that were not given stay nil
// so the config defaults apply.
func runOptions(cmd *cobra.Command, planOnly bool) (app.RunOptions, error) {
	f := cmd.Flags()
	opts := app.RunOptions{PlanOnly: planOnly}
	opts.PipelinePath, _ = f.GetString("pipeline")
	opts.ReportPath, _ = f.GetString("report")
	opts.Allow, _ = f.GetStringArray("allow")
	opts.OnScriptFailure, _ = f.GetString("on-script-failure")
	opts.RegexTimeout, _ = f.GetDuration("regex-timeout")

	if opts.PipelinePath == "" {
		return opts, fmt.Errorf("--pipeline is required")
	}
	if opts.ReportPath == "" {
		return opts, fmt.Errorf("--report is required")
	}

	if f.Changed("strict") {
		v, _ := f.GetBool("strict")
		opts.Strict = &v
	}
	if f.Changed("backup") {
		v, _ := f.GetBool("backup")
		opts.Backup = &v
	}
	if f.Changed("rollback-on-fail") {
		v, _ := f.GetBool("rollback-on-fail")
		opts.RollbackOnFail = &v
	}
	if f.Changed("max-files") {
		v, _ := f.GetInt("max-files")
		opts.MaxFiles = &v
	}
	if f.Changed("max-total-write-bytes") {
		v, _ := f.GetInt64("max-total-write-bytes")
		opts.MaxTotalWriteBytes = &v
	}
	return opts, nil
}

func addRunFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("pipeline", "", "Pipeline descriptor (JSON or YAML), relative to --root")
	f.String("report", "", "Where to write the JSON report")
	f.Bool("strict", false, "Fail mutations that change nothing (unless ALLOW_NOOP=1)")
	f.Bool("backup", false, "Back up pre-images and record run history (apply only)")
	f.Bool("rollback-on-fail", false, "Restore committed files when the commit fails")
	f.StringArray("allow", nil, "Allowed path prefix, relative to the root (repeatable)")
	f.Int("max-files", config.DefaultMaxFiles, "Maximum number of changed files (0 disables)")
	f.Int64("max-total-write-bytes", config.DefaultMaxTotalWriteBytes, "Maximum bytes written across changed files (0 disables)")
	f.String("on-script-failure", "", "What a failed script does to the pipeline: abort or continue")
	f.Duration("regex-timeout", 0, "Time budget of one regex operation (default from config)")
}

// history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		runs, err := a.History(cmd.Context(), limit)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Println("No runs recorded.")
			return nil
		}
		for _, r := range runs {
			parent := r.ParentRunID
			if parent == "" {
				parent = "-"
			}
			fmt.Printf("%s  %s  %-18s  files:%-4d errors:%-3d parent:%s\n",
				r.RunID,
				r.ChangeID,
				r.Status,
				r.FilesChanged,
				r.ErrorsCount,
				parent,
			)
		}
		return nil
	},
}

// log command
var logCmd = &cobra.Command{
	Use:   "log PATH",
	Short: "List the runs that changed a file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		changes, err := a.PathLog(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if len(changes) == 0 {
			fmt.Println("No recorded changes.")
			return nil
		}
		for _, c := range changes {
			fmt.Printf("%s  %s  %-3s  %d -> %d bytes\n",
				c.RunID,
				c.AppliedAt.Format("2006-01-02 15:04:05"),
				c.Action,
				c.BytesBefore,
				c.BytesAfter,
			)
		}
		return nil
	},
}

// show command
var showCmd = &cobra.Command{
	Use:   "show RUN_ID",
	Short: "Show the manifest of a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		m, err := a.Show(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		fmt.Printf("Run:     %s\n", m.RunID)
		fmt.Printf("Change:  %s\n", m.ChangeID)
		if m.ParentRunID != nil {
			fmt.Printf("Parent:  %s\n", *m.ParentRunID)
		}
		fmt.Printf("Status:  %s\n", m.Status)
		fmt.Printf("Started: %s\n", m.StartedAt)
		if m.FinishedAt != nil {
			fmt.Printf("Finished: %s\n", *m.FinishedAt)
		}
		fmt.Println()
		for _, f := range m.Files {
			backup := "-"
			if f.BackupPath != nil {
				backup = *f.BackupPath
			}
			fmt.Printf("%-3s  %s  backup:%s\n", f.Action, f.Path, backup)
		}
		for _, e := range m.Errors {
			fmt.Printf("error: %s\n", e.Error())
		}
		return nil
	},
}

// restore command
var restoreCmd = &cobra.Command{
	Use:   "restore RUN_ID",
	Short: "Undo a past run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")

		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.Restore(cmd.Context(), args[0], force)
		if err != nil {
			return fmt.Errorf("restore failed: %w", err)
		}
		fmt.Printf("Restored %d file(s), removed %d file(s)\n", len(res.Restored), len(res.Removed))
		return nil
	},
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg := config.NewConfig(defaults["base_dir"])
		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Base Dir: %s\n", defaults["base_dir"])
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, defaults, err := loadConfig()
		if err != nil {
			return err
		}
		timeout, err := cfg.RegexTimeoutDuration()
		if err != nil {
			return err
		}

		fmt.Printf("Configuration from %s:\n\n", defaults["config_path"])
		fmt.Printf("Base Dir:          %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:           %s\n", cfg.LogDir)
		fmt.Printf("History Dir:       %s\n", cfg.History.Dir)
		fmt.Printf("Strict:            %t\n", cfg.Defaults.Strict)
		fmt.Printf("Backup:            %t\n", cfg.Defaults.Backup)
		fmt.Printf("Rollback on fail:  %t\n", cfg.Defaults.RollbackOnFail)
		fmt.Printf("Max files:         %d\n", cfg.Defaults.MaxFiles)
		fmt.Printf("Max write bytes:   %d\n", cfg.Defaults.MaxTotalWriteBytes)
		fmt.Printf("Regex timeout:     %s\n", timeout.Truncate(time.Millisecond))
		fmt.Printf("On script failure: %s\n", cfg.Defaults.OnScriptFailure)
		fmt.Printf("Vault:             %s\n", cfg.Vault.Type)
		fmt.Printf("Encryption:        %s\n", cfg.Encryption.Type)
		return nil
	},
}

// keys command
var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage archive encryption keys",
}

var keysInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate the age key pair",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		pass, err := app.ReadNewPassphrase()
		if err != nil {
			return err
		}
		if err := app.InitKeys(cfg, pass); err != nil {
			return err
		}
		fmt.Printf("Public key:  %s\n", cfg.Encryption.PublicKeyPath)
		fmt.Printf("Private key: %s\n", cfg.Encryption.PrivateKeyPath)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().String("root", ".", "Project root directory")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Log debug output to stderr")

	addRunFlags(planCmd)
	addRunFlags(applyCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(applyCmd)

	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntP("limit", "n", 20, "Maximum number of runs to show")
	rootCmd.AddCommand(logCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(restoreCmd)
	restoreCmd.Flags().Bool("force", false, "Restore files that changed after the run")

	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)
	rootCmd.AddCommand(configCmd)

	keysCmd.AddCommand(keysInitCmd)
	rootCmd.AddCommand(keysCmd)
}
