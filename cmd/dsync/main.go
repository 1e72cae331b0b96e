package main

import (
	"fmt"
	"os"
	"time"

	"dsync-go/internal/app"
	"dsync-go/internal/config"

	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newApp reads the config and creates a DSApp. The caller must defer app.Close().
// operation identifies the CLI command being run (e.g. "Sync", "Status").
func newApp(operation string) (*app.DSApp, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	a, err := app.NewDSApp(cfg, operation)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}

	return a, nil
}

// dirArg returns the first argument, or the current directory.
func dirArg(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return "."
}

func printPaths(marker string, paths []string) {
	for _, p := range paths {
		fmt.Printf("%s %s\n", marker, p)
	}
}

var rootCmd = &cobra.Command{
	Use:   "dsync",
	Short: "Directory snapshot, diff and sync",
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
		fmt.Printf("History:  %s\n", defaults["history_path"])
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg, err := config.ReadFromFile(defaults["config_path"])
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", defaults["config_path"])
		fmt.Printf("Base Dir:     %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:      %s\n", cfg.LogDir)
		fmt.Printf("Log Level:    %s\n", cfg.Log.Level)
		fmt.Printf("Ignore:       %s\n", cfg.IgnoreRegex)
		fmt.Printf("Database:     %s %s\n", cfg.Database.Type, cfg.Database.DataDir)
		fmt.Printf("Archive:      %s %s\n", cfg.Archive.Type, cfg.Archive.Dir)
		fmt.Printf("Force Delete: %v\n", cfg.Sync.ForceDelete)
		return nil
	},
}

// snapshot command
var snapshotCmd = &cobra.Command{
	Use:   "snapshot [DIR]",
	Short: "Record the current state of a directory as its baseline",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ignore, _ := cmd.Flags().GetString("ignore")

		a, err := newApp("Snapshot")
		if err != nil {
			return err
		}
		defer a.Close()

		snap, err := a.Snapshot(dirArg(args), ignore)
		if err != nil {
			return fmt.Errorf("snapshot: %w", err)
		}

		fmt.Printf("Recorded %d entries in %s\n", snap.Len(), snap.Dir())
		return nil
	},
}

// status command
var statusCmd = &cobra.Command{
	Use:   "status [DIR]",
	Short: "Show changes since the saved baseline",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ignore, _ := cmd.Flags().GetString("ignore")

		a, err := newApp("Status")
		if err != nil {
			return err
		}
		defer a.Close()

		st, err := a.Status(dirArg(args), ignore)
		if err != nil {
			return err
		}

		if st.LastListed.IsZero() {
			fmt.Printf("%s has no saved baseline.\n", st.Dir)
		} else {
			fmt.Printf("Changes in %s since %s:\n", st.Dir, st.LastListed.Format("2006-01-02 15:04:05"))
		}
		if st.Clean() {
			fmt.Println("Nothing changed.")
			return nil
		}
		printPaths("A", st.New)
		printPaths("M", st.Modified)
		printPaths("D", st.Deleted)
		return nil
	},
}

// diff command
var diffCmd = &cobra.Command{
	Use:   "diff BASE BRANCH",
	Short: "Show what sync would do, without touching either tree",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ignore, _ := cmd.Flags().GetString("ignore")

		a, err := newApp("Diff")
		if err != nil {
			return err
		}
		defer a.Close()

		r, err := a.Diff(args[0], args[1], ignore)
		if err != nil {
			return err
		}

		if r.Empty() && len(r.Conflicts()) == 0 {
			fmt.Println("Trees are in sync.")
			return nil
		}
		printPaths("+", r.New())
		for _, p := range r.Changed() {
			side, _ := r.Source(p)
			fmt.Printf("~ %s (newer in %s)\n", p, side)
		}
		printPaths("-", r.Deleted())
		for _, p := range r.Conflicts() {
			fmt.Printf("! %s (file on one side, directory on the other)\n", p)
		}
		return nil
	},
}

// sync command
var syncCmd = &cobra.Command{
	Use:   "sync BASE BRANCH",
	Short: "Make BRANCH mirror BASE, archiving what is overwritten or removed",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ignore, _ := cmd.Flags().GetString("ignore")
		force, _ := cmd.Flags().GetBool("force-delete")

		a, err := newApp("Sync")
		if err != nil {
			return err
		}
		defer a.Close()

		report, err := a.Sync(args[0], args[1], ignore, force)
		if err != nil {
			return fmt.Errorf("sync failed: %w", err)
		}

		fmt.Println(report)
		for _, f := range report.Failures() {
			fmt.Fprintf(os.Stderr, "  %v\n", f)
		}
		if n := len(report.Failures()); n > 0 {
			return fmt.Errorf("sync finished with %d failure(s)", n)
		}
		return nil
	},
}

// versions command
var versionsCmd = &cobra.Command{
	Use:   "versions",
	Short: "Inspect and recover archived versions",
}

var versionsListCmd = &cobra.Command{
	Use:   "list DIR [PATH]",
	Short: "List archived versions in a tree",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("Versions")
		if err != nil {
			return err
		}
		defer a.Close()

		rel := ""
		if len(args) > 1 {
			rel = args[1]
		}

		infos, err := a.Versions(args[0], rel)
		if err != nil {
			return err
		}

		if len(infos) == 0 {
			fmt.Println("No versions archived.")
			return nil
		}

		for _, info := range infos {
			fmt.Println(info.Path)
			if len(info.Versions) == 0 {
				fmt.Println("  (none)")
			}
			for i, v := range info.Versions {
				fmt.Printf("  %s  %s\n", v.Format("2006-01-02 15:04:05.000"), info.Stored[i])
			}
		}
		return nil
	},
}

var versionsRecoverCmd = &cobra.Command{
	Use:   "recover DIR PATH",
	Short: "Restore a path from its newest or a chosen version",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		version, _ := cmd.Flags().GetString("version")

		a, err := newApp("Recover")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Recover(args[0], args[1], version); err != nil {
			return fmt.Errorf("recover failed: %w", err)
		}

		fmt.Printf("Recovered %s\n", args[1])
		return nil
	},
}

// history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View sync run history",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp("History")
		if err != nil {
			return err
		}
		defer a.Close()

		runs, err := a.History(limit)
		if err != nil {
			return err
		}

		if len(runs) == 0 {
			fmt.Println("No sync runs recorded.")
			return nil
		}

		for _, r := range runs {
			duration := ""
			if r.FinishedAt != nil {
				duration = r.Duration().Truncate(time.Millisecond).String()
			}
			fmt.Printf("%s  %-8s  %s  %-8s  +%d ~%d -%d !%d  %s  %s -> %s\n",
				r.ID,
				r.Operation,
				r.StartedAt.Local().Format("2006-01-02 15:04:05"),
				r.Status,
				r.Counts.New, r.Counts.Changed, r.Counts.Deleted, r.Counts.Failed,
				duration,
				r.Base,
				r.Branch,
			)
		}
		return nil
	},
}

var historyShowCmd = &cobra.Command{
	Use:   "show ID",
	Short: "Show one recorded run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("History")
		if err != nil {
			return err
		}
		defer a.Close()

		r, err := a.Run(args[0])
		if err != nil {
			return err
		}

		fmt.Printf("ID:        %s\n", r.ID)
		fmt.Printf("Operation: %s\n", r.Operation)
		fmt.Printf("Base:      %s\n", r.Base)
		if r.Branch != "" {
			fmt.Printf("Branch:    %s\n", r.Branch)
		}
		fmt.Printf("Started:   %s\n", r.StartedAt.Local().Format("2006-01-02 15:04:05"))
		if r.FinishedAt != nil {
			fmt.Printf("Finished:  %s (%s)\n", r.FinishedAt.Local().Format("2006-01-02 15:04:05"), r.Duration().Truncate(time.Millisecond))
		}
		fmt.Printf("Status:    %s\n", r.Status)
		fmt.Printf("Counts:    new %d, changed %d, deleted %d, failed %d\n",
			r.Counts.New, r.Counts.Changed, r.Counts.Deleted, r.Counts.Failed)
		return nil
	},
}

func init() {
	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	// versions subcommands
	versionsCmd.AddCommand(versionsListCmd)
	versionsCmd.AddCommand(versionsRecoverCmd)
	versionsRecoverCmd.Flags().String("version", "", "Stored version file to recover (default: newest)")

	for _, c := range []*cobra.Command{snapshotCmd, statusCmd, diffCmd, syncCmd} {
		c.Flags().String("ignore", "", "Regular expression of relative paths to skip")
	}
	syncCmd.Flags().Bool("force-delete", false, "Delete from BRANCH even when BASE is empty")

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(snapshotCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(diffCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(versionsCmd)
	rootCmd.AddCommand(historyCmd)
	historyCmd.AddCommand(historyShowCmd)
	historyCmd.Flags().IntP("limit", "n", 50, "Maximum number of runs to show")
}
