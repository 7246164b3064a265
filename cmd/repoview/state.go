package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/szaher/repoview/internal/config"
	"github.com/szaher/repoview/internal/plan"
	"github.com/szaher/repoview/internal/state"
)

func newStateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Inspect and move the page state of a repository",
	}
	cmd.AddCommand(newStateListCmd())
	cmd.AddCommand(newStateExportCmd())
	cmd.AddCommand(newStateImportCmd())
	cmd.AddCommand(newStateDriftCmd())
	return cmd
}

// stateFlags locate the state file of a repository.
type stateFlags struct {
	build buildFlags
}

func (f *stateFlags) register(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.StringVar(&f.build.configFile, "config", "", "YAML config file")
	fs.StringVarP(&f.build.outputDir, "output-dir", "o", config.DefaultOutputDir, "Output directory, relative to the repository")
	fs.StringVarP(&f.build.stateDir, "state-dir", "s", "", "Directory holding the state file")
}

// location returns the output directory and the state file path.
func (f *stateFlags) location(cmd *cobra.Command, repoDir string) (string, string, error) {
	cfg, err := f.build.load(cmd, repoDir)
	if err != nil {
		return "", "", err
	}
	outDir := cfg.OutputPath()
	path, err := state.Location(outDir, cfg.StateDir)
	if err != nil {
		return "", "", err
	}
	return outDir, path, nil
}

func newStateListCmd() *cobra.Command {
	var flags stateFlags

	cmd := &cobra.Command{
		Use:   "list <repodir>",
		Short: "List stored page fingerprints",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, path, err := flags.location(cmd, args[0])
			if err != nil {
				return err
			}
			entries, err := state.ReadEntries(path)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "No pages recorded in %s\n", path)
				return nil
			}
			for _, e := range entries {
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %s\n", e.Fingerprint, e.Filename)
			}
			return nil
		},
	}
	flags.register(cmd)

	return cmd
}

func newStateExportCmd() *cobra.Command {
	var (
		flags  stateFlags
		output string
	)

	cmd := &cobra.Command{
		Use:   "export <repodir>",
		Short: "Export the state as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, path, err := flags.location(cmd, args[0])
			if err != nil {
				return err
			}
			entries, err := state.ReadEntries(path)
			if err != nil {
				return err
			}
			if output != "" {
				if err := state.NewLocalBackend(output).Save(entries); err != nil {
					return fmt.Errorf("writing %s: %w", output, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Exported %d entries to %s\n", len(entries), output)
				return nil
			}
			data, err := state.MarshalEntries(entries)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&output, "output", "", "Write to this file instead of stdout")

	return cmd
}

func newStateImportCmd() *cobra.Command {
	var flags stateFlags

	cmd := &cobra.Command{
		Use:   "import <repodir> <file.json>",
		Short: "Seed the state from a JSON export",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			outDir, path, err := flags.location(cmd, args[0])
			if err != nil {
				return err
			}
			entries, err := state.NewLocalBackend(args[1]).Load()
			if err != nil {
				return err
			}
			if err := os.MkdirAll(outDir, 0o755); err != nil {
				return err
			}

			store, err := state.Open(path, state.DefaultOptions())
			if err != nil {
				return fmt.Errorf("opening state: %w", err)
			}
			defer store.Close()
			if err := store.Import(entries); err != nil {
				return err
			}
			if err := store.Commit(); err != nil {
				return fmt.Errorf("committing state: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d entries into %s\n", len(entries), path)
			return nil
		},
	}
	flags.register(cmd)

	return cmd
}

func newStateDriftCmd() *cobra.Command {
	var flags stateFlags

	cmd := &cobra.Command{
		Use:   "drift <repodir>",
		Short: "Compare the state with the files in the output directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			outDir, path, err := flags.location(cmd, args[0])
			if err != nil {
				return err
			}
			entries, err := state.ReadEntries(path)
			if err != nil {
				return err
			}
			result, err := plan.DetectDrift(entries, outDir)
			if err != nil {
				return err
			}
			if !result.HasDrift {
				fmt.Fprintln(cmd.OutOrStdout(), "No drift detected.")
				return nil
			}
			for _, d := range result.Drifted {
				fmt.Fprintf(cmd.OutOrStdout(), "  %-9s %s\n", d.Type, d.Filename)
			}
			return fmt.Errorf("%d files drifted", len(result.Drifted))
		},
	}
	flags.register(cmd)

	return cmd
}
