package cli

import (
	"fmt"

	"github.com/harun/seqqueue/internal/config"
	"github.com/harun/seqqueue/internal/jobs"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the config and jobs files",
	RunE:  runValidate,
}

func init() {
	validateCmd.Flags().String("jobs", "", "jobs file (overrides jobs_file from config)")
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	jobsPath, _ := cmd.Flags().GetString("jobs")
	if jobsPath == "" {
		jobsPath = cfg.JobsFile
	}
	if jobsPath == "" {
		return fmt.Errorf("no jobs file: set jobs_file in the config or pass --jobs")
	}

	f, err := jobs.LoadFile(jobsPath)
	if err != nil {
		return err
	}

	scheduled := 0
	for _, job := range f.Jobs {
		if job.Schedule != "" {
			scheduled++
		}
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Queue: %s (default timeout %s)\n", cfg.Queue.Name, cfg.DefaultTimeout())
	fmt.Fprintf(out, "Jobs: %d (%d scheduled)\n", len(f.Jobs), scheduled)
	fmt.Fprintln(out, "OK")
	return nil
}
