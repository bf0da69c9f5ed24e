package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/frontdesk-io/frontdesk/internal/doctor"
)

var (
	doctorJSON    bool
	doctorSkipLLM bool
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run preflight checks (data dir, keys, profile, LLM endpoint)",
	Long:  "Verifies the data directory is writable, secrets and webhook keys are configured, the agent profile parses, the agent database opens, and the LLM endpoint is reachable.",
	RunE:  runDoctor,
}

func init() {
	doctorCmd.Flags().BoolVar(&doctorJSON, "json", false, "Output the report as JSON")
	doctorCmd.Flags().BoolVar(&doctorSkipLLM, "skip-llm", false, "Skip LLM endpoint connectivity checks")
	rootCmd.AddCommand(doctorCmd)
}

func runDoctor(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
	defer cancel()

	ctx, span := tracer.Start(ctx, "doctor")
	defer span.End()

	report := doctor.Run(ctx, doctor.Options{SkipLLM: doctorSkipLLM})

	out := cmd.OutOrStdout()
	if doctorJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return err
		}
	} else {
		renderDoctorReport(out, report)
	}

	if report.Status == "fail" {
		return fmt.Errorf("preflight checks failed")
	}
	return nil
}

func renderDoctorReport(w io.Writer, report *doctor.Report) {
	for _, c := range report.Checks {
		mark := "✓"
		switch c.Status {
		case "warn":
			mark = "⚠"
		case "fail":
			mark = "✗"
		}
		fmt.Fprintf(w, "%s %s: %s\n", mark, c.Name, c.Message)
		if c.Fix != "" && c.Status != "pass" {
			fmt.Fprintf(w, "  fix: %s\n", c.Fix)
		}
	}
	fmt.Fprintf(w, "\n%d passed, %d warnings, %d failed\n",
		report.Summary.Pass, report.Summary.Warn, report.Summary.Fail)
	if report.Status == "pass" {
		fmt.Fprintln(w, "All checks passed.")
	}
}
