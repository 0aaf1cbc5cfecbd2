package cli

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/storyreel/jobsync/internal/domain"
)

// HistoryCmd lists recorded job runs.
func HistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded job runs",
		Long:  "List how recently tracked jobs ended. Needs database.enabled to see runs from earlier invocations.",
		Args:  cobra.NoArgs,
		RunE:  runHistory,
	}
	cmd.Flags().Int("limit", 20, "Maximum number of runs")
	cmd.Flags().String("job", "", "Only show runs of this job id")
	return cmd
}

func runHistory(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	var runs []domain.JobRun
	if jobID, _ := cmd.Flags().GetString("job"); jobID != "" {
		runs, err = a.runs.GetByJobID(cmd.Context(), jobID)
	} else {
		limit, _ := cmd.Flags().GetInt("limit")
		runs, err = a.runs.GetRecent(cmd.Context(), limit)
	}
	if err != nil {
		return fmt.Errorf("failed to load runs: %w", err)
	}

	out := cmd.OutOrStdout()
	if a.output == OutputFormatJSON {
		return json.NewEncoder(out).Encode(runs)
	}
	if len(runs) == 0 {
		fmt.Fprintln(out, "no runs recorded")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "JOB\tKIND\tOUTCOME\tTRANSPORT\tPROGRESS\tDURATION\tFINISHED")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.JobID, r.Kind, r.Outcome, r.Transport,
			formatPercent(r.OverallProgress),
			r.FinishedAt.Sub(r.StartedAt).Round(time.Second),
			r.FinishedAt.Format(time.RFC3339),
		)
	}
	return w.Flush()
}

func formatPercent(v float64) string {
	return fmt.Sprintf("%.0f%%", v)
}
