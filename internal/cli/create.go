package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/storyreel/jobsync/internal/domain"
)

// CreateCmd starts a job and, unless told otherwise, tracks it.
func CreateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a job and track it",
		Args:  cobra.NoArgs,
		RunE:  runCreate,
	}
	cmd.Flags().String("kind", string(domain.JobKindProfile), "Job kind (profile or video)")
	cmd.Flags().StringSlice("input", []string{}, "Input parameters in key=value format (can be used multiple times)")
	cmd.Flags().Bool("no-track", false, "Print the job id and exit")
	cmd.Flags().Bool("poll-only", false, "Skip the event stream and poll job status")
	return cmd
}

func runCreate(cmd *cobra.Command, _ []string) error {
	kindFlag, _ := cmd.Flags().GetString("kind")
	kind := domain.JobKind(kindFlag)
	if kind != domain.JobKindProfile && kind != domain.JobKindVideo {
		return fmt.Errorf("unsupported job kind %q", kindFlag)
	}
	pairs, _ := cmd.Flags().GetStringSlice("input")
	input, err := parseInput(pairs)
	if err != nil {
		return err
	}

	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	jobID, err := a.client.CreateJob(cmd.Context(), kind, input)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}

	noTrack, _ := cmd.Flags().GetBool("no-track")
	if noTrack || a.output == OutputFormatJSON {
		out := cmd.OutOrStdout()
		if a.output == OutputFormatJSON {
			_ = json.NewEncoder(out).Encode(map[string]string{"job_id": jobID, "kind": string(kind)})
		} else {
			fmt.Fprintln(out, jobID)
		}
		if noTrack {
			return nil
		}
	} else {
		fmt.Fprintf(cmd.ErrOrStderr(), "created %s job %s\n", kind, jobID)
	}

	pollOnly, _ := cmd.Flags().GetBool("poll-only")
	return follow(cmd, a, jobID, kind, pollOnly)
}

func parseInput(pairs []string) (domain.JSONB, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	input := make(domain.JSONB, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid input %q, expected key=value", pair)
		}
		input[key] = value
	}
	return input, nil
}
