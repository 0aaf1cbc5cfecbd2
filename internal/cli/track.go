package cli

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/storyreel/jobsync/internal/core/ports"
	"github.com/storyreel/jobsync/internal/core/services"
	"github.com/storyreel/jobsync/internal/domain"
)

// TrackCmd follows an existing job until it ends.
func TrackCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "track <job-id>",
		Short: "Track a running job",
		Long:  "Follow a job's progress over its event stream until it completes, fails or times out.",
		Args:  cobra.ExactArgs(1),
		RunE:  runTrack,
	}
	cmd.Flags().Bool("video", false, "Track a video generation job")
	cmd.Flags().Bool("poll-only", false, "Skip the event stream and poll job status")
	return cmd
}

func runTrack(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	kind := domain.JobKindProfile
	if video, _ := cmd.Flags().GetBool("video"); video {
		kind = domain.JobKindVideo
	}
	pollOnly, _ := cmd.Flags().GetBool("poll-only")
	return follow(cmd, a, args[0], kind, pollOnly)
}

// follow tracks one job, printing progress to stderr, and returns the
// job's terminal error.
func follow(cmd *cobra.Command, a *app, jobID string, kind domain.JobKind, pollOnly bool) error {
	tracker, err := a.tracker(cmd, pollOnly)
	if err != nil {
		return err
	}
	defer tracker.StopAll()

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	session, err := tracker.Track(ctx, jobID, kind)
	if err != nil {
		return err
	}
	a.log.Infow("cli_tracking_started", "job_id", jobID, "kind", kind, "poll_only", pollOnly)

	progress := cmd.ErrOrStderr()
	last := ""
	for plan := range session.Updates() {
		if a.output != OutputFormatText {
			continue
		}
		key := string(plan.Status) + plan.CurrentTask + plan.Message + formatPercent(plan.OverallProgress)
		if key == last {
			continue
		}
		last = key
		printPlan(progress, plan)
	}
	<-session.Done()

	err = session.Err()
	if errors.Is(err, services.ErrTrackingCancelled) {
		a.recorder.RecordCancelled(context.Background(), ports.JobOutcome{
			JobID:     jobID,
			Kind:      kind,
			Plan:      session.Snapshot(),
			StartedAt: session.StartedAt(),
			Err:       err,
		})
	}
	stats := session.Stats()
	a.log.Infow("cli_tracking_finished",
		"job_id", jobID,
		"stream_opens", stats.StreamOpens,
		"reconnects", stats.Reconnects,
		"poll_attempts", stats.PollAttempts,
		"error", err,
	)
	return err
}
