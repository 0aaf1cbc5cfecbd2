package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/storyreel/jobsync/internal/core/ports"
	"github.com/storyreel/jobsync/internal/core/services"
	"github.com/storyreel/jobsync/internal/domain"
)

type outcomeView struct {
	JobID     string               `json:"job_id"`
	Kind      domain.JobKind       `json:"kind"`
	Status    domain.JobStatus     `json:"status"`
	Progress  float64              `json:"progress"`
	Transport domain.TransportKind `json:"transport"`
	Error     string               `json:"error,omitempty"`
	VideoURL  string               `json:"video_url,omitempty"`
	Result    domain.JSONB         `json:"result,omitempty"`
}

// consoleEffects reports the end of a job on the command output.
type consoleEffects struct {
	mu     sync.Mutex
	out    io.Writer
	format string
}

func newConsoleEffects(out io.Writer, format string) *consoleEffects {
	return &consoleEffects{out: out, format: format}
}

func (e *consoleEffects) OnCompleted(_ context.Context, o ports.JobOutcome) {
	e.print(o)
}

func (e *consoleEffects) OnFailed(_ context.Context, o ports.JobOutcome) {
	e.print(o)
}

func (e *consoleEffects) print(o ports.JobOutcome) {
	view := outcomeView{
		JobID:     o.JobID,
		Kind:      o.Kind,
		Status:    o.Plan.Status,
		Progress:  o.Plan.OverallProgress,
		Transport: o.Transport,
		Result:    o.Plan.Result,
	}
	if o.Err != nil {
		view.Error = o.Err.Error()
	}
	if o.Kind == domain.JobKindVideo {
		view.VideoURL = services.VideoProgressFromPlan(o.Plan).VideoURL
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.format == OutputFormatJSON {
		_ = json.NewEncoder(e.out).Encode(view)
		return
	}
	switch {
	case view.Error != "":
		fmt.Fprintf(e.out, "job %s %s: %s\n", view.JobID, view.Status, view.Error)
	case view.VideoURL != "":
		fmt.Fprintf(e.out, "job %s completed via %s, video at %s\n", view.JobID, view.Transport, view.VideoURL)
	default:
		fmt.Fprintf(e.out, "job %s completed via %s\n", view.JobID, view.Transport)
	}
}

// printPlan writes one progress line per plan update in text mode.
func printPlan(out io.Writer, plan domain.Plan) {
	current := plan.CurrentTask
	if t, ok := plan.Task(current); ok && t.Name != "" {
		current = t.Name
	}
	line := fmt.Sprintf("[%3.0f%%] %-12s", plan.OverallProgress, plan.Status)
	if current != "" {
		line += " " + current
	}
	if plan.Message != "" {
		line += ": " + plan.Message
	}
	fmt.Fprintln(out, line)
}
