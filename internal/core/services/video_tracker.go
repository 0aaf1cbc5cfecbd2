package services

import (
	"context"

	"github.com/storyreel/jobsync/internal/domain"
)

// VideoProgress is what the video generation screen needs from a plan.
type VideoProgress struct {
	JobID    string           `json:"job_id"`
	Status   domain.JobStatus `json:"status"`
	Progress float64          `json:"progress"`
	Message  string           `json:"message,omitempty"`
	Error    string           `json:"error,omitempty"`
	VideoURL string           `json:"video_url,omitempty"`
}

// VideoTracker follows video generation jobs. It shares the session
// machinery with plan tracking but only reacts to the generate_video task.
type VideoTracker struct {
	tracker *JobTracker
}

func NewVideoTracker(tracker *JobTracker) *VideoTracker {
	return &VideoTracker{tracker: tracker}
}

func (v *VideoTracker) Track(ctx context.Context, jobID string, opts ...TrackOption) (*Session, error) {
	return v.tracker.Track(ctx, jobID, domain.JobKindVideo, opts...)
}

func (v *VideoTracker) Stop(jobID string) error {
	return v.tracker.Stop(jobID, domain.JobKindVideo)
}

// Progress returns the current video view of a tracked job.
func (v *VideoTracker) Progress(jobID string) (VideoProgress, error) {
	plan, err := v.tracker.Snapshot(jobID, domain.JobKindVideo)
	if err != nil {
		return VideoProgress{}, err
	}
	return VideoProgressFromPlan(plan), nil
}

// VideoProgressFromPlan projects a plan onto the video view.
func VideoProgressFromPlan(plan domain.Plan) VideoProgress {
	vp := VideoProgress{
		JobID:    plan.JobID,
		Status:   plan.Status,
		Progress: plan.OverallProgress,
		Message:  plan.Message,
		Error:    plan.Error,
	}
	for _, t := range plan.Tasks {
		if t.Type != domain.TaskTypeGenerateVideo {
			continue
		}
		if vp.Message == "" {
			vp.Message = t.Message
		}
		if vp.Error == "" {
			vp.Error = t.Error
		}
		break
	}
	if plan.Result != nil {
		for _, key := range []string{"video_url", "url"} {
			if url, ok := plan.Result[key].(string); ok && url != "" {
				vp.VideoURL = url
				break
			}
		}
	}
	return vp
}
