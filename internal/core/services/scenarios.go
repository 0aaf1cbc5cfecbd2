package services

import (
	"time"

	"github.com/storyreel/jobsync/internal/domain"
)

func pct(v float64) *float64 {
	return &v
}

// DefaultScenarios returns the happy-path scripts used when no scenario
// file is configured.
func DefaultScenarios() map[domain.JobKind]domain.Scenario {
	return map[domain.JobKind]domain.Scenario{
		domain.JobKindProfile: defaultProfileScenario(),
		domain.JobKindVideo:   defaultVideoScenario(),
	}
}

func defaultProfileScenario() domain.Scenario {
	tasks := domain.DefaultProfilePlan()
	steps := []domain.ScenarioStep{
		{Delay: 300 * time.Millisecond, Event: domain.EventPlanStarted, Message: "Planning your profile"},
	}
	for _, t := range tasks {
		steps = append(steps,
			domain.ScenarioStep{Delay: 400 * time.Millisecond, Event: domain.EventTaskStarted, Task: t.ID, Message: t.Name + "..."},
			domain.ScenarioStep{Delay: 600 * time.Millisecond, Event: domain.EventTaskProgress, Task: t.ID, Progress: pct(50)},
			domain.ScenarioStep{Delay: 600 * time.Millisecond, Event: domain.EventTaskCompleted, Task: t.ID},
		)
	}
	steps = append(steps, domain.ScenarioStep{
		Delay:   300 * time.Millisecond,
		Event:   domain.EventPlanCompleted,
		Message: "Profile ready",
		Result:  domain.JSONB{"profile": map[string]interface{}{"status": "ready"}},
	})
	return domain.Scenario{Name: "profile-happy-path", Kind: domain.JobKindProfile, Tasks: tasks, Steps: steps}
}

func defaultVideoScenario() domain.Scenario {
	task := domain.Task{
		ID:               "render",
		Type:             domain.TaskTypeGenerateVideo,
		Name:             "Generate video",
		Order:            1,
		EstimatedSeconds: 90,
		Critical:         true,
	}
	result := domain.JSONB{"video_url": "https://cdn.example.com/videos/render.mp4"}
	steps := []domain.ScenarioStep{
		{Delay: 300 * time.Millisecond, Event: domain.EventTaskStarted, Task: task.ID, Message: "Rendering video..."},
	}
	for _, p := range []float64{20, 45, 70, 90} {
		steps = append(steps, domain.ScenarioStep{Delay: time.Second, Event: domain.EventTaskProgress, Task: task.ID, Progress: pct(p)})
	}
	steps = append(steps,
		domain.ScenarioStep{
			Delay:    time.Second,
			Event:    domain.EventTaskCompleted,
			Task:     task.ID,
			Progress: pct(100),
			Result:   result,
		},
		domain.ScenarioStep{Delay: 200 * time.Millisecond, Event: domain.EventPlanCompleted, Result: result},
	)
	return domain.Scenario{Name: "video-happy-path", Kind: domain.JobKindVideo, Tasks: []domain.Task{task}, Steps: steps}
}
