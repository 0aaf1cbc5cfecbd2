package config

import (
	"fmt"
	"os"

	"github.com/storyreel/jobsync/internal/domain"
	"gopkg.in/yaml.v3"
)

type scenarioFile struct {
	Scenarios []domain.Scenario `yaml:"scenarios"`
}

// LoadScenarios reads simulator scenarios keyed by job kind. The last
// scenario of a kind wins.
func LoadScenarios(path string) (map[domain.JobKind]domain.Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	var file scenarioFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse scenario file: %w", err)
	}
	if len(file.Scenarios) == 0 {
		return nil, fmt.Errorf("scenario file %s defines no scenarios", path)
	}

	out := make(map[domain.JobKind]domain.Scenario, len(file.Scenarios))
	for _, sc := range file.Scenarios {
		if sc.Kind == "" {
			sc.Kind = domain.JobKindProfile
		}
		out[sc.Kind] = sc
	}
	return out, nil
}
