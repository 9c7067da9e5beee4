package jobs

import (
	"fmt"
	"os"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Job is one command run through the executor.
type Job struct {
	Name      string            `yaml:"name"`
	Command   []string          `yaml:"command"`
	Dir       string            `yaml:"dir,omitempty"`
	Env       map[string]string `yaml:"env,omitempty"`
	TimeoutMs int               `yaml:"timeout_ms,omitempty"`
	// Schedule is a standard five-field cron expression. Jobs without one are pushed
	// once when the runner starts.
	Schedule string `yaml:"schedule,omitempty"`
}

// File is the on-disk jobs document.
type File struct {
	Jobs []Job `yaml:"jobs"`
}

// Timeout returns the per-job deadline, zero when the executor default applies.
func (j Job) Timeout() time.Duration {
	return time.Duration(j.TimeoutMs) * time.Millisecond
}

// Validate checks a single job definition.
func (j Job) Validate() error {
	if j.Name == "" {
		return fmt.Errorf("job name is required")
	}
	if len(j.Command) == 0 || j.Command[0] == "" {
		return fmt.Errorf("job %s: command is required", j.Name)
	}
	if j.TimeoutMs < 0 {
		return fmt.Errorf("job %s: timeout_ms must not be negative", j.Name)
	}
	if j.Schedule != "" {
		if _, err := cron.ParseStandard(j.Schedule); err != nil {
			return fmt.Errorf("job %s: invalid schedule: %w", j.Name, err)
		}
	}
	return nil
}

// Parse decodes and validates a jobs document. The raw document is checked against
// FileSchema first, then each job is validated on its own.
func Parse(data []byte) (*File, error) {
	var doc interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse jobs file: %w", err)
	}
	if err := validateSchema(doc); err != nil {
		return nil, err
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse jobs file: %w", err)
	}

	seen := make(map[string]bool, len(f.Jobs))
	for _, job := range f.Jobs {
		if err := job.Validate(); err != nil {
			return nil, err
		}
		if seen[job.Name] {
			return nil, fmt.Errorf("duplicate job name: %s", job.Name)
		}
		seen[job.Name] = true
	}

	return &f, nil
}

// LoadFile reads and parses a jobs file.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read jobs file: %w", err)
	}
	return Parse(data)
}
