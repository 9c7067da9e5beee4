package cli

import (
	"bytes"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFiles(t *testing.T, jobsYAML string) (configPath, jobsPath string) {
	t.Helper()
	dir := t.TempDir()
	jobsPath = filepath.Join(dir, "jobs.yaml")
	configPath = filepath.Join(dir, "seqqueue.yaml")

	require.NoError(t, os.WriteFile(jobsPath, []byte(jobsYAML), 0644))
	require.NoError(t, os.WriteFile(configPath, []byte(`
queue:
  name: cli-test
  default_timeout_ms: 2000
logging:
  level: error
  pretty: false
jobs_file: jobs.yaml
`), 0644))
	return configPath, jobsPath
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := GetRootCmd()
	cmd.SetArgs(args)

	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})

	err := cmd.Execute()
	return out.String(), err
}

func TestValidateCommand(t *testing.T) {
	configPath, _ := writeFiles(t, `
jobs:
  - name: a
    command: ["true"]
  - name: b
    command: ["true"]
    schedule: "@every 1h"
`)

	out, err := execute(t, "validate", "--config", configPath, "--jobs", "")
	require.NoError(t, err)

	assert.Contains(t, out, "Queue: cli-test (default timeout 2s)")
	assert.Contains(t, out, "Jobs: 2 (1 scheduled)")
	assert.Contains(t, out, "OK")
}

func TestValidateCommand_BadJobs(t *testing.T) {
	configPath, _ := writeFiles(t, "jobs:\n  - name: a\n")

	_, err := execute(t, "validate", "--config", configPath, "--jobs", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "command is required")
}

func TestRunCommand(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}

	dir := t.TempDir()
	outFile := filepath.Join(dir, "out.txt")
	configPath, _ := writeFiles(t, `
jobs:
  - name: one
    command: ["sh", "-c", "echo one >> `+outFile+`"]
  - name: two
    command: ["sh", "-c", "sleep 0.05; echo two >> `+outFile+`"]
  - name: three
    command: ["sh", "-c", "echo three >> `+outFile+`"]
`)

	out, err := execute(t, "run", "--config", configPath, "--jobs", "")
	require.NoError(t, err)
	assert.Contains(t, out, "Ran 3 jobs")
	assert.Contains(t, out, "3 ok, 0 failed, 0 timed out")

	data, err := os.ReadFile(outFile)
	require.NoError(t, err)
	assert.Equal(t, "one\ntwo\nthree\n", string(data))
}

func TestRunCommand_ReportsTimeouts(t *testing.T) {
	for _, bin := range []string{"sleep", "true"} {
		if _, err := exec.LookPath(bin); err != nil {
			t.Skip(bin + " not available")
		}
	}

	configPath, _ := writeFiles(t, `
jobs:
  - name: slow
    command: ["sleep", "5"]
    timeout_ms: 50
  - name: fast
    command: ["true"]
`)

	out, err := execute(t, "run", "--config", configPath, "--jobs", "")
	require.Error(t, err)
	assert.Contains(t, out, "1 ok, 0 failed, 1 timed out")
}

func TestRunCommand_MissingJobsFile(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "seqqueue.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("queue:\n  name: x\n"), 0644))

	_, err := execute(t, "run", "--config", configPath, "--jobs", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no jobs file")
}

func TestRunCommand_WritesAuditLog(t *testing.T) {
	if _, err := exec.LookPath("true"); err != nil {
		t.Skip("true not available")
	}

	dir := t.TempDir()
	auditPath := filepath.Join(dir, "audit.jsonl")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "jobs.yaml"), []byte(`
jobs:
  - name: only
    command: ["true"]
`), 0644))
	configPath := filepath.Join(dir, "seqqueue.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(`
logging:
  level: error
  pretty: false
  audit_file: `+auditPath+`
jobs_file: jobs.yaml
`), 0644))

	_, err := execute(t, "run", "--config", configPath, "--jobs", "")
	require.NoError(t, err)

	data, err := os.ReadFile(auditPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"action":"run:only"`)
	assert.Contains(t, string(data), `"action":"closed"`)
}
