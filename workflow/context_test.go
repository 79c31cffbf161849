package workflow

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/phaseflow/phase"
	"github.com/BaSui01/phaseflow/types"
)

func TestContextSaveLoadRoundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run", "context.json")

	wf := NewContext("wf_1", "run_abc")
	wf.Plan = []PlanStep{{ID: "s1", Description: "analyze inputs"}}
	wf.SharedState["language"] = "go"
	wf.RecordStep(StepRecord{PhaseID: "01_analyze", Step: 1, Status: "completed", Summary: "parsed"})
	wf.RecordApproval(ApprovalRecord{RequestID: "apr_1", CheckpointType: "plan", Resolution: "approve", ResolvedAt: time.Now()})
	wf.AddOutputFile("out/report.md")
	wf.AddOutputFile("out/report.md")
	wf.RecordPhase("01_analyze", phase.StatusCompleted, 1500*time.Millisecond)

	require.NoError(t, wf.Save(path))

	got, err := LoadContext(path)
	require.NoError(t, err)
	assert.Equal(t, "wf_1", got.WorkflowID)
	assert.Equal(t, "run_abc", got.RunID)
	assert.Equal(t, "go", got.SharedState["language"])
	assert.Len(t, got.StepResults, 1)
	assert.Len(t, got.Approvals, 1)
	assert.Equal(t, []string{"out/report.md"}, got.OutputFiles)
	assert.Equal(t, int64(1500), got.PhaseTimings["01_analyze"])
	assert.Equal(t, phase.StatusCompleted, got.PhaseStatuses["01_analyze"])
}

func TestLoadContextRejectsWrongVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "context.json")
	doc := map[string]any{"version": 99, "workflow_id": "wf_1", "run_id": "run_x"}
	data, err := json.Marshal(doc)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0644))

	_, err = LoadContext(path)
	require.Error(t, err)
	assert.Equal(t, types.ErrSerialization, types.GetErrorCode(err))
}

func TestLoadContextMissingFile(t *testing.T) {
	_, err := LoadContext(filepath.Join(t.TempDir(), "nope.json"))
	require.Error(t, err)
	assert.Equal(t, types.ErrCheckpointNotFound, types.GetErrorCode(err))
}

func TestSaveLeavesNoTempFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "context.json")
	wf := NewContext("wf_1", "run_abc")
	require.NoError(t, wf.Save(path))
	require.NoError(t, wf.Save(path))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "context.json", entries[0].Name())
}
