package reporting_test

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/depthlens/internal/augment"
	"github.com/xkilldash9x/depthlens/internal/augment/core"
	"github.com/xkilldash9x/depthlens/internal/orchestrator"
	"github.com/xkilldash9x/depthlens/internal/reporting"
)

var testRun = reporting.Run{
	ID:        "run-1",
	Version:   "test",
	StartedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
}

func sampleReports() []*orchestrator.Report {
	unavailable := core.FailureServiceUnavailable
	return []*orchestrator.Report{
		{
			Input:  "gallery.html",
			Images: 3,
			Stats:  core.StatsSnapshot{Injected: 2, Failures: 1},
			Records: []augment.RecordInfo{
				{ID: "r1", XPath: "/html/body/img[1]", State: core.StateReady},
				{ID: "r2", XPath: "/html/body/img[2]", State: core.StateError, Failure: &unavailable},
			},
			Notices: []string{"cross-origin images cannot be converted"},
		},
		{Input: "missing.html", Error: "no such file"},
	}
}

func TestNew_UnsupportedFormat(t *testing.T) {
	tmpFile := filepath.Join(t.TempDir(), "report.sarif")
	r, err := reporting.New("sarif", tmpFile, nil, testRun)
	assert.Error(t, err)
	assert.Nil(t, r)
	assert.Contains(t, err.Error(), "unsupported output format: sarif")

	_, err = os.Stat(tmpFile)
	assert.True(t, os.IsNotExist(err), "no file should be created for an unknown format")
}

func TestNew_FileCreation(t *testing.T) {
	invalidPath := t.TempDir()
	r, err := reporting.New("json", invalidPath, nil, testRun)
	assert.Error(t, err)
	assert.Nil(t, r)
	assert.Contains(t, err.Error(), "failed to create output file")
}

func TestJSONReporter(t *testing.T) {
	var buf bytes.Buffer
	r, err := reporting.New("json", "-", &buf, testRun)
	require.NoError(t, err)

	for _, rep := range sampleReports() {
		require.NoError(t, r.Write(rep))
	}
	assert.Empty(t, buf.String(), "nothing is written before Close")
	require.NoError(t, r.Close())
	require.NoError(t, r.Close(), "Close is idempotent")

	var got struct {
		RunID     string `json:"run_id"`
		Version   string `json:"version"`
		Documents []struct {
			Input   string `json:"input"`
			Error   string `json:"error"`
			Records []struct {
				State   string `json:"state"`
				Failure string `json:"failure"`
			} `json:"records"`
		} `json:"documents"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, "run-1", got.RunID)
	assert.Equal(t, "test", got.Version)
	require.Len(t, got.Documents, 2)
	assert.Equal(t, "gallery.html", got.Documents[0].Input)
	require.Len(t, got.Documents[0].Records, 2)
	assert.Equal(t, "ready", got.Documents[0].Records[0].State)
	assert.Equal(t, core.FailureServiceUnavailable.String(), got.Documents[0].Records[1].Failure)
	assert.Equal(t, "no such file", got.Documents[1].Error)

	assert.Error(t, r.Write(&orchestrator.Report{Input: "late.html"}), "writes after Close are rejected")
}

func TestJSONReporter_EmptyRun(t *testing.T) {
	var buf bytes.Buffer
	r, err := reporting.New("json", "", &buf, testRun)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	assert.Contains(t, buf.String(), `"documents": []`)
}

func TestJSONReporter_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.json")
	r, err := reporting.New("json", path, nil, testRun)
	require.NoError(t, err)
	require.NoError(t, r.Write(sampleReports()[0]))
	require.NoError(t, r.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"input": "gallery.html"`)
}

func TestTextReporter(t *testing.T) {
	var buf bytes.Buffer
	r, err := reporting.New("text", "stdout", &buf, testRun)
	require.NoError(t, err)
	for _, rep := range sampleReports() {
		require.NoError(t, r.Write(rep))
	}
	require.NoError(t, r.Close())

	out := buf.String()
	assert.Contains(t, out, "DOCUMENT")
	assert.Contains(t, out, "gallery.html")
	assert.Contains(t, out, core.FailureServiceUnavailable.String())
	assert.Contains(t, out, "notice")
	assert.Contains(t, out, "error: no such file")
	assert.Contains(t, out, "run run-1: 2 documents, 1 failed")
}
