// internal/reporting/json_reporter.go
package reporting

import (
	"fmt"
	"io"
	"sync"

	jsoniter "github.com/json-iterator/go"

	"github.com/xkilldash9x/depthlens/internal/orchestrator"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type runDocument struct {
	Run
	Documents []*orchestrator.Report `json:"documents"`
}

// JSONReporter buffers document reports and writes a single indented run
// document on Close.
type JSONReporter struct {
	mu     sync.Mutex
	writer io.WriteCloser
	doc    runDocument
	closed bool
}

func NewJSONReporter(w io.WriteCloser, run Run) *JSONReporter {
	return &JSONReporter{
		writer: w,
		doc:    runDocument{Run: run, Documents: []*orchestrator.Report{}},
	}
}

func (r *JSONReporter) Write(report *orchestrator.Report) error {
	if report == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return fmt.Errorf("reporter is closed")
	}
	r.doc.Documents = append(r.doc.Documents, report)
	return nil
}

func (r *JSONReporter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true

	enc := json.NewEncoder(r.writer)
	enc.SetIndent("", "  ")
	encErr := enc.Encode(r.doc)
	closeErr := r.writer.Close()
	if encErr != nil {
		return fmt.Errorf("failed to write report: %w", encErr)
	}
	if closeErr != nil {
		return fmt.Errorf("failed to close report output: %w", closeErr)
	}
	return nil
}
