// internal/reporting/text_reporter.go
package reporting

import (
	"fmt"
	"io"
	"sync"
	"text/tabwriter"

	"github.com/xkilldash9x/depthlens/internal/orchestrator"
)

// TextReporter prints one summary row per document, followed by its
// failures and notices.
type TextReporter struct {
	mu     sync.Mutex
	writer io.WriteCloser
	tw     *tabwriter.Writer
	run    Run
	rows   int
	failed int
	closed bool
}

func NewTextReporter(w io.WriteCloser, run Run) *TextReporter {
	return &TextReporter{
		writer: w,
		tw:     tabwriter.NewWriter(w, 0, 4, 2, ' ', 0),
		run:    run,
	}
}

func (r *TextReporter) Write(report *orchestrator.Report) error {
	if report == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return fmt.Errorf("reporter is closed")
	}
	if r.rows == 0 {
		fmt.Fprintln(r.tw, "DOCUMENT\tIMAGES\tSURFACES\tREJECTED\tCONVERTED\tFAILED\tSTATUS")
	}
	r.rows++

	status := "ok"
	if report.Failed() {
		r.failed++
		status = "error: " + report.Error
	}
	s := report.Stats
	fmt.Fprintf(r.tw, "%s\t%d\t%d\t%d\t%d\t%d\t%s\n",
		report.Input, report.Images, len(report.Records), len(report.Rejections),
		s.Conversions, s.Failures, status)
	for _, rec := range report.Records {
		if rec.Failure != nil {
			fmt.Fprintf(r.tw, "  %s\t%s\t\t\t\t\t%s\n", rec.ID, rec.XPath, *rec.Failure)
		}
	}
	for _, n := range report.Notices {
		fmt.Fprintf(r.tw, "  notice\t%s\n", n)
	}
	return nil
}

func (r *TextReporter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true

	fmt.Fprintf(r.tw, "\nrun %s: %d documents, %d failed\n", r.run.ID, r.rows, r.failed)
	flushErr := r.tw.Flush()
	closeErr := r.writer.Close()
	if flushErr != nil {
		return fmt.Errorf("failed to write report: %w", flushErr)
	}
	if closeErr != nil {
		return fmt.Errorf("failed to close report output: %w", closeErr)
	}
	return nil
}
