// internal/reporting/reporter.go
package reporting

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/xkilldash9x/depthlens/internal/orchestrator"
)

// Run identifies one invocation of the augment command.
type Run struct {
	ID        string    `json:"run_id"`
	Version   string    `json:"version"`
	StartedAt time.Time `json:"started_at"`
}

// Reporter writes document reports to an output.
type Reporter interface {
	// Write records the outcome of a single document.
	Write(report *orchestrator.Report) error
	// Close finalizes the report and releases the underlying output.
	Close() error
}

// nopWriteCloser keeps stdout open when a reporter is closed.
type nopWriteCloser struct {
	io.Writer
}

func (nwc *nopWriteCloser) Close() error {
	return nil
}

// New creates a reporter for format writing to outputPath. An empty path,
// "-" or "stdout" selects stdout.
func New(format, outputPath string, stdout io.Writer, run Run) (Reporter, error) {
	switch format {
	case "json", "text":
	default:
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}

	var writer io.WriteCloser
	switch outputPath {
	case "", "-", "stdout":
		if stdout == nil {
			stdout = os.Stdout
		}
		writer = &nopWriteCloser{stdout}
	default:
		f, err := os.Create(outputPath)
		if err != nil {
			return nil, fmt.Errorf("failed to create output file %s: %w", outputPath, err)
		}
		writer = f
	}

	if format == "text" {
		return NewTextReporter(writer, run), nil
	}
	return NewJSONReporter(writer, run), nil
}
