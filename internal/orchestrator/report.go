// internal/orchestrator/report.go
package orchestrator

import (
	"github.com/xkilldash9x/depthlens/internal/augment"
	"github.com/xkilldash9x/depthlens/internal/augment/core"
)

// Report is the outcome of augmenting one document.
type Report struct {
	Input        string               `json:"input"`
	URL          string               `json:"url,omitempty"`
	Images       int                  `json:"images"`
	BrokenImages int                  `json:"broken_images"`
	Stats        core.StatsSnapshot   `json:"stats"`
	Records      []augment.RecordInfo `json:"records"`
	Rejections   []augment.Rejection  `json:"rejections,omitempty"`
	Notices      []string             `json:"notices,omitempty"`
	Toasts       []string             `json:"toasts,omitempty"`
	Elapsed      string               `json:"elapsed,omitempty"`
	Error        string               `json:"error,omitempty"`

	// HTML is the augmented document, written separately from the report.
	HTML string `json:"-"`
}

// Failed reports whether the document could not be processed at all.
func (r *Report) Failed() bool { return r.Error != "" }
