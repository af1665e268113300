// cmd/augment.go
package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/depthlens/internal/observability"
	"github.com/xkilldash9x/depthlens/internal/orchestrator"
	"github.com/xkilldash9x/depthlens/internal/reporting"
)

type augmentOptions struct {
	convert bool
	outDir  string
	report  string
	format  string
	strict  bool
}

func newAugmentCmd(a *app) *cobra.Command {
	opts := &augmentOptions{}
	cmd := &cobra.Command{
		Use:   "augment <file|url>...",
		Short: "Place conversion surfaces on the images of one or more documents",
		Long: `Loads each document, settles its images, classifies them and places a
control surface on every eligible one. With --convert every surface is
triggered against the conversion service. A report goes to stdout or
--report in the --format chosen; augmented HTML goes to --out.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAugment(cmd, a, opts, args)
		},
	}

	f := cmd.Flags()
	f.BoolVar(&opts.convert, "convert", false, "trigger a conversion for every placed surface")
	f.StringVarP(&opts.outDir, "out", "o", "", "directory for augmented HTML documents")
	f.StringVar(&opts.report, "report", "-", "report destination, - for stdout")
	f.StringVar(&opts.format, "format", "json", "report format (json, text)")
	f.BoolVar(&opts.strict, "strict", false, "exit non-zero when any document fails")
	f.Bool("render", false, "load remote pages in headless Chrome")
	f.String("endpoint", "", "conversion service URL")
	f.IntP("concurrency", "j", 0, "documents augmented at once")
	_ = a.v.BindPFlag("browser.render", f.Lookup("render"))
	_ = a.v.BindPFlag("conversion.endpoint", f.Lookup("endpoint"))
	_ = a.v.BindPFlag("engine.concurrency", f.Lookup("concurrency"))
	return cmd
}

func runAugment(cmd *cobra.Command, a *app, opts *augmentOptions, inputs []string) error {
	ctx := cmd.Context()
	logger := observability.GetLogger()

	rt, err := orchestrator.Build(ctx, a.cfg, logger, orchestrator.Options{Convert: opts.convert})
	if err != nil {
		return fmt.Errorf("failed to set up: %w", err)
	}
	defer func() {
		if err := rt.Close(); err != nil {
			logger.Warn("Failed to release resources.", zap.Error(err))
		}
	}()

	run := reporting.Run{ID: uuid.NewString(), Version: Version, StartedAt: time.Now().UTC()}
	reporter, err := reporting.New(opts.format, opts.report, cmd.OutOrStdout(), run)
	if err != nil {
		return err
	}
	defer reporter.Close()

	logger.Info("Augmenting documents.", zap.String("run_id", run.ID), zap.Int("count", len(inputs)))
	docs, err := rt.Run(ctx, inputs)
	if err != nil {
		return err
	}

	if opts.outDir != "" {
		if err := writeDocuments(opts.outDir, docs); err != nil {
			return err
		}
	}
	failed := 0
	for _, d := range docs {
		if d.Failed() {
			failed++
		}
		if err := reporter.Write(d); err != nil {
			return err
		}
	}
	if err := reporter.Close(); err != nil {
		return err
	}

	if failed > 0 && opts.strict {
		return fmt.Errorf("%d of %d documents failed", failed, len(docs))
	}
	return nil
}

func writeDocuments(dir string, docs []*orchestrator.Report) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	for i, d := range docs {
		if d.Failed() {
			continue
		}
		path := filepath.Join(dir, outputName(i, d.Input))
		if err := os.WriteFile(path, []byte(d.HTML), 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", path, err)
		}
	}
	return nil
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// outputName derives a stable file name from an input path or URL.
func outputName(i int, input string) string {
	base := input
	if k := strings.Index(base, "://"); k >= 0 {
		base = base[k+3:]
	}
	base = strings.TrimSuffix(strings.TrimSuffix(base, "/"), ".html")
	base = filepath.Base(filepath.FromSlash(base))
	base = strings.Trim(unsafeName.ReplaceAllString(base, "_"), "_.")
	if base == "" {
		base = "document"
	}
	return fmt.Sprintf("%02d-%s.html", i+1, base)
}
