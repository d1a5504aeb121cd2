package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/campusops/admin/internal/core"
)

var (
	warnColor = color.New(color.FgYellow)
	failColor = color.New(color.FgRed, color.Bold)
)

type importOptions struct {
	glob string
	mode string
}

// fileResult is the outcome of importing one file.
type fileResult struct {
	path   string
	result *core.ImportResult
	err    error
}

func newImportCmd(open OpenFunc) *cobra.Command {
	opts := &importOptions{}

	cmd := &cobra.Command{
		Use:   "import [file...]",
		Short: "Import one or more CSV files",
		Long: `Import reads each CSV file and writes its rows to the student table.

Files named on the command line and files matched by --glob ('**' crosses
directories) are imported in sorted order, one transaction per file. A failed
file does not stop the rest.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			mode, ok := core.ParseWriteMode(opts.mode)
			if !ok {
				return fmt.Errorf("invalid --mode %q: want insert or upsert", opts.mode)
			}

			files, err := collectFiles(args, opts.glob)
			if err != nil {
				return err
			}
			if len(files) == 0 {
				return fmt.Errorf("no CSV files given: pass file names or --glob")
			}

			svc, closeFn, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			results := make([]fileResult, 0, len(files))
			for _, path := range files {
				res := fileResult{path: path}
				data, err := os.ReadFile(path)
				if err != nil {
					res.err = err
				} else {
					res.result, res.err = svc.Import(cmd.Context(), data, mode)
				}
				if res.err != nil {
					slog.Debug("import failed", "file", path, "error", res.err)
				}
				results = append(results, res)
			}

			return report(cmd.OutOrStdout(), mode, results)
		},
	}

	cmd.Flags().StringVar(&opts.glob, "glob", "", "glob pattern selecting files, e.g. 'exports/**/*.csv'")
	cmd.Flags().StringVar(&opts.mode, "mode", string(core.ModeInsert), "write mode: insert or upsert")
	return cmd
}

// collectFiles merges explicit paths with glob matches, deduplicated and
// sorted.
func collectFiles(paths []string, pattern string) ([]string, error) {
	seen := make(map[string]bool, len(paths))
	var files []string
	add := func(p string) {
		if !seen[p] {
			seen[p] = true
			files = append(files, p)
		}
	}

	for _, p := range paths {
		add(p)
	}
	if pattern != "" {
		if !doublestar.ValidatePathPattern(pattern) {
			return nil, fmt.Errorf("invalid --glob pattern %q", pattern)
		}
		matches, err := doublestar.FilepathGlob(pattern, doublestar.WithFilesOnly())
		if err != nil {
			return nil, fmt.Errorf("glob %q: %w", pattern, err)
		}
		for _, m := range matches {
			add(m)
		}
	}

	sort.Strings(files)
	return files, nil
}

// report prints the summary table, then warnings and failures. It returns
// an error when any file failed.
func report(w io.Writer, mode core.WriteMode, results []fileResult) error {
	table := tablewriter.NewWriter(w)
	if mode == core.ModeUpsert {
		table.SetHeader([]string{"File", "Rows", "Affected", "Status"})
	} else {
		table.SetHeader([]string{"File", "Rows", "Inserted", "Skipped", "Status"})
	}

	failed := 0
	for _, r := range results {
		if r.err != nil {
			failed++
			if mode == core.ModeUpsert {
				table.Append([]string{r.path, "-", "-", "failed"})
			} else {
				table.Append([]string{r.path, "-", "-", "-", "failed"})
			}
			continue
		}

		rows := strconv.Itoa(r.result.TotalRows)
		if mode == core.ModeUpsert {
			table.Append([]string{r.path, rows, fmtInt(r.result.Affected), "ok"})
		} else {
			table.Append([]string{r.path, rows, fmtInt(r.result.Inserted), fmtInt(r.result.Skipped), "ok"})
		}
	}
	table.Render()

	for _, r := range results {
		if r.err != nil || r.result == nil {
			continue
		}
		for _, warn := range r.result.Warnings {
			warnColor.Fprintf(w, "warning: %s: %s (%s)\n", r.path, warn.Note, strings.Join(warn.Columns, ", "))
		}
	}
	for _, r := range results {
		if r.err == nil {
			continue
		}
		msg := core.FormatUserError(r.err)
		if !core.IsUserFacing(r.err) {
			msg = r.err.Error()
		}
		failColor.Fprintf(w, "failed: %s: %s\n", r.path, msg)
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d files failed", failed, len(results))
	}
	return nil
}

func fmtInt(n int64) string {
	return strconv.FormatInt(n, 10)
}
