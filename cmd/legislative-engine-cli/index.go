package main

import (
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/spf13/cobra"
	"github.com/vbauerster/mpb/v8"

	"github.com/spherical-ai/spherical/libs/legislative-engine/internal/app"
	"github.com/spherical-ai/spherical/libs/legislative-engine/internal/indexer"
	"github.com/spherical-ai/spherical/libs/legislative-engine/internal/storage"
)

// newIndexCmd creates the index subcommand.
func newIndexCmd() *cobra.Command {
	var (
		types   []string
		migrate bool
	)

	cmd := &cobra.Command{
		Use:   "index",
		Short: "Build the embedding and fingerprint indexes",
		Long: `Index walks the corpus and brings both similarity indexes up to date.
Entities whose content is unchanged are skipped without calling the embedding
API, so an interrupted run can simply be started again. Running API servers
are told to reload when anything changed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			entityTypes, err := parseEntityTypes(types)
			if err != nil {
				return err
			}

			a, err := openApp(ctx, app.Options{Migrate: migrate})
			if err != nil {
				return err
			}
			defer a.Close()

			pipeline, err := a.Pipeline()
			if err != nil {
				return err
			}

			ui.Step("Indexing with %s (%d dimensions)", a.Embedder.Model(), a.Embedder.Dimension())

			bars := newTypeBars()
			result, err := pipeline.Run(ctx, entityTypes, bars.update)
			bars.finish()
			ui.Close()
			if err != nil {
				return fmt.Errorf("indexing failed: %w", err)
			}

			if outputJSON {
				return printJSON(result)
			}
			printIndexingResult(result)
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&types, "types", nil, "entity types to index: bill, member, action (default: all)")
	cmd.Flags().BoolVar(&migrate, "migrate", false, "apply the schema before indexing")

	return cmd
}

func parseEntityTypes(names []string) ([]storage.EntityType, error) {
	var out []storage.EntityType
	for _, n := range names {
		et, err := storage.ParseEntityType(n)
		if err != nil {
			return nil, err
		}
		out = append(out, et)
	}
	return out, nil
}

// typeBars renders one progress bar per entity type, created on first report.
type typeBars struct {
	mu   sync.Mutex
	bars map[storage.EntityType]*mpb.Bar
}

func newTypeBars() *typeBars {
	return &typeBars{bars: make(map[storage.EntityType]*mpb.Bar)}
}

func (t *typeBars) update(p indexer.Progress) {
	t.mu.Lock()
	defer t.mu.Unlock()

	bar, ok := t.bars[p.EntityType]
	if !ok {
		bar = ui.ProgressBar(string(p.EntityType)+"s", int64(p.Total))
		t.bars[p.EntityType] = bar
	}
	if bar == nil {
		return
	}
	if p.Total == 0 {
		// Nothing stale; complete the bar so it does not block Close.
		bar.SetTotal(0, true)
		return
	}
	bar.SetCurrent(int64(p.Done))
}

func (t *typeBars) finish() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, bar := range t.bars {
		if bar != nil && !bar.Completed() {
			bar.Abort(false)
		}
	}
}

func printIndexingResult(r *indexer.IndexingResult) {
	ui.Section("Indexing result")

	names := make([]string, 0, len(r.Types))
	for et := range r.Types {
		names = append(names, string(et))
	}
	sort.Strings(names)

	rows := make([][]string, 0, len(names))
	for _, n := range names {
		tr := r.Types[storage.EntityType(n)]
		rows = append(rows, []string{
			n,
			strconv.Itoa(tr.Documents),
			strconv.Itoa(tr.Embedded),
			strconv.Itoa(tr.EmbeddingsUnchanged),
			strconv.Itoa(tr.Fingerprinted),
			strconv.Itoa(tr.FailedEntities),
		})
	}
	ui.Table([]string{"TYPE", "DOCUMENTS", "EMBEDDED", "UNCHANGED", "FINGERPRINTED", "FAILED"}, rows)

	ui.Newline()
	ui.KeyValue("Job", r.JobID)
	ui.KeyValue("API calls", r.APICalls)
	ui.KeyValue("Duration", FormatDuration(r.Duration))
	for _, e := range r.Errors {
		ui.Warning("%s", e)
	}
	if r.Changed() {
		ui.Success("Indexes updated")
	} else {
		ui.Success("Indexes already up to date")
	}
}
