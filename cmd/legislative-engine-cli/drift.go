package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/spherical-ai/spherical/libs/legislative-engine/internal/monitoring"
	"github.com/spherical-ai/spherical/libs/legislative-engine/internal/storage"
)

// maxListedFindings caps the text report; --json always carries everything.
const maxListedFindings = 25

// newDriftCmd creates the drift subcommand.
func newDriftCmd() *cobra.Command {
	var (
		types    []string
		maxAge   time.Duration
		detailed bool
		strict   bool
	)

	cmd := &cobra.Command{
		Use:   "drift",
		Short: "Audit the indexes against the corpus",
		Long: `Drift compares the persisted embedding and fingerprint records with the
current corpus and reports entities that are missing, stale, changed or
orphaned, plus vectors whose size does not match the configured dimension.

Use --max-age to also flag entity types whose newest record is older than
the given duration, which usually means corpus ingestion has stalled.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			entityTypes, err := parseEntityTypes(types)
			if err != nil {
				return err
			}
			if len(entityTypes) == 0 {
				entityTypes = storage.EntityTypes
			}

			db, err := storage.Open(ctx, storage.Dialect(cfg.Database.Driver), cfg.DatabaseDSN(), storage.OpenOptions{})
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer db.Close()

			runner := monitoring.NewDriftRunner(logger,
				storage.NewEntityRepository(db),
				storage.NewEmbeddingRepository(db),
				storage.NewFingerprintRepository(db),
				monitoring.DriftConfig{
					Dimension:          cfg.Embedding.Dimension,
					FreshnessThreshold: maxAge,
				})

			stop := ui.Spinner("Checking indexes...")
			report, err := runner.RunCheck(ctx, entityTypes)
			stop()
			if err != nil {
				return fmt.Errorf("drift check: %w", err)
			}

			if outputJSON {
				if err := printJSON(report); err != nil {
					return err
				}
			} else {
				printDriftReport(report, detailed)
			}

			if strict && !report.Healthy() {
				return fmt.Errorf("index drift detected: %d findings", len(report.Findings))
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&types, "types", nil, "entity types to audit: bill, member, action (default: all)")
	cmd.Flags().DurationVar(&maxAge, "max-age", 0, "flag entity types whose newest record is older than this")
	cmd.Flags().BoolVar(&detailed, "detailed", false, "list individual findings")
	cmd.Flags().BoolVar(&strict, "strict", false, "exit non-zero when drift is found")

	return cmd
}

func printDriftReport(r *monitoring.DriftReport, detailed bool) {
	ui.Section("Index coverage")
	rows := make([][]string, 0, len(r.Types))
	for _, t := range r.Types {
		latest := "-"
		if !t.LatestUpdate.IsZero() {
			latest = t.LatestUpdate.Format("2006-01-02")
			if t.CorpusStale {
				latest += " (stale)"
			}
		}
		rows = append(rows, []string{
			string(t.EntityType),
			strconv.Itoa(t.Documents),
			strconv.Itoa(t.Embeddings),
			strconv.Itoa(t.Fingerprints),
			latest,
		})
	}
	ui.Table([]string{"TYPE", "DOCUMENTS", "EMBEDDINGS", "FINGERPRINTS", "LATEST"}, rows)

	if r.Healthy() {
		ui.Success("Indexes are in sync with the corpus")
		return
	}

	ui.Section("Findings")
	for _, kind := range []monitoring.FindingKind{
		monitoring.FindingMissing,
		monitoring.FindingStale,
		monitoring.FindingChanged,
		monitoring.FindingOrphaned,
		monitoring.FindingDimension,
	} {
		if n := r.ByKind[string(kind)]; n > 0 {
			ui.KeyValue(string(kind), n)
		}
	}

	if detailed {
		listed := r.Findings
		if len(listed) > maxListedFindings {
			listed = listed[:maxListedFindings]
		}
		rows = rows[:0]
		for _, f := range listed {
			rows = append(rows, []string{string(f.Index), string(f.Kind), f.Ref.String(), f.Detail})
		}
		ui.Table([]string{"INDEX", "KIND", "ENTITY", "DETAIL"}, rows)
		if omitted := len(r.Findings) - len(listed); omitted > 0 {
			ui.Info("%d more findings omitted; use --json for the full list", omitted)
		}
	}
	ui.Warning("Run 'index' to bring the indexes up to date")
}
