package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/spherical-ai/spherical/libs/legislative-engine/internal/intent"
	"github.com/spherical-ai/spherical/libs/legislative-engine/internal/linker"
	"github.com/spherical-ai/spherical/libs/legislative-engine/internal/planner"
	"github.com/spherical-ai/spherical/libs/legislative-engine/internal/storage"
)

// newClassifyCmd creates the classify subcommand.
func newClassifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "classify <question>",
		Short: "Show the intent classification of a question",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := intent.NewClassifier(logger).Classify(strings.Join(args, " "), nil)
			if outputJSON {
				return printJSON(c)
			}
			printClassification(c)
			return nil
		},
	}
}

// newPlanCmd creates the plan subcommand.
func newPlanCmd() *cobra.Command {
	var showSQL bool

	cmd := &cobra.Command{
		Use:   "plan <question>",
		Short: "Show the structured query plans for a question",
		Long: `Plan classifies the question and prints the parameterized SQL plans the
executor would run for it. Nothing is executed.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := intent.NewClassifier(logger).Classify(strings.Join(args, " "), nil)
			p := planner.New(planner.Config{
				MaxPlans:            cfg.Planner.MaxPlans,
				DefaultLookbackDays: cfg.Planner.DefaultLookbackDays,
				RowLimit:            cfg.Planner.RowLimit,
			}, storage.Dialect(cfg.Database.Driver), logger)

			plans := p.Plan(c, c.Categories)
			if len(plans) == 0 {
				plans = p.GenericPlans()
			}

			if outputJSON {
				return printJSON(map[string]any{"classification": c, "plans": plans})
			}

			printClassification(c)
			ui.Section("Plans")
			rows := make([][]string, 0, len(plans))
			for _, pl := range plans {
				rows = append(rows, []string{pl.Name, string(pl.Type), string(pl.Complexity), strconv.Itoa(len(pl.Params))})
			}
			ui.Table([]string{"NAME", "TYPE", "COMPLEXITY", "PARAMS"}, rows)
			if showSQL {
				for _, pl := range plans {
					ui.Section(pl.Name)
					ui.Text(strings.TrimSpace(pl.Template))
					ui.KeyValue("params", pl.Params)
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&showSQL, "sql", false, "print each plan's SQL and parameters")
	return cmd
}

// newLinkCmd creates the link subcommand.
func newLinkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "link [text]",
		Short: "Rewrite bill citations in text as links",
		Long: `Link resolves bill citations such as "HR 1234" or "Senate Bill 2960"
against the database and rewrites them as markdown links. Reads stdin when no
text is given.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args, " ")
			if text == "" {
				data, err := io.ReadAll(os.Stdin)
				if err != nil {
					return fmt.Errorf("read stdin: %w", err)
				}
				text = string(data)
			}
			if strings.TrimSpace(text) == "" {
				return errors.New("no text to link")
			}

			ctx := cmd.Context()
			db, err := storage.Open(ctx, storage.Dialect(cfg.Database.Driver), cfg.DatabaseDSN(), storage.OpenOptions{})
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer db.Close()

			l := linker.New(storage.NewEntityRepository(db), cfg.Linker.BaseURL, logger)
			out, links := l.Link(ctx, text)

			if outputJSON {
				return printJSON(map[string]any{"text": out, "links": links})
			}
			ui.Text(out)
			if len(links) == 0 {
				ui.Info("No resolvable citations")
			}
			return nil
		},
	}
}

func printClassification(c intent.Classification) {
	ui.Section("Classification")
	ui.KeyValue("Categories", categoryList(c))
	ui.KeyValue("Confidence", fmt.Sprintf("%.2f", c.Confidence))
	if ref, ok := c.Params.BillRef(); ok {
		ui.KeyValue("Bill", ref.String())
	}
	if len(c.Params.MemberNames) > 0 {
		ui.KeyValue("Members", strings.Join(c.Params.MemberNames, ", "))
	}
	if len(c.Params.Topics) > 0 {
		ui.KeyValue("Topics", strings.Join(c.Params.Topics, ", "))
	}
	if len(c.Params.StateCodes) > 0 {
		ui.KeyValue("States", strings.Join(c.Params.StateCodes, ", "))
	}
	if len(c.Params.PartyCodes) > 0 {
		ui.KeyValue("Parties", strings.Join(c.Params.PartyCodes, ", "))
	}
	if c.Params.Inherited {
		ui.KeyValue("Inherited", "from an earlier turn")
	}
	if dr := c.Params.DateRange; dr != nil {
		ui.KeyValue("Window", fmt.Sprintf("%s to %s", dr.Start.Format("2006-01-02"), dr.End.Format("2006-01-02")))
	}
}
