package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/spherical-ai/spherical/libs/legislative-engine/internal/app"
	"github.com/spherical-ai/spherical/libs/legislative-engine/internal/intent"
	"github.com/spherical-ai/spherical/libs/legislative-engine/internal/retrieval"
)

// newAskCmd creates the ask subcommand.
func newAskCmd() *cobra.Command {
	var (
		history      []string
		file         string
		showEvidence bool
		showDiag     bool
	)

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Answer a question from the legislative records",
		Long: `Ask classifies the question, retrieves evidence with automatic
escalation, generates an answer and links bill citations.

Prior turns can be supplied with --history "user: ..." --history "assistant: ...".
With --file, every non-empty line of the file is answered independently.`,
		Example: `  legislative-engine-cli ask "What is HR 1234 about?"
  legislative-engine-cli ask --history "user: Tell me about HR 1234" "Who sponsored it?"
  legislative-engine-cli ask --file questions.txt --json`,
		Args: func(cmd *cobra.Command, args []string) error {
			if file == "" && len(args) == 0 {
				return errors.New("a question or --file is required")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := openApp(ctx, app.Options{})
			if err != nil {
				return err
			}
			defer a.Close()

			if file != "" {
				return askBatch(cmd, a, file)
			}

			turns, err := parseHistory(history)
			if err != nil {
				return err
			}

			question := strings.Join(args, " ")
			stop := ui.Spinner("Thinking...")
			ans, err := a.Engine.Answer(ctx, question, turns)
			stop()
			if err != nil && ans == nil {
				return err
			}

			if outputJSON {
				if perr := printJSON(ans); perr != nil {
					return perr
				}
				return err
			}

			printAnswer(ans, showEvidence, showDiag)
			return err
		},
	}

	cmd.Flags().StringArrayVar(&history, "history", nil, `prior turn as "role: content" (repeatable)`)
	cmd.Flags().StringVarP(&file, "file", "f", "", "answer every line of this file")
	cmd.Flags().BoolVarP(&showEvidence, "evidence", "e", false, "show the evidence behind the answer")
	cmd.Flags().BoolVarP(&showDiag, "diagnostics", "d", false, "show retrieval diagnostics")

	return cmd
}

func askBatch(cmd *cobra.Command, a *app.App, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open questions: %w", err)
	}
	defer f.Close()

	var questions []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if q := strings.TrimSpace(sc.Text()); q != "" && !strings.HasPrefix(q, "#") {
			questions = append(questions, q)
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read questions: %w", err)
	}

	stop := ui.Spinner(fmt.Sprintf("Answering %d questions...", len(questions)))
	results, err := a.Batch.AnswerAll(cmd.Context(), questions)
	stop()

	if outputJSON {
		if perr := printJSON(results); perr != nil {
			return perr
		}
		return err
	}

	for _, r := range results {
		ui.Section(fmt.Sprintf("%d. %s", r.Index+1, r.Question))
		if r.Answer != nil {
			printAnswer(r.Answer, false, false)
		}
		if r.Error != "" {
			ui.Error("%s", r.Error)
		}
	}
	return err
}

func parseHistory(entries []string) ([]intent.Turn, error) {
	turns := make([]intent.Turn, 0, len(entries))
	for _, e := range entries {
		role, content, ok := strings.Cut(e, ":")
		role = strings.ToLower(strings.TrimSpace(role))
		if !ok || (role != "user" && role != "assistant") {
			return nil, fmt.Errorf("invalid --history %q: want \"user: ...\" or \"assistant: ...\"", e)
		}
		turns = append(turns, intent.Turn{Role: role, Content: strings.TrimSpace(content)})
	}
	return turns, nil
}

func printAnswer(ans *retrieval.Answer, showEvidence, showDiag bool) {
	ui.Text(ans.Text)

	d := ans.Diagnostics
	if d.Degraded {
		ui.Warning("Answered from general records only; the question matched nothing specific.")
	}
	if len(ans.Links) > 0 {
		ui.Newline()
		for _, l := range ans.Links {
			ui.KeyValue(l.Citation, l.URL)
		}
	}

	if showEvidence && ans.Bundle != nil {
		ui.Section("Evidence")
		rows := make([][]string, 0, len(ans.Bundle.Items))
		for i, it := range ans.Bundle.Items {
			rows = append(rows, []string{
				fmt.Sprintf("%d", i+1),
				it.Key,
				fmt.Sprintf("%.2f", it.Score),
				strings.Join(it.Sources, ","),
			})
		}
		ui.Table([]string{"#", "KEY", "SCORE", "SOURCES"}, rows)
	}

	if showDiag {
		ui.Section("Diagnostics")
		ui.KeyValue("Request", d.RequestID)
		ui.KeyValue("Categories", categoryList(d.Classification))
		ui.KeyValue("Confidence", fmt.Sprintf("%.2f", d.Classification.Confidence))
		ui.KeyValue("Stage", stageColor(d.Stage))
		ui.KeyValue("Stages tried", len(d.StagesTried))
		ui.KeyValue("Plans", strings.Join(d.Plans, ", "))
		ui.KeyValue("Generator", d.Generator)
		ui.KeyValue("Latency", fmt.Sprintf("%dms", d.LatencyMs))
		ui.KeyValue("Cached", d.Cached)
		for _, e := range d.Errors {
			ui.Warning("%s %s: %s", e.Kind, e.Op, e.Message)
		}
	}
}

func categoryList(c intent.Classification) string {
	if len(c.Categories) == 0 {
		return string(intent.CategoryGeneric)
	}
	names := make([]string, len(c.Categories))
	for i, cat := range c.Categories {
		names[i] = string(cat)
	}
	return strings.Join(names, ", ")
}

func stageColor(s retrieval.Stage) string {
	switch s {
	case retrieval.StageFast:
		return color.GreenString(string(s))
	case retrieval.StageGeneric:
		return color.YellowString(string(s))
	}
	return color.CyanString(string(s))
}
