package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/speclens/internal/model"
	"github.com/sells-group/speclens/internal/normalize"
)

// topSpecsPerSource caps how many per-source specs the text report prints.
const topSpecsPerSource = 5

var (
	analyzeSources        []string
	analyzeExpertRequired bool
	analyzeMinSupport     int
	analyzeJSON           bool
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <category-id>",
	Short: "Run one analysis job synchronously and print the consensus",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		params := model.JobParams{
			CategoryID:     args[0],
			ExpertRequired: analyzeExpertRequired,
			MinSupport:     analyzeMinSupport,
		}
		for _, s := range analyzeSources {
			params.Sources = append(params.Sources, model.SourceID(strings.TrimSpace(s)))
		}

		rec, err := env.Store.CreateJob(ctx, params)
		if err != nil {
			return eris.Wrap(err, "create job")
		}

		env.Pipeline.Run(ctx, rec)

		final, err := env.Store.GetJob(ctx, rec.JobID)
		if err != nil {
			return eris.Wrap(err, "load job result")
		}

		if analyzeJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(final)
		}

		formatResult(os.Stdout, final)
		if final.Status != model.JobStatusCompleted {
			return eris.Errorf("job %s: %s", final.Status, final.Error)
		}
		return nil
	},
}

func formatResult(w io.Writer, rec *model.JobRecord) {
	fmt.Fprintf(w, "Job %s (%s): %s\n", rec.JobID, rec.Params.CategoryID, rec.Status)
	if rec.Summary != nil {
		fmt.Fprintf(w, "Sources %d/%d, chunks %d/%d, %.1fs\n",
			rec.Summary.SourcesSucceeded, rec.Summary.SourcesAttempted,
			rec.Summary.ChunksSucceeded, rec.Summary.ChunksAttempted,
			rec.Summary.ElapsedSeconds,
		)
	}
	order := append([]model.SourceID{}, model.NonExpertSources...)
	order = append(order, model.SourcePNS)
	for _, src := range order {
		res, ok := rec.SourceResults[src]
		if !ok {
			continue
		}
		fmt.Fprintf(w, "\n%s (%d rows, %d/%d chunks):\n",
			src, res.RowsProcessed, res.ChunksAttempted-res.ChunksFailed, res.ChunksAttempted)
		for _, spec := range res.TopSpecs(topSpecsPerSource) {
			fmt.Fprintf(w, "  %s: %s (x%d)\n", normalize.Display(spec.Attribute), spec.Option, spec.Frequency)
		}
	}

	fmt.Fprintln(w)
	if len(rec.Consensus) == 0 {
		fmt.Fprintln(w, "No consensus rows.")
		return
	}

	nonExpert := len(rec.Params.Sources)
	if nonExpert == 0 {
		nonExpert = len(model.NonExpertSources)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RANK\tATTRIBUTE\tOPTIONS\tSCORE\tCONFIDENCE\tPNS")
	for _, row := range rec.Consensus {
		pnsMark := ""
		if row.Presence[model.SourcePNS] {
			pnsMark = "yes"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%s\t%s\n",
			row.Rank,
			normalize.Display(row.Attribute),
			strings.Join(row.Options, ", "),
			row.AgreementScore,
			model.Band(row.AgreementScore, nonExpert),
			pnsMark,
		)
	}
	tw.Flush()
}

func init() {
	analyzeCmd.Flags().StringSliceVar(&analyzeSources, "sources", nil, "non-expert sources to analyze (default all configured)")
	analyzeCmd.Flags().BoolVar(&analyzeExpertRequired, "expert-required", false, "fail when the PNS payload is unavailable and gate consensus on it")
	analyzeCmd.Flags().IntVar(&analyzeMinSupport, "min-support", 0, "drop per-source spec groups below this frequency")
	analyzeCmd.Flags().BoolVar(&analyzeJSON, "json", false, "print the full job record as JSON")
	rootCmd.AddCommand(analyzeCmd)
}
