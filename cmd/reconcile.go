package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sells-group/outreach-cli/internal/config"
	"github.com/sells-group/outreach-cli/internal/pipeline"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Release stale claims and resolve interrupted sends",
	Long: `Finds leads stuck in enriching or sending past the claim TTL.
Enrich claims are released back to pending. Sends are checked against the
email provider: verified sends are recorded, missing ones go back to
ready_to_send, and unverifiable ones are reported and left alone.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, config.ModePipeline)
		if err != nil {
			return err
		}
		defer env.Close()

		jobID, _ := cmd.Flags().GetString("job")
		report, err := env.Pipeline.Reconcile(ctx, jobID)
		if err != nil {
			return err
		}
		formatReconcile(os.Stdout, report)
		return nil
	},
}

// formatReconcile writes reconcile counters and any unresolved lead IDs.
func formatReconcile(out io.Writer, r *pipeline.ReconcileReport) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Released:\t%d\n", r.Released)
	_, _ = fmt.Fprintf(w, "Marked sent:\t%d\n", r.MarkedSent)
	_, _ = fmt.Fprintf(w, "Requeued:\t%d\n", r.Requeued)
	_, _ = fmt.Fprintf(w, "Unresolved:\t%d\n", len(r.Unresolved))
	for _, id := range r.Unresolved {
		_, _ = fmt.Fprintf(w, "  %s\t\n", id)
	}
	_ = w.Flush()
}

func init() {
	reconcileCmd.Flags().String("job", "", "only reconcile leads of this job")
	rootCmd.AddCommand(reconcileCmd)
}
