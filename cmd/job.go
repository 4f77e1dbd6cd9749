package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/outreach-cli/internal/config"
	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/pipeline"
	"github.com/sells-group/outreach-cli/internal/store"
)

var jobCmd = &cobra.Command{
	Use:   "job",
	Short: "Create, advance and inspect outreach jobs",
}

// -- job start --

var jobStartCmd = &cobra.Command{
	Use:   "start <query>",
	Short: "Create a job for a recruiting query",
	Long:  "Creates a job in pending status. Use --run to drive it to completion right away.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		runNow, _ := cmd.Flags().GetBool("run")

		mode := config.ModeStore
		if runNow {
			mode = config.ModePipeline
		}
		env, err := initEnv(ctx, mode)
		if err != nil {
			return err
		}
		defer env.Close()

		limit, _ := cmd.Flags().GetInt("limit")
		if limit == 0 {
			limit = cfg.Pipeline.DefaultResultLimit
		}
		tmpl, _ := cmd.Flags().GetString("template")

		job, err := env.Pipeline.StartJob(ctx, strings.Join(args, " "), limit, tmpl)
		if err != nil {
			return err
		}
		if !runNow {
			return printJSON(os.Stdout, job)
		}

		final, outcomes, err := env.Pipeline.Run(ctx, job.ID)
		formatOutcomes(os.Stderr, outcomes)
		if err != nil {
			return err
		}
		return printJSON(os.Stdout, final)
	},
}

// -- job run / advance --

var jobRunCmd = &cobra.Command{
	Use:   "run <job-id>",
	Short: "Advance a job until it completes or cannot progress",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, config.ModePipeline)
		if err != nil {
			return err
		}
		defer env.Close()

		job, outcomes, err := env.Pipeline.Run(ctx, args[0])
		formatOutcomes(os.Stderr, outcomes)
		if err != nil {
			return err
		}
		return printJSON(os.Stdout, job)
	},
}

var jobAdvanceCmd = &cobra.Command{
	Use:   "advance <job-id>",
	Short: "Run exactly one stage of a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, config.ModePipeline)
		if err != nil {
			return err
		}
		defer env.Close()

		out, err := env.Pipeline.RunStage(ctx, args[0])
		if err != nil {
			return err
		}
		return printJSON(os.Stdout, out)
	},
}

// -- job status / list / leads --

var jobStatusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Show a job with its lead counts",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, config.ModeStore)
		if err != nil {
			return err
		}
		defer env.Close()

		report, err := env.Pipeline.GetJobStatus(ctx, args[0])
		if err != nil {
			return err
		}
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return printJSON(os.Stdout, report)
		}
		formatJobStatus(os.Stdout, report)
		return nil
	},
}

var jobListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent jobs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, config.ModeStore)
		if err != nil {
			return err
		}
		defer env.Close()

		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")
		jobs, err := env.Store.ListJobs(ctx, store.JobFilter{Status: model.JobStatus(status), Limit: limit})
		if err != nil {
			return eris.Wrap(err, "job list")
		}
		if len(jobs) == 0 {
			fmt.Fprintln(os.Stderr, "No jobs found.")
			return nil
		}
		formatJobsList(os.Stdout, jobs)
		return nil
	},
}

var jobLeadsCmd = &cobra.Command{
	Use:   "leads <job-id>",
	Short: "List the leads of a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, config.ModeStore)
		if err != nil {
			return err
		}
		defer env.Close()

		rawStatuses, _ := cmd.Flags().GetStringSlice("status")
		statuses, err := parseLeadStatuses(rawStatuses)
		if err != nil {
			return err
		}
		leads, err := env.Pipeline.GetLeads(ctx, args[0], statuses...)
		if err != nil {
			return err
		}
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return printJSON(os.Stdout, leads)
		}
		if len(leads) == 0 {
			fmt.Fprintln(os.Stderr, "No leads found.")
			return nil
		}
		formatLeadsList(os.Stdout, leads)
		return nil
	},
}

// -- job delete --

var jobDeleteCmd = &cobra.Command{
	Use:   "delete <job-id>",
	Short: "Delete a job with its leads and emails",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, config.ModeStore)
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.Store.DeleteJob(ctx, args[0]); err != nil {
			return eris.Wrapf(err, "delete job %s", args[0])
		}
		fmt.Fprintf(os.Stderr, "Deleted job %s\n", args[0])
		return nil
	},
}

func parseLeadStatuses(raw []string) ([]model.LeadStatus, error) {
	out := make([]model.LeadStatus, 0, len(raw))
	for _, r := range raw {
		s := model.LeadStatus(strings.TrimSpace(r))
		if !s.Valid() {
			return nil, eris.Errorf("unknown lead status %q", r)
		}
		out = append(out, s)
	}
	return out, nil
}

// formatJobStatus writes a job summary followed by lead counts.
func formatJobStatus(out io.Writer, r *pipeline.JobStatusReport) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Job:\t%s\n", r.Job.ID)
	_, _ = fmt.Fprintf(w, "Query:\t%s\n", r.Job.RawQuery)
	_, _ = fmt.Fprintf(w, "Status:\t%s\n", r.Job.Status)
	if r.Job.ParsedRole != "" {
		_, _ = fmt.Fprintf(w, "Role:\t%s\n", r.Job.ParsedRole)
		_, _ = fmt.Fprintf(w, "Location:\t%s\n", r.Job.ParsedLocation)
	}
	_, _ = fmt.Fprintf(w, "Template:\t%s\n", r.Job.TemplateName)
	if r.Job.ErrorMessage != "" {
		_, _ = fmt.Fprintf(w, "Error:\t%s\n", firstLine(r.Job.ErrorMessage))
	}
	_, _ = fmt.Fprintf(w, "Leads:\t%d\n", r.Total)

	statuses := make([]string, 0, len(r.Leads))
	for s := range r.Leads {
		statuses = append(statuses, string(s))
	}
	sort.Strings(statuses)
	for _, s := range statuses {
		_, _ = fmt.Fprintf(w, "  %s:\t%d\n", s, r.Leads[model.LeadStatus(s)])
	}
	_ = w.Flush()
}

// formatJobsList writes a tabular list of jobs to w.
func formatJobsList(out io.Writer, jobs []model.Job) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tQUERY\tSTATUS\tLIMIT\tCREATED")
	_, _ = fmt.Fprintln(w, "--\t-----\t------\t-----\t-------")
	for _, j := range jobs {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
			truncateID(j.ID),
			clip(j.RawQuery, 40),
			j.Status,
			j.ResultLimit,
			j.CreatedAt.Format("2006-01-02 15:04"),
		)
	}
	_ = w.Flush()
}

// formatLeadsList writes a tabular list of leads to w.
func formatLeadsList(out io.Writer, leads []model.Lead) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tCOMPANY\tCONTACT\tEMAIL\tSTATUS\tATTEMPTS")
	_, _ = fmt.Fprintln(w, "--\t-------\t-------\t-----\t------\t--------")
	for _, l := range leads {
		company := l.CompanyName
		if company == "" {
			company = l.JobURL
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\n",
			truncateID(l.ID),
			clip(company, 30),
			l.ContactName,
			l.ContactEmail,
			l.Status,
			l.Attempts,
		)
	}
	_ = w.Flush()
}

// formatOutcomes writes one line per stage outcome.
func formatOutcomes(out io.Writer, outcomes []pipeline.StageOutcome) {
	for _, o := range outcomes {
		line := fmt.Sprintf("%-9s %s -> %s", o.Stage, o.From, o.To)
		if o.LeadsCreated > 0 {
			line += fmt.Sprintf("  leads=%d", o.LeadsCreated)
		}
		if o.Processed > 0 {
			line += fmt.Sprintf("  processed=%d ok=%d failed=%d", o.Processed, o.Succeeded, o.Failed)
		}
		if o.Blocked {
			line += "  (blocked by live claims)"
		}
		_, _ = fmt.Fprintln(out, line)
	}
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func clip(s string, n int) string {
	if len(s) > n {
		return s[:n-3] + "..."
	}
	return s
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func init() {
	jobStartCmd.Flags().Int("limit", 0, "maximum leads to discover (default from config)")
	jobStartCmd.Flags().String("template", "", "template name (default from config)")
	jobStartCmd.Flags().Bool("run", false, "run the job to completion after creating it")

	jobStatusCmd.Flags().Bool("json", false, "print JSON")
	jobLeadsCmd.Flags().Bool("json", false, "print JSON")
	jobLeadsCmd.Flags().StringSlice("status", nil, "only leads in these statuses")

	jobListCmd.Flags().String("status", "", "only jobs in this status")
	jobListCmd.Flags().Int("limit", 50, "maximum jobs to list")

	jobCmd.AddCommand(jobStartCmd, jobRunCmd, jobAdvanceCmd, jobStatusCmd, jobListCmd, jobLeadsCmd, jobDeleteCmd)
	rootCmd.AddCommand(jobCmd)
}
