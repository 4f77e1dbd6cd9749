package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/sells-group/outreach-cli/internal/config"
)

var leadCmd = &cobra.Command{
	Use:   "lead",
	Short: "Operate on individual leads",
}

var leadShowCmd = &cobra.Command{
	Use:   "show <lead-id>",
	Short: "Show a lead with its email history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, config.ModeStore)
		if err != nil {
			return err
		}
		defer env.Close()

		lead, err := env.Store.GetLead(ctx, args[0])
		if err != nil {
			return err
		}
		emails, err := env.Store.ListEmails(ctx, lead.ID)
		if err != nil {
			return err
		}
		return printJSON(os.Stdout, map[string]any{"lead": lead, "emails": emails})
	},
}

var leadRequeueCmd = &cobra.Command{
	Use:   "requeue <lead-id>",
	Short: "Send a failed lead back through its stage",
	Long:  "Moves a lead in a failure status back to the input status of its stage. The job must still be in that stage.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, config.ModeStore)
		if err != nil {
			return err
		}
		defer env.Close()

		lead, err := env.Pipeline.RequeueLead(ctx, args[0])
		if err != nil {
			return err
		}
		return printJSON(os.Stdout, lead)
	},
}

func init() {
	leadCmd.AddCommand(leadShowCmd, leadRequeueCmd)
	rootCmd.AddCommand(leadCmd)
}
