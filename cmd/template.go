package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/outreach-cli/internal/config"
	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/render"
	"github.com/sells-group/outreach-cli/internal/store"
)

var templateCmd = &cobra.Command{
	Use:   "template",
	Short: "Manage outreach email templates",
}

var templateAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Create or replace a template",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		name, _ := cmd.Flags().GetString("name")
		subject, _ := cmd.Flags().GetString("subject")
		body, _ := cmd.Flags().GetString("body")
		bodyFile, _ := cmd.Flags().GetString("body-file")
		if bodyFile != "" {
			data, err := os.ReadFile(bodyFile)
			if err != nil {
				return eris.Wrapf(err, "read body file %s", bodyFile)
			}
			body = string(data)
		}

		tmpl := &model.Template{Name: name, Subject: subject, Body: body}
		if err := render.Prepare(tmpl); err != nil {
			return err
		}

		env, err := initEnv(ctx, config.ModeStore)
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.Store.UpsertTemplate(ctx, tmpl); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "Saved template %q (variables: %s)\n", tmpl.Name, strings.Join(tmpl.Variables, ", "))
		return nil
	},
}

var templateImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Create or replace templates from a YAML file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		tmpls, err := render.LoadTemplates(args[0])
		if err != nil {
			return err
		}

		env, err := initEnv(ctx, config.ModeStore)
		if err != nil {
			return err
		}
		defer env.Close()

		for i := range tmpls {
			if err := env.Store.UpsertTemplate(ctx, &tmpls[i]); err != nil {
				return eris.Wrapf(err, "import template %q", tmpls[i].Name)
			}
		}
		fmt.Fprintf(os.Stderr, "Imported %d templates\n", len(tmpls))
		return nil
	},
}

var templateListCmd = &cobra.Command{
	Use:   "list",
	Short: "List templates",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, config.ModeStore)
		if err != nil {
			return err
		}
		defer env.Close()

		tmpls, err := env.Store.ListTemplates(ctx)
		if err != nil {
			return err
		}
		if len(tmpls) == 0 {
			fmt.Fprintln(os.Stderr, "No templates found.")
			return nil
		}
		formatTemplatesList(os.Stdout, tmpls)
		return nil
	},
}

var templateSeedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Store the built-in default template if no templates exist",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, config.ModeStore)
		if err != nil {
			return err
		}
		defer env.Close()

		seeded, err := seedDefaultTemplate(ctx, env.Store)
		if err != nil {
			return err
		}
		if !seeded {
			fmt.Fprintln(os.Stderr, "Templates already present, nothing to seed.")
			return nil
		}
		fmt.Fprintln(os.Stderr, "Seeded template \"default\"")
		return nil
	},
}

// seedDefaultTemplate stores render.Default when the store has no templates.
func seedDefaultTemplate(ctx context.Context, st store.Store) (bool, error) {
	existing, err := st.ListTemplates(ctx)
	if err != nil {
		return false, err
	}
	if len(existing) > 0 {
		return false, nil
	}
	tmpl := render.Default()
	if err := render.Prepare(tmpl); err != nil {
		return false, err
	}
	if err := st.UpsertTemplate(ctx, tmpl); err != nil {
		return false, err
	}
	return true, nil
}

// formatTemplatesList writes a tabular list of templates to w.
func formatTemplatesList(out io.Writer, tmpls []model.Template) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "NAME\tSUBJECT\tVARIABLES\tCREATED")
	_, _ = fmt.Fprintln(w, "----\t-------\t---------\t-------")
	for _, t := range tmpls {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			t.Name,
			clip(t.Subject, 40),
			strings.Join(t.Variables, ","),
			t.CreatedAt.Format("2006-01-02 15:04"),
		)
	}
	_ = w.Flush()
}

func init() {
	templateAddCmd.Flags().String("name", "", "template name")
	templateAddCmd.Flags().String("subject", "", "subject line, may use {{variables}}")
	templateAddCmd.Flags().String("body", "", "HTML body, may use {{variables}}")
	templateAddCmd.Flags().String("body-file", "", "read the body from this file")
	_ = templateAddCmd.MarkFlagRequired("name")
	_ = templateAddCmd.MarkFlagRequired("subject")

	templateCmd.AddCommand(templateAddCmd, templateImportCmd, templateListCmd, templateSeedCmd)
	rootCmd.AddCommand(templateCmd)
}
