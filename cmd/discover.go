package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	tl "github.com/tuumbleweed/tintlog/logger"
	"github.com/tuumbleweed/tintlog/palette"

	"github.com/KaramelBytes/admissions-report/internal/tableau"
	"github.com/KaramelBytes/admissions-report/internal/utils"
)

var (
	discoverProject  string
	discoverContains string
	discoverJSON     bool
)

type discoveredWorkbook struct {
	tableau.Workbook
	Views []tableau.View
}

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "List matching workbooks and their views",
	Long: `Signs in and lists the workbooks in the configured project whose name
contains the configured filter, with every view's id, url name and display
name. Use it to fill report.view_url_names and report.sheets.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := requireConfig()
		if err != nil {
			return err
		}
		if err := c.Validate(); err != nil {
			return err
		}
		project, contains := c.Report.ProjectName, c.Report.WorkbookNameContains
		if cmd.Flags().Changed("project") {
			project = discoverProject
		}
		if cmd.Flags().Changed("contains") {
			contains = discoverContains
		}

		ctx := cmd.Context()
		client := tableau.NewClient(c.TableauConfig(debug))
		if err := client.Authenticate(ctx); err != nil {
			return fmt.Errorf("sign in: %w", err)
		}
		defer client.SignOut(ctx)

		workbooks, err := client.FindWorkbooks(ctx, project, contains)
		if err != nil {
			return fmt.Errorf("find workbooks: %w", err)
		}
		if len(workbooks) == 0 {
			tl.Log(tl.Warning, palette.PurpleBright, "No workbook in project '%s' matches '%s'", project, contains)
			return nil
		}
		found := make([]discoveredWorkbook, 0, len(workbooks))
		for _, wb := range workbooks {
			views, err := client.ListViews(ctx, wb.ID)
			if err != nil {
				return fmt.Errorf("list views of '%s': %w", wb.Name, err)
			}
			found = append(found, discoveredWorkbook{Workbook: wb, Views: views})
		}

		out := cmd.OutOrStdout()
		if discoverJSON {
			b, err := utils.PrettyJSON(found)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, string(b))
			return nil
		}
		for _, wb := range found {
			fmt.Fprintf(out, "%s (%s, project %s)\n", wb.Name, wb.ID, wb.ProjectName)
			if len(wb.Views) == 0 {
				fmt.Fprintln(out, "  (no views)")
				continue
			}
			for _, v := range wb.Views {
				fmt.Fprintf(out, "  - %s: %s (%s)\n", v.ID, v.ViewURLName, v.Name)
			}
		}
		return nil
	},
}

func init() {
	discoverCmd.Flags().StringVar(&discoverProject, "project", "", "project name (default from config)")
	discoverCmd.Flags().StringVar(&discoverContains, "contains", "", "workbook name substring (default from config)")
	discoverCmd.Flags().BoolVar(&discoverJSON, "json", false, "print JSON instead of a list")
	rootCmd.AddCommand(discoverCmd)
}
