package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	tl "github.com/tuumbleweed/tintlog/logger"
	"github.com/tuumbleweed/tintlog/palette"

	cfgpkg "github.com/KaramelBytes/admissions-report/internal/config"
	"github.com/KaramelBytes/admissions-report/internal/history"
	"github.com/KaramelBytes/admissions-report/internal/mailer"
	"github.com/KaramelBytes/admissions-report/internal/metrics"
	"github.com/KaramelBytes/admissions-report/internal/metrics/prompush"
	"github.com/KaramelBytes/admissions-report/internal/report"
	"github.com/KaramelBytes/admissions-report/internal/tableau"
	"github.com/KaramelBytes/admissions-report/internal/utils"
	"github.com/KaramelBytes/admissions-report/internal/xlsx"
)

const (
	emailSent     = "sent"
	emailSkipped  = "skipped"
	emailDisabled = "disabled"
	emailFailed   = "failed"
)

var runNoEmail bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Fetch the configured views, write the report workbook and email it",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := requireConfig()
		if err != nil {
			return err
		}
		if err := c.Validate(); err != nil {
			return err
		}
		_, err = runReport(cmd.Context(), c, runOptions{NoEmail: runNoEmail, Debug: debug, Now: time.Now})
		return err
	},
}

func init() {
	runCmd.Flags().BoolVar(&runNoEmail, "no-email", false, "write the workbook without sending it")
	rootCmd.AddCommand(runCmd)
}

type runOptions struct {
	NoEmail bool
	Debug   bool
	Now     func() time.Time
}

// runResult describes what a run produced. OutputPath is empty when no
// workbook was written.
type runResult struct {
	RunID       uuid.UUID
	OutputPath  string
	Sheets      []report.Sheet
	SheetNames  []string
	EmailStatus string
}

// timed runs fn and records it as a workflow step.
func timed(job, step string, fn func() error) error {
	start := time.Now()
	err := fn()
	metrics.RecordStep(job, step, err, time.Since(start))
	return err
}

func runReport(ctx context.Context, c *cfgpkg.Global, opts runOptions) (res runResult, err error) {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	res.RunID = uuid.New()
	started := opts.Now()
	job := c.Metrics.Job
	outPath := utils.ReportPath(c.Output.Dir, c.Output.FilePrefix, started)

	tl.Log(tl.Notice, palette.BlueBold, "===== Admissions report %s (run %s) =====", started.Format("2006-01-02"), res.RunID)
	tl.Log(tl.Info, palette.Cyan, "Output file: '%s'", outPath)
	tl.LogJSON(tl.Verbose, palette.CyanDim, "Effective configuration", c.Masked())

	if c.Metrics.PushgatewayURL != "" {
		backend, berr := prompush.NewBackend(job, c.Metrics.PushgatewayURL, res.RunID.String())
		if berr != nil {
			tl.Log(tl.Warning, palette.PurpleBright, "Metrics disabled: %s", berr)
		} else {
			metrics.SetBackend(backend)
			defer func() {
				if ferr := metrics.Flush(); ferr != nil {
					tl.Log(tl.Warning, palette.PurpleBright, "Pushing metrics failed: %s", ferr)
				}
			}()
		}
	}

	client := tableau.NewClient(c.TableauConfig(opts.Debug))
	if err := timed(job, "sign_in", func() error { return client.Authenticate(ctx) }); err != nil {
		return res, fmt.Errorf("sign in: %w", err)
	}
	defer client.SignOut(context.WithoutCancel(ctx))

	var workbooks []tableau.Workbook
	if err := timed(job, "find_workbook", func() (ferr error) {
		workbooks, ferr = client.FindWorkbooks(ctx, c.Report.ProjectName, c.Report.WorkbookNameContains)
		return ferr
	}); err != nil {
		return res, fmt.Errorf("find workbooks: %w", err)
	}
	if len(workbooks) == 0 {
		tl.Log(
			tl.Warning, palette.PurpleBright, "No workbook in project '%s' matches '%s', nothing to report",
			c.Report.ProjectName, c.Report.WorkbookNameContains,
		)
		return res, nil
	}
	wb := workbooks[0]
	if len(workbooks) > 1 {
		tl.Log(tl.Warning1, palette.Yellow, "%d workbooks match, using '%s' (%s)", len(workbooks), wb.Name, wb.ID)
	}
	tl.Log(tl.Info, palette.Cyan, "Using workbook '%s' (%s)", wb.Name, wb.ID)

	var views []tableau.View
	if err := timed(job, "find_views", func() (ferr error) {
		views, ferr = client.FindViews(ctx, wb.ID, c.Report.ViewURLNames)
		return ferr
	}); err != nil {
		return res, fmt.Errorf("find views: %w", err)
	}
	if len(views) == 0 {
		tl.Log(tl.Warning, palette.PurpleBright, "None of the target views were found in '%s', nothing to report", wb.Name)
		return res, nil
	}

	res.Sheets = report.New(client, c.AssemblyConfig()).Build(ctx, views)
	if err := ctx.Err(); err != nil {
		return res, fmt.Errorf("run cancelled: %w", err)
	}
	if len(res.Sheets) == 0 {
		tl.Log(tl.Warning, palette.PurpleBright, "%s", "No sheets were produced, nothing to write")
		return res, nil
	}

	if err := utils.EnsureDir(c.Output.Dir); err != nil {
		return res, fmt.Errorf("create output dir: %w", err)
	}
	toWrite := make([]xlsx.Sheet, len(res.Sheets))
	for i, s := range res.Sheets {
		toWrite[i] = xlsx.Sheet{Name: s.Name, Table: s.Table}
	}
	if err := timed(job, "write", func() (werr error) {
		res.SheetNames, werr = xlsx.Write(outPath, toWrite)
		return werr
	}); err != nil {
		return res, fmt.Errorf("write workbook: %w", err)
	}
	res.OutputPath = outPath
	tl.Log(tl.Info1, palette.Green, "Wrote %d sheet(s) to '%s'", len(res.SheetNames), outPath)

	if ferr := timed(job, "format", func() error { return xlsx.Format(outPath, c.FormatOptions(res.SheetNames, res.Sheets)) }); ferr != nil {
		tl.Log(tl.Warning, palette.PurpleBright, "Formatting failed, keeping the unstyled workbook: %s", ferr)
	}

	var emailErr error
	settings := c.MailerSettings()
	switch {
	case opts.NoEmail:
		res.EmailStatus = emailDisabled
		tl.Log(tl.Info, palette.Blue, "%s", "Email disabled with --no-email")
	case len(settings.Recipients) == 0:
		res.EmailStatus = emailSkipped
		tl.Log(tl.Info, palette.Blue, "%s", "No email recipients configured, skipping email")
	case settings.Provider == mailer.ProviderNone:
		res.EmailStatus = emailSkipped
		tl.Log(tl.Info, palette.Blue, "Email provider is '%s', skipping email", mailer.ProviderNone)
	default:
		res.EmailStatus = emailSent
		_ = timed(job, "email", func() error {
			if e := mailer.SendReport(ctx, settings, outPath, opts.Now()); e != nil {
				tl.Log(tl.Error, palette.RedBold, "Sending the report failed: %v", e)
				res.EmailStatus = emailFailed
				emailErr = fmt.Errorf("send report email: %v", e)
			}
			return emailErr
		})
	}

	if hc := c.HistoryConfig(); hc.Enabled() {
		if herr := history.Store(ctx, hc, historyRun(res, wb, started, opts.Now())); herr != nil {
			tl.Log(tl.Warning, palette.PurpleBright, "Recording run history failed: %s", herr)
		}
	}

	failed := 0
	for _, s := range res.Sheets {
		if s.Failed() {
			failed++
		}
	}
	tl.Log(
		tl.Notice, palette.GreenBold, "Report finished: %d sheet(s), %d failed, email %s -> '%s'",
		len(res.Sheets), failed, res.EmailStatus, outPath,
	)
	return res, emailErr
}

func historyRun(res runResult, wb tableau.Workbook, started, finished time.Time) history.Run {
	run := history.Run{
		ID:          res.RunID,
		StartedAt:   started,
		FinishedAt:  finished,
		Workbook:    wb.Name,
		OutputPath:  res.OutputPath,
		EmailStatus: res.EmailStatus,
	}
	for i, s := range res.Sheets {
		name := s.Name
		if i < len(res.SheetNames) {
			name = res.SheetNames[i]
		}
		rec := history.SheetRecord{
			Name:        name,
			Kind:        s.Kind.String(),
			ViewID:      s.View.ID,
			ViewURLName: s.View.ViewURLName,
			Rows:        s.Table.Len(),
			Fingerprint: s.Fingerprint,
		}
		if s.Err != nil {
			rec.Error = s.Err.Error()
		}
		run.Sheets = append(run.Sheets, rec)
	}
	return run
}
