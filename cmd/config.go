package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	cfgpkg "github.com/KaramelBytes/admissions-report/internal/config"
	"github.com/KaramelBytes/admissions-report/internal/history"
	"github.com/KaramelBytes/admissions-report/internal/mailer"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View or set admreport configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show effective configuration (secrets masked)",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg == nil {
			fmt.Fprintln(cmd.OutOrStdout(), "No config loaded")
			return nil
		}
		b, err := yaml.Marshal(cfg.Masked())
		if err != nil {
			return fmt.Errorf("marshal yaml: %w", err)
		}
		fmt.Fprint(cmd.OutOrStdout(), string(b))
		return nil
	},
}

func parseInt(key, val string, min int) (int, error) {
	i, err := strconv.Atoi(val)
	if err != nil || i < min {
		return 0, fmt.Errorf("invalid int for %s: %v", key, val)
	}
	return i, nil
}

func parseList(val string) []string {
	var out []string
	for _, p := range strings.Split(val, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// setKey applies one "config set" assignment.
func setKey(c *cfgpkg.Global, key, val string) error {
	var err error
	switch key {
	case "tableau.server":
		c.Tableau.Server = val
	case "tableau.site":
		c.Tableau.Site = val
	case "tableau.token_name":
		c.Tableau.TokenName = val
	case "tableau.token_secret":
		c.Tableau.TokenSecret = val
	case "tableau.api_version":
		c.Tableau.APIVersion = val
	case "http.connect_timeout_sec":
		c.HTTP.ConnectTimeoutSec, err = parseInt(key, val, 1)
	case "http.read_timeout_sec":
		c.HTTP.ReadTimeoutSec, err = parseInt(key, val, 1)
	case "http.retry_total":
		c.HTTP.RetryTotal, err = parseInt(key, val, 0)
	case "http.max_backoff_sec":
		c.HTTP.MaxBackoffSec, err = parseInt(key, val, 1)
	case "http.backoff_factor_sec":
		f, perr := strconv.ParseFloat(val, 64)
		if perr != nil || f < 0 {
			return fmt.Errorf("invalid float for %s: %v", key, val)
		}
		c.HTTP.BackoffFactorSec = f
	case "http.requests_per_second":
		f, perr := strconv.ParseFloat(val, 64)
		if perr != nil || f < 0 {
			return fmt.Errorf("invalid float for %s: %v", key, val)
		}
		c.HTTP.RequestsPerSecond = f
	case "report.project_name":
		c.Report.ProjectName = val
	case "report.workbook_name_contains":
		c.Report.WorkbookNameContains = val
	case "report.view_url_names":
		c.Report.ViewURLNames = parseList(val)
	case "report.filter_name":
		c.Report.FilterName = val
	case "report.filter_values":
		c.Report.FilterValues = parseList(val)
	case "report.admit_breakdown_filter_values":
		c.Report.AdmitBreakdownFilterValues = parseList(val)
	case "output.dir":
		c.Output.Dir = val
	case "output.file_prefix":
		c.Output.FilePrefix = val
	case "email.provider":
		switch p := mailer.Provider(strings.ToLower(val)); p {
		case mailer.ProviderNone, mailer.ProviderMailgun, mailer.ProviderSendGrid, mailer.ProviderSES, mailer.ProviderSMTP:
			c.Email.Provider = string(p)
		default:
			return fmt.Errorf("invalid email.provider: %s (use none, mailgun, sendgrid, ses or smtp)", val)
		}
	case "email.from":
		c.Email.From = val
	case "email.recipients":
		c.Email.Recipients = val
	case "email.subject_prefix":
		c.Email.SubjectPrefix = val
	case "email.smtp.host":
		c.Email.SMTP.Host = val
	case "email.smtp.port":
		c.Email.SMTP.Port, err = parseInt(key, val, 1)
	case "email.ses.region":
		c.Email.SES.Region = val
	case "email.mailgun.domain":
		c.Email.Mailgun.Domain = val
	case "metrics.pushgateway_url":
		c.Metrics.PushgatewayURL = val
	case "metrics.job":
		c.Metrics.Job = val
	case "history.database_url":
		c.History.DatabaseURL = val
	case "history.schema":
		schema, serr := history.SanitizeSchema(val)
		if serr != nil {
			return serr
		}
		c.History.Schema = schema
	default:
		return fmt.Errorf("unknown key: %s", key)
	}
	return err
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a config value and save to disk",
	Long: `Set a config value and save to disk. Keys use the dotted YAML path, for
example tableau.server or email.recipients. List values are comma separated.
Secrets other than the Tableau token are best kept in the environment.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, val := args[0], args[1]
		if cfg == nil {
			c, err := cfgpkg.Load(cfgFile)
			if err != nil {
				return err
			}
			cfg = c
		}
		if err := setKey(cfg, key, val); err != nil {
			return err
		}
		if err := cfgpkg.Save(cfg, cfgFile); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Saved config")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
