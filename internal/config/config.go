package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/KaramelBytes/admissions-report/internal/pipeline"
	"github.com/KaramelBytes/admissions-report/internal/report"
)

const (
	EnvPrefix = "ADMREPORT"
	dirName   = ".admreport"
	dotEnv    = ".env"
)

// Global configuration structure.
type Global struct {
	Tableau TableauConfig `mapstructure:"tableau" yaml:"tableau"`
	HTTP    HTTPConfig    `mapstructure:"http" yaml:"http"`
	Report  ReportConfig  `mapstructure:"report" yaml:"report"`
	Output  OutputConfig  `mapstructure:"output" yaml:"output"`
	Email   EmailConfig   `mapstructure:"email" yaml:"email"`
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
	History HistoryConfig `mapstructure:"history" yaml:"history"`
}

type TableauConfig struct {
	Server      string `mapstructure:"server" yaml:"server"`
	Site        string `mapstructure:"site" yaml:"site"`
	TokenName   string `mapstructure:"token_name" yaml:"token_name"`
	TokenSecret string `mapstructure:"token_secret" yaml:"token_secret"`
	APIVersion  string `mapstructure:"api_version" yaml:"api_version"`
}

// HTTP/Retry configuration
type HTTPConfig struct {
	ConnectTimeoutSec int     `mapstructure:"connect_timeout_sec" yaml:"connect_timeout_sec"`
	ReadTimeoutSec    int     `mapstructure:"read_timeout_sec" yaml:"read_timeout_sec"`
	RetryTotal        int     `mapstructure:"retry_total" yaml:"retry_total"`
	BackoffFactorSec  float64 `mapstructure:"backoff_factor_sec" yaml:"backoff_factor_sec"`
	MaxBackoffSec     int     `mapstructure:"max_backoff_sec" yaml:"max_backoff_sec"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second" yaml:"requests_per_second"`
}

// SheetMapping names the worksheet written for a view.
type SheetMapping struct {
	URLName   string `mapstructure:"url_name" yaml:"url_name"`
	SheetName string `mapstructure:"sheet_name" yaml:"sheet_name"`
}

type ReportConfig struct {
	ProjectName          string         `mapstructure:"project_name" yaml:"project_name"`
	WorkbookNameContains string         `mapstructure:"workbook_name_contains" yaml:"workbook_name_contains"`
	ViewURLNames         []string       `mapstructure:"view_url_names" yaml:"view_url_names"`
	Sheets               []SheetMapping `mapstructure:"sheets" yaml:"sheets"`
	Routes               report.Routes  `mapstructure:"routes" yaml:"routes"`
	FilterName           string         `mapstructure:"filter_name" yaml:"filter_name"`
	FilterValues         []string       `mapstructure:"filter_values" yaml:"filter_values"`
	// Filter values for the admit breakdown view; empty uses FilterValues.
	AdmitBreakdownFilterValues []string         `mapstructure:"admit_breakdown_filter_values" yaml:"admit_breakdown_filter_values"`
	Progress                   pipeline.Spec    `mapstructure:"progress" yaml:"progress"`
	AdmitBreakdown             pipeline.Spec    `mapstructure:"admit_breakdown" yaml:"admit_breakdown"`
	RawData                    pipeline.RawSpec `mapstructure:"raw_data" yaml:"raw_data"`
}

type OutputConfig struct {
	Dir        string `mapstructure:"dir" yaml:"dir"`
	FilePrefix string `mapstructure:"file_prefix" yaml:"file_prefix"`
}

type MailgunConfig struct {
	Domain  string `mapstructure:"domain" yaml:"domain"`
	APIKey  string `mapstructure:"api_key" yaml:"api_key"`
	APIBase string `mapstructure:"api_base" yaml:"api_base"`
}

type SendGridConfig struct {
	APIKey string `mapstructure:"api_key" yaml:"api_key"`
}

// SESConfig only carries the region; credentials come from the AWS default chain.
type SESConfig struct {
	Region string `mapstructure:"region" yaml:"region"`
}

type SMTPConfig struct {
	Host     string `mapstructure:"host" yaml:"host"`
	Port     int    `mapstructure:"port" yaml:"port"`
	Username string `mapstructure:"username" yaml:"username"`
	Password string `mapstructure:"password" yaml:"password"`
}

type EmailConfig struct {
	Provider string `mapstructure:"provider" yaml:"provider"`
	From     string `mapstructure:"from" yaml:"from"`
	// Recipients is semicolon-delimited.
	Recipients    string         `mapstructure:"recipients" yaml:"recipients"`
	SubjectPrefix string         `mapstructure:"subject_prefix" yaml:"subject_prefix"`
	Greeting      string         `mapstructure:"greeting" yaml:"greeting"`
	Signature     string         `mapstructure:"signature" yaml:"signature"`
	Mailgun       MailgunConfig  `mapstructure:"mailgun" yaml:"mailgun"`
	SendGrid      SendGridConfig `mapstructure:"sendgrid" yaml:"sendgrid"`
	SES           SESConfig      `mapstructure:"ses" yaml:"ses"`
	SMTP          SMTPConfig     `mapstructure:"smtp" yaml:"smtp"`
}

type MetricsConfig struct {
	PushgatewayURL string `mapstructure:"pushgateway_url" yaml:"pushgateway_url"`
	Job            string `mapstructure:"job" yaml:"job"`
}

type HistoryConfig struct {
	DatabaseURL string `mapstructure:"database_url" yaml:"database_url"`
	Schema      string `mapstructure:"schema" yaml:"schema"`
}

// envAliases are the plain variable names accepted next to the prefixed ones.
var envAliases = map[string][]string{
	"tableau.server":         {"TABLEAU_SERVER"},
	"tableau.site":           {"TABLEAU_SITE"},
	"tableau.token_name":     {"TABLEAU_TOKEN_NAME"},
	"tableau.token_secret":   {"TABLEAU_TOKEN_SECRET"},
	"tableau.api_version":    {"TABLEAU_API_VERSION"},
	"output.dir":             {"OUTPUT_DIR"},
	"email.recipients":       {"EMAIL_RECIPIENTS"},
	"email.mailgun.domain":   {"MAILGUN_DOMAIN"},
	"email.mailgun.api_key":  {"MAILGUN_API_KEY"},
	"email.sendgrid.api_key": {"SENDGRID_API_KEY"},
	"email.ses.region":       {"AWS_REGION"},
	"history.database_url":   {"DATABASE_URL"},
}

func defaultDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	return filepath.Join(home, dirName), nil
}

// Save writes the given configuration to the cfgFile path. If cfgFile is empty,
// it writes to ~/.admreport/config.yaml, creating the directory if necessary.
func Save(c *Global, cfgFile string) error {
	var path string
	if cfgFile != "" {
		path = cfgFile
	} else {
		dir, err := defaultDir()
		if err != nil {
			return err
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("mkdir config dir: %w", err)
		}
		path = filepath.Join(dir, "config.yaml")
	}
	b, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal yaml: %w", err)
	}
	if err := os.WriteFile(path, b, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Load loads configuration from file, env, a .env file in the working
// directory, and defaults.
// Precedence: env (including .env) > config file > defaults.
func Load(cfgFile string) (*Global, error) {
	return load(cfgFile, dotEnv)
}

func load(cfgFile, dotEnvPath string) (*Global, error) {
	if err := applyDotEnv(dotEnvPath); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	for key, aliases := range envAliases {
		envKey := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(append([]string{key, envKey}, aliases...)...); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	// Config file
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		dir, err := defaultDir()
		if err != nil {
			return nil, err
		}
		v.AddConfigPath(dir)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var c Global
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &c, nil
}

// applyDotEnv exports KEY=VALUE pairs from path for variables that are not
// already set. A missing file is not an error.
func applyDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("stat %s: %w", path, err)
	}
	ev := viper.New()
	ev.SetConfigFile(path)
	ev.SetConfigType("env")
	if err := ev.ReadInConfig(); err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	for _, key := range ev.AllKeys() {
		name := strings.ToUpper(key)
		if _, set := os.LookupEnv(name); set {
			continue
		}
		if err := os.Setenv(name, ev.GetString(key)); err != nil {
			return fmt.Errorf("export %s: %w", name, err)
		}
	}
	return nil
}
