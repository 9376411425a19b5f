package config

import (
	"github.com/spf13/viper"

	"github.com/KaramelBytes/admissions-report/internal/history"
	"github.com/KaramelBytes/admissions-report/internal/pipeline"
	"github.com/KaramelBytes/admissions-report/internal/tableau"
	"github.com/KaramelBytes/admissions-report/internal/utils"
)

const (
	progressView       = "Applicants-SubmittedQualifiedAdmittedWaitListedDepositedTable"
	rawDataView        = "PowerCampusApplicantDownload"
	admitBreakdownView = "SubmittedApplicantStatusDetailed"
)

var indexColumns = []string{"Application Term", "Program", "CURRICULUM", "DEGREE"}

var progressCounts = []string{
	"Submitted Applicants", "Qualified Applicants",
	"Admitted Applicants", "Wait Listed", "Deposited", "Enrolled",
}

var admitBreakdownCounts = []string{
	"Submitted Applicants",
	"Admitted and Deposited",
	"Admitted with Deposit, Deferred to Future Term",
	"Admitted Without Deposit",
	"Admitted, Not Coming After Deposit",
	"Admitted, Not Coming, No Deposit",
	"Withdrawn Before Decision",
	"Withdrawn After Registration",
	"Under Admission+Faculty Review/In Process",
}

func detailedSpec(counts []string) pipeline.Spec {
	return pipeline.Spec{
		DropColumns:           []string{"ApplicationTerm Order"},
		RemoveRowIfExactMatch: "All",
		PivotIndexColumns:     indexColumns,
		PivotCategoryColumn:   "Measure Names",
		PivotValueColumn:      "Measure Values",
		FinalColumnOrder:      append(append([]string(nil), indexColumns...), counts...),
		NumericColumns:        counts,
		SubtotalColumns:       counts,
		TermColumn:            pipeline.DefaultTermColumn,
		ProgramColumn:         pipeline.DefaultProgramColumn,
	}
}

func setSpecDefaults(v *viper.Viper, prefix string, s pipeline.Spec) {
	v.SetDefault(prefix+".drop_columns", s.DropColumns)
	v.SetDefault(prefix+".remove_row_if_exact_match", s.RemoveRowIfExactMatch)
	v.SetDefault(prefix+".pivot_index_columns", s.PivotIndexColumns)
	v.SetDefault(prefix+".pivot_category_column", s.PivotCategoryColumn)
	v.SetDefault(prefix+".pivot_value_column", s.PivotValueColumn)
	v.SetDefault(prefix+".final_column_order", s.FinalColumnOrder)
	v.SetDefault(prefix+".numeric_columns", s.NumericColumns)
	v.SetDefault(prefix+".subtotal_columns", s.SubtotalColumns)
	v.SetDefault(prefix+".term_column", s.TermColumn)
	v.SetDefault(prefix+".program_column", s.ProgramColumn)
}

func setDefaults(v *viper.Viper) {
	// Tableau
	v.SetDefault("tableau.server", "")
	v.SetDefault("tableau.site", "")
	v.SetDefault("tableau.token_name", "")
	v.SetDefault("tableau.token_secret", "")
	v.SetDefault("tableau.api_version", tableau.DefaultAPIVersion)

	// HTTP/retry defaults
	v.SetDefault("http.connect_timeout_sec", 10)
	v.SetDefault("http.read_timeout_sec", 30)
	v.SetDefault("http.retry_total", 3)
	v.SetDefault("http.backoff_factor_sec", 0.5)
	v.SetDefault("http.max_backoff_sec", 120)
	v.SetDefault("http.requests_per_second", 0.0)

	// Report
	v.SetDefault("report.project_name", "Admissions Pipeline")
	v.SetDefault("report.workbook_name_contains", "Student_Lifecycle_Pipeline")
	v.SetDefault("report.view_url_names", []string{progressView, rawDataView, admitBreakdownView})
	v.SetDefault("report.sheets", []map[string]any{
		{"url_name": progressView, "sheet_name": "Progress Report"},
		{"url_name": rawDataView, "sheet_name": "Raw Data"},
		{"url_name": admitBreakdownView, "sheet_name": "Application Status Breakdown"},
	})
	v.SetDefault("report.routes.progress", progressView)
	v.SetDefault("report.routes.admit_breakdown", admitBreakdownView)
	v.SetDefault("report.routes.raw_data", rawDataView)
	v.SetDefault("report.filter_name", "Application Term")
	v.SetDefault("report.filter_values", []string{"SUMMER 2025", "FALL 2025", "SPRING 2025"})
	v.SetDefault("report.admit_breakdown_filter_values", []string{"FALL 2025"})
	setSpecDefaults(v, "report.progress", detailedSpec(progressCounts))
	setSpecDefaults(v, "report.admit_breakdown", detailedSpec(admitBreakdownCounts))
	v.SetDefault("report.raw_data.drop_columns", []string{
		"Blank", "Month, Day, Year of Data Refresh Date", "Index", "Count of FIRST_NAME",
	})
	v.SetDefault("report.raw_data.select_columns", []string{
		"PEOPLE_CODE_ID", "FIRST_NAME", "LAST_NAME", "Personal_EMAIL", "SMU_EMAIL",
		"Application Term", "Program", "CURRICULUM", "DEGREE", "Campus",
		"ACADEMIC_SESSION", "APP_DECISION", "Submitted Applicant Decision",
		"APP_STATUS", "Submitted Applicant Status", "ENROLL_SEPARATION",
		"APPLICATION_DATE", "ACADEMIC_FLAG",
	})

	// Output
	v.SetDefault("output.dir", "output_reports")
	v.SetDefault("output.file_prefix", utils.DefaultReportPrefix)

	// Email
	v.SetDefault("email.provider", "none")
	v.SetDefault("email.from", "")
	v.SetDefault("email.recipients", "")
	v.SetDefault("email.subject_prefix", "Weekly Admissions Report")
	v.SetDefault("email.greeting", "Hi team,\nPlease find the latest admissions report attached to this email.")
	v.SetDefault("email.signature", "Thanks,\nAutomated Report System")
	v.SetDefault("email.mailgun.domain", "")
	v.SetDefault("email.mailgun.api_key", "")
	v.SetDefault("email.mailgun.api_base", "")
	v.SetDefault("email.sendgrid.api_key", "")
	v.SetDefault("email.ses.region", "")
	v.SetDefault("email.smtp.host", "")
	v.SetDefault("email.smtp.port", 587)
	v.SetDefault("email.smtp.username", "")
	v.SetDefault("email.smtp.password", "")

	// Metrics and history are off unless a target is configured.
	v.SetDefault("metrics.pushgateway_url", "")
	v.SetDefault("metrics.job", "admissions_report")
	v.SetDefault("history.database_url", "")
	v.SetDefault("history.schema", history.DefaultSchema)
}
