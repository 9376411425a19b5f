// Package pipeline turns long-form view exports into the report tables:
// clean, pivot to wide form, order by academic term and add subtotal and
// grand-total rows.
package pipeline

const (
	DefaultTermColumn    = "Application Term"
	DefaultProgramColumn = "Program"

	SubtotalLabel   = "Total"
	GrandTotalLabel = "Grand Total"
)

// Spec configures Process for one kind of report.
type Spec struct {
	DropColumns           []string `mapstructure:"drop_columns" yaml:"drop_columns"`
	RemoveRowIfExactMatch string   `mapstructure:"remove_row_if_exact_match" yaml:"remove_row_if_exact_match"`
	PivotIndexColumns     []string `mapstructure:"pivot_index_columns" yaml:"pivot_index_columns"`
	PivotCategoryColumn   string   `mapstructure:"pivot_category_column" yaml:"pivot_category_column"`
	PivotValueColumn      string   `mapstructure:"pivot_value_column" yaml:"pivot_value_column"`
	// FinalColumnOrder defaults to PivotIndexColumns followed by NumericColumns.
	FinalColumnOrder []string `mapstructure:"final_column_order" yaml:"final_column_order"`
	NumericColumns   []string `mapstructure:"numeric_columns" yaml:"numeric_columns"`
	// SubtotalColumns defaults to NumericColumns.
	SubtotalColumns []string `mapstructure:"subtotal_columns" yaml:"subtotal_columns"`
	TermColumn      string   `mapstructure:"term_column" yaml:"term_column"`
	ProgramColumn   string   `mapstructure:"program_column" yaml:"program_column"`
}

// RawSpec configures ProcessRaw.
type RawSpec struct {
	DropColumns   []string `mapstructure:"drop_columns" yaml:"drop_columns"`
	SelectColumns []string `mapstructure:"select_columns" yaml:"select_columns"`
}

// WithDefaults fills the optional fields.
func (s Spec) WithDefaults() Spec {
	if s.TermColumn == "" {
		s.TermColumn = DefaultTermColumn
	}
	if s.ProgramColumn == "" {
		s.ProgramColumn = DefaultProgramColumn
	}
	if len(s.FinalColumnOrder) == 0 {
		s.FinalColumnOrder = append(append([]string(nil), s.PivotIndexColumns...), s.NumericColumns...)
	}
	if len(s.SubtotalColumns) == 0 {
		s.SubtotalColumns = append([]string(nil), s.NumericColumns...)
	}
	return s
}
