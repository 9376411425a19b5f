package report

// Kind selects the transform and styling for a view.
type Kind int

const (
	KindPassThrough Kind = iota
	KindProgress
	KindAdmitBreakdown
	KindRawData
)

func (k Kind) String() string {
	switch k {
	case KindProgress:
		return "progress"
	case KindAdmitBreakdown:
		return "admit_breakdown"
	case KindRawData:
		return "raw_data"
	default:
		return "pass_through"
	}
}

// Detailed reports carry term blocks, subtotals and a grand total.
func (k Kind) Detailed() bool { return k == KindProgress || k == KindAdmitBreakdown }

// Routes names the view url name handled by each report kind.
type Routes struct {
	Progress       string `mapstructure:"progress" yaml:"progress"`
	AdmitBreakdown string `mapstructure:"admit_breakdown" yaml:"admit_breakdown"`
	RawData        string `mapstructure:"raw_data" yaml:"raw_data"`
}

// KindFor maps a view url name to its report kind. Anything unrouted is
// KindPassThrough.
func (r Routes) KindFor(viewURLName string) Kind {
	switch {
	case viewURLName == "":
		return KindPassThrough
	case viewURLName == r.Progress:
		return KindProgress
	case viewURLName == r.AdmitBreakdown:
		return KindAdmitBreakdown
	case viewURLName == r.RawData:
		return KindRawData
	default:
		return KindPassThrough
	}
}
