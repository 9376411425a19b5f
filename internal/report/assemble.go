// Package report fetches each selected view, runs the transform for its
// kind and collects the resulting sheets. A view that fails becomes an
// error sheet instead of aborting the run.
package report

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	tl "github.com/tuumbleweed/tintlog/logger"
	"github.com/tuumbleweed/tintlog/palette"
	"github.com/zeebo/xxh3"

	"github.com/KaramelBytes/admissions-report/internal/metrics"
	"github.com/KaramelBytes/admissions-report/internal/pipeline"
	"github.com/KaramelBytes/admissions-report/internal/table"
	"github.com/KaramelBytes/admissions-report/internal/tableau"
)

const (
	maxSheetName      = 31
	maxErrorSheetBase = 25
	errorSheetPrefix  = "ERROR_"
	ErrorColumn       = "Error"
)

// Fetcher downloads view data as CSV. *tableau.Client implements it.
type Fetcher interface {
	FetchViewDataCSV(ctx context.Context, viewID, filterName string, filterValues []string) ([]byte, error)
}

// Config describes how views map to sheets and transforms.
type Config struct {
	Routes     Routes
	SheetNames map[string]string
	FilterName string
	// DefaultFilterValues apply unless FilterOverrides has the view's kind.
	DefaultFilterValues []string
	FilterOverrides     map[Kind][]string
	Progress            pipeline.Spec
	AdmitBreakdown      pipeline.Spec
	RawData             pipeline.RawSpec
	// Job labels metrics.
	Job string
}

// Sheet is one worksheet of the report.
type Sheet struct {
	Name  string
	Kind  Kind
	View  tableau.View
	Table table.Table
	// Err is set on error sheets.
	Err error
	// Fingerprint is the xxh3 hash of the fetched CSV, 0 when nothing was fetched.
	Fingerprint uint64
}

func (s Sheet) Failed() bool { return s.Err != nil }

type Assembler struct {
	fetcher Fetcher
	cfg     Config
}

func New(f Fetcher, cfg Config) *Assembler {
	return &Assembler{fetcher: f, cfg: cfg}
}

// Build processes views one at a time, in order.
func (a *Assembler) Build(ctx context.Context, views []tableau.View) []Sheet {
	sheets := make([]Sheet, 0, len(views))
	for _, v := range views {
		if v.ID == "" || v.ViewURLName == "" {
			tl.Log(tl.Warning, palette.PurpleBright, "Skipping view '%s' without id or url name", v.DisplayName())
			continue
		}
		if err := ctx.Err(); err != nil {
			tl.Log(tl.Warning, palette.PurpleBright, "Stopping before view '%s': %s", v.DisplayName(), err)
			break
		}
		sheets = append(sheets, a.buildOne(ctx, v))
	}
	return sheets
}

func (a *Assembler) buildOne(ctx context.Context, v tableau.View) (sheet Sheet) {
	kind := a.cfg.Routes.KindFor(v.ViewURLName)
	name := a.SheetName(v.ViewURLName)
	sheet = Sheet{Name: name, Kind: kind, View: v}
	tl.Log(tl.Notice, palette.BlueBold, "Processing view '%s' as '%s' (%s)", v.DisplayName(), name, kind)

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			sheet = a.errorSheet(sheet, fmt.Errorf("panic: %v", r))
		}
		metrics.RecordStep(a.cfg.Job, "view", sheet.Err, time.Since(start))
		metrics.RecordSheet(a.cfg.Job, kind.String(), sheet.Table.Len(), sheet.Err)
	}()

	data, err := a.fetcher.FetchViewDataCSV(ctx, v.ID, a.cfg.FilterName, a.filterValues(kind))
	if err != nil {
		return a.errorSheet(sheet, err)
	}
	sheet.Fingerprint = xxh3.Hash(data)
	tl.Log(tl.Verbose, palette.CyanDim, "View '%s' payload %d bytes, fingerprint %016x", v.ViewURLName, len(data), sheet.Fingerprint)

	raw, err := table.ParseCSV(data)
	if err != nil {
		return a.errorSheet(sheet, fmt.Errorf("parse csv: %w", err))
	}
	out, err := a.transform(kind, raw)
	if err != nil {
		return a.errorSheet(sheet, err)
	}
	sheet.Table = out
	tl.Log(tl.Info1, palette.Green, "Sheet '%s' ready: %d rows x %d columns", name, out.Len(), out.Width())
	return sheet
}

func (a *Assembler) transform(kind Kind, t table.Table) (table.Table, error) {
	switch kind {
	case KindProgress:
		return pipeline.Process(t, a.cfg.Progress)
	case KindAdmitBreakdown:
		return pipeline.Process(t, a.cfg.AdmitBreakdown)
	case KindRawData:
		return pipeline.ProcessRaw(t, a.cfg.RawData), nil
	case KindPassThrough:
		return t, nil
	default:
		return table.Table{}, fmt.Errorf("unhandled report kind %d", kind)
	}
}

func (a *Assembler) filterValues(kind Kind) []string {
	if vals, ok := a.cfg.FilterOverrides[kind]; ok && len(vals) > 0 {
		return vals
	}
	return a.cfg.DefaultFilterValues
}

// SheetName returns the configured sheet name for a view, falling back to
// the url name cut to the worksheet name limit.
func (a *Assembler) SheetName(viewURLName string) string {
	if name, ok := a.cfg.SheetNames[viewURLName]; ok && name != "" {
		return name
	}
	return truncate(viewURLName, maxSheetName)
}

func (a *Assembler) errorSheet(s Sheet, err error) Sheet {
	msg := fmt.Sprintf("Could not load/process data for view %s: %v", s.View.DisplayName(), err)
	tl.Log(tl.Error, palette.RedBold, "%s", msg)
	return Sheet{
		Name:        ErrorSheetName(s.Name),
		Kind:        s.Kind,
		View:        s.View,
		Table:       table.MustNew([]string{ErrorColumn}, [][]table.Value{{table.Str(msg)}}),
		Err:         err,
		Fingerprint: s.Fingerprint,
	}
}

// ErrorSheetName prefixes the sheet name, keeping the result within the
// worksheet name limit.
func ErrorSheetName(name string) string {
	return errorSheetPrefix + truncate(name, maxErrorSheetBase)
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
