package utils

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultReportPrefix names generated workbooks: "<prefix> YYYY-MM-DD.xlsx".
const DefaultReportPrefix = "Admissions Report"

// EnsureDir ensures the provided directory exists.
func EnsureDir(dir string) error {
	return os.MkdirAll(dir, 0o755)
}

// SafeWriteFile writes data to a temp file and atomically renames it into place.
func SafeWriteFile(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("atomic rename: %w", err)
	}
	return nil
}

// ReportPath returns the workbook path for a run on the given day. An empty
// prefix uses DefaultReportPrefix.
func ReportPath(dir, prefix string, day time.Time) string {
	if prefix == "" {
		prefix = DefaultReportPrefix
	}
	return filepath.Join(dir, fmt.Sprintf("%s %s.xlsx", prefix, day.Format("2006-01-02")))
}

// PrettyJSON marshals a value as indented JSON.
func PrettyJSON(v any) ([]byte, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal json: %w", err)
	}
	return b, nil
}
