package reporter

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rutlab/routertest/internal/testharness/engine"
)

// TimestampFormat is the layout of the CSV timestamp column.
const TimestampFormat = "2006-01-02 15:04:05"

// CSVHeader lists the result file columns.
var CSVHeader = []string{"scenario", "status", "details", "timestamp"}

// ResultFileName returns <device>_<YYYYmmdd_HHMMSS>_<modem>_<firmware>.csv.
// Path separators and spaces in the parts are replaced by underscores.
func ResultFileName(device, modem, firmware string, now time.Time) string {
	clean := strings.NewReplacer("/", "_", "\\", "_", " ", "_")
	return fmt.Sprintf("%s_%s_%s_%s.csv",
		clean.Replace(device), now.Format("20060102_150405"),
		clean.Replace(modem), clean.Replace(firmware))
}

// CSVWriter writes result records to a CSV file.
type CSVWriter struct {
	// Now stamps the rows. Defaults to time.Now.
	Now func() time.Time
}

// Write creates path and its parent directory and writes one row per
// record. All rows share one timestamp.
func (w *CSVWriter) Write(path string, records []engine.Record) error {
	now := time.Now
	if w != nil && w.Now != nil {
		now = w.Now
	}
	stamp := now().Format(TimestampFormat)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create results directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create results file: %w", err)
	}

	cw := csv.NewWriter(f)
	if err := cw.Write(CSVHeader); err != nil {
		f.Close()
		return err
	}
	for _, rec := range records {
		details, err := encodeDetails(rec.Details)
		if err != nil {
			f.Close()
			return fmt.Errorf("encode details of %s: %w", rec.Scenario, err)
		}
		if err := cw.Write([]string{rec.Scenario, string(rec.Status), details, stamp}); err != nil {
			f.Close()
			return err
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func encodeDetails(details any) (string, error) {
	switch d := details.(type) {
	case nil:
		return "", nil
	case string:
		return d, nil
	case error:
		return d.Error(), nil
	}
	data, err := json.Marshal(details)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
