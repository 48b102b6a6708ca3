package journal

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// CycleRecord captures one risk-monitor evaluation cycle for audit.
type CycleRecord struct {
	Timestamp   time.Time        `json:"timestamp"`
	CycleNumber int              `json:"cycle_number"`
	Evaluated   int              `json:"evaluated"`
	Closed      []ClosedPosition `json:"closed,omitempty"`
	Stale       []string         `json:"stale,omitempty"`
	FetchErrors int              `json:"fetch_errors"`
	RiskSweep   bool             `json:"risk_sweep"`
	CashBalance float64          `json:"cash_balance"`
	RealizedPnL float64          `json:"realized_pnl"`
	Extra       map[string]any   `json:"extra,omitempty"`
}

// ClosedPosition summarises a close executed during the cycle.
type ClosedPosition struct {
	PositionID string  `json:"position_id"`
	Symbol     string  `json:"symbol"`
	Reason     string  `json:"reason"`
	ClosePrice float64 `json:"close_price"`
	PnL        float64 `json:"pnl"`
}

// Writer persists cycle records to a directory as JSON files.
type Writer struct {
	dir   string
	seq   int
	nowFn func() time.Time
}

// NewWriter constructs a journal writer.
func NewWriter(dir string) *Writer {
	if dir == "" {
		dir = "journal"
	}
	_ = os.MkdirAll(dir, 0o755)
	return &Writer{dir: dir, nowFn: time.Now}
}

// WriteCycle writes a cycle record to a timestamped JSON file.
func (w *Writer) WriteCycle(rec *CycleRecord) (string, error) {
	if rec == nil {
		return "", fmt.Errorf("journal: nil record")
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = w.nowFn()
	}
	w.seq++
	rec.CycleNumber = w.seq
	name := fmt.Sprintf("cycle_%s_%05d.json", rec.Timestamp.UTC().Format("20060102_150405"), w.seq)
	path := filepath.Join(w.dir, name)
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}
