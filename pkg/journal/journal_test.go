package journal

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWriter_WriteCycle(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir)
	w.nowFn = func() time.Time { return time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC) }

	path, err := w.WriteCycle(&CycleRecord{
		Evaluated:   3,
		FetchErrors: 1,
		CashBalance: 98_500,
		Closed: []ClosedPosition{
			{PositionID: "pos-1", Symbol: "BTC", Reason: "STOP_LOSS", ClosePrice: 89, PnL: -110},
		},
	})
	assert.NoError(t, err, "write should succeed")
	assert.Equal(t, filepath.Join(dir, "cycle_20260310_120000_00001.json"), path, "file name should carry timestamp and sequence")

	data, err := os.ReadFile(path)
	assert.NoError(t, err, "the record should be readable back")
	var rec CycleRecord
	assert.NoError(t, json.Unmarshal(data, &rec), "the record should be valid JSON")
	assert.Equal(t, 1, rec.CycleNumber, "the sequence number should be stamped")
	assert.Equal(t, 3, rec.Evaluated, "cycle fields should round-trip")
	if assert.Len(t, rec.Closed, 1, "closes should round-trip") {
		assert.Equal(t, "STOP_LOSS", rec.Closed[0].Reason, "close reason should round-trip")
	}

	// Sequence numbers advance per writer.
	path2, err := w.WriteCycle(&CycleRecord{})
	assert.NoError(t, err, "second write should succeed")
	assert.Contains(t, path2, "_00002.json", "sequence should advance")

	_, err = w.WriteCycle(nil)
	assert.Error(t, err, "a nil record should be rejected")
}
