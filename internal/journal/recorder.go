package journal

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
)

// JSONLRecorder appends trade and snapshot records as JSON lines to two files.
type JSONLRecorder struct {
	mu        sync.Mutex
	trades    *os.File
	tradeEnc  *json.Encoder
	snaps     *os.File
	snapEnc   *json.Encoder
}

// NewJSONLRecorder creates/opens both target files and returns a recorder.
func NewJSONLRecorder(tradesPath, snapshotsPath string) (*JSONLRecorder, error) {
	trades, err := openAppend(tradesPath)
	if err != nil {
		return nil, err
	}
	snaps, err := openAppend(snapshotsPath)
	if err != nil {
		trades.Close()
		return nil, err
	}
	return &JSONLRecorder{
		trades:   trades,
		tradeEnc: json.NewEncoder(trades),
		snaps:    snaps,
		snapEnc:  json.NewEncoder(snaps),
	}, nil
}

func openAppend(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
}

// RecordTrade writes a single trade record to the trades file.
func (r *JSONLRecorder) RecordTrade(rec TradeRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_ = r.tradeEnc.Encode(rec)
}

// RecordSnapshot writes a single market snapshot to the snapshots file.
func (r *JSONLRecorder) RecordSnapshot(s Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_ = r.snapEnc.Encode(s)
}

// Close flushes and closes both file handles.
func (r *JSONLRecorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var firstErr error
	for _, f := range []**os.File{&r.trades, &r.snaps} {
		if *f == nil {
			continue
		}
		if err := (*f).Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		*f = nil
	}
	return firstErr
}
