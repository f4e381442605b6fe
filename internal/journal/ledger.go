package journal

import "sync"

// Ledger stores records in memory for quick inspection and tests.
type Ledger struct {
	mu     sync.Mutex
	trades []TradeRecord
	snaps  []Snapshot
}

// NewLedger creates an empty ledger optionally pre-sizing storage.
func NewLedger(capacity int) *Ledger {
	if capacity < 0 {
		capacity = 0
	}
	return &Ledger{
		trades: make([]TradeRecord, 0, capacity),
		snaps:  make([]Snapshot, 0, capacity),
	}
}

// RecordTrade appends a trade record.
func (l *Ledger) RecordTrade(rec TradeRecord) {
	l.mu.Lock()
	l.trades = append(l.trades, rec)
	l.mu.Unlock()
}

// RecordSnapshot appends a market snapshot.
func (l *Ledger) RecordSnapshot(s Snapshot) {
	l.mu.Lock()
	l.snaps = append(l.snaps, s)
	l.mu.Unlock()
}

// Trades returns a copy of the recorded trades.
func (l *Ledger) Trades() []TradeRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]TradeRecord, len(l.trades))
	copy(out, l.trades)
	return out
}

// Snapshots returns a copy of the recorded snapshots.
func (l *Ledger) Snapshots() []Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Snapshot, len(l.snaps))
	copy(out, l.snaps)
	return out
}

// Reset clears all stored records.
func (l *Ledger) Reset() {
	l.mu.Lock()
	l.trades = l.trades[:0]
	l.snaps = l.snaps[:0]
	l.mu.Unlock()
}
