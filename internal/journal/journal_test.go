package journal

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestJSONLRecorderRoundTrip(t *testing.T) {
	dir := t.TempDir()
	tradesPath := filepath.Join(dir, "journal", "trades.jsonl")
	snapsPath := filepath.Join(dir, "journal", "snapshots.jsonl")

	rec, err := NewJSONLRecorder(tradesPath, snapsPath)
	if err != nil {
		t.Fatalf("NewJSONLRecorder returned error: %v", err)
	}

	ts := time.Date(2025, 6, 2, 10, 15, 0, 0, time.UTC)
	rec.RecordTrade(TradeRecord{Ts: ts, Signal: "UP", Contract: "P-BTC-50500", Strike: 50500, Premium: 260, Qty: 5, Side: "SELL", OrderID: "1", Status: "FILLED"})
	rec.RecordSnapshot(Snapshot{Ts: ts, UnderlyingPrice: 50875, TrendValue: 50500, Direction: "UP", Signal: "HOLD"})
	if err := rec.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}
	if err := rec.Close(); err != nil {
		t.Fatalf("second Close must be a no-op, got %v", err)
	}

	f, err := os.Open(tradesPath)
	if err != nil {
		t.Fatalf("open trades: %v", err)
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	if !scanner.Scan() {
		t.Fatalf("expected one trade line")
	}
	var got TradeRecord
	if err := json.Unmarshal(scanner.Bytes(), &got); err != nil {
		t.Fatalf("decode trade line: %v", err)
	}
	if got.Contract != "P-BTC-50500" || got.Qty != 5 {
		t.Fatalf("unexpected trade record: %+v", got)
	}
}

func TestLedgerRecordsAndResets(t *testing.T) {
	l := NewLedger(4)
	l.RecordTrade(TradeRecord{OrderID: "1"})
	l.RecordSnapshot(Snapshot{Direction: "UP"})

	if trades := l.Trades(); len(trades) != 1 || trades[0].OrderID != "1" {
		t.Fatalf("unexpected trades: %+v", trades)
	}
	if snaps := l.Snapshots(); len(snaps) != 1 || snaps[0].Direction != "UP" {
		t.Fatalf("unexpected snapshots: %+v", snaps)
	}

	l.Reset()
	if len(l.Trades()) != 0 || len(l.Snapshots()) != 0 {
		t.Fatalf("expected empty ledger after reset")
	}
}
