// Package journal persists append-only trade and market records for later analysis.
package journal

import "time"

// TradeRecord captures one order-level event in the position lifecycle.
type TradeRecord struct {
	Ts       time.Time `json:"ts"`
	Signal   string    `json:"signal"`
	Contract string    `json:"contract"`
	Strike   float64   `json:"strike"`
	Premium  float64   `json:"premium"`
	Qty      int       `json:"qty"`
	Side     string    `json:"side"`
	OrderID  string    `json:"order_id"`
	Status   string    `json:"status"`
	PnL      float64   `json:"pnl,omitempty"`
	Notes    string    `json:"notes,omitempty"`
}

// Snapshot captures the market view at one evaluation cycle.
type Snapshot struct {
	Ts              time.Time `json:"ts"`
	UnderlyingPrice float64   `json:"underlying_price"`
	TrendValue      float64   `json:"trend_value"`
	Direction       string    `json:"direction"`
	Signal          string    `json:"signal"`
}

// Recorder receives trade and snapshot records. Implementations must be safe
// for concurrent use.
type Recorder interface {
	RecordTrade(TradeRecord)
	RecordSnapshot(Snapshot)
}

// Nop discards all records.
type Nop struct{}

func (Nop) RecordTrade(TradeRecord) {}
func (Nop) RecordSnapshot(Snapshot) {}
