// Package market standardizes payloads shared between data ingestion and decision layers.
package market

import (
	"errors"
	"sort"
	"time"
)

// Direction expresses the trend bias carried by a Signal.
type Direction int

const (
	// Undefined means the indicator has not seen enough data to commit.
	Undefined Direction = 0
	// Up marks an established uptrend.
	Up Direction = 1
	// Down marks an established downtrend.
	Down Direction = -1
)

// String renders the direction for logs and journal records.
func (d Direction) String() string {
	switch d {
	case Up:
		return "UP"
	case Down:
		return "DOWN"
	default:
		return "UNDEFINED"
	}
}

// Candle models one OHLCV bar of the underlying.
type Candle struct {
	Ts     time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// Signal expresses the trend decision produced for one evaluation cycle.
type Signal struct {
	Direction       Direction
	Confidence      float64 // in [0,1]
	TrendChange     bool
	TrendValue      float64
	UnderlyingPrice float64
	Ts              time.Time
}

// Hold reports whether the signal carries no tradable bias.
func (s Signal) Hold() bool { return s.Direction == Undefined }

// ErrEmptySeries is returned when a candle series has no usable bars.
var ErrEmptySeries = errors.New("empty candle series")

// Normalize sorts candles ascending by timestamp and drops duplicate bars,
// keeping the last bar seen for each timestamp. Broker feeds occasionally
// repeat or reorder bars around reconnects.
func Normalize(candles []Candle) ([]Candle, error) {
	if len(candles) == 0 {
		return nil, ErrEmptySeries
	}
	out := make([]Candle, len(candles))
	copy(out, candles)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Ts.Before(out[j].Ts) })

	dedup := out[:0]
	for _, c := range out {
		if n := len(dedup); n > 0 && dedup[n-1].Ts.Equal(c.Ts) {
			dedup[n-1] = c
			continue
		}
		dedup = append(dedup, c)
	}
	return dedup, nil
}
