package broker

import (
	"context"
	"encoding/json"
	"math"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Tick is one mark-price update from the venue's public stream.
type Tick struct {
	Symbol string
	Price  float64
	Ts     time.Time
}

// Stream maintains a reconnecting websocket subscription to the underlying's
// mark price. It keeps the price cache warm between scheduled cycles so
// status reads and market snapshots do not always need a REST round-trip.
type Stream struct {
	url     string
	symbols []string
	cache   *ValueCache
	log     zerolog.Logger
}

// NewStream builds a stream that writes incoming prices into cache.
func NewStream(url string, symbols []string, cache *ValueCache, log zerolog.Logger) *Stream {
	return &Stream{url: url, symbols: symbols, cache: cache, log: log}
}

type streamEnvelope struct {
	Type      string `json:"type"`
	Symbol    string `json:"symbol"`
	MarkPrice string `json:"mark_price"`
	Timestamp int64  `json:"timestamp"`
}

// Run consumes the stream until ctx is cancelled, reconnecting with capped
// exponential backoff on any transport failure.
func (s *Stream) Run(ctx context.Context, out chan<- Tick) error {
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := s.consume(ctx, out); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.log.Warn().Err(err).Msg("price stream disconnected, retrying")
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			backoff = time.Duration(math.Min(float64(maxBackoff), float64(backoff)*1.8))
			continue
		}
		return nil
	}
}

func (s *Stream) consume(ctx context.Context, out chan<- Tick) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	sub := map[string]any{
		"type": "subscribe",
		"payload": map[string]any{
			"channels": []map[string]any{{"name": "mark_price", "symbols": s.symbols}},
		},
	}
	if err := conn.WriteJSON(sub); err != nil {
		return err
	}
	s.log.Info().Strs("symbols", s.symbols).Msg("connected price stream")

	conn.SetReadLimit(1 << 20)
	conn.SetReadDeadline(time.Now().Add(30 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(30 * time.Second))
		return nil
	})

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					s.log.Warn().Err(err).Msg("stream ping failed")
					return
				}
			case <-pingCtx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		_, message, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var env streamEnvelope
		if err := json.Unmarshal(message, &env); err != nil {
			s.log.Warn().Err(err).Msg("failed to decode stream message")
			continue
		}
		if env.Type != "mark_price" || env.MarkPrice == "" {
			continue
		}
		px, err := strconv.ParseFloat(env.MarkPrice, 64)
		if err != nil {
			s.log.Warn().Str("mark_price", env.MarkPrice).Msg("invalid price on stream")
			continue
		}

		tick := Tick{Symbol: env.Symbol, Price: px, Ts: time.UnixMilli(env.Timestamp)}
		if s.cache != nil {
			s.cache.Put("price:"+env.Symbol, px)
		}
		if out != nil {
			select {
			case out <- tick:
			case <-ctx.Done():
				return ctx.Err()
			default:
				// Slow consumer: drop rather than stall the read loop.
			}
		}
	}
}
