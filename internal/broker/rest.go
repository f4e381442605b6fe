package broker

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/bipulsin/trademanthan-sub001/internal/market"
	"github.com/bipulsin/trademanthan-sub001/internal/options"
)

// RESTConfig carries venue connectivity parameters.
type RESTConfig struct {
	BaseURL    string
	APIKey     string
	APISecret  string
	Underlying string
	// RatePerSec caps outbound request rate; venues throttle hard above ~10/s.
	RatePerSec float64
}

// RESTClient talks to the derivatives venue over signed HTTP requests.
type RESTClient struct {
	cfg     RESTConfig
	httpc   *http.Client
	limiter *rate.Limiter
	log     zerolog.Logger
	now     func() time.Time
}

// NewRESTClient builds a rate-limited REST client.
func NewRESTClient(cfg RESTConfig, log zerolog.Logger) *RESTClient {
	perSec := cfg.RatePerSec
	if perSec <= 0 {
		perSec = 8
	}
	return &RESTClient{
		cfg:     cfg,
		httpc:   &http.Client{Timeout: 10 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(perSec), int(perSec)),
		log:     log,
		now:     time.Now,
	}
}

type candlePayload struct {
	Result []struct {
		Time   int64   `json:"time"`
		Open   float64 `json:"open"`
		High   float64 `json:"high"`
		Low    float64 `json:"low"`
		Close  float64 `json:"close"`
		Volume float64 `json:"volume"`
	} `json:"result"`
}

type balancePayload struct {
	Result []struct {
		AssetSymbol      string `json:"asset_symbol"`
		AvailableBalance string `json:"available_balance"`
	} `json:"result"`
}

type productsPayload struct {
	Result []struct {
		Symbol         string `json:"symbol"`
		StrikePrice    string `json:"strike_price"`
		SettlementTime string `json:"settlement_time"`
		ContractType   string `json:"contract_type"`
		MarkPrice      string `json:"mark_price"`
	} `json:"result"`
}

type tickerPayload struct {
	Result struct {
		MarkPrice string `json:"mark_price"`
	} `json:"result"`
}

type orderPayload struct {
	Result orderBody `json:"result"`
}

type ordersPayload struct {
	Result []orderBody `json:"result"`
}

type orderBody struct {
	ID               json.Number `json:"id"`
	Symbol           string      `json:"product_symbol"`
	Side             string      `json:"side"`
	Size             int         `json:"size"`
	LimitPrice       string      `json:"limit_price"`
	State            string      `json:"state"`
	AverageFillPrice string      `json:"average_fill_price"`
	CreatedAt        string      `json:"created_at"`
}

type positionsPayload struct {
	Result []struct {
		Symbol     string `json:"product_symbol"`
		Size       int    `json:"size"`
		EntryPrice string `json:"entry_price"`
	} `json:"result"`
}

// GetCandles fetches the most recent OHLCV window for the underlying.
func (c *RESTClient) GetCandles(ctx context.Context, symbol, interval string, limit int) ([]market.Candle, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("resolution", interval)
	q.Set("limit", strconv.Itoa(limit))

	var payload candlePayload
	if err := c.call(ctx, http.MethodGet, "/v2/history/candles", q, nil, &payload); err != nil {
		return nil, err
	}
	out := make([]market.Candle, 0, len(payload.Result))
	for _, r := range payload.Result {
		out = append(out, market.Candle{
			Ts:     time.Unix(r.Time, 0).UTC(),
			Open:   r.Open,
			High:   r.High,
			Low:    r.Low,
			Close:  r.Close,
			Volume: r.Volume,
		})
	}
	return market.Normalize(out)
}

// GetBalance returns the available settlement-asset balance.
func (c *RESTClient) GetBalance(ctx context.Context) (float64, error) {
	var payload balancePayload
	if err := c.call(ctx, http.MethodGet, "/v2/wallet/balances", nil, nil, &payload); err != nil {
		return 0, err
	}
	var total float64
	for _, b := range payload.Result {
		v, err := strconv.ParseFloat(b.AvailableBalance, 64)
		if err != nil {
			continue
		}
		total += v
	}
	return total, nil
}

// GetAllProducts returns the option catalog for the configured underlying.
func (c *RESTClient) GetAllProducts(ctx context.Context) ([]options.Contract, error) {
	q := url.Values{}
	q.Set("contract_types", "call_options,put_options")
	q.Set("underlying_asset_symbols", c.cfg.Underlying)

	var payload productsPayload
	if err := c.call(ctx, http.MethodGet, "/v2/products", q, nil, &payload); err != nil {
		return nil, err
	}
	out := make([]options.Contract, 0, len(payload.Result))
	for _, p := range payload.Result {
		strike, err := strconv.ParseFloat(p.StrikePrice, 64)
		if err != nil {
			continue
		}
		expiry, err := time.Parse(time.RFC3339, p.SettlementTime)
		if err != nil {
			continue
		}
		ctype := options.Call
		if p.ContractType == "put_options" {
			ctype = options.Put
		}
		premium, _ := strconv.ParseFloat(p.MarkPrice, 64)
		out = append(out, options.Contract{
			Symbol:  p.Symbol,
			Strike:  strike,
			Expiry:  expiry,
			Type:    ctype,
			Premium: premium,
		})
	}
	return out, nil
}

// GetOptionPremium returns the current mark price of a contract.
func (c *RESTClient) GetOptionPremium(ctx context.Context, symbol string) (float64, error) {
	var payload tickerPayload
	if err := c.call(ctx, http.MethodGet, "/v2/tickers/"+symbol, nil, nil, &payload); err != nil {
		return 0, err
	}
	return strconv.ParseFloat(payload.Result.MarkPrice, 64)
}

// PlaceOrder submits an order, tagging it with a fresh client order ID.
func (c *RESTClient) PlaceOrder(ctx context.Context, req OrderRequest) (OrderAck, error) {
	if req.ClientID == "" {
		req.ClientID = uuid.NewString()
	}
	body := map[string]any{
		"product_symbol":  req.Symbol,
		"side":            string(req.Side),
		"size":            req.Qty,
		"client_order_id": req.ClientID,
	}
	if req.Price > 0 {
		body["order_type"] = "limit_order"
		body["limit_price"] = strconv.FormatFloat(req.Price, 'f', -1, 64)
	} else {
		body["order_type"] = "market_order"
	}

	var payload orderPayload
	if err := c.call(ctx, http.MethodPost, "/v2/orders", nil, body, &payload); err != nil {
		return OrderAck{}, err
	}
	fill, _ := strconv.ParseFloat(payload.Result.AverageFillPrice, 64)
	return OrderAck{
		OrderID:   payload.Result.ID.String(),
		Status:    mapOrderState(payload.Result.State),
		FillPrice: fill,
	}, nil
}

// CancelOrder cancels an open order by venue ID.
func (c *RESTClient) CancelOrder(ctx context.Context, orderID string) error {
	return c.call(ctx, http.MethodDelete, "/v2/orders/"+orderID, nil, nil, nil)
}

// GetOpenOrders lists orders the venue still considers live.
func (c *RESTClient) GetOpenOrders(ctx context.Context) ([]Order, error) {
	q := url.Values{}
	q.Set("states", "open,pending")

	var payload ordersPayload
	if err := c.call(ctx, http.MethodGet, "/v2/orders", q, nil, &payload); err != nil {
		return nil, err
	}
	out := make([]Order, 0, len(payload.Result))
	for _, o := range payload.Result {
		price, _ := strconv.ParseFloat(o.LimitPrice, 64)
		placedAt, _ := time.Parse(time.RFC3339, o.CreatedAt)
		out = append(out, Order{
			ID:       o.ID.String(),
			Symbol:   o.Symbol,
			Side:     OrderSide(o.Side),
			Qty:      o.Size,
			Price:    price,
			Status:   mapOrderState(o.State),
			PlacedAt: placedAt,
		})
	}
	return out, nil
}

// GetPositions lists plain venue positions.
func (c *RESTClient) GetPositions(ctx context.Context) ([]NetPosition, error) {
	return c.positions(ctx, "/v2/positions")
}

// GetMarginedPositions lists positions with margin attached.
func (c *RESTClient) GetMarginedPositions(ctx context.Context) ([]NetPosition, error) {
	return c.positions(ctx, "/v2/positions/margined")
}

func (c *RESTClient) positions(ctx context.Context, path string) ([]NetPosition, error) {
	var payload positionsPayload
	if err := c.call(ctx, http.MethodGet, path, nil, nil, &payload); err != nil {
		return nil, err
	}
	out := make([]NetPosition, 0, len(payload.Result))
	for _, p := range payload.Result {
		entry, _ := strconv.ParseFloat(p.EntryPrice, 64)
		out = append(out, NetPosition{Symbol: p.Symbol, Qty: p.Size, EntryPrice: entry})
	}
	return out, nil
}

// call performs one signed, rate-limited request and decodes the response.
func (c *RESTClient) call(ctx context.Context, method, path string, query url.Values, body any, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	var reqBody io.Reader
	var rawBody []byte
	if body != nil {
		var err error
		rawBody, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reqBody = bytes.NewReader(rawBody)
	}

	u := c.cfg.BaseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
	if err != nil {
		return err
	}
	c.sign(req, method, path, query.Encode(), rawBody)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<22))
	if err != nil {
		return fmt.Errorf("%w: read body: %v", ErrTransient, err)
	}
	if resp.StatusCode != http.StatusOK {
		return classifyStatus(resp.StatusCode, string(data))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// sign attaches the venue's HMAC headers: signature over method, timestamp,
// path, query string, and raw body.
func (c *RESTClient) sign(req *http.Request, method, path, query string, body []byte) {
	ts := strconv.FormatInt(c.now().Unix(), 10)
	mac := hmac.New(sha256.New, []byte(c.cfg.APISecret))
	mac.Write([]byte(method + ts + path + query))
	mac.Write(body)

	req.Header.Set("api-key", c.cfg.APIKey)
	req.Header.Set("timestamp", ts)
	req.Header.Set("signature", hex.EncodeToString(mac.Sum(nil)))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
}

func mapOrderState(state string) OrderStatus {
	switch state {
	case "closed", "filled":
		return StatusFilled
	case "cancelled":
		return StatusCancelled
	case "rejected":
		return StatusRejected
	default:
		return StatusNew
	}
}
