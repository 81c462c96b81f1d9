package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// TradierClient implements Broker against the Tradier brokerage REST API.
type TradierClient struct {
	apiKey    string
	accountID string
	baseURL   string
	client    *http.Client
	sandbox   bool
	logger    zerolog.Logger
}

// Ensure TradierClient implements Broker at compile time.
var _ Broker = (*TradierClient)(nil)

// NewTradierClient creates a Tradier API client. When sandbox is true the
// paper-trading endpoint is used.
func NewTradierClient(apiKey, accountID string, sandbox bool, logger zerolog.Logger) *TradierClient {
	return NewTradierClientWithBaseURL(apiKey, accountID, sandbox, "", logger)
}

// NewTradierClientWithBaseURL creates a client with a custom base URL,
// primarily for pointing at an httptest server.
func NewTradierClientWithBaseURL(apiKey, accountID string, sandbox bool, baseURL string, logger zerolog.Logger) *TradierClient {
	if baseURL == "" {
		if sandbox {
			baseURL = "https://sandbox.tradier.com/v1"
		} else {
			baseURL = "https://api.tradier.com/v1"
		}
	}
	baseURL = strings.TrimRight(baseURL, "/")

	return &TradierClient{
		apiKey:    apiKey,
		accountID: accountID,
		baseURL:   baseURL,
		client:    &http.Client{Timeout: 10 * time.Second},
		sandbox:   sandbox,
		logger:    logger,
	}
}

// WithHTTPClient allows overriding the HTTP client (tests, custom transport).
func (t *TradierClient) WithHTTPClient(c *http.Client) *TradierClient {
	if c != nil {
		t.client = c
	}
	return t
}

// singleOrArray handles Tradier's habit of returning either a single object
// or an array for the same field depending on result count.
type singleOrArray[T any] []T

func (s *singleOrArray[T]) UnmarshalJSON(b []byte) error {
	trimmed := strings.TrimSpace(string(b))
	if trimmed == "null" || trimmed == `"null"` {
		*s = nil
		return nil
	}
	if strings.HasPrefix(trimmed, "[") {
		var arr []T
		if err := json.Unmarshal(b, &arr); err != nil {
			return err
		}
		*s = arr
		return nil
	}
	var single T
	if err := json.Unmarshal(b, &single); err != nil {
		return err
	}
	*s = []T{single}
	return nil
}

type quotesResponse struct {
	Quotes struct {
		Quote singleOrArray[quoteItem] `json:"quote"`
	} `json:"quotes"`
}

type quoteItem struct {
	Symbol string  `json:"symbol"`
	Last   float64 `json:"last"`
	Bid    float64 `json:"bid"`
	Ask    float64 `json:"ask"`
}

type chainResponse struct {
	Options struct {
		Option singleOrArray[chainItem] `json:"option"`
	} `json:"options"`
}

type chainItem struct {
	Symbol     string  `json:"symbol"`
	OptionType string  `json:"option_type"`
	Strike     float64 `json:"strike"`
	Bid        float64 `json:"bid"`
	Ask        float64 `json:"ask"`
}

type balanceResponse struct {
	Balances struct {
		TotalEquity float64 `json:"total_equity"`
		AccountType string  `json:"account_type"`
	} `json:"balances"`
}

type orderResponse struct {
	Order orderItem `json:"order"`
}

type ordersResponse struct {
	Orders struct {
		Order singleOrArray[orderItem] `json:"order"`
	} `json:"orders"`
}

type orderItem struct {
	ID           int     `json:"id"`
	Status       string  `json:"status"`
	AvgFillPrice float64 `json:"avg_fill_price"`
	Tag          string  `json:"tag"`
}

func (o *orderItem) toResult() *OrderResult {
	return &OrderResult{
		ID:           strconv.Itoa(o.ID),
		Status:       o.Status,
		AvgFillPrice: o.AvgFillPrice,
		Tag:          o.Tag,
	}
}

// GetAccountBalance returns total account equity.
func (t *TradierClient) GetAccountBalance(ctx context.Context) (float64, error) {
	endpoint := fmt.Sprintf("%s/accounts/%s/balances", t.baseURL, t.accountID)
	var resp balanceResponse
	if err := t.makeRequest(ctx, http.MethodGet, endpoint, nil, &resp); err != nil {
		return 0, err
	}
	return resp.Balances.TotalEquity, nil
}

// GetQuote fetches the current quote for an underlying or index symbol.
func (t *TradierClient) GetQuote(ctx context.Context, symbol string) (*Quote, error) {
	endpoint := fmt.Sprintf("%s/markets/quotes?symbols=%s", t.baseURL, url.QueryEscape(symbol))
	var resp quotesResponse
	if err := t.makeRequest(ctx, http.MethodGet, endpoint, nil, &resp); err != nil {
		return nil, err
	}
	if len(resp.Quotes.Quote) == 0 {
		return nil, fmt.Errorf("no quote returned for %s", symbol)
	}
	q := resp.Quotes.Quote[0]
	return &Quote{Symbol: q.Symbol, Last: q.Last, Bid: q.Bid, Ask: q.Ask}, nil
}

// GetOptionChain fetches the option chain for a symbol and expiration.
func (t *TradierClient) GetOptionChain(ctx context.Context, symbol string, expiration time.Time) ([]OptionQuote, error) {
	endpoint := fmt.Sprintf("%s/markets/options/chains?symbol=%s&expiration=%s",
		t.baseURL, url.QueryEscape(symbol), expiration.Format("2006-01-02"))
	var resp chainResponse
	if err := t.makeRequest(ctx, http.MethodGet, endpoint, nil, &resp); err != nil {
		return nil, err
	}
	chain := make([]OptionQuote, 0, len(resp.Options.Option))
	for _, o := range resp.Options.Option {
		chain = append(chain, OptionQuote{
			Symbol:     o.Symbol,
			OptionType: OptionType(o.OptionType),
			Strike:     o.Strike,
			Bid:        o.Bid,
			Ask:        o.Ask,
		})
	}
	return chain, nil
}

// PlaceIronCondor submits a four-leg credit order.
func (t *TradierClient) PlaceIronCondor(ctx context.Context, order CondorOrder) (*OrderResult, error) {
	return t.placeCondor(ctx, order, false)
}

// CloseIronCondor submits a four-leg debit order closing an existing condor.
func (t *TradierClient) CloseIronCondor(ctx context.Context, order CondorOrder) (*OrderResult, error) {
	return t.placeCondor(ctx, order, true)
}

func (t *TradierClient) placeCondor(ctx context.Context, order CondorOrder, buyToClose bool) (*OrderResult, error) {
	if order.Quantity <= 0 {
		return nil, fmt.Errorf("invalid order quantity: %d (must be > 0)", order.Quantity)
	}
	if order.LimitPrice <= 0 {
		return nil, fmt.Errorf("invalid limit price: %.2f (must be > 0)", order.LimitPrice)
	}
	if !(order.LongPut < order.ShortPut && order.ShortPut < order.ShortCall && order.ShortCall < order.LongCall) {
		return nil, fmt.Errorf("invalid condor strikes: %.2f/%.2f/%.2f/%.2f must be strictly ascending",
			order.LongPut, order.ShortPut, order.ShortCall, order.LongCall)
	}

	params := url.Values{}
	params.Add("class", "multileg")
	params.Add("symbol", order.Symbol)
	params.Add("duration", "day")

	shortSide, longSide := "sell_to_open", "buy_to_open"
	orderType := "credit"
	if buyToClose {
		shortSide, longSide = "buy_to_close", "sell_to_close"
		orderType = "debit"
	}
	params.Add("type", orderType)
	params.Add("price", fmt.Sprintf("%.2f", order.LimitPrice))
	if order.Tag != "" {
		params.Add("tag", order.Tag)
	}

	legs := []struct {
		strike float64
		opt    OptionType
		side   string
	}{
		{order.ShortPut, OptionTypePut, shortSide},
		{order.LongPut, OptionTypePut, longSide},
		{order.ShortCall, OptionTypeCall, shortSide},
		{order.LongCall, OptionTypeCall, longSide},
	}
	for i, leg := range legs {
		params.Add(fmt.Sprintf("option_symbol[%d]", i), OCCSymbol(order.Symbol, order.Expiration, leg.opt, leg.strike))
		params.Add(fmt.Sprintf("side[%d]", i), leg.side)
		params.Add(fmt.Sprintf("quantity[%d]", i), strconv.Itoa(order.Quantity))
	}

	endpoint := fmt.Sprintf("%s/accounts/%s/orders", t.baseURL, t.accountID)
	var resp orderResponse
	if err := t.makeRequest(ctx, http.MethodPost, endpoint, params, &resp); err != nil {
		return nil, err
	}
	return resp.Order.toResult(), nil
}

// GetOrderStatus fetches the current state of an order by ID.
func (t *TradierClient) GetOrderStatus(ctx context.Context, orderID string) (*OrderResult, error) {
	endpoint := fmt.Sprintf("%s/accounts/%s/orders/%s", t.baseURL, t.accountID, url.PathEscape(orderID))
	var resp orderResponse
	if err := t.makeRequest(ctx, http.MethodGet, endpoint, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Order.toResult(), nil
}

// FindOrderByTag scans recent account orders for one carrying the client tag.
func (t *TradierClient) FindOrderByTag(ctx context.Context, tag string) (*OrderResult, error) {
	endpoint := fmt.Sprintf("%s/accounts/%s/orders?includeTags=true", t.baseURL, t.accountID)
	var resp ordersResponse
	if err := t.makeRequest(ctx, http.MethodGet, endpoint, nil, &resp); err != nil {
		return nil, err
	}
	for i := range resp.Orders.Order {
		if resp.Orders.Order[i].Tag == tag {
			return resp.Orders.Order[i].toResult(), nil
		}
	}
	return nil, ErrOrderNotFound
}

// OCCSymbol builds an OCC option symbol: SYMBOL + YYMMDD + C/P + 8-digit
// strike in thousandths of a dollar. Example: SPY260116P00580000.
func OCCSymbol(symbol string, expiration time.Time, optType OptionType, strike float64) string {
	letter := "C"
	if optType == OptionTypePut {
		letter = "P"
	}
	// eps guards strikes like 394.995 against float representation drift
	const eps = 1e-9
	strikeInt := int(math.Round(strike*1000 + eps))
	return fmt.Sprintf("%s%s%s%08d", symbol, expiration.Format("060102"), letter, strikeInt)
}

func (t *TradierClient) makeRequest(ctx context.Context, method, endpoint string, params url.Values, response interface{}) error {
	var req *http.Request
	var err error

	if method == http.MethodPost && params != nil {
		req, err = http.NewRequestWithContext(ctx, method, endpoint, strings.NewReader(params.Encode()))
		if err != nil {
			return err
		}
		req.Header.Add("Content-Type", "application/x-www-form-urlencoded")
	} else {
		req, err = http.NewRequestWithContext(ctx, method, endpoint, http.NoBody)
		if err != nil {
			return err
		}
	}

	req.Header.Add("Authorization", "Bearer "+t.apiKey)
	req.Header.Add("Accept", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			t.logger.Warn().Err(cerr).Msg("failed to close response body")
		}
	}()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated &&
		resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusNoContent {
		body, rerr := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if rerr != nil {
			return &APIError{Status: resp.StatusCode, Message: fmt.Sprintf("%s %s: failed to read error body", method, endpoint)}
		}
		return &APIError{Status: resp.StatusCode, Message: fmt.Sprintf("%s %s: %s", method, endpoint, string(body))}
	}

	if resp.StatusCode == http.StatusNoContent {
		return nil
	}
	dec := json.NewDecoder(resp.Body)
	if err := dec.Decode(response); err != nil && err != io.EOF {
		return err
	}
	return nil
}
