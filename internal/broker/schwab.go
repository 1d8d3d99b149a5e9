package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"wheelhouse/internal/config"
	"wheelhouse/internal/domain"
	"wheelhouse/internal/util"
)

// Compile-time interface checks.
var _ QuoteGateway = (*SchwabClient)(nil)
var _ OrderGateway = (*SchwabClient)(nil)
var _ AccountGateway = (*SchwabClient)(nil)

// SchwabClient talks to the Schwab Trader and Marketdata REST APIs for one
// account. All calls share a token-bucket rate limiter.
type SchwabClient struct {
	httpClient    *http.Client
	tradingURL    string
	marketDataURL string
	accountHash   string
	accessToken   string
	limiter       *util.RateLimiter
	log           *slog.Logger
}

// NewSchwabClient creates a client for the given account hash using the
// access token from the token file.
func NewSchwabClient(cfg config.Schwab, accountHash, accessToken string) *SchwabClient {
	return &SchwabClient{
		httpClient:    &http.Client{Timeout: 30 * time.Second},
		tradingURL:    strings.TrimRight(cfg.TradingURL, "/"),
		marketDataURL: strings.TrimRight(cfg.MarketDataURL, "/"),
		accountHash:   accountHash,
		accessToken:   accessToken,
		limiter:       util.NewRateLimiter(cfg.RateLimitPerMin),
		log:           slog.Default().With("component", "schwab"),
	}
}

// ---------------------------------------------------------------------------
// QuoteGateway
// ---------------------------------------------------------------------------

type quoteResponse map[string]struct {
	Quote struct {
		BidPrice  float64 `json:"bidPrice"`
		AskPrice  float64 `json:"askPrice"`
		HighPrice float64 `json:"highPrice"`
		LowPrice  float64 `json:"lowPrice"`
	} `json:"quote"`
}

// StockQuote returns the bid/ask midpoint plus high and low of day.
func (c *SchwabClient) StockQuote(ctx context.Context, symbol string) (domain.StockQuote, error) {
	endpoint := fmt.Sprintf("%s/quotes?symbols=%s&fields=quote&indicative=false",
		c.marketDataURL, url.QueryEscape(symbol))

	var resp quoteResponse
	if err := c.getJSON(ctx, endpoint, &resp); err != nil {
		return domain.StockQuote{}, fmt.Errorf("quote %s: %w", symbol, err)
	}
	q, ok := resp[symbol]
	if !ok {
		return domain.StockQuote{}, fmt.Errorf("quote %s: symbol missing from response", symbol)
	}
	return domain.StockQuote{
		Symbol: symbol,
		Mid:    math.Round((q.Quote.BidPrice+q.Quote.AskPrice)*0.5*1000) / 1000,
		High:   q.Quote.HighPrice,
		Low:    q.Quote.LowPrice,
	}, nil
}

type chainResponse struct {
	CallExpDateMap map[string]map[string][]struct {
		Symbol string  `json:"symbol"`
		Bid    float64 `json:"bid"`
		Ask    float64 `json:"ask"`
	} `json:"callExpDateMap"`
}

// OptionChain returns bid/ask for every call contract on the underlying
// expiring in [from, to].
func (c *SchwabClient) OptionChain(ctx context.Context, underlying string, from, to time.Time) (map[string]domain.OptionQuote, error) {
	endpoint := fmt.Sprintf("%s/chains?symbol=%s&contractType=CALL&strikeCount=24&fromDate=%s&toDate=%s",
		c.marketDataURL, url.QueryEscape(underlying),
		from.Format("2006-01-02"), to.Format("2006-01-02"))

	var resp chainResponse
	if err := c.getJSON(ctx, endpoint, &resp); err != nil {
		return nil, fmt.Errorf("option chain %s: %w", underlying, err)
	}

	quotes := make(map[string]domain.OptionQuote)
	for _, strikes := range resp.CallExpDateMap {
		for _, contracts := range strikes {
			if len(contracts) == 0 {
				continue
			}
			first := contracts[0]
			quotes[first.Symbol] = domain.OptionQuote{Bid: first.Bid, Ask: first.Ask}
		}
	}
	return quotes, nil
}

// ---------------------------------------------------------------------------
// OrderGateway
// ---------------------------------------------------------------------------

type orderPayload struct {
	Price                    *float64         `json:"price"`
	Session                  string           `json:"session"`
	Duration                 string           `json:"duration"`
	OrderType                string           `json:"orderType"`
	ComplexOrderStrategyType string           `json:"complexOrderStrategyType"`
	Quantity                 int              `json:"quantity"`
	TaxLotMethod             string           `json:"taxLotMethod"`
	OrderLegCollection       []orderLeg       `json:"orderLegCollection"`
	OrderStrategyType        string           `json:"orderStrategyType"`
	SpecialInstruction       string           `json:"specialInstruction,omitempty"`
}

type orderLeg struct {
	OrderLegType   string          `json:"orderLegType"`
	LegID          int             `json:"legId"`
	Instrument     orderInstrument `json:"instrument"`
	Instruction    string          `json:"instruction"`
	PositionEffect string          `json:"positionEffect"`
	Quantity       int             `json:"quantity"`
}

type orderInstrument struct {
	Symbol    string `json:"symbol"`
	AssetType string `json:"assetType"`
}

// PlaceOrder submits a single-leg order. Anything but 201 Created comes back
// as a *StatusError.
func (c *SchwabClient) PlaceOrder(ctx context.Context, spec domain.OrderSpec) error {
	duration := spec.Duration
	if duration == "" {
		duration = domain.DurationDay
	}

	payload := orderPayload{
		Session:                  "NORMAL",
		Duration:                 string(duration),
		OrderType:                string(spec.OrderType),
		ComplexOrderStrategyType: "NONE",
		Quantity:                 spec.Quantity,
		TaxLotMethod:             "FIFO",
		OrderStrategyType:        "SINGLE",
		OrderLegCollection: []orderLeg{{
			OrderLegType: string(spec.AssetType),
			Instrument: orderInstrument{
				Symbol:    spec.Symbol,
				AssetType: string(spec.AssetType),
			},
			Instruction:    string(spec.Instruction),
			PositionEffect: string(spec.PositionEffect),
			Quantity:       spec.Quantity,
		}},
	}
	if spec.OrderType == domain.OrderTypeLimit {
		price := spec.Price
		payload.Price = &price
	}
	if spec.SpecialInstruction != "" && spec.SpecialInstruction != domain.SpecialInstructionNone {
		payload.SpecialInstruction = string(spec.SpecialInstruction)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	endpoint := fmt.Sprintf("%s/accounts/%s/orders", c.tradingURL, c.accountHash)
	code, _, err := c.do(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return fmt.Errorf("place order %s %s: %w", spec.Instruction, spec.Symbol, err)
	}
	if code != http.StatusCreated {
		return &StatusError{Op: fmt.Sprintf("place order %s %s", spec.Instruction, spec.Symbol), Code: code}
	}
	return nil
}

// CancelOrder cancels an order by ID. Anything but 200 OK comes back as a
// *StatusError.
func (c *SchwabClient) CancelOrder(ctx context.Context, orderID string) error {
	endpoint := fmt.Sprintf("%s/accounts/%s/orders/%s", c.tradingURL, c.accountHash, url.PathEscape(orderID))
	code, _, err := c.do(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return fmt.Errorf("cancel order %s: %w", orderID, err)
	}
	if code != http.StatusOK {
		return &StatusError{Op: "cancel order " + orderID, Code: code}
	}
	return nil
}

type listedOrder struct {
	OrderID  json.Number `json:"orderId"`
	Status   string      `json:"status"`
	Quantity float64     `json:"quantity"`
	Price    float64     `json:"price"`
	Legs     []struct {
		OrderLegType string          `json:"orderLegType"`
		Instruction  string          `json:"instruction"`
		Instrument   orderInstrument `json:"instrument"`
	} `json:"orderLegCollection"`
}

// ListOrders returns the day's orders filtered to one status and one leg
// asset type, keyed by order ID.
func (c *SchwabClient) ListOrders(ctx context.Context, day time.Time, status domain.OrderStatus, assetType domain.AssetType) (map[string]domain.OpenOrder, error) {
	date := day.Format("2006-01-02")
	endpoint := fmt.Sprintf("%s/accounts/%s/orders?fromEnteredTime=%sT04:00:00.000Z&toEnteredTime=%sT23:00:00.000Z",
		c.tradingURL, c.accountHash, date, date)

	var listed []listedOrder
	if err := c.getJSON(ctx, endpoint, &listed); err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}

	orders := make(map[string]domain.OpenOrder)
	for _, o := range listed {
		if len(o.Legs) == 0 {
			continue
		}
		leg := o.Legs[0]
		if !strings.EqualFold(o.Status, string(status)) || !strings.EqualFold(leg.OrderLegType, string(assetType)) {
			continue
		}
		id := o.OrderID.String()
		orders[id] = domain.OpenOrder{
			OrderID:     id,
			Symbol:      leg.Instrument.Symbol,
			Instruction: domain.Instruction(leg.Instruction),
			Quantity:    int(o.Quantity),
			Price:       o.Price,
			Status:      status,
		}
	}
	return orders, nil
}

// ---------------------------------------------------------------------------
// AccountGateway
// ---------------------------------------------------------------------------

type accountResponse struct {
	AggregatedBalance struct {
		CurrentLiquidationValue float64 `json:"currentLiquidationValue"`
	} `json:"aggregatedBalance"`
	SecuritiesAccount struct {
		ProjectedBalances struct {
			AvailableFunds float64 `json:"availableFunds"`
		} `json:"projectedBalances"`
		Positions []struct {
			ShortQuantity float64 `json:"shortQuantity"`
			LongQuantity  float64 `json:"longQuantity"`
			MarketValue   float64 `json:"marketValue"`
			Instrument    struct {
				AssetType        string `json:"assetType"`
				Symbol           string `json:"symbol"`
				UnderlyingSymbol string `json:"underlyingSymbol"`
			} `json:"instrument"`
		} `json:"positions"`
	} `json:"securitiesAccount"`
}

// Balance returns the account's current liquidation value.
func (c *SchwabClient) Balance(ctx context.Context) (float64, error) {
	endpoint := fmt.Sprintf("%s/accounts/%s", c.tradingURL, c.accountHash)
	var resp accountResponse
	if err := c.getJSON(ctx, endpoint, &resp); err != nil {
		return 0, fmt.Errorf("balance: %w", err)
	}
	return resp.AggregatedBalance.CurrentLiquidationValue, nil
}

// EquityPositions returns available buying power and share counts for the
// requested symbols. Symbols the account does not hold report zero.
func (c *SchwabClient) EquityPositions(ctx context.Context, symbols ...string) (float64, map[string]int, error) {
	endpoint := fmt.Sprintf("%s/accounts/%s?fields=positions", c.tradingURL, c.accountHash)
	var resp accountResponse
	if err := c.getJSON(ctx, endpoint, &resp); err != nil {
		return 0, nil, fmt.Errorf("equity positions: %w", err)
	}

	wanted := make(map[string]bool, len(symbols))
	shares := make(map[string]int, len(symbols))
	for _, s := range symbols {
		wanted[s] = true
		shares[s] = 0
	}

	for _, pos := range resp.SecuritiesAccount.Positions {
		asset := strings.ToUpper(pos.Instrument.AssetType)
		if asset != "EQUITY" && asset != "COLLECTIVE_INVESTMENT" {
			continue
		}
		if wanted[pos.Instrument.Symbol] {
			shares[pos.Instrument.Symbol] = int(pos.LongQuantity)
		}
	}
	return resp.SecuritiesAccount.ProjectedBalances.AvailableFunds, shares, nil
}

// OptionPositions returns short option positions against the underlying,
// keyed by option symbol. MarketPrice is the positive per-contract price
// derived from the (negative) market value of the short position.
func (c *SchwabClient) OptionPositions(ctx context.Context, underlying string) (map[string]domain.OptionPosition, error) {
	endpoint := fmt.Sprintf("%s/accounts/%s?fields=positions", c.tradingURL, c.accountHash)
	var resp accountResponse
	if err := c.getJSON(ctx, endpoint, &resp); err != nil {
		return nil, fmt.Errorf("option positions: %w", err)
	}

	positions := make(map[string]domain.OptionPosition)
	for _, pos := range resp.SecuritiesAccount.Positions {
		if !strings.EqualFold(pos.Instrument.AssetType, "OPTION") {
			continue
		}
		if !strings.EqualFold(pos.Instrument.UnderlyingSymbol, underlying) {
			continue
		}
		qty := int(pos.ShortQuantity)
		if qty == 0 {
			continue
		}
		// Market value of a short option is negative; per-contract
		// price comes out positive. The 0.01 scales the 100-share
		// contract value down to a per-share price.
		price := math.Round(-pos.MarketValue*0.01/float64(qty)*1000) / 1000
		positions[pos.Instrument.Symbol] = domain.OptionPosition{
			Symbol:      pos.Instrument.Symbol,
			ShortQty:    qty,
			MarketPrice: price,
		}
	}
	return positions, nil
}

// AccountNumbers returns the raw account number to hash listing, pretty
// printed for the operator.
func (c *SchwabClient) AccountNumbers(ctx context.Context) (string, error) {
	endpoint := c.tradingURL + "/accounts/accountNumbers"
	code, body, err := c.do(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("account numbers: %w", err)
	}
	if code != http.StatusOK {
		return "", &StatusError{Op: "account numbers", Code: code}
	}
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, body, "", "    "); err != nil {
		return string(body), nil
	}
	return pretty.String(), nil
}

// ---------------------------------------------------------------------------
// HTTP plumbing
// ---------------------------------------------------------------------------

func (c *SchwabClient) getJSON(ctx context.Context, endpoint string, out any) error {
	code, body, err := c.do(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	if code != http.StatusOK {
		return &StatusError{Op: "GET " + endpoint, Code: code}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func (c *SchwabClient) do(ctx context.Context, method, endpoint string, body []byte) (int, []byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, nil, err
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	req.Header.Set("Accept", "*/*")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, data, nil
}
