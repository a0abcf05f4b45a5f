package venue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync/atomic"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/shopspring/decimal"

	"github.com/FeanorKingofNoldor/khazad-dum/internal/domain"
	"github.com/FeanorKingofNoldor/khazad-dum/internal/util"
)

// Compile-time interface checks.
var _ Dialer = (*AlpacaDialer)(nil)
var _ Session = (*alpacaSession)(nil)

const (
	liveBaseURL  = "https://api.alpaca.markets"
	paperBaseURL = "https://paper-api.alpaca.markets"
)

// AlpacaDialer dials sessions against the Alpaca trading API. The endpoint
// port selects the environment: 4001 maps to the live API, everything else
// to paper.
type AlpacaDialer struct {
	apiKey    string
	apiSecret string
	limiter   *util.RateLimiter
	log       *slog.Logger
}

// NewAlpacaDialer creates an AlpacaDialer with the given credentials.
// All sessions dialed from it share one rate limiter, matching Alpaca's
// per-account limit of 200 requests per minute.
func NewAlpacaDialer(apiKey, apiSecret string) *AlpacaDialer {
	return &AlpacaDialer{
		apiKey:    apiKey,
		apiSecret: apiSecret,
		limiter:   util.NewRateLimiter(200),
		log:       slog.Default().With("venue", "alpaca"),
	}
}

// Dial creates a client for the endpoint's environment and verifies it by
// fetching the account. A dial that cannot read the account fails rather
// than handing back a session that errors on first use.
func (d *AlpacaDialer) Dial(ctx context.Context, ep Endpoint) (Session, error) {
	baseURL := paperBaseURL
	if ep.Live() {
		baseURL = liveBaseURL
	}

	client := alpaca.NewClient(alpaca.ClientOpts{
		APIKey:    d.apiKey,
		APISecret: d.apiSecret,
		BaseURL:   baseURL,
	})

	s := &alpacaSession{
		client:  client,
		limiter: d.limiter,
		log:     d.log.With("host", ep.Host, "port", ep.Port, "clientId", ep.ClientID),
	}

	// Handshake: prove the credentials work before returning the session.
	if _, err := s.Account(ctx); err != nil {
		return nil, fmt.Errorf("verifying session: %w", err)
	}

	s.log.Info("session established", "baseUrl", baseURL)
	return s, nil
}

// alpacaSession adapts the Alpaca REST client to the Session interface.
type alpacaSession struct {
	client  *alpaca.Client
	limiter *util.RateLimiter
	closed  atomic.Bool
	log     *slog.Logger
}

var errSessionClosed = errors.New("session closed")

func (s *alpacaSession) gate(ctx context.Context) error {
	if s.closed.Load() {
		return errSessionClosed
	}
	return s.limiter.Wait(ctx)
}

// Account fetches the account and derives the portfolio-value and
// percentage fields the venue does not report directly.
func (s *alpacaSession) Account(ctx context.Context) (domain.AccountSummary, error) {
	if err := s.gate(ctx); err != nil {
		return domain.AccountSummary{}, err
	}

	acct, err := s.client.GetAccount()
	if err != nil {
		return domain.AccountSummary{}, fmt.Errorf("fetching account: %w", err)
	}

	cash := acct.Cash.InexactFloat64()
	netLiq := acct.Equity.InexactFloat64()
	gross := acct.LongMarketValue.InexactFloat64() + math.Abs(acct.ShortMarketValue.InexactFloat64())

	summary := domain.AccountSummary{
		TotalCash:          cash,
		NetLiquidation:     netLiq,
		GrossPositionValue: gross,
		BuyingPower:        acct.BuyingPower.InexactFloat64(),
		AvailableFunds:     acct.RegTBuyingPower.InexactFloat64(),
		PortfolioValue:     netLiq - cash,
		Currency:           acct.Currency,
		AccountType:        string(acct.Status),
		Timestamp:          time.Now(),
		Source:             domain.SourceLive,
		Raw: map[string]string{
			"account_number":  acct.AccountNumber,
			"cash":            acct.Cash.String(),
			"equity":          acct.Equity.String(),
			"buying_power":    acct.BuyingPower.String(),
			"portfolio_value": acct.PortfolioValue.String(),
		},
	}
	if netLiq > 0 {
		summary.CashPct = cash / netLiq * 100
		summary.EquityPct = (netLiq - cash) / netLiq * 100
	}
	return summary, nil
}

// Positions fetches all holdings, skipping any the venue reports with zero
// quantity.
func (s *alpacaSession) Positions(ctx context.Context) ([]domain.Position, error) {
	if err := s.gate(ctx); err != nil {
		return nil, err
	}

	raw, err := s.client.GetPositions()
	if err != nil {
		return nil, fmt.Errorf("fetching positions: %w", err)
	}

	positions := make([]domain.Position, 0, len(raw))
	for _, p := range raw {
		qty := p.Qty.InexactFloat64()
		if qty == 0 {
			continue
		}
		positions = append(positions, domain.Position{
			Symbol:        p.Symbol,
			Exchange:      p.Exchange,
			Currency:      "USD",
			Kind:          string(p.AssetClass),
			Quantity:      qty,
			MarketPrice:   decFloat(p.CurrentPrice),
			MarketValue:   decFloat(p.MarketValue),
			AverageCost:   p.AvgEntryPrice.InexactFloat64(),
			UnrealizedPnL: decFloat(p.UnrealizedPL),
		})
	}
	return positions, nil
}

// OpenOrders fetches orders the venue still considers open.
func (s *alpacaSession) OpenOrders(ctx context.Context) ([]domain.Order, error) {
	if err := s.gate(ctx); err != nil {
		return nil, err
	}

	raw, err := s.client.GetOrders(alpaca.GetOrdersRequest{
		Status: "open",
		Limit:  500,
	})
	if err != nil {
		return nil, fmt.Errorf("fetching open orders: %w", err)
	}

	orders := make([]domain.Order, 0, len(raw))
	for i := range raw {
		orders = append(orders, orderFromAlpaca(&raw[i]))
	}
	return orders, nil
}

// Order fetches a single order by id.
func (s *alpacaSession) Order(ctx context.Context, id string) (domain.Order, error) {
	if err := s.gate(ctx); err != nil {
		return domain.Order{}, err
	}

	o, err := s.client.GetOrder(id)
	if err != nil {
		if isNotFound(err) {
			return domain.Order{}, ErrOrderNotFound
		}
		return domain.Order{}, fmt.Errorf("fetching order %s: %w", id, err)
	}
	return orderFromAlpaca(o), nil
}

// PlaceOrder submits the ticket and returns the venue's first echo.
func (s *alpacaSession) PlaceOrder(ctx context.Context, ticket domain.OrderTicket) (domain.Order, error) {
	if err := s.gate(ctx); err != nil {
		return domain.Order{}, err
	}

	qty := decimal.NewFromInt(int64(ticket.Quantity))
	req := alpaca.PlaceOrderRequest{
		Symbol:        ticket.Instrument.Symbol,
		Qty:           &qty,
		Side:          sideToAlpaca(ticket.Action),
		Type:          kindToAlpaca(ticket.Kind),
		TimeInForce:   tifToAlpaca(ticket.TimeInForce),
		ClientOrderID: ticket.ClientTag,
	}
	if ticket.Kind == domain.KindLimit {
		lp := decimal.NewFromFloat(ticket.LimitPrice)
		req.LimitPrice = &lp
	}
	if ticket.Kind == domain.KindStop {
		sp := decimal.NewFromFloat(ticket.StopPrice)
		req.StopPrice = &sp
	}

	o, err := s.client.PlaceOrder(req)
	if err != nil {
		return domain.Order{}, fmt.Errorf("placing %s %s order for %s: %w",
			ticket.Action, ticket.Kind, ticket.Instrument.Symbol, err)
	}

	s.log.Info("order placed",
		"orderId", o.ID,
		"symbol", ticket.Instrument.Symbol,
		"action", ticket.Action,
		"quantity", ticket.Quantity,
	)
	return orderFromAlpaca(o), nil
}

// CancelOrder requests cancellation of one order.
func (s *alpacaSession) CancelOrder(ctx context.Context, id string) error {
	if err := s.gate(ctx); err != nil {
		return err
	}

	if err := s.client.CancelOrder(id); err != nil {
		if isNotFound(err) {
			return ErrOrderNotFound
		}
		return fmt.Errorf("cancelling order %s: %w", id, err)
	}
	return nil
}

// Close marks the session closed. The REST transport holds no connection
// state, so there is nothing to tear down at the venue.
func (s *alpacaSession) Close(_ context.Context) error {
	if s.closed.Swap(true) {
		return nil
	}
	s.log.Info("session closed")
	return nil
}

// ---------------------------------------------------------------------------
// Conversions
// ---------------------------------------------------------------------------

// orderFromAlpaca converts a venue order into the gateway's order record.
func orderFromAlpaca(o *alpaca.Order) domain.Order {
	var qty int
	if o.Qty != nil {
		qty = int(o.Qty.IntPart())
	}
	filled := o.FilledQty.InexactFloat64()

	return domain.Order{
		ID:           o.ID,
		Symbol:       o.Symbol,
		Action:       sideFromAlpaca(o.Side),
		Quantity:     qty,
		Kind:         kindFromAlpaca(o.Type),
		LimitPrice:   decFloat(o.LimitPrice),
		StopPrice:    decFloat(o.StopPrice),
		TimeInForce:  tifFromAlpaca(o.TimeInForce),
		Status:       statusFromAlpaca(string(o.Status)),
		Filled:       filled,
		Remaining:    float64(qty) - filled,
		AvgFillPrice: decFloat(o.FilledAvgPrice),
		CreatedAt:    o.CreatedAt,
		UpdatedAt:    o.UpdatedAt,
		Meta: map[string]string{
			"client_order_id": o.ClientOrderID,
		},
	}
}

// statusFromAlpaca maps the venue's order status vocabulary onto the
// gateway's lifecycle states.
func statusFromAlpaca(status string) domain.OrderStatus {
	switch status {
	case "pending_new":
		return domain.StatusPendingSubmit
	case "accepted", "accepted_for_bidding", "held":
		return domain.StatusPreSubmitted
	case "new", "calculated", "stopped":
		return domain.StatusSubmitted
	case "partially_filled":
		return domain.StatusPartiallyFilled
	case "filled":
		return domain.StatusFilled
	case "pending_cancel", "pending_replace":
		return domain.StatusPendingCancel
	case "canceled", "expired", "done_for_day", "replaced":
		return domain.StatusCancelled
	case "rejected", "suspended":
		return domain.StatusRejected
	}
	return domain.StatusSubmitted
}

func sideToAlpaca(a domain.OrderAction) alpaca.Side {
	if a == domain.ActionSell {
		return alpaca.Sell
	}
	return alpaca.Buy
}

func sideFromAlpaca(s alpaca.Side) domain.OrderAction {
	if s == alpaca.Sell {
		return domain.ActionSell
	}
	return domain.ActionBuy
}

func kindToAlpaca(k domain.OrderKind) alpaca.OrderType {
	switch k {
	case domain.KindLimit:
		return alpaca.Limit
	case domain.KindStop:
		return alpaca.Stop
	}
	return alpaca.Market
}

func kindFromAlpaca(t alpaca.OrderType) domain.OrderKind {
	switch t {
	case alpaca.Limit:
		return domain.KindLimit
	case alpaca.Stop:
		return domain.KindStop
	}
	return domain.KindMarket
}

func tifToAlpaca(t domain.TimeInForce) alpaca.TimeInForce {
	if t == domain.TIFGTC {
		return alpaca.GTC
	}
	return alpaca.Day
}

func tifFromAlpaca(t alpaca.TimeInForce) domain.TimeInForce {
	if t == alpaca.GTC {
		return domain.TIFGTC
	}
	return domain.TIFDay
}

// decFloat unwraps an optional decimal into a float64, zero when absent.
func decFloat(d *decimal.Decimal) float64 {
	if d == nil {
		return 0
	}
	return d.InexactFloat64()
}

// isNotFound recognizes the venue's 404 responses.
func isNotFound(err error) bool {
	var apiErr *alpaca.APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 404
	}
	return strings.Contains(err.Error(), "not found")
}
