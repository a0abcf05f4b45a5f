// Package domain defines the typed records exchanged between the broker
// gateway, its services, and their callers: orders, positions, account
// summaries, and the result shapes returned by write operations.
package domain

import "time"

// ---------------------------------------------------------------------------
// Order side, kind, time-in-force
// ---------------------------------------------------------------------------

// OrderAction is the direction of an order.
type OrderAction string

const (
	ActionBuy  OrderAction = "BUY"
	ActionSell OrderAction = "SELL"
)

// Valid reports whether the action is one of the two known directions.
func (a OrderAction) Valid() bool {
	return a == ActionBuy || a == ActionSell
}

// OrderKind is the execution style of an order.
type OrderKind string

const (
	KindMarket OrderKind = "MARKET"
	KindLimit  OrderKind = "LIMIT"
	KindStop   OrderKind = "STOP"
)

// TimeInForce is the order duration policy.
type TimeInForce string

const (
	TIFDay TimeInForce = "DAY"
	TIFGTC TimeInForce = "GTC"
)

// Valid reports whether the policy is one of the two supported durations.
func (t TimeInForce) Valid() bool {
	return t == TIFDay || t == TIFGTC
}

// ---------------------------------------------------------------------------
// Order status state machine
// ---------------------------------------------------------------------------

// OrderStatus is the venue-reported lifecycle state of an order. The gateway
// never computes transitions locally; it submits, cancels, and re-reads.
type OrderStatus string

const (
	StatusPendingSubmit   OrderStatus = "PendingSubmit"
	StatusPreSubmitted    OrderStatus = "PreSubmitted"
	StatusSubmitted       OrderStatus = "Submitted"
	StatusPartiallyFilled OrderStatus = "PartiallyFilled"
	StatusFilled          OrderStatus = "Filled"
	StatusPendingCancel   OrderStatus = "PendingCancel"
	StatusCancelled       OrderStatus = "Cancelled"
	StatusRejected        OrderStatus = "Rejected"
)

// Live reports whether the order belongs in the open order set. A partial
// fill is excluded: the venue resolves it to Filled or Cancelled without
// further client action, so it is neither open nor terminal here.
func (s OrderStatus) Live() bool {
	switch s {
	case StatusPendingSubmit, StatusPreSubmitted, StatusSubmitted,
		StatusPendingCancel:
		return true
	}
	return false
}

// Terminal reports whether the order can no longer change state.
func (s OrderStatus) Terminal() bool {
	switch s {
	case StatusFilled, StatusCancelled, StatusRejected:
		return true
	}
	return false
}

// Cancelable reports whether a cancel request can still be issued for an
// order in this state. Narrower than Live: an order already pending cancel
// is not cancelled twice, and a partial fill is resolved by the venue.
func (s OrderStatus) Cancelable() bool {
	switch s {
	case StatusPendingSubmit, StatusPreSubmitted, StatusSubmitted:
		return true
	}
	return false
}

// ---------------------------------------------------------------------------
// Instrument
// ---------------------------------------------------------------------------

// Instrument is the venue-facing identifier for a tradable symbol.
type Instrument struct {
	Symbol   string
	Exchange string // routing destination, e.g. "SMART"
	Currency string
	Kind     string // security type, e.g. "STK"
}

// NewStock builds the default US stock instrument for a symbol.
func NewStock(symbol string) Instrument {
	return Instrument{
		Symbol:   symbol,
		Exchange: "SMART",
		Currency: "USD",
		Kind:     "STK",
	}
}

// ---------------------------------------------------------------------------
// Orders
// ---------------------------------------------------------------------------

// OrderTicket is a request to place an order, built by the execution
// service and handed to the venue session.
type OrderTicket struct {
	Instrument  Instrument
	Action      OrderAction
	Quantity    int
	Kind        OrderKind
	LimitPrice  float64 // required when Kind == KindLimit
	StopPrice   float64 // required when Kind == KindStop
	TimeInForce TimeInForce
	ClientTag   string // client-side order id for venue attribution
}

// Order is the gateway's view of a venue order. Status and fill fields are
// venue-authoritative; Meta carries venue-specific extras that have no
// typed field.
type Order struct {
	ID           string
	Symbol       string
	Action       OrderAction
	Quantity     int
	Kind         OrderKind
	LimitPrice   float64
	StopPrice    float64
	TimeInForce  TimeInForce
	Status       OrderStatus
	Filled       float64
	Remaining    float64
	AvgFillPrice float64
	Commission   float64
	ParentID     string
	Account      string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	Meta         map[string]string
}

// OrderResult is the uniform return shape for every write operation.
// Expected failures (validation, venue rejection, not-found) set Success
// false and Error; they are values, not Go errors.
type OrderResult struct {
	Success      bool
	OrderID      string
	Symbol       string
	Action       OrderAction
	Quantity     int
	Kind         OrderKind
	LimitPrice   float64
	StopPrice    float64
	TimeInForce  TimeInForce
	Status       OrderStatus
	Filled       float64
	Remaining    float64
	AvgFillPrice float64
	Commission   float64
	Error        string
	Message      string
	Timestamp    time.Time
}

// CancelledOrder identifies one order cancelled by a batch cancel.
type CancelledOrder struct {
	OrderID  string
	Symbol   string
	Action   OrderAction
	Quantity int
}

// CancelAllResult is the outcome of a batch cancellation. Partial failure
// is reported through Failed, never escalated to Success == false.
type CancelAllResult struct {
	Success        bool
	CancelledCount int
	Cancelled      []CancelledOrder
	Failed         []string // per-order failure descriptions
	SymbolFilter   string
	Message        string
	Timestamp      time.Time
}

// ---------------------------------------------------------------------------
// Positions and account
// ---------------------------------------------------------------------------

// Position is a snapshot of one holding. Positions are replaced wholesale
// on each fetch; zero-quantity entries are never returned.
type Position struct {
	Symbol           string
	Exchange         string
	Currency         string
	Kind             string // security type
	Quantity         float64
	MarketPrice      float64
	MarketValue      float64
	AverageCost      float64
	UnrealizedPnL    float64
	RealizedPnL      float64
	UnrealizedPnLPct float64
	WeightPct        float64 // share of total absolute market value
	Account          string
}

// DataSource tags a snapshot with its provenance.
type DataSource string

const (
	SourceLive  DataSource = "GATEWAY_LIVE"
	SourceError DataSource = "GATEWAY_ERROR"
)

// AccountSummary is a currency-denominated account snapshot. It is
// immutable: each fresh fetch replaces the whole value.
type AccountSummary struct {
	TotalCash          float64
	NetLiquidation     float64
	GrossPositionValue float64
	BuyingPower        float64
	AvailableFunds     float64
	PortfolioValue     float64 // net liquidation less cash
	CashPct            float64
	EquityPct          float64
	Currency           string
	AccountType        string
	Timestamp          time.Time
	Source             DataSource
	Raw                map[string]string // venue fields kept verbatim
}

// ---------------------------------------------------------------------------
// Composite snapshot
// ---------------------------------------------------------------------------

// PortfolioSummary holds the derived aggregates of a complete snapshot.
type PortfolioSummary struct {
	TotalPositions     int
	TotalCash          float64
	PortfolioValue     float64
	NetLiquidation     float64
	OpenOrderCount     int
	LargestPosition    string // symbol with the largest absolute market value
	TotalUnrealizedPnL float64
	TotalRealizedPnL   float64
	RiskUtilization    float64 // min(positions/20, 1.0)
	Currency           string
	AccountType        string
	LastUpdated        time.Time
}

// PortfolioSnapshot is the combined account + positions + orders view with
// derived aggregates. A degraded snapshot is fully zero-valued and tagged
// SourceError so rendering code always has a uniform shape.
type PortfolioSnapshot struct {
	Account   AccountSummary
	Positions []Position
	Orders    []Order
	Summary   PortfolioSummary
	Source    DataSource
	Timestamp time.Time
}

// ConnectionInfo describes the state of a gateway connection.
type ConnectionInfo struct {
	Connected   bool
	SessionKind string // "LIVE" or "PAPER", derived from port
	Host        string
	Port        int
	ClientID    int
	CacheItems  int
}
