package venue

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/FeanorKingofNoldor/khazad-dum/internal/domain"
)

// Compile-time interface checks.
var _ Dialer = (*SimDialer)(nil)
var _ Session = (*simSession)(nil)

// SimDialer dials sessions against an in-memory simulated venue. It exists
// for dry-run operation and for exercising the full gateway stack without
// venue credentials. One dialer is one venue: sessions dialed from the same
// SimDialer share its book, and a client id can be held by at most one open
// session at a time.
type SimDialer struct {
	mu        sync.Mutex
	venue     *simVenue
	clientIDs map[int]bool // client ids with an open session
}

// NewSimDialer creates a simulated venue with the given starting cash.
func NewSimDialer(startingCash float64) *SimDialer {
	return &SimDialer{
		venue: &simVenue{
			cash:      startingCash,
			prices:    make(map[string]float64),
			positions: make(map[string]*domain.Position),
			orders:    make(map[string]*domain.Order),
		},
		clientIDs: make(map[int]bool),
	}
}

// SetPrice sets the simulated market price for a symbol. Market orders fill
// at this price; symbols without a price fill at the order's limit or stop
// price, or at a nominal 100.
func (d *SimDialer) SetPrice(symbol string, price float64) {
	d.venue.mu.Lock()
	defer d.venue.mu.Unlock()
	d.venue.prices[symbol] = price
}

// Dial opens a session against the shared simulated book. It fails with
// ErrClientIDInUse when the endpoint's client id is already held.
func (d *SimDialer) Dial(_ context.Context, ep Endpoint) (Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.clientIDs[ep.ClientID] {
		return nil, fmt.Errorf("dialing %s:%d: %w", ep.Host, ep.Port, ErrClientIDInUse)
	}
	d.clientIDs[ep.ClientID] = true

	return &simSession{
		venue:    d.venue,
		dialer:   d,
		clientID: ep.ClientID,
		log:      slog.Default().With("venue", "sim", "clientId", ep.ClientID),
	}, nil
}

func (d *SimDialer) release(clientID int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.clientIDs, clientID)
}

// simVenue is the shared book behind all sessions of one SimDialer.
type simVenue struct {
	mu        sync.Mutex
	cash      float64
	nextID    int
	prices    map[string]float64
	positions map[string]*domain.Position
	orders    map[string]*domain.Order
}

// fillPrice picks the price a ticket executes at.
func (v *simVenue) fillPrice(ticket domain.OrderTicket) float64 {
	if p, ok := v.prices[ticket.Instrument.Symbol]; ok {
		return p
	}
	if ticket.LimitPrice > 0 {
		return ticket.LimitPrice
	}
	if ticket.StopPrice > 0 {
		return ticket.StopPrice
	}
	return 100
}

// simSession is one client's view of the simulated venue.
type simSession struct {
	venue    *simVenue
	dialer   *SimDialer
	clientID int
	closed   bool
	mu       sync.Mutex
	log      *slog.Logger
}

func (s *simSession) gate() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errSessionClosed
	}
	return nil
}

// Account computes the summary from cash plus marked-to-market positions.
func (s *simSession) Account(_ context.Context) (domain.AccountSummary, error) {
	if err := s.gate(); err != nil {
		return domain.AccountSummary{}, err
	}

	v := s.venue
	v.mu.Lock()
	defer v.mu.Unlock()

	var gross float64
	for _, p := range v.positions {
		if p.MarketValue >= 0 {
			gross += p.MarketValue
		} else {
			gross -= p.MarketValue
		}
	}
	netLiq := v.cash + gross

	summary := domain.AccountSummary{
		TotalCash:          v.cash,
		NetLiquidation:     netLiq,
		GrossPositionValue: gross,
		BuyingPower:        v.cash,
		AvailableFunds:     v.cash,
		PortfolioValue:     netLiq - v.cash,
		Currency:           "USD",
		AccountType:        "SIMULATED",
		Timestamp:          time.Now(),
		Source:             domain.SourceLive,
	}
	if netLiq > 0 {
		summary.CashPct = v.cash / netLiq * 100
		summary.EquityPct = (netLiq - v.cash) / netLiq * 100
	}
	return summary, nil
}

// Positions returns copies of all non-zero holdings.
func (s *simSession) Positions(_ context.Context) ([]domain.Position, error) {
	if err := s.gate(); err != nil {
		return nil, err
	}

	v := s.venue
	v.mu.Lock()
	defer v.mu.Unlock()

	positions := make([]domain.Position, 0, len(v.positions))
	for _, p := range v.positions {
		if p.Quantity == 0 {
			continue
		}
		positions = append(positions, *p)
	}
	sort.Slice(positions, func(i, j int) bool {
		return positions[i].Symbol < positions[j].Symbol
	})
	return positions, nil
}

// OpenOrders returns copies of all orders still in a live state.
func (s *simSession) OpenOrders(_ context.Context) ([]domain.Order, error) {
	if err := s.gate(); err != nil {
		return nil, err
	}

	v := s.venue
	v.mu.Lock()
	defer v.mu.Unlock()

	orders := make([]domain.Order, 0)
	for _, o := range v.orders {
		if o.Status.Live() {
			orders = append(orders, *o)
		}
	}
	sort.Slice(orders, func(i, j int) bool {
		return orders[i].ID < orders[j].ID
	})
	return orders, nil
}

// Order returns a copy of one order by id.
func (s *simSession) Order(_ context.Context, id string) (domain.Order, error) {
	if err := s.gate(); err != nil {
		return domain.Order{}, err
	}

	v := s.venue
	v.mu.Lock()
	defer v.mu.Unlock()

	o, ok := v.orders[id]
	if !ok {
		return domain.Order{}, ErrOrderNotFound
	}
	return *o, nil
}

// PlaceOrder books the ticket. Market orders fill immediately at the
// simulated price and move cash and positions; limit and stop orders rest
// as Submitted.
func (s *simSession) PlaceOrder(_ context.Context, ticket domain.OrderTicket) (domain.Order, error) {
	if err := s.gate(); err != nil {
		return domain.Order{}, err
	}

	v := s.venue
	v.mu.Lock()
	defer v.mu.Unlock()

	v.nextID++
	now := time.Now()
	order := &domain.Order{
		ID:          fmt.Sprintf("sim-%d", v.nextID),
		Symbol:      ticket.Instrument.Symbol,
		Action:      ticket.Action,
		Quantity:    ticket.Quantity,
		Kind:        ticket.Kind,
		LimitPrice:  ticket.LimitPrice,
		StopPrice:   ticket.StopPrice,
		TimeInForce: ticket.TimeInForce,
		Status:      domain.StatusSubmitted,
		Remaining:   float64(ticket.Quantity),
		CreatedAt:   now,
		UpdatedAt:   now,
		Meta:        map[string]string{"client_order_id": ticket.ClientTag},
	}

	if ticket.Kind == domain.KindMarket {
		v.fill(order, v.fillPrice(ticket))
	}

	v.orders[order.ID] = order
	s.log.Info("order booked",
		"orderId", order.ID,
		"symbol", order.Symbol,
		"status", order.Status,
	)
	return *order, nil
}

// fill executes an order completely at price, updating cash and the
// position book. Caller holds v.mu.
func (v *simVenue) fill(order *domain.Order, price float64) {
	qty := float64(order.Quantity)
	signed := qty
	if order.Action == domain.ActionSell {
		signed = -qty
	}

	pos, ok := v.positions[order.Symbol]
	if !ok {
		pos = &domain.Position{
			Symbol:   order.Symbol,
			Exchange: "SIM",
			Currency: "USD",
			Kind:     "STK",
		}
		v.positions[order.Symbol] = pos
	}

	if pos.Quantity == 0 || (pos.Quantity > 0) == (signed > 0) {
		// Opening or adding: blend the average cost.
		total := pos.AverageCost*pos.Quantity + price*signed
		pos.Quantity += signed
		if pos.Quantity != 0 {
			pos.AverageCost = total / pos.Quantity
		}
	} else {
		// Reducing or closing: realize pnl on the closed quantity.
		closed := signed
		if -closed > pos.Quantity && pos.Quantity > 0 {
			closed = -pos.Quantity
		}
		pos.RealizedPnL += (price - pos.AverageCost) * -closed
		pos.Quantity += signed
	}

	if pos.Quantity == 0 {
		delete(v.positions, order.Symbol)
	} else {
		pos.MarketPrice = price
		pos.MarketValue = pos.Quantity * price
		pos.UnrealizedPnL = (price - pos.AverageCost) * pos.Quantity
	}

	v.cash -= price * signed
	order.Status = domain.StatusFilled
	order.Filled = qty
	order.Remaining = 0
	order.AvgFillPrice = price
	order.UpdatedAt = time.Now()
}

// CancelOrder moves a cancelable order to PendingCancel and then settles it
// as Cancelled. The intermediate state is what a subsequent status read
// observes first at a real venue; the simulator settles immediately.
func (s *simSession) CancelOrder(_ context.Context, id string) error {
	if err := s.gate(); err != nil {
		return err
	}

	v := s.venue
	v.mu.Lock()
	defer v.mu.Unlock()

	o, ok := v.orders[id]
	if !ok {
		return ErrOrderNotFound
	}
	if !o.Status.Cancelable() {
		return fmt.Errorf("order %s in state %s cannot be cancelled", id, o.Status)
	}

	o.Status = domain.StatusCancelled
	o.UpdatedAt = time.Now()
	return nil
}

// Close releases the session's client id back to the dialer.
func (s *simSession) Close(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.dialer.release(s.clientID)
	return nil
}
