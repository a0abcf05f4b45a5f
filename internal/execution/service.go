// Package execution provides the write side of the gateway: placing,
// cancelling, and interrogating orders. Every operation is total and
// returns a result value; expected failures (validation, venue rejection,
// unknown ids) are reported in the result, never as Go errors.
package execution

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/FeanorKingofNoldor/khazad-dum/internal/conn"
	"github.com/FeanorKingofNoldor/khazad-dum/internal/domain"
	"github.com/FeanorKingofNoldor/khazad-dum/internal/journal"
	"github.com/FeanorKingofNoldor/khazad-dum/internal/venue"
)

// Signal is a normalized trading instruction, typically produced by an
// upstream strategy and executed through ExecuteSignal.
type Signal struct {
	Symbol      string
	Action      domain.OrderAction
	Quantity    int
	Kind        domain.OrderKind
	LimitPrice  float64
	StopPrice   float64
	TimeInForce domain.TimeInForce // empty defaults to DAY
}

// Service executes orders through a connection manager and journals every
// outcome.
type Service struct {
	manager *conn.Manager
	journal journal.Journal
	log     *slog.Logger

	// EchoWait is how long to wait after a submit or batch cancel before
	// re-reading status, giving the venue time to report the transition.
	// Tests set it to zero.
	EchoWait time.Duration
}

// NewService creates an execution service bound to the given manager.
// A nil journal disables journaling.
func NewService(m *conn.Manager, j journal.Journal, echoWait time.Duration) *Service {
	if j == nil {
		j = journal.Nop{}
	}
	return &Service{
		manager:  m,
		journal:  j,
		log:      slog.Default().With("component", "execution"),
		EchoWait: echoWait,
	}
}

// ---------------------------------------------------------------------------
// Placement
// ---------------------------------------------------------------------------

// PlaceMarketOrder submits a market order.
func (s *Service) PlaceMarketOrder(ctx context.Context, symbol string, action domain.OrderAction, quantity int) domain.OrderResult {
	ticket := domain.OrderTicket{
		Instrument:  domain.NewStock(symbol),
		Action:      action,
		Quantity:    quantity,
		Kind:        domain.KindMarket,
		TimeInForce: domain.TIFDay,
	}
	return s.place(ctx, ticket)
}

// PlaceLimitOrder submits a limit order. An empty timeInForce defaults
// to DAY.
func (s *Service) PlaceLimitOrder(ctx context.Context, symbol string, action domain.OrderAction, quantity int, limitPrice float64, timeInForce domain.TimeInForce) domain.OrderResult {
	ticket := domain.OrderTicket{
		Instrument:  domain.NewStock(symbol),
		Action:      action,
		Quantity:    quantity,
		Kind:        domain.KindLimit,
		LimitPrice:  limitPrice,
		TimeInForce: defaultTIF(timeInForce),
	}
	return s.place(ctx, ticket)
}

// PlaceStopOrder submits a stop order. An empty timeInForce defaults
// to DAY.
func (s *Service) PlaceStopOrder(ctx context.Context, symbol string, action domain.OrderAction, quantity int, stopPrice float64, timeInForce domain.TimeInForce) domain.OrderResult {
	ticket := domain.OrderTicket{
		Instrument:  domain.NewStock(symbol),
		Action:      action,
		Quantity:    quantity,
		Kind:        domain.KindStop,
		StopPrice:   stopPrice,
		TimeInForce: defaultTIF(timeInForce),
	}
	return s.place(ctx, ticket)
}

func defaultTIF(t domain.TimeInForce) domain.TimeInForce {
	if t == "" {
		return domain.TIFDay
	}
	return t
}

// ExecuteSignal dispatches a signal to the matching placement operation.
// A signal naming a price-carrying kind without its price fails validation
// without touching the venue.
func (s *Service) ExecuteSignal(ctx context.Context, sig Signal) domain.OrderResult {
	switch sig.Kind {
	case domain.KindMarket:
		return s.PlaceMarketOrder(ctx, sig.Symbol, sig.Action, sig.Quantity)
	case domain.KindLimit:
		return s.PlaceLimitOrder(ctx, sig.Symbol, sig.Action, sig.Quantity, sig.LimitPrice, sig.TimeInForce)
	case domain.KindStop:
		return s.PlaceStopOrder(ctx, sig.Symbol, sig.Action, sig.Quantity, sig.StopPrice, sig.TimeInForce)
	}
	return s.failure(domain.OrderTicket{
		Instrument: domain.NewStock(sig.Symbol),
		Action:     sig.Action,
		Quantity:   sig.Quantity,
		Kind:       sig.Kind,
	}, fmt.Sprintf("unknown order kind %q", sig.Kind))
}

// place validates the ticket, submits it, waits for the first status echo,
// and returns the freshest view of the order it can get.
func (s *Service) place(ctx context.Context, ticket domain.OrderTicket) domain.OrderResult {
	if msg := validateTicket(ticket); msg != "" {
		return s.failure(ticket, msg)
	}

	ticket.ClientTag = "khazad-" + uuid.NewString()

	var echo domain.Order
	err := s.manager.WithSession(ctx, func(sess venue.Session) error {
		var err error
		echo, err = sess.PlaceOrder(ctx, ticket)
		return err
	})
	if err != nil {
		return s.failure(ticket, fmt.Sprintf("placing order: %v", err))
	}

	// Give the venue a moment to report the first transition, then re-read.
	// If the re-read fails, the submit echo still stands.
	s.wait(ctx, s.EchoWait)
	final := echo
	_ = s.manager.WithSession(ctx, func(sess venue.Session) error {
		fresh, err := sess.Order(ctx, echo.ID)
		if err == nil {
			final = fresh
		}
		return nil
	})

	result := resultFromOrder(final, true, "")
	s.journalResult(ctx, result)
	return result
}

// validateTicket returns a failure message, or empty when the ticket is
// well formed. Validation happens before any venue traffic.
func validateTicket(t domain.OrderTicket) string {
	if strings.TrimSpace(t.Instrument.Symbol) == "" {
		return "symbol is required"
	}
	if !t.Action.Valid() {
		return fmt.Sprintf("invalid action %q", t.Action)
	}
	if t.Quantity <= 0 {
		return fmt.Sprintf("quantity must be positive, got %d", t.Quantity)
	}
	if t.Kind == domain.KindLimit && t.LimitPrice <= 0 {
		return fmt.Sprintf("limit price must be positive, got %v", t.LimitPrice)
	}
	if t.Kind == domain.KindStop && t.StopPrice <= 0 {
		return fmt.Sprintf("stop price must be positive, got %v", t.StopPrice)
	}
	if !t.TimeInForce.Valid() {
		return fmt.Sprintf("invalid time in force %q", t.TimeInForce)
	}
	return ""
}

// ---------------------------------------------------------------------------
// Status and cancellation
// ---------------------------------------------------------------------------

// OrderStatus looks an order up among the session's open orders. Orders
// that have already left the open set report as not found.
func (s *Service) OrderStatus(ctx context.Context, orderID string) domain.OrderResult {
	order, err := s.findOpenOrder(ctx, orderID)
	if err != nil {
		return domain.OrderResult{
			Success:   false,
			OrderID:   orderID,
			Error:     err.Error(),
			Timestamp: time.Now(),
		}
	}
	return resultFromOrder(order, true, "")
}

// CancelOrder requests cancellation of one open order. The returned result
// reports PendingCancel; the venue settles the final state asynchronously.
func (s *Service) CancelOrder(ctx context.Context, orderID string) domain.OrderResult {
	order, err := s.findOpenOrder(ctx, orderID)
	if err != nil {
		return domain.OrderResult{
			Success:   false,
			OrderID:   orderID,
			Error:     err.Error(),
			Timestamp: time.Now(),
		}
	}

	err = s.manager.WithSession(ctx, func(sess venue.Session) error {
		return sess.CancelOrder(ctx, orderID)
	})
	if err != nil {
		return domain.OrderResult{
			Success:   false,
			OrderID:   orderID,
			Symbol:    order.Symbol,
			Error:     fmt.Sprintf("cancelling order: %v", err),
			Timestamp: time.Now(),
		}
	}

	// Give the venue a moment to register the cancel before callers
	// re-read the open set.
	s.wait(ctx, s.EchoWait)

	order.Status = domain.StatusPendingCancel
	result := resultFromOrder(order, true, "cancellation requested")
	s.journalResult(ctx, result)
	return result
}

// CancelAll cancels every cancelable open order, optionally restricted to
// one symbol. Per-order failures are collected, not escalated; the batch
// succeeds if the open set could be read at all.
func (s *Service) CancelAll(ctx context.Context, symbolFilter string) domain.CancelAllResult {
	var open []domain.Order
	err := s.manager.WithSession(ctx, func(sess venue.Session) error {
		var err error
		open, err = sess.OpenOrders(ctx)
		return err
	})
	if err != nil {
		return domain.CancelAllResult{
			Success:      false,
			SymbolFilter: symbolFilter,
			Message:      fmt.Sprintf("fetching open orders: %v", err),
			Timestamp:    time.Now(),
		}
	}

	result := domain.CancelAllResult{
		Success:      true,
		SymbolFilter: symbolFilter,
		Timestamp:    time.Now(),
	}

	for _, o := range open {
		if !o.Status.Cancelable() {
			continue
		}
		if symbolFilter != "" && o.Symbol != symbolFilter {
			continue
		}

		cancelErr := s.manager.WithSession(ctx, func(sess venue.Session) error {
			return sess.CancelOrder(ctx, o.ID)
		})
		if cancelErr != nil {
			result.Failed = append(result.Failed,
				fmt.Sprintf("%s (%s): %v", o.ID, o.Symbol, cancelErr))
			continue
		}

		result.Cancelled = append(result.Cancelled, domain.CancelledOrder{
			OrderID:  o.ID,
			Symbol:   o.Symbol,
			Action:   o.Action,
			Quantity: o.Quantity,
		})
	}

	result.CancelledCount = len(result.Cancelled)
	result.Message = fmt.Sprintf("cancelled %d order(s), %d failure(s)",
		result.CancelledCount, len(result.Failed))

	// Let the venue settle the cancellations before the caller re-reads.
	s.wait(ctx, 2*s.EchoWait)

	s.log.Info("batch cancel finished",
		"cancelled", result.CancelledCount,
		"failed", len(result.Failed),
		"symbolFilter", symbolFilter,
	)
	return result
}

// findOpenOrder scans the session's open orders for the id.
func (s *Service) findOpenOrder(ctx context.Context, orderID string) (domain.Order, error) {
	var open []domain.Order
	err := s.manager.WithSession(ctx, func(sess venue.Session) error {
		var err error
		open, err = sess.OpenOrders(ctx)
		return err
	})
	if err != nil {
		return domain.Order{}, fmt.Errorf("fetching open orders: %w", err)
	}

	for _, o := range open {
		if o.ID == orderID {
			return o, nil
		}
	}
	return domain.Order{}, fmt.Errorf("order %s not found among open orders", orderID)
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func (s *Service) failure(ticket domain.OrderTicket, msg string) domain.OrderResult {
	s.log.Warn("order rejected", "symbol", ticket.Instrument.Symbol, "reason", msg)
	result := domain.OrderResult{
		Success:     false,
		Symbol:      ticket.Instrument.Symbol,
		Action:      ticket.Action,
		Quantity:    ticket.Quantity,
		Kind:        ticket.Kind,
		LimitPrice:  ticket.LimitPrice,
		StopPrice:   ticket.StopPrice,
		TimeInForce: ticket.TimeInForce,
		Error:       msg,
		Timestamp:   time.Now(),
	}
	s.journalResult(context.Background(), result)
	return result
}

func resultFromOrder(o domain.Order, success bool, msg string) domain.OrderResult {
	return domain.OrderResult{
		Success:      success,
		OrderID:      o.ID,
		Symbol:       o.Symbol,
		Action:       o.Action,
		Quantity:     o.Quantity,
		Kind:         o.Kind,
		LimitPrice:   o.LimitPrice,
		StopPrice:    o.StopPrice,
		TimeInForce:  o.TimeInForce,
		Status:       o.Status,
		Filled:       o.Filled,
		Remaining:    o.Remaining,
		AvgFillPrice: o.AvgFillPrice,
		Commission:   o.Commission,
		Message:      msg,
		Timestamp:    time.Now(),
	}
}

// journalResult writes the result to the audit journal. Journal failures
// are logged and swallowed; they never affect the operation's outcome.
func (s *Service) journalResult(ctx context.Context, result domain.OrderResult) {
	if err := s.journal.RecordOrder(ctx, result); err != nil {
		s.log.Warn("journal write failed", "orderId", result.OrderID, "error", err)
	}
}

// wait sleeps for d, returning early on context cancellation.
func (s *Service) wait(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
