// Package venuetest provides scripted venue doubles for tests. The doubles
// count calls and fail on demand so tests can pin down exactly how many
// venue round-trips an operation performs.
package venuetest

import (
	"context"
	"fmt"
	"sync"

	"github.com/FeanorKingofNoldor/khazad-dum/internal/domain"
	"github.com/FeanorKingofNoldor/khazad-dum/internal/venue"
)

// Compile-time interface checks.
var _ venue.Dialer = (*Dialer)(nil)
var _ venue.Session = (*Session)(nil)

// Dialer hands out a fixed Session and records dial attempts.
type Dialer struct {
	mu        sync.Mutex
	Session   *Session
	DialErr   error // returned by every Dial when set
	dialCalls int
}

// NewDialer creates a Dialer serving the given session.
func NewDialer(s *Session) *Dialer {
	return &Dialer{Session: s}
}

// Dial returns the scripted session, or DialErr when set.
func (d *Dialer) Dial(_ context.Context, _ venue.Endpoint) (venue.Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dialCalls++
	if d.DialErr != nil {
		return nil, d.DialErr
	}
	return d.Session, nil
}

// DialCalls reports how many times Dial was invoked.
func (d *Dialer) DialCalls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dialCalls
}

// Session is a scripted venue session. Zero values answer every read with
// empty data; tests set the exported fields to script responses and errors.
type Session struct {
	mu sync.Mutex

	AccountData   domain.AccountSummary
	PositionsData []domain.Position
	OrdersData    []domain.Order
	OrdersByID    map[string]domain.Order
	PlaceResult   domain.Order

	AccountErr   error
	PositionsErr error
	OrdersErr    error
	OrderErr     error
	PlaceErr     error
	CancelErr    error

	lastTicket domain.OrderTicket

	calls map[string]int
}

// LastTicket returns the most recently submitted order ticket.
func (s *Session) LastTicket() domain.OrderTicket {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastTicket
}

func (s *Session) record(method string) {
	if s.calls == nil {
		s.calls = make(map[string]int)
	}
	s.calls[method]++
}

// Calls reports how many times the named method was invoked.
func (s *Session) Calls(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[method]
}

func (s *Session) Account(_ context.Context) (domain.AccountSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("Account")
	if s.AccountErr != nil {
		return domain.AccountSummary{}, s.AccountErr
	}
	return s.AccountData, nil
}

func (s *Session) Positions(_ context.Context) ([]domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("Positions")
	if s.PositionsErr != nil {
		return nil, s.PositionsErr
	}
	return s.PositionsData, nil
}

func (s *Session) OpenOrders(_ context.Context) ([]domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("OpenOrders")
	if s.OrdersErr != nil {
		return nil, s.OrdersErr
	}
	return s.OrdersData, nil
}

func (s *Session) Order(_ context.Context, id string) (domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("Order")
	if s.OrderErr != nil {
		return domain.Order{}, s.OrderErr
	}
	if o, ok := s.OrdersByID[id]; ok {
		return o, nil
	}
	return domain.Order{}, venue.ErrOrderNotFound
}

func (s *Session) PlaceOrder(_ context.Context, ticket domain.OrderTicket) (domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("PlaceOrder")
	if s.PlaceErr != nil {
		return domain.Order{}, s.PlaceErr
	}
	s.lastTicket = ticket
	o := s.PlaceResult
	if o.ID == "" {
		o = domain.Order{
			ID:          fmt.Sprintf("test-%d", s.calls["PlaceOrder"]),
			Symbol:      ticket.Instrument.Symbol,
			Action:      ticket.Action,
			Quantity:    ticket.Quantity,
			Kind:        ticket.Kind,
			TimeInForce: ticket.TimeInForce,
			Status:      domain.StatusSubmitted,
		}
	}
	return o, nil
}

func (s *Session) CancelOrder(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("CancelOrder")
	if s.CancelErr != nil {
		return s.CancelErr
	}
	if s.OrdersByID != nil {
		if _, ok := s.OrdersByID[id]; !ok {
			return venue.ErrOrderNotFound
		}
	}
	return nil
}

func (s *Session) Close(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("Close")
	return nil
}
