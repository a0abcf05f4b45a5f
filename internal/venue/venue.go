// Package venue abstracts the brokerage venue behind a dial-and-session
// pair. The connection manager owns dialing and session lifetime; the
// portfolio and execution services only ever see a Session.
package venue

import (
	"context"
	"errors"

	"github.com/FeanorKingofNoldor/khazad-dum/internal/domain"
)

var (
	// ErrOrderNotFound is returned by Order and CancelOrder when the venue
	// has no order with the given id among the orders visible to the session.
	ErrOrderNotFound = errors.New("order not found")

	// ErrClientIDInUse is returned by Dial when another session already
	// holds the requested client id on the same endpoint.
	ErrClientIDInUse = errors.New("client id already in use")
)

// Endpoint identifies one gateway connection. Sessions with distinct
// client ids on the same host and port are independent connections.
type Endpoint struct {
	Host     string
	Port     int
	ClientID int
}

// Live reports whether the endpoint targets the live trading gateway.
// Port 4001 is live by convention; everything else is paper.
func (e Endpoint) Live() bool {
	return e.Port == 4001
}

// Dialer establishes venue sessions. Implementations must verify the
// session is usable before returning it (a dial that succeeds but cannot
// serve requests is worse than a dial error).
type Dialer interface {
	Dial(ctx context.Context, ep Endpoint) (Session, error)
}

// Session is an authenticated venue connection. All methods are safe for
// concurrent use. Read methods return venue-fresh data; callers that want
// caching layer it on top.
type Session interface {
	// Account fetches the current account summary.
	Account(ctx context.Context) (domain.AccountSummary, error)

	// Positions fetches all non-zero holdings.
	Positions(ctx context.Context) ([]domain.Position, error)

	// OpenOrders fetches all orders in a live state.
	OpenOrders(ctx context.Context) ([]domain.Order, error)

	// Order fetches one order by id. Returns ErrOrderNotFound when the id
	// is unknown to the session.
	Order(ctx context.Context, id string) (domain.Order, error)

	// PlaceOrder submits a ticket and returns the venue's first echo of
	// the resulting order.
	PlaceOrder(ctx context.Context, ticket domain.OrderTicket) (domain.Order, error)

	// CancelOrder requests cancellation of one order. Returns
	// ErrOrderNotFound when the id is unknown.
	CancelOrder(ctx context.Context, id string) error

	// Close tears the session down. Closing an already-closed session is
	// a no-op.
	Close(ctx context.Context) error
}
