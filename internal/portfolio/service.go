// Package portfolio provides the cached read side of the gateway: account
// summary, positions with derived metrics, open orders, and the combined
// snapshot. Every operation is total; venue failures degrade to zero-valued
// results tagged with an error source instead of propagating.
package portfolio

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/FeanorKingofNoldor/khazad-dum/internal/conn"
	"github.com/FeanorKingofNoldor/khazad-dum/internal/domain"
	"github.com/FeanorKingofNoldor/khazad-dum/internal/venue"
)

// Cache keys. One key per snapshot type, shared per connection.
const (
	keyAccountSummary = "account_summary"
	keyPositions      = "portfolio_positions"
	keyOpenOrders     = "open_orders"
)

// maxPositionSlots is the position count treated as full risk utilization.
const maxPositionSlots = 20

// Service reads portfolio state through a connection manager, caching each
// snapshot under the manager's TTL.
type Service struct {
	manager *conn.Manager
	log     *slog.Logger
}

// NewService creates a portfolio service bound to the given manager.
func NewService(m *conn.Manager) *Service {
	return &Service{
		manager: m,
		log:     slog.Default().With("component", "portfolio"),
	}
}

// AccountSummary returns the account snapshot, cached up to the TTL.
// Pass forceRefresh to bypass the cache. On venue failure it returns a
// zero-valued summary tagged with an error source.
func (s *Service) AccountSummary(ctx context.Context, forceRefresh bool) domain.AccountSummary {
	if !forceRefresh {
		if cached, ok := conn.Cached[domain.AccountSummary](s.manager, keyAccountSummary); ok {
			return cached
		}
	}

	var summary domain.AccountSummary
	err := s.manager.WithSession(ctx, func(sess venue.Session) error {
		var err error
		summary, err = sess.Account(ctx)
		return err
	})
	if err != nil {
		s.log.Error("account fetch failed", "error", err)
		return domain.AccountSummary{
			Currency:  "USD",
			Timestamp: time.Now(),
			Source:    domain.SourceError,
		}
	}

	s.manager.CacheSet(keyAccountSummary, summary)
	return summary
}

// Positions returns current holdings with derived metrics filled in:
// unrealized pnl percentage, portfolio weight, and a sort by descending
// absolute market value. Zero-quantity entries are dropped. On venue
// failure it returns an empty slice.
func (s *Service) Positions(ctx context.Context, forceRefresh bool) []domain.Position {
	if !forceRefresh {
		if cached, ok := conn.Cached[[]domain.Position](s.manager, keyPositions); ok {
			return cached
		}
	}

	var raw []domain.Position
	err := s.manager.WithSession(ctx, func(sess venue.Session) error {
		var err error
		raw, err = sess.Positions(ctx)
		return err
	})
	if err != nil {
		s.log.Error("positions fetch failed", "error", err)
		return []domain.Position{}
	}

	positions := derivePositions(raw)
	s.manager.CacheSet(keyPositions, positions)
	return positions
}

// OpenOrders returns the orders still in a live state. On venue failure it
// returns an empty slice.
func (s *Service) OpenOrders(ctx context.Context, forceRefresh bool) []domain.Order {
	if !forceRefresh {
		if cached, ok := conn.Cached[[]domain.Order](s.manager, keyOpenOrders); ok {
			return cached
		}
	}

	var raw []domain.Order
	err := s.manager.WithSession(ctx, func(sess venue.Session) error {
		var err error
		raw, err = sess.OpenOrders(ctx)
		return err
	})
	if err != nil {
		s.log.Error("open orders fetch failed", "error", err)
		return []domain.Order{}
	}

	orders := make([]domain.Order, 0, len(raw))
	for _, o := range raw {
		if o.Status.Live() {
			orders = append(orders, o)
		}
	}

	s.manager.CacheSet(keyOpenOrders, orders)
	return orders
}

// CompleteData assembles the combined account, positions, and orders
// snapshot plus derived aggregates. The snapshot source follows the
// account fetch: a failed account read tags the whole snapshot degraded.
func (s *Service) CompleteData(ctx context.Context, forceRefresh bool) domain.PortfolioSnapshot {
	account := s.AccountSummary(ctx, forceRefresh)
	positions := s.Positions(ctx, forceRefresh)
	orders := s.OpenOrders(ctx, forceRefresh)

	now := time.Now()
	summary := domain.PortfolioSummary{
		TotalPositions:  len(positions),
		TotalCash:       account.TotalCash,
		PortfolioValue:  account.PortfolioValue,
		NetLiquidation:  account.NetLiquidation,
		OpenOrderCount:  len(orders),
		RiskUtilization: math.Min(float64(len(positions))/maxPositionSlots, 1.0),
		Currency:        account.Currency,
		AccountType:     account.AccountType,
		LastUpdated:     now,
	}
	if len(positions) > 0 {
		// Positions arrive sorted by descending absolute market value.
		summary.LargestPosition = positions[0].Symbol
	}
	for _, p := range positions {
		summary.TotalUnrealizedPnL += p.UnrealizedPnL
		summary.TotalRealizedPnL += p.RealizedPnL
	}

	return domain.PortfolioSnapshot{
		Account:   account,
		Positions: positions,
		Orders:    orders,
		Summary:   summary,
		Source:    account.Source,
		Timestamp: now,
	}
}

// ClearCache drops this service's cached snapshots, forcing the next
// reads to hit the venue. Entries cached under other keys on the shared
// manager are left alone.
func (s *Service) ClearCache() {
	s.manager.CacheClear(keyAccountSummary, keyPositions, keyOpenOrders)
}

// derivePositions fills the computed fields on a raw position list and
// sorts it by descending absolute market value.
func derivePositions(raw []domain.Position) []domain.Position {
	positions := make([]domain.Position, 0, len(raw))
	var totalAbsValue float64
	for _, p := range raw {
		if p.Quantity == 0 {
			continue
		}
		totalAbsValue += math.Abs(p.MarketValue)
		positions = append(positions, p)
	}

	for i := range positions {
		p := &positions[i]
		costBasis := math.Abs(p.AverageCost * p.Quantity)
		if costBasis > 0 {
			p.UnrealizedPnLPct = p.UnrealizedPnL / costBasis * 100
		}
		if totalAbsValue > 0 {
			p.WeightPct = math.Abs(p.MarketValue) / totalAbsValue * 100
		}
	}

	sort.Slice(positions, func(i, j int) bool {
		return math.Abs(positions[i].MarketValue) > math.Abs(positions[j].MarketValue)
	})
	return positions
}
