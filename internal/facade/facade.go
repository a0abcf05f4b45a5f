// Package facade composes the connection manager, portfolio reads, and
// order execution behind one entry point. Callers that need the whole
// gateway hold a Facade; callers that need only reads or only writes take
// the underlying service.
package facade

import (
	"context"
	"log/slog"
	"time"

	"github.com/FeanorKingofNoldor/khazad-dum/internal/config"
	"github.com/FeanorKingofNoldor/khazad-dum/internal/conn"
	"github.com/FeanorKingofNoldor/khazad-dum/internal/domain"
	"github.com/FeanorKingofNoldor/khazad-dum/internal/execution"
	"github.com/FeanorKingofNoldor/khazad-dum/internal/journal"
	"github.com/FeanorKingofNoldor/khazad-dum/internal/portfolio"
	"github.com/FeanorKingofNoldor/khazad-dum/internal/venue"
)

// Facade is the unified gateway surface: connection lifecycle, cached
// portfolio reads, and order execution against one endpoint.
type Facade struct {
	manager   *conn.Manager
	portfolio *portfolio.Service
	execution *execution.Service
	journal   journal.Journal
	log       *slog.Logger
}

// New builds a Facade from configuration and a dialer. The connection
// manager is shared process-wide per endpoint, so two facades built for
// the same endpoint share a session and a cache.
func New(cfg *config.Config, dialer venue.Dialer) (*Facade, error) {
	ep := venue.Endpoint{
		Host:     cfg.Broker.Host,
		Port:     cfg.Broker.Port,
		ClientID: cfg.Broker.ClientID,
	}

	manager := conn.Get(ep, dialer, conn.Options{
		CacheTTL:          time.Duration(cfg.Cache.TTLSeconds) * time.Second,
		ConnectTimeout:    time.Duration(cfg.Timeouts.ConnectSeconds) * time.Second,
		DisconnectTimeout: time.Duration(cfg.Timeouts.DisconnectSeconds) * time.Second,
	})

	var jnl journal.Journal = journal.Nop{}
	if cfg.Journal.SQLitePath != "" {
		var err error
		jnl, err = journal.NewSQLiteJournal(cfg.Journal.SQLitePath)
		if err != nil {
			return nil, err
		}
	}

	echoWait := time.Duration(cfg.Timeouts.OrderEchoMillis) * time.Millisecond
	return &Facade{
		manager:   manager,
		portfolio: portfolio.NewService(manager),
		execution: execution.NewService(manager, jnl, echoWait),
		journal:   jnl,
		log:       slog.Default().With("component", "facade"),
	}, nil
}

// Portfolio exposes the read service.
func (f *Facade) Portfolio() *portfolio.Service { return f.portfolio }

// Execution exposes the write service.
func (f *Facade) Execution() *execution.Service { return f.execution }

// Journal exposes the audit journal.
func (f *Facade) Journal() journal.Journal { return f.journal }

// ---------------------------------------------------------------------------
// Connection lifecycle
// ---------------------------------------------------------------------------

// Connect establishes the gateway session and reports whether it is up.
// The cause of a failed connect is logged, not returned; callers branch on
// the boolean.
func (f *Facade) Connect(ctx context.Context) bool {
	if err := f.manager.Connect(ctx); err != nil {
		f.log.Error("gateway connect failed", "error", err)
		return false
	}
	return true
}

// Disconnect tears the session down and clears the cache.
func (f *Facade) Disconnect(ctx context.Context) {
	if err := f.manager.Disconnect(ctx); err != nil {
		f.log.Warn("gateway disconnect failed", "error", err)
	}
}

// Connected reports whether the gateway session is up.
func (f *Facade) Connected() bool {
	return f.manager.Connected()
}

// ConnectionInfo describes the gateway connection for diagnostics.
func (f *Facade) ConnectionInfo() domain.ConnectionInfo {
	return f.manager.Info()
}

// Close disconnects and releases the journal.
func (f *Facade) Close(ctx context.Context) {
	f.Disconnect(ctx)
	if err := f.journal.Close(); err != nil {
		f.log.Warn("journal close failed", "error", err)
	}
}

// ---------------------------------------------------------------------------
// Portfolio reads
// ---------------------------------------------------------------------------

// AccountSummary returns the cached account snapshot.
func (f *Facade) AccountSummary(ctx context.Context, forceRefresh bool) domain.AccountSummary {
	return f.portfolio.AccountSummary(ctx, forceRefresh)
}

// Positions returns the cached holdings with derived metrics.
func (f *Facade) Positions(ctx context.Context, forceRefresh bool) []domain.Position {
	return f.portfolio.Positions(ctx, forceRefresh)
}

// OpenOrders returns the cached open order list.
func (f *Facade) OpenOrders(ctx context.Context, forceRefresh bool) []domain.Order {
	return f.portfolio.OpenOrders(ctx, forceRefresh)
}

// CompleteData returns the combined snapshot with derived aggregates.
func (f *Facade) CompleteData(ctx context.Context, forceRefresh bool) domain.PortfolioSnapshot {
	return f.portfolio.CompleteData(ctx, forceRefresh)
}

// PortfolioDataSync fetches a fresh combined snapshot, connecting first if
// needed. It never fails: when the gateway is unreachable it returns the
// zero-valued snapshot tagged degraded.
func (f *Facade) PortfolioDataSync(ctx context.Context) domain.PortfolioSnapshot {
	if !f.Connect(ctx) {
		return domain.PortfolioSnapshot{
			Account: domain.AccountSummary{
				Currency:  "USD",
				Timestamp: time.Now(),
				Source:    domain.SourceError,
			},
			Positions: []domain.Position{},
			Orders:    []domain.Order{},
			Source:    domain.SourceError,
			Timestamp: time.Now(),
		}
	}
	return f.portfolio.CompleteData(ctx, true)
}

// ClearCache drops the portfolio snapshots from the shared cache.
func (f *Facade) ClearCache() {
	f.portfolio.ClearCache()
}

// ---------------------------------------------------------------------------
// Order execution
// ---------------------------------------------------------------------------

// PlaceMarketOrder submits a market order.
func (f *Facade) PlaceMarketOrder(ctx context.Context, symbol string, action domain.OrderAction, quantity int) domain.OrderResult {
	return f.execution.PlaceMarketOrder(ctx, symbol, action, quantity)
}

// PlaceLimitOrder submits a limit order. An empty timeInForce defaults
// to DAY.
func (f *Facade) PlaceLimitOrder(ctx context.Context, symbol string, action domain.OrderAction, quantity int, limitPrice float64, timeInForce domain.TimeInForce) domain.OrderResult {
	return f.execution.PlaceLimitOrder(ctx, symbol, action, quantity, limitPrice, timeInForce)
}

// PlaceStopOrder submits a stop order. An empty timeInForce defaults
// to DAY.
func (f *Facade) PlaceStopOrder(ctx context.Context, symbol string, action domain.OrderAction, quantity int, stopPrice float64, timeInForce domain.TimeInForce) domain.OrderResult {
	return f.execution.PlaceStopOrder(ctx, symbol, action, quantity, stopPrice, timeInForce)
}

// OrderStatus reports the state of an open order.
func (f *Facade) OrderStatus(ctx context.Context, orderID string) domain.OrderResult {
	return f.execution.OrderStatus(ctx, orderID)
}

// CancelOrder requests cancellation of one open order.
func (f *Facade) CancelOrder(ctx context.Context, orderID string) domain.OrderResult {
	return f.execution.CancelOrder(ctx, orderID)
}

// CancelAll cancels every cancelable open order, optionally limited to one
// symbol.
func (f *Facade) CancelAll(ctx context.Context, symbolFilter string) domain.CancelAllResult {
	return f.execution.CancelAll(ctx, symbolFilter)
}

// ExecuteSignal dispatches a normalized trading signal.
func (f *Facade) ExecuteSignal(ctx context.Context, sig execution.Signal) domain.OrderResult {
	return f.execution.ExecuteSignal(ctx, sig)
}

// ---------------------------------------------------------------------------
// Legacy connector
// ---------------------------------------------------------------------------

// PortfolioConnector is the pre-facade portfolio surface kept for callers
// that only pull snapshots. New code should use Facade directly.
type PortfolioConnector struct {
	f *Facade
}

// NewPortfolioConnector wraps a Facade in the legacy connector surface.
func NewPortfolioConnector(f *Facade) *PortfolioConnector {
	return &PortfolioConnector{f: f}
}

// Connect establishes the gateway session.
func (c *PortfolioConnector) Connect(ctx context.Context) bool {
	return c.f.Connect(ctx)
}

// PortfolioData fetches a fresh combined snapshot.
func (c *PortfolioConnector) PortfolioData(ctx context.Context) domain.PortfolioSnapshot {
	return c.f.PortfolioDataSync(ctx)
}

// Disconnect tears the session down.
func (c *PortfolioConnector) Disconnect(ctx context.Context) {
	c.f.Disconnect(ctx)
}
