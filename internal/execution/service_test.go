package execution

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/FeanorKingofNoldor/khazad-dum/internal/conn"
	"github.com/FeanorKingofNoldor/khazad-dum/internal/domain"
	"github.com/FeanorKingofNoldor/khazad-dum/internal/venue"
	"github.com/FeanorKingofNoldor/khazad-dum/internal/venue/venuetest"
)

func newTestService(t *testing.T, sess *venuetest.Session, clientID int) (*Service, *venuetest.Dialer) {
	t.Helper()
	t.Cleanup(conn.Reset)

	dialer := venuetest.NewDialer(sess)
	m := conn.Get(venue.Endpoint{Host: "127.0.0.1", Port: 4002, ClientID: clientID}, dialer, conn.Options{})
	return NewService(m, nil, 0), dialer
}

func TestValidationRejectsBeforeAnyVenueTraffic(t *testing.T) {
	sess := &venuetest.Session{}
	svc, dialer := newTestService(t, sess, 21)
	ctx := context.Background()

	cases := []struct {
		name string
		run  func() domain.OrderResult
		want string
	}{
		{
			name: "zero quantity",
			run:  func() domain.OrderResult { return svc.PlaceMarketOrder(ctx, "AAPL", domain.ActionBuy, 0) },
			want: "quantity",
		},
		{
			name: "negative quantity",
			run:  func() domain.OrderResult { return svc.PlaceMarketOrder(ctx, "AAPL", domain.ActionSell, -5) },
			want: "quantity",
		},
		{
			name: "empty symbol",
			run:  func() domain.OrderResult { return svc.PlaceMarketOrder(ctx, "  ", domain.ActionBuy, 10) },
			want: "symbol",
		},
		{
			name: "bad action",
			run:  func() domain.OrderResult { return svc.PlaceMarketOrder(ctx, "AAPL", "HOLD", 10) },
			want: "action",
		},
		{
			name: "limit without price",
			run: func() domain.OrderResult {
				return svc.PlaceLimitOrder(ctx, "AAPL", domain.ActionBuy, 10, 0, domain.TIFDay)
			},
			want: "limit price",
		},
		{
			name: "stop without price",
			run: func() domain.OrderResult {
				return svc.PlaceStopOrder(ctx, "AAPL", domain.ActionSell, 10, -1, domain.TIFDay)
			},
			want: "stop price",
		},
		{
			name: "bad time in force",
			run: func() domain.OrderResult {
				return svc.PlaceLimitOrder(ctx, "AAPL", domain.ActionBuy, 10, 180, "FOK")
			},
			want: "time in force",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := tc.run()
			if got.Success {
				t.Fatal("expected validation failure")
			}
			if !strings.Contains(got.Error, tc.want) {
				t.Errorf("Error = %q, want it to mention %q", got.Error, tc.want)
			}
		})
	}

	// None of the rejected orders touched the venue.
	if got := dialer.DialCalls(); got != 0 {
		t.Errorf("dial calls = %d, want 0", got)
	}
	if got := sess.Calls("PlaceOrder"); got != 0 {
		t.Errorf("PlaceOrder calls = %d, want 0", got)
	}
}

func TestPlaceMarketOrderReturnsFreshStatus(t *testing.T) {
	sess := &venuetest.Session{
		PlaceResult: domain.Order{
			ID:       "ord-1",
			Symbol:   "AAPL",
			Action:   domain.ActionBuy,
			Quantity: 10,
			Kind:     domain.KindMarket,
			Status:   domain.StatusPendingSubmit,
		},
		OrdersByID: map[string]domain.Order{
			"ord-1": {
				ID:       "ord-1",
				Symbol:   "AAPL",
				Action:   domain.ActionBuy,
				Quantity: 10,
				Kind:     domain.KindMarket,
				Status:   domain.StatusFilled,
				Filled:   10,
			},
		},
	}
	svc, _ := newTestService(t, sess, 22)

	got := svc.PlaceMarketOrder(context.Background(), "AAPL", domain.ActionBuy, 10)
	if !got.Success {
		t.Fatalf("Success = false, error = %q", got.Error)
	}
	if got.OrderID != "ord-1" {
		t.Errorf("OrderID = %q, want ord-1", got.OrderID)
	}

	// The returned status is the re-read, not the submit echo.
	if got.Status != domain.StatusFilled {
		t.Errorf("Status = %q, want %q", got.Status, domain.StatusFilled)
	}
	if got.Filled != 10 {
		t.Errorf("Filled = %v, want 10", got.Filled)
	}
}

func TestPlaceFallsBackToSubmitEchoWhenReReadFails(t *testing.T) {
	sess := &venuetest.Session{
		PlaceResult: domain.Order{
			ID:     "ord-2",
			Symbol: "MSFT",
			Status: domain.StatusSubmitted,
		},
		// No OrdersByID entry: the re-read reports not found.
	}
	svc, _ := newTestService(t, sess, 23)

	got := svc.PlaceMarketOrder(context.Background(), "MSFT", domain.ActionBuy, 5)
	if !got.Success {
		t.Fatalf("Success = false, error = %q", got.Error)
	}
	if got.Status != domain.StatusSubmitted {
		t.Errorf("Status = %q, want submit echo %q", got.Status, domain.StatusSubmitted)
	}
}

func TestPlacementCarriesTimeInForce(t *testing.T) {
	sess := &venuetest.Session{}
	svc, _ := newTestService(t, sess, 32)
	ctx := context.Background()

	// GTC reaches the venue ticket and the result.
	got := svc.PlaceLimitOrder(ctx, "AAPL", domain.ActionBuy, 10, 180, domain.TIFGTC)
	if !got.Success {
		t.Fatalf("GTC limit order failed: %q", got.Error)
	}
	if tif := sess.LastTicket().TimeInForce; tif != domain.TIFGTC {
		t.Errorf("ticket TimeInForce = %q, want %q", tif, domain.TIFGTC)
	}
	if got.TimeInForce != domain.TIFGTC {
		t.Errorf("result TimeInForce = %q, want %q", got.TimeInForce, domain.TIFGTC)
	}

	// Stop orders carry it too.
	svc.PlaceStopOrder(ctx, "AAPL", domain.ActionSell, 10, 150, domain.TIFGTC)
	if tif := sess.LastTicket().TimeInForce; tif != domain.TIFGTC {
		t.Errorf("stop ticket TimeInForce = %q, want %q", tif, domain.TIFGTC)
	}

	// Empty defaults to DAY.
	svc.PlaceLimitOrder(ctx, "AAPL", domain.ActionBuy, 10, 180, "")
	if tif := sess.LastTicket().TimeInForce; tif != domain.TIFDay {
		t.Errorf("defaulted TimeInForce = %q, want %q", tif, domain.TIFDay)
	}

	// The signal path threads it through as well.
	svc.ExecuteSignal(ctx, Signal{
		Symbol: "AAPL", Action: domain.ActionBuy, Quantity: 10,
		Kind: domain.KindLimit, LimitPrice: 180, TimeInForce: domain.TIFGTC,
	})
	if tif := sess.LastTicket().TimeInForce; tif != domain.TIFGTC {
		t.Errorf("signal ticket TimeInForce = %q, want %q", tif, domain.TIFGTC)
	}
}

func TestPlaceReportsVenueRejection(t *testing.T) {
	sess := &venuetest.Session{PlaceErr: errors.New("insufficient buying power")}
	svc, _ := newTestService(t, sess, 24)

	got := svc.PlaceLimitOrder(context.Background(), "AAPL", domain.ActionBuy, 10, 180, domain.TIFDay)
	if got.Success {
		t.Fatal("expected failure result")
	}
	if !strings.Contains(got.Error, "insufficient buying power") {
		t.Errorf("Error = %q, want venue cause preserved", got.Error)
	}
	if got.Symbol != "AAPL" || got.Quantity != 10 {
		t.Errorf("result should echo the ticket, got %+v", got)
	}
}

func TestOrderStatusScansOpenOrdersOnly(t *testing.T) {
	sess := &venuetest.Session{
		OrdersData: []domain.Order{
			{ID: "open-1", Symbol: "AAPL", Status: domain.StatusSubmitted, Quantity: 10},
		},
	}
	svc, _ := newTestService(t, sess, 25)
	ctx := context.Background()

	got := svc.OrderStatus(ctx, "open-1")
	if !got.Success {
		t.Fatalf("Success = false, error = %q", got.Error)
	}
	if got.Status != domain.StatusSubmitted {
		t.Errorf("Status = %q, want %q", got.Status, domain.StatusSubmitted)
	}

	// An id outside the open set reports not found, even if the venue
	// could resolve it by direct lookup.
	missing := svc.OrderStatus(ctx, "done-9")
	if missing.Success {
		t.Fatal("expected not-found failure")
	}
	if !strings.Contains(missing.Error, "not found") {
		t.Errorf("Error = %q, want not-found", missing.Error)
	}
	if missing.OrderID != "done-9" {
		t.Errorf("OrderID = %q, want done-9 echoed back", missing.OrderID)
	}
}

func TestCancelOrderReportsPendingCancel(t *testing.T) {
	sess := &venuetest.Session{
		OrdersData: []domain.Order{
			{ID: "open-1", Symbol: "AAPL", Action: domain.ActionBuy, Quantity: 10, Status: domain.StatusSubmitted},
		},
		OrdersByID: map[string]domain.Order{
			"open-1": {ID: "open-1"},
		},
	}
	svc, _ := newTestService(t, sess, 26)

	got := svc.CancelOrder(context.Background(), "open-1")
	if !got.Success {
		t.Fatalf("Success = false, error = %q", got.Error)
	}
	if got.Status != domain.StatusPendingCancel {
		t.Errorf("Status = %q, want %q", got.Status, domain.StatusPendingCancel)
	}
	if got.Symbol != "AAPL" {
		t.Errorf("Symbol = %q, want AAPL", got.Symbol)
	}
}

func TestCancelOrderWaitsForVenueEcho(t *testing.T) {
	sess := &venuetest.Session{
		OrdersData: []domain.Order{
			{ID: "open-1", Symbol: "AAPL", Status: domain.StatusSubmitted},
		},
		OrdersByID: map[string]domain.Order{
			"open-1": {ID: "open-1"},
		},
	}
	svc, _ := newTestService(t, sess, 33)
	svc.EchoWait = 30 * time.Millisecond

	start := time.Now()
	got := svc.CancelOrder(context.Background(), "open-1")
	if !got.Success {
		t.Fatalf("CancelOrder failed: %q", got.Error)
	}
	if elapsed := time.Since(start); elapsed < 30*time.Millisecond {
		t.Errorf("CancelOrder returned after %v, want at least the echo wait", elapsed)
	}
}

func TestCancelOrderUnknownIDFails(t *testing.T) {
	sess := &venuetest.Session{}
	svc, _ := newTestService(t, sess, 27)

	got := svc.CancelOrder(context.Background(), "ghost")
	if got.Success {
		t.Fatal("expected failure for unknown order")
	}
	if got := sess.Calls("CancelOrder"); got != 0 {
		t.Errorf("CancelOrder calls = %d, want 0", got)
	}
}

func TestCancelAllFiltersAndCollectsFailures(t *testing.T) {
	sess := &venuetest.Session{
		OrdersData: []domain.Order{
			{ID: "1", Symbol: "AAPL", Status: domain.StatusSubmitted, Quantity: 10},
			{ID: "2", Symbol: "MSFT", Status: domain.StatusPreSubmitted, Quantity: 5},
			{ID: "3", Symbol: "AAPL", Status: domain.StatusPendingCancel, Quantity: 7},
			{ID: "4", Symbol: "AAPL", Status: domain.StatusPartiallyFilled, Quantity: 3},
		},
		OrdersByID: map[string]domain.Order{
			"1": {ID: "1"},
			"2": {ID: "2"},
		},
	}
	svc, _ := newTestService(t, sess, 28)
	ctx := context.Background()

	// Unfiltered: only the cancelable subset (1 and 2) is touched. An
	// order already pending cancel and a partial fill are left alone.
	got := svc.CancelAll(ctx, "")
	if !got.Success {
		t.Fatalf("Success = false, message = %q", got.Message)
	}
	if got.CancelledCount != 2 {
		t.Errorf("CancelledCount = %d, want 2", got.CancelledCount)
	}
	if len(got.Failed) != 0 {
		t.Errorf("Failed = %v, want none", got.Failed)
	}

	// Symbol filter restricts the batch.
	filtered := svc.CancelAll(ctx, "MSFT")
	if filtered.CancelledCount != 1 {
		t.Errorf("filtered CancelledCount = %d, want 1", filtered.CancelledCount)
	}
	if filtered.SymbolFilter != "MSFT" {
		t.Errorf("SymbolFilter = %q, want MSFT", filtered.SymbolFilter)
	}
}

func TestCancelAllPartialFailure(t *testing.T) {
	sess := &venuetest.Session{
		OrdersData: []domain.Order{
			{ID: "1", Symbol: "AAPL", Status: domain.StatusSubmitted},
			{ID: "2", Symbol: "MSFT", Status: domain.StatusSubmitted},
		},
		// Only order 1 is known to the cancel path; order 2 fails.
		OrdersByID: map[string]domain.Order{
			"1": {ID: "1"},
		},
	}
	svc, _ := newTestService(t, sess, 29)

	got := svc.CancelAll(context.Background(), "")
	if !got.Success {
		t.Fatal("batch should succeed despite per-order failures")
	}
	if got.CancelledCount != 1 {
		t.Errorf("CancelledCount = %d, want 1", got.CancelledCount)
	}
	if len(got.Failed) != 1 {
		t.Fatalf("len(Failed) = %d, want 1", len(got.Failed))
	}
	if !strings.Contains(got.Failed[0], "2") {
		t.Errorf("Failed[0] = %q, want it to name order 2", got.Failed[0])
	}
}

func TestCancelAllReportsOpenOrderFetchFailure(t *testing.T) {
	sess := &venuetest.Session{OrdersErr: errors.New("venue down")}
	svc, _ := newTestService(t, sess, 30)

	got := svc.CancelAll(context.Background(), "")
	if got.Success {
		t.Fatal("expected batch failure when the open set cannot be read")
	}
	if !strings.Contains(got.Message, "venue down") {
		t.Errorf("Message = %q, want cause preserved", got.Message)
	}
}

func TestExecuteSignalDispatch(t *testing.T) {
	sess := &venuetest.Session{}
	svc, _ := newTestService(t, sess, 31)
	ctx := context.Background()

	ok := svc.ExecuteSignal(ctx, Signal{
		Symbol: "AAPL", Action: domain.ActionBuy, Quantity: 10, Kind: domain.KindMarket,
	})
	if !ok.Success {
		t.Fatalf("market signal failed: %q", ok.Error)
	}

	// A limit signal without a price fails validation without venue traffic.
	placeCalls := sess.Calls("PlaceOrder")
	bad := svc.ExecuteSignal(ctx, Signal{
		Symbol: "AAPL", Action: domain.ActionBuy, Quantity: 10, Kind: domain.KindLimit,
	})
	if bad.Success {
		t.Fatal("expected limit-without-price to fail")
	}
	if got := sess.Calls("PlaceOrder"); got != placeCalls {
		t.Errorf("PlaceOrder calls = %d, want %d", got, placeCalls)
	}

	// Unknown kinds are rejected, not panicked on.
	unknown := svc.ExecuteSignal(ctx, Signal{
		Symbol: "AAPL", Action: domain.ActionBuy, Quantity: 10, Kind: "TRAILING",
	})
	if unknown.Success {
		t.Fatal("expected unknown kind to fail")
	}
	if !strings.Contains(unknown.Error, "TRAILING") {
		t.Errorf("Error = %q, want it to name the kind", unknown.Error)
	}
}
