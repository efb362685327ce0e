package services

import (
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"signal-trader/models"
)

func newTestEngine(balance string) *TradingEngine {
	return NewTradingEngine(
		decimal.RequireFromString(balance),
		models.DefaultRiskSettings(),
		decimal.NewFromInt(1),
		nil, nil, nil,
	)
}

func addTestSignal(te *TradingEngine, action models.SignalAction, entry, stop string, tps ...string) *models.Signal {
	signal := testSignal(action, entry, stop, tps...)
	signal.ID = "sig-" + entry + "-" + stop + "-" + string(action)
	signal.ReceivedAt = time.Now().UTC()
	te.AddSignal(signal)
	return signal
}

func checkLedgerInvariants(t *testing.T, te *TradingEngine, initial string) {
	t.Helper()
	p := te.GetPortfolio()

	if p.AvailableBalance.Add(p.MarginUsed).Cmp(p.CurrentBalance) != 0 {
		t.Fatalf("available %s + margin %s != current %s",
			p.AvailableBalance, p.MarginUsed, p.CurrentBalance)
	}

	realized := decimal.Zero
	for _, tr := range te.ListTrades("", "") {
		realized = realized.Add(tr.RealizedPnL)
	}
	want := decimal.RequireFromString(initial).Add(realized)
	if p.CurrentBalance.Cmp(want) != 0 {
		t.Fatalf("current=%s want initial+realized=%s", p.CurrentBalance, want)
	}
}

func TestExecuteSignal_ReservesMargin(t *testing.T) {
	te := newTestEngine("10000")
	signal := addTestSignal(te, models.ActionLong, "96500", "94000", "99000")

	order := models.SizedOrder{
		Quantity: decimal.NewFromInt(1),
		Margin:   decimal.RequireFromString("9650"),
		Leverage: 10,
	}
	trade, err := te.ExecuteSignal(signal.ID, order, nil)
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if trade.Status != models.TradeOpen {
		t.Fatalf("status=%s want open", trade.Status)
	}
	if trade.EntryPrice.Cmp(decimal.NewFromInt(96500)) != 0 {
		t.Fatalf("entry=%s want 96500", trade.EntryPrice)
	}

	p := te.GetPortfolio()
	if p.AvailableBalance.Cmp(decimal.RequireFromString("350")) != 0 {
		t.Fatalf("available=%s want 350", p.AvailableBalance)
	}
	if p.MarginUsed.Cmp(decimal.RequireFromString("9650")) != 0 {
		t.Fatalf("margin used=%s want 9650", p.MarginUsed)
	}
	checkLedgerInvariants(t, te, "10000")
}

func TestOnPriceUpdate_FullTakeProfitClose(t *testing.T) {
	te := newTestEngine("10000")
	signal := addTestSignal(te, models.ActionLong, "96500", "94000", "99000")

	order := models.SizedOrder{
		Quantity: decimal.NewFromInt(1),
		Margin:   decimal.RequireFromString("9650"),
		Leverage: 10,
	}
	trade, err := te.ExecuteSignal(signal.ID, order, nil)
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}

	te.OnPriceUpdate(models.PriceUpdate{Symbol: "BTC/USDT", Price: decimal.NewFromInt(99000)})

	closed, err := te.GetTrade(trade.ID)
	if err != nil {
		t.Fatalf("get trade failed: %v", err)
	}
	if closed.Status != models.TradeClosed {
		t.Fatalf("status=%s want closed", closed.Status)
	}
	if closed.ExitReason != models.ExitTakeProfit {
		t.Fatalf("exit reason=%s want tp", closed.ExitReason)
	}
	if closed.RealizedPnL.Cmp(decimal.NewFromInt(2500)) != 0 {
		t.Fatalf("pnl=%s want 2500", closed.RealizedPnL)
	}

	p := te.GetPortfolio()
	if p.CurrentBalance.Cmp(decimal.RequireFromString("12500")) != 0 {
		t.Fatalf("current=%s want 12500", p.CurrentBalance)
	}
	if !p.MarginUsed.IsZero() {
		t.Fatalf("margin used=%s want 0", p.MarginUsed)
	}
	checkLedgerInvariants(t, te, "10000")
}

func TestOnPriceUpdate_PartialTakeProfitLadder(t *testing.T) {
	te := newTestEngine("20000")
	signal := addTestSignal(te, models.ActionLong, "96500", "94000", "99000", "101000")

	order := models.SizedOrder{
		Quantity: decimal.NewFromInt(1),
		Margin:   decimal.RequireFromString("9650"),
		Leverage: 10,
	}
	trade, err := te.ExecuteSignal(signal.ID, order, nil)
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}

	// First level: half the original quantity closes at 99000.
	te.OnPriceUpdate(models.PriceUpdate{Symbol: "BTC/USDT", Price: decimal.NewFromInt(99000)})

	partial, _ := te.GetTrade(trade.ID)
	if partial.Status != models.TradeOpen {
		t.Fatalf("status=%s want still open", partial.Status)
	}
	if partial.RemainingQuantity.Cmp(decimal.RequireFromString("0.5")) != 0 {
		t.Fatalf("remaining=%s want 0.5", partial.RemainingQuantity)
	}
	if partial.RealizedPnL.Cmp(decimal.NewFromInt(1250)) != 0 {
		t.Fatalf("partial pnl=%s want 1250", partial.RealizedPnL)
	}

	// Partial PnL and released margin hit the balance immediately.
	p := te.GetPortfolio()
	if p.CurrentBalance.Cmp(decimal.RequireFromString("21250")) != 0 {
		t.Fatalf("current=%s want 21250", p.CurrentBalance)
	}
	if p.MarginUsed.Cmp(decimal.RequireFromString("4825")) != 0 {
		t.Fatalf("margin used=%s want 4825", p.MarginUsed)
	}
	checkLedgerInvariants(t, te, "20000")

	// Second level finishes the trade at 101000.
	te.OnPriceUpdate(models.PriceUpdate{Symbol: "BTC/USDT", Price: decimal.NewFromInt(101000)})

	closed, _ := te.GetTrade(trade.ID)
	if closed.Status != models.TradeClosed {
		t.Fatalf("status=%s want closed", closed.Status)
	}
	if closed.RealizedPnL.Cmp(decimal.NewFromInt(3500)) != 0 {
		t.Fatalf("total pnl=%s want 3500", closed.RealizedPnL)
	}
	if !te.GetPortfolio().MarginUsed.IsZero() {
		t.Fatalf("margin used=%s want 0", te.GetPortfolio().MarginUsed)
	}
	checkLedgerInvariants(t, te, "20000")
}

func TestOnPriceUpdate_ThreeTranchesReleaseMarginExactly(t *testing.T) {
	te := newTestEngine("10000")
	signal := addTestSignal(te, models.ActionLong, "100", "90", "110", "120", "130")

	// Three equal tranches of a quantity not divisible by three produce
	// rounded per-tranche releases; the reserved margin must still come
	// back in full, with no dust left in the ledger.
	order := models.SizedOrder{
		Quantity: decimal.NewFromInt(3),
		Margin:   decimal.RequireFromString("1000"),
		Leverage: 1,
	}
	trade, err := te.ExecuteSignal(signal.ID, order, nil)
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}

	for _, price := range []int64{110, 120, 130} {
		te.OnPriceUpdate(models.PriceUpdate{Symbol: "BTC/USDT", Price: decimal.NewFromInt(price)})
	}

	closed, _ := te.GetTrade(trade.ID)
	if closed.Status != models.TradeClosed {
		t.Fatalf("status=%s want closed", closed.Status)
	}
	if !closed.RemainingQuantity.IsZero() {
		t.Fatalf("remaining=%s want 0", closed.RemainingQuantity)
	}

	p := te.GetPortfolio()
	if !p.MarginUsed.IsZero() {
		t.Fatalf("margin used=%s want exactly 0", p.MarginUsed)
	}
	checkLedgerInvariants(t, te, "10000")
}

func TestOnPriceUpdate_StopLossOnShort(t *testing.T) {
	te := newTestEngine("10000")
	signal := addTestSignal(te, models.ActionShort, "96500", "97000")

	order := models.SizedOrder{
		Quantity: decimal.NewFromInt(1),
		Margin:   decimal.RequireFromString("9650"),
		Leverage: 10,
	}
	trade, err := te.ExecuteSignal(signal.ID, order, nil)
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}

	te.OnPriceUpdate(models.PriceUpdate{Symbol: "BTC/USDT", Price: decimal.NewFromInt(97200)})

	closed, _ := te.GetTrade(trade.ID)
	if closed.Status != models.TradeClosed {
		t.Fatalf("status=%s want closed", closed.Status)
	}
	if closed.ExitReason != models.ExitStopLoss {
		t.Fatalf("exit reason=%s want sl", closed.ExitReason)
	}
	// The fill happens at the stop price, not the tick that crossed it.
	if closed.RealizedPnL.Cmp(decimal.NewFromInt(-500)) != 0 {
		t.Fatalf("pnl=%s want -500", closed.RealizedPnL)
	}
	checkLedgerInvariants(t, te, "10000")
}

func TestCloseTrade_RoundTripAtEntryIsZeroPnL(t *testing.T) {
	te := newTestEngine("10000")
	signal := addTestSignal(te, models.ActionLong, "96500", "94000", "99000")

	order := models.SizedOrder{
		Quantity: decimal.NewFromInt(1),
		Margin:   decimal.RequireFromString("9650"),
		Leverage: 10,
	}
	trade, err := te.ExecuteSignal(signal.ID, order, nil)
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}

	closed, err := te.CloseTrade(trade.ID, decimal.NewFromInt(96500), "")
	if err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if closed.ExitReason != models.ExitManual {
		t.Fatalf("exit reason=%s want manual", closed.ExitReason)
	}
	if !closed.RealizedPnL.IsZero() {
		t.Fatalf("pnl=%s want 0", closed.RealizedPnL)
	}

	p := te.GetPortfolio()
	if p.CurrentBalance.Cmp(decimal.RequireFromString("10000")) != 0 {
		t.Fatalf("current=%s want 10000", p.CurrentBalance)
	}
	if p.AvailableBalance.Cmp(decimal.RequireFromString("10000")) != 0 {
		t.Fatalf("available=%s want 10000", p.AvailableBalance)
	}
	checkLedgerInvariants(t, te, "10000")
}

func TestExecuteSignal_SlippageRejected(t *testing.T) {
	te := newTestEngine("10000")
	signal := addTestSignal(te, models.ActionLong, "96500", "94000", "99000")

	order := models.SizedOrder{
		Quantity: decimal.NewFromInt(1),
		Margin:   decimal.RequireFromString("9650"),
		Leverage: 10,
	}

	// 98000 vs 96500 is a 1.55% deviation against a 1% tolerance.
	market := decimal.NewFromInt(98000)
	_, err := te.ExecuteSignal(signal.ID, order, &market)
	eerr, ok := err.(*models.ExecError)
	if !ok || eerr.Code != models.CodeSlippageExceeded {
		t.Fatalf("err=%v want slippage_exceeded", err)
	}

	// The rejection must leave the signal pending and the ledger untouched.
	got, _ := te.GetSignal(signal.ID)
	if got.Resolved() {
		t.Fatal("signal should still be pending after slippage rejection")
	}
	if te.GetPortfolio().MarginUsed.Cmp(decimal.Zero) != 0 {
		t.Fatal("margin must not be reserved on rejection")
	}

	// A price inside the tolerance fills at the market price.
	market = decimal.NewFromInt(96600)
	trade, err := te.ExecuteSignal(signal.ID, order, &market)
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if trade.EntryPrice.Cmp(market) != 0 {
		t.Fatalf("entry=%s want fill at market 96600", trade.EntryPrice)
	}
}

func TestDismissSignal_ExecutionRace(t *testing.T) {
	te := newTestEngine("10000")
	signal := addTestSignal(te, models.ActionLong, "96500", "94000", "99000")

	order := models.SizedOrder{
		Quantity: decimal.NewFromInt(1),
		Margin:   decimal.RequireFromString("9650"),
		Leverage: 10,
	}
	if _, err := te.ExecuteSignal(signal.ID, order, nil); err != nil {
		t.Fatalf("execute failed: %v", err)
	}

	err := te.DismissSignal(signal.ID)
	eerr, ok := err.(*models.ExecError)
	if !ok || eerr.Code != models.CodeAlreadyResolved {
		t.Fatalf("err=%v want already_resolved", err)
	}

	// The mirror race: dismissed first, executed second.
	other := addTestSignal(te, models.ActionLong, "50000", "49000", "52000")
	if err := te.DismissSignal(other.ID); err != nil {
		t.Fatalf("dismiss failed: %v", err)
	}
	_, err = te.ExecuteSignal(other.ID, order, nil)
	eerr, ok = err.(*models.ExecError)
	if !ok || eerr.Code != models.CodeAlreadyResolved {
		t.Fatalf("err=%v want already_resolved", err)
	}
}

func TestExecuteSignal_RechecksLimitsUnderLock(t *testing.T) {
	te := newTestEngine("10000")
	settings := te.RiskSettings()
	settings.MaxOpenPositions = 1
	te.UpdateRiskSettings(settings)

	first := addTestSignal(te, models.ActionLong, "96500", "94000", "99000")
	second := addTestSignal(te, models.ActionLong, "3000", "2900", "3200")

	order := models.SizedOrder{
		Quantity: decimal.NewFromInt(1),
		Margin:   decimal.RequireFromString("1000"),
		Leverage: 10,
	}
	if _, err := te.ExecuteSignal(first.ID, order, nil); err != nil {
		t.Fatalf("execute failed: %v", err)
	}

	// A stale sizing snapshot from before the first fill must not slip a
	// second trade past the position limit.
	_, err := te.ExecuteSignal(second.ID, order, nil)
	rerr, ok := err.(*models.RiskError)
	if !ok || rerr.Code != models.CodeMaxPositionsReached {
		t.Fatalf("err=%v want max_positions_reached", err)
	}
}

func TestOnPriceUpdate_ConcurrentTicksKeepLedgerConsistent(t *testing.T) {
	te := newTestEngine("100000")

	for i := 0; i < 5; i++ {
		signal := testSignal(models.ActionLong, "96500", "94000", "99000")
		signal.ID = signal.ID + string(rune('a'+i))
		signal.ReceivedAt = time.Now().UTC()
		te.AddSignal(signal)

		order := models.SizedOrder{
			Quantity: decimal.NewFromInt(1),
			Margin:   decimal.RequireFromString("9650"),
			Leverage: 10,
		}
		if _, err := te.ExecuteSignal(signal.ID, order, nil); err != nil {
			t.Fatalf("execute failed: %v", err)
		}
	}

	var wg sync.WaitGroup
	prices := []int64{95000, 96000, 97000, 98000, 99000, 100000}
	for _, price := range prices {
		wg.Add(1)
		go func(p int64) {
			defer wg.Done()
			te.OnPriceUpdate(models.PriceUpdate{Symbol: "BTC/USDT", Price: decimal.NewFromInt(p)})
		}(price)
	}
	wg.Wait()

	checkLedgerInvariants(t, te, "100000")
	if te.OpenTradeCount() != 0 {
		t.Fatalf("open trades=%d want 0 after a 99000 tick", te.OpenTradeCount())
	}
}
